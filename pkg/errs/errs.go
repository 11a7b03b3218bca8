// Package errs collects the typed failures the database surfaces to
// callers, grouped by the taxonomy in the design: durability, corruption,
// missing upgrader, I/O and logic preconditions. There is no schema
// mismatch error: schema hashes are not checked at restore.
package errs

import (
	"fmt"

	"github.com/cockroachdb/errors"
)

// Sentinel classes used with errors.Is / errors.IsAny.
var (
	ErrInvalidInput  = errors.New("invalid input")
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrCorrupt       = errors.New("corrupt wal entry")
	ErrRecovering    = errors.New("database is still recovering")
	ErrClosed        = errors.New("database is closed")
)

// TableAlreadyExistsError is returned by kvdb's TreeBuilder.Open for a duplicate name.
type TableAlreadyExistsError struct {
	Name string
}

func (e *TableAlreadyExistsError) Error() string {
	return fmt.Sprintf("table %q already exists", e.Name)
}

// TableNotFoundError is reported (not returned) during replay when a WAL
// entry names a table that is not registered; the entry is skipped.
type TableNotFoundError struct {
	Name string
}

func (e *TableNotFoundError) Error() string {
	return fmt.Sprintf("table %q not found", e.Name)
}

// DurabilityError wraps a failed WAL flush. Every append in the failing
// batch is rejected with this error; a tree writes its MemTable only
// after its append succeeds, so the MemTable is left unchanged.
type DurabilityError struct {
	Cause error
}

func (e *DurabilityError) Error() string {
	return fmt.Sprintf("wal flush failed: %v", e.Cause)
}

func (e *DurabilityError) Unwrap() error { return e.Cause }

// CorruptionError describes a WAL entry whose stored CRC did not match the
// recomputed CRC during replay. It is informational: replay drops the
// entry and continues. Matches errs.ErrCorrupt under errors.Is.
type CorruptionError struct {
	Offset int64
	Reason string
}

func (e *CorruptionError) Error() string {
	return fmt.Sprintf("corrupt wal entry at offset %d: %s", e.Offset, e.Reason)
}

func (e *CorruptionError) Unwrap() error { return ErrCorrupt }

// MissingUpgraderError is returned by schema.Chain.UpgradeTo, on the read
// that triggers a lazy upgrade, when a record was written at a version
// older than the tree's compiled chain but no upgrader bridges the gap.
// Restore does not check for it.
type MissingUpgraderError struct {
	Table        string
	FromVersion  uint16
	WantsVersion uint16
}

func (e *MissingUpgraderError) Error() string {
	return fmt.Sprintf("table %q: no upgrader from version %d to %d", e.Table, e.FromVersion, e.WantsVersion)
}

// Wrap annotates err with msg using cockroachdb/errors, preserving the
// original stack trace and Is/As chain.
func Wrap(err error, msg string) error {
	return errors.Wrap(err, msg)
}

// Wrapf is the formatted variant of Wrap.
func Wrapf(err error, format string, args ...interface{}) error {
	return errors.Wrapf(err, format, args...)
}

// Newf constructs a new error with a stack trace attached.
func Newf(format string, args ...interface{}) error {
	return errors.Newf(format, args...)
}

// Is delegates to cockroachdb/errors, which understands both Go 1.13 Unwrap
// chains and its own network-safe error encoding.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As is the typed-match counterpart of Is.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}
