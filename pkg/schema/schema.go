// Package schema implements lazy per-record version migration: a tree is
// opened against a chain of versions, each carrying the default value a
// brand new tree starts from and (for every version past the first) an
// Upgrader that turns the previous version's encoded value into this
// version's. A record written at an old version is upgraded on read, one
// step at a time, the moment something asks for it. There is no
// background migration pass.
package schema

import (
	"encoding/json"
	"hash/crc32"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/bobboyms/kvdb/pkg/errs"
)

var castagnoliTable = crc32.MakeTable(crc32.Castagnoli)

// Upgrader turns a JSON-encoded value at one version into the JSON
// encoding a later version expects. Chain.UpgradeTo calls these in
// sequence, never skipping one, so each only ever has to understand its
// own immediate predecessor's shape.
type Upgrader func(old []byte) (next []byte, err error)

// Version is one entry in a table's schema history.
type Version struct {
	Number uint16

	// DefaultJSON/DefaultBSON are the two encodings of this version's
	// default value, kept side by side so a restore can cross-check a
	// stored hash against both without re-deriving anything from the
	// live Go type (which may have changed since the WAL entry was
	// written).
	DefaultJSON []byte
	DefaultBSON []byte

	// Hash is CRC32 (iSCSI/Castagnoli) over DefaultJSON || DefaultBSON ||
	// KeyTypeName || ValueTypeName || TableName, a diagnostic fingerprint.
	// It is computed and kept here only; Database.Restore does not compare
	// it against anything.
	Hash uint32

	// Upgrade is nil for the first version in a chain; every later
	// version must supply one or Build fails.
	Upgrade Upgrader
}

// Chain is a table's full, ordered schema history.
type Chain struct {
	Table         string
	KeyTypeName   string
	ValueTypeName string
	Versions      []Version // Versions[i].Number == i+1
}

// Current returns the latest version number in the chain.
func (c *Chain) Current() uint16 {
	return c.Versions[len(c.Versions)-1].Number
}

// At returns the Version for a given number.
func (c *Chain) At(number uint16) (Version, bool) {
	if number == 0 || int(number) > len(c.Versions) {
		return Version{}, false
	}
	return c.Versions[number-1], true
}

// UpgradeTo walks value from storedVersion to the chain's current version,
// applying each intermediate Upgrader in turn. If storedVersion already
// equals the current version it returns value unchanged. A chain missing
// an upgrader anywhere on the path fails with a MissingUpgraderError
// naming the exact gap.
func (c *Chain) UpgradeTo(storedVersion uint16, value []byte) ([]byte, uint16, error) {
	current := c.Current()
	if storedVersion == current {
		return value, current, nil
	}
	if storedVersion == 0 || storedVersion > current {
		return nil, 0, errs.Newf("schema %s: invalid stored version %d (current is %d)", c.Table, storedVersion, current)
	}

	v := value
	for n := storedVersion + 1; n <= current; n++ {
		step, ok := c.At(n)
		if !ok || step.Upgrade == nil {
			return nil, 0, &errs.MissingUpgraderError{Table: c.Table, FromVersion: n - 1, WantsVersion: n}
		}
		next, err := step.Upgrade(v)
		if err != nil {
			return nil, 0, errs.Wrapf(err, "schema %s: upgrade v%d -> v%d", c.Table, n-1, n)
		}
		v = next
	}
	return v, current, nil
}

// Builder assembles a Chain one version at a time, in order, computing
// each version's dual-encoding hash as it goes.
type Builder struct {
	table         string
	keyTypeName   string
	valueTypeName string
	versions      []Version
	err           error
}

// NewBuilder starts a schema chain for table, naming the Go types used as
// its key and value (diagnostics only, never round-tripped).
func NewBuilder(table, keyTypeName, valueTypeName string) *Builder {
	return &Builder{table: table, keyTypeName: keyTypeName, valueTypeName: valueTypeName}
}

// AddVersion appends the next version in sequence. upgrade must be nil for
// the very first call and non-nil for every subsequent one.
func (b *Builder) AddVersion(defaultValue interface{}, upgrade Upgrader) *Builder {
	if b.err != nil {
		return b
	}
	number := uint16(len(b.versions) + 1)
	if number == 1 && upgrade != nil {
		b.err = errs.Newf("schema %s: version 1 must not declare an upgrader", b.table)
		return b
	}
	if number > 1 && upgrade == nil {
		b.err = errs.Newf("schema %s: version %d is missing an upgrader from v%d", b.table, number, number-1)
		return b
	}

	defaultJSON, err := json.Marshal(defaultValue)
	if err != nil {
		b.err = errs.Wrapf(err, "schema %s: encode default value v%d as json", b.table, number)
		return b
	}
	// MarshalValue rather than Marshal: a default value is not always a
	// top-level document (derived views use a bare key list).
	_, defaultBSON, err := bson.MarshalValue(defaultValue)
	if err != nil {
		b.err = errs.Wrapf(err, "schema %s: encode default value v%d as bson", b.table, number)
		return b
	}

	hashInput := make([]byte, 0, len(defaultJSON)+len(defaultBSON)+len(b.keyTypeName)+len(b.valueTypeName)+len(b.table))
	hashInput = append(hashInput, defaultJSON...)
	hashInput = append(hashInput, defaultBSON...)
	hashInput = append(hashInput, b.keyTypeName...)
	hashInput = append(hashInput, b.valueTypeName...)
	hashInput = append(hashInput, b.table...)

	b.versions = append(b.versions, Version{
		Number:      number,
		DefaultJSON: defaultJSON,
		DefaultBSON: defaultBSON,
		Hash:        crc32.Checksum(hashInput, castagnoliTable),
		Upgrade:     upgrade,
	})
	return b
}

// Build finalizes the chain, failing if any AddVersion call recorded an
// error or if no version was ever added.
func (b *Builder) Build() (*Chain, error) {
	if b.err != nil {
		return nil, b.err
	}
	if len(b.versions) == 0 {
		return nil, errs.Newf("schema %s: at least one version is required", b.table)
	}
	return &Chain{
		Table:         b.table,
		KeyTypeName:   b.keyTypeName,
		ValueTypeName: b.valueTypeName,
		Versions:      b.versions,
	}, nil
}
