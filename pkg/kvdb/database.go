// Package kvdb is the Database facade: it owns every tree and the single
// WAL they share, and drives the startup recovery protocol that replays
// the WAL into every tree (and through every registered derived view's
// restorer) before any of them accept a write.
package kvdb

import (
	"context"
	"io"

	"github.com/DataDog/zstd"
	"github.com/google/uuid"

	"github.com/bobboyms/kvdb/internal/vfs"
	"github.com/bobboyms/kvdb/pkg/errs"
	"github.com/bobboyms/kvdb/pkg/telemetry"
	"github.com/bobboyms/kvdb/pkg/tree"
	"github.com/bobboyms/kvdb/pkg/wal"
)

// snapshotFileName is the archival dump's file name, alongside the
// bit-exact primary segment named by Options.WAL.FileName.
const snapshotFileName = "wal.snapshot.zst"

// Options configures a Database. The zero value is valid: no metrics, no
// fatal-error reporting, default WAL group-commit timing.
type Options struct {
	WAL      wal.Options
	Metrics  *telemetry.Metrics
	Reporter telemetry.Reporter
}

// DefaultOptions mirrors wal.DefaultOptions for the facade that owns it.
func DefaultOptions() Options {
	return Options{WAL: wal.DefaultOptions()}
}

// Database owns every tree and the WAL they share. Constructed with a
// file-system handle; CreateTree, CreateIndex and CreateAggregate
// register tables and derived views but touch nothing on disk. Disk I/O
// only happens in Restore, which opens (or creates) the WAL segment for
// a directory and runs recovery.
type Database struct {
	fsys     *vfs.FS
	opts     Options
	metrics  *telemetry.Metrics
	reporter telemetry.Reporter

	dir string
	wal *wal.Wal

	trees map[string]tree.Handle
}

// New constructs a Database against fsys. It performs no I/O.
func New(fsys *vfs.FS, opts Options) *Database {
	if opts.Reporter == nil {
		opts.Reporter = telemetry.NoopReporter()
	}
	if opts.WAL == (wal.Options{}) {
		opts.WAL = wal.DefaultOptions()
	}
	return &Database{
		fsys:     fsys,
		opts:     opts,
		metrics:  opts.Metrics,
		reporter: opts.Reporter,
		trees:    make(map[string]tree.Handle),
	}
}

// Restore runs the startup recovery protocol:
//
//  1. If dir does not exist, it is created (nothing to replay).
//  2. If dir names an existing file, Restore fails.
//  3. Otherwise the WAL segment under dir is opened (or created fresh).
//  4. Every table registered via CreateTree is bound to that WAL.
//  5. Every entry in the segment is dispatched, by its table field, to
//     the matching tree, which applies it to its MemTable and forwards
//     it to every restorer registered on it (a derived view's replay
//     path).
//  6. Every table is told recovery is complete: it drops its restorer
//     list and starts accepting live writes.
//
// Restore must be called exactly once, after every CreateTree,
// CreateIndex and CreateAggregate call a caller intends to make:
// registering a view after Restore has already replayed would leave
// its bucket state permanently out of sync with the source tree's
// history.
func (db *Database) Restore(ctx context.Context, dir string) error {
	if info, err := db.fsys.Stat(dir); err == nil {
		if !info.IsDir() {
			return errs.Newf("kvdb: restore path %q is a file, not a directory", dir)
		}
	} else if !errs.Is(err, errs.ErrNotFound) {
		return err
	}

	w, err := wal.Open(db.fsys, dir, db.opts.WAL, db.metrics)
	if err != nil {
		return err
	}
	db.wal = w
	db.dir = dir

	for _, tr := range db.trees {
		tr.BindWAL(w)
	}

	if err := db.replay(dir); err != nil {
		return err
	}

	for _, tr := range db.trees {
		tr.MarkRestoreComplete()
	}
	return nil
}

// replay reads every entry in dir's WAL segment and dispatches it by
// table name. A checksum mismatch or an entry naming an unregistered
// table is reported and skipped, not fatal to the rest of recovery.
func (db *Database) replay(dir string) error {
	r, err := wal.OpenReader(db.fsys, dir, db.opts.WAL)
	if err != nil {
		return errs.Wrapf(err, "kvdb: open wal segment for replay")
	}
	defer r.Close()

	for {
		entry, err := r.Next()
		switch {
		case err == io.EOF:
			return nil
		case err == io.ErrUnexpectedEOF:
			// A torn write from a crash mid-flush: stop here, the rest
			// of the segment was never durable.
			return nil
		case errs.Is(err, wal.ErrChecksumMismatch):
			db.reporter.ReportFatal("kvdb:restore", &errs.CorruptionError{
				Offset: r.Offset(),
				Reason: "checksum mismatch",
			})
			continue
		case err != nil:
			return errs.Wrapf(err, "kvdb: replay wal segment")
		}

		tr, ok := db.trees[entry.Table]
		if !ok {
			db.reporter.ReportFatal("kvdb:restore", &errs.TableNotFoundError{Name: entry.Table})
			continue
		}
		if err := tr.ApplyReplay(entry); err != nil {
			return err
		}
	}
}

// Dump flushes the WAL and writes its full contents to dir: the
// bit-exact segment at dir/wal (what a later Restore replays) and a
// zstd-compressed archival snapshot at dir/wal.snapshot.zst, the latter
// through a uuid-named temporary file renamed into place so a reader
// never observes a partial write. Restore never looks at the snapshot.
func (db *Database) Dump(ctx context.Context, dir string) error {
	if db.wal == nil {
		return errs.Newf("kvdb: dump called before restore")
	}
	if err := db.wal.Flush(ctx); err != nil {
		return err
	}

	raw, err := db.readAll(db.fsys.PathJoin(db.dir, db.opts.WAL.FileName))
	if err != nil {
		return errs.Wrapf(err, "kvdb: read wal segment for dump")
	}

	if dir != db.dir {
		if err := db.fsys.MkdirAll(dir); err != nil {
			return errs.Wrapf(err, "kvdb: create dump directory")
		}
		if err := db.writeAll(db.fsys.PathJoin(dir, db.opts.WAL.FileName), raw); err != nil {
			return errs.Wrapf(err, "kvdb: copy wal segment")
		}
	}

	compressed, err := zstd.Compress(nil, raw)
	if err != nil {
		return errs.Wrapf(err, "kvdb: compress wal snapshot")
	}

	tmpID, err := uuid.NewV7()
	if err != nil {
		return errs.Wrapf(err, "kvdb: generate snapshot temp name")
	}
	tmpPath := db.fsys.PathJoin(dir, tmpID.String()+".tmp")

	if err := db.writeAll(tmpPath, compressed); err != nil {
		return errs.Wrapf(err, "kvdb: write wal snapshot")
	}

	snapshotPath := db.fsys.PathJoin(dir, snapshotFileName)
	if err := db.fsys.Rename(tmpPath, snapshotPath); err != nil {
		return errs.Wrapf(err, "kvdb: rename wal snapshot into place")
	}
	return nil
}

func (db *Database) readAll(path string) ([]byte, error) {
	f, err := db.fsys.Open(path, vfs.Options{Read: true})
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

func (db *Database) writeAll(path string, data []byte) error {
	f, err := db.fsys.Open(path, vfs.Options{Write: true, Create: true, Truncate: true})
	if err != nil {
		return err
	}
	if _, werr := f.Write(data); werr != nil {
		f.Close()
		return werr
	}
	if ferr := f.Flush(); ferr != nil {
		f.Close()
		return ferr
	}
	return f.Close()
}

// Close stops every table's mailbox goroutine and closes the WAL. Safe
// to call once, after which no further operation on any tree or view
// the Database produced is valid.
func (db *Database) Close() error {
	for _, tr := range db.trees {
		if err := tr.Close(); err != nil {
			return err
		}
	}
	if db.wal != nil {
		return db.wal.Close()
	}
	return nil
}
