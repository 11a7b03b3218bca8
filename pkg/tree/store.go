// Package tree implements the single-writer actor at the center of the
// database: one goroutine per table, owning that table's MemTable and
// mediating every read and write through a mailbox channel so no two
// goroutines ever touch the same MemTable at once. Store is the
// byte-oriented core; Tree[K, V] (generic.go) is the typed façade most
// callers use, and derived views (pkg/view) drive a Store directly for
// their own inner bucket-to-key-list and bucket-to-record trees.
package tree

import (
	"bytes"
	"context"
	"time"

	"github.com/bobboyms/kvdb/pkg/errs"
	"github.com/bobboyms/kvdb/pkg/memtable"
	"github.com/bobboyms/kvdb/pkg/schema"
	"github.com/bobboyms/kvdb/pkg/telemetry"
	"github.com/bobboyms/kvdb/pkg/wal"
)

// OpKind distinguishes a Set from a Del in a Change notification.
type OpKind int

const (
	OpSet OpKind = iota
	OpDel
)

// Change describes one committed mutation, delivered to every subscriber
// after the WAL append that made it durable and the MemTable write that
// made it visible.
type Change struct {
	Table    string
	Key      []byte
	OldValue []byte // nil if the key had no live value before this change
	NewValue []byte // nil for a Del
	Op       OpKind
}

// Subscriber receives every Change a Store commits, in order, one at a
// time. Notify is called from the Store's own goroutine; it must not call
// back into the same Store (see Restorer and the reentrancy note on
// pkg/view) or it will deadlock.
type Subscriber interface {
	Name() string
	Notify(ctx context.Context, change Change) error
}

// Restorer receives replayed changes during recovery, before the Store
// accepts live writes. It sees the same Change shape a live Subscriber
// does (old and new value included), so a view's replay logic can be the
// exact same state-transition code as its live Notify.
type Restorer interface {
	Restore(change Change) error
}

// Handle is the non-generic surface Database uses to dispatch a WAL entry
// to the table it belongs to, without needing to know that table's key
// and value types.
type Handle interface {
	Name() string
	ApplyReplay(e *wal.Entry) error
	RegisterRestorer(r Restorer)
	MarkRestoreComplete()
	BindWAL(w *wal.Wal)
	SchemaVersion1Hash() uint32
	Close() error
}

// Store is one table's MemTable plus the mailbox goroutine that is the
// only thing ever allowed to touch it.
type Store struct {
	name     string
	chain    *schema.Chain
	mem      *memtable.MemTable
	w        *wal.Wal
	metrics  *telemetry.Metrics
	reporter telemetry.Reporter

	maxKey       []byte
	subscribers  []Subscriber
	restorers    []Restorer
	writeEnabled bool

	cmds    chan func()
	stopped chan struct{}
}

// NewStore starts a table's mailbox goroutine. Writes are rejected with
// errs.ErrRecovering until MarkRestoreComplete is called; a fresh
// (never-restored) database should call it immediately after NewStore.
func NewStore(name string, chain *schema.Chain, w *wal.Wal, metrics *telemetry.Metrics, reporter telemetry.Reporter) *Store {
	if reporter == nil {
		reporter = telemetry.NoopReporter()
	}
	s := &Store{
		name:     name,
		chain:    chain,
		mem:      memtable.New(),
		w:        w,
		metrics:  metrics,
		reporter: reporter,
		cmds:     make(chan func()),
		stopped:  make(chan struct{}),
	}
	go s.run()
	return s
}

func (s *Store) run() {
	defer close(s.stopped)
	for cmd := range s.cmds {
		cmd()
	}
}

// execute runs fn on the Store's own goroutine and waits for it to
// finish, the same call-and-wait shape every operation below uses to get
// exclusive access to mem without a mutex.
func (s *Store) execute(fn func()) {
	done := make(chan struct{})
	s.cmds <- func() {
		fn()
		close(done)
	}
	<-done
}

func (s *Store) Name() string { return s.name }

// SchemaVersion1Hash returns the diagnostic hash of this table's first
// schema version. Database.Restore does not check it: no schema
// descriptor is stored on disk to compare it with.
func (s *Store) SchemaVersion1Hash() uint32 { return s.chain.Versions[0].Hash }

// CurrentVersion returns the table's schema chain's current version, the
// version any fresh write (other than a lazy upgrade, which computes its
// own) should be tagged with.
func (s *Store) CurrentVersion() uint16 { return s.chain.Current() }

// Close stops the mailbox goroutine. It does not close the WAL, which is
// shared by every table in the database.
func (s *Store) Close() error {
	close(s.cmds)
	<-s.stopped
	return nil
}

// writeLocked appends to the WAL and, only once that succeeds, applies
// the change to the MemTable and fans it out to subscribers. Logging
// before applying means a failed flush leaves nothing to roll back: the
// MemTable was never touched.
func (s *Store) writeLocked(ctx context.Context, version uint16, key, value []byte) error {
	if !s.writeEnabled {
		return errs.Wrap(errs.ErrRecovering, "table "+s.name+" is still recovering")
	}

	entry := &wal.Entry{
		TimestampNS: uint64(time.Now().UnixNano()),
		Table:       s.name,
		Version:     version,
		Key:         key,
		Value:       value,
	}
	if err := s.w.Append(ctx, entry); err != nil {
		return err
	}

	oldRec, hadOld := s.mem.Get(key)
	s.mem.Put(key, version, value)
	if s.maxKey == nil || bytes.Compare(key, s.maxKey) > 0 {
		s.maxKey = append([]byte(nil), key...)
	}

	change := Change{Table: s.name, Key: key, NewValue: value, Op: OpSet}
	op := "set"
	if value == nil {
		change.Op = OpDel
		op = "del"
	}
	if hadOld {
		change.OldValue = oldRec.Value
	}
	s.metrics.ObserveWrite(s.name, op)
	s.fanout(ctx, change)
	return nil
}

// fanout delivers change to every subscriber, in registration order. A
// subscriber error is reported but does not fail the write: the WAL and
// MemTable are already the durable truth, and a view that missed an
// update will see it again on the next restart's replay.
func (s *Store) fanout(ctx context.Context, change Change) {
	for _, sub := range s.subscribers {
		start := time.Now()
		if err := sub.Notify(ctx, change); err != nil {
			s.reporter.ReportFatal("view:"+sub.Name(), err)
		}
		s.metrics.ObserveFanout(sub.Name(), start)
	}
}

// Subscribe registers sub to receive every future live Change. A view may
// subscribe before recovery (kvdb.CreateIndex does); it still only
// sees live writes, which start after MarkRestoreComplete. Replayed
// records go to Restorers instead.
func (s *Store) Subscribe(sub Subscriber) {
	s.execute(func() {
		s.subscribers = append(s.subscribers, sub)
	})
}

// RegisterRestorer registers r to receive every replayed record until
// MarkRestoreComplete is called.
func (s *Store) RegisterRestorer(r Restorer) {
	s.execute(func() {
		s.restorers = append(s.restorers, r)
	})
}

// BindWAL attaches the WAL a primary table's Store appends to. Database
// constructs every table's Store with w == nil (Database.New performs no
// I/O) and binds the real handle once Restore opens (or creates) the
// segment for a given directory. A table is gated (writeEnabled == false)
// until MarkRestoreComplete, which Restore always calls after BindWAL, so
// there is no window where a write could reach a nil WAL. Derived views
// never call this: their inner Store keeps w == nil for life, since they
// never append to the shared WAL.
func (s *Store) BindWAL(w *wal.Wal) {
	s.execute(func() { s.w = w })
}

// MarkRestoreComplete drops the restorer list and enables live writes.
// Called once, after a table's entire WAL history has been replayed.
func (s *Store) MarkRestoreComplete() {
	s.execute(func() {
		s.restorers = nil
		s.writeEnabled = true
	})
}

// ApplyReplay applies a WAL entry directly to the MemTable, bypassing the
// WAL (it came from the WAL) and the write-enabled gate (recovery runs
// before writes are allowed), then forwards it to every registered
// Restorer as the same Change shape a live write would fan out. A
// Restorer error is reported and the record is skipped for that view, not
// fatal to the rest of recovery.
func (s *Store) ApplyReplay(e *wal.Entry) error {
	s.execute(func() {
		oldRec, hadOld := s.mem.Get(e.Key)
		s.mem.Put(e.Key, e.Version, e.Value)
		if s.maxKey == nil || bytes.Compare(e.Key, s.maxKey) > 0 {
			s.maxKey = append([]byte(nil), e.Key...)
		}

		change := Change{Table: s.name, Key: e.Key, NewValue: e.Value, Op: OpSet}
		if e.Value == nil {
			change.Op = OpDel
		}
		if hadOld {
			change.OldValue = oldRec.Value
		}
		for _, r := range s.restorers {
			if err := r.Restore(change); err != nil {
				s.reporter.ReportFatal("restore:"+s.name, err)
			}
		}
	})
	return nil
}

// ApplyLocal writes key/version/value directly into the MemTable, with no
// WAL append and no subscriber fan-out. Derived views (pkg/view) use this
// for every bucket write, live or replayed: a view's state is always a
// pure function of its source tree's WAL history, so the view's own
// writes are never logged. Recovery reconstructs a view purely by
// replaying the source's entries through the view's Restorer (see
// Store.ApplyReplay).
func (s *Store) ApplyLocal(key []byte, version uint16, value []byte) {
	s.execute(func() {
		s.mem.Put(key, version, value)
		if s.maxKey == nil || bytes.Compare(key, s.maxKey) > 0 {
			s.maxKey = append([]byte(nil), key...)
		}
	})
}

// Update writes value (nil for a tombstone/delete) at version for key.
func (s *Store) Update(ctx context.Context, key []byte, version uint16, value []byte) error {
	var err error
	s.execute(func() {
		err = s.writeLocked(ctx, version, key, value)
	})
	return err
}

// Delete writes a tombstone for key: the supplemental delete operation.
// The key stays in the MemTable as a tombstone. It reuses the same write pipeline as Update with a nil
// value, so derived views see a Del Change exactly as they would for any
// other tombstoning write.
func (s *Store) Delete(ctx context.Context, key []byte) error {
	return s.Update(ctx, key, s.chain.Current(), nil)
}

// resolveLocked returns key's current value, lazily upgrading it through
// the schema chain (and persisting the upgrade) if it was stored at an
// older version. Must be called from inside the mailbox goroutine.
func (s *Store) resolveLocked(ctx context.Context, key []byte, rec memtable.Record) (value []byte, version uint16, err error) {
	if rec.Version == s.chain.Current() {
		return rec.Value, rec.Version, nil
	}
	upgraded, newVersion, uerr := s.chain.UpgradeTo(rec.Version, rec.Value)
	if uerr != nil {
		return nil, 0, uerr
	}
	if werr := s.writeLocked(ctx, newVersion, key, upgraded); werr != nil {
		return nil, 0, werr
	}
	return upgraded, newVersion, nil
}

// Get returns key's current value, found is false if the key was never
// written or is a tombstone.
func (s *Store) Get(ctx context.Context, key []byte) (value []byte, version uint16, found bool, err error) {
	s.metrics.ObserveRead(s.name)
	s.execute(func() {
		rec, ok := s.mem.Get(key)
		if !ok {
			return
		}
		found = true
		value, version, err = s.resolveLocked(ctx, key, rec)
	})
	return value, version, found, err
}

// Entry is a byte-level key/value/version triple, returned by First, Last
// and List.
type Entry struct {
	Key     []byte
	Value   []byte
	Version uint16
}

// First returns the lowest live key in the table.
func (s *Store) First(ctx context.Context) (Entry, bool, error) {
	return s.edge(ctx, true)
}

// Last returns the highest live key in the table.
func (s *Store) Last(ctx context.Context) (Entry, bool, error) {
	return s.edge(ctx, false)
}

func (s *Store) edge(ctx context.Context, fromFront bool) (out Entry, found bool, err error) {
	s.metrics.ObserveRead(s.name)
	s.execute(func() {
		var kv memtable.KV
		var ok bool
		if fromFront {
			kv, ok = s.mem.First()
		} else {
			kv, ok = s.mem.Last()
		}
		if !ok {
			return
		}
		found = true
		value, version, rerr := s.resolveLocked(ctx, kv.Key, kv.Record)
		if rerr != nil {
			err = rerr
			return
		}
		out = Entry{Key: kv.Key, Value: value, Version: version}
	})
	return out, found, err
}

// List returns every live entry in key order, upgrading any stale record
// it encounters along the way.
func (s *Store) List(ctx context.Context) ([]Entry, error) {
	s.metrics.ObserveRead(s.name)
	var out []Entry
	var err error
	s.execute(func() {
		for _, kv := range s.mem.Iter() {
			if kv.Record.Tombstone {
				continue
			}
			value, version, rerr := s.resolveLocked(ctx, kv.Key, kv.Record)
			if rerr != nil {
				err = rerr
				return
			}
			out = append(out, Entry{Key: kv.Key, Value: value, Version: version})
		}
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// InsertWithAllocatedKey runs allocate with the table's tracked maximum
// key (falling back to the highest raw key already in the MemTable when
// no maximum is tracked; every write and replayed entry updates the
// tracked maximum) and writes the
// key it returns, atomically with the allocation: no other operation can
// observe or advance the table's key state in between.
func (s *Store) InsertWithAllocatedKey(
	ctx context.Context,
	version uint16,
	value []byte,
	allocate func(maxKey []byte, hasMax bool, lastMemKey []byte, hasLastMem bool) []byte,
) ([]byte, error) {
	var key []byte
	var err error
	s.execute(func() {
		hasMax := s.maxKey != nil
		var lastMemKey []byte
		hasLastMem := false
		if !hasMax {
			if kv, ok := s.mem.LastRaw(); ok {
				lastMemKey = kv.Key
				hasLastMem = true
			}
		}
		allocated := allocate(s.maxKey, hasMax, lastMemKey, hasLastMem)
		if werr := s.writeLocked(ctx, version, allocated, value); werr != nil {
			err = werr
			return
		}
		key = allocated
	})
	return key, err
}
