package memtable

import (
	"bytes"
	"testing"
)

func k(s string) []byte { return []byte(s) }

func TestMemTable_PutAndGet(t *testing.T) {
	m := New()
	m.Put(k("a"), 1, []byte(`"x"`))

	rec, ok := m.Get(k("a"))
	if !ok {
		t.Fatal("expected key to be found")
	}
	if rec.Version != 1 || string(rec.Value) != `"x"` {
		t.Errorf("Get(a) = %+v, want version 1 value \"x\"", rec)
	}

	if _, ok := m.Get(k("missing")); ok {
		t.Error("expected missing key to report not found")
	}
}

func TestMemTable_PutOverwritesExistingKey(t *testing.T) {
	m := New()
	m.Put(k("a"), 1, []byte(`1`))
	m.Put(k("a"), 2, []byte(`2`))

	rec, ok := m.Get(k("a"))
	if !ok || rec.Version != 2 || string(rec.Value) != `2` {
		t.Errorf("Get(a) after overwrite = %+v, ok=%v", rec, ok)
	}
	if m.Len() != 1 {
		t.Errorf("Len() = %d, want 1 (overwrite must not grow the table)", m.Len())
	}
}

func TestMemTable_NilValueIsATombstone(t *testing.T) {
	m := New()
	m.Put(k("a"), 1, []byte(`1`))
	m.Put(k("a"), 2, nil)

	if _, ok := m.Get(k("a")); ok {
		t.Error("expected Get to treat a tombstoned key as absent")
	}
	rec, ok := m.Lookup(k("a"))
	if !ok {
		t.Fatal("expected Lookup to still see the tombstoned record")
	}
	if !rec.Tombstone {
		t.Error("expected Lookup's record to be marked as a tombstone")
	}
	if m.Len() != 1 {
		t.Errorf("Len() = %d, want 1 (a tombstone still occupies a slot)", m.Len())
	}
}

func TestMemTable_PurgeRemovesKeyOutright(t *testing.T) {
	m := New()
	m.Put(k("a"), 1, []byte(`1`))
	if !m.Purge(k("a")) {
		t.Fatal("expected Purge to report the key existed")
	}
	if m.Len() != 0 {
		t.Errorf("Len() = %d, want 0 after Purge", m.Len())
	}
	if _, ok := m.Lookup(k("a")); ok {
		t.Error("expected Lookup to find nothing after Purge")
	}
	if m.Purge(k("a")) {
		t.Error("expected a second Purge of the same key to report false")
	}
}

func TestMemTable_FirstAndLastSkipTombstones(t *testing.T) {
	m := New()
	m.Put(k("b"), 1, []byte(`1`))
	m.Put(k("a"), 1, []byte(`1`))
	m.Put(k("c"), 1, []byte(`1`))
	m.Put(k("c"), 2, nil) // tombstone the highest key

	first, ok := m.First()
	if !ok || !bytes.Equal(first.Key, k("a")) {
		t.Errorf("First() = %+v, ok=%v, want key \"a\"", first, ok)
	}
	last, ok := m.Last()
	if !ok || !bytes.Equal(last.Key, k("b")) {
		t.Errorf("Last() = %+v, ok=%v, want key \"b\" (c is tombstoned)", last, ok)
	}
}

func TestMemTable_LastRawSeesTombstones(t *testing.T) {
	m := New()
	m.Put(k("a"), 1, []byte(`1`))
	m.Put(k("b"), 2, nil)

	last, ok := m.LastRaw()
	if !ok || !bytes.Equal(last.Key, k("b")) {
		t.Errorf("LastRaw() = %+v, ok=%v, want key \"b\" even though tombstoned", last, ok)
	}
}

func TestMemTable_IterReturnsKeysInOrderIncludingTombstones(t *testing.T) {
	m := New()
	m.Put(k("c"), 1, []byte(`1`))
	m.Put(k("a"), 1, []byte(`1`))
	m.Put(k("b"), 1, nil)

	kvs := m.Iter()
	if len(kvs) != 3 {
		t.Fatalf("Iter() returned %d entries, want 3", len(kvs))
	}
	want := []string{"a", "b", "c"}
	for i, kv := range kvs {
		if string(kv.Key) != want[i] {
			t.Errorf("Iter()[%d].Key = %q, want %q", i, kv.Key, want[i])
		}
	}
	if !kvs[1].Record.Tombstone {
		t.Error("expected Iter to report \"b\" as a tombstone")
	}
}

func TestMemTable_EmptyTableEdgesReportNotFound(t *testing.T) {
	m := New()
	if _, ok := m.First(); ok {
		t.Error("expected First() on an empty table to report not found")
	}
	if _, ok := m.Last(); ok {
		t.Error("expected Last() on an empty table to report not found")
	}
	if _, ok := m.LastRaw(); ok {
		t.Error("expected LastRaw() on an empty table to report not found")
	}
	if !m.IsEmpty() {
		t.Error("expected a freshly created MemTable to be empty")
	}
}

func TestMemTable_LenTracksSizeAcrossManyKeys(t *testing.T) {
	m := New()
	keys := []string{"m", "d", "z", "a", "q", "b", "x"}
	for i, key := range keys {
		m.Put(k(key), uint16(i), []byte(`1`))
	}
	if m.Len() != len(keys) {
		t.Errorf("Len() = %d, want %d", m.Len(), len(keys))
	}
	kvs := m.Iter()
	for i := 1; i < len(kvs); i++ {
		if bytes.Compare(kvs[i-1].Key, kvs[i].Key) >= 0 {
			t.Fatalf("Iter() not sorted: %q then %q", kvs[i-1].Key, kvs[i].Key)
		}
	}
}
