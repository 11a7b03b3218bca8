// Package memtable is the in-memory ordered map a Tree keeps its current
// state in: a red-black tree over raw key bytes, a small self-contained
// piece the actor above it drives one call at a time, never touched from
// two goroutines at once.
package memtable

// record is the payload stored per key: the version the value was last
// written at, the encoded value itself, and whether this entry is a
// tombstone (a Del, carried in the WAL as an entry with no value).
type record struct {
	version   uint16
	value     []byte
	tombstone bool
}

// Record is the public view of a stored entry.
type Record struct {
	Version   uint16
	Value     []byte
	Tombstone bool
}

func (r record) export() Record {
	return Record{Version: r.version, Value: r.value, Tombstone: r.tombstone}
}

// MemTable is an ordered map from key bytes to Record, used by exactly one
// Tree actor. Put/Get/Purge are O(log n); First, Last and Iter expose
// the sorted order the allocator and list operations need.
type MemTable struct {
	tree *rbtree
}

// New returns an empty MemTable.
func New() *MemTable {
	return &MemTable{tree: &rbtree{}}
}

// Put stores value at version for key. A nil value marks the key as a
// tombstone: the key still occupies a slot (so Iter and Lookup can report
// it was deleted) but Get reports it as absent.
func (m *MemTable) Put(key []byte, version uint16, value []byte) {
	m.tree.upsert(key, record{version: version, value: value, tombstone: value == nil})
}

// Get returns the record stored for key. ok is false if the key was never
// written, or was written as a tombstone.
func (m *MemTable) Get(key []byte) (Record, bool) {
	n := m.tree.find(key)
	if n == nil || n.value.tombstone {
		return Record{}, false
	}
	return n.value.export(), true
}

// Lookup returns the record stored for key regardless of tombstone state.
// Replay does not use it: Store.ApplyReplay reads through Get.
func (m *MemTable) Lookup(key []byte) (Record, bool) {
	n := m.tree.find(key)
	if n == nil {
		return Record{}, false
	}
	return n.value.export(), true
}

// Purge removes key outright, tombstone and all. The tree package never
// calls it: Store.Delete keeps the key as a tombstone.
func (m *MemTable) Purge(key []byte) bool {
	return m.tree.delete(key)
}

// KV pairs the raw key with its record, the unit First/Last/Iter deal in.
type KV struct {
	Key    []byte
	Record Record
}

// First returns the lowest key in the table, skipping tombstones, along
// with whether any live entry exists.
func (m *MemTable) First() (KV, bool) {
	return m.edge(true)
}

// Last returns the highest key in the table, skipping tombstones.
func (m *MemTable) Last() (KV, bool) {
	return m.edge(false)
}

func (m *MemTable) edge(fromFront bool) (KV, bool) {
	if m.tree.root == nil {
		return KV{}, false
	}
	var nodes []*node
	m.tree.inorder(m.tree.root, &nodes)
	if fromFront {
		for _, n := range nodes {
			if !n.value.tombstone {
				return KV{Key: n.key, Record: n.value.export()}, true
			}
		}
	} else {
		for i := len(nodes) - 1; i >= 0; i-- {
			n := nodes[i]
			if !n.value.tombstone {
				return KV{Key: n.key, Record: n.value.export()}, true
			}
		}
	}
	return KV{}, false
}

// LastRaw returns the highest key in the table regardless of tombstone
// state, used by the key allocator: the next key must advance past a
// deleted key too, never reuse it.
func (m *MemTable) LastRaw() (KV, bool) {
	if m.tree.root == nil {
		return KV{}, false
	}
	n := m.tree.maximum(m.tree.root)
	return KV{Key: n.key, Record: n.value.export()}, true
}

// Iter returns every entry in key order, tombstones included. Callers that
// want only live entries should filter on Record.Tombstone.
func (m *MemTable) Iter() []KV {
	var nodes []*node
	m.tree.inorder(m.tree.root, &nodes)
	out := make([]KV, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, KV{Key: n.key, Record: n.value.export()})
	}
	return out
}

// Len returns the total number of keys, including tombstones.
func (m *MemTable) Len() int { return m.tree.size }

// IsEmpty reports whether the table has no keys at all.
func (m *MemTable) IsEmpty() bool { return m.tree.size == 0 }
