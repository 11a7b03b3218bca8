package tree

import (
	"context"
	"encoding/json"

	"github.com/bobboyms/kvdb/pkg/errs"
	"github.com/bobboyms/kvdb/pkg/schema"
	"github.com/bobboyms/kvdb/pkg/telemetry"
	"github.com/bobboyms/kvdb/pkg/types"
	"github.com/bobboyms/kvdb/pkg/wal"
)

// Tree is the typed façade most callers use: a table whose keys allocate
// themselves (Insert) or are supplied explicitly (Update), and whose
// values round-trip through JSON. It is a thin wrapper over Store, adding
// only key/value encoding and the allocator.
type Tree[K types.IncrementingKey[K], V any] struct {
	*Store
	decodeKey func([]byte) K
}

// New creates a table backed by a fresh Store and starts its mailbox
// goroutine. decodeKey must invert K.Bytes(); pkg/types provides one for
// every built-in key type (DecodeU32, DecodeU64, ...).
func New[K types.IncrementingKey[K], V any](name string, decodeKey func([]byte) K, chain *schema.Chain, w *wal.Wal, metrics *telemetry.Metrics, reporter telemetry.Reporter) *Tree[K, V] {
	return &Tree[K, V]{
		Store:     NewStore(name, chain, w, metrics, reporter),
		decodeKey: decodeKey,
	}
}

// Insert allocates the next key in sequence and stores value at the
// table's current schema version. The allocator advances the tracked
// maximum key if one exists (replay tracks it too), else the highest key
// already in the MemTable; an empty table starts at K's zero value.
func (t *Tree[K, V]) Insert(ctx context.Context, value V) (K, error) {
	encoded, err := json.Marshal(value)
	if err != nil {
		var zero K
		return zero, errs.Wrapf(err, "encode value for table %s", t.Name())
	}

	keyBytes, err := t.InsertWithAllocatedKey(ctx, t.currentVersion(), encoded,
		func(maxKey []byte, hasMax bool, lastMemKey []byte, hasLastMem bool) []byte {
			switch {
			case hasMax:
				return t.decodeKey(maxKey).Next().Bytes()
			case hasLastMem:
				return t.decodeKey(lastMemKey).Next().Bytes()
			default:
				var zero K
				return zero.Bytes()
			}
		},
	)
	if err != nil {
		var zero K
		return zero, err
	}
	return t.decodeKey(keyBytes), nil
}

// Update writes value at key, overwriting whatever was there.
func (t *Tree[K, V]) Update(ctx context.Context, key K, value V) error {
	encoded, err := json.Marshal(value)
	if err != nil {
		return errs.Wrapf(err, "encode value for table %s", t.Name())
	}
	return t.Store.Update(ctx, key.Bytes(), t.currentVersion(), encoded)
}

// Delete tombstones key. See Store.Delete.
func (t *Tree[K, V]) Delete(ctx context.Context, key K) error {
	return t.Store.Delete(ctx, key.Bytes())
}

// Get returns key's current value, lazily upgrading it if it was written
// at an older schema version.
func (t *Tree[K, V]) Get(ctx context.Context, key K) (V, bool, error) {
	raw, _, found, err := t.Store.Get(ctx, key.Bytes())
	return t.decodeValue(raw, found, err)
}

// GetFirst returns the lowest key in the table and its value.
func (t *Tree[K, V]) GetFirst(ctx context.Context) (K, V, bool, error) {
	e, found, err := t.Store.First(ctx)
	return t.decodeEntry(e, found, err)
}

// GetLast returns the highest key in the table and its value.
func (t *Tree[K, V]) GetLast(ctx context.Context) (K, V, bool, error) {
	e, found, err := t.Store.Last(ctx)
	return t.decodeEntry(e, found, err)
}

// Record pairs a decoded key and value, the unit List returns.
type Record[K types.Key, V any] struct {
	Key   K
	Value V
}

// List returns every live record in key order.
func (t *Tree[K, V]) List(ctx context.Context) ([]Record[K, V], error) {
	entries, err := t.Store.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Record[K, V], 0, len(entries))
	for _, e := range entries {
		var v V
		if err := json.Unmarshal(e.Value, &v); err != nil {
			return nil, errs.Wrapf(err, "decode value for table %s", t.Name())
		}
		out = append(out, Record[K, V]{Key: t.decodeKey(e.Key), Value: v})
	}
	return out, nil
}

func (t *Tree[K, V]) currentVersion() uint16 {
	return t.Store.chain.Current()
}

func (t *Tree[K, V]) decodeValue(raw []byte, found bool, err error) (V, bool, error) {
	var v V
	if err != nil || !found {
		return v, found, err
	}
	if uerr := json.Unmarshal(raw, &v); uerr != nil {
		return v, false, errs.Wrapf(uerr, "decode value for table %s", t.Name())
	}
	return v, true, nil
}

func (t *Tree[K, V]) decodeEntry(e Entry, found bool, err error) (K, V, bool, error) {
	var k K
	v, found, err := t.decodeValue(e.Value, found, err)
	if found {
		k = t.decodeKey(e.Key)
	}
	return k, v, found, err
}
