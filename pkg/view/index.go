package view

import (
	"context"
	"encoding/json"

	"github.com/bobboyms/kvdb/pkg/errs"
	"github.com/bobboyms/kvdb/pkg/schema"
	"github.com/bobboyms/kvdb/pkg/telemetry"
	"github.com/bobboyms/kvdb/pkg/tree"
	"github.com/bobboyms/kvdb/pkg/types"
)

// Index is a non-unique secondary index: bucket ID -> ordered list of
// source keys whose value's Identity resolves to that ID. It owns one
// inner tree.Store (the bucket table) and holds the source tree.Tree
// both to resolve List (look up each bucket member) and to carry out
// MutateByIndex (write back through the source, never through the
// view's own mailbox; see the reentrancy note on MutateByIndex).
type Index[ID types.Key, K types.IncrementingKey[K], V any] struct {
	inner     *tree.Store
	chain     *schema.Chain
	source    *tree.Tree[K, V]
	identity  Identity[V, ID]
	decodeKey func([]byte) K
}

// NewIndex constructs an Index and returns it unattached: the caller
// (pkg/kvdb's Database.CreateIndex) still has to register it as a
// restorer and subscriber on source.
func NewIndex[ID types.Key, K types.IncrementingKey[K], V any](
	name string,
	source *tree.Tree[K, V],
	decodeKey func([]byte) K,
	identity Identity[V, ID],
	metrics *telemetry.Metrics,
	reporter telemetry.Reporter,
) *Index[ID, K, V] {
	chain, err := schema.NewBuilder(name, "bucketID", "keyList").AddVersion([]K{}, nil).Build()
	if err != nil {
		panic(err) // single-version builder call sequence never fails
	}
	return &Index[ID, K, V]{
		inner:     tree.NewStore(name, chain, nil, metrics, reporter),
		chain:     chain,
		source:    source,
		identity:  identity,
		decodeKey: decodeKey,
	}
}

// Name identifies this view as a tree.Subscriber / tree.Restorer.
func (ix *Index[ID, K, V]) Name() string { return ix.inner.Name() }

// Notify applies a live Change from the source tree.
func (ix *Index[ID, K, V]) Notify(ctx context.Context, change tree.Change) error {
	return ix.apply(ctx, change, localWrite(ix.inner, ix.chain.Current()))
}

// Restore applies a replayed Change during recovery, bypassing the WAL
// exactly as Notify does (see tree.Store.ApplyLocal): the two
// differ only in when they run, never in what they compute.
func (ix *Index[ID, K, V]) Restore(change tree.Change) error {
	return ix.apply(context.Background(), change, localWrite(ix.inner, ix.chain.Current()))
}

// apply routes one source change into bucket-list updates: a Set with no
// prior value appends to the new identity's bucket; a Set with a prior
// value moves the key between buckets (or leaves it alone) depending on
// how the old and new identities compare; a Del removes the key from its
// bucket.
func (ix *Index[ID, K, V]) apply(ctx context.Context, change tree.Change, write writeFunc) error {
	key := ix.decodeKey(change.Key)

	if change.Op == tree.OpDel {
		oldV, ok, err := decodeValue[V](change.OldValue)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		if id, has := ix.identity(oldV); has {
			return ix.removeFromBucket(ctx, id, key, write)
		}
		return nil
	}

	var oldID ID
	var hasOldID bool
	if change.OldValue != nil {
		oldV, ok, err := decodeValue[V](change.OldValue)
		if err != nil {
			return err
		}
		if ok {
			oldID, hasOldID = ix.identity(oldV)
		}
	}

	newV, ok, err := decodeValue[V](change.NewValue)
	if err != nil {
		return err
	}
	var newID ID
	var hasNewID bool
	if ok {
		newID, hasNewID = ix.identity(newV)
	}

	switch {
	case hasOldID && hasNewID && sameID(oldID, newID):
		return ix.appendToBucket(ctx, newID, key, write)
	case hasOldID && hasNewID:
		if err := ix.removeFromBucket(ctx, oldID, key, write); err != nil {
			return err
		}
		return ix.appendToBucket(ctx, newID, key, write)
	case hasOldID && !hasNewID:
		return ix.removeFromBucket(ctx, oldID, key, write)
	case !hasOldID && hasNewID:
		return ix.appendToBucket(ctx, newID, key, write)
	default:
		return nil
	}
}

func (ix *Index[ID, K, V]) getBucket(ctx context.Context, id ID) ([]K, error) {
	raw, _, found, err := ix.inner.Get(ctx, id.Bytes())
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	var keys []K
	if err := json.Unmarshal(raw, &keys); err != nil {
		return nil, errs.Wrapf(err, "index %s: decode bucket", ix.Name())
	}
	return keys, nil
}

// appendToBucket adds key to id's bucket if it is not already present,
// preserving insertion order.
func (ix *Index[ID, K, V]) appendToBucket(ctx context.Context, id ID, key K, write writeFunc) error {
	keys, err := ix.getBucket(ctx, id)
	if err != nil {
		return err
	}
	if containsKey(keys, key) {
		return nil
	}
	keys = append(keys, key)
	return ix.writeBucket(id, keys, write)
}

func (ix *Index[ID, K, V]) removeFromBucket(ctx context.Context, id ID, key K, write writeFunc) error {
	keys, err := ix.getBucket(ctx, id)
	if err != nil {
		return err
	}
	i := indexOfKey(keys, key)
	if i < 0 {
		return nil
	}
	keys = append(keys[:i:i], keys[i+1:]...)
	return ix.writeBucket(id, keys, write)
}

func (ix *Index[ID, K, V]) writeBucket(id ID, keys []K, write writeFunc) error {
	encoded, err := json.Marshal(keys)
	if err != nil {
		return errs.Wrapf(err, "index %s: encode bucket", ix.Name())
	}
	return write(id.Bytes(), encoded)
}

// List resolves id's bucket and looks up each member in the source tree,
// skipping any key the source no longer has (a miss, not an error).
func (ix *Index[ID, K, V]) List(ctx context.Context, id ID) ([]V, error) {
	keys, err := ix.getBucket(ctx, id)
	if err != nil {
		return nil, err
	}
	out := make([]V, 0, len(keys))
	for _, k := range keys {
		v, found, err := ix.source.Get(ctx, k)
		if err != nil {
			return nil, err
		}
		if found {
			out = append(out, v)
		}
	}
	return out, nil
}

// MutateByIndex loads the i-th key in id's bucket, applies f to its
// current source value, and writes the result back through the source
// tree's own Update, from the caller's goroutine, not from inside this
// view's Notify. Calling it from Notify would deadlock: the source
// tree's write pipeline waits for every subscriber (including this view)
// to acknowledge before it considers the write complete.
func (ix *Index[ID, K, V]) MutateByIndex(ctx context.Context, id ID, i int, f func(*V)) error {
	keys, err := ix.getBucket(ctx, id)
	if err != nil {
		return err
	}
	if i < 0 || i >= len(keys) {
		return errs.Newf("index %s: bucket index %d out of range (len %d)", ix.Name(), i, len(keys))
	}
	key := keys[i]
	v, found, err := ix.source.Get(ctx, key)
	if err != nil {
		return err
	}
	if !found {
		return errs.Newf("index %s: source key for bucket member %d no longer exists", ix.Name(), i)
	}
	f(&v)
	return ix.source.Update(ctx, key, v)
}
