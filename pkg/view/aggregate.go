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

// Record is a user-supplied aggregate value: it folds the change history
// of every source key in its bucket into itself, one Observe call per
// source change. Implementations are typically a pointer to a plain
// struct, mutated in place by Observe.
type Record[K types.Key, V any] interface {
	Observe(change Change[K, V])
}

// Aggregate is a derived view whose bucket ID -> (Record, ordered list of
// source keys) state is built by routing every source Change through
// Create/Update/Delete/cross-bucket-move.
type Aggregate[ID types.Key, Rec Record[K, V], K types.IncrementingKey[K], V any] struct {
	inner     *tree.Store
	chain     *schema.Chain
	source    *tree.Tree[K, V]
	identity  Identity[V, ID]
	decodeKey func([]byte) K
	newRecord func() Rec
}

// bucket is the stored shape of one Aggregate bucket: the folded record
// alongside the ordered key list that justifies it. Recovery always
// rebuilds both by replaying the source tree (see
// tree.Store.ApplyLocal).
type bucket[Rec any, K types.Key] struct {
	Record Rec
	Keys   []K
}

// NewAggregate constructs an Aggregate and returns it unattached: the
// caller (pkg/kvdb's Database.CreateAggregate) registers it as a
// restorer and subscriber on source. newRecord supplies the bucket's
// default value, called fresh for every new bucket.
func NewAggregate[ID types.Key, Rec Record[K, V], K types.IncrementingKey[K], V any](
	name string,
	source *tree.Tree[K, V],
	decodeKey func([]byte) K,
	identity Identity[V, ID],
	newRecord func() Rec,
	metrics *telemetry.Metrics,
	reporter telemetry.Reporter,
) *Aggregate[ID, Rec, K, V] {
	chain, err := schema.NewBuilder(name, "bucketID", "bucketRecord").AddVersion(bucket[Rec, K]{}, nil).Build()
	if err != nil {
		panic(err) // single-version builder call sequence never fails
	}
	return &Aggregate[ID, Rec, K, V]{
		inner:     tree.NewStore(name, chain, nil, metrics, reporter),
		chain:     chain,
		source:    source,
		identity:  identity,
		decodeKey: decodeKey,
		newRecord: newRecord,
	}
}

func (ag *Aggregate[ID, Rec, K, V]) Name() string { return ag.inner.Name() }

func (ag *Aggregate[ID, Rec, K, V]) Notify(ctx context.Context, change tree.Change) error {
	return ag.apply(ctx, change, localWrite(ag.inner, ag.chain.Current()))
}

func (ag *Aggregate[ID, Rec, K, V]) Restore(change tree.Change) error {
	return ag.apply(context.Background(), change, localWrite(ag.inner, ag.chain.Current()))
}

// apply mirrors Index.apply's identity-comparison routing, but calls
// Create/Update/Delete instead of list append/remove, and a cross-bucket
// move becomes a Delete from the old bucket followed by a Create into
// the new one, each a distinct Observe call.
func (ag *Aggregate[ID, Rec, K, V]) apply(ctx context.Context, change tree.Change, write writeFunc) error {
	key := ag.decodeKey(change.Key)

	if change.Op == tree.OpDel {
		oldV, ok, err := decodeValue[V](change.OldValue)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		if id, has := ag.identity(oldV); has {
			return ag.delete(ctx, id, key, oldV, write)
		}
		return nil
	}

	var oldV V
	var hasOld bool
	if change.OldValue != nil {
		v, ok, err := decodeValue[V](change.OldValue)
		if err != nil {
			return err
		}
		if ok {
			oldV, hasOld = v, true
		}
	}

	newV, ok, err := decodeValue[V](change.NewValue)
	if err != nil {
		return err
	}
	if !ok {
		return errs.Newf("aggregate %s: Set change carries no new value", ag.Name())
	}

	var oldID, newID ID
	var hasOldID, hasNewID bool
	if hasOld {
		oldID, hasOldID = ag.identity(oldV)
	}
	newID, hasNewID = ag.identity(newV)

	switch {
	case hasOldID && hasNewID && sameID(oldID, newID):
		return ag.update(ctx, newID, key, oldV, newV, write)
	case hasOldID && hasNewID:
		if err := ag.delete(ctx, oldID, key, oldV, write); err != nil {
			return err
		}
		return ag.create(ctx, newID, key, newV, write)
	case hasOldID && !hasNewID:
		return ag.delete(ctx, oldID, key, oldV, write)
	case !hasOldID && hasNewID:
		return ag.create(ctx, newID, key, newV, write)
	default:
		return nil
	}
}

func (ag *Aggregate[ID, Rec, K, V]) getBucket(ctx context.Context, id ID) (Rec, []K, error) {
	raw, _, found, err := ag.inner.Get(ctx, id.Bytes())
	if err != nil {
		var zero Rec
		return zero, nil, err
	}
	if !found {
		return ag.newRecord(), nil, nil
	}
	var b bucket[Rec, K]
	b.Record = ag.newRecord()
	if err := json.Unmarshal(raw, &b); err != nil {
		var zero Rec
		return zero, nil, errs.Wrapf(err, "aggregate %s: decode bucket", ag.Name())
	}
	return b.Record, b.Keys, nil
}

func (ag *Aggregate[ID, Rec, K, V]) writeBucket(id ID, rec Rec, keys []K, write writeFunc) error {
	encoded, err := json.Marshal(bucket[Rec, K]{Record: rec, Keys: keys})
	if err != nil {
		return errs.Wrapf(err, "aggregate %s: encode bucket", ag.Name())
	}
	return write(id.Bytes(), encoded)
}

// create adds key to id's bucket (if not already a member) and observes
// a Set with no prior value.
func (ag *Aggregate[ID, Rec, K, V]) create(ctx context.Context, id ID, key K, v V, write writeFunc) error {
	rec, keys, err := ag.getBucket(ctx, id)
	if err != nil {
		return err
	}
	if containsKey(keys, key) {
		return nil
	}
	keys = append(keys, key)
	newV := v
	rec.Observe(Change[K, V]{Key: key, Op: tree.OpSet, New: &newV})
	return ag.writeBucket(id, rec, keys, write)
}

// update observes a Set carrying both old and new values, only when key
// already justifies its place in the bucket.
func (ag *Aggregate[ID, Rec, K, V]) update(ctx context.Context, id ID, key K, old, new V, write writeFunc) error {
	rec, keys, err := ag.getBucket(ctx, id)
	if err != nil {
		return err
	}
	if !containsKey(keys, key) {
		return nil
	}
	o, n := old, new
	rec.Observe(Change[K, V]{Key: key, Op: tree.OpSet, Old: &o, New: &n})
	return ag.writeBucket(id, rec, keys, write)
}

// delete removes key from id's bucket and observes a Del, only when key
// was actually a member.
func (ag *Aggregate[ID, Rec, K, V]) delete(ctx context.Context, id ID, key K, old V, write writeFunc) error {
	rec, keys, err := ag.getBucket(ctx, id)
	if err != nil {
		return err
	}
	i := indexOfKey(keys, key)
	if i < 0 {
		return nil
	}
	keys = append(keys[:i:i], keys[i+1:]...)
	o := old
	rec.Observe(Change[K, V]{Key: key, Op: tree.OpDel, Old: &o})
	return ag.writeBucket(id, rec, keys, write)
}

// Get returns id's folded record, or ok=false if the bucket has never
// had a member.
func (ag *Aggregate[ID, Rec, K, V]) Get(ctx context.Context, id ID) (Rec, bool, error) {
	raw, _, found, err := ag.inner.Get(ctx, id.Bytes())
	if err != nil || !found {
		var zero Rec
		return zero, false, err
	}
	var b bucket[Rec, K]
	b.Record = ag.newRecord()
	if err := json.Unmarshal(raw, &b); err != nil {
		var zero Rec
		return zero, false, errs.Wrapf(err, "aggregate %s: decode bucket", ag.Name())
	}
	return b.Record, true, nil
}
