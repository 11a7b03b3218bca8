package kvdb

import (
	"github.com/bobboyms/kvdb/pkg/tree"
	"github.com/bobboyms/kvdb/pkg/types"
	"github.com/bobboyms/kvdb/pkg/view"
)

// CreateIndex builds a non-unique secondary index named name over
// source, bucketed by the identities identity resolves, and wires it
// into source's restorer list (for recovery replay) and subscriber list
// (for live updates). Must be called before Database.Restore: a view
// registered afterward never sees the history it was created to index.
func CreateIndex[ID types.Key, K types.IncrementingKey[K], V any](
	db *Database,
	name string,
	source *tree.Tree[K, V],
	decodeKey func([]byte) K,
	identity view.Identity[V, ID],
) *view.Index[ID, K, V] {
	idx := view.NewIndex[ID, K, V](name, source, decodeKey, identity, db.metrics, db.reporter)
	source.RegisterRestorer(idx)
	source.Subscribe(idx)
	return idx
}

// CreateAggregate builds an aggregate named name over source, folding
// every change to a key in bucket id's set through newRecord's Observe
// method. Wired into source the same way CreateIndex is.
func CreateAggregate[ID types.Key, Rec view.Record[K, V], K types.IncrementingKey[K], V any](
	db *Database,
	name string,
	source *tree.Tree[K, V],
	decodeKey func([]byte) K,
	identity view.Identity[V, ID],
	newRecord func() Rec,
) *view.Aggregate[ID, Rec, K, V] {
	agg := view.NewAggregate[ID, Rec, K, V](name, source, decodeKey, identity, newRecord, db.metrics, db.reporter)
	source.RegisterRestorer(agg)
	source.Subscribe(agg)
	return agg
}
