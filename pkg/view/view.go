// Package view implements the two derived-view kinds: Index, a
// non-unique secondary index from a bucket ID to the ordered list of
// source keys that carry it, and Aggregate, a bucket ID to a user-defined
// record folded over the change history of every source key in that
// bucket. A view owns one inner tree.Store (its own bucket table) and
// subscribes to one source tree.Tree, replaying the exact same
// state-transition logic during recovery (as a Restorer) that it runs
// live (as a Subscriber).
package view

import (
	"encoding/json"

	"github.com/bobboyms/kvdb/pkg/errs"
	"github.com/bobboyms/kvdb/pkg/tree"
	"github.com/bobboyms/kvdb/pkg/types"
)

// Identity is the pure mapping from a source value to the bucket key a
// view files it under. ok is false for a value with no bucket, which the
// view skips entirely.
type Identity[V any, ID types.Key] func(value V) (id ID, ok bool)

// Change is the typed notification delivered to an Aggregate record's
// Observe method: a Set carries Old (nil for a fresh bucket member) and
// New; a Del carries only Old. This mirrors tree.Change one level up,
// after JSON-decoding the raw value bytes into the caller's V.
type Change[K types.Key, V any] struct {
	Key K
	Op  tree.OpKind
	Old *V
	New *V
}

// decodeValue JSON-decodes raw into a V. A nil raw (a tombstone, or "no
// old value") reports ok=false without error.
func decodeValue[V any](raw []byte) (value V, ok bool, err error) {
	if raw == nil {
		return value, false, nil
	}
	if uerr := json.Unmarshal(raw, &value); uerr != nil {
		return value, false, errs.Wrapf(uerr, "view: decode source value")
	}
	return value, true, nil
}

// containsKey reports whether key is already present in keys, by its
// byte encoding (the same notion of equality the MemTable and WAL use).
func containsKey[K types.Key](keys []K, key K) bool {
	return indexOfKey(keys, key) >= 0
}

func indexOfKey[K types.Key](keys []K, key K) int {
	target := key.Bytes()
	for i, k := range keys {
		if types.Equal(k.Bytes(), target) {
			return i
		}
	}
	return -1
}

// sameID reports whether two bucket identities are the same bucket.
func sameID[ID types.Key](a, b ID) bool {
	return types.Equal(a.Bytes(), b.Bytes())
}

// writeFunc commits a bucket's encoded bytes at id. Index and Aggregate
// use one implementation for live Notify calls (tree.Store.ApplyLocal,
// whose doc comment says why views never touch the WAL directly)
// and the exact same one for Restore calls during recovery: there is no
// separate replay code path, only a different caller.
type writeFunc func(id []byte, value []byte) error

func localWrite(inner *tree.Store, version uint16) writeFunc {
	return func(id, value []byte) error {
		inner.ApplyLocal(id, version, value)
		return nil
	}
}
