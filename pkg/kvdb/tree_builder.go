package kvdb

import (
	"fmt"

	"github.com/bobboyms/kvdb/pkg/errs"
	"github.com/bobboyms/kvdb/pkg/schema"
	"github.com/bobboyms/kvdb/pkg/tree"
	"github.com/bobboyms/kvdb/pkg/types"
)

// TreeBuilder assembles a table's schema chain one version at a time
// before registering it with the Database that produced it. Go has no
// generic methods, so the type-parameterized entry point is the
// package-level CreateTree function rather than a method on Database.
type TreeBuilder[K types.IncrementingKey[K], V any] struct {
	db        *Database
	name      string
	decodeKey func([]byte) K
	sb        *schema.Builder
}

// CreateTree starts building a table named name, keyed by K and valued
// by the final (current) type V. Call AddVersion once for the table's
// first schema version and once more per migration step, then Open to
// finalize the chain and register the table.
func CreateTree[K types.IncrementingKey[K], V any](db *Database, name string, decodeKey func([]byte) K) *TreeBuilder[K, V] {
	var k K
	var v V
	return &TreeBuilder[K, V]{
		db:        db,
		name:      name,
		decodeKey: decodeKey,
		sb:        schema.NewBuilder(name, fmt.Sprintf("%T", k), fmt.Sprintf("%T", v)),
	}
}

// AddVersion appends the next schema version in sequence: nil upgrade
// for the table's first version, a non-nil schema.Upgrader bridging
// from the immediately preceding version for every call after that.
func (b *TreeBuilder[K, V]) AddVersion(defaultValue interface{}, upgrade schema.Upgrader) *TreeBuilder[K, V] {
	b.sb = b.sb.AddVersion(defaultValue, upgrade)
	return b
}

// Open finalizes the schema chain and registers the table with the
// Database that started this builder. The returned Tree is gated: it
// rejects writes with errs.ErrRecovering until Database.Restore runs.
func (b *TreeBuilder[K, V]) Open() (*tree.Tree[K, V], error) {
	if _, exists := b.db.trees[b.name]; exists {
		return nil, &errs.TableAlreadyExistsError{Name: b.name}
	}
	chain, err := b.sb.Build()
	if err != nil {
		return nil, err
	}
	tr := tree.New[K, V](b.name, b.decodeKey, chain, nil, b.db.metrics, b.db.reporter)
	b.db.trees[b.name] = tr
	return tr, nil
}
