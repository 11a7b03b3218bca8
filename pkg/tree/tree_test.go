package tree

import (
	"context"
	"testing"
	"time"

	"github.com/bobboyms/kvdb/internal/vfs"
	"github.com/bobboyms/kvdb/pkg/schema"
	"github.com/bobboyms/kvdb/pkg/types"
	"github.com/bobboyms/kvdb/pkg/wal"
)

type userV1 struct {
	Name string `json:"name"`
}

func testChain(t *testing.T) *schema.Chain {
	t.Helper()
	chain, err := schema.NewBuilder("users", "U32", "userV1").AddVersion(userV1{}, nil).Build()
	if err != nil {
		t.Fatalf("schema.Build failed: %v", err)
	}
	return chain
}

func testWal(t *testing.T) *wal.Wal {
	t.Helper()
	w, err := wal.Open(vfs.NewMemFS(), "/db", wal.Options{FileName: "wal", CommitDelay: time.Millisecond}, nil)
	if err != nil {
		t.Fatalf("wal.Open failed: %v", err)
	}
	t.Cleanup(func() { w.Close() })
	return w
}

func TestTree_InsertAllocatesSequentialKeys(t *testing.T) {
	tr := New[types.U32, userV1]("users", func(b []byte) types.U32 { return types.DecodeU32(b) }, testChain(t), testWal(t), nil, nil)
	tr.MarkRestoreComplete()
	ctx := context.Background()

	k1, err := tr.Insert(ctx, userV1{Name: "ada"})
	if err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	k2, err := tr.Insert(ctx, userV1{Name: "grace"})
	if err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	if k2 != k1+1 {
		t.Errorf("expected sequential keys, got %v then %v", k1, k2)
	}

	v, found, err := tr.Get(ctx, k1)
	if err != nil || !found {
		t.Fatalf("Get(%v) failed: found=%v err=%v", k1, found, err)
	}
	if v.Name != "ada" {
		t.Errorf("got %+v, want name ada", v)
	}
}

func TestTree_UpdateAndDelete(t *testing.T) {
	tr := New[types.U32, userV1]("users", func(b []byte) types.U32 { return types.DecodeU32(b) }, testChain(t), testWal(t), nil, nil)
	tr.MarkRestoreComplete()
	ctx := context.Background()

	key, err := tr.Insert(ctx, userV1{Name: "ada"})
	if err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	if err := tr.Update(ctx, key, userV1{Name: "ada lovelace"}); err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	v, found, err := tr.Get(ctx, key)
	if err != nil || !found || v.Name != "ada lovelace" {
		t.Fatalf("Get after update = %+v, found=%v, err=%v", v, found, err)
	}

	if err := tr.Delete(ctx, key); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	_, found, err = tr.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get after delete errored: %v", err)
	}
	if found {
		t.Error("expected key to be absent after Delete")
	}
}

func TestTree_RejectsWritesUntilRestoreComplete(t *testing.T) {
	tr := New[types.U32, userV1]("users", func(b []byte) types.U32 { return types.DecodeU32(b) }, testChain(t), testWal(t), nil, nil)
	_, err := tr.Insert(context.Background(), userV1{Name: "ada"})
	if err == nil {
		t.Error("expected Insert to fail before MarkRestoreComplete")
	}
}

type countingSubscriber struct {
	changes []Change
}

func (c *countingSubscriber) Name() string { return "counter" }
func (c *countingSubscriber) Notify(ctx context.Context, change Change) error {
	c.changes = append(c.changes, change)
	return nil
}

func TestTree_NotifiesSubscribersOnWrite(t *testing.T) {
	tr := New[types.U32, userV1]("users", func(b []byte) types.U32 { return types.DecodeU32(b) }, testChain(t), testWal(t), nil, nil)
	tr.MarkRestoreComplete()
	sub := &countingSubscriber{}
	tr.Subscribe(sub)

	ctx := context.Background()
	key, err := tr.Insert(ctx, userV1{Name: "ada"})
	if err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	if err := tr.Delete(ctx, key); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	if len(sub.changes) != 2 {
		t.Fatalf("expected 2 changes delivered, got %d", len(sub.changes))
	}
	if sub.changes[0].Op != OpSet {
		t.Errorf("expected first change to be a Set, got %v", sub.changes[0].Op)
	}
	if sub.changes[1].Op != OpDel {
		t.Errorf("expected second change to be a Del, got %v", sub.changes[1].Op)
	}
}

type recordingRestorer struct {
	keys [][]byte
}

func (r *recordingRestorer) Restore(change Change) error {
	r.keys = append(r.keys, change.Key)
	return nil
}

func TestStore_ApplyReplayFeedsRestorersThenEnablesWrites(t *testing.T) {
	chain := testChain(t)
	w := testWal(t)
	s := NewStore("users", chain, w, nil, nil)

	restorer := &recordingRestorer{}
	s.RegisterRestorer(restorer)

	entry := &wal.Entry{Table: "users", Version: 1, Key: types.U32(1).Bytes(), Value: []byte(`{"name":"ada"}`)}
	if err := s.ApplyReplay(entry); err != nil {
		t.Fatalf("ApplyReplay failed: %v", err)
	}
	if len(restorer.keys) != 1 {
		t.Fatalf("expected restorer to see 1 key, got %d", len(restorer.keys))
	}

	if _, err := s.InsertWithAllocatedKey(context.Background(), 1, []byte(`{}`), func(maxKey []byte, hasMax bool, lastMemKey []byte, hasLastMem bool) []byte {
		return types.U32(2).Bytes()
	}); err == nil {
		t.Error("expected write to fail before MarkRestoreComplete")
	}

	s.MarkRestoreComplete()
	if _, err := s.InsertWithAllocatedKey(context.Background(), 1, []byte(`{}`), func(maxKey []byte, hasMax bool, lastMemKey []byte, hasLastMem bool) []byte {
		return types.U32(2).Bytes()
	}); err != nil {
		t.Errorf("expected write to succeed after MarkRestoreComplete: %v", err)
	}
}
