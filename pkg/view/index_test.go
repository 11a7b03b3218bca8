package view

import (
	"context"
	"testing"
	"time"

	"github.com/bobboyms/kvdb/internal/vfs"
	"github.com/bobboyms/kvdb/pkg/schema"
	"github.com/bobboyms/kvdb/pkg/tree"
	"github.com/bobboyms/kvdb/pkg/types"
	"github.com/bobboyms/kvdb/pkg/wal"
)

type ticket struct {
	Board  uint32 `json:"board"`
	Status string `json:"status"`
}

func testSourceTree(t *testing.T) *tree.Tree[types.U64, ticket] {
	t.Helper()
	w, err := wal.Open(vfs.NewMemFS(), "/db", wal.Options{FileName: "wal", CommitDelay: time.Millisecond}, nil)
	if err != nil {
		t.Fatalf("wal.Open failed: %v", err)
	}
	t.Cleanup(func() { w.Close() })
	chain, err := schema.NewBuilder("tickets", "U64", "ticket").AddVersion(ticket{}, nil).Build()
	if err != nil {
		t.Fatalf("schema.Build failed: %v", err)
	}
	tr := tree.New[types.U64, ticket]("tickets", func(b []byte) types.U64 { return types.DecodeU64(b) }, chain, w, nil, nil)
	tr.MarkRestoreComplete()
	return tr
}

func byBoard(t ticket) (types.U32, bool) {
	return types.U32(t.Board), t.Board != 0
}

func TestIndex_ListReflectsLiveInsertsAndMutateByIndexMoves(t *testing.T) {
	ctx := context.Background()
	src := testSourceTree(t)
	idx := NewIndex[types.U32, types.U64, ticket]("by_board", src, func(b []byte) types.U64 { return types.DecodeU64(b) }, byBoard, nil, nil)
	src.Subscribe(idx)

	for i := 0; i < 3; i++ {
		if _, err := src.Insert(ctx, ticket{Board: 7, Status: "todo"}); err != nil {
			t.Fatalf("Insert failed: %v", err)
		}
	}
	for i := 0; i < 2; i++ {
		if _, err := src.Insert(ctx, ticket{Board: 9, Status: "todo"}); err != nil {
			t.Fatalf("Insert failed: %v", err)
		}
	}

	list7, err := idx.List(ctx, types.U32(7))
	if err != nil {
		t.Fatalf("List(7) failed: %v", err)
	}
	if len(list7) != 3 {
		t.Fatalf("List(7) = %d items, want 3", len(list7))
	}
	list9, err := idx.List(ctx, types.U32(9))
	if err != nil {
		t.Fatalf("List(9) failed: %v", err)
	}
	if len(list9) != 2 {
		t.Fatalf("List(9) = %d items, want 2", len(list9))
	}

	if err := idx.MutateByIndex(ctx, types.U32(7), 0, func(tk *ticket) { tk.Board = 9 }); err != nil {
		t.Fatalf("MutateByIndex failed: %v", err)
	}

	list7, err = idx.List(ctx, types.U32(7))
	if err != nil {
		t.Fatalf("List(7) after move failed: %v", err)
	}
	if len(list7) != 2 {
		t.Fatalf("List(7) after move = %d items, want 2", len(list7))
	}
	list9, err = idx.List(ctx, types.U32(9))
	if err != nil {
		t.Fatalf("List(9) after move failed: %v", err)
	}
	if len(list9) != 3 {
		t.Fatalf("List(9) after move = %d items, want 3", len(list9))
	}
}

func TestIndex_DeleteRemovesFromBucket(t *testing.T) {
	ctx := context.Background()
	src := testSourceTree(t)
	idx := NewIndex[types.U32, types.U64, ticket]("by_board", src, func(b []byte) types.U64 { return types.DecodeU64(b) }, byBoard, nil, nil)
	src.Subscribe(idx)

	key, err := src.Insert(ctx, ticket{Board: 7, Status: "todo"})
	if err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	if _, err := src.Insert(ctx, ticket{Board: 7, Status: "todo"}); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	if err := src.Delete(ctx, key); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	list, err := idx.List(ctx, types.U32(7))
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("List(7) after delete = %d items, want 1", len(list))
	}
}

func TestIndex_RestoreRebuildsBucketsFromReplay(t *testing.T) {
	ctx := context.Background()
	src := testSourceTree(t)
	idx := NewIndex[types.U32, types.U64, ticket]("by_board", src, func(b []byte) types.U64 { return types.DecodeU64(b) }, byBoard, nil, nil)
	src.RegisterRestorer(idx)

	entries := []*wal.Entry{
		{Table: "tickets", Version: 1, Key: types.U64(1).Bytes(), Value: []byte(`{"board":7,"status":"todo"}`)},
		{Table: "tickets", Version: 1, Key: types.U64(2).Bytes(), Value: []byte(`{"board":7,"status":"todo"}`)},
		{Table: "tickets", Version: 1, Key: types.U64(3).Bytes(), Value: []byte(`{"board":9,"status":"todo"}`)},
	}
	for _, e := range entries {
		if err := src.ApplyReplay(e); err != nil {
			t.Fatalf("ApplyReplay failed: %v", err)
		}
	}
	src.MarkRestoreComplete()

	list7, err := idx.List(ctx, types.U32(7))
	if err != nil {
		t.Fatalf("List(7) failed: %v", err)
	}
	if len(list7) != 2 {
		t.Fatalf("List(7) after replay = %d items, want 2", len(list7))
	}
	list9, err := idx.List(ctx, types.U32(9))
	if err != nil {
		t.Fatalf("List(9) failed: %v", err)
	}
	if len(list9) != 1 {
		t.Fatalf("List(9) after replay = %d items, want 1", len(list9))
	}
}
