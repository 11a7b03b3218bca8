package wal

import (
	"context"
	"testing"
	"time"

	"github.com/bobboyms/kvdb/internal/vfs"
)

func writeAndClose(t *testing.T, fsys *vfs.FS, dir string, opts Options, entries ...*Entry) {
	t.Helper()
	w, err := Open(fsys, dir, opts, nil)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	for _, e := range entries {
		if err := w.Append(context.Background(), e); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
}

func TestReader_ReplaysInOrder(t *testing.T) {
	fsys := vfs.NewMemFS()
	opts := Options{FileName: "wal", CommitDelay: time.Millisecond}
	writeAndClose(t, fsys, "/db", opts,
		&Entry{Table: "users", Version: 1, Key: []byte{0, 0, 0, 1}, Value: []byte("first")},
		&Entry{Table: "users", Version: 1, Key: []byte{0, 0, 0, 2}, Value: []byte("second")},
	)

	r, err := OpenReader(fsys, "/db", opts)
	if err != nil {
		t.Fatalf("OpenReader failed: %v", err)
	}
	defer r.Close()

	first, err := r.Next()
	if err != nil {
		t.Fatalf("Next (1) failed: %v", err)
	}
	if string(first.Value) != "first" {
		t.Errorf("got %q, want %q", first.Value, "first")
	}

	second, err := r.Next()
	if err != nil {
		t.Fatalf("Next (2) failed: %v", err)
	}
	if string(second.Value) != "second" {
		t.Errorf("got %q, want %q", second.Value, "second")
	}

	if _, err := r.Next(); err == nil {
		t.Error("expected an error (EOF) after the last entry")
	}
}

func TestReader_DetectsChecksumCorruption(t *testing.T) {
	fsys := vfs.NewMemFS()
	opts := Options{FileName: "wal", CommitDelay: time.Millisecond}
	writeAndClose(t, fsys, "/db", opts,
		&Entry{Table: "t", Version: 1, Key: []byte{1}, Value: []byte("critical data")},
	)

	f, err := fsys.Open(fsys.PathJoin("/db", "wal"), vfs.Options{Write: true})
	if err != nil {
		t.Fatalf("reopen for corruption failed: %v", err)
	}
	// Overwrite the file's first byte with 0xFF, corrupting the stored CRC
	// itself.
	if _, err := f.Write([]byte{0xFF}); err != nil {
		t.Fatalf("corrupting write failed: %v", err)
	}
	f.Close()

	r, err := OpenReader(fsys, "/db", opts)
	if err != nil {
		t.Fatalf("OpenReader failed: %v", err)
	}
	defer r.Close()

	if _, err := r.Next(); err != ErrChecksumMismatch {
		t.Errorf("expected ErrChecksumMismatch, got %v", err)
	}
}
