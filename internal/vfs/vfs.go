// Package vfs is the file abstraction: two interchangeable backends,
// in-memory and host-filesystem, built on pebble's vfs package so the
// database never talks to os.* directly. Swapping NewMemFS for NewDiskFS
// is the entire difference between a transient test database and a
// durable one.
package vfs

import (
	"os"

	pvfs "github.com/cockroachdb/pebble/vfs"

	"github.com/bobboyms/kvdb/pkg/errs"
)

// Options is the small open-mode configuration: read/write permission,
// create semantics and truncate/append start position.
type Options struct {
	Read      bool
	Write     bool
	Create    bool
	CreateNew bool
	Truncate  bool
	Append    bool
}

// FS is a random-access file system. The memory and disk implementations
// share this type; only the underlying pebble vfs.FS differs.
type FS struct {
	inner pvfs.FS
}

// NewMemFS returns an in-memory backend, used for tests and transient
// databases.
func NewMemFS() *FS { return &FS{inner: pvfs.NewMem()} }

// NewDiskFS returns a backend rooted at the host filesystem.
func NewDiskFS() *FS { return &FS{inner: pvfs.Default} }

// Open opens path under opts, translating the small option struct into
// pebble vfs calls and the semantic errors in pkg/errs.
func (fs *FS) Open(path string, opts Options) (*File, error) {
	if opts.Truncate && !opts.Write {
		return nil, invalidInputErr("truncate requires write")
	}
	if !opts.Read && !opts.Write {
		return nil, invalidInputErr("open requires read or write")
	}

	info, statErr := fs.inner.Stat(path)
	if statErr == nil && info.IsDir() {
		return nil, alreadyExistsErr(path + " is a directory")
	}
	exists := statErr == nil

	if opts.CreateNew && exists {
		return nil, alreadyExistsErr(path)
	}
	if !opts.Create && !opts.CreateNew && !exists {
		return nil, notFoundErr(path)
	}

	var (
		f   pvfs.File
		err error
	)
	switch {
	case !exists || opts.Truncate:
		// Create and CreateNew only take effect for a missing file; an
		// existing one is never truncated unless Truncate asks for it.
		f, err = fs.inner.Create(path)
	case opts.Write:
		f, err = fs.inner.OpenReadWrite(path)
	default:
		f, err = fs.inner.Open(path)
	}
	if err != nil {
		if os.IsNotExist(err) {
			return nil, notFoundErr(path)
		}
		return nil, err
	}

	file := &File{inner: f}
	if opts.Append {
		info, err := f.Stat()
		if err != nil {
			f.Close()
			return nil, err
		}
		file.wpos = info.Size()
	}
	return file, nil
}

// MkdirAll creates dir and any missing parents.
func (fs *FS) MkdirAll(dir string) error {
	return fs.inner.MkdirAll(dir, 0o755)
}

// Stat returns file metadata, or a NotFound error if the path is missing.
func (fs *FS) Stat(path string) (os.FileInfo, error) {
	info, err := fs.inner.Stat(path)
	if err != nil && os.IsNotExist(err) {
		return nil, notFoundErr(path)
	}
	return info, err
}

// Remove deletes path, ignoring a missing file.
func (fs *FS) Remove(path string) error {
	err := fs.inner.Remove(path)
	if err != nil && os.IsNotExist(err) {
		return nil
	}
	return err
}

// PathJoin joins path elements with the backend's separator.
func (fs *FS) PathJoin(parts ...string) string {
	return fs.inner.PathJoin(parts...)
}

// Rename atomically replaces newname with oldname's contents. Used by
// kvdb.Database.Dump's write-to-temp-then-rename pattern so a reader
// never observes a partially-written archival snapshot.
func (fs *FS) Rename(oldname, newname string) error {
	return fs.inner.Rename(oldname, newname)
}

// File is a single open file handle, random-access and appendable. Writes
// go through WriteAt against a tracked position rather than the backend's
// own write cursor, because the two backends disagree about where that
// cursor starts: this keeps Options.Append meaning "start at current end"
// on both.
type File struct {
	inner pvfs.File
	wpos  int64
}

func (f *File) Read(p []byte) (int, error) { return f.inner.Read(p) }

func (f *File) Write(p []byte) (int, error) {
	n, err := f.inner.WriteAt(p, f.wpos)
	f.wpos += int64(n)
	return n, err
}

// Append is semantically identical to Write once the file has been opened
// with Options.Append (which starts the writer at the current end); it
// exists as a distinct name to mirror the file abstraction's operation
// list.
func (f *File) Append(p []byte) (int, error) { return f.Write(p) }

// Flush fsyncs the file's contents to the backend.
func (f *File) Flush() error { return f.inner.Sync() }

// Truncate resizes the file, when the backend supports it.
func (f *File) Truncate(size int64) error {
	if t, ok := f.inner.(interface{ Truncate(int64) error }); ok {
		return t.Truncate(size)
	}
	return invalidInputErr("truncate not supported by this backend")
}

func (f *File) Close() error { return f.inner.Close() }

func invalidInputErr(msg string) error  { return errs.Wrap(errs.ErrInvalidInput, msg) }
func notFoundErr(msg string) error      { return errs.Wrap(errs.ErrNotFound, msg) }
func alreadyExistsErr(msg string) error { return errs.Wrap(errs.ErrAlreadyExists, msg) }
