package wal

import (
	"errors"

	"github.com/bobboyms/kvdb/internal/vfs"
)

// ErrChecksumMismatch marks a single entry whose CRC does not match its
// body. Decoding already consumed exactly that entry's framed bytes, so
// a Reader can report it and keep going; this is the one error Next
// returns without also ending the stream.
var ErrChecksumMismatch = errors.New("wal: checksum mismatch")

// Reader replays a WAL segment sequentially, the only way entries are ever
// read back: there is no random access, no index, just the order they
// were appended in.
type Reader struct {
	file   *vfs.File
	offset int64
}

// OpenReader opens path for replay. It is an error for the file not to
// exist; recovery callers create the segment (via Open) before replaying
// it.
func OpenReader(fsys *vfs.FS, dir string, opts Options) (*Reader, error) {
	path := fsys.PathJoin(dir, opts.FileName)
	f, err := fsys.Open(path, vfs.Options{Read: true})
	if err != nil {
		return nil, err
	}
	return &Reader{file: f}, nil
}

// Next decodes the next entry. It returns io.EOF once the file is
// exhausted at a clean entry boundary, io.ErrUnexpectedEOF when the
// segment ends mid-entry (a torn tail from a crash during flush; replay
// stops there), and ErrChecksumMismatch when one entry's CRC is wrong
// (replay should skip it and call Next again).
func (r *Reader) Next() (*Entry, error) {
	e, err := DecodeEntry(r.file)
	if err != nil {
		return nil, err
	}
	r.offset += int64(len(e.Encode()))
	return e, nil
}

// Offset returns the byte offset of the reader, mostly useful for
// CorruptionError reporting by callers.
func (r *Reader) Offset() int64 { return r.offset }

// Close closes the underlying file.
func (r *Reader) Close() error { return r.file.Close() }
