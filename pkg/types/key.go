// Package types defines the key codecs the database ships with. Keys use
// a compact fixed-endian binary encoding (big-endian, so unsigned integer
// keys sort the same way as byte-lexicographic MemTable order); values
// use JSON. Both are encapsulated behind small interfaces so a caller
// could supply their own without touching the core.
package types

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"time"
)

// Key is any type usable as a tree's key: comparable for Go map/generic
// use, and serializable to the bytes the MemTable and WAL actually store.
type Key interface {
	comparable
	Bytes() []byte
}

// IncrementingKey is a Key whose allocator can hand out the next value in
// sequence. Only trees created through Database.CreateTree need this;
// derived views key their own inner tree by an externally supplied ID and
// never call Next.
type IncrementingKey[K any] interface {
	Key
	Next() K
}

// U32 is an unsigned 32-bit integer key. Its zero value, 0, is the first
// key an empty tree allocates.
type U32 uint32

func (k U32) Bytes() []byte {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], uint32(k))
	return buf[:]
}

func (k U32) Next() U32 { return k + 1 }

func (k U32) String() string { return fmt.Sprintf("%d", uint32(k)) }

// DecodeU32 reverses U32.Bytes.
func DecodeU32(b []byte) U32 { return U32(binary.BigEndian.Uint32(b)) }

// U64 is an unsigned 64-bit integer key.
type U64 uint64

func (k U64) Bytes() []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(k))
	return buf[:]
}

func (k U64) Next() U64 { return k + 1 }

func (k U64) String() string { return fmt.Sprintf("%d", uint64(k)) }

// DecodeU64 reverses U64.Bytes.
func DecodeU64(b []byte) U64 { return U64(binary.BigEndian.Uint64(b)) }

// Varchar is a string key. It has no Next: only used for derived-view
// bucket IDs and non-allocated primary keys.
type Varchar string

func (k Varchar) Bytes() []byte { return []byte(k) }

func (k Varchar) String() string { return string(k) }

// Bool is a boolean key (false sorts before true).
type Bool bool

func (k Bool) Bytes() []byte {
	if k {
		return []byte{1}
	}
	return []byte{0}
}

// Float is a float64 key, encoded so byte-lexicographic order matches
// numeric order for both signs (IEEE-754 bit flip trick).
type Float float64

func (k Float) Bytes() []byte {
	bits := floatBits(float64(k))
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], bits)
	return buf[:]
}

func floatBits(f float64) uint64 {
	bits := math.Float64bits(f)
	if bits&(1<<63) != 0 {
		return ^bits
	}
	return bits | (1 << 63)
}

// Date is a time.Time key truncated to nanosecond Unix time. Its
// encoding flips the sign bit so dates before 1970 sort before later ones.
type Date int64

func DateOf(t time.Time) Date { return Date(t.UnixNano()) }

func (k Date) Bytes() []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(k)^(1<<63))
	return buf[:]
}

func (k Date) Time() time.Time { return time.Unix(0, int64(k)) }

// Equal reports whether two key byte encodings are identical. Used by
// derived views comparing identity() results.
func Equal(a, b []byte) bool { return bytes.Equal(a, b) }
