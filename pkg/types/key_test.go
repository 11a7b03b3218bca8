package types

import (
	"bytes"
	"testing"
	"time"
)

func TestU32_BytesOrderingMatchesNumericOrdering(t *testing.T) {
	small, big := U32(1), U32(300)
	if bytes.Compare(small.Bytes(), big.Bytes()) >= 0 {
		t.Errorf("expected %v.Bytes() < %v.Bytes()", small, big)
	}
}

func TestU32_NextIsStrictlyIncreasing(t *testing.T) {
	k := U32(41)
	if next := k.Next(); next != 42 {
		t.Errorf("Next() = %d, want 42", next)
	}
}

func TestU32_DecodeRoundTrips(t *testing.T) {
	k := U32(123456)
	if got := DecodeU32(k.Bytes()); got != k {
		t.Errorf("DecodeU32(Bytes()) = %v, want %v", got, k)
	}
}

func TestU64_BytesOrderingMatchesNumericOrdering(t *testing.T) {
	small, big := U64(1), U64(1<<40)
	if bytes.Compare(small.Bytes(), big.Bytes()) >= 0 {
		t.Errorf("expected %v.Bytes() < %v.Bytes()", small, big)
	}
	if got := DecodeU64(big.Bytes()); got != big {
		t.Errorf("DecodeU64(Bytes()) = %v, want %v", got, big)
	}
}

func TestVarchar_BytesIsLexicographic(t *testing.T) {
	a, b := Varchar("apple"), Varchar("banana")
	if bytes.Compare(a.Bytes(), b.Bytes()) >= 0 {
		t.Error("expected \"apple\" to sort before \"banana\"")
	}
}

func TestBool_FalseSortsBeforeTrue(t *testing.T) {
	f, tr := Bool(false), Bool(true)
	if bytes.Compare(f.Bytes(), tr.Bytes()) >= 0 {
		t.Error("expected false to sort before true")
	}
}

func TestFloat_BytesOrderingMatchesNumericOrderingAcrossSign(t *testing.T) {
	neg := Float(-3.5)
	zero := Float(0)
	pos := Float(3.5)
	if bytes.Compare(neg.Bytes(), zero.Bytes()) >= 0 {
		t.Error("expected negative float to sort before zero")
	}
	if bytes.Compare(zero.Bytes(), pos.Bytes()) >= 0 {
		t.Error("expected zero to sort before positive float")
	}
	if bytes.Compare(neg.Bytes(), pos.Bytes()) >= 0 {
		t.Error("expected negative float to sort before positive float")
	}
}

func TestDate_RoundTripsThroughTime(t *testing.T) {
	now := time.Now()
	d := DateOf(now)
	if got := d.Time().UnixNano(); got != now.UnixNano() {
		t.Errorf("Date round-trip = %d, want %d", got, now.UnixNano())
	}
}

func TestDate_BytesOrderingMatchesChronologicalOrdering(t *testing.T) {
	earlier := DateOf(time.Unix(1000, 0))
	later := DateOf(time.Unix(2000, 0))
	if bytes.Compare(earlier.Bytes(), later.Bytes()) >= 0 {
		t.Error("expected earlier date to sort before later date")
	}
}

func TestEqual(t *testing.T) {
	if !Equal([]byte{1, 2, 3}, []byte{1, 2, 3}) {
		t.Error("expected identical byte slices to be Equal")
	}
	if Equal([]byte{1, 2, 3}, []byte{1, 2, 4}) {
		t.Error("expected differing byte slices not to be Equal")
	}
}
