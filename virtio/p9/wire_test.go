package p9

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestCodecRoundTrip(t *testing.T) {
	q := Qid{Type: QTFile, Version: 7, Path: 0xdeadbeef}

	enc := NewEncoder().
		B(0x42).
		H(0x1234).
		W(0xcafef00d).
		D(0x0123456789abcdef).
		S("hello, 9p").
		Qid(q)

	dec := NewDecoder(enc.Bytes())

	gotB := dec.B()
	gotH := dec.H()
	gotW := dec.W()
	gotD := dec.D()
	gotS := dec.S()
	gotQ := dec.Qid()

	if err := dec.Err(); err != nil {
		t.Fatalf("Err() = %v, want nil", err)
	}

	if gotB != 0x42 {
		t.Errorf("B = %#x, want 0x42", gotB)
	}
	if gotH != 0x1234 {
		t.Errorf("H = %#x, want 0x1234", gotH)
	}
	if gotW != 0xcafef00d {
		t.Errorf("W = %#x, want 0xcafef00d", gotW)
	}
	if gotD != 0x0123456789abcdef {
		t.Errorf("D = %#x, want 0x0123456789abcdef", gotD)
	}
	if gotS != "hello, 9p" {
		t.Errorf("S = %q, want %q", gotS, "hello, 9p")
	}
	if diff := cmp.Diff(q, gotQ); diff != "" {
		t.Errorf("Qid round-trip mismatch (-want +got):\n%s", diff)
	}
}

func TestDecoderShortFrame(t *testing.T) {
	dec := NewDecoder([]byte{1, 2})
	dec.W() // needs 4 bytes, only 2 available

	if dec.Err() == nil {
		t.Fatal("Err() = nil, want ErrShortFrame")
	}
}

func TestDecoderEmptyString(t *testing.T) {
	enc := NewEncoder().S("")
	dec := NewDecoder(enc.Bytes())

	if got := dec.S(); got != "" {
		t.Fatalf("S() = %q, want empty", got)
	}
	if dec.Err() != nil {
		t.Fatalf("Err() = %v, want nil", dec.Err())
	}
}
