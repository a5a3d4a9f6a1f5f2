package p9

import (
	"errors"
	"fmt"
)

// ErrShortFrame is returned by Decoder reads that run past the end of the
// buffer — a truncated 9P frame (§4.4, "structural decoding failure").
var ErrShortFrame = errors.New("p9: short frame")

// Encoder builds a 9P message body one codec letter at a time (§4.4):
// b=u8, h=u16 LE, w=u32 LE, d=u64 LE, s=u16-length-prefixed UTF-8, Q=13-byte qid.
type Encoder struct {
	buf []byte
}

func NewEncoder() *Encoder {
	return &Encoder{}
}

func (e *Encoder) B(v uint8) *Encoder {
	e.buf = append(e.buf, v)
	return e
}

func (e *Encoder) H(v uint16) *Encoder {
	e.buf = append(e.buf, byte(v), byte(v>>8))
	return e
}

func (e *Encoder) W(v uint32) *Encoder {
	e.buf = append(e.buf, byte(v), byte(v>>8), byte(v>>16), byte(v>>24))
	return e
}

func (e *Encoder) D(v uint64) *Encoder {
	for i := 0; i < 8; i++ {
		e.buf = append(e.buf, byte(v>>(8*i)))
	}
	return e
}

func (e *Encoder) S(v string) *Encoder {
	e.H(uint16(len(v)))
	e.buf = append(e.buf, v...)
	return e
}

func (e *Encoder) Qid(q Qid) *Encoder {
	return e.B(q.Type).W(q.Version).D(q.Path)
}

// Raw appends pre-encoded bytes verbatim (used for read replies and
// readdir payloads, which carry opaque byte blobs rather than codec
// letters).
func (e *Encoder) Raw(p []byte) *Encoder {
	e.buf = append(e.buf, p...)
	return e
}

func (e *Encoder) Bytes() []byte {
	return e.buf
}

// Decoder reads a 9P message body one codec letter at a time, tracking a
// sticky error so callers can decode a whole payload and check Err once.
type Decoder struct {
	buf []byte
	off int
	err error
}

func NewDecoder(buf []byte) *Decoder {
	return &Decoder{buf: buf}
}

func (d *Decoder) need(n int) []byte {
	if d.err != nil {
		return nil
	}
	if d.off+n > len(d.buf) {
		d.err = fmt.Errorf("%w: need %d bytes at offset %d, have %d", ErrShortFrame, n, d.off, len(d.buf))
		return nil
	}
	p := d.buf[d.off : d.off+n]
	d.off += n
	return p
}

func (d *Decoder) B() uint8 {
	p := d.need(1)
	if p == nil {
		return 0
	}
	return p[0]
}

func (d *Decoder) H() uint16 {
	p := d.need(2)
	if p == nil {
		return 0
	}
	return uint16(p[0]) | uint16(p[1])<<8
}

func (d *Decoder) W() uint32 {
	p := d.need(4)
	if p == nil {
		return 0
	}
	return uint32(p[0]) | uint32(p[1])<<8 | uint32(p[2])<<16 | uint32(p[3])<<24
}

func (d *Decoder) D() uint64 {
	p := d.need(8)
	if p == nil {
		return 0
	}
	var v uint64
	for i := 0; i < 8; i++ {
		v |= uint64(p[i]) << (8 * i)
	}
	return v
}

func (d *Decoder) S() string {
	n := d.H()
	p := d.need(int(n))
	if p == nil {
		return ""
	}
	return string(p)
}

func (d *Decoder) Qid() Qid {
	var q Qid
	q.Type = d.B()
	q.Version = d.W()
	q.Path = d.D()
	return q
}

// Raw consumes and returns the next n bytes verbatim.
func (d *Decoder) Raw(n int) []byte {
	p := d.need(n)
	if p == nil {
		return nil
	}
	return p
}

// Remaining returns every byte not yet consumed.
func (d *Decoder) Remaining() []byte {
	if d.err != nil || d.off > len(d.buf) {
		return nil
	}
	return d.buf[d.off:]
}

func (d *Decoder) Err() error {
	return d.err
}
