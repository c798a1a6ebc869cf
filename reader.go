package binlog

import (
	"bytes"
	"io"
)

// reader decodes mysql wire primitives from a fully reassembled payload.
//
// The first error is sticky: every later read returns zero value, so
// decoders check r.err once after a group of reads.
type reader struct {
	buf []byte
	off int
	err error
}

func newReader(buf []byte) *reader {
	return &reader{buf: buf}
}

// ensure checks that n more bytes are available.
func (r *reader) ensure(n int) bool {
	if r.err != nil {
		return false
	}
	if n < 0 || len(r.buf)-r.off < n {
		r.err = io.ErrUnexpectedEOF
		return false
	}
	return true
}

func (r *reader) more() bool {
	return r.err == nil && r.off < len(r.buf)
}

func (r *reader) remaining() int {
	return len(r.buf) - r.off
}

func (r *reader) peek() (byte, error) {
	if !r.ensure(1) {
		return 0, r.err
	}
	return r.buf[r.off], nil
}

func (r *reader) skip(n int) error {
	if r.ensure(n) {
		r.off += n
	}
	return r.err
}

// int ---

func (r *reader) int1() byte {
	if !r.ensure(1) {
		return 0
	}
	v := r.buf[r.off]
	r.off++
	return v
}

func (r *reader) int2() uint16 {
	if !r.ensure(2) {
		return 0
	}
	buf := r.buf[r.off:]
	v := uint16(buf[0]) | uint16(buf[1])<<8
	r.off += 2
	return v
}

func (r *reader) int3() uint32 {
	if !r.ensure(3) {
		return 0
	}
	buf := r.buf[r.off:]
	v := uint32(buf[0]) | uint32(buf[1])<<8 | uint32(buf[2])<<16
	r.off += 3
	return v
}

func (r *reader) int4() uint32 {
	if !r.ensure(4) {
		return 0
	}
	buf := r.buf[r.off:]
	v := uint32(buf[0]) | uint32(buf[1])<<8 | uint32(buf[2])<<16 | uint32(buf[3])<<24
	r.off += 4
	return v
}

func (r *reader) int6() uint64 {
	if !r.ensure(6) {
		return 0
	}
	buf := r.buf[r.off:]
	v := uint64(buf[0]) | uint64(buf[1])<<8 | uint64(buf[2])<<16 |
		uint64(buf[3])<<24 | uint64(buf[4])<<32 | uint64(buf[5])<<40
	r.off += 6
	return v
}

func (r *reader) int8() uint64 {
	if !r.ensure(8) {
		return 0
	}
	buf := r.buf[r.off:]
	v := uint64(buf[0]) | uint64(buf[1])<<8 | uint64(buf[2])<<16 | uint64(buf[3])<<24 |
		uint64(buf[4])<<32 | uint64(buf[5])<<40 | uint64(buf[6])<<48 | uint64(buf[7])<<56
	r.off += 8
	return v
}

// intFixed reads n bytes little-endian integer.
func (r *reader) intFixed(n int) uint64 {
	if !r.ensure(n) {
		return 0
	}
	var v uint64
	for i, b := range r.buf[r.off : r.off+n] {
		v |= uint64(b) << (uint(i) * 8)
	}
	r.off += n
	return v
}

// intBig reads n bytes big-endian integer.
func (r *reader) intBig(n int) uint64 {
	if !r.ensure(n) {
		return 0
	}
	var v uint64
	for _, b := range r.buf[r.off : r.off+n] {
		v = v<<8 | uint64(b)
	}
	r.off += n
	return v
}

// https://dev.mysql.com/doc/internals/en/integer.html#length-encoded-integer
func (r *reader) intN() uint64 {
	b := r.int1()
	if r.err != nil {
		return 0
	}
	switch b {
	case 0xfc:
		return uint64(r.int2())
	case 0xfd:
		return uint64(r.int3())
	case 0xfe:
		return r.int8()
	default:
		return uint64(b)
	}
}

// bytes, strings ---

func (r *reader) bytesInternal(n int) []byte {
	if !r.ensure(n) {
		return nil
	}
	v := r.buf[r.off : r.off+n]
	r.off += n
	return v
}

func (r *reader) bytes(n int) []byte {
	return append([]byte(nil), r.bytesInternal(n)...)
}

func (r *reader) string(n int) string {
	return string(r.bytesInternal(n))
}

func (r *reader) bytesNullInternal() []byte {
	if r.err != nil {
		return nil
	}
	i := bytes.IndexByte(r.buf[r.off:], 0)
	if i == -1 {
		r.err = io.ErrUnexpectedEOF
		return nil
	}
	v := r.buf[r.off : r.off+i]
	r.off += i + 1
	return v
}

func (r *reader) bytesNull() []byte {
	return append([]byte(nil), r.bytesNullInternal()...)
}

func (r *reader) stringNull() string {
	return string(r.bytesNullInternal())
}

func (r *reader) bytesEOFInternal() []byte {
	if r.err != nil {
		return nil
	}
	v := r.buf[r.off:]
	r.off = len(r.buf)
	return v
}

func (r *reader) bytesEOF() []byte {
	return append([]byte(nil), r.bytesEOFInternal()...)
}

func (r *reader) stringEOF() string {
	return string(r.bytesEOFInternal())
}

func (r *reader) stringN() string {
	l := r.intN()
	if r.err != nil {
		return ""
	}
	return r.string(int(l))
}

func (r *reader) bytesN() []byte {
	l := r.intN()
	if r.err != nil {
		return nil
	}
	return r.bytes(int(l))
}

// bitmap reads bitmap of n bits.
func (r *reader) bitmap(n int) bitmap {
	return bitmap(r.bytes(bitmapSize(n)))
}

// bitmap ---

// bitmap is mysql bit vector: bit i is stored in byte i/8 at position i%8.
type bitmap []byte

func bitmapSize(n int) int {
	return (n + 7) / 8
}

func (bm bitmap) isTrue(i int) bool {
	return bm[i/8]&(1<<uint(i%8)) != 0
}

func (bm bitmap) set(i int) {
	bm[i/8] |= 1 << uint(i%8)
}

func (bm bitmap) count(n int) int {
	c := 0
	for i := 0; i < n; i++ {
		if bm.isTrue(i) {
			c++
		}
	}
	return c
}
