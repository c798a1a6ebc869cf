package binlog

import (
	"bytes"
	"io"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// payload returns what f writes, without packet header.
func payload(f func(w *writer)) []byte {
	var buf bytes.Buffer
	var seq uint8
	w := newWriter(&buf, &seq)
	f(w)
	if err := w.Close(); err != nil {
		panic(err)
	}
	return buf.Bytes()[headerSize:]
}

func TestReader_Ints(t *testing.T) {
	b := payload(func(w *writer) {
		w.int1(0xff)
		w.int2(math.MaxUint16)
		w.int3(1<<24 - 1)
		w.int4(math.MaxUint32)
		w.int6(1<<48 - 1)
		w.int8(math.MaxUint64)
		w.int1(0)
		w.int2(0)
		w.int4(0x01020304)
	})
	r := newReader(b)
	assert.Equal(t, uint8(0xff), r.int1())
	assert.Equal(t, uint16(math.MaxUint16), r.int2())
	assert.Equal(t, uint32(1<<24-1), r.int3())
	assert.Equal(t, uint32(math.MaxUint32), r.int4())
	assert.Equal(t, uint64(1<<48-1), r.int6())
	assert.Equal(t, uint64(math.MaxUint64), r.int8())
	assert.Equal(t, uint8(0), r.int1())
	assert.Equal(t, uint16(0), r.int2())
	assert.Equal(t, uint64(0x01020304), r.intFixed(4))
	require.NoError(t, r.err)
	assert.False(t, r.more())
}

func TestReader_IntBig(t *testing.T) {
	r := newReader([]byte{0x01, 0x02, 0x03})
	assert.Equal(t, uint64(0x010203), r.intBig(3))
	require.NoError(t, r.err)
}

func TestReader_IntN(t *testing.T) {
	values := []uint64{0, 1, 250, 251, 0xffff, 0x10000, 1<<24 - 1, 1 << 24, math.MaxUint64}
	b := payload(func(w *writer) {
		for _, v := range values {
			w.intN(v)
		}
	})
	r := newReader(b)
	for _, want := range values {
		assert.Equal(t, want, r.intN())
	}
	require.NoError(t, r.err)
	assert.False(t, r.more())
}

func TestReader_Strings(t *testing.T) {
	b := payload(func(w *writer) {
		w.stringNull("")
		w.stringNull("hello")
		w.stringN("")
		w.stringN("world")
		w.string1("x")
		w.string("rest")
	})
	r := newReader(b)
	assert.Equal(t, "", r.stringNull())
	assert.Equal(t, "hello", r.stringNull())
	assert.Equal(t, "", r.stringN())
	assert.Equal(t, "world", r.stringN())
	assert.Equal(t, "x", r.string(int(r.int1())))
	assert.Equal(t, "rest", r.stringEOF())
	require.NoError(t, r.err)
}

func TestReader_StickyError(t *testing.T) {
	r := newReader([]byte{1, 2, 3})
	assert.Equal(t, uint16(0x0201), r.int2())
	assert.Equal(t, uint32(0), r.int4())
	assert.Equal(t, io.ErrUnexpectedEOF, r.err)
	// later reads fail too, even if bytes are available
	assert.Equal(t, uint8(0), r.int1())
	assert.Equal(t, "", r.stringNull())
	assert.Equal(t, io.ErrUnexpectedEOF, r.err)

	r = newReader([]byte{'a', 'b'})
	assert.Equal(t, "", r.stringNull())
	assert.Equal(t, io.ErrUnexpectedEOF, r.err)

	r = newReader([]byte{0xfc, 0x01})
	r.intN()
	assert.Equal(t, io.ErrUnexpectedEOF, r.err)
}

func TestBitmap(t *testing.T) {
	// bit i is at position i%8 of byte i/8
	bm := bitmap([]byte{0b00000101, 0b00000010})
	assert.True(t, bm.isTrue(0))
	assert.False(t, bm.isTrue(1))
	assert.True(t, bm.isTrue(2))
	assert.True(t, bm.isTrue(9))
	assert.Equal(t, 3, bm.count(16))
	assert.Equal(t, 2, bm.count(8))

	bm = make(bitmap, bitmapSize(10))
	require.Len(t, bm, 2)
	bm.set(0)
	bm.set(9)
	assert.Equal(t, bitmap{0x01, 0x02}, bm)

	b := payload(func(w *writer) { w.bitmap(bm) })
	r := newReader(b)
	assert.Equal(t, bm, r.bitmap(10))
	require.NoError(t, r.err)
}
