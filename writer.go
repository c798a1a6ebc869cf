package binlog

import (
	"io"
)

// writer frames whatever is written to it into mysql packets.
// Payloads of maxPacketSize or more are split across packets;
// Close flushes the last packet.
type writer struct {
	wd  io.Writer
	buf []byte
	seq *uint8
	err error
}

func newWriter(w io.Writer, seq *uint8) *writer {
	return &writer{
		wd:  w,
		buf: make([]byte, headerSize, 4096),
		seq: seq,
	}
}

func (w *writer) flush() error {
	if w.err != nil {
		return w.err
	}
	for len(w.buf) >= headerSize+maxPacketSize {
		w.buf[0], w.buf[1], w.buf[2], w.buf[3] = 0xff, 0xff, 0xff, *w.seq
		*w.seq++
		if _, w.err = w.wd.Write(w.buf[:headerSize+maxPacketSize]); w.err != nil {
			return w.err
		}
		n := copy(w.buf[headerSize:], w.buf[headerSize+maxPacketSize:])
		w.buf = w.buf[:headerSize+n]
	}
	return nil
}

func (w *writer) Close() error {
	if err := w.flush(); err != nil {
		return err
	}
	payload := len(w.buf) - headerSize
	w.buf[0], w.buf[1], w.buf[2], w.buf[3] = byte(payload), byte(payload>>8), byte(payload>>16), *w.seq
	*w.seq++
	_, w.err = w.wd.Write(w.buf)
	return w.err
}

func (w *writer) Write(b []byte) (n int, err error) {
	for {
		if err := w.flush(); err != nil {
			return n, err
		}
		available := headerSize + maxPacketSize - len(w.buf)
		if len(b) < available {
			available = len(b)
		}
		w.buf = append(w.buf, b[:available]...)
		n += available
		b = b[available:]
		if len(b) == 0 {
			return n, nil
		}
	}
}

func (w *writer) int1(v uint8) error {
	_, err := w.Write([]byte{v})
	return err
}

func (w *writer) int2(v uint16) error {
	_, err := w.Write([]byte{byte(v), byte(v >> 8)})
	return err
}

func (w *writer) int3(v uint32) error {
	_, err := w.Write([]byte{byte(v), byte(v >> 8), byte(v >> 16)})
	return err
}

func (w *writer) int4(v uint32) error {
	_, err := w.Write([]byte{byte(v), byte(v >> 8), byte(v >> 16), byte(v >> 24)})
	return err
}

func (w *writer) int6(v uint64) error {
	_, err := w.Write([]byte{byte(v), byte(v >> 8), byte(v >> 16), byte(v >> 24), byte(v >> 32), byte(v >> 40)})
	return err
}

func (w *writer) int8(v uint64) error {
	_, err := w.Write([]byte{
		byte(v), byte(v >> 8), byte(v >> 16), byte(v >> 24),
		byte(v >> 32), byte(v >> 40), byte(v >> 48), byte(v >> 56),
	})
	return err
}

// https://dev.mysql.com/doc/internals/en/integer.html#length-encoded-integer
func (w *writer) intN(v uint64) error {
	switch {
	case v < 251:
		return w.int1(byte(v))
	case v < 1<<16:
		w.int1(0xfc)
		return w.int2(uint16(v))
	case v < 1<<24:
		w.int1(0xfd)
		return w.int3(uint32(v))
	default:
		w.int1(0xfe)
		return w.int8(v)
	}
}

func (w *writer) string(v string) error {
	_, err := w.Write([]byte(v))
	return err
}

func (w *writer) stringNull(v string) error {
	if _, err := w.Write([]byte(v)); err != nil {
		return err
	}
	return w.int1(0)
}

func (w *writer) bytesNull(v []byte) error {
	if _, err := w.Write(v); err != nil {
		return err
	}
	return w.int1(0)
}

func (w *writer) string1(v string) error {
	if err := w.int1(uint8(len(v))); err != nil {
		return err
	}
	_, err := w.Write([]byte(v))
	return err
}

func (w *writer) stringN(v string) error {
	if err := w.intN(uint64(len(v))); err != nil {
		return err
	}
	_, err := w.Write([]byte(v))
	return err
}

func (w *writer) bytes1(v []byte) error {
	if err := w.int1(uint8(len(v))); err != nil {
		return err
	}
	_, err := w.Write(v)
	return err
}

func (w *writer) bytesN(v []byte) error {
	if err := w.intN(uint64(len(v))); err != nil {
		return err
	}
	_, err := w.Write(v)
	return err
}

func (w *writer) bitmap(bm bitmap) error {
	_, err := w.Write(bm)
	return err
}

const (
	comQuery          = 0x03
	comBinlogDump     = 0x12
	comBinlogDumpGTID = 0x1e
)

func (w *writer) query(q string) error {
	w.int1(comQuery)
	w.string(q)
	return w.Close()
}
