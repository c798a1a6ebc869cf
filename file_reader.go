package binlog

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"io"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// fileHeader is the magic number at the start of every binlog file.
var fileHeader = []byte{0xfe, 'b', 'i', 'n'}

// File reads events from a binlog file on disk, with the same decoding
// as a replication stream.
type File struct {
	f   *os.File
	rd  *bufio.Reader
	dec *decoder
}

// OpenFile opens binlog file at path.
func OpenFile(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	rd := bufio.NewReader(f)
	magic := make([]byte, len(fileHeader))
	if _, err := io.ReadFull(rd, magic); err != nil || !bytes.Equal(magic, fileHeader) {
		_ = f.Close()
		return nil, errors.Errorf("binlog: %s is not a binlog file", path)
	}
	dec := newDecoder(checksumAlgOff, true)
	dec.logFile = filepath.Base(path)
	return &File{f: f, rd: rd, dec: dec}, nil
}

// NextEvent returns next event in file. It returns io.EOF at end of file.
func (f *File) NextEvent() (Event, error) {
	h := make([]byte, eventHeaderSize)
	if _, err := io.ReadFull(f.rd, h); err != nil {
		return Event{}, err
	}
	size := binary.LittleEndian.Uint32(h[9:])
	if size < eventHeaderSize {
		return Event{}, &DecodeError{EventType(h[4]), 9, ErrMalformedPacket}
	}
	buf := make([]byte, size)
	copy(buf, h)
	if _, err := io.ReadFull(f.rd, buf[eventHeaderSize:]); err != nil {
		return Event{}, unexpectedEOF(err)
	}
	return f.dec.decode(buf)
}

// Close closes the file.
func (f *File) Close() error {
	return f.f.Close()
}
