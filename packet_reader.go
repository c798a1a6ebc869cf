package binlog

import (
	"fmt"
	"io"
	"net"
	"time"

	"github.com/pkg/errors"
)

const (
	headerSize    = 4
	maxPacketSize = 1<<24 - 1
)

// livenessDelta is added to heartbeat period to get the read deadline
// of the event stream.
const livenessDelta = 10 * time.Second

// readPacket reads one logical packet from rd. Payloads of maxPacketSize
// or more are split by server across consecutive packets; they are
// concatenated here in sequence order.
//
// https://dev.mysql.com/doc/internals/en/sending-more-than-16mbyte.html
func readPacket(rd io.Reader, seq *uint8) ([]byte, error) {
	var payload []byte
	h := make([]byte, headerSize)
	for {
		if _, err := io.ReadFull(rd, h); err != nil {
			if err == io.EOF && payload != nil {
				return nil, io.ErrUnexpectedEOF
			}
			return nil, err
		}
		size := int(uint32(h[0]) | uint32(h[1])<<8 | uint32(h[2])<<16)
		if h[3] != *seq {
			return nil, &ProtocolError{fmt.Sprintf("got packet sequence %d want %d", h[3], *seq)}
		}
		*seq = h[3] + 1
		if payload == nil && size < maxPacketSize {
			payload = make([]byte, size)
			if _, err := io.ReadFull(rd, payload); err != nil {
				return nil, unexpectedEOF(err)
			}
			return payload, nil
		}
		n := len(payload)
		payload = append(payload, make([]byte, size)...)
		if _, err := io.ReadFull(rd, payload[n:]); err != nil {
			return nil, unexpectedEOF(err)
		}
		if size < maxPacketSize {
			return payload, nil
		}
	}
}

func unexpectedEOF(err error) error {
	if err == io.EOF {
		return io.ErrUnexpectedEOF
	}
	return err
}

// packet kinds in event stream, classified by first byte of payload.
const (
	okMarker  = 0x00
	eofMarker = 0xfe
	errMarker = 0xff
)

// readPacket reads next packet from server. A non-zero livenessWindow
// turns a stalled read into LivenessTimeoutError.
func (bl *Remote) readPacket() ([]byte, error) {
	if bl.livenessWindow > 0 {
		if err := bl.conn.SetReadDeadline(time.Now().Add(bl.livenessWindow)); err != nil {
			return nil, &TransportError{"set read deadline", err}
		}
	}
	p, err := readPacket(bl.conn, &bl.seq)
	if err != nil {
		return nil, bl.readErr(err)
	}
	return p, nil
}

func (bl *Remote) readErr(err error) error {
	var pe *ProtocolError
	if errors.As(err, &pe) {
		return err
	}
	var ne net.Error
	if bl.livenessWindow > 0 && errors.As(err, &ne) && ne.Timeout() {
		return &LivenessTimeoutError{bl.livenessWindow}
	}
	return &TransportError{"read", err}
}
