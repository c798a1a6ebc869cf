package binlog

import (
	"fmt"
	"time"

	"github.com/pkg/errors"
)

// ErrMalformedPacket used to indicate malformed packet.
var ErrMalformedPacket = errors.New("malformed packet")

// ErrChecksumMismatch is returned when CRC32 of an event does not match
// its trailing checksum.
var ErrChecksumMismatch = errors.New("binlog: event checksum mismatch")

// ConfigError is returned by NewClient when Options contain an
// unsupported combination. It is reported before any connection attempt.
type ConfigError struct {
	Option string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("binlog: invalid option %s: %s", e.Option, e.Reason)
}

// UnsupportedModeError is returned during negotiation when the requested
// starting strategy cannot be served by the connected server.
type UnsupportedModeError struct {
	Flavor string
	Reason string
}

func (e *UnsupportedModeError) Error() string {
	return fmt.Sprintf("binlog: %s server does not support gtid replication: %s", e.Flavor, e.Reason)
}

// TransportError wraps failures of the underlying connection:
// dial, tls handshake, socket read or write.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("binlog: %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ProtocolError reports traffic that does not follow the replication
// protocol: bad packet sequence, unexpected marker and such.
type ProtocolError struct {
	Msg string
}

func (e *ProtocolError) Error() string {
	return "binlog: protocol error: " + e.Msg
}

// ServerError is the ERR packet sent by server. Code and Message are
// carried verbatim.
type ServerError struct {
	Code    uint16
	State   string
	Message string
}

func (e *ServerError) Error() string {
	if e.State == "" {
		return fmt.Sprintf("binlog: server error %d: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("binlog: server error %d (%s): %s", e.Code, e.State, e.Message)
}

// As lets ServerError match *ProtocolError. An ERR packet in place of a
// binlog event ends the stream like any other protocol failure.
func (e *ServerError) As(target interface{}) bool {
	pe, ok := target.(**ProtocolError)
	if !ok {
		return false
	}
	*pe = &ProtocolError{fmt.Sprintf("server error %d (%s): %s", e.Code, e.State, e.Message)}
	return true
}

// DecodeError reports an attempt to read past the end of an event or
// packet. It means the client and server disagree about the wire format.
type DecodeError struct {
	EventType EventType
	Offset    int
	Err       error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("binlog: decoding %s event at offset %d: %v", e.EventType, e.Offset, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// MissingTableMapError is returned when a rows event refers to a table id
// for which no TableMapEvent was seen in the current session.
type MissingTableMapError struct {
	TableID uint64
}

func (e *MissingTableMapError) Error() string {
	return fmt.Sprintf("binlog: no TableMapEvent for tableID %d", e.TableID)
}

// LivenessTimeoutError is returned when server sent nothing, not even a
// heartbeat, within the liveness window.
type LivenessTimeoutError struct {
	Window time.Duration
}

func (e *LivenessTimeoutError) Error() string {
	return fmt.Sprintf("binlog: no packet received within %s", e.Window)
}

// Timeout reports true, so that the error satisfies net.Error style checks.
func (e *LivenessTimeoutError) Timeout() bool { return true }
