package binlog

import (
	"fmt"
)

// Status Flags: https://dev.mysql.com/doc/internals/en/status-flags.html
const (
	sessionStateChanged = 0x4000
)

// eofPacket ---

// https://dev.mysql.com/doc/internals/en/packet-EOF_Packet.html

type eofPacket struct {
	warnings    uint16
	statusFlags uint16
}

func (e *eofPacket) decode(r *reader, capabilities uint32) error {
	header := r.int1()
	if r.err != nil {
		return r.err
	}
	if header != eofMarker {
		return fmt.Errorf("eofPacket.decode: got header 0x%02x", header)
	}
	if capabilities&capProtocol41 != 0 && r.more() {
		e.warnings = r.int2()
		e.statusFlags = r.int2()
	}
	return r.err
}

// errPacket ---

// https://dev.mysql.com/doc/internals/en/packet-ERR_Packet.html

type errPacket struct {
	errorCode      uint16
	sqlStateMarker string
	sqlState       string
	errorMessage   string
}

func (e *errPacket) decode(r *reader, capabilities uint32) error {
	header := r.int1()
	if r.err != nil {
		return r.err
	}
	if header != errMarker {
		return fmt.Errorf("errorPacket.decode: got header 0x%02x", header)
	}
	e.errorCode = r.int2()
	if capabilities&capProtocol41 != 0 {
		if b, err := r.peek(); err == nil && b == '#' {
			e.sqlStateMarker = r.string(1)
			e.sqlState = r.string(5)
		}
	}
	e.errorMessage = r.stringEOF()
	return r.err
}

func (e *errPacket) serverError() *ServerError {
	return &ServerError{Code: e.errorCode, State: e.sqlState, Message: e.errorMessage}
}

// decodeServerError converts ERR packet payload into ServerError.
func decodeServerError(payload []byte, capabilities uint32) error {
	ep := errPacket{}
	if err := ep.decode(newReader(payload), capabilities); err != nil {
		return &ProtocolError{"malformed ERR packet: " + err.Error()}
	}
	return ep.serverError()
}

// okPacket ---

// https://dev.mysql.com/doc/internals/en/packet-OK_Packet.html

type okPacket struct {
	affectedRows        uint64
	lastInsertID        uint64
	statusFlags         uint16
	numWarnings         uint16
	info                string
	sessionStateChanges string
}

func (p *okPacket) decode(r *reader, capabilities uint32) error {
	header := r.int1()
	if r.err != nil {
		return r.err
	}
	if header != okMarker {
		return fmt.Errorf("okPacket.decode: got header 0x%02x", header)
	}
	p.affectedRows = r.intN()
	p.lastInsertID = r.intN()
	if capabilities&capProtocol41 != 0 {
		p.statusFlags = r.int2()
		p.numWarnings = r.int2()
	} else if capabilities&capTransactions != 0 {
		p.statusFlags = r.int2()
	}
	if r.err != nil {
		return r.err
	}
	if capabilities&capSessionTrack != 0 {
		p.info = r.stringN()
		if p.statusFlags&sessionStateChanged != 0 {
			p.sessionStateChanges = r.stringN()
		}
	} else {
		p.info = r.stringEOF()
	}
	return r.err
}

// readOkErr reads next packet and expects it to be OK packet.
func (bl *Remote) readOkErr() error {
	p, err := bl.readPacket()
	if err != nil {
		return err
	}
	if len(p) == 0 {
		return ErrMalformedPacket
	}
	switch p[0] {
	case okMarker:
		return nil
	case errMarker:
		return decodeServerError(p, bl.hs.capabilityFlags)
	default:
		return ErrMalformedPacket
	}
}
