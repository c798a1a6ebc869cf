package binlog

import (
	"github.com/klauspost/compress/zstd"
	"github.com/pkg/errors"
)

// TransactionPayloadEvent carries a whole transaction, compressed when
// binlog_transaction_compression is ON. Its inner events are decoded
// into Events; they have no checksums of their own.
//
// https://dev.mysql.com/doc/dev/mysql-server/latest/classbinary__log_1_1Transaction__payload__event.html
type TransactionPayloadEvent struct {
	CompressionType  uint64
	PayloadSize      uint64
	UncompressedSize uint64
	Events           []Event
}

// payload field types.
const (
	payloadEnd              = 0
	payloadSize             = 1
	payloadCompressionType  = 2
	payloadUncompressedSize = 3
)

// compression types.
const (
	CompressionZSTD = 0
	CompressionNone = 255
)

func (e *TransactionPayloadEvent) decode(r *reader, d *decoder) error {
	for r.more() {
		typ := r.intN()
		if typ == payloadEnd {
			break
		}
		size := r.intN()
		if r.err != nil {
			return r.err
		}
		field := newReader(r.bytesInternal(int(size)))
		if r.err != nil {
			return r.err
		}
		switch typ {
		case payloadSize:
			e.PayloadSize = field.intN()
		case payloadCompressionType:
			e.CompressionType = field.intN()
		case payloadUncompressedSize:
			e.UncompressedSize = field.intN()
		}
		if field.err != nil {
			return field.err
		}
	}
	if r.err != nil {
		return r.err
	}

	payload := r.bytesEOFInternal()
	if e.PayloadSize != 0 && uint64(len(payload)) > e.PayloadSize {
		payload = payload[:e.PayloadSize]
	}
	switch e.CompressionType {
	case CompressionNone:
	case CompressionZSTD:
		dec, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
		if err != nil {
			return err
		}
		defer dec.Close()
		if payload, err = dec.DecodeAll(payload, nil); err != nil {
			return errors.Wrap(err, "decompress transaction payload")
		}
	default:
		return errors.Errorf("unsupported transaction payload compression %d", e.CompressionType)
	}

	for len(payload) > 0 {
		if len(payload) < eventHeaderSize {
			return ErrMalformedPacket
		}
		hr := newReader(payload)
		var h EventHeader
		if err := h.decode(hr); err != nil {
			return err
		}
		if h.EventSize < eventHeaderSize || int(h.EventSize) > len(payload) {
			return ErrMalformedPacket
		}
		h.LogFile = d.logFile
		data, err := d.decodeBody(h, payload[eventHeaderSize:h.EventSize])
		if err != nil {
			return err
		}
		e.Events = append(e.Events, Event{h, data})
		payload = payload[h.EventSize:]
	}
	return nil
}
