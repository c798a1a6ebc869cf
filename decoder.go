package binlog

import (
	"encoding/binary"
	"hash/crc32"

	"github.com/golang/glog"
	"github.com/pkg/errors"
)

// decoder turns raw binlog events into Events. It keeps state that
// later events depend on: the format description, the checksum in use,
// table maps of the current file and name of the current file.
type decoder struct {
	fde      FormatDescriptionEvent
	checksum int // trailing checksum bytes of non FDE events
	verify   bool
	tables   map[uint64]*TableMapEvent
	logFile  string
}

func newDecoder(checksumAlg uint8, verify bool) *decoder {
	d := &decoder{
		verify: verify,
		tables: make(map[uint64]*TableMapEvent),
		fde: FormatDescriptionEvent{
			BinlogVersion:     4,
			EventHeaderLength: eventHeaderSize,
		},
	}
	if checksumAlg == checksumAlgCRC32 {
		d.checksum = checksumSize
	}
	return d
}

// decode decodes one event. data starts at the event header and
// includes the checksum trailer, if any.
func (d *decoder) decode(data []byte) (Event, error) {
	var e Event
	r := newReader(data)
	if err := e.Header.decode(r); err != nil {
		return e, &DecodeError{UNKNOWN_EVENT, len(data), err}
	}
	h := &e.Header
	if h.EventSize < eventHeaderSize || int(h.EventSize) > len(data) {
		return e, &DecodeError{h.EventType, len(data), ErrMalformedPacket}
	}
	data = data[:h.EventSize]
	h.LogFile = d.logFile

	if h.EventType == FORMAT_DESCRIPTION_EVENT {
		fde := new(FormatDescriptionEvent)
		checksum, err := fde.decode(newReader(data[eventHeaderSize:]))
		if err != nil {
			return e, d.decodeError(h.EventType, err)
		}
		if fde.ChecksumAlg == checksumAlgCRC32 && checksum >= checksumSize {
			if err := d.verifyChecksum(data); err != nil {
				return e, d.decodeError(h.EventType, err)
			}
			d.checksum = checksumSize
		} else {
			d.checksum = 0
		}
		d.fde = *fde
		// table ids are scoped to a binlog file
		d.tables = make(map[uint64]*TableMapEvent)
		glog.V(2).Infof("binlog: format description: server=%s checksum=%d", fde.ServerVersion, fde.ChecksumAlg)
		e.Data = fde
		return e, nil
	}

	if d.checksum > 0 {
		if len(data) < eventHeaderSize+d.checksum {
			return e, &DecodeError{h.EventType, len(data), ErrMalformedPacket}
		}
		if err := d.verifyChecksum(data); err != nil {
			return e, d.decodeError(h.EventType, err)
		}
		data = data[:len(data)-d.checksum]
	}
	var err error
	e.Data, err = d.decodeBody(e.Header, data[eventHeaderSize:])
	return e, err
}

func (d *decoder) verifyChecksum(data []byte) error {
	if !d.verify {
		return nil
	}
	n := len(data) - checksumSize
	if crc32.ChecksumIEEE(data[:n]) != binary.LittleEndian.Uint32(data[n:]) {
		return ErrChecksumMismatch
	}
	return nil
}

func (d *decoder) decodeError(typ EventType, err error) error {
	var de *DecodeError
	if errors.As(err, &de) {
		return err
	}
	var me *MissingTableMapError
	if errors.As(err, &me) {
		return err
	}
	return &DecodeError{EventType: typ, Err: err}
}

// decodeBody decodes body of event without header and checksum.
func (d *decoder) decodeBody(h EventHeader, body []byte) (interface{}, error) {
	r := newReader(body)
	var err error
	var data interface{}
	switch h.EventType {
	case ROTATE_EVENT:
		e := new(RotateEvent)
		if err = e.decode(r); err == nil {
			if d.logFile != e.NextBinlog {
				d.tables = make(map[uint64]*TableMapEvent)
			}
			d.logFile = e.NextBinlog
		}
		data = e
	case QUERY_EVENT:
		e := new(QueryEvent)
		err = e.decode(r)
		data = e
	case XID_EVENT:
		e := new(XidEvent)
		err = e.decode(r)
		data = e
	case STOP_EVENT:
		data = new(StopEvent)
	case INCIDENT_EVENT:
		e := new(IncidentEvent)
		err = e.decode(r)
		data = e
	case RAND_EVENT:
		e := new(RandEvent)
		err = e.decode(r)
		data = e
	case INTVAR_EVENT:
		e := new(IntVarEvent)
		err = e.decode(r)
		data = e
	case USER_VAR_EVENT:
		e := new(UserVarEvent)
		err = e.decode(r)
		data = e
	case HEARTBEAT_EVENT:
		e := new(HeartbeatEvent)
		err = e.decode(r)
		data = e
	case HEARTBEAT_EVENTv2:
		e := new(HeartbeatEvent)
		err = e.decodeV2(r)
		data = e
	case ROWS_QUERY_EVENT:
		e := new(RowsQueryEvent)
		err = e.decode(r)
		data = e
	case GTID_EVENT:
		e := new(GTIDEvent)
		err = e.decode(r)
		data = e
	case ANONYMOUS_GTID_EVENT:
		e := new(AnonymousGTIDEvent)
		err = e.GTIDEvent.decode(r)
		data = e
	case PREVIOUS_GTIDS_EVENT:
		e := new(PreviousGTIDsEvent)
		err = e.decode(r)
		data = e
	case TABLE_MAP_EVENT:
		e := new(TableMapEvent)
		if err = e.decode(r, &d.fde); err == nil {
			d.tables[e.TableID] = e
		}
		data = e
	case WRITE_ROWS_EVENTv0, WRITE_ROWS_EVENTv1, WRITE_ROWS_EVENTv2:
		e := new(WriteRowsEvent)
		err = e.decode(r, h.EventType, &d.fde, d.tables)
		data = e
	case UPDATE_ROWS_EVENTv0, UPDATE_ROWS_EVENTv1, UPDATE_ROWS_EVENTv2, PARTIAL_UPDATE_ROWS_EVENT:
		e := new(UpdateRowsEvent)
		err = e.decode(r, h.EventType, &d.fde, d.tables)
		data = e
	case DELETE_ROWS_EVENTv0, DELETE_ROWS_EVENTv1, DELETE_ROWS_EVENTv2:
		e := new(DeleteRowsEvent)
		err = e.decode(r, h.EventType, &d.fde, d.tables)
		data = e
	case TRANSACTION_PAYLOAD_EVENT:
		e := new(TransactionPayloadEvent)
		err = e.decode(r, d.withoutChecksum())
		data = e
	case MARIADB_GTID_EVENT:
		e := new(MariaDBGTIDEvent)
		err = e.decode(r, h.ServerID)
		data = e
	case GTID_LIST_EVENT:
		e := new(MariaDBGTIDListEvent)
		err = e.decode(r)
		data = e
	case BINLOG_CHECKPOINT_EVENT:
		e := new(MariaDBBinlogCheckpointEvent)
		err = e.decode(r)
		data = e
	case ANNOTATE_ROWS_EVENT:
		e := new(MariaDBAnnotateRowsEvent)
		err = e.decode(r)
		data = e
	default:
		data = &UnknownEvent{Raw: r.bytesEOF()}
	}
	if err != nil {
		glog.V(1).Infof("binlog: decoding %s at %s:%d: %v", h.EventType, h.LogFile, h.NextPos, err)
		if r.err != nil && err == r.err {
			return data, &DecodeError{h.EventType, r.off, err}
		}
		return data, d.decodeError(h.EventType, err)
	}
	return data, nil
}

// withoutChecksum returns view of d for events embedded in a
// transaction payload, which carry no checksum. Table maps are shared.
func (d *decoder) withoutChecksum() *decoder {
	inner := *d
	inner.checksum = 0
	return &inner
}
