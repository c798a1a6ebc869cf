package binlog

import (
	"strings"
)

// FormatDescriptionEvent is written to the beginning of the each binary log file.
// This event is used as of MySQL 5.0; it supersedes START_EVENT_V3.
//
// https://dev.mysql.com/doc/internals/en/format-description-event.html
type FormatDescriptionEvent struct {
	BinlogVersion          uint16
	ServerVersion          string
	CreateTimestamp        uint32
	EventHeaderLength      uint8
	EventTypeHeaderLengths []byte

	// ChecksumAlg is BINLOG_CHECKSUM_ALG_OFF(0) or BINLOG_CHECKSUM_ALG_CRC32(1).
	// It is 0 for servers older than 5.6.1.
	ChecksumAlg uint8
}

const (
	checksumAlgOff   = 0
	checksumAlgCRC32 = 1
	checksumSize     = 4
)

// decode expects body without header. The returned int is the number of
// trailing checksum bytes of this event.
func (e *FormatDescriptionEvent) decode(r *reader) (int, error) {
	e.BinlogVersion = r.int2()
	e.ServerVersion = r.string(50)
	if i := strings.IndexByte(e.ServerVersion, 0); i != -1 {
		e.ServerVersion = e.ServerVersion[:i]
	}
	e.CreateTimestamp = r.int4()
	e.EventHeaderLength = r.int1()
	if r.err != nil {
		return 0, r.err
	}
	lengths := r.bytesEOF()
	if int(FORMAT_DESCRIPTION_EVENT) > len(lengths) {
		return 0, ErrMalformedPacket
	}
	// post header length of FDE itself tells where the lengths array ends
	fdeSize := int(lengths[FORMAT_DESCRIPTION_EVENT-1])
	n := fdeSize - (2 + 50 + 4 + 1)
	if n <= 0 || n > len(lengths) {
		n = len(lengths)
	}
	e.EventTypeHeaderLengths = lengths[:n]
	trailer := lengths[n:]
	checksum := 0
	if len(trailer) >= 1 {
		e.ChecksumAlg = trailer[0]
		checksum = len(trailer) - 1
	}
	return checksum, nil
}

func (e *FormatDescriptionEvent) postHeaderLength(typ EventType, def int) int {
	if typ > 0 && len(e.EventTypeHeaderLengths) >= int(typ) {
		return int(e.EventTypeHeaderLengths[typ-1])
	}
	return def
}

// RotateEvent is written when mysqld switches to a new binary log file.
// This occurs when someone issues a FLUSH LOGS statement or
// the current binary log file becomes too large.
// The maximum size is determined by max_binlog_size.
//
// https://dev.mysql.com/doc/internals/en/rotate-event.html
type RotateEvent struct {
	Position   uint64
	NextBinlog string
}

func (e *RotateEvent) decode(r *reader) error {
	e.Position = r.int8()
	e.NextBinlog = r.stringEOF()
	return r.err
}

// QueryEvent is written when an updating statement is done.
// The query event is used to send text query right the binlog.
//
// https://dev.mysql.com/doc/internals/en/query-event.html
type QueryEvent struct {
	SlaveProxyID  uint32
	ExecutionTime uint32
	ErrorCode     uint16
	StatusVars    []byte
	Schema        string
	Query         string
}

func (e *QueryEvent) decode(r *reader) error {
	e.SlaveProxyID = r.int4()
	e.ExecutionTime = r.int4()
	schemaLen := r.int1()
	e.ErrorCode = r.int2()
	statusVarsLen := r.int2()
	if r.err != nil {
		return r.err
	}
	e.StatusVars = r.bytes(int(statusVarsLen))
	e.Schema = r.string(int(schemaLen))
	r.skip(1)
	e.Query = r.stringEOF()
	return r.err
}

// XidEvent is generated for a commit of a transaction that modifies
// one or more tables of an XA-capable storage engine.
//
// https://dev.mysql.com/doc/internals/en/xid-event.html
type XidEvent struct {
	Xid uint64
}

func (e *XidEvent) decode(r *reader) error {
	e.Xid = r.int8()
	return r.err
}

// IncidentEvent used to log an out of the ordinary event that
// occurred on the master. It notifies the slave that something
// happened on the master that might cause data to be in an
// inconsistent state.
//
// https://dev.mysql.com/doc/internals/en/incident-event.html
type IncidentEvent struct {
	Type    uint16
	Message string
}

func (e *IncidentEvent) decode(r *reader) error {
	e.Type = r.int2()
	size := r.int1()
	e.Message = r.string(int(size))
	return r.err
}

// RandEvent is written every time a statement uses the RAND() function.
// It precedes other events for the statement. Indicates the seed values
// to use for generating a random number with RAND() in the next statement.
// This is written only before a QUERY_EVENT and is not used with row-based logging.
//
// https://dev.mysql.com/doc/internals/en/rand-event.html
type RandEvent struct {
	Seed1 uint64
	Seed2 uint64
}

func (e *RandEvent) decode(r *reader) error {
	e.Seed1 = r.int8()
	e.Seed2 = r.int8()
	return r.err
}

// StopEvent signals last event in the file.
//
// https://dev.mysql.com/doc/internals/en/stop-event.html
type StopEvent struct{}

// IntVarEvent written every time a statement uses an AUTO_INCREMENT column
// or the LAST_INSERT_ID() function. It precedes other events for the statement.
// This is written only before a QUERY_EVENT and is not used with row-based logging.
//
// https://dev.mysql.com/doc/internals/en/intvar-event.html
type IntVarEvent struct {
	// Type indicates subtype.
	//
	// INSERT_ID_EVENT(0x02) indicates the value to use for an AUTO_INCREMENT column in the next statement.
	//
	// LAST_INSERT_ID_EVENT(0x01) indicates the value to use for the LAST_INSERT_ID() function in the next statement.
	Type  uint8
	Value uint64
}

func (e *IntVarEvent) decode(r *reader) error {
	e.Type = r.int1()
	e.Value = r.int8()
	return r.err
}

// UserVarEvent is written every time a statement uses a user variable.
// It precedes other events for the statement. Indicates the value to
// use for the user variable in the next statement. This is written only
// before a QUERY_EVENT and is not used with row-based logging.
//
// https://dev.mysql.com/doc/internals/en/user-var-event.html
type UserVarEvent struct {
	Name     string
	Null     bool
	Type     uint8
	Charset  uint32
	Value    []byte
	Unsigned bool
}

func (e *UserVarEvent) decode(r *reader) error {
	nameLen := r.int4()
	if r.err != nil {
		return r.err
	}
	e.Name = r.string(int(nameLen))
	e.Null = r.int1() != 0
	if r.err != nil {
		return r.err
	}
	if !e.Null {
		e.Type = r.int1()
		e.Charset = r.int4()
		valueLen := r.int4()
		if r.err != nil {
			return r.err
		}
		e.Value = r.bytes(int(valueLen))
		if r.more() {
			e.Unsigned = r.int1()&0x01 != 0
		}
	}
	return r.err
}

// HeartbeatEvent sent by a master to a slave to let the slave
// know that the master is still alive. Not written to log files.
//
// https://dev.mysql.com/doc/internals/en/heartbeat-event.html
type HeartbeatEvent struct {
	LogFile string
}

func (e *HeartbeatEvent) decode(r *reader) error {
	e.LogFile = r.stringEOF()
	return r.err
}

// decodeV2 decodes HEARTBEAT_LOG_EVENT_V2 of mysql 8.0.26+, whose
// body is made of (type, length, value) fields.
func (e *HeartbeatEvent) decodeV2(r *reader) error {
	for r.more() {
		typ := r.intN()
		if typ == 0 { // end mark
			break
		}
		size := r.intN()
		if r.err != nil {
			break
		}
		switch typ {
		case 1: // log filename
			e.LogFile = r.string(int(size))
		default:
			r.skip(int(size))
		}
	}
	return r.err
}

// RowsQueryEvent carries the statement that produced following rows events.
// system variable binlog_rows_query_log_events must be ON for this event
// https://dev.mysql.com/doc/refman/5.7/en/replication-options-binary-log.html#sysvar_binlog_rows_query_log_events
type RowsQueryEvent struct {
	Query string
}

func (e *RowsQueryEvent) decode(r *reader) error {
	r.int1() // length ignored
	e.Query = r.stringEOF()
	return r.err
}

// GTIDEvent precedes each transaction when gtid_mode is ON.
//
// https://dev.mysql.com/doc/dev/mysql-server/latest/classGtid__event.html
type GTIDEvent struct {
	Flags          uint8 // 1 means transaction may have changes logged with SBR
	GTID           MySQLGTID
	LastCommitted  int64 // logical clock, 0 if absent
	SequenceNumber int64
}

func (e *GTIDEvent) decode(r *reader) error {
	e.Flags = r.int1()
	copy(e.GTID.SID[:], r.bytesInternal(16))
	e.GTID.GNO = int64(r.int8())
	if r.err == nil && r.remaining() >= 17 && r.int1() == 2 { // LOGICAL_TIMESTAMP_TYPECODE
		e.LastCommitted = int64(r.int8())
		e.SequenceNumber = int64(r.int8())
	}
	return r.err
}

// AnonymousGTIDEvent precedes each transaction when gtid_mode is OFF.
type AnonymousGTIDEvent struct {
	GTIDEvent
}

// PreviousGTIDsEvent is written at the beginning of each binlog file.
// It holds the set of gtids executed in all previous binlog files.
type PreviousGTIDsEvent struct {
	Set MySQLGTIDSet
}

func (e *PreviousGTIDsEvent) decode(r *reader) error {
	set, err := decodeSIDBlock(r)
	e.Set = set
	return err
}

// mariadb events ---

// MariaDB GTID flags.
const (
	mariadbFlagStandalone    = 0x01
	mariadbFlagGroupCommitID = 0x02
)

// MariaDBGTIDEvent starts an event group in MariaDB. When Standalone is
// false the group is a transaction terminated by XidEvent or "COMMIT" query.
//
// https://mariadb.com/kb/en/gtid_event/
type MariaDBGTIDEvent struct {
	GTID        MariaDBGTID
	Flags       uint8
	CommitID    uint64
	Standalone  bool
	GroupCommit bool
}

func (e *MariaDBGTIDEvent) decode(r *reader, serverID uint32) error {
	e.GTID.Sequence = r.int8()
	e.GTID.Domain = r.int4()
	e.GTID.ServerID = serverID
	e.Flags = r.int1()
	e.Standalone = e.Flags&mariadbFlagStandalone != 0
	if r.err == nil && e.Flags&mariadbFlagGroupCommitID != 0 {
		e.GroupCommit = true
		e.CommitID = r.int8()
	}
	return r.err
}

// MariaDBGTIDListEvent is logged at the start of every binlog file with
// the binlog state at that point.
//
// https://mariadb.com/kb/en/gtid_list_event/
type MariaDBGTIDListEvent struct {
	Flags uint8
	List  []MariaDBGTID
}

func (e *MariaDBGTIDListEvent) decode(r *reader) error {
	v := r.int4()
	count := v & 0x0fffffff
	e.Flags = uint8(v >> 28)
	for i := uint32(0); i < count && r.err == nil; i++ {
		var g MariaDBGTID
		g.Domain = r.int4()
		g.ServerID = r.int4()
		g.Sequence = r.int8()
		e.List = append(e.List, g)
	}
	return r.err
}

// MariaDBBinlogCheckpointEvent names the oldest binlog file still
// needed for crash recovery.
//
// https://mariadb.com/kb/en/binlog_checkpoint_event/
type MariaDBBinlogCheckpointEvent struct {
	LogFile string
}

func (e *MariaDBBinlogCheckpointEvent) decode(r *reader) error {
	n := r.int4()
	e.LogFile = r.string(int(n))
	return r.err
}

// MariaDBAnnotateRowsEvent carries the statement that produced following
// rows events, when binlog_annotate_row_events is ON.
//
// https://mariadb.com/kb/en/annotate_rows_event/
type MariaDBAnnotateRowsEvent struct {
	Query string
}

func (e *MariaDBAnnotateRowsEvent) decode(r *reader) error {
	e.Query = r.stringEOF()
	return r.err
}

// UnknownEvent holds body of event that is not decoded by this package.
// Servers add new event types over time; they are passed through as is.
type UnknownEvent struct {
	Raw []byte
}
