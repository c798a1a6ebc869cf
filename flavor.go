package binlog

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/golang/glog"
	"github.com/pkg/errors"
)

// flavor hides the differences between MySQL and MariaDB in starting
// a binlog dump and querying the current position.
type flavor interface {
	name() string

	// masterStatus returns the current binlog file, position and
	// executed transactions of the server.
	masterStatus(bl *Remote) (file string, pos uint64, gtids GTIDSet, err error)

	// checkGTIDMode returns UnsupportedModeError when the server cannot
	// stream from a transaction set.
	checkGTIDMode(bl *Remote) error

	// prepareDump runs session settings needed before any dump command.
	prepareDump(bl *Remote) error

	sendBinlogDump(bl *Remote, serverID uint32, file string, pos uint64, nonBlock bool) error
	sendGTIDDump(bl *Remote, serverID uint32, gtids GTIDSet, nonBlock bool) error
}

func newFlavor(name string) (flavor, error) {
	switch name {
	case FlavorMySQL:
		return mysqlFlavor{}, nil
	case FlavorMariaDB:
		return mariadbFlavor{}, nil
	}
	return nil, errors.Errorf("binlog: unknown flavor %q", name)
}

// binlog dump flags.
const (
	dumpNonBlock    = 0x01
	dumpThroughGTID = 0x04
)

// https://dev.mysql.com/doc/internals/en/com-binlog-dump.html

type comBinlogDumpCmd struct {
	binlogPos      uint32
	flags          uint16
	serverID       uint32
	binlogFilename string
}

func (e comBinlogDumpCmd) encode(w *writer) error {
	w.int1(comBinlogDump)
	w.int4(e.binlogPos)
	w.int2(e.flags)
	w.int4(e.serverID)
	w.string(e.binlogFilename)
	return w.err
}

// https://dev.mysql.com/doc/internals/en/com-binlog-dump-gtid.html

type comBinlogDumpGTIDCmd struct {
	flags          uint16
	serverID       uint32
	binlogFilename string
	binlogPos      uint64
	gtids          MySQLGTIDSet
}

func (e comBinlogDumpGTIDCmd) encode(w *writer) error {
	w.int1(comBinlogDumpGTID)
	w.int2(e.flags)
	w.int4(e.serverID)
	w.int4(uint32(len(e.binlogFilename)))
	w.string(e.binlogFilename)
	w.int8(e.binlogPos)
	// server reads the sid block even without dumpThroughGTID
	w.int4(uint32(e.gtids.sidBlockSize()))
	return e.gtids.encodeSIDBlock(w)
}

func dumpFlags(nonBlock bool) uint16 {
	if nonBlock {
		return dumpNonBlock
	}
	return 0
}

// mysql ---

type mysqlFlavor struct{}

func (mysqlFlavor) name() string { return FlavorMySQL }

func (mysqlFlavor) masterStatus(bl *Remote) (string, uint64, GTIDSet, error) {
	rows, err := bl.queryRows(`show master status`)
	if err != nil {
		// renamed in 8.4
		var se *ServerError
		if !errors.As(err, &se) {
			return "", 0, nil, err
		}
		if rows, err = bl.queryRows(`show binary log status`); err != nil {
			return "", 0, nil, err
		}
	}
	if len(rows) == 0 {
		return "", 0, MySQLGTIDSet{}, nil
	}
	file, pos, err := filePos(rows[0])
	if err != nil {
		return "", 0, nil, err
	}
	gtids := MySQLGTIDSet{}
	if len(rows[0]) >= 5 {
		if s, ok := rows[0][4].(string); ok {
			// multi source sets are printed across lines
			s = strings.ReplaceAll(s, "\n", "")
			if gtids, err = ParseMySQLGTIDSet(s); err != nil {
				return "", 0, nil, err
			}
		}
	}
	return file, pos, gtids, nil
}

func (mysqlFlavor) checkGTIDMode(bl *Remote) error {
	sv, err := newServerVersion(bl.hs.serverVersion)
	if err != nil {
		return err
	}
	if sv.lt(serverVersion{5, 6, 5}) {
		return &UnsupportedModeError{FlavorMySQL, "server version " + bl.hs.serverVersion + " is older than 5.6.5"}
	}
	rows, err := bl.queryRows(`select @@global.gtid_mode`)
	if err != nil {
		return err
	}
	if len(rows) == 0 || rows[0][0] != "ON" {
		return &UnsupportedModeError{FlavorMySQL, fmt.Sprintf("gtid_mode is %v", rows)}
	}
	return nil
}

func (mysqlFlavor) prepareDump(bl *Remote) error { return nil }

func (mysqlFlavor) sendBinlogDump(bl *Remote, serverID uint32, file string, pos uint64, nonBlock bool) error {
	bl.seq = 0
	if pos > math.MaxUint32 {
		// COM_BINLOG_DUMP has no room for positions past 4GiB
		return bl.write(comBinlogDumpGTIDCmd{
			flags:          dumpFlags(nonBlock),
			serverID:       serverID,
			binlogFilename: file,
			binlogPos:      pos,
		})
	}
	return bl.write(comBinlogDumpCmd{
		binlogPos:      uint32(pos),
		flags:          dumpFlags(nonBlock),
		serverID:       serverID,
		binlogFilename: file,
	})
}

func (mysqlFlavor) sendGTIDDump(bl *Remote, serverID uint32, gtids GTIDSet, nonBlock bool) error {
	set, ok := gtids.(MySQLGTIDSet)
	if !ok {
		return &UnsupportedModeError{FlavorMySQL, fmt.Sprintf("cannot stream from %s gtid set", gtids.Flavor())}
	}
	bl.seq = 0
	return bl.write(comBinlogDumpGTIDCmd{
		flags:     dumpFlags(nonBlock) | dumpThroughGTID,
		serverID:  serverID,
		binlogPos: 4,
		gtids:     set,
	})
}

// mariadb ---

type mariadbFlavor struct{}

func (mariadbFlavor) name() string { return FlavorMariaDB }

func (mariadbFlavor) masterStatus(bl *Remote) (string, uint64, GTIDSet, error) {
	rows, err := bl.queryRows(`show master status`)
	if err != nil {
		return "", 0, nil, err
	}
	var file string
	var pos uint64
	if len(rows) > 0 {
		if file, pos, err = filePos(rows[0]); err != nil {
			return "", 0, nil, err
		}
	}
	rows, err = bl.queryRows(`select @@global.gtid_binlog_pos`)
	if err != nil {
		return "", 0, nil, err
	}
	if len(rows) != 1 || len(rows[0]) != 1 {
		return "", 0, nil, &ProtocolError{fmt.Sprintf("unexpected result for gtid_binlog_pos: %v", rows)}
	}
	s, _ := rows[0][0].(string)
	list, err := ParseMariaDBGTIDList(s)
	if err != nil {
		return "", 0, nil, err
	}
	return file, pos, list, nil
}

func (mariadbFlavor) checkGTIDMode(bl *Remote) error {
	sv, err := newServerVersion(bl.hs.serverVersion)
	if err != nil {
		return err
	}
	if sv.lt(serverVersion{10, 0, 2}) {
		return &UnsupportedModeError{FlavorMariaDB, "server version " + bl.hs.serverVersion + " is older than 10.0.2"}
	}
	return nil
}

func (mariadbFlavor) prepareDump(bl *Remote) error {
	// MARIA_SLAVE_CAPABILITY_GTID; without it the server rewrites
	// GTID events into BEGIN queries.
	if err := bl.exec(`SET @mariadb_slave_capability=4`); err != nil {
		return errors.Wrap(err, "set @mariadb_slave_capability")
	}
	return nil
}

func (mariadbFlavor) sendBinlogDump(bl *Remote, serverID uint32, file string, pos uint64, nonBlock bool) error {
	if pos > math.MaxUint32 {
		return &ProtocolError{fmt.Sprintf("binlog position %d does not fit COM_BINLOG_DUMP", pos)}
	}
	bl.seq = 0
	return bl.write(comBinlogDumpCmd{
		binlogPos:      uint32(pos),
		flags:          dumpFlags(nonBlock),
		serverID:       serverID,
		binlogFilename: file,
	})
}

func (f mariadbFlavor) sendGTIDDump(bl *Remote, serverID uint32, gtids GTIDSet, nonBlock bool) error {
	list, ok := gtids.(MariaDBGTIDList)
	if !ok {
		return &UnsupportedModeError{FlavorMariaDB, fmt.Sprintf("cannot stream from %s gtid set", gtids.Flavor())}
	}
	// start position is given by @slave_connect_state; file and
	// position of dump command are ignored.
	q := fmt.Sprintf("SET @slave_connect_state='%s'", list)
	if err := bl.exec(q); err != nil {
		return errors.Wrap(err, "set @slave_connect_state")
	}
	if err := bl.exec(`SET @slave_gtid_strict_mode=1`); err != nil {
		return errors.Wrap(err, "set @slave_gtid_strict_mode")
	}
	glog.V(1).Infof("binlog: mariadb slave_connect_state=%s", list)
	return f.sendBinlogDump(bl, serverID, "", 4, nonBlock)
}

// filePos extracts File and Position columns of master status row.
func filePos(row []interface{}) (string, uint64, error) {
	if len(row) < 2 {
		return "", 0, &ProtocolError{"master status has less than 2 columns"}
	}
	file, _ := row[0].(string)
	s, _ := row[1].(string)
	pos, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return "", 0, errors.Wrapf(err, "invalid master status position %q", s)
	}
	return file, pos, nil
}
