package binlog

import (
	"context"
	"crypto/rsa"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"github.com/golang/glog"
)

// Remote represents connection to MySQL or MariaDB server.
type Remote struct {
	conn net.Conn
	seq  uint8
	hs   handshake

	pubKey   *rsa.PublicKey
	authFlow []string

	flavor flavor

	// binlog related
	livenessWindow time.Duration
	checksumAlg    uint8 // negotiated binlog_checksum
	verifyChecksum bool
	dec            *decoder
}

// Dial connects to the server specified and reads its handshake.
// ctx bounds the connect and the handshake only.
func Dial(ctx context.Context, network, address string) (*Remote, error) {
	d := net.Dialer{KeepAlive: 30 * time.Second}
	conn, err := d.DialContext(ctx, network, address)
	if err != nil {
		return nil, &TransportError{"dial", err}
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	bl := &Remote{conn: conn, verifyChecksum: true}
	p, err := bl.readPacket()
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	if err = bl.hs.decode(newReader(p)); err != nil {
		_ = conn.Close()
		return nil, err
	}
	// unset the features we dont support
	bl.hs.capabilityFlags &= ^uint32(capSessionTrack | capDeprecateEOF)
	glog.V(1).Infof("binlog: connected to %s, server %s, connection %d", address, bl.hs.serverVersion, bl.hs.connectionID)
	return bl, nil
}

// ClearDeadline removes deadline set by Dial from its context.
func (bl *Remote) ClearDeadline() error {
	return bl.conn.SetDeadline(time.Time{})
}

// IsSSLSupported tells whether server supports SSL.
func (bl *Remote) IsSSLSupported() bool {
	return bl.hs.capabilityFlags&capSSL != 0
}

// UpgradeSSL upgrades current connection to SSL. This should be done
// before Authenticate call.
func (bl *Remote) UpgradeSSL(config *tls.Config) error {
	err := bl.write(sslRequest{
		capabilityFlags: capLongFlag | capSecureConnection | capTransactions,
		maxPacketSize:   maxPacketSize,
		characterSet:    bl.hs.characterSet,
	})
	if err != nil {
		return err
	}
	conn := tls.Client(bl.conn, config)
	if err := conn.Handshake(); err != nil {
		return &TransportError{"tls handshake", err}
	}
	bl.conn = conn
	return nil
}

// ServerVersion returns version string reported by server.
func (bl *Remote) ServerVersion() string {
	return bl.hs.serverVersion
}

// Flavor returns FlavorMySQL or FlavorMariaDB.
func (bl *Remote) Flavor() string {
	if bl.flavor != nil {
		return bl.flavor.name()
	}
	return detectFlavor(bl.hs.serverVersion)
}

// SetFlavor overrides flavor detected from server version.
func (bl *Remote) SetFlavor(name string) error {
	f, err := newFlavor(name)
	if err != nil {
		return err
	}
	bl.flavor = f
	return nil
}

func (bl *Remote) getFlavor() flavor {
	if bl.flavor == nil {
		bl.flavor, _ = newFlavor(detectFlavor(bl.hs.serverVersion))
	}
	return bl.flavor
}

// ListFiles lists the binary log files on the server,
// in the order they were created. It is equivalent to
// `SHOW BINARY LOGS` statement.
func (bl *Remote) ListFiles() ([]string, error) {
	rows, err := bl.queryRows(`show binary logs`)
	if err != nil {
		return nil, err
	}
	files := make([]string, len(rows))
	for i := range files {
		files[i], _ = rows[i][0].(string)
	}
	return files, nil
}

// MasterStatus provides current binlog file and position of the server
// along with the transactions it has executed.
func (bl *Remote) MasterStatus() (file string, pos uint64, gtids GTIDSet, err error) {
	return bl.getFlavor().masterStatus(bl)
}

// SetHeartbeatPeriod configures the interval to send HeartbeatEvent in absence of data.
// This avoids connection timeout occurring in the absence of data. Setting interval to 0
// disables heartbeats altogether.
//
// With non-zero period, NextEvent fails with LivenessTimeoutError when nothing
// arrives within period plus ten seconds.
func (bl *Remote) SetHeartbeatPeriod(d time.Duration) error {
	if err := bl.exec(fmt.Sprintf("SET @master_heartbeat_period=%d", d.Nanoseconds())); err != nil {
		return err
	}
	bl.livenessWindow = 0
	if d > 0 {
		bl.livenessWindow = d + livenessDelta
	}
	return nil
}

// SetVerifyChecksum controls whether CRC32 of events is checked.
// It is on by default.
func (bl *Remote) SetVerifyChecksum(v bool) {
	bl.verifyChecksum = v
}

func (bl *Remote) fetchBinlogChecksum() (string, error) {
	rows, err := bl.queryRows(`show global variables like 'binlog_checksum'`)
	if err != nil {
		return "", err
	}
	if len(rows) > 0 {
		s, _ := rows[0][1].(string)
		return s, nil
	}
	return "", nil
}

// negotiateChecksum tells server that we understand event checksums.
// Until FormatDescriptionEvent arrives, events are checksummed
// according to the negotiated value.
func (bl *Remote) negotiateChecksum() error {
	checksum, err := bl.fetchBinlogChecksum()
	if err != nil {
		return err
	}
	bl.checksumAlg = checksumAlgOff
	if checksum != "" && !strings.EqualFold(checksum, "NONE") {
		if err := bl.exec(`set @master_binlog_checksum = @@global.binlog_checksum`); err != nil {
			return err
		}
		bl.checksumAlg = checksumAlgCRC32
	}
	glog.V(1).Infof("binlog: binlog_checksum=%q", checksum)
	return nil
}

// Seek requests binlog at fileName and position.
//
// if nonBlock is true, NextEvent returns io.EOF when there are no more events.
// Otherwise NextEvent waits for new events.
func (bl *Remote) Seek(serverID uint32, fileName string, position uint64, nonBlock bool) error {
	if err := bl.prepareDump(); err != nil {
		return err
	}
	glog.Infof("binlog: dump from %s:%d serverID=%d", fileName, position, serverID)
	if err := bl.getFlavor().sendBinlogDump(bl, serverID, fileName, position, nonBlock); err != nil {
		return err
	}
	bl.dec.logFile = fileName
	return nil
}

// SeekGTID requests binlog events of transactions not in gtids.
// It fails with UnsupportedModeError if the server cannot do so.
func (bl *Remote) SeekGTID(serverID uint32, gtids GTIDSet, nonBlock bool) error {
	f := bl.getFlavor()
	if gtids == nil {
		return &UnsupportedModeError{f.name(), "no gtid set given"}
	}
	if gtids.Flavor() != f.name() {
		return &UnsupportedModeError{f.name(), fmt.Sprintf("cannot stream from %s gtid set", gtids.Flavor())}
	}
	if err := f.checkGTIDMode(bl); err != nil {
		return err
	}
	if err := bl.prepareDump(); err != nil {
		return err
	}
	glog.Infof("binlog: dump from gtids %s serverID=%d", gtids, serverID)
	return f.sendGTIDDump(bl, serverID, gtids, nonBlock)
}

func (bl *Remote) prepareDump() error {
	if err := bl.negotiateChecksum(); err != nil {
		return err
	}
	f := bl.getFlavor()
	if err := f.prepareDump(bl); err != nil {
		return err
	}
	bl.dec = newDecoder(bl.checksumAlg, bl.verifyChecksum)
	return nil
}

// NextEvent return next binlog event.
//
// return io.EOF when there are no more Events
func (bl *Remote) NextEvent() (Event, error) {
	if bl.dec == nil {
		return Event{}, &ProtocolError{"NextEvent called before Seek"}
	}
	p, err := bl.readPacket()
	if err != nil {
		return Event{}, err
	}
	if len(p) == 0 {
		return Event{}, &ProtocolError{"empty packet in binlog stream"}
	}
	switch p[0] {
	case okMarker:
		return bl.dec.decode(p[1:])
	case eofMarker:
		if len(p) < 9 {
			return Event{}, io.EOF
		}
	case errMarker:
		return Event{}, decodeServerError(p, bl.hs.capabilityFlags)
	}
	return Event{}, &ProtocolError{fmt.Sprintf("binlog stream: got %#02x want OK-byte", p[0])}
}

// Close closes connection.
func (bl *Remote) Close() error {
	return bl.conn.Close()
}

func (bl *Remote) write(event interface{ encode(w *writer) error }) error {
	w := newWriter(bl.conn, &bl.seq)
	if err := event.encode(w); err != nil {
		return &TransportError{"write", err}
	}
	if err := w.Close(); err != nil {
		return &TransportError{"write", err}
	}
	return nil
}
