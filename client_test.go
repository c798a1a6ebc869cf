package binlog

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_Replicate(t *testing.T) {
	s := newFakeServer(t, func(s *fakeServer) {
		s.events = [][]byte{
			event(ROTATE_EVENT, 0, rotateBody("binlog.000001", 4), true),
			event(FORMAT_DESCRIPTION_EVENT, 120, fdeBody(checksumAlgCRC32), true),
			event(QUERY_EVENT, 200, queryBody("BEGIN"), true),
			event(TABLE_MAP_EVENT, 260, tableMapBody(42), true),
			event(WRITE_ROWS_EVENTv2, 320, writeRowsBody(42), true),
			event(XID_EVENT, 351, xidBody(11), true),
		}
	})
	c, err := NewClient(Options{
		Address:         s.addr(),
		Username:        "repl",
		Password:        "secret",
		SSLMode:         SSLDisabled,
		ServerID:        100,
		HeartbeatPeriod: 5 * time.Second,
		NonBlocking:     true,
		Start:           FromPosition("binlog.000001", 4),
	})
	require.NoError(t, err)

	var (
		types  []EventType
		errs   []error
		rows   *WriteRowsEvent
		during Cursor
	)
	for e, err := range c.Replicate(context.Background()) {
		if err != nil {
			errs = append(errs, err)
			continue
		}
		types = append(types, e.Header.EventType)
		if d, ok := e.Data.(*WriteRowsEvent); ok {
			rows, during = d, c.Cursor()
		}
	}
	require.Empty(t, errs)
	assert.Equal(t, []EventType{
		ROTATE_EVENT, FORMAT_DESCRIPTION_EVENT, QUERY_EVENT,
		TABLE_MAP_EVENT, WRITE_ROWS_EVENTv2, XID_EVENT,
	}, types)
	require.NotNil(t, rows)
	assert.Equal(t, "test", rows.Table.SchemaName)
	assert.Equal(t, []interface{}{int32(7), "abc"}, rows.Rows[0])

	// cursor moves past an event only after the caller is done with it
	assert.Equal(t, FromPosition("binlog.000001", 200), during)
	assert.Equal(t, FromPosition("binlog.000001", 351), c.Cursor())

	assert.Equal(t, []string{
		"select version()",
		"SET @master_heartbeat_period=5000000000",
		"show global variables like 'binlog_checksum'",
		"set @master_binlog_checksum = @@global.binlog_checksum",
	}, s.takeQueries())

	dump := <-s.dumps
	assert.Equal(t, byte(comBinlogDump), dump[0])
	r := newReader(dump[1:])
	assert.Equal(t, uint32(4), r.int4())
	assert.Equal(t, uint16(dumpNonBlock), r.int2())
	assert.Equal(t, uint32(100), r.int4())
	assert.Equal(t, "binlog.000001", r.stringEOF())

	// next session resumes from cursor
	_, errs = drain(context.Background(), c)
	require.Empty(t, errs)
	dump = <-s.dumps
	assert.Equal(t, uint32(351), newReader(dump[1:]).int4())
}

func TestClient_ServerError(t *testing.T) {
	s := newFakeServer(t, func(s *fakeServer) {
		s.events = [][]byte{
			event(ROTATE_EVENT, 0, rotateBody("binlog.000001", 4), true),
			event(FORMAT_DESCRIPTION_EVENT, 120, fdeBody(checksumAlgCRC32), true),
		}
		s.tail = append([]byte{errMarker, 0xd4, 0x04, '#', 'H', 'Y', '0', '0', '0'}, "could not find next log"...)
	})
	c, err := NewClient(Options{
		Address:         s.addr(),
		SSLMode:         SSLDisabled,
		HeartbeatPeriod: -1,
		Start:           FromPosition("binlog.000001", 4),
	})
	require.NoError(t, err)

	events, errs := drain(context.Background(), c)
	assert.Equal(t, 2, events)
	require.Len(t, errs, 1)
	var se *ServerError
	require.ErrorAs(t, errs[0], &se)
	assert.Equal(t, uint16(1236), se.Code)
	assert.Equal(t, "HY000", se.State)
	assert.Equal(t, "could not find next log", se.Message)
	var pe *ProtocolError
	require.ErrorAs(t, errs[0], &pe)
	assert.Contains(t, pe.Error(), "1236")
	assert.Contains(t, pe.Error(), "could not find next log")
	assert.Equal(t, FromPosition("binlog.000001", 120), c.Cursor())
	for _, q := range s.takeQueries() {
		assert.NotContains(t, q, "master_heartbeat_period")
	}
}

func TestClient_StartFromEnd(t *testing.T) {
	s := newFakeServer(t, func(s *fakeServer) { s.checksum = "NONE" })
	c, err := NewClient(Options{Address: s.addr(), SSLMode: SSLDisabled, NonBlocking: true})
	require.NoError(t, err)
	assert.Equal(t, FromEnd(), c.Cursor())

	_, errs := drain(context.Background(), c)
	require.Empty(t, errs)
	assert.Equal(t, FromPosition("binlog.000002", 1234), c.Cursor())
	assert.NotContains(t, s.takeQueries(), "set @master_binlog_checksum = @@global.binlog_checksum")

	dump := <-s.dumps
	r := newReader(dump[1:])
	assert.Equal(t, uint32(1234), r.int4())
	r.int2()
	r.int4()
	assert.Equal(t, "binlog.000002", r.stringEOF())
}

func TestClient_Cancel(t *testing.T) {
	s := newFakeServer(t, func(s *fakeServer) {
		s.block = true
		s.events = [][]byte{event(ROTATE_EVENT, 0, rotateBody("binlog.000001", 4), true)}
	})
	c, err := NewClient(Options{Address: s.addr(), SSLMode: SSLDisabled, Start: FromPosition("binlog.000001", 4)})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var errs []error
	for _, err := range c.Replicate(ctx) {
		if err != nil {
			errs = append(errs, err)
			continue
		}
		cancel()
	}
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], context.Canceled)
}

func TestNewClient_Config(t *testing.T) {
	c, err := NewClient(Options{Address: "db"})
	require.NoError(t, err)
	assert.Equal(t, "db:3306", c.opts.Address)
	assert.Equal(t, uint32(defaultServerID), c.opts.ServerID)
	assert.Equal(t, defaultHeartbeatPeriod, c.opts.HeartbeatPeriod)

	tests := []struct {
		name string
		opts Options
	}{
		{"no address", Options{}},
		{"verify ca", Options{Address: "db", SSLMode: SSLRequireVerifyCA}},
		{"verify full", Options{Address: "db", SSLMode: SSLRequireVerifyFull}},
		{"position without file", Options{Address: "db", Start: Cursor{Strategy: StartFromPosition}}},
		{"gtid without set", Options{Address: "db", Start: Cursor{Strategy: StartFromGTID}}},
		{"gtid flavor", Options{Address: "db", Flavor: FlavorMariaDB, Start: FromGTID(MySQLGTIDSet{})}},
		{"unknown flavor", Options{Address: "db", Flavor: "postgres"}},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			_, err := NewClient(test.opts)
			var ce *ConfigError
			assert.ErrorAs(t, err, &ce)
		})
	}
}

func TestParseSSLMode(t *testing.T) {
	for _, m := range []SSLMode{SSLPreferred, SSLDisabled, SSLRequired, SSLRequireVerifyCA, SSLRequireVerifyFull} {
		got, err := ParseSSLMode(m.String())
		require.NoError(t, err)
		assert.Equal(t, m, got)
	}
	_, err := ParseSSLMode("sometimes")
	assert.Error(t, err)
}

// drain runs one session to its end.
func drain(ctx context.Context, c *Client) (events int, errs []error) {
	for _, err := range c.Replicate(ctx) {
		if err != nil {
			errs = append(errs, err)
			continue
		}
		events++
	}
	return events, errs
}

// fakeServer ---

// fakeServer speaks enough of the server side of the protocol to
// authenticate a client, answer its setup queries and stream events.
type fakeServer struct {
	t        *testing.T
	ln       net.Listener
	version  string
	checksum string   // value of binlog_checksum
	events   [][]byte // streamed after dump command
	tail     []byte   // sent after events, EOF packet if nil
	block    bool     // keep the stream open after events
	dumps    chan []byte

	mu      sync.Mutex
	queries []string
}

func newFakeServer(t *testing.T, configure func(s *fakeServer)) *fakeServer {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	s := &fakeServer{
		t:        t,
		ln:       ln,
		version:  "8.0.36",
		checksum: "CRC32",
		dumps:    make(chan []byte, 4),
	}
	configure(s)
	t.Cleanup(func() { _ = ln.Close() })
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go s.serve(conn)
		}
	}()
	return s
}

func (s *fakeServer) addr() string { return s.ln.Addr().String() }

func (s *fakeServer) takeQueries() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	q := s.queries
	s.queries = nil
	return q
}

func (s *fakeServer) serve(conn net.Conn) {
	defer conn.Close()
	var seq uint8
	s.send(conn, &seq, s.handshake())
	if _, err := readPacket(conn, &seq); err != nil {
		return
	}
	s.send(conn, &seq, okBytes)
	for {
		seq = 0
		p, err := readPacket(conn, &seq)
		if err != nil || len(p) == 0 {
			return
		}
		switch p[0] {
		case comQuery:
			s.answer(conn, &seq, string(p[1:]))
		case comBinlogDump, comBinlogDumpGTID:
			s.dumps <- p
			for _, e := range s.events {
				s.send(conn, &seq, append([]byte{okMarker}, e...))
			}
			if s.block {
				continue
			}
			if s.tail != nil {
				s.send(conn, &seq, s.tail)
			} else {
				s.send(conn, &seq, eofBytes)
			}
		}
	}
}

func (s *fakeServer) answer(conn net.Conn, seq *uint8, q string) {
	s.mu.Lock()
	s.queries = append(s.queries, q)
	s.mu.Unlock()
	switch q {
	case "select version()":
		s.sendResultSet(conn, seq, []string{"version()"}, []string{s.version})
	case "show global variables like 'binlog_checksum'":
		s.sendResultSet(conn, seq, []string{"Variable_name", "Value"}, []string{"binlog_checksum", s.checksum})
	case "show master status":
		s.sendResultSet(conn, seq,
			[]string{"File", "Position", "Binlog_Do_DB", "Binlog_Ignore_DB", "Executed_Gtid_Set"},
			[]string{"binlog.000002", "1234", "", "", ""})
	default:
		s.send(conn, seq, okBytes)
	}
}

func (s *fakeServer) handshake() []byte {
	caps := uint32(capLongPassword | capProtocol41 | capTransactions | capSecureConnection | capPluginAuth)
	scramble := []byte("0123456789abcdefghij")
	return payload(func(w *writer) {
		w.int1(10)
		w.stringNull(s.version)
		w.int4(7) // connection id
		w.Write(scramble[:8])
		w.int1(0)
		w.int2(uint16(caps))
		w.int1(33)
		w.int2(2)
		w.int2(uint16(caps >> 16))
		w.int1(uint8(len(scramble) + 1))
		w.Write(make([]byte, 10))
		w.bytesNull(scramble[8:])
		w.stringNull("mysql_native_password")
	})
}

func (s *fakeServer) sendResultSet(conn net.Conn, seq *uint8, cols []string, rows ...[]string) {
	s.send(conn, seq, payload(func(w *writer) { w.intN(uint64(len(cols))) }))
	for _, col := range cols {
		s.send(conn, seq, payload(func(w *writer) {
			w.stringN("def")
			w.stringN("") // schema
			w.stringN("") // table
			w.stringN("") // org table
			w.stringN(col)
			w.stringN(col)
			w.intN(0x0c)
			w.int2(33)
			w.int4(255)
			w.int1(uint8(TypeVarString))
			w.int2(0)
			w.int1(0)
			w.int2(0)
		}))
	}
	s.send(conn, seq, eofBytes)
	for _, row := range rows {
		s.send(conn, seq, payload(func(w *writer) {
			for _, v := range row {
				w.stringN(v)
			}
		}))
	}
	s.send(conn, seq, eofBytes)
}

func (s *fakeServer) send(conn net.Conn, seq *uint8, p []byte) {
	w := newWriter(conn, seq)
	_, _ = w.Write(p)
	if err := w.Close(); err != nil {
		s.t.Logf("fake server: %v", err)
	}
}

var (
	okBytes  = []byte{okMarker, 0, 0, 2, 0, 0, 0}
	eofBytes = []byte{eofMarker, 0, 0, 2, 0}
)
