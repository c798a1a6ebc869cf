package metrics

import (
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/cdcflow/binlog"
)

func TestObserveEvent(t *testing.T) {
	m := New(prometheus.NewRegistry())
	now := time.Unix(1700000010, 0)
	m.now = func() time.Time { return now }

	m.ObserveEvent(binlog.Event{
		Header: binlog.EventHeader{EventType: binlog.WRITE_ROWS_EVENTv2, Timestamp: 1700000000},
		Data:   &binlog.WriteRowsEvent{Rows: [][]interface{}{{int32(1)}, {int32(2)}}},
	})
	m.ObserveEvent(binlog.Event{
		Header: binlog.EventHeader{EventType: binlog.HEARTBEAT_EVENT},
		Data:   &binlog.HeartbeatEvent{},
	})
	m.ObserveEvent(binlog.Event{
		Header: binlog.EventHeader{EventType: binlog.TRANSACTION_PAYLOAD_EVENT, Timestamp: 1700000005},
		Data: &binlog.TransactionPayloadEvent{Events: []binlog.Event{
			{Header: binlog.EventHeader{EventType: binlog.DELETE_ROWS_EVENTv2}, Data: &binlog.DeleteRowsEvent{Rows: [][]interface{}{{nil}}}},
		}},
	})

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Rows.WithLabelValues("insert")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Rows.WithLabelValues("delete")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Heartbeats))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Events.WithLabelValues(binlog.HEARTBEAT_EVENT.String())))
	assert.Equal(t, 5.0, testutil.ToFloat64(m.Lag))
}

func TestObserveCursor(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.ObserveCursor(binlog.FromPosition("binlog.000001", 1234))
	assert.Equal(t, 1234.0, testutil.ToFloat64(m.Position))
}

func TestKind(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{&binlog.ConfigError{Option: "SSLMode"}, "config"},
		{&binlog.UnsupportedModeError{Flavor: binlog.FlavorMySQL}, "config"},
		{&binlog.TransportError{Op: "read"}, "transport"},
		{&binlog.LivenessTimeoutError{Window: time.Second}, "liveness"},
		{&binlog.ServerError{Code: 1236}, "server"},
		{&binlog.ProtocolError{Msg: "x"}, "protocol"},
		{&binlog.DecodeError{EventType: binlog.QUERY_EVENT}, "decode"},
		{&binlog.MissingTableMapError{TableID: 42}, "order"},
		{fmt.Errorf("wrapped: %w", &binlog.ServerError{Code: 1}), "server"},
		{fmt.Errorf("plain"), "other"},
	}
	for _, test := range tests {
		assert.Equal(t, test.want, Kind(test.err), "%v", test.err)
	}
}
