// Package metrics exports replication progress as prometheus metrics.
package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/cdcflow/binlog"
)

// Metrics holds collectors of one replication stream.
type Metrics struct {
	Events     *prometheus.CounterVec
	Rows       *prometheus.CounterVec
	Heartbeats prometheus.Counter
	Errors     *prometheus.CounterVec
	Position   prometheus.Gauge
	Lag        prometheus.Gauge

	now func() time.Time
}

// New creates collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "binlog",
			Name:      "events_total",
			Help:      "Binlog events received, by event type.",
		}, []string{"type"}),
		Rows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "binlog",
			Name:      "rows_total",
			Help:      "Row changes received, by action.",
		}, []string{"action"}),
		Heartbeats: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "binlog",
			Name:      "heartbeats_total",
			Help:      "Heartbeat events received.",
		}),
		Errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "binlog",
			Name:      "session_errors_total",
			Help:      "Replication sessions ended by error, by kind.",
		}, []string{"kind"}),
		Position: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "binlog",
			Name:      "cursor_position",
			Help:      "Offset of the replication cursor in current binlog file.",
		}),
		Lag: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "binlog",
			Name:      "lag_seconds",
			Help:      "Seconds between the last event timestamp and its receipt.",
		}),
		now: time.Now,
	}
	reg.MustRegister(m.Events, m.Rows, m.Heartbeats, m.Errors, m.Position, m.Lag)
	return m
}

// ObserveEvent records e.
func (m *Metrics) ObserveEvent(e binlog.Event) {
	m.Events.WithLabelValues(e.Header.EventType.String()).Inc()
	switch d := e.Data.(type) {
	case *binlog.HeartbeatEvent:
		m.Heartbeats.Inc()
		return
	case *binlog.WriteRowsEvent:
		m.Rows.WithLabelValues("insert").Add(float64(len(d.Rows)))
	case *binlog.UpdateRowsEvent:
		m.Rows.WithLabelValues("update").Add(float64(len(d.Rows)))
	case *binlog.DeleteRowsEvent:
		m.Rows.WithLabelValues("delete").Add(float64(len(d.Rows)))
	case *binlog.TransactionPayloadEvent:
		for _, inner := range d.Events {
			m.ObserveEvent(binlog.Event{Header: inner.Header, Data: inner.Data})
		}
	}
	if e.Header.Timestamp > 0 && !e.Header.IsArtificial() {
		lag := m.now().Sub(time.Unix(int64(e.Header.Timestamp), 0))
		m.Lag.Set(lag.Seconds())
	}
}

// ObserveCursor records position of cur.
func (m *Metrics) ObserveCursor(cur binlog.Cursor) {
	m.Position.Set(float64(cur.Pos))
}

// ObserveError records error that ended a session.
func (m *Metrics) ObserveError(err error) {
	m.Errors.WithLabelValues(Kind(err)).Inc()
}

// Kind classifies err for the session_errors_total metric.
func Kind(err error) string {
	var (
		configErr   *binlog.ConfigError
		modeErr     *binlog.UnsupportedModeError
		transErr    *binlog.TransportError
		livenessErr *binlog.LivenessTimeoutError
		serverErr   *binlog.ServerError
		protoErr    *binlog.ProtocolError
		decodeErr   *binlog.DecodeError
		tableErr    *binlog.MissingTableMapError
	)
	switch {
	case errors.As(err, &configErr), errors.As(err, &modeErr):
		return "config"
	case errors.As(err, &livenessErr):
		return "liveness"
	case errors.As(err, &transErr):
		return "transport"
	case errors.As(err, &serverErr):
		return "server"
	case errors.As(err, &protoErr):
		return "protocol"
	case errors.As(err, &tableErr):
		return "order"
	case errors.As(err, &decodeErr):
		return "decode"
	}
	return "other"
}
