package binlog

import "strings"

// tracker advances the replication cursor as events are delivered.
// A position is committed only at transaction boundaries, so a session
// resumed from the cursor neither repeats nor skips a transaction.
//
// The tracker is confined to the session goroutine. Client publishes
// its cursor after each delivered event.
type tracker struct {
	cur Cursor

	// pending is gtid of the transaction in progress.
	pending GTID
	inTx    bool
}

func newTracker(cur Cursor) *tracker {
	return &tracker{cur: cur}
}

// reset forgets any transaction in progress. Called on reconnect;
// the server resends the whole transaction.
func (t *tracker) reset() {
	t.pending = nil
	t.inTx = false
}

func (t *tracker) cursor() Cursor { return t.cur }

// update applies e, which the caller has fully consumed.
func (t *tracker) update(e Event) {
	switch d := e.Data.(type) {
	case *GTIDEvent:
		t.begin(d.GTID)
	case *MariaDBGTIDEvent:
		t.begin(d.GTID)
		if !d.Standalone {
			t.inTx = true
		}
	case *XidEvent:
		t.commit()
	case *QueryEvent:
		q := strings.ToUpper(strings.TrimSpace(d.Query))
		switch {
		case q == "BEGIN", strings.HasPrefix(q, "XA START"):
			t.inTx = true
		case q == "COMMIT", q == "ROLLBACK":
			t.commit()
		case !t.inTx:
			t.commit()
		}
	case *UnknownEvent:
		// XA PREPARE ends the event group; XA COMMIT comes later
		// under its own gtid.
		if e.Header.EventType == XA_PREPARE_LOG_EVENT {
			t.commit()
		}
	case *TransactionPayloadEvent:
		for _, inner := range d.Events {
			t.update(Event{Header: EventHeader{EventType: inner.Header.EventType}, Data: inner.Data})
		}
	case *TableMapEvent:
		// a resumed session must see table map again before
		// the rows events that depend on it
		return
	case *RotateEvent:
		t.cur.File, t.cur.Pos = d.NextBinlog, d.Position
		return
	}
	if e.Header.NextPos > 0 {
		t.cur.Pos = uint64(e.Header.NextPos)
	}
}

func (t *tracker) begin(gtid GTID) {
	if t.cur.IsGTID() {
		t.pending = gtid
	}
}

func (t *tracker) commit() {
	if t.pending != nil && t.cur.GTIDs != nil {
		t.cur.GTIDs = t.cur.GTIDs.AddGTID(t.pending)
	}
	t.pending = nil
	t.inTx = false
}
