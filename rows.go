package binlog

// https://dev.mysql.com/doc/internals/en/rows-event.html

// dummyTableID marks end of statement in rows event of very old servers.
const dummyTableID = 0x00ffffff

// WriteRowsEvent carries rows inserted into a table. Each row has one
// cell per column of the table; cells of null or unlogged columns are nil.
type WriteRowsEvent struct {
	TableID         uint64
	Flags           uint16
	Table           *TableMapEvent
	IncludedColumns []bool
	Rows            [][]interface{}
}

// DeleteRowsEvent carries rows deleted from a table, in the same
// shape as WriteRowsEvent.
type DeleteRowsEvent struct {
	TableID         uint64
	Flags           uint16
	Table           *TableMapEvent
	IncludedColumns []bool
	Rows            [][]interface{}
}

// UpdateRow is before and after image of an updated row.
type UpdateRow struct {
	Before []interface{}
	After  []interface{}
}

// UpdateRowsEvent carries before and after images of updated rows.
type UpdateRowsEvent struct {
	TableID               uint64
	Flags                 uint16
	Table                 *TableMapEvent
	IncludedColumnsBefore []bool
	IncludedColumns       []bool
	Rows                  []UpdateRow
}

// JSONDiff is the after image of a JSON column that server logged as a
// list of in-place modifications instead of the whole document. It is
// written to PARTIAL_UPDATE_ROWS_EVENT when binlog_row_value_options is
// PARTIAL_JSON, and holds the diffs in server's binary format.
//
// https://dev.mysql.com/doc/dev/mysql-server/latest/classJson__diff__vector.html
type JSONDiff []byte

// value_options of after image in PARTIAL_UPDATE_ROWS_EVENT.
const partialJSONUpdates = 0x01

// rowsHeader is the part common to all rows events.
type rowsHeader struct {
	tableID uint64
	flags   uint16
	table   *TableMapEvent
	before  bitmap
	after   bitmap
	numCol  int
}

func (h *rowsHeader) decode(r *reader, typ EventType, fde *FormatDescriptionEvent, tables map[uint64]*TableMapEvent) error {
	if fde.postHeaderLength(typ, 10) == 6 {
		h.tableID = uint64(r.int4())
	} else {
		h.tableID = r.int6()
	}
	h.flags = r.int2()
	if isRowsV2(typ) {
		// extra data length includes itself
		extra := r.int2()
		if extra < 2 {
			return ErrMalformedPacket
		}
		if err := r.skip(int(extra - 2)); err != nil {
			return err
		}
	}
	if r.err != nil {
		return r.err
	}
	if h.tableID == dummyTableID {
		return nil
	}
	h.table = tables[h.tableID]
	if h.table == nil {
		return &MissingTableMapError{TableID: h.tableID}
	}
	numCol := r.intN()
	if r.err != nil {
		return r.err
	}
	if numCol > uint64(len(h.table.Columns)) {
		return ErrMalformedPacket
	}
	h.numCol = int(numCol)
	h.before = r.bitmap(h.numCol)
	h.after = h.before
	if typ.IsUpdateRows() || typ == PARTIAL_UPDATE_ROWS_EVENT {
		h.after = r.bitmap(h.numCol)
	}
	return r.err
}

func isRowsV2(typ EventType) bool {
	switch typ {
	case WRITE_ROWS_EVENTv2, UPDATE_ROWS_EVENTv2, DELETE_ROWS_EVENTv2, PARTIAL_UPDATE_ROWS_EVENT:
		return true
	}
	return false
}

func (h *rowsHeader) included(present bitmap) []bool {
	cols := make([]bool, len(h.table.Columns))
	for i := 0; i < h.numCol; i++ {
		cols[i] = present.isTrue(i)
	}
	return cols
}

// decodeRow reads one row image. The null bitmap covers only the
// present columns. partial has one bit per JSON column of the table;
// JSON columns with the bit set hold JSONDiff.
func (h *rowsHeader) decodeRow(r *reader, present, partial bitmap) ([]interface{}, error) {
	row := make([]interface{}, len(h.table.Columns))
	nulls := r.bitmap(present.count(h.numCol))
	if r.err != nil {
		return nil, r.err
	}
	inull, ijson := 0, 0
	for i := 0; i < h.numCol; i++ {
		col := &h.table.Columns[i]
		isDiff := false
		if col.Type == TypeJSON {
			isDiff = partial != nil && partial.isTrue(ijson)
			ijson++
		}
		if !present.isTrue(i) {
			continue
		}
		isNull := nulls.isTrue(inull)
		inull++
		if isNull {
			continue
		}
		if isDiff {
			row[i] = JSONDiff(r.bytes(int(r.intFixed(int(col.Meta)))))
			if r.err != nil {
				return nil, r.err
			}
			continue
		}
		v, err := col.decodeValue(r)
		if err != nil {
			return nil, err
		}
		row[i] = v
	}
	return row, nil
}

// partialBits reads value_options that precede after image of
// PARTIAL_UPDATE_ROWS_EVENT. It returns nil when no column is a diff.
func (h *rowsHeader) partialBits(r *reader) (bitmap, error) {
	opts := r.intN()
	if r.err != nil || opts&partialJSONUpdates == 0 {
		return nil, r.err
	}
	n := 0
	for i := range h.table.Columns {
		if h.table.Columns[i].Type == TypeJSON {
			n++
		}
	}
	bits := r.bitmap(n)
	return bits, r.err
}

func (e *WriteRowsEvent) decode(r *reader, typ EventType, fde *FormatDescriptionEvent, tables map[uint64]*TableMapEvent) error {
	var h rowsHeader
	if err := h.decode(r, typ, fde, tables); err != nil {
		return err
	}
	e.TableID, e.Flags, e.Table = h.tableID, h.flags, h.table
	if h.table == nil {
		return nil
	}
	e.IncludedColumns = h.included(h.after)
	for r.more() {
		row, err := h.decodeRow(r, h.after, nil)
		if err != nil {
			return err
		}
		e.Rows = append(e.Rows, row)
	}
	return r.err
}

func (e *DeleteRowsEvent) decode(r *reader, typ EventType, fde *FormatDescriptionEvent, tables map[uint64]*TableMapEvent) error {
	var h rowsHeader
	if err := h.decode(r, typ, fde, tables); err != nil {
		return err
	}
	e.TableID, e.Flags, e.Table = h.tableID, h.flags, h.table
	if h.table == nil {
		return nil
	}
	e.IncludedColumns = h.included(h.before)
	for r.more() {
		row, err := h.decodeRow(r, h.before, nil)
		if err != nil {
			return err
		}
		e.Rows = append(e.Rows, row)
	}
	return r.err
}

func (e *UpdateRowsEvent) decode(r *reader, typ EventType, fde *FormatDescriptionEvent, tables map[uint64]*TableMapEvent) error {
	var h rowsHeader
	if err := h.decode(r, typ, fde, tables); err != nil {
		return err
	}
	e.TableID, e.Flags, e.Table = h.tableID, h.flags, h.table
	if h.table == nil {
		return nil
	}
	e.IncludedColumnsBefore = h.included(h.before)
	e.IncludedColumns = h.included(h.after)
	for r.more() {
		before, err := h.decodeRow(r, h.before, nil)
		if err != nil {
			return err
		}
		var partial bitmap
		if typ == PARTIAL_UPDATE_ROWS_EVENT {
			if partial, err = h.partialBits(r); err != nil {
				return err
			}
		}
		after, err := h.decodeRow(r, h.after, partial)
		if err != nil {
			return err
		}
		e.Rows = append(e.Rows, UpdateRow{before, after})
	}
	return r.err
}
