package binlog

// https://dev.mysql.com/doc/internals/en/table-map-event.html

// TableMapEvent describes layout of a table. It precedes rows events
// of the table, which refer to it by TableID.
type TableMapEvent struct {
	TableID    uint64
	Flags      uint16
	SchemaName string
	TableName  string
	Columns    []Column
	PrimaryKey []int // ordinals of primary key columns, if logged
}

// optional metadata field types.
//
// https://dev.mysql.com/doc/dev/mysql-server/latest/classbinary__log_1_1Table__map__event.html
const (
	metaSignedness        = 1
	metaDefaultCharset    = 2
	metaColumnCharset     = 3
	metaColumnName        = 4
	metaSetStrValue       = 5
	metaEnumStrValue      = 6
	metaGeometryType      = 7
	metaSimplePrimaryKey  = 8
	metaPrimaryKeyPrefix  = 9
	metaEnumSetDefCharset = 10
	metaEnumSetColCharset = 11
)

func (e *TableMapEvent) decode(r *reader, fde *FormatDescriptionEvent) error {
	if fde.postHeaderLength(TABLE_MAP_EVENT, 8) == 6 {
		e.TableID = uint64(r.int4())
	} else {
		e.TableID = r.int6()
	}
	e.Flags = r.int2()
	_ = r.int1() // schema name length
	e.SchemaName = r.stringNull()
	_ = r.int1() // table name length
	e.TableName = r.stringNull()
	numCol := r.intN()
	if r.err != nil {
		return r.err
	}
	if numCol > uint64(r.remaining()) {
		return ErrMalformedPacket
	}
	e.Columns = make([]Column, numCol)
	for i := range e.Columns {
		e.Columns[i].Ordinal = i
		e.Columns[i].Type = ColumnType(r.int1())
	}

	metaLen := r.intN()
	if r.err != nil {
		return r.err
	}
	meta := newReader(r.bytesInternal(int(metaLen)))
	for i := range e.Columns {
		e.Columns[i].decodeMeta(meta)
	}
	if meta.err != nil {
		return meta.err
	}

	nullability := r.bitmap(int(numCol))
	if r.err != nil {
		return r.err
	}
	for i := range e.Columns {
		e.Columns[i].Nullable = nullability.isTrue(i)
	}

	for r.more() {
		typ := r.int1()
		size := int(r.intN())
		if r.err != nil {
			break
		}
		field := newReader(r.bytesInternal(size))
		if r.err != nil {
			break
		}
		if err := e.decodeOptionalMeta(typ, field); err != nil {
			return err
		}
	}
	return r.err
}

// decodeMeta reads type specific metadata and resolves real type of
// STRING columns.
func (col *Column) decodeMeta(r *reader) {
	switch col.Type {
	case TypeFloat, TypeDouble, TypeBlob, TypeGeometry, TypeJSON,
		TypeTime2, TypeDateTime2, TypeTimestamp2:
		col.Meta = uint16(r.int1())
	case TypeVarchar, TypeVarString:
		col.Meta = r.int2()
	case TypeBit:
		// byte0: bits%8 byte1: bytes
		col.Meta = uint16(r.int1())
		col.Meta |= uint16(r.int1()) << 8
	case TypeNewDecimal:
		precision := uint16(r.int1())
		scale := uint16(r.int1())
		col.Meta = precision<<8 | scale
	case TypeSet, TypeEnum, TypeString:
		b0, b1 := r.int1(), r.int1()
		if b0 == 0 {
			col.Meta = uint16(b1)
			return
		}
		if b0&0x30 != 0x30 {
			// length > 255 is stored in spare bits of type byte
			col.Type = ColumnType(b0 | 0x30)
			col.Meta = uint16(b1) | uint16((b0&0x30)^0x30)<<4
			return
		}
		col.Type = ColumnType(b0)
		col.Meta = uint16(b1)
	}
}

func (e *TableMapEvent) decodeOptionalMeta(typ byte, r *reader) error {
	switch typ {
	case metaSignedness:
		// MSB first, one bit per numeric column
		signedness := r.bytesEOFInternal()
		inum := 0
		for i := range e.Columns {
			if !e.Columns[i].Type.isNumeric() {
				continue
			}
			if inum/8 < len(signedness) {
				e.Columns[i].Unsigned = signedness[inum/8]&(1<<uint(7-inum%8)) != 0
			}
			inum++
		}
	case metaDefaultCharset, metaEnumSetDefCharset:
		pick := ColumnType.isCharacter
		if typ == metaEnumSetDefCharset {
			pick = ColumnType.isEnumOrSet
		}
		def := r.intN()
		cols := e.pick(pick)
		for _, c := range cols {
			c.Charset = def
		}
		for r.more() {
			i, charset := r.intN(), r.intN()
			if r.err == nil && i < uint64(len(cols)) {
				cols[i].Charset = charset
			}
		}
	case metaColumnCharset, metaEnumSetColCharset:
		pick := ColumnType.isCharacter
		if typ == metaEnumSetColCharset {
			pick = ColumnType.isEnumOrSet
		}
		for _, c := range e.pick(pick) {
			if !r.more() {
				break
			}
			c.Charset = r.intN()
		}
	case metaColumnName:
		for i := range e.Columns {
			if !r.more() {
				break
			}
			e.Columns[i].Name = r.stringN()
		}
	case metaSetStrValue, metaEnumStrValue:
		want := TypeSet
		if typ == metaEnumStrValue {
			want = TypeEnum
		}
		for i := range e.Columns {
			if e.Columns[i].Type != want || !r.more() {
				continue
			}
			n := r.intN()
			if n > uint64(r.remaining()) {
				return ErrMalformedPacket
			}
			values := make([]string, n)
			for j := range values {
				values[j] = r.stringN()
			}
			e.Columns[i].Values = values
		}
	case metaSimplePrimaryKey:
		for r.more() {
			e.PrimaryKey = append(e.PrimaryKey, int(r.intN()))
		}
	case metaPrimaryKeyPrefix:
		for r.more() {
			e.PrimaryKey = append(e.PrimaryKey, int(r.intN()))
			r.intN() // prefix length
		}
	}
	return r.err
}

func (e *TableMapEvent) pick(f func(ColumnType) bool) []*Column {
	var cols []*Column
	for i := range e.Columns {
		if f(e.Columns[i].Type) {
			cols = append(cols, &e.Columns[i])
		}
	}
	return cols
}
