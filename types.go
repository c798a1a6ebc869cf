package binlog

import (
	"fmt"
	"math"
	"time"
)

// ColumnType is mysql column type as logged in TableMapEvent.
type ColumnType uint8

// https://dev.mysql.com/doc/internals/en/com-query-response.html#column-type
const (
	TypeDecimal    ColumnType = 0x00
	TypeTiny       ColumnType = 0x01
	TypeShort      ColumnType = 0x02
	TypeLong       ColumnType = 0x03
	TypeFloat      ColumnType = 0x04
	TypeDouble     ColumnType = 0x05
	TypeNull       ColumnType = 0x06
	TypeTimestamp  ColumnType = 0x07
	TypeLongLong   ColumnType = 0x08
	TypeInt24      ColumnType = 0x09
	TypeDate       ColumnType = 0x0a
	TypeTime       ColumnType = 0x0b
	TypeDateTime   ColumnType = 0x0c
	TypeYear       ColumnType = 0x0d
	TypeNewDate    ColumnType = 0x0e
	TypeVarchar    ColumnType = 0x0f
	TypeBit        ColumnType = 0x10
	TypeTimestamp2 ColumnType = 0x11
	TypeDateTime2  ColumnType = 0x12
	TypeTime2      ColumnType = 0x13
	TypeJSON       ColumnType = 0xf5
	TypeNewDecimal ColumnType = 0xf6
	TypeEnum       ColumnType = 0xf7
	TypeSet        ColumnType = 0xf8
	TypeTinyBlob   ColumnType = 0xf9
	TypeMediumBlob ColumnType = 0xfa
	TypeLongBlob   ColumnType = 0xfb
	TypeBlob       ColumnType = 0xfc
	TypeVarString  ColumnType = 0xfd
	TypeString     ColumnType = 0xfe
	TypeGeometry   ColumnType = 0xff
)

var typeNames = map[ColumnType]string{
	TypeDecimal:    "decimal",
	TypeTiny:       "tiny",
	TypeShort:      "short",
	TypeLong:       "long",
	TypeFloat:      "float",
	TypeDouble:     "double",
	TypeNull:       "null",
	TypeTimestamp:  "timestamp",
	TypeLongLong:   "longLong",
	TypeInt24:      "int24",
	TypeDate:       "date",
	TypeTime:       "time",
	TypeDateTime:   "dateTime",
	TypeYear:       "year",
	TypeNewDate:    "newDate",
	TypeVarchar:    "varchar",
	TypeBit:        "bit",
	TypeTimestamp2: "timestamp2",
	TypeDateTime2:  "dateTime2",
	TypeTime2:      "time2",
	TypeJSON:       "json",
	TypeNewDecimal: "newDecimal",
	TypeEnum:       "enum",
	TypeSet:        "set",
	TypeTinyBlob:   "tinyBlob",
	TypeMediumBlob: "mediumBlob",
	TypeLongBlob:   "longBlob",
	TypeBlob:       "blob",
	TypeVarString:  "varString",
	TypeString:     "string",
	TypeGeometry:   "geometry",
}

func (t ColumnType) String() string {
	if s, ok := typeNames[t]; ok {
		return s
	}
	return fmt.Sprintf("0x%02x", uint8(t))
}

func (t ColumnType) isNumeric() bool {
	switch t {
	case TypeTiny, TypeShort, TypeInt24, TypeLong, TypeLongLong,
		TypeFloat, TypeDouble, TypeDecimal, TypeNewDecimal:
		return true
	}
	return false
}

// isCharacter tells whether column carries charset in optional metadata.
func (t ColumnType) isCharacter() bool {
	switch t {
	case TypeString, TypeVarString, TypeVarchar,
		TypeBlob, TypeTinyBlob, TypeMediumBlob, TypeLongBlob:
		return true
	}
	return false
}

func (t ColumnType) isEnumOrSet() bool {
	return t == TypeEnum || t == TypeSet
}

// charsetBinary is collation id of binary strings.
const charsetBinary = 63

// Column describes one column of TableMapEvent.
//
// Name, Unsigned, Charset and Values are filled only if server logs
// optional metadata (mysql 8.0.1+ with binlog_row_metadata).
type Column struct {
	Ordinal  int
	Type     ColumnType
	Meta     uint16
	Nullable bool
	Unsigned bool
	Name     string
	Charset  uint64
	Values   []string // enum or set members
}

// Decimal is mysql DECIMAL value in its canonical string form.
type Decimal string

func (d Decimal) String() string { return string(d) }

// MarshalJSON writes d as a json number.
func (d Decimal) MarshalJSON() ([]byte, error) { return []byte(d), nil }

// Enum is ENUM value. Val is 1-based index into Values; 0 is the
// empty string used for invalid values.
type Enum struct {
	Val    uint16
	Values []string
}

func (e Enum) String() string {
	if e.Val > 0 && int(e.Val) <= len(e.Values) {
		return e.Values[e.Val-1]
	}
	return fmt.Sprintf("%d", e.Val)
}

// Set is SET value. Bit i of Val is set if Values[i] is member.
type Set struct {
	Val    uint64
	Values []string
}

// Members returns names of members, if Values are known.
func (s Set) Members() []string {
	var m []string
	for i, v := range s.Values {
		if s.Val&(1<<uint(i)) != 0 {
			m = append(m, v)
		}
	}
	return m
}

// JSON is decoded binary json. Val is one of nil, bool, the sized int
// types, float64, string, Decimal, time.Time, time.Duration, []byte,
// []interface{} or map[string]interface{}.
type JSON struct {
	Val interface{}
}

// decodeValue decodes one cell of rows event.
//
// https://dev.mysql.com/doc/internals/en/binary-protocol-value.html
func (col *Column) decodeValue(r *reader) (interface{}, error) {
	v, err := col.value(r)
	if err == nil && r.err != nil {
		err = r.err
	}
	return v, err
}

func (col *Column) value(r *reader) (interface{}, error) {
	switch col.Type {
	case TypeTiny:
		if col.Unsigned {
			return r.int1(), nil
		}
		return int8(r.int1()), nil
	case TypeShort:
		if col.Unsigned {
			return r.int2(), nil
		}
		return int16(r.int2()), nil
	case TypeInt24:
		v := r.int3()
		if col.Unsigned {
			return v, nil
		}
		if v&0x00800000 != 0 {
			v |= 0xff000000
		}
		return int32(v), nil
	case TypeLong:
		if col.Unsigned {
			return r.int4(), nil
		}
		return int32(r.int4()), nil
	case TypeLongLong:
		if col.Unsigned {
			return r.int8(), nil
		}
		return int64(r.int8()), nil
	case TypeFloat:
		return math.Float32frombits(r.int4()), nil
	case TypeDouble:
		return math.Float64frombits(r.int8()), nil
	case TypeNewDecimal:
		precision, scale := int(col.Meta>>8), int(col.Meta&0xff)
		b := r.bytesInternal(decimalSize(precision, scale))
		if r.err != nil {
			return nil, r.err
		}
		return decodeDecimal(b, precision, scale)
	case TypeBit:
		nbits := int(col.Meta>>8)*8 + int(col.Meta&0xff)
		return r.intBig((nbits + 7) / 8), nil
	case TypeYear:
		v := int(r.int1())
		if v == 0 {
			return 0, nil
		}
		return 1900 + v, nil
	case TypeDate, TypeNewDate:
		v := r.int3()
		if v == 0 {
			return time.Time{}, nil
		}
		return time.Date(int(v>>9), time.Month((v>>5)&15), int(v&31), 0, 0, 0, 0, time.UTC), nil
	case TypeTime:
		v := int64(r.int3())
		if v&0x00800000 != 0 {
			v |= ^int64(0xffffff)
		}
		sign := time.Duration(1)
		if v < 0 {
			sign, v = -1, -v
		}
		return sign * (time.Duration(v/10000)*time.Hour +
			time.Duration((v/100)%100)*time.Minute +
			time.Duration(v%100)*time.Second), nil
	case TypeTime2:
		return decodeTime2(r, int(col.Meta))
	case TypeDateTime:
		v := r.int8()
		if v == 0 {
			return time.Time{}, nil
		}
		d, t := v/1000000, v%1000000
		return time.Date(int(d/10000), time.Month((d/100)%100), int(d%100),
			int(t/10000), int((t/100)%100), int(t%100), 0, time.UTC), nil
	case TypeDateTime2:
		return decodeDateTime2(r, int(col.Meta))
	case TypeTimestamp:
		return time.Unix(int64(r.int4()), 0), nil
	case TypeTimestamp2:
		sec := int64(r.intBig(4))
		frac := decodeFrac(r, int(col.Meta))
		return time.Unix(sec, int64(frac)*1000), nil
	case TypeVarchar, TypeVarString:
		n := 1
		if col.Meta >= 256 {
			n = 2
		}
		return col.str(r.bytes(int(r.intFixed(n)))), nil
	case TypeString:
		n := 1
		if col.Meta >= 256 {
			n = 2
		}
		return col.str(r.bytes(int(r.intFixed(n)))), nil
	case TypeEnum:
		return Enum{uint16(r.intFixed(int(col.Meta))), col.Values}, nil
	case TypeSet:
		return Set{r.intFixed(int(col.Meta)), col.Values}, nil
	case TypeBlob, TypeTinyBlob, TypeMediumBlob, TypeLongBlob:
		return col.str(r.bytes(int(r.intFixed(int(col.Meta))))), nil
	case TypeGeometry:
		return r.bytes(int(r.intFixed(int(col.Meta)))), nil
	case TypeJSON:
		b := r.bytesInternal(int(r.intFixed(int(col.Meta))))
		if r.err != nil {
			return nil, r.err
		}
		return decodeJSON(b)
	case TypeNull:
		return nil, nil
	}
	return nil, fmt.Errorf("binlog: decoding of column type %s is not implemented", col.Type)
}

// str returns b as string unless the column is known to be binary.
// Without charset metadata, blobs are returned as []byte.
func (col *Column) str(b []byte) interface{} {
	switch {
	case col.Charset == charsetBinary:
		return b
	case col.Charset == 0 && col.Type != TypeVarchar && col.Type != TypeVarString && col.Type != TypeString:
		return b
	}
	return string(b)
}

// decodeFrac reads fractional seconds of temporal2 types and
// returns microseconds.
func decodeFrac(r *reader, fsp int) int {
	switch fsp {
	case 1, 2:
		return int(r.intBig(1)) * 10000
	case 3, 4:
		return int(r.intBig(2)) * 100
	case 5, 6:
		return int(r.intBig(3))
	}
	return 0
}

// https://dev.mysql.com/doc/internals/en/date-and-time-data-type-representation.html
func decodeDateTime2(r *reader, fsp int) (interface{}, error) {
	packed := int64(r.intBig(5)) - 0x8000000000
	frac := decodeFrac(r, fsp)
	if r.err != nil {
		return nil, r.err
	}
	if packed == 0 && frac == 0 {
		return time.Time{}, nil
	}
	ymd := packed >> 17
	ym := ymd >> 5
	hms := packed % (1 << 17)
	return time.Date(int(ym/13), time.Month(ym%13), int(ymd%(1<<5)),
		int(hms>>12), int((hms>>6)%(1<<6)), int(hms%(1<<6)), frac*1000, time.UTC), nil
}

func decodeTime2(r *reader, fsp int) (interface{}, error) {
	const (
		intOffset = 0x800000
		offset    = 0x800000000000
	)
	var packed int64
	switch fsp {
	case 1, 2:
		intPart := int64(r.intBig(3)) - intOffset
		frac := int64(r.intBig(1))
		if intPart < 0 && frac != 0 {
			intPart++
			frac -= 0x100
		}
		packed = intPart<<24 + frac*10000
	case 3, 4:
		intPart := int64(r.intBig(3)) - intOffset
		frac := int64(r.intBig(2))
		if intPart < 0 && frac != 0 {
			intPart++
			frac -= 0x10000
		}
		packed = intPart<<24 + frac*100
	case 5, 6:
		packed = int64(r.intBig(6)) - offset
	default:
		packed = (int64(r.intBig(3)) - intOffset) << 24
	}
	if r.err != nil {
		return nil, r.err
	}
	sign := time.Duration(1)
	if packed < 0 {
		sign, packed = -1, -packed
	}
	hms := packed >> 24
	micro := packed % (1 << 24)
	return sign * (time.Duration((hms>>12)%(1<<10))*time.Hour +
		time.Duration((hms>>6)%(1<<6))*time.Minute +
		time.Duration(hms%(1<<6))*time.Second +
		time.Duration(micro)*time.Microsecond), nil
}
