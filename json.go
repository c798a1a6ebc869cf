package binlog

import (
	"fmt"
	"math"
	"time"
)

// binary json as stored by mysql 5.7+.
//
// https://dev.mysql.com/worklog/task/?id=8132#tabs-8132-4
const (
	jsonSmallObject byte = 0x00
	jsonLargeObject byte = 0x01
	jsonSmallArray  byte = 0x02
	jsonLargeArray  byte = 0x03
	jsonLiteral     byte = 0x04
	jsonInt16       byte = 0x05
	jsonUint16      byte = 0x06
	jsonInt32       byte = 0x07
	jsonUint32      byte = 0x08
	jsonInt64       byte = 0x09
	jsonUint64      byte = 0x0a
	jsonDouble      byte = 0x0b
	jsonString      byte = 0x0c
	jsonOpaque      byte = 0x0f
)

const (
	jsonNull  = 0x00
	jsonTrue  = 0x01
	jsonFalse = 0x02
)

// maxJSONDepth matches JSON_DOCUMENT_MAX_DEPTH of server.
const maxJSONDepth = 100

// decodeJSON decodes a JSON column value. An empty value is json null;
// server writes it for JSON columns that were never assigned.
func decodeJSON(b []byte) (JSON, error) {
	if len(b) == 0 {
		return JSON{}, nil
	}
	r := newReader(b)
	typ := r.int1()
	v, err := jsonValue(typ, b[1:], 0)
	return JSON{v}, err
}

// jsonValue decodes value of type typ stored at the start of doc.
// Offsets inside objects and arrays are relative to the start of the
// composite, so every composite is decoded over its own slice.
func jsonValue(typ byte, doc []byte, depth int) (interface{}, error) {
	switch typ {
	case jsonSmallObject, jsonLargeObject, jsonSmallArray, jsonLargeArray:
		if depth >= maxJSONDepth {
			return nil, fmt.Errorf("binlog: json document deeper than %d", maxJSONDepth)
		}
		return jsonComposite(typ, doc, depth+1)
	case jsonString:
		r := newReader(doc)
		n := jsonVarLen(r)
		s := r.string(int(n))
		return s, r.err
	case jsonOpaque:
		return jsonOpaqueValue(newReader(doc))
	}
	r := newReader(doc)
	v, err := jsonScalar(typ, r)
	if err == nil {
		err = r.err
	}
	return v, err
}

// jsonScalar decodes types whose size is fixed by typ.
func jsonScalar(typ byte, r *reader) (interface{}, error) {
	switch typ {
	case jsonLiteral:
		switch b := r.int1(); b {
		case jsonNull:
			return nil, nil
		case jsonTrue:
			return true, nil
		case jsonFalse:
			return false, nil
		default:
			if r.err == nil {
				return nil, fmt.Errorf("binlog: invalid json literal %#02x", b)
			}
		}
		return nil, r.err
	case jsonInt16:
		return int16(r.int2()), nil
	case jsonUint16:
		return r.int2(), nil
	case jsonInt32:
		return int32(r.int4()), nil
	case jsonUint32:
		return r.int4(), nil
	case jsonInt64:
		return int64(r.int8()), nil
	case jsonUint64:
		return r.int8(), nil
	case jsonDouble:
		return math.Float64frombits(r.int8()), nil
	}
	return nil, fmt.Errorf("binlog: invalid json value type %#02x", typ)
}

// jsonInlined reports whether value of typ is stored in the value entry
// itself rather than at an offset.
func jsonInlined(typ byte, large bool) bool {
	switch typ {
	case jsonLiteral, jsonInt16, jsonUint16:
		return true
	case jsonInt32, jsonUint32:
		return large
	}
	return false
}

func jsonComposite(typ byte, doc []byte, depth int) (interface{}, error) {
	large := typ == jsonLargeObject || typ == jsonLargeArray
	isObject := typ == jsonSmallObject || typ == jsonLargeObject
	width := 2
	if large {
		width = 4
	}

	r := newReader(doc)
	count := int(r.intFixed(width))
	size := int(r.intFixed(width))
	if r.err != nil {
		return nil, r.err
	}
	if size > len(doc) {
		return nil, ErrMalformedPacket
	}
	doc = doc[:size]
	r.buf = doc

	var keys []string
	if isObject {
		keys = make([]string, count)
		for i := range keys {
			off := int(r.intFixed(width))
			n := int(r.int2())
			if r.err != nil {
				return nil, r.err
			}
			if off+n > len(doc) {
				return nil, ErrMalformedPacket
			}
			keys[i] = string(doc[off : off+n])
		}
	}

	vals := make([]interface{}, count)
	for i := range vals {
		vt := r.int1()
		entry := newReader(r.bytesInternal(width))
		if r.err != nil {
			return nil, r.err
		}
		var err error
		if jsonInlined(vt, large) {
			vals[i], err = jsonScalar(vt, entry)
		} else {
			off := int(entry.intFixed(width))
			if off > len(doc) {
				return nil, ErrMalformedPacket
			}
			vals[i], err = jsonValue(vt, doc[off:], depth)
		}
		if err != nil {
			return nil, err
		}
	}

	if !isObject {
		return vals, nil
	}
	m := make(map[string]interface{}, count)
	for i, k := range keys {
		m[k] = vals[i]
	}
	return m, nil
}

// jsonVarLen reads the variable length integer that prefixes strings
// and opaque values: 7 bits per byte, high bit set on all but the last.
func jsonVarLen(r *reader) uint64 {
	var n uint64
	for i := 0; i < 5; i++ {
		b := r.int1()
		if r.err != nil {
			return 0
		}
		n |= uint64(b&0x7f) << uint(7*i)
		if b&0x80 == 0 {
			return n
		}
	}
	r.err = ErrMalformedPacket
	return 0
}

// jsonOpaqueValue decodes mysql values embedded in json documents:
// decimals and temporal types. Other opaque types are returned as
// their raw bytes.
func jsonOpaqueValue(r *reader) (interface{}, error) {
	ct := ColumnType(r.int1())
	n := jsonVarLen(r)
	data := newReader(r.bytesInternal(int(n)))
	if r.err != nil {
		return nil, r.err
	}
	switch ct {
	case TypeNewDecimal:
		precision, scale := int(data.int1()), int(data.int1())
		if data.err != nil {
			return nil, data.err
		}
		return decodeDecimal(data.bytesEOFInternal(), precision, scale)
	case TypeTime:
		v := int64(data.int8())
		return jsonTime(v), data.err
	case TypeDate, TypeDateTime, TypeTimestamp:
		v := int64(data.int8())
		loc := time.UTC
		if ct == TypeTimestamp {
			loc = time.Local
		}
		return jsonDateTime(v, loc), data.err
	}
	return data.bytesEOF(), nil
}

// temporal values inside json use the packed in-memory format of server:
// 24 bits of microseconds below the packed date and time fields.

func jsonTime(v int64) time.Duration {
	sign := time.Duration(1)
	if v < 0 {
		v, sign = -v, -1
	}
	frac, hms := v%(1<<24), v>>24
	d := time.Duration((hms>>12)%(1<<10))*time.Hour +
		time.Duration((hms>>6)%(1<<6))*time.Minute +
		time.Duration(hms%(1<<6))*time.Second +
		time.Duration(frac)*time.Microsecond
	return sign * d
}

func jsonDateTime(v int64, loc *time.Location) time.Time {
	if v == 0 {
		return time.Time{}
	}
	if v < 0 {
		v = -v
	}
	frac, packed := v%(1<<24), v>>24
	ymd, hms := packed>>17, packed%(1<<17)
	ym := ymd >> 5
	return time.Date(int(ym/13), time.Month(ym%13), int(ymd%(1<<5)),
		int(hms>>12), int((hms>>6)%(1<<6)), int(hms%(1<<6)), int(frac*1000), loc)
}
