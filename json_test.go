package binlog

import (
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeJSON(t *testing.T) {
	// {"a": 1, "b": [true, "x"]}
	object := []byte{
		jsonSmallObject,
		0x02, 0x00, 0x20, 0x00, // count, size
		0x12, 0x00, 0x01, 0x00, // key "a"
		0x13, 0x00, 0x01, 0x00, // key "b"
		jsonInt16, 0x01, 0x00,
		jsonSmallArray, 0x14, 0x00,
		'a', 'b',
		0x02, 0x00, 0x0c, 0x00, // count, size
		jsonLiteral, jsonTrue, 0x00,
		jsonString, 0x0a, 0x00,
		0x01, 'x',
	}
	tests := []struct {
		name string
		b    []byte
		want interface{}
	}{
		{"empty", nil, nil},
		{"null", []byte{jsonLiteral, jsonNull}, nil},
		{"int64", []byte{jsonInt64, 0xfe, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff}, int64(-2)},
		{"uint32", []byte{jsonUint32, 0x01, 0x00, 0x00, 0x80}, uint32(0x80000001)},
		{"double", []byte{jsonDouble, 0, 0, 0, 0, 0, 0, 0xf8, 0x3f}, 1.5},
		{"string", []byte{jsonString, 0x03, 'a', 'b', 'c'}, "abc"},
		{"decimal", []byte{jsonOpaque, byte(TypeNewDecimal), 0x05, 0x05, 0x02, 0x80, 0x00, 0x05}, Decimal("0.05")},
		{"object", object, map[string]interface{}{"a": int16(1), "b": []interface{}{true, "x"}}},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			got, err := decodeJSON(test.b)
			require.NoError(t, err)
			assert.Equal(t, JSON{test.want}, got)
		})
	}
}

func TestDecodeJSON_Time(t *testing.T) {
	// 2021-03-04 05:06:07.000008
	ym := int64(2021*13 + 3)
	packed := (ym<<5|4)<<17 | (5<<12 | 6<<6 | 7)
	v := uint64(packed<<24 | 8)
	b := []byte{jsonOpaque, byte(TypeDateTime), 0x08}
	for i := 0; i < 8; i++ {
		b = append(b, byte(v>>(8*i)))
	}
	got, err := decodeJSON(b)
	require.NoError(t, err)
	assert.Equal(t, JSON{time.Date(2021, 3, 4, 5, 6, 7, 8000, time.UTC)}, got)
}

func TestDecodeJSON_Malformed(t *testing.T) {
	tests := []struct {
		name string
		b    []byte
		err  error
	}{
		{"truncated header", []byte{jsonSmallObject, 0x01}, io.ErrUnexpectedEOF},
		{"size beyond value", []byte{jsonSmallArray, 0x01, 0x00, 0x40, 0x00}, ErrMalformedPacket},
		{"truncated string", []byte{jsonString, 0x05, 'a'}, io.ErrUnexpectedEOF},
		{"long varlen", []byte{jsonString, 0xff, 0xff, 0xff, 0xff, 0xff, 0x01}, ErrMalformedPacket},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			_, err := decodeJSON(test.b)
			assert.Equal(t, test.err, err)
		})
	}

	_, err := decodeJSON([]byte{jsonLiteral, 0x09})
	assert.Error(t, err)
}
