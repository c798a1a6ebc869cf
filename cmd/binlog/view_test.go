package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/cdcflow/binlog"
)

func TestPrintEvent(t *testing.T) {
	table := &binlog.TableMapEvent{
		SchemaName: "test",
		TableName:  "t",
		Columns:    []binlog.Column{{Name: "id"}, {}},
	}
	var buf bytes.Buffer
	printEvent(&buf, binlog.Event{
		Header: binlog.EventHeader{
			Timestamp: 1700000000,
			EventType: binlog.UPDATE_ROWS_EVENTv2,
			LogFile:   "binlog.000001",
			NextPos:   0x1234,
		},
		Data: &binlog.UpdateRowsEvent{
			Table: table,
			Rows:  []binlog.UpdateRow{{Before: []interface{}{int32(1), nil}, After: []interface{}{int32(1), "x"}}},
		},
	})
	lines := strings.Split(strings.TrimSuffix(buf.String(), "\n"), "\n")
	if assert.Len(t, lines, 3) {
		assert.True(t, strings.HasPrefix(lines[0], "2023-11-14 22:13:20 binlog.000001:0x1234 "), lines[0])
		assert.True(t, strings.HasSuffix(lines[0], "test.t"), lines[0])
		assert.Equal(t, `     SET: id=1 @1="x"`, lines[1])
		assert.Equal(t, `   WHERE: id=1 @1=NULL`, lines[2])
	}
}

func TestLiteral(t *testing.T) {
	tests := []struct {
		v    interface{}
		want string
	}{
		{nil, "NULL"},
		{"it's", `"it's"`},
		{[]byte{0xca, 0xfe}, "x'cafe'"},
		{int64(-5), "-5"},
		{binlog.Decimal("12.50"), "12.50"},
		{time.Date(2021, 2, 14, 20, 37, 12, 123000000, time.UTC), "'2021-02-14 20:37:12.123'"},
		{binlog.Enum{Val: 2, Values: []string{"s", "m"}}, `"m"`},
		{binlog.Set{Val: 0b101, Values: []string{"b", "x", "a"}}, `"a,b"`},
	}
	for _, test := range tests {
		assert.Equal(t, test.want, literal(test.v))
	}
}
