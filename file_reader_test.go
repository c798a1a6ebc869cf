package binlog

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFile(t *testing.T) {
	var data []byte
	data = append(data, fileHeader...)
	data = append(data, event(FORMAT_DESCRIPTION_EVENT, 120, fdeBody(checksumAlgCRC32), true)...)
	data = append(data, event(QUERY_EVENT, 200, queryBody("BEGIN"), true)...)
	data = append(data, event(TABLE_MAP_EVENT, 260, tableMapBody(42), true)...)
	data = append(data, event(WRITE_ROWS_EVENTv2, 320, writeRowsBody(42), true)...)
	data = append(data, event(XID_EVENT, 351, xidBody(3), true)...)
	path := filepath.Join(t.TempDir(), "binlog.000007")
	require.NoError(t, os.WriteFile(path, data, 0o644))

	f, err := OpenFile(path)
	require.NoError(t, err)
	defer f.Close()

	var types []EventType
	for {
		e, err := f.NextEvent()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		assert.Equal(t, "binlog.000007", e.Header.LogFile)
		types = append(types, e.Header.EventType)
		if rows, ok := e.Data.(*WriteRowsEvent); ok {
			assert.Equal(t, []interface{}{int32(7), "abc"}, rows.Rows[0])
		}
	}
	assert.Equal(t, []EventType{FORMAT_DESCRIPTION_EVENT, QUERY_EVENT, TABLE_MAP_EVENT, WRITE_ROWS_EVENTv2, XID_EVENT}, types)
}

func TestFile_Truncated(t *testing.T) {
	b := event(XID_EVENT, 351, xidBody(3), false)
	path := filepath.Join(t.TempDir(), "binlog.000001")
	require.NoError(t, os.WriteFile(path, append(append([]byte{}, fileHeader...), b[:len(b)-2]...), 0o644))

	f, err := OpenFile(path)
	require.NoError(t, err)
	defer f.Close()
	_, err = f.NextEvent()
	assert.Equal(t, io.ErrUnexpectedEOF, err)
}

func TestOpenFile_NotBinlog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notes.txt")
	require.NoError(t, os.WriteFile(path, []byte("hello"), 0o644))
	_, err := OpenFile(path)
	assert.Error(t, err)
}
