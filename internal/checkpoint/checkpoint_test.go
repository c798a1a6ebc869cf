package checkpoint

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cdcflow/binlog"
)

func TestStore(t *testing.T) {
	s, err := Open("")
	require.NoError(t, err)
	defer s.Close()

	_, ok, err := s.Load("main")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Save("main", binlog.FromPosition("binlog.000003", 1234)))
	cur, ok, err := s.Load("main")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, binlog.FromPosition("binlog.000003", 1234), cur)

	set, err := binlog.ParseMySQLGTIDSet("3e11fa47-71ca-11e1-9e33-c80aa9429562:1-5:7")
	require.NoError(t, err)
	require.NoError(t, s.Save("main", binlog.FromGTID(set)))
	cur, ok, err = s.Load("main")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, cur.IsGTID())
	assert.Equal(t, set.String(), cur.GTIDs.String())

	require.NoError(t, s.Delete("main"))
	_, ok, err = s.Load("main")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStorePersists(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	require.NoError(t, err)
	require.NoError(t, s.Save("a", binlog.FromPosition("mysql-bin.000001", 4)))
	require.NoError(t, s.Close())

	s, err = Open(dir)
	require.NoError(t, err)
	defer s.Close()
	cur, ok, err := s.Load("a")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "mysql-bin.000001:4", cur.String())
}
