package binlog

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Strategy tells where replication starts.
type Strategy int

const (
	// StartFromEnd streams events written after the session starts.
	StartFromEnd Strategy = iota

	// StartFromStart streams from the first binlog file still on server.
	StartFromStart

	// StartFromPosition streams from Cursor.File at Cursor.Pos.
	StartFromPosition

	// StartFromGTID streams transactions not in Cursor.GTIDs.
	StartFromGTID
)

var strategyNames = map[Strategy]string{
	StartFromEnd:      "end",
	StartFromStart:    "start",
	StartFromPosition: "position",
	StartFromGTID:     "gtid",
}

func (s Strategy) String() string {
	if name, ok := strategyNames[s]; ok {
		return name
	}
	return fmt.Sprintf("Strategy(%d)", int(s))
}

// Cursor is the resumable replication position. Once a session starts
// it is either position based (File, Pos) or gtid based (GTIDs); the
// other fields are informative. A Cursor returned by Client.Cursor is
// a snapshot and is never modified afterwards.
type Cursor struct {
	Strategy Strategy
	File     string
	Pos      uint64
	GTIDs    GTIDSet
}

// FromStart returns cursor that starts at the first available binlog file.
func FromStart() Cursor { return Cursor{Strategy: StartFromStart} }

// FromEnd returns cursor that starts at the current end of binlog.
func FromEnd() Cursor { return Cursor{Strategy: StartFromEnd} }

// FromPosition returns cursor at given binlog file and position.
func FromPosition(file string, pos uint64) Cursor {
	return Cursor{Strategy: StartFromPosition, File: file, Pos: pos}
}

// FromGTID returns cursor that resumes after the transactions in set.
func FromGTID(set GTIDSet) Cursor {
	return Cursor{Strategy: StartFromGTID, GTIDs: set}
}

// IsGTID tells whether the cursor tracks transactions rather than offsets.
func (c Cursor) IsGTID() bool { return c.Strategy == StartFromGTID }

// String formats the cursor as "file:pos" or "flavor:gtidset".
// ParseCursor reverses it.
func (c Cursor) String() string {
	switch c.Strategy {
	case StartFromStart, StartFromEnd:
		return c.Strategy.String()
	case StartFromGTID:
		if c.GTIDs == nil {
			return "gtid"
		}
		return c.GTIDs.Flavor() + ":" + c.GTIDs.String()
	}
	return fmt.Sprintf("%s:%d", c.File, c.Pos)
}

// ParseCursor parses output of Cursor.String.
func ParseCursor(s string) (Cursor, error) {
	switch s {
	case "start":
		return FromStart(), nil
	case "end", "":
		return FromEnd(), nil
	}
	for _, flavor := range []string{FlavorMySQL, FlavorMariaDB} {
		if rest, ok := strings.CutPrefix(s, flavor+":"); ok {
			set, err := ParseGTIDSet(flavor, rest)
			if err != nil {
				return Cursor{}, err
			}
			return FromGTID(set), nil
		}
	}
	i := strings.LastIndexByte(s, ':')
	if i == -1 {
		return Cursor{}, errors.Errorf("binlog: invalid cursor %q", s)
	}
	pos, err := strconv.ParseUint(s[i+1:], 10, 64)
	if err != nil {
		return Cursor{}, errors.Wrapf(err, "binlog: invalid cursor %q", s)
	}
	return FromPosition(s[:i], pos), nil
}
