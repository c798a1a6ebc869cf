package binlog

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

type serverVersion []int

// mariadbPrefix is prepended to version by MariaDB servers for
// compatibility with old mysql replication clients.
const mariadbPrefix = "5.5.5-"

func newServerVersion(s string) (serverVersion, error) {
	s = strings.TrimPrefix(s, mariadbPrefix)
	if i := strings.IndexByte(s, '-'); i != -1 {
		s = s[:i]
	}
	if i := strings.IndexByte(s, '+'); i != -1 {
		s = s[:i]
	}
	var sv serverVersion
	for _, v := range strings.Split(s, ".") {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid serverVersion %q", s)
		}
		sv = append(sv, n)
	}
	if len(sv) < 3 {
		return nil, errors.New("invalid serverVersion: " + s)
	}
	return sv[:3], nil
}

func (sv serverVersion) eq(v serverVersion) bool {
	return sv[0] == v[0] && sv[1] == v[1] && sv[2] == v[2]
}

func (sv serverVersion) lt(v serverVersion) bool {
	for i := range sv {
		if sv[i] < v[i] {
			return true
		}
		if sv[i] == v[i] {
			continue
		}
		return false
	}
	return false
}

// https://dev.mysql.com/doc/internals/en/binlog-version.html

func (sv serverVersion) binlogVersion() uint16 {
	switch {
	case sv.lt([]int{4, 0, 0}):
		return 1
	case sv.lt([]int{4, 0, 2}):
		return 2
	case sv.lt([]int{5, 0, 0}):
		return 3
	default:
		return 4
	}
}

// hasChecksumAlg tells whether FormatDescriptionEvent written by this
// version carries checksum algorithm byte.
func (sv serverVersion) hasChecksumAlg(flavor string) bool {
	if flavor == FlavorMariaDB {
		return !sv.lt([]int{5, 3, 0})
	}
	return !sv.lt([]int{5, 6, 1})
}

// detectFlavor guesses server dialect from its version string.
func detectFlavor(version string) string {
	if strings.Contains(strings.ToLower(version), "mariadb") || strings.HasPrefix(version, mariadbPrefix) {
		return FlavorMariaDB
	}
	return FlavorMySQL
}
