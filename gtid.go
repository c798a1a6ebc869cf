package binlog

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// Flavor names.
const (
	FlavorMySQL   = "mysql"
	FlavorMariaDB = "mariadb"
)

// GTID is the global transaction id of a committed transaction.
type GTID interface {
	String() string
	Flavor() string
}

// GTIDSet is a set of executed transactions. Implementations are
// immutable: AddGTID returns an updated copy, so a set can be shared
// with other goroutines once published.
type GTIDSet interface {
	String() string
	Flavor() string

	// AddGTID returns a new set with gtid merged in. A gtid of
	// different flavor is ignored.
	AddGTID(gtid GTID) GTIDSet

	// ContainsGTID tells whether gtid is already in the set.
	ContainsGTID(gtid GTID) bool
}

// mysql ---

// MySQLGTID is the source id and transaction number of a MySQL transaction.
type MySQLGTID struct {
	SID uuid.UUID
	GNO int64
}

func (g MySQLGTID) String() string { return fmt.Sprintf("%s:%d", g.SID, g.GNO) }

// Flavor implements GTID.
func (MySQLGTID) Flavor() string { return FlavorMySQL }

// Interval is closed range of transaction numbers.
type Interval struct {
	Start, End int64
}

// MySQLGTIDSet maps source id to sorted disjoint intervals. Adjacent
// intervals are always merged.
type MySQLGTIDSet map[uuid.UUID][]Interval

// ParseMySQLGTIDSet parses set in the format of @@gtid_executed,
// e.g. "3e11fa47-71ca-11e1-9e33-c80aa9429562:1-5:7,...".
func ParseMySQLGTIDSet(s string) (MySQLGTIDSet, error) {
	set := MySQLGTIDSet{}
	s = strings.TrimSpace(s)
	if s == "" {
		return set, nil
	}
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		fields := strings.Split(part, ":")
		sid, err := uuid.Parse(fields[0])
		if err != nil {
			return nil, errors.Wrapf(err, "invalid source id in gtid set %q", part)
		}
		if len(fields) < 2 {
			return nil, errors.Errorf("gtid set %q has no intervals", part)
		}
		for _, f := range fields[1:] {
			iv, err := parseInterval(f)
			if err != nil {
				return nil, errors.Wrapf(err, "invalid gtid set %q", part)
			}
			if iv.End < iv.Start {
				// mysql discards such intervals
				continue
			}
			set[sid] = addInterval(set[sid], iv)
		}
	}
	return set, nil
}

func parseInterval(s string) (Interval, error) {
	start, end := s, s
	if i := strings.IndexByte(s, '-'); i != -1 {
		start, end = s[:i], s[i+1:]
	}
	a, err := strconv.ParseInt(start, 10, 64)
	if err != nil {
		return Interval{}, err
	}
	b, err := strconv.ParseInt(end, 10, 64)
	if err != nil {
		return Interval{}, err
	}
	if a < 1 {
		return Interval{}, errors.Errorf("interval %q must start at 1 or more", s)
	}
	return Interval{a, b}, nil
}

// addInterval merges iv into sorted disjoint intervals, returning a new slice.
func addInterval(ivs []Interval, iv Interval) []Interval {
	out := make([]Interval, 0, len(ivs)+1)
	i := 0
	for ; i < len(ivs) && ivs[i].End+1 < iv.Start; i++ {
		out = append(out, ivs[i])
	}
	for ; i < len(ivs) && ivs[i].Start <= iv.End+1; i++ {
		if ivs[i].Start < iv.Start {
			iv.Start = ivs[i].Start
		}
		if ivs[i].End > iv.End {
			iv.End = ivs[i].End
		}
	}
	out = append(out, iv)
	return append(out, ivs[i:]...)
}

func (set MySQLGTIDSet) sids() []uuid.UUID {
	sids := make([]uuid.UUID, 0, len(set))
	for sid := range set {
		sids = append(sids, sid)
	}
	sort.Slice(sids, func(i, j int) bool {
		return strings.Compare(sids[i].String(), sids[j].String()) < 0
	})
	return sids
}

func (set MySQLGTIDSet) String() string {
	var buf strings.Builder
	for i, sid := range set.sids() {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.WriteString(sid.String())
		for _, iv := range set[sid] {
			if iv.Start == iv.End {
				fmt.Fprintf(&buf, ":%d", iv.Start)
			} else {
				fmt.Fprintf(&buf, ":%d-%d", iv.Start, iv.End)
			}
		}
	}
	return buf.String()
}

// Flavor implements GTIDSet.
func (MySQLGTIDSet) Flavor() string { return FlavorMySQL }

// AddGTID implements GTIDSet.
func (set MySQLGTIDSet) AddGTID(gtid GTID) GTIDSet {
	g, ok := gtid.(MySQLGTID)
	if !ok {
		return set
	}
	out := make(MySQLGTIDSet, len(set)+1)
	for sid, ivs := range set {
		out[sid] = ivs
	}
	out[g.SID] = addInterval(set[g.SID], Interval{g.GNO, g.GNO})
	return out
}

// ContainsGTID implements GTIDSet.
func (set MySQLGTIDSet) ContainsGTID(gtid GTID) bool {
	g, ok := gtid.(MySQLGTID)
	if !ok {
		return false
	}
	for _, iv := range set[g.SID] {
		if iv.Start <= g.GNO && g.GNO <= iv.End {
			return true
		}
	}
	return false
}

// encodeSIDBlock writes set in the format used by COM_BINLOG_DUMP_GTID
// and PREVIOUS_GTIDS_EVENT. Interval end is exclusive on wire.
func (set MySQLGTIDSet) encodeSIDBlock(w *writer) error {
	w.int8(uint64(len(set)))
	for _, sid := range set.sids() {
		w.Write(sid[:])
		ivs := set[sid]
		w.int8(uint64(len(ivs)))
		for _, iv := range ivs {
			w.int8(uint64(iv.Start))
			w.int8(uint64(iv.End + 1))
		}
	}
	return w.err
}

func (set MySQLGTIDSet) sidBlockSize() int {
	n := 8
	for _, ivs := range set {
		n += 16 + 8 + 16*len(ivs)
	}
	return n
}

func decodeSIDBlock(r *reader) (MySQLGTIDSet, error) {
	set := MySQLGTIDSet{}
	nSIDs := r.int8()
	for i := uint64(0); i < nSIDs && r.err == nil; i++ {
		var sid uuid.UUID
		copy(sid[:], r.bytesInternal(16))
		nIntervals := r.int8()
		for j := uint64(0); j < nIntervals && r.err == nil; j++ {
			start, end := int64(r.int8()), int64(r.int8())
			if r.err == nil {
				set[sid] = addInterval(set[sid], Interval{start, end - 1})
			}
		}
	}
	return set, r.err
}

// mariadb ---

// MariaDBGTID is the domain-server-sequence id of MariaDB transaction.
type MariaDBGTID struct {
	Domain   uint32
	ServerID uint32
	Sequence uint64
}

// ParseMariaDBGTID parses "domain-server-sequence".
func ParseMariaDBGTID(s string) (MariaDBGTID, error) {
	parts := strings.Split(strings.TrimSpace(s), "-")
	if len(parts) != 3 {
		return MariaDBGTID{}, errors.Errorf("invalid mariadb gtid %q", s)
	}
	domain, err := strconv.ParseUint(parts[0], 10, 32)
	if err != nil {
		return MariaDBGTID{}, errors.Wrapf(err, "invalid domain in mariadb gtid %q", s)
	}
	server, err := strconv.ParseUint(parts[1], 10, 32)
	if err != nil {
		return MariaDBGTID{}, errors.Wrapf(err, "invalid server id in mariadb gtid %q", s)
	}
	seq, err := strconv.ParseUint(parts[2], 10, 64)
	if err != nil {
		return MariaDBGTID{}, errors.Wrapf(err, "invalid sequence in mariadb gtid %q", s)
	}
	return MariaDBGTID{uint32(domain), uint32(server), seq}, nil
}

func (g MariaDBGTID) String() string {
	return fmt.Sprintf("%d-%d-%d", g.Domain, g.ServerID, g.Sequence)
}

// Flavor implements GTID.
func (MariaDBGTID) Flavor() string { return FlavorMariaDB }

// MariaDBGTIDList holds latest gtid of each replication domain,
// as in @@gtid_slave_pos.
type MariaDBGTIDList map[uint32]MariaDBGTID

// ParseMariaDBGTIDList parses comma separated list of gtids,
// e.g. "0-1-270,1-2-5".
func ParseMariaDBGTIDList(s string) (MariaDBGTIDList, error) {
	list := MariaDBGTIDList{}
	s = strings.TrimSpace(s)
	if s == "" {
		return list, nil
	}
	for _, part := range strings.Split(s, ",") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		g, err := ParseMariaDBGTID(part)
		if err != nil {
			return nil, err
		}
		if _, dup := list[g.Domain]; dup {
			return nil, errors.Errorf("mariadb gtid list %q has domain %d more than once", s, g.Domain)
		}
		list[g.Domain] = g
	}
	return list, nil
}

func (list MariaDBGTIDList) String() string {
	domains := make([]uint32, 0, len(list))
	for d := range list {
		domains = append(domains, d)
	}
	sort.Slice(domains, func(i, j int) bool { return domains[i] < domains[j] })
	parts := make([]string, len(domains))
	for i, d := range domains {
		parts[i] = list[d].String()
	}
	return strings.Join(parts, ",")
}

// Flavor implements GTIDSet.
func (MariaDBGTIDList) Flavor() string { return FlavorMariaDB }

// AddGTID implements GTIDSet. The gtid replaces the one recorded
// for its domain.
func (list MariaDBGTIDList) AddGTID(gtid GTID) GTIDSet {
	g, ok := gtid.(MariaDBGTID)
	if !ok {
		return list
	}
	out := make(MariaDBGTIDList, len(list)+1)
	for d, v := range list {
		out[d] = v
	}
	out[g.Domain] = g
	return out
}

// ContainsGTID implements GTIDSet.
func (list MariaDBGTIDList) ContainsGTID(gtid GTID) bool {
	g, ok := gtid.(MariaDBGTID)
	if !ok {
		return false
	}
	cur, ok := list[g.Domain]
	return ok && g.Sequence <= cur.Sequence
}

// ParseGTIDSet parses s in the format of given flavor.
func ParseGTIDSet(flavor, s string) (GTIDSet, error) {
	switch flavor {
	case FlavorMySQL:
		return ParseMySQLGTIDSet(s)
	case FlavorMariaDB:
		return ParseMariaDBGTIDList(s)
	}
	return nil, errors.Errorf("unknown flavor %q", flavor)
}
