package cluster

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/Ajpantuso/hactl/internal/util"
)

const (
	// PlaceholderVersion marks a member synthesized for a leader whose member
	// entry has not been observed yet.
	PlaceholderVersion int64 = -1

	RoleMaster  = "master"
	RoleReplica = "replica"
)

// Member is a node's heartbeat entry.
type Member struct {
	Name    string
	Session int64
	Data    string
	Version int64
}

// MemberFromNode builds a Member from a raw member entry.
func MemberFromNode(version int64, name string, session int64, value string) Member {
	return Member{Name: name, Session: session, Data: value, Version: version}
}

// PlaceholderMember stands in for a leader whose member entry is missing.
func PlaceholderMember(name string) Member {
	return Member{Name: name, Version: PlaceholderVersion}
}

func (m Member) IsPlaceholder() bool {
	return m.Version == PlaceholderVersion
}

// Fields decodes the member payload as a JSON object. An empty payload yields
// an empty map.
func (m Member) Fields() (map[string]any, error) {
	fields := map[string]any{}
	if strings.TrimSpace(m.Data) == "" {
		return fields, nil
	}
	if err := json.Unmarshal([]byte(m.Data), &fields); err != nil {
		return nil, &util.MalformedNodeError{Path: "members/" + m.Name, Value: m.Data, Reason: err.Error()}
	}
	return fields, nil
}

func (m Member) ConnURL() string {
	return m.field("conn_url")
}

func (m Member) APIURL() string {
	return m.field("api_url")
}

func (m Member) field(key string) string {
	fields, err := m.Fields()
	if err != nil {
		return ""
	}
	s, _ := fields[key].(string)
	return s
}

// Leader is the holder of the leader key.
type Leader struct {
	Version int64
	Session int64
	Member  Member
}

func (l *Leader) Name() string {
	if l == nil {
		return ""
	}
	return l.Member.Name
}

// Failover is an outstanding leadership change request.
type Failover struct {
	Version   int64
	Leader    string
	Candidate string
}

// ParseFailover decodes "<leader>:<candidate>". An empty value means no
// request is outstanding and yields nil.
func ParseFailover(version int64, value string) (*Failover, error) {
	if value == "" {
		return nil, nil
	}
	leader, candidate, ok := strings.Cut(value, ":")
	if !ok {
		return nil, &util.MalformedNodeError{Path: "failover", Value: value, Reason: "missing leader:candidate separator"}
	}
	if leader == "" {
		return nil, &util.MalformedNodeError{Path: "failover", Value: value, Reason: "empty leader"}
	}
	return &Failover{Version: version, Leader: leader, Candidate: candidate}, nil
}

// FormatFailover is the inverse of ParseFailover.
func FormatFailover(leader, candidate string) string {
	return leader + ":" + candidate
}

// ParseOptime decodes the leader progress marker.
func ParseOptime(value string) (int64, error) {
	v, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
	if err != nil {
		return 0, &util.MalformedNodeError{Path: "optime/leader", Value: value, Reason: "not an integer"}
	}
	return v, nil
}

// Cluster is an immutable point-in-time snapshot of a scope.
type Cluster struct {
	Initialized         bool
	Leader              *Leader
	LastLeaderOperation int64
	Members             []Member
	Failover            *Failover
}

// NewCluster copies its inputs so that the snapshot cannot be mutated through
// the caller's references. Members are unique by name; the last one wins.
func NewCluster(initialized bool, leader *Leader, lastLeaderOperation int64, members []Member, failover *Failover) *Cluster {
	seen := make(map[string]int, len(members))
	unique := make([]Member, 0, len(members))
	for _, m := range members {
		if i, ok := seen[m.Name]; ok {
			unique[i] = m
			continue
		}
		seen[m.Name] = len(unique)
		unique = append(unique, m)
	}

	c := &Cluster{
		Initialized:         initialized,
		LastLeaderOperation: lastLeaderOperation,
		Members:             unique,
	}
	if leader != nil {
		l := *leader
		c.Leader = &l
	}
	if failover != nil {
		f := *failover
		c.Failover = &f
	}
	return c
}

func (c *Cluster) Member(name string) (Member, bool) {
	for _, m := range c.Members {
		if m.Name == name {
			return m, true
		}
	}
	return Member{}, false
}

func (c *Cluster) LeaderName() string {
	return c.Leader.Name()
}

func (c *Cluster) HasFailover() bool {
	return c.Failover != nil
}

// SortedMembers returns a copy of Members ordered by name.
func (c *Cluster) SortedMembers() []Member {
	out := make([]Member, len(c.Members))
	copy(out, c.Members)
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (c *Cluster) MemberNames() []string {
	names := make([]string, 0, len(c.Members))
	for _, m := range c.Members {
		names = append(names, m.Name)
	}
	sort.Strings(names)
	return names
}

// Candidates returns the sorted member names excluding the leader.
func (c *Cluster) Candidates() []string {
	leader := c.LeaderName()
	names := make([]string, 0, len(c.Members))
	for _, n := range c.MemberNames() {
		if n != leader {
			names = append(names, n)
		}
	}
	return names
}

func (c *Cluster) Role(name string) string {
	if name != "" && name == c.LeaderName() {
		return RoleMaster
	}
	return RoleReplica
}

// Validate checks the structural invariants of a snapshot.
func (c *Cluster) Validate() error {
	seen := make(map[string]struct{}, len(c.Members))
	for _, m := range c.Members {
		if _, ok := seen[m.Name]; ok {
			return fmt.Errorf("duplicate member %q", m.Name)
		}
		seen[m.Name] = struct{}{}
	}
	if c.Leader == nil || c.Leader.Member.IsPlaceholder() {
		return nil
	}
	if _, ok := seen[c.Leader.Member.Name]; !ok {
		return fmt.Errorf("leader %q is neither a member nor a placeholder", c.Leader.Member.Name)
	}
	return nil
}
