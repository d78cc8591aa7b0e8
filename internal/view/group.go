package view

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	"connlog/internal/extract"
	"connlog/pkg/models"
)

// Mode selects the grouping key
type Mode int

const (
	ByHost Mode = iota
	ByConnection
)

func (m Mode) String() string {
	if m == ByConnection {
		return "conn"
	}
	return "host"
}

// ParseMode accepts "host" or "conn"/"connection"; anything else is ByHost
func ParseMode(s string) Mode {
	switch strings.ToLower(s) {
	case "conn", "connection", "byconnection":
		return ByConnection
	default:
		return ByHost
	}
}

// Status summarizes the worst level in a group
type Status string

const (
	StatusOK    Status = "ok"
	StatusWarn  Status = "warn"
	StatusError Status = "error"
)

const unknownConnKey = "conn:unknown"

// Group is a derived bucket of records sharing a key
type Group struct {
	Key            string             `json:"key"`
	Title          string             `json:"title"`
	Host           string             `json:"host"` // host of the representative record
	Representative models.LogRecord   `json:"representative"`
	Status         Status             `json:"status"`
	Members        []models.LogRecord `json:"members"` // arrival order
	ProxyPeer      string             `json:"proxy_peer,omitempty"`
	TargetIP       string             `json:"target_ip,omitempty"`
}

// Newest returns the members newest first, for detail inspection
func (g Group) Newest() []models.LogRecord {
	out := slices.Clone(g.Members)
	slices.Reverse(out)
	return out
}

// groupKey returns the key a record belongs to under mode
func groupKey(r models.LogRecord, mode Mode) string {
	if mode == ByConnection {
		if r.ConnID == nil {
			return unknownConnKey
		}
		return "conn:" + strconv.FormatInt(*r.ConnID, 10)
	}
	return extract.Host(r.Message)
}

// GroupRecords partitions records by mode and orders the groups most
// recently active first. Every record lands in exactly one group.
func GroupRecords(records []models.LogRecord, mode Mode) []Group {
	index := make(map[string]int)
	groups := make([]Group, 0)

	for _, r := range records {
		key := groupKey(r, mode)
		i, ok := index[key]
		if !ok {
			i = len(groups)
			index[key] = i
			groups = append(groups, Group{Key: key})
		}
		groups[i].Members = append(groups[i].Members, r)
	}

	for i := range groups {
		summarize(&groups[i], mode)
	}

	slices.SortStableFunc(groups, func(a, b Group) int {
		return b.Representative.ArrivalTime.Compare(a.Representative.ArrivalTime)
	})
	return groups
}

// summarize fills the derived fields of a group from its members
func summarize(g *Group, mode Mode) {
	rep := g.Members[0]
	for _, r := range g.Members[1:] {
		// ties go to the later member
		if !r.ArrivalTime.Before(rep.ArrivalTime) {
			rep = r
		}
	}
	g.Representative = rep
	g.Host = extract.Host(rep.Message)
	g.Status = statusOf(g.Members)

	if mode != ByConnection {
		g.Title = g.Key
		return
	}
	g.Title = fmt.Sprintf("conn_id: %s", strings.TrimPrefix(g.Key, "conn:"))
	if peer, ok := extract.ProxyPeer(g.Members); ok {
		g.ProxyPeer = peer
	}
	if extract.IsIPv4Literal(g.Host) {
		g.TargetIP = g.Host
	}
}

func statusOf(members []models.LogRecord) Status {
	warn := false
	for _, r := range members {
		if r.Level >= models.LevelError {
			return StatusError
		}
		if r.Level == models.LevelWarn {
			warn = true
		}
	}
	if warn {
		return StatusWarn
	}
	return StatusOK
}
