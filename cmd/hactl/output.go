package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"sort"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/Ajpantuso/hactl/internal/cluster"
)

const (
	formatPretty = "pretty"
	formatJSON   = "json"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	leaderStyle = cellStyle.Foreground(lipgloss.Color("#00FF00"))
	borderStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888"))
)

func validateFormat(format string) error {
	switch format {
	case formatPretty, formatJSON:
		return nil
	default:
		return fmt.Errorf("unknown output format %q, expected %s or %s", format, formatPretty, formatJSON)
	}
}

type memberRow struct {
	Scope  string `json:"cluster"`
	Member string `json:"member"`
	Host   string `json:"host"`
	Role   string `json:"role"`
	State  string `json:"state"`
}

// memberRows lists the members of c ordered by name. A leader whose member
// entry is missing still gets a row.
func memberRows(scope string, c *cluster.Cluster) []memberRow {
	members := c.SortedMembers()
	if c.Leader != nil && c.Leader.Member.IsPlaceholder() {
		members = append(members, c.Leader.Member)
		sort.Slice(members, func(i, j int) bool { return members[i].Name < members[j].Name })
	}

	rows := make([]memberRow, 0, len(members))
	for _, m := range members {
		row := memberRow{
			Scope:  scope,
			Member: m.Name,
			Host:   hostOf(m.ConnURL()),
			Role:   c.Role(m.Name),
		}
		if fields, err := m.Fields(); err == nil {
			row.State, _ = fields["state"].(string)
		}
		rows = append(rows, row)
	}
	return rows
}

func hostOf(connURL string) string {
	if connURL == "" {
		return ""
	}
	u, err := url.Parse(connURL)
	if err != nil || u.Host == "" {
		return connURL
	}
	return u.Host
}

func printMembers(w io.Writer, format string, rows []memberRow) error {
	if format == formatJSON {
		return writeJSON(w, rows)
	}

	cells := make([][]string, 0, len(rows))
	for _, r := range rows {
		cells = append(cells, []string{r.Scope, r.Member, r.Host, r.Role, r.State})
	}
	t := newTable("Cluster", "Member", "Host", "Role", "State").
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return headerStyle
			case row < len(rows) && rows[row].Role == cluster.RoleMaster:
				return leaderStyle
			default:
				return cellStyle
			}
		}).
		Rows(cells...)

	_, err := fmt.Fprintln(w, t.String())
	return err
}

func printScopes(w io.Writer, format string, scopes []string) error {
	if format == formatJSON {
		if scopes == nil {
			scopes = []string{}
		}
		return writeJSON(w, scopes)
	}

	t := newTable("Cluster")
	for _, s := range scopes {
		t.Row(s)
	}
	_, err := fmt.Fprintln(w, t.String())
	return err
}

func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(borderStyle).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		}).
		Headers(headers...)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
