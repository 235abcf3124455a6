// Package renderer formats result sets and raw records into the plain
// text answers the agent returns. Rendering is deterministic: the same
// result always produces the same bytes.
package renderer

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/Nik853/semantic-layer-agent/internal/lookup"
	"github.com/Nik853/semantic-layer-agent/pkg/cube"
)

const (
	// maxDisplayRows caps tabular answers; the full count is still named.
	maxDisplayRows = 10
	// maxListIssues caps issue listings.
	maxListIssues = 15
)

// RenderResult renders a semantic layer answer for the asked query.
func RenderResult(query *cube.Query, rs *cube.ResultSet) string {
	if len(rs.Data) == 0 {
		return "No results found for this question."
	}

	// A single row with a single measure and no dimensions reads better
	// as a sentence than as a table.
	if len(rs.Data) == 1 && len(query.Measures) == 1 && len(query.Dimensions) == 0 && len(query.TimeDimensions) == 0 {
		value := formatValue(rs.Data[0][query.Measures[0]])
		return fmt.Sprintf("%s: %s", shortName(query.Measures[0]), value)
	}

	columns := resultColumns(query, rs.Data[0])

	var b strings.Builder
	b.WriteString(strings.Join(shortNames(columns), " | "))
	b.WriteString("\n")

	shown := len(rs.Data)
	if shown > maxDisplayRows {
		shown = maxDisplayRows
	}
	for _, row := range rs.Data[:shown] {
		cells := make([]string, len(columns))
		for i, col := range columns {
			cells[i] = formatValue(row[col])
		}
		b.WriteString(strings.Join(cells, " | "))
		b.WriteString("\n")
	}

	if len(rs.Data) > shown {
		fmt.Fprintf(&b, "... and %d more rows (%d total)\n", len(rs.Data)-shown, len(rs.Data))
	}
	return strings.TrimRight(b.String(), "\n")
}

// RenderIssue renders one issue with its comments and links.
func RenderIssue(issue *lookup.Issue, comments []lookup.Comment, links []lookup.Link) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s\n", issue.Key, issue.Summary)

	writeAttr(&b, "Status", issue.Status)
	writeAttr(&b, "Priority", issue.Priority)
	writeAttr(&b, "Type", issue.IssueType)
	writeAttr(&b, "Assignee", issue.Assignee)
	writeAttr(&b, "Reporter", issue.Reporter)
	writeAttr(&b, "Created", issue.CreatedAt)
	writeAttr(&b, "Updated", issue.UpdatedAt)

	if issue.Description != "" {
		fmt.Fprintf(&b, "\n%s\n", strings.TrimSpace(issue.Description))
	}

	if len(links) > 0 {
		b.WriteString("\nLinks:\n")
		for _, l := range links {
			fmt.Fprintf(&b, "- %s %s: %s\n", l.Type, l.IssueKey, l.Summary)
		}
	}

	if len(comments) > 0 {
		fmt.Fprintf(&b, "\nComments (%d):\n", len(comments))
		for _, c := range comments {
			fmt.Fprintf(&b, "- %s: %s\n", c.Author, strings.TrimSpace(c.Body))
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

// RenderIssueList renders a capped listing of issues.
func RenderIssueList(issues []lookup.Issue) string {
	if len(issues) == 0 {
		return "No issues found."
	}

	shown := len(issues)
	if shown > maxListIssues {
		shown = maxListIssues
	}

	var b strings.Builder
	for _, issue := range issues[:shown] {
		fmt.Fprintf(&b, "- %s: %s", issue.Key, issue.Summary)
		if issue.Status != "" {
			fmt.Fprintf(&b, " [%s]", issue.Status)
		}
		b.WriteString("\n")
	}
	if len(issues) > shown {
		fmt.Fprintf(&b, "... and %d more (%d total)\n", len(issues)-shown, len(issues))
	}
	return strings.TrimRight(b.String(), "\n")
}

// resultColumns orders columns as the query named them: dimensions,
// time dimensions, then measures. Columns the layer did not return are
// skipped; columns it invented are ignored, the query is the contract.
func resultColumns(query *cube.Query, first cube.Row) []string {
	var columns []string
	seen := make(map[string]bool)
	add := func(name string) {
		if !seen[name] {
			if _, ok := first[name]; ok {
				columns = append(columns, name)
				seen[name] = true
			}
		}
	}

	for _, d := range query.Dimensions {
		add(d)
	}
	for _, td := range query.TimeDimensions {
		if td.Granularity != "" {
			add(td.Dimension + "." + td.Granularity)
		}
		add(td.Dimension)
	}
	for _, m := range query.Measures {
		add(m)
	}
	return columns
}

// formatValue renders a cell. Integral floats print without a decimal
// point; other floats round to two places.
func formatValue(v interface{}) string {
	switch x := v.(type) {
	case nil:
		return "-"
	case float64:
		if x == float64(int64(x)) {
			return strconv.FormatInt(int64(x), 10)
		}
		return strconv.FormatFloat(x, 'f', 2, 64)
	case string:
		if x == "" {
			return "-"
		}
		return x
	default:
		return fmt.Sprintf("%v", x)
	}
}

func shortNames(columns []string) []string {
	out := make([]string, len(columns))
	for i, c := range columns {
		out[i] = shortName(c)
	}
	return out
}

// shortName strips the entity prefix for display: Issues.count -> count.
func shortName(member string) string {
	if i := strings.LastIndex(member, "."); i >= 0 {
		return member[i+1:]
	}
	return member
}

func writeAttr(b *strings.Builder, label, value string) {
	if value != "" {
		fmt.Fprintf(b, "%s: %s\n", label, value)
	}
}
