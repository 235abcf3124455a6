package agent

import (
	"regexp"
	"strings"
)

// Intent names the answer path a question takes.
type Intent string

const (
	// IntentAnalytics goes through the semantic layer pipeline.
	IntentAnalytics Intent = "analytics"
	// IntentIssueDetail answers with one raw issue record.
	IntentIssueDetail Intent = "issue_detail"
	// IntentIssueList answers with a raw listing of a project's issues.
	IntentIssueList Intent = "issue_list"
)

// Classification is the detected intent plus whatever identifiers the
// question carried.
type Classification struct {
	Intent     Intent
	IssueKey   string
	ProjectKey string
}

var (
	issueKeyRe   = regexp.MustCompile(`\b([A-Z][A-Z0-9]+-\d+)\b`)
	projectKeyRe = regexp.MustCompile(`\b(?:project|in)\s+([A-Z][A-Z0-9]{1,9})\b`)
	listVerbRe   = regexp.MustCompile(`(?i)\b(list|show|display|give me|what are)\b`)
)

// analyticsMarkers route a question to the semantic layer even when it
// also names an issue or project: "how many issues like PROJ-1" is a
// question about the dataset, not about PROJ-1.
var analyticsMarkers = []string{
	"how many", "count", "average", "avg", "sum", "total", "per ",
	"group", "grouped", "trend", "over time", "distribution",
	"breakdown", "most", "least", "top ", "rate", "percentage",
	"compare", "by ",
}

// Classify decides which path answers the question. Analytics markers
// take priority; then listing phrasing with a project key; then a bare
// issue key; anything else defaults to analytics.
func Classify(question string) Classification {
	lower := strings.ToLower(question)

	for _, marker := range analyticsMarkers {
		if strings.Contains(lower, marker) {
			return Classification{Intent: IntentAnalytics}
		}
	}

	if listVerbRe.MatchString(question) {
		if m := projectKeyRe.FindStringSubmatch(question); m != nil {
			return Classification{Intent: IntentIssueList, ProjectKey: m[1]}
		}
	}

	if m := issueKeyRe.FindStringSubmatch(question); m != nil {
		return Classification{Intent: IntentIssueDetail, IssueKey: m[1]}
	}

	return Classification{Intent: IntentAnalytics}
}
