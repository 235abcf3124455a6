package prompt

import (
	"fmt"
	"strings"

	"github.com/Nik853/semantic-layer-agent/internal/retriever"
	"github.com/Nik853/semantic-layer-agent/internal/schema"
)

// maxDescriptionRunes caps field descriptions in the prompt so one
// verbose schema comment cannot crowd out the rest of the context.
const maxDescriptionRunes = 120

const systemInstructions = `You translate analytics questions about project tracking data into JSON queries for a semantic layer.

Rules:
- Respond with a single JSON object and nothing else. No markdown, no prose.
- Use only field names listed under AVAILABLE FIELDS. Never invent fields.
- The object may contain: "measures", "dimensions", "timeDimensions", "filters", "order", "limit".
- Every "timeDimensions" entry needs a "dimension"; "granularity" is one of day, week, month, quarter, year.
- Every filter needs "member", "operator" and, unless the operator is "set" or "notSet", a "values" array of strings.
- Valid operators: equals, contains, gt, gte, lt, lte, set, notSet.
- When the question asks "how many" or "count", use a count measure rather than listing rows.`

// Input carries everything the compiler folds into one prompt.
type Input struct {
	Question        string
	Retrieved       *retriever.Result
	GlossaryTerms   []Term
	Index           *schema.Index
	RejectionReason string // non-empty on the regeneration pass
}

// Compile renders the full prompt. Output is byte-deterministic for
// identical inputs: section order, field order and formatting are all
// fixed, which keeps prompt-level caching and test assertions stable.
func Compile(in Input) string {
	var b strings.Builder

	b.WriteString(systemInstructions)
	b.WriteString("\n\n## AVAILABLE FIELDS\n")
	for _, hit := range in.Retrieved.Fields {
		writeField(&b, hit.Field)
	}

	if len(in.GlossaryTerms) > 0 {
		b.WriteString("\n## BUSINESS TERMS\n")
		for _, t := range in.GlossaryTerms {
			writeTerm(&b, t, in.Index)
		}
	}

	if len(in.Retrieved.Examples) > 0 {
		b.WriteString("\n## EXAMPLES\n")
		for _, hit := range in.Retrieved.Examples {
			if hit.Example.Query == nil {
				continue
			}
			fmt.Fprintf(&b, "Q: %s\nA: %s\n", hit.Example.Question, hit.Example.Query.CompactJSON())
		}
	}

	if in.RejectionReason != "" {
		b.WriteString("\n## PREVIOUS ATTEMPT FAILED\n")
		b.WriteString("The semantic layer rejected the previous query with this error:\n")
		b.WriteString(in.RejectionReason)
		b.WriteString("\nProduce a corrected query that avoids this error.\n")
	}

	b.WriteString("\n## QUESTION\n")
	b.WriteString(in.Question)
	b.WriteString("\n\nJSON query:")

	return b.String()
}

func writeField(b *strings.Builder, f schema.Field) {
	fmt.Fprintf(b, "- %s (%s", f.Name, f.Kind)
	if f.AggType != "" {
		fmt.Fprintf(b, ", %s", f.AggType)
	}
	b.WriteString(")")
	if f.Title != "" {
		fmt.Fprintf(b, ": %s", f.Title)
	}
	if desc := truncateRunes(f.Description, maxDescriptionRunes); desc != "" {
		fmt.Fprintf(b, ". %s", desc)
	}
	b.WriteString("\n")
}

func writeTerm(b *strings.Builder, t Term, ix *schema.Index) {
	fmt.Fprintf(b, "- %q means: %s", t.Term, t.Meaning)
	if t.FilterField != "" && ix != nil {
		if field, ok := ResolveFilterField(t.FilterField, ix); ok {
			fmt.Fprintf(b, " (filter %s on %s)", field, strings.Join(t.FilterValues, ", "))
		}
	}
	b.WriteString("\n")
}

func truncateRunes(s string, max int) string {
	s = strings.TrimSpace(s)
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return strings.TrimSpace(string(runes[:max])) + "..."
}
