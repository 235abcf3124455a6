// Package prompt compiles the constrained generation prompt from the
// retrieved schema context, the business glossary and the question.
package prompt

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/Nik853/semantic-layer-agent/internal/schema"
)

// Term is a business vocabulary entry. FilterField may use a "*.suffix"
// wildcard that resolves against the live catalogue, so the glossary
// survives entity renames.
type Term struct {
	Term         string   `yaml:"term"`
	Meaning      string   `yaml:"meaning"`
	FilterField  string   `yaml:"filter_field,omitempty"`
	FilterValues []string `yaml:"filter_values,omitempty"`
	Aliases      []string `yaml:"aliases,omitempty"`
}

// Glossary maps domain words in questions to schema-level meaning.
type Glossary struct {
	terms    []Term
	patterns []*regexp.Regexp // parallel to terms, word-boundary alternation
}

type glossaryFile struct {
	Terms []Term `yaml:"terms"`
}

// LoadGlossary reads the YAML glossary. A missing file yields an empty
// glossary, not an error, so deployments without one still work.
func LoadGlossary(path string) (*Glossary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return NewGlossary(nil), nil
		}
		return nil, fmt.Errorf("failed to read glossary %s: %w", path, err)
	}

	var file glossaryFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse glossary %s: %w", path, err)
	}
	return NewGlossary(file.Terms), nil
}

// wordBoundary is an explicit non-word class. RE2's \b is ASCII-only
// and never matches around Cyrillic terms, which the glossary carries.
const wordBoundary = `[^\p{L}\p{N}_]`

// NewGlossary builds the matcher for a term list.
func NewGlossary(terms []Term) *Glossary {
	g := &Glossary{terms: terms}
	for _, t := range terms {
		words := append([]string{t.Term}, t.Aliases...)
		quoted := make([]string, 0, len(words))
		for _, w := range words {
			w = strings.TrimSpace(w)
			if w != "" {
				quoted = append(quoted, regexp.QuoteMeta(strings.ToLower(w)))
			}
		}
		if len(quoted) == 0 {
			g.patterns = append(g.patterns, nil)
			continue
		}
		expr := `(?:\A|` + wordBoundary + `)(?:` + strings.Join(quoted, "|") + `)(?:` + wordBoundary + `|\z)`
		g.patterns = append(g.patterns, regexp.MustCompile(expr))
	}
	return g
}

// Terms returns all entries in file order.
func (g *Glossary) Terms() []Term {
	return g.terms
}

// FindTerms returns the entries whose term or alias appears in the
// question, in glossary file order.
func (g *Glossary) FindTerms(question string) []Term {
	lower := strings.ToLower(question)
	var matched []Term
	for i, t := range g.terms {
		if g.patterns[i] != nil && g.patterns[i].MatchString(lower) {
			matched = append(matched, t)
		}
	}
	return matched
}

// ResolveFilterField turns a term's filter field into a concrete
// catalogue field. "*.statusCategory" matches the first field whose
// attribute part equals statusCategory; exact names pass through the
// index's fuzzy resolution.
func ResolveFilterField(pattern string, ix *schema.Index) (string, bool) {
	if pattern == "" {
		return "", false
	}
	if suffix, ok := strings.CutPrefix(pattern, "*."); ok {
		for _, f := range ix.Fields() {
			if i := strings.LastIndex(f.Name, "."); i >= 0 && f.Name[i+1:] == suffix {
				return f.Name, true
			}
		}
		return "", false
	}
	return ix.ResolveField(pattern)
}
