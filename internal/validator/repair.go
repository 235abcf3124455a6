// Package validator parses raw model output into the wire query type,
// repairs common generation artifacts, checks the result against the
// schema index and normalizes it for execution.
package validator

import (
	"encoding/json"
	"regexp"
	"strings"
)

// Language models wrap JSON in markdown fences, use typographic quotes,
// leave trailing commas and occasionally drop a comma or a closing
// bracket. Each repair below targets one artifact actually seen in
// model output; the pipeline applies them in fixed order and reparses.

var (
	codeFenceRe     = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)\\s*```")
	trailingCommaRe = regexp.MustCompile(`,(\s*[}\]])`)
	missingCommaRe  = regexp.MustCompile(`([}\]"])(\s*\n\s*)(["{\[])`)
)

var quoteReplacer = strings.NewReplacer(
	"“", `"`, // left double quotation
	"”", `"`, // right double quotation
	"‘", "'", // left single quotation
	"’", "'", // right single quotation
	"«", `"`, // left guillemet
	"»", `"`, // right guillemet
)

// ExtractJSON pulls the best JSON candidate out of raw model output:
// fence content if fenced, otherwise the outermost {...} span.
func ExtractJSON(raw string) string {
	s := strings.TrimSpace(raw)

	if m := codeFenceRe.FindStringSubmatch(s); m != nil {
		s = strings.TrimSpace(m[1])
	}

	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start >= 0 && end > start {
		s = s[start : end+1]
	}
	return s
}

// Repair applies the artifact fixes. The result is not guaranteed to
// parse; callers reparse and decide.
func Repair(s string) string {
	s = quoteReplacer.Replace(s)
	s = stripControlChars(s)
	s = trailingCommaRe.ReplaceAllString(s, "$1")
	s = missingCommaRe.ReplaceAllString(s, "$1,$2$3")
	s = balanceBrackets(s)
	return s
}

// ParseLoose tries the raw text first, then extraction, then extraction
// plus repair. Returns the first variant that parses as a JSON object.
func ParseLoose(raw string) (map[string]interface{}, bool) {
	for _, candidate := range []string{
		strings.TrimSpace(raw),
		ExtractJSON(raw),
		Repair(ExtractJSON(raw)),
	} {
		if candidate == "" {
			continue
		}
		var obj map[string]interface{}
		if err := json.Unmarshal([]byte(candidate), &obj); err == nil {
			return obj, true
		}
	}
	return nil, false
}

func stripControlChars(s string) string {
	return strings.Map(func(r rune) rune {
		if r < 0x20 && r != '\n' && r != '\t' && r != '\r' {
			return -1
		}
		return r
	}, s)
}

// balanceBrackets appends missing closers for brackets still open at end
// of input, tracking strings so braces inside values don't count.
func balanceBrackets(s string) string {
	var stack []byte
	inString := false
	escaped := false

	for i := 0; i < len(s); i++ {
		c := s[i]
		if escaped {
			escaped = false
			continue
		}
		switch {
		case c == '\\' && inString:
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
		case c == '{':
			stack = append(stack, '}')
		case c == '[':
			stack = append(stack, ']')
		case c == '}' || c == ']':
			if len(stack) > 0 && stack[len(stack)-1] == c {
				stack = stack[:len(stack)-1]
			}
		}
	}

	if inString {
		s += `"`
	}
	for i := len(stack) - 1; i >= 0; i-- {
		s += string(stack[i])
	}
	return s
}
