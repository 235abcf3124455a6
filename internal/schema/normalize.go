package schema

import "strings"

// resolveFuzzy tries to map a member name the model invented onto a real
// field. The pipeline runs cheapest-first: case folding, delimiter
// stripping, singularization, entity-prefix stripping, then suffix and
// substring matching with minimum lengths to keep false positives out.
// The first field (in insertion order) that matches wins, so resolution
// is deterministic for a given index.
func resolveFuzzy(name string, fields []Field) (string, bool) {
	entity, attr := splitMember(name)
	want := foldKey(attr)
	if want == "" {
		return "", false
	}
	wantSingular := singularize(want)

	// Pass 1: folded or singularized exact match on the attribute part,
	// preferring fields from the same entity.
	passes := []bool{true, false}
	if entity == "" {
		passes = []bool{false}
	}
	for _, sameEntityOnly := range passes {
		for _, f := range fields {
			if sameEntityOnly && !strings.EqualFold(f.Entity, entity) {
				continue
			}
			_, fattr := splitMember(f.Name)
			got := foldKey(fattr)
			if got == want || got == wantSingular || singularize(got) == wantSingular {
				return f.Name, true
			}
		}
	}

	// Pass 2: suffix match. "points" resolves to "storypoints"-style
	// near misses only when the overlap is long enough to be meaningful.
	for _, cand := range []string{want, wantSingular} {
		if len(cand) < 5 {
			continue
		}
		for _, f := range fields {
			_, fattr := splitMember(f.Name)
			got := foldKey(fattr)
			if strings.HasSuffix(got, cand) || strings.HasSuffix(cand, got) {
				return f.Name, true
			}
		}
	}

	// Pass 3: substring match, longer minimum still.
	for _, cand := range []string{want, wantSingular} {
		if len(cand) < 6 {
			continue
		}
		for _, f := range fields {
			_, fattr := splitMember(f.Name)
			got := foldKey(fattr)
			if strings.Contains(got, cand) || strings.Contains(cand, got) {
				return f.Name, true
			}
		}
	}

	return "", false
}

// splitMember splits "Issues.count" into ("Issues", "count"). Bare names
// come back with an empty entity.
func splitMember(name string) (entity, attr string) {
	if i := strings.Index(name, "."); i >= 0 {
		return name[:i], name[i+1:]
	}
	return "", name
}

// foldKey lowercases and strips delimiters so "created_at", "CreatedAt"
// and "created-at" all compare equal.
func foldKey(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch r {
		case '_', '-', ' ', '.':
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// singularize applies a few English plural rules, enough for schema
// attribute names. It is not a general stemmer.
func singularize(s string) string {
	switch {
	case len(s) > 3 && strings.HasSuffix(s, "ies"):
		return s[:len(s)-3] + "y"
	case len(s) > 4 && (strings.HasSuffix(s, "ses") || strings.HasSuffix(s, "xes")):
		return s[:len(s)-2]
	case len(s) > 3 && strings.HasSuffix(s, "es") && !strings.HasSuffix(s, "ses"):
		return s[:len(s)-1]
	case len(s) > 2 && strings.HasSuffix(s, "s") && !strings.HasSuffix(s, "ss"):
		return s[:len(s)-1]
	}
	return s
}
