package rules

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// Bindings maps wildcard names to the concrete values bound by matching a
// pattern against a path.
type Bindings map[string]string

// Key returns a canonical string form of the bindings, suitable for use as
// a map key when memoizing jobs by (rule, bindings).
func (b Bindings) Key() string {
	if len(b) == 0 {
		return ""
	}
	names := make([]string, 0, len(b))
	for name := range b {
		names = append(names, name)
	}
	sort.Strings(names)

	var sb strings.Builder
	for i, name := range names {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(name)
		sb.WriteByte('=')
		sb.WriteString(b[name])
	}
	return sb.String()
}

// Pattern is a compiled path pattern containing named wildcards.
//
// A pattern like "mapped/{sample}.sam" matches concrete paths by binding
// each wildcard greedily against non-separator characters, unless a
// constraint regex overrides the default for that wildcard.
//
// A Pattern is safe for concurrent use after compilation.
type Pattern struct {
	raw       string
	re        *regexp.Regexp
	wildcards []string
	parts     []patternPart

	// groups maps regexp capture-group names back to wildcard names.
	// Repeated wildcards need distinct group names, so the group name is
	// not always the wildcard name.
	groups map[string]string
}

type patternPart interface {
	appendExpanded(dst *strings.Builder, b Bindings) error
}

type literalPart string

type wildcardPart string

func (p literalPart) appendExpanded(dst *strings.Builder, _ Bindings) error {
	dst.WriteString(string(p))
	return nil
}

func (p wildcardPart) appendExpanded(dst *strings.Builder, b Bindings) error {
	value, ok := b[string(p)]
	if !ok {
		return fmt.Errorf("wildcard {%s} has no binding", string(p))
	}
	dst.WriteString(value)
	return nil
}

// defaultWildcardExpr matches any run of non-separator characters.
const defaultWildcardExpr = `[^/]+`

var wildcardNameRE = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// CompilePattern parses a path pattern into a Pattern.
//
// constraints optionally overrides the matching expression for individual
// wildcards; each value must be a valid regular expression. Wildcards
// without a constraint use the default non-separator rule.
func CompilePattern(raw string, constraints map[string]string) (*Pattern, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, fmt.Errorf("empty path pattern")
	}

	var (
		parts     []patternPart
		wildcards []string
	)
	seen := make(map[string]bool)

	s := raw
	for len(s) > 0 {
		open := strings.IndexByte(s, '{')
		if open == -1 {
			if strings.IndexByte(s, '}') != -1 {
				return nil, fmt.Errorf("unmatched '}' in pattern %q", raw)
			}
			parts = append(parts, literalPart(s))
			break
		}
		if open > 0 {
			lit := s[:open]
			if strings.IndexByte(lit, '}') != -1 {
				return nil, fmt.Errorf("unmatched '}' in pattern %q", raw)
			}
			parts = append(parts, literalPart(lit))
			s = s[open:]
		}

		closeIdx := strings.IndexByte(s, '}')
		if closeIdx == -1 {
			return nil, fmt.Errorf("unclosed wildcard in pattern %q", raw)
		}

		name := s[1:closeIdx]
		s = s[closeIdx+1:]

		if !wildcardNameRE.MatchString(name) {
			return nil, fmt.Errorf("invalid wildcard name {%s} in pattern %q", name, raw)
		}

		if _, ok := constraints[name]; ok && constraints[name] != "" {
			if _, err := regexp.Compile(constraints[name]); err != nil {
				return nil, fmt.Errorf("invalid constraint for wildcard {%s}: %w", name, err)
			}
		}

		parts = append(parts, wildcardPart(name))
		if !seen[name] {
			seen[name] = true
			wildcards = append(wildcards, name)
		}
	}

	// Build the regexp in a second pass so capture-group names for
	// repeated wildcards can be chosen without colliding with any
	// declared wildcard name.
	groups := make(map[string]string)
	used := make(map[string]bool)

	var reBuf strings.Builder
	reBuf.WriteString(`\A`)
	for _, part := range parts {
		switch p := part.(type) {
		case literalPart:
			reBuf.WriteString(regexp.QuoteMeta(string(p)))
		case wildcardPart:
			name := string(p)
			expr := defaultWildcardExpr
			if c, ok := constraints[name]; ok && c != "" {
				expr = c
			}
			group := name
			if used[group] {
				// Repeated wildcard: subsequent occurrences must bind
				// the same value, enforced in Match via the groups map.
				for n := 2; ; n++ {
					g := fmt.Sprintf("%s_%d", name, n)
					if !used[g] && !seen[g] {
						group = g
						break
					}
				}
			}
			used[group] = true
			groups[group] = name
			reBuf.WriteString(`(?P<` + group + `>` + expr + `)`)
		}
	}
	reBuf.WriteString(`\z`)

	re, err := regexp.Compile(reBuf.String())
	if err != nil {
		return nil, fmt.Errorf("compile pattern %q: %w", raw, err)
	}

	return &Pattern{
		raw:       raw,
		re:        re,
		wildcards: wildcards,
		parts:     parts,
		groups:    groups,
	}, nil
}

// String returns the original pattern text.
func (p *Pattern) String() string { return p.raw }

// Wildcards returns the wildcard names in order of first appearance.
func (p *Pattern) Wildcards() []string {
	out := make([]string, len(p.wildcards))
	copy(out, p.wildcards)
	return out
}

// HasWildcards reports whether the pattern contains any wildcard.
func (p *Pattern) HasWildcards() bool { return len(p.wildcards) > 0 }

// Match attempts to bind the pattern's wildcards against a concrete path.
//
// Returns the bindings and true on a match. Repeated wildcards must bind
// identical values for the match to succeed.
func (p *Pattern) Match(path string) (Bindings, bool) {
	m := p.re.FindStringSubmatch(path)
	if m == nil {
		return nil, false
	}

	bindings := make(Bindings, len(p.wildcards))
	for i, group := range p.re.SubexpNames() {
		if i == 0 || group == "" {
			continue
		}
		name, ok := p.groups[group]
		if !ok {
			// A capture group inside a user-supplied constraint
			// expression, not one of ours.
			continue
		}
		if prev, ok := bindings[name]; ok {
			if prev != m[i] {
				return nil, false
			}
			continue
		}
		bindings[name] = m[i]
	}
	return bindings, true
}

// Expand substitutes bindings into the pattern, producing a concrete path.
//
// Every wildcard in the pattern must be present in bindings.
func (p *Pattern) Expand(b Bindings) (string, error) {
	var sb strings.Builder
	for _, part := range p.parts {
		if err := part.appendExpanded(&sb, b); err != nil {
			return "", fmt.Errorf("expand %q: %w", p.raw, err)
		}
	}
	return sb.String(), nil
}
