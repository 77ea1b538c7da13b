// Package filter implements the glob/time-expansion selection engine (spec
// component C3): an ordered list of groups, each an ordered list of masks,
// matched against a candidate file name.
package filter

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Result is the three-valued outcome of matching one mask or group against
// a name, replacing the source's integer YES/NO/NEITHER sentinels (spec §9
// Design Note: "replace with three-valued enums per caller").
type Result int

const (
	// Miss means this mask/group made no decision; evaluation falls
	// through to the next one.
	Miss Result = iota
	// Match is a decisive acceptance.
	Match
	// Reject is a decisive refusal, short-circuiting the rest of the group.
	Reject
)

func (r Result) String() string {
	switch r {
	case Match:
		return "Match"
	case Reject:
		return "Reject"
	default:
		return "Miss"
	}
}

// Mask is one glob pattern within a group, decorated with the group's
// include/exclude sense.
type Mask struct {
	Pattern    string
	Exclude    bool // "-" rule: a match is decisive Reject rather than Match
	IgnoreCase bool

	re rewriteCache
}

// rewriteCache memoizes the last (expanded pattern -> compiled regexp)
// translation, since the same mask is evaluated against many names within
// one scan at the same "now".
type rewriteCache struct {
	expanded string
	compiled interface {
		MatchString(string) bool
	}
}

func (m *Mask) evaluate(name string, now time.Time) (Result, error) {
	expanded := expandTimeTokens(m.Pattern, now)
	if m.re.compiled == nil || m.re.expanded != expanded {
		re, err := compileGlob(expanded, m.IgnoreCase)
		if err != nil {
			return Miss, fmt.Errorf("filter: mask %q: %w", m.Pattern, err)
		}
		m.re.expanded = expanded
		m.re.compiled = re
	}
	if !m.re.compiled.MatchString(name) {
		return Miss, nil
	}
	if m.Exclude {
		return Reject, nil
	}
	return Match, nil
}

// Group is an ordered sequence of masks; the first mask to return a
// decisive result (Match or Reject) determines the group's outcome (spec
// §4.3: "the first mask that returns decisive ... determines the group
// outcome; unresolved mask results fall through").
type Group struct {
	Masks []Mask
}

func (g *Group) evaluate(name string, now time.Time) (Result, error) {
	for i := range g.Masks {
		r, err := g.Masks[i].evaluate(name, now)
		if err != nil {
			return Miss, err
		}
		if r != Miss {
			return r, nil
		}
	}
	return Miss, nil
}

// Filter is the full engine: a name matches when any group accepts it.
type Filter struct {
	Groups []Group
}

// New builds a Filter from groups of already-parsed masks.
func New(groups ...Group) *Filter {
	return &Filter{Groups: groups}
}

// Evaluate matches name against every group in order, returning Match as
// soon as one group accepts it, and Reject if no group ever does (spec
// §4.3: "A name matches the filter when any group accepts the name").
func (f *Filter) Evaluate(name string, now time.Time) (Result, error) {
	for i := range f.Groups {
		r, err := f.Groups[i].evaluate(name, now)
		if err != nil {
			return Reject, err
		}
		if r == Match {
			return Match, nil
		}
	}
	return Reject, nil
}

// ParseGroup parses one group's mask lines. Each line is "+ pattern" (an
// inclusion mask) or "- pattern" (an exclusion mask), the same sense
// convention as the teacher's own directory-level filter rules (FilterRule
// entries such as "- filter1" in fs/filter's own test fixtures). A
// trailing " i" marks the pattern case-insensitive.
func ParseGroup(lines []string) (Group, error) {
	g := Group{}
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if len(line) < 2 {
			return Group{}, fmt.Errorf("filter: malformed rule %q", line)
		}
		var exclude bool
		switch line[0] {
		case '+':
			exclude = false
		case '-':
			exclude = true
		default:
			return Group{}, fmt.Errorf("filter: rule %q must start with '+' or '-'", line)
		}
		pattern := strings.TrimSpace(line[1:])
		ignoreCase := false
		if strings.HasSuffix(pattern, " i") {
			ignoreCase = true
			pattern = strings.TrimSpace(strings.TrimSuffix(pattern, " i"))
		}
		if pattern == "" {
			return Group{}, fmt.Errorf("filter: rule %q has an empty pattern", line)
		}
		g.Masks = append(g.Masks, Mask{Pattern: pattern, Exclude: exclude, IgnoreCase: ignoreCase})
	}
	return g, nil
}

// expandTimeTokens expands strftime-style tokens against now (spec §4.3:
// "temporal tokens expanded against 'now'"). Unknown tokens pass through
// unexpanded so a literal percent sign in a pattern is not silently eaten.
func expandTimeTokens(pattern string, now time.Time) string {
	if !strings.ContainsRune(pattern, '%') {
		return pattern
	}
	var b strings.Builder
	runes := []rune(pattern)
	for i := 0; i < len(runes); i++ {
		if runes[i] != '%' || i+1 >= len(runes) {
			b.WriteRune(runes[i])
			continue
		}
		token := runes[i+1]
		expansion, ok := expandToken(token, now)
		if !ok {
			b.WriteRune(runes[i])
			continue
		}
		b.WriteString(expansion)
		i++
	}
	return b.String()
}

func expandToken(token rune, now time.Time) (string, bool) {
	switch token {
	case 'Y':
		return strconv.Itoa(now.Year()), true
	case 'y':
		return fmt.Sprintf("%02d", now.Year()%100), true
	case 'm':
		return fmt.Sprintf("%02d", int(now.Month())), true
	case 'd':
		return fmt.Sprintf("%02d", now.Day()), true
	case 'H':
		return fmt.Sprintf("%02d", now.Hour()), true
	case 'M':
		return fmt.Sprintf("%02d", now.Minute()), true
	case 'S':
		return fmt.Sprintf("%02d", now.Second()), true
	case 'j':
		return fmt.Sprintf("%03d", now.YearDay()), true
	case '%':
		return "%", true
	default:
		return "", false
	}
}
