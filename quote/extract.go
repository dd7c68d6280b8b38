package quote

import (
	"fmt"
	"regexp"
	"strings"
)

// numberExpr captures a locale number: "6.480,50", "6480", "5,42" or "5.42".
const numberExpr = `(\d{1,3}(?:\.\d{3})+(?:,\d+)?|\d+(?:[.,]\d+)?)`

// DefaultTemplates are tried in order; the first one that matches wins.
// {alias} expands to the instrument's aliases and {num} to a number capture.
var DefaultTemplates = []string{
	`{alias}\D{0,40}?{num}\D{1,40}?{num}`,
	`compra\D{0,20}?{alias}\D{0,20}?{num}`,
	`venta\D{0,20}?{alias}\D{0,20}?{num}`,
	`{alias}\D{0,20}?{num}`,
}

// Matcher inspects lower-cased page text and returns the raw numeric
// captures of its pattern, in order.
type Matcher func(text string) ([]string, bool)

// PatternSet is the ordered list of matchers for one instrument.
type PatternSet struct {
	matchers []Matcher
}

// NewPatternSet wraps already built matchers, mostly for tests.
func NewPatternSet(matchers ...Matcher) PatternSet {
	return PatternSet{matchers: matchers}
}

// Len returns the number of matchers.
func (p PatternSet) Len() int { return len(p.matchers) }

// CompilePatterns expands every template with the given aliases and compiles
// it. Aliases keep their order inside the alternation.
func CompilePatterns(aliases, templates []string) (PatternSet, error) {
	if len(aliases) == 0 {
		return PatternSet{}, fmt.Errorf("at least one alias is required")
	}
	if len(templates) == 0 {
		return PatternSet{}, fmt.Errorf("at least one pattern is required")
	}
	quoted := make([]string, 0, len(aliases))
	for _, a := range aliases {
		a = strings.ToLower(strings.TrimSpace(a))
		if a == "" {
			continue
		}
		quoted = append(quoted, regexp.QuoteMeta(a))
	}
	if len(quoted) == 0 {
		return PatternSet{}, fmt.Errorf("aliases are blank")
	}
	alt := "(?:" + strings.Join(quoted, "|") + ")"

	set := PatternSet{matchers: make([]Matcher, 0, len(templates))}
	for i, tpl := range templates {
		expr := strings.NewReplacer("{alias}", alt, "{num}", numberExpr).Replace(tpl)
		re, err := regexp.Compile(expr)
		if err != nil {
			return PatternSet{}, fmt.Errorf("pattern %d %q: %w", i, tpl, err)
		}
		if re.NumSubexp() == 0 {
			return PatternSet{}, fmt.Errorf("pattern %d %q has no number capture", i, tpl)
		}
		set.matchers = append(set.matchers, RegexpMatcher(re))
	}
	return set, nil
}

// RegexpMatcher adapts a compiled expression. Empty or unmatched groups are
// skipped, so optional groups collapse to a one-sided capture.
func RegexpMatcher(re *regexp.Regexp) Matcher {
	return func(text string) ([]string, bool) {
		m := re.FindStringSubmatch(text)
		if m == nil {
			return nil, false
		}
		caps := make([]string, 0, 2)
		for _, c := range m[1:] {
			if c != "" {
				caps = append(caps, c)
			}
		}
		return caps, len(caps) > 0
	}
}

// ExtractPrimary scans text for one instrument and returns its raw quote.
// current is the quote to fall back to when nothing matches; ok is false in
// that case. Ordering is not checked here.
func ExtractPrimary(text string, current Quote, patterns PatternSet) (Quote, bool) {
	lower := strings.ToLower(text)
	for _, match := range patterns.matchers {
		caps, ok := match(lower)
		if !ok {
			continue
		}
		if len(caps) >= 2 {
			return Quote{Buy: Normalize(caps[0]), Sell: Normalize(caps[1])}, true
		}
		// Only one side was mentioned: the larger value is taken as sell.
		v := Normalize(caps[0])
		q := current
		if v > current.Buy {
			q.Sell = v
		} else {
			q.Buy = v
		}
		return q, true
	}
	return current, false
}
