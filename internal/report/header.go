package report

import (
	"math"
	"regexp"
	"strconv"
	"strings"
)

// BestSchemeHeader holds the summary statistics printed at the top of
// best_scheme.txt. A nil field was not reported (or not readable).
type BestSchemeHeader struct {
	SchemeName *string  `json:"scheme_name,omitempty"`
	LnL        *float64 `json:"lnl,omitempty"`
	AIC        *float64 `json:"aic,omitempty"`
	AICc       *float64 `json:"aicc,omitempty"`
	BIC        *float64 `json:"bic,omitempty"`
	Parameters *int     `json:"parameters,omitempty"`
	Sites      *int     `json:"sites,omitempty"`
	Subsets    *int     `json:"subsets,omitempty"`
}

// Empty reports whether no header field was found
func (h BestSchemeHeader) Empty() bool {
	return h.SchemeName == nil && h.LnL == nil && h.AIC == nil && h.AICc == nil &&
		h.BIC == nil && h.Parameters == nil && h.Sites == nil && h.Subsets == nil
}

// headerRule extracts one labelled field. Rules are independent: a missing
// or malformed line only affects its own field.
type headerRule struct {
	pattern *regexp.Regexp
	apply   func(h *BestSchemeHeader, value string)
}

// labelPattern matches "<label>: <value>" or "<label> <value>". The label
// must end at a colon or whitespace so "Scheme AIC" never matches a
// "Scheme AICc" line.
func labelPattern(label string) *regexp.Regexp {
	return regexp.MustCompile(`(?i)^\s*` + regexp.QuoteMeta(label) + `(?:\s*:\s*|\s+)(.+?)\s*$`)
}

func floatRule(label string, field func(h *BestSchemeHeader) **float64) headerRule {
	return headerRule{
		pattern: labelPattern(label),
		apply: func(h *BestSchemeHeader, value string) {
			if f, ok := parseFinite(value); ok {
				*field(h) = &f
			}
		},
	}
}

func intRule(label string, field func(h *BestSchemeHeader) **int) headerRule {
	return headerRule{
		pattern: labelPattern(label),
		apply: func(h *BestSchemeHeader, value string) {
			f, ok := parseFinite(value)
			if !ok || f != math.Trunc(f) || math.Abs(f) > math.MaxInt32 {
				return
			}
			n := int(f)
			*field(h) = &n
		},
	}
}

var headerRules = []headerRule{
	{
		pattern: labelPattern("Scheme Name"),
		apply: func(h *BestSchemeHeader, value string) {
			h.SchemeName = &value
		},
	},
	floatRule("Scheme lnL", func(h *BestSchemeHeader) **float64 { return &h.LnL }),
	floatRule("Scheme AIC", func(h *BestSchemeHeader) **float64 { return &h.AIC }),
	floatRule("Scheme AICc", func(h *BestSchemeHeader) **float64 { return &h.AICc }),
	floatRule("Scheme BIC", func(h *BestSchemeHeader) **float64 { return &h.BIC }),
	intRule("Number of params", func(h *BestSchemeHeader) **int { return &h.Parameters }),
	intRule("Number of sites", func(h *BestSchemeHeader) **int { return &h.Sites }),
	intRule("Number of subsets", func(h *BestSchemeHeader) **int { return &h.Subsets }),
}

// ParseHeader scans best_scheme.txt for the labelled summary lines. For each
// label the first matching line wins; numbers that do not parse as finite
// values leave the field nil.
func ParseHeader(text string) BestSchemeHeader {
	var h BestSchemeHeader
	lines := splitLines(text)
	for _, rule := range headerRules {
		for _, line := range lines {
			if m := rule.pattern.FindStringSubmatch(line); m != nil {
				rule.apply(&h, m[1])
				break
			}
		}
	}
	return h
}

func parseFinite(s string) (float64, bool) {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// parseNumber mirrors parseFinite but yields NaN instead of failing
func parseNumber(s string) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return math.NaN()
	}
	return f
}

func splitLines(text string) []string {
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSuffix(line, "\r")
	}
	return lines
}
