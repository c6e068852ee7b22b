package report

import (
	"math"
	"regexp"
	"strconv"
	"strings"
)

const (
	setsBlockOpen  = "begin sets;"
	setsBlockClose = "end;"
)

// Charset is one "charset <Name> = <range>;" declaration. Length is nil
// when no part of the range could be read; 0 means a genuinely empty range.
type Charset struct {
	Name   string `json:"name"`
	Range  string `json:"range"`
	Length *int   `json:"length"`
}

// ExtractSetsBlock returns the first "begin sets; ... end;" block exactly as
// it appears in text, delimiters included. A block without its closing
// delimiter is never returned.
func ExtractSetsBlock(text string) (string, bool) {
	start := strings.Index(text, setsBlockOpen)
	if start == -1 {
		return "", false
	}
	end := strings.Index(text[start:], setsBlockClose)
	if end == -1 {
		return "", false
	}
	return text[start : start+end+len(setsBlockClose)], true
}

var (
	charsetLine  = regexp.MustCompile(`(?i)^\s*charset\s+([^\s=]+)\s*=\s*(.+?);\s*$`)
	rangeToken   = regexp.MustCompile(`^([0-9]+)\s*-\s*([0-9]+)$`)
	integerToken = regexp.MustCompile(`^[0-9]+$`)
)

// ParseCharsets reads every charset declaration in a sets block, in order
func ParseCharsets(block string) []Charset {
	var charsets []Charset
	for _, line := range splitLines(block) {
		m := charsetLine.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		charsets = append(charsets, Charset{
			Name:   m[1],
			Range:  m[2],
			Length: RangeLength(m[2]),
		})
	}
	return charsets
}

// RangeLength counts the sites covered by a charset range such as
// "1-407, 800-900" or "1 3 5". Each comma-separated token is either an
// inclusive range a-b (b >= a) or a whitespace-separated list of integers;
// anything else contributes nothing. Returns nil when nothing contributed or
// the count does not fit in an int.
func RangeLength(expr string) *int {
	total := 0
	matched := false

	for _, token := range strings.Split(strings.ReplaceAll(expr, ";", ""), ",") {
		token = strings.TrimSpace(token)
		if token == "" {
			continue
		}

		if m := rangeToken.FindStringSubmatch(token); m != nil {
			a, errA := strconv.Atoi(m[1])
			b, errB := strconv.Atoi(m[2])
			if errA == nil && errB == nil && b >= a {
				n := b - a + 1
				if n <= 0 || total > math.MaxInt-n {
					// too large to count
					return nil
				}
				total += n
				matched = true
			}
			continue
		}

		fields := strings.Fields(token)
		listed := true
		for _, f := range fields {
			if !integerToken.MatchString(f) {
				listed = false
				break
			}
		}
		if listed {
			total += len(fields)
			matched = true
		}
	}

	if !matched {
		return nil
	}
	return &total
}
