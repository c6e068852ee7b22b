package report

import (
	"math"
	"strings"
)

// SchemeRow is one line of scheme_data.csv. Numeric fields that fail to
// parse are NaN.
type SchemeRow struct {
	Name       string
	Sites      float64
	LnL        float64
	Parameters float64
	Subsets    float64
	AIC        float64
	AICc       float64
	BIC        float64
}

const schemeFields = 8

// ParseSchemeRows parses scheme_data.csv (name,sites,lnL,parameters,subsets,
// aic,aicc,bic). The first non-blank line is the header. Lines with fewer
// than eight fields are dropped, as are rows whose AIC or BIC is not a
// finite number; other malformed numbers are kept as NaN.
func ParseSchemeRows(csv string) []SchemeRow {
	var lines []string
	for _, line := range splitLines(csv) {
		if strings.TrimSpace(line) != "" {
			lines = append(lines, line)
		}
	}
	if len(lines) < 2 {
		return nil
	}

	var rows []SchemeRow
	for _, line := range lines[1:] {
		parts := strings.Split(line, ",")
		if len(parts) < schemeFields {
			continue
		}
		row := SchemeRow{
			Name:       strings.TrimSpace(parts[0]),
			Sites:      parseNumber(parts[1]),
			LnL:        parseNumber(parts[2]),
			Parameters: parseNumber(parts[3]),
			Subsets:    parseNumber(parts[4]),
			AIC:        parseNumber(parts[5]),
			AICc:       parseNumber(parts[6]),
			BIC:        parseNumber(parts[7]),
		}
		if !isFinite(row.AIC) || !isFinite(row.BIC) {
			continue
		}
		rows = append(rows, row)
	}
	return rows
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
