package report

import (
	"regexp"
	"strings"
)

// SubsetModel pairs a subset with the substitution model chosen for it
type SubsetModel struct {
	Subset string `json:"subset"`
	Model  string `json:"model"`
}

var charpartitionLine = regexp.MustCompile(`(?i)^\s*charpartition\s+\S+\s*=\s*(.+?)\s*;\s*$`)

// ParseSubsetModels reads the first "charpartition <Name> = model:subset, ...;"
// directive (the IQ-TREE section of best_scheme.txt). Malformed entries are
// skipped; the rest keep declaration order.
func ParseSubsetModels(text string) []SubsetModel {
	for _, line := range splitLines(text) {
		m := charpartitionLine.FindStringSubmatch(line)
		if m == nil {
			continue
		}

		var out []SubsetModel
		for _, entry := range strings.Split(m[1], ",") {
			entry = strings.TrimSpace(entry)
			if entry == "" {
				continue
			}
			parts := strings.Split(entry, ":")
			if len(parts) != 2 {
				continue
			}
			model := strings.TrimSpace(parts[0])
			subset := strings.TrimSpace(parts[1])
			if model == "" || subset == "" {
				continue
			}
			out = append(out, SubsetModel{Subset: subset, Model: model})
		}
		return out
	}
	return nil
}
