// Package severity classifies how risky a value change is. It is the single
// shared implementation used by both the drift engine and the reconciliation
// engine; severity must be computed identically wherever it is needed.
package severity

import (
	"math"
	"strconv"
	"strings"

	"redline/internal/workspace"
)

// Level orders change severity.
type Level string

const (
	Low    Level = "low"
	Medium Level = "medium"
	High   Level = "high"
)

// Thresholds for numeric changes in financial and covenant categories,
// in percent.
const (
	highThreshold   = 10
	mediumThreshold = 5
)

// Classify returns the severity of changing a value from baseline to
// current for the given category.
//
// Both values are reduced to their numeric content and parsed. When both
// parse and the baseline is non-zero, the absolute percent change drives
// the level for financial and covenant categories. Non-numeric changes to
// definitions are always medium: textual definition changes are inherently
// risk-bearing. Everything else is low.
func Classify(category workspace.Category, baseline, current string) Level {
	baseNum, baseOK := parseNumeric(baseline)
	currNum, currOK := parseNumeric(current)

	if baseOK && currOK && baseNum != 0 {
		if category == workspace.CategoryFinancial || category == workspace.CategoryCovenant {
			change := math.Abs((currNum-baseNum)/baseNum) * 100
			switch {
			case change >= highThreshold:
				return High
			case change >= mediumThreshold:
				return Medium
			default:
				return Low
			}
		}
		return Low
	}

	if category == workspace.CategoryDefinition {
		return Medium
	}
	return Low
}

// parseNumeric strips everything but digits, signs, and the decimal point,
// then parses the remainder. "$1,150,000" parses as 1150000.
func parseNumeric(s string) (float64, bool) {
	var b strings.Builder
	for _, r := range s {
		if (r >= '0' && r <= '9') || r == '.' || r == '-' || r == '+' {
			b.WriteRune(r)
		}
	}
	cleaned := b.String()
	if cleaned == "" {
		return 0, false
	}
	n, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}
