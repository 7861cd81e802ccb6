// Package validate decides whether spreadsheet cell values are usable sweep
// results.
package validate

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Spreadsheet formula error markers. A cell showing one of these means the
// remote calculation failed for the current inputs.
var errorTokens = map[string]struct{}{
	"#N/A":    {},
	"#DIV/0!": {},
	"#ERROR!": {},
	"#VALUE!": {},
	"#REF!":   {},
	"#NAME?":  {},
	"#NUM!":   {},
}

// placeholder marks template cells whose formula has not been bound to real
// inputs yet.
const placeholder = "target"

// IsValidValue reports whether a cell value is settled and usable: not blank,
// not a formula error marker and not a template placeholder. A literal zero
// is a valid value.
func IsValidValue(value string) bool {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return false
	}
	if _, ok := errorTokens[trimmed]; ok {
		return false
	}
	if HasPlaceholder(trimmed) {
		return false
	}
	return true
}

// IsHardError reports whether a cell value is a formula error marker. Hard
// errors never settle, so polling further is pointless.
func IsHardError(value string) bool {
	trimmed := strings.TrimSpace(value)
	if _, ok := errorTokens[trimmed]; ok {
		return true
	}
	return strings.HasPrefix(trimmed, "#")
}

// HasPlaceholder reports whether a cell value still contains the template
// placeholder.
func HasPlaceholder(value string) bool {
	return strings.Contains(strings.ToLower(value), placeholder)
}

// IsValidNumeric reports whether a cell value parses as a number after
// normalization. Zero is rejected unless allowZero is set, since an
// unexpectedly zero metric usually means the calculation has not run.
func IsValidNumeric(value string, allowZero bool) bool {
	if !IsValidValue(value) {
		return false
	}

	n, err := strconv.ParseFloat(Normalize(value), 64)
	if err != nil {
		return false
	}
	if n == 0 && !allowZero {
		return false
	}
	return true
}

// Normalize converts a displayed cell value into a plain machine-readable
// number string: thousands separators are stripped and percentages are
// divided by 100.
func Normalize(value string) string {
	trimmed := strings.TrimSpace(value)
	trimmed = strings.ReplaceAll(trimmed, ",", "")

	if strings.HasSuffix(trimmed, "%") {
		n, err := strconv.ParseFloat(strings.TrimSuffix(trimmed, "%"), 64)
		if err != nil {
			return trimmed
		}
		return strconv.FormatFloat(n/100, 'f', -1, 64)
	}

	return trimmed
}

// ValidateResultSet checks a harvested result set and returns every reason it
// is not usable, keyed by the offending cell address.
func ValidateResultSet(values map[string]string) []string {
	var reasons []string
	for address, value := range values {
		trimmed := strings.TrimSpace(value)
		switch {
		case trimmed == "":
			reasons = append(reasons, fmt.Sprintf("cell %s is blank", address))
		case IsHardError(trimmed):
			reasons = append(reasons, fmt.Sprintf("cell %s has error marker %q", address, trimmed))
		case HasPlaceholder(trimmed):
			reasons = append(reasons, fmt.Sprintf("cell %s still shows the template placeholder", address))
		}
	}
	sort.Strings(reasons)
	return reasons
}
