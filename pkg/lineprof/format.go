package lineprof

import (
	"fmt"
	"strconv"
)

// FormatGeneral renders v with six significant digits, switching to
// scientific notation when the decimal exponent is below -4 or at least 6.
// Trailing zeros are trimmed, so 1e-06 renders as "1e-06" and 0.5 as "0.5".
func FormatGeneral(v float64) string {
	return strconv.FormatFloat(v, 'g', 6, 64)
}

// FormatFixed1 renders v right-aligned in five columns with one decimal.
func FormatFixed1(v float64) string {
	return fmt.Sprintf("%5.1f", v)
}

// Seconds renders a duration in seconds the way the report header shows it.
func Seconds(v float64) string {
	return FormatGeneral(v) + " s"
}
