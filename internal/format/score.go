// Package format renders scores and donation amounts for chat and web output.
package format

import (
	"math"
	"strconv"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"
)

const defaultFractionDigits = 2

var printer = message.NewPrinter(language.English)

// FormatScore renders value with digit grouping and a fixed number of
// fraction digits. The optional arguments are the minimum and maximum
// fraction digits, both 2 when omitted. Rounding is half away from zero
// at the maximum precision.
func FormatScore(value float64, digits ...int) string {
	minFrac, maxFrac := defaultFractionDigits, defaultFractionDigits
	if len(digits) > 0 {
		minFrac = clampDigits(digits[0])
		maxFrac = minFrac
	}
	if len(digits) > 1 {
		maxFrac = clampDigits(digits[1])
	}
	if maxFrac < minFrac {
		maxFrac = minFrac
	}

	if math.IsNaN(value) || math.IsInf(value, 0) {
		return "-"
	}
	rounded := roundHalfAway(value, maxFrac)
	if rounded == 0 {
		rounded = 0 // drop negative zero
	}
	return printer.Sprint(number.Decimal(rounded,
		number.MinFractionDigits(minFrac),
		number.MaxFractionDigits(maxFrac),
	))
}

// FormatAmount prefixes a currency label to a whole-unit amount.
func FormatAmount(currency string, value float64) string {
	formatted := FormatScore(value, 0, 2)
	currency = strings.TrimSpace(currency)
	if currency == "" {
		return formatted
	}
	return currency + " " + formatted
}

// ParseScore reverses FormatScore's grouping so a rendered value can be
// formatted again.
func ParseScore(text string) (float64, bool) {
	clean := strings.ReplaceAll(strings.TrimSpace(text), ",", "")
	value, err := strconv.ParseFloat(clean, 64)
	if err != nil {
		return 0, false
	}
	return value, true
}

func roundHalfAway(value float64, digits int) float64 {
	scale := math.Pow(10, float64(digits))
	return math.Round(value*scale) / scale
}

func clampDigits(digits int) int {
	switch {
	case digits < 0:
		return 0
	case digits > 8:
		return 8
	default:
		return digits
	}
}
