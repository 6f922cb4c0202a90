package format

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatScore(t *testing.T) {
	testCases := []struct {
		name   string
		value  float64
		digits []int
		want   string
	}{
		{name: "defaults", value: 100, want: "100.00"},
		{name: "grouping", value: 1234567.891, want: "1,234,567.89"},
		{name: "no fraction rounds half up", value: 1234.5, digits: []int{0, 0}, want: "1,235"},
		{name: "trailing zeros trimmed to min", value: 12.5, digits: []int{0, 2}, want: "12.5"},
		{name: "negative", value: -42.125, want: "-42.13"},
		{name: "negative zero", value: -0.001, want: "0.00"},
		{name: "not a number", value: math.NaN(), want: "-"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, FormatScore(tc.value, tc.digits...))
		})
	}
}

func TestFormatScoreIsIdempotent(t *testing.T) {
	for _, value := range []float64{0, 1, 99.999, 1234.5, 1e6 + 0.005, -17.25} {
		first := FormatScore(value)
		parsed, ok := ParseScore(first)
		require.True(t, ok, first)
		assert.Equal(t, first, FormatScore(parsed))
	}
}

func TestFormatAmount(t *testing.T) {
	assert.Equal(t, "Rp 25,000", FormatAmount("Rp", 25000))
	assert.Equal(t, "10.5", FormatAmount("", 10.5))
}
