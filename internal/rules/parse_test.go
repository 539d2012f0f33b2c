// internal/rules/parse_test.go
package rules

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ==========================
// Magnitude Value Parsing
// ==========================

func TestParseMagnitudeValue_GroupedCurrency(t *testing.T) {
	est := ParseMagnitudeValue("₹1,20,000")

	require.NotNil(t, est.Min)
	require.NotNil(t, est.Max)
	assert.Equal(t, float64(120000), *est.Min)
	assert.Equal(t, float64(120000), *est.Max)
}

func TestParseMagnitudeValue_LakhRange(t *testing.T) {
	est := ParseMagnitudeValue("5 lakh - 8 lakh")

	require.NotNil(t, est.Min)
	require.NotNil(t, est.Max)
	assert.Equal(t, float64(500000), *est.Min)
	assert.Equal(t, float64(800000), *est.Max)
}

func TestParseMagnitudeValue_Table(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		wantMin float64
		wantMax float64
	}{
		{
			name:    "lone plain number",
			text:    "25000",
			wantMin: 25000,
			wantMax: 25000,
		},
		{
			name:    "single lakh value",
			text:    "Approx. 2.5 lakh",
			wantMin: 250000,
			wantMax: 250000,
		},
		{
			name:    "crore value",
			text:    "1 crore",
			wantMin: 10000000,
			wantMax: 10000000,
		},
		{
			name:    "mixed range lakh to crore",
			text:    "50 lakh - 1 crore",
			wantMin: 5000000,
			wantMax: 10000000,
		},
		{
			name:    "rupee prefix with spaces",
			text:    "Rs. 3,50,000 to Rs. 7,00,000",
			wantMin: 350000,
			wantMax: 700000,
		},
		{
			name: "unscaled number after a scaled one is not multiplied",
			// The trailing 500 has no magnitude word of its own, so it
			// keeps its literal value even though "lakh" appears earlier.
			text:    "2 lakh budget, sample size 500",
			wantMin: 200000,
			wantMax: 500,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			est := ParseMagnitudeValue(tt.text)
			require.NotNil(t, est.Min, "min should be parsed")
			require.NotNil(t, est.Max, "max should be parsed")

			// min/max are normalized so min <= max
			wantMin, wantMax := tt.wantMin, tt.wantMax
			if wantMax < wantMin {
				wantMin, wantMax = wantMax, wantMin
			}
			assert.Equal(t, wantMin, *est.Min)
			assert.Equal(t, wantMax, *est.Max)
			assert.Equal(t, tt.text, est.Raw)
		})
	}
}

func TestParseMagnitudeValue_Unparseable(t *testing.T) {
	for _, text := range []string{"", "negotiable", "on request", "₹"} {
		est := ParseMagnitudeValue(text)
		assert.Nil(t, est.Min, "min must stay nil for %q", text)
		assert.Nil(t, est.Max, "max must stay nil for %q", text)
		assert.Equal(t, text, est.Raw)
	}
}

func TestParseMagnitudeValue_UnknownIsNotZero(t *testing.T) {
	est := ParseMagnitudeValue("negotiable")
	require.Nil(t, est.Min)

	// Floor substitutes zero only where a check explicitly wants a floor.
	assert.Equal(t, float64(0), est.Floor())
}

// ==========================
// Quantity Parsing
// ==========================

func TestParseQuantity(t *testing.T) {
	tests := []struct {
		name       string
		text       string
		wantAmount *float64
		wantUnit   string
	}{
		{"pieces with grouping", "5,000 pieces", f(5000), "pieces"},
		{"kilograms", "200 Kg", f(200), "kg"},
		{"meters tight", "1500meters", f(1500), "meters"},
		{"bare number", "300", f(300), ""},
		{"no number", "bulk order", nil, ""},
		{"empty", "", nil, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := ParseQuantity(tt.text)
			assert.Equal(t, tt.text, q.Raw)
			if tt.wantAmount == nil {
				assert.Nil(t, q.Amount)
			} else {
				require.NotNil(t, q.Amount)
				assert.Equal(t, *tt.wantAmount, *q.Amount)
			}
			assert.Equal(t, tt.wantUnit, q.Unit)
		})
	}
}

func f(v float64) *float64 { return &v }
