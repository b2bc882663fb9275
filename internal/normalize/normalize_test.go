package normalize

import (
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"carbontrace/internal/xbrl"
)

func TestVocabulary_Match(t *testing.T) {
	v := DefaultVocabulary()

	tests := []struct {
		local string
		want  Match
	}{
		{"Revenue", MatchExact},
		{"GreenhouseGasScope1Emissions", MatchExact},
		{"Revenues", MatchAlias},
		{"Turnover", MatchAlias},
		{"CompanySpecificRevenueRecognized", MatchKeyword},
		{"NetProfitBeforeTax", MatchKeyword},
		{"InventoryTurnover", MatchNone},
		{"Assets", MatchNone},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, v.Match(tt.local), "local name %q", tt.local)
	}
}

func TestVocabulary_Extend(t *testing.T) {
	v := DefaultVocabulary()
	require.Equal(t, MatchNone, v.Match("WaterConsumption"))

	v.Extend([]string{"WaterConsumption"}, []string{"water"})
	assert.Equal(t, MatchExact, v.Match("WaterConsumption"))
	assert.Equal(t, MatchKeyword, v.Match("TotalWaterWithdrawal"))
}

func TestFormatUnit(t *testing.T) {
	tests := []struct {
		name string
		unit *xbrl.Unit
		want *string
	}{
		{"simple", &xbrl.Unit{Numerator: []string{"USD"}}, strPtr("USD")},
		{"ratio", &xbrl.Unit{Numerator: []string{"USD"}, Denominator: []string{"shares"}}, strPtr("USD/shares")},
		{"multi", &xbrl.Unit{Numerator: []string{"USD", "ft2"}, Denominator: []string{"shares", "year"}}, strPtr("USD.ft2/shares.year")},
		{"none", nil, nil},
		{"empty", &xbrl.Unit{}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FormatUnit(tt.unit)
			if tt.want == nil {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.Equal(t, *tt.want, *got)
		})
	}
}

func TestNormalizer_Normalize(t *testing.T) {
	start := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	facts := []xbrl.Fact{
		{
			Concept: xbrl.QName{Namespace: "ifrs", Local: "Revenue"},
			Context: &xbrl.Context{
				Entity: &xbrl.EntityIdentifier{Scheme: "http://standards.iso.org/iso/17442", Value: "LEI123"},
				Start:  &start,
				End:    &end,
			},
			Unit:     &xbrl.Unit{Numerator: []string{"EUR"}},
			Value:    "1000",
			Decimals: "-3",
		},
		{
			Concept: xbrl.QName{Namespace: "ifrs", Local: "InventoryTurnover"},
			Value:   "ignored",
		},
		{
			// Bare fact: no context, no unit, no decimals. Every field
			// degrades to null independently.
			Concept: xbrl.QName{Namespace: "ext", Local: "AdjustedOperatingProfit"},
			Value:   "42",
		},
	}

	n := New(DefaultVocabulary(), nil)
	got := n.Normalize(facts, "file:///cache/filing.xbrl")
	require.Len(t, got, 2)

	want := Record{
		ConceptLocal: "Revenue",
		EntityLEI:    strPtr("LEI123"),
		PeriodStart:  strPtr("2023-01-01T00:00:00"),
		PeriodEnd:    strPtr("2024-01-01T00:00:00"),
		Value:        "1000",
		Unit:         strPtr("EUR"),
		Decimals:     strPtr("-3"),
		SourceDoc:    "file:///cache/filing.xbrl",
		Match:        MatchExact,
	}
	if diff := cmp.Diff(want, got[0]); diff != "" {
		t.Errorf("record mismatch (-want +got):\n%s", diff)
	}

	bare := got[1]
	assert.Equal(t, "AdjustedOperatingProfit", bare.ConceptLocal)
	assert.Equal(t, MatchKeyword, bare.Match)
	assert.Nil(t, bare.EntityLEI)
	assert.Nil(t, bare.PeriodStart)
	assert.Nil(t, bare.PeriodEnd)
	assert.Nil(t, bare.Unit)
	assert.Nil(t, bare.Decimals)
}

func TestNormalizer_InstantContext(t *testing.T) {
	instant := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	facts := []xbrl.Fact{{
		Concept: xbrl.QName{Local: "GreenhouseGasScope1Emissions"},
		Context: &xbrl.Context{Instant: &instant},
		Value:   "9",
	}}

	got := New(DefaultVocabulary(), nil).Normalize(facts, "doc")
	require.Len(t, got, 1)
	assert.Nil(t, got[0].PeriodStart)
	require.NotNil(t, got[0].PeriodEnd)
	assert.Equal(t, "2024-01-01T00:00:00", *got[0].PeriodEnd)
}

func TestErrorRecord(t *testing.T) {
	r := ErrorRecord("https://example.org/filing.zip", errors.New("connection refused"))
	assert.True(t, r.IsError())
	assert.Equal(t, ErrorMarker, r.ConceptLocal)
	assert.Equal(t, "https://example.org/filing.zip", r.SourceDoc)
	assert.Equal(t, "connection refused", r.Value)
	assert.Nil(t, r.EntityLEI)
}

func strPtr(s string) *string { return &s }
