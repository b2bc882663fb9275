// Package normalize selects facts matching the concept vocabulary and
// projects them into flat output records.
package normalize

import "strings"

// Match classifies how a concept local name entered the vocabulary. Exact
// and alias hits are high confidence; keyword hits catch framework-specific
// extension concepts and may include false positives. The serialized output
// schema does not carry this field; Go callers can filter on it.
type Match int

const (
	MatchNone Match = iota
	MatchExact
	MatchAlias
	MatchKeyword
)

func (m Match) String() string {
	switch m {
	case MatchExact:
		return "exact"
	case MatchAlias:
		return "alias"
	case MatchKeyword:
		return "keyword"
	default:
		return "none"
	}
}

// Finance (ESEF) and climate (ESRS) tags tracked out of the box.
var defaultConcepts = []string{
	"Revenue",
	"OperatingProfitLoss",
	"GreenhouseGasScope1Emissions",
	"GreenhouseGasScope2EmissionsLocationBased",
	"GreenhouseGasScope2EmissionsMarketBased",
}

// Cross-taxonomy synonyms for the tracked concepts, mostly the various
// revenue-recognition tags used across reporting frameworks.
var defaultAliases = []string{
	"Revenues",
	"RevenueFromContractsWithCustomersExcludingAssessedTax",
	"RevenueFromContractsWithCustomersIncludingAssessedTax",
	"SalesRevenueNet",
	"Turnover",
	"ProfitLossFromOperatingActivities",
}

// Substrings (case-insensitive) that admit extension concepts not covered
// by the exact or alias sets.
var defaultKeywords = []string{
	"revenue",
	"profit",
	"loss",
	"emission",
}

// Vocabulary is the three-tier concept membership test.
type Vocabulary struct {
	exact    map[string]struct{}
	aliases  map[string]struct{}
	keywords []string
}

// DefaultVocabulary returns the built-in concept vocabulary.
func DefaultVocabulary() *Vocabulary {
	return NewVocabulary(defaultConcepts, defaultAliases, defaultKeywords)
}

// NewVocabulary builds a vocabulary from explicit tiers.
func NewVocabulary(concepts, aliases, keywords []string) *Vocabulary {
	v := &Vocabulary{
		exact:   make(map[string]struct{}, len(concepts)),
		aliases: make(map[string]struct{}, len(aliases)),
	}
	for _, c := range concepts {
		v.exact[c] = struct{}{}
	}
	for _, a := range aliases {
		v.aliases[a] = struct{}{}
	}
	for _, k := range keywords {
		v.keywords = append(v.keywords, strings.ToLower(k))
	}
	return v
}

// Extend adds extra exact-match concepts and keywords, typically from
// configuration.
func (v *Vocabulary) Extend(concepts, keywords []string) {
	for _, c := range concepts {
		v.exact[c] = struct{}{}
	}
	for _, k := range keywords {
		v.keywords = append(v.keywords, strings.ToLower(k))
	}
}

// Match tests a concept local name against the three tiers in order of
// confidence.
func (v *Vocabulary) Match(local string) Match {
	if _, ok := v.exact[local]; ok {
		return MatchExact
	}
	if _, ok := v.aliases[local]; ok {
		return MatchAlias
	}
	lower := strings.ToLower(local)
	for _, k := range v.keywords {
		if strings.Contains(lower, k) {
			return MatchKeyword
		}
	}
	return MatchNone
}
