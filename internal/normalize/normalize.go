package normalize

import (
	"strings"
	"time"

	"go.uber.org/zap"

	"carbontrace/internal/xbrl"
)

// ErrorMarker replaces the concept local name on rows that represent a
// whole-source failure rather than a fact.
const ErrorMarker = "__ERROR__"

// Record is one output row. Pointer fields are null in the serialized
// output when nil. Match is in-memory only and never serialized.
type Record struct {
	ConceptLocal string
	EntityLEI    *string
	PeriodStart  *string
	PeriodEnd    *string
	Value        string
	Unit         *string
	Decimals     *string
	SourceDoc    string
	Match        Match
}

// IsError reports whether the record is a source-failure sentinel.
func (r Record) IsError() bool {
	return r.ConceptLocal == ErrorMarker
}

// ErrorRecord builds the sentinel row for a failed source. The failing
// source URL stands in for the document identifier and the failure text
// for the value.
func ErrorRecord(source string, err error) Record {
	return Record{
		ConceptLocal: ErrorMarker,
		Value:        err.Error(),
		SourceDoc:    source,
	}
}

// Normalizer filters facts against a vocabulary and flattens matches.
type Normalizer struct {
	vocab *Vocabulary
	log   *zap.Logger
}

// New creates a normalizer. A nil logger disables logging.
func New(vocab *Vocabulary, log *zap.Logger) *Normalizer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Normalizer{vocab: vocab, log: log}
}

// Normalize projects every vocabulary-matching fact into a Record. Each
// field extraction is independently null-tolerant: a missing context, unit
// or entity leaves that field nil, it never drops the fact.
func (n *Normalizer) Normalize(facts []xbrl.Fact, sourceDoc string) []Record {
	var records []Record
	for _, f := range facts {
		match := n.vocab.Match(f.Concept.Local)
		if match == MatchNone {
			continue
		}
		records = append(records, Record{
			ConceptLocal: f.Concept.Local,
			EntityLEI:    entityValue(f.Context),
			PeriodStart:  formatTime(periodStart(f.Context)),
			PeriodEnd:    formatTime(periodEnd(f.Context)),
			Value:        f.Value,
			Unit:         FormatUnit(f.Unit),
			Decimals:     optional(f.Decimals),
			SourceDoc:    sourceDoc,
			Match:        match,
		})
	}
	n.log.Debug("facts normalized",
		zap.String("source", sourceDoc),
		zap.Int("in", len(facts)),
		zap.Int("out", len(records)))
	return records
}

// FormatUnit renders a unit as "num1.num2.../den1.den2...". Multiple
// measures on a side join with ".", a non-empty denominator is prefixed
// with "/". No unit structure yields nil.
func FormatUnit(u *xbrl.Unit) *string {
	if u == nil || len(u.Numerator) == 0 && len(u.Denominator) == 0 {
		return nil
	}
	s := strings.Join(u.Numerator, ".")
	if len(u.Denominator) > 0 {
		s += "/" + strings.Join(u.Denominator, ".")
	}
	return &s
}

// entityValue prefers the structured (scheme, value) identifier and yields
// nil when the context carries no entity at all.
func entityValue(c *xbrl.Context) *string {
	if c == nil || c.Entity == nil || c.Entity.Value == "" {
		return nil
	}
	v := c.Entity.Value
	return &v
}

func periodStart(c *xbrl.Context) *time.Time {
	if c == nil {
		return nil
	}
	return c.Start
}

// periodEnd uses the duration end when present, otherwise the instant, so
// instant-only contexts still carry their one available endpoint.
func periodEnd(c *xbrl.Context) *time.Time {
	if c == nil {
		return nil
	}
	if c.End != nil {
		return c.End
	}
	return c.Instant
}

func formatTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.Format("2006-01-02T15:04:05")
	return &s
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
