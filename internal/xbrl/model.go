// Package xbrl holds the fact model for a single parsed instance document:
// concepts, reporting contexts, units and the facts that tie them together.
// The pipeline consumes these types through the runner.FactProvider interface,
// so the loader in this package is the default implementation, not the only
// possible one.
package xbrl

import "time"

// QName is a namespace-qualified concept name.
type QName struct {
	Namespace string
	Local     string
}

// EntityIdentifier is the (scheme, value) pair identifying the reporting
// entity, typically an LEI under the ISO 17442 scheme.
type EntityIdentifier struct {
	Scheme string
	Value  string
}

// Context is the reporting scope of a fact. Either Instant is set, or
// Start/End are, never both.
type Context struct {
	ID      string
	Entity  *EntityIdentifier
	Start   *time.Time
	End     *time.Time
	Instant *time.Time
}

// Unit is a ratio of measure identifiers. A simple unit has only numerator
// measures; a per-share style unit also carries denominator measures.
type Unit struct {
	ID          string
	Numerator   []string
	Denominator []string
}

// Fact is one disclosed data point.
type Fact struct {
	Concept  QName
	Context  *Context
	Unit     *Unit
	Value    string
	Decimals string
	Nil      bool
}

// Report is the fact graph of one instance document. It must be closed
// before the next source's report is loaded so peak memory stays bounded
// to one filing at a time.
type Report struct {
	uri    string
	facts  []Fact
	closed bool
}

// NewReport builds a report from already-parsed facts. Exposed so tests and
// alternative providers can construct reports without going through the
// XML loader.
func NewReport(uri string, facts []Fact) *Report {
	return &Report{uri: uri, facts: facts}
}

// URI returns the canonical source-document identifier.
func (r *Report) URI() string {
	return r.uri
}

// Facts returns the parsed facts. Returns nil after Close.
func (r *Report) Facts() []Fact {
	if r.closed {
		return nil
	}
	return r.facts
}

// Close releases the fact graph.
func (r *Report) Close() error {
	r.facts = nil
	r.closed = true
	return nil
}
