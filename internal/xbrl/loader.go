package xbrl

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Namespaces that structure an instance document rather than carry facts.
const (
	nsXBRLI    = "http://www.xbrl.org/2003/instance"
	nsLinkbase = "http://www.xbrl.org/2003/linkbase"
	nsXLink    = "http://www.w3.org/1999/xlink"
	nsXHTML    = "http://www.w3.org/1999/xhtml"
	nsXSI      = "http://www.w3.org/2001/XMLSchema-instance"
	nsIX2013   = "http://www.xbrl.org/2013/inlineXBRL"
	nsIX2008   = "http://www.xbrl.org/2008/inlineXBRL"
)

// Loader parses plain and inline XBRL instance documents into a Report.
// It resolves only what the pipeline reads (concept, context, unit, value,
// decimals, nil); taxonomy schemas are not fetched or validated.
type Loader struct {
	log *zap.Logger
}

// NewLoader creates a loader. A nil logger disables logging.
func NewLoader(log *zap.Logger) *Loader {
	if log == nil {
		log = zap.NewNop()
	}
	return &Loader{log: log}
}

// rawFact is a fact before its context/unit references are resolved.
type rawFact struct {
	concept    QName
	contextRef string
	unitRef    string
	value      string
	decimals   string
	isNil      bool
}

// Load parses the instance document at path.
func (l *Loader) Load(ctx context.Context, path string) (*Report, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open instance document: %w", err)
	}
	defer f.Close()

	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}

	p := newParser(f)
	if err := p.run(ctx); err != nil {
		return nil, fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}
	if len(p.facts) == 0 && len(p.contexts) == 0 {
		return nil, fmt.Errorf("%s: no XBRL content found", filepath.Base(path))
	}

	facts := make([]Fact, 0, len(p.facts))
	for _, rf := range p.facts {
		facts = append(facts, Fact{
			Concept:  rf.concept,
			Context:  p.contexts[rf.contextRef],
			Unit:     p.units[rf.unitRef],
			Value:    rf.value,
			Decimals: rf.decimals,
			Nil:      rf.isNil,
		})
	}
	l.log.Debug("instance loaded",
		zap.String("path", abs),
		zap.Int("facts", len(facts)),
		zap.Int("contexts", len(p.contexts)))
	return NewReport(abs, facts), nil
}

// parser is a single-pass XML token walker. Contexts and units may appear
// after the facts that reference them (inline documents keep them in
// ix:resources), so facts hold string refs until the walk completes.
type parser struct {
	dec      *xml.Decoder
	contexts map[string]*Context
	units    map[string]*Unit
	facts    []rawFact

	// prefix bindings per open element, for resolving QNames that appear
	// in attribute values and character data (ix name="pfx:Local",
	// measure text "iso4217:EUR").
	nsStack []map[string]string
}

func newParser(r io.Reader) *parser {
	dec := xml.NewDecoder(r)
	dec.Strict = false
	dec.AutoClose = xml.HTMLAutoClose
	dec.Entity = xml.HTMLEntity
	return &parser{
		dec:      dec,
		contexts: make(map[string]*Context),
		units:    make(map[string]*Unit),
	}
}

func (p *parser) run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		tok, err := p.dec.Token()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			p.pushScope(t)
			if err := p.startElement(t); err != nil {
				return err
			}
		case xml.EndElement:
			p.popScope()
		}
	}
}

func (p *parser) pushScope(t xml.StartElement) {
	var scope map[string]string
	for _, a := range t.Attr {
		if a.Name.Space == "xmlns" || (a.Name.Space == "" && a.Name.Local == "xmlns") {
			if scope == nil {
				scope = make(map[string]string)
			}
			prefix := a.Name.Local
			if a.Name.Space == "" {
				prefix = ""
			}
			scope[prefix] = a.Value
		}
	}
	p.nsStack = append(p.nsStack, scope)
}

func (p *parser) popScope() {
	if len(p.nsStack) > 0 {
		p.nsStack = p.nsStack[:len(p.nsStack)-1]
	}
}

// resolvePrefix maps an in-scope prefix to its namespace URI. Unknown
// prefixes resolve to themselves so the local name still comes through.
func (p *parser) resolvePrefix(prefix string) string {
	for i := len(p.nsStack) - 1; i >= 0; i-- {
		if p.nsStack[i] == nil {
			continue
		}
		if uri, ok := p.nsStack[i][prefix]; ok {
			return uri
		}
	}
	return prefix
}

func (p *parser) startElement(t xml.StartElement) error {
	switch {
	case t.Name.Space == nsXBRLI && t.Name.Local == "context":
		return p.parseContext(t)
	case t.Name.Space == nsXBRLI && t.Name.Local == "unit":
		return p.parseUnit(t)
	case (t.Name.Space == nsIX2013 || t.Name.Space == nsIX2008) &&
		(t.Name.Local == "nonFraction" || t.Name.Local == "nonNumeric"):
		return p.parseInlineFact(t)
	case t.Name.Space == nsIX2013 || t.Name.Space == nsIX2008:
		return nil // structural ix elements (header, resources, continuation)
	default:
		if attr(t, "contextRef") == "" {
			return nil
		}
		return p.parsePlainFact(t)
	}
}

// parseContext reads one xbrli:context subtree.
func (p *parser) parseContext(start xml.StartElement) error {
	c := &Context{ID: attr(start, "id")}
	var inIdentifier bool
	var identScheme, identValue string
	var periodField string
	for {
		tok, err := p.dec.Token()
		if err != nil {
			return err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "identifier":
				inIdentifier = true
				identScheme = attr(t, "scheme")
			case "startDate", "endDate", "instant":
				periodField = t.Name.Local
			}
		case xml.CharData:
			text := strings.TrimSpace(string(t))
			if text == "" {
				break
			}
			if inIdentifier {
				identValue += text
			}
			switch periodField {
			case "startDate":
				c.Start = parsePeriodDate(text, false)
			case "endDate":
				c.End = parsePeriodDate(text, true)
			case "instant":
				c.Instant = parsePeriodDate(text, true)
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "identifier":
				inIdentifier = false
			case "startDate", "endDate", "instant":
				periodField = ""
			case "context":
				if identValue != "" {
					c.Entity = &EntityIdentifier{Scheme: identScheme, Value: identValue}
				}
				if c.ID != "" {
					p.contexts[c.ID] = c
				}
				p.popScope() // balances the push from the main loop
				return nil
			}
		}
	}
}

// parseUnit reads one xbrli:unit subtree, handling both the simple measure
// list form and the divide form.
func (p *parser) parseUnit(start xml.StartElement) error {
	u := &Unit{ID: attr(start, "id")}
	target := &u.Numerator
	var inMeasure bool
	for {
		tok, err := p.dec.Token()
		if err != nil {
			return err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "unitNumerator":
				target = &u.Numerator
			case "unitDenominator":
				target = &u.Denominator
			case "measure":
				inMeasure = true
			}
		case xml.CharData:
			if inMeasure {
				if m := measureLocal(strings.TrimSpace(string(t))); m != "" {
					*target = append(*target, m)
				}
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "measure":
				inMeasure = false
			case "unit":
				if u.ID != "" {
					p.units[u.ID] = u
				}
				p.popScope()
				return nil
			}
		}
	}
}

// parsePlainFact captures a top-level fact element in a plain instance
// document. The element's own namespace identifies the concept.
func (p *parser) parsePlainFact(start xml.StartElement) error {
	text, err := p.collectText()
	if err != nil {
		return err
	}
	p.facts = append(p.facts, rawFact{
		concept:    QName{Namespace: start.Name.Space, Local: start.Name.Local},
		contextRef: attr(start, "contextRef"),
		unitRef:    attr(start, "unitRef"),
		value:      strings.TrimSpace(text),
		decimals:   attr(start, "decimals"),
		isNil:      isNilAttr(start),
	})
	return nil
}

// parseInlineFact captures an ix:nonFraction or ix:nonNumeric element. The
// concept comes from the name attribute, value transforms (sign, scale)
// from their respective attributes.
func (p *parser) parseInlineFact(start xml.StartElement) error {
	name := attr(start, "name")
	if name == "" {
		return nil
	}
	prefix, local := splitQName(name)
	text, err := p.collectText()
	if err != nil {
		return err
	}
	value := strings.TrimSpace(text)
	if start.Name.Local == "nonFraction" {
		value = applyNumericTransforms(value, attr(start, "sign"), attr(start, "scale"))
	}
	p.facts = append(p.facts, rawFact{
		concept:    QName{Namespace: p.resolvePrefix(prefix), Local: local},
		contextRef: attr(start, "contextRef"),
		unitRef:    attr(start, "unitRef"),
		value:      value,
		decimals:   attr(start, "decimals"),
		isNil:      isNilAttr(start),
	})
	return nil
}

// collectText consumes tokens until the element that just started is
// closed, concatenating all character data beneath it. Nested markup
// (inline formatting spans) contributes its text only.
func (p *parser) collectText() (string, error) {
	var sb strings.Builder
	depth := 1
	for depth > 0 {
		tok, err := p.dec.Token()
		if err != nil {
			return "", err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			p.pushScope(t)
			depth++
		case xml.EndElement:
			p.popScope()
			depth--
		case xml.CharData:
			sb.Write(t)
		}
	}
	return sb.String(), nil
}

func attr(t xml.StartElement, local string) string {
	for _, a := range t.Attr {
		if a.Name.Local == local {
			return a.Value
		}
	}
	return ""
}

func isNilAttr(t xml.StartElement) bool {
	for _, a := range t.Attr {
		if a.Name.Local == "nil" && (a.Name.Space == nsXSI || a.Name.Space == "xsi") {
			return a.Value == "true" || a.Value == "1"
		}
	}
	return false
}

func splitQName(s string) (prefix, local string) {
	if i := strings.IndexByte(s, ':'); i >= 0 {
		return s[:i], s[i+1:]
	}
	return "", s
}

// measureLocal strips the namespace prefix from a measure QName, so
// iso4217:EUR formats as EUR.
func measureLocal(s string) string {
	_, local := splitQName(s)
	return local
}

// parsePeriodDate parses an XBRL period date. Date-only end dates and
// instants are exclusive in XBRL: they mean midnight of the following day.
func parsePeriodDate(s string, endOfDay bool) *time.Time {
	if t, err := time.Parse("2006-01-02T15:04:05", s); err == nil {
		return &t
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return nil
	}
	if endOfDay {
		t = t.AddDate(0, 0, 1)
	}
	return &t
}

// applyNumericTransforms normalizes an inline numeric fact: thousands
// separators are removed, then scale and sign are applied. Values that do
// not parse as numbers pass through untouched.
func applyNumericTransforms(value, sign, scale string) string {
	cleaned := strings.NewReplacer(",", "", "\u00a0", "", " ", "").Replace(value)
	n, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return value
	}
	if scale != "" {
		if exp, err := strconv.Atoi(scale); err == nil {
			for i := 0; i < exp; i++ {
				n *= 10
			}
			for i := 0; i > exp; i-- {
				n /= 10
			}
		}
	}
	if sign == "-" {
		n = -n
	}
	return strconv.FormatFloat(n, 'f', -1, 64)
}
