package gate

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"riptide/internal/logging"
)

// Decision is the gate's verdict on how a fetched response should be
// routed into extraction, per spec.md §4.7 step 5 and the GLOSSARY.
type Decision string

const (
	DecisionRaw         Decision = "raw"
	DecisionProbesFirst Decision = "probes_first"
	DecisionHeadless    Decision = "headless"
	DecisionCached      Decision = "cached"
)

// ResponseFacts describes the signals the gate classifies on. ScriptCount
// and ByteSize come from the static fetch (or cache lookup); FromCache is
// set when the Cache Facade already returned a Hit, short-circuiting the
// gate to DecisionCached.
type ResponseFacts struct {
	URL         string
	ContentType string
	ByteSize    int64
	ScriptCount int
	Scheme      string
	FromCache   bool
}

// Thresholds for script-tag density. They are package constants; New
// takes no parameters to override them.
const (
	headlessScriptThreshold = 15 // >= this many <script> tags -> headless
	probesScriptThreshold   = 1  // >= this many, below headless -> probes_first
)

// schema declares the Datalog program the gate evaluates. Each candidate
// route is its own predicate; Classify queries them in priority order
// rather than encoding priority inside the rules, avoiding a dependency
// on stratified negation for a four-way mutually-exclusive choice.
const schema = `
Decl signal(Kind) bound [/string].
Decl is_cached(Flag) descr [mode("-")].
Decl is_headless(Flag) descr [mode("-")].
Decl is_probes_first(Flag) descr [mode("-")].
Decl is_html(Flag) descr [mode("-")].

is_html(/true) :- signal(/html).
is_cached(/true) :- signal(/from_cache).
is_headless(/true) :- is_html(/true), signal(/script_heavy).
is_probes_first(/true) :- is_html(/true), signal(/script_present).
`

// Classifier evaluates ResponseFacts against the gate's Datalog rules.
// A single Classifier instance serializes classification calls so that
// one request's asserted signals never leak into another's query.
type Classifier struct {
	mu  sync.Mutex
	eng *engine
}

// New constructs a Classifier with the gate's schema pre-compiled.
func New() (*Classifier, error) {
	eng := newEngine()
	if err := eng.loadSchema(schema); err != nil {
		return nil, fmt.Errorf("gate: %w", err)
	}
	return &Classifier{eng: eng}, nil
}

// Classify evaluates facts about one fetched response and returns the
// route the Pipeline Orchestrator should take next.
func (c *Classifier) Classify(ctx context.Context, facts ResponseFacts) (Decision, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	log := logging.Get(logging.CategoryGate)
	c.eng.clear()

	var asserted []Fact
	if facts.FromCache {
		asserted = append(asserted, Fact{Predicate: "signal", Args: []interface{}{"/from_cache"}})
	}
	if isHTML(facts.ContentType) {
		asserted = append(asserted, Fact{Predicate: "signal", Args: []interface{}{"/html"}})
		switch {
		case facts.ScriptCount >= headlessScriptThreshold:
			asserted = append(asserted, Fact{Predicate: "signal", Args: []interface{}{"/script_heavy"}})
		case facts.ScriptCount >= probesScriptThreshold:
			asserted = append(asserted, Fact{Predicate: "signal", Args: []interface{}{"/script_present"}})
		}
	}

	if len(asserted) > 0 {
		if err := c.eng.addFacts(asserted); err != nil {
			return "", fmt.Errorf("gate: assert signals: %w", err)
		}
	}

	for _, candidate := range []struct {
		predicate string
		decision  Decision
	}{
		{"is_cached(X)", DecisionCached},
		{"is_headless(X)", DecisionHeadless},
		{"is_probes_first(X)", DecisionProbesFirst},
	} {
		res, err := c.eng.query(ctx, candidate.predicate)
		if err != nil {
			return "", fmt.Errorf("gate: query %s: %w", candidate.predicate, err)
		}
		if len(res.Bindings) > 0 {
			log.Debug("url=%s decision=%s script_count=%d", facts.URL, candidate.decision, facts.ScriptCount)
			return candidate.decision, nil
		}
	}

	log.Debug("url=%s decision=%s script_count=%d", facts.URL, DecisionRaw, facts.ScriptCount)
	return DecisionRaw, nil
}

func isHTML(contentType string) bool {
	ct := strings.ToLower(contentType)
	return strings.Contains(ct, "text/html") || strings.Contains(ct, "application/xhtml+xml")
}
