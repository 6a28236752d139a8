// Package discovery implements the multi-strategy element-discovery
// engine: independent strategies each try to resolve a natural-language
// element description to a CSS selector, and the engine aggregates their
// results by confidence (spec §4.7).
package discovery

import (
	"context"
	"strings"

	"github.com/adaptiveqa/browserpilot/domextract"
)

// Request is what a caller asks a Strategy (or the Engine) to resolve.
type Request struct {
	Description string
	ActionType  string // click, type, hover, verify, ...
	URL         string
	HTML        string // DOM summary, when already extracted by the caller
	TestID      string
	Session     domextract.BrowserSession
}

// Result is one strategy's (or the engine's aggregated) answer.
type Result struct {
	Selector     string
	Confidence   float64
	Alternatives []string
	ElementInfo  map[string]interface{}
	Strategy     string
	Metadata     map[string]interface{}
}

// Strategy resolves a Request to a Result, or returns a nil result (not
// an error) when it simply found nothing — callers distinguish "this
// strategy doesn't apply" from "this strategy errored" by a nil *Result
// with a nil error. A non-nil error means the strategy itself failed
// (timeout, provider error, ...); the engine logs and ignores it rather
// than letting one strategy's failure poison the others (spec §4.7).
type Strategy interface {
	Name() string
	Discover(ctx context.Context, req Request) (*Result, error)
}

// semanticConceptTerms are the substrings spec §4.7 defines a "semantic
// concept" description by (case-insensitive).
var semanticConceptTerms = []string{
	"form", "login form", "signup form", "sign in form", "sign up form",
	"registration form", "contact form", "search form",
	"modal", "dialog", "popup", "menu", "navigation", "header", "footer",
	"sidebar", "card", "panel", "section", "container", "group", "region",
	"area", "zone",
}

// isSemanticConcept reports whether description names a semantic UI
// region rather than a concrete interactive element (spec §4.7).
func isSemanticConcept(description string) bool {
	lower := strings.ToLower(description)
	for _, term := range semanticConceptTerms {
		if strings.Contains(lower, term) {
			return true
		}
	}
	return false
}
