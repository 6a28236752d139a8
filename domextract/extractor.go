package domextract

import (
	"context"
	"encoding/json"
	"sort"
	"strings"

	"github.com/adaptiveqa/browserpilot/core"
)

// interactiveSelectors are always queried (spec §4.5).
var interactiveSelectors = []string{
	"button", "a", "input", "select", "textarea",
	"[role=button]", "[role=link]", "[data-testid]", "[data-test-id]", "[id]",
	"h1", "h2", "h3", "h4", "h5", "h6",
}

// containerSelectors are added when Options.IncludeContainers is set.
var containerSelectors = []string{
	"form", "[role=form]", "[role=dialog]", "[role=menu]", "[role=navigation]",
	"div[class*=form]", "div[class*=modal]", "div[class*=dialog]", "div[class*=menu]",
	"section", "article", "nav", "header", "footer", "aside", "main",
}

const maxElementTextChars = 100

// Options configures Extract (spec §4.5 defaults).
type Options struct {
	MaxElements       int
	IncludePosition   bool
	IncludeContainers bool
}

// DefaultOptions returns the default extraction options (spec §4.5).
func DefaultOptions() Options {
	return Options{MaxElements: 200, IncludePosition: false, IncludeContainers: true}
}

// ElementRecord is one entry of Extract's JSON array (spec §4.5).
type ElementRecord struct {
	Tag        string            `json:"tag"`
	ID         string            `json:"id,omitempty"`
	Classes    []string          `json:"classes,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
	Role       string            `json:"role,omitempty"`
	Type       string            `json:"type,omitempty"`
	Name       string            `json:"name,omitempty"`
	TestID     string            `json:"testId,omitempty"`
	Label      string            `json:"label,omitempty"`
	Text       string            `json:"text,omitempty"`
	Position   *Position         `json:"position,omitempty"`
	InViewport bool              `json:"inViewport,omitempty"`
}

// Extractor summarizes a page's DOM and validates/scores selectors
// against it.
type Extractor struct {
	logger core.Logger
}

// New constructs an Extractor. A nil logger installs core.NoOpLogger.
func New(logger core.Logger) *Extractor {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	if cal, ok := logger.(core.ComponentAwareLogger); ok {
		logger = cal.WithComponent("orchestrator/domextract")
	}
	return &Extractor{logger: logger}
}

// Extract returns a JSON array (up to opts.MaxElements) of element
// records describing the current page (spec §4.5). On extraction
// failure it returns "[]" rather than an error, since callers treat an
// empty DOM summary as "nothing discoverable here" rather than fatal.
func (e *Extractor) Extract(ctx context.Context, session BrowserSession, opts Options) string {
	if opts.MaxElements <= 0 {
		opts.MaxElements = 200
	}

	selectors := append([]string(nil), interactiveSelectors...)
	if opts.IncludeContainers {
		selectors = append(selectors, containerSelectors...)
	}

	raw, err := session.QueryElements(ctx, selectors, opts.IncludePosition)
	if err != nil {
		e.logger.WarnWithContext(ctx, "dom extraction failed", map[string]interface{}{"error": err.Error()})
		return "[]"
	}

	records := dedupe(raw)
	if opts.IncludePosition {
		sort.Slice(records, func(i, j int) bool {
			return positionRank(records[i].Position) < positionRank(records[j].Position)
		})
	}
	if len(records) > opts.MaxElements {
		records = records[:opts.MaxElements]
	}

	data, err := json.Marshal(records)
	if err != nil {
		e.logger.WarnWithContext(ctx, "dom extraction json encode failed", map[string]interface{}{"error": err.Error()})
		return "[]"
	}
	return string(data)
}

// dedupe collapses elements sharing a (tag, id, first class) key and
// converts surviving RawElements into ElementRecords (spec §4.5).
func dedupe(raw []RawElement) []ElementRecord {
	seen := make(map[string]bool, len(raw))
	records := make([]ElementRecord, 0, len(raw))

	for _, el := range raw {
		class := ""
		if len(el.Classes) > 0 {
			class = el.Classes[0]
		}
		key := el.Tag + "|" + el.ID + "|" + class
		if seen[key] {
			continue
		}
		seen[key] = true
		records = append(records, toRecord(el))
	}
	return records
}

func toRecord(el RawElement) ElementRecord {
	record := ElementRecord{
		Tag:        el.Tag,
		ID:         el.ID,
		Classes:    el.Classes,
		Attributes: el.Attributes,
		Text:       trimText(el.Text),
		InViewport: el.InViewport,
		Position:   el.Position,
	}
	if el.Attributes != nil {
		record.Role = el.Attributes["role"]
		record.Type = el.Attributes["type"]
		record.Name = el.Attributes["name"]
		record.Label = el.Attributes["aria-label"]
		if tid, ok := el.Attributes["data-testid"]; ok {
			record.TestID = tid
		} else if tid, ok := el.Attributes["data-test-id"]; ok {
			record.TestID = tid
		}
	}
	return record
}

func trimText(text string) string {
	text = strings.TrimSpace(text)
	if len(text) <= maxElementTextChars {
		return text
	}
	return strings.TrimSpace(text[:maxElementTextChars])
}

func positionRank(p *Position) int {
	if p == nil {
		return 0
	}
	return p.Top*10000 + p.Left
}

// ValidateSelector delegates to the session (spec §4.5: exists :=
// count > 0, visibility checked on the first match).
func (e *Extractor) ValidateSelector(ctx context.Context, session BrowserSession, selector string) (SelectorValidation, error) {
	validation, err := session.ValidateSelector(ctx, selector)
	if err != nil {
		e.logger.WarnWithContext(ctx, "selector validation failed", map[string]interface{}{"selector": selector, "error": err.Error()})
		return SelectorValidation{}, err
	}
	return validation, nil
}

// BestSelectorResult is the outcome of BestSelector (spec §4.5).
type BestSelectorResult struct {
	Selector   string
	Found      bool
	Confidence float64
	Validation SelectorValidation
}

// BestSelector iterates candidates in order and returns the first that
// exists and is visible, with confidence
// 0.7 + 0.2*isUnique + 0.1*isVisible clamped to 1 (spec §4.5).
func (e *Extractor) BestSelector(ctx context.Context, session BrowserSession, candidates []string) BestSelectorResult {
	for _, candidate := range candidates {
		validation, err := session.ValidateSelector(ctx, candidate)
		if err != nil {
			continue
		}
		if !validation.Exists || !validation.IsVisible {
			continue
		}

		confidence := 0.7
		if validation.IsUnique {
			confidence += 0.2
		}
		if validation.IsVisible {
			confidence += 0.1
		}
		if confidence > 1 {
			confidence = 1
		}

		return BestSelectorResult{Selector: candidate, Found: true, Confidence: confidence, Validation: validation}
	}
	return BestSelectorResult{Found: false}
}
