// Package domextract summarizes a live page's DOM into the compact
// element records the planner and element-discovery strategies reason
// over, and validates/scores candidate CSS selectors against the real
// page (spec §4.5).
package domextract

import "context"

// Position is an element's rounded viewport-relative bounding box.
type Position struct {
	Top    int `json:"top"`
	Left   int `json:"left"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// RawElement is one DOM node matched by a CSS selector, as reported by
// a BrowserSession. The browser driver owns layout/visibility
// computation; DOMExtractor only dedups, trims, and sorts.
type RawElement struct {
	Tag        string
	ID         string
	Classes    []string
	Attributes map[string]string // role, type, name, aria-label, placeholder, value, title, data-testid, ...
	Text       string            // raw textContent, untrimmed
	Position   *Position         // nil unless the caller asked for position
	InViewport bool
}

// SelectorValidation is the result of checking a CSS selector against
// the live page (spec §4.5).
type SelectorValidation struct {
	Exists    bool
	IsUnique  bool
	IsVisible bool
	Count     int
}

// BrowserSession is the narrow capability this package depends on. The
// real implementation (driving a headless browser) lives outside this
// module's scope (spec §1); this module only consumes it.
type BrowserSession interface {
	// CurrentURL returns the page's current URL.
	CurrentURL(ctx context.Context) (string, error)

	// QueryElements returns every element matching any of selectors, in
	// document order, annotated with position/inViewport only when
	// includePosition is true (layout computation is expensive enough
	// that callers opt in).
	QueryElements(ctx context.Context, selectors []string, includePosition bool) ([]RawElement, error)

	// ValidateSelector reports whether selector matches anything, is
	// unique, and whether its first match is currently visible.
	ValidateSelector(ctx context.Context, selector string) (SelectorValidation, error)

	// Screenshot captures the current viewport as JPEG at the given
	// 0-100 quality.
	Screenshot(ctx context.Context, quality int) ([]byte, error)
}
