// Package orchestrator runs a Plan step by step against a live
// browser, refining it against the DOM as needed, recovering from
// selector failures, and verifying each step's effect (spec §4.11).
package orchestrator

import (
	"context"
	"time"

	"github.com/adaptiveqa/browserpilot/domextract"
	"github.com/adaptiveqa/browserpilot/storage"
)

// Executor drives one browser session through a plan's actions. It
// embeds domextract.BrowserSession so the same session backs DOM
// extraction, selector validation, and discovery, in addition to
// actually performing actions.
type Executor interface {
	domextract.BrowserSession

	// Execute performs action and reports its observable effect.
	Execute(ctx context.Context, action storage.Action) (storage.ExecutionResult, error)

	// WaitForNetworkIdle blocks until the page is quiet or timeout
	// elapses; a timeout is not an error (spec §5).
	WaitForNetworkIdle(ctx context.Context, timeout time.Duration) error

	// Close releases the session. Called on every exit path.
	Close(ctx context.Context) error
}
