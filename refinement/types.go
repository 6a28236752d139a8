// Package refinement decides, per step, whether the live plan needs to
// be re-planned before execution proceeds (spec §4.10).
package refinement

import (
	"context"
	"strings"
	"time"

	"github.com/adaptiveqa/browserpilot/domextract"
	"github.com/adaptiveqa/browserpilot/storage"
)

// Context is the situational snapshot every Strategy reasons over
// (spec §4.10).
type Context struct {
	Page                domextract.BrowserSession
	ExecutedSteps       []storage.ExecutionResult
	CurrentStepIndex    int
	TotalSteps          int
	PreviousRefinements []storage.RefinementEntry
	PageURL             string
	PreviousPageURL     string
	PageChanged         bool
	StepResult          *storage.ExecutionResult
}

// Decision is one strategy's refinement verdict (spec §4.10).
type Decision struct {
	ShouldRefine bool
	Reason       string
	Priority     int
	Confidence   float64
}

// Strategy evaluates whether a step warrants re-planning.
type Strategy interface {
	Name() string
	ShouldRefine(ctx context.Context, step storage.Step, plan storage.Plan, rctx Context) (Decision, error)
}

// ThresholdProvider is the narrow capability ConfidenceRefinement needs
// from the confidence-threshold service.
type ThresholdProvider interface {
	GetThreshold(ctx context.Context, action string) float64
}

var interactionActions = map[string]bool{"click": true, "type": true, "hover": true, "verify_element": true}

func isInteraction(actionName string) bool { return interactionActions[actionName] }

// lastRefinementBy returns the most recent refinement entry matching
// strategyName (and stepID, when non-empty), or nil.
func lastRefinementBy(entries []storage.RefinementEntry, strategyName, stepID string) *storage.RefinementEntry {
	var latest *storage.RefinementEntry
	for i := range entries {
		e := entries[i]
		if e.Strategy != strategyName {
			continue
		}
		if stepID != "" && e.StepID != stepID {
			continue
		}
		if latest == nil || e.Timestamp.After(latest.Timestamp) {
			latest = &entries[i]
		}
	}
	return latest
}

func refinedWithin(entries []storage.RefinementEntry, strategyName, stepID string, window time.Duration, now time.Time) bool {
	entry := lastRefinementBy(entries, strategyName, stepID)
	return entry != nil && now.Sub(entry.Timestamp) < window
}

func selectorArg(step storage.Step) string {
	selector, _ := step.Action.Arguments["selector"].(string)
	return selector
}

func selectorAbsentOrInvalid(step storage.Step) bool {
	if strings.TrimSpace(selectorArg(step)) == "" {
		return true
	}
	return step.ElementDiscovery != nil && step.ElementDiscovery.Confidence <= 0
}

var revealFormPhrases = []string{
	"reveal form", "click to show form", "show form", "open form",
	"reveal the form", "show the form", "open the form",
}

func IsRevealFormStep(description string) bool {
	lower := strings.ToLower(description)
	for _, phrase := range revealFormPhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}

var formTargetSelectors = []string{
	`input[type="email"]`, `input[type="password"]`, `form`,
}

// FormTargetPresent reports whether the page already exposes a
// visible email/password input or a form (spec §4.11's unnecessaryReveal
// and ProactiveRefinement share this check).
func FormTargetPresent(ctx context.Context, page domextract.BrowserSession) bool {
	if page == nil {
		return false
	}
	for _, selector := range formTargetSelectors {
		validation, err := page.ValidateSelector(ctx, selector)
		if err == nil && validation.Exists && validation.IsVisible {
			return true
		}
	}
	return false
}
