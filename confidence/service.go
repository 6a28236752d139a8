// Package confidence maintains per-action confidence thresholds used by
// element discovery and the refinement decision engine to decide
// whether a discovered selector is trustworthy enough to act on
// (spec §4.2).
package confidence

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/adaptiveqa/browserpilot/core"
	"github.com/adaptiveqa/browserpilot/storage"
)

// configPrefix is the storage.Configuration key namespace for
// thresholds, e.g. "confidence.threshold.click".
const configPrefix = "confidence.threshold."

// Action names recognized by the service (spec §4.2). Any other action
// falls back to Default.
const (
	ActionClick   = "click"
	ActionType    = "type"
	ActionHover   = "hover"
	ActionVerify  = "verify"
	ActionDefault = "default"
)

// Service maps action type to a [0,1] confidence threshold, seeded from
// defaults (overridable by CONFIDENCE_THRESHOLD_<UPPER> env vars) and
// persisted overrides under storage.Configuration.
type Service struct {
	store    storage.Storage
	logger   core.Logger
	defaults map[string]float64
}

// New constructs a Service holding the default thresholds. It does not
// write to store; Seed writes the missing threshold entries. A nil
// logger installs core.NoOpLogger.
func New(store storage.Storage, logger core.Logger) *Service {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	if cal, ok := logger.(core.ComponentAwareLogger); ok {
		logger = cal.WithComponent("orchestrator/confidence")
	}

	return &Service{
		store:  store,
		logger: logger,
		defaults: map[string]float64{
			ActionClick:   core.DefaultClickThreshold,
			ActionType:    core.DefaultTypeThreshold,
			ActionHover:   core.DefaultHoverThreshold,
			ActionVerify:  core.DefaultVerifyThreshold,
			ActionDefault: core.DefaultActionThreshold,
		},
	}
}

// Seed writes any missing threshold entries into storage without
// overwriting pre-existing values (spec §4.2: "Initialization must not
// overwrite pre-existing stored values"). Each default may be overridden
// by a CONFIDENCE_THRESHOLD_<UPPER> environment variable at seed time.
func (s *Service) Seed(ctx context.Context) error {
	for action, def := range s.defaults {
		key := configPrefix + action
		existing, err := s.store.GetConfig(ctx, key)
		if err != nil {
			s.logger.WarnWithContext(ctx, "confidence threshold seed read failed, using in-memory default", map[string]interface{}{"action": action, "error": err.Error()})
			continue
		}
		if existing != nil {
			continue
		}

		value := def
		if override, ok := envOverride(action); ok {
			value = override
		}
		if err := s.store.SetConfig(ctx, key, formatThreshold(value), fmt.Sprintf("confidence threshold for %s actions", action)); err != nil {
			s.logger.WarnWithContext(ctx, "confidence threshold seed write failed", map[string]interface{}{"action": action, "error": err.Error()})
		}
	}
	return nil
}

// envOverride reads CONFIDENCE_THRESHOLD_<UPPER(action)>, returning the
// parsed value if set and numeric.
func envOverride(action string) (float64, bool) {
	raw := os.Getenv(core.EnvConfidenceThresholdPrefix + strings.ToUpper(action))
	if raw == "" {
		return 0, false
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, false
	}
	return value, true
}

func formatThreshold(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }

// GetThreshold returns the stored threshold for action if present and
// numeric, else the in-memory default for action, else the "default"
// threshold (spec §4.2). Storage failures fall back to the default and
// log a warning instead of propagating an error.
func (s *Service) GetThreshold(ctx context.Context, action string) float64 {
	key := configPrefix + action
	entry, err := s.store.GetConfig(ctx, key)
	if err != nil {
		s.logger.WarnWithContext(ctx, "confidence threshold read failed, falling back to default", map[string]interface{}{"action": action, "error": err.Error()})
		return s.defaultFor(action)
	}
	if entry == nil {
		return s.defaultFor(action)
	}
	value, err := strconv.ParseFloat(entry.Value, 64)
	if err != nil {
		return s.defaultFor(action)
	}
	return value
}

func (s *Service) defaultFor(action string) float64 {
	if v, ok := s.defaults[action]; ok {
		return v
	}
	return s.defaults[ActionDefault]
}

// GetAllThresholds merges stored entries under "confidence.threshold."
// with in-memory defaults, stored values winning (spec §4.2).
func (s *Service) GetAllThresholds(ctx context.Context) map[string]float64 {
	result := make(map[string]float64, len(s.defaults))
	for action, def := range s.defaults {
		result[action] = def
	}

	entries, err := s.store.GetAllConfig(ctx, configPrefix)
	if err != nil {
		s.logger.WarnWithContext(ctx, "confidence threshold list failed, using defaults only", map[string]interface{}{"error": err.Error()})
		return result
	}
	for _, entry := range entries {
		action := strings.TrimPrefix(entry.Key, configPrefix)
		if value, err := strconv.ParseFloat(entry.Value, 64); err == nil {
			result[action] = value
		}
	}
	return result
}

// SetThreshold persists an override for action. value must be in
// [0,1]; callers that accept this from an HTTP body are responsible for
// surfacing the rejection as a ValidationError (spec §7).
func (s *Service) SetThreshold(ctx context.Context, action string, value float64) error {
	if value < 0 || value > 1 {
		return core.NewFrameworkError("confidence.SetThreshold", "validation",
			fmt.Errorf("%w: threshold %f out of [0,1]", core.ErrValidation, value))
	}
	return s.store.SetConfig(ctx, configPrefix+action, formatThreshold(value), "confidence threshold override")
}

// DeleteThreshold removes action's stored override, reverting GetThreshold
// to the in-memory default.
func (s *Service) DeleteThreshold(ctx context.Context, action string) error {
	return s.store.DeleteConfig(ctx, configPrefix+action)
}

// DeleteAllThresholds removes every stored override.
func (s *Service) DeleteAllThresholds(ctx context.Context) error {
	return s.store.DeleteAllConfig(ctx, configPrefix)
}
