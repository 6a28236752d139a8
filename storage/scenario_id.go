package storage

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/adaptiveqa/browserpilot/core"
)

// scenarioIDHexLength is the number of hex characters of the SHA-256
// digest kept in a scenario ID (spec §3).
const scenarioIDHexLength = core.ScenarioIDHexLength

// GenerateScenarioID derives a deterministic identifier for a free-text
// scenario: lowercase-trim, then the first 16 hex characters of its
// SHA-256 digest, prefixed with "scenario-". Equal normalized scenarios
// always produce equal IDs (spec §3, §8).
func GenerateScenarioID(text string) string {
	normalized := strings.ToLower(strings.TrimSpace(text))
	sum := sha256.Sum256([]byte(normalized))
	return core.ScenarioIDPrefix + hex.EncodeToString(sum[:])[:scenarioIDHexLength]
}
