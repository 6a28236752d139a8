package llm

import "strings"

// stripJSONCodeFence strips a surrounding ```json ... ``` or ``` ... ```
// fence, if present, and trims whitespace. Content without a fence is
// returned with only its surrounding whitespace trimmed.
func stripJSONCodeFence(content string) string {
	trimmed := strings.TrimSpace(content)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}

	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimPrefix(trimmed, "json")
	trimmed = strings.TrimPrefix(trimmed, "JSON")
	trimmed = strings.TrimPrefix(trimmed, "\n")

	if idx := strings.LastIndex(trimmed, "```"); idx >= 0 {
		trimmed = trimmed[:idx]
	}
	return strings.TrimSpace(trimmed)
}
