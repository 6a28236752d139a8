package verifier

import (
	"encoding/json"

	"github.com/adaptiveqa/browserpilot/llm"
	"github.com/adaptiveqa/browserpilot/storage"
)

type verifyAnswer struct {
	IsVerified bool   `json:"isVerified"`
	Evidence   string `json:"evidence"`
}

func parseVerifyAnswer(raw string) (storage.Verification, error) {
	cleaned := llm.StripJSONCodeFence(raw)
	var answer verifyAnswer
	if err := json.Unmarshal([]byte(cleaned), &answer); err != nil {
		return storage.Verification{}, err
	}
	return storage.Verification{IsVerified: answer.IsVerified, Evidence: answer.Evidence}, nil
}
