package planner

import (
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// planResponseSchemaJSON is the shape an LLM's plan response must
// satisfy (spec §4.8): a non-empty steps array, each with an id,
// description, and an action with a name (arguments, when present, must
// be an object); assertion is optional.
const planResponseSchemaJSON = `{
  "type": "object",
  "required": ["steps"],
  "properties": {
    "steps": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["id", "description", "action"],
        "properties": {
          "id": {"type": "string", "minLength": 1},
          "description": {"type": "string", "minLength": 1},
          "action": {
            "type": "object",
            "required": ["name"],
            "properties": {
              "name": {"type": "string", "minLength": 1},
              "arguments": {"type": "object"}
            }
          },
          "assertion": {
            "type": "object",
            "required": ["target", "operation"],
            "properties": {
              "target": {"type": "string"},
              "operation": {"type": "string"},
              "value": {"type": "string"}
            }
          }
        }
      }
    }
  }
}`

var planResponseSchema = compilePlanResponseSchema()

func compilePlanResponseSchema() *jsonschema.Schema {
	var doc any
	if err := json.Unmarshal([]byte(planResponseSchemaJSON), &doc); err != nil {
		panic(fmt.Sprintf("planner: invalid embedded schema: %v", err))
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("plan-response.json", doc); err != nil {
		panic(fmt.Sprintf("planner: could not register embedded schema: %v", err))
	}
	schema, err := compiler.Compile("plan-response.json")
	if err != nil {
		panic(fmt.Sprintf("planner: could not compile embedded schema: %v", err))
	}
	return schema
}

// validatePlanResponseJSON parses raw as JSON and validates it against
// planResponseSchema (spec §4.8: "on malformed output, surface a fatal
// error").
func validatePlanResponseJSON(raw string) error {
	var doc any
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return fmt.Errorf("plan response is not valid JSON: %w", err)
	}
	if err := planResponseSchema.Validate(doc); err != nil {
		return fmt.Errorf("plan response failed schema validation: %w", err)
	}
	return nil
}
