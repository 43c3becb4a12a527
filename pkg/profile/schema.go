package profile

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// profileSchema constrains JSON profile documents before unmarshaling. Stage
// keys are restricted to the closed stage set.
const profileSchema = `{
	"$schema": "http://json-schema.org/draft-07/schema#",
	"type": "object",
	"required": ["name", "stages"],
	"properties": {
		"name": {"type": "string", "minLength": 1},
		"review_loop_limit": {"type": "integer", "minimum": 0},
		"stages": {
			"type": "object",
			"minProperties": 1,
			"additionalProperties": false,
			"patternProperties": {
				"^(planning|design|test_writing|implementation|execution|review)$": {
					"type": "object",
					"required": ["timeout_seconds"],
					"properties": {
						"timeout_seconds": {"type": "integer", "minimum": 1},
						"max_retries": {"type": "integer", "minimum": 0}
					}
				}
			}
		},
		"defaults": {
			"type": "object",
			"properties": {
				"timeout_seconds": {"type": "integer", "minimum": 1},
				"max_retries": {"type": "integer", "minimum": 0}
			}
		},
		"non_retryable_patterns": {
			"type": "array",
			"items": {"type": "string"}
		}
	}
}`

func validateSchema(data []byte) error {
	schemaLoader := gojsonschema.NewStringLoader(profileSchema)
	documentLoader := gojsonschema.NewBytesLoader(data)

	result, err := gojsonschema.Validate(schemaLoader, documentLoader)
	if err != nil {
		return fmt.Errorf("profile schema validation failed: %w", err)
	}

	if result.Valid() {
		return nil
	}

	details := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		details = append(details, desc.String())
	}

	return fmt.Errorf("invalid profile document: %s", strings.Join(details, "; "))
}
