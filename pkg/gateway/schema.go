package gateway

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// chatParamsSchema describes agent.chat params. The owner is never taken
// from params; it comes from the transport.
const chatParamsSchema = `{
	"type": "object",
	"additionalProperties": false,
	"required": ["message"],
	"properties": {
		"message": {"type": "string"},
		"session_id": {"type": "string", "maxLength": 128},
		"route": {"type": "string"},
		"screen_context": {"type": "string"},
		"metadata": {
			"type": "object",
			"additionalProperties": {"type": "string"}
		},
		"attachment": {
			"type": "object",
			"required": ["data_base64"],
			"properties": {
				"data_base64": {"type": "string"},
				"mime_type": {"type": "string"}
			}
		},
		"client_history": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["content"],
				"properties": {
					"role": {"type": "string"},
					"content": {"type": "string"},
					"route": {"type": "string"},
					"screen_context": {"type": "string"},
					"timestamp": {"type": "string", "format": "date-time"}
				}
			}
		}
	}
}`

const sessionParamsSchema = `{
	"type": "object",
	"required": ["session_id"],
	"properties": {
		"session_id": {"type": "string", "minLength": 1, "maxLength": 128}
	}
}`

// ParamsValidator validates RPC params against a compiled JSON schema
type ParamsValidator struct {
	schema *gojsonschema.Schema
}

// NewParamsValidator compiles schema
func NewParamsValidator(schema string) (*ParamsValidator, error) {
	compiled, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(schema))
	if err != nil {
		return nil, fmt.Errorf("failed to compile params schema: %w", err)
	}
	return &ParamsValidator{schema: compiled}, nil
}

// Decode validates params and unmarshals them into out
func (v *ParamsValidator) Decode(params json.RawMessage, out interface{}) error {
	if len(params) == 0 {
		params = json.RawMessage(`{}`)
	}

	result, err := v.schema.Validate(gojsonschema.NewBytesLoader(params))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidParams, err)
	}
	if !result.Valid() {
		errs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			errs = append(errs, e.String())
		}
		return fmt.Errorf("%w: %s", ErrInvalidParams, strings.Join(errs, "; "))
	}

	if err := json.Unmarshal(params, out); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidParams, err)
	}
	return nil
}
