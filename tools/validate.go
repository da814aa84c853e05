// Argument validation.
//
// Information Hiding:
// - JSON schema compilation from parameter lists hidden
// - Validation error formatting hidden

package tools

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// emptyArgs stands in for omitted or null arguments.
var emptyArgs = json.RawMessage("{}")

// normalizeArgs maps missing, blank and null arguments to an empty object.
func normalizeArgs(args json.RawMessage) json.RawMessage {
	trimmed := bytes.TrimSpace(args)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return emptyArgs
	}
	return trimmed
}

// compileSchema builds the validator for a tool's parameter list.
func compileSchema(meta ToolMetadata) (*gojsonschema.Schema, error) {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(meta.validationSchema()))
	if err != nil {
		return nil, fmt.Errorf("failed to compile schema for %s: %w", meta.Name, err)
	}
	return schema, nil
}

// decodeArgs validates args against schema, then decodes them into v.
func decodeArgs(schema *gojsonschema.Schema, args json.RawMessage, v any) error {
	args = normalizeArgs(args)

	result, err := schema.Validate(gojsonschema.NewBytesLoader(args))
	if err != nil {
		return fmt.Errorf("invalid arguments: %w", err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return fmt.Errorf("invalid arguments: %s", strings.Join(msgs, "; "))
	}

	if err := json.Unmarshal(args, v); err != nil {
		return fmt.Errorf("invalid arguments: %w", err)
	}
	return nil
}
