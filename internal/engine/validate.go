package engine

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// ValidateToolArgs checks tool-call arguments against the tool's input
// schema. A nil or empty schema accepts anything. Arguments that failed
// JSON decoding upstream carry the raw payload under RawArgsKey and are
// rejected here before the tool ever sees them.
func ValidateToolArgs(schema map[string]any, args map[string]any) error {
	if raw, ok := args[RawArgsKey]; ok && len(args) == 1 {
		return fmt.Errorf("arguments were not valid JSON: %v", raw)
	}
	if len(schema) == 0 {
		return nil
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewGoLoader(schema),
		gojsonschema.NewGoLoader(args),
	)
	if err != nil {
		return fmt.Errorf("schema validation: %w", err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return fmt.Errorf("%s", strings.Join(msgs, "; "))
	}
	return nil
}
