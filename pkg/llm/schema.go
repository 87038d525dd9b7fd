package llm

import (
	"encoding/json"
	"fmt"

	"github.com/google/jsonschema-go/jsonschema"
)

// SchemaFor renders the JSON schema of T, indented for inclusion in a prompt.
func SchemaFor[T any]() (string, error) {
	schema, err := jsonschema.For[T](nil)
	if err != nil {
		return "", fmt.Errorf("failed to create schema: %w", err)
	}
	data, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal schema: %w", err)
	}
	return string(data), nil
}
