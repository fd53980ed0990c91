package core

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/invopop/jsonschema"
)

// ErrInvalidSchema indicates a tool schema that cannot be normalized into a
// plain object schema.
var ErrInvalidSchema = errors.New("invalid tool schema")

var toolSchemaReflector = jsonschema.Reflector{
	DoNotReference:            true,
	AllowAdditionalProperties: false,
}

// toolJSONSchema is the local shape used to normalize reflected JSON Schema
// payloads into the object form the wire protocol expects.
type toolJSONSchema struct {
	Type       string         `json:"type"`
	Properties map[string]any `json:"properties"`
	Required   []string       `json:"required"`
}

// NewToolSpecFromStruct creates a ToolSpec by reflecting a Go struct into a
// normalized JSON Schema object.
func NewToolSpecFromStruct(name, description string, schemaStruct any) (ToolSpec, error) {
	schema, err := buildToolSchemaFromStruct(schemaStruct)
	if err != nil {
		return ToolSpec{}, err
	}
	return ToolSpec{
		Name:        name,
		Description: description,
		Schema:      schema,
	}, nil
}

func buildToolSchemaFromStruct(schemaStruct any) (json.RawMessage, error) {
	target, err := schemaReflectionTarget(schemaStruct)
	if err != nil {
		return nil, err
	}

	schema := toolSchemaReflector.Reflect(target)
	raw, err := json.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("marshal generated tool schema: %w", err)
	}

	decoded, err := decodeToolJSONSchema(raw)
	if err != nil {
		return nil, err
	}
	normalized, err := json.Marshal(decoded)
	if err != nil {
		return nil, fmt.Errorf("marshal normalized tool schema: %w", err)
	}
	return normalized, nil
}

func schemaReflectionTarget(schemaStruct any) (any, error) {
	t := reflect.TypeOf(schemaStruct)
	if t == nil {
		return nil, fmt.Errorf("%w: schema struct is nil", ErrInvalidSchema)
	}
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return nil, fmt.Errorf("%w: schema struct must be a struct or pointer to struct", ErrInvalidSchema)
	}
	return reflect.New(t).Interface(), nil
}

func decodeToolJSONSchema(raw json.RawMessage) (toolJSONSchema, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return toolJSONSchema{
			Type:       "object",
			Properties: map[string]any{},
		}, nil
	}

	var schema toolJSONSchema
	if err := json.Unmarshal(trimmed, &schema); err != nil {
		return toolJSONSchema{}, fmt.Errorf("%w: not a json object", ErrInvalidSchema)
	}

	if strings.TrimSpace(schema.Type) == "" {
		schema.Type = "object"
	}
	if schema.Type != "object" {
		return toolJSONSchema{}, fmt.Errorf("%w: schema type must be object", ErrInvalidSchema)
	}
	if schema.Properties == nil {
		schema.Properties = map[string]any{}
	}
	if schema.Required == nil {
		schema.Required = []string{}
	}

	return schema, nil
}
