package core

import (
	"errors"
	"testing"

	"github.com/tidwall/gjson"
)

type demoParams struct {
	FilePath string `json:"file_path" jsonschema:"description=File to read"`
	Limit    *int   `json:"limit,omitempty"`
}

func TestNewToolSpecFromStruct(t *testing.T) {
	t.Parallel()

	spec, err := NewToolSpecFromStruct("read_file", "Read a file.", demoParams{})
	if err != nil {
		t.Fatalf("NewToolSpecFromStruct() error = %v", err)
	}
	if spec.Name != "read_file" || spec.Description != "Read a file." {
		t.Fatalf("spec = %+v", spec)
	}

	doc := gjson.ParseBytes(spec.Schema)
	if doc.Get("type").String() != "object" {
		t.Fatalf("schema type = %q", doc.Get("type").String())
	}
	if !doc.Get("properties.file_path").Exists() || !doc.Get("properties.limit").Exists() {
		t.Fatalf("schema properties = %s", doc.Get("properties").Raw)
	}
	required := doc.Get("required").Array()
	if len(required) != 1 || required[0].String() != "file_path" {
		t.Fatalf("required = %s", doc.Get("required").Raw)
	}
}

func TestNewToolSpecFromStructRejectsNonStruct(t *testing.T) {
	t.Parallel()

	if _, err := NewToolSpecFromStruct("x", "y", 42); !errors.Is(err, ErrInvalidSchema) {
		t.Fatalf("error = %v, want ErrInvalidSchema", err)
	}
	if _, err := NewToolSpecFromStruct("x", "y", nil); !errors.Is(err, ErrInvalidSchema) {
		t.Fatalf("error = %v, want ErrInvalidSchema", err)
	}
}

func TestPointerToStructAccepted(t *testing.T) {
	t.Parallel()

	if _, err := NewToolSpecFromStruct("x", "y", &demoParams{}); err != nil {
		t.Fatalf("NewToolSpecFromStruct(pointer) error = %v", err)
	}
}
