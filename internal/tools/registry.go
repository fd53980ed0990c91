package tools

import (
	"encoding/json"
	"fmt"

	"github.com/tidwall/gjson"

	"twiddle/internal/llm/core"
)

// Permission is the strongest sandbox capability a tool requires.
type Permission string

const (
	PermissionReadOnly       Permission = "read_only"
	PermissionWorkspaceWrite Permission = "workspace_write"
)

// Kind selects the dispatch target in the executor.
type Kind string

const (
	KindListDirectory Kind = "list_directory"
	KindReadFile      Kind = "read_file"
	KindSearch        Kind = "search"
	KindApplyPatch    Kind = "apply_patch"
)

// Schema is one static tool descriptor: the single source of truth for the
// model-facing parameter description and the executor's dispatch kind.
type Schema struct {
	ID         string
	Kind       Kind
	Summary    string
	Permission Permission
	Parameters json.RawMessage
	OutputKind string

	// Summarize renders the one-line human summary from a success payload.
	Summarize func(payload []byte) string
}

// schemas is the compile-time ordered tool set.
var schemas = buildSchemas()

func buildSchemas() []Schema {
	return []Schema{
		{
			ID:         "list_directory",
			Kind:       KindListDirectory,
			Summary:    "List the entries of a directory inside the workspace. Directories carry a trailing '/'.",
			Permission: PermissionReadOnly,
			Parameters: mustSchema(listDirectoryParams{}),
			OutputKind: "json_object",
			Summarize: func(payload []byte) string {
				doc := gjson.ParseBytes(payload)
				return fmt.Sprintf("%d entries", len(doc.Get("entries").Array()))
			},
		},
		{
			ID:         "read_file",
			Kind:       KindReadFile,
			Summary:    "Read a window of a text file, either as a plain line range or as the indentation block enclosing an anchor line.",
			Permission: PermissionReadOnly,
			Parameters: mustSchema(readFileParams{}),
			OutputKind: "json_object",
			Summarize: func(payload []byte) string {
				doc := gjson.ParseBytes(payload)
				return fmt.Sprintf("%d lines", len(doc.Get("lines").Array()))
			},
		},
		{
			ID:         "search",
			Kind:       KindSearch,
			Summary:    "Search workspace files by text (ripgrep) or by syntax pattern (ast-grep).",
			Permission: PermissionReadOnly,
			Parameters: mustSchema(searchParams{}),
			OutputKind: "json_object",
			Summarize: func(payload []byte) string {
				doc := gjson.ParseBytes(payload)
				return fmt.Sprintf("%d matches", doc.Get("stats.matches").Int())
			},
		},
		{
			ID:         "apply_patch",
			Kind:       KindApplyPatch,
			Summary:    "Apply a structured patch: add, delete, or update files inside the workspace.",
			Permission: PermissionWorkspaceWrite,
			Parameters: mustSchema(applyPatchParams{}),
			OutputKind: "json_object",
			Summarize: func(payload []byte) string {
				doc := gjson.ParseBytes(payload)
				return fmt.Sprintf("%d files changed", doc.Get("files_changed").Int())
			},
		},
	}
}

func mustSchema(paramsStruct any) json.RawMessage {
	spec, err := core.NewToolSpecFromStruct("", "", paramsStruct)
	if err != nil {
		panic(fmt.Sprintf("reflect tool parameters: %v", err))
	}
	return spec.Schema
}

// Schemas returns the static ordered tool descriptors.
func Schemas() []Schema {
	return schemas
}

// FindSchema is a linear scan over the static set.
func FindSchema(id string) (*Schema, bool) {
	for i := range schemas {
		if schemas[i].ID == id {
			return &schemas[i], true
		}
	}
	return nil, false
}

// Specs converts the registry into model-facing tool specs for the request
// payload.
func Specs() []core.ToolSpec {
	out := make([]core.ToolSpec, 0, len(schemas))
	for _, schema := range schemas {
		out = append(out, core.ToolSpec{
			Name:        schema.ID,
			Description: schema.Summary,
			Schema:      append(json.RawMessage(nil), schema.Parameters...),
		})
	}
	return out
}
