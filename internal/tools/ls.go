package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
)

const defaultListLimit = 500

type listDirectoryParams struct {
	Path  string `json:"path,omitempty" jsonschema:"description=Directory to list; relative paths resolve against the workspace root"`
	Limit *int   `json:"limit,omitempty" jsonschema:"description=Maximum number of entries to return (default 500)"`
}

// listDirectoryTool lists one directory level inside the sandbox.
type listDirectoryTool struct {
	sandbox *Sandbox
}

func (t listDirectoryTool) execute(ctx context.Context, params json.RawMessage) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var input listDirectoryParams
	if err := decodeParams(params, &input); err != nil {
		return nil, err
	}

	limit := defaultListLimit
	if input.Limit != nil {
		limit = *input.Limit
	}
	if limit <= 0 {
		return nil, ErrNoEntriesRequested
	}

	path := input.Path
	if path == "" {
		path = "."
	}
	resolved, err := t.sandbox.Resolve(path)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(resolved)
	if err != nil {
		return nil, classifyPathError(path, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrPathNotDirectory, path)
	}

	dirEntries, err := os.ReadDir(resolved)
	if err != nil {
		return nil, classifyPathError(path, err)
	}

	entries := make([]string, 0, min(len(dirEntries), limit))
	truncated := false
	for _, entry := range dirEntries {
		if len(entries) >= limit {
			truncated = true
			break
		}
		name := entry.Name()
		if entry.IsDir() {
			name += "/"
		}
		entries = append(entries, name)
	}

	return json.Marshal(map[string]any{
		"entries":   entries,
		"truncated": truncated,
		"total":     len(dirEntries),
	})
}
