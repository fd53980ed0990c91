package tools

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"reflect"
	"testing"
)

type listResult struct {
	Entries   []string `json:"entries"`
	Truncated bool     `json:"truncated"`
	Total     int      `json:"total"`
}

func runList(t *testing.T, sandbox *Sandbox, params string) (listResult, error) {
	t.Helper()
	tool := listDirectoryTool{sandbox: sandbox}
	payload, err := tool.execute(context.Background(), json.RawMessage(params))
	if err != nil {
		return listResult{}, err
	}
	var result listResult
	if err := json.Unmarshal(payload, &result); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	return result, nil
}

func TestListDirectoryEntries(t *testing.T) {
	t.Parallel()

	sandbox := newTestSandbox(t, ModeReadOnly)
	writeTestFile(t, filepath.Join(sandbox.Root(), "b.txt"), "b\n")
	writeTestFile(t, filepath.Join(sandbox.Root(), "sub", "a.txt"), "a\n")

	result, err := runList(t, sandbox, `{}`)
	if err != nil {
		t.Fatalf("execute() error = %v", err)
	}
	want := listResult{Entries: []string{"b.txt", "sub/"}, Truncated: false, Total: 2}
	if !reflect.DeepEqual(result, want) {
		t.Fatalf("result = %+v, want %+v", result, want)
	}
}

func TestListDirectoryLimit(t *testing.T) {
	t.Parallel()

	sandbox := newTestSandbox(t, ModeReadOnly)
	for _, name := range []string{"a", "b", "c"} {
		writeTestFile(t, filepath.Join(sandbox.Root(), name), "x\n")
	}

	result, err := runList(t, sandbox, `{"limit":2}`)
	if err != nil {
		t.Fatalf("execute() error = %v", err)
	}
	if len(result.Entries) != 2 || !result.Truncated || result.Total != 3 {
		t.Fatalf("result = %+v, want 2 entries truncated of 3", result)
	}
}

func TestListDirectoryZeroLimit(t *testing.T) {
	t.Parallel()

	sandbox := newTestSandbox(t, ModeReadOnly)
	if _, err := runList(t, sandbox, `{"limit":0}`); !errors.Is(err, ErrNoEntriesRequested) {
		t.Fatalf("execute() error = %v, want ErrNoEntriesRequested", err)
	}
}

func TestListDirectoryNotADirectory(t *testing.T) {
	t.Parallel()

	sandbox := newTestSandbox(t, ModeReadOnly)
	writeTestFile(t, filepath.Join(sandbox.Root(), "f.txt"), "x\n")

	if _, err := runList(t, sandbox, `{"path":"f.txt"}`); !errors.Is(err, ErrPathNotDirectory) {
		t.Fatalf("execute() error = %v, want ErrPathNotDirectory", err)
	}
}

func TestListDirectoryMissingPath(t *testing.T) {
	t.Parallel()

	sandbox := newTestSandbox(t, ModeReadOnly)
	if _, err := runList(t, sandbox, `{"path":"nope"}`); !errors.Is(err, ErrPathNotFound) {
		t.Fatalf("execute() error = %v, want ErrPathNotFound", err)
	}
}
