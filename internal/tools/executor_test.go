package tools

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/tidwall/gjson"

	"twiddle/internal/llm/core"
)

func TestExecutorDispatchesSuccess(t *testing.T) {
	t.Parallel()

	sandbox := newTestSandbox(t, ModeReadOnly)
	writeTestFile(t, filepath.Join(sandbox.Root(), "a.txt"), "hello\n")
	executor := NewExecutor(sandbox)

	payload, err := executor.Execute(context.Background(), core.ToolCall{
		ID:        "call-1",
		Name:      "read_file",
		Arguments: `{"file_path":"a.txt"}`,
	})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	doc := gjson.ParseBytes(payload)
	if doc.Get("mode").String() != "slice" {
		t.Fatalf("payload = %s", payload)
	}
	if doc.Get("lines.0").String() != "L1: hello" {
		t.Fatalf("lines = %s", doc.Get("lines").Raw)
	}
}

func TestExecutorUnknownToolBecomesFailurePayload(t *testing.T) {
	t.Parallel()

	executor := NewExecutor(newTestSandbox(t, ModeReadOnly))
	payload, err := executor.Execute(context.Background(), core.ToolCall{
		ID: "call-1", Name: "format_disk", Arguments: "{}",
	})
	if err != nil {
		t.Fatalf("Execute() error = %v, failures must be payload-shaped", err)
	}
	doc := gjson.ParseBytes(payload)
	if doc.Get("status").String() != "failure" {
		t.Fatalf("payload = %s", payload)
	}
	if doc.Get("tool_id").String() != "format_disk" {
		t.Fatalf("tool_id = %q", doc.Get("tool_id").String())
	}
	if doc.Get("error").String() != ErrToolNotFound.Error() {
		t.Fatalf("error = %q", doc.Get("error").String())
	}
}

func TestExecutorToolErrorBecomesFailurePayload(t *testing.T) {
	t.Parallel()

	executor := NewExecutor(newTestSandbox(t, ModeReadOnly))
	payload, err := executor.Execute(context.Background(), core.ToolCall{
		ID: "call-1", Name: "read_file", Arguments: `{"file_path":"missing.txt"}`,
	})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	doc := gjson.ParseBytes(payload)
	if doc.Get("status").String() != "failure" {
		t.Fatalf("payload = %s", payload)
	}
	if doc.Get("error").String() != "path not found" {
		t.Fatalf("error = %q, want canonical short message", doc.Get("error").String())
	}
}

func TestExecutorWorkspaceWriteRequired(t *testing.T) {
	t.Parallel()

	executor := NewExecutor(newTestSandbox(t, ModeReadOnly))
	call := core.ToolCall{
		ID:        "call-1",
		Name:      "apply_patch",
		Arguments: `{"input":"*** Begin Patch\n*** Add File: x.txt\n+x\n*** End Patch"}`,
	}

	_, err := executor.Execute(context.Background(), call)
	if !errors.Is(err, ErrWorkspaceWriteRequired) {
		t.Fatalf("Execute() error = %v, want ErrWorkspaceWriteRequired", err)
	}

	// After escalation the same call goes through.
	executor.Sandbox().EnableWrite()
	payload, err := executor.Execute(context.Background(), call)
	if err != nil {
		t.Fatalf("Execute() after escalation error = %v", err)
	}
	if gjson.ParseBytes(payload).Get("status").String() != "success" {
		t.Fatalf("payload = %s", payload)
	}
}

func TestExecutorMalformedArgumentsBecomeFailurePayload(t *testing.T) {
	t.Parallel()

	executor := NewExecutor(newTestSandbox(t, ModeReadOnly))
	payload, err := executor.Execute(context.Background(), core.ToolCall{
		ID: "call-1", Name: "read_file", Arguments: `{"file_path":`,
	})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if gjson.ParseBytes(payload).Get("error").String() != ErrInvalidPayload.Error() {
		t.Fatalf("payload = %s", payload)
	}
}

func TestFailureMessageMapsWrappedErrors(t *testing.T) {
	t.Parallel()

	if got := failureMessage(errors.New("weird")); got != "weird" {
		t.Fatalf("failureMessage(unknown) = %q", got)
	}
	if got := failureMessage(classifyPathError("f.txt", os.ErrNotExist)); got != "path not found" {
		t.Fatalf("failureMessage = %q, want path not found", got)
	}
	if got := failureMessage(classifyPathError("f.txt", os.ErrPermission)); got != "permission denied" {
		t.Fatalf("failureMessage = %q, want permission denied", got)
	}
}
