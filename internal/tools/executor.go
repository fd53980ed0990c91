package tools

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/tidwall/sjson"

	"twiddle/internal/llm/core"
)

// Executor owns the sandbox and dispatches tool invocations to their cores.
// Every failure that does not destabilize the process is folded into a
// success-shaped failure payload, which keeps the tool-call/tool-message
// pairing invariant intact and lets the model self-correct. The single
// exception is ErrWorkspaceWriteRequired, which must reach the session
// runner to trigger the approval handshake.
type Executor struct {
	sandbox *Sandbox

	listDirectory listDirectoryTool
	readFile      readFileTool
	search        searchTool
	applyPatch    patchTool
}

// NewExecutor binds the tool cores to one sandbox.
func NewExecutor(sandbox *Sandbox) *Executor {
	return &Executor{
		sandbox:       sandbox,
		listDirectory: listDirectoryTool{sandbox: sandbox},
		readFile:      readFileTool{sandbox: sandbox},
		search:        searchTool{sandbox: sandbox},
		applyPatch:    patchTool{sandbox: sandbox},
	}
}

// Sandbox returns the executor-owned sandbox.
func (e *Executor) Sandbox() *Sandbox { return e.sandbox }

// Execute dispatches one tool call and returns the serialized result
// payload. The returned error is non-nil only for context cancellation and
// ErrWorkspaceWriteRequired.
func (e *Executor) Execute(ctx context.Context, call core.ToolCall) ([]byte, error) {
	schema, ok := FindSchema(call.Name)
	if !ok {
		return FailurePayload(call.Name, ErrToolNotFound), nil
	}

	if schema.Permission == PermissionWorkspaceWrite && !e.sandbox.WriteEnabled() {
		return nil, ErrWorkspaceWriteRequired
	}

	payload, err := e.dispatch(ctx, schema.Kind, json.RawMessage(call.Arguments))
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return FailurePayload(call.Name, err), nil
	}
	return payload, nil
}

func (e *Executor) dispatch(ctx context.Context, kind Kind, params json.RawMessage) ([]byte, error) {
	switch kind {
	case KindListDirectory:
		return e.listDirectory.execute(ctx, params)
	case KindReadFile:
		return e.readFile.execute(ctx, params)
	case KindSearch:
		return e.search.execute(ctx, params)
	case KindApplyPatch:
		return e.applyPatch.execute(ctx, params)
	default:
		return nil, ErrToolUnavailable
	}
}

// FailurePayload builds the success-shaped failure document.
func FailurePayload(toolID string, err error) []byte {
	out := []byte(`{"status":"failure"}`)
	out, _ = sjson.SetBytes(out, "tool_id", toolID)
	out, _ = sjson.SetBytes(out, "error", failureMessage(err))
	return out
}

// failureMessage maps a typed error onto its canonical short message,
// falling back to the error text for anything unrecognized.
func failureMessage(err error) string {
	for _, known := range knownFailures {
		if errors.Is(err, known) {
			return known.Error()
		}
	}
	return err.Error()
}
