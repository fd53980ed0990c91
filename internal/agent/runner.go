package agent

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/tidwall/gjson"

	"twiddle/internal/llm"
	"twiddle/internal/term"
	"twiddle/internal/tools"
)

const defaultMaxToolRounds = 50

// ApprovalPolicy controls the workspace-write escalation handshake.
type ApprovalPolicy string

const (
	ApprovalOnRequest ApprovalPolicy = "on-request"
	ApprovalNever     ApprovalPolicy = "never"
)

var (
	// ErrToolEnvelopeInvalid indicates the assistant emitted a tool call
	// that cannot be dispatched. User-visible but non-fatal: the prompt is
	// abandoned.
	ErrToolEnvelopeInvalid = errors.New("tool call envelope invalid")
	// ErrMaxToolRoundsExceeded indicates a runaway tool loop.
	ErrMaxToolRoundsExceeded = errors.New("max tool rounds exceeded")
)

// Runner drives one user prompt to completion: model turn, tool dispatch,
// escalation handshake, and follow-up turns until the model stops calling
// tools.
type Runner struct {
	chat     *ChatClient
	executor *tools.Executor
	display  io.Writer
	input    *bufio.Reader

	approvalPolicy ApprovalPolicy
	contextLimit   int
	maxToolRounds  int
	debug          bool
	color          bool
}

// RunnerConfig wires a session runner.
type RunnerConfig struct {
	Chat     *ChatClient
	Executor *tools.Executor
	Display  io.Writer
	Input    io.Reader

	ApprovalPolicy ApprovalPolicy
	ContextLimit   int
	MaxToolRounds  int
	Debug          bool
	Color          bool
}

// NewRunner constructs a session runner.
func NewRunner(cfg RunnerConfig) *Runner {
	display := cfg.Display
	if display == nil {
		display = io.Discard
	}
	input := cfg.Input
	if input == nil {
		input = strings.NewReader("")
	}
	policy := cfg.ApprovalPolicy
	if policy == "" {
		policy = ApprovalOnRequest
	}
	maxRounds := cfg.MaxToolRounds
	if maxRounds <= 0 {
		maxRounds = defaultMaxToolRounds
	}
	return &Runner{
		chat:           cfg.Chat,
		executor:       cfg.Executor,
		display:        display,
		input:          bufio.NewReader(input),
		approvalPolicy: policy,
		contextLimit:   cfg.ContextLimit,
		maxToolRounds:  maxRounds,
		debug:          cfg.Debug,
		color:          cfg.Color,
	}
}

// RunPrompt drives one user prompt through the turn loop.
func (r *Runner) RunPrompt(ctx context.Context, text string) error {
	if err := r.chat.Respond(ctx, text); err != nil {
		return err
	}

	rounds := 0
	for {
		call, ok := r.chat.Conversation().TakePendingToolCall()
		if ok {
			if call.ID == "" || call.Name == "" || call.Arguments == "" {
				return fmt.Errorf("%w: id=%q name=%q", ErrToolEnvelopeInvalid, call.ID, call.Name)
			}
			payload, err := r.executeWithEscalation(ctx, call)
			if err != nil {
				return err
			}
			r.chat.Conversation().Append(llm.Message{
				Role:       llm.RoleTool,
				ToolCallID: call.ID,
				ToolName:   call.Name,
				Content:    string(payload),
			})
			r.printToolOutcome(call, payload)
			continue
		}

		last, hasLast := r.chat.Conversation().Last()
		if hasLast && last.Role == llm.RoleTool {
			rounds++
			if rounds > r.maxToolRounds {
				return ErrMaxToolRoundsExceeded
			}
			if err := r.chat.Continue(ctx); err != nil {
				return err
			}
			continue
		}
		break
	}

	r.printContextUsage()
	return nil
}

// executeWithEscalation runs one call, handling the workspace-write
// approval handshake. A grant retries the same call; a denial produces a
// failure payload so the tool-call pairing invariant holds.
func (r *Runner) executeWithEscalation(ctx context.Context, call llm.ToolCall) ([]byte, error) {
	payload, err := r.executor.Execute(ctx, call)
	if !errors.Is(err, tools.ErrWorkspaceWriteRequired) {
		return payload, err
	}

	if r.requestApproval(call.Name) {
		r.executor.Sandbox().EnableWrite()
		return r.executor.Execute(ctx, call)
	}
	return tools.FailurePayload(call.Name, tools.ErrWorkspaceWriteRequired), nil
}

// requestApproval asks the user once per session. Policy "never" and a
// previous denial both short-circuit without prompting.
func (r *Runner) requestApproval(toolID string) bool {
	sandbox := r.executor.Sandbox()
	if r.approvalPolicy == ApprovalNever || sandbox.WriteDenied() {
		return false
	}

	fmt.Fprintf(r.display, "tool %s requests write access to the workspace. allow? [y/N] ", toolID)
	line, err := r.input.ReadString('\n')
	if err != nil && line == "" {
		sandbox.MarkWriteDenied()
		return false
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true
	default:
		sandbox.MarkWriteDenied()
		return false
	}
}

// printToolOutcome writes the one-line summary for a dispatched call.
func (r *Runner) printToolOutcome(call llm.ToolCall, payload []byte) {
	doc := gjson.ParseBytes(payload)
	if doc.Get("status").String() == "failure" {
		fmt.Fprintf(r.display, "tool:%s failure: %s\n", call.Name, doc.Get("error").String())
	} else {
		line := fmt.Sprintf("tool:%s success", call.Name)
		if schema, ok := tools.FindSchema(call.Name); ok && schema.Summarize != nil {
			if summary := schema.Summarize(payload); summary != "" {
				line += " (" + summary + ")"
			}
		}
		fmt.Fprintln(r.display, line)
	}
	if r.debug {
		fmt.Fprintf(r.display, "%s\n", payload)
	}
}

// printContextUsage renders the end-of-prompt context meter. When the server
// omitted usage this turn, a tokenizer estimate over the conversation stands
// in.
func (r *Runner) printContextUsage() {
	if r.contextLimit <= 0 {
		return
	}
	usage := r.chat.LastUsage()
	used := usage.TotalTokens
	estimated := false
	if !usage.Valid {
		used = r.estimateConversationTokens()
		estimated = true
	}
	cu := llm.ContextUsageFor(r.contextLimit, used)
	fmt.Fprintln(r.display, term.ContextMeter(cu, estimated, r.color))
}
