package anthropicprovider

import (
	"encoding/json"
	"testing"

	"twiddle/internal/llm/core"
)

// The SDK param unions serialize to the wire shape, so the mapping tests
// assert on the marshaled request body.
type serializedParams struct {
	Model       string              `json:"model"`
	MaxTokens   int64               `json:"max_tokens"`
	Messages    []serializedMessage `json:"messages"`
	Tools       []serializedTool    `json:"tools"`
	System      []serializedBlock   `json:"system"`
	Temperature float64             `json:"temperature"`
}

type serializedMessage struct {
	Role    string            `json:"role"`
	Content []serializedBlock `json:"content"`
}

type serializedBlock struct {
	Type      string         `json:"type"`
	Text      string         `json:"text"`
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Input     map[string]any `json:"input"`
	ToolUseID string         `json:"tool_use_id"`
	IsError   bool           `json:"is_error"`
}

type serializedTool struct {
	Name        string               `json:"name"`
	Description string               `json:"description"`
	InputSchema serializedToolSchema `json:"input_schema"`
}

type serializedToolSchema struct {
	Type       string         `json:"type"`
	Properties map[string]any `json:"properties"`
	Required   []string       `json:"required"`
}

func decodeParams(t *testing.T, params any) serializedParams {
	t.Helper()
	raw, err := json.Marshal(params)
	if err != nil {
		t.Fatalf("marshal params: %v", err)
	}
	var body serializedParams
	if err := json.Unmarshal(raw, &body); err != nil {
		t.Fatalf("unmarshal params: %v", err)
	}
	return body
}

func TestToSDKParamsTextConversation(t *testing.T) {
	t.Parallel()

	req := &core.Request{
		Model:       "claude-sonnet-4-20250514",
		System:      "be helpful",
		ToolContext: "sandbox root: /sbx (read-only)",
		Messages: []core.Message{
			{Role: core.RoleUser, Content: "hello"},
			{Role: core.RoleAssistant, Content: "hi there"},
		},
	}

	params, err := toSDKParams(req)
	if err != nil {
		t.Fatalf("toSDKParams() error = %v", err)
	}
	body := decodeParams(t, params)

	if body.Model != req.Model {
		t.Fatalf("model = %q, want %q", body.Model, req.Model)
	}
	if body.MaxTokens != defaultMaxTokens {
		t.Fatalf("max_tokens = %d, want default %d", body.MaxTokens, defaultMaxTokens)
	}
	if len(body.System) != 2 || body.System[0].Text != "be helpful" || body.System[1].Text != req.ToolContext {
		t.Fatalf("system blocks = %+v, want prompt + tool context", body.System)
	}
	if len(body.Messages) != 2 {
		t.Fatalf("messages = %d, want 2", len(body.Messages))
	}
	if body.Messages[0].Role != "user" || body.Messages[0].Content[0].Text != "hello" {
		t.Fatalf("user message = %+v", body.Messages[0])
	}
	if body.Messages[1].Role != "assistant" || body.Messages[1].Content[0].Text != "hi there" {
		t.Fatalf("assistant message = %+v", body.Messages[1])
	}
}

func TestToSDKParamsToolCallRoundTrip(t *testing.T) {
	t.Parallel()

	req := &core.Request{
		Model: "claude-sonnet-4-20250514",
		Messages: []core.Message{
			{Role: core.RoleUser, Content: "read a.txt"},
			{
				Role:          core.RoleAssistant,
				ContentIsNull: true,
				ToolCalls: []core.ToolCall{
					{ID: "toolu_1", Name: "read_file", Arguments: `{"file_path":"a.txt"}`},
				},
			},
			{
				Role:       core.RoleTool,
				ToolCallID: "toolu_1",
				ToolName:   "read_file",
				Content:    `{"mode":"slice","lines":["L1: x"],"truncated":false}`,
			},
		},
	}

	params, err := toSDKParams(req)
	if err != nil {
		t.Fatalf("toSDKParams() error = %v", err)
	}
	body := decodeParams(t, params)
	if len(body.Messages) != 3 {
		t.Fatalf("messages = %d, want 3", len(body.Messages))
	}

	assistant := body.Messages[1]
	if assistant.Role != "assistant" || len(assistant.Content) != 1 {
		t.Fatalf("assistant message = %+v, want single tool_use block", assistant)
	}
	toolUse := assistant.Content[0]
	if toolUse.Type != "tool_use" || toolUse.ID != "toolu_1" || toolUse.Name != "read_file" {
		t.Fatalf("tool_use block = %+v", toolUse)
	}
	if toolUse.Input["file_path"] != "a.txt" {
		t.Fatalf("tool_use input = %v", toolUse.Input)
	}

	result := body.Messages[2]
	if result.Role != "user" || len(result.Content) != 1 {
		t.Fatalf("tool result message = %+v, want user message with one block", result)
	}
	if result.Content[0].Type != "tool_result" || result.Content[0].ToolUseID != "toolu_1" {
		t.Fatalf("tool_result block = %+v", result.Content[0])
	}
	if result.Content[0].IsError {
		t.Fatalf("tool_result is_error = true, want false")
	}
}

func TestToSDKParamsPreservesToolSchema(t *testing.T) {
	t.Parallel()

	type readInput struct {
		FilePath string `json:"file_path"`
		Limit    *int   `json:"limit,omitempty"`
	}
	spec, err := core.NewToolSpecFromStruct("read_file", "Read a file.", readInput{})
	if err != nil {
		t.Fatalf("NewToolSpecFromStruct() error = %v", err)
	}

	params, err := toSDKParams(&core.Request{
		Model:    "claude-sonnet-4-20250514",
		Tools:    []core.ToolSpec{spec},
		Messages: []core.Message{{Role: core.RoleUser, Content: "go"}},
	})
	if err != nil {
		t.Fatalf("toSDKParams() error = %v", err)
	}
	body := decodeParams(t, params)

	if len(body.Tools) != 1 {
		t.Fatalf("tools = %d, want 1", len(body.Tools))
	}
	tool := body.Tools[0]
	if tool.Name != "read_file" || tool.Description != "Read a file." {
		t.Fatalf("tool = %+v", tool)
	}
	if _, ok := tool.InputSchema.Properties["file_path"]; !ok {
		t.Fatalf("input_schema properties = %v", tool.InputSchema.Properties)
	}
	if len(tool.InputSchema.Required) != 1 || tool.InputSchema.Required[0] != "file_path" {
		t.Fatalf("input_schema required = %v", tool.InputSchema.Required)
	}
}

func TestToSDKParamsExplicitLimitsAndTemperature(t *testing.T) {
	t.Parallel()

	temp := 0.3
	params, err := toSDKParams(&core.Request{
		Model:               "claude-sonnet-4-20250514",
		MaxCompletionTokens: 512,
		Temperature:         &temp,
		Messages:            []core.Message{{Role: core.RoleUser, Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("toSDKParams() error = %v", err)
	}
	body := decodeParams(t, params)
	if body.MaxTokens != 512 {
		t.Fatalf("max_tokens = %d, want 512", body.MaxTokens)
	}
	if body.Temperature != 0.3 {
		t.Fatalf("temperature = %v, want 0.3", body.Temperature)
	}
}

func TestToSDKParamsRejectsBadInput(t *testing.T) {
	t.Parallel()

	if _, err := toSDKParams(&core.Request{Model: "  "}); err == nil {
		t.Fatalf("missing model accepted")
	}

	_, err := toSDKParams(&core.Request{
		Model:    "claude-sonnet-4-20250514",
		Messages: []core.Message{{Role: core.RoleTool, Content: "{}"}},
	})
	if err == nil {
		t.Fatalf("tool message without tool_call_id accepted")
	}
}

func TestToSDKParamsSkipsEmptyMessages(t *testing.T) {
	t.Parallel()

	params, err := toSDKParams(&core.Request{
		Model: "claude-sonnet-4-20250514",
		Messages: []core.Message{
			{Role: core.RoleUser, Content: ""},
			{Role: core.RoleAssistant, ContentIsNull: true},
			{Role: core.RoleUser, Content: "real"},
		},
	})
	if err != nil {
		t.Fatalf("toSDKParams() error = %v", err)
	}
	body := decodeParams(t, params)
	if len(body.Messages) != 1 || body.Messages[0].Content[0].Text != "real" {
		t.Fatalf("messages = %+v, want only the non-empty user message", body.Messages)
	}
}
