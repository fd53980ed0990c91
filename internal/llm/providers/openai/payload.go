package openaiprovider

import (
	"encoding/json"
	"fmt"

	"twiddle/internal/llm/core"
)

// maxPayloadBytes bounds the serialized request body.
const maxPayloadBytes = 8 << 20

type wireRequest struct {
	Model               string            `json:"model"`
	Stream              bool              `json:"stream"`
	StreamOptions       wireStreamOptions `json:"stream_options"`
	MaxCompletionTokens int               `json:"max_completion_tokens,omitempty"`
	Temperature         *float64          `json:"temperature,omitempty"`
	ParallelToolCalls   bool              `json:"parallel_tool_calls"`
	Tools               []wireTool        `json:"tools,omitempty"`
	Messages            []wireMessage     `json:"messages"`
}

type wireStreamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

type wireTool struct {
	Type     string           `json:"type"`
	Function wireToolFunction `json:"function"`
}

type wireToolFunction struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

type wireMessage struct {
	Role       string         `json:"role"`
	Content    *string        `json:"content"`
	Name       string         `json:"name,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
	ToolCalls  []wireToolCall `json:"tool_calls,omitempty"`
}

type wireToolCall struct {
	ID       string           `json:"id"`
	Type     string           `json:"type"`
	Function wireCallFunction `json:"function"`
}

type wireCallFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// buildPayload serializes the request per the chat-completions contract:
// system message first, optional tool-context system message second, then
// the conversation in order.
func buildPayload(req *core.Request) ([]byte, error) {
	messages := make([]wireMessage, 0, len(req.Messages)+2)
	if req.System != "" {
		messages = append(messages, textMessage("system", req.System))
	}
	if req.ToolContext != "" {
		messages = append(messages, textMessage("system", req.ToolContext))
	}
	for _, msg := range req.Messages {
		messages = append(messages, toWireMessage(msg))
	}

	tools := make([]wireTool, 0, len(req.Tools))
	for _, spec := range req.Tools {
		tools = append(tools, wireTool{
			Type: "function",
			Function: wireToolFunction{
				Name:        spec.Name,
				Description: spec.Description,
				Parameters:  spec.Schema,
			},
		})
	}

	payload, err := json.Marshal(wireRequest{
		Model:               req.Model,
		Stream:              true,
		StreamOptions:       wireStreamOptions{IncludeUsage: true},
		MaxCompletionTokens: req.MaxCompletionTokens,
		Temperature:         req.Temperature,
		ParallelToolCalls:   false,
		Tools:               tools,
		Messages:            messages,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal chat payload: %w", err)
	}
	if len(payload) > maxPayloadBytes {
		return nil, fmt.Errorf("%w: %d bytes", core.ErrPayloadTooLarge, len(payload))
	}
	return payload, nil
}

func textMessage(role, content string) wireMessage {
	return wireMessage{Role: role, Content: &content}
}

func toWireMessage(msg core.Message) wireMessage {
	out := wireMessage{Role: string(msg.Role)}

	switch msg.Role {
	case core.RoleTool:
		content := msg.Content
		out.Content = &content
		out.ToolCallID = msg.ToolCallID
		out.Name = msg.ToolName
	default:
		if !msg.ContentIsNull {
			content := msg.Content
			out.Content = &content
		}
		for _, call := range msg.ToolCalls {
			out.ToolCalls = append(out.ToolCalls, wireToolCall{
				ID:   call.ID,
				Type: "function",
				Function: wireCallFunction{
					Name:      call.Name,
					Arguments: call.Arguments,
				},
			})
		}
	}
	return out
}
