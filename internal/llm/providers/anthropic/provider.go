// Package anthropicprovider adapts the Anthropic Messages API to the same
// event stream the chat-completions provider produces.
package anthropicprovider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"twiddle/internal/llm/core"
)

// Config configures the Anthropic provider.
type Config struct {
	APIKey     string
	BaseURL    string
	HTTPClient *http.Client
}

// Provider is a thin wrapper around the official anthropic-sdk-go client.
type Provider struct {
	apiKey string
	client anthropic.Client
}

// New constructs a provider with sane defaults.
func New(cfg Config) *Provider {
	apiKey := strings.TrimSpace(cfg.APIKey)
	clientOptions := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0), // retry budget lives in the chat client
	}
	if baseURL := strings.TrimRight(cfg.BaseURL, "/"); baseURL != "" {
		clientOptions = append(clientOptions, option.WithBaseURL(baseURL))
	}
	if cfg.HTTPClient != nil {
		clientOptions = append(clientOptions, option.WithHTTPClient(cfg.HTTPClient))
	}

	return &Provider{
		apiKey: apiKey,
		client: anthropic.NewClient(clientOptions...),
	}
}

// Stream executes a single Messages API streaming request.
func (p *Provider) Stream(ctx context.Context, req *core.Request) (<-chan core.Event, error) {
	if p.apiKey == "" {
		return nil, core.ErrMissingAPIKey
	}
	params, err := toSDKParams(req)
	if err != nil {
		return nil, err
	}

	events := make(chan core.Event, 1)
	go func() {
		defer close(events)
		if err := p.streamOnce(ctx, params, events); err != nil {
			if isRetryableSDKError(err) {
				err = core.MarkRetryable(err)
			}
			core.SendTerminalEvent(events, core.Event{Type: core.EventError, Err: err})
		}
	}()
	return events, nil
}

// toolUseState reconstructs chunked tool_use input per content block index.
type toolUseState struct {
	id    string
	name  string
	input strings.Builder
}

func (p *Provider) streamOnce(ctx context.Context, params anthropic.MessageNewParams, events chan<- core.Event) error {
	stream := p.client.Messages.NewStreaming(ctx, params)
	defer func() { _ = stream.Close() }()

	var usage core.Usage
	accumulators := map[int64]*toolUseState{}
	var calls []core.ToolCall

	for stream.Next() {
		if err := ctx.Err(); err != nil {
			return err
		}

		switch variant := stream.Current().AsAny().(type) {
		case anthropic.MessageStartEvent:
			usage.PromptTokens = int(variant.Message.Usage.InputTokens)
			usage.Valid = true

		case anthropic.ContentBlockStartEvent:
			if block, ok := variant.ContentBlock.AsAny().(anthropic.ToolUseBlock); ok {
				acc := &toolUseState{id: block.ID, name: block.Name}
				if raw, err := json.Marshal(block.Input); err == nil && len(raw) > 0 && string(raw) != "{}" && string(raw) != "null" {
					acc.input.Write(raw)
				}
				accumulators[variant.Index] = acc
			}

		case anthropic.ContentBlockDeltaEvent:
			switch delta := variant.Delta.AsAny().(type) {
			case anthropic.TextDelta:
				if err := core.SendEvent(ctx, events, core.Event{Type: core.EventTextDelta, TextDelta: delta.Text}); err != nil {
					return err
				}
			case anthropic.InputJSONDelta:
				if acc, ok := accumulators[variant.Index]; ok {
					acc.input.WriteString(delta.PartialJSON)
				}
			}

		case anthropic.ContentBlockStopEvent:
			acc, ok := accumulators[variant.Index]
			if !ok {
				continue
			}
			delete(accumulators, variant.Index)
			args := strings.TrimSpace(acc.input.String())
			if args == "" {
				args = "{}"
			}
			calls = append(calls, core.ToolCall{ID: acc.id, Name: acc.name, Arguments: args})

		case anthropic.MessageDeltaEvent:
			usage.CompletionTokens = int(variant.Usage.OutputTokens)
			usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens
			usage.Valid = true
			if err := core.SendEvent(ctx, events, core.Event{Type: core.EventUsage, Usage: usage.Clone()}); err != nil {
				return err
			}

		case anthropic.MessageStopEvent:
			return core.SendEvent(ctx, events, core.Event{
				Type: core.EventDone,
				Done: &core.DonePayload{ToolCalls: calls, Usage: usage},
			})
		}
	}

	if err := stream.Err(); err != nil {
		return fmt.Errorf("anthropic stream: %w", err)
	}
	return core.SendEvent(ctx, events, core.Event{
		Type: core.EventDone,
		Done: &core.DonePayload{ToolCalls: calls, Usage: usage},
	})
}

// isRetryableSDKError reports whether err is an Anthropic API error with
// status 429 or 5xx; transport errors are not treated as retryable.
func isRetryableSDKError(err error) bool {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == http.StatusTooManyRequests || apiErr.StatusCode >= http.StatusInternalServerError
	}
	return false
}
