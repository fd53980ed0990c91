// Package llm exposes the provider-agnostic streaming contract and the
// concrete providers under one import path.
package llm

import (
	"context"
	"time"

	anthropicprovider "twiddle/internal/llm/providers/anthropic"
	mockprovider "twiddle/internal/llm/providers/mock"
	openaiprovider "twiddle/internal/llm/providers/openai"

	"twiddle/internal/llm/core"
)

type (
	// Provider is the public streaming provider contract.
	Provider = core.Provider

	// Request and event payload aliases define the public stream protocol.
	Request     = core.Request
	EventType   = core.EventType
	Event       = core.Event
	DonePayload = core.DonePayload

	// Conversation-model aliases.
	Role         = core.Role
	Message      = core.Message
	ToolCall     = core.ToolCall
	ToolSpec     = core.ToolSpec
	Usage        = core.Usage
	ContextUsage = core.ContextUsage

	// UpstreamError carries a non-2xx response status and captured body.
	UpstreamError = core.UpstreamError

	// OpenAI* aliases expose the chat-completions provider.
	OpenAIConfig   = openaiprovider.Config
	OpenAIProvider = openaiprovider.Provider

	// Anthropic* aliases expose the Messages API provider.
	AnthropicConfig   = anthropicprovider.Config
	AnthropicProvider = anthropicprovider.Provider

	// MockProvider emits scripted events for tests.
	MockProvider = mockprovider.Provider
)

const (
	EventTextDelta = core.EventTextDelta
	EventUsage     = core.EventUsage
	EventDone      = core.EventDone
	EventError     = core.EventError

	RoleUser      = core.RoleUser
	RoleAssistant = core.RoleAssistant
	RoleTool      = core.RoleTool
)

var (
	// ErrMissingAPIKey indicates missing provider credentials.
	ErrMissingAPIKey = core.ErrMissingAPIKey
	// ErrStreamFormat indicates a malformed SSE stream.
	ErrStreamFormat = core.ErrStreamFormat
	// ErrPayloadTooLarge indicates request serialization exceeded its bound.
	ErrPayloadTooLarge = core.ErrPayloadTooLarge
)

// NewToolSpecFromStruct reflects a Go struct into a normalized tool schema.
func NewToolSpecFromStruct(name, description string, schemaStruct any) (ToolSpec, error) {
	return core.NewToolSpecFromStruct(name, description, schemaStruct)
}

// ContextUsageFor computes end-of-turn context window arithmetic.
func ContextUsageFor(limitTokens, usedTokens int) ContextUsage {
	return core.ContextUsageFor(limitTokens, usedTokens)
}

// IsRetryableError reports whether a turn failure is worth one retry.
func IsRetryableError(err error) bool {
	return core.IsRetryableError(err)
}

// BackoffDelay returns the jittered backoff for a retry attempt.
func BackoffDelay(attempt int) time.Duration {
	return core.BackoffDelay(attempt)
}

// SleepContext waits for delay unless the context is canceled first.
func SleepContext(ctx context.Context, delay time.Duration) error {
	return core.SleepContext(ctx, delay)
}

// NewOpenAIProvider constructs the chat-completions provider.
func NewOpenAIProvider(cfg OpenAIConfig) *OpenAIProvider {
	return openaiprovider.New(cfg)
}

// NewAnthropicProvider constructs the Messages API provider.
func NewAnthropicProvider(cfg AnthropicConfig) *AnthropicProvider {
	return anthropicprovider.New(cfg)
}
