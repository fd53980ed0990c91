package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"twiddle/internal/llm"
)

// ChatClient owns the conversation and drives one streamed model turn at a
// time. Each turn runs under a snapshot: if the turn fails, everything it
// appended (including the user message) is rolled back.
type ChatClient struct {
	provider llm.Provider
	conv     *Conversation
	display  io.Writer

	model               string
	system              string
	toolContext         string
	tools               []llm.ToolSpec
	maxCompletionTokens int
	temperature         *float64

	lastUsage llm.Usage
}

// ChatConfig wires a chat client.
type ChatConfig struct {
	Provider            llm.Provider
	Display             io.Writer
	Model               string
	System              string
	ToolContext         string
	Tools               []llm.ToolSpec
	MaxCompletionTokens int
	Temperature         *float64
}

// NewChatClient constructs a chat client with a fresh conversation.
func NewChatClient(cfg ChatConfig) *ChatClient {
	display := cfg.Display
	if display == nil {
		display = io.Discard
	}
	return &ChatClient{
		provider:            cfg.Provider,
		conv:                NewConversation(),
		display:             display,
		model:               cfg.Model,
		system:              cfg.System,
		toolContext:         cfg.ToolContext,
		tools:               cfg.Tools,
		maxCompletionTokens: cfg.MaxCompletionTokens,
		temperature:         cfg.Temperature,
	}
}

// Conversation exposes the client-owned history.
func (c *ChatClient) Conversation() *Conversation { return c.conv }

// Model returns the configured model name.
func (c *ChatClient) Model() string { return c.model }

// LastUsage returns the usage snapshot from the most recent turn.
func (c *ChatClient) LastUsage() llm.Usage { return c.lastUsage }

// Respond appends the user message and runs one streamed turn under a
// snapshot transaction.
func (c *ChatClient) Respond(ctx context.Context, userText string) error {
	snapshot := c.conv.Snapshot()
	defer snapshot.Rollback()

	c.conv.Append(llm.Message{Role: llm.RoleUser, Content: userText})
	if err := c.streamTurnWithRetry(ctx); err != nil {
		return err
	}
	snapshot.Commit()
	return nil
}

// Continue runs a follow-up turn on the existing history, typically after
// tool messages were appended.
func (c *ChatClient) Continue(ctx context.Context) error {
	snapshot := c.conv.Snapshot()
	defer snapshot.Rollback()

	if err := c.streamTurnWithRetry(ctx); err != nil {
		return err
	}
	snapshot.Commit()
	return nil
}

// streamTurnWithRetry spends at most one retry on transient failures,
// backing off before the second attempt. A non-2xx body is surfaced as a
// visible error line regardless of the retry decision.
func (c *ChatClient) streamTurnWithRetry(ctx context.Context) error {
	err := c.streamTurn(ctx)
	if err == nil {
		return nil
	}
	c.reportUpstreamError(err)
	if !llm.IsRetryableError(err) || ctx.Err() != nil {
		return err
	}

	fmt.Fprintln(c.display, "…retrying…")
	if err := llm.SleepContext(ctx, llm.BackoffDelay(0)); err != nil {
		return err
	}
	if err := c.streamTurn(ctx); err != nil {
		c.reportUpstreamError(err)
		return err
	}
	return nil
}

func (c *ChatClient) reportUpstreamError(err error) {
	var upstream *llm.UpstreamError
	if errors.As(err, &upstream) {
		fmt.Fprintln(c.display, upstream.Error())
	}
}

func (c *ChatClient) streamTurn(ctx context.Context) error {
	c.lastUsage = llm.Usage{}

	req := &llm.Request{
		Model:               c.model,
		System:              c.system,
		ToolContext:         c.toolContext,
		Messages:            c.conv.Messages(),
		Tools:               c.tools,
		MaxCompletionTokens: c.maxCompletionTokens,
		Temperature:         c.temperature,
	}

	stream, err := c.provider.Stream(ctx, req)
	if err != nil {
		return err
	}

	var transcript strings.Builder
	var done *llm.DonePayload
	for ev := range stream {
		switch ev.Type {
		case llm.EventTextDelta:
			transcript.WriteString(ev.TextDelta)
			c.writeDelta(ev.TextDelta)
		case llm.EventUsage:
			c.lastUsage = *ev.Usage
		case llm.EventDone:
			done = ev.Done
		case llm.EventError:
			return ev.Err
		}
	}
	if done == nil {
		return errors.New("stream ended without completion")
	}
	if done.Usage.Valid {
		c.lastUsage = done.Usage
	}

	msg := llm.Message{
		Role:      llm.RoleAssistant,
		Content:   transcript.String(),
		ToolCalls: done.ToolCalls,
	}
	// The model spoke only through tool calls.
	if len(done.ToolCalls) > 0 && msg.Content == "" {
		msg.ContentIsNull = true
	}
	c.conv.Append(msg)
	return nil
}

type flusher interface {
	Flush() error
}

// writeDelta forwards one chunk to the display, flushing eagerly whenever a
// newline went out.
func (c *ChatClient) writeDelta(chunk string) {
	_, _ = io.WriteString(c.display, chunk)
	if strings.ContainsRune(chunk, '\n') {
		if f, ok := c.display.(flusher); ok {
			_ = f.Flush()
		}
	}
}
