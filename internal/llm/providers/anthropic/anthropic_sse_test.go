package anthropicprovider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"twiddle/internal/llm/core"
)

func sseServer(t *testing.T, events ...string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher, ok := w.(http.Flusher)
		if !ok {
			t.Fatalf("response writer does not implement flusher")
		}
		for _, chunk := range events {
			_, _ = fmt.Fprint(w, chunk)
			flusher.Flush()
		}
	}))
}

func streamEvents(t *testing.T, server *httptest.Server) []core.Event {
	t.Helper()

	p := New(Config{APIKey: "test-key", BaseURL: server.URL})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	stream, err := p.Stream(ctx, &core.Request{
		Model:    "claude-sonnet-4-20250514",
		Messages: []core.Message{{Role: core.RoleUser, Content: "hello"}},
	})
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}

	var events []core.Event
	for ev := range stream {
		events = append(events, ev)
	}
	return events
}

func TestStreamEmitsTextDeltaAndDone(t *testing.T) {
	t.Parallel()

	server := sseServer(t,
		"event: message_start\ndata: {\"type\":\"message_start\",\"message\":{\"usage\":{\"input_tokens\":10,\"output_tokens\":0}}}\n\n",
		"event: content_block_start\ndata: {\"type\":\"content_block_start\",\"index\":0,\"content_block\":{\"type\":\"text\",\"text\":\"\"}}\n\n",
		"event: content_block_delta\ndata: {\"type\":\"content_block_delta\",\"index\":0,\"delta\":{\"type\":\"text_delta\",\"text\":\"hi\"}}\n\n",
		"event: content_block_delta\ndata: {\"type\":\"content_block_delta\",\"index\":0,\"delta\":{\"type\":\"text_delta\",\"text\":\" there\"}}\n\n",
		"event: message_delta\ndata: {\"type\":\"message_delta\",\"delta\":{\"stop_reason\":\"end_turn\",\"stop_sequence\":\"\"},\"usage\":{\"input_tokens\":10,\"output_tokens\":2}}\n\n",
		"event: message_stop\ndata: {\"type\":\"message_stop\"}\n\n",
	)
	defer server.Close()

	events := streamEvents(t, server)

	var text strings.Builder
	usageIdx, doneIdx := -1, -1
	var done *core.DonePayload
	for i, ev := range events {
		switch ev.Type {
		case core.EventTextDelta:
			text.WriteString(ev.TextDelta)
		case core.EventUsage:
			usageIdx = i
		case core.EventDone:
			doneIdx = i
			done = ev.Done
		case core.EventError:
			t.Fatalf("unexpected error event: %v", ev.Err)
		}
	}

	if text.String() != "hi there" {
		t.Fatalf("text = %q, want %q", text.String(), "hi there")
	}
	if done == nil {
		t.Fatalf("missing done event")
	}
	// message_delta usage precedes the terminal done.
	if usageIdx < 0 || doneIdx < 0 || usageIdx > doneIdx {
		t.Fatalf("event order usage=%d done=%d, want usage before done", usageIdx, doneIdx)
	}
	usage := done.Usage
	if !usage.Valid || usage.PromptTokens != 10 || usage.CompletionTokens != 2 || usage.TotalTokens != 12 {
		t.Fatalf("usage = %+v, want valid 10/2/12", usage)
	}
	if len(done.ToolCalls) != 0 {
		t.Fatalf("tool calls = %+v, want none", done.ToolCalls)
	}
}

func TestStreamDoneWithoutMessageStop(t *testing.T) {
	t.Parallel()

	// A stream that ends cleanly but without message_stop still finalizes.
	server := sseServer(t,
		"event: message_start\ndata: {\"type\":\"message_start\",\"message\":{\"usage\":{\"input_tokens\":4,\"output_tokens\":0}}}\n\n",
		"event: content_block_delta\ndata: {\"type\":\"content_block_delta\",\"index\":0,\"delta\":{\"type\":\"text_delta\",\"text\":\"x\"}}\n\n",
	)
	defer server.Close()

	events := streamEvents(t, server)
	sawDone := false
	for _, ev := range events {
		if ev.Type == core.EventDone {
			sawDone = true
		}
	}
	if !sawDone {
		t.Fatalf("stream without message_stop did not finalize")
	}
}

func TestStreamUpstreamErrorIsRetryable(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"type":"error","error":{"type":"overloaded_error","message":"overloaded"}}`, http.StatusServiceUnavailable)
	}))
	defer server.Close()

	p := New(Config{APIKey: "test-key", BaseURL: server.URL})
	stream, err := p.Stream(context.Background(), &core.Request{
		Model:    "claude-sonnet-4-20250514",
		Messages: []core.Message{{Role: core.RoleUser, Content: "hello"}},
	})
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}

	var terminal core.Event
	for ev := range stream {
		terminal = ev
	}
	if terminal.Type != core.EventError || terminal.Err == nil {
		t.Fatalf("terminal event = %+v, want error", terminal)
	}
	if !core.IsRetryableError(terminal.Err) {
		t.Fatalf("503 stream error should be retryable: %v", terminal.Err)
	}
}

func TestStreamMissingAPIKey(t *testing.T) {
	t.Parallel()

	p := New(Config{})
	if _, err := p.Stream(context.Background(), &core.Request{Model: "m"}); !errors.Is(err, core.ErrMissingAPIKey) {
		t.Fatalf("Stream() error = %v, want ErrMissingAPIKey", err)
	}
}

func TestStreamCancellation(t *testing.T) {
	t.Parallel()

	started := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		_, _ = fmt.Fprint(w, "event: message_start\ndata: {\"type\":\"message_start\",\"message\":{\"usage\":{\"input_tokens\":1,\"output_tokens\":0}}}\n\n")
		flusher.Flush()
		close(started)
		<-r.Context().Done()
	}))
	defer server.Close()

	p := New(Config{APIKey: "test-key", BaseURL: server.URL})
	ctx, cancel := context.WithCancel(context.Background())

	stream, err := p.Stream(ctx, &core.Request{
		Model:    "claude-sonnet-4-20250514",
		Messages: []core.Message{{Role: core.RoleUser, Content: "hello"}},
	})
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}

	<-started
	cancel()

	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-stream:
			if !ok {
				return // channel closed after cancellation
			}
			if ev.Type == core.EventError {
				return
			}
		case <-deadline:
			t.Fatalf("stream did not terminate after cancellation")
		}
	}
}
