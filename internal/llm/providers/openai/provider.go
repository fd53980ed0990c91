// Package openaiprovider streams chat completions from any
// OpenAI-compatible endpoint (OpenRouter, OpenAI, vLLM, ...).
package openaiprovider

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"twiddle/internal/llm/core"
)

const (
	defaultPath       = "/v1/chat/completions"
	userAgent         = "twiddle/0.1"
	maxErrorBodyBytes = 2 * 1024
)

// Config configures the OpenAI-compatible provider.
type Config struct {
	APIKey     string
	BaseURL    string
	Path       string
	HTTPClient *http.Client
}

// Provider drives one streamed chat-completion request at a time.
type Provider struct {
	apiKey   string
	endpoint string
	client   *http.Client
	rtt      rttClock
}

// New constructs a provider with sane defaults.
func New(cfg Config) *Provider {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		path = defaultPath
	}

	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{}
	}

	return &Provider{
		apiKey:   strings.TrimSpace(cfg.APIKey),
		endpoint: strings.TrimRight(cfg.BaseURL, "/") + path,
		client:   client,
	}
}

// Stream executes a single streamed chat-completion request. Pre-stream
// failures (payload serialization, connection, non-2xx status) are returned
// synchronously; mid-stream failures arrive as EventError on the channel.
func (p *Provider) Stream(ctx context.Context, req *core.Request) (<-chan core.Event, error) {
	if p.apiKey == "" {
		return nil, core.ErrMissingAPIKey
	}

	payload, err := buildPayload(req)
	if err != nil {
		return nil, err
	}

	// One cancel function covers the header wait and every subsequent body
	// read: the deadline timer re-arms per socket operation.
	reqCtx, cancel := context.WithCancel(ctx)
	timeout := p.rtt.timeout()

	httpReq, err := http.NewRequestWithContext(reqCtx, http.MethodPost, p.endpoint, bytes.NewReader(payload))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("User-Agent", userAgent)
	httpReq.Header.Set("Accept", "text/event-stream")
	httpReq.Header.Set("Connection", "keep-alive")
	httpReq.Header.Set("Accept-Encoding", "identity")

	headerTimer := time.AfterFunc(timeout, cancel)
	start := time.Now()
	resp, err := p.client.Do(httpReq)
	headerTimer.Stop()
	if err != nil {
		cancel()
		if isTransientNetError(err) || reqCtx.Err() != nil && ctx.Err() == nil {
			return nil, core.MarkRetryable(fmt.Errorf("send request: %w", err))
		}
		return nil, fmt.Errorf("send request: %w", err)
	}
	p.rtt.observe(time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		_ = resp.Body.Close()
		cancel()
		return nil, &core.UpstreamError{
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(body)),
		}
	}

	events := make(chan core.Event, 1)
	body := &idleTimeoutBody{rc: resp.Body, timeout: p.rtt.timeout(), cancel: cancel}

	go func() {
		defer close(events)
		defer cancel()
		defer func() { _ = resp.Body.Close() }()

		dec := &streamDecoder{events: events}
		if err := dec.run(ctx, body); err != nil {
			if ctx.Err() != nil {
				err = ctx.Err()
			}
			core.SendTerminalEvent(events, core.Event{Type: core.EventError, Err: err})
		}
	}()

	return events, nil
}

// isTransientNetError reports whether err looks like a connection reset,
// connection timeout, or transient DNS failure.
func isTransientNetError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return dnsErr.IsTemporary || dnsErr.IsTimeout
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return opErr.Op == "read" || opErr.Op == "write" || opErr.Op == "dial"
	}
	return false
}
