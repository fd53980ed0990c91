// Package mockprovider emits a predefined event script for deterministic
// tests.
package mockprovider

import (
	"context"
	"sync"

	"twiddle/internal/llm/core"
)

// Provider plays back one scripted event sequence per Stream call. Scripts
// are consumed in order; the last script repeats once exhausted.
type Provider struct {
	Scripts [][]core.Event

	mu       sync.Mutex
	Requests []*core.Request
	next     int
}

// Stream records the request and emits the next script until exhaustion or
// cancellation.
func (m *Provider) Stream(ctx context.Context, req *core.Request) (<-chan core.Event, error) {
	m.mu.Lock()
	m.Requests = append(m.Requests, cloneRequest(req))
	script := []core.Event{}
	if len(m.Scripts) > 0 {
		idx := m.next
		if idx >= len(m.Scripts) {
			idx = len(m.Scripts) - 1
		}
		script = m.Scripts[idx]
		m.next++
	}
	m.mu.Unlock()

	out := make(chan core.Event, 1)
	go func() {
		defer close(out)
		for _, ev := range script {
			select {
			case <-ctx.Done():
				core.SendTerminalEvent(out, core.Event{Type: core.EventError, Err: ctx.Err()})
				return
			case out <- ev:
			}
		}
	}()
	return out, nil
}

func cloneRequest(req *core.Request) *core.Request {
	if req == nil {
		return nil
	}
	cloned := *req
	cloned.Messages = append([]core.Message(nil), req.Messages...)
	cloned.Tools = append([]core.ToolSpec(nil), req.Tools...)
	return &cloned
}
