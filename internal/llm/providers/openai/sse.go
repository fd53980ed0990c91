package openaiprovider

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/tidwall/gjson"

	"twiddle/internal/llm/core"
)

const (
	// maxEventBytes bounds one SSE event payload.
	maxEventBytes = 16 * 1024
	// initialLineBytes is the starting line buffer; it spills to heap for
	// longer lines up to maxLineBytes.
	initialLineBytes = 512
	maxLineBytes     = 1 << 20
)

var doneSentinel = []byte("[DONE]")

// streamDecoder turns the SSE byte stream into events: text deltas, usage
// snapshots, and a final done event carrying the accumulated tool calls.
type streamDecoder struct {
	events chan<- core.Event
	acc    callAccumulator
	usage  core.Usage
}

func (d *streamDecoder) run(ctx context.Context, body io.Reader) error {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, initialLineBytes), maxLineBytes)

	event := make([]byte, 0, 256)
	haveData := false
	finished := false

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}

		line := bytes.TrimSuffix(scanner.Bytes(), []byte{'\r'})
		if len(line) == 0 {
			if haveData {
				if bytes.Equal(event, doneSentinel) {
					finished = true
					break
				}
				if err := d.dispatch(ctx, event); err != nil {
					return err
				}
			}
			event = event[:0]
			haveData = false
			continue
		}

		if !bytes.HasPrefix(line, []byte("data:")) {
			continue
		}
		payload := line[len("data:"):]
		if len(payload) > 0 && payload[0] == ' ' {
			payload = payload[1:]
		}
		if haveData {
			event = append(event, '\n')
		}
		event = append(event, payload...)
		haveData = true
		if len(event) > maxEventBytes {
			return fmt.Errorf("%w: event exceeds %d bytes", core.ErrStreamFormat, maxEventBytes)
		}
	}

	if err := scanner.Err(); err != nil && !finished {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return core.MarkRetryable(fmt.Errorf("read stream: %w", err))
	}

	// EOF without [DONE] still finalizes: combine whatever arrived.
	return d.finish(ctx)
}

// dispatch routes one parsed SSE event: choice deltas first, then usage.
func (d *streamDecoder) dispatch(ctx context.Context, event []byte) error {
	root := gjson.ParseBytes(event)
	if !root.IsObject() {
		return fmt.Errorf("%w: event is not a json object", core.ErrStreamFormat)
	}

	if choices := root.Get("choices"); choices.IsArray() {
		for _, choice := range choices.Array() {
			if err := d.dispatchChoice(ctx, choice); err != nil {
				return err
			}
		}
	}

	if usage := root.Get("usage"); usage.IsObject() {
		d.usage = core.Usage{
			PromptTokens:     int(usage.Get("prompt_tokens").Int()),
			CompletionTokens: int(usage.Get("completion_tokens").Int()),
			TotalTokens:      int(usage.Get("total_tokens").Int()),
			Valid:            true,
		}
		if err := core.SendEvent(ctx, d.events, core.Event{Type: core.EventUsage, Usage: d.usage.Clone()}); err != nil {
			return err
		}
	}
	return nil
}

func (d *streamDecoder) dispatchChoice(ctx context.Context, choice gjson.Result) error {
	delta := choice.Get("delta")
	switch {
	case delta.Type == gjson.String:
		return d.emit(ctx, delta.String())
	case delta.IsObject():
		if calls := delta.Get("tool_calls"); calls.IsArray() {
			for _, fragment := range calls.Array() {
				if err := d.acc.apply(fragment); err != nil {
					return err
				}
			}
		}
		if content := delta.Get("content"); content.Exists() {
			return d.walkContent(ctx, content)
		}
		if text := delta.Get("output_text"); text.Type == gjson.String {
			return d.emit(ctx, text.String())
		}
	}
	return nil
}

// walkContent handles the three shapes of the content field: plain string,
// array of parts, or object.
func (d *streamDecoder) walkContent(ctx context.Context, content gjson.Result) error {
	switch {
	case content.Type == gjson.String:
		return d.emit(ctx, content.String())
	case content.IsArray():
		for _, item := range content.Array() {
			switch {
			case item.Type == gjson.String:
				if err := d.emit(ctx, item.String()); err != nil {
					return err
				}
			case item.IsObject():
				if text := item.Get("text"); text.Type == gjson.String {
					if err := d.emit(ctx, text.String()); err != nil {
						return err
					}
				} else if nested := item.Get("content"); nested.Exists() {
					if err := d.walkContent(ctx, nested); err != nil {
						return err
					}
				}
			}
		}
	case content.IsObject():
		if text := content.Get("text"); text.Type == gjson.String {
			return d.emit(ctx, text.String())
		}
	}
	return nil
}

func (d *streamDecoder) emit(ctx context.Context, text string) error {
	if text == "" {
		return nil
	}
	return core.SendEvent(ctx, d.events, core.Event{Type: core.EventTextDelta, TextDelta: text})
}

func (d *streamDecoder) finish(ctx context.Context) error {
	calls, err := d.acc.take()
	if err != nil {
		return err
	}
	return core.SendEvent(ctx, d.events, core.Event{
		Type: core.EventDone,
		Done: &core.DonePayload{ToolCalls: calls, Usage: d.usage},
	})
}
