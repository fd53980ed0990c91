package openaiprovider

import (
	"fmt"

	"github.com/tidwall/gjson"

	"twiddle/internal/llm/core"
)

// partialToolCall is one accumulator slot, keyed by the stream-provided
// index. ID and name are write-once; arguments grow byte by byte.
type partialToolCall struct {
	id        string
	name      string
	arguments []byte
}

// callAccumulator merges partial tool-call fragments into complete calls.
type callAccumulator struct {
	calls []partialToolCall
}

// apply folds one fragment into the accumulator. A fragment without an index
// addresses slot 0 only while the list is empty; servers either always index
// or never.
func (a *callAccumulator) apply(fragment gjson.Result) error {
	idx := 0
	if index := fragment.Get("index"); index.Exists() {
		idx = int(index.Int())
		if idx < 0 {
			return fmt.Errorf("%w: negative tool_call index", core.ErrStreamFormat)
		}
	} else if len(a.calls) != 0 {
		return fmt.Errorf("%w: tool_call fragment without index", core.ErrStreamFormat)
	}

	for len(a.calls) <= idx {
		a.calls = append(a.calls, partialToolCall{})
	}
	partial := &a.calls[idx]

	if id := fragment.Get("id"); id.Type == gjson.String {
		if err := setOnce(&partial.id, id.String(), "id"); err != nil {
			return err
		}
	}
	function := fragment.Get("function")
	if name := function.Get("name"); name.Type == gjson.String {
		if name.String() == "" {
			return fmt.Errorf("%w: empty tool_call name", core.ErrStreamFormat)
		}
		if err := setOnce(&partial.name, name.String(), "name"); err != nil {
			return err
		}
	}
	if args := function.Get("arguments"); args.Type == gjson.String {
		partial.arguments = append(partial.arguments, args.String()...)
	}
	return nil
}

// setOnce enforces the monotonic rule: setting an already-set field to a
// different value is a stream format error.
func setOnce(field *string, value, label string) error {
	if *field == "" {
		*field = value
		return nil
	}
	if *field != value {
		return fmt.Errorf("%w: tool_call %s changed mid-stream", core.ErrStreamFormat, label)
	}
	return nil
}

// take finalizes the accumulated partials into complete calls. The
// accumulator is reset regardless of outcome.
func (a *callAccumulator) take() ([]core.ToolCall, error) {
	partials := a.calls
	a.calls = nil

	if len(partials) == 0 {
		return nil, nil
	}
	calls := make([]core.ToolCall, 0, len(partials))
	for _, partial := range partials {
		if partial.id == "" || partial.name == "" {
			return nil, fmt.Errorf("%w: incomplete tool_call (id=%q name=%q)", core.ErrStreamFormat, partial.id, partial.name)
		}
		calls = append(calls, core.ToolCall{
			ID:        partial.id,
			Name:      partial.name,
			Arguments: string(partial.arguments),
		})
	}
	return calls, nil
}
