package tools

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// decodeParams unmarshals raw tool arguments, treating blank input as an
// empty object.
func decodeParams(raw json.RawMessage, target any) error {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		trimmed = []byte("{}")
	}
	if err := json.Unmarshal(trimmed, target); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return nil
}
