package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

const (
	readModeSlice       = "slice"
	readModeIndentation = "indentation"

	readHardLineCap   = 4000
	readDefaultLimit  = 2000
	readMaxLineLength = 500 // Unicode code points, not bytes
	readTabWidth      = 4
)

type readFileParams struct {
	FilePath        string `json:"file_path" jsonschema:"description=File to read; relative paths resolve against the workspace root"`
	Mode            string `json:"mode,omitempty" jsonschema:"enum=slice,enum=indentation,description=slice reads a plain line range; indentation extracts the block enclosing the anchor line"`
	Offset          *int   `json:"offset,omitempty" jsonschema:"description=1-based first line for slice mode (default 1)"`
	Limit           *int   `json:"limit,omitempty" jsonschema:"description=Maximum lines to return (default 2000; hard cap 4000)"`
	AnchorLine      *int   `json:"anchor_line,omitempty" jsonschema:"description=1-based anchor for indentation mode (default: offset)"`
	MaxLevels       *int   `json:"max_levels,omitempty" jsonschema:"description=Indentation levels of upward context; 0 means unbounded"`
	IncludeSiblings *bool  `json:"include_siblings,omitempty" jsonschema:"description=Admit sibling statements at the outermost admitted indent"`
	IncludeHeader   *bool  `json:"include_header,omitempty" jsonschema:"description=Keep header comments above the enclosing block (default true)"`
	MaxLines        *int   `json:"max_lines,omitempty" jsonschema:"description=Additional hard cap on returned lines"`
}

// lineRecord is one physical source line prepared for structural slicing.
type lineRecord struct {
	number    int
	display   string
	blank     bool
	effIndent int
}

// readFileTool reads a window of a file by line range or by
// indentation-anchored structural slicing.
type readFileTool struct {
	sandbox *Sandbox
}

func (t readFileTool) execute(ctx context.Context, params json.RawMessage) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var input readFileParams
	if err := decodeParams(params, &input); err != nil {
		return nil, err
	}
	if strings.TrimSpace(input.FilePath) == "" {
		return nil, fmt.Errorf("%w: file_path is required", ErrInvalidPayload)
	}

	mode := input.Mode
	if mode == "" {
		mode = readModeSlice
	}
	if mode != readModeSlice && mode != readModeIndentation {
		return nil, fmt.Errorf("%w: unknown mode %q", ErrInvalidPayload, input.Mode)
	}

	offset := 1
	if input.Offset != nil {
		offset = *input.Offset
	}
	if offset < 1 {
		return nil, fmt.Errorf("%w: offset must be >= 1", ErrInvalidPayload)
	}

	limit := readDefaultLimit
	if input.Limit != nil {
		limit = *input.Limit
	}
	if limit < 1 {
		return nil, fmt.Errorf("%w: limit must be >= 1", ErrInvalidPayload)
	}
	if limit > readHardLineCap {
		limit = readHardLineCap
	}

	resolved, err := t.sandbox.Resolve(input.FilePath)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(resolved)
	if err != nil {
		return nil, classifyPathError(input.FilePath, err)
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("%w: %s", ErrPathNotFile, input.FilePath)
	}

	raw, err := os.ReadFile(resolved)
	if err != nil {
		return nil, classifyPathError(input.FilePath, err)
	}
	lines := splitSourceLines(string(raw))

	switch mode {
	case readModeSlice:
		return t.slice(lines, offset, limit)
	default:
		return t.indentation(lines, input, offset, limit)
	}
}

// splitSourceLines drops the phantom line strings.Split yields after a final
// newline, so a file "a\nb\n" has two lines.
func splitSourceLines(content string) []string {
	if content == "" {
		return nil
	}
	lines := strings.Split(content, "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

func (t readFileTool) slice(lines []string, offset, limit int) ([]byte, error) {
	total := len(lines)
	if offset > total {
		return nil, fmt.Errorf("%w: offset %d of %d lines", ErrOffsetExceedsLength, offset, total)
	}

	end := offset - 1 + limit
	truncated := end < total
	if end > total {
		end = total
	}

	out := make([]string, 0, end-offset+1)
	for i := offset - 1; i < end; i++ {
		out = append(out, renderLine(i+1, lines[i]))
	}
	return readEnvelope(readModeSlice, out, truncated)
}

func (t readFileTool) indentation(lines []string, input readFileParams, offset, limit int) ([]byte, error) {
	total := len(lines)
	anchor := offset
	if input.AnchorLine != nil {
		anchor = *input.AnchorLine
	}
	if anchor < 1 {
		return nil, fmt.Errorf("%w: anchor_line must be >= 1", ErrInvalidPayload)
	}
	if anchor > total {
		return nil, fmt.Errorf("%w: anchor %d of %d lines", ErrAnchorExceedsLength, anchor, total)
	}

	maxLevels := 0
	if input.MaxLevels != nil {
		maxLevels = *input.MaxLevels
	}
	if maxLevels < 0 {
		return nil, fmt.Errorf("%w: max_levels must be >= 0", ErrInvalidPayload)
	}
	includeSiblings := false
	if input.IncludeSiblings != nil {
		includeSiblings = *input.IncludeSiblings
	}
	includeHeader := true
	if input.IncludeHeader != nil {
		includeHeader = *input.IncludeHeader
	}

	records := buildLineRecords(lines)
	anchorIdx := anchor - 1

	minIndent := 0
	if maxLevels > 0 {
		minIndent = records[anchorIdx].effIndent - maxLevels*readTabWidth
		if minIndent < 0 {
			minIndent = 0
		}
	}

	finalLimit := limit
	if input.MaxLines != nil && *input.MaxLines >= 1 && *input.MaxLines < finalLimit {
		finalLimit = *input.MaxLines
	}
	if finalLimit > total {
		finalLimit = total
	}

	selStart, selEnd := anchorIdx, anchorIdx
	count := 1
	up, down := anchorIdx-1, anchorIdx+1
	upStopped, downStopped := up < 0, down >= total
	upSiblingTaken := false

	for count < finalLimit && (!upStopped || !downStopped) {
		if !upStopped {
			rec := records[up]
			isHeader := includeHeader && isHeaderRecord(rec, lines[up])
			switch {
			case isHeader:
				selStart = up
				up--
				count++
			case rec.effIndent < minIndent:
				upStopped = true
			case !includeSiblings && upSiblingTaken:
				upStopped = true
			case !includeSiblings && rec.effIndent == minIndent:
				selStart = up
				up--
				count++
				upSiblingTaken = true
			default:
				selStart = up
				up--
				count++
			}
			if up < 0 {
				upStopped = true
			}
		}
		if count >= finalLimit {
			break
		}
		if !downStopped {
			rec := records[down]
			switch {
			case rec.effIndent < minIndent:
				downStopped = true
			case !includeSiblings && rec.effIndent == minIndent:
				// The downward sibling budget is spent on this boundary
				// probe, so the record itself is never admitted.
				downStopped = true
			default:
				selEnd = down
				down++
				count++
			}
			if down >= total {
				downStopped = true
			}
		}
	}

	truncated := count >= finalLimit && (!upStopped || !downStopped)

	// Trim blank records at both edges of the selection.
	for selStart < selEnd && records[selStart].blank {
		selStart++
	}
	for selEnd > selStart && records[selEnd].blank {
		selEnd--
	}

	out := make([]string, 0, selEnd-selStart+1)
	for i := selStart; i <= selEnd; i++ {
		out = append(out, records[i].display)
	}
	return readEnvelope(readModeIndentation, out, truncated)
}

func buildLineRecords(lines []string) []lineRecord {
	records := make([]lineRecord, len(lines))
	prevIndent := 0
	for i, line := range lines {
		indent, blank := measureIndent(line)
		eff := indent
		if blank {
			eff = prevIndent
		} else {
			prevIndent = indent
		}
		records[i] = lineRecord{
			number:    i + 1,
			display:   renderLine(i+1, line),
			blank:     blank,
			effIndent: eff,
		}
	}
	return records
}

// measureIndent counts spaces as 1 and tabs as 4, stopping at the first
// non-whitespace byte.
func measureIndent(line string) (indent int, blank bool) {
	for i := 0; i < len(line); i++ {
		switch line[i] {
		case ' ':
			indent++
		case '\t':
			indent += readTabWidth
		default:
			return indent, false
		}
	}
	return indent, true
}

func isHeaderRecord(rec lineRecord, raw string) bool {
	if rec.blank {
		return false
	}
	trimmed := strings.TrimSpace(raw)
	return strings.HasPrefix(trimmed, "#") ||
		strings.HasPrefix(trimmed, "//") ||
		strings.HasPrefix(trimmed, "--")
}

// renderLine produces the "L<n>: <text>" form with invalid UTF-8 replaced
// and the text clipped to the code-point cap. The prefix is part of the
// output contract.
func renderLine(number int, text string) string {
	valid := strings.ToValidUTF8(text, "�")
	runes := []rune(valid)
	if len(runes) > readMaxLineLength {
		valid = string(runes[:readMaxLineLength])
	}
	return fmt.Sprintf("L%d: %s", number, valid)
}

func readEnvelope(mode string, lines []string, truncated bool) ([]byte, error) {
	if lines == nil {
		lines = []string{}
	}
	return json.Marshal(map[string]any{
		"mode":      mode,
		"lines":     lines,
		"truncated": truncated,
	})
}
