package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	patchBegin   = "*** Begin Patch"
	patchEnd     = "*** End Patch"
	addPrefix    = "*** Add File: "
	deletePrefix = "*** Delete File: "
	updatePrefix = "*** Update File: "
	movePrefix   = "*** Move to: "
	eofMarker    = "*** End of File"

	// maxUpdateSourceBytes bounds files the update operation will read.
	maxUpdateSourceBytes = 8 << 20
)

type applyPatchParams struct {
	Input   string `json:"input" jsonschema:"description=Patch text framed by the Begin Patch and End Patch sentinels"`
	Workdir string `json:"workdir,omitempty" jsonschema:"description=Base directory for relative patch paths (default: the workspace root)"`
}

type patchChunk struct {
	contextHint string
	oldLines    []string
	newLines    []string
	eof         bool
}

type patchOp struct {
	kind    string // "add", "delete", "update"
	path    string
	moveTo  string
	content []string
	chunks  []patchChunk
}

type patchChange struct {
	Path          string `json:"path"`
	WorkspacePath string `json:"workspace_path"`
	Kind          string `json:"kind"`
	MoveTo        string `json:"move_to,omitempty"`
}

// plannedChange is one validated operation with its final bytes computed;
// nothing touches disk until every operation has planned cleanly.
type plannedChange struct {
	change  patchChange
	target  string
	remove  string
	content *string
}

// patchTool parses a structured patch envelope and applies add/delete/update
// operations atomically against the sandbox.
type patchTool struct {
	sandbox *Sandbox
}

func (t patchTool) execute(ctx context.Context, params json.RawMessage) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var input applyPatchParams
	if err := decodeParams(params, &input); err != nil {
		return nil, err
	}
	if strings.TrimSpace(input.Input) == "" {
		return nil, fmt.Errorf("%w: input is required", ErrInvalidPayload)
	}

	base, err := t.resolveWorkdir(input.Workdir)
	if err != nil {
		return nil, err
	}

	ops, err := parsePatch(input.Input)
	if err != nil {
		return nil, err
	}

	planned := make([]plannedChange, 0, len(ops))
	for _, op := range ops {
		plan, err := t.plan(base, op)
		if err != nil {
			return nil, err
		}
		planned = append(planned, plan)
	}

	for _, plan := range planned {
		if plan.content != nil {
			if err := os.MkdirAll(filepath.Dir(plan.target), 0o755); err != nil {
				return nil, fmt.Errorf("%w: %v", ErrIoFailure, err)
			}
			if err := os.WriteFile(plan.target, []byte(*plan.content), 0o644); err != nil {
				return nil, fmt.Errorf("%w: %v", ErrIoFailure, err)
			}
		}
		if plan.remove != "" {
			if err := os.Remove(plan.remove); err != nil {
				if os.IsNotExist(err) {
					return nil, fmt.Errorf("%w: %s vanished before delete", ErrPatchConflict, plan.change.Path)
				}
				return nil, fmt.Errorf("%w: %v", ErrIoFailure, err)
			}
		}
	}

	changes := make([]patchChange, 0, len(planned))
	for _, plan := range planned {
		changes = append(changes, plan.change)
	}
	return json.Marshal(map[string]any{
		"status":        "success",
		"files_changed": len(changes),
		"changes":       changes,
	})
}

func (t patchTool) resolveWorkdir(workdir string) (string, error) {
	if strings.TrimSpace(workdir) == "" {
		return t.sandbox.Root(), nil
	}
	resolved, err := t.sandbox.Resolve(workdir)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(resolved)
	if err != nil {
		return "", classifyPathError(workdir, err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("%w: %s", ErrPathNotDirectory, workdir)
	}
	return resolved, nil
}

func (t patchTool) resolveTarget(base, rel string) (string, error) {
	if filepath.IsAbs(rel) {
		return "", fmt.Errorf("%w: %s", ErrAbsolutePathForbidden, rel)
	}
	resolved, err := t.sandbox.ResolveNew(filepath.Join(base, rel))
	if err != nil {
		return "", err
	}
	return resolved, nil
}

func (t patchTool) plan(base string, op patchOp) (plannedChange, error) {
	target, err := t.resolveTarget(base, op.path)
	if err != nil {
		return plannedChange{}, err
	}

	change := patchChange{Path: op.path, WorkspacePath: target, Kind: op.kind}

	switch op.kind {
	case "add":
		if _, err := os.Stat(target); err == nil {
			return plannedChange{}, fmt.Errorf("%w: %s already exists", ErrPatchConflict, op.path)
		} else if !os.IsNotExist(err) {
			return plannedChange{}, classifyPathError(op.path, err)
		}
		content := ""
		if len(op.content) > 0 {
			content = strings.Join(op.content, "\n") + "\n"
		}
		return plannedChange{change: change, target: target, content: &content}, nil

	case "delete":
		info, err := os.Stat(target)
		if err != nil {
			if os.IsNotExist(err) {
				return plannedChange{}, fmt.Errorf("%w: %s does not exist", ErrPatchConflict, op.path)
			}
			return plannedChange{}, classifyPathError(op.path, err)
		}
		if !info.Mode().IsRegular() {
			return plannedChange{}, fmt.Errorf("%w: %s", ErrPathNotFile, op.path)
		}
		return plannedChange{change: change, remove: target}, nil

	case "update":
		info, err := os.Stat(target)
		if err != nil {
			if os.IsNotExist(err) {
				return plannedChange{}, fmt.Errorf("%w: %s does not exist", ErrPatchConflict, op.path)
			}
			return plannedChange{}, classifyPathError(op.path, err)
		}
		if info.Size() > maxUpdateSourceBytes {
			return plannedChange{}, fmt.Errorf("%w: %s exceeds %d bytes", ErrIoFailure, op.path, maxUpdateSourceBytes)
		}
		raw, err := os.ReadFile(target)
		if err != nil {
			return plannedChange{}, classifyPathError(op.path, err)
		}

		// Split preserves one trailing blank element iff the file ended
		// with a newline, so Join reproduces the final byte exactly.
		lines := strings.Split(string(raw), "\n")
		merged, err := applyUpdateChunks(lines, op.chunks, op.path)
		if err != nil {
			return plannedChange{}, err
		}
		content := strings.Join(merged, "\n")

		writeTarget := target
		remove := ""
		if op.moveTo != "" {
			dest, err := t.resolveTarget(base, op.moveTo)
			if err != nil {
				return plannedChange{}, err
			}
			if dest != target {
				writeTarget = dest
				remove = target
				change.MoveTo = op.moveTo
			}
		}
		return plannedChange{change: change, target: writeTarget, remove: remove, content: &content}, nil
	}
	return plannedChange{}, fmt.Errorf("%w: unknown operation %q", ErrInvalidPatch, op.kind)
}

// parsePatch validates the envelope framing and splits the body into
// operation blocks.
func parsePatch(text string) ([]patchOp, error) {
	lines := strings.Split(strings.TrimSuffix(text, "\n"), "\n")
	for i := range lines {
		lines[i] = strings.TrimSuffix(lines[i], "\r")
	}
	if len(lines) < 2 {
		return nil, fmt.Errorf("%w: too short", ErrInvalidPatch)
	}
	if lines[0] != patchBegin {
		return nil, fmt.Errorf("%w: missing %q", ErrInvalidPatch, patchBegin)
	}

	end := -1
	for i, line := range lines {
		if line == patchEnd {
			end = i
			break
		}
	}
	if end < 0 {
		return nil, fmt.Errorf("%w: missing %q", ErrInvalidPatch, patchEnd)
	}

	var ops []patchOp
	i := 1
	for i < end {
		line := lines[i]
		switch {
		case strings.HasPrefix(line, addPrefix):
			op := patchOp{kind: "add", path: strings.TrimSpace(line[len(addPrefix):])}
			if op.path == "" {
				return nil, fmt.Errorf("%w: empty add path", ErrInvalidPatch)
			}
			i++
			for i < end && strings.HasPrefix(lines[i], "+") {
				op.content = append(op.content, lines[i][1:])
				i++
			}
			ops = append(ops, op)

		case strings.HasPrefix(line, deletePrefix):
			op := patchOp{kind: "delete", path: strings.TrimSpace(line[len(deletePrefix):])}
			if op.path == "" {
				return nil, fmt.Errorf("%w: empty delete path", ErrInvalidPatch)
			}
			ops = append(ops, op)
			i++

		case strings.HasPrefix(line, updatePrefix):
			op, next, err := parseUpdateOp(lines, i, end)
			if err != nil {
				return nil, err
			}
			ops = append(ops, op)
			i = next

		case strings.TrimSpace(line) == "":
			i++

		default:
			return nil, fmt.Errorf("%w: unexpected line %q", ErrInvalidPatch, line)
		}
	}

	if len(ops) == 0 {
		return nil, fmt.Errorf("%w: no operations", ErrInvalidPatch)
	}
	return ops, nil
}

func parseUpdateOp(lines []string, start, end int) (patchOp, int, error) {
	op := patchOp{kind: "update", path: strings.TrimSpace(lines[start][len(updatePrefix):])}
	if op.path == "" {
		return patchOp{}, 0, fmt.Errorf("%w: empty update path", ErrInvalidPatch)
	}

	i := start + 1
	if i < end && strings.HasPrefix(lines[i], movePrefix) {
		op.moveTo = strings.TrimSpace(lines[i][len(movePrefix):])
		if op.moveTo == "" {
			return patchOp{}, 0, fmt.Errorf("%w: empty move target", ErrInvalidPatch)
		}
		i++
	}

	var current *patchChunk
	for i < end {
		line := lines[i]
		switch {
		case strings.HasPrefix(line, "@@"):
			op.chunks = append(op.chunks, patchChunk{
				contextHint: strings.TrimSpace(strings.TrimPrefix(line, "@@")),
			})
			current = &op.chunks[len(op.chunks)-1]
			i++

		case line == eofMarker:
			if current == nil {
				return patchOp{}, 0, fmt.Errorf("%w: %q outside a chunk", ErrInvalidPatch, eofMarker)
			}
			current.eof = true
			current = nil
			i++

		case strings.HasPrefix(line, "***"):
			// Next operation block.
			if len(op.chunks) == 0 {
				return patchOp{}, 0, fmt.Errorf("%w: update without chunks for %s", ErrInvalidPatch, op.path)
			}
			return op, i, nil

		case current == nil:
			return patchOp{}, 0, fmt.Errorf("%w: line outside a chunk: %q", ErrInvalidPatch, line)

		case strings.HasPrefix(line, "+"):
			current.newLines = append(current.newLines, line[1:])
			i++

		case strings.HasPrefix(line, "-"):
			current.oldLines = append(current.oldLines, line[1:])
			i++

		case strings.HasPrefix(line, " "):
			current.oldLines = append(current.oldLines, line[1:])
			current.newLines = append(current.newLines, line[1:])
			i++

		case line == "":
			// Tolerate context lines whose single leading space was lost.
			current.oldLines = append(current.oldLines, "")
			current.newLines = append(current.newLines, "")
			i++

		default:
			return patchOp{}, 0, fmt.Errorf("%w: bad chunk line %q", ErrInvalidPatch, line)
		}
	}

	if len(op.chunks) == 0 {
		return patchOp{}, 0, fmt.Errorf("%w: update without chunks for %s", ErrInvalidPatch, op.path)
	}
	return op, i, nil
}

// applyUpdateChunks locates and replaces each chunk window in order,
// advancing a cursor so chunks apply top to bottom.
func applyUpdateChunks(lines []string, chunks []patchChunk, path string) ([]string, error) {
	out := append([]string(nil), lines...)
	cursor := 0

	for _, chunk := range chunks {
		if chunk.contextHint != "" {
			idx := findPatchLine(out, chunk.contextHint, cursor)
			if idx < 0 {
				return nil, fmt.Errorf("%w: context %q not found in %s", ErrPatchConflict, chunk.contextHint, path)
			}
			cursor = idx + 1
		}

		if len(chunk.oldLines) == 0 {
			insertAt := cursor
			if chunk.eof {
				insertAt = len(out)
			}
			out = spliceLines(out, insertAt, 0, chunk.newLines)
			cursor = insertAt + len(chunk.newLines)
			continue
		}

		matchIdx := -1
		if chunk.eof {
			if candidate := len(out) - len(chunk.oldLines); candidate >= cursor && windowMatches(out, chunk.oldLines, candidate) {
				matchIdx = candidate
			}
		}
		if matchIdx < 0 {
			matchIdx = findWindow(out, chunk.oldLines, cursor)
		}
		if matchIdx < 0 {
			return nil, fmt.Errorf("%w: chunk does not apply to %s", ErrPatchConflict, path)
		}

		out = spliceLines(out, matchIdx, len(chunk.oldLines), chunk.newLines)
		cursor = matchIdx + len(chunk.newLines)
	}
	return out, nil
}

// linesEqual is one tolerance pass: exact, trailing whitespace trimmed, or
// both-side whitespace trimmed.
type linesEqual func(a, b string) bool

var matchPasses = []linesEqual{
	func(a, b string) bool { return a == b },
	func(a, b string) bool { return strings.TrimRight(a, " \t") == strings.TrimRight(b, " \t") },
	func(a, b string) bool { return strings.TrimSpace(a) == strings.TrimSpace(b) },
}

// findWindow searches forward from cursor; the first tolerance pass that
// finds any match wins.
func findWindow(lines, window []string, cursor int) int {
	for _, eq := range matchPasses {
		for i := cursor; i+len(window) <= len(lines); i++ {
			if windowMatchesWith(lines, window, i, eq) {
				return i
			}
		}
	}
	return -1
}

func windowMatches(lines, window []string, at int) bool {
	for _, eq := range matchPasses {
		if windowMatchesWith(lines, window, at, eq) {
			return true
		}
	}
	return false
}

func windowMatchesWith(lines, window []string, at int, eq linesEqual) bool {
	if at < 0 || at+len(window) > len(lines) {
		return false
	}
	for j, want := range window {
		if !eq(lines[at+j], want) {
			return false
		}
	}
	return true
}

func findPatchLine(lines []string, want string, cursor int) int {
	for _, eq := range matchPasses {
		for i := cursor; i < len(lines); i++ {
			if eq(lines[i], want) {
				return i
			}
		}
	}
	return -1
}

func spliceLines(lines []string, at, removeCount int, insert []string) []string {
	out := make([]string, 0, len(lines)-removeCount+len(insert))
	out = append(out, lines[:at]...)
	out = append(out, insert...)
	out = append(out, lines[at+removeCount:]...)
	return out
}
