package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/tidwall/gjson"
)

const (
	engineRipgrep = "ripgrep"
	engineAstGrep = "ast-grep"

	maxSearchPaths    = 16
	maxSearchGlobs    = 32
	maxSearchContext  = 10
	maxSearchLimit    = 2000
	defaultSearchHits = 200

	// searchOutputCap bounds captured child stdout/stderr; past it the pipe
	// closes and the child is left to notice on its own.
	searchOutputCap = 512 * 1024
)

type searchParams struct {
	Pattern       string   `json:"pattern" jsonschema:"description=Text or syntax pattern to search for"`
	Engine        string   `json:"engine,omitempty" jsonschema:"enum=ripgrep,enum=ast-grep,description=Search engine (default ripgrep)"`
	Paths         []string `json:"paths,omitempty" jsonschema:"description=Files or directories to search (default: the workspace root)"`
	IncludeGlobs  []string `json:"include_globs,omitempty" jsonschema:"description=Only search files matching these globs"`
	ExcludeGlobs  []string `json:"exclude_globs,omitempty" jsonschema:"description=Skip files matching these globs"`
	CaseSensitive *bool    `json:"case_sensitive,omitempty" jsonschema:"description=Case sensitive matching (default true)"`
	Regex         *bool    `json:"regex,omitempty" jsonschema:"description=Treat the pattern as a regular expression (ripgrep only; default false)"`
	ContextBefore *int     `json:"context_before,omitempty" jsonschema:"description=Lines of context before each match (0-10)"`
	ContextAfter  *int     `json:"context_after,omitempty" jsonschema:"description=Lines of context after each match (0-10)"`
	Limit         *int     `json:"limit,omitempty" jsonschema:"description=Maximum matches to return (default 200; cap 2000)"`
	AstLanguage   string   `json:"ast_language,omitempty" jsonschema:"description=Language hint for ast-grep"`
}

type matchRecord struct {
	Path          string   `json:"path"`
	Line          int      `json:"line"`
	Column        int      `json:"column"`
	Match         string   `json:"match"`
	LineText      string   `json:"line_text"`
	Replacement   string   `json:"replacement,omitempty"`
	ContextBefore []string `json:"context_before,omitempty"`
	ContextAfter  []string `json:"context_after,omitempty"`
}

// searchTool shells out to ripgrep or ast-grep and assembles match records
// from their JSON output.
type searchTool struct {
	sandbox *Sandbox
}

func (t searchTool) execute(ctx context.Context, params json.RawMessage) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var input searchParams
	if err := decodeParams(params, &input); err != nil {
		return nil, err
	}

	if strings.TrimSpace(input.Pattern) == "" {
		return nil, fmt.Errorf("%w: pattern is required", ErrInvalidPayload)
	}
	engine := input.Engine
	if engine == "" {
		engine = engineRipgrep
	}
	if engine != engineRipgrep && engine != engineAstGrep {
		return nil, fmt.Errorf("%w: unknown engine %q", ErrInvalidPayload, input.Engine)
	}
	if len(input.Paths) > maxSearchPaths {
		return nil, fmt.Errorf("%w: at most %d paths", ErrInvalidPayload, maxSearchPaths)
	}
	if len(input.IncludeGlobs) > maxSearchGlobs || len(input.ExcludeGlobs) > maxSearchGlobs {
		return nil, fmt.Errorf("%w: at most %d globs", ErrInvalidPayload, maxSearchGlobs)
	}

	before, err := contextArg(input.ContextBefore)
	if err != nil {
		return nil, err
	}
	after, err := contextArg(input.ContextAfter)
	if err != nil {
		return nil, err
	}

	limit := defaultSearchHits
	if input.Limit != nil {
		limit = *input.Limit
	}
	if limit < 1 || limit > maxSearchLimit {
		return nil, fmt.Errorf("%w: limit must be in 1..%d", ErrInvalidPayload, maxSearchLimit)
	}

	roots := make([]string, 0, max(len(input.Paths), 1))
	for _, p := range input.Paths {
		resolved, err := t.sandbox.Resolve(p)
		if err != nil {
			return nil, err
		}
		roots = append(roots, resolved)
	}
	if len(roots) == 0 {
		roots = append(roots, t.sandbox.Root())
	}

	var stdout, stderr []byte
	if engine == engineRipgrep {
		stdout, stderr, err = t.runRipgrep(ctx, input, roots)
	} else {
		stdout, stderr, err = t.runAstGrep(ctx, input, roots)
	}
	if err != nil {
		return nil, err
	}

	var records []matchRecord
	truncated := false
	if engine == engineRipgrep {
		records, truncated = t.parseRipgrep(stdout, limit)
	} else {
		records, truncated = t.parseAstGrep(stdout, limit)
	}

	if before > 0 || after > 0 {
		if err := t.gatherContext(records, before, after); err != nil {
			return nil, err
		}
	}

	if records == nil {
		records = []matchRecord{}
	}
	envelope := map[string]any{
		"engine":    engine,
		"results":   records,
		"truncated": truncated,
		"stats":     map[string]any{"matches": len(records)},
	}
	if note := strings.TrimSpace(string(stderr)); note != "" {
		envelope["notes"] = []string{note}
	}
	return json.Marshal(envelope)
}

func contextArg(v *int) (int, error) {
	if v == nil {
		return 0, nil
	}
	if *v < 0 || *v > maxSearchContext {
		return 0, fmt.Errorf("%w: context must be in 0..%d", ErrInvalidPayload, maxSearchContext)
	}
	return *v, nil
}

func (t searchTool) runRipgrep(ctx context.Context, input searchParams, roots []string) (stdout, stderr []byte, err error) {
	args := []string{
		"--json", "--color=never", "--line-number", "--column",
		"--no-heading", "--with-filename",
	}
	if input.CaseSensitive != nil && !*input.CaseSensitive {
		args = append(args, "--ignore-case")
	}
	if input.Regex == nil || !*input.Regex {
		args = append(args, "--fixed-strings")
	}
	for _, g := range input.IncludeGlobs {
		args = append(args, "--glob", g)
	}
	for _, g := range input.ExcludeGlobs {
		args = append(args, "--glob", "!"+g)
	}
	args = append(args, "-e", input.Pattern, "--")
	args = append(args, roots...)

	return runSearchCommand(ctx, "rg", args)
}

func (t searchTool) runAstGrep(ctx context.Context, input searchParams, roots []string) (stdout, stderr []byte, err error) {
	args := []string{"run", "--json=stream", "-p", input.Pattern}
	if lang := strings.TrimSpace(input.AstLanguage); lang != "" {
		args = append(args, "--lang", lang)
	}
	for _, g := range input.IncludeGlobs {
		args = append(args, "--globs", g)
	}
	for _, g := range input.ExcludeGlobs {
		args = append(args, "--globs", "!"+g)
	}
	args = append(args, roots...)

	stdout, stderr, err = runSearchCommand(ctx, "sg", args)
	if errors.Is(err, ErrBinaryUnavailable) {
		stdout, stderr, err = runSearchCommand(ctx, "ast-grep", args)
	}
	return stdout, stderr, err
}

// runSearchCommand runs a child search process with capped output capture.
// Exit code 1 (no matches) counts as success; >= 2 is a command failure.
func runSearchCommand(ctx context.Context, binary string, args []string) (stdout, stderr []byte, err error) {
	cmd := exec.CommandContext(ctx, binary, args...)
	outBuf := &cappedBuffer{limit: searchOutputCap}
	errBuf := &cappedBuffer{limit: searchOutputCap}
	cmd.Stdout = outBuf
	cmd.Stderr = errBuf

	runErr := cmd.Run()
	if runErr != nil {
		if errors.Is(runErr, exec.ErrNotFound) {
			return nil, nil, fmt.Errorf("%w: %s", ErrBinaryUnavailable, binary)
		}
		if errors.Is(runErr, ErrToolLimitExceeded) {
			return nil, nil, fmt.Errorf("%w: %s output past %d bytes", ErrToolLimitExceeded, binary, searchOutputCap)
		}
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			if exitErr.ExitCode() == 1 {
				return outBuf.buf.Bytes(), errBuf.buf.Bytes(), nil
			}
			note := strings.TrimSpace(errBuf.buf.String())
			if note == "" {
				note = runErr.Error()
			}
			return nil, nil, fmt.Errorf("%w: %s exit %d: %s", ErrCommandFailed, binary, exitErr.ExitCode(), note)
		}
		return nil, nil, fmt.Errorf("%w: %s: %v", ErrCommandFailed, binary, runErr)
	}
	return outBuf.buf.Bytes(), errBuf.buf.Bytes(), nil
}

func (t searchTool) parseRipgrep(stdout []byte, limit int) ([]matchRecord, bool) {
	var records []matchRecord
	truncated := false

	for _, line := range bytes.Split(stdout, []byte{'\n'}) {
		if truncated {
			break
		}
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		doc := gjson.ParseBytes(line)
		if doc.Get("type").String() != "match" {
			continue
		}
		data := doc.Get("data")
		path := t.sandbox.Rel(data.Get("path.text").String())
		lineNumber := int(data.Get("line_number").Int())
		lineText := strings.TrimRight(data.Get("lines.text").String(), "\r\n")

		for _, sub := range data.Get("submatches").Array() {
			records = append(records, matchRecord{
				Path:     path,
				Line:     lineNumber,
				Column:   int(sub.Get("start").Int()) + 1,
				Match:    sub.Get("match.text").String(),
				LineText: lineText,
			})
			if len(records) >= limit {
				truncated = true
				break
			}
		}
	}
	return records, truncated
}

func (t searchTool) parseAstGrep(stdout []byte, limit int) ([]matchRecord, bool) {
	var records []matchRecord
	truncated := false

	for _, line := range bytes.Split(stdout, []byte{'\n'}) {
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		doc := gjson.ParseBytes(line)
		if !doc.IsObject() {
			continue
		}

		text := doc.Get("text").String()
		lineText := text
		// ast-grep omits "lines" for some node kinds; fall back to the
		// match text.
		if lines := doc.Get("lines"); lines.Exists() {
			lineText = lines.String()
		}

		records = append(records, matchRecord{
			Path:        t.sandbox.Rel(doc.Get("file").String()),
			Line:        int(doc.Get("range.start.line").Int()) + 1,
			Column:      int(doc.Get("range.start.column").Int()) + 1,
			Match:       text,
			LineText:    strings.TrimRight(lineText, "\r\n"),
			Replacement: doc.Get("replacement").String(),
		})
		if len(records) >= limit {
			truncated = true
			break
		}
	}
	return records, truncated
}

// gatherContext re-opens each matched file and attaches surrounding lines.
func (t searchTool) gatherContext(records []matchRecord, before, after int) error {
	cache := map[string][]string{}
	for i := range records {
		rec := &records[i]
		lines, ok := cache[rec.Path]
		if !ok {
			resolved, err := t.sandbox.Resolve(rec.Path)
			if err != nil {
				return err
			}
			raw, err := os.ReadFile(resolved)
			if err != nil {
				return classifyPathError(rec.Path, err)
			}
			lines = splitSourceLines(string(raw))
			cache[rec.Path] = lines
		}

		idx := rec.Line - 1
		if idx < 0 || idx >= len(lines) {
			continue
		}
		start := max(0, idx-before)
		if start < idx {
			rec.ContextBefore = append([]string(nil), lines[start:idx]...)
		}
		end := min(len(lines), idx+1+after)
		if idx+1 < end {
			rec.ContextAfter = append([]string(nil), lines[idx+1:end]...)
		}
	}
	return nil
}

// cappedBuffer fails writes once the cap is reached, which closes the pipe
// feeding it.
type cappedBuffer struct {
	buf   bytes.Buffer
	limit int
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	if b.buf.Len()+len(p) > b.limit {
		return 0, ErrToolLimitExceeded
	}
	return b.buf.Write(p)
}
