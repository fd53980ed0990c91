package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestRootCmdRejectsBothPromptFlags(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetArgs([]string{"-p", "hi", "--prompt-file", "x.txt"})
	if err := cmd.Execute(); err == nil {
		t.Fatalf("Execute() error = nil, want mutual exclusion error")
	}
}

func TestRootCmdRejectsPositionalArgs(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetArgs([]string{"stray"})
	if err := cmd.Execute(); err == nil {
		t.Fatalf("Execute() error = nil, want usage error")
	}
}

func TestReadPromptFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "prompt.txt")
	if err := os.WriteFile(path, []byte("fix the bug\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	prompt, err := readPromptFile(path)
	if err != nil {
		t.Fatalf("readPromptFile() error = %v", err)
	}
	if prompt != "fix the bug" {
		t.Fatalf("prompt = %q", prompt)
	}
}

func TestReadPromptFileTooLarge(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "prompt.txt")
	if err := os.WriteFile(path, []byte(strings.Repeat("x", maxPromptFileBytes+1)), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := readPromptFile(path); err == nil {
		t.Fatalf("readPromptFile() error = nil, want size error")
	}
}

func TestReadPromptFileMissing(t *testing.T) {
	t.Parallel()

	if _, err := readPromptFile(filepath.Join(t.TempDir(), "absent.txt")); err == nil {
		t.Fatalf("readPromptFile() error = nil, want not-found error")
	}
}

func TestContextWindowFor(t *testing.T) {
	t.Parallel()

	tests := []struct {
		model string
		want  int
	}{
		{"openai/gpt-5-codex", 272_000},
		{"anthropic/claude-sonnet-4", 200_000},
		{"openai/gpt-4o", 128_000},
		{"mystery/model", 128_000},
	}
	for _, tt := range tests {
		if got := contextWindowFor(tt.model); got != tt.want {
			t.Fatalf("contextWindowFor(%q) = %d, want %d", tt.model, got, tt.want)
		}
	}
}
