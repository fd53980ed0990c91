package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"twiddle/internal/agent"
	"twiddle/internal/config"
	"twiddle/internal/llm"
	"twiddle/internal/term"
	"twiddle/internal/tools"
)

const (
	replPrompt   = "twiddle> "
	exitSentinel = "exit"

	maxPromptFileBytes = 512 * 1024

	systemPrompt = "You are twiddle, a terminal coding agent. Inspect the workspace with the " +
		"available tools before answering questions about it, keep answers short, and use " +
		"apply_patch for every file modification."
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "twiddle: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		promptText string
		promptFile string
		configPath string
	)

	cmd := &cobra.Command{
		Use:           "twiddle",
		Short:         "twiddle is a terminal coding agent",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if promptText != "" && promptFile != "" {
				return errors.New("--prompt and --prompt-file are mutually exclusive")
			}

			cfg, err := config.Load(config.LoadOptions{Path: strings.TrimSpace(configPath)})
			if err != nil {
				return err
			}
			defer cfg.Zero()

			headless := promptText != "" || promptFile != ""
			prompt := promptText
			if promptFile != "" {
				prompt, err = readPromptFile(promptFile)
				if err != nil {
					return err
				}
			}

			return runSession(cfg, headless, prompt, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVarP(&promptText, "prompt", "p", "", "Run one headless turn with this prompt")
	cmd.Flags().StringVar(&promptFile, "prompt-file", "", "Run one headless turn reading the prompt from a file")
	cmd.Flags().StringVar(&configPath, "config", "", "Path to config file")
	return cmd
}

func runSession(cfg config.Config, headless bool, prompt string, stdin io.Reader, stdout io.Writer) error {
	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("resolve cwd: %w", err)
	}
	sandbox, err := tools.NewSandbox(cwd, tools.Mode(cfg.SandboxMode))
	if err != nil {
		return err
	}
	executor := tools.NewExecutor(sandbox)

	provider, err := buildProvider(cfg)
	if err != nil {
		return err
	}

	spinner := term.NewSpinner(stdout)
	display := term.NewGuardedWriter(stdout, spinner)
	input := bufio.NewReader(stdin)

	chat := agent.NewChatClient(agent.ChatConfig{
		Provider:    provider,
		Display:     display,
		Model:       cfg.Model,
		System:      systemPrompt,
		ToolContext: toolContext(sandbox),
		Tools:       tools.Specs(),
	})
	runner := agent.NewRunner(agent.RunnerConfig{
		Chat:           chat,
		Executor:       executor,
		Display:        display,
		Input:          input,
		ApprovalPolicy: agent.ApprovalPolicy(cfg.ApprovalPolicy),
		ContextLimit:   contextWindowFor(cfg.Model),
		Debug:          os.Getenv("TWIDDLE_DEBUG") != "",
		Color:          os.Getenv("NO_COLOR") == "",
	})

	ctx := context.Background()
	if headless {
		spinner.Start()
		err := runner.RunPrompt(ctx, prompt)
		spinner.Stop()
		return err
	}

	for {
		fmt.Fprint(stdout, replPrompt)
		line, err := input.ReadString('\n')
		if err != nil && line == "" {
			fmt.Fprintln(stdout)
			return nil
		}
		text := strings.TrimSpace(line)
		if text == "" {
			continue
		}
		if text == exitSentinel {
			return nil
		}

		spinner.Start()
		runErr := runner.RunPrompt(ctx, text)
		spinner.Stop()
		if runErr != nil {
			fmt.Fprintf(stdout, "error: %v\n", runErr)
		}
	}
}

func buildProvider(cfg config.Config) (llm.Provider, error) {
	switch cfg.Provider {
	case "anthropic":
		return llm.NewAnthropicProvider(llm.AnthropicConfig{
			APIKey:  string(cfg.APIKey),
			BaseURL: cfg.BaseURL,
		}), nil
	default:
		return llm.NewOpenAIProvider(llm.OpenAIConfig{
			APIKey:  string(cfg.APIKey),
			BaseURL: cfg.BaseURL,
		}), nil
	}
}

func toolContext(sandbox *tools.Sandbox) string {
	return fmt.Sprintf(
		"Tool context: every file tool is confined to the workspace root %s (mode: %s). "+
			"Paths are resolved inside that root; writes require the apply_patch tool.",
		sandbox.Root(), sandbox.Mode())
}

func readPromptFile(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("read prompt file: %w", err)
	}
	if info.Size() > maxPromptFileBytes {
		return "", fmt.Errorf("prompt file %s exceeds %d bytes", path, maxPromptFileBytes)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read prompt file: %w", err)
	}
	prompt := strings.TrimSpace(string(raw))
	if prompt == "" {
		return "", fmt.Errorf("prompt file %s is empty", path)
	}
	return prompt, nil
}

// contextWindowFor maps a model name onto its context window. The table is
// deliberately coarse; unknown models get a conservative default.
func contextWindowFor(model string) int {
	name := strings.ToLower(model)
	switch {
	case strings.Contains(name, "claude"):
		return 200_000
	case strings.Contains(name, "gpt-5"), strings.Contains(name, "codex"):
		return 272_000
	case strings.Contains(name, "gpt-4"):
		return 128_000
	default:
		return 128_000
	}
}
