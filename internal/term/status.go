package term

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"

	"twiddle/internal/llm"
)

var (
	meterHealthyStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	meterLowStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	meterEmptyStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
)

// ContextMeter renders the end-of-turn context line, e.g.
// "context: 1000/4000 tokens (75.00% free)". Color encodes how much window
// remains; estimated marks tokenizer-derived counts.
func ContextMeter(cu llm.ContextUsage, estimated, colored bool) string {
	percent := fmt.Sprintf("%d.%02d%%", cu.RemainingHundredths/100, cu.RemainingHundredths%100)
	suffix := ""
	if estimated {
		suffix = ", estimated"
	}
	line := fmt.Sprintf("context: %d/%d tokens (%s free%s)", cu.UsedTokens, cu.LimitTokens, percent, suffix)
	if !colored {
		return line
	}

	switch {
	case cu.RemainingHundredths == 0:
		return meterEmptyStyle.Render(line)
	case cu.RemainingHundredths < 2000:
		return meterLowStyle.Render(line)
	default:
		return meterHealthyStyle.Render(line)
	}
}
