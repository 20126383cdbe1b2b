package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/schollz/progressbar/v3"
)

var (
	accent  = lipgloss.Color("#5FAFFF")
	muted   = lipgloss.Color("#767676")
	success = lipgloss.Color("#00CC66")
	failure = lipgloss.Color("#FF5F5F")

	titleStyle   = lipgloss.NewStyle().Bold(true)
	accentStyle  = lipgloss.NewStyle().Foreground(accent).Bold(true)
	mutedStyle   = lipgloss.NewStyle().Foreground(muted)
	successStyle = lipgloss.NewStyle().Foreground(success).Bold(true)
	failStyle    = lipgloss.NewStyle().Foreground(failure).Bold(true)
	labelStyle   = lipgloss.NewStyle().Foreground(muted).Width(12)
)

// summaryLine prints one "label value" line of a summary block.
func summaryLine(w io.Writer, label string, value any) {
	fmt.Fprintf(w, "  %s %s\n", labelStyle.Render(label), titleStyle.Render(fmt.Sprint(value)))
}

// progressSteps is the resolution of the replay progress bar.
const progressSteps = 1000

// newProgress returns a bar on w driven by fractions in [0, 1].
func newProgress(w io.Writer, description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(progressSteps,
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowBytes(false),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "█",
			SaucerHead:    "█",
			SaucerPadding: "░",
			BarStart:      "",
			BarEnd:        "",
		}),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionClearOnFinish(),
	)
}
