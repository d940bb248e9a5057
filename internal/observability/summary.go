package observability

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/valter-silva-au/grandma/pkg/models"
)

// Style definitions for the final console summary.
var (
	summaryTitleStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(lipgloss.Color("230")).
				Background(lipgloss.Color("62")).
				Padding(0, 1)

	summaryOKStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("42"))

	summaryWarnStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(lipgloss.Color("214"))

	summaryFailStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(lipgloss.Color("196"))

	summaryLabelStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("245"))
)

// RunSummary is everything the final console block reports: what stopped the
// loop, where, and where to look for diagnosis.
type RunSummary struct {
	Status       models.RunStatus
	Phase        models.Phase
	Iteration    int
	TasksDone    int
	TasksTotal   int
	LogDir       string
	GuidancePath string
	Err          error
}

// statusStyle picks a color class for the run status.
func statusStyle(status models.RunStatus) lipgloss.Style {
	switch status {
	case models.StatusComplete:
		return summaryOKStyle
	case models.StatusPaused, models.StatusMaxIterationsReached:
		return summaryWarnStyle
	default:
		return summaryFailStyle
	}
}

// PrintSummary writes the colored summary block. Every exit path of the run
// command goes through here, so a failed session always names the phase,
// iteration and log locations instead of hanging up silently.
func PrintSummary(w io.Writer, s RunSummary) {
	var b strings.Builder

	b.WriteString(summaryTitleStyle.Render("grandma") + "\n\n")
	fmt.Fprintf(&b, "%s %s\n", summaryLabelStyle.Render("status:   "), statusStyle(s.Status).Render(string(s.Status)))
	if s.Phase != "" {
		fmt.Fprintf(&b, "%s %s\n", summaryLabelStyle.Render("phase:    "), s.Phase)
	}
	fmt.Fprintf(&b, "%s %d\n", summaryLabelStyle.Render("iteration:"), s.Iteration)
	if s.TasksTotal > 0 {
		fmt.Fprintf(&b, "%s %d/%d complete\n", summaryLabelStyle.Render("tasks:    "), s.TasksDone, s.TasksTotal)
	}
	if s.LogDir != "" {
		fmt.Fprintf(&b, "%s %s\n", summaryLabelStyle.Render("logs:     "), s.LogDir)
	}
	if s.GuidancePath != "" {
		fmt.Fprintf(&b, "%s %s\n", summaryLabelStyle.Render("guidance: "), s.GuidancePath)
	}
	if s.Err != nil {
		fmt.Fprintf(&b, "%s %s\n", summaryLabelStyle.Render("error:    "), summaryFailStyle.Render(s.Err.Error()))
	}

	fmt.Fprintln(w, b.String())
}
