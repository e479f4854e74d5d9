package doctor

import "github.com/charmbracelet/lipgloss"

type styles struct {
	ok   func(string) string
	warn func(string) string
	fail func(string) string
	dim  func(string) string
}

func plainStyles() styles {
	same := func(s string) string { return s }
	return styles{ok: same, warn: same, fail: same, dim: same}
}

func colorStyles() styles {
	render := func(st lipgloss.Style) func(string) string {
		return func(s string) string { return st.Render(s) }
	}
	return styles{
		ok:   render(lipgloss.NewStyle().Foreground(lipgloss.Color("#00FF00")).Bold(true)),
		warn: render(lipgloss.NewStyle().Foreground(lipgloss.Color("#E5C07B"))),
		fail: render(lipgloss.NewStyle().Foreground(lipgloss.Color("#FF0000")).Bold(true)),
		dim:  render(lipgloss.NewStyle().Foreground(lipgloss.Color("#888888"))),
	}
}

// FormatStyled renders a result with terminal colors. lipgloss drops the
// colors when the output is not a terminal.
func FormatStyled(r *Result) string {
	return format(r, colorStyles())
}
