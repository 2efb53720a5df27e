package app

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/nateberkopec/sunsetalert/internal/scheduler"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("214"))

	labelStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("247")).Width(13)

	sunsetStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("209"))

	statusNeutralStyle = lipgloss.NewStyle()
	statusErrorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("203"))
	statusSuccessStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("120"))

	helpStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))

	inputStyle        = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	inputFocusedStyle = inputStyle.BorderForeground(lipgloss.Color("209"))
)

func renderView(m *Model) string {
	if m.width == 0 || m.height == 0 {
		return "Loading…"
	}

	out := []string{
		titleStyle.Width(m.width).Render(pad("Sunset Alert", m.width)),
		"",
		renderField("Location", m.locationLabel()),
		renderField("Next sunset", renderNextSunset(m)),
		renderField("Last alert", renderLastAlert(m)),
		renderField("Bell", bellEmoji(m.bellEnabled)),
		"",
		renderInputs(m),
		renderHelpText(m),
		renderStatusLine(m),
	}
	return strings.Join(out, "\n")
}

func renderField(label, value string) string {
	return labelStyle.Render(label) + value
}

func renderNextSunset(m *Model) string {
	if m.armed.IsZero() {
		switch m.outcome.Kind {
		case scheduler.WaitingForLocation:
			return "—"
		case scheduler.FetchFailed:
			return "unknown (lookup failed)"
		case scheduler.Rollover, scheduler.Fired:
			return "waiting for tomorrow's time"
		}
		if m.polling {
			return "looking up…"
		}
		return "—"
	}
	local := m.armed.In(m.zone)
	label := local.Format("15:04 MST")
	if !sameDay(local, m.now().In(m.zone)) {
		label = local.Format("Mon 15:04 MST")
	}
	return fmt.Sprintf("%s • %s", sunsetStyle.Render(label), humanizeUntil(m.armed.Sub(m.now())))
}

func renderLastAlert(m *Model) string {
	if m.lastFired.IsZero() {
		return "—"
	}
	return m.lastFired.In(m.zone).Format("Mon 15:04 MST")
}

func renderInputs(m *Model) string {
	boxes := make([]string, len(m.inputs))
	for i := range m.inputs {
		style := inputStyle
		if int(m.focus) == i+1 {
			style = inputFocusedStyle
		}
		boxes[i] = style.Render(m.inputs[i].View())
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, boxes...)
}

func renderHelpText(m *Model) string {
	help := "[e] edit location • [r] refresh • [b] bell • [q] quit"
	if m.focus != focusNone {
		help = "[tab] next field • [enter] apply • [↑/↓] recent • [esc] cancel"
	}
	return helpStyle.Width(m.width).Render(pad(help, m.width))
}

func renderStatusLine(m *Model) string {
	msg := m.status.text

	style := statusNeutralStyle
	switch m.status.kind {
	case statusError:
		style = statusErrorStyle
	case statusSuccess:
		style = statusSuccessStyle
	}

	if m.polling {
		label := fmt.Sprintf("checking %s", m.spin.View())
		if msg == "" {
			msg = label
		} else {
			msg = fmt.Sprintf("%s   %s", msg, label)
		}
	} else if msg == "" && !m.lastPoll.IsZero() {
		msg = fmt.Sprintf("%s • checked %s", m.outcome.Kind, humanizeAgo(m.now().Sub(m.lastPoll)))
	}

	return style.Width(m.width).Render(pad(msg, m.width))
}

func pad(text string, width int) string {
	if width <= 0 {
		return text
	}
	return lipgloss.NewStyle().Width(width).Render(text)
}

func humanizeUntil(d time.Duration) string {
	if d <= 0 {
		return "now"
	}
	d = d.Round(time.Minute)
	if d < time.Minute {
		return "in under a minute"
	}
	h := int(d.Hours())
	mins := int(d.Minutes()) % 60
	if h == 0 {
		return fmt.Sprintf("in %dm", mins)
	}
	return fmt.Sprintf("in %dh%02dm", h, mins)
}

func humanizeAgo(d time.Duration) string {
	if d < time.Second {
		return "just now"
	}
	if d < time.Minute {
		return fmt.Sprintf("%ds ago", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	}
	return fmt.Sprintf("%dh ago", int(d.Hours()))
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

func bellEmoji(enabled bool) string {
	if enabled {
		return "🔔"
	}
	return "🔕"
}
