package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/GriffinCanCode/ParserSandbox/backend/internal/domain/plugin"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("86"))
	okStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("46"))
	failStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("196"))
	dimStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	labelStyle = lipgloss.NewStyle().Width(12).Foreground(lipgloss.Color("244"))
)

var levelColors = map[plugin.LogLevel]lipgloss.Color{
	plugin.LevelDebug: lipgloss.Color("240"),
	plugin.LevelInfo:  lipgloss.Color("39"),
	plugin.LevelWarn:  lipgloss.Color("214"),
	plugin.LevelError: lipgloss.Color("196"),
}

func field(w io.Writer, label, value string) {
	fmt.Fprintln(w, lipgloss.JoinHorizontal(lipgloss.Top, labelStyle.Render(label), value))
}

func renderViolations(w io.Writer, violations []plugin.Violation) {
	for _, v := range violations {
		line := fmt.Sprintf("  %s %s", failStyle.Render("✗"), v.Message)
		if v.Line > 0 {
			line += dimStyle.Render(fmt.Sprintf(" (line %d)", v.Line))
		}
		fmt.Fprintln(w, line)
		fmt.Fprintln(w, dimStyle.Render("    rule "+v.RuleID+" symbol "+v.Symbol))
	}
}

func renderLogs(w io.Writer, logs []plugin.LogEntry) {
	if len(logs) == 0 {
		return
	}
	fmt.Fprintln(w, titleStyle.Render("Logs"))
	for _, entry := range logs {
		level := lipgloss.NewStyle().Width(6).Foreground(levelColors[entry.Level]).
			Render(strings.ToUpper(string(entry.Level)))
		fmt.Fprintln(w, "  "+level+" "+entry.Message+dimStyle.Render(" "+string(entry.Source)))
	}
}
