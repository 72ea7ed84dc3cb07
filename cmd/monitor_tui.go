// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"go.uber.org/zap/zapcore"

	"github.com/Thermoquad/commutator/pkg/link"
	"github.com/Thermoquad/commutator/pkg/signals"
)

//////////////////////////////////////////////////////////////
// Constants
//////////////////////////////////////////////////////////////

const (
	refreshInterval = 250 * time.Millisecond
	maxLogEntries   = 100
	eventLogHeight  = 8
)

// Focus states
const (
	focusTable = iota
	focusInput
)

//////////////////////////////////////////////////////////////
// Types
//////////////////////////////////////////////////////////////

// monitorLink is the part of a session the TUI drives
type monitorLink interface {
	Snapshot() []signals.State
	WriteSignalText(name, text string) error
	ForceRefreshAllSignals() error
	SetSchedule(name string, cyclic bool, cycleTime time.Duration) error
	Status() link.Status
}

// logEntry is one line of the event log
type logEntry struct {
	timestamp time.Time
	message   string
	level     zapcore.Level
}

// monitorModel is the Bubble Tea model for the monitor TUI
type monitorModel struct {
	link     monitorLink
	connInfo string

	states []signals.State
	status link.Status

	table   table.Model
	input   textinput.Model
	focused int

	eventLog []logEntry
	verbose  bool

	width    int
	height   int
	quitting bool
}

//////////////////////////////////////////////////////////////
// Messages
//////////////////////////////////////////////////////////////

type monitorTickMsg time.Time

// eventBatchMsg carries link events collected since the last batch
type eventBatchMsg []link.Event

//////////////////////////////////////////////////////////////
// Model Initialization
//////////////////////////////////////////////////////////////

func newMonitorModel(l monitorLink, connInfo string) monitorModel {
	ti := textinput.New()
	ti.Prompt = "> "
	ti.Placeholder = "name=value | refresh | cyclic name on|off [period]"
	ti.CharLimit = 64
	ti.Width = 50

	t := table.New(
		table.WithColumns(signalColumns()),
		table.WithFocused(true),
		table.WithHeight(12),
	)
	styles := table.DefaultStyles()
	styles.Header = styles.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240")).
		BorderBottom(true).
		Bold(true)
	styles.Selected = styles.Selected.
		Foreground(lipgloss.Color("0")).
		Background(lipgloss.Color("12")).
		Bold(false)
	t.SetStyles(styles)

	m := monitorModel{
		link:     l,
		connInfo: connInfo,
		table:    t,
		input:    ti,
		focused:  focusTable,
		eventLog: make([]logEntry, 0),
		width:    80,
		height:   24,
	}
	m.refresh()
	return m
}

func signalColumns() []table.Column {
	return []table.Column{
		{Title: "Signal", Width: 16},
		{Title: "Value", Width: 18},
		{Title: "Pending", Width: 10},
		{Title: "Poll", Width: 8},
		{Title: "Age", Width: 8},
	}
}

//////////////////////////////////////////////////////////////
// Bubble Tea Interface
//////////////////////////////////////////////////////////////

func (m monitorModel) Init() tea.Cmd {
	return monitorTickCmd()
}

func monitorTickCmd() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg {
		return monitorTickMsg(t)
	})
}

func (m monitorModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKeyMsg(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.resize()

	case monitorTickMsg:
		m.refresh()
		return m, monitorTickCmd()

	case eventBatchMsg:
		for _, e := range msg {
			m.addEvent(e)
		}
		m.refresh()
	}

	return m, nil
}

func (m monitorModel) handleKeyMsg(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c":
		m.quitting = true
		return m, tea.Quit

	case "tab", "shift+tab":
		m.setFocus(1 - m.focused)
		return m, nil
	}

	if m.focused == focusInput {
		switch msg.String() {
		case "esc":
			m.input.Reset()
			m.setFocus(focusTable)
			return m, nil
		case "enter":
			m.execute(m.input.Value())
			m.input.Reset()
			return m, nil
		}
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		return m, cmd
	}

	switch msg.String() {
	case "q":
		m.quitting = true
		return m, tea.Quit

	case "enter":
		if st, ok := m.selected(); ok {
			m.input.SetValue(st.Name + "=")
			m.input.CursorEnd()
			m.setFocus(focusInput)
		}
		return m, nil

	case "r":
		m.execute("refresh")
		return m, nil

	case "c":
		if st, ok := m.selected(); ok {
			m.execute(fmt.Sprintf("cyclic %s %s", st.Name, onOff(!st.Cyclic)))
		}
		return m, nil

	case "v":
		m.verbose = !m.verbose
		return m, nil
	}

	var cmd tea.Cmd
	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

func (m monitorModel) View() string {
	if m.quitting {
		return "Shutting down...\n"
	}

	var s strings.Builder

	// Styles
	titleStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("12")).
		Background(lipgloss.Color("235")).
		Padding(0, 1)

	headerStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("241"))

	statsLabelStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("12")).
		Bold(true)

	statsValueStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("10"))

	errorStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("9")).
		Bold(true)

	warningStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("11"))

	boxStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("240")).
		Padding(0, 1)

	focusedBoxStyle := boxStyle.
		BorderForeground(lipgloss.Color("12"))

	// Header
	s.WriteString(titleStyle.Render("COMMUTATOR MONITOR"))
	s.WriteString(" ")
	connStatus := m.connInfo
	if !m.status.Connected {
		connStatus = warningStyle.Render("RECONNECTING...")
	}
	help := "q=quit Tab=switch Enter=write r=refresh c=cyclic v=verbose"
	s.WriteString(headerStyle.Render(fmt.Sprintf("| %s | %s", connStatus, help)))
	s.WriteString("\n")
	if m.status.Connected && !m.status.Since.IsZero() {
		s.WriteString(fmt.Sprintf(" %s %s",
			statsLabelStyle.Render("Connected:"),
			statsValueStyle.Render(formatUptime(time.Since(m.status.Since)))))
	}
	s.WriteString("\n\n")

	// Signal table
	tableStyle := boxStyle
	if m.focused == focusTable {
		tableStyle = focusedBoxStyle
	}
	s.WriteString(tableStyle.Render(m.table.View()))
	s.WriteString("\n")

	// Command line
	inputStyle := boxStyle.Width(m.width - 4)
	if m.focused == focusInput {
		inputStyle = focusedBoxStyle.Width(m.width - 4)
	}
	s.WriteString(inputStyle.Render(m.input.View()))
	s.WriteString("\n")

	s.WriteString(m.renderStatisticsBar(statsLabelStyle, statsValueStyle, errorStyle, boxStyle))
	s.WriteString("\n")

	s.WriteString(m.renderEventLog(statsLabelStyle, headerStyle, warningStyle, errorStyle, boxStyle))

	return s.String()
}

//////////////////////////////////////////////////////////////
// View Helpers
//////////////////////////////////////////////////////////////

func (m monitorModel) renderStatisticsBar(statsLabelStyle, statsValueStyle, errorStyle, boxStyle lipgloss.Style) string {
	c := m.status.Statistics
	var validPercent, errorPercent float64
	totalErrors := c.ChecksumErrors + c.MarkerErrors + c.IndexErrors
	if c.TotalFrames > 0 {
		validPercent = float64(c.ValidFrames) * 100.0 / float64(c.TotalFrames)
		errorPercent = float64(totalErrors) * 100.0 / float64(c.TotalFrames)
	}

	errText := statsValueStyle.Render("0.0%")
	if errorPercent > 0 {
		errText = errorStyle.Render(fmt.Sprintf("%.1f%%", errorPercent))
	}

	content := fmt.Sprintf("%s %s  %s %s  %s %s  %s %s  %s %s",
		statsLabelStyle.Render("Frames:"), statsValueStyle.Render(fmt.Sprintf("%d", c.TotalFrames)),
		statsLabelStyle.Render("Valid:"), statsValueStyle.Render(fmt.Sprintf("%.1f%%", validPercent)),
		statsLabelStyle.Render("Errors:"), errText,
		statsLabelStyle.Render("Sent:"), statsValueStyle.Render(fmt.Sprintf("%d", c.SentMessages)),
		statsLabelStyle.Render("Rate:"), statsValueStyle.Render(fmt.Sprintf("%.1f frames/s", c.FrameRate)),
	)

	return boxStyle.Width(m.width - 4).Render(content)
}

func (m monitorModel) renderEventLog(statsLabelStyle, headerStyle, warningStyle, errorStyle, boxStyle lipgloss.Style) string {
	var s strings.Builder
	s.WriteString(statsLabelStyle.Render("EVENTS"))
	s.WriteString("\n")

	startIdx := len(m.eventLog) - eventLogHeight
	if startIdx < 0 {
		startIdx = 0
	}

	if len(m.eventLog) == 0 {
		s.WriteString(headerStyle.Render("  (no events yet)"))
	} else {
		for _, entry := range m.eventLog[startIdx:] {
			icon, style := "i", warningStyle
			if entry.level >= zapcore.ErrorLevel {
				icon, style = "x", errorStyle
			}
			s.WriteString(fmt.Sprintf("%s %s %s\n",
				headerStyle.Render(entry.timestamp.Format("15:04:05.000")),
				style.Render(icon),
				entry.message))
		}
	}

	return boxStyle.Width(m.width - 4).Render(s.String())
}

//////////////////////////////////////////////////////////////
// Commands
//////////////////////////////////////////////////////////////

// execute runs one command line: NAME=VALUE, refresh, or
// cyclic NAME on|off [PERIOD]
func (m *monitorModel) execute(line string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}
	defer m.refresh()

	fields := strings.Fields(line)
	switch {
	case fields[0] == "refresh":
		if err := m.link.ForceRefreshAllSignals(); err != nil {
			m.addLogEntry(fmt.Sprintf("Refresh failed: %v", err), zapcore.ErrorLevel)
			return
		}
		m.addLogEntry("Refresh requested for all signals", zapcore.InfoLevel)

	case fields[0] == "cyclic":
		name, cyclic, period, err := parseCyclic(fields[1:])
		if err != nil {
			m.addLogEntry(err.Error(), zapcore.ErrorLevel)
			return
		}
		if err := m.link.SetSchedule(name, cyclic, period); err != nil {
			m.addLogEntry(fmt.Sprintf("Schedule failed: %v", err), zapcore.ErrorLevel)
			return
		}
		m.addLogEntry(fmt.Sprintf("Polling of %s %s", name, onOff(cyclic)), zapcore.InfoLevel)

	case strings.Contains(line, "="):
		assignments, err := parseAssignments([]string{line})
		if err != nil {
			m.addLogEntry(err.Error(), zapcore.ErrorLevel)
			return
		}
		name, value := assignments[0][0], assignments[0][1]
		if err := m.link.WriteSignalText(name, value); err != nil {
			m.addLogEntry(fmt.Sprintf("Write failed: %v", err), zapcore.ErrorLevel)
			return
		}
		m.addLogEntry(fmt.Sprintf("Write %s = %s queued", name, value), zapcore.InfoLevel)

	default:
		m.addLogEntry(fmt.Sprintf("Unknown command %q", fields[0]), zapcore.ErrorLevel)
	}
}

// parseCyclic parses "NAME on|off [PERIOD]". A missing period keeps the
// current one.
func parseCyclic(args []string) (string, bool, time.Duration, error) {
	if len(args) < 2 {
		return "", false, 0, fmt.Errorf("usage: cyclic NAME on|off [PERIOD]")
	}
	var cyclic bool
	switch strings.ToLower(args[1]) {
	case "on":
		cyclic = true
	case "off":
	default:
		return "", false, 0, fmt.Errorf("expected on or off, got %q", args[1])
	}
	var period time.Duration
	if len(args) > 2 {
		d, err := signals.ParseUpdateRate(strings.Join(args[2:], " "))
		if err != nil {
			return "", false, 0, err
		}
		period = d
	}
	return args[0], cyclic, period, nil
}

//////////////////////////////////////////////////////////////
// Helpers
//////////////////////////////////////////////////////////////

func (m *monitorModel) refresh() {
	m.states = m.link.Snapshot()
	m.status = m.link.Status()

	now := time.Now()
	rows := make([]table.Row, len(m.states))
	for i, st := range m.states {
		rows[i] = signalRow(st, now)
	}
	m.table.SetRows(rows)
}

func signalRow(st signals.State, now time.Time) table.Row {
	pending := ""
	if st.PendingWrite {
		pending = "yes"
		if st.PendingValue != nil {
			pending = strconv.FormatFloat(*st.PendingValue, 'g', -1, 64)
		}
	}
	poll := "off"
	if st.Cyclic {
		poll = st.CycleTime.String()
	}
	age := "-"
	if !st.LastReceived.IsZero() {
		age = fmt.Sprintf("%.1fs", now.Sub(st.LastReceived).Seconds())
	}
	return table.Row{st.Name, st.String(), pending, poll, age}
}

func (m *monitorModel) selected() (signals.State, bool) {
	i := m.table.Cursor()
	if i < 0 || i >= len(m.states) {
		return signals.State{}, false
	}
	return m.states[i], true
}

func (m *monitorModel) setFocus(f int) {
	m.focused = f
	if f == focusInput {
		m.table.Blur()
		m.input.Focus()
	} else {
		m.input.Blur()
		m.table.Focus()
	}
}

func (m *monitorModel) resize() {
	// header, command line, statistics and event log
	h := m.height - eventLogHeight - 15
	if h < 5 {
		h = 5
	}
	m.table.SetHeight(h)
	m.input.Width = m.width - 10
}

// addEvent logs a link event. Debug events show only in verbose mode.
func (m *monitorModel) addEvent(e link.Event) {
	if e.Level < zapcore.InfoLevel && !m.verbose {
		return
	}
	entry := logEntry{timestamp: e.Time, message: e.Text, level: e.Level}
	if entry.timestamp.IsZero() {
		entry.timestamp = time.Now()
	}
	m.appendLog(entry)
}

func (m *monitorModel) addLogEntry(message string, level zapcore.Level) {
	m.appendLog(logEntry{timestamp: time.Now(), message: message, level: level})
}

func (m *monitorModel) appendLog(entry logEntry) {
	m.eventLog = append(m.eventLog, entry)
	if len(m.eventLog) > maxLogEntries {
		m.eventLog = m.eventLog[len(m.eventLog)-maxLogEntries:]
	}
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}

// formatUptime formats a duration as a human-friendly string
func formatUptime(d time.Duration) string {
	seconds := int64(d / time.Second)
	minutes := seconds / 60
	hours := minutes / 60
	days := hours / 24

	seconds %= 60
	minutes %= 60
	hours %= 24

	parts := []string{}
	if days > 0 {
		parts = append(parts, plural(days, "day"))
	}
	if hours > 0 {
		parts = append(parts, plural(hours, "hour"))
	}
	if minutes > 0 {
		parts = append(parts, plural(minutes, "minute"))
	}
	if seconds > 0 || len(parts) == 0 {
		parts = append(parts, plural(seconds, "second"))
	}

	// Join with commas and "and" for last item
	if len(parts) == 1 {
		return parts[0]
	}
	if len(parts) == 2 {
		return parts[0] + " and " + parts[1]
	}
	last := parts[len(parts)-1]
	rest := strings.Join(parts[:len(parts)-1], ", ")
	return rest + ", and " + last
}

func plural(n int64, unit string) string {
	if n == 1 {
		return "1 " + unit
	}
	return fmt.Sprintf("%d %ss", n, unit)
}
