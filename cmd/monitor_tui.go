// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/Thermoquad/hubdrive/pkg/hugs"
)

// Error log entry
type errorLogEntry struct {
	timestamp time.Time
	message   string
	isError   bool // true for errors, false for warnings
}

// wheelTelemetry accumulates the replies of one wheel. Each reply shape
// carries only some fields, so every group remembers when it was last seen.
type wheelTelemetry struct {
	lastReply time.Time
	estop     bool

	hasMotor bool
	speed    int16
	position int32
	pwm      int16
	status   uint8

	hasPower  bool
	batteryMV uint16
	currentMA uint16

	hasWatchdog bool
	watchdogMS  uint16

	hasMode   bool
	speedMode uint8
	threshold uint16

	hasPIDF      bool
	feedForward  int16
	proportional int16
	integral     int16
}

// apply merges one parsed reply
func (t *wheelTelemetry) apply(r hugs.Reply, at time.Time) {
	t.lastReply = at
	t.estop = r.Response == hugs.RspSTOP

	switch r.Response {
	case hugs.RspSMOT:
		t.hasMotor = true
		t.speed, t.position, t.pwm, t.status = r.Speed, r.Position, r.PWM, r.Status
	case hugs.RspSPOW:
		t.hasMotor = true
		t.pwm = r.PWM
	case hugs.RspSSPE:
		t.hasMotor = true
		t.speed = r.Speed
	case hugs.RspSPOS:
		t.hasMotor = true
		t.position = r.Position
	case hugs.RspSVOL:
		t.hasPower = true
		t.batteryMV = r.BatteryMV
	case hugs.RspSAMP:
		t.hasPower = true
		t.currentMA = r.CurrentMA
	case hugs.RspSDOG:
		t.hasWatchdog = true
		t.watchdogMS = r.WatchdogMS
	case hugs.RspSMOD:
		t.hasMode = true
		t.speedMode, t.threshold = r.SpeedMode, r.StepperThreshold
	case hugs.RspSFPI:
		t.hasPIDF = true
		t.feedForward, t.proportional, t.integral = r.FeedForward, r.Proportional, r.Integral
	}
}

// TUI model
type model struct {
	connInfo      string
	statsInterval int
	showAll       bool
	stats         *hugs.Statistics
	errorLog      []errorLogEntry
	maxLogEntries int
	synchronized  bool
	invalidFrames int
	width         int
	height        int
	quitting      bool
	linkClosed    bool
	telemetry     map[uint8]*wheelTelemetry // by wheel address
}

// Messages
type tickMsg time.Time
type frameDataMsg frameEvent
type syncMsg struct {
	invalidFrames int
}
type linkClosedMsg struct {
	err error
}

// formatUptime formats a duration in milliseconds to a human-friendly string
func formatUptime(ms uint64) string {
	if ms == 0 {
		return "0 seconds"
	}

	seconds := ms / 1000
	minutes := seconds / 60
	hours := minutes / 60
	days := hours / 24

	seconds %= 60
	minutes %= 60
	hours %= 24

	plural := func(n uint64, unit string) string {
		if n == 1 {
			return "1 " + unit
		}
		return fmt.Sprintf("%d %ss", n, unit)
	}

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

func initialModel(connInfo string, statsInterval int, showAll bool) model {
	return model{
		connInfo:      connInfo,
		statsInterval: statsInterval,
		showAll:       showAll,
		stats:         hugs.NewStatistics(),
		errorLog:      make([]errorLogEntry, 0),
		maxLogEntries: 100,
		width:         80,
		height:        24,
		telemetry:     make(map[uint8]*wheelTelemetry),
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(
		tickCmd(),
		tea.EnterAltScreen,
	)
}

func tickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		case "r":
			m.stats.Reset()
			m.addLogEntry("Statistics reset", false)
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case tickMsg:
		m.stats.CalculateRates()
		return m, tickCmd()

	case syncMsg:
		m.synchronized = true
		m.invalidFrames = msg.invalidFrames
		if msg.invalidFrames > 0 {
			m.addLogEntry(fmt.Sprintf("Synchronized after dropping %d invalid frames", msg.invalidFrames), false)
		} else {
			m.addLogEntry("Synchronized", false)
		}

	case linkClosedMsg:
		m.linkClosed = true
		m.addLogEntry(fmt.Sprintf("Link closed: %v", msg.err), true)

	case frameDataMsg:
		if msg.decodeErr != nil {
			m.stats.Update(nil, msg.decodeErr, nil)
			m.addLogEntry(fmt.Sprintf("DECODE ERROR: %v", msg.decodeErr), true)
			break
		}
		if msg.frame == nil {
			break
		}

		m.stats.Update(msg.frame, nil, msg.validationErrors)
		m.trackReply(msg.frame)

		name := hugs.FormatCommand(msg.frame.Command())
		switch {
		case len(msg.validationErrors) > 0:
			for _, err := range msg.validationErrors {
				m.addLogEntry(fmt.Sprintf("%s: %s", name, err.Message), true)
			}
		case msg.frame.IsReply() && msg.frame.Response() == hugs.RspSTOP:
			m.addLogEntry(fmt.Sprintf("Wheel %d: ESTOP latched", msg.frame.Destination()), true)
		case m.showAll:
			m.addLogEntry(fmt.Sprintf("%s rsp=%s (valid)", name, hugs.FormatResponse(msg.frame.Response())), false)
		}
	}

	return m, nil
}

func (m *model) addLogEntry(message string, isError bool) {
	m.errorLog = appendLogEntry(m.errorLog, m.maxLogEntries, message, isError)
}

// appendLogEntry appends an entry and keeps only the last limit entries
func appendLogEntry(entries []errorLogEntry, limit int, message string, isError bool) []errorLogEntry {
	entries = append(entries, errorLogEntry{
		timestamp: time.Now(),
		message:   message,
		isError:   isError,
	})
	if len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}
	return entries
}

// trackReply records the telemetry carried by a wheel reply
func (m *model) trackReply(frame *hugs.Frame) {
	if !frame.IsReply() {
		return
	}
	r, err := hugs.ParseReply(frame)
	if err != nil {
		return
	}
	t, ok := m.telemetry[frame.Destination()]
	if !ok {
		t = &wheelTelemetry{}
		m.telemetry[frame.Destination()] = t
	}
	t.apply(r, frame.Timestamp())
}

// renderTelemetry renders the accumulated telemetry of one wheel
func renderTelemetry(t *wheelTelemetry, labelStyle, valueStyle, errorStyle lipgloss.Style) string {
	var content strings.Builder

	if t.estop {
		content.WriteString(errorStyle.Render("ESTOP LATCHED"))
		content.WriteString("\n")
	}
	if t.hasMotor {
		content.WriteString(fmt.Sprintf("%s %s   %s %s   %s %s\n",
			labelStyle.Render("Speed:"), valueStyle.Render(fmt.Sprintf("%d mm/s", t.speed)),
			labelStyle.Render("Position:"), valueStyle.Render(fmt.Sprintf("%d mm", t.position)),
			labelStyle.Render("PWM:"), valueStyle.Render(fmt.Sprintf("%d", t.pwm)),
		))
		content.WriteString(fmt.Sprintf("%s %s\n",
			labelStyle.Render("Status:"), valueStyle.Render(hugs.FormatStatus(t.status)),
		))
	}
	if t.hasPower {
		content.WriteString(fmt.Sprintf("%s %s   %s %s\n",
			labelStyle.Render("Battery:"), valueStyle.Render(fmt.Sprintf("%.2f V", float64(t.batteryMV)/1000)),
			labelStyle.Render("Current:"), valueStyle.Render(fmt.Sprintf("%.2f A", float64(t.currentMA)/1000)),
		))
	}
	if t.hasWatchdog {
		content.WriteString(fmt.Sprintf("%s %s\n",
			labelStyle.Render("Watchdog:"), valueStyle.Render(fmt.Sprintf("%d ms", t.watchdogMS)),
		))
	}
	if t.hasMode {
		content.WriteString(fmt.Sprintf("%s %s (step below %d mm/s)\n",
			labelStyle.Render("Speed mode:"), valueStyle.Render(hugs.FormatSpeedMode(t.speedMode)), t.threshold,
		))
	}
	if t.hasPIDF {
		content.WriteString(fmt.Sprintf("%s F=%d P=%d I=%d\n",
			labelStyle.Render("PIDF:"), t.feedForward, t.proportional, t.integral,
		))
	}
	content.WriteString(fmt.Sprintf("%s %s ago",
		labelStyle.Render("Last reply:"), time.Since(t.lastReply).Truncate(time.Millisecond),
	))
	return content.String()
}

func (m model) View() string {
	if m.quitting {
		return "Shutting down...\n"
	}

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

	// Header
	var s strings.Builder
	s.WriteString(titleStyle.Render("HUBDRIVE - LINK MONITOR"))
	s.WriteString("\n")
	mode := "Errors only"
	if m.showAll {
		mode = "All frames"
	}
	s.WriteString(headerStyle.Render(fmt.Sprintf("%s | Mode: %s | 'r' resets | 'q' quits", m.connInfo, mode)))
	s.WriteString("\n\n")

	// Sync status
	switch {
	case m.linkClosed:
		s.WriteString(errorStyle.Render("Link closed"))
	case !m.synchronized:
		s.WriteString(warningStyle.Render("⏳ Waiting for synchronization..."))
	default:
		s.WriteString(statsValueStyle.Render("✓ Synchronized"))
		if m.invalidFrames > 0 {
			s.WriteString(headerStyle.Render(fmt.Sprintf(" (dropped %d invalid frames)", m.invalidFrames)))
		}
	}
	s.WriteString("\n\n")

	// Statistics
	m.stats.CalculateRates()
	var validPercent, errorPercent float64
	totalErrors := m.stats.ErrorCount()
	if m.stats.TotalFrames > 0 {
		validPercent = float64(m.stats.ValidFrames) * 100.0 / float64(m.stats.TotalFrames)
		errorPercent = float64(totalErrors) * 100.0 / float64(m.stats.TotalFrames)
	}

	statsContent := strings.Builder{}
	statsContent.WriteString(fmt.Sprintf("%s %s   %s %s   %s %s\n",
		statsLabelStyle.Render("Total:"), statsValueStyle.Render(fmt.Sprintf("%d", m.stats.TotalFrames)),
		statsLabelStyle.Render("Valid:"), statsValueStyle.Render(fmt.Sprintf("%d (%.1f%%)", m.stats.ValidFrames, validPercent)),
		statsLabelStyle.Render("Errors:"), errorStyle.Render(fmt.Sprintf("%d (%.1f%%)", totalErrors, errorPercent)),
	))

	if m.stats.CRCErrors > 0 || m.stats.TerminatorErrors > 0 || m.stats.LengthErrors > 0 {
		statsContent.WriteString(fmt.Sprintf("%s %s   %s %s   %s %s\n",
			statsLabelStyle.Render("CRC:"), errorStyle.Render(fmt.Sprintf("%d", m.stats.CRCErrors)),
			statsLabelStyle.Render("Terminator:"), errorStyle.Render(fmt.Sprintf("%d", m.stats.TerminatorErrors)),
			statsLabelStyle.Render("Length:"), errorStyle.Render(fmt.Sprintf("%d", m.stats.LengthErrors)),
		))
	}

	if m.stats.MalformedFrames > 0 {
		statsContent.WriteString(fmt.Sprintf("%s %s (%s: %d, %s: %d)\n",
			statsLabelStyle.Render("Malformed:"), errorStyle.Render(fmt.Sprintf("%d", m.stats.MalformedFrames)),
			headerStyle.Render("length mismatches"), m.stats.LengthMismatches,
			headerStyle.Render("unknown IDs"), m.stats.UnknownIDs,
		))
	}

	if m.stats.AnomalousValues > 0 {
		statsContent.WriteString(fmt.Sprintf("%s %s\n",
			statsLabelStyle.Render("Anomalous:"), warningStyle.Render(fmt.Sprintf("%d", m.stats.AnomalousValues)),
		))
	}

	if m.stats.Replies > 0 {
		statsContent.WriteString(fmt.Sprintf("%s %s   %s %s\n",
			statsLabelStyle.Render("Replies:"), statsValueStyle.Render(fmt.Sprintf("%d", m.stats.Replies)),
			statsLabelStyle.Render("Estops:"), func() string {
				if m.stats.Estops > 0 {
					return errorStyle.Render(fmt.Sprintf("%d", m.stats.Estops))
				}
				return statsValueStyle.Render("0")
			}(),
		))
	}

	statsContent.WriteString(fmt.Sprintf("%s %s   %s %s   %s %s",
		statsLabelStyle.Render("Frame Rate:"), statsValueStyle.Render(fmt.Sprintf("%.1f frames/s", m.stats.FrameRate)),
		statsLabelStyle.Render("Error Rate:"), func() string {
			if m.stats.ErrorRate > 0 {
				return errorStyle.Render(fmt.Sprintf("%.1f err/s", m.stats.ErrorRate))
			}
			return statsValueStyle.Render(fmt.Sprintf("%.1f err/s", m.stats.ErrorRate))
		}(),
		statsLabelStyle.Render("Session:"), statsValueStyle.Render(formatUptime(uint64(time.Since(m.stats.StartTime).Milliseconds()))),
	))

	s.WriteString(boxStyle.Render(statsContent.String()))
	s.WriteString("\n\n")

	// Telemetry per wheel, only once replies have been seen
	for addr := uint8(0); addr <= hugs.MaxNibble; addr++ {
		t, ok := m.telemetry[addr]
		if !ok {
			continue
		}
		s.WriteString(statsLabelStyle.Render(fmt.Sprintf("Wheel %d:", addr)))
		s.WriteString("\n")
		s.WriteString(boxStyle.Render(renderTelemetry(t, statsLabelStyle, statsValueStyle, errorStyle)))
		s.WriteString("\n\n")
	}

	// Error log
	s.WriteString(statsLabelStyle.Render("Recent Events:"))
	s.WriteString("\n")
	s.WriteString(renderEventLog(m.errorLog, m.height-15, m.width, headerStyle, errorStyle, warningStyle, boxStyle))

	return s.String()
}

// renderEventLog renders the tail of the event log in a box
func renderEventLog(entries []errorLogEntry, lines, width int, headerStyle, errorStyle, warningStyle, boxStyle lipgloss.Style) string {
	if lines < 5 {
		lines = 5
	}

	logContent := strings.Builder{}
	startIdx := len(entries) - lines
	if startIdx < 0 {
		startIdx = 0
	}

	if len(entries) == 0 {
		logContent.WriteString(headerStyle.Render("  (no events yet)"))
	} else {
		for i := startIdx; i < len(entries); i++ {
			entry := entries[i]
			timestamp := entry.timestamp.Format("01/02/06 15:04:05.000")
			if entry.isError {
				logContent.WriteString(fmt.Sprintf("%s %s\n",
					headerStyle.Render(timestamp),
					errorStyle.Render("✗ "+entry.message),
				))
			} else {
				logContent.WriteString(fmt.Sprintf("%s %s\n",
					headerStyle.Render(timestamp),
					warningStyle.Render("ℹ "+entry.message),
				))
			}
		}
	}

	return boxStyle.Width(width - 4).Render(logContent.String())
}
