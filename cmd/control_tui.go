// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/Thermoquad/hubdrive/pkg/bldc"
	"github.com/Thermoquad/hubdrive/pkg/hugs"
)

//////////////////////////////////////////////////////////////
// Constants
//////////////////////////////////////////////////////////////

const (
	setpointStep  = 100 // up/down step for the setpoint input
	slowPollEvery = 10  // every Nth poll asks for a slow reply instead of SMOT
	replyStale    = 2 * time.Second
)

// Focus states
const (
	focusWheelList = iota
	focusSetpoint
)

//////////////////////////////////////////////////////////////
// Types
//////////////////////////////////////////////////////////////

// wheelItem is one bus address in the wheel list
type wheelItem struct {
	address  uint8
	selected bool
	summary  string
}

// Implement list.Item interface
func (w wheelItem) Title() string {
	if w.selected {
		return fmt.Sprintf("Wheel %d *", w.address)
	}
	return fmt.Sprintf("Wheel %d", w.address)
}
func (w wheelItem) Description() string { return w.summary }
func (w wheelItem) FilterValue() string { return strconv.Itoa(int(w.address)) }

// controlModel is the Bubble Tea model for the control TUI
type controlModel struct {
	// Connection manager (for sending commands and reconnection)
	connMgr  *connectionManager
	connInfo string

	// Wheel selection
	wheelList list.Model
	selected  uint8

	// Monitoring (shared with the monitor TUI)
	stats         *hugs.Statistics
	errorLog      []errorLogEntry
	maxLogEntries int
	telemetry     map[uint8]*wheelTelemetry

	// Control
	setpointInput textinput.Model
	powerMode     bool  // setpoint is sent as POW instead of SPE
	setpoint      int16 // last setpoint sent
	speedMode     uint8 // last speed mode requested
	focusedField  int

	// UI state
	polls          uint64
	width          int
	height         int
	synchronized   bool
	quitting       bool
	connectionLost bool
}

//////////////////////////////////////////////////////////////
// Messages
//////////////////////////////////////////////////////////////

type controlTickMsg time.Time

type controlPollMsg time.Time

type controlDataMsg frameEvent

type controlSyncMsg struct {
	invalidFrames int
}

type controlBatchMsg struct {
	messages []controlDataMsg
	syncMsg  *controlSyncMsg
}

type connectionLostMsg struct{}

type reconnectedMsg struct {
	connInfo string
}

//////////////////////////////////////////////////////////////
// Model Initialization
//////////////////////////////////////////////////////////////

func initialControlModel(connMgr *connectionManager, connInfo string, dest uint8) controlModel {
	ti := textinput.New()
	ti.Placeholder = "0"
	ti.CharLimit = 6
	ti.Width = 10

	delegate := list.NewDefaultDelegate()
	delegate.ShowDescription = true
	delegate.SetHeight(2)
	wheelList := list.New([]list.Item{}, delegate, 30, 12)
	wheelList.Title = "Wheels"
	wheelList.SetShowStatusBar(false)
	wheelList.SetShowHelp(false)
	wheelList.SetFilteringEnabled(false)
	// q is handled by the model so the wheel is disabled on exit
	wheelList.KeyMap.Quit.SetEnabled(false)

	m := controlModel{
		connMgr:       connMgr,
		connInfo:      connInfo,
		wheelList:     wheelList,
		selected:      dest,
		stats:         hugs.NewStatistics(),
		errorLog:      make([]errorLogEntry, 0),
		maxLogEntries: 100,
		telemetry:     make(map[uint8]*wheelTelemetry),
		setpointInput: ti,
		focusedField:  focusWheelList,
		width:         80,
		height:        24,
	}
	m.updateWheelList()
	m.wheelList.Select(int(dest))
	return m
}

//////////////////////////////////////////////////////////////
// Bubble Tea Interface
//////////////////////////////////////////////////////////////

func (m controlModel) Init() tea.Cmd {
	return tea.Batch(controlTickCmd(), controlPollCmd())
}

func controlTickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return controlTickMsg(t)
	})
}

func controlPollCmd() tea.Cmd {
	return tea.Tick(controlPoll, func(t time.Time) tea.Msg {
		return controlPollMsg(t)
	})
}

func (m controlModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKeyMsg(msg)

	case tea.MouseMsg:
		if m.focusedField == focusWheelList {
			var cmd tea.Cmd
			m.wheelList, cmd = m.wheelList.Update(msg)
			return m, cmd
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.updateListSize()

	case controlTickMsg:
		m.stats.CalculateRates()
		m.updateWheelList()
		return m, controlTickCmd()

	case controlPollMsg:
		// Polling also feeds the wheel watchdog
		if !m.connectionLost {
			rsp := pollResponse(m.polls)
			m.polls++
			if err := m.connMgr.send(hugs.NewNOP(m.connMgr.header(m.selected, rsp))); err != nil {
				m.addLogEntry(fmt.Sprintf("Poll failed: %v", err), true)
			}
		}
		return m, controlPollCmd()

	case controlBatchMsg:
		if msg.syncMsg != nil {
			m.synchronized = true
			if msg.syncMsg.invalidFrames > 0 {
				m.addLogEntry(fmt.Sprintf("Synchronized after dropping %d invalid frames", msg.syncMsg.invalidFrames), false)
			} else {
				m.addLogEntry("Synchronized", false)
			}
		}
		for _, data := range msg.messages {
			m.processControlData(data)
		}

	case connectionLostMsg:
		m.connectionLost = true
		m.synchronized = false
		m.addLogEntry("Connection lost - reconnecting...", true)

	case reconnectedMsg:
		m.connectionLost = false
		m.connInfo = msg.connInfo
		m.addLogEntry("Reconnected", false)
	}

	return m, nil
}

func (m controlModel) handleKeyMsg(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	key := msg.String()

	switch key {
	case "ctrl+c":
		m.quitting = true
		return m, tea.Quit

	case "tab", "shift+tab":
		m.toggleFocus()
		return m, nil

	case "enter":
		if m.focusedField == focusSetpoint {
			m.submitSetpoint()
		} else {
			m.selectWheel()
		}
		return m, nil
	}

	if m.focusedField == focusSetpoint {
		switch key {
		case "esc":
			m.toggleFocus()
			return m, nil
		case "up":
			m.stepSetpoint(setpointStep)
			return m, nil
		case "down":
			m.stepSetpoint(-setpointStep)
			return m, nil
		}
		var cmd tea.Cmd
		m.setpointInput, cmd = m.setpointInput.Update(msg)
		return m, cmd
	}

	switch key {
	case "q":
		m.quitting = true
		return m, tea.Quit
	case "e":
		m.sendCommand(hugs.NewEnable(m.header()), "enable")
	case "d":
		m.sendCommand(hugs.NewDisable(m.header()), "disable")
	case "x", " ":
		m.sendCommand(hugs.NewEstop(m.header()), "EMERGENCY STOP")
	case "o":
		m.sendCommand(hugs.NewResetOdometry(m.header()), "reset odometry")
	case "m":
		m.cycleSpeedMode()
	case "p":
		m.powerMode = !m.powerMode
		m.setpoint = 0
		m.setpointInput.SetValue("")
		if m.powerMode {
			m.addLogEntry("Setpoint input now sends POW (open loop)", false)
		} else {
			m.addLogEntry("Setpoint input now sends SPE (closed loop)", false)
		}
	default:
		var cmd tea.Cmd
		m.wheelList, cmd = m.wheelList.Update(msg)
		return m, cmd
	}

	return m, nil
}

func (m *controlModel) toggleFocus() {
	if m.focusedField == focusWheelList {
		m.focusedField = focusSetpoint
		m.setpointInput.Focus()
		return
	}
	m.focusedField = focusWheelList
	m.setpointInput.Blur()
}

// selectWheel makes the highlighted list entry the controlled wheel
func (m *controlModel) selectWheel() {
	item, ok := m.wheelList.SelectedItem().(wheelItem)
	if !ok || item.address == m.selected {
		return
	}
	// Stop the wheel being left; its watchdog stops it too once polls move on
	m.sendCommand(hugs.NewDisable(m.header()), "disable")
	m.selected = item.address
	m.setpoint = 0
	m.setpointInput.SetValue("")
	m.addLogEntry(fmt.Sprintf("Controlling wheel %d", m.selected), false)
	m.updateWheelList()
}

//////////////////////////////////////////////////////////////
// Commands
//////////////////////////////////////////////////////////////

// pollResponse picks the reply requested by the nth poll
func pollResponse(n uint64) uint8 {
	if n%slowPollEvery != slowPollEvery-1 {
		return hugs.RspSMOT
	}
	slow := infoQueries[1:]
	return slow[(n/slowPollEvery)%uint64(len(slow))]
}

func (m *controlModel) header() hugs.Header {
	return m.connMgr.header(m.selected, hugs.RspSMOT)
}

// sendCommand writes f to the selected wheel and logs what was sent
func (m *controlModel) sendCommand(f *hugs.Frame, what string) {
	if m.connectionLost {
		m.addLogEntry("Cannot send command: connection lost", true)
		return
	}
	if err := m.connMgr.send(f); err != nil {
		m.addLogEntry(fmt.Sprintf("Wheel %d: %s failed: %v", m.selected, what, err), true)
		return
	}
	m.addLogEntry(fmt.Sprintf("Wheel %d: %s", m.selected, what), false)
}

func (m *controlModel) submitSetpoint() {
	value := strings.TrimSpace(m.setpointInput.Value())
	if value == "" {
		value = "0"
	}
	limit := hugs.MaxSpeed
	if m.powerMode {
		limit = hugs.MaxPower
	}
	v, err := parseInt16Arg(value, limit)
	if err != nil {
		m.addLogEntry(err.Error(), true)
		return
	}
	m.sendSetpoint(v)
}

func (m *controlModel) stepSetpoint(delta int) {
	limit := hugs.MaxSpeed
	if m.powerMode {
		limit = hugs.MaxPower
	}
	v := int(m.setpoint) + delta
	if v > limit {
		v = limit
	}
	if v < -limit {
		v = -limit
	}
	m.setpointInput.SetValue(strconv.Itoa(v))
	m.sendSetpoint(int16(v))
}

func (m *controlModel) sendSetpoint(v int16) {
	if t := m.telemetry[m.selected]; t != nil && t.estop {
		m.addLogEntry(fmt.Sprintf("Wheel %d is in emergency stop; press e to enable first", m.selected), true)
		return
	}
	m.setpoint = v
	if m.powerMode {
		m.sendCommand(hugs.NewPower(m.header(), v), fmt.Sprintf("power %d", v))
	} else {
		m.sendCommand(hugs.NewSpeed(m.header(), v), fmt.Sprintf("speed %d mm/s", v))
	}
}

func (m *controlModel) cycleSpeedMode() {
	threshold := uint16(bldc.DefaultMaxStepSpeed)
	if t := m.telemetry[m.selected]; t != nil && t.hasMode {
		m.speedMode = t.speedMode
		threshold = t.threshold
	}
	next := (m.speedMode + 1) % 3
	m.speedMode = next
	m.sendCommand(hugs.NewSpeedMode(m.connMgr.header(m.selected, hugs.RspSMOD), next, threshold),
		"speed mode "+hugs.FormatSpeedMode(next))
}

//////////////////////////////////////////////////////////////
// Incoming frames
//////////////////////////////////////////////////////////////

func (m *controlModel) processControlData(msg controlDataMsg) {
	if msg.decodeErr != nil {
		m.stats.Update(nil, msg.decodeErr, nil)
		m.addLogEntry(fmt.Sprintf("DECODE ERROR: %v", msg.decodeErr), true)
		return
	}
	if msg.frame == nil {
		return
	}

	m.stats.Update(msg.frame, nil, msg.validationErrors)
	for _, err := range msg.validationErrors {
		m.addLogEntry(fmt.Sprintf("%s: %s", hugs.FormatCommand(msg.frame.Command()), err.Message), true)
	}
	if !msg.frame.IsReply() {
		return
	}

	r, err := hugs.ParseReply(msg.frame)
	if err != nil {
		return
	}
	addr := msg.frame.Destination()
	t, ok := m.telemetry[addr]
	if !ok {
		t = &wheelTelemetry{}
		m.telemetry[addr] = t
		m.addLogEntry(fmt.Sprintf("Wheel %d answered", addr), false)
	}
	wasEstop := t.estop
	t.apply(r, msg.frame.Timestamp())
	switch {
	case t.estop && !wasEstop:
		m.addLogEntry(fmt.Sprintf("Wheel %d: ESTOP latched", addr), true)
	case !t.estop && wasEstop:
		m.addLogEntry(fmt.Sprintf("Wheel %d: ESTOP cleared", addr), false)
	}
}

func (m *controlModel) addLogEntry(message string, isError bool) {
	m.errorLog = appendLogEntry(m.errorLog, m.maxLogEntries, message, isError)
}

// wheelSummary is the one-line list description of a wheel
func (m *controlModel) wheelSummary(addr uint8) string {
	t, ok := m.telemetry[addr]
	switch {
	case !ok:
		return "no reply"
	case t.estop:
		return "ESTOP"
	case time.Since(t.lastReply) > replyStale:
		return "silent"
	case t.hasMotor:
		return fmt.Sprintf("%d mm/s", t.speed)
	}
	return "online"
}

func (m *controlModel) updateWheelList() {
	items := make([]list.Item, 0, hugs.MaxNibble+1)
	for addr := uint8(0); addr <= hugs.MaxNibble; addr++ {
		items = append(items, wheelItem{
			address:  addr,
			selected: addr == m.selected,
			summary:  m.wheelSummary(addr),
		})
	}
	m.wheelList.SetItems(items)
}

func (m *controlModel) updateListSize() {
	listHeight := m.height - 20
	if listHeight < 6 {
		listHeight = 6
	}
	m.wheelList.SetSize(28, listHeight)
}

//////////////////////////////////////////////////////////////
// View
//////////////////////////////////////////////////////////////

func (m controlModel) View() string {
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
	s.WriteString(titleStyle.Render("HUBDRIVE CONTROL"))
	s.WriteString(" ")
	connStatus := m.connInfo
	if m.connectionLost {
		connStatus = warningStyle.Render("RECONNECTING...")
	}
	s.WriteString(headerStyle.Render(fmt.Sprintf("| %s | Tab=switch q=quit", connStatus)))
	s.WriteString("\n")
	if !m.synchronized && !m.connectionLost {
		s.WriteString(warningStyle.Render(" Waiting for replies..."))
	}
	s.WriteString("\n\n")

	// Layout: left panel (wheels) | right panel (control)
	leftWidth := 30
	rightWidth := m.width - leftWidth - 6
	if rightWidth < 30 {
		rightWidth = 30
	}

	listStyle := boxStyle.Width(leftWidth)
	if m.focusedField == focusWheelList {
		listStyle = focusedBoxStyle.Width(leftWidth)
	}
	wheelPanel := listStyle.Render(m.wheelList.View())

	controlStyle := boxStyle.Width(rightWidth)
	if m.focusedField == focusSetpoint {
		controlStyle = focusedBoxStyle.Width(rightWidth)
	}
	controlPanel := controlStyle.Render(m.renderControlPanel(statsLabelStyle, statsValueStyle, headerStyle, errorStyle))

	s.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, wheelPanel, " ", controlPanel))
	s.WriteString("\n\n")

	// Statistics bar
	s.WriteString(m.renderStatisticsBar(statsLabelStyle, statsValueStyle, errorStyle, boxStyle))
	s.WriteString("\n\n")

	// Event log
	s.WriteString(statsLabelStyle.Render("Recent Events:"))
	s.WriteString("\n")
	s.WriteString(renderEventLog(m.errorLog, 6, m.width, headerStyle, errorStyle, warningStyle, boxStyle))

	return s.String()
}

func (m controlModel) renderControlPanel(statsLabelStyle, statsValueStyle, headerStyle, errorStyle lipgloss.Style) string {
	var s strings.Builder

	s.WriteString(fmt.Sprintf("%s Wheel %d\n", statsLabelStyle.Render("Selected:"), m.selected))

	label := "Speed (mm/s): "
	if m.powerMode {
		label = "Power (PWM):  "
	}
	s.WriteString(statsLabelStyle.Render(label))
	if m.focusedField == focusSetpoint {
		s.WriteString(m.setpointInput.View())
	} else {
		val := m.setpointInput.Value()
		if val == "" {
			val = m.setpointInput.Placeholder
		}
		s.WriteString(fmt.Sprintf("[%s]", val))
	}
	s.WriteString(headerStyle.Render(fmt.Sprintf("  last sent %d", m.setpoint)))
	s.WriteString("\n")
	s.WriteString(headerStyle.Render("e enable  d disable  x estop  o reset odometry  m mode  p speed/power"))
	s.WriteString("\n\n")

	t, ok := m.telemetry[m.selected]
	if !ok {
		s.WriteString(headerStyle.Render("No reply from this wheel yet"))
		return s.String()
	}
	s.WriteString(renderTelemetry(t, statsLabelStyle, statsValueStyle, errorStyle))
	return s.String()
}

func (m controlModel) renderStatisticsBar(statsLabelStyle, statsValueStyle, errorStyle, boxStyle lipgloss.Style) string {
	m.stats.CalculateRates()
	var validPercent, errorPercent float64
	if m.stats.TotalFrames > 0 {
		validPercent = float64(m.stats.ValidFrames) * 100.0 / float64(m.stats.TotalFrames)
		errorPercent = float64(m.stats.ErrorCount()) * 100.0 / float64(m.stats.TotalFrames)
	}

	content := fmt.Sprintf("%s %s  %s %s  %s %s  %s %s  %s %s",
		statsLabelStyle.Render("Total:"), statsValueStyle.Render(fmt.Sprintf("%d", m.stats.TotalFrames)),
		statsLabelStyle.Render("Valid:"), statsValueStyle.Render(fmt.Sprintf("%.1f%%", validPercent)),
		statsLabelStyle.Render("Errors:"), func() string {
			if errorPercent > 0 {
				return errorStyle.Render(fmt.Sprintf("%.1f%%", errorPercent))
			}
			return statsValueStyle.Render("0.0%")
		}(),
		statsLabelStyle.Render("Rate:"), statsValueStyle.Render(fmt.Sprintf("%.1f frames/s", m.stats.FrameRate)),
		statsLabelStyle.Render("Session:"), statsValueStyle.Render(formatUptime(uint64(time.Since(m.stats.StartTime).Milliseconds()))),
	)

	return boxStyle.Width(m.width - 4).Render(content)
}
