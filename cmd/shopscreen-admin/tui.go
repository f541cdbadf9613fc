package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/shopscreen/rendezvous/internal/protocol"
)

const maxLogLines = 8

// Styles
var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("12"))

	selectedStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("10"))

	normalStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("7"))

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("8"))

	onlineStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("10"))

	sharingStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("13"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("9"))

	keyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("14"))

	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("12")).
			Padding(0, 1)
)

// adminActions is the part of adminclient.Client the console drives.
type adminActions interface {
	Events() <-chan protocol.Message
	Err() error
	RefreshDevices() error
	RequestSharing(deviceID, screenID string) error
	StopSharing(deviceID string) error
	UnregisterDevice(deviceID string) error
}

// Messages
type eventMsg struct {
	msg protocol.Message
}

type streamClosedMsg struct {
	err error
}

type actionDoneMsg struct {
	action string
	err    error
}

type model struct {
	client  adminActions
	relay   string
	adminID string
	now     func() time.Time

	devices []protocol.Device
	sharing map[string]string // deviceID -> screenID
	cursor  int

	prompting bool
	input     textinput.Model

	lines        []string
	lastError    string
	disconnected bool

	width int
}

func newModel(client adminActions, relay, adminID string) model {
	ti := textinput.New()
	ti.Placeholder = "screen id"
	ti.CharLimit = 64
	ti.Width = 32
	ti.PromptStyle = keyStyle
	ti.PlaceholderStyle = dimStyle

	return model{
		client:  client,
		relay:   relay,
		adminID: adminID,
		now:     time.Now,
		sharing: map[string]string{},
		input:   ti,
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(
		waitForEvent(m.client),
		tea.SetWindowTitle("shopscreen admin"),
	)
}

func waitForEvent(c adminActions) tea.Cmd {
	return func() tea.Msg {
		msg, ok := <-c.Events()
		if !ok {
			return streamClosedMsg{err: c.Err()}
		}
		return eventMsg{msg: msg}
	}
}

func runAction(action string, fn func() error) tea.Cmd {
	return func() tea.Msg {
		return actionDoneMsg{action: action, err: fn()}
	}
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if m.prompting {
			return m.handlePromptKey(msg)
		}
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil

	case eventMsg:
		m.apply(msg.msg)
		return m, waitForEvent(m.client)

	case streamClosedMsg:
		m.disconnected = true
		if msg.err != nil {
			m.lastError = "disconnected: " + msg.err.Error()
		} else {
			m.lastError = "disconnected"
		}
		return m, nil

	case actionDoneMsg:
		if msg.err != nil {
			m.lastError = fmt.Sprintf("%s failed: %v", msg.action, msg.err)
		}
		return m, nil
	}

	return m, nil
}

func (m model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if !m.disconnected {
		m.lastError = ""
	}

	switch msg.String() {
	case "ctrl+c", "q":
		return m, tea.Quit

	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
		}
		return m, nil

	case "down", "j":
		if m.cursor < len(m.devices)-1 {
			m.cursor++
		}
		return m, nil

	case "r":
		return m, runAction("refresh", m.client.RefreshDevices)
	}

	dev, ok := m.selected()
	if !ok {
		return m, nil
	}

	switch msg.String() {
	case "s":
		if dev.Status != protocol.StatusOnline {
			m.lastError = dev.Name + " is offline"
			return m, nil
		}
		m.prompting = true
		m.input.SetValue("")
		return m, m.input.Focus()

	case "x":
		id := dev.ID
		return m, runAction("stop sharing", func() error { return m.client.StopSharing(id) })

	case "d":
		id := dev.ID
		return m, runAction("unregister", func() error { return m.client.UnregisterDevice(id) })
	}

	return m, nil
}

func (m model) handlePromptKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyCtrlC:
		return m, tea.Quit

	case tea.KeyEsc:
		m.prompting = false
		m.input.Blur()
		return m, nil

	case tea.KeyEnter:
		screenID := strings.TrimSpace(m.input.Value())
		if screenID == "" {
			return m, nil
		}
		m.prompting = false
		m.input.Blur()
		dev, ok := m.selected()
		if !ok {
			return m, nil
		}
		id := dev.ID
		m.logf("requested %s on %s", dev.Name, screenID)
		return m, runAction("request sharing", func() error { return m.client.RequestSharing(id, screenID) })
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *model) apply(msg protocol.Message) {
	switch ev := msg.(type) {
	case *protocol.AdminConnected:
		m.adminID = ev.AdminID

	case *protocol.DeviceList:
		m.devices = append([]protocol.Device(nil), ev.Devices...)
		for id := range m.sharing {
			if m.indexOf(id) < 0 {
				delete(m.sharing, id)
			}
		}

	case *protocol.DeviceRegistered:
		if i := m.indexOf(ev.Device.ID); i >= 0 {
			m.devices[i] = ev.Device
		} else {
			m.devices = append(m.devices, ev.Device)
		}
		m.logf("%s registered (%s)", ev.Device.Name, ev.Device.Table)

	case *protocol.DeviceStatus:
		if i := m.indexOf(ev.DeviceID); i >= 0 {
			m.devices[i].Status = ev.Status
			m.logf("%s is %s", m.devices[i].Name, ev.Status)
		}
		if ev.Status != protocol.StatusOnline {
			delete(m.sharing, ev.DeviceID)
		}

	case *protocol.DeviceRemoved:
		if i := m.indexOf(ev.DeviceID); i >= 0 {
			m.logf("%s removed", m.devices[i].Name)
			m.devices = append(m.devices[:i], m.devices[i+1:]...)
		}
		delete(m.sharing, ev.DeviceID)

	case *protocol.SharingApproved:
		m.sharing[ev.DeviceID] = ev.ScreenID
		m.logf("%s approved sharing to %s", m.name(ev.DeviceID), ev.ScreenID)

	case *protocol.SharingDenied:
		m.logf("%s denied sharing to %s", m.name(ev.DeviceID), ev.ScreenID)

	case *protocol.SharingError:
		m.lastError = fmt.Sprintf("%s: %s", m.name(ev.DeviceID), ev.Error)

	case *protocol.SharingStopped:
		delete(m.sharing, ev.DeviceID)
		m.logf("%s stopped sharing", m.name(ev.DeviceID))

	case *protocol.Signal:
		m.logf("%s from %s", ev.Type, m.name(ev.DeviceID))
	}

	if m.cursor >= len(m.devices) {
		m.cursor = max(0, len(m.devices)-1)
	}
}

func (m model) selected() (protocol.Device, bool) {
	if m.cursor < 0 || m.cursor >= len(m.devices) {
		return protocol.Device{}, false
	}
	return m.devices[m.cursor], true
}

func (m model) indexOf(deviceID string) int {
	for i, d := range m.devices {
		if d.ID == deviceID {
			return i
		}
	}
	return -1
}

func (m model) name(deviceID string) string {
	if i := m.indexOf(deviceID); i >= 0 && m.devices[i].Name != "" {
		return m.devices[i].Name
	}
	return deviceID
}

func (m *model) logf(format string, args ...any) {
	line := m.now().Format("15:04:05") + " " + fmt.Sprintf(format, args...)
	m.lines = append(m.lines, line)
	if len(m.lines) > maxLogLines {
		m.lines = m.lines[len(m.lines)-maxLogLines:]
	}
}

func (m model) View() string {
	var b strings.Builder

	online := 0
	for _, d := range m.devices {
		if d.Status == protocol.StatusOnline {
			online++
		}
	}
	b.WriteString(titleStyle.Render("shopscreen admin"))
	b.WriteString(dimStyle.Render(fmt.Sprintf("  %s  %d/%d online", m.relay, online, len(m.devices))))
	b.WriteString("\n\n")

	var list strings.Builder
	if len(m.devices) == 0 {
		list.WriteString(dimStyle.Render("no devices registered"))
	}
	for i, d := range m.devices {
		cursor := "  "
		style := normalStyle
		if i == m.cursor {
			cursor = "> "
			style = selectedStyle
		}
		status := dimStyle.Render(string(d.Status))
		if d.Status == protocol.StatusOnline {
			status = onlineStyle.Render(string(d.Status))
		}
		line := cursor + style.Render(fmt.Sprintf("%-20s %-10s %-8s", d.Name, d.Table, d.Type)) + " " + status
		if screen, ok := m.sharing[d.ID]; ok {
			line += " " + sharingStyle.Render("sharing → "+screen)
		}
		if i > 0 {
			list.WriteString("\n")
		}
		list.WriteString(line)
	}
	b.WriteString(boxStyle.Render(list.String()))
	b.WriteString("\n")

	if m.prompting {
		b.WriteString("\nShare to screen: ")
		b.WriteString(m.input.View())
		b.WriteString(dimStyle.Render("  (enter to send, esc to cancel)"))
		b.WriteString("\n")
	}

	if len(m.lines) > 0 {
		b.WriteString("\n")
		for _, l := range m.lines {
			b.WriteString(dimStyle.Render(l))
			b.WriteString("\n")
		}
	}

	if m.lastError != "" {
		b.WriteString("\n")
		b.WriteString(errorStyle.Render(m.lastError))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(helpLine([][2]string{
		{"↑/↓", "select"},
		{"r", "refresh"},
		{"s", "share"},
		{"x", "stop"},
		{"d", "remove"},
		{"q", "quit"},
	}))
	return b.String()
}

func helpLine(binds [][2]string) string {
	parts := make([]string, 0, len(binds))
	for _, kb := range binds {
		parts = append(parts, keyStyle.Render(kb[0])+" "+dimStyle.Render(kb[1]))
	}
	return strings.Join(parts, dimStyle.Render(" • "))
}
