package main

import (
	"errors"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shopscreen/rendezvous/internal/protocol"
)

type call struct {
	action   string
	deviceID string
	screenID string
}

type fakeActions struct {
	events chan protocol.Message
	err    error
	calls  []call
	fail   error
}

func newFakeActions() *fakeActions {
	return &fakeActions{events: make(chan protocol.Message, 8)}
}

func (f *fakeActions) Events() <-chan protocol.Message { return f.events }
func (f *fakeActions) Err() error                      { return f.err }

func (f *fakeActions) RefreshDevices() error {
	f.calls = append(f.calls, call{action: "refresh"})
	return f.fail
}

func (f *fakeActions) RequestSharing(deviceID, screenID string) error {
	f.calls = append(f.calls, call{action: "request", deviceID: deviceID, screenID: screenID})
	return f.fail
}

func (f *fakeActions) StopSharing(deviceID string) error {
	f.calls = append(f.calls, call{action: "stop", deviceID: deviceID})
	return f.fail
}

func (f *fakeActions) UnregisterDevice(deviceID string) error {
	f.calls = append(f.calls, call{action: "unregister", deviceID: deviceID})
	return f.fail
}

func testModel(f *fakeActions) model {
	m := newModel(f, "ws://relay.test/ws/admin", "admin-1")
	m.now = func() time.Time { return time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC) }
	return m
}

func key(s string) tea.KeyMsg {
	switch s {
	case "up":
		return tea.KeyMsg{Type: tea.KeyUp}
	case "down":
		return tea.KeyMsg{Type: tea.KeyDown}
	case "enter":
		return tea.KeyMsg{Type: tea.KeyEnter}
	case "esc":
		return tea.KeyMsg{Type: tea.KeyEsc}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

// send feeds msg to m without running the returned command.
func send(t *testing.T, m model, msg tea.Msg) model {
	t.Helper()
	next, _ := m.Update(msg)
	return next.(model)
}

// press feeds msg to m and runs the action command it returns, feeding the
// result back in.
func press(t *testing.T, m model, msg tea.Msg) model {
	t.Helper()
	next, cmd := m.Update(msg)
	m = next.(model)
	if cmd == nil {
		return m
	}
	if done, ok := cmd().(actionDoneMsg); ok {
		next, _ = m.Update(done)
		m = next.(model)
	}
	return m
}

func withDevices(m model) model {
	m.apply(&protocol.DeviceList{Devices: []protocol.Device{
		{ID: "device-a", Name: "Till", Table: "Front", Status: protocol.StatusOnline},
		{ID: "device-b", Name: "Kiosk", Table: "Back", Status: protocol.StatusOffline},
	}})
	return m
}

func TestCursorStaysInBounds(t *testing.T) {
	m := withDevices(testModel(newFakeActions()))

	m = press(t, m, key("up"))
	assert.Equal(t, 0, m.cursor)
	m = press(t, m, key("down"))
	m = press(t, m, key("down"))
	assert.Equal(t, 1, m.cursor)

	m.apply(&protocol.DeviceRemoved{DeviceID: "device-b"})
	assert.Equal(t, 0, m.cursor)
}

func TestRefreshKey(t *testing.T) {
	f := newFakeActions()
	m := testModel(f)

	press(t, m, key("r"))
	assert.Equal(t, []call{{action: "refresh"}}, f.calls)
}

func TestShareKeyPromptsForScreen(t *testing.T) {
	f := newFakeActions()
	m := withDevices(testModel(f))

	m = send(t, m, key("s"))
	require.True(t, m.prompting)
	for _, r := range "screen-2" {
		m = send(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{r}})
	}
	assert.Empty(t, f.calls, "typing in the prompt must not trigger actions")

	m = press(t, m, key("enter"))
	assert.False(t, m.prompting)
	assert.Equal(t, []call{{action: "request", deviceID: "device-a", screenID: "screen-2"}}, f.calls)
}

func TestShareKeyPromptCancel(t *testing.T) {
	f := newFakeActions()
	m := withDevices(testModel(f))

	m = send(t, m, key("s"))
	m = send(t, m, key("esc"))
	assert.False(t, m.prompting)
	assert.Empty(t, f.calls)
}

func TestShareKeyRefusesOfflineDevice(t *testing.T) {
	f := newFakeActions()
	m := withDevices(testModel(f))

	m = send(t, m, key("down"))
	m = send(t, m, key("s"))
	assert.False(t, m.prompting)
	assert.Contains(t, m.lastError, "offline")
}

func TestStopAndUnregisterKeys(t *testing.T) {
	f := newFakeActions()
	m := withDevices(testModel(f))

	m = press(t, m, key("x"))
	m = press(t, m, key("down"))
	press(t, m, key("d"))
	assert.Equal(t, []call{
		{action: "stop", deviceID: "device-a"},
		{action: "unregister", deviceID: "device-b"},
	}, f.calls)
}

func TestActionErrorIsShown(t *testing.T) {
	f := newFakeActions()
	f.fail = errors.New("write: broken pipe")
	m := testModel(f)

	m = press(t, m, key("r"))
	assert.Equal(t, "refresh failed: write: broken pipe", m.lastError)
}

func TestQuitKey(t *testing.T) {
	_, cmd := testModel(newFakeActions()).Update(key("q"))
	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())
}

func TestEventsUpdateSharingState(t *testing.T) {
	m := withDevices(testModel(newFakeActions()))

	m.apply(&protocol.SharingApproved{DeviceID: "device-a", ScreenID: "screen-1"})
	assert.Equal(t, "screen-1", m.sharing["device-a"])
	assert.Contains(t, m.View(), "sharing → screen-1")

	m.apply(&protocol.SharingStopped{DeviceID: "device-a"})
	assert.Empty(t, m.sharing)

	m.apply(&protocol.SharingApproved{DeviceID: "device-a", ScreenID: "screen-1"})
	m.apply(&protocol.DeviceStatus{DeviceID: "device-a", Status: protocol.StatusOffline})
	assert.Empty(t, m.sharing)
	assert.Equal(t, protocol.StatusOffline, m.devices[0].Status)

	m.apply(&protocol.DeviceRegistered{Device: protocol.Device{ID: "device-c", Name: "Bar", Status: protocol.StatusOnline}})
	assert.Len(t, m.devices, 3)

	m.apply(&protocol.SharingError{DeviceID: "device-b", Error: "Device offline"})
	assert.Equal(t, "Kiosk: Device offline", m.lastError)
}

func TestEventLogIsBounded(t *testing.T) {
	m := withDevices(testModel(newFakeActions()))
	for i := 0; i < maxLogLines+5; i++ {
		m.apply(&protocol.SharingStopped{DeviceID: "device-a"})
	}
	assert.Len(t, m.lines, maxLogLines)
	assert.True(t, strings.HasPrefix(m.lines[0], "12:00:00 "))
}

func TestEventStreamPump(t *testing.T) {
	f := newFakeActions()
	m := testModel(f)

	f.events <- &protocol.DeviceList{Devices: []protocol.Device{{ID: "device-a", Name: "Till"}}}
	msg := waitForEvent(f)()
	next, cmd := m.Update(msg)
	m = next.(model)
	assert.Len(t, m.devices, 1)
	require.NotNil(t, cmd, "the model must keep listening for events")

	f.err = errors.New("EOF")
	close(f.events)
	next, _ = m.Update(cmd())
	m = next.(model)
	assert.True(t, m.disconnected)
	assert.Equal(t, "disconnected: EOF", m.lastError)
}
