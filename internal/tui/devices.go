package tui

import (
	"fmt"
	"strings"

	"seektune/internal/audio"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
)

// hostDevices is swapped out in tests.
var hostDevices = audio.HostDevices

type devicesMsg struct {
	devices []audio.Device
}

type errMsg struct {
	err error
}

// fetchDevices gets the available audio devices
func fetchDevices() tea.Msg {
	devices, err := hostDevices()
	if err != nil {
		return errMsg{err}
	}
	return devicesMsg{devices}
}

// deviceList is the screen listing capture devices, so the user can find
// the ID to put in capture.input_device.
type deviceList struct {
	devices       []audio.Device
	selectedIndex int
	current       int // configured input device, -1 for default
	viewport      viewport.Model
	ready         bool
	err           error
}

func newDeviceList(current int) deviceList {
	return deviceList{current: current}
}

func (m deviceList) resize(width, height int) deviceList {
	if !m.ready {
		m.viewport = viewport.New(width, height)
		m.ready = true
	} else {
		m.viewport.Width = width
		m.viewport.Height = height
	}
	m.viewport.SetContent(m.render())
	return m
}

func (m deviceList) update(msg tea.Msg) (deviceList, tea.Cmd) {
	switch msg := msg.(type) {
	case devicesMsg:
		m.devices = msg.devices
		m.err = nil
		m.selectedIndex = 0
		m.viewport.SetContent(m.render())
		return m, nil

	case errMsg:
		m.err = msg.err
		return m, nil

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, keys.Up):
			if m.selectedIndex > 0 {
				m.selectedIndex--
				m.viewport.SetContent(m.render())
			}
			return m, nil
		case key.Matches(msg, keys.Down):
			if m.selectedIndex < len(m.devices)-1 {
				m.selectedIndex++
				m.viewport.SetContent(m.render())
			}
			return m, nil
		}
	}

	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	return m, cmd
}

func (m deviceList) view() string {
	if m.err != nil {
		return fmt.Sprintf("Error: %v", m.err)
	}
	if !m.ready {
		return m.render()
	}
	return m.viewport.View()
}

// render formats the device list
func (m deviceList) render() string {
	if m.devices == nil {
		return "Loading devices..."
	}
	if len(m.devices) == 0 {
		return "No audio devices found."
	}

	var sb strings.Builder
	for i, device := range m.devices {
		marker := " "
		if device.ID == m.current {
			marker = "*"
		}
		deviceInfo := fmt.Sprintf("%s[%d] %s (%s)\n", marker, device.ID, device.Name, device.Type())
		deviceInfo += fmt.Sprintf("    Input channels: %d, Output channels: %d\n",
			device.MaxInputChannels, device.MaxOutputChannels)
		deviceInfo += fmt.Sprintf("    Default sample rate: %.0f Hz\n", device.DefaultSampleRate)

		if i == m.selectedIndex {
			deviceInfo = highlightStyle.Render(deviceInfo)
		}

		sb.WriteString(deviceInfo)
		sb.WriteString("\n")
	}
	return sb.String()
}
