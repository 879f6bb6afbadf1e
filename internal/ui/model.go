// ABOUTME: Bubbletea model for the peer table
// ABOUTME: Holds the latest snapshot and renders it with lipgloss
package ui

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/Talker-Protocol/talker-go/internal/descriptor"
	"github.com/Talker-Protocol/talker-go/internal/identity"
	"github.com/Talker-Protocol/talker-go/pkg/protocol"
)

// Header describes this talker at the top of the view
type Header struct {
	Instance string
	Type     string
	Category string
	Port     uint16
}

// PeersMsg carries a new snapshot into the model
type PeersMsg protocol.Snapshot

// EndedMsg reports that the talker stopped on its own
type EndedMsg struct {
	Err error
}

type tickMsg time.Time

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205")).
			MarginBottom(1)
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("86"))
	valueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("250"))
	peerHeaderStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("220"))
	errorStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("196"))
	helpStyle = lipgloss.NewStyle().Faint(true)
)

// Model is the peer table state
type Model struct {
	header    Header
	peers     protocol.Snapshot
	updates   int
	lastSeen  time.Time
	startTime time.Time
	showText  bool
	quitting  bool
	ended     bool
	err       error
	quitChan  chan struct{}
}

// NewModel creates a model; quitChan is signalled when the user presses q
func NewModel(header Header, quitChan chan struct{}) Model {
	return Model{
		header:    header,
		peers:     protocol.Snapshot{},
		startTime: time.Now(),
		quitChan:  quitChan,
	}
}

func (m Model) Init() tea.Cmd {
	return tickEvery()
}

func tickEvery() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tickMsg:
		return m, tickEvery()

	case PeersMsg:
		m.peers = protocol.Snapshot(msg)
		m.updates++
		m.lastSeen = time.Now()
		return m, nil

	case EndedMsg:
		m.ended = true
		m.err = msg.Err
		return m, tea.Quit
	}

	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		m.quitting = true
		select {
		case m.quitChan <- struct{}{}:
		default:
		}
		return m, tea.Quit
	case "t":
		m.showText = !m.showText
	}
	return m, nil
}

func (m Model) View() string {
	if m.quitting {
		return "Withdrawing announcement...\n"
	}

	var b strings.Builder

	b.WriteString(titleStyle.Render("Talker"))
	b.WriteString("\n\n")

	writeField(&b, "Instance: ", m.header.Instance)
	writeField(&b, "Type: ", m.header.Type)
	writeField(&b, "Category: ", m.header.Category)
	writeField(&b, "Port: ", fmt.Sprintf("%d", m.header.Port))
	writeField(&b, "Uptime: ", time.Since(m.startTime).Round(time.Second).String())
	b.WriteString("\n")

	b.WriteString(peerHeaderStyle.Render(fmt.Sprintf("Peers (%d)", len(m.peers))))
	b.WriteString("\n\n")
	b.WriteString(m.renderPeers())

	if m.ended {
		b.WriteString("\n")
		if m.err != nil {
			b.WriteString(errorStyle.Render("Talker stopped: " + m.err.Error()))
		} else {
			b.WriteString(valueStyle.Render("Talker stopped"))
		}
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(helpStyle.Render("t: toggle TXT payload  q: quit"))
	return b.String()
}

func writeField(b *strings.Builder, name, value string) {
	b.WriteString(headerStyle.Render(name))
	b.WriteString(valueStyle.Render(value))
	b.WriteString("\n")
}

func (m Model) renderPeers() string {
	if len(m.peers) == 0 {
		return valueStyle.Render("  No peers yet") + "\n"
	}

	var b strings.Builder
	for _, id := range m.peers.IDs() {
		p := m.peers[id]
		capType, ok := descriptor.Decode(p.Payload)
		if !ok {
			capType = "?"
		}
		fmt.Fprintf(&b, "  %-12s %-32s", identity.FormatID(id), truncate(p.Addr(), 32))
		b.WriteString(valueStyle.Render(capType))
		if m.showText {
			b.WriteString(helpStyle.Render(fmt.Sprintf("  %q", p.Payload)))
		}
		b.WriteString("\n")
	}
	return b.String()
}

func truncate(s string, length int) string {
	if len(s) <= length {
		return s
	}
	return s[:length-3] + "..."
}
