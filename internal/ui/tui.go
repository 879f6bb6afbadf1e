// ABOUTME: Peer table program
// ABOUTME: Wraps the bubbletea program and feeds it snapshots
package ui

import (
	tea "github.com/charmbracelet/bubbletea"

	"github.com/Talker-Protocol/talker-go/pkg/protocol"
)

// PeerTUI shows the live peer table
type PeerTUI struct {
	program  *tea.Program
	quitChan chan struct{}
}

// NewPeerTUI creates the program without starting it
func NewPeerTUI(header Header, opts ...tea.ProgramOption) *PeerTUI {
	t := &PeerTUI{quitChan: make(chan struct{}, 1)}
	if len(opts) == 0 {
		opts = []tea.ProgramOption{tea.WithAltScreen()}
	}
	t.program = tea.NewProgram(NewModel(header, t.quitChan), opts...)
	return t
}

// Run blocks until the user quits or End is called
func (t *PeerTUI) Run() error {
	_, err := t.program.Run()
	return err
}

// Update shows a new snapshot
func (t *PeerTUI) Update(snap protocol.Snapshot) {
	t.program.Send(PeersMsg(snap))
}

// End reports that the talker stopped and closes the program
func (t *PeerTUI) End(err error) {
	t.program.Send(EndedMsg{Err: err})
}

// QuitChan is signalled when the user asks to quit
func (t *PeerTUI) QuitChan() <-chan struct{} {
	return t.quitChan
}
