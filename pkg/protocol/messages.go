// ABOUTME: Control message definitions
// ABOUTME: A message is either a full snapshot or a quit request
package protocol

// Kind tags a control message
type Kind string

const (
	// KindSnapshot carries the worker's peer table to the owner
	KindSnapshot Kind = "snapshot"
	// KindQuit asks the worker to stop
	KindQuit Kind = "quit"
)

// Message is the only value that crosses the control channel
type Message struct {
	Kind     Kind
	Snapshot Snapshot
}

// QuitMessage builds a quit request
func QuitMessage() Message {
	return Message{Kind: KindQuit}
}

// SnapshotMessage wraps a copy of snap
func SnapshotMessage(snap Snapshot) Message {
	return Message{Kind: KindSnapshot, Snapshot: snap.Clone()}
}
