// ABOUTME: Talker control protocol package
// ABOUTME: Defines peer records, snapshots, and control messages
// Package protocol defines what a discovery worker and its owner exchange.
//
// A worker reports its peer table as a Snapshot after every change and the
// owner asks it to stop with a Quit message. Encode and Decode give both a
// JSON wire form for owners that live in another process.
//
// Example:
//
//	data, err := protocol.Encode(protocol.SnapshotMessage(snap))
//	msg, err := protocol.Decode(data)
//	if msg.Kind == protocol.KindSnapshot {
//	    for _, id := range msg.Snapshot.IDs() {
//	        fmt.Println(msg.Snapshot[id].Addr())
//	    }
//	}
package protocol
