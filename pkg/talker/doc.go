// ABOUTME: Talker library package
// ABOUTME: Find other processes of your kind on the local network
// Package talker announces this process on the local network and reports
// every other process announcing the same category.
//
// A Talker runs a discovery worker in the background. Each time a peer
// appears or goes away the worker sends the whole peer table; the owner
// polls for it whenever convenient.
//
// Example:
//
//	err := talker.With(talker.Config{Type: "chat"}, func(t *talker.Talker) error {
//	    for {
//	        if t.Poll(time.Second) {
//	            peers, err := t.Receive()
//	            if err != nil {
//	                return err
//	            }
//	            fmt.Println(peers)
//	        }
//	        doSomethingImportant()
//	    }
//	})
//
// Owners in another process connect to a talkerd daemon with Dial.
package talker
