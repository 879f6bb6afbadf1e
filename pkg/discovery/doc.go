// ABOUTME: Service discovery substrate package
// ABOUTME: Announce, browse, and resolve talkers on the local network
// Package discovery provides the service discovery substrate a talker drives.
//
// Every backend reports results as events on channels so a single loop can
// wait on registration, browsing, and resolution together. Three backends are
// available: "mdns" (hashicorp/mdns), "zeroconf" (grandcat/zeroconf), and
// "memory", an in-process network for tests and simulations.
//
// Example:
//
//	sub, err := discovery.New("mdns", discovery.Options{})
//	browser, err := sub.Browse(discovery.DefaultCategory)
//	for ev := range browser.Events() {
//	    fmt.Printf("%s added=%v\n", ev.Instance, ev.Added)
//	}
package discovery
