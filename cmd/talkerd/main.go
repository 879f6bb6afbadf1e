// ABOUTME: Entry point for the talker daemon
// ABOUTME: Hosts one discovery worker and serves its control channel over WebSocket
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
