// Command shopbot runs the multi-tenant retail chatbot: the HTTP API, the
// handover sweeper and the records-store migrations.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
