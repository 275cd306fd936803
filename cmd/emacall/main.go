// Command emacall runs the streaming voice reply server and its terminal
// client.
//
// Usage:
//
//	emacall serve   [--config path]
//	emacall console [--url ws://localhost:3000/ws]
//	emacall config  [--config path]
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
