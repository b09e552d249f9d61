// Command qtxcap is a small devtool for exercising the QTX transmit-side
// record layer end to end: it provisions keys, seals and coalesces
// packets, and either sends the resulting datagrams over a UDP socket
// or captures them in memory for inspection.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "qtxcap:", err)
		os.Exit(1)
	}
}
