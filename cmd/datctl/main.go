// Command datctl works with auto-refractor .dat files from the terminal:
// parse, rewrite, name, list and capture them from the serial line.
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
