// Command chatctl runs one-off maintenance tasks against the mail archive.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
