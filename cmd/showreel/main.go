// Command showreel is the CLI for the content pipeline daemon.
package main

import (
	"fmt"
	"os"
)

var version = "dev"

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "showreel:", err)
		os.Exit(1)
	}
}
