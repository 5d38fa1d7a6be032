// Package main is the pilot runtime daemon: a pool of stealth browser
// sessions plus the engine that executes automation plans against them.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
