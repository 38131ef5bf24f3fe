// Package main is the entry point for the convo CLI.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "convo:", err)
		os.Exit(1)
	}
}
