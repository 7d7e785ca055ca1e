// The main package for the curatord executable.
package main

import "os"

// main defers all execution to the Cobra CLI.
func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
