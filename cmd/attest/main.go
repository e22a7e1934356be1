// Package main provides the entry point for the attest integrity checker CLI.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/jamesainslie/attest/pkg/attest/logging"
)

func main() {
	err := Execute()
	_ = logging.Close()
	if err == nil {
		return
	}
	// An unclean pass already printed its report; anything else gets an
	// error line.
	if !errors.Is(err, errAttention) {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	os.Exit(1)
}
