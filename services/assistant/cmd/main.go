package main

import (
	"fmt"
	"os"

	"github.com/sli-cka/vikunja-voice-assistant/shared/logging"
)

func main() {
	logger := logging.New("assistant")

	if err := newRootCommand(logger).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
