package main

import (
	"os"

	"github.com/loqalabs/jarvis/cmd/jarvis-pubsub/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
