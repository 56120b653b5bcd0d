package main

import (
	"os"

	"github.com/millrun/millrun/cmd/millrun/commands"
)

func main() {
	if err := commands.NewCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
