package main

import (
	"os"

	"github.com/reverie-ai/reverie/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
