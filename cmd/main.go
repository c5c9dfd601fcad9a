package main

import (
	"log/slog"
	"os"

	"prompt-coach/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		slog.Error("prompt-coach exited", "error", err)
		os.Exit(1)
	}
}
