package main

import (
	"os"

	"github.com/rcliao/comic-survey/internal/cli"
)

func main() {
	if err := cli.RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
