package main

import (
	"os"

	"github.com/taskyield/taskyield/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
