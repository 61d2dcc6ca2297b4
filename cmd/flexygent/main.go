package main

import (
	"os"

	"github.com/flexygent/flexygent/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
