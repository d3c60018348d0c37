package main

import (
	"os"

	"github.com/gyaneshwarpardhi/policytrace/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
