package main

import (
	"os"

	"github.com/psantana5/rescue/cmd/rescue/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
