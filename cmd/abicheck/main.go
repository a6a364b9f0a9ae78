package main

import (
	"fmt"
	"os"

	"github.com/tuiwidgets/abicheck/cmd/abicheck/cmds"
)

func main() {
	if err := cmds.New().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "abicheck: %v\n", err)
		os.Exit(2)
	}
}
