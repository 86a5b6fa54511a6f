package main

import (
	"fmt"
	"os"

	"github.com/grant-traynor/bp6-sub001/cmd/bp6/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
