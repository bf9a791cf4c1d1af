package main

import (
	"os"

	"github.com/wesm/inboxsort/cmd/inboxsort/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
