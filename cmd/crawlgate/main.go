package main

import (
	"os"

	"github.com/solatis/crawlgate/cmd/crawlgate/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
