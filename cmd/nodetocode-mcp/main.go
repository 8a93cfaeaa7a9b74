package main

import (
	"fmt"
	"os"

	"github.com/flashpoint493/NodeToCode-sub001/cmd/nodetocode-mcp/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
