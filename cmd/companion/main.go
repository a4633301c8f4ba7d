// Command companion runs the conversational assistant service and its CLI.
package main

import (
	"fmt"
	"os"

	"github.com/harun/companion/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
