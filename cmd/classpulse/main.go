// Command classpulse is the classroom engagement monitor CLI.
package main

import (
	"fmt"
	"os"

	"classpulse/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
