// The calcstore command-line client.
package main

import (
	"fmt"
	"os"

	"github.com/chemcloud/calcstore/internal/interfaces/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "calcstore: %v\n", err)
		os.Exit(1)
	}
}
