// Command querygraph compiles and executes node-graph query pipelines.
package main

import (
	"os"

	"github.com/tracekit-labs/querygraph/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
