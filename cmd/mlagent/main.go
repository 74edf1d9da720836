// Command mlagent serves the agent REST API and runs agent definitions from
// YAML files.
package main

import (
	"os"
)

var (
	version = "dev"
	commit  = "none"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
