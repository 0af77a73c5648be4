// Command modelctl is the control plane's operator CLI.
package main

import (
	"fmt"
	"os"

	"github.com/llmops-platform/controlplane/cmd/modelctl/commands"
)

func main() {
	if err := commands.Root().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
