// Package commands implements the modelctl operator CLI: a thin client
// over the control plane's HTTP Surface JSON endpoints (spec.md §4.6),
// grounded on cmd/dmrlet/commands/root.go's cobra root command setup
// (SPEC_FULL §4.7).
package commands

import (
	"net/http"
	"time"

	"github.com/spf13/cobra"
)

var (
	serverAddr string
	httpClient = &http.Client{Timeout: 10 * time.Second}
)

// Root returns the modelctl root command.
func Root() *cobra.Command {
	root := &cobra.Command{
		Use:   "modelctl",
		Short: "Inspect and control models served by the controlplane",
	}
	root.PersistentFlags().StringVar(&serverAddr, "server", "http://localhost:5000", "control plane base URL")

	root.AddCommand(
		newListCmd(),
		newStatusCmd(),
		newInstancesCmd(),
		newStopCmd(),
		newUploadCmd(),
	)
	return root
}
