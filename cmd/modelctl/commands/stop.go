package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop <model> <instance-id>",
		Short: "Stop a running instance",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			model, instanceID := args[0], args[1]
			if err := postForm("/model/"+model+"/stop_instance", map[string]string{
				"instance_id": instanceID,
			}); err != nil {
				return err
			}
			fmt.Printf("stopped %s/%s\n", model, instanceID)
			return nil
		},
	}
}
