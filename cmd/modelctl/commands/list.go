package commands

import (
	"fmt"
	"os"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List packaged models",
		RunE: func(cmd *cobra.Command, args []string) error {
			var result struct {
				Models []string `json:"models"`
			}
			if err := getJSON("/models", &result); err != nil {
				return err
			}

			table := tablewriter.NewTable(os.Stdout)
			table.Header("MODEL")
			for _, m := range result.Models {
				table.Append([]string{m})
			}
			if len(result.Models) == 0 {
				fmt.Println("no models packaged yet")
				return nil
			}
			return table.Render()
		},
	}
}
