package commands

import (
	"fmt"
	"os"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

type instanceView struct {
	ID      string `json:"id"`
	Kind    string `json:"kind"`
	Port    int    `json:"port"`
	Status  string `json:"status"`
	URL     string `json:"url"`
	LogTail string `json:"log_tail"`
}

func newInstancesCmd() *cobra.Command {
	var showLogs bool
	cmd := &cobra.Command{
		Use:   "instances <model>",
		Short: "List a model's instances",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var result struct {
				Model     string         `json:"model"`
				Instances []instanceView `json:"instances"`
			}
			if err := getJSON("/model/"+args[0]+"/instances", &result); err != nil {
				return err
			}

			table := tablewriter.NewTable(os.Stdout)
			table.Header("KIND", "ID", "PORT", "STATUS", "URL")
			for _, inst := range result.Instances {
				table.Append([]string{inst.Kind, inst.ID, fmt.Sprintf("%d", inst.Port), inst.Status, inst.URL})
			}
			if err := table.Render(); err != nil {
				return err
			}

			if showLogs {
				for _, inst := range result.Instances {
					fmt.Printf("\n--- %s (%s) ---\n%s\n", inst.ID, inst.Kind, inst.LogTail)
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&showLogs, "logs", false, "print each instance's log tail")
	return cmd
}
