package commands

import (
	"fmt"
	"os"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

type instanceSummary struct {
	Type string `json:"type"`
	ID   string `json:"id"`
	Port int    `json:"port"`
	URL  string `json:"url"`
}

type statusReport struct {
	Model     string            `json:"model"`
	Deploying bool              `json:"deploying"`
	Instances []instanceSummary `json:"instances"`
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <model>",
		Short: "Show a model's deployment status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var report statusReport
			if err := getJSON("/model/"+args[0]+"/status", &report); err != nil {
				return err
			}

			fmt.Printf("model: %s  deploying: %v\n", report.Model, report.Deploying)

			table := tablewriter.NewTable(os.Stdout)
			table.Header("TYPE", "ID", "PORT", "URL")
			for _, inst := range report.Instances {
				table.Append([]string{inst.Type, inst.ID, fmt.Sprintf("%d", inst.Port), inst.URL})
			}
			return table.Render()
		},
	}
}
