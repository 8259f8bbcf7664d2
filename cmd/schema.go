package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/geodiff-tools/registry-replay/report"
)

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Print the JSON schema of the geodiff report document",
	RunE: func(cmd *cobra.Command, args []string) error {
		_, err := os.Stdout.WriteString(report.JSONSchema)
		return err
	},
}

func init() {
	rootCmd.AddCommand(schemaCmd)
}
