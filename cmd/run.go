package main

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one discovery pass over all active subscriptions",
	Long:  "Processes every eligible subscription once and prints the run summary as JSON. Failed subscriptions are reported in the summary and do not change the exit code.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initDiscovery(ctx, cfg)
		if err != nil {
			return err
		}
		defer env.Close()

		res, err := env.Pass(ctx)
		if err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
}
