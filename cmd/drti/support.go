package main

import (
	"github.com/spf13/cobra"

	"drti/internal/support"
)

var supportCmd = &cobra.Command{
	Use:   "support",
	Short: "Print the support fragment linked into decorated modules",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		_, err := cmd.OutOrStdout().Write(support.Source())
		return err
	},
}
