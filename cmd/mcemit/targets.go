package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"mcemit/internal/asminfo"
	"mcemit/internal/target"
)

var targetsCmd = &cobra.Command{
	Use:   "targets",
	Short: "List registered target patterns",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		res := target.NewResolver(nil, asminfo.DefaultConfig())
		for _, p := range res.Targets() {
			if _, err := fmt.Fprintln(cmd.OutOrStdout(), p); err != nil {
				return err
			}
		}
		return nil
	},
}
