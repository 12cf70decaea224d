package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func checkCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Validate the config file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if _, err := o.loadConfig(); err != nil {
				return err
			}
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "%s: ok\n", o.cfgPath)
			return err
		},
	}
}
