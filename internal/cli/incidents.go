package cli

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

func incidentsCmd(o *options) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "incidents",
		Short: "List recorded incidents, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := o.openStore()
			if err != nil {
				return err
			}
			defer st.Close()
			list, err := st.ListIncidents(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if o.json() {
				return printJSON(cmd.OutOrStdout(), list)
			}
			if len(list) == 0 {
				_, err = fmt.Fprintln(cmd.OutOrStdout(), "no incidents")
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "TIME\tSEVERITY\tSOURCE\tAPP\tPRESENTED\tFALLBACK")
			for _, in := range list {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%t\t%t\n",
					in.At.Local().Format(time.DateTime), in.Severity, in.Source, in.App, in.Presented, in.Fallback)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum incidents to show")
	return cmd
}
