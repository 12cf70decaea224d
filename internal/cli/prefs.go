package cli

import (
	"fmt"

	"empathai/internal/prefs"

	"github.com/spf13/cobra"
)

func prefsCmd(o *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "prefs",
		Short: "Read and write stored preferences",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "Show every known preference",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				st, err := o.openStore()
				if err != nil {
					return err
				}
				defer st.Close()
				p := prefs.New(st)
				out := map[string]string{}
				for _, k := range prefs.Keys() {
					v, ok, err := p.Get(cmd.Context(), k)
					if err != nil {
						return err
					}
					if ok {
						out[k] = v
					}
				}
				if o.json() {
					return printJSON(cmd.OutOrStdout(), out)
				}
				for _, k := range prefs.Keys() {
					v, ok := out[k]
					if !ok {
						v = "(unset)"
					}
					fmt.Fprintf(cmd.OutOrStdout(), "%s=%s\n", k, v)
				}
				return nil
			},
		},
		&cobra.Command{
			Use:   "get <key>",
			Short: "Print one preference",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				if !prefs.Known(args[0]) {
					return fmt.Errorf("unknown preference %q", args[0])
				}
				st, err := o.openStore()
				if err != nil {
					return err
				}
				defer st.Close()
				v, ok, err := prefs.New(st).Get(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("%s is not set", args[0])
				}
				_, err = fmt.Fprintln(cmd.OutOrStdout(), v)
				return err
			},
		},
		&cobra.Command{
			Use:   "set <key> <value>",
			Short: "Store one preference",
			Long:  "Stores a preference. A running daemon picks up notificationsEnabled on its next start.",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				st, err := o.openStore()
				if err != nil {
					return err
				}
				defer st.Close()
				return prefs.New(st).Set(cmd.Context(), args[0], args[1])
			},
		},
	)
	return cmd
}
