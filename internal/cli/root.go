// Package cli implements the empathd command line.
//
// run        - start the daemon (default)
// classify   - print the severity tier of a message
// prefs      - read and write stored preferences
// incidents  - list recorded incidents
// check      - validate the config file
package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

type options struct {
	cfgPath string
	format  string
}

// NewRootCmd builds the command tree. Running it without a subcommand
// starts the daemon.
func NewRootCmd() *cobra.Command {
	o := &options{}
	root := &cobra.Command{
		Use:           "empathd",
		Short:         "Notification-triggered support daemon",
		Long:          "empathd watches desktop notifications for harmful content and answers with a supportive notification that opens the companion chat.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDaemon(cmd.Context(), o)
		},
	}
	root.PersistentFlags().StringVarP(&o.cfgPath, "config", "c", "./config.json", "path to config json or yaml")
	root.PersistentFlags().StringVarP(&o.format, "format", "f", "text", "output format: text or json")

	root.AddCommand(
		runCmd(o),
		classifyCmd(o),
		prefsCmd(o),
		incidentsCmd(o),
		checkCmd(o),
	)
	return root
}

func (o *options) json() bool { return o.format == "json" }

func printJSON(w io.Writer, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(b))
	return err
}
