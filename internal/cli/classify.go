package cli

import (
	"fmt"
	"io"
	"strings"

	"empathai/internal/app"

	"github.com/spf13/cobra"
)

func classifyCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "classify [text...]",
		Short: "Print the severity tier of a message",
		Long:  "Classifies the arguments, or stdin when none are given, with the configured keyword lists.",
		RunE: func(cmd *cobra.Command, args []string) error {
			text := strings.Join(args, " ")
			if len(args) == 0 {
				b, err := io.ReadAll(io.LimitReader(cmd.InOrStdin(), 1<<20))
				if err != nil {
					return err
				}
				text = string(b)
			}
			cfg, err := o.loadConfigOrDefault()
			if err != nil {
				return err
			}
			c, err := app.Classifier(cfg)
			if err != nil {
				return err
			}
			res := c.Analyze(text)
			if o.json() {
				return printJSON(cmd.OutOrStdout(), res)
			}
			if len(res.Hits) == 0 {
				_, err = fmt.Fprintln(cmd.OutOrStdout(), res.Tier)
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s (%s)\n", res.Tier, strings.Join(res.Hits, ", "))
			return err
		},
	}
}
