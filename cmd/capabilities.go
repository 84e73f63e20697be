package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var capabilitiesCmd = &cobra.Command{
	Use:   "capabilities",
	Short: "Show which optional fields this deployment's schema backs",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		eng, pool, err := newEngine(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()

		available := eng.Capabilities(ctx)

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		_, _ = fmt.Fprintln(w, "FIELD\tAVAILABLE\tCANDIDATES")
		_, _ = fmt.Fprintln(w, "-----\t---------\t----------")
		for _, spec := range eng.Fields() {
			state := "no"
			if available[spec.Alias] {
				state = "yes"
			}
			_, _ = fmt.Fprintf(w, "%s\t%s\t%s\n",
				spec.Alias, state, strings.Join(spec.Candidates, ", "))
		}
		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(capabilitiesCmd)
}
