package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/melih/lighthouse-ci/internal/core/lifecycle"
)

func (c *cli) containersCommand() *cobra.Command {
	var sweep bool

	cmd := &cobra.Command{
		Use:   "containers",
		Short: "List build containers managed by lighthouse",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			eng, err := newEngine(c.cfg, c.logger)
			if err != nil {
				return err
			}
			defer eng.close(ctx)

			if sweep {
				removed, err := eng.lifecycle.Sweep(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "removed %d containers\n", removed)
				return nil
			}

			containers, err := eng.lifecycle.Containers(ctx)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "CONTAINER ID\tBUILD\tIMAGE\tSTATE")
			for _, ctr := range containers {
				id := ctr.ID
				if len(id) > 12 {
					id = id[:12]
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", id, ctr.Labels[lifecycle.BuildLabel], ctr.Image, ctr.State)
			}
			if err := w.Flush(); err != nil {
				return err
			}

			active, err := eng.lifecycle.ActiveCount(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d active\n", active)
			return nil
		},
	}

	cmd.Flags().BoolVar(&sweep, "sweep", false, "Stop and remove every managed container")
	return cmd
}
