package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dreamware/presence/internal/render"
)

func newStatusCmd(a *app) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show who is observing and the latest telemetry",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			view, err := a.client.Status(cmd.Context())
			if err != nil {
				return fmt.Errorf("fetch status: %w", err)
			}
			return render.Write(a.out, output, view, render.Options{
				Now:        a.clock.Now(),
				StaleAfter: a.cfg.HeartbeatTimeout,
			})
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", render.FormatTable, "output format: "+strings.Join(render.Formats, ", "))
	return cmd
}
