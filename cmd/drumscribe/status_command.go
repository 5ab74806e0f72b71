package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"drumscribe/internal/ledger"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show daemon queue and job statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			status, err := client.Status(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			uptime := (time.Duration(status.UptimeSeconds) * time.Second).String()
			fmt.Fprintf(out, "Daemon up for %s at %s\n", uptime, client.baseURL())
			fmt.Fprintf(out, "Queue: %d waiting, %d in flight\n\n",
				status.Queue.Queued, status.Queue.Leased)

			rows := make([][]string, 0, len(status.Jobs.ByStatus)+1)
			for _, s := range ledger.AllStatuses() {
				count, ok := status.Jobs.ByStatus[string(s)]
				if !ok {
					continue
				}
				rows = append(rows, []string{string(s), strconv.Itoa(count)})
			}
			rows = append(rows, []string{"total", strconv.Itoa(status.Jobs.Total)})
			fmt.Fprintln(out, renderTable(
				[]string{"STATUS", "JOBS"},
				rows,
				[]columnAlignment{alignLeft, alignRight},
			))
			return nil
		},
	}
}
