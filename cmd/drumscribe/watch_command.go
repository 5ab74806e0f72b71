package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"drumscribe/internal/ledger"
	"drumscribe/internal/progressclient"
)

func newWatchCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "watch <job-id>",
		Short: "Follow a job's progress until it finishes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			return watchJob(cmd, client.baseURL(), args[0])
		},
	}
}

func watchJob(cmd *cobra.Command, baseURL, jobID string) error {
	client, err := progressclient.New(jobID, progressclient.Options{BaseURL: baseURL})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	interactive := isInteractive(out)

	done := make(chan error, 1)
	go func() {
		done <- client.Run(cmd.Context())
	}()

	var last progressclient.Update
	for update := range client.Updates() {
		last = update
		renderUpdate(out, update, interactive)
	}
	if interactive {
		fmt.Fprintln(out)
	}
	if err := <-done; err != nil {
		return err
	}

	if last.Status == ledger.StatusError {
		return fmt.Errorf("job failed: %s", last.Message)
	}
	if last.Status == ledger.StatusCompleted {
		fmt.Fprintf(out, "Job complete. Fetch the result with `drumscribe result %s`\n", jobID)
	}
	return nil
}

// renderUpdate rewrites a single progress line on a terminal and appends
// plain lines otherwise, so piped output stays readable.
func renderUpdate(out io.Writer, update progressclient.Update, interactive bool) {
	label := string(update.Status)
	if update.Stage != "" && update.Stage != ledger.StageCompleted {
		label = string(update.Stage)
	}
	line := fmt.Sprintf("%3d%%  %-20s %s", update.Progress, label, update.Message)
	if interactive {
		fmt.Fprintf(out, "\r\033[K%s", strings.TrimRight(line, " "))
		return
	}
	fmt.Fprintln(out, strings.TrimRight(line, " "))
}

func isInteractive(writer io.Writer) bool {
	file, ok := writer.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
