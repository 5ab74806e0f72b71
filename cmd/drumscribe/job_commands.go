package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"drumscribe/internal/ledger"
)

func newSubmitCommand(ctx *commandContext) *cobra.Command {
	var follow bool

	cmd := &cobra.Command{
		Use:   "submit <audio-file>",
		Short: "Upload an audio file for transcription",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			job, err := client.Submit(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Submitted %s as job %s\n", job.Filename, job.ID)
			if follow {
				return watchJob(cmd, client.baseURL(), job.ID)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Follow progress with `drumscribe watch %s`\n", job.ID)
			return nil
		},
	}

	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Watch progress after submitting")
	return cmd
}

func newJobsCommand(ctx *commandContext) *cobra.Command {
	var statusFilter string

	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "List transcription jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if statusFilter != "" {
				if _, ok := ledger.ParseStatus(statusFilter); !ok {
					return fmt.Errorf("unknown status %q", statusFilter)
				}
			}
			client, err := ctx.client()
			if err != nil {
				return err
			}
			jobs, err := client.ListJobs(cmd.Context(), statusFilter)
			if err != nil {
				return err
			}
			if len(jobs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No jobs found.")
				return nil
			}

			rows := make([][]string, 0, len(jobs))
			for _, job := range jobs {
				rows = append(rows, []string{
					job.ID,
					job.Filename,
					job.Status,
					job.Stage,
					strconv.Itoa(job.Progress) + "%",
					job.CreatedAt,
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"ID", "FILE", "STATUS", "STAGE", "PROGRESS", "CREATED"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignLeft},
			))
			return nil
		},
	}

	cmd.Flags().StringVar(&statusFilter, "status", "", "Filter jobs by status")
	return cmd
}

func newShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <job-id>",
		Short: "Show details for one job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			job, err := client.GetJob(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Job:       %s\n", job.ID)
			fmt.Fprintf(out, "File:      %s (%d bytes)\n", job.Filename, job.SizeBytes)
			fmt.Fprintf(out, "Status:    %s\n", job.Status)
			if job.Stage != "" {
				fmt.Fprintf(out, "Stage:     %s\n", job.Stage)
			}
			fmt.Fprintf(out, "Progress:  %d%%\n", job.Progress)
			if job.Message != "" {
				fmt.Fprintf(out, "Message:   %s\n", job.Message)
			}
			if job.ErrorMessage != "" {
				fmt.Fprintf(out, "Error:     %s\n", job.ErrorMessage)
			}
			fmt.Fprintf(out, "Created:   %s\n", job.CreatedAt)
			if job.StartedAt != nil {
				fmt.Fprintf(out, "Started:   %s\n", *job.StartedAt)
			}
			if job.CompletedAt != nil {
				fmt.Fprintf(out, "Completed: %s\n", *job.CompletedAt)
			}
			return nil
		},
	}
}

func newResultCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "result <job-id>",
		Short: "Show the transcription result and download links",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			res, err := client.Result(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Job:            %s\n", res.ID)
			fmt.Fprintf(out, "Tempo:          %d BPM\n", res.Result.Tempo)
			fmt.Fprintf(out, "Time signature: %s\n", res.Result.TimeSignature)
			fmt.Fprintf(out, "Duration:       %.1fs\n", res.Result.DurationSeconds)
			fmt.Fprintf(out, "Accuracy:       %.0f%%\n", res.Result.AccuracyScore*100)
			if len(res.Downloads) > 0 {
				fmt.Fprintf(out, "\nDownloads (valid for %ds):\n", res.ExpiresIn)
				base := client.baseURL()
				for format, link := range res.Downloads {
					if strings.HasPrefix(link, "/") {
						link = base + link
					}
					fmt.Fprintf(out, "  %-9s %s\n", format+":", link)
				}
			}
			return nil
		},
	}
}

func newRemoveCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <job-id>",
		Short: "Delete a job and its stored artifacts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := strings.TrimSpace(args[0])
			if id == "" {
				return errors.New("job id is required")
			}
			client, err := ctx.client()
			if err != nil {
				return err
			}
			if err := client.Remove(cmd.Context(), id); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed job %s\n", id)
			return nil
		},
	}
}
