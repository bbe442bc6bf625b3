package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/zulandar/switchboard/internal/models"
)

func newRunsCmd() *cobra.Command {
	var (
		configPath string
		agentName  string
		limit      int
	)

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recent agent runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRuns(cmd, configPath, agentName, limit)
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().StringVar(&agentName, "agent", "", "only show runs of this agent")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum runs to show")
	return cmd
}

func runRuns(cmd *cobra.Command, configPath, agentName string, limit int) error {
	a, err := openApp(cmd, configPath, nil)
	if err != nil {
		return err
	}
	defer closeApp(a)

	var runs []models.AgentRun
	if agentName != "" {
		runs, err = a.Scheduler.ListRuns(cmd.Context(), agentName, limit)
	} else {
		runs, err = a.Scheduler.ListRecentRuns(cmd.Context(), limit)
	}
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if len(runs) == 0 {
		fmt.Fprintln(out, "No runs found.")
		return nil
	}
	return printRuns(out, runs)
}

func printRuns(out io.Writer, runs []models.AgentRun) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tAGENT\tTRIGGER\tSTATUS\tSTARTED\tITEMS\tSUMMARY")
	for _, r := range runs {
		summary := r.Summary
		if r.Status == models.RunFailed {
			summary = r.ErrorMessage
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%d\t%s\n",
			r.ID, r.AgentName, r.Trigger, r.Status, formatTime(r.StartedAt), r.ItemsProcessed, truncate(summary, 60))
	}
	return w.Flush()
}
