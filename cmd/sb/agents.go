package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

func newAgentsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "agents",
		Short: "Inspect and run assistant agents",
	}

	cmd.AddCommand(newAgentsListCmd())
	cmd.AddCommand(newAgentsStatusCmd())
	cmd.AddCommand(newAgentsTriggerCmd())
	return cmd
}

func newAgentsListCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List registered agents with their schedules and last runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAgentsList(cmd, configPath)
		},
	}

	addConfigFlag(cmd, &configPath)
	return cmd
}

func runAgentsList(cmd *cobra.Command, configPath string) error {
	a, err := openApp(cmd, configPath, nil)
	if err != nil {
		return err
	}
	defer closeApp(a)

	out := cmd.OutOrStdout()
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tSCHEDULE\tLAST RUN\tSTATUS\tNEXT RUN")
	for _, d := range a.Scheduler.Agents() {
		st, err := a.Scheduler.Status(cmd.Context(), d.Name)
		if err != nil {
			return err
		}
		last, status := "-", "-"
		if st.LastRun != nil {
			last = formatTime(st.LastRun.StartedAt)
			status = st.LastRun.Status
		}
		next := "-"
		if st.NextRun != nil {
			next = formatTime(*st.NextRun)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", d.Name, orDash(d.Schedule), last, status, next)
	}
	return w.Flush()
}

func newAgentsStatusCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "status <name>",
		Short: "Show one agent's schedule and recent runs",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAgentsStatus(cmd, configPath, args[0])
		},
	}

	addConfigFlag(cmd, &configPath)
	return cmd
}

func runAgentsStatus(cmd *cobra.Command, configPath, name string) error {
	a, err := openApp(cmd, configPath, nil)
	if err != nil {
		return err
	}
	defer closeApp(a)

	st, err := a.Scheduler.Status(cmd.Context(), name)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Agent:       %s\n", st.Name)
	fmt.Fprintf(out, "Description: %s\n", st.Description)
	fmt.Fprintf(out, "Schedule:    %s\n", orDash(st.Schedule))
	if st.NextRun != nil {
		fmt.Fprintf(out, "Next run:    %s\n", formatTime(*st.NextRun))
	}

	runs, err := a.Scheduler.ListRuns(cmd.Context(), name, 5)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Fprintln(out, "\nNo runs yet.")
		return nil
	}
	fmt.Fprintln(out, "\nRecent runs:")
	return printRuns(out, runs)
}

func newAgentsTriggerCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "trigger <name>",
		Short: "Run an agent now and wait for it to finish",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAgentsTrigger(cmd, configPath, args[0])
		},
	}

	addConfigFlag(cmd, &configPath)
	return cmd
}

func runAgentsTrigger(cmd *cobra.Command, configPath, name string) error {
	a, err := openApp(cmd, configPath, nil)
	if err != nil {
		return err
	}
	defer closeApp(a)

	run, err := a.Scheduler.Trigger(cmd.Context(), name)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Run %d of %s %s", run.ID, run.AgentName, run.Status)
	if run.CompletedAt != nil {
		fmt.Fprintf(out, " in %s", run.CompletedAt.Sub(run.StartedAt).Round(time.Millisecond))
	}
	fmt.Fprintln(out)
	if run.Summary != "" {
		fmt.Fprintf(out, "  %s\n", run.Summary)
	}
	if run.ErrorMessage != "" {
		return fmt.Errorf("%s failed: %s", name, run.ErrorMessage)
	}
	return nil
}
