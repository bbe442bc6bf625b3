package main

import (
	"fmt"
	"sort"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/zulandar/switchboard/internal/app"
	"github.com/zulandar/switchboard/internal/models"
	"github.com/zulandar/switchboard/internal/recommend"
)

func newRecsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "recs",
		Aliases: []string{"recommendations"},
		Short:   "Review recommendations produced by agents",
	}

	cmd.AddCommand(newRecsListCmd())
	cmd.AddCommand(newRecsShowCmd())
	cmd.AddCommand(newRecsStatsCmd())
	cmd.AddCommand(newRecsTransitionCmd("view", "Mark a recommendation as viewed",
		func(a *app.App, cmd *cobra.Command, id uint) (*models.Recommendation, error) {
			return a.Recommendations.MarkViewed(cmd.Context(), id)
		}))
	cmd.AddCommand(newRecsTransitionCmd("action", "Mark a recommendation as acted upon",
		func(a *app.App, cmd *cobra.Command, id uint) (*models.Recommendation, error) {
			return a.Recommendations.MarkActioned(cmd.Context(), id)
		}))
	cmd.AddCommand(newRecsTransitionCmd("dismiss", "Dismiss a recommendation",
		func(a *app.App, cmd *cobra.Command, id uint) (*models.Recommendation, error) {
			return a.Recommendations.Dismiss(cmd.Context(), id)
		}))
	cmd.AddCommand(newRecsApproveCmd())
	return cmd
}

func newRecsListCmd() *cobra.Command {
	var (
		configPath string
		f          recommend.Filter
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recommendations, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRecsList(cmd, configPath, f)
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().StringVar(&f.Status, "status", "", "filter by status (pending, viewed, actioned, dismissed)")
	cmd.Flags().StringVar(&f.Priority, "priority", "", "filter by priority (urgent, high, normal, low)")
	cmd.Flags().StringVar(&f.AgentName, "agent", "", "filter by producing agent")
	cmd.Flags().IntVarP(&f.Limit, "limit", "n", 20, "maximum recommendations to show")
	return cmd
}

func runRecsList(cmd *cobra.Command, configPath string, f recommend.Filter) error {
	a, err := openApp(cmd, configPath, nil)
	if err != nil {
		return err
	}
	defer closeApp(a)

	recs, err := a.Recommendations.List(cmd.Context(), f)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if len(recs) == 0 {
		fmt.Fprintln(out, "No recommendations found.")
		return nil
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tPRIORITY\tSTATUS\tAGENT\tCREATED\tTITLE")
	for _, r := range recs {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\n",
			r.ID, r.Priority, r.Status, r.AgentName, formatTime(r.CreatedAt), truncate(r.Title, 60))
	}
	return w.Flush()
}

func newRecsShowCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a recommendation in full",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			a, err := openApp(cmd, configPath, nil)
			if err != nil {
				return err
			}
			defer closeApp(a)

			rec, err := a.Recommendations.Get(cmd.Context(), id)
			if err != nil {
				return err
			}
			printRec(cmd, rec)
			return nil
		},
	}

	addConfigFlag(cmd, &configPath)
	return cmd
}

func printRec(cmd *cobra.Command, r *models.Recommendation) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "#%d %s\n", r.ID, r.Title)
	fmt.Fprintf(out, "Priority: %s  Status: %s  Agent: %s  Created: %s\n",
		r.Priority, r.Status, r.AgentName, formatTime(r.CreatedAt))
	if r.Body != "" {
		fmt.Fprintf(out, "\n%s\n", wrap(r.Body, terminalWidth(cmd)))
	}
	meta := recommend.Metadata(r)
	if len(meta) == 0 {
		return
	}
	keys := make([]string, 0, len(meta))
	for k := range meta {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	fmt.Fprintln(out)
	for _, k := range keys {
		fmt.Fprintf(out, "  %s: %v\n", k, meta[k])
	}
}

func newRecsStatsCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Summarize the recommendation queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd, configPath, nil)
			if err != nil {
				return err
			}
			defer closeApp(a)

			st, err := a.Recommendations.Stats(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Total: %d\n", st.Total)
			for _, s := range []string{recommend.StatusPending, recommend.StatusViewed, recommend.StatusActioned, recommend.StatusDismissed} {
				fmt.Fprintf(out, "  %-10s %d\n", s, st.ByStatus[s])
			}
			fmt.Fprintln(out, "Pending by priority:")
			for _, p := range []string{recommend.PriorityUrgent, recommend.PriorityHigh, recommend.PriorityNormal, recommend.PriorityLow} {
				fmt.Fprintf(out, "  %-10s %d\n", p, st.PendingByPriority[p])
			}
			return nil
		},
	}

	addConfigFlag(cmd, &configPath)
	return cmd
}

type recTransition func(a *app.App, cmd *cobra.Command, id uint) (*models.Recommendation, error)

func newRecsTransitionCmd(use, short string, apply recTransition) *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   use + " <id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			a, err := openApp(cmd, configPath, nil)
			if err != nil {
				return err
			}
			defer closeApp(a)

			rec, err := apply(a, cmd, id)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Recommendation %d is now %s\n", rec.ID, rec.Status)
			return nil
		},
	}

	addConfigFlag(cmd, &configPath)
	return cmd
}

func newRecsApproveCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "approve <id>",
		Short: "Approve a knowledge proposal and add it to the knowledge base",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			a, err := openApp(cmd, configPath, nil)
			if err != nil {
				return err
			}
			defer closeApp(a)

			res, err := a.Recommendations.ApproveKnowledge(cmd.Context(), id)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if !res.Applied {
				fmt.Fprintf(out, "Recommendation %d was already %s; nothing applied\n", res.Recommendation.ID, res.Recommendation.Status)
				return nil
			}
			fmt.Fprintf(out, "Added knowledge entry %d (%s) from recommendation %d\n",
				res.Entry.ID, res.Entry.Category, res.Recommendation.ID)
			return nil
		},
	}

	addConfigFlag(cmd, &configPath)
	return cmd
}

func parseID(s string) (uint, error) {
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil || n == 0 {
		return 0, fmt.Errorf("invalid id %q", s)
	}
	return uint(n), nil
}
