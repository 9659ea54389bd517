package cli

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hmennen90/open-entity-sub000/internal/daemon"
	"github.com/hmennen90/open-entity-sub000/pkg/brain"
)

func init() {
	goalsCmd := &cobra.Command{
		Use:   "goals",
		Short: "List and manage goals",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			status, _ := cmd.Flags().GetString("status")
			return withDaemon(cmd.Context(), func(d *daemon.Daemon) error {
				goals, err := d.Brain.Goals(status)
				if err != nil {
					return err
				}
				lines := make([]string, 0, len(goals))
				for _, g := range goals {
					lines = append(lines, fmt.Sprintf("#%d %s (%d%%, %s)", g.ID, g.Title, g.Progress, g.Priority))
				}
				if len(lines) == 0 {
					lines = append(lines, "no "+status+" goals")
				}
				return output(cmd, goals, strings.Join(lines, "\n"))
			})
		},
	}
	goalsCmd.Flags().String("status", brain.GoalActive, "Goal status: active, completed, abandoned")

	addCmd := &cobra.Command{
		Use:   "add <title>",
		Short: "Create a goal",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			desc, _ := cmd.Flags().GetString("description")
			priority, _ := cmd.Flags().GetString("priority")
			return withDaemon(cmd.Context(), func(d *daemon.Daemon) error {
				g, err := d.Brain.CreateGoal(strings.Join(args, " "), desc, priority)
				if err != nil {
					return err
				}
				return output(cmd, g, fmt.Sprintf("created goal #%d", g.ID))
			})
		},
	}
	addCmd.Flags().StringP("description", "d", "", "Longer description")
	addCmd.Flags().StringP("priority", "p", "medium", "Priority: low, medium, high")

	progressCmd := &cobra.Command{
		Use:   "progress <id> <percent>",
		Short: "Set a goal's progress",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid goal id %q", args[0])
			}
			progress, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("invalid progress %q", args[1])
			}
			return withDaemon(cmd.Context(), func(d *daemon.Daemon) error {
				g, err := d.Entity.UpdateGoal(cmd.Context(), id, progress)
				if err != nil {
					return err
				}
				return output(cmd, g, fmt.Sprintf("#%d %s: %d%% (%s)", g.ID, g.Title, g.Progress, g.Status))
			})
		},
	}

	goalsCmd.AddCommand(addCmd, progressCmd)
	RootCmd.AddCommand(goalsCmd)
}
