package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hmennen90/open-entity-sub000/internal/daemon"
)

func init() {
	energyCmd := &cobra.Command{
		Use:   "energy",
		Short: "Inspect or change the entity's energy",
	}

	energyCmd.AddCommand(
		&cobra.Command{
			Use:   "show",
			Short: "Show the energy level and sleep state",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withDaemon(cmd.Context(), func(d *daemon.Daemon) error {
					s, err := d.Entity.Energy().Status(cmd.Context())
					if err != nil {
						return err
					}
					text := fmt.Sprintf("%.0f%% (%s), awake %.1fh", s.Level*100, s.State, s.HoursAwake)
					if s.Asleep && s.SleepStart != nil {
						text = fmt.Sprintf("%.0f%% (%s), asleep since %s", s.Level*100, s.State, s.SleepStart.Format("15:04"))
					} else if s.ShouldSleep {
						text += ", should sleep"
					}
					return output(cmd, s, text)
				})
			},
		},
		&cobra.Command{
			Use:   "sleep",
			Short: "Put the entity to sleep",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withDaemon(cmd.Context(), func(d *daemon.Daemon) error {
					if err := d.Entity.Energy().StartSleep(cmd.Context()); err != nil {
						return err
					}
					return output(cmd, map[string]bool{"asleep": true}, "asleep")
				})
			},
		},
		&cobra.Command{
			Use:   "wake",
			Short: "Wake the entity",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withDaemon(cmd.Context(), func(d *daemon.Daemon) error {
					level, err := d.Entity.Energy().Wake(cmd.Context())
					if err != nil {
						return err
					}
					return output(cmd, map[string]float64{"level": level}, fmt.Sprintf("awake at %.0f%%", level*100))
				})
			},
		},
	)

	RootCmd.AddCommand(energyCmd)
}
