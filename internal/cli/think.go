package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hmennen90/open-entity-sub000/internal/daemon"
	"github.com/hmennen90/open-entity-sub000/pkg/channel"
)

func init() {
	thinkCmd := &cobra.Command{
		Use:   "think",
		Short: "Run a single think cycle",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withDaemon(cmd.Context(), func(d *daemon.Daemon) error {
				t, err := d.Entity.Think(cmd.Context())
				if err != nil {
					return err
				}
				text := fmt.Sprintf("[%s %.2f] %s", t.Type, t.Intensity, t.Content)
				if t.Tool != "" {
					text += fmt.Sprintf("\n  %s -> %s", t.Tool, t.ToolResult)
				}
				return output(cmd, t, text)
			})
		},
	}

	chatCmd := &cobra.Command{
		Use:   "chat <message>",
		Short: "Send the entity a message and print its reply",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sender, _ := cmd.Flags().GetString("sender")
			return withDaemon(cmd.Context(), func(d *daemon.Daemon) error {
				msg := channel.NewMessage("cli", sender, "", strings.Join(args, " "))
				reply, err := d.Entity.Chat(cmd.Context(), msg)
				if err != nil {
					return err
				}
				return output(cmd, reply, fmt.Sprintf("%s: %s", d.Entity.Name(), reply.Content))
			})
		},
	}
	chatCmd.Flags().StringP("sender", "s", "cli", "Who is talking")

	contextCmd := &cobra.Command{
		Use:   "context [situation]",
		Short: "Print the layered context the entity would think with",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDaemon(cmd.Context(), func(d *daemon.Daemon) error {
				c, err := d.Entity.Context(cmd.Context(), strings.Join(args, " "))
				if err != nil {
					return err
				}
				return output(cmd, c, fmt.Sprintf("%s\n\n(%d tokens)", c.String(), c.Tokens))
			})
		},
	}

	RootCmd.AddCommand(thinkCmd, chatCmd, contextCmd)
}
