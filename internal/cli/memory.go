package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/hmennen90/open-entity-sub000/internal/daemon"
	"github.com/hmennen90/open-entity-sub000/pkg/brain"
)

func init() {
	rememberCmd := &cobra.Command{
		Use:   "remember <content>",
		Short: "Store a memory",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runRemember,
	}
	rememberCmd.Flags().StringP("type", "t", "experience", "Memory type")
	rememberCmd.Flags().Float64P("importance", "i", 0.5, "Importance between 0 and 1")
	rememberCmd.Flags().Float64("valence", 0, "Emotional valence between -1 and 1")
	rememberCmd.Flags().String("about", "", "Related person or thing")

	recallCmd := &cobra.Command{
		Use:   "recall <query>",
		Short: "Search memories",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runRecall,
	}
	recallCmd.Flags().IntP("limit", "l", 10, "Maximum results")

	consolidateCmd := &cobra.Command{
		Use:   "consolidate",
		Short: "Summarize one day (or the week starting that day) into a memory summary",
		Args:  cobra.NoArgs,
		RunE:  runConsolidate,
	}
	consolidateCmd.Flags().String("date", "", "Day to consolidate, YYYY-MM-DD (default: yesterday)")
	consolidateCmd.Flags().Bool("weekly", false, "Consolidate seven days starting at --date")

	archiveCmd := &cobra.Command{
		Use:   "archive",
		Short: "Fold old unimportant memories into weekly summaries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			days, _ := cmd.Flags().GetInt("days")
			return withDaemon(cmd.Context(), func(d *daemon.Daemon) error {
				n, err := d.Consolidator.ArchiveOldMemories(cmd.Context(), days)
				if err != nil {
					return err
				}
				return output(cmd, map[string]int{"archived": n}, fmt.Sprintf("archived %d memories", n))
			})
		},
	}
	archiveCmd.Flags().Int("days", 30, "Archive memories older than this many days")

	decayCmd := &cobra.Command{
		Use:   "decay",
		Short: "Lower the importance of old, rarely recalled memories",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withDaemon(cmd.Context(), func(d *daemon.Daemon) error {
				n, err := d.Brain.Decay()
				if err != nil {
					return err
				}
				return output(cmd, map[string]int{"decayed": n}, fmt.Sprintf("decayed %d memories", n))
			})
		},
	}

	dreamCmd := &cobra.Command{
		Use:   "dream",
		Short: "Run one dream cycle: decay, archive and daily consolidation",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withDaemon(cmd.Context(), func(d *daemon.Daemon) error {
				r := d.Dreamer.DreamOnce(cmd.Context())
				text := fmt.Sprintf("decayed %d, archived %d, consolidated %d memories", r.Decayed, r.Archived, r.DailyMemories)
				if len(r.Errors) > 0 {
					text += "\nerrors:\n  " + strings.Join(r.Errors, "\n  ")
				}
				return output(cmd, r, text)
			})
		},
	}

	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Show brain statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withDaemon(cmd.Context(), func(d *daemon.Daemon) error {
				s := d.Brain.Stats()
				text := fmt.Sprintf("memories: %d (consolidated %d, embedded %d)\nsummaries: %d\nthoughts: %d\ngoals: %d",
					s.Memories, s.Consolidated, s.Embedded, s.Summaries, s.Thoughts, s.Goals)
				return output(cmd, s, text)
			})
		},
	}

	RootCmd.AddCommand(rememberCmd, recallCmd, consolidateCmd, archiveCmd, decayCmd, dreamCmd, statsCmd)
}

func runRemember(cmd *cobra.Command, args []string) error {
	typ, _ := cmd.Flags().GetString("type")
	importance, _ := cmd.Flags().GetFloat64("importance")
	valence, _ := cmd.Flags().GetFloat64("valence")
	about, _ := cmd.Flags().GetString("about")
	if importance < 0 || importance > 1 {
		return fmt.Errorf("importance must be between 0 and 1, got %v", importance)
	}

	return withDaemon(cmd.Context(), func(d *daemon.Daemon) error {
		m, err := d.Entity.Remember(cmd.Context(), brain.CreateParams{
			Type:             brain.MemoryType(typ),
			Content:          strings.Join(args, " "),
			Importance:       brain.Float(importance),
			EmotionalValence: valence,
			RelatedEntity:    about,
			Context:          map[string]any{"source": "cli"},
		}, true)
		if err != nil {
			return err
		}
		return output(cmd, map[string]any{"id": m.ID, "type": m.Type, "layer": m.Layer},
			fmt.Sprintf("stored memory %d (%s, %s layer)", m.ID, m.Type, m.Layer))
	})
}

func runRecall(cmd *cobra.Command, args []string) error {
	limit, _ := cmd.Flags().GetInt("limit")
	query := strings.Join(args, " ")
	return withDaemon(cmd.Context(), func(d *daemon.Daemon) error {
		memories, method, err := d.Retriever.Hybrid(cmd.Context(), query, limit)
		if err != nil {
			return err
		}
		type hit struct {
			ID      int64  `json:"id"`
			Type    string `json:"type"`
			Content string `json:"content"`
		}
		hits := make([]hit, 0, len(memories))
		var b strings.Builder
		fmt.Fprintf(&b, "%d memories (%s)", len(memories), method)
		for _, m := range memories {
			hits = append(hits, hit{ID: m.ID, Type: string(m.Type), Content: m.Content})
			fmt.Fprintf(&b, "\n#%d [%s] %s", m.ID, m.Type, m.Content)
		}
		return output(cmd, map[string]any{"method": method, "memories": hits}, b.String())
	})
}

func runConsolidate(cmd *cobra.Command, _ []string) error {
	dateStr, _ := cmd.Flags().GetString("date")
	weekly, _ := cmd.Flags().GetBool("weekly")

	start := time.Now().AddDate(0, 0, -1)
	if dateStr != "" {
		var err error
		if start, err = time.ParseInLocation(time.DateOnly, dateStr, time.Local); err != nil {
			return fmt.Errorf("invalid --date %q: %w", dateStr, err)
		}
	}
	end, period := start, brain.PeriodDaily
	if weekly {
		end, period = start.AddDate(0, 0, 6), brain.PeriodWeekly
	}

	return withDaemon(cmd.Context(), func(d *daemon.Daemon) error {
		s, err := d.Consolidator.ConsolidatePeriod(cmd.Context(), start, end, period)
		if err != nil {
			return err
		}
		if s == nil {
			return output(cmd, nil, "nothing to consolidate")
		}
		text := fmt.Sprintf("summary %d (%s %s, %d memories)\nthemes: %s\n\n%s",
			s.ID, s.PeriodType, s.PeriodStart.Format(time.DateOnly), s.SourceMemoryCount,
			strings.Join(s.Themes, ", "), s.Summary)
		if s.KeyInsights != nil {
			text += "\n\ninsights: " + *s.KeyInsights
		}
		return output(cmd, s, text)
	})
}
