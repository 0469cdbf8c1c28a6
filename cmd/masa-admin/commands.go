package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/yellowcrystalz/masa-meter/ledger"
)

func (a *app) printJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling JSON: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

func (a *app) meterCmd() *cobra.Command {
	var username string
	cmd := &cobra.Command{
		Use:     "meter",
		Short:   "Show the total mention count, or one speaker's",
		GroupID: "read",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				n   int64
				err error
			)
			if username != "" {
				n, err = a.ledger.SpeakerMeter(cmd.Context(), username)
			} else {
				n, err = a.ledger.Meter(cmd.Context())
			}
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if a.jsonOutput {
				return a.printJSON(out, map[string]int64{"meter": n})
			}
			fmt.Fprintf(out, "Masa Meter: %d\n", n)
			return nil
		},
	}
	cmd.Flags().StringVar(&username, "username", "", "count only this speaker")
	return cmd
}

func (a *app) leaderboardCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:     "leaderboard",
		Aliases: []string{"lb"},
		Short:   "Rank speakers by mention count",
		GroupID: "read",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if limit < 0 {
				return fmt.Errorf("--limit must not be negative")
			}
			entries, err := a.ledger.Leaderboard(cmd.Context())
			if err != nil {
				return err
			}
			if limit > 0 && len(entries) > limit {
				entries = entries[:limit]
			}
			out := cmd.OutOrStdout()
			if a.jsonOutput {
				return a.printJSON(out, entries)
			}
			if len(entries) == 0 {
				fmt.Fprintln(out, "No mentions yet.")
				return nil
			}
			for i, e := range entries {
				fmt.Fprintf(out, "%3d. %-25s %d\n", i+1, e.Username, e.Count)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "show at most this many speakers (0 = all)")
	return cmd
}

func (a *app) historyCmd() *cobra.Command {
	var username string
	cmd := &cobra.Command{
		Use:     "history",
		Short:   "List mentions in the order they were recorded",
		GroupID: "read",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				entries []ledger.HistoryEntry
				err     error
			)
			if username != "" {
				entries, err = a.ledger.SpeakerHistory(cmd.Context(), username)
			} else {
				entries, err = a.ledger.History(cmd.Context())
			}
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if a.jsonOutput {
				return a.printJSON(out, entries)
			}
			for _, e := range entries {
				fmt.Fprintf(out, "%s  %s\n", e.Date.Format(time.RFC3339), e.Username)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&username, "username", "", "only this speaker's mentions")
	return cmd
}

func (a *app) achievementsCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "achievements",
		Short:   "Show every achievement and who holds it",
		GroupID: "read",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			got, err := a.ledger.Achievements(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if a.jsonOutput {
				return a.printJSON(out, got.List())
			}
			for _, ach := range got.List() {
				holder := ach.Username
				if holder == "" {
					holder = "(unclaimed)"
				}
				fmt.Fprintf(out, "%s %-15s %-22s %s\n", ach.Emoji, ach.Name, holder, ach.Description)
			}
			return nil
		},
	}
}

func (a *app) speakerCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "speaker NAME",
		Short:   "Show a speaker and their mention count",
		GroupID: "read",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, ok, err := a.ledger.Speaker(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("speaker %q not found", args[0])
			}
			n, err := a.ledger.SpeakerMeter(cmd.Context(), s.Username)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if a.jsonOutput {
				return a.printJSON(out, map[string]any{
					"username":   s.Username,
					"created_at": s.CreatedAt,
					"count":      n,
				})
			}
			fmt.Fprintf(out, "%s: %d mentions (first seen %s)\n", s.Username, n, s.CreatedAt.Format(time.RFC3339))
			return nil
		},
	}
}

func (a *app) recordCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "record NAME",
		Short:   "Record a mention for NAME, creating the speaker if needed",
		GroupID: "write",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := a.ledger.RecordMention(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if a.jsonOutput {
				return a.printJSON(out, m)
			}
			fmt.Fprintf(out, "Recorded mention %d for %s at %s\n", m.ID, m.Username, m.Date.Format(time.RFC3339))
			return nil
		},
	}
}

func (a *app) printDeletion(w io.Writer, d ledger.Deletion) error {
	if a.jsonOutput {
		return a.printJSON(w, d)
	}
	if d.Empty() {
		_, err := fmt.Fprintln(w, "Nothing deleted.")
		return err
	}
	_, err := fmt.Fprintf(w, "Deleted %d speaker(s), %d mention(s).\n", d.Speakers, d.Mentions)
	return err
}

func (a *app) deleteSpeakerCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "delete-speaker NAME",
		Short:   "Delete a speaker and all of their mentions",
		GroupID: "write",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := a.ledger.DeleteSpeaker(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return a.printDeletion(cmd.OutOrStdout(), d)
		},
	}
}

func (a *app) deleteMentionCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "delete-mention ID",
		Short:   "Delete a single mention by id",
		GroupID: "write",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil || id < 1 {
				return fmt.Errorf("invalid mention id %q", args[0])
			}
			d, err := a.ledger.DeleteMention(cmd.Context(), id)
			if err != nil {
				return err
			}
			return a.printDeletion(cmd.OutOrStdout(), d)
		},
	}
}
