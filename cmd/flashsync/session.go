package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/hyperengineering/flashsync/internal/client"
	"github.com/hyperengineering/flashsync/internal/entity"
	"github.com/hyperengineering/flashsync/internal/types"
)

var (
	sessionCardSet  string
	sessionMode     string
	sessionDuration time.Duration
	sessionAttempts []string
)

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Record and review study sessions",
}

var sessionRecordCmd = &cobra.Command{
	Use:   "record",
	Short: "Record a finished study session",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		mode := types.StudyMode(sessionMode)
		if !mode.Valid() {
			return fmt.Errorf("unknown study mode %q", sessionMode)
		}
		attempts, err := parseAttempts(sessionAttempts, time.Now().UTC())
		if err != nil {
			return err
		}
		end := time.Now().UTC()
		in := types.SessionInput{
			CardSetID: sessionCardSet,
			Mode:      mode,
			StartTime: end.Add(-sessionDuration),
			EndTime:   end,
			Attempts:  attempts,
		}
		return withClient(cmd, func(ctx context.Context, c *client.Client) error {
			m, err := c.Statistics().Create(ctx, in)
			if err != nil {
				return err
			}
			return printMutation(cmd, "recorded", m)
		})
	},
}

var sessionListCmd = &cobra.Command{
	Use:   "list",
	Short: "List study sessions with an overview",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(cmd, func(ctx context.Context, c *client.Client) error {
			return printSessions(cmd, c.Statistics().List(), entity.Overview(c.Statistics()))
		})
	},
}

var sessionDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a study session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(cmd, func(ctx context.Context, c *client.Client) error {
			m, err := c.Statistics().Delete(ctx, args[0])
			if err != nil {
				return err
			}
			m.Record.ID = args[0]
			return printMutation(cmd, "deleted", m)
		})
	},
}

func init() {
	sessionRecordCmd.Flags().StringVar(&sessionCardSet, "cardset", "", "Card set id the session studied")
	sessionRecordCmd.Flags().StringVar(&sessionMode, "mode", string(types.ModeFlashcard), "Study mode (flashcard, test, write, learn)")
	sessionRecordCmd.Flags().DurationVar(&sessionDuration, "duration", 0, "Session length")
	sessionRecordCmd.Flags().StringArrayVar(&sessionAttempts, "attempt", nil,
		`Attempt as "card_id=correct|wrong[:seconds]" (repeatable)`)
	sessionRecordCmd.MarkFlagRequired("cardset")

	sessionCmd.AddCommand(sessionRecordCmd)
	sessionCmd.AddCommand(sessionListCmd)
	sessionCmd.AddCommand(sessionDeleteCmd)
}

// parseAttempts turns "card_id=correct|wrong[:seconds]" flags into attempts.
func parseAttempts(specs []string, at time.Time) ([]types.CardAttempt, error) {
	attempts := make([]types.CardAttempt, 0, len(specs))
	for _, spec := range specs {
		cardID, rest, ok := strings.Cut(spec, "=")
		if !ok || cardID == "" {
			return nil, fmt.Errorf("invalid attempt %q: want card_id=correct|wrong[:seconds]", spec)
		}
		outcome, secs, hasSecs := strings.Cut(rest, ":")
		a := types.CardAttempt{CardID: cardID, AttemptedAt: at}
		switch outcome {
		case "correct":
			a.Correct = true
		case "wrong":
		default:
			return nil, fmt.Errorf("invalid attempt %q: outcome must be correct or wrong", spec)
		}
		if hasSecs {
			v, err := strconv.ParseFloat(secs, 64)
			if err != nil || v < 0 {
				return nil, fmt.Errorf("invalid attempt %q: bad seconds", spec)
			}
			a.TimeSpent = v
		}
		attempts = append(attempts, a)
	}
	return attempts, nil
}

func printSessions(cmd *cobra.Command, sessions []types.StudySession, o types.Overview) error {
	if jsonOutput {
		return printJSON(cmd.OutOrStdout(), map[string]any{
			"sessions": sessions,
			"overview": o,
		})
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%d sessions, %s cards studied, %.1f%% accuracy, %s total\n\n",
		o.TotalSessions, humanize.Comma(int64(o.CardsStudied)), o.OverallAccuracy,
		time.Duration(o.TotalStudyTime)*time.Second)
	if len(sessions) == 0 {
		return nil
	}

	w := newTabWriter(out)
	fmt.Fprintln(w, "ID\tCARDSET\tMODE\tCARDS\tACCURACY\tWHEN")
	for _, s := range sessions {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%.0f%%\t%s\n",
			s.ID, s.CardSetID, s.Mode, s.TotalCards, s.Accuracy, humanize.Time(s.EndTime))
	}
	return w.Flush()
}
