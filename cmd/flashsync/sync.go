package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/hyperengineering/flashsync/internal/client"
	"github.com/hyperengineering/flashsync/internal/types"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Replay queued changes against the server",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(cmd, func(ctx context.Context, c *client.Client) error {
			if !c.Monitor().IsOnline() {
				return fmt.Errorf("server unreachable; %s", pendingSummary(ctx, c))
			}
			res, err := c.SyncNow(ctx)
			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), res)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Synced: %d succeeded, %d failed, %d dropped\n",
				res.Success, res.Failed, res.Dropped)
			return err
		})
	},
}

func pendingSummary(ctx context.Context, c *client.Client) string {
	n, err := c.Queue().Count(ctx)
	if err != nil {
		return "pending changes unknown"
	}
	return fmt.Sprintf("%d changes remain queued", n)
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show connectivity, queue depth and last sync",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(cmd, func(ctx context.Context, c *client.Client) error {
			st, err := c.Status(ctx)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), map[string]any{
					"online":         st.Online,
					"syncing":        st.Syncing,
					"degraded":       st.Degraded,
					"pending":        st.Pending,
					"last_sync":      st.LastSync,
					"last_result":    st.LastResult,
					"schema_version": st.SchemaVersion,
				})
			}

			w := newTabWriter(cmd.OutOrStdout())
			fmt.Fprintf(w, "Connectivity:\t%s\n", onlineLabel(st.Online))
			fmt.Fprintf(w, "Pending changes:\t%d\n", st.Pending)
			fmt.Fprintf(w, "Last sync:\t%s\n", lastSyncLabel(st.LastSync))
			if !st.LastSync.IsZero() {
				fmt.Fprintf(w, "Last result:\t%d succeeded, %d failed, %d dropped\n",
					st.LastResult.Success, st.LastResult.Failed, st.LastResult.Dropped)
			}
			if st.Degraded {
				fmt.Fprintf(w, "Local cache:\tin memory (persistent storage unavailable)\n")
			} else {
				fmt.Fprintf(w, "Local cache:\t%s (%s, schema v%d)\n",
					cfg.Client.LocalPath, fileSize(cfg.Client.LocalPath), st.SchemaVersion)
			}
			return w.Flush()
		})
	},
}

func onlineLabel(online bool) string {
	if online {
		return "online"
	}
	return "offline"
}

func lastSyncLabel(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return humanize.Time(t)
}

func fileSize(path string) string {
	info, err := os.Stat(path)
	if err != nil {
		return "size unknown"
	}
	return humanize.Bytes(uint64(info.Size()))
}

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Inspect or clear changes waiting for the server",
}

var queueListCmd = &cobra.Command{
	Use:   "list",
	Short: "List pending operations in replay order",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(cmd, func(ctx context.Context, c *client.Client) error {
			ops, err := c.Queue().ListPending(ctx)
			if err != nil {
				return err
			}
			return printOperations(cmd, ops)
		})
	},
}

var queueClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Discard every pending operation",
	Long:  "Discard every pending operation. Local changes that were never synced stay in the cache until the next refresh.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(cmd, func(ctx context.Context, c *client.Client) error {
			n, err := c.Queue().Count(ctx)
			if err != nil {
				return err
			}
			if err := c.Queue().Clear(ctx); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Cleared %d pending operations\n", n)
			return nil
		})
	},
}

func init() {
	queueCmd.AddCommand(queueListCmd)
	queueCmd.AddCommand(queueClearCmd)
}

func printOperations(cmd *cobra.Command, ops []types.PendingOperation) error {
	if jsonOutput {
		return printJSON(cmd.OutOrStdout(), map[string]any{
			"operations": ops,
			"total":      len(ops),
		})
	}
	if len(ops) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No pending operations.")
		return nil
	}

	w := newTabWriter(cmd.OutOrStdout())
	fmt.Fprintln(w, "ID\tENTITY\tTYPE\tTARGET\tQUEUED")
	for _, op := range ops {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			op.ID, op.Entity, op.Type, dash(op.Payload.TargetID()),
			humanize.Time(time.UnixMilli(op.Timestamp)))
	}
	return w.Flush()
}
