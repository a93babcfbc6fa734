package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/hyperengineering/flashsync/internal/client"
)

var offlineOverride bool

func init() {
	for _, c := range []*cobra.Command{cardsetCmd, sessionCmd, syncCmd, statusCmd, queueCmd} {
		c.PersistentFlags().BoolVar(&offlineOverride, "offline", false,
			"Do not contact the server (overrides client.offline_mode)")
	}
}

func clientConfig() client.Config {
	cc := cfg.Client
	return client.Config{
		LocalPath:      cc.LocalPath,
		APIURL:         cc.APIURL,
		APIToken:       cc.APIToken,
		SyncInterval:   time.Duration(cc.SyncInterval),
		StaleAfter:     time.Duration(cc.StaleAfter),
		ProbeInterval:  time.Duration(cc.ProbeInterval),
		RequestTimeout: time.Duration(cc.RequestTimeout),
		OfflineMode:    cc.OfflineMode || offlineOverride,
		SeedSampleData: cc.SeedSampleData,
	}
}

// withClient runs fn against an initialized client and shuts it down
// afterwards. Shutdown gives queued changes one more chance to sync.
func withClient(cmd *cobra.Command, fn func(ctx context.Context, c *client.Client) error) error {
	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	c, err := client.New(ctx, clientConfig())
	if err != nil {
		return err
	}
	if err := c.Initialize(ctx); err != nil {
		c.Shutdown(context.Background())
		return fmt.Errorf("initialize client: %w", err)
	}
	c.CardSets().Wait()
	c.Statistics().Wait()

	runErr := fn(ctx, c)
	if err := c.Shutdown(context.Background()); err != nil && runErr == nil {
		runErr = fmt.Errorf("shutdown client: %w", err)
	}
	return runErr
}
