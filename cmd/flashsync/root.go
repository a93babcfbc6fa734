package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/hyperengineering/flashsync/internal/config"
)

// Version is set at build time via ldflags: -ldflags "-X main.Version=1.0.0"
var Version = "dev"

var (
	configPath string
	jsonOutput bool

	cfg       *config.Config
	logCloser io.Closer
)

var rootCmd = &cobra.Command{
	Use:   "flashsync",
	Short: "Offline-first flashcard sync",
	Long: "Run the reference flashcard API, or manage the local card set cache " +
		"and its outbox of changes waiting for the server.",
	SilenceUsage:       true,
	PersistentPreRunE:  setup,
	PersistentPostRunE: teardown,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "",
		"Config file path (overrides FLASHSYNC_CONFIG_PATH)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false,
		"Output in JSON format")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(cardsetCmd)
	rootCmd.AddCommand(sessionCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(queueCmd)
}

// setup loads configuration and installs the default logger.
func setup(cmd *cobra.Command, args []string) error {
	var err error
	if configPath != "" {
		cfg, err = config.LoadFromFile(configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	var handler slog.Handler
	handler, logCloser = newLogHandler(cfg.Log, cmd.ErrOrStderr())
	slog.SetDefault(slog.New(handler))
	slog.Debug("configuration loaded", "component", "cli", "command", cmd.Name())
	return nil
}

func teardown(cmd *cobra.Command, args []string) error {
	if logCloser != nil {
		err := logCloser.Close()
		logCloser = nil
		return err
	}
	return nil
}

// newLogHandler builds the slog handler described by lc. Output goes to a
// rotating file when lc.File is set, otherwise to w. The returned closer is
// nil when there is nothing to close.
func newLogHandler(lc config.LogConfig, w io.Writer) (slog.Handler, io.Closer) {
	var closer io.Closer
	if lc.File != "" {
		rotating := &lumberjack.Logger{
			Filename:   lc.File,
			MaxSize:    lc.MaxSizeMB,
			MaxBackups: lc.MaxBackups,
			MaxAge:     lc.MaxAgeDays,
			Compress:   true,
		}
		w, closer = rotating, rotating
	}

	opts := &slog.HandlerOptions{Level: parseLogLevel(lc.Level)}
	if strings.EqualFold(lc.Format, "text") {
		return slog.NewTextHandler(w, opts), closer
	}
	return slog.NewJSONHandler(w, opts), closer
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// printJSON marshals v to JSON and writes to the given writer.
func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// newTabWriter returns a configured tabwriter for aligned columns.
func newTabWriter(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
