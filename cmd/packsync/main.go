package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/cuberecall/packsync/internal/config"
	"github.com/cuberecall/packsync/internal/logging"
	"github.com/cuberecall/packsync/pkg/fetcher"
	"github.com/cuberecall/packsync/pkg/syncerr"
	"github.com/goccy/go-json"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
	builtBy = "unknown"
)

var (
	cfg        *config.Config
	jsonOutput bool
	quiet      bool
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "packsync",
	Short: "Keep a game directory in step with a pack server",
	Long: `packsync downloads the files a pack server publishes, verifies every
download against its manifest digest and removes whatever the server no
longer lists.`,
	Version:       fmt.Sprintf("%s (commit: %s, built at: %s by %s)", version, commit, date, builtBy),
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level, err := logging.ParseLevel(logLevel)
		if err != nil {
			return err
		}
		if quiet {
			level = slog.LevelWarn
		}
		logging.Setup(level)
		return loadConfig(cmd)
	},
}

func init() {
	fetcher.Version = version

	flags := rootCmd.PersistentFlags()
	flags.StringP("config", "c", "", "Config file (default ~/.packsync/config.{yaml,json})")
	flags.StringP("server", "s", config.DefaultServerURL, "Pack server URL")
	flags.StringP("game-dir", "g", config.DefaultGameDir, "Game directory to sync into")
	flags.Int("concurrency", 0, "Concurrent downloads (server settings win when present)")
	flags.StringVar(&logLevel, "log-level", "info", "Log level: debug, info, warn, error")
	flags.BoolVarP(&quiet, "quiet", "q", false, "Suppress non-error output")
	flags.BoolVar(&jsonOutput, "json", false, "Print results and progress as JSON lines")

	rootCmd.AddCommand(newSyncCmd(), newCheckCmd(), newModsCmd(), newManifestCmd(), newMirrorCmd())
}

func loadConfig(cmd *cobra.Command) error {
	v := viper.GetViper()
	v.BindPFlag("server_url", cmd.Flags().Lookup("server"))
	v.BindPFlag("game_dir", cmd.Flags().Lookup("game-dir"))
	if f := cmd.Flags().Lookup("concurrency"); f != nil && f.Changed {
		v.BindPFlag("concurrency", f)
	}

	path, _ := cmd.Flags().GetString("config")
	loaded, err := config.Load(v, path)
	if err != nil {
		return err
	}
	cfg = loaded
	if cfg.Path != "" {
		slog.Debug("config loaded", "path", cfg.Path)
	}
	return nil
}

type jsonResult struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
	Code    string `json:"code,omitempty"`
	Data    any    `json:"data,omitempty"`
}

// printJSON writes one JSON document per line to stdout.
func printJSON(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		slog.Error("failed to marshal output", "error", err)
		return
	}
	fmt.Fprintln(os.Stdout, string(data))
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		if jsonOutput {
			printJSON(jsonResult{Success: false, Error: err.Error(), Code: syncerr.Code(err)})
		} else {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		stop()
		os.Exit(1)
	}
}
