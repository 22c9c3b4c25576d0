package main

import (
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/cuberecall/packsync/internal/checksum"
	"github.com/cuberecall/packsync/internal/logging"
	"github.com/cuberecall/packsync/pkg/logger"
	"github.com/cuberecall/packsync/pkg/syncer"
	"github.com/spf13/cobra"
)

var hashCacheSize int

func newRunner() (*syncer.Runner, error) {
	var hasher checksum.Hasher = checksum.Default
	if hashCacheSize > 0 {
		cached, err := checksum.NewCachedHasher(checksum.Default, hashCacheSize)
		if err != nil {
			return nil, fmt.Errorf("failed to create hash cache: %w", err)
		}
		hasher = cached
	}

	return &syncer.Runner{
		ServerURL: cfg.ServerURL,
		GameDir:   cfg.GameDir,
		Engine: syncer.Engine{
			Concurrency: cfg.Concurrency,
			Attempts:    cfg.RetryAttempts,
			BaseDelay:   cfg.RetryDelay,
			Timeout:     cfg.Timeout,
			Hasher:      hasher,
			Logger:      &logger.SyncLogger{IsQuiet: quiet || jsonOutput},
		},
		Manager: syncer.NewManager(cfg.LockDirs),
	}, nil
}

type progressLine struct {
	Type string `json:"type"`
	syncer.FolderProgress
}

func printProgress(p syncer.FolderProgress) {
	switch {
	case jsonOutput:
		printJSON(progressLine{Type: "progress", FolderProgress: p})
	case quiet:
	case p.FolderName != "":
		fmt.Printf("[%3d%%] %-11s %s: %s\n", p.Percent, p.Stage, p.FolderName, p.Message)
	default:
		fmt.Printf("[%3d%%] %-11s %s\n", p.Percent, p.Stage, p.Message)
	}
}

func summarize(results map[string]*syncer.Result, start time.Time) logging.Summary {
	s := logging.Summary{Duration: time.Since(start)}
	for _, r := range results {
		if r == nil {
			continue
		}
		s.Downloaded += r.Downloaded
		s.Deleted += r.Deleted
		s.Cleaned += len(r.Cleaned)
		s.Bytes += r.Bytes
	}
	return s
}

func newSyncCmd() *cobra.Command {
	var interval time.Duration

	cmd := &cobra.Command{
		Use:   "sync [folder...]",
		Short: "Sync every folder the server publishes, or only the named ones",
		RunE: func(cmd *cobra.Command, args []string) error {
			if interval > 0 && hashCacheSize == 0 {
				hashCacheSize = checksum.DefaultCacheSize
			}
			runner, err := newRunner()
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			for {
				start := time.Now()
				res, err := runner.SyncAll(ctx, args, printProgress)
				if err != nil {
					return err
				}
				if jsonOutput {
					printJSON(jsonResult{Success: true, Data: res})
				} else {
					logging.PrintSummary(os.Stdout, quiet, summarize(res.Folders, start))
				}

				if interval <= 0 {
					return nil
				}
				select {
				case <-ctx.Done():
					return nil
				case <-time.After(interval):
				}
			}
		},
	}
	cmd.Flags().DurationVar(&interval, "interval", 0, "Repeat the sync at this interval until interrupted")
	cmd.Flags().IntVar(&hashCacheSize, "hash-cache", 0, "Keep up to N local digests in memory between passes (0 disables)")
	return cmd
}

func newCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Report pending downloads and deletions without changing anything",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			runner, err := newRunner()
			if err != nil {
				return err
			}
			res, err := runner.CheckAll(cmd.Context())
			if err != nil {
				return err
			}

			if jsonOutput {
				printJSON(jsonResult{Success: true, Data: res})
				return nil
			}
			ids := make([]string, 0, len(res.Folders))
			for id := range res.Folders {
				ids = append(ids, id)
			}
			sort.Strings(ids)
			for _, id := range ids {
				fc := res.Folders[id]
				fmt.Printf("%-16s download %d, delete %d\n", id, fc.ToDownload, fc.ToDelete)
			}
			if res.NeedsSync {
				fmt.Printf("sync needed: %d to download, %d to delete\n", res.ToDownload, res.ToDelete)
			} else {
				fmt.Println("up to date")
			}
			return nil
		},
	}
}

func newModsCmd() *cobra.Command {
	var checkOnly bool

	cmd := &cobra.Command{
		Use:   "mods",
		Short: "Sync <server>/mods/manifest into <game-dir>/mods",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			runner, err := newRunner()
			if err != nil {
				return err
			}

			if checkOnly {
				diff, err := runner.CheckMods(cmd.Context())
				if err != nil {
					return err
				}
				res := syncer.CheckResult{
					NeedsSync:  !diff.UpToDate,
					ToDownload: len(diff.ToDownload),
					ToDelete:   len(diff.ToDelete),
				}
				if jsonOutput {
					printJSON(jsonResult{Success: true, Data: res})
				} else {
					fmt.Printf("download %d, delete %d\n", res.ToDownload, res.ToDelete)
				}
				return nil
			}

			start := time.Now()
			res, err := runner.SyncMods(cmd.Context(), func(p syncer.Progress) {
				printProgress(syncer.FolderProgress{Progress: p, FolderID: "mods"})
			})
			if err != nil {
				return err
			}

			if jsonOutput {
				printJSON(jsonResult{Success: true, Data: res})
				return nil
			}
			logging.PrintSummary(os.Stdout, quiet, summarize(map[string]*syncer.Result{"mods": res}, start))
			return nil
		},
	}
	cmd.Flags().BoolVar(&checkOnly, "check", false, "Only report what would change")
	return cmd
}
