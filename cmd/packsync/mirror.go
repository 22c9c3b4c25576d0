package main

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/cuberecall/packsync/internal/logging"
	"github.com/cuberecall/packsync/pkg/executor"
	"github.com/cuberecall/packsync/pkg/logger"
	"github.com/cuberecall/packsync/pkg/planner"
	"github.com/cuberecall/packsync/pkg/s3client"
	"github.com/spf13/cobra"
)

func newMirrorCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mirror",
		Short: "Publish pack files to S3-compatible object storage",
	}
	cmd.AddCommand(newMirrorPushCmd())
	return cmd
}

func newMirrorPushCmd() *cobra.Command {
	var (
		dryRun         bool
		deleteFlag     bool
		excludes       []string
		concurrency    int
		planJSONFile   string
		resultJSONFile string
	)

	cmd := &cobra.Command{
		Use:   "push <LocalPath> [S3Uri]",
		Short: "Upload a local pack tree, skipping objects whose CRC64NVME checksum matches",
		Long: `push compares a local directory against s3://bucket/prefix and uploads
new or changed files. The S3 URI defaults to s3.bucket and s3.prefix from the
config file.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			localPath := args[0]

			s3URI := formatS3Path(cfg.S3.Bucket, cfg.S3.Prefix)
			if len(args) == 2 {
				s3URI = args[1]
			} else if cfg.S3.Bucket == "" {
				return fmt.Errorf("no S3 URI given and s3.bucket is not configured")
			}

			awsCfg, err := s3client.LoadConfig(ctx, s3client.Options{
				Endpoint:        cfg.S3.Endpoint,
				Region:          cfg.S3.Region,
				Profile:         cfg.S3.Profile,
				AccessKeyID:     cfg.S3.AccessKeyID,
				SecretAccessKey: cfg.S3.SecretAccessKey,
			})
			if err != nil {
				return err
			}
			client := s3client.NewAWSClient(awsCfg, cfg.S3.Endpoint)

			syncLogger := &logger.SyncLogger{IsDryRun: dryRun, IsQuiet: quiet || jsonOutput}

			start := time.Now()
			items, err := planner.NewMirrorPlanner(client, syncLogger).Plan(ctx, localPath, s3URI, planner.Options{
				DeleteEnabled: deleteFlag,
				Excludes:      excludes,
				Logger:        syncLogger,
			})
			if err != nil {
				return fmt.Errorf("failed to generate plan: %w", err)
			}

			if planJSONFile != "" {
				if err := writeJSONFile(planJSONFile, buildPlanResult(items)); err != nil {
					return fmt.Errorf("failed to write plan JSON: %w", err)
				}
			}

			if dryRun {
				for _, item := range items {
					switch item.Action {
					case planner.ActionUpload:
						syncLogger.Upload(item.LocalPath, formatS3Path(item.Bucket, item.Key))
					case planner.ActionDelete:
						syncLogger.Delete(formatS3Path(item.Bucket, item.Key))
					}
				}
				if jsonOutput {
					printJSON(jsonResult{Success: true, Data: buildPlanResult(items)})
				}
				return nil
			}

			results := executor.NewExecutor(client, syncLogger, concurrency).Execute(ctx, items)
			report := buildMirrorResult(results)
			for _, e := range report.Errors {
				slog.Error("mirror operation failed", "action", e.Action, "target", e.Target, "error", e.Error)
			}

			if resultJSONFile != "" {
				if err := writeJSONFile(resultJSONFile, report); err != nil {
					return fmt.Errorf("failed to write result JSON: %w", err)
				}
			}

			if report.Summary.Failed > 0 {
				return fmt.Errorf("%d operations failed", report.Summary.Failed)
			}
			if jsonOutput {
				printJSON(jsonResult{Success: true, Data: report})
				return nil
			}
			logging.PrintSummary(os.Stdout, quiet, logging.Summary{
				Uploaded: report.Summary.Created + report.Summary.Updated,
				Deleted:  report.Summary.Deleted,
				Bytes:    report.Summary.Bytes,
				Duration: time.Since(start),
			})
			return nil
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dryrun", false, "Shows operations without executing")
	cmd.Flags().BoolVar(&deleteFlag, "delete", false, "Delete objects not present locally")
	cmd.Flags().StringSliceVar(&excludes, "exclude", nil, "Exclude patterns (multiple allowed)")
	cmd.Flags().IntVar(&concurrency, "upload-concurrency", 16, "Number of concurrent uploads")
	cmd.Flags().StringVar(&planJSONFile, "plan-json-file", "", "Path to output plan as JSON file")
	cmd.Flags().StringVar(&resultJSONFile, "result-json-file", "", "Path to output result as JSON file")
	return cmd
}
