package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/cuberecall/packsync/internal/checksum"
	"github.com/cuberecall/packsync/internal/walker"
	"github.com/dustin/go-humanize"
	"github.com/goccy/go-json"
	"github.com/spf13/cobra"
)

func newManifestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "manifest",
		Short: "Work with pack manifests",
	}
	cmd.AddCommand(newManifestBuildCmd())
	return cmd
}

func newManifestBuildCmd() *cobra.Command {
	var (
		baseURL    string
		extensions []string
		algorithm  string
		output     string
	)

	cmd := &cobra.Command{
		Use:   "build <dir>",
		Short: "Build the manifest a pack server would publish for dir",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if baseURL == "" {
				return fmt.Errorf("--base-url is required")
			}
			hasher, err := checksum.NewHasher(checksum.Algorithm(algorithm))
			if err != nil {
				return err
			}

			remote, err := walker.BuildManifest(cmd.Context(), args[0], extensions, baseURL, hasher)
			if err != nil {
				return fmt.Errorf("failed to build manifest: %w", err)
			}

			data, err := json.MarshalIndent(remote, "", "  ")
			if err != nil {
				return fmt.Errorf("failed to marshal JSON: %w", err)
			}

			if output == "" || output == "-" {
				_, err = os.Stdout.Write(append(data, '\n'))
				return err
			}
			if err := os.WriteFile(output, data, 0644); err != nil {
				return fmt.Errorf("failed to write file: %w", err)
			}
			slog.Info("manifest written", "path", output, "entries", len(remote), "size", humanize.Bytes(uint64(remote.TotalSize())))
			return nil
		},
	}

	cmd.Flags().StringVar(&baseURL, "base-url", "", "URL prefix the files are served under")
	cmd.Flags().StringSliceVar(&extensions, "ext", nil, "Extensions to include, e.g. .jar (default all files)")
	cmd.Flags().StringVar(&algorithm, "hash", string(checksum.MD5), "Digest algorithm: md5, sha256, xxh64")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Write to file instead of stdout")
	return cmd
}
