package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/italolelis/artifactd/internal/config"
	"github.com/italolelis/artifactd/internal/downloader"
	"github.com/italolelis/artifactd/internal/manifest"
	"github.com/italolelis/artifactd/internal/postprocess"
	"github.com/italolelis/artifactd/internal/storage/sqlite"
	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	var manifestPath string

	root := &cobra.Command{
		Use:          "artifactd",
		Short:        "Acquires large artifacts onto local storage, resumably and in order",
		SilenceUsage: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			if manifestPath != "" {
				return os.Setenv("MANIFEST_PATH", manifestPath)
			}

			return nil
		},
	}

	root.PersistentFlags().StringVarP(&manifestPath, "manifest", "m", "", "manifest file (overrides MANIFEST_PATH)")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Download every artifact in the manifest and serve the status API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cfg, err := setup(cmd.Context())
			if err != nil {
				return err
			}

			return run(ctx, cfg)
		},
	}

	checkCmd := &cobra.Command{
		Use:   "check",
		Short: "Report which artifacts are present and how large the missing ones are",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cfg, err := setup(cmd.Context())
			if err != nil {
				return err
			}

			return check(ctx, cfg, cmd.OutOrStdout())
		},
	}

	root.AddCommand(runCmd, checkCmd)

	// "artifactd" alone behaves like "artifactd run".
	root.RunE = runCmd.RunE

	return root
}

// check scans local storage and probes every artifact without downloading.
func check(ctx context.Context, cfg *config.Config, out io.Writer) error {
	database, err := sqlite.InitDB(cfg.DBPath)
	if err != nil {
		return err
	}
	defer database.Close()

	m, err := manifest.Load(cfg.ManifestPath)
	if err != nil {
		return fmt.Errorf("failed to load manifest: %w", err)
	}

	items := m.Items()

	checker := downloader.NewChecker(postprocess.NewArchive(sqlite.NewAssetRepository(database), nil))
	scan := checker.Scan(ctx, items)

	sizes := downloader.NewProber(buildSource(cfg, nil), cfg.ProbeTimeout, nil).ProbeAll(ctx, items)

	return printCheck(out, items, scan, sizes)
}

func printCheck(out io.Writer, items []manifest.Descriptor, scan downloader.ScanResult, sizes []int64) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)

	fmt.Fprintln(w, "#\tFILE\tPRESENT\tSIZE\tDESTINATION")

	var total int64

	for i, item := range items {
		size := "unknown"
		if sizes[i] > 0 {
			size = humanize.Bytes(uint64(sizes[i]))
			total += sizes[i]
		}

		fmt.Fprintf(w, "%d\t%s\t%t\t%s\t%s\n", i, item.FileName, scan.Present[i], size, item.Path())
	}

	if err := w.Flush(); err != nil {
		return err
	}

	missing := len(items) - countTrue(scan.Present)
	_, err := fmt.Fprintf(out, "\n%d of %d present, resume at %d, %s known in total, %d missing\n",
		len(items)-missing, len(items), scan.ResumeIndex, humanize.Bytes(uint64(total)), missing)

	return err
}

func countTrue(v []bool) int {
	n := 0

	for _, b := range v {
		if b {
			n++
		}
	}

	return n
}
