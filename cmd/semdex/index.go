package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dshills/semdex/internal/indexer"
	"github.com/dshills/semdex/internal/searcher"
)

var (
	indexTags    []string
	indexDate    string
	indexForce   bool
	indexRebuild bool
	indexPrune   bool
)

var indexCmd = &cobra.Command{
	Use:   "index [path...]",
	Short: "Index documents or directories",
	Long: `Indexes the given files and directories, or the whole workspace when no
path is given. Unchanged documents are skipped unless --force is set.`,
	RunE: runIndex,
}

func init() {
	indexCmd.Flags().StringSliceVarP(&indexTags, "tag", "t", nil, "tags to attach (replaces stored tags)")
	indexCmd.Flags().StringVar(&indexDate, "date", "", "content date (YYYY-MM-DD) overriding front matter")
	indexCmd.Flags().BoolVarP(&indexForce, "force", "f", false, "re-index unchanged documents")
	indexCmd.Flags().BoolVar(&indexRebuild, "rebuild-index", false, "rebuild the ANN index afterwards")
	indexCmd.Flags().BoolVar(&indexPrune, "prune", false, "remove indexed documents that no longer exist under each directory")
	rootCmd.AddCommand(indexCmd)
}

func runIndex(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	if indexDate != "" {
		if _, err := searcher.ParseContentDate(indexDate); err != nil {
			return fmt.Errorf("invalid --date: %w", err)
		}
	}

	paths := args
	if len(paths) == 0 {
		paths = []string{cfg.Workspace}
	}

	e, err := openEngine(ctx)
	if err != nil {
		return err
	}
	defer closeEngine(e)

	opts := indexer.IndexOptions{ContentDate: indexDate, Force: indexForce}
	if cmd.Flags().Changed("tag") {
		opts.Tags = indexTags
	}

	stats, err := e.IndexPaths(ctx, paths, opts)
	if err != nil {
		return fmt.Errorf("indexing failed: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Indexed %d files (%d skipped, %d failed), %d blocks in %s\n",
		stats.FilesIndexed, stats.FilesSkipped, stats.FilesFailed, stats.BlocksCreated, stats.Duration.Round(1e6))
	for _, msg := range stats.ErrorMessages {
		fmt.Fprintf(out, "  error: %s\n", msg)
	}

	if indexPrune {
		for _, root := range paths {
			removed, err := e.Prune(ctx, root)
			if err != nil {
				return fmt.Errorf("prune failed: %w", err)
			}
			for _, path := range removed {
				fmt.Fprintf(out, "Pruned %s\n", path)
			}
		}
	}

	if indexRebuild {
		result, err := e.RebuildIndex(ctx)
		if err != nil {
			return fmt.Errorf("rebuild failed: %w", err)
		}
		fmt.Fprintf(out, "Rebuilt ANN index with %d vectors\n", result.Vectors)
	}
	return nil
}
