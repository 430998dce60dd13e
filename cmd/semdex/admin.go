package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dshills/semdex/internal/indexer"
)

var statsJSON bool

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show index statistics and capabilities",
	Args:  cobra.NoArgs,
	RunE:  runStats,
}

var deleteCmd = &cobra.Command{
	Use:   "delete [path...]",
	Short: "Remove documents from the index",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runDelete,
}

var pruneCmd = &cobra.Command{
	Use:   "prune [dir]",
	Short: "Remove indexed documents under dir that no longer exist on disk",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runPrune,
}

var rebuildCmd = &cobra.Command{
	Use:   "rebuild-index",
	Short: "Rebuild the ANN index from stored vectors",
	Args:  cobra.NoArgs,
	RunE:  runRebuild,
}

var watchCmd = &cobra.Command{
	Use:   "watch [dir...]",
	Short: "Re-index documents as they change",
	Long: `Watches the given directories (default: the workspace) and re-indexes
documents when they are written, removing them from the index when deleted.`,
	RunE: runWatch,
}

func init() {
	statsCmd.Flags().BoolVar(&statsJSON, "json", false, "output as JSON")
	rootCmd.AddCommand(statsCmd, deleteCmd, pruneCmd, rebuildCmd, watchCmd)
}

func runStats(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	e, err := openEngine(ctx)
	if err != nil {
		return err
	}
	defer closeEngine(e)

	stats, err := e.Stats(ctx)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if statsJSON {
		data, err := json.MarshalIndent(stats, "", "  ")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(out, string(data))
		return err
	}

	fmt.Fprintf(out, "Database:   %s (%.2f MB, schema %s)\n", stats.DBPath, stats.SizeMB, stats.SchemaVersion)
	fmt.Fprintf(out, "Documents:  %d\n", stats.Resources)
	fmt.Fprintf(out, "Blocks:     %d (%d embedded)\n", stats.Blocks, stats.Vectors)
	fmt.Fprintf(out, "Tags:       %d\n", stats.Tags)
	fmt.Fprintf(out, "Embeddings: %s %s (%d dims)\n", stats.Provider, stats.Model, stats.Dimension)
	fmt.Fprintf(out, "Lexical:    %s\n", stats.Lexical)
	fmt.Fprintf(out, "Reranker:   %s\n", stats.Reranker)
	switch {
	case stats.HasANNIndex && stats.ANNStale:
		fmt.Fprintf(out, "ANN index:  %d vectors (stale, run rebuild-index)\n", stats.ANNSize)
	case stats.HasANNIndex:
		fmt.Fprintf(out, "ANN index:  %d vectors\n", stats.ANNSize)
	default:
		fmt.Fprintln(out, "ANN index:  not loaded")
	}
	return nil
}

func runDelete(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	e, err := openEngine(ctx)
	if err != nil {
		return err
	}
	defer closeEngine(e)

	out := cmd.OutOrStdout()
	for _, path := range args {
		deleted, err := e.DeleteResource(ctx, path)
		if err != nil {
			return fmt.Errorf("failed to delete %s: %w", path, err)
		}
		if deleted {
			fmt.Fprintf(out, "Deleted %s\n", path)
		} else {
			fmt.Fprintf(out, "Not indexed: %s\n", path)
		}
	}
	return nil
}

func runPrune(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	root := cfg.Workspace
	if len(args) == 1 {
		root = args[0]
	}

	e, err := openEngine(ctx)
	if err != nil {
		return err
	}
	defer closeEngine(e)

	removed, err := e.Prune(ctx, root)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	for _, path := range removed {
		fmt.Fprintf(out, "Pruned %s\n", path)
	}
	fmt.Fprintf(out, "%d documents pruned\n", len(removed))
	return nil
}

func runRebuild(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	e, err := openEngine(ctx)
	if err != nil {
		return err
	}
	defer closeEngine(e)

	result, err := e.RebuildIndex(ctx)
	if err != nil {
		return err
	}
	if result.Vectors == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No vectors stored; ANN index removed")
		return nil
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Rebuilt ANN index with %d vectors at %s in %s\n",
		result.Vectors, result.Path, result.Duration.Round(1e6))
	return nil
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	roots := args
	if len(roots) == 0 {
		roots = []string{cfg.Workspace}
	}

	e, err := openEngine(ctx)
	if err != nil {
		return err
	}
	defer closeEngine(e)

	logger.Info("watching for changes", "roots", roots)
	if err := e.Watch(ctx, roots, indexer.IndexOptions{}); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("watcher stopped")
	return nil
}
