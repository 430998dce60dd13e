package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/dshills/semdex/pkg/types"
)

var showCmd = &cobra.Command{
	Use:   "show [path]",
	Short: "List the stored blocks of an indexed document",
	Args:  cobra.ExactArgs(1),
	RunE:  runShow,
}

func init() {
	rootCmd.AddCommand(showCmd)
}

func runShow(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	e, err := openEngine(ctx)
	if err != nil {
		return err
	}
	defer closeEngine(e)

	blocks, err := e.Blocks(ctx, args[0])
	if err != nil {
		return fmt.Errorf("failed to load %s: %w", args[0], err)
	}
	outputBlocks(cmd.OutOrStdout(), blocks)
	return nil
}

func outputBlocks(w io.Writer, blocks []*types.Block) {
	if len(blocks) == 0 {
		fmt.Fprintln(w, "No blocks stored.")
		return
	}
	for i, b := range blocks {
		fmt.Fprintf(w, "[%d] lines %d-%d, ~%d tokens\n", i+1, b.StartLine, b.EndLine, b.TokenCount)
		fmt.Fprintf(w, "    %s\n", snippet(b.Content))
	}
}
