package main

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

var embedCmd = &cobra.Command{
	Use:   "embed [text]",
	Short: "Embed text with the configured provider to check it works",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runEmbed,
}

func init() {
	rootCmd.AddCommand(embedCmd)
}

func runEmbed(cmd *cobra.Command, args []string) error {
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

	start := time.Now()
	vec, err := e.Embed(ctx, strings.Join(args, " "))
	if err != nil {
		return fmt.Errorf("embedding failed: %w", err)
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Provider:  %s %s\n", stats.Provider, stats.Model)
	fmt.Fprintf(out, "Dimension: %d\n", len(vec))
	fmt.Fprintf(out, "Norm:      %.4f\n", math.Sqrt(norm))
	fmt.Fprintf(out, "Latency:   %s\n", time.Since(start).Round(time.Millisecond))
	if len(vec) > 0 {
		fmt.Fprintf(out, "Head:      %v\n", vec[:min(len(vec), 8)])
	}
	return nil
}
