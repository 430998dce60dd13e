package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dshills/semdex/internal/searcher"
)

const snippetLength = 160

var (
	searchLimit          int
	searchTag            string
	searchProfile        string
	searchPrefixes       []string
	searchRecency        float64
	searchSemanticWeight float64
	searchBM25Weight     float64
	searchNoHybrid       bool
	searchRerank         bool
	searchRerankTopK     int
	searchJSON           bool
)

var searchCmd = &cobra.Command{
	Use:   "search [query]",
	Short: "Search indexed documents",
	Long: `Performs hybrid search across indexed documents. Semantic similarity
and BM25 keyword relevance are blended, then combined with content recency.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSearch,
}

func init() {
	f := searchCmd.Flags()
	f.IntVarP(&searchLimit, "limit", "n", searcher.DefaultLimit, "maximum number of results")
	f.StringVar(&searchTag, "tag", "", "only search documents with this tag")
	f.StringVarP(&searchProfile, "profile", "p", "", "retrieval profile restricting searched paths")
	f.StringSliceVar(&searchPrefixes, "prefix", nil, "only search paths starting with these prefixes")
	f.Float64Var(&searchRecency, "recency", searcher.DefaultRecencyWeight, "recency weight in [0, 1]")
	f.Float64Var(&searchSemanticWeight, "semantic-weight", searcher.DefaultSemanticWeight, "semantic weight (non-negative)")
	f.Float64Var(&searchBM25Weight, "bm25-weight", searcher.DefaultBM25Weight, "BM25 weight (non-negative)")
	f.BoolVar(&searchNoHybrid, "no-hybrid", false, "rank by semantic similarity only")
	f.BoolVar(&searchRerank, "rerank", false, "rescore top candidates with the configured reranker")
	f.IntVar(&searchRerankTopK, "rerank-top-k", searcher.DefaultRerankTopK, "candidates passed to the reranker")
	f.BoolVar(&searchJSON, "json", false, "output results as JSON")
	rootCmd.AddCommand(searchCmd)
}

func runSearch(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	e, err := openEngine(ctx)
	if err != nil {
		return err
	}
	defer closeEngine(e)

	req := searcher.NewSearchRequest(strings.Join(args, " "))
	req.Limit = searchLimit
	req.Tag = searchTag
	req.Profile = searchProfile
	req.PathPrefixes = searchPrefixes
	req.RecencyWeight = searchRecency
	req.SemanticWeight = searchSemanticWeight
	req.BM25Weight = searchBM25Weight
	req.UseHybrid = !searchNoHybrid
	req.UseReranker = searchRerank
	req.RerankTopK = searchRerankTopK

	resp, err := e.Search(ctx, req)
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}

	if searchJSON {
		return outputSearchJSON(cmd.OutOrStdout(), resp)
	}
	outputSearchText(cmd.OutOrStdout(), resp)
	return nil
}

func outputSearchJSON(w io.Writer, resp *searcher.SearchResponse) error {
	data, err := json.MarshalIndent(resp.Results, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal results: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

func outputSearchText(w io.Writer, resp *searcher.SearchResponse) {
	if len(resp.Results) == 0 {
		fmt.Fprintln(w, "No results found.")
		return
	}

	for _, r := range resp.Results {
		// Format: [N] path:start-end (score)
		fmt.Fprintf(w, "[%d] %s:%d-%d (%.3f)\n", r.Rank, r.Path, r.StartLine, r.EndLine, r.Score)

		parts := []string{fmt.Sprintf("semantic %.3f", r.Scores.Semantic)}
		if r.Scores.Lexical != nil {
			parts = append(parts, fmt.Sprintf("bm25 %.3f", *r.Scores.Lexical))
		}
		if r.Scores.Recency != nil {
			parts = append(parts, fmt.Sprintf("recency %.3f", *r.Scores.Recency))
		}
		if r.Scores.Rerank != nil {
			parts = append(parts, fmt.Sprintf("rerank %.3f", *r.Scores.Rerank))
		}
		if r.ContentDate != "" {
			parts = append(parts, "dated "+r.ContentDate)
		}
		fmt.Fprintf(w, "    %s\n", strings.Join(parts, ", "))
		fmt.Fprintf(w, "    %s\n\n", snippet(r.Content))
	}

	fmt.Fprintf(w, "%d results from %d candidates in %s", resp.Total, resp.Candidates, resp.Duration.Round(1e5))
	if resp.UsedANN {
		fmt.Fprint(w, " (ann)")
	}
	fmt.Fprintln(w)
	for _, msg := range resp.Degraded {
		fmt.Fprintf(w, "degraded: %s\n", msg)
	}
}

// snippet flattens content onto one line and truncates it
func snippet(content string) string {
	s := strings.Join(strings.Fields(content), " ")
	runes := []rune(s)
	if len(runes) <= snippetLength {
		return s
	}
	return string(runes[:snippetLength]) + "..."
}
