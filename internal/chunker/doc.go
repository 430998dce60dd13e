// Package chunker divides document text into line-addressed segments for
// embedding and search.
//
// Two strategies are available and chosen automatically per document:
//
//   - Structural: used when the text contains a markdown header, a code fence
//     or a bullet line. Segments grow up to 1.5x ChunkSize, split preferentially
//     at headers, never split inside a fenced code block, and keep bullet lists
//     together. Fragments shorter than MinChunkSize/2 are dropped.
//   - Simple: greedy line accumulation up to ChunkSize characters. Segments
//     partition the document's lines with no gaps or overlaps.
//
// # Basic Usage
//
//	c := chunker.New()
//	for _, seg := range c.Chunk(text) {
//	    fmt.Printf("lines %d-%d: %d tokens\n",
//	        seg.StartLine, seg.EndLine, chunker.EstimateTokenCount(seg.Text))
//	}
//
// Chunking is deterministic: the same text always yields the same segments.
// A single line longer than ChunkSize becomes a segment of its own.
package chunker
