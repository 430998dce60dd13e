// Package indexer turns documents on disk into stored, embedded blocks.
//
// # Basic Usage
//
//	idx := indexer.New(store, emb, indexer.Options{OnWrite: searcher.InvalidateCache})
//
//	res, err := idx.IndexDocument(ctx, "/notes/today.md", indexer.IndexOptions{
//	    Tags: []string{"daily"},
//	})
//
// # Pipeline
//
// IndexDocument runs one document through:
//
//  1. Read the file and compute its MD5 content hash
//  2. Skip it when the stored hash, tags and date already match (unless Force)
//  3. Resolve the content date: explicit option, else front matter
//     last_edited, else front matter created
//  4. Chunk with the structural or simple strategy
//  5. Embed every chunk in batches of 32
//  6. Replace the resource, its blocks and vectors in one transaction
//
// Embedding finishes before the transaction opens, so a provider failure
// never leaves a half-written document behind.
//
// # Bulk Indexing
//
// IndexPaths and IndexTree fan documents out over an errgroup limited to
// Options.Workers. Paths are normalized and deduplicated first. A failed
// document is counted in Statistics and does not stop the run:
//
//	stats, err := idx.IndexTree(ctx, []string{"/notes"}, nil, indexer.IndexOptions{})
//	if stats.FilesFailed > 0 {
//	    for _, msg := range stats.ErrorMessages {
//	        log.Println(msg)
//	    }
//	}
//
// # Watching
//
// Watcher uses fsnotify to keep the store in sync with a directory tree.
// Events are debounced, then each changed path is re-indexed or deleted.
package indexer
