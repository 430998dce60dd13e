// Package embedder generates vector embeddings for document blocks.
//
// Every provider implements Embedder and reports a fixed Dimension; vectors
// are float32 throughout. Supported providers:
//
//   - openai: OpenAI embeddings API (text-embedding-3-large by default, 3072 dims)
//   - jina:   Jina AI embeddings API (1024 dims)
//   - local:  a local Ollama server (all-minilm by default, 384 dims)
//   - compat: any OpenAI-compatible server, through langchaingo
//   - hash:   deterministic feature hashing, for offline use and tests
//
// # Basic Usage
//
//	emb, err := embedder.NewFromConfig(ctx, embedder.Config{Provider: "openai"}, slog.Default())
//	if err != nil {
//	    log.Fatal(err) // *types.ConfigurationError: nothing usable
//	}
//	defer emb.Close()
//
//	vec, err := embedder.Vector(ctx, emb, "quarterly planning notes")
//
// # Provider Selection
//
// NewFromConfig builds the requested provider. Missing credentials or an
// unreachable endpoint cause a logged fallback to the local provider; when
// that is unavailable too, construction fails with a configuration error.
// An OpenAI key is taken from Config, OPENAI_API_KEY, or the first readable
// secret file (see SecretFilePaths). A key found in a secret file selects the
// openai provider.
//
// # Rate Limiting
//
// The returned embedder is wrapped in Limited, which owns a RateLimiter
// spacing calls at least MinInterval apart (100ms by default). The wait
// honours context cancellation.
//
// # Caching and Retry
//
// Providers accept an optional Cache, an LRU keyed by the SHA-256 of the text.
// Cache hits skip the network entirely. Transient API failures are retried
// with exponential backoff; 4xx responses other than 429 fail immediately.
package embedder
