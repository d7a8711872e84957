// Package memory indexes fetched page text for retrieval by the web-browser
// tool.
//
// Invariants:
//   - Chunks are scoped by page URL; re-indexing a URL replaces its chunks.
//   - Search combines FTS5 keyword scores with sqlite-vec cosine similarity
//     when an EmbeddingProvider is configured, and is keyword-only otherwise.
//   - Indexing emits a tracing span and a latency metric.
//
// Usage:
//
//	idx, _ := memory.NewPageIndex(memory.IndexConfig{Embeddings: emb})
//	defer idx.Close()
//	_, _ = idx.IndexPage(ctx, memory.Page{URL: url, Text: text})
//	chunks, _ := idx.Search(ctx, url, "pricing", 4)
//	_ = chunks
package memory
