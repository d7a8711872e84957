package memory

import (
	"context"
	"errors"
	"hash/fnv"
	"math"
	"strings"
	"testing"
	"time"
	"unicode"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// wordHashEmbeddings embeds text as a normalized bag of hashed words, so texts
// sharing words have positive cosine similarity.
type wordHashEmbeddings struct {
	dimension int
	err       error
	calls     int
}

func (w *wordHashEmbeddings) Dimension() int { return w.dimension }

func (w *wordHashEmbeddings) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	out, err := w.GenerateEmbeddings(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

func (w *wordHashEmbeddings) GenerateEmbeddings(_ context.Context, texts []string) ([][]float32, error) {
	w.calls++
	if w.err != nil {
		return nil, w.err
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec := make([]float32, w.dimension)
		words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsDigit(r)
		})
		for _, word := range words {
			h := fnv.New32a()
			_, _ = h.Write([]byte(word))
			vec[int(h.Sum32())%w.dimension]++
		}
		var norm float64
		for _, v := range vec {
			norm += float64(v * v)
		}
		if norm > 0 {
			n := float32(math.Sqrt(norm))
			for j := range vec {
				vec[j] /= n
			}
		}
		out[i] = vec
	}
	return out, nil
}

const testPage = `Penguins live in the southern hemisphere and cannot fly.
The stock market closed higher today after strong earnings.
Volcanoes erupt when magma rises to the surface of a planet.`

func newTestIndex(t *testing.T, emb EmbeddingProvider) *PageIndex {
	t.Helper()
	idx, err := NewPageIndex(IndexConfig{
		Embeddings: emb,
		ChunkSize:  70,
		Logger:     zerolog.Nop(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = idx.Close() })
	return idx
}

func TestPageIndex_KeywordOnly(t *testing.T) {
	ctx := context.Background()
	idx := newTestIndex(t, nil)
	assert.False(t, idx.VectorsEnabled())

	n, err := idx.IndexPage(ctx, Page{URL: "https://example.com/a", Text: testPage})
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	t.Run("should rank the matching chunk first", func(t *testing.T) {
		results, err := idx.Search(ctx, "https://example.com/a", "penguins", 2)
		require.NoError(t, err)
		require.NotEmpty(t, results)
		assert.Contains(t, results[0].Content, "Penguins")
		assert.Nil(t, results[0].VectorScore)
		require.NotNil(t, results[0].KeywordScore)
		assert.InDelta(t, 1.0, *results[0].KeywordScore, 1e-9)
	})

	t.Run("should return leading chunks for an empty query", func(t *testing.T) {
		results, err := idx.Search(ctx, "https://example.com/a", "", 2)
		require.NoError(t, err)
		require.Len(t, results, 2)
		assert.Equal(t, 0, results[0].Seq)
		assert.Equal(t, 1, results[1].Seq)
	})

	t.Run("should return leading chunks when nothing matches", func(t *testing.T) {
		results, err := idx.Search(ctx, "https://example.com/a", "zebra", 1)
		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.Equal(t, 0, results[0].Seq)
	})

	t.Run("should scope results to the url", func(t *testing.T) {
		results, err := idx.Search(ctx, "https://example.com/other", "penguins", 4)
		require.NoError(t, err)
		assert.Empty(t, results)
	})
}

func TestPageIndex_Reindex(t *testing.T) {
	ctx := context.Background()
	idx := newTestIndex(t, nil)
	url := "https://example.com/news"

	_, err := idx.IndexPage(ctx, Page{URL: url, Text: testPage})
	require.NoError(t, err)

	t.Run("should skip unchanged content", func(t *testing.T) {
		n, err := idx.IndexPage(ctx, Page{URL: url, Text: testPage})
		require.NoError(t, err)
		assert.Equal(t, 3, n)
	})

	t.Run("should replace chunks when content changes", func(t *testing.T) {
		n, err := idx.IndexPage(ctx, Page{URL: url, Text: "Glaciers move slowly across valleys."})
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		results, err := idx.Search(ctx, url, "", 10)
		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.Contains(t, results[0].Content, "Glaciers")
	})

	t.Run("should require a url", func(t *testing.T) {
		_, err := idx.IndexPage(ctx, Page{Text: "text"})
		assert.Error(t, err)
	})
}

func TestPageIndex_Hybrid(t *testing.T) {
	ctx := context.Background()
	emb := &wordHashEmbeddings{dimension: 256}
	idx := newTestIndex(t, emb)
	if !idx.VectorsEnabled() {
		t.Skip("sqlite-vec not available")
	}
	url := "https://example.com/hybrid"

	_, err := idx.IndexPage(ctx, Page{URL: url, Text: testPage})
	require.NoError(t, err)

	t.Run("should combine vector and keyword scores", func(t *testing.T) {
		results, err := idx.Search(ctx, url, "volcanoes magma", 3)
		require.NoError(t, err)
		require.NotEmpty(t, results)
		assert.Contains(t, results[0].Content, "Volcanoes")
		require.NotNil(t, results[0].VectorScore)
		require.NotNil(t, results[0].KeywordScore)
		assert.Greater(t, results[0].Score, 0.0)
	})

	t.Run("should fail indexing when embeddings fail", func(t *testing.T) {
		emb.err = errors.New("embedding service down")
		defer func() { emb.err = nil }()

		_, err := idx.IndexPage(ctx, Page{URL: "https://example.com/down", Text: "some text"})
		assert.ErrorContains(t, err, "embedding service down")
	})
}

func TestPageIndex_FreshAndPrune(t *testing.T) {
	ctx := context.Background()
	idx := newTestIndex(t, nil)
	url := "https://example.com/fresh"

	assert.False(t, idx.Fresh(ctx, url, time.Hour))

	_, err := idx.IndexPage(ctx, Page{URL: url, Text: testPage})
	require.NoError(t, err)
	assert.True(t, idx.Fresh(ctx, url, time.Hour))

	removed, err := idx.Prune(ctx, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 0, removed)

	removed, err = idx.Prune(ctx, -time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.False(t, idx.Fresh(ctx, url, time.Hour))

	results, err := idx.Search(ctx, url, "", 4)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestQueryTerms(t *testing.T) {
	tests := []struct {
		name  string
		query string
		want  []string
	}{
		{"lowercases and dedupes", "Rust rust GO", []string{"rust", "go"}},
		{"drops punctuation and single runes", `a "quoted" OR x-ray!`, []string{"quoted", "or", "ray"}},
		{"empty", "  ", []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, queryTerms(tt.query))
		})
	}
}
