package memory

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	"github.com/harun/agentapi/internal/observability"
	"github.com/harun/agentapi/internal/tracing"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

func init() {
	sqlite_vec.Auto()
}

const (
	defaultVectorWeight  = 0.7
	defaultKeywordWeight = 0.3
)

// Page is fetched page text to index.
type Page struct {
	URL   string
	Title string
	Text  string
}

// Chunk is a search hit.
type Chunk struct {
	ID           string   `json:"id"`
	URL          string   `json:"url"`
	Seq          int      `json:"seq"`
	Content      string   `json:"content"`
	Score        float64  `json:"score"`
	VectorScore  *float64 `json:"vector_score,omitempty"`
	KeywordScore *float64 `json:"keyword_score,omitempty"`
}

// IndexConfig configures a PageIndex.
type IndexConfig struct {
	// DBPath is the sqlite database file. Empty keeps the index in memory.
	DBPath string
	// Embeddings enables vector search. Nil leaves the index keyword-only.
	Embeddings   EmbeddingProvider
	ChunkSize    int
	ChunkOverlap int
	Logger       zerolog.Logger
}

// PageIndex stores page chunks and answers hybrid keyword/vector queries
// scoped to a single URL.
type PageIndex struct {
	db         *sql.DB
	embeddings EmbeddingProvider
	logger     zerolog.Logger
	size       int
	overlap    int
	fts        bool
	vectors    bool

	mu sync.Mutex
}

// NewPageIndex opens the database and creates the schema. FTS5 and vec0 are
// used when the linked sqlite supports them; otherwise keyword scoring falls
// back to term counting and vector search is disabled.
func NewPageIndex(cfg IndexConfig) (*PageIndex, error) {
	observability.EnsureRegistered()

	dsn := ":memory:"
	if cfg.DBPath != "" {
		dsn = cfg.DBPath
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A private in-memory database lives on exactly one connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	size := cfg.ChunkSize
	if size <= 0 {
		size = DefaultChunkSize
	}
	overlap := cfg.ChunkOverlap
	if overlap <= 0 {
		overlap = DefaultChunkOverlap
	}
	if overlap >= size {
		overlap = size / 10
	}

	idx := &PageIndex{
		db:         db,
		embeddings: cfg.Embeddings,
		logger:     cfg.Logger,
		size:       size,
		overlap:    overlap,
	}
	if err := idx.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return idx, nil
}

func (p *PageIndex) initSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS pages (
			url TEXT PRIMARY KEY,
			title TEXT NOT NULL DEFAULT '',
			content_hash TEXT NOT NULL,
			indexed_at INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS chunks (
			id TEXT PRIMARY KEY,
			url TEXT NOT NULL,
			seq INTEGER NOT NULL,
			content TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_chunks_url ON chunks(url);
	`
	if _, err := p.db.Exec(schema); err != nil {
		return err
	}

	ftsSchema := `
		CREATE VIRTUAL TABLE IF NOT EXISTS chunks_fts USING fts5(
			chunk_id UNINDEXED,
			content,
			tokenize='porter unicode61'
		);
	`
	if _, err := p.db.Exec(ftsSchema); err != nil {
		p.logger.Warn().Err(err).Msg("FTS5 unavailable, using term-count keyword scoring")
	} else {
		p.fts = true
	}

	if p.embeddings != nil {
		vectorSchema := fmt.Sprintf(`
			CREATE VIRTUAL TABLE IF NOT EXISTS embeddings USING vec0(
				chunk_id TEXT PRIMARY KEY,
				embedding float[%d] distance_metric=cosine
			);
		`, p.embeddings.Dimension())
		if _, err := p.db.Exec(vectorSchema); err != nil {
			p.logger.Warn().Err(err).Msg("sqlite-vec unavailable, vector search disabled")
		} else {
			p.vectors = true
		}
	}
	return nil
}

// VectorsEnabled reports whether searches use embeddings.
func (p *PageIndex) VectorsEnabled() bool {
	return p.vectors
}

// IndexPage replaces any chunks stored for page.URL with fresh chunks of
// page.Text and returns how many were stored. Unchanged content is skipped.
func (p *PageIndex) IndexPage(ctx context.Context, page Page) (int, error) {
	ctx, span := tracing.StartSpan(ctx, tracing.TracerMemory, "memory.index_page",
		attribute.String("url", page.URL),
	)
	defer span.End()
	start := time.Now()

	n, err := p.indexPage(ctx, page)
	observability.RecordPageIndex(time.Since(start))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, err
	}
	span.SetAttributes(attribute.Int("chunks", n))
	return n, nil
}

func (p *PageIndex) indexPage(ctx context.Context, page Page) (int, error) {
	if strings.TrimSpace(page.URL) == "" {
		return 0, errors.New("page url is required")
	}

	hash := contentHash(page.Text)

	p.mu.Lock()
	defer p.mu.Unlock()

	var existing string
	err := p.db.QueryRowContext(ctx, "SELECT content_hash FROM pages WHERE url = ?", page.URL).Scan(&existing)
	if err == nil && existing == hash {
		var count int
		if err := p.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM chunks WHERE url = ?", page.URL).Scan(&count); err != nil {
			return 0, err
		}
		p.logger.Debug().Str("url", page.URL).Int("chunks", count).Msg("Page unchanged, skipping index")
		return count, nil
	}
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("failed to look up page: %w", err)
	}

	texts := SplitText(page.Text, p.size, p.overlap)

	var vectors [][]float32
	if p.vectors && len(texts) > 0 {
		vectors, err = p.embeddings.GenerateEmbeddings(ctx, texts)
		if err != nil {
			return 0, fmt.Errorf("failed to generate embeddings: %w", err)
		}
		if len(vectors) != len(texts) {
			return 0, fmt.Errorf("got %d embeddings for %d chunks", len(vectors), len(texts))
		}
	}

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	if err := p.deleteChunks(ctx, tx, page.URL); err != nil {
		return 0, err
	}

	prefix := urlKey(page.URL)
	for i, text := range texts {
		id := fmt.Sprintf("%s-%d", prefix, i)
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO chunks (id, url, seq, content) VALUES (?, ?, ?, ?)",
			id, page.URL, i, text,
		); err != nil {
			return 0, fmt.Errorf("failed to insert chunk: %w", err)
		}
		if p.fts {
			if _, err := tx.ExecContext(ctx,
				"INSERT INTO chunks_fts (chunk_id, content) VALUES (?, ?)", id, text,
			); err != nil {
				return 0, fmt.Errorf("failed to insert chunk into FTS: %w", err)
			}
		}
		if p.vectors {
			embeddingJSON, err := json.Marshal(vectors[i])
			if err != nil {
				return 0, fmt.Errorf("failed to marshal embedding: %w", err)
			}
			if _, err := tx.ExecContext(ctx,
				"INSERT INTO embeddings (chunk_id, embedding) VALUES (?, ?)",
				id, string(embeddingJSON),
			); err != nil {
				return 0, fmt.Errorf("failed to store embedding: %w", err)
			}
		}
	}

	if _, err := tx.ExecContext(ctx,
		"INSERT OR REPLACE INTO pages (url, title, content_hash, indexed_at) VALUES (?, ?, ?, ?)",
		page.URL, page.Title, hash, time.Now().Unix(),
	); err != nil {
		return 0, fmt.Errorf("failed to record page: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}

	p.logger.Debug().Str("url", page.URL).Int("chunks", len(texts)).Bool("vectors", p.vectors).Msg("Page indexed")
	return len(texts), nil
}

func (p *PageIndex) deleteChunks(ctx context.Context, tx *sql.Tx, url string) error {
	rows, err := tx.QueryContext(ctx, "SELECT id FROM chunks WHERE url = ?", url)
	if err != nil {
		return fmt.Errorf("failed to list chunks: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for _, id := range ids {
		if p.fts {
			if _, err := tx.ExecContext(ctx, "DELETE FROM chunks_fts WHERE chunk_id = ?", id); err != nil {
				return fmt.Errorf("failed to delete FTS row: %w", err)
			}
		}
		if p.vectors {
			if _, err := tx.ExecContext(ctx, "DELETE FROM embeddings WHERE chunk_id = ?", id); err != nil {
				return fmt.Errorf("failed to delete embedding: %w", err)
			}
		}
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM chunks WHERE url = ?", url); err != nil {
		return fmt.Errorf("failed to delete chunks: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM pages WHERE url = ?", url); err != nil {
		return fmt.Errorf("failed to delete page: %w", err)
	}
	return nil
}

// Search returns up to limit chunks of url ranked against query. An empty
// query, or one with no searchable terms, returns the leading chunks in page
// order.
func (p *PageIndex) Search(ctx context.Context, url, query string, limit int) ([]Chunk, error) {
	ctx, span := tracing.StartSpan(ctx, tracing.TracerMemory, "memory.search",
		attribute.String("url", url),
		attribute.Int("limit", limit),
	)
	defer span.End()

	results, err := p.search(ctx, url, query, limit)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int("results", len(results)))
	return results, nil
}

func (p *PageIndex) search(ctx context.Context, url, query string, limit int) ([]Chunk, error) {
	if limit <= 0 {
		limit = 4
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	terms := queryTerms(query)
	if len(terms) == 0 {
		return p.leadingChunks(ctx, url, limit)
	}

	// Scores are computed over every chunk of the page before truncation.
	keyword, err := p.keywordScores(ctx, url, terms)
	if err != nil {
		return nil, fmt.Errorf("keyword search failed: %w", err)
	}

	var vector map[string]float64
	if p.vectors {
		vector, err = p.vectorScores(ctx, url, query)
		if err != nil {
			p.logger.Warn().Err(err).Str("url", url).Msg("Vector search failed, using keyword results only")
			vector = nil
		}
	}

	if len(keyword) == 0 && len(vector) == 0 {
		return p.leadingChunks(ctx, url, limit)
	}

	return p.merge(ctx, vector, keyword, limit)
}

// vectorScores maps chunk id to cosine similarity for every chunk of url.
func (p *PageIndex) vectorScores(ctx context.Context, url, query string) (map[string]float64, error) {
	embedding, err := p.embeddings.GenerateEmbedding(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to generate query embedding: %w", err)
	}
	embeddingJSON, err := json.Marshal(embedding)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal embedding: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, `
		SELECT e.chunk_id, vec_distance_cosine(e.embedding, ?) AS distance
		FROM embeddings e
		JOIN chunks c ON c.id = e.chunk_id
		WHERE c.url = ?
	`, string(embeddingJSON), url)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	scores := make(map[string]float64)
	for rows.Next() {
		var id string
		var distance float64
		if err := rows.Scan(&id, &distance); err != nil {
			return nil, err
		}
		scores[id] = 1.0 - distance
	}
	return scores, rows.Err()
}

// keywordScores maps chunk id to a positive relevance score for chunks of url
// that match at least one term.
func (p *PageIndex) keywordScores(ctx context.Context, url string, terms []string) (map[string]float64, error) {
	if !p.fts {
		return p.termCountScores(ctx, url, terms)
	}

	quoted := make([]string, len(terms))
	for i, t := range terms {
		quoted[i] = `"` + t + `"`
	}

	rows, err := p.db.QueryContext(ctx, `
		SELECT f.chunk_id, bm25(chunks_fts) AS score
		FROM chunks_fts f
		JOIN chunks c ON c.id = f.chunk_id
		WHERE chunks_fts MATCH ? AND c.url = ?
	`, strings.Join(quoted, " OR "), url)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	scores := make(map[string]float64)
	for rows.Next() {
		var id string
		var score float64
		if err := rows.Scan(&id, &score); err != nil {
			return nil, err
		}
		// bm25 is lower-is-better and negative.
		scores[id] = -score
	}
	return scores, rows.Err()
}

func (p *PageIndex) termCountScores(ctx context.Context, url string, terms []string) (map[string]float64, error) {
	chunks, err := p.loadChunks(ctx, "SELECT id, url, seq, content FROM chunks WHERE url = ? ORDER BY seq", url)
	if err != nil {
		return nil, err
	}
	scores := make(map[string]float64)
	for _, c := range chunks {
		lower := strings.ToLower(c.Content)
		var hits int
		for _, t := range terms {
			hits += strings.Count(lower, t)
		}
		if hits > 0 {
			scores[c.ID] = float64(hits)
		}
	}
	return scores, nil
}

func (p *PageIndex) merge(ctx context.Context, vector, keyword map[string]float64, limit int) ([]Chunk, error) {
	var maxKeyword float64
	for _, s := range keyword {
		if s > maxKeyword {
			maxKeyword = s
		}
	}

	ids := make(map[string]struct{}, len(vector)+len(keyword))
	for id := range vector {
		ids[id] = struct{}{}
	}
	for id := range keyword {
		ids[id] = struct{}{}
	}

	vectorWeight, keywordWeight := defaultVectorWeight, defaultKeywordWeight
	if vector == nil {
		vectorWeight, keywordWeight = 0, 1
	}

	type scored struct {
		id      string
		score   float64
		vec     *float64
		keyword *float64
	}
	ranked := make([]scored, 0, len(ids))
	for id := range ids {
		var s scored
		s.id = id
		if v, ok := vector[id]; ok {
			// Cosine similarity [-1, 1] mapped to [0, 1].
			n := (v + 1) / 2
			s.vec = &n
			s.score += n * vectorWeight
		}
		if k, ok := keyword[id]; ok && maxKeyword > 0 {
			n := k / maxKeyword
			s.keyword = &n
			s.score += n * keywordWeight
		}
		ranked = append(ranked, s)
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].score == ranked[j].score {
			return ranked[i].id < ranked[j].id
		}
		return ranked[i].score > ranked[j].score
	})
	if len(ranked) > limit {
		ranked = ranked[:limit]
	}

	results := make([]Chunk, 0, len(ranked))
	for _, s := range ranked {
		var c Chunk
		err := p.db.QueryRowContext(ctx,
			"SELECT id, url, seq, content FROM chunks WHERE id = ?", s.id,
		).Scan(&c.ID, &c.URL, &c.Seq, &c.Content)
		if err != nil {
			p.logger.Warn().Err(err).Str("chunk_id", s.id).Msg("Failed to fetch chunk")
			continue
		}
		c.Score = s.score
		c.VectorScore = s.vec
		c.KeywordScore = s.keyword
		results = append(results, c)
	}
	return results, nil
}

func (p *PageIndex) leadingChunks(ctx context.Context, url string, limit int) ([]Chunk, error) {
	return p.loadChunks(ctx, "SELECT id, url, seq, content FROM chunks WHERE url = ? ORDER BY seq LIMIT ?", url, limit)
}

func (p *PageIndex) loadChunks(ctx context.Context, query string, args ...interface{}) ([]Chunk, error) {
	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Chunk
	for rows.Next() {
		var c Chunk
		if err := rows.Scan(&c.ID, &c.URL, &c.Seq, &c.Content); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// Fresh reports whether url was indexed within maxAge.
func (p *PageIndex) Fresh(ctx context.Context, url string, maxAge time.Duration) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	var indexedAt int64
	err := p.db.QueryRowContext(ctx, "SELECT indexed_at FROM pages WHERE url = ?", url).Scan(&indexedAt)
	if err != nil {
		return false
	}
	return time.Since(time.Unix(indexedAt, 0)) <= maxAge
}

// Prune drops pages indexed more than maxAge ago and returns how many were removed.
func (p *PageIndex) Prune(ctx context.Context, maxAge time.Duration) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	cutoff := time.Now().Add(-maxAge).Unix()
	rows, err := p.db.QueryContext(ctx, "SELECT url FROM pages WHERE indexed_at < ?", cutoff)
	if err != nil {
		return 0, err
	}
	var stale []string
	for rows.Next() {
		var url string
		if err := rows.Scan(&url); err != nil {
			rows.Close()
			return 0, err
		}
		stale = append(stale, url)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}
	if len(stale) == 0 {
		return 0, nil
	}

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()
	for _, url := range stale {
		if err := p.deleteChunks(ctx, tx, url); err != nil {
			return 0, err
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}

	p.logger.Debug().Int("pages", len(stale)).Msg("Pruned stale pages")
	return len(stale), nil
}

// Close closes the database.
func (p *PageIndex) Close() error {
	return p.db.Close()
}

// queryTerms lowercases query and keeps alphanumeric runs of two or more runes.
func queryTerms(query string) []string {
	fields := strings.FieldsFunc(strings.ToLower(query), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	seen := make(map[string]struct{}, len(fields))
	terms := make([]string, 0, len(fields))
	for _, f := range fields {
		if len([]rune(f)) < 2 {
			continue
		}
		if _, ok := seen[f]; ok {
			continue
		}
		seen[f] = struct{}{}
		terms = append(terms, f)
	}
	return terms
}

func contentHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

func urlKey(url string) string {
	sum := sha256.Sum256([]byte(url))
	return hex.EncodeToString(sum[:6])
}
