// Package retrieval stores embedded course documents in SQLite and answers
// nearest-neighbour queries over them.
package retrieval

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"

	_ "modernc.org/sqlite" // SQLite driver registration

	"tutor-agent/internal/domain"
)

const (
	defaultCollection  = "course_docs"
	defaultBusyTimeout = 5000
	schemaVersion      = 1
)

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS chunks (
		id         TEXT NOT NULL,
		collection TEXT NOT NULL,
		source     TEXT NOT NULL,
		content    TEXT NOT NULL,
		embedding  BLOB NOT NULL,
		PRIMARY KEY (collection, id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_chunks_source ON chunks (collection, source)`,
}

// Embedder turns texts into vectors, one per input, in input order.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

type Store struct {
	db         *sql.DB
	collection string
	embedder   Embedder
	maxChars   int
	logger     *slog.Logger
}

type Option func(*Store)

func WithCollection(name string) Option {
	return func(s *Store) {
		if n := strings.TrimSpace(name); n != "" {
			s.collection = n
		}
	}
}

// WithMaxChunkChars bounds the size of ingested chunks.
func WithMaxChunkChars(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.maxChars = n
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// Open opens (creating if needed) the SQLite database at path. The caller
// must Close the store.
func Open(ctx context.Context, path string, embedder Embedder, opts ...Option) (*Store, error) {
	if embedder == nil {
		return nil, errors.New("retrieval: embedder must not be nil")
	}
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("retrieval: database path must not be empty")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("retrieval: create directory %s: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("retrieval: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("retrieval: enable WAL: %w", err)
	}
	if _, err := db.ExecContext(ctx, fmt.Sprintf("PRAGMA busy_timeout=%d", defaultBusyTimeout)); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("retrieval: set busy_timeout: %w", err)
	}
	if err := migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &Store{
		db:         db,
		collection: defaultCollection,
		embedder:   embedder,
		maxChars:   defaultMaxChars,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, "CREATE TABLE IF NOT EXISTS schema_version (version INTEGER PRIMARY KEY)"); err != nil {
		return fmt.Errorf("retrieval: create schema_version: %w", err)
	}
	var current int
	if err := db.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&current); err != nil {
		return fmt.Errorf("retrieval: read schema version: %w", err)
	}
	if current >= schemaVersion {
		return nil
	}
	for _, stmt := range schemaStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("retrieval: migrate: %w", err)
		}
	}
	if _, err := db.ExecContext(ctx, "INSERT OR REPLACE INTO schema_version (version) VALUES (?)", schemaVersion); err != nil {
		return fmt.Errorf("retrieval: record schema version: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// AddDocument chunks, embeds and stores text under the given source label,
// replacing any chunks previously stored for that source. It returns the
// number of chunks written.
func (s *Store) AddDocument(ctx context.Context, source, text string) (int, error) {
	source = strings.TrimSpace(source)
	if source == "" {
		return 0, errors.New("retrieval: source must not be empty")
	}
	chunks := ChunkDocument(source, text, s.maxChars)
	if len(chunks) == 0 {
		return 0, fmt.Errorf("retrieval: document %q has no text", source)
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	vectors, err := s.embedder.Embed(ctx, texts)
	if err != nil {
		return 0, fmt.Errorf("retrieval: embed %q: %w", source, err)
	}
	if len(vectors) != len(chunks) {
		return 0, fmt.Errorf("retrieval: embed %q: got %d vectors for %d chunks", source, len(vectors), len(chunks))
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("retrieval: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, "DELETE FROM chunks WHERE collection = ? AND source = ?", s.collection, source); err != nil {
		return 0, fmt.Errorf("retrieval: clear %q: %w", source, err)
	}
	for i, c := range chunks {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO chunks (id, collection, source, content, embedding) VALUES (?, ?, ?, ?, ?)
			 ON CONFLICT (collection, id) DO UPDATE SET source = excluded.source, content = excluded.content, embedding = excluded.embedding`,
			c.ID, s.collection, c.Source, c.Text, encodeVector(vectors[i]))
		if err != nil {
			return 0, fmt.Errorf("retrieval: insert chunk %s: %w", c.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("retrieval: commit: %w", err)
	}

	s.logger.Info("document ingested", "source", source, "chunks", len(chunks), "collection", s.collection)
	return len(chunks), nil
}

// Count reports the number of chunks in the collection.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM chunks WHERE collection = ?", s.collection).Scan(&n); err != nil {
		return 0, fmt.Errorf("retrieval: count: %w", err)
	}
	return n, nil
}

type scored struct {
	passage domain.Passage
	score   float32
}

// Query returns up to k passages ranked by cosine similarity to text. It
// returns domain.ErrRetrievalUnavailable when the collection is empty.
func (s *Store) Query(ctx context.Context, text string, k int) ([]domain.Passage, error) {
	if k <= 0 {
		return nil, nil
	}
	n, err := s.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrRetrievalUnavailable, err)
	}
	if n == 0 {
		return nil, domain.ErrRetrievalUnavailable
	}

	vectors, err := s.embedder.Embed(ctx, []string{text})
	if err != nil {
		return nil, fmt.Errorf("retrieval: embed query: %w", err)
	}
	if len(vectors) != 1 {
		return nil, errors.New("retrieval: embed query: unexpected vector count")
	}
	query := vectors[0]

	rows, err := s.db.QueryContext(ctx, "SELECT source, content, embedding FROM chunks WHERE collection = ?", s.collection)
	if err != nil {
		return nil, fmt.Errorf("retrieval: scan chunks: %w", err)
	}
	defer rows.Close()

	var results []scored
	for rows.Next() {
		var source, content string
		var blob []byte
		if err := rows.Scan(&source, &content, &blob); err != nil {
			return nil, fmt.Errorf("retrieval: read chunk: %w", err)
		}
		results = append(results, scored{
			passage: domain.Passage{Content: content, SourceLabel: source},
			score:   cosine(query, decodeVector(blob)),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("retrieval: scan chunks: %w", err)
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].score > results[j].score
	})
	if k > len(results) {
		k = len(results)
	}
	out := make([]domain.Passage, k)
	for i := range out {
		out[i] = results[i].passage
	}
	return out, nil
}

func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(b []byte) []float32 {
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return v
}

func cosine(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	denom := math.Sqrt(normA) * math.Sqrt(normB)
	if denom == 0 {
		return 0
	}
	return float32(dot / denom)
}
