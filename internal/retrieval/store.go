// Package retrieval keeps document passages in sqlite and finds the ones
// relevant to a question with FTS5 BM25 ranking.
package retrieval

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode"

	_ "modernc.org/sqlite"
)

// Passage is one stored chunk of a document.
type Passage struct {
	// ID is source:index.
	ID     string
	Source string
	Text   string
	Score  float64
}

// Source summarizes one ingested document.
type Source struct {
	Path     string
	Passages int
	AddedAt  time.Time
}

// Store persists passages.
type Store struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS sources (
    path     TEXT PRIMARY KEY,
    passages INTEGER NOT NULL,
    added_at DATETIME NOT NULL
);

CREATE VIRTUAL TABLE IF NOT EXISTS passages USING fts5(
    id UNINDEXED,
    source UNINDEXED,
    content,
    tokenize='unicode61'
);
`

// Open opens or creates the store at path. ":memory:" keeps it in memory.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil { //nolint:mnd
			return nil, fmt.Errorf("create retrieval directory: %w", err)
		}
	}

	dsn := path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open retrieval db: %w", err)
	}
	// An in-memory database lives and dies with its connection.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize retrieval schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close() //nolint:wrapcheck
}

// Add splits text into passages and stores them under source, replacing
// whatever was stored for source before. It returns the number of passages.
func (s *Store) Add(ctx context.Context, source, text string) (int, error) {
	chunks := Chunk(text, chunkSize, chunkOverlap)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin add: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if err := deleteSource(ctx, tx, source); err != nil {
		return 0, err
	}
	for i, chunk := range chunks {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO passages(id, source, content) VALUES(?, ?, ?)`,
			fmt.Sprintf("%s:%d", source, i), source, chunk,
		); err != nil {
			return 0, fmt.Errorf("insert passage: %w", err)
		}
	}
	if len(chunks) > 0 {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO sources(path, passages, added_at) VALUES(?, ?, ?)`,
			source, len(chunks), time.Now().UTC(),
		); err != nil {
			return 0, fmt.Errorf("insert source: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit add: %w", err)
	}
	return len(chunks), nil
}

// AddFile stores the contents of a text file under its absolute path.
func (s *Store) AddFile(ctx context.Context, path string) (int, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return 0, fmt.Errorf("resolve %s: %w", path, err)
	}
	bts, err := os.ReadFile(abs)
	if err != nil {
		return 0, fmt.Errorf("read %s: %w", path, err)
	}
	return s.Add(ctx, abs, string(bts))
}

// Search returns up to k passages matching query, best first. A query with
// no searchable words matches nothing.
func (s *Store) Search(ctx context.Context, query string, k int) ([]Passage, error) {
	match := matchQuery(query)
	if match == "" || k <= 0 {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, source, content, bm25(passages) AS score
		FROM passages
		WHERE passages MATCH ?
		ORDER BY bm25(passages)
		LIMIT ?`, match, k)
	if err != nil {
		return nil, fmt.Errorf("search passages: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	var out []Passage
	for rows.Next() {
		var p Passage
		var raw float64
		if err := rows.Scan(&p.ID, &p.Source, &p.Text, &raw); err != nil {
			return nil, fmt.Errorf("scan passage: %w", err)
		}
		// bm25() is negative; more negative is more relevant.
		p.Score = -raw
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("search passages: %w", err)
	}
	return out, nil
}

// Sources lists ingested documents by path.
func (s *Store) Sources(ctx context.Context) ([]Source, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT path, passages, added_at FROM sources ORDER BY path`)
	if err != nil {
		return nil, fmt.Errorf("list sources: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	var out []Source
	for rows.Next() {
		var src Source
		if err := rows.Scan(&src.Path, &src.Passages, &src.AddedAt); err != nil {
			return nil, fmt.Errorf("scan source: %w", err)
		}
		out = append(out, src)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list sources: %w", err)
	}
	return out, nil
}

// Count returns the number of stored passages.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM passages`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count passages: %w", err)
	}
	return n, nil
}

// Remove forgets one document.
func (s *Store) Remove(ctx context.Context, source string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin remove: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck
	if err := deleteSource(ctx, tx, source); err != nil {
		return err
	}
	return tx.Commit() //nolint:wrapcheck
}

// Clear removes every passage.
func (s *Store) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM passages; DELETE FROM sources;`); err != nil {
		return fmt.Errorf("clear retrieval store: %w", err)
	}
	return nil
}

func deleteSource(ctx context.Context, tx *sql.Tx, source string) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM passages WHERE source = ?`, source); err != nil {
		return fmt.Errorf("delete passages: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM sources WHERE path = ?`, source); err != nil {
		return fmt.Errorf("delete source: %w", err)
	}
	return nil
}

// matchQuery turns free text into an FTS5 query that ORs its words, each
// quoted so punctuation cannot be read as query syntax.
func matchQuery(q string) string {
	words := strings.FieldsFunc(strings.ToLower(q), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	for i, w := range words {
		words[i] = `"` + w + `"`
	}
	return strings.Join(words, " OR ")
}
