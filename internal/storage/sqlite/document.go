package sqlite

import (
	"context"
	"errors"
	"fmt"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	site "github.com/eugener/mason/internal"
)

// InsertDocument stores a new document. A duplicate (collection, id) yields site.ErrConflict.
func (s *Store) InsertDocument(ctx context.Context, collection, id string, body []byte, at time.Time) error {
	ts := at.UTC().Format(time.RFC3339Nano)
	_, err := s.write.ExecContext(ctx,
		`INSERT INTO documents (collection, id, body, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		collection, id, string(body), ts, ts,
	)
	return conflictErr(err, collection)
}

// GetDocument returns the raw JSON body of one document.
func (s *Store) GetDocument(ctx context.Context, collection, id string) ([]byte, error) {
	var body string
	err := s.read.QueryRowContext(ctx,
		`SELECT body FROM documents WHERE collection = ? AND id = ?`, collection, id,
	).Scan(&body)
	if err != nil {
		return nil, notFoundErr(err)
	}
	return []byte(body), nil
}

// ListDocuments returns every document body in a collection in insertion order.
func (s *Store) ListDocuments(ctx context.Context, collection string) ([][]byte, error) {
	rows, err := s.read.QueryContext(ctx,
		`SELECT body FROM documents WHERE collection = ? ORDER BY created_at, id`, collection)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out [][]byte
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, err
		}
		out = append(out, []byte(body))
	}
	return out, rows.Err()
}

// UpdateDocument replaces the body of an existing document.
func (s *Store) UpdateDocument(ctx context.Context, collection, id string, body []byte, at time.Time) error {
	result, err := s.write.ExecContext(ctx,
		`UPDATE documents SET body=?, updated_at=? WHERE collection=? AND id=?`,
		string(body), at.UTC().Format(time.RFC3339Nano), collection, id,
	)
	if err != nil {
		return err
	}
	return checkRowsAffected(result, collection)
}

// UpsertDocument inserts or replaces a document, keeping the original created_at.
func (s *Store) UpsertDocument(ctx context.Context, collection, id string, body []byte, at time.Time) error {
	ts := at.UTC().Format(time.RFC3339Nano)
	_, err := s.write.ExecContext(ctx,
		`INSERT INTO documents (collection, id, body, created_at, updated_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (collection, id) DO UPDATE SET body=excluded.body, updated_at=excluded.updated_at`,
		collection, id, string(body), ts, ts,
	)
	return err
}

// DeleteDocument removes a document.
func (s *Store) DeleteDocument(ctx context.Context, collection, id string) error {
	result, err := s.write.ExecContext(ctx,
		`DELETE FROM documents WHERE collection=? AND id=?`, collection, id)
	if err != nil {
		return err
	}
	return checkRowsAffected(result, collection)
}

// CountDocuments returns the number of documents in a collection.
func (s *Store) CountDocuments(ctx context.Context, collection string) (int, error) {
	var n int
	err := s.read.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM documents WHERE collection = ?`, collection,
	).Scan(&n)
	return n, err
}

// conflictErr maps SQLite constraint violations to site.ErrConflict.
func conflictErr(err error, entity string) error {
	if err == nil {
		return nil
	}
	var serr *sqlite.Error
	if errors.As(err, &serr) && serr.Code()&0xff == sqlite3.SQLITE_CONSTRAINT {
		return fmt.Errorf("%s: %w", entity, site.ErrConflict)
	}
	return err
}
