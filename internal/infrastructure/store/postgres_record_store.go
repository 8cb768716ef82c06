package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	_ "github.com/lib/pq"
)

// PostgresRecordStore keeps versioned documents in a single `records` table.
// Writes are conditional on the version column, which gives every record
// compare-and-swap semantics without holding row locks across calls.
type PostgresRecordStore struct {
	db *sql.DB
}

func NewPostgresRecordStore(db *sql.DB) *PostgresRecordStore {
	return &PostgresRecordStore{db: db}
}

func (s *PostgresRecordStore) Get(ctx context.Context, collection, id string) (*Record, error) {
	rec := Record{Collection: collection, ID: id}
	var data []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT version, data, updated_at FROM records WHERE collection = $1 AND id = $2`,
		collection, id,
	).Scan(&rec.Version, &data, &rec.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	rec.Data = data
	return &rec, nil
}

func (s *PostgresRecordStore) Create(ctx context.Context, collection, id string, data any) (*Record, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO records (collection, id, version, data, updated_at)
		 VALUES ($1, $2, 1, $3, $4)
		 ON CONFLICT (collection, id) DO NOTHING`,
		collection, id, raw, now,
	)
	if err != nil {
		return nil, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, ErrAlreadyExists
	}
	return &Record{Collection: collection, ID: id, Version: 1, Data: raw, UpdatedAt: now}, nil
}

func (s *PostgresRecordStore) CompareAndSwap(ctx context.Context, collection, id string, expectedVersion int64, data any) (*Record, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	rec := Record{Collection: collection, ID: id, Data: raw}
	err = s.db.QueryRowContext(ctx,
		`UPDATE records
		 SET data = $4, version = version + 1, updated_at = $5
		 WHERE collection = $1 AND id = $2 AND version = $3
		 RETURNING version, updated_at`,
		collection, id, expectedVersion, raw, time.Now().UTC(),
	).Scan(&rec.Version, &rec.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		if _, getErr := s.Get(ctx, collection, id); errors.Is(getErr, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, ErrVersionConflict
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *PostgresRecordStore) List(ctx context.Context, collection string) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, version, data, updated_at FROM records WHERE collection = $1 ORDER BY id`,
		collection,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		rec := Record{Collection: collection}
		var data []byte
		if err := rows.Scan(&rec.ID, &rec.Version, &data, &rec.UpdatedAt); err != nil {
			return nil, err
		}
		rec.Data = data
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *PostgresRecordStore) Delete(ctx context.Context, collection, id string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM records WHERE collection = $1 AND id = $2`,
		collection, id,
	)
	return err
}

// ConnectPostgres establishes a connection to PostgreSQL
func ConnectPostgres(connStr string) (*sql.DB, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, err
	}

	if err := db.Ping(); err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	return db, nil
}
