//go:build sqlite

package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"tistim/internal/model"

	_ "modernc.org/sqlite"
)

type SQLiteStore struct {
	path string

	mu sync.RWMutex
	db *sql.DB
}

func NewSQLiteStore(path string) *SQLiteStore {
	return &SQLiteStore{path: path}
}

func newSQLiteStore(path string) (Store, error) {
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	return NewSQLiteStore(path), nil
}

func DefaultStoreKind() string {
	return "sqlite"
}

func (s *SQLiteStore) Init(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.path == "" {
		return errors.New("sqlite path is required")
	}
	if s.db != nil {
		return nil
	}

	db, err := sql.Open("sqlite", s.path)
	if err != nil {
		return err
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return err
	}

	if err := createTables(ctx, db); err != nil {
		_ = db.Close()
		return err
	}

	s.db = db
	return nil
}

func (s *SQLiteStore) SaveLeadfield(ctx context.Context, record model.LeadfieldRecord) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}

	meta, err := EncodeLeadfieldMeta(record)
	if err != nil {
		return err
	}
	tensor := EncodeTensor(record.Tensor)

	_, err = db.ExecContext(ctx, `
		INSERT INTO leadfields (id, schema_version, codec_version, meta, tensor)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			schema_version = excluded.schema_version,
			codec_version = excluded.codec_version,
			meta = excluded.meta,
			tensor = excluded.tensor
	`, record.ID, record.SchemaVersion, record.CodecVersion, meta, tensor)
	return err
}

func (s *SQLiteStore) GetLeadfield(ctx context.Context, id string) (model.LeadfieldRecord, bool, error) {
	db, err := s.getDB()
	if err != nil {
		return model.LeadfieldRecord{}, false, err
	}

	var meta, tensor []byte
	err = db.QueryRowContext(ctx, `SELECT meta, tensor FROM leadfields WHERE id = ?`, id).Scan(&meta, &tensor)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.LeadfieldRecord{}, false, nil
		}
		return model.LeadfieldRecord{}, false, err
	}

	record, err := DecodeLeadfieldMeta(meta)
	if err != nil {
		return model.LeadfieldRecord{}, false, fmt.Errorf("decode leadfield %s: %w", id, err)
	}
	record.Tensor, err = DecodeTensor(tensor)
	if err != nil {
		return model.LeadfieldRecord{}, false, fmt.Errorf("decode leadfield tensor %s: %w", id, err)
	}
	return record, true, nil
}

func (s *SQLiteStore) ListLeadfields(ctx context.Context) ([]string, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, `SELECT id FROM leadfields ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *SQLiteStore) SaveSearchReport(ctx context.Context, record model.SearchReportRecord) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}

	payload, err := EncodeSearchReport(record)
	if err != nil {
		return err
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO search_reports (run_id, schema_version, codec_version, payload)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(run_id) DO UPDATE SET
			schema_version = excluded.schema_version,
			codec_version = excluded.codec_version,
			payload = excluded.payload
	`, record.RunID, record.SchemaVersion, record.CodecVersion, payload)
	return err
}

func (s *SQLiteStore) GetSearchReport(ctx context.Context, runID string) (model.SearchReportRecord, bool, error) {
	db, err := s.getDB()
	if err != nil {
		return model.SearchReportRecord{}, false, err
	}

	var payload []byte
	err = db.QueryRowContext(ctx, `SELECT payload FROM search_reports WHERE run_id = ?`, runID).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.SearchReportRecord{}, false, nil
		}
		return model.SearchReportRecord{}, false, err
	}

	record, err := DecodeSearchReport(payload)
	if err != nil {
		return model.SearchReportRecord{}, false, fmt.Errorf("decode search report %s: %w", runID, err)
	}
	return record, true, nil
}

func (s *SQLiteStore) SaveParetoFront(ctx context.Context, record model.ParetoFrontRecord) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}

	payload, err := EncodeParetoFront(record)
	if err != nil {
		return err
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO pareto_fronts (run_id, schema_version, codec_version, payload)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(run_id) DO UPDATE SET
			schema_version = excluded.schema_version,
			codec_version = excluded.codec_version,
			payload = excluded.payload
	`, record.RunID, record.SchemaVersion, record.CodecVersion, payload)
	return err
}

func (s *SQLiteStore) GetParetoFront(ctx context.Context, runID string) (model.ParetoFrontRecord, bool, error) {
	db, err := s.getDB()
	if err != nil {
		return model.ParetoFrontRecord{}, false, err
	}

	var payload []byte
	err = db.QueryRowContext(ctx, `SELECT payload FROM pareto_fronts WHERE run_id = ?`, runID).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.ParetoFrontRecord{}, false, nil
		}
		return model.ParetoFrontRecord{}, false, err
	}

	record, err := DecodeParetoFront(payload)
	if err != nil {
		return model.ParetoFrontRecord{}, false, fmt.Errorf("decode pareto front %s: %w", runID, err)
	}
	return record, true, nil
}

func (s *SQLiteStore) SaveRunSummary(ctx context.Context, record model.RunSummaryRecord) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}

	payload, err := EncodeRunSummary(record)
	if err != nil {
		return err
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO run_summaries (run_id, created_at_utc, schema_version, codec_version, payload)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(run_id) DO UPDATE SET
			created_at_utc = excluded.created_at_utc,
			schema_version = excluded.schema_version,
			codec_version = excluded.codec_version,
			payload = excluded.payload
	`, record.RunID, record.CreatedAtUTC, record.SchemaVersion, record.CodecVersion, payload)
	return err
}

func (s *SQLiteStore) ListRunSummaries(ctx context.Context) ([]model.RunSummaryRecord, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, `SELECT payload FROM run_summaries ORDER BY created_at_utc, run_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var summaries []model.RunSummaryRecord
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		record, err := DecodeRunSummary(payload)
		if err != nil {
			return nil, fmt.Errorf("decode run summary: %w", err)
		}
		summaries = append(summaries, record)
	}
	return summaries, rows.Err()
}

func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func (s *SQLiteStore) getDB() (*sql.DB, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.db == nil {
		return nil, errors.New("store is not initialized")
	}
	return s.db, nil
}

func createTables(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS leadfields (
			id TEXT PRIMARY KEY,
			schema_version INTEGER NOT NULL,
			codec_version INTEGER NOT NULL,
			meta BLOB NOT NULL,
			tensor BLOB NOT NULL
		);
		CREATE TABLE IF NOT EXISTS search_reports (
			run_id TEXT PRIMARY KEY,
			schema_version INTEGER NOT NULL,
			codec_version INTEGER NOT NULL,
			payload BLOB NOT NULL
		);
		CREATE TABLE IF NOT EXISTS pareto_fronts (
			run_id TEXT PRIMARY KEY,
			schema_version INTEGER NOT NULL,
			codec_version INTEGER NOT NULL,
			payload BLOB NOT NULL
		);
		CREATE TABLE IF NOT EXISTS run_summaries (
			run_id TEXT PRIMARY KEY,
			created_at_utc TEXT NOT NULL,
			schema_version INTEGER NOT NULL,
			codec_version INTEGER NOT NULL,
			payload BLOB NOT NULL
		);
	`)
	return err
}
