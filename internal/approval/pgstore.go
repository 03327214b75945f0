package approval

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/LinkingMx/Law-sub002/model"
)

// PgStore is a PostgreSQL-backed Store.
//
// Schema:
//
//	CREATE TABLE document_approval_states (
//	    record_id  TEXT PRIMARY KEY,
//	    state      TEXT NOT NULL,
//	    updated_by TEXT NOT NULL DEFAULT '',
//	    created_at TIMESTAMPTZ NOT NULL,
//	    updated_at TIMESTAMPTZ NOT NULL,
//	    version    INTEGER NOT NULL
//	);
//
//	CREATE TABLE document_approval_transitions (
//	    id         TEXT PRIMARY KEY,
//	    record_id  TEXT NOT NULL,
//	    from_state TEXT NOT NULL,
//	    to_state   TEXT NOT NULL,
//	    actor_id   TEXT NOT NULL,
//	    comment    TEXT NOT NULL DEFAULT '',
//	    at         TIMESTAMPTZ NOT NULL
//	);
//	CREATE INDEX idx_approval_transitions_record
//	    ON document_approval_transitions (record_id, at);
type PgStore struct {
	pool *pgxpool.Pool
}

// NewPgStore creates a PostgreSQL-backed approval store.
func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

// Get retrieves the approval record for a documentation record.
func (s *PgStore) Get(ctx context.Context, recordID string) (Record, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT record_id, state, updated_by, created_at, updated_at, version
		FROM document_approval_states
		WHERE record_id = $1`, recordID)

	var rec Record
	err := row.Scan(&rec.RecordID, &rec.State, &rec.UpdatedBy, &rec.CreatedAt, &rec.UpdatedAt, &rec.Version)
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, model.NewNotFoundError(
			fmt.Sprintf("approval record %q not found", recordID),
		)
	}
	if err != nil {
		return Record{}, fmt.Errorf("querying approval record: %w", err)
	}
	return rec, nil
}

// Create persists a new approval record.
func (s *PgStore) Create(ctx context.Context, rec Record) error {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO document_approval_states
			(record_id, state, updated_by, created_at, updated_at, version)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (record_id) DO NOTHING`,
		rec.RecordID, rec.State, rec.UpdatedBy, rec.CreatedAt, rec.UpdatedAt, rec.Version)
	if err != nil {
		return fmt.Errorf("inserting approval record: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.NewConflictError(
			fmt.Sprintf("approval record %q already exists", rec.RecordID),
		)
	}
	return nil
}

// Update persists an updated record with optimistic locking.
func (s *PgStore) Update(ctx context.Context, rec Record) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE document_approval_states
		SET state = $1, updated_by = $2, updated_at = now(), version = version + 1
		WHERE record_id = $3 AND version = $4`,
		rec.State, rec.UpdatedBy, rec.RecordID, rec.Version)
	if err != nil {
		return fmt.Errorf("updating approval record: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.NewConflictError(
			fmt.Sprintf("approval record %q was modified concurrently", rec.RecordID),
		)
	}
	return nil
}

// AppendTransition adds an entry to a record's history.
func (s *PgStore) AppendTransition(ctx context.Context, tr Transition) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO document_approval_transitions
			(id, record_id, from_state, to_state, actor_id, comment, at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		tr.ID, tr.RecordID, tr.FromState, tr.ToState, tr.ActorID, tr.Comment, tr.At)
	if err != nil {
		return fmt.Errorf("inserting approval transition: %w", err)
	}
	return nil
}

// GetTransitions returns a record's history ordered by time.
func (s *PgStore) GetTransitions(ctx context.Context, recordID string) ([]Transition, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, record_id, from_state, to_state, actor_id, comment, at
		FROM document_approval_transitions
		WHERE record_id = $1
		ORDER BY at`, recordID)
	if err != nil {
		return nil, fmt.Errorf("querying approval transitions: %w", err)
	}
	defer rows.Close()

	var out []Transition
	for rows.Next() {
		var tr Transition
		if err := rows.Scan(&tr.ID, &tr.RecordID, &tr.FromState, &tr.ToState, &tr.ActorID, &tr.Comment, &tr.At); err != nil {
			return nil, fmt.Errorf("scanning approval transition: %w", err)
		}
		out = append(out, tr)
	}
	return out, rows.Err()
}

// HealthCheck verifies the database is reachable.
func (s *PgStore) HealthCheck(ctx context.Context) error {
	return s.pool.Ping(ctx)
}
