package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/andresmejia3/facegroup/internal/cluster"
	"github.com/andresmejia3/facegroup/internal/types"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"
)

// ErrRunNotFound is returned when a run ID is unknown.
var ErrRunNotFound = errors.New("run not found")

// Store manages the PostgreSQL connection and pgvector operations.
// Saved runs are an archive: they are never read back into a new pass.
type Store struct {
	conn *pgx.Conn
}

// Run describes one saved pass.
type Run struct {
	ID         string
	InputPath  string
	Threshold  float64
	Policy     string
	Images     int
	Failed     int
	Identities int
	Faces      int
	CreatedAt  time.Time
}

// New establishes a connection to the database and ensures the schema is initialized.
func New(ctx context.Context, connString string) (*Store, error) {
	conn, err := pgx.Connect(ctx, connString)
	if err != nil {
		return nil, err
	}

	// Initialize schema (Auto-Migration)
	if err := initSchema(ctx, conn); err != nil {
		conn.Close(ctx)
		return nil, fmt.Errorf("failed to initialize database schema: %w", err)
	}

	return &Store{conn: conn}, nil
}

// initSchema creates the necessary tables and vector extension if they don't exist (Auto-Migration).
func initSchema(ctx context.Context, conn *pgx.Conn) error {
	query := `
		CREATE EXTENSION IF NOT EXISTS vector;
		CREATE TABLE IF NOT EXISTS group_runs (
			id UUID PRIMARY KEY,
			input_path TEXT NOT NULL,
			threshold DOUBLE PRECISION NOT NULL,
			policy TEXT NOT NULL,
			image_count INT NOT NULL,
			failed_count INT NOT NULL,
			created_at TIMESTAMPTZ DEFAULT NOW()
		);
		CREATE TABLE IF NOT EXISTS identities (
			run_id UUID NOT NULL REFERENCES group_runs(id) ON DELETE CASCADE,
			ordinal INT NOT NULL,
			name TEXT NOT NULL,
			embedding VECTOR NOT NULL,
			PRIMARY KEY (run_id, ordinal),
			UNIQUE (run_id, name)
		);
		CREATE TABLE IF NOT EXISTS observations (
			id BIGSERIAL PRIMARY KEY,
			run_id UUID NOT NULL,
			identity_ordinal INT NOT NULL,
			position INT NOT NULL,
			source_id TEXT NOT NULL,
			path TEXT NOT NULL,
			image_hash TEXT NOT NULL DEFAULT '',
			box INT[] NOT NULL,
			embedding VECTOR NOT NULL,
			FOREIGN KEY (run_id, identity_ordinal) REFERENCES identities(run_id, ordinal) ON DELETE CASCADE
		);
		CREATE INDEX IF NOT EXISTS observations_run_idx ON observations (run_id, identity_ordinal, position);
	`
	_, err := conn.Exec(ctx, query)
	return err
}

// Close terminates the database connection.
func (s *Store) Close(ctx context.Context) {
	s.conn.Close(ctx)
}

// toVector converts an embedding to pgvector's float32 storage.
func toVector(e types.Embedding) pgvector.Vector {
	f := make([]float32, len(e))
	for i, v := range e {
		f[i] = float32(v)
	}
	return pgvector.NewVector(f)
}

func fromVector(v pgvector.Vector) types.Embedding {
	f := v.Slice()
	e := make(types.Embedding, len(f))
	for i, x := range f {
		e[i] = float64(x)
	}
	return e
}

// SavePass stores a finished partition and returns the new run ID.
// hashes maps image paths to fingerprints and may be nil.
func (s *Store) SavePass(ctx context.Context, run Run, p cluster.Partition, hashes map[string]string) (string, error) {
	id := uuid.NewString()

	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return "", err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
		INSERT INTO group_runs (id, input_path, threshold, policy, image_count, failed_count)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, id, run.InputPath, run.Threshold, run.Policy, run.Images, run.Failed); err != nil {
		return "", fmt.Errorf("insert run: %w", err)
	}

	batch := &pgx.Batch{}
	for ord, c := range p {
		batch.Queue(`INSERT INTO identities (run_id, ordinal, name, embedding) VALUES ($1, $2, $3, $4::vector)`,
			id, ord, c.Name, toVector(c.Representative))
	}
	for ord, c := range p {
		for pos, obs := range c.Observations {
			box := []int32{int32(obs.Box.Top), int32(obs.Box.Right), int32(obs.Box.Bottom), int32(obs.Box.Left)}
			batch.Queue(`
				INSERT INTO observations (run_id, identity_ordinal, position, source_id, path, image_hash, box, embedding)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8::vector)
			`, id, ord, pos, obs.SourceID, obs.Path, hashes[obs.Path], box, toVector(obs.Embedding))
		}
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return "", fmt.Errorf("insert partition: %w", err)
	}

	return id, tx.Commit(ctx)
}

// ListRuns returns saved runs, newest first.
func (s *Store) ListRuns(ctx context.Context) ([]Run, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT r.id::text, r.input_path, r.threshold, r.policy, r.image_count, r.failed_count, r.created_at,
			(SELECT COUNT(*) FROM identities i WHERE i.run_id = r.id),
			(SELECT COUNT(*) FROM observations o WHERE o.run_id = r.id)
		FROM group_runs r
		ORDER BY r.created_at DESC, r.id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		var identities, faces int64
		if err := rows.Scan(&r.ID, &r.InputPath, &r.Threshold, &r.Policy, &r.Images, &r.Failed, &r.CreatedAt, &identities, &faces); err != nil {
			return nil, err
		}
		r.Identities = int(identities)
		r.Faces = int(faces)
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// LatestRunID returns the most recent run, or ErrRunNotFound when nothing was saved.
func (s *Store) LatestRunID(ctx context.Context) (string, error) {
	var id string
	err := s.conn.QueryRow(ctx, `SELECT id::text FROM group_runs ORDER BY created_at DESC, id LIMIT 1`).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrRunNotFound
	}
	return id, err
}

// LoadRun rebuilds the partition of a saved run in its original order.
func (s *Store) LoadRun(ctx context.Context, id string) (Run, cluster.Partition, error) {
	if _, err := uuid.Parse(id); err != nil {
		return Run{}, nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}

	run := Run{ID: id}
	err := s.conn.QueryRow(ctx, `
		SELECT input_path, threshold, policy, image_count, failed_count, created_at
		FROM group_runs WHERE id = $1
	`, id).Scan(&run.InputPath, &run.Threshold, &run.Policy, &run.Images, &run.Failed, &run.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Run{}, nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	if err != nil {
		return Run{}, nil, err
	}

	rows, err := s.conn.Query(ctx, `SELECT name, embedding::text FROM identities WHERE run_id = $1 ORDER BY ordinal`, id)
	if err != nil {
		return Run{}, nil, err
	}
	var p cluster.Partition
	for rows.Next() {
		var c cluster.Cluster
		var vec pgvector.Vector
		if err := rows.Scan(&c.Name, &vec); err != nil {
			rows.Close()
			return Run{}, nil, err
		}
		c.Representative = fromVector(vec)
		p = append(p, c)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return Run{}, nil, err
	}

	rows, err = s.conn.Query(ctx, `
		SELECT identity_ordinal, source_id, path, box, embedding::text
		FROM observations WHERE run_id = $1
		ORDER BY identity_ordinal, position
	`, id)
	if err != nil {
		return Run{}, nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var ord int
		var obs cluster.FaceObservation
		var box []int32
		var vec pgvector.Vector
		if err := rows.Scan(&ord, &obs.SourceID, &obs.Path, &box, &vec); err != nil {
			return Run{}, nil, err
		}
		if ord < 0 || ord >= len(p) || len(box) != 4 {
			return Run{}, nil, fmt.Errorf("corrupt observation row for run %s", id)
		}
		obs.Box = types.Box{Top: int(box[0]), Right: int(box[1]), Bottom: int(box[2]), Left: int(box[3])}
		obs.Embedding = fromVector(vec)
		p[ord].Observations = append(p[ord].Observations, obs)
	}
	if err := rows.Err(); err != nil {
		return Run{}, nil, err
	}

	run.Identities = len(p)
	run.Faces = p.Observations()
	return run, p, nil
}

// DeleteRun removes one saved run and everything attached to it.
func (s *Store) DeleteRun(ctx context.Context, id string) error {
	tag, err := s.conn.Exec(ctx, `DELETE FROM group_runs WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return nil
}

// Reset drops all application tables to clear the database state.
// This is useful for development to force a schema refresh without migrations.
func (s *Store) Reset(ctx context.Context) error {
	_, err := s.conn.Exec(ctx, `
		DROP TABLE IF EXISTS observations CASCADE;
		DROP TABLE IF EXISTS identities CASCADE;
		DROP TABLE IF EXISTS group_runs CASCADE;
	`)
	return err
}
