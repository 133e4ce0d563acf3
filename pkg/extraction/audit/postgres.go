package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Schema creates the extraction_runs table. Applied by `lexext audit init`.
const Schema = `
CREATE TABLE IF NOT EXISTS extraction_runs (
	id UUID PRIMARY KEY,
	document_id TEXT NOT NULL,
	strategy TEXT NOT NULL,
	prompt_version TEXT,
	model TEXT,
	status TEXT NOT NULL,
	started_at TIMESTAMPTZ NOT NULL,
	completed_at TIMESTAMPTZ,
	duration_ms INTEGER,
	tokens_used INTEGER,
	waves_executed INTEGER,
	waves_failed INTEGER,
	entity_count INTEGER,
	citation_count INTEGER,
	relationship_count INTEGER,
	duplicates_removed INTEGER,
	spans_dropped INTEGER,
	chunks_processed INTEGER,
	timed_out BOOLEAN NOT NULL DEFAULT false,
	error_message TEXT,
	wave_stats JSONB,
	created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_extraction_runs_document ON extraction_runs (document_id);
CREATE INDEX IF NOT EXISTS idx_extraction_runs_started ON extraction_runs (started_at DESC);
`

// PostgresRepository implements Repository using PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

var _ Repository = (*PostgresRepository)(nil)

// NewPostgresRepository creates a new PostgreSQL-backed repository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Connect opens a connection pool to the audit database.
func Connect(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connecting to audit database: %w", err)
	}
	return pool, nil
}

// Init applies the audit schema.
func (r *PostgresRepository) Init(ctx context.Context) error {
	_, err := r.db.Exec(ctx, Schema)
	return err
}

// CreateRun inserts a new run record.
func (r *PostgresRepository) CreateRun(ctx context.Context, run *Run) error {
	query := `
		INSERT INTO extraction_runs (
			id, document_id, strategy, prompt_version, model, status,
			started_at, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := r.db.Exec(ctx, query,
		run.ID,
		run.DocumentID,
		run.Strategy,
		nullString(run.PromptVersion),
		nullString(run.Model),
		string(run.Status),
		run.StartedAt,
		run.CreatedAt,
	)
	return err
}

// UpdateRun writes the outcome of a finished run.
func (r *PostgresRepository) UpdateRun(ctx context.Context, run *Run) error {
	waveStatsJSON, _ := json.Marshal(run.WaveStats)

	query := `
		UPDATE extraction_runs SET
			status = $2, completed_at = $3, duration_ms = $4, tokens_used = $5,
			waves_executed = $6, waves_failed = $7, entity_count = $8,
			citation_count = $9, relationship_count = $10, duplicates_removed = $11,
			spans_dropped = $12, chunks_processed = $13, timed_out = $14,
			error_message = $15, wave_stats = $16
		WHERE id = $1`

	_, err := r.db.Exec(ctx, query,
		run.ID,
		string(run.Status),
		run.CompletedAt,
		run.DurationMs,
		run.TokensUsed,
		run.WavesExecuted,
		run.WavesFailed,
		run.EntityCount,
		run.CitationCount,
		run.RelationshipCount,
		run.DuplicatesRemoved,
		run.SpansDropped,
		run.ChunksProcessed,
		run.TimedOut,
		nullString(run.ErrorMessage),
		waveStatsJSON,
	)
	return err
}

// GetRun retrieves a run by ID.
func (r *PostgresRepository) GetRun(ctx context.Context, id string) (*Run, error) {
	query := `
		SELECT id, document_id, strategy, prompt_version, model, status,
			started_at, completed_at, duration_ms, tokens_used, waves_executed,
			waves_failed, entity_count, citation_count, relationship_count,
			duplicates_removed, spans_dropped, chunks_processed, timed_out,
			error_message, wave_stats, created_at
		FROM extraction_runs WHERE id = $1`

	var run Run
	var promptVersion, model, errorMessage sql.NullString
	var completedAt sql.NullTime
	var durationMs, tokensUsed, wavesExecuted, wavesFailed sql.NullInt32
	var entityCount, citationCount, relationshipCount sql.NullInt32
	var duplicatesRemoved, spansDropped, chunksProcessed sql.NullInt32
	var waveStatsJSON []byte
	var status string

	err := r.db.QueryRow(ctx, query, id).Scan(
		&run.ID, &run.DocumentID, &run.Strategy, &promptVersion, &model, &status,
		&run.StartedAt, &completedAt, &durationMs, &tokensUsed, &wavesExecuted,
		&wavesFailed, &entityCount, &citationCount, &relationshipCount,
		&duplicatesRemoved, &spansDropped, &chunksProcessed, &run.TimedOut,
		&errorMessage, &waveStatsJSON, &run.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	run.PromptVersion = promptVersion.String
	run.Model = model.String
	run.Status = RunStatus(status)
	if completedAt.Valid {
		run.CompletedAt = &completedAt.Time
	}
	run.DurationMs = int(durationMs.Int32)
	run.TokensUsed = int(tokensUsed.Int32)
	run.WavesExecuted = int(wavesExecuted.Int32)
	run.WavesFailed = int(wavesFailed.Int32)
	run.EntityCount = int(entityCount.Int32)
	run.CitationCount = int(citationCount.Int32)
	run.RelationshipCount = int(relationshipCount.Int32)
	run.DuplicatesRemoved = int(duplicatesRemoved.Int32)
	run.SpansDropped = int(spansDropped.Int32)
	run.ChunksProcessed = int(chunksProcessed.Int32)
	run.ErrorMessage = errorMessage.String
	if waveStatsJSON != nil {
		json.Unmarshal(waveStatsJSON, &run.WaveStats)
	}

	return &run, nil
}

// ListRuns lists runs matching the filter, most recent first.
func (r *PostgresRepository) ListRuns(ctx context.Context, filter RunFilter) ([]RunSummary, error) {
	query := `
		SELECT id, document_id, strategy, model, status, entity_count,
			tokens_used, duration_ms, waves_executed, started_at
		FROM extraction_runs
		WHERE 1=1`
	args := []interface{}{}
	argNum := 1

	if filter.DocumentID != "" {
		query += fmt.Sprintf(" AND document_id = $%d", argNum)
		args = append(args, filter.DocumentID)
		argNum++
	}
	if filter.Strategy != "" {
		query += fmt.Sprintf(" AND strategy = $%d", argNum)
		args = append(args, filter.Strategy)
		argNum++
	}
	if filter.Status != nil {
		query += fmt.Sprintf(" AND status = $%d", argNum)
		args = append(args, string(*filter.Status))
		argNum++
	}
	if filter.Model != "" {
		query += fmt.Sprintf(" AND model = $%d", argNum)
		args = append(args, filter.Model)
		argNum++
	}
	if filter.Since != nil {
		query += fmt.Sprintf(" AND started_at >= $%d", argNum)
		args = append(args, *filter.Since)
		argNum++
	}
	if filter.Until != nil {
		query += fmt.Sprintf(" AND started_at <= $%d", argNum)
		args = append(args, *filter.Until)
		argNum++
	}

	query += " ORDER BY started_at DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}
	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET %d", filter.Offset)
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []RunSummary
	for rows.Next() {
		var s RunSummary
		var model sql.NullString
		var entityCount, tokensUsed, durationMs, wavesExecuted sql.NullInt32
		var status string

		err := rows.Scan(
			&s.ID, &s.DocumentID, &s.Strategy, &model, &status,
			&entityCount, &tokensUsed, &durationMs, &wavesExecuted, &s.StartedAt,
		)
		if err != nil {
			return nil, err
		}

		s.Model = model.String
		s.Status = RunStatus(status)
		s.EntityCount = int(entityCount.Int32)
		s.TokensUsed = int(tokensUsed.Int32)
		s.DurationMs = int(durationMs.Int32)
		s.WavesExecuted = int(wavesExecuted.Int32)

		runs = append(runs, s)
	}

	return runs, nil
}

// DeleteOldRuns deletes runs older than the specified number of days.
func (r *PostgresRepository) DeleteOldRuns(ctx context.Context, olderThanDays int) (int, error) {
	cutoff := time.Now().AddDate(0, 0, -olderThanDays)

	result, err := r.db.Exec(ctx,
		"DELETE FROM extraction_runs WHERE created_at < $1",
		cutoff)
	if err != nil {
		return 0, err
	}

	return int(result.RowsAffected()), nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
