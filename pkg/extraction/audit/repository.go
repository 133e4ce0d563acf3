// Package audit persists extraction-run records to PostgreSQL so that
// extraction quality and throughput can be inspected after the fact.
package audit

import (
	"context"
	"time"

	"github.com/casemark/lexext-cli/pkg/extraction"
)

// RunStatus is the lifecycle status of an extraction run.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusPartial   RunStatus = "partial"
	RunStatusFailed    RunStatus = "failed"
)

// Run is one audited extraction run.
type Run struct {
	ID            string     `json:"id"`
	DocumentID    string     `json:"document_id"`
	Strategy      string     `json:"strategy"`
	PromptVersion string     `json:"prompt_version,omitempty"`
	Model         string     `json:"model,omitempty"`
	Status        RunStatus  `json:"status"`
	StartedAt     time.Time  `json:"started_at"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
	DurationMs    int        `json:"duration_ms"`

	TokensUsed        int  `json:"tokens_used"`
	WavesExecuted     int  `json:"waves_executed"`
	WavesFailed       int  `json:"waves_failed"`
	EntityCount       int  `json:"entity_count"`
	CitationCount     int  `json:"citation_count"`
	RelationshipCount int  `json:"relationship_count"`
	DuplicatesRemoved int  `json:"duplicates_removed"`
	SpansDropped      int  `json:"spans_dropped"`
	ChunksProcessed   int  `json:"chunks_processed"`
	TimedOut          bool `json:"timed_out"`

	ErrorMessage string                 `json:"error_message,omitempty"`
	WaveStats    []extraction.WaveStats `json:"wave_stats,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// RunSummary is a compact listing row.
type RunSummary struct {
	ID            string    `json:"id"`
	DocumentID    string    `json:"document_id"`
	Strategy      string    `json:"strategy"`
	Model         string    `json:"model,omitempty"`
	Status        RunStatus `json:"status"`
	EntityCount   int       `json:"entity_count"`
	TokensUsed    int       `json:"tokens_used"`
	DurationMs    int       `json:"duration_ms"`
	WavesExecuted int       `json:"waves_executed"`
	StartedAt     time.Time `json:"started_at"`
}

// RunFilter narrows ListRuns.
type RunFilter struct {
	DocumentID string
	Strategy   string
	Status     *RunStatus
	Model      string
	Since      *time.Time
	Until      *time.Time
	Limit      int
	Offset     int
}

// Repository persists extraction runs.
type Repository interface {
	CreateRun(ctx context.Context, run *Run) error
	UpdateRun(ctx context.Context, run *Run) error
	GetRun(ctx context.Context, id string) (*Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]RunSummary, error)
	DeleteOldRuns(ctx context.Context, olderThanDays int) (int, error)
}

// NewRun opens a run record for a document about to be extracted.
func NewRun(id, documentID, strategy, promptVersion, model string) *Run {
	now := time.Now()
	return &Run{
		ID:            id,
		DocumentID:    documentID,
		Strategy:      strategy,
		PromptVersion: promptVersion,
		Model:         model,
		Status:        RunStatusRunning,
		StartedAt:     now,
		CreatedAt:     now,
	}
}

// Complete fills the run from a finished extraction result.
func (r *Run) Complete(result *extraction.ExtractionResult) {
	now := time.Now()
	r.CompletedAt = &now
	r.DurationMs = int(result.Statistics.DurationMs)

	r.TokensUsed = result.TokensUsed
	r.WavesExecuted = result.WavesExecuted
	r.WavesFailed = result.Statistics.WavesFailed
	r.EntityCount = len(result.Entities)
	r.CitationCount = len(result.Citations)
	r.RelationshipCount = len(result.Relationships)
	r.DuplicatesRemoved = result.Statistics.DuplicatesRemoved
	r.SpansDropped = result.Statistics.SpansDropped
	r.ChunksProcessed = result.Statistics.ChunksProcessed
	r.TimedOut = result.Statistics.TimedOut
	r.WaveStats = result.Statistics.Waves

	switch {
	case result.Statistics.Partial:
		r.Status = RunStatusPartial
	default:
		r.Status = RunStatusCompleted
	}
}

// Fail closes the run with an error.
func (r *Run) Fail(err error) {
	now := time.Now()
	r.CompletedAt = &now
	r.Status = RunStatusFailed
	if err != nil {
		r.ErrorMessage = err.Error()
	}
}
