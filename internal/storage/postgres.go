/**
 * PostgreSQL Client for the OCR layer worker
 *
 * Persists batch jobs and one row per input document, including the
 * searchable PDF bytes for successful documents.
 */

package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
)

// Job statuses
const (
	JobStatusQueued     = "queued"
	JobStatusProcessing = "processing"
	JobStatusCompleted  = "completed"
	JobStatusPartial    = "partial"
	JobStatusFailed     = "failed"
)

const schemaDDL = `
CREATE SCHEMA IF NOT EXISTS ocrlayer;

CREATE TABLE IF NOT EXISTS ocrlayer.jobs (
	id                 UUID PRIMARY KEY,
	user_id            TEXT NOT NULL DEFAULT 'anonymous',
	status             TEXT NOT NULL,
	document_count     INTEGER NOT NULL DEFAULT 0,
	succeeded          INTEGER NOT NULL DEFAULT 0,
	failed             INTEGER NOT NULL DEFAULT 0,
	confidence         NUMERIC(5,4),
	processing_time_ms BIGINT,
	error_code         TEXT,
	error_message      TEXT,
	metadata           JSONB NOT NULL DEFAULT '{}'::jsonb,
	created_at         TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at         TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS ocrlayer.documents (
	id               UUID PRIMARY KEY,
	job_id           UUID NOT NULL REFERENCES ocrlayer.jobs(id) ON DELETE CASCADE,
	position         INTEGER NOT NULL,
	filename         TEXT NOT NULL,
	output_filename  TEXT,
	page_count       INTEGER NOT NULL DEFAULT 0,
	searchable_pages INTEGER NOT NULL DEFAULT 0,
	confidence       NUMERIC(5,4),
	output           BYTEA,
	output_size      BIGINT NOT NULL DEFAULT 0,
	error_code       TEXT,
	error_message    TEXT,
	artifact_id      TEXT,
	artifact_url     TEXT,
	indexed_pages    INTEGER NOT NULL DEFAULT 0,
	created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	UNIQUE (job_id, position)
);
`

// PostgresClient handles database operations
type PostgresClient struct {
	db *sql.DB
}

// JobUpdate represents a job status update
type JobUpdate struct {
	JobID            string
	UserID           string
	Status           string
	DocumentCount    int
	Succeeded        int
	Failed           int
	Confidence       float64
	ProcessingTimeMs int64
	ErrorCode        string
	ErrorMessage     string
	Metadata         map[string]interface{}
}

// JobRecord is a stored job
type JobRecord struct {
	ID               string
	UserID           string
	Status           string
	DocumentCount    int
	Succeeded        int
	Failed           int
	Confidence       float64
	ProcessingTimeMs int64
	ErrorCode        string
	ErrorMessage     string
	Metadata         map[string]interface{}
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// DocumentRecord is the stored outcome of one input document
type DocumentRecord struct {
	ID              string
	JobID           string
	Position        int
	Filename        string
	OutputFilename  string
	PageCount       int
	SearchablePages int
	Confidence      float64
	Output          []byte
	ErrorCode       string
	ErrorMessage    string
}

// sanitizeConfidence rounds confidence to 4 decimal places and clamps it to
// [0, 1] so it always fits NUMERIC(5,4).
func sanitizeConfidence(confidence float64) float64 {
	if confidence < 0.0 {
		return 0.0
	}
	if confidence > 1.0 {
		return 1.0
	}
	return float64(int(confidence*10000+0.5)) / 10000
}

var (
	nullEscape    = regexp.MustCompile(`\\u0000`)
	controlEscape = regexp.MustCompile(`\\u00[01][0-9a-fA-F]`)
)

// sanitizeJSONForPostgres removes Unicode escapes JSONB rejects. OCR text
// routinely contains stray control characters.
func sanitizeJSONForPostgres(jsonBytes []byte) []byte {
	result := nullEscape.ReplaceAll(jsonBytes, []byte{})
	return controlEscape.ReplaceAll(result, []byte(" "))
}

// NewPostgresClient creates a new PostgreSQL client
func NewPostgresClient(databaseURL string) (*PostgresClient, error) {
	if databaseURL == "" {
		return nil, fmt.Errorf("database URL is required")
	}

	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Output PDFs are large; keep the pool small
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(2 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresClient{db: db}, nil
}

// EnsureSchema creates the ocrlayer schema and tables if missing
func (p *PostgresClient) EnsureSchema(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, schemaDDL); err != nil {
		return fmt.Errorf("failed to ensure schema: %w", err)
	}
	return nil
}

// UpdateJobStatus upserts the job row
func (p *PostgresClient) UpdateJobStatus(ctx context.Context, update *JobUpdate) error {
	if update.JobID == "" {
		return fmt.Errorf("job ID is required")
	}
	if update.Status == "" {
		return fmt.Errorf("status is required")
	}

	confidence := sanitizeConfidence(update.Confidence)

	metadataJSON, err := json.Marshal(update.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}
	metadataJSON = sanitizeJSONForPostgres(metadataJSON)

	// Counters only move forward: a late "processing" update never clears
	// the totals of a finished job.
	query := `
		INSERT INTO ocrlayer.jobs (
			id, user_id, status, document_count, succeeded, failed,
			confidence, processing_time_ms, error_code, error_message, metadata,
			created_at, updated_at
		) VALUES (
			$1::uuid, COALESCE(NULLIF($2, ''), 'anonymous'), $3, $4, $5, $6,
			NULLIF($7::NUMERIC(5,4), 0), NULLIF($8, 0), NULLIF($9, ''), NULLIF($10, ''),
			COALESCE(NULLIF($11, 'null')::jsonb, '{}'::jsonb),
			NOW(), NOW()
		)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			document_count = GREATEST(EXCLUDED.document_count, ocrlayer.jobs.document_count),
			succeeded = GREATEST(EXCLUDED.succeeded, ocrlayer.jobs.succeeded),
			failed = GREATEST(EXCLUDED.failed, ocrlayer.jobs.failed),
			confidence = COALESCE(EXCLUDED.confidence, ocrlayer.jobs.confidence),
			processing_time_ms = COALESCE(EXCLUDED.processing_time_ms, ocrlayer.jobs.processing_time_ms),
			error_code = EXCLUDED.error_code,
			error_message = EXCLUDED.error_message,
			metadata = ocrlayer.jobs.metadata || EXCLUDED.metadata,
			updated_at = NOW()
		RETURNING id
	`

	var returnedID string
	err = p.db.QueryRowContext(
		ctx,
		query,
		update.JobID,            // $1
		update.UserID,           // $2
		update.Status,           // $3
		update.DocumentCount,    // $4
		update.Succeeded,        // $5
		update.Failed,           // $6
		confidence,              // $7
		update.ProcessingTimeMs, // $8
		update.ErrorCode,        // $9
		update.ErrorMessage,     // $10
		string(metadataJSON),    // $11
	).Scan(&returnedID)

	if err != nil {
		return fmt.Errorf("failed to update job status (job=%s, status=%s, confidence=%.4f): %w",
			update.JobID, update.Status, confidence, err)
	}

	return nil
}

// StoreDocumentResult inserts (or replaces, on retry) one document row and
// returns its id
func (p *PostgresClient) StoreDocumentResult(ctx context.Context, rec *DocumentRecord) (string, error) {
	if rec.JobID == "" {
		return "", fmt.Errorf("job ID is required")
	}
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}

	query := `
		INSERT INTO ocrlayer.documents (
			id, job_id, position, filename, output_filename, page_count,
			searchable_pages, confidence, output, output_size, error_code, error_message,
			created_at
		) VALUES (
			$1::uuid, $2::uuid, $3, $4, NULLIF($5, ''), $6,
			$7, NULLIF($8::NUMERIC(5,4), 0), $9, $10, NULLIF($11, ''), NULLIF($12, ''),
			NOW()
		)
		ON CONFLICT (job_id, position) DO UPDATE SET
			filename = EXCLUDED.filename,
			output_filename = EXCLUDED.output_filename,
			page_count = EXCLUDED.page_count,
			searchable_pages = EXCLUDED.searchable_pages,
			confidence = EXCLUDED.confidence,
			output = EXCLUDED.output,
			output_size = EXCLUDED.output_size,
			error_code = EXCLUDED.error_code,
			error_message = EXCLUDED.error_message
		RETURNING id
	`

	var id string
	err := p.db.QueryRowContext(
		ctx,
		query,
		rec.ID,
		rec.JobID,
		rec.Position,
		rec.Filename,
		rec.OutputFilename,
		rec.PageCount,
		rec.SearchablePages,
		sanitizeConfidence(rec.Confidence),
		rec.Output,
		int64(len(rec.Output)),
		rec.ErrorCode,
		rec.ErrorMessage,
	).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("failed to store document result (job=%s, position=%d): %w", rec.JobID, rec.Position, err)
	}

	return id, nil
}

// SetDocumentArtifact records where the searchable PDF was uploaded
func (p *PostgresClient) SetDocumentArtifact(ctx context.Context, documentID, artifactID, artifactURL string) error {
	_, err := p.db.ExecContext(ctx,
		`UPDATE ocrlayer.documents SET artifact_id = $2, artifact_url = NULLIF($3, '') WHERE id = $1::uuid`,
		documentID, artifactID, artifactURL)
	if err != nil {
		return fmt.Errorf("failed to record artifact for document %s: %w", documentID, err)
	}
	return nil
}

// SetDocumentIndexed records how many pages were added to the vector index
func (p *PostgresClient) SetDocumentIndexed(ctx context.Context, documentID string, pages int) error {
	_, err := p.db.ExecContext(ctx,
		`UPDATE ocrlayer.documents SET indexed_pages = $2 WHERE id = $1::uuid`,
		documentID, pages)
	if err != nil {
		return fmt.Errorf("failed to record indexed pages for document %s: %w", documentID, err)
	}
	return nil
}

// GetDocumentOutput returns the stored searchable PDF of a document
func (p *PostgresClient) GetDocumentOutput(ctx context.Context, documentID string) (filename string, output []byte, err error) {
	var name sql.NullString
	err = p.db.QueryRowContext(ctx,
		`SELECT output_filename, output FROM ocrlayer.documents WHERE id = $1::uuid`,
		documentID).Scan(&name, &output)
	if err == sql.ErrNoRows {
		return "", nil, fmt.Errorf("document not found: %s", documentID)
	}
	if err != nil {
		return "", nil, fmt.Errorf("failed to get document output: %w", err)
	}
	if len(output) == 0 {
		return "", nil, fmt.Errorf("document %s has no output", documentID)
	}
	return name.String, output, nil
}

// GetJobByID retrieves a job by ID
func (p *PostgresClient) GetJobByID(ctx context.Context, jobID string) (*JobRecord, error) {
	if jobID == "" {
		return nil, fmt.Errorf("job ID is required")
	}

	query := `
		SELECT
			id, user_id, status, document_count, succeeded, failed,
			confidence, processing_time_ms, error_code, error_message,
			metadata, created_at, updated_at
		FROM ocrlayer.jobs
		WHERE id = $1::uuid
	`

	var (
		job              JobRecord
		confidence       sql.NullFloat64
		processingTimeMs sql.NullInt64
		errorCode        sql.NullString
		errorMessage     sql.NullString
		metadataJSON     []byte
	)

	err := p.db.QueryRowContext(ctx, query, jobID).Scan(
		&job.ID, &job.UserID, &job.Status, &job.DocumentCount, &job.Succeeded, &job.Failed,
		&confidence, &processingTimeMs, &errorCode, &errorMessage,
		&metadataJSON, &job.CreatedAt, &job.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("job not found: %s", jobID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	job.Confidence = confidence.Float64
	job.ProcessingTimeMs = processingTimeMs.Int64
	job.ErrorCode = errorCode.String
	job.ErrorMessage = errorMessage.String
	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &job.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}

	return &job, nil
}

// Ping checks database connectivity
func (p *PostgresClient) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

// Close closes the database connection
func (p *PostgresClient) Close() error {
	if p.db != nil {
		return p.db.Close()
	}
	return nil
}

// GetStats returns connection pool statistics
func (p *PostgresClient) GetStats() sql.DBStats {
	return p.db.Stats()
}
