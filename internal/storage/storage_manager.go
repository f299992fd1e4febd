/**
 * Storage Manager for the OCR layer worker
 *
 * Coordinates PostgreSQL (jobs, documents, searchable PDF bytes) and the
 * optional Qdrant page index. Index writes roll back vectors when the
 * PostgreSQL bookkeeping fails.
 */

package storage

import (
	"context"
	"fmt"
	"strings"
	"unicode"
)

// StorageManager coordinates PostgreSQL and Qdrant operations
type StorageManager struct {
	postgres *PostgresClient
	qdrant   *QdrantClient
}

// IndexedPage is one page to add to the vector index
type IndexedPage struct {
	PageNumber int
	Text       string
	Confidence float64
	Vector     []float32
}

// PageIndexInput groups the pages of one stored document
type PageIndexInput struct {
	DocumentID string
	JobID      string
	Filename   string
	Pages      []IndexedPage
}

// NewStorageManager creates a new storage manager. An empty qdrantAddress
// disables the page index.
func NewStorageManager(postgresURL string, qdrantAddress string, qdrantCollection string) (*StorageManager, error) {
	postgres, err := NewPostgresClient(postgresURL)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize PostgreSQL client: %w", err)
	}

	ctx := context.Background()
	if err := postgres.EnsureSchema(ctx); err != nil {
		postgres.Close()
		return nil, err
	}

	sm := &StorageManager{postgres: postgres}
	if qdrantAddress == "" {
		return sm, nil
	}

	qdrant, err := NewQdrantClient(qdrantAddress, qdrantCollection)
	if err != nil {
		postgres.Close()
		return nil, fmt.Errorf("failed to initialize Qdrant client: %w", err)
	}
	sm.qdrant = qdrant

	return sm, nil
}

// HasPageIndex reports whether Qdrant is configured
func (sm *StorageManager) HasPageIndex() bool {
	return sm.qdrant != nil
}

// UpdateJobStatus updates job status in PostgreSQL
func (sm *StorageManager) UpdateJobStatus(ctx context.Context, update *JobUpdate) error {
	return sm.postgres.UpdateJobStatus(ctx, update)
}

// StoreDocumentResult stores one document outcome
func (sm *StorageManager) StoreDocumentResult(ctx context.Context, rec *DocumentRecord) (string, error) {
	return sm.postgres.StoreDocumentResult(ctx, rec)
}

// SetDocumentArtifact records the uploaded artifact of a document
func (sm *StorageManager) SetDocumentArtifact(ctx context.Context, documentID, artifactID, artifactURL string) error {
	return sm.postgres.SetDocumentArtifact(ctx, documentID, artifactID, artifactURL)
}

// IndexDocumentPages writes page vectors to Qdrant, then records the count in
// PostgreSQL. Pages without text are skipped. Returns the number indexed.
func (sm *StorageManager) IndexDocumentPages(ctx context.Context, input *PageIndexInput) (int, error) {
	if sm.qdrant == nil {
		return 0, fmt.Errorf("page index is not configured")
	}
	if input == nil || input.DocumentID == "" {
		return 0, fmt.Errorf("document ID is required")
	}

	points := buildPagePoints(input)
	if len(points) == 0 {
		return 0, nil
	}

	if err := sm.qdrant.UpsertPages(ctx, points); err != nil {
		return 0, fmt.Errorf("failed to store page vectors in Qdrant: %w", err)
	}

	if err := sm.postgres.SetDocumentIndexed(ctx, input.DocumentID, len(points)); err != nil {
		// Rollback: vectors of a document PostgreSQL doesn't know about are unreachable
		sm.qdrant.DeleteDocument(ctx, input.DocumentID)
		return 0, err
	}

	return len(points), nil
}

// SearchPages finds pages similar to queryVector
func (sm *StorageManager) SearchPages(ctx context.Context, queryVector []float32, limit int, jobID string) ([]*PageMatch, error) {
	if sm.qdrant == nil {
		return nil, fmt.Errorf("page index is not configured")
	}
	return sm.qdrant.SearchPages(ctx, queryVector, limit, jobID)
}

// GetDocumentOutput returns the stored searchable PDF of a document
func (sm *StorageManager) GetDocumentOutput(ctx context.Context, documentID string) (string, []byte, error) {
	return sm.postgres.GetDocumentOutput(ctx, documentID)
}

// GetJobByID retrieves job by ID
func (sm *StorageManager) GetJobByID(ctx context.Context, jobID string) (*JobRecord, error) {
	return sm.postgres.GetJobByID(ctx, jobID)
}

// Ping checks PostgreSQL connectivity
func (sm *StorageManager) Ping(ctx context.Context) error {
	return sm.postgres.Ping(ctx)
}

// GetStats returns statistics from both systems
func (sm *StorageManager) GetStats(ctx context.Context) (map[string]interface{}, error) {
	pgStats := sm.postgres.GetStats()

	stats := map[string]interface{}{
		"postgres": map[string]interface{}{
			"max_open_connections": pgStats.MaxOpenConnections,
			"open_connections":     pgStats.OpenConnections,
			"in_use":               pgStats.InUse,
			"idle":                 pgStats.Idle,
			"wait_count":           pgStats.WaitCount,
			"wait_duration":        pgStats.WaitDuration.String(),
		},
	}

	if sm.qdrant != nil {
		qdrantStats, err := sm.qdrant.GetCollectionInfo(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to get Qdrant stats: %w", err)
		}
		stats["qdrant"] = qdrantStats
	}

	return stats, nil
}

// Close closes all connections
func (sm *StorageManager) Close() error {
	var pgErr, qdErr error

	if sm.postgres != nil {
		pgErr = sm.postgres.Close()
	}

	if sm.qdrant != nil {
		qdErr = sm.qdrant.Close()
	}

	if pgErr != nil {
		return fmt.Errorf("failed to close PostgreSQL: %w", pgErr)
	}

	if qdErr != nil {
		return fmt.Errorf("failed to close Qdrant: %w", qdErr)
	}

	return nil
}

func buildPagePoints(input *PageIndexInput) []*PagePoint {
	points := make([]*PagePoint, 0, len(input.Pages))
	for _, page := range input.Pages {
		text := sanitizePageText(page.Text)
		if text == "" || len(page.Vector) == 0 {
			continue
		}
		points = append(points, &PagePoint{
			Vector:     page.Vector,
			JobID:      input.JobID,
			DocumentID: input.DocumentID,
			Filename:   input.Filename,
			PageNumber: page.PageNumber,
			Text:       text,
			Confidence: page.Confidence,
		})
	}
	return points
}

// sanitizePageText drops control characters (except newlines and tabs) and
// trims the result.
func sanitizePageText(text string) string {
	cleaned := strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return r
		}
		if unicode.IsControl(r) || r == unicode.ReplacementChar {
			return -1
		}
		return r
	}, text)
	return strings.TrimSpace(cleaned)
}
