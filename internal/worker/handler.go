/**
 * Job handler
 *
 * Turns a queued job into a batch run: resolves document bytes, runs the
 * batch orchestrator under the processing timeout, then persists each
 * searchable PDF (PostgreSQL, artifact storage, output directory) and
 * indexes recognized page text. Persistence failures are recorded on the
 * document report and never turn a successful OCR result into a failure.
 */

package worker

import (
	"context"
	stderrors "errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/adverant/nexus/ocrlayer-worker/internal/clients"
	"github.com/adverant/nexus/ocrlayer-worker/internal/errors"
	"github.com/adverant/nexus/ocrlayer-worker/internal/logging"
	"github.com/adverant/nexus/ocrlayer-worker/internal/pdfdoc"
	"github.com/adverant/nexus/ocrlayer-worker/internal/processor"
	"github.com/adverant/nexus/ocrlayer-worker/internal/queue"
	"github.com/adverant/nexus/ocrlayer-worker/internal/storage"
)

const sourceService = "ocrlayer-worker"

// BatchProcessor runs a batch of documents
type BatchProcessor interface {
	ProcessBatch(ctx context.Context, docs []processor.DocumentInput, sink processor.ProgressSink) ([]processor.DocumentOutcome, error)
}

// ResultStore persists jobs and document outcomes
type ResultStore interface {
	UpdateJobStatus(ctx context.Context, update *storage.JobUpdate) error
	StoreDocumentResult(ctx context.Context, rec *storage.DocumentRecord) (string, error)
	SetDocumentArtifact(ctx context.Context, documentID, artifactID, artifactURL string) error
}

// PageIndex stores page vectors
type PageIndex interface {
	IndexDocumentPages(ctx context.Context, input *storage.PageIndexInput) (int, error)
}

// Embedder turns page texts into vectors
type Embedder interface {
	GenerateEmbeddingBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// ArtifactUploader uploads searchable PDFs to permanent storage
type ArtifactUploader interface {
	UploadArtifact(ctx context.Context, req *clients.ArtifactUploadRequest) (*clients.Artifact, error)
}

// EventPublisher publishes job events
type EventPublisher interface {
	Publish(ctx context.Context, jobID, status string, fields map[string]interface{}) error
}

// Config wires the handler. Only Batch is required.
type Config struct {
	Batch        BatchProcessor
	Store        ResultStore
	Index        PageIndex
	Embedder     Embedder
	Artifacts    ArtifactUploader
	Events       EventPublisher
	Downloader   *Downloader
	OutputDir    string
	BatchTimeout time.Duration
	Logger       *logging.Logger
}

// Handler processes queued OCR jobs
type Handler struct {
	cfg    Config
	logger *logging.Logger
}

// NewHandler creates a job handler
func NewHandler(cfg Config) (*Handler, error) {
	if cfg.Batch == nil {
		return nil, fmt.Errorf("batch processor is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.NewLogger("JobHandler")
	}
	if cfg.Downloader == nil {
		cfg.Downloader = NewDownloader(0, cfg.Logger)
	}
	return &Handler{cfg: cfg, logger: cfg.Logger}, nil
}

var _ queue.Handler = (*Handler)(nil)

// Handle runs one job. A returned error fails the whole job; per-document
// failures are reported in the result instead.
func (h *Handler) Handle(ctx context.Context, job *queue.JobPayload) (*queue.JobResult, error) {
	if err := job.Validate(); err != nil {
		return nil, queue.Permanent(err)
	}

	start := time.Now()
	log := h.logger.With("job", job.JobID)
	log.Info("Processing job", "documents", len(job.Documents), "user", job.UserID)

	h.updateStatus(ctx, job, &storage.JobUpdate{
		Status:        storage.JobStatusProcessing,
		DocumentCount: len(job.Documents),
	})

	inputs, positions, reports := h.resolveInputs(ctx, job)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	batchCtx := ctx
	if h.cfg.BatchTimeout > 0 {
		var cancel context.CancelFunc
		batchCtx, cancel = context.WithTimeout(ctx, h.cfg.BatchTimeout)
		defer cancel()
	}

	var (
		outcomes []processor.DocumentOutcome
		batchErr error
	)
	if len(inputs) > 0 {
		outcomes, batchErr = h.cfg.Batch.ProcessBatch(batchCtx, inputs, h.progressSink(job, positions))
	}

	var timeoutErr *errors.ProcessingError
	switch {
	case batchErr == nil:
	case ctx.Err() != nil:
		// Shutdown: leave the job for a retry
		log.Warn("Job interrupted", "error", batchErr)
		return nil, batchErr
	case stderrors.Is(batchErr, context.DeadlineExceeded):
		timeoutErr = errors.NewProcessingTimeoutError(job.JobID, h.cfg.BatchTimeout, batchErr)
		log.Error("Job timed out", "timeout", h.cfg.BatchTimeout, "processed", len(outcomes))
	default:
		// Engine unavailable: nothing ran
		log.Error("Batch could not start", "error", batchErr)
		h.updateStatus(ctx, job, &storage.JobUpdate{
			Status:           storage.JobStatusFailed,
			DocumentCount:    len(job.Documents),
			ProcessingTimeMs: time.Since(start).Milliseconds(),
			ErrorCode:        string(errors.CodeOf(batchErr)),
			ErrorMessage:     batchErr.Error(),
		})
		return nil, batchErr
	}

	for i, outcome := range outcomes {
		reports[positions[i]] = h.persist(ctx, job, positions[i], outcome)
	}

	result := summarize(job.JobID, reports, time.Since(start))

	update := &storage.JobUpdate{
		Status:           result.Status,
		DocumentCount:    len(job.Documents),
		Succeeded:        result.Succeeded,
		Failed:           result.Failed,
		Confidence:       result.Confidence,
		ProcessingTimeMs: result.ProcessingTimeMs,
		Metadata:         map[string]interface{}{"documents": result.Documents},
	}
	if timeoutErr != nil {
		update.ErrorCode = string(timeoutErr.Code)
		update.ErrorMessage = timeoutErr.Error()
	}
	h.updateStatus(ctx, job, update)

	log.Info("Job finished",
		"status", result.Status,
		"succeeded", result.Succeeded,
		"failed", result.Failed,
		"duration", time.Since(start))

	if timeoutErr != nil && result.Succeeded == 0 {
		return nil, queue.Permanent(timeoutErr)
	}
	return result, nil
}

// resolveInputs loads document bytes in job order. Documents that cannot be
// loaded get a failed report; the rest are returned with their job position.
func (h *Handler) resolveInputs(ctx context.Context, job *queue.JobPayload) ([]processor.DocumentInput, []int, []queue.DocumentReport) {
	reports := make([]queue.DocumentReport, len(job.Documents))
	inputs := make([]processor.DocumentInput, 0, len(job.Documents))
	positions := make([]int, 0, len(job.Documents))

	for i, doc := range job.Documents {
		reports[i] = queue.DocumentReport{Filename: doc.Filename}

		data := doc.FileBuffer
		if len(data) == 0 {
			downloaded, err := h.cfg.Downloader.Download(ctx, job.JobID, doc.FileURL, doc.FileSize)
			if err != nil {
				h.reject(ctx, job, i, &reports[i], errors.NewDocumentLoadError(doc.Filename, err))
				continue
			}
			data = downloaded
		}

		if !pdfdoc.LooksLikePDF(data) {
			mimeType := detectMimeTypeFromMagicBytes(data)
			if mimeType == "" {
				mimeType = doc.MimeType
			}
			if mimeType == "" {
				mimeType = "application/octet-stream"
			}
			h.reject(ctx, job, i, &reports[i], errors.NewUnsupportedFormatError(job.JobID, mimeType))
			continue
		}

		inputs = append(inputs, processor.DocumentInput{Filename: doc.Filename, Data: data})
		positions = append(positions, i)
	}

	return inputs, positions, reports
}

// reject records a document that never reached the batch
func (h *Handler) reject(ctx context.Context, job *queue.JobPayload, position int, report *queue.DocumentReport, err error) {
	report.Succeeded = false
	report.ErrorCode = string(errors.CodeOf(err))
	report.Reason = err.Error()
	if pe, ok := err.(*errors.ProcessingError); ok {
		report.Reason = pe.Reason()
	}
	log := h.logger.With("job", job.JobID, "filename", report.Filename)
	log.Warn("Document rejected", "error", err)

	h.storeRecord(ctx, &storage.DocumentRecord{
		JobID:        job.JobID,
		Position:     position,
		Filename:     report.Filename,
		ErrorCode:    report.ErrorCode,
		ErrorMessage: err.Error(),
	}, log)
}

// progressSink publishes job:progress events. Document indexes refer to
// the position in the job, not in the resolved subset.
func (h *Handler) progressSink(job *queue.JobPayload, positions []int) processor.ProgressSink {
	if h.cfg.Events == nil {
		return nil
	}
	return processor.ProgressFunc(func(p processor.BatchProgress) {
		document := p.DocumentIndex
		if p.DocumentIndex >= 1 && p.DocumentIndex <= len(positions) {
			document = positions[p.DocumentIndex-1] + 1
		}
		err := h.cfg.Events.Publish(context.Background(), job.JobID, "progress", map[string]interface{}{
			"percent":   p.Percent(),
			"document":  document,
			"documents": len(job.Documents),
			"page":      p.PageIndex,
			"pages":     p.PageTotal,
			"filename":  p.Filename,
		})
		if err != nil {
			h.logger.Debug("Failed to publish progress", "job", job.JobID, "error", err)
		}
	})
}

// persist stores one outcome and returns its report
func (h *Handler) persist(ctx context.Context, job *queue.JobPayload, position int, outcome processor.DocumentOutcome) queue.DocumentReport {
	report := queue.DocumentReport{Filename: outcome.Filename}
	log := h.logger.With("job", job.JobID, "filename", outcome.Filename)

	if !outcome.Succeeded() {
		report.Reason = outcome.Reason()
		report.ErrorCode = string(errors.CodeOf(outcome.Err))
		h.storeRecord(ctx, &storage.DocumentRecord{
			JobID:        job.JobID,
			Position:     position,
			Filename:     outcome.Filename,
			ErrorCode:    report.ErrorCode,
			ErrorMessage: outcome.Err.Error(),
		}, log)
		return report
	}

	res := outcome.Result
	report.Succeeded = true
	report.OutputFilename = res.Filename
	report.OutputSize = len(res.Data)
	report.PageCount = res.PageCount
	report.SearchablePages = res.SearchablePages()
	report.Confidence = res.Confidence

	report.DocumentID = h.storeRecord(ctx, &storage.DocumentRecord{
		JobID:           job.JobID,
		Position:        position,
		Filename:        outcome.Filename,
		OutputFilename:  report.OutputFilename,
		PageCount:       res.PageCount,
		SearchablePages: report.SearchablePages,
		Confidence:      res.Confidence,
		Output:          res.Data,
	}, log)

	if h.cfg.OutputDir != "" {
		path, err := writeOutput(h.cfg.OutputDir, job.JobID, position, report.OutputFilename, res.Data)
		if err != nil {
			log.Error("Failed to write output file", "error", err)
		} else {
			report.OutputPath = path
		}
	}

	if h.cfg.Artifacts != nil {
		artifact, err := h.cfg.Artifacts.UploadArtifact(ctx, &clients.ArtifactUploadRequest{
			FileBuffer:    res.Data,
			Filename:      report.OutputFilename,
			MimeType:      "application/pdf",
			SourceService: sourceService,
			SourceID:      job.JobID,
			Metadata: map[string]interface{}{
				"sourceFilename":  outcome.Filename,
				"pageCount":       res.PageCount,
				"searchablePages": report.SearchablePages,
			},
		})
		if err != nil {
			log.Error("Artifact upload failed", "error", err)
		} else {
			report.ArtifactID = artifact.ID
			report.ArtifactURL = artifact.DownloadURL
			if report.DocumentID != "" && h.cfg.Store != nil {
				if err := h.cfg.Store.SetDocumentArtifact(ctx, report.DocumentID, artifact.ID, artifact.DownloadURL); err != nil {
					log.Warn("Failed to record artifact", "error", err)
				}
			}
		}
	}

	if report.DocumentID != "" {
		report.IndexedPages = h.indexPages(ctx, job.JobID, report.DocumentID, res, log)
	}

	return report
}

func (h *Handler) storeRecord(ctx context.Context, rec *storage.DocumentRecord, log *logging.Logger) string {
	if h.cfg.Store == nil {
		return ""
	}
	id, err := h.cfg.Store.StoreDocumentResult(ctx, rec)
	if err != nil {
		log.Error("Failed to store document result", "error", errors.NewStorageFailedError(rec.JobID, err))
		return ""
	}
	return id
}

// indexPages embeds recognized page text and writes it to the page index
func (h *Handler) indexPages(ctx context.Context, jobID, documentID string, res *processor.DocumentResult, log *logging.Logger) int {
	if h.cfg.Index == nil || h.cfg.Embedder == nil {
		return 0
	}

	var (
		texts []string
		pages []storage.IndexedPage
	)
	for _, page := range res.Pages {
		if !page.Searchable() || page.Text == "" {
			continue
		}
		texts = append(texts, page.Text)
		pages = append(pages, storage.IndexedPage{
			PageNumber: page.PageNumber,
			Text:       page.Text,
			Confidence: page.Confidence,
		})
	}
	if len(texts) == 0 {
		return 0
	}

	vectors, err := h.cfg.Embedder.GenerateEmbeddingBatch(ctx, texts)
	if err != nil {
		log.Warn("Page embedding failed", "error", err)
		return 0
	}
	if len(vectors) != len(pages) {
		log.Warn("Embedding count mismatch", "pages", len(pages), "vectors", len(vectors))
		return 0
	}
	for i := range pages {
		pages[i].Vector = vectors[i]
	}

	indexed, err := h.cfg.Index.IndexDocumentPages(ctx, &storage.PageIndexInput{
		DocumentID: documentID,
		JobID:      jobID,
		Filename:   res.Filename,
		Pages:      pages,
	})
	if err != nil {
		log.Warn("Page indexing failed", "error", err)
		return 0
	}
	return indexed
}

func (h *Handler) updateStatus(ctx context.Context, job *queue.JobPayload, update *storage.JobUpdate) {
	if h.cfg.Store == nil {
		return
	}
	update.JobID = job.JobID
	update.UserID = job.UserID
	if update.Metadata == nil {
		update.Metadata = job.Metadata
	}
	if err := h.cfg.Store.UpdateJobStatus(ctx, update); err != nil {
		h.logger.Warn("Failed to update job status", "job", job.JobID, "status", update.Status, "error", err)
	}
}

// summarize derives the job status: completed when every document
// succeeded, failed when none did, partial otherwise
func summarize(jobID string, reports []queue.DocumentReport, elapsed time.Duration) *queue.JobResult {
	result := &queue.JobResult{
		JobID:            jobID,
		Documents:        reports,
		ProcessingTimeMs: elapsed.Milliseconds(),
	}

	var confidenceSum float64
	for _, r := range reports {
		if r.Succeeded {
			result.Succeeded++
			confidenceSum += r.Confidence
		} else {
			result.Failed++
		}
	}
	if result.Succeeded > 0 {
		result.Confidence = confidenceSum / float64(result.Succeeded)
	}

	switch {
	case result.Failed == 0:
		result.Status = storage.JobStatusCompleted
	case result.Succeeded == 0:
		result.Status = storage.JobStatusFailed
	default:
		result.Status = storage.JobStatusPartial
	}
	return result
}

// writeOutput writes <dir>/<jobID>/<position>-<name>. The position prefix
// keeps outputs of same-named inputs apart.
func writeOutput(dir, jobID string, position int, name string, data []byte) (string, error) {
	jobDir := filepath.Join(dir, filepath.Base(jobID))
	if err := os.MkdirAll(jobDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}
	path := filepath.Join(jobDir, fmt.Sprintf("%03d-%s", position+1, filepath.Base(name)))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", path, err)
	}
	return path, nil
}
