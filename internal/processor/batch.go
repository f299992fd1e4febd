/**
 * Batch Orchestrator
 *
 * Runs documents strictly in order against a single OCR engine acquired for
 * the whole batch. A failing document is recorded in its outcome and the
 * batch moves on; the engine is released exactly once on every exit path.
 */

package processor

import (
	"context"
	"fmt"
	"time"

	"github.com/adverant/nexus/ocrlayer-worker/internal/errors"
	"github.com/adverant/nexus/ocrlayer-worker/internal/logging"
	"github.com/adverant/nexus/ocrlayer-worker/internal/ocr"
	"github.com/adverant/nexus/ocrlayer-worker/internal/pdfdoc"
)

// Options tunes the pipeline.
type Options struct {
	RenderScale  float64 // raster scale relative to 72 dpi, must be > 1
	MaxPages     int     // 0 for no limit
	VerifyOutput bool    // reload each output and check its page count
}

// DefaultOptions returns the options used when none are configured.
func DefaultOptions() Options {
	return Options{RenderScale: DefaultRenderScale, VerifyOutput: true}
}

// DocumentOutcome is the result for one input document: either Result or
// Err is set.
type DocumentOutcome struct {
	Filename string
	Result   *DocumentResult
	Err      error
}

// Succeeded reports whether the document produced output bytes.
func (o DocumentOutcome) Succeeded() bool {
	return o.Err == nil && o.Result != nil
}

// Reason returns the short failure description, or "" on success.
func (o DocumentOutcome) Reason() string {
	if o.Err == nil {
		return ""
	}
	if pe, ok := o.Err.(*errors.ProcessingError); ok {
		return pe.Reason()
	}
	return o.Err.Error()
}

// BatchSummary counts succeeded and failed outcomes.
func BatchSummary(outcomes []DocumentOutcome) (succeeded, failed int) {
	for _, o := range outcomes {
		if o.Succeeded() {
			succeeded++
		} else {
			failed++
		}
	}
	return succeeded, failed
}

// Orchestrator processes batches of documents.
type Orchestrator struct {
	engines  ocr.EngineFactory
	library  pdfdoc.Library
	renderer pdfdoc.Renderer
	opts     Options
	logger   *logging.Logger
}

// NewOrchestrator creates a batch orchestrator
func NewOrchestrator(engines ocr.EngineFactory, library pdfdoc.Library, renderer pdfdoc.Renderer, opts Options, logger *logging.Logger) *Orchestrator {
	if opts.RenderScale <= 1 {
		opts.RenderScale = DefaultRenderScale
	}
	if logger == nil {
		logger = logging.NewLogger("Batch")
	}
	return &Orchestrator{
		engines:  engines,
		library:  library,
		renderer: renderer,
		opts:     opts,
		logger:   logger,
	}
}

// ProcessBatch runs every document and returns one outcome per input, in
// input order. The returned error is non-nil only when the engine could not
// be acquired (no outcomes) or ctx was cancelled between documents (the
// remaining documents carry a cancellation outcome).
func (o *Orchestrator) ProcessBatch(ctx context.Context, docs []DocumentInput, sink ProgressSink) ([]DocumentOutcome, error) {
	engine, err := o.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := engine.Close(); err != nil {
			o.logger.Warn("Failed to release OCR engine", "error", err)
		}
	}()

	start := time.Now()
	o.logger.Info("Batch started", "documents", len(docs))

	pipeline := NewDocumentPipeline(o.library, o.renderer,
		NewPagePipeline(engine, o.opts.RenderScale, o.logger), o.opts, o.logger)

	progress := BatchProgress{DocumentTotal: len(docs)}
	report := func() {
		if sink != nil {
			sink.Report(progress)
		}
	}

	outcomes := make([]DocumentOutcome, 0, len(docs))
	for i, doc := range docs {
		if err := ctx.Err(); err != nil {
			for _, rest := range docs[i:] {
				outcomes = append(outcomes, DocumentOutcome{
					Filename: rest.Filename,
					Err:      errors.NewBatchCancelledError(rest.Filename, err),
				})
			}
			o.logger.Warn("Batch cancelled", "processed", i, "remaining", len(docs)-i)
			return outcomes, err
		}

		progress.DocumentIndex = i + 1
		progress.PageIndex = 0
		progress.PageTotal = 0
		progress.Filename = doc.Filename
		report()

		result, err := o.processDocument(ctx, pipeline, doc, func(page, total int) {
			progress.PageIndex = page
			progress.PageTotal = total
			report()
		})
		if err != nil {
			o.logger.Error("Document failed", "filename", doc.Filename, "error", err)
			outcomes = append(outcomes, DocumentOutcome{Filename: doc.Filename, Err: err})
			continue
		}
		outcomes = append(outcomes, DocumentOutcome{Filename: doc.Filename, Result: result})
	}

	succeeded, failed := BatchSummary(outcomes)
	o.logger.Info("Batch complete",
		"succeeded", succeeded,
		"failed", failed,
		"duration", time.Since(start))

	return outcomes, nil
}

func (o *Orchestrator) acquire(ctx context.Context) (ocr.Engine, error) {
	if o.engines == nil {
		return nil, errors.NewEngineUnavailableError("ocr engine", fmt.Errorf("no engine factory configured"))
	}
	if o.library == nil {
		return nil, errors.NewEngineUnavailableError("document library", fmt.Errorf("not configured"))
	}
	if o.renderer == nil {
		return nil, errors.NewEngineUnavailableError("renderer", fmt.Errorf("not configured"))
	}
	engine, err := o.engines.Acquire(ctx)
	if err != nil {
		return nil, errors.NewEngineUnavailableError("ocr engine", err)
	}
	if engine == nil {
		return nil, errors.NewEngineUnavailableError("ocr engine", fmt.Errorf("factory returned no engine"))
	}
	return engine, nil
}

// processDocument isolates a panicking document from the rest of the batch.
func (o *Orchestrator) processDocument(ctx context.Context, pipeline *DocumentPipeline, doc DocumentInput, progress PageProgressFunc) (result *DocumentResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = errors.NewDocumentSerializeError(doc.Filename, fmt.Errorf("panic: %v", r))
		}
	}()
	return pipeline.Process(ctx, doc, progress)
}
