package processor

import (
	"context"
	stderrors "errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/adverant/nexus/ocrlayer-worker/internal/errors"
	"github.com/adverant/nexus/ocrlayer-worker/internal/logging"
	"github.com/adverant/nexus/ocrlayer-worker/internal/pdfdoc"
)

// OutputSuffix is appended to the input stem to name the searchable copy.
const OutputSuffix = "_searchable.pdf"

var errRendererUnavailable = stderrors.New("renderer unavailable")

// DocumentInput is one document of a batch.
type DocumentInput struct {
	Filename string
	Data     []byte
}

// DocumentResult is a serialized searchable document.
type DocumentResult struct {
	Filename   string
	Data       []byte
	PageCount  int
	Pages      []PageResult
	Confidence float64
	Duration   time.Duration
}

// SearchablePages returns the number of pages that received a text layer.
func (r *DocumentResult) SearchablePages() int {
	n := 0
	for i := range r.Pages {
		if r.Pages[i].Searchable() {
			n++
		}
	}
	return n
}

// PageProgressFunc is called after each page with the 1-based page number
// and the page total.
type PageProgressFunc func(page, total int)

// OutputFilename derives the display name of the searchable copy.
func OutputFilename(input string) string {
	base := filepath.Base(strings.ReplaceAll(input, "\\", "/"))
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	if stem == "" || stem == "." || stem == "/" {
		stem = "document"
	}
	return stem + OutputSuffix
}

// DocumentPipeline produces one searchable document.
type DocumentPipeline struct {
	library  pdfdoc.Library
	renderer pdfdoc.Renderer
	pages    *PagePipeline
	opts     Options
	logger   *logging.Logger
}

// NewDocumentPipeline creates a document pipeline around a page pipeline
func NewDocumentPipeline(library pdfdoc.Library, renderer pdfdoc.Renderer, pages *PagePipeline, opts Options, logger *logging.Logger) *DocumentPipeline {
	if logger == nil {
		logger = logging.Nop()
	}
	return &DocumentPipeline{
		library:  library,
		renderer: renderer,
		pages:    pages,
		opts:     opts,
		logger:   logger,
	}
}

// Process loads the input, runs every page in order and serializes the
// result. It fails only when the input cannot be loaded or the output
// cannot be assembled.
func (d *DocumentPipeline) Process(ctx context.Context, in DocumentInput, progress PageProgressFunc) (*DocumentResult, error) {
	start := time.Now()
	log := d.logger.With("filename", in.Filename)

	src, err := d.library.Load(in.Data)
	if err != nil {
		return nil, errors.NewDocumentLoadError(in.Filename, err)
	}
	total := src.PageCount()
	if total == 0 {
		return nil, errors.NewDocumentLoadError(in.Filename, fmt.Errorf("document has no pages"))
	}
	if d.opts.MaxPages > 0 && total > d.opts.MaxPages {
		return nil, errors.NewDocumentLoadError(in.Filename,
			fmt.Errorf("document has %d pages, limit is %d", total, d.opts.MaxPages))
	}
	log.Info("Document loaded", "pages", total, "bytes", len(in.Data))

	out := d.library.Create()
	if err := out.SetMetadata(src.Metadata()); err != nil {
		log.Warn("Metadata not copied", "error", err)
	}

	renderer, err := d.renderer.Open(ctx, src)
	if err != nil {
		log.Warn("Renderer unavailable, pages will be copied without text", "error", err)
		renderer = nil
	} else {
		defer func() {
			if err := renderer.Close(); err != nil {
				log.Warn("Failed to release renderer", "error", err)
			}
		}()
	}

	result := &DocumentResult{
		Filename:  OutputFilename(in.Filename),
		PageCount: total,
		Pages:     make([]PageResult, 0, total),
	}

	var confSum float64
	var recognized int
	for n := 1; n <= total; n++ {
		page, err := d.pages.Run(ctx, src, out, renderer, n)
		if err != nil {
			return nil, errors.NewDocumentSerializeError(in.Filename, fmt.Errorf("page %d: %w", n, err))
		}
		result.Pages = append(result.Pages, *page)
		if page.OCRError == nil {
			confSum += page.Confidence
			recognized++
		}
		if progress != nil {
			progress(n, total)
		}
	}
	if recognized > 0 {
		result.Confidence = confSum / float64(recognized)
	}

	data, err := out.Serialize()
	if err != nil {
		return nil, errors.NewDocumentSerializeError(in.Filename, err)
	}
	if d.opts.VerifyOutput {
		if err := d.verify(data, total); err != nil {
			return nil, errors.NewDocumentSerializeError(in.Filename, err)
		}
	}
	result.Data = data
	result.Duration = time.Since(start)

	log.Info("Document complete",
		"pages", total,
		"searchablePages", result.SearchablePages(),
		"bytes", len(data),
		"duration", result.Duration)

	return result, nil
}

// verify reloads the serialized output and checks the page count.
func (d *DocumentPipeline) verify(data []byte, want int) error {
	check, err := d.library.Load(data)
	if err != nil {
		return fmt.Errorf("output does not reload: %w", err)
	}
	if got := check.PageCount(); got != want {
		return fmt.Errorf("output has %d pages, source has %d", got, want)
	}
	return nil
}
