package processor

import (
	"context"
	"strings"

	"github.com/adverant/nexus/ocrlayer-worker/internal/errors"
	"github.com/adverant/nexus/ocrlayer-worker/internal/geometry"
	"github.com/adverant/nexus/ocrlayer-worker/internal/logging"
	"github.com/adverant/nexus/ocrlayer-worker/internal/ocr"
	"github.com/adverant/nexus/ocrlayer-worker/internal/pdfdoc"
)

// DefaultRenderScale renders pages at 144 dpi.
const DefaultRenderScale = 2.0

// PageStage is the furthest point a page reached in the pipeline.
type PageStage int

const (
	StagePending PageStage = iota
	StageRendered
	StageRecognized
	StageNormalized
	StageCopied
	StageComposited
)

func (s PageStage) String() string {
	switch s {
	case StageRendered:
		return "rendered"
	case StageRecognized:
		return "recognized"
	case StageNormalized:
		return "normalized"
	case StageCopied:
		return "copied"
	case StageComposited:
		return "composited"
	default:
		return "pending"
	}
}

// PageResult describes one processed page.
type PageResult struct {
	PageNumber int
	Stage      PageStage
	Text       string
	Fragments  int
	Dropped    int // unmappable or outside the page
	Skipped    int // rejected by the document library
	Confidence float64

	// OCRError is the render or recognize failure that left the page
	// without a text layer.
	OCRError error
}

// Searchable reports whether the page received at least one text run.
func (r *PageResult) Searchable() bool {
	return r.Fragments > 0
}

// PagePipeline runs one page through render, recognize, normalize, copy and
// composite.
type PagePipeline struct {
	engine     ocr.Engine
	compositor *Compositor
	scale      float64
	logger     *logging.Logger
}

// NewPagePipeline creates a page pipeline bound to an acquired engine
func NewPagePipeline(engine ocr.Engine, scale float64, logger *logging.Logger) *PagePipeline {
	if scale <= 1 {
		scale = DefaultRenderScale
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &PagePipeline{
		engine:     engine,
		compositor: NewCompositor(logger),
		scale:      scale,
		logger:     logger,
	}
}

// Run processes page pageNumber of src into out. OCR failures degrade the
// page to a plain copy; only a failed copy is returned as an error.
func (p *PagePipeline) Run(ctx context.Context, src pdfdoc.Source, out pdfdoc.Output, renderer pdfdoc.PageRenderer, pageNumber int) (*PageResult, error) {
	result := &PageResult{PageNumber: pageNumber}

	fragments, err := p.recognize(ctx, src, renderer, result)
	if err != nil {
		result.OCRError = err
		p.logger.Warn("Page passed through without text layer", "page", pageNumber, "error", err)
	}

	page, err := out.CopyPage(src, pageNumber)
	if err != nil {
		return result, err
	}
	result.Stage = StageCopied

	if len(fragments) > 0 {
		result.Fragments, result.Skipped = p.compositor.Composite(page, fragments)
	}
	result.Stage = StageComposited

	p.logger.Debug("Page complete",
		"page", pageNumber,
		"fragments", result.Fragments,
		"dropped", result.Dropped,
		"skipped", result.Skipped)

	return result, nil
}

func (p *PagePipeline) recognize(ctx context.Context, src pdfdoc.Source, renderer pdfdoc.PageRenderer, result *PageResult) ([]Fragment, error) {
	n := result.PageNumber
	if renderer == nil {
		return nil, errors.NewPageRenderError(n, errRendererUnavailable)
	}

	pageSize, err := src.PageSize(n)
	if err != nil {
		return nil, errors.NewPageRenderError(n, err)
	}

	raster, err := renderer.RenderPage(ctx, n, p.scale)
	if err != nil {
		return nil, errors.NewPageRenderError(n, err)
	}
	result.Stage = StageRendered

	out, err := p.engine.Recognize(ctx, raster.Image)
	if err != nil {
		return nil, errors.NewPageRecognizeError(n, err)
	}
	result.Stage = StageRecognized
	if out == nil {
		out = &ocr.Output{}
	}
	result.Text = strings.TrimSpace(out.Text)
	result.Confidence = out.Confidence

	precursors := ocr.Normalize(out, ocr.DefaultFallbackLayout(raster.Scale))
	fragments := make([]Fragment, 0, len(precursors))
	for _, pc := range precursors {
		anchor, ok := geometry.MapBox(pc.Box, raster.Size(), pageSize)
		if !ok || !anchor.Within(pageSize) {
			result.Dropped++
			continue
		}
		fragments = append(fragments, Fragment{Text: pc.Text, Anchor: anchor})
	}
	result.Stage = StageNormalized

	return fragments, nil
}
