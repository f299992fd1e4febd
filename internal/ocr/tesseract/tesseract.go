/**
 * Tesseract OCR engine
 *
 * One gosseract client is created per acquisition and reused for every page
 * of a batch; Close releases the underlying TessBaseAPI.
 */

package tesseract

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/otiai10/gosseract/v2"

	"github.com/adverant/nexus/ocrlayer-worker/internal/geometry"
	"github.com/adverant/nexus/ocrlayer-worker/internal/logging"
	"github.com/adverant/nexus/ocrlayer-worker/internal/ocr"
)

// Config holds Tesseract configuration
type Config struct {
	Languages []string
	PSM       int // page segmentation mode, 0 keeps the library default
	DPI       int // user_defined_dpi hint, 0 to leave unset
}

// Factory acquires Tesseract engines.
type Factory struct {
	cfg           Config
	clientFactory func() *gosseract.Client
	logger        *logging.Logger
}

// NewFactory creates a Tesseract engine factory
func NewFactory(cfg Config, logger *logging.Logger) *Factory {
	if len(cfg.Languages) == 0 {
		cfg.Languages = []string{"eng"}
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &Factory{cfg: cfg, clientFactory: gosseract.NewClient, logger: logger}
}

// Acquire creates and configures a client. The returned engine must be
// closed by the caller.
func (f *Factory) Acquire(ctx context.Context) (ocr.Engine, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := f.checkLanguages(); err != nil {
		return nil, err
	}

	client := f.clientFactory()
	if err := client.SetLanguage(f.cfg.Languages...); err != nil {
		client.Close()
		return nil, fmt.Errorf("set languages: %w", err)
	}
	if f.cfg.PSM > 0 {
		if err := client.SetPageSegMode(gosseract.PageSegMode(f.cfg.PSM)); err != nil {
			client.Close()
			return nil, fmt.Errorf("set page segmentation mode: %w", err)
		}
	}
	if f.cfg.DPI > 0 {
		if err := client.SetVariable(gosseract.SettableVariable("user_defined_dpi"), fmt.Sprint(f.cfg.DPI)); err != nil {
			client.Close()
			return nil, fmt.Errorf("set dpi: %w", err)
		}
	}

	f.logger.Info("Tesseract engine acquired", "version", gosseract.Version(), "languages", strings.Join(f.cfg.Languages, "+"))
	return &Engine{client: client}, nil
}

// checkLanguages fails when the traineddata directory is readable and does
// not contain a configured language.
func (f *Factory) checkLanguages() error {
	available, err := gosseract.GetAvailableLanguages()
	if err != nil {
		f.logger.Warn("Could not list tessdata languages", "error", err)
		return nil
	}
	have := make(map[string]bool, len(available))
	for _, l := range available {
		have[l] = true
	}
	for _, l := range f.cfg.Languages {
		if !have[l] {
			return fmt.Errorf("tesseract language %q is not installed", l)
		}
	}
	return nil
}

// Engine wraps one gosseract client.
type Engine struct {
	mu     sync.Mutex
	client *gosseract.Client
	closed bool
}

// Recognize performs OCR on one encoded image.
func (e *Engine) Recognize(ctx context.Context, image []byte) (*ocr.Output, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil, fmt.Errorf("tesseract engine is closed")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(image) == 0 {
		return &ocr.Output{}, nil
	}

	if err := e.client.SetImageFromBytes(image); err != nil {
		return nil, fmt.Errorf("failed to set image: %w", err)
	}

	text, err := e.client.Text()
	if err != nil {
		return nil, fmt.Errorf("tesseract OCR failed: %w", err)
	}

	words, avgConf := extractWords(e.client)
	if len(words) == 0 {
		avgConf = ocr.EstimateConfidence(text)
	}

	return &ocr.Output{
		Words:      words,
		Text:       text,
		Confidence: avgConf,
	}, nil
}

// Close releases the client. Calling Close more than once is a no-op.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	return e.client.Close()
}

// extractWords reads word-level boxes. A failure here is not fatal: the
// caller falls back to the whole-page text.
func extractWords(c *gosseract.Client) ([]ocr.RecognizedWord, float64) {
	boxes, err := c.GetBoundingBoxes(gosseract.RIL_WORD)
	if err != nil || len(boxes) == 0 {
		return nil, 0
	}
	words := make([]ocr.RecognizedWord, 0, len(boxes))
	var sum float64
	for _, b := range boxes {
		conf := b.Confidence / 100.0
		sum += conf
		words = append(words, ocr.RecognizedWord{
			Text:       b.Word,
			Confidence: conf,
			Box: geometry.Box{
				X0: float64(b.Box.Min.X),
				Y0: float64(b.Box.Min.Y),
				X1: float64(b.Box.Max.X),
				Y1: float64(b.Box.Max.Y),
			},
		})
	}
	return words, sum / float64(len(words))
}
