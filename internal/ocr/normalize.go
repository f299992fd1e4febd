package ocr

import (
	"strings"

	"github.com/adverant/nexus/ocrlayer-worker/internal/geometry"
)

// FallbackLayout places whole-text lines when the engine returned no word
// geometry. All values are raster pixels. The placement is a heuristic: it
// only guarantees that the text exists on the page, not where.
type FallbackLayout struct {
	LeftMargin  float64
	TopMargin   float64
	FontSize    float64
	LineSpacing float64 // multiple of FontSize between baselines
	CharWidth   float64 // multiple of FontSize per character
}

// DefaultFallbackLayout returns the fallback layout for a raster rendered at
// the given scale relative to 72 dpi.
func DefaultFallbackLayout(scale float64) FallbackLayout {
	if scale <= 0 {
		scale = 1
	}
	return FallbackLayout{
		LeftMargin:  50 * scale,
		TopMargin:   50 * scale,
		FontSize:    12 * scale,
		LineSpacing: 1.5,
		CharWidth:   0.5,
	}
}

// Normalize converts engine output into raster-space precursors. Words with
// geometry are preferred; otherwise each non-blank line of the whole-page
// text gets a synthesized box. Degenerate boxes are skipped individually,
// and when no word survives the whole-page text is used instead.
func Normalize(out *Output, layout FallbackLayout) []Precursor {
	if out == nil {
		return nil
	}
	if words := normalizeWords(out.Words); len(words) > 0 {
		return words
	}
	return normalizeLines(out.Text, layout)
}

func normalizeWords(words []RecognizedWord) []Precursor {
	result := make([]Precursor, 0, len(words))
	for _, w := range words {
		text := strings.TrimSpace(w.Text)
		if text == "" || w.Box.Degenerate() {
			continue
		}
		result = append(result, Precursor{Text: text, Box: w.Box})
	}
	return result
}

func normalizeLines(text string, layout FallbackLayout) []Precursor {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	step := layout.FontSize * layout.LineSpacing

	var result []Precursor
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		bottom := layout.TopMargin + float64(len(result)+1)*step
		box := geometry.Box{
			X0: layout.LeftMargin,
			Y0: bottom - layout.FontSize,
			X1: layout.LeftMargin + float64(len([]rune(line)))*layout.FontSize*layout.CharWidth,
			Y1: bottom,
		}
		if box.Degenerate() {
			continue
		}
		result = append(result, Precursor{Text: line, Box: box})
	}
	return result
}

// EstimateConfidence estimates confidence from text quality when the engine
// reports no per-word confidence.
func EstimateConfidence(text string) float64 {
	if strings.TrimSpace(text) == "" {
		return 0
	}

	confidence := 0.5

	if len(text) > 1000 {
		confidence += 0.1
	}
	if len(text) > 5000 {
		confidence += 0.1
	}

	words := strings.Fields(text)
	if len(words) > 100 {
		confidence += 0.1
	}

	alphaCount := 0
	for _, r := range text {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') {
			alphaCount++
		}
	}
	alphaRatio := float64(alphaCount) / float64(len(text))
	if alphaRatio > 0.5 && alphaRatio < 0.9 {
		confidence += 0.1
	}

	// Tesseract without word confidences rarely deserves more than this.
	if confidence > 0.85 {
		confidence = 0.85
	}

	return confidence
}
