/**
 * OCR Types - Shared data structures for OCR operations
 *
 * Engine output is expressed in raster pixel space (top-left origin) and is
 * consumed once by Normalize.
 */

package ocr

import (
	"context"

	"github.com/adverant/nexus/ocrlayer-worker/internal/geometry"
)

// Output represents the result of recognizing one rendered page
type Output struct {
	Words      []RecognizedWord
	Text       string  // Whole-page text, used when no word geometry is available
	Confidence float64 // 0..1
}

// RecognizedWord represents a single word with bounding box in raster pixels
type RecognizedWord struct {
	Text       string
	Confidence float64
	Box        geometry.Box
}

// Precursor is a normalized text unit that still lives in raster space.
// The page pipeline maps it to page points.
type Precursor struct {
	Text string
	Box  geometry.Box
}

// Engine recognizes text in encoded raster images. An Engine is owned by a
// single batch and is not safe for concurrent use.
type Engine interface {
	Recognize(ctx context.Context, image []byte) (*Output, error)
	Close() error
}

// EngineFactory acquires a running engine instance.
type EngineFactory interface {
	Acquire(ctx context.Context) (Engine, error)
}
