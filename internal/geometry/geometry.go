/**
 * Coordinate mapping between raster and PDF page space
 *
 * Raster space: pixels, origin top-left, Y grows downward.
 * Page space:   points, origin bottom-left, Y grows upward.
 *
 * Horizontal and vertical scales are computed independently so a raster
 * whose aspect ratio drifted during rendering still maps correctly.
 */

package geometry

import "math"

// Size is a width/height pair in either pixels or points.
type Size struct {
	Width  float64
	Height float64
}

// Valid reports whether both dimensions are positive and finite.
func (s Size) Valid() bool {
	return isFinite(s.Width) && isFinite(s.Height) && s.Width > 0 && s.Height > 0
}

// Box is a bounding box in raster pixels (x0,y0 top-left, x1,y1 bottom-right).
type Box struct {
	X0 float64
	Y0 float64
	X1 float64
	Y1 float64
}

// Width returns the horizontal extent of the box.
func (b Box) Width() float64 { return b.X1 - b.X0 }

// Height returns the vertical extent of the box.
func (b Box) Height() float64 { return b.Y1 - b.Y0 }

// Degenerate reports whether the box has no area or carries non-finite values.
func (b Box) Degenerate() bool {
	for _, v := range [...]float64{b.X0, b.Y0, b.X1, b.Y1} {
		if !isFinite(v) {
			return true
		}
	}
	return b.X1 <= b.X0 || b.Y1 <= b.Y0
}

// Anchor is a text placement in page points: baseline origin plus the size
// of the text run derived from the source bounding box.
type Anchor struct {
	X        float64
	Y        float64
	FontSize float64
	Width    float64
}

// Within reports whether the anchor origin lies inside the page.
func (a Anchor) Within(page Size) bool {
	if !isFinite(a.X) || !isFinite(a.Y) || !isFinite(a.FontSize) {
		return false
	}
	return a.X >= 0 && a.X <= page.Width && a.Y >= 0 && a.Y <= page.Height
}

// Scales returns the horizontal and vertical pixel-to-point factors.
func Scales(raster, page Size) (sx, sy float64) {
	return page.Width / raster.Width, page.Height / raster.Height
}

// ToPagePoint converts a raster position to page points. pixelY is expected
// to be the bottom edge of the recognized glyph region so the baseline lands
// at the visual bottom of the text. The font size is the pixel height scaled
// by the vertical factor.
func ToPagePoint(pixelX, pixelY, pixelHeight float64, raster, page Size) (x, y, fontSize float64) {
	sx, sy := Scales(raster, page)
	x = pixelX * sx
	y = page.Height - pixelY*sy
	fontSize = pixelHeight * sy
	return x, y, fontSize
}

// ToRasterPoint is the inverse of ToPagePoint.
func ToRasterPoint(x, y, fontSize float64, raster, page Size) (pixelX, pixelY, pixelHeight float64) {
	sx, sy := Scales(raster, page)
	pixelX = x / sx
	pixelY = (page.Height - y) / sy
	pixelHeight = fontSize / sy
	return pixelX, pixelY, pixelHeight
}

// MapBox maps a raster bounding box to a page anchor. ok is false when
// either size is unusable or the box is degenerate.
func MapBox(box Box, raster, page Size) (Anchor, bool) {
	if !raster.Valid() || !page.Valid() || box.Degenerate() {
		return Anchor{}, false
	}
	x, y, fontSize := ToPagePoint(box.X0, box.Y1, box.Height(), raster, page)
	sx, _ := Scales(raster, page)
	return Anchor{X: x, Y: y, FontSize: fontSize, Width: box.Width() * sx}, true
}

// UnmapAnchor reconstructs the raster box implied by an anchor.
func UnmapAnchor(a Anchor, raster, page Size) Box {
	x0, y1, h := ToRasterPoint(a.X, a.Y, a.FontSize, raster, page)
	sx, _ := Scales(raster, page)
	return Box{X0: x0, Y0: y1 - h, X1: x0 + a.Width/sx, Y1: y1}
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
