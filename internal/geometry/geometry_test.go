package geometry

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToPagePoint(t *testing.T) {
	cases := []struct {
		name         string
		px, py, ph   float64
		raster, page Size
		wantX, wantY float64
		wantSize     float64
	}{
		{
			name:   "uniform 2x",
			px:     100, py: 200, ph: 24,
			raster: Size{Width: 1224, Height: 1584},
			page:   Size{Width: 612, Height: 792},
			wantX:  50, wantY: 692, wantSize: 12,
		},
		{
			name:   "non-uniform scale",
			px:     100, py: 100, ph: 10,
			raster: Size{Width: 1000, Height: 500},
			page:   Size{Width: 500, Height: 500},
			wantX:  50, wantY: 400, wantSize: 10,
		},
		{
			name:   "bottom edge maps to zero",
			px:     0, py: 1584, ph: 20,
			raster: Size{Width: 1224, Height: 1584},
			page:   Size{Width: 612, Height: 792},
			wantX:  0, wantY: 0, wantSize: 10,
		},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			x, y, size := ToPagePoint(c.px, c.py, c.ph, c.raster, c.page)
			assert.InDelta(t, c.wantX, x, 1e-9)
			assert.InDelta(t, c.wantY, y, 1e-9)
			assert.InDelta(t, c.wantSize, size, 1e-9)
		})
	}
}

func TestToPagePointDeterministic(t *testing.T) {
	raster := Size{Width: 2480, Height: 3508}
	page := Size{Width: 595.28, Height: 841.89}
	x1, y1, s1 := ToPagePoint(312.5, 901.25, 33, raster, page)
	x2, y2, s2 := ToPagePoint(312.5, 901.25, 33, raster, page)
	assert.Equal(t, x1, x2)
	assert.Equal(t, y1, y2)
	assert.Equal(t, s1, s2)
}

func TestMapBoxRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 500; i++ {
		raster := Size{Width: 50 + rng.Float64()*5000, Height: 50 + rng.Float64()*5000}
		page := Size{Width: 10 + rng.Float64()*2000, Height: 10 + rng.Float64()*2000}

		x0 := rng.Float64() * raster.Width * 0.9
		y0 := rng.Float64() * raster.Height * 0.9
		box := Box{
			X0: x0,
			Y0: y0,
			X1: x0 + 1 + rng.Float64()*(raster.Width-x0-1),
			Y1: y0 + 1 + rng.Float64()*(raster.Height-y0-1),
		}

		anchor, ok := MapBox(box, raster, page)
		require.True(t, ok, "box %+v should map", box)

		got := UnmapAnchor(anchor, raster, page)
		tol := 1e-6 * math.Max(raster.Width, raster.Height)
		assert.InDelta(t, box.X0, got.X0, tol)
		assert.InDelta(t, box.Y0, got.Y0, tol)
		assert.InDelta(t, box.X1, got.X1, tol)
		assert.InDelta(t, box.Y1, got.Y1, tol)
	}
}

func TestMapBoxAnchorWithinPage(t *testing.T) {
	raster := Size{Width: 1700, Height: 2200}
	page := Size{Width: 612, Height: 792}
	anchor, ok := MapBox(Box{X0: 10, Y0: 10, X1: 1690, Y1: 2190}, raster, page)
	require.True(t, ok)
	assert.True(t, anchor.Within(page))
}

func TestMapBoxRejectsUnusableInput(t *testing.T) {
	page := Size{Width: 612, Height: 792}
	raster := Size{Width: 1224, Height: 1584}

	cases := []struct {
		name   string
		box    Box
		raster Size
		page   Size
	}{
		{"zero width", Box{X0: 5, Y0: 5, X1: 5, Y1: 20}, raster, page},
		{"inverted", Box{X0: 20, Y0: 20, X1: 5, Y1: 5}, raster, page},
		{"nan", Box{X0: math.NaN(), Y0: 0, X1: 10, Y1: 10}, raster, page},
		{"zero raster", Box{X0: 0, Y0: 0, X1: 10, Y1: 10}, Size{}, page},
		{"negative page", Box{X0: 0, Y0: 0, X1: 10, Y1: 10}, raster, Size{Width: -1, Height: 10}},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			_, ok := MapBox(c.box, c.raster, c.page)
			assert.False(t, ok)
		})
	}
}

func TestAnchorWithin(t *testing.T) {
	page := Size{Width: 100, Height: 100}
	assert.True(t, Anchor{X: 0, Y: 0, FontSize: 1}.Within(page))
	assert.True(t, Anchor{X: 100, Y: 100, FontSize: 1}.Within(page))
	assert.False(t, Anchor{X: -0.1, Y: 50, FontSize: 1}.Within(page))
	assert.False(t, Anchor{X: 50, Y: 100.5, FontSize: 1}.Within(page))
	assert.False(t, Anchor{X: math.Inf(1), Y: 50, FontSize: 1}.Within(page))
}
