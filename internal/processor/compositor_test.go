package processor

import (
	"bytes"
	"testing"

	"github.com/go-pdf/fpdf"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adverant/nexus/ocrlayer-worker/internal/geometry"
	"github.com/adverant/nexus/ocrlayer-worker/internal/logging"
	"github.com/adverant/nexus/ocrlayer-worker/internal/pdfdoc"
)

func TestCompositeEmptyIsNoop(t *testing.T) {
	lib := newFakeLibrary()
	page := &fakePage{out: &fakeOutput{lib: lib}, number: 1, size: letterSize}
	c := NewCompositor(logging.Nop())

	first := []Fragment{{Text: "hello", Anchor: geometry.Anchor{X: 10, Y: 10, FontSize: 12}}}
	drawn, skipped := c.Composite(page, first)
	assert.Equal(t, 1, drawn)
	assert.Equal(t, 0, skipped)
	before := append([]drawCall(nil), page.draws...)

	drawn, skipped = c.Composite(page, nil)
	assert.Zero(t, drawn)
	assert.Zero(t, skipped)
	assert.Equal(t, 1, page.calls, "no library call for an empty layer")
	assert.Equal(t, before, page.draws)
}

func TestCompositeEmptyKeepsSerializedPage(t *testing.T) {
	pdf := fpdf.New("P", "pt", "Letter", "")
	pdf.SetFont("Helvetica", "", 12)
	pdf.AddPage()
	pdf.Text(72, 72, "Scanned invoice")
	var buf bytes.Buffer
	require.NoError(t, pdf.Output(&buf))

	lib := pdfdoc.NewLibrary()
	src, err := lib.Load(buf.Bytes())
	require.NoError(t, err)

	c := NewCompositor(logging.Nop())
	fragments := []Fragment{{Text: "Invoice", Anchor: geometry.Anchor{X: 72, Y: 700, FontSize: 11}}}

	build := func(again bool) string {
		out := lib.Create()
		page, err := out.CopyPage(src, 1)
		require.NoError(t, err)
		drawn, _ := c.Composite(page, fragments)
		require.Equal(t, 1, drawn)
		if again {
			drawn, skipped := c.Composite(page, nil)
			require.Zero(t, drawn)
			require.Zero(t, skipped)
		}
		data, err := out.Serialize()
		require.NoError(t, err)
		return firstPageContent(t, data)
	}

	once := build(false)
	assert.Contains(t, once, "(Invoice) Tj")
	assert.Equal(t, once, build(true))
}

func firstPageContent(t *testing.T, data []byte) string {
	t.Helper()
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	ctx, err := api.ReadContext(bytes.NewReader(data), conf)
	require.NoError(t, err)
	require.NoError(t, api.ValidateContext(ctx))
	d, _, _, err := ctx.PageDict(1, false)
	require.NoError(t, err)
	content, err := ctx.PageContent(d)
	require.NoError(t, err)
	return string(content)
}

func TestCompositeUsesFixedStyle(t *testing.T) {
	lib := newFakeLibrary()
	page := &fakePage{out: &fakeOutput{lib: lib}, number: 1, size: letterSize}

	fragments := []Fragment{
		{Text: "small", Anchor: geometry.Anchor{X: 10, Y: 700, FontSize: 6}},
		{Text: "large", Anchor: geometry.Anchor{X: 10, Y: 600, FontSize: 30}},
	}
	NewCompositor(nil).Composite(page, fragments)

	assert.Len(t, page.draws, 2)
	for i, d := range page.draws {
		assert.Equal(t, InvisibleOpacity, d.opacity)
		assert.Equal(t, fragments[i].Anchor.FontSize, d.size)
		assert.Equal(t, fragments[i].Anchor.X, d.x)
		assert.Equal(t, fragments[i].Anchor.Y, d.y)
	}
}

func TestCompositeIsolatesFailures(t *testing.T) {
	lib := newFakeLibrary()
	lib.rejectText["☃"] = true
	page := &fakePage{out: &fakeOutput{lib: lib}, number: 1, size: letterSize}

	drawn, skipped := NewCompositor(logging.Nop()).Composite(page, []Fragment{
		{Text: "a", Anchor: geometry.Anchor{X: 1, Y: 1, FontSize: 10}},
		{Text: "☃", Anchor: geometry.Anchor{X: 2, Y: 2, FontSize: 10}},
		{Text: "b", Anchor: geometry.Anchor{X: 3, Y: 3, FontSize: 10}},
	})
	assert.Equal(t, 2, drawn)
	assert.Equal(t, 1, skipped)
}
