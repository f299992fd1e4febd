package processor

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adverant/nexus/ocrlayer-worker/internal/geometry"
	"github.com/adverant/nexus/ocrlayer-worker/internal/logging"
	"github.com/adverant/nexus/ocrlayer-worker/internal/ocr"
	"github.com/adverant/nexus/ocrlayer-worker/internal/pdfdoc"
)

func runPage(t *testing.T, f *fakeFactory, lib *fakeLibrary, pageNumber int) (*PageResult, *fakeOutput) {
	t.Helper()
	engine, err := f.Acquire(context.Background())
	require.NoError(t, err)
	defer engine.Close()

	src, err := lib.Load(fakePDF(3))
	require.NoError(t, err)
	out := lib.Create().(*fakeOutput)
	doc, err := (&fakeRenderer{}).Open(context.Background(), src)
	require.NoError(t, err)

	result, err := NewPagePipeline(engine, DefaultRenderScale, logging.Nop()).
		Run(context.Background(), src, out, doc, pageNumber)
	require.NoError(t, err)
	return result, out
}

func TestPageStages(t *testing.T) {
	f := newFakeFactory()
	f.pages["page-2"] = &ocr.Output{Words: wordsOnLine(4), Text: "word1 word2 word3 word4", Confidence: 0.75}

	result, out := runPage(t, f, newFakeLibrary(), 2)
	assert.Equal(t, StageComposited, result.Stage)
	assert.Equal(t, 4, result.Fragments)
	assert.Equal(t, "word1 word2 word3 word4", result.Text)
	assert.Equal(t, 0.75, result.Confidence)
	assert.NoError(t, result.OCRError)
	assert.True(t, result.Searchable())
	assert.Equal(t, []int{2}, out.sourceOrder())
}

func TestPageDropsOutOfBoundsFragments(t *testing.T) {
	f := newFakeFactory()
	f.pages["page-1"] = &ocr.Output{Words: []ocr.RecognizedWord{
		{Text: "inside", Box: geometry.Box{X0: 10, Y0: 10, X1: 60, Y1: 40}},
		{Text: "right", Box: geometry.Box{X0: 1300, Y0: 10, X1: 1400, Y1: 40}},
		{Text: "below", Box: geometry.Box{X0: 10, Y0: 1600, X1: 60, Y1: 1700}},
		{Text: "flat", Box: geometry.Box{X0: 10, Y0: 50, X1: 60, Y1: 50}},
	}}

	result, out := runPage(t, f, newFakeLibrary(), 1)
	assert.Equal(t, 1, result.Fragments)
	assert.Equal(t, 2, result.Dropped)
	require.Len(t, out.pages[0].draws, 1)
	assert.Equal(t, "inside", out.pages[0].draws[0].text)
}

func TestPageFallbackLines(t *testing.T) {
	f := newFakeFactory()
	f.pages["page-1"] = &ocr.Output{Text: "INVOICE\n\nAcme Corp\n  \nTotal due 42.00\n"}

	result, out := runPage(t, f, newFakeLibrary(), 1)
	assert.Equal(t, 3, result.Fragments)

	draws := out.pages[0].draws
	require.Len(t, draws, 3)
	assert.Equal(t, []string{"INVOICE", "Acme Corp", "Total due 42.00"}, []string{draws[0].text, draws[1].text, draws[2].text})
	assert.Greater(t, draws[0].y, draws[1].y, "lines step down the page")
	assert.Greater(t, draws[1].y, draws[2].y)
}

func TestPageSkipsRejectedFragments(t *testing.T) {
	f := newFakeFactory()
	f.pages["page-1"] = &ocr.Output{Words: wordsOnLine(3)}
	lib := newFakeLibrary()
	lib.rejectText["word2"] = true

	result, out := runPage(t, f, lib, 1)
	assert.Equal(t, 2, result.Fragments)
	assert.Equal(t, 1, result.Skipped)
	assert.Equal(t, 3, out.pages[0].calls)
}

func TestPageWithoutRenderer(t *testing.T) {
	f := newFakeFactory()
	engine, _ := f.Acquire(context.Background())
	lib := newFakeLibrary()
	src, _ := lib.Load(fakePDF(1))
	out := lib.Create()

	var renderer pdfdoc.PageRenderer
	result, err := NewPagePipeline(engine, 0, nil).Run(context.Background(), src, out, renderer, 1)
	require.NoError(t, err)
	assert.Error(t, result.OCRError)
	assert.Equal(t, StageComposited, result.Stage)
	assert.Equal(t, 0, result.Fragments)
}

func TestPageStageString(t *testing.T) {
	assert.Equal(t, "pending", StagePending.String())
	assert.Equal(t, "normalized", StageNormalized.String())
	assert.Equal(t, "composited", StageComposited.String())
}
