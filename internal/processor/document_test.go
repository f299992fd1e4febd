package processor

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adverant/nexus/ocrlayer-worker/internal/errors"
	"github.com/adverant/nexus/ocrlayer-worker/internal/geometry"
	"github.com/adverant/nexus/ocrlayer-worker/internal/logging"
	"github.com/adverant/nexus/ocrlayer-worker/internal/ocr"
)

func newTestDocumentPipeline(t *testing.T, f *fakeFactory, lib *fakeLibrary, r *fakeRenderer, opts Options) *DocumentPipeline {
	t.Helper()
	engine, err := f.Acquire(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { engine.Close() })
	pages := NewPagePipeline(engine, opts.RenderScale, logging.Nop())
	return NewDocumentPipeline(lib, r, pages, opts, logging.Nop())
}

func TestOutputFilename(t *testing.T) {
	cases := map[string]string{
		"scan.pdf":             "scan_searchable.pdf",
		"Scan.PDF":             "Scan_searchable.pdf",
		"archive.v2.pdf":       "archive.v2_searchable.pdf",
		"noext":                "noext_searchable.pdf",
		"uploads/2024/inv.pdf": "inv_searchable.pdf",
		`C:\docs\inv.pdf`:      "inv_searchable.pdf",
		"":                     "document_searchable.pdf",
	}
	for in, want := range cases {
		assert.Equal(t, want, OutputFilename(in), in)
	}
}

func TestDocumentEveryPageFailsOCR(t *testing.T) {
	f := newFakeFactory()
	f.failPages["page-2"] = fmt.Errorf("engine timeout")
	r := &fakeRenderer{failPages: map[int]error{1: fmt.Errorf("pdftoppm exited 99"), 3: fmt.Errorf("bad stream")}}
	lib := newFakeLibrary()

	d := newTestDocumentPipeline(t, f, lib, r, DefaultOptions())
	result, err := d.Process(context.Background(), DocumentInput{Filename: "a.pdf", Data: fakePDF(3)}, nil)
	require.NoError(t, err, "OCR failures never fail the document")

	assert.Equal(t, fakePDF(3), result.Data)
	assert.Equal(t, []int{1, 2, 3}, lib.outputs[0].sourceOrder())
	assert.Equal(t, 0, result.SearchablePages())
	require.Len(t, result.Pages, 3)
	assert.Equal(t, errors.ErrorPageRenderFailed, errors.CodeOf(result.Pages[0].OCRError))
	assert.Equal(t, errors.ErrorPageRecognizeFailed, errors.CodeOf(result.Pages[1].OCRError))
	assert.Equal(t, errors.ErrorPageRenderFailed, errors.CodeOf(result.Pages[2].OCRError))
	for _, p := range result.Pages {
		assert.Equal(t, StageComposited, p.Stage)
	}
}

func TestDocumentRendererOpenFailure(t *testing.T) {
	f := newFakeFactory()
	f.pages["page-1"] = &ocr.Output{Words: wordsOnLine(3)}
	r := &fakeRenderer{openErr: fmt.Errorf("no temp dir")}
	lib := newFakeLibrary()

	d := newTestDocumentPipeline(t, f, lib, r, DefaultOptions())
	result, err := d.Process(context.Background(), DocumentInput{Filename: "a.pdf", Data: fakePDF(2)}, nil)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 0}, lib.outputs[0].drawCounts())
	assert.Equal(t, 2, result.PageCount)
}

func TestDocumentReleasesRenderer(t *testing.T) {
	r := &fakeRenderer{}
	d := newTestDocumentPipeline(t, newFakeFactory(), newFakeLibrary(), r, DefaultOptions())
	_, err := d.Process(context.Background(), DocumentInput{Filename: "a.pdf", Data: fakePDF(2)}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, r.opened)
	assert.Equal(t, 1, r.closed)
}

func TestDocumentMetadataBestEffort(t *testing.T) {
	lib := newFakeLibrary()
	lib.metaErr = fmt.Errorf("info dict locked")

	d := newTestDocumentPipeline(t, newFakeFactory(), lib, &fakeRenderer{}, DefaultOptions())
	_, err := d.Process(context.Background(), DocumentInput{Filename: "a.pdf", Data: fakePDF(1)}, nil)
	assert.NoError(t, err)

	lib = newFakeLibrary()
	d = newTestDocumentPipeline(t, newFakeFactory(), lib, &fakeRenderer{}, DefaultOptions())
	_, err = d.Process(context.Background(), DocumentInput{Filename: "a.pdf", Data: fakePDF(1)}, nil)
	require.NoError(t, err)
	assert.Equal(t, "Scanned", lib.outputs[0].meta.Title)
}

func TestDocumentFailures(t *testing.T) {
	cases := []struct {
		name   string
		data   []byte
		opts   Options
		setup  func(*fakeLibrary)
		code   errors.ErrorCode
		reason string
	}{
		{
			name:   "unloadable",
			data:   []byte("not a pdf"),
			code:   errors.ErrorDocumentLoadFailed,
			reason: "load failed",
		},
		{
			name:   "no pages",
			data:   fakePDF(0),
			code:   errors.ErrorDocumentLoadFailed,
			reason: "load failed",
		},
		{
			name:   "too many pages",
			data:   fakePDF(4),
			opts:   Options{MaxPages: 3},
			code:   errors.ErrorDocumentLoadFailed,
			reason: "load failed",
		},
		{
			name:   "serialize error",
			data:   fakePDF(2),
			setup:  func(l *fakeLibrary) { l.serializeErr = fmt.Errorf("writer closed") },
			code:   errors.ErrorDocumentSerializeFailed,
			reason: "serialize failed",
		},
		{
			name:   "page copy error",
			data:   fakePDF(2),
			setup:  func(l *fakeLibrary) { l.copyErr[2] = fmt.Errorf("bad xobject") },
			code:   errors.ErrorDocumentSerializeFailed,
			reason: "serialize failed",
		},
		{
			name:   "output page count mismatch",
			data:   fakePDF(2),
			opts:   Options{VerifyOutput: true},
			setup:  func(l *fakeLibrary) { l.extraPages = 1 },
			code:   errors.ErrorDocumentSerializeFailed,
			reason: "serialize failed",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			lib := newFakeLibrary()
			if tc.setup != nil {
				tc.setup(lib)
			}
			d := newTestDocumentPipeline(t, newFakeFactory(), lib, &fakeRenderer{}, tc.opts)
			result, err := d.Process(context.Background(), DocumentInput{Filename: "x.pdf", Data: tc.data}, nil)
			require.Error(t, err)
			assert.Nil(t, result)
			assert.Equal(t, tc.code, errors.CodeOf(err))
			assert.Equal(t, tc.reason, DocumentOutcome{Err: err}.Reason())
		})
	}
}

func TestDocumentPageProgress(t *testing.T) {
	var calls [][2]int
	d := newTestDocumentPipeline(t, newFakeFactory(), newFakeLibrary(), &fakeRenderer{}, DefaultOptions())
	_, err := d.Process(context.Background(), DocumentInput{Filename: "a.pdf", Data: fakePDF(3)}, func(page, total int) {
		calls = append(calls, [2]int{page, total})
	})
	require.NoError(t, err)
	assert.Equal(t, [][2]int{{1, 3}, {2, 3}, {3, 3}}, calls)
}

func TestDocumentConfidence(t *testing.T) {
	f := newFakeFactory()
	f.pages["page-1"] = &ocr.Output{Words: wordsOnLine(1), Confidence: 0.9}
	f.pages["page-2"] = &ocr.Output{Words: wordsOnLine(1), Confidence: 0.7}
	d := newTestDocumentPipeline(t, f, newFakeLibrary(), &fakeRenderer{}, DefaultOptions())

	result, err := d.Process(context.Background(), DocumentInput{Filename: "a.pdf", Data: fakePDF(2)}, nil)
	require.NoError(t, err)
	assert.InDelta(t, 0.8, result.Confidence, 1e-9)
}

func TestDocumentPreservesPageGeometry(t *testing.T) {
	f := newFakeFactory()
	f.pages["page-1"] = &ocr.Output{Words: []ocr.RecognizedWord{
		{Text: "Total", Box: geometry.Box{X0: 200, Y0: 1000, X1: 300, Y1: 1040}},
	}}
	lib := newFakeLibrary()
	d := newTestDocumentPipeline(t, f, lib, &fakeRenderer{}, DefaultOptions())

	_, err := d.Process(context.Background(), DocumentInput{Filename: "a.pdf", Data: fakePDF(1)}, nil)
	require.NoError(t, err)

	draws := lib.outputs[0].pages[0].draws
	require.Len(t, draws, 1)
	assert.Equal(t, "Total", draws[0].text)
	assert.InDelta(t, 100, draws[0].x, 1e-9)
	assert.InDelta(t, 792-520, draws[0].y, 1e-9)
	assert.InDelta(t, 20, draws[0].size, 1e-9)
}
