package processor

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/adverant/nexus/ocrlayer-worker/internal/geometry"
	"github.com/adverant/nexus/ocrlayer-worker/internal/ocr"
	"github.com/adverant/nexus/ocrlayer-worker/internal/pdfdoc"
)

var letterSize = geometry.Size{Width: 612, Height: 792}

// fakePDF encodes a document the fake library can load.
func fakePDF(pages int) []byte {
	return []byte(fmt.Sprintf("FAKEPDF:%d", pages))
}

// wordsOnLine returns n word boxes laid out left to right inside a raster
// rendered at scale 2 from a letter page.
func wordsOnLine(n int) []ocr.RecognizedWord {
	words := make([]ocr.RecognizedWord, n)
	for i := range words {
		x := float64(100 + i*150)
		words[i] = ocr.RecognizedWord{
			Text:       fmt.Sprintf("word%d", i+1),
			Confidence: 0.9,
			Box:        geometry.Box{X0: x, Y0: 200, X1: x + 120, Y1: 230},
		}
	}
	return words
}

// --- OCR engine ---

type fakeFactory struct {
	mu        sync.Mutex
	acquired  int
	released  int
	err       error
	pages     map[string]*ocr.Output // keyed by rendered image content, "page-N"
	failPages map[string]error
	panicOn   string
}

func newFakeFactory() *fakeFactory {
	return &fakeFactory{
		pages:     map[string]*ocr.Output{},
		failPages: map[string]error{},
	}
}

func (f *fakeFactory) Acquire(ctx context.Context) (ocr.Engine, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acquired++
	if f.err != nil {
		return nil, f.err
	}
	return &fakeEngine{factory: f}, nil
}

func (f *fakeFactory) counts() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.acquired, f.released
}

type fakeEngine struct {
	factory *fakeFactory
	closed  bool
}

func (e *fakeEngine) Recognize(ctx context.Context, image []byte) (*ocr.Output, error) {
	key := string(image)
	if e.factory.panicOn != "" && key == e.factory.panicOn {
		panic("engine crashed")
	}
	if err, ok := e.factory.failPages[key]; ok {
		return nil, err
	}
	if out, ok := e.factory.pages[key]; ok {
		return out, nil
	}
	return &ocr.Output{}, nil
}

func (e *fakeEngine) Close() error {
	e.factory.mu.Lock()
	defer e.factory.mu.Unlock()
	if !e.closed {
		e.closed = true
		e.factory.released++
	}
	return nil
}

// --- renderer ---

type fakeRenderer struct {
	openErr   error
	failPages map[int]error
	opened    int
	closed    int
}

func (r *fakeRenderer) Open(ctx context.Context, src pdfdoc.Source) (pdfdoc.PageRenderer, error) {
	if r.openErr != nil {
		return nil, r.openErr
	}
	r.opened++
	return &fakePageRenderer{r: r, src: src}, nil
}

type fakePageRenderer struct {
	r   *fakeRenderer
	src pdfdoc.Source
}

func (p *fakePageRenderer) RenderPage(ctx context.Context, page int, scale float64) (*pdfdoc.RasterPage, error) {
	if err, ok := p.r.failPages[page]; ok {
		return nil, err
	}
	size, err := p.src.PageSize(page)
	if err != nil {
		return nil, err
	}
	return &pdfdoc.RasterPage{
		PageNumber: page,
		Image:      []byte(fmt.Sprintf("page-%d", page)),
		Width:      int(size.Width * scale),
		Height:     int(size.Height * scale),
		Scale:      scale,
	}, nil
}

func (p *fakePageRenderer) Close() error {
	p.r.closed++
	return nil
}

// --- document library ---

type fakeLibrary struct {
	outputs      []*fakeOutput
	loads        int
	metaErr      error
	copyErr      map[int]error
	serializeErr error
	extraPages   int // added to the serialized page count
	rejectText   map[string]bool
	panicOnLoad  bool
}

func newFakeLibrary() *fakeLibrary {
	return &fakeLibrary{copyErr: map[int]error{}, rejectText: map[string]bool{}}
}

func (l *fakeLibrary) Load(data []byte) (pdfdoc.Source, error) {
	l.loads++
	if l.panicOnLoad {
		panic("parser exploded")
	}
	if !bytes.HasPrefix(data, []byte("FAKEPDF:")) {
		return nil, fmt.Errorf("not a document")
	}
	n, err := strconv.Atoi(string(data[len("FAKEPDF:"):]))
	if err != nil || n < 0 {
		return nil, fmt.Errorf("corrupt page count")
	}
	return &fakeSource{pages: n, data: data, title: "Scanned"}, nil
}

func (l *fakeLibrary) Create() pdfdoc.Output {
	out := &fakeOutput{lib: l}
	l.outputs = append(l.outputs, out)
	return out
}

type fakeSource struct {
	pages int
	data  []byte
	title string
}

func (s *fakeSource) PageCount() int { return s.pages }

func (s *fakeSource) PageSize(page int) (geometry.Size, error) {
	if page < 1 || page > s.pages {
		return geometry.Size{}, fmt.Errorf("page %d out of range", page)
	}
	return letterSize, nil
}

func (s *fakeSource) Metadata() pdfdoc.Metadata { return pdfdoc.Metadata{Title: s.title} }

func (s *fakeSource) Bytes() []byte { return s.data }

type fakeOutput struct {
	lib   *fakeLibrary
	meta  pdfdoc.Metadata
	pages []*fakePage
}

func (o *fakeOutput) SetMetadata(meta pdfdoc.Metadata) error {
	if o.lib.metaErr != nil {
		return o.lib.metaErr
	}
	o.meta = meta
	return nil
}

func (o *fakeOutput) CopyPage(src pdfdoc.Source, page int) (pdfdoc.Page, error) {
	if err, ok := o.lib.copyErr[page]; ok {
		return nil, err
	}
	size, err := src.PageSize(page)
	if err != nil {
		return nil, err
	}
	p := &fakePage{out: o, number: len(o.pages) + 1, sourcePage: page, size: size}
	o.pages = append(o.pages, p)
	return p, nil
}

func (o *fakeOutput) Serialize() ([]byte, error) {
	if o.lib.serializeErr != nil {
		return nil, o.lib.serializeErr
	}
	return fakePDF(len(o.pages) + o.lib.extraPages), nil
}

func (o *fakeOutput) sourceOrder() []int {
	order := make([]int, len(o.pages))
	for i, p := range o.pages {
		order[i] = p.sourcePage
	}
	return order
}

func (o *fakeOutput) drawCounts() []int {
	counts := make([]int, len(o.pages))
	for i, p := range o.pages {
		counts[i] = len(p.draws)
	}
	return counts
}

type drawCall struct {
	text                string
	x, y, size, opacity float64
}

type fakePage struct {
	out        *fakeOutput
	number     int
	sourcePage int
	size       geometry.Size
	calls      int
	draws      []drawCall
}

func (p *fakePage) Number() int { return p.number }

func (p *fakePage) Size() geometry.Size { return p.size }

func (p *fakePage) DrawText(text string, x, y, fontSize, opacity float64) error {
	p.calls++
	if p.out.lib.rejectText[text] {
		return fmt.Errorf("glyph missing")
	}
	p.draws = append(p.draws, drawCall{text: text, x: x, y: y, size: fontSize, opacity: opacity})
	return nil
}

// recordingSink keeps every progress snapshot.
type recordingSink struct {
	reports  []BatchProgress
	onReport func(BatchProgress)
}

func (s *recordingSink) Report(p BatchProgress) {
	s.reports = append(s.reports, p)
	if s.onReport != nil {
		s.onReport(p)
	}
}
