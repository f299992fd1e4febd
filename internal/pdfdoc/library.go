// Package pdfdoc adapts the PDF libraries used by the pipeline: pdfcpu reads
// and validates source documents, go-pdf/fpdf with gofpdi assembles the
// output by importing each source page as a template and drawing text over it.
package pdfdoc

import (
	"bytes"
	"fmt"
	"io"
	"math"

	"github.com/go-pdf/fpdf"
	"github.com/go-pdf/fpdf/contrib/gofpdi"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"
	"golang.org/x/text/encoding/charmap"

	"github.com/adverant/nexus/ocrlayer-worker/internal/geometry"
)

// TextFont is the core font used for every text run.
const TextFont = "Helvetica"

func init() {
	api.DisableConfigDir()
}

// Metadata is the document information copied from source to output.
type Metadata struct {
	Title    string
	Author   string
	Subject  string
	Keywords string
	Creator  string
}

// Source is a loaded, read-only document.
type Source interface {
	PageCount() int
	PageSize(page int) (geometry.Size, error)
	Metadata() Metadata
	Bytes() []byte
}

// Output is a document under construction.
type Output interface {
	SetMetadata(meta Metadata) error
	CopyPage(src Source, page int) (Page, error)
	Serialize() ([]byte, error)
}

// Page is a page of an Output that accepts text runs. Coordinates are page
// points with a bottom-left origin; y is the text baseline.
type Page interface {
	Number() int
	Size() geometry.Size
	DrawText(text string, x, y, fontSize, opacity float64) error
}

// Library loads and creates documents.
type Library interface {
	Load(data []byte) (Source, error)
	Create() Output
}

// FPDFLibrary implements Library on pdfcpu and fpdf.
type FPDFLibrary struct {
	conf *model.Configuration
}

// NewLibrary creates the default document library
func NewLibrary() *FPDFLibrary {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return &FPDFLibrary{conf: conf}
}

// Load parses and validates a PDF. Parser panics are converted to errors.
func (l *FPDFLibrary) Load(data []byte) (src Source, err error) {
	if !LooksLikePDF(data) {
		return nil, fmt.Errorf("missing %%PDF header")
	}

	defer func() {
		if r := recover(); r != nil {
			src, err = nil, fmt.Errorf("pdf parser panic: %v", r)
		}
	}()

	ctx, err := api.ReadContext(bytes.NewReader(data), l.conf)
	if err != nil {
		return nil, fmt.Errorf("failed to read pdf: %w", err)
	}
	if err := api.ValidateContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to validate pdf: %w", err)
	}

	bounds, err := ctx.PageBoundaries(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to read page dimensions: %w", err)
	}
	if len(bounds) == 0 || ctx.PageCount == 0 {
		return nil, fmt.Errorf("document has no pages")
	}

	// Sizes are as displayed, with /Rotate applied, matching what pdftoppm
	// renders. Boxes keep the unrotated media box of each page.
	sizes := make([]geometry.Size, len(bounds))
	boxes := make([]types.Rectangle, len(bounds))
	for i, pb := range bounds {
		media := pb.MediaBox()
		if media == nil {
			return nil, fmt.Errorf("page %d has no media box", i+1)
		}
		boxes[i] = *media
		d := media.Dimensions()
		if pb.Rot%180 != 0 {
			d.Width, d.Height = d.Height, d.Width
		}
		sizes[i] = geometry.Size{Width: d.Width, Height: d.Height}
	}

	return &fpdfSource{
		data:  data,
		ctx:   ctx,
		sizes: sizes,
		boxes: boxes,
		meta: Metadata{
			Title:    ctx.Title,
			Author:   ctx.Author,
			Subject:  ctx.Subject,
			Keywords: ctx.Keywords,
			Creator:  ctx.Creator,
		},
	}, nil
}

// Create starts an empty output document in point units.
func (l *FPDFLibrary) Create() Output {
	pdf := fpdf.New("P", "pt", "", "")
	pdf.SetMargins(0, 0, 0)
	pdf.SetAutoPageBreak(false, 0)
	pdf.SetCompression(true)
	return &fpdfOutput{
		pdf:      pdf,
		importer: gofpdi.NewImporter(),
	}
}

// PageCount returns the number of pages in a PDF without building a Source.
func (l *FPDFLibrary) PageCount(data []byte) (int, error) {
	return api.PageCount(bytes.NewReader(data), l.conf)
}

// LooksLikePDF reports whether the %PDF marker appears near the start.
func LooksLikePDF(data []byte) bool {
	head := data
	if len(head) > 1024 {
		head = head[:1024]
	}
	return bytes.Contains(head, []byte("%PDF-"))
}

type fpdfSource struct {
	data  []byte
	ctx   *model.Context
	sizes []geometry.Size
	boxes []types.Rectangle
	meta  Metadata
}

// sharesFirstBox reports whether page has the same media box as page 1.
func (s *fpdfSource) sharesFirstBox(page int) bool {
	a, b := s.boxes[0], s.boxes[page-1]
	return a.LL == b.LL && a.UR == b.UR
}

// extractPage returns page as a standalone one-page document.
func (s *fpdfSource) extractPage(page int) (io.ReadSeeker, error) {
	r, err := api.ExtractPage(s.ctx, page)
	if err != nil {
		return nil, fmt.Errorf("extract page %d: %w", page, err)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("extract page %d: %w", page, err)
	}
	return bytes.NewReader(data), nil
}

func (s *fpdfSource) PageCount() int { return len(s.sizes) }

func (s *fpdfSource) PageSize(page int) (geometry.Size, error) {
	if page < 1 || page > len(s.sizes) {
		return geometry.Size{}, fmt.Errorf("page %d out of range 1..%d", page, len(s.sizes))
	}
	return s.sizes[page-1], nil
}

func (s *fpdfSource) Metadata() Metadata { return s.meta }

func (s *fpdfSource) Bytes() []byte { return s.data }

type fpdfOutput struct {
	pdf      *fpdf.Fpdf
	importer *gofpdi.Importer
	src      *fpdfSource
	rs       io.ReadSeeker
	// gofpdi keys readers by the address of the stream variable, so every
	// per-page stream stays referenced until the output is written.
	pageStreams []*io.ReadSeeker
}

func (o *fpdfOutput) SetMetadata(meta Metadata) error {
	if meta.Title != "" {
		o.pdf.SetTitle(meta.Title, true)
	}
	if meta.Author != "" {
		o.pdf.SetAuthor(meta.Author, true)
	}
	if meta.Subject != "" {
		o.pdf.SetSubject(meta.Subject, true)
	}
	if meta.Keywords != "" {
		o.pdf.SetKeywords(meta.Keywords, true)
	}
	if meta.Creator != "" {
		o.pdf.SetCreator(meta.Creator, true)
	}
	return o.pdf.Error()
}

// CopyPage appends a page of the same size and paints the source page onto
// it as an imported template. Only one source may feed an output.
//
// gofpdi sizes every template from the first page's boxes, so a page whose
// media box differs from page 1 is imported from a one-page extract.
func (o *fpdfOutput) CopyPage(src Source, page int) (p Page, err error) {
	s, ok := src.(*fpdfSource)
	if !ok {
		return nil, fmt.Errorf("source was not loaded by this library")
	}
	if o.src == nil {
		o.src = s
		o.rs = bytes.NewReader(s.data)
	} else if o.src != s {
		return nil, fmt.Errorf("output already bound to another source")
	}

	size, err := s.PageSize(page)
	if err != nil {
		return nil, err
	}

	defer func() {
		if r := recover(); r != nil {
			p, err = nil, fmt.Errorf("import page %d: %v", page, r)
		}
	}()

	stream, srcPage := &o.rs, page
	if !s.sharesFirstBox(page) {
		rs, err := s.extractPage(page)
		if err != nil {
			return nil, err
		}
		stream, srcPage = &rs, 1
		o.pageStreams = append(o.pageStreams, stream)
	}

	o.pdf.AddPageFormat("P", fpdf.SizeType{Wd: size.Width, Ht: size.Height})
	tpl := o.importer.ImportPageFromStream(o.pdf, stream, srcPage, "/MediaBox")
	o.importer.UseImportedTemplate(o.pdf, tpl, 0, 0, size.Width, size.Height)
	if err := o.pdf.Error(); err != nil {
		return nil, fmt.Errorf("copy page %d: %w", page, err)
	}

	return &fpdfPage{out: o, number: o.pdf.PageNo(), size: size}, nil
}

func (o *fpdfOutput) Serialize() (data []byte, err error) {
	if o.pdf.PageCount() == 0 {
		return nil, fmt.Errorf("output has no pages")
	}

	defer func() {
		if r := recover(); r != nil {
			data, err = nil, fmt.Errorf("write pdf: %v", r)
		}
	}()

	var buf bytes.Buffer
	if err := o.pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("write pdf: %w", err)
	}
	return buf.Bytes(), nil
}

type fpdfPage struct {
	out    *fpdfOutput
	number int
	size   geometry.Size
}

func (p *fpdfPage) Number() int { return p.number }

func (p *fpdfPage) Size() geometry.Size { return p.size }

// DrawText validates everything fpdf would otherwise record as a sticky
// document error, so a bad fragment never poisons the output.
func (p *fpdfPage) DrawText(text string, x, y, fontSize, opacity float64) error {
	pdf := p.out.pdf
	if pdf.PageNo() != p.number {
		return fmt.Errorf("page %d is no longer the current page", p.number)
	}
	if !finite(x) || !finite(y) || !finite(fontSize) || fontSize <= 0 {
		return fmt.Errorf("invalid placement x=%v y=%v size=%v", x, y, fontSize)
	}
	if !finite(opacity) {
		return fmt.Errorf("invalid opacity %v", opacity)
	}
	opacity = math.Max(0, math.Min(1, opacity))

	encoded, err := charmap.Windows1252.NewEncoder().String(text)
	if err != nil {
		return fmt.Errorf("text not representable in %s: %w", TextFont, err)
	}

	pdf.SetFont(TextFont, "", fontSize)
	pdf.SetTextColor(0, 0, 0)
	pdf.SetAlpha(opacity, "Normal")
	pdf.Text(x, p.size.Height-y, encoded)
	pdf.SetAlpha(1, "Normal")

	return pdf.Error()
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
