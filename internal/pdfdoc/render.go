package pdfdoc

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/png"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"

	"github.com/adverant/nexus/ocrlayer-worker/internal/geometry"
)

// BaseDPI is the resolution at which one raster pixel equals one point.
const BaseDPI = 72.0

// RasterPage is one rendered page: PNG bytes plus pixel dimensions.
type RasterPage struct {
	PageNumber int
	Image      []byte
	Width      int
	Height     int
	Scale      float64
}

// Size returns the raster dimensions in pixels.
func (r *RasterPage) Size() geometry.Size {
	return geometry.Size{Width: float64(r.Width), Height: float64(r.Height)}
}

// Renderer opens a document for page rasterization.
type Renderer interface {
	Open(ctx context.Context, src Source) (PageRenderer, error)
}

// PageRenderer rasterizes pages of one opened document.
type PageRenderer interface {
	RenderPage(ctx context.Context, page int, scale float64) (*RasterPage, error)
	Close() error
}

// PopplerRenderer renders pages with the pdftoppm command line tool.
type PopplerRenderer struct {
	binary  string
	tempDir string
}

// NewPopplerRenderer resolves the pdftoppm binary. tempDir may be empty to
// use the system default.
func NewPopplerRenderer(binary, tempDir string) (*PopplerRenderer, error) {
	if binary == "" {
		binary = "pdftoppm"
	}
	path, err := exec.LookPath(binary)
	if err != nil {
		return nil, fmt.Errorf("pdftoppm not found: %w", err)
	}
	return &PopplerRenderer{binary: path, tempDir: tempDir}, nil
}

// Open writes the document to a private work directory that lives until
// Close.
func (r *PopplerRenderer) Open(ctx context.Context, src Source) (PageRenderer, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	workDir, err := os.MkdirTemp(r.tempDir, "ocrlayer-render-*")
	if err != nil {
		return nil, fmt.Errorf("create work dir: %w", err)
	}
	pdfPath := filepath.Join(workDir, "source.pdf")
	if err := os.WriteFile(pdfPath, src.Bytes(), 0o600); err != nil {
		os.RemoveAll(workDir)
		return nil, fmt.Errorf("write source: %w", err)
	}
	return &popplerDocument{binary: r.binary, workDir: workDir, pdfPath: pdfPath}, nil
}

type popplerDocument struct {
	binary  string
	workDir string
	pdfPath string
}

func (d *popplerDocument) RenderPage(ctx context.Context, page int, scale float64) (*RasterPage, error) {
	if scale <= 0 {
		return nil, fmt.Errorf("invalid render scale %v", scale)
	}
	prefix := filepath.Join(d.workDir, fmt.Sprintf("page-%d", page))
	args := []string{
		"-png",
		"-r", strconv.FormatFloat(BaseDPI*scale, 'f', -1, 64),
		"-f", strconv.Itoa(page),
		"-l", strconv.Itoa(page),
		"-singlefile",
		d.pdfPath,
		prefix,
	}
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, d.binary, args...)
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("pdftoppm failed on page %d: %w: %s", page, err, bytes.TrimSpace(stderr.Bytes()))
	}

	imagePath := prefix + ".png"
	defer os.Remove(imagePath)

	data, err := os.ReadFile(imagePath)
	if err != nil {
		return nil, fmt.Errorf("rendered image not found for page %d: %w", page, err)
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode rendered page %d: %w", page, err)
	}
	if cfg.Width == 0 || cfg.Height == 0 {
		return nil, fmt.Errorf("rendered page %d is empty", page)
	}

	return &RasterPage{
		PageNumber: page,
		Image:      data,
		Width:      cfg.Width,
		Height:     cfg.Height,
		Scale:      scale,
	}, nil
}

func (d *popplerDocument) Close() error {
	return os.RemoveAll(d.workDir)
}
