package processor

import (
	"github.com/adverant/nexus/ocrlayer-worker/internal/errors"
	"github.com/adverant/nexus/ocrlayer-worker/internal/geometry"
	"github.com/adverant/nexus/ocrlayer-worker/internal/logging"
	"github.com/adverant/nexus/ocrlayer-worker/internal/pdfdoc"
)

// InvisibleOpacity is the fill opacity of the text layer. The runs are real
// page content for search and selection but are never painted.
const InvisibleOpacity = 0.0

// Fragment is a positioned text run in page points.
type Fragment struct {
	Text   string
	Anchor geometry.Anchor
}

// Compositor draws text layers onto output pages.
type Compositor struct {
	opacity float64
	logger  *logging.Logger
}

// NewCompositor creates a compositor that draws invisible text
func NewCompositor(logger *logging.Logger) *Compositor {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Compositor{opacity: InvisibleOpacity, logger: logger}
}

// Composite draws every fragment onto page. A fragment the document library
// rejects is skipped; the remaining fragments are still drawn. An empty
// fragment list leaves the page untouched.
func (c *Compositor) Composite(page pdfdoc.Page, fragments []Fragment) (drawn, skipped int) {
	for _, f := range fragments {
		err := page.DrawText(f.Text, f.Anchor.X, f.Anchor.Y, f.Anchor.FontSize, c.opacity)
		if err != nil {
			skipped++
			c.logger.Debug("Fragment skipped",
				"page", page.Number(),
				"error", errors.NewFragmentPlacementError(f.Text, err))
			continue
		}
		drawn++
	}
	return drawn, skipped
}
