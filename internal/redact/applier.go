package redact

import (
	"fmt"

	"github.com/veildoc/veildoc/internal/document"
	"github.com/veildoc/veildoc/internal/font"
	"github.com/veildoc/veildoc/internal/logger"
	"go.uber.org/zap"
)

// Colors brighter than this get dark replacement text so the redaction
// stays readable on the opaque fill.
const brightnessThreshold = 0.7

var (
	darkText   = document.Color{R: 0.12, G: 0.12, B: 0.12}
	opaqueFill = document.Color{R: 1, G: 1, B: 1}
)

// Applier draws pending redaction segments onto pages and flattens them
// into the document.
type Applier struct {
	fonts  *font.AliasCache
	logger *logger.Logger
	marker rune
}

// NewApplier creates an applier drawing with the given marker character
// for generated default masks.
func NewApplier(fonts *font.AliasCache, marker rune, log *logger.Logger) *Applier {
	return &Applier{fonts: fonts, logger: log, marker: marker}
}

// Apply draws every segment of the given operations as an opaque,
// text-bearing mark on its page. Degenerate boxes are skipped with a
// warning; they cannot be drawn.
func (a *Applier) Apply(doc *document.Document, ops []*Operation) error {
	pages := make(map[int]*document.Page, len(doc.Pages))
	for _, p := range doc.Pages {
		pages[p.Number] = p
	}

	for _, op := range ops {
		for i := range op.Segments {
			seg := &op.Segments[i]
			page, ok := pages[seg.Page]
			if !ok {
				return fmt.Errorf("segment references unknown page %d", seg.Page)
			}
			if !seg.BBox.Valid() {
				if a.logger != nil {
					a.logger.Warn("Skipping degenerate redaction box",
						zap.Int("page", seg.Page),
						zap.Float64("width", seg.BBox.Width()),
						zap.Float64("height", seg.BBox.Height()),
					)
				}
				continue
			}

			text := seg.Redacted
			if text == "" {
				text = a.defaultMask(seg.Original)
			}

			alias := a.fonts.ResolveForText(seg.Font, text)
			a.fonts.EnsureOnPage(page, alias)

			color := seg.Color
			if color.Brightness() > brightnessThreshold {
				color = darkText
			}

			page.Marks = append(page.Marks, document.Mark{
				BBox:      seg.BBox,
				Text:      text,
				FontAlias: alias,
				Size:      seg.Size,
				Color:     color,
				Fill:      opaqueFill,
			})
		}
	}
	return nil
}

// Flatten burns all pending marks into page content: the character map's
// redacted characters replace the original glyphs and every touched page
// marks its redactions as final. Irreversible; undo stops working once
// this has run.
func (a *Applier) Flatten(doc *document.Document, m *document.CharMap) error {
	if err := document.RewriteText(doc, m); err != nil {
		return fmt.Errorf("failed to flatten redactions: %w", err)
	}
	for _, page := range doc.Pages {
		for i := range page.Marks {
			page.Marks[i].Flattened = true
		}
	}
	return nil
}

// defaultMask generates replacement text when a segment carries none:
// first and last characters revealed for length >= 3, first only for
// length 2, a single marker for length 1.
func (a *Applier) defaultMask(original string) string {
	r := []rune(original)
	switch {
	case len(r) >= 3:
		masked := make([]rune, len(r))
		masked[0] = r[0]
		for i := 1; i < len(r)-1; i++ {
			masked[i] = a.marker
		}
		masked[len(r)-1] = r[len(r)-1]
		return string(masked)
	case len(r) == 2:
		return string(r[0]) + string(a.marker)
	case len(r) == 1:
		return string(a.marker)
	default:
		return ""
	}
}
