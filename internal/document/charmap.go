package document

import "strings"

// CharEntry is one visible character of the document plus the geometry
// needed to redact it in place. Entries with a nil BBox are structural
// markers (line or page breaks) that keep the flattened text readable
// but have no visual extent.
type CharEntry struct {
	Index int
	Char  rune
	Page  int
	BBox  *Rect
	Font  string
	Size  float64
	Color Color
}

// Marker reports whether the entry is a structural line/page break.
func (e *CharEntry) Marker() bool { return e.BBox == nil }

// CharMap is the ordered character-level view of a document. The entry
// index equals the rune offset in the flattened text. The map's length
// is fixed for the life of a loaded document; redaction overwrites Char
// in place and never inserts or removes entries.
type CharMap struct {
	entries []CharEntry
}

// Extract walks the document's page/block/line/span structure and builds
// the character map. Spans that carry per-character geometry contribute
// exact boxes; otherwise each character's box is estimated by dividing
// the span box evenly by character count. A marker entry follows every
// line and every page.
func Extract(doc *Document) *CharMap {
	m := &CharMap{}
	for _, page := range doc.Pages {
		for _, block := range page.Blocks {
			for _, line := range block.Lines {
				for _, span := range line.Spans {
					extractSpan(m, page.Number, span)
				}
				m.appendMarker(page.Number)
			}
		}
		m.appendMarker(page.Number)
	}
	for i := range m.entries {
		m.entries[i].Index = i
	}
	return m
}

func extractSpan(m *CharMap, pageNum int, span Span) {
	runes := []rune(span.Text)
	if len(runes) == 0 {
		return
	}

	exact := len(span.CharBoxes) == len(runes)
	width := span.BBox.Width() / float64(len(runes))

	for i, c := range runes {
		var box Rect
		if exact {
			box = span.CharBoxes[i]
		} else {
			// Even subdivision of the span box. An approximation, not
			// glyph metrics; fine for drawing an opaque cover.
			box = Rect{
				X0: span.BBox.X0 + float64(i)*width,
				Y0: span.BBox.Y0,
				X1: span.BBox.X0 + float64(i+1)*width,
				Y1: span.BBox.Y1,
			}
		}
		b := box
		m.entries = append(m.entries, CharEntry{
			Char:  c,
			Page:  pageNum,
			BBox:  &b,
			Font:  span.Font,
			Size:  span.Size,
			Color: span.Color,
		})
	}
}

func (m *CharMap) appendMarker(pageNum int) {
	m.entries = append(m.entries, CharEntry{
		Char: '\n',
		Page: pageNum,
	})
}

// Len returns the number of entries.
func (m *CharMap) Len() int { return len(m.entries) }

// Entry returns a pointer to the entry at index i.
func (m *CharMap) Entry(i int) *CharEntry { return &m.entries[i] }

// Flattened returns the concatenation of all character values. This is
// the only text surface exposed to the rule engine and to interactive
// editing; its rune offsets address the map directly.
func (m *CharMap) Flattened() string {
	var sb strings.Builder
	for i := range m.entries {
		sb.WriteRune(m.entries[i].Char)
	}
	return sb.String()
}
