package document

// Rect is an axis-aligned bounding box in page coordinates, origin at
// the top-left of the page.
type Rect struct {
	X0 float64 `json:"x0"`
	Y0 float64 `json:"y0"`
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
}

// Valid reports whether the rectangle has positive area.
func (r Rect) Valid() bool {
	return r.X1 > r.X0 && r.Y1 > r.Y0
}

// Width returns the horizontal extent.
func (r Rect) Width() float64 { return r.X1 - r.X0 }

// Height returns the vertical extent.
func (r Rect) Height() float64 { return r.Y1 - r.Y0 }

// Union returns the smallest rectangle covering both r and o.
func (r Rect) Union(o Rect) Rect {
	out := r
	if o.X0 < out.X0 {
		out.X0 = o.X0
	}
	if o.Y0 < out.Y0 {
		out.Y0 = o.Y0
	}
	if o.X1 > out.X1 {
		out.X1 = o.X1
	}
	if o.Y1 > out.Y1 {
		out.Y1 = o.Y1
	}
	return out
}

// Color is an RGB color with components in [0,1].
type Color struct {
	R float64 `json:"r"`
	G float64 `json:"g"`
	B float64 `json:"b"`
}

// Brightness returns the average of the color components.
func (c Color) Brightness() float64 {
	return (c.R + c.G + c.B) / 3
}

// Span is a run of text sharing one font, size, and color. CharBoxes,
// when present, holds one box per rune of Text.
type Span struct {
	Text      string  `json:"text"`
	BBox      Rect    `json:"bbox"`
	Font      string  `json:"font"`
	Size      float64 `json:"size"`
	Color     Color   `json:"color"`
	CharBoxes []Rect  `json:"char_boxes,omitempty"`
}

// Line is a horizontal run of spans.
type Line struct {
	Spans []Span `json:"spans"`
	BBox  Rect   `json:"bbox"`
}

// Block is a paragraph-level group of lines.
type Block struct {
	Lines []Line `json:"lines"`
	BBox  Rect   `json:"bbox"`
}

// FontResource is an embedded font program carried by a page.
type FontResource struct {
	Name    string `json:"name"`
	Program []byte `json:"program,omitempty"`
}

// Mark is an opaque redaction drawn over a region of the page. Marks are
// pending until the page is flattened.
type Mark struct {
	BBox      Rect    `json:"bbox"`
	Text      string  `json:"text"`
	FontAlias string  `json:"font_alias"`
	Size      float64 `json:"size"`
	Color     Color   `json:"color"`
	Fill      Color   `json:"fill"`
	Flattened bool    `json:"flattened"`
}

// Page holds the text structure, font resources, and pending redaction
// marks of one document page.
type Page struct {
	Number int            `json:"number"`
	Width  float64        `json:"width"`
	Height float64        `json:"height"`
	Blocks []Block        `json:"blocks"`
	Fonts  []FontResource `json:"fonts,omitempty"`
	Marks  []Mark         `json:"marks,omitempty"`
}

// Document is a fixed-layout document: ordered pages of block/line/span
// text with per-span (optionally per-character) geometry.
type Document struct {
	Version   int               `json:"version"`
	Encrypted bool              `json:"encrypted,omitempty"`
	Meta      map[string]string `json:"meta,omitempty"`
	Pages     []*Page           `json:"pages"`
}
