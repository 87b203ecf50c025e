package redact

import (
	"errors"
	"fmt"

	"github.com/veildoc/veildoc/internal/document"
)

// ErrMarkerOverwrite is returned when a replacement would put a visible
// character onto a structural marker entry. Markers separate lines and
// pages in the character map; writing text over them would vanish
// silently when the map is burned back into the document.
var ErrMarkerOverwrite = errors.New("replacement writes a visible character over a structural marker")

// LocateError is returned when an edit falls outside the character map's
// addressable range. The operation is discarded; the map is untouched.
type LocateError struct {
	Start  int
	End    int
	MapLen int
}

func (e *LocateError) Error() string {
	return fmt.Sprintf("edit range [%d,%d) outside character map of length %d", e.Start, e.End, e.MapLen)
}

// BuildSegments overwrites the character map in place with replacement
// starting at rune offset start, recording a backup pair per touched
// entry, and groups the touched entries into per-page segments.
//
// A new segment starts whenever the page changes. Structural markers
// neither break a running segment nor extend its bounding box. The
// segment's font, size, and color come from its first entry that has
// geometry.
func BuildSegments(m *document.CharMap, start int, replacement string) ([]Segment, []BackupPair, error) {
	repl := []rune(replacement)
	end := start + len(repl)
	if start < 0 || end > m.Len() {
		return nil, nil, &LocateError{Start: start, End: end, MapLen: m.Len()}
	}
	if len(repl) == 0 {
		return nil, nil, nil
	}

	// Validate before mutating anything so a rejected edit leaves the
	// map exactly as it was.
	for i, ch := range repl {
		if m.Entry(start+i).Marker() && ch != '\n' {
			return nil, nil, ErrMarkerOverwrite
		}
	}

	backups := make([]BackupPair, 0, len(repl))
	var segments []Segment
	var cur *Segment

	flush := func() {
		if cur != nil && cur.hasBox {
			segments = append(segments, *cur)
		}
		cur = nil
	}

	for i, ch := range repl {
		idx := start + i
		entry := m.Entry(idx)

		backups = append(backups, BackupPair{Index: idx, Char: entry.Char})
		original := entry.Char
		entry.Char = ch

		if entry.Marker() {
			// Markers ride along in the running segment without
			// contributing geometry.
			if cur != nil {
				cur.Original += string(original)
				cur.Redacted += string(ch)
				cur.Indices = append(cur.Indices, idx)
			}
			continue
		}

		if cur != nil && entry.Page != cur.Page {
			flush()
		}
		if cur == nil {
			cur = &Segment{Page: entry.Page}
		}

		cur.Original += string(original)
		cur.Redacted += string(ch)
		cur.Indices = append(cur.Indices, idx)

		if !cur.hasBox {
			cur.BBox = *entry.BBox
			cur.Font = entry.Font
			cur.Size = entry.Size
			cur.Color = entry.Color
			cur.hasBox = true
		} else {
			cur.BBox = cur.BBox.Union(*entry.BBox)
		}
	}
	flush()

	return segments, backups, nil
}

// rollback restores the exact prior characters recorded in backups.
func rollback(m *document.CharMap, backups []BackupPair) {
	for i := len(backups) - 1; i >= 0; i-- {
		m.Entry(backups[i].Index).Char = backups[i].Char
	}
}
