package document

import (
	"bytes"
	"compress/zlib"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Container format: a 4-byte magic, one version byte, then a
// zlib-compressed JSON body.
var magic = []byte("VDOC")

const formatVersion = 1

// ErrEncrypted marks documents whose content is not readable.
var ErrEncrypted = errors.New("document is encrypted")

// ParseError is returned when a document cannot be opened. Nothing has
// been mutated when it is raised.
type ParseError struct {
	Path string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("cannot parse document %s: %v", e.Path, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// SaveError is returned when the output document cannot be written. No
// partially-written file is left behind.
type SaveError struct {
	Path string
	Err  error
}

func (e *SaveError) Error() string {
	return fmt.Sprintf("cannot save document %s: %v (check that the target is not open elsewhere and the directory is writable)", e.Path, e.Err)
}

func (e *SaveError) Unwrap() error { return e.Err }

// Open reads a document container from disk. The document is read-only
// until Save.
func Open(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ParseError{Path: path, Err: err}
	}
	if len(data) < len(magic)+1 || !bytes.Equal(data[:len(magic)], magic) {
		return nil, &ParseError{Path: path, Err: errors.New("not a document container")}
	}
	if v := data[len(magic)]; v != formatVersion {
		return nil, &ParseError{Path: path, Err: fmt.Errorf("unsupported container version %d", v)}
	}

	zr, err := zlib.NewReader(bytes.NewReader(data[len(magic)+1:]))
	if err != nil {
		return nil, &ParseError{Path: path, Err: fmt.Errorf("corrupt body: %w", err)}
	}
	defer zr.Close()

	body, err := io.ReadAll(zr)
	if err != nil {
		return nil, &ParseError{Path: path, Err: fmt.Errorf("corrupt body: %w", err)}
	}

	var doc Document
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, &ParseError{Path: path, Err: err}
	}
	if doc.Encrypted {
		return nil, &ParseError{Path: path, Err: ErrEncrypted}
	}
	return &doc, nil
}

// Save serializes the document with stream compression after collecting
// dead resources. The file is written to a temp path and renamed so a
// failure never leaves a partial output in place.
func Save(doc *Document, path string) error {
	CollectGarbage(doc)

	body, err := json.Marshal(doc)
	if err != nil {
		return &SaveError{Path: path, Err: err}
	}

	var buf bytes.Buffer
	buf.Write(magic)
	buf.WriteByte(formatVersion)
	zw, err := zlib.NewWriterLevel(&buf, zlib.BestCompression)
	if err != nil {
		return &SaveError{Path: path, Err: err}
	}
	if _, err := zw.Write(body); err != nil {
		zw.Close()
		return &SaveError{Path: path, Err: err}
	}
	if err := zw.Close(); err != nil {
		return &SaveError{Path: path, Err: err}
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".veildoc-*")
	if err != nil {
		return &SaveError{Path: path, Err: err}
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return &SaveError{Path: path, Err: err}
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return &SaveError{Path: path, Err: err}
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return &SaveError{Path: path, Err: err}
	}
	return nil
}

// CollectGarbage drops font resources no span or mark references.
func CollectGarbage(doc *Document) {
	for _, page := range doc.Pages {
		used := make(map[string]bool)
		for _, block := range page.Blocks {
			for _, line := range block.Lines {
				for _, span := range line.Spans {
					used[span.Font] = true
				}
			}
		}
		for _, mark := range page.Marks {
			used[mark.FontAlias] = true
		}

		kept := page.Fonts[:0]
		for _, f := range page.Fonts {
			if used[f.Name] {
				kept = append(kept, f)
			}
		}
		page.Fonts = kept
	}
}

// RewriteText copies the character map's current character values back
// into the document's spans, walking the same page/block/line/span order
// Extract used. This is how redacted characters are burned into page
// content. The map must have been extracted from this document.
//
// Marker entries carry no span position, so a visible character written
// onto one has nowhere to land on the page. RewriteText refuses such a
// map instead of dropping the character.
func RewriteText(doc *Document, m *CharMap) error {
	pos := 0
	skipMarker := func() error {
		if pos >= m.Len() {
			return errors.New("character map shorter than document text")
		}
		if ch := m.Entry(pos).Char; ch != '\n' {
			return fmt.Errorf("marker entry %d holds %q; the character would be lost", pos, ch)
		}
		pos++
		return nil
	}
	for _, page := range doc.Pages {
		for bi := range page.Blocks {
			for li := range page.Blocks[bi].Lines {
				line := &page.Blocks[bi].Lines[li]
				for si := range line.Spans {
					span := &line.Spans[si]
					runes := []rune(span.Text)
					out := make([]rune, len(runes))
					for i := range runes {
						if pos >= m.Len() {
							return errors.New("character map shorter than document text")
						}
						out[i] = m.Entry(pos).Char
						pos++
					}
					span.Text = string(out)
				}
				if err := skipMarker(); err != nil {
					return err
				}
			}
		}
		if err := skipMarker(); err != nil {
			return err
		}
	}
	if pos != m.Len() {
		return errors.New("character map longer than document text")
	}
	return nil
}
