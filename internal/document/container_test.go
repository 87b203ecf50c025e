package document

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestContainerRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sample.vdoc")

	doc := singleSpanDoc("hello", nil)
	doc.Meta = map[string]string{"title": "sample"}

	if err := Save(doc, path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if len(loaded.Pages) != 1 {
		t.Fatalf("expected 1 page, got %d", len(loaded.Pages))
	}
	if got := loaded.Pages[0].Blocks[0].Lines[0].Spans[0].Text; got != "hello" {
		t.Errorf("span text = %q", got)
	}
	if loaded.Meta["title"] != "sample" {
		t.Errorf("meta lost: %v", loaded.Meta)
	}
}

func TestOpenFailures(t *testing.T) {
	dir := t.TempDir()

	t.Run("MissingFile", func(t *testing.T) {
		_, err := Open(filepath.Join(dir, "absent.vdoc"))
		var perr *ParseError
		if !errors.As(err, &perr) {
			t.Fatalf("expected ParseError, got %v", err)
		}
	})

	t.Run("NotAContainer", func(t *testing.T) {
		path := filepath.Join(dir, "junk.vdoc")
		os.WriteFile(path, []byte("%PDF-1.7 not ours"), 0644)
		if _, err := Open(path); err == nil {
			t.Fatal("expected error for foreign file")
		}
	})

	t.Run("Encrypted", func(t *testing.T) {
		path := filepath.Join(dir, "locked.vdoc")
		doc := singleSpanDoc("secret", nil)
		doc.Encrypted = true
		if err := Save(doc, path); err != nil {
			t.Fatalf("Save failed: %v", err)
		}
		_, err := Open(path)
		if !errors.Is(err, ErrEncrypted) {
			t.Fatalf("expected ErrEncrypted, got %v", err)
		}
	})
}

func TestSaveLeavesNoPartialFile(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "missing-dir", "out.vdoc")

	err := Save(singleSpanDoc("x", nil), target)
	var serr *SaveError
	if !errors.As(err, &serr) {
		t.Fatalf("expected SaveError, got %v", err)
	}
	if _, statErr := os.Stat(target); !os.IsNotExist(statErr) {
		t.Error("partial output file left behind")
	}
}

func TestCollectGarbage(t *testing.T) {
	doc := singleSpanDoc("ab", nil)
	doc.Pages[0].Fonts = []FontResource{
		{Name: "SimSun", Program: []byte{1, 2, 3}},
		{Name: "UnusedFont", Program: []byte{4, 5, 6}},
	}

	CollectGarbage(doc)

	if len(doc.Pages[0].Fonts) != 1 || doc.Pages[0].Fonts[0].Name != "SimSun" {
		t.Errorf("garbage collection wrong: %+v", doc.Pages[0].Fonts)
	}
}

func TestRewriteText(t *testing.T) {
	doc := singleSpanDoc("abcd", nil)
	m := Extract(doc)

	m.Entry(1).Char = '*'
	m.Entry(2).Char = '*'

	if err := RewriteText(doc, m); err != nil {
		t.Fatalf("RewriteText failed: %v", err)
	}
	if got := doc.Pages[0].Blocks[0].Lines[0].Spans[0].Text; got != "a**d" {
		t.Errorf("span text = %q, want %q", got, "a**d")
	}

	t.Run("MismatchedMapRejected", func(t *testing.T) {
		other := singleSpanDoc("longer text here", nil)
		if err := RewriteText(other, m); err == nil {
			t.Error("expected error for mismatched map")
		}
	})

	t.Run("OverwrittenMarkerRejected", func(t *testing.T) {
		doc := singleSpanDoc("ab", nil)
		m := Extract(doc)
		// Index 2 is the line marker; the character has no span to land in.
		m.Entry(2).Char = 'X'
		if err := RewriteText(doc, m); err == nil {
			t.Error("expected error for visible character on a marker")
		}
	})
}
