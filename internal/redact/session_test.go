package redact

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/veildoc/veildoc/internal/document"
	"github.com/veildoc/veildoc/internal/logger"
	"github.com/veildoc/veildoc/internal/rules"
)

func newTestSession(t *testing.T, pageTexts ...string) *Session {
	t.Helper()
	log := logger.NewNop()
	catalog := rules.NewCatalog(log)
	engine := rules.NewEngine('*', rules.FailOpen, log)
	s := NewSession(catalog, engine, nil, '*', log)
	s.OpenDocument(testDoc(pageTexts...))
	return s
}

func TestSessionApplyRule(t *testing.T) {
	t.Run("MobileScenario", func(t *testing.T) {
		s := newTestSession(t, "contact 13812345678")
		op, err := s.ApplyRule("phone_rule", nil)
		if err != nil {
			t.Fatal(err)
		}
		if op == nil {
			t.Fatal("expected an operation")
		}
		if !strings.HasPrefix(s.FlattenedText(), "contact 138****5678") {
			t.Errorf("flattened = %q", s.FlattenedText())
		}
		if op.RuleID != "phone_rule" || op.Kind != OpRule {
			t.Errorf("provenance lost: %+v", op)
		}
	})

	t.Run("NationalIDScenario", func(t *testing.T) {
		s := newTestSession(t, "123456199001011234")
		if _, err := s.ApplyRule("id_card_rule", nil); err != nil {
			t.Fatal(err)
		}
		if !strings.HasPrefix(s.FlattenedText(), "123***********1234") {
			t.Errorf("flattened = %q", s.FlattenedText())
		}
	})

	t.Run("CustomNameList", func(t *testing.T) {
		s := newTestSession(t, "张三和李四")
		if _, err := s.ApplyRule("name_rule", []string{"张三"}); err != nil {
			t.Fatal(err)
		}
		if !strings.HasPrefix(s.FlattenedText(), "张*和李四") {
			t.Errorf("flattened = %q; 李四 must stay untouched without a list entry", s.FlattenedText())
		}
	})

	t.Run("NoMatchNoOperation", func(t *testing.T) {
		s := newTestSession(t, "nothing sensitive")
		op, err := s.ApplyRule("phone_rule", nil)
		if err != nil {
			t.Fatal(err)
		}
		if op != nil {
			t.Errorf("expected nil operation, got %+v", op)
		}
		if s.HistoryLen() != 0 {
			t.Error("no-op should not enter history")
		}
	})

	t.Run("UnknownRule", func(t *testing.T) {
		s := newTestSession(t, "text")
		if _, err := s.ApplyRule("no_such_rule", nil); err == nil {
			t.Error("expected error for unknown rule")
		}
	})
}

func TestSessionUndo(t *testing.T) {
	t.Run("RoundTripRestoresMap", func(t *testing.T) {
		s := newTestSession(t, "contact 13812345678")
		before := s.FlattenedText()

		if _, err := s.ApplyRule("phone_rule", nil); err != nil {
			t.Fatal(err)
		}
		if s.FlattenedText() == before {
			t.Fatal("rule did not change text")
		}

		if _, err := s.Undo(); err != nil {
			t.Fatal(err)
		}
		if s.FlattenedText() != before {
			t.Errorf("undo did not restore text: %q != %q", s.FlattenedText(), before)
		}
		if len(s.PendingSegments()) != 0 {
			t.Error("pending segments survived undo")
		}
	})

	t.Run("LIFOOrder", func(t *testing.T) {
		s := newTestSession(t, "13812345678 and test@example.com")
		s.ApplyRule("phone_rule", nil)
		afterPhone := s.FlattenedText()
		s.ApplyRule("email_rule", nil)

		op, err := s.Undo()
		if err != nil {
			t.Fatal(err)
		}
		if op.RuleID != "email_rule" {
			t.Errorf("expected email undo first, got %s", op.RuleID)
		}
		if s.FlattenedText() != afterPhone {
			t.Errorf("text = %q, want %q", s.FlattenedText(), afterPhone)
		}
	})

	t.Run("EmptyHistory", func(t *testing.T) {
		s := newTestSession(t, "abc")
		if _, err := s.Undo(); !errors.Is(err, ErrNothingToUndo) {
			t.Errorf("expected ErrNothingToUndo, got %v", err)
		}
	})
}

func TestSessionReplaceAll(t *testing.T) {
	t.Run("CountAndUndo", func(t *testing.T) {
		s := newTestSession(t, "张三会见张三和李四")
		before := s.FlattenedText()

		op, err := s.ReplaceAll("张三", "张*")
		if err != nil {
			t.Fatal(err)
		}
		if op.Occurrences != 2 {
			t.Errorf("occurrences = %d, want 2", op.Occurrences)
		}
		if !strings.HasPrefix(s.FlattenedText(), "张*会见张*和李四") {
			t.Errorf("flattened = %q", s.FlattenedText())
		}

		undone, err := s.Undo()
		if err != nil {
			t.Fatal(err)
		}
		if undone.Occurrences != 2 {
			t.Errorf("undone occurrences = %d", undone.Occurrences)
		}
		if s.FlattenedText() != before {
			t.Errorf("undo did not restore original text")
		}
	})

	t.Run("LengthMismatchRejected", func(t *testing.T) {
		s := newTestSession(t, "张三在此")
		if _, err := s.ReplaceAll("张三", "张"); !errors.Is(err, ErrLengthChanged) {
			t.Errorf("expected ErrLengthChanged, got %v", err)
		}
	})

	t.Run("NoOccurrences", func(t *testing.T) {
		s := newTestSession(t, "nothing here")
		op, err := s.ReplaceAll("张三", "张*")
		if err != nil || op != nil {
			t.Errorf("expected nil op, got op=%v err=%v", op, err)
		}
	})
}

func TestSessionSubmitEdit(t *testing.T) {
	s := newTestSession(t, "abcdef")
	flat := s.FlattenedText()

	edited := strings.Replace(flat, "cd", "**", 1)
	ops, err := s.SubmitEdit(edited)
	if err != nil {
		t.Fatal(err)
	}
	if len(ops) != 1 || ops[0].Original != "cd" || ops[0].Redacted != "**" {
		t.Errorf("ops = %+v", ops)
	}
	if s.FlattenedText() != edited {
		t.Errorf("flattened = %q, want %q", s.FlattenedText(), edited)
	}

	t.Run("LengthChangeRejected", func(t *testing.T) {
		if _, err := s.SubmitEdit("short"); !errors.Is(err, ErrLengthChanged) {
			t.Errorf("expected ErrLengthChanged, got %v", err)
		}
	})

	t.Run("MarkerOverwriteRejected", func(t *testing.T) {
		s := newTestSession(t, "ab")
		flat := s.FlattenedText()
		// Put visible characters where the line and page markers live.
		edited := strings.Replace(flat, "\n\n", "XY", 1)
		if _, err := s.SubmitEdit(edited); !errors.Is(err, ErrMarkerOverwrite) {
			t.Fatalf("expected ErrMarkerOverwrite, got %v", err)
		}
		if s.FlattenedText() != flat {
			t.Errorf("flattened changed: %q", s.FlattenedText())
		}
		if s.HistoryLen() != 0 {
			t.Errorf("history = %d after rejected edit", s.HistoryLen())
		}
	})
}

func TestSessionSave(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.vdoc")

	s := newTestSession(t, "contact 13812345678")
	if _, err := s.ApplyRule("phone_rule", nil); err != nil {
		t.Fatal(err)
	}
	if err := s.Save(path); err != nil {
		t.Fatal(err)
	}

	t.Run("RedactionBurnedIn", func(t *testing.T) {
		saved, err := document.Open(path)
		if err != nil {
			t.Fatal(err)
		}
		text := saved.Pages[0].Blocks[0].Lines[0].Spans[0].Text
		if text != "contact 138****5678" {
			t.Errorf("span text = %q", text)
		}
		if len(saved.Pages[0].Marks) == 0 {
			t.Fatal("no redaction marks on page")
		}
		if !saved.Pages[0].Marks[0].Flattened {
			t.Error("mark not flattened")
		}
	})

	t.Run("UndoImpossibleAfterFlatten", func(t *testing.T) {
		if _, err := s.Undo(); !errors.Is(err, ErrFlattened) {
			t.Errorf("expected ErrFlattened, got %v", err)
		}
	})

	t.Run("FurtherEditsRejected", func(t *testing.T) {
		if _, err := s.ApplyRule("phone_rule", nil); !errors.Is(err, ErrFlattened) {
			t.Errorf("expected ErrFlattened, got %v", err)
		}
	})
}

func TestSessionReset(t *testing.T) {
	s := newTestSession(t, "13812345678")
	s.ApplyRule("phone_rule", nil)

	s.OpenDocument(testDoc("fresh text"))
	if s.HistoryLen() != 0 || len(s.PendingSegments()) != 0 {
		t.Error("state leaked across documents")
	}
	if !strings.HasPrefix(s.FlattenedText(), "fresh text") {
		t.Errorf("flattened = %q", s.FlattenedText())
	}
}

func TestApplierDefaults(t *testing.T) {
	a := NewApplier(nil, '*', logger.NewNop())

	cases := []struct{ in, want string }{
		{"abcdef", "a****f"},
		{"abc", "a*c"},
		{"ab", "a*"},
		{"a", "*"},
		{"", ""},
	}
	for _, tc := range cases {
		if got := a.defaultMask(tc.in); got != tc.want {
			t.Errorf("defaultMask(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestApplierContrast(t *testing.T) {
	s := newTestSession(t, "13812345678")
	// Make the source text bright so the drawn text must darken.
	doc := s.Document()
	doc.Pages[0].Blocks[0].Lines[0].Spans[0].Color = document.Color{R: 0.95, G: 0.95, B: 0.9}
	s.OpenDocument(doc)

	s.ApplyRule("phone_rule", nil)
	path := filepath.Join(t.TempDir(), "bright.vdoc")
	if err := s.Save(path); err != nil {
		t.Fatal(err)
	}

	saved, err := document.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	mark := saved.Pages[0].Marks[0]
	if mark.Color.Brightness() > 0.5 {
		t.Errorf("bright source color not darkened: %+v", mark.Color)
	}
}
