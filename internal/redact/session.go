package redact

import (
	"errors"
	"fmt"
	"time"

	"github.com/veildoc/veildoc/internal/document"
	"github.com/veildoc/veildoc/internal/font"
	"github.com/veildoc/veildoc/internal/logger"
	"github.com/veildoc/veildoc/internal/rules"
	"go.uber.org/zap"
)

var (
	// ErrNoDocument is returned by operations before Open.
	ErrNoDocument = errors.New("no document open in session")
	// ErrFlattened is returned when mutating a session whose redactions
	// were already flattened and saved.
	ErrFlattened = errors.New("document already flattened; original content is gone")
	// ErrNothingToUndo is returned by Undo on an empty history.
	ErrNothingToUndo = errors.New("nothing to undo")
)

// Session owns all per-document state: the character map, the font alias
// cache, the pending operations, and the undo history. Sessions are
// single-threaded; callers serialize access. State is fully reset
// between documents so nothing leaks across a batch.
type Session struct {
	catalog *rules.Catalog
	engine  *rules.Engine
	logger  *logger.Logger

	fontFiles []string
	marker    rune

	doc       *document.Document
	path      string
	charmap   *document.CharMap
	flat      string
	fonts     *font.AliasCache
	history   *History
	pending   []*Operation
	flattened bool
}

// NewSession creates a session bound to a rule catalog and engine.
// fontFiles is the fallback font list handed to each document's alias
// cache.
func NewSession(catalog *rules.Catalog, engine *rules.Engine, fontFiles []string, marker rune, log *logger.Logger) *Session {
	return &Session{
		catalog:   catalog,
		engine:    engine,
		fontFiles: fontFiles,
		marker:    marker,
		logger:    log,
	}
}

// Open loads a document from disk and extracts its character map. Any
// previous session state is discarded first.
func (s *Session) Open(path string) error {
	doc, err := document.Open(path)
	if err != nil {
		return err
	}
	s.OpenDocument(doc)
	s.path = path
	if s.logger != nil {
		s.logger.Info("Document opened",
			zap.String("path", path),
			zap.Int("pages", len(doc.Pages)),
			zap.Int("characters", s.charmap.Len()),
		)
	}
	return nil
}

// OpenDocument binds an already-parsed document to the session.
func (s *Session) OpenDocument(doc *document.Document) {
	s.Reset()
	s.doc = doc
	s.charmap = document.Extract(doc)
	s.flat = s.charmap.Flattened()
	s.fonts = font.NewAliasCache(s.fontFiles, s.logger)
	s.fonts.ScanDocument(doc)
}

// Reset discards all per-document state.
func (s *Session) Reset() {
	s.doc = nil
	s.path = ""
	s.charmap = nil
	s.flat = ""
	s.fonts = nil
	s.history = &History{}
	s.pending = nil
	s.flattened = false
}

// Close is Reset under a lifecycle name; the session can be reopened.
func (s *Session) Close() {
	s.Reset()
}

// FlattenedText returns the current editable text surface.
func (s *Session) FlattenedText() string {
	return s.flat
}

// Document returns the open document, for rendering.
func (s *Session) Document() *document.Document {
	return s.doc
}

// PendingSegments returns the segments of all not-yet-flattened
// operations, for rendering.
func (s *Session) PendingSegments() []Segment {
	var out []Segment
	for _, op := range s.pending {
		out = append(out, op.Segments...)
	}
	return out
}

// HistoryLen returns the number of undoable operations.
func (s *Session) HistoryLen() int {
	if s.history == nil {
		return 0
	}
	return s.history.Len()
}

// Diagnostics returns rule-engine failures recorded so far.
func (s *Session) Diagnostics() []rules.Diagnostic {
	return s.engine.Diagnostics()
}

// SubmitEdit diffs an edited copy of the flattened text against the
// current one and converts every changed range into a redaction
// operation. The edit must preserve the text length.
func (s *Session) SubmitEdit(updated string) ([]*Operation, error) {
	if err := s.mutable(); err != nil {
		return nil, err
	}

	ranges, err := DiffRanges(s.flat, updated)
	if err != nil {
		return nil, err
	}

	upd := []rune(updated)
	var ops []*Operation
	for _, rng := range ranges {
		op, err := s.applyRange(OpEdit, rng, string(upd[rng.Start:rng.End]), "")
		if err != nil {
			// Roll back ranges already applied from this edit.
			for i := len(ops) - 1; i >= 0; i-- {
				rollback(s.charmap, ops[i].Backups)
				s.history.Pop()
				s.pending = s.pending[:len(s.pending)-1]
			}
			s.flat = s.charmap.Flattened()
			return nil, err
		}
		ops = append(ops, op)
	}
	return ops, nil
}

// ReplaceAll replaces every occurrence of target with replacement (same
// rune length) as a single undoable operation and returns it along with
// the occurrence count.
func (s *Session) ReplaceAll(target, replacement string) (*Operation, error) {
	if err := s.mutable(); err != nil {
		return nil, err
	}
	t := []rune(target)
	r := []rune(replacement)
	if len(t) == 0 {
		return nil, errors.New("empty replace target")
	}
	if len(t) != len(r) {
		return nil, ErrLengthChanged
	}

	flat := []rune(s.flat)
	var offsets []int
	for i := 0; i+len(t) <= len(flat); {
		if runesEqual(flat[i:i+len(t)], t) {
			offsets = append(offsets, i)
			i += len(t)
			continue
		}
		i++
	}
	if len(offsets) == 0 {
		return nil, nil
	}

	op := &Operation{
		Kind:        OpReplaceAll,
		Start:       offsets[0],
		End:         offsets[len(offsets)-1] + len(t),
		Original:    target,
		Redacted:    replacement,
		Timestamp:   time.Now(),
		Occurrences: len(offsets),
	}
	for _, off := range offsets {
		segs, backups, err := BuildSegments(s.charmap, off, replacement)
		if err != nil {
			rollback(s.charmap, op.Backups)
			return nil, err
		}
		op.Segments = append(op.Segments, segs...)
		op.Backups = append(op.Backups, backups...)
	}

	s.flat = s.charmap.Flattened()
	s.history.Push(op)
	s.pending = append(s.pending, op)

	if s.logger != nil {
		s.logger.Info("Replace-all applied",
			zap.Int("occurrences", op.Occurrences),
			zap.Int("segments", len(op.Segments)),
		)
	}
	return op, nil
}

// ApplyRule runs one rule over the whole flattened text and records the
// resulting changes as one operation with rule provenance. Returns nil
// when the rule matched nothing.
func (s *Session) ApplyRule(ruleID string, customList []string) (*Operation, error) {
	if err := s.mutable(); err != nil {
		return nil, err
	}
	rule := s.catalog.Get(ruleID)
	if rule == nil {
		return nil, fmt.Errorf("unknown rule: %s", ruleID)
	}

	masked := s.engine.Mask(rule, s.flat, customList)
	if masked == s.flat {
		return nil, nil
	}

	ranges, err := DiffRanges(s.flat, masked)
	if err != nil {
		return nil, err
	}

	m := []rune(masked)
	op := &Operation{
		Kind:      OpRule,
		Start:     ranges[0].Start,
		End:       ranges[len(ranges)-1].End,
		Timestamp: time.Now(),
		RuleID:    ruleID,
	}
	flat := []rune(s.flat)
	for _, rng := range ranges {
		segs, backups, err := BuildSegments(s.charmap, rng.Start, string(m[rng.Start:rng.End]))
		if err != nil {
			rollback(s.charmap, op.Backups)
			return nil, err
		}
		op.Segments = append(op.Segments, segs...)
		op.Backups = append(op.Backups, backups...)
		op.Original += string(flat[rng.Start:rng.End])
		op.Redacted += string(m[rng.Start:rng.End])
		op.Occurrences++
	}

	s.flat = s.charmap.Flattened()
	s.history.Push(op)
	s.pending = append(s.pending, op)

	if s.logger != nil {
		s.logger.Info("Rule applied",
			zap.String("rule", ruleID),
			zap.Int("changed_ranges", op.Occurrences),
		)
	}
	return op, nil
}

// ApplyActiveRules runs every active catalog rule in order, feeding
// list-driven rules from the supplied custom lists.
func (s *Session) ApplyActiveRules(lists rules.CustomLists) ([]*Operation, error) {
	var ops []*Operation
	for _, rule := range s.catalog.Active() {
		var list []string
		switch rule.Kind {
		case rules.KindName:
			list = lists.Names
		case rules.KindCustomField:
			list = lists.Fields
		}
		op, err := s.ApplyRule(rule.ID, list)
		if err != nil {
			return ops, err
		}
		if op != nil {
			ops = append(ops, op)
		}
	}
	return ops, nil
}

// Undo reverses the most recent operation: its backup pairs restore the
// exact prior characters, it leaves the pending list, and the flattened
// text is regenerated. Only possible before Save flattens the document.
func (s *Session) Undo() (*Operation, error) {
	if s.doc == nil {
		return nil, ErrNoDocument
	}
	if s.flattened {
		return nil, ErrFlattened
	}
	op := s.history.Pop()
	if op == nil {
		return nil, ErrNothingToUndo
	}

	rollback(s.charmap, op.Backups)
	for i, pending := range s.pending {
		if pending == op {
			s.pending = append(s.pending[:i], s.pending[i+1:]...)
			break
		}
	}
	s.flat = s.charmap.Flattened()

	if s.logger != nil {
		s.logger.Info("Operation undone",
			zap.Int("restored_chars", len(op.Backups)),
			zap.Int("remaining_history", s.history.Len()),
		)
	}
	return op, nil
}

// Save draws all pending segments, flattens them irreversibly into the
// document, and writes the result to path. Pending state and history are
// cleared; further mutation requires reopening.
func (s *Session) Save(path string) error {
	if s.doc == nil {
		return ErrNoDocument
	}

	applier := NewApplier(s.fonts, s.marker, s.logger)
	if err := applier.Apply(s.doc, s.pending); err != nil {
		return err
	}
	if err := applier.Flatten(s.doc, s.charmap); err != nil {
		return err
	}
	if err := document.Save(s.doc, path); err != nil {
		return err
	}

	s.pending = nil
	s.history.Clear()
	s.flattened = true

	if s.logger != nil {
		s.logger.Info("Document saved", zap.String("path", path))
	}
	return nil
}

// applyRange builds and records one operation covering a single range.
func (s *Session) applyRange(kind OpKind, rng Range, replacement, ruleID string) (*Operation, error) {
	flat := []rune(s.flat)
	segs, backups, err := BuildSegments(s.charmap, rng.Start, replacement)
	if err != nil {
		return nil, err
	}
	op := &Operation{
		Kind:      kind,
		Start:     rng.Start,
		End:       rng.End,
		Original:  string(flat[rng.Start:rng.End]),
		Redacted:  replacement,
		Segments:  segs,
		Backups:   backups,
		Timestamp: time.Now(),
		RuleID:    ruleID,
	}
	s.flat = s.charmap.Flattened()
	s.history.Push(op)
	s.pending = append(s.pending, op)
	return op, nil
}

func (s *Session) mutable() error {
	if s.doc == nil {
		return ErrNoDocument
	}
	if s.flattened {
		return ErrFlattened
	}
	return nil
}

func runesEqual(a, b []rune) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
