package font

import (
	"fmt"
	"os"
	"strings"

	"github.com/veildoc/veildoc/internal/document"
	"github.com/veildoc/veildoc/internal/logger"
	"go.uber.org/zap"
	"golang.org/x/image/font/sfnt"
)

// BuiltinAlias is the minimal built-in label used when no embedded or
// fallback font can be registered. It cannot render non-Latin-1 glyphs;
// replacement text drawn with it may show blanks for CJK characters.
const BuiltinAlias = "helv"

// RegistrationError records a non-fatal failure to reuse or register a
// font. The resolver falls back and keeps going.
type RegistrationError struct {
	Font string
	Err  error
}

func (e *RegistrationError) Error() string {
	return fmt.Sprintf("font %s: registration failed: %v", e.Font, e.Err)
}

func (e *RegistrationError) Unwrap() error { return e.Err }

// AliasCache maps original font identifiers to registered aliases usable
// when writing replacement text. One cache lives per document session.
type AliasCache struct {
	logger        *logger.Logger
	fallbackFiles []string

	byExact  map[string]string
	byNorm   map[string]string
	programs map[string][]byte

	nextID        int
	fallbackAlias string
	fallbackTried bool
	failures      []RegistrationError
	scanned       bool
}

// NewAliasCache creates an empty cache. fallbackFiles is the ordered
// list of script-capable system font files to try when an original font
// cannot be reused.
func NewAliasCache(fallbackFiles []string, log *logger.Logger) *AliasCache {
	return &AliasCache{
		logger:        log,
		fallbackFiles: fallbackFiles,
		byExact:       make(map[string]string),
		byNorm:        make(map[string]string),
		programs:      make(map[string][]byte),
	}
}

// alloc issues the next alias from the cache-owned arena.
func (c *AliasCache) alloc() string {
	alias := fmt.Sprintf("VF%d", c.nextID)
	c.nextID++
	return alias
}

// NormalizeName strips the subsetting prefix (everything up to and
// including '+') and any trailing style variant after '-' or ','.
func NormalizeName(name string) string {
	if i := strings.Index(name, "+"); i >= 0 {
		name = name[i+1:]
	}
	if i := strings.IndexAny(name, "-,"); i > 0 {
		name = name[:i]
	}
	return name
}

// ScanDocument walks all pages once, extracts each distinct embedded
// font program, and registers it under a reusable alias indexed by both
// the exact and the normalized name. Safe to call more than once; later
// calls are no-ops.
func (c *AliasCache) ScanDocument(doc *document.Document) {
	if c.scanned {
		return
	}
	c.scanned = true

	for _, page := range doc.Pages {
		for _, res := range page.Fonts {
			if _, ok := c.byExact[res.Name]; ok {
				continue
			}
			if len(res.Program) == 0 {
				continue
			}
			if _, err := sfnt.Parse(res.Program); err != nil {
				c.fail(res.Name, err)
				continue
			}
			alias := c.alloc()
			c.programs[alias] = res.Program
			c.byExact[res.Name] = alias
			norm := NormalizeName(res.Name)
			if _, ok := c.byNorm[norm]; !ok {
				c.byNorm[norm] = alias
			}
			if c.logger != nil {
				c.logger.Debug("Embedded font registered",
					zap.String("font", res.Name),
					zap.String("alias", alias),
				)
			}
		}
	}
}

// Resolve maps an original font identifier to a registered alias: exact
// name first, then normalized, then the shared fallback.
func (c *AliasCache) Resolve(name string) string {
	if alias, ok := c.byExact[name]; ok {
		return alias
	}
	if alias, ok := c.byNorm[NormalizeName(name)]; ok {
		return alias
	}
	return c.fallback(false)
}

// ResolveForText resolves like Resolve but, when the replacement text
// needs extended characters and the resolved alias is the minimal
// built-in, forces another attempt to register a capable fallback.
func (c *AliasCache) ResolveForText(name, text string) string {
	alias := c.Resolve(name)
	if alias == BuiltinAlias && needsExtended(text) {
		alias = c.fallback(true)
	}
	return alias
}

// Program returns the font program bytes registered under alias, if any.
func (c *AliasCache) Program(alias string) []byte {
	return c.programs[alias]
}

// EnsureOnPage makes sure the page carries the resource for alias so the
// drawn replacement text stays renderable after save.
func (c *AliasCache) EnsureOnPage(page *document.Page, alias string) {
	program, ok := c.programs[alias]
	if !ok {
		return
	}
	for _, res := range page.Fonts {
		if res.Name == alias {
			return
		}
	}
	page.Fonts = append(page.Fonts, document.FontResource{Name: alias, Program: program})
}

// Failures returns the registration failures recorded so far.
func (c *AliasCache) Failures() []RegistrationError {
	out := make([]RegistrationError, len(c.failures))
	copy(out, c.failures)
	return out
}

// fallback returns the shared fallback alias, registering it from the
// first usable configured font file. force retries even after an earlier
// attempt gave up.
func (c *AliasCache) fallback(force bool) string {
	if c.fallbackAlias != "" {
		return c.fallbackAlias
	}
	if c.fallbackTried && !force {
		return BuiltinAlias
	}
	c.fallbackTried = true

	for _, path := range c.fallbackFiles {
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		if err := validateFontFile(path, data); err != nil {
			c.fail(path, err)
			continue
		}
		alias := c.alloc()
		c.programs[alias] = data
		c.fallbackAlias = alias
		if c.logger != nil {
			c.logger.Info("Fallback font registered",
				zap.String("file", path),
				zap.String("alias", alias),
			)
		}
		return alias
	}

	if c.logger != nil {
		c.logger.Warn("No fallback font available; non-Latin replacement text may not render")
	}
	return BuiltinAlias
}

func (c *AliasCache) fail(name string, err error) {
	c.failures = append(c.failures, RegistrationError{Font: name, Err: err})
	if c.logger != nil {
		c.logger.Warn("Font registration failed",
			zap.String("font", name),
			zap.Error(err),
		)
	}
}

func validateFontFile(path string, data []byte) error {
	if strings.HasSuffix(strings.ToLower(path), ".ttc") {
		coll, err := sfnt.ParseCollection(data)
		if err != nil {
			return err
		}
		if _, err := coll.Font(0); err != nil {
			return err
		}
		return nil
	}
	_, err := sfnt.Parse(data)
	return err
}

func needsExtended(text string) bool {
	for _, r := range text {
		if r > 0xFF {
			return true
		}
	}
	return false
}
