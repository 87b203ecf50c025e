package rules

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/veildoc/veildoc/internal/logger"
	"go.uber.org/zap"
)

// Engine applies redaction rules to text. All masking formulas preserve
// the rune count of their input so the character map stays aligned.
type Engine struct {
	marker      rune
	failMode    FailMode
	logger      *logger.Logger
	formulas    map[Kind]formula
	diagnostics []Diagnostic
}

type formula func(e *Engine, match string) string

// NewEngine creates a masking engine. marker is the fill character used
// for hidden positions (historically '*').
func NewEngine(marker rune, mode FailMode, log *logger.Logger) *Engine {
	e := &Engine{
		marker:   marker,
		failMode: mode,
		logger:   log,
	}
	e.formulas = map[Kind]formula{
		KindNationalID:   (*Engine).maskNationalID,
		KindMobile:       (*Engine).maskMobile,
		KindLandline:     (*Engine).maskLandline,
		KindEmail:        (*Engine).maskEmail,
		KindAddress:      (*Engine).maskAddress,
		KindBankCard:     (*Engine).maskBankCard,
		KindLicensePlate: (*Engine).maskLicensePlate,
		KindPassport:     (*Engine).maskPassport,
		KindOrgCode:      (*Engine).maskOrgCode,
		KindTaxID:        (*Engine).maskTaxID,
		KindEmployeeID:   (*Engine).maskEmployeeID,
	}
	return e
}

// Mask applies one rule to text and returns the masked result.
//
// List-driven rules replace only exact occurrences of customList entries
// and are a no-op without a list. Pattern rules rewrite every
// non-overlapping match through the rule kind's formula, falling back to
// the shape classifier for kinds without one.
//
// On failure the engine follows its FailMode: open returns the original
// text, closed returns an all-marker string of the same length. Either
// way the failure is recorded as a Diagnostic.
func (e *Engine) Mask(rule *Rule, text string, customList []string) (result string) {
	if rule == nil || text == "" {
		return text
	}

	defer func() {
		if r := recover(); r != nil {
			e.record(rule.ID, fmt.Sprintf("rule application panic: %v", r))
			if e.failMode == FailClosed {
				result = e.repeat(len([]rune(text)))
			} else {
				result = text
			}
		}
	}()

	if rule.Kind.ListDriven() {
		return e.maskFromList(text, customList)
	}

	if rule.Pattern == nil {
		e.record(rule.ID, "rule has no compiled pattern")
		if e.failMode == FailClosed {
			return e.repeat(len([]rune(text)))
		}
		return text
	}

	matches := rule.Pattern.FindAllString(text, -1)
	if len(matches) == 0 {
		return text
	}

	f, ok := e.formulas[rule.Kind]
	if !ok {
		f = (*Engine).maskGeneric
	}

	result = text
	for _, match := range uniqueStrings(matches) {
		masked := f(e, match)
		result = strings.ReplaceAll(result, match, masked)
		if e.logger != nil {
			e.logger.Debug("PII matched and masked",
				zap.String("rule", rule.ID),
				zap.Int("match_len", len([]rune(match))),
			)
		}
	}
	return result
}

// Diagnostics returns the masking failures recorded since the last clear.
func (e *Engine) Diagnostics() []Diagnostic {
	out := make([]Diagnostic, len(e.diagnostics))
	copy(out, e.diagnostics)
	return out
}

// ClearDiagnostics drops recorded failures.
func (e *Engine) ClearDiagnostics() {
	e.diagnostics = nil
}

func (e *Engine) record(ruleID, msg string) {
	e.diagnostics = append(e.diagnostics, Diagnostic{
		RuleID:    ruleID,
		Message:   msg,
		Timestamp: time.Now(),
	})
	if e.logger != nil {
		e.logger.Warn("Masking failure",
			zap.String("rule", ruleID),
			zap.String("reason", msg),
		)
	}
}

// maskFromList masks exact occurrences of list entries: first rune kept,
// remainder replaced by the marker.
func (e *Engine) maskFromList(text string, list []string) string {
	if len(list) == 0 {
		return text
	}
	result := text
	for _, entry := range list {
		if entry == "" || !strings.Contains(result, entry) {
			continue
		}
		r := []rune(entry)
		masked := string(r[0]) + e.repeat(len(r)-1)
		result = strings.ReplaceAll(result, entry, masked)
	}
	return result
}

func (e *Engine) repeat(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.Repeat(string(e.marker), n)
}

// reveal keeps the first `head` and last `tail` runes and fills the rest
// with the marker.
func (e *Engine) reveal(r []rune, head, tail int) string {
	return string(r[:head]) + e.repeat(len(r)-head-tail) + string(r[len(r)-tail:])
}

func (e *Engine) maskNationalID(match string) string {
	r := []rune(match)
	if len(r) != 18 {
		return e.maskGeneric(match)
	}
	return e.reveal(r, 3, 4)
}

func (e *Engine) maskMobile(match string) string {
	r := []rune(match)
	if len(r) != 11 {
		return e.maskGeneric(match)
	}
	return string(r[:3]) + e.repeat(4) + string(r[7:])
}

// maskLandline keeps the area code and last four digits. The delimiter,
// when present, is preserved and each side masked independently.
func (e *Engine) maskLandline(match string) string {
	if i := strings.Index(match, "-"); i >= 0 {
		area, rest := match[:i], []rune(match[i+1:])
		if len(rest) > 4 {
			return area + "-" + e.repeat(len(rest)-4) + string(rest[len(rest)-4:])
		}
		return area + "-" + e.repeat(len(rest))
	}
	r := []rune(match)
	if len(r) > 8 {
		return e.reveal(r, 4, 4)
	}
	return string(r[:4]) + e.repeat(len(r)-4)
}

func (e *Engine) maskEmail(match string) string {
	r := []rune(match)
	at := -1
	for i, c := range r {
		if c == '@' {
			at = i
			break
		}
	}
	if at <= 0 {
		return match
	}
	return string(r[0]) + e.repeat(at-1) + string(r[at:])
}

func (e *Engine) maskAddress(match string) string {
	r := []rune(match)
	if len(r) > 6 {
		return string(r[:6]) + e.repeat(len(r)-6)
	}
	return e.repeat(len(r))
}

func (e *Engine) maskBankCard(match string) string {
	r := []rune(match)
	if len(r) > 8 {
		return e.reveal(r, 4, 4)
	}
	return e.repeat(len(r))
}

func (e *Engine) maskLicensePlate(match string) string {
	r := []rune(match)
	if len(r) >= 7 {
		return e.reveal(r, 2, 2)
	}
	return e.repeat(len(r))
}

func (e *Engine) maskPassport(match string) string {
	r := []rune(match)
	if len(r) > 5 {
		return e.reveal(r, 2, 3)
	}
	return e.repeat(len(r))
}

// maskOrgCode keeps the first three and the check-digit side of the
// delimiter intact.
func (e *Engine) maskOrgCode(match string) string {
	if i := strings.Index(match, "-"); i >= 0 {
		code, suffix := []rune(match[:i]), match[i+1:]
		if len(code) > 3 {
			return string(code[:3]) + e.repeat(len(code)-4) + string(code[len(code)-1]) + "-" + suffix
		}
		return match
	}
	r := []rune(match)
	if len(r) > 5 {
		return e.reveal(r, 3, 2)
	}
	return e.repeat(len(r))
}

func (e *Engine) maskTaxID(match string) string {
	r := []rune(match)
	if len(r) > 8 {
		return e.reveal(r, 4, 4)
	}
	return e.repeat(len(r))
}

func (e *Engine) maskEmployeeID(match string) string {
	r := []rune(match)
	switch {
	case len(r) > 6:
		return e.reveal(r, 3, 3)
	case len(r) > 3:
		return string(r[:3]) + e.repeat(len(r)-3)
	default:
		return e.repeat(len(r))
	}
}

// Shape checks for the generic classifier, in priority order.
var (
	shapeNationalID = regexp.MustCompile(`^\d{18}$`)
	shapeMobile     = regexp.MustCompile(`^1[3-9]\d{9}$`)
	shapeEmail      = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)
	shapeCJKName    = regexp.MustCompile(`^[\x{4e00}-\x{9fa5}]{2,4}$`)
	shapeCardNumber = regexp.MustCompile(`^\d{16,19}$`)
	shapeLandline   = regexp.MustCompile(`^0\d{2,3}-?\d{7,8}$`)
	shapePlate      = regexp.MustCompile(`^[京津沪渝冀豫云辽黑湘皖鲁新苏浙赣鄂桂甘晋蒙陕吉闽贵粤青藏川宁琼使领][A-Z]\d{5}$`)
	shapePassport   = regexp.MustCompile(`^[A-Z]\d{8}$`)
)

// maskGeneric classifies a match against known structural shapes and
// applies that shape's formula; unrecognized text gets a length-tiered
// conservative mask.
func (e *Engine) maskGeneric(match string) string {
	text := strings.TrimSpace(match)
	r := []rune(text)
	if len(r) == 0 {
		return match
	}

	switch {
	case shapeNationalID.MatchString(text):
		return e.reveal(r, 3, 4)
	case shapeMobile.MatchString(text):
		return string(r[:3]) + e.repeat(4) + string(r[7:])
	case strings.Contains(text, "@") && shapeEmail.MatchString(text):
		return e.maskEmail(text)
	case shapeCJKName.MatchString(text):
		return string(r[0]) + e.repeat(len(r)-1)
	case shapeCardNumber.MatchString(text):
		return e.reveal(r, 4, 4)
	case shapeLandline.MatchString(text):
		if i := strings.Index(text, "-"); i >= 0 {
			rest := []rune(text[i+1:])
			return text[:i] + "-" + e.repeat(4) + string(rest[len(rest)-4:])
		}
		return string(r[:4]) + e.repeat(4) + string(r[len(r)-4:])
	case shapePlate.MatchString(text):
		return string(r[:2]) + e.repeat(3) + string(r[len(r)-2:])
	case shapePassport.MatchString(text):
		return string(r[:2]) + e.repeat(4) + string(r[len(r)-3:])
	}

	// Conservative tiers for unrecognized text.
	switch {
	case len(r) <= 3:
		return string(r[0]) + e.repeat(len(r)-1)
	case len(r) <= 10:
		return string(r[0]) + e.repeat(len(r)-2) + string(r[len(r)-1])
	default:
		return e.reveal(r, 2, 2)
	}
}

func uniqueStrings(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
