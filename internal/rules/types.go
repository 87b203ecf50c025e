package rules

import (
	"regexp"
	"time"
)

// Kind identifies the masking behavior attached to a rule. Adding a new
// rule category means adding one Kind constant and one formula entry in
// the engine's dispatch table.
type Kind int

const (
	// KindGeneric has no dedicated formula; matches go through the
	// shape classifier.
	KindGeneric Kind = iota
	KindName
	KindNationalID
	KindPassport
	KindMobile
	KindLandline
	KindEmail
	KindBankCard
	KindAddress
	KindLicensePlate
	KindOrgCode
	KindTaxID
	KindEmployeeID
	KindCustomField
)

var kindNames = map[Kind]string{
	KindGeneric:      "generic",
	KindName:         "name",
	KindNationalID:   "national_id",
	KindPassport:     "passport",
	KindMobile:       "mobile",
	KindLandline:     "landline",
	KindEmail:        "email",
	KindBankCard:     "bank_card",
	KindAddress:      "address",
	KindLicensePlate: "license_plate",
	KindOrgCode:      "org_code",
	KindTaxID:        "tax_id",
	KindEmployeeID:   "employee_id",
	KindCustomField:  "custom_field",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "generic"
}

// KindFromString maps a stored kind name back to its Kind. Unknown names
// come back as KindGeneric so imported rules always have a formula.
func KindFromString(name string) Kind {
	for k, n := range kindNames {
		if n == name {
			return k
		}
	}
	return KindGeneric
}

// ListDriven reports whether the kind only masks exact occurrences of
// entries supplied in a custom list, never free text.
func (k Kind) ListDriven() bool {
	return k == KindName || k == KindCustomField
}

// Rule is a single redaction rule. Pattern and Active may be edited by
// configuration; everything else is fixed at creation.
type Rule struct {
	ID      string
	Name    string
	Kind    Kind
	Pattern *regexp.Regexp
	Example string
	Active  bool
}

// Record is the wire form of a rule used for import/export. The order of
// records in a file is the order rules are evaluated in.
type Record struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Pattern string `json:"pattern"`
	Example string `json:"example"`
	Active  bool   `json:"active"`
}

// FailMode selects the engine's behavior when a rule application fails.
type FailMode int

const (
	// FailOpen returns the original, unmasked text. This mirrors the
	// historical behavior and can silently skip redaction; every
	// occurrence is surfaced as a Diagnostic.
	FailOpen FailMode = iota
	// FailClosed replaces the whole input with marker characters.
	FailClosed
)

// Diagnostic records a masking failure for later reporting.
type Diagnostic struct {
	RuleID    string    `json:"rule_id"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// CustomLists holds the user-maintained name and field lists consumed by
// list-driven rules.
type CustomLists struct {
	Names  []string `json:"names"`
	Fields []string `json:"fields"`
}
