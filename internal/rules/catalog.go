package rules

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/veildoc/veildoc/internal/logger"
	"go.uber.org/zap"
)

// Catalog holds the ordered set of redaction rules for a deployment.
type Catalog struct {
	rules  []*Rule
	logger *logger.Logger
}

// defaultRule compiles a built-in rule. Built-in patterns are constants,
// so a compile failure here is a programming error.
func defaultRule(id, name string, kind Kind, pattern, example string, active bool) *Rule {
	return &Rule{
		ID:      id,
		Name:    name,
		Kind:    kind,
		Pattern: regexp.MustCompile(pattern),
		Example: example,
		Active:  active,
	}
}

// NewCatalog creates a catalog preloaded with the default rule set.
// Only the personal-name rule is active by default; everything else is
// opt-in per document run.
func NewCatalog(log *logger.Logger) *Catalog {
	c := &Catalog{logger: log}
	c.rules = []*Rule{
		defaultRule("name_rule", "姓名", KindName,
			`[\x{4e00}-\x{9fa5}]{2,4}`,
			"张三 → 张*", true),
		defaultRule("id_card_rule", "身份证号", KindNationalID,
			`[1-9]\d{5}(18|19|20)\d{2}(0[1-9]|1[0-2])(0[1-9]|[12]\d|3[01])\d{3}[0-9Xx]`,
			"123456199001011234 → 123***********1234", false),
		defaultRule("passport_rule", "护照号码", KindPassport,
			`[EG]\d{8}|[A-Z]\d{7,8}`,
			"E12345678 → E1****678", false),
		defaultRule("phone_rule", "手机号码", KindMobile,
			`1[3-9]\d{9}`,
			"13812345678 → 138****5678", false),
		defaultRule("landline_rule", "座机号码", KindLandline,
			`0\d{2,3}-?\d{7,8}`,
			"010-12345678 → 010-****5678", false),
		defaultRule("email_rule", "邮箱地址", KindEmail,
			`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`,
			"test@example.com → t***@example.com", false),
		defaultRule("bank_card_rule", "银行卡号", KindBankCard,
			`\d{13,19}`,
			"6228480402564890018 → 6228***********0018", false),
		defaultRule("address_rule", "详细地址", KindAddress,
			`[\x{4e00}-\x{9fa5}]{2,}(省|市|区|县|镇|街道|路|号|室|楼|层)[\x{4e00}-\x{9fa5}\d\-#]*`,
			"北京市朝阳区建国路1号 → 北京市朝阳区*****", false),
		defaultRule("license_plate_rule", "车牌号码", KindLicensePlate,
			`[京津沪渝冀豫云辽黑湘皖鲁新苏浙赣鄂桂甘晋蒙陕吉闽贵粤青藏川宁琼使领][A-Z][A-Z0-9]{4}[A-Z0-9挂学警港澳]`,
			"京A12345 → 京A***45", false),
		defaultRule("organization_code_rule", "组织机构代码", KindOrgCode,
			`[A-Z0-9]{8}-[A-Z0-9]|[A-Z0-9]{9}`,
			"12345678-9 → 123****8-9", false),
		defaultRule("tax_id_rule", "纳税人识别号", KindTaxID,
			`\d{15}|\d{17}[0-9X]|\d{18}|\d{20}`,
			"123456789012345 → 1234*******2345", false),
		defaultRule("employee_id_rule", "员工工号", KindEmployeeID,
			`[A-Z0-9]{4,10}`,
			"EMP001234 → EMP***234", false),
		defaultRule("custom_field_rule", "自定义字段", KindCustomField,
			`.*`,
			"任意字段 → 任***", false),
	}

	if log != nil {
		log.Info("Rule catalog initialized",
			zap.Int("total_rules", len(c.rules)),
			zap.Int("active_rules", len(c.Active())),
		)
	}

	return c
}

// Add appends a rule to the catalog.
func (c *Catalog) Add(rule *Rule) {
	c.rules = append(c.rules, rule)
}

// Rules returns all rules in evaluation order.
func (c *Catalog) Rules() []*Rule {
	out := make([]*Rule, len(c.rules))
	copy(out, c.rules)
	return out
}

// Get returns the rule with the given ID, or nil.
func (c *Catalog) Get(id string) *Rule {
	for _, r := range c.rules {
		if r.ID == id {
			return r
		}
	}
	return nil
}

// Active returns the active rules in evaluation order.
func (c *Catalog) Active() []*Rule {
	var out []*Rule
	for _, r := range c.rules {
		if r.Active {
			out = append(out, r)
		}
	}
	return out
}

// SetActive enables or disables a rule.
func (c *Catalog) SetActive(id string, active bool) error {
	r := c.Get(id)
	if r == nil {
		return fmt.Errorf("unknown rule: %s", id)
	}
	r.Active = active
	if c.logger != nil {
		c.logger.Info("Rule state changed",
			zap.String("rule", id),
			zap.Bool("active", active),
		)
	}
	return nil
}

// SetPattern replaces a rule's pattern with a newly compiled one.
func (c *Catalog) SetPattern(id, pattern string) error {
	r := c.Get(id)
	if r == nil {
		return fmt.Errorf("unknown rule: %s", id)
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return fmt.Errorf("invalid pattern for rule %s: %w", id, err)
	}
	r.Pattern = re
	return nil
}

// SelectActive activates exactly the named rules (by kind name or ID) and
// deactivates the rest. The special name "all" activates everything.
func (c *Catalog) SelectActive(names []string) error {
	for _, r := range c.rules {
		r.Active = false
	}
	for _, name := range names {
		if name == "all" {
			for _, r := range c.rules {
				r.Active = true
			}
			continue
		}
		found := false
		for _, r := range c.rules {
			if r.ID == name || r.Kind.String() == name {
				r.Active = true
				found = true
			}
		}
		if !found {
			return fmt.Errorf("unknown rule: %s", name)
		}
	}
	return nil
}

// Export serializes the catalog as an ordered collection of records.
func (c *Catalog) Export() []Record {
	records := make([]Record, 0, len(c.rules))
	for _, r := range c.rules {
		records = append(records, Record{
			ID:      r.ID,
			Name:    r.Name,
			Pattern: r.Pattern.String(),
			Example: r.Example,
			Active:  r.Active,
		})
	}
	return records
}

// Import replaces the catalog with the given records, preserving their
// order. Each record's kind is derived from its ID so rules exported by
// older builds keep their formulas.
func (c *Catalog) Import(records []Record) error {
	rules := make([]*Rule, 0, len(records))
	for _, rec := range records {
		re, err := regexp.Compile(rec.Pattern)
		if err != nil {
			return fmt.Errorf("rule %s: invalid pattern: %w", rec.ID, err)
		}
		rules = append(rules, &Rule{
			ID:      rec.ID,
			Name:    rec.Name,
			Kind:    kindFromRuleID(rec.ID),
			Pattern: re,
			Example: rec.Example,
			Active:  rec.Active,
		})
	}
	c.rules = rules
	if c.logger != nil {
		c.logger.Info("Rule catalog imported", zap.Int("total_rules", len(rules)))
	}
	return nil
}

// ExportFile writes the catalog to a JSON file.
func (c *Catalog) ExportFile(path string) error {
	data, err := json.MarshalIndent(c.Export(), "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// ImportFile loads the catalog from a JSON file.
func (c *Catalog) ImportFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read rules file: %w", err)
	}
	var records []Record
	if err := json.Unmarshal(data, &records); err != nil {
		return fmt.Errorf("failed to parse rules file: %w", err)
	}
	return c.Import(records)
}

// VerifyExamples replays every rule's "input → output" example through
// the engine and returns one error per mismatch.
func (c *Catalog) VerifyExamples(engine *Engine) []error {
	var errs []error
	for _, r := range c.rules {
		parts := strings.Split(r.Example, " → ")
		if len(parts) != 2 {
			continue
		}
		input, want := parts[0], parts[1]
		var list []string
		if r.Kind.ListDriven() {
			list = []string{input}
		}
		got := engine.Mask(r, input, list)
		if got != want {
			errs = append(errs, fmt.Errorf("rule %s: example mismatch: got %q, want %q", r.ID, got, want))
		}
	}
	return errs
}

// kindFromRuleID maps the stable rule IDs used in export files to kinds.
func kindFromRuleID(id string) Kind {
	switch id {
	case "name_rule":
		return KindName
	case "id_card_rule":
		return KindNationalID
	case "passport_rule":
		return KindPassport
	case "phone_rule":
		return KindMobile
	case "landline_rule":
		return KindLandline
	case "email_rule":
		return KindEmail
	case "bank_card_rule":
		return KindBankCard
	case "address_rule":
		return KindAddress
	case "license_plate_rule":
		return KindLicensePlate
	case "organization_code_rule":
		return KindOrgCode
	case "tax_id_rule":
		return KindTaxID
	case "employee_id_rule":
		return KindEmployeeID
	case "custom_field_rule":
		return KindCustomField
	}
	return KindGeneric
}

// SaveCustomLists persists the user-maintained name/field lists.
func SaveCustomLists(path string, lists CustomLists) error {
	data, err := json.MarshalIndent(lists, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// LoadCustomLists reads previously saved name/field lists. A missing file
// yields empty lists.
func LoadCustomLists(path string) (CustomLists, error) {
	var lists CustomLists
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return lists, nil
		}
		return lists, fmt.Errorf("failed to read custom lists: %w", err)
	}
	if err := json.Unmarshal(data, &lists); err != nil {
		return lists, fmt.Errorf("failed to parse custom lists: %w", err)
	}
	return lists, nil
}
