package rules

import (
	"path/filepath"
	"testing"

	"github.com/veildoc/veildoc/internal/logger"
)

func TestCatalogDefaults(t *testing.T) {
	catalog := NewCatalog(logger.NewNop())

	t.Run("ThirteenRules", func(t *testing.T) {
		if got := len(catalog.Rules()); got != 13 {
			t.Errorf("expected 13 default rules, got %d", got)
		}
	})

	t.Run("OnlyNameActiveByDefault", func(t *testing.T) {
		active := catalog.Active()
		if len(active) != 1 || active[0].ID != "name_rule" {
			t.Errorf("expected only name_rule active, got %v", active)
		}
	})

	t.Run("VerifyExamples", func(t *testing.T) {
		engine := NewEngine('*', FailOpen, logger.NewNop())
		if errs := catalog.VerifyExamples(engine); len(errs) != 0 {
			for _, err := range errs {
				t.Error(err)
			}
		}
	})
}

func TestCatalogSelection(t *testing.T) {
	catalog := NewCatalog(logger.NewNop())

	t.Run("SelectByKindName", func(t *testing.T) {
		if err := catalog.SelectActive([]string{"mobile", "email"}); err != nil {
			t.Fatalf("SelectActive failed: %v", err)
		}
		active := catalog.Active()
		if len(active) != 2 {
			t.Fatalf("expected 2 active rules, got %d", len(active))
		}
	})

	t.Run("SelectAll", func(t *testing.T) {
		if err := catalog.SelectActive([]string{"all"}); err != nil {
			t.Fatalf("SelectActive failed: %v", err)
		}
		if len(catalog.Active()) != 13 {
			t.Errorf("expected all rules active, got %d", len(catalog.Active()))
		}
	})

	t.Run("UnknownRuleRejected", func(t *testing.T) {
		if err := catalog.SelectActive([]string{"no_such_rule"}); err == nil {
			t.Error("expected error for unknown rule")
		}
	})

	t.Run("SetActiveUnknown", func(t *testing.T) {
		if err := catalog.SetActive("missing", true); err == nil {
			t.Error("expected error for unknown rule")
		}
	})
}

func TestCatalogImportExport(t *testing.T) {
	catalog := NewCatalog(logger.NewNop())
	catalog.SetActive("phone_rule", true)

	t.Run("RoundTrip", func(t *testing.T) {
		records := catalog.Export()
		if len(records) != 13 {
			t.Fatalf("expected 13 records, got %d", len(records))
		}

		restored := NewCatalog(logger.NewNop())
		if err := restored.Import(records); err != nil {
			t.Fatalf("Import failed: %v", err)
		}

		phone := restored.Get("phone_rule")
		if phone == nil || !phone.Active || phone.Kind != KindMobile {
			t.Errorf("phone rule not restored correctly: %+v", phone)
		}

		// Order is part of the contract.
		for i, r := range restored.Rules() {
			if r.ID != catalog.Rules()[i].ID {
				t.Errorf("rule order changed at %d: %s vs %s", i, r.ID, catalog.Rules()[i].ID)
			}
		}
	})

	t.Run("FileRoundTrip", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "rules.json")
		if err := catalog.ExportFile(path); err != nil {
			t.Fatalf("ExportFile failed: %v", err)
		}
		restored := NewCatalog(logger.NewNop())
		if err := restored.ImportFile(path); err != nil {
			t.Fatalf("ImportFile failed: %v", err)
		}
		if len(restored.Rules()) != 13 {
			t.Errorf("expected 13 rules after file round trip, got %d", len(restored.Rules()))
		}
	})

	t.Run("InvalidPatternRejected", func(t *testing.T) {
		err := catalog.Import([]Record{{ID: "bad", Name: "bad", Pattern: "("}})
		if err == nil {
			t.Error("expected import error for invalid pattern")
		}
	})
}

func TestCatalogSetPattern(t *testing.T) {
	catalog := NewCatalog(logger.NewNop())

	if err := catalog.SetPattern("phone_rule", `1\d{10}`); err != nil {
		t.Fatalf("SetPattern failed: %v", err)
	}
	if err := catalog.SetPattern("phone_rule", "("); err == nil {
		t.Error("expected error for invalid pattern")
	}
	if err := catalog.SetPattern("missing", ".*"); err == nil {
		t.Error("expected error for unknown rule")
	}
}

func TestCustomListsPersistence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "custom.json")

	lists := CustomLists{
		Names:  []string{"张三", "李四"},
		Fields: []string{"天王星"},
	}
	if err := SaveCustomLists(path, lists); err != nil {
		t.Fatalf("SaveCustomLists failed: %v", err)
	}

	loaded, err := LoadCustomLists(path)
	if err != nil {
		t.Fatalf("LoadCustomLists failed: %v", err)
	}
	if len(loaded.Names) != 2 || len(loaded.Fields) != 1 {
		t.Errorf("lists not restored: %+v", loaded)
	}

	t.Run("MissingFileIsEmpty", func(t *testing.T) {
		loaded, err := LoadCustomLists(filepath.Join(t.TempDir(), "absent.json"))
		if err != nil {
			t.Fatalf("expected no error for missing file, got %v", err)
		}
		if len(loaded.Names) != 0 || len(loaded.Fields) != 0 {
			t.Errorf("expected empty lists, got %+v", loaded)
		}
	})
}
