package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/veildoc/veildoc/internal/config"
	"github.com/veildoc/veildoc/internal/document"
	"github.com/veildoc/veildoc/internal/logger"
	"github.com/veildoc/veildoc/internal/rules"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	cfg := config.GetDefaults()
	log := logger.NewNop()
	catalog := rules.NewCatalog(log)
	engine := rules.NewEngine('*', rules.FailOpen, log)
	return New(cfg, catalog, engine, nil, nil, log)
}

func doJSON(t *testing.T, s *Server, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v (body %s)", err, rec.Body.String())
	}
}

func writeTestDoc(t *testing.T, path, text string) {
	t.Helper()
	width := float64(10 * len([]rune(text)))
	span := document.Span{
		Text: text,
		BBox: document.Rect{X0: 0, Y0: 0, X1: width, Y1: 12},
		Font: "SimSun",
		Size: 12,
	}
	doc := &document.Document{
		Version: 1,
		Pages: []*document.Page{{
			Number: 0, Width: 595, Height: 842,
			Blocks: []document.Block{{
				Lines: []document.Line{{Spans: []document.Span{span}, BBox: span.BBox}},
				BBox:  span.BBox,
			}},
		}},
	}
	if err := document.Save(doc, path); err != nil {
		t.Fatal(err)
	}
}

func TestHealthAndInfo(t *testing.T) {
	s := newTestServer(t)

	rec := doJSON(t, s, "GET", "/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("health status = %d", rec.Code)
	}

	rec = doJSON(t, s, "GET", "/info", nil)
	var info map[string]interface{}
	decode(t, rec, &info)
	if info["name"] != "veildoc" {
		t.Errorf("info = %v", info)
	}
	if info["rules"].(float64) != 13 {
		t.Errorf("rules = %v", info["rules"])
	}
}

func TestRuleEndpoints(t *testing.T) {
	s := newTestServer(t)

	t.Run("List", func(t *testing.T) {
		rec := doJSON(t, s, "GET", "/api/v1/rules", nil)
		var views []map[string]interface{}
		decode(t, rec, &views)
		if len(views) != 13 {
			t.Fatalf("rules = %d", len(views))
		}
	})

	t.Run("SelectActive", func(t *testing.T) {
		rec := doJSON(t, s, "PUT", "/api/v1/rules/active", map[string][]string{"names": {"mobile", "email"}})
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
		}
		if got := len(s.catalog.Active()); got != 2 {
			t.Errorf("active = %d", got)
		}
	})

	t.Run("SelectUnknown", func(t *testing.T) {
		rec := doJSON(t, s, "PUT", "/api/v1/rules/active", map[string][]string{"names": {"nonsense"}})
		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d", rec.Code)
		}
	})

	t.Run("PatchPattern", func(t *testing.T) {
		pattern := `1[0-9]{10}`
		rec := doJSON(t, s, "PATCH", "/api/v1/rules/phone_rule", map[string]string{"pattern": pattern})
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
		}
		if s.catalog.Get("phone_rule").Pattern.String() != pattern {
			t.Error("pattern not updated")
		}
	})

	t.Run("PatchInvalidPattern", func(t *testing.T) {
		rec := doJSON(t, s, "PATCH", "/api/v1/rules/phone_rule", map[string]string{"pattern": "("})
		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d", rec.Code)
		}
	})

	t.Run("ExportImportRoundTrip", func(t *testing.T) {
		rec := doJSON(t, s, "GET", "/api/v1/rules/export", nil)
		var records []rules.Record
		decode(t, rec, &records)

		rec = doJSON(t, s, "POST", "/api/v1/rules/import", records)
		if rec.Code != http.StatusOK {
			t.Fatalf("import status = %d: %s", rec.Code, rec.Body.String())
		}
	})

	t.Run("Verify", func(t *testing.T) {
		// Restore built-in rules first; the pattern was patched above.
		fresh := rules.NewCatalog(logger.NewNop())
		if err := s.catalog.Import(fresh.Export()); err != nil {
			t.Fatal(err)
		}
		rec := doJSON(t, s, "POST", "/api/v1/rules/verify", nil)
		var result struct {
			Passed   bool     `json:"passed"`
			Failures []string `json:"failures"`
		}
		decode(t, rec, &result)
		if !result.Passed {
			t.Errorf("verify failures: %v", result.Failures)
		}
	})
}

func TestCustomListEndpoints(t *testing.T) {
	s := newTestServer(t)

	t.Run("UnconfiguredFileRejected", func(t *testing.T) {
		rec := doJSON(t, s, "GET", "/api/v1/lists", nil)
		if rec.Code != http.StatusConflict {
			t.Errorf("status = %d", rec.Code)
		}
	})

	s.config.Redaction.CustomFile = filepath.Join(t.TempDir(), "lists.json")

	rec := doJSON(t, s, "PUT", "/api/v1/lists", rules.CustomLists{
		Names:  []string{"张三", "李四"},
		Fields: []string{"工号A123"},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("put status = %d: %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, s, "GET", "/api/v1/lists", nil)
	var lists rules.CustomLists
	decode(t, rec, &lists)
	if len(lists.Names) != 2 || lists.Names[0] != "张三" || len(lists.Fields) != 1 {
		t.Errorf("lists = %+v", lists)
	}
}

func TestMaskEndpoint(t *testing.T) {
	s := newTestServer(t)

	rec := doJSON(t, s, "POST", "/api/v1/mask", map[string]interface{}{
		"text":    "contact 13812345678",
		"rule_id": "phone_rule",
	})
	var resp struct {
		Masked string `json:"masked"`
		Cached bool   `json:"cached"`
	}
	decode(t, rec, &resp)
	if resp.Masked != "contact 138****5678" {
		t.Errorf("masked = %q", resp.Masked)
	}
	if resp.Cached {
		t.Error("cache disabled but response claims cached")
	}

	t.Run("UnknownRule", func(t *testing.T) {
		rec := doJSON(t, s, "POST", "/api/v1/mask", map[string]string{"text": "x", "rule_id": "nope"})
		if rec.Code != http.StatusNotFound {
			t.Errorf("status = %d", rec.Code)
		}
	})
}

func TestDocumentWorkflow(t *testing.T) {
	s := newTestServer(t)
	dir := t.TempDir()
	input := filepath.Join(dir, "in.vdoc")
	output := filepath.Join(dir, "out.vdoc")
	writeTestDoc(t, input, "contact 13812345678")

	rec := doJSON(t, s, "POST", "/api/v1/document/open", map[string]string{"path": input})
	if rec.Code != http.StatusOK {
		t.Fatalf("open status = %d: %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, s, "POST", "/api/v1/document/apply", map[string]string{"rule_id": "phone_rule"})
	var op map[string]interface{}
	decode(t, rec, &op)
	if op["occurrences"].(float64) != 1 {
		t.Fatalf("apply = %v", op)
	}

	rec = doJSON(t, s, "GET", "/api/v1/document/text", nil)
	var textResp map[string]string
	decode(t, rec, &textResp)
	if textResp["text"] != "contact 138****5678\n\n" {
		t.Errorf("text = %q", textResp["text"])
	}

	rec = doJSON(t, s, "POST", "/api/v1/document/undo", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("undo status = %d", rec.Code)
	}

	rec = doJSON(t, s, "POST", "/api/v1/document/replace-all", map[string]string{
		"target":      "13812345678",
		"replacement": "138****5678",
	})
	decode(t, rec, &op)
	if op["occurrences"].(float64) != 1 {
		t.Fatalf("replace-all = %v", op)
	}

	rec = doJSON(t, s, "POST", "/api/v1/document/save", map[string]string{"path": output})
	if rec.Code != http.StatusOK {
		t.Fatalf("save status = %d: %s", rec.Code, rec.Body.String())
	}

	saved, err := document.Open(output)
	if err != nil {
		t.Fatal(err)
	}
	if got := saved.Pages[0].Blocks[0].Lines[0].Spans[0].Text; got != "contact 138****5678" {
		t.Errorf("saved text = %q", got)
	}

	t.Run("MutationAfterSaveRejected", func(t *testing.T) {
		rec := doJSON(t, s, "POST", "/api/v1/document/undo", nil)
		if rec.Code != http.StatusConflict {
			t.Errorf("status = %d", rec.Code)
		}
	})
}

func TestDocumentEndpointsWithoutDocument(t *testing.T) {
	s := newTestServer(t)
	rec := doJSON(t, s, "GET", "/api/v1/document/text", nil)
	if rec.Code != http.StatusConflict {
		t.Errorf("status = %d", rec.Code)
	}
}

func TestBatchEndpoint(t *testing.T) {
	s := newTestServer(t)
	if err := s.catalog.SelectActive([]string{"mobile"}); err != nil {
		t.Fatal(err)
	}
	inDir := t.TempDir()
	outDir := t.TempDir()
	for i, text := range []string{"13812345678", "plain"} {
		writeTestDoc(t, filepath.Join(inDir, fmt.Sprintf("f%d.vdoc", i)), text)
	}
	s.config.Reports.Dir = t.TempDir()
	s.config.Reports.Format = "json"

	rec := doJSON(t, s, "POST", "/api/v1/batch", map[string]string{
		"input_dir":  inDir,
		"output_dir": outDir,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Total     int    `json:"total"`
		Succeeded int    `json:"succeeded"`
		Report    string `json:"report"`
	}
	decode(t, rec, &resp)
	if resp.Total != 2 || resp.Succeeded != 2 {
		t.Errorf("summary = %+v", resp)
	}
	if resp.Report == "" {
		t.Error("report path missing")
	}
}

type recordingPersister struct {
	calls   int
	lastLen int
	err     error
}

func (p *recordingPersister) Save(ctx context.Context, records []rules.Record) error {
	p.calls++
	p.lastLen = len(records)
	return p.err
}

func TestCatalogPersistedOnChange(t *testing.T) {
	cfg := config.GetDefaults()
	log := logger.NewNop()
	persister := &recordingPersister{}
	s := New(cfg, rules.NewCatalog(log), rules.NewEngine('*', rules.FailOpen, log), nil, persister, log)

	t.Run("Import", func(t *testing.T) {
		records := rules.NewCatalog(log).Export()
		rec := doJSON(t, s, "POST", "/api/v1/rules/import", records)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
		}
		var resp struct {
			Imported  int  `json:"imported"`
			Persisted bool `json:"persisted"`
		}
		decode(t, rec, &resp)
		if !resp.Persisted {
			t.Error("import response claims catalog was not persisted")
		}
		if persister.calls != 1 || persister.lastLen != 13 {
			t.Errorf("persister saw %d calls, last %d records", persister.calls, persister.lastLen)
		}
	})

	t.Run("SelectActive", func(t *testing.T) {
		before := persister.calls
		rec := doJSON(t, s, "PUT", "/api/v1/rules/active", map[string][]string{"names": {"mobile"}})
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
		}
		if persister.calls != before+1 {
			t.Errorf("selection not persisted: %d calls", persister.calls)
		}
	})

	t.Run("StoreFailureKeepsChange", func(t *testing.T) {
		persister.err = errors.New("connection refused")
		rec := doJSON(t, s, "PATCH", "/api/v1/rules/phone_rule", map[string]bool{"active": false})
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
		}
		if s.catalog.Get("phone_rule").Active {
			t.Error("in-memory change lost on store failure")
		}
	})
}

func TestStopEndsStatusBroadcast(t *testing.T) {
	s := newTestServer(t)

	done := make(chan struct{})
	go func() {
		s.broadcastSystemStatus()
		close(done)
	}()

	if err := s.Stop(context.Background()); err != nil {
		t.Fatal(err)
	}
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("status broadcaster still running after Stop")
	}
}

func TestRateLimit(t *testing.T) {
	cfg := config.GetDefaults()
	cfg.Server.RequestsPerSec = 1
	cfg.Server.Burst = 1
	log := logger.NewNop()
	s := New(cfg, rules.NewCatalog(log), rules.NewEngine('*', rules.FailOpen, log), nil, nil, log)

	first := doJSON(t, s, "GET", "/api/v1/rules", nil)
	if first.Code != http.StatusOK {
		t.Fatalf("first status = %d", first.Code)
	}
	second := doJSON(t, s, "GET", "/api/v1/rules", nil)
	if second.Code != http.StatusTooManyRequests {
		t.Errorf("second status = %d", second.Code)
	}
}
