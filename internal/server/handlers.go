package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/veildoc/veildoc/internal/batch"
	"github.com/veildoc/veildoc/internal/redact"
	"github.com/veildoc/veildoc/internal/report"
	"github.com/veildoc/veildoc/internal/rules"
	"github.com/veildoc/veildoc/internal/websocket"
	"go.uber.org/zap"
)

// handleHealth handles health check requests
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{
		"status":    "healthy",
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

// handleInfo handles info requests
func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"name":         "veildoc",
		"version":      "0.1.0",
		"rules":        len(s.catalog.Rules()),
		"active_rules": len(s.catalog.Active()),
		"fail_mode":    s.config.Redaction.FailMode,
		"uptime":       time.Since(s.startedAt).String(),
	})
}

// handleWebSocket upgrades dashboard connections.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	s.wsHub.HandleWebSocket(w, r)
}

type ruleView struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Kind    string `json:"kind"`
	Pattern string `json:"pattern,omitempty"`
	Example string `json:"example"`
	Active  bool   `json:"active"`
}

func (s *Server) handleListRules(w http.ResponseWriter, r *http.Request) {
	var views []ruleView
	for _, rule := range s.catalog.Rules() {
		v := ruleView{
			ID:      rule.ID,
			Name:    rule.Name,
			Kind:    rule.Kind.String(),
			Example: rule.Example,
			Active:  rule.Active,
		}
		if rule.Pattern != nil {
			v.Pattern = rule.Pattern.String()
		}
		views = append(views, v)
	}
	s.writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleSelectActive(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Names []string `json:"names"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.catalog.SelectActive(req.Names); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	s.persistCatalog(r.Context())
	s.writeJSON(w, http.StatusOK, map[string]int{"active": len(s.catalog.Active())})
}

func (s *Server) handleUpdateRule(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var req struct {
		Active  *bool   `json:"active,omitempty"`
		Pattern *string `json:"pattern,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	if req.Active != nil {
		if err := s.catalog.SetActive(id, *req.Active); err != nil {
			s.writeError(w, http.StatusNotFound, err)
			return
		}
	}
	if req.Pattern != nil {
		if err := s.catalog.SetPattern(id, *req.Pattern); err != nil {
			s.writeError(w, http.StatusBadRequest, err)
			return
		}
	}
	s.persistCatalog(r.Context())
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

func (s *Server) handleExportRules(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.catalog.Export())
}

func (s *Server) handleImportRules(w http.ResponseWriter, r *http.Request) {
	var records []rules.Record
	if err := json.NewDecoder(r.Body).Decode(&records); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.catalog.Import(records); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"imported":  len(records),
		"persisted": s.persistCatalog(r.Context()),
	})
}

// persistCatalog writes the current catalog to the rule store, when one
// is configured. A store failure never fails the in-memory change; it is
// logged and reported to the caller.
func (s *Server) persistCatalog(ctx context.Context) bool {
	if s.persister == nil {
		return false
	}
	if err := s.persister.Save(ctx, s.catalog.Export()); err != nil {
		s.logger.Error("Failed to persist rule catalog", zap.Error(err))
		return false
	}
	return true
}

func (s *Server) handleVerifyRules(w http.ResponseWriter, r *http.Request) {
	failures := s.catalog.VerifyExamples(s.engine)
	messages := make([]string, 0, len(failures))
	for _, err := range failures {
		messages = append(messages, err.Error())
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"passed":   len(failures) == 0,
		"failures": messages,
	})
}

func (s *Server) handleGetLists(w http.ResponseWriter, r *http.Request) {
	if s.config.Redaction.CustomFile == "" {
		s.writeError(w, http.StatusConflict, fmt.Errorf("no custom list file configured"))
		return
	}
	lists, err := rules.LoadCustomLists(s.config.Redaction.CustomFile)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, lists)
}

func (s *Server) handleSetLists(w http.ResponseWriter, r *http.Request) {
	if s.config.Redaction.CustomFile == "" {
		s.writeError(w, http.StatusConflict, fmt.Errorf("no custom list file configured"))
		return
	}
	var lists rules.CustomLists
	if err := json.NewDecoder(r.Body).Decode(&lists); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := rules.SaveCustomLists(s.config.Redaction.CustomFile, lists); err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]int{
		"names":  len(lists.Names),
		"fields": len(lists.Fields),
	})
}

// handleMask masks raw text with one rule, without a document. Results
// are served from the Redis cache when enabled.
func (s *Server) handleMask(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Text   string   `json:"text"`
		RuleID string   `json:"rule_id"`
		List   []string `json:"list,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	rule := s.catalog.Get(req.RuleID)
	if rule == nil {
		s.writeError(w, http.StatusNotFound, fmt.Errorf("unknown rule: %s", req.RuleID))
		return
	}

	cached := false
	var masked string
	if s.maskCache != nil {
		masked, cached = s.maskCache.Get(r.Context(), req.RuleID, req.Text, req.List)
	}
	if !cached {
		masked = s.engine.Mask(rule, req.Text, req.List)
		if s.maskCache != nil {
			if err := s.maskCache.Set(r.Context(), req.RuleID, req.Text, req.List, masked); err != nil {
				s.logger.Debug("Failed to cache mask result", zap.Error(err))
			}
		}
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"masked": masked,
		"cached": cached,
	})
}

func (s *Server) handleOpen(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Path string `json:"path"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	s.sessionMu.Lock()
	defer s.sessionMu.Unlock()
	if err := s.session.Open(req.Path); err != nil {
		s.writeError(w, http.StatusUnprocessableEntity, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"pages":      len(s.session.Document().Pages),
		"characters": len([]rune(s.session.FlattenedText())),
	})
}

func (s *Server) handleText(w http.ResponseWriter, r *http.Request) {
	s.sessionMu.Lock()
	defer s.sessionMu.Unlock()
	if s.session.Document() == nil {
		s.writeError(w, http.StatusConflict, redact.ErrNoDocument)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"text": s.session.FlattenedText()})
}

func (s *Server) handleSegments(w http.ResponseWriter, r *http.Request) {
	s.sessionMu.Lock()
	defer s.sessionMu.Unlock()
	s.writeJSON(w, http.StatusOK, s.session.PendingSegments())
}

func (s *Server) handleDiagnostics(w http.ResponseWriter, r *http.Request) {
	s.sessionMu.Lock()
	defer s.sessionMu.Unlock()
	s.writeJSON(w, http.StatusOK, s.session.Diagnostics())
}

func (s *Server) handleApplyRule(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RuleID string   `json:"rule_id"`
		List   []string `json:"list,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	s.sessionMu.Lock()
	op, err := s.session.ApplyRule(req.RuleID, req.List)
	s.sessionMu.Unlock()
	if err != nil {
		s.writeError(w, http.StatusUnprocessableEntity, err)
		return
	}
	if op == nil {
		s.writeJSON(w, http.StatusOK, map[string]int{"occurrences": 0})
		return
	}

	s.broadcastDetection(op)
	s.writeJSON(w, http.StatusOK, opView(op))
}

func (s *Server) handleApplyActive(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Names  []string `json:"names,omitempty"`
		Fields []string `json:"fields,omitempty"`
	}
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeError(w, http.StatusBadRequest, err)
			return
		}
	}

	s.sessionMu.Lock()
	ops, err := s.session.ApplyActiveRules(rules.CustomLists{Names: req.Names, Fields: req.Fields})
	s.sessionMu.Unlock()
	if err != nil {
		s.writeError(w, http.StatusUnprocessableEntity, err)
		return
	}

	views := make([]map[string]interface{}, 0, len(ops))
	for _, op := range ops {
		s.broadcastDetection(op)
		views = append(views, opView(op))
	}
	s.writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleEdit(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	s.sessionMu.Lock()
	ops, err := s.session.SubmitEdit(req.Text)
	s.sessionMu.Unlock()
	if err != nil {
		s.writeError(w, http.StatusUnprocessableEntity, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]int{"operations": len(ops)})
}

func (s *Server) handleReplaceAll(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Target      string `json:"target"`
		Replacement string `json:"replacement"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	s.sessionMu.Lock()
	op, err := s.session.ReplaceAll(req.Target, req.Replacement)
	s.sessionMu.Unlock()
	if err != nil {
		s.writeError(w, http.StatusUnprocessableEntity, err)
		return
	}
	if op == nil {
		s.writeJSON(w, http.StatusOK, map[string]int{"occurrences": 0})
		return
	}
	s.broadcastDetection(op)
	s.writeJSON(w, http.StatusOK, opView(op))
}

func (s *Server) handleUndo(w http.ResponseWriter, r *http.Request) {
	s.sessionMu.Lock()
	op, err := s.session.Undo()
	s.sessionMu.Unlock()
	if err != nil {
		s.writeError(w, http.StatusConflict, err)
		return
	}
	s.writeJSON(w, http.StatusOK, opView(op))
}

func (s *Server) handleSave(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Path string `json:"path"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	s.sessionMu.Lock()
	err := s.session.Save(req.Path)
	s.sessionMu.Unlock()
	if err != nil {
		s.writeError(w, http.StatusUnprocessableEntity, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"path": req.Path})
}

func (s *Server) handleClose(w http.ResponseWriter, r *http.Request) {
	s.sessionMu.Lock()
	s.session.Close()
	s.sessionMu.Unlock()
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "closed"})
}

// handleBatch runs a sequential batch over a directory with a dedicated
// session, so an open interactive document is left untouched.
func (s *Server) handleBatch(w http.ResponseWriter, r *http.Request) {
	var req struct {
		InputDir  string   `json:"input_dir"`
		OutputDir string   `json:"output_dir"`
		Names     []string `json:"names,omitempty"`
		Fields    []string `json:"fields,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	inputs, err := batch.CollectInputs(req.InputDir)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	marker := []rune(s.config.Redaction.Marker)[0]
	session := redact.NewSession(s.catalog, s.engine, s.config.Fonts.FallbackFiles, marker, s.logger.WithComponent("batch"))
	proc := batch.NewProcessor(session, rules.CustomLists{Names: req.Names, Fields: req.Fields}, s.logger.WithComponent("batch"))
	proc.OnProgress = func(p batch.Progress) {
		s.wsHub.BroadcastEvent(websocket.Event{
			Type:      websocket.EventTypeProgress,
			Timestamp: time.Now(),
			Data: websocket.ProgressEvent{
				File:      p.File,
				Index:     p.Index,
				Total:     p.Total,
				Succeeded: p.Succeeded,
				Error:     p.Result.Error,
			},
		})
	}

	summary, err := proc.Process(r.Context(), inputs, req.OutputDir)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}

	resp := map[string]interface{}{
		"total":     summary.Total,
		"succeeded": summary.Succeeded,
		"failed":    summary.Failed,
		"duration":  summary.Duration.String(),
		"results":   summary.Results,
	}
	if s.config.Reports.Enabled {
		writer := report.NewWriter(s.config.Reports, s.logger.Logger)
		path, err := writer.Write(summary.Results)
		if err != nil {
			s.logger.Error("Failed to write batch report", zap.Error(err))
		} else {
			resp["report"] = path
		}
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) broadcastDetection(op *redact.Operation) {
	s.wsHub.BroadcastEvent(websocket.Event{
		Type:      websocket.EventTypeDetection,
		Timestamp: time.Now(),
		Data: websocket.DetectionEvent{
			RuleID:      op.RuleID,
			Occurrences: op.Occurrences,
			Segments:    len(op.Segments),
			Redacted:    op.Redacted,
		},
	})
}

func opView(op *redact.Operation) map[string]interface{} {
	return map[string]interface{}{
		"kind":        int(op.Kind),
		"rule_id":     op.RuleID,
		"start":       op.Start,
		"end":         op.End,
		"occurrences": op.Occurrences,
		"segments":    len(op.Segments),
		"redacted":    op.Redacted,
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Failed to encode response", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}
