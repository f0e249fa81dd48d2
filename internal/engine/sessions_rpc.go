package engine

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/soamn/slicePDF/internal/backend"
	"github.com/soamn/slicePDF/internal/compiler"
	"github.com/soamn/slicePDF/internal/diff"
	"github.com/soamn/slicePDF/internal/errinfo"
	"github.com/soamn/slicePDF/internal/logging"
	"github.com/soamn/slicePDF/internal/pages"
	"github.com/soamn/slicePDF/internal/settings"
	"github.com/soamn/slicePDF/internal/workflow"
)

func (e *Engine) session(id string) (*workflow.Session, *errinfo.ErrorInfo) {
	id = strings.TrimSpace(id)
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.sessions[id]
	if !ok {
		return nil, errinfo.SessionNotFound(id)
	}
	return s, nil
}

func (e *Engine) notifySessionChanged(s *workflow.Session) {
	e.notify(NotifySessionChanged, map[string]any{"session_id": s.ID, "tool_id": s.Tool.ID})
}

func (e *Engine) SessionOpen(ctx context.Context, params json.RawMessage) (any, *errinfo.ErrorInfo) {
	var req struct {
		ToolID string `json:"tool_id"`
	}
	if err := json.Unmarshal(params, &req); err != nil {
		return nil, errinfo.ValidationFailed(errinfo.PhaseSession, "invalid params")
	}
	tool, ok := e.catalog.Get(strings.TrimSpace(req.ToolID))
	if !ok {
		return nil, errinfo.ToolNotFound(req.ToolID)
	}
	id := e.sessionIDs()
	s := workflow.New(id, tool, workflow.Config{
		Backend:          e.backend,
		Passwords:        e.negotiator,
		Logger:           e.logger.With("component", "workflow"),
		MaxSources:       e.limits.MaxSources,
		MaxFileBytes:     e.limits.MaxFileBytes,
		PreviewBytes:     e.limits.PreviewBytes,
		ProbeConcurrency: e.limits.ProbeConcurrency,
		SourceIDs:        e.sourceIDs,
		PageIDs:          e.pageIDs,
	})
	e.mu.Lock()
	e.sessions[id] = s
	e.mu.Unlock()

	if _, err := e.prefs.Update(func(p *settings.Settings) { p.TouchTool(tool.ID) }); err != nil {
		e.logger.Warn("preferences.save_failed", "error", err.Error())
	}
	e.logger.Info("session.open", "session_id", id, "tool_id", tool.ID)
	return map[string]any{"session_id": id, "tool": tool}, nil
}

func (e *Engine) SessionGetState(ctx context.Context, params json.RawMessage) (any, *errinfo.ErrorInfo) {
	var req struct {
		SessionID string `json:"session_id"`
	}
	if err := json.Unmarshal(params, &req); err != nil {
		return nil, errinfo.ValidationFailed(errinfo.PhaseSession, "invalid params")
	}
	s, errInfo := e.session(req.SessionID)
	if errInfo != nil {
		return nil, errInfo
	}
	return map[string]any{"state": s.State()}, nil
}

// SessionAddSources stages the selected files. It returns once every file has
// an outcome, which includes waiting for the user to answer password prompts.
func (e *Engine) SessionAddSources(ctx context.Context, params json.RawMessage) (any, *errinfo.ErrorInfo) {
	var req struct {
		SessionID   string   `json:"session_id"`
		SourcePaths []string `json:"source_paths"`
		Kind        string   `json:"kind"`
	}
	if err := json.Unmarshal(params, &req); err != nil {
		return nil, errinfo.ValidationFailed(errinfo.PhaseSession, "invalid params")
	}
	kind := pages.Kind(strings.TrimSpace(req.Kind))
	if kind != "" && !kind.Valid() {
		return nil, errinfo.ValidationFailed(errinfo.PhaseSession, "unknown source kind")
	}
	s, errInfo := e.session(req.SessionID)
	if errInfo != nil {
		return nil, errInfo
	}
	results, err := s.AddSources(ctx, req.SourcePaths, kind)
	if err != nil {
		return nil, sessionError(s, errinfo.PhaseSession, err)
	}
	if results == nil {
		results = []workflow.AddResult{}
	}
	added := 0
	for _, res := range results {
		if res.Status == workflow.StatusAdded {
			added++
		}
	}
	e.logger.Info("session.sources_add", "session_id", s.ID, "count", len(req.SourcePaths), "added", added)
	e.logger.Debug("session.sources_add_results", "session_id", s.ID, "results", logging.RedactAny(results))
	if added > 0 {
		e.notifySessionChanged(s)
	}
	return map[string]any{"add_results": results, "state": s.State()}, nil
}

func (e *Engine) SessionRemoveSource(ctx context.Context, params json.RawMessage) (any, *errinfo.ErrorInfo) {
	var req struct {
		SessionID string `json:"session_id"`
		SourceID  string `json:"source_id"`
	}
	if err := json.Unmarshal(params, &req); err != nil {
		return nil, errinfo.ValidationFailed(errinfo.PhaseSession, "invalid params")
	}
	s, errInfo := e.session(req.SessionID)
	if errInfo != nil {
		return nil, errInfo
	}
	state, err := s.Remove(req.SourceID)
	if err != nil {
		return nil, sessionError(s, errinfo.PhaseSession, err)
	}
	e.logger.Info("session.source_remove", "session_id", s.ID, "source_id", req.SourceID)
	e.notifySessionChanged(s)
	return map[string]any{"state": state}, nil
}

func (e *Engine) SessionReorder(ctx context.Context, params json.RawMessage) (any, *errinfo.ErrorInfo) {
	var req struct {
		SessionID string   `json:"session_id"`
		PageIDs   []string `json:"page_ids"`
	}
	if err := json.Unmarshal(params, &req); err != nil {
		return nil, errinfo.ValidationFailed(errinfo.PhaseSession, "invalid params")
	}
	s, errInfo := e.session(req.SessionID)
	if errInfo != nil {
		return nil, errInfo
	}
	changes, err := s.Reorder(req.PageIDs)
	if err != nil {
		return nil, sessionError(s, errinfo.PhaseSession, err)
	}
	if changes == nil {
		changes = []diff.Line{}
	}
	e.notifySessionChanged(s)
	return map[string]any{"changes": changes, "state": s.State()}, nil
}

func (e *Engine) SessionToggleActive(ctx context.Context, params json.RawMessage) (any, *errinfo.ErrorInfo) {
	return e.pageOp(params, (*workflow.Session).ToggleActive)
}

func (e *Engine) SessionToggleRotation(ctx context.Context, params json.RawMessage) (any, *errinfo.ErrorInfo) {
	return e.pageOp(params, (*workflow.Session).ToggleRotation)
}

// SessionSetActive sets a page's inclusion flag outright, for select-all and
// select-none in the UI.
func (e *Engine) SessionSetActive(ctx context.Context, params json.RawMessage) (any, *errinfo.ErrorInfo) {
	var req struct {
		Active *bool `json:"active"`
	}
	if err := json.Unmarshal(params, &req); err != nil {
		return nil, errinfo.ValidationFailed(errinfo.PhaseSession, "invalid params")
	}
	if req.Active == nil {
		return nil, errinfo.ValidationFailed(errinfo.PhaseSession, "active is required")
	}
	return e.pageOp(params, func(s *workflow.Session, pageID string) (pages.Page, error) {
		return s.SetActive(pageID, *req.Active)
	})
}

func (e *Engine) pageOp(params json.RawMessage, op func(*workflow.Session, string) (pages.Page, error)) (any, *errinfo.ErrorInfo) {
	var req struct {
		SessionID string `json:"session_id"`
		PageID    string `json:"page_id"`
	}
	if err := json.Unmarshal(params, &req); err != nil {
		return nil, errinfo.ValidationFailed(errinfo.PhaseSession, "invalid params")
	}
	s, errInfo := e.session(req.SessionID)
	if errInfo != nil {
		return nil, errInfo
	}
	page, err := op(s, req.PageID)
	if errors.Is(err, workflow.ErrPageNotFound) {
		// The page may have been removed while the UI event was in flight.
		e.logger.Debug("session.page_missing", "session_id", s.ID, "page_id", req.PageID)
		return map[string]any{"state": s.State()}, nil
	}
	if err != nil {
		return nil, sessionError(s, errinfo.PhaseSession, err)
	}
	e.notifySessionChanged(s)
	return map[string]any{"page": page, "state": s.State()}, nil
}

func (e *Engine) SessionGetPreview(ctx context.Context, params json.RawMessage) (any, *errinfo.ErrorInfo) {
	var req struct {
		SessionID string `json:"session_id"`
		SourceID  string `json:"source_id"`
	}
	if err := json.Unmarshal(params, &req); err != nil {
		return nil, errinfo.ValidationFailed(errinfo.PhaseSession, "invalid params")
	}
	s, errInfo := e.session(req.SessionID)
	if errInfo != nil {
		return nil, errInfo
	}
	data, err := s.Preview(req.SourceID)
	if err != nil {
		e.logger.Warn("session.preview_failed", "session_id", s.ID, "source_id", req.SourceID, "error", err.Error())
		info := errinfo.PreviewUnavailable(req.SourceID)
		info.SessionID = s.ID
		info.Detail = err.Error()
		return nil, info
	}
	// []byte marshals as base64.
	return map[string]any{"source_id": req.SourceID, "bytes_base64": data}, nil
}

func (e *Engine) SessionRun(ctx context.Context, params json.RawMessage) (any, *errinfo.ErrorInfo) {
	var req struct {
		SessionID string              `json:"session_id"`
		Options   workflow.RunOptions `json:"options"`
	}
	if err := json.Unmarshal(params, &req); err != nil {
		return nil, errinfo.ValidationFailed(errinfo.PhaseRun, "invalid params")
	}
	s, errInfo := e.session(req.SessionID)
	if errInfo != nil {
		return nil, errInfo
	}
	opts := req.Options
	if prefs, err := e.prefs.Load(); err == nil {
		if opts.Format == "" {
			opts.Format = prefs.PDFToImageFormat
		}
		if opts.Mode == "" {
			opts.Mode = prefs.ImageCompressionMode
		}
	}

	result, err := s.Run(ctx, opts)
	if err != nil {
		e.notify(NotifyToolRunFinished, map[string]any{
			"session_id": s.ID,
			"tool_id":    s.Tool.ID,
			"status":     "failed",
			"message":    err.Error(),
		})
		return nil, sessionError(s, errinfo.PhaseRun, err)
	}
	e.notify(NotifyToolRunFinished, map[string]any{
		"session_id": s.ID,
		"tool_id":    s.Tool.ID,
		"status":     "succeeded",
		"message":    result.Message,
	})
	e.notifySessionChanged(s)
	return map[string]any{"status": result.Message, "result": result}, nil
}

func (e *Engine) SessionClear(ctx context.Context, params json.RawMessage) (any, *errinfo.ErrorInfo) {
	var req struct {
		SessionID string `json:"session_id"`
	}
	if err := json.Unmarshal(params, &req); err != nil {
		return nil, errinfo.ValidationFailed(errinfo.PhaseSession, "invalid params")
	}
	s, errInfo := e.session(req.SessionID)
	if errInfo != nil {
		return nil, errInfo
	}
	if _, err := s.Clear(); err != nil {
		return nil, sessionError(s, errinfo.PhaseSession, err)
	}
	e.notifySessionChanged(s)
	return map[string]any{}, nil
}

func (e *Engine) SessionClose(ctx context.Context, params json.RawMessage) (any, *errinfo.ErrorInfo) {
	var req struct {
		SessionID string `json:"session_id"`
	}
	if err := json.Unmarshal(params, &req); err != nil {
		return nil, errinfo.ValidationFailed(errinfo.PhaseSession, "invalid params")
	}
	e.mu.Lock()
	s, ok := e.sessions[req.SessionID]
	delete(e.sessions, req.SessionID)
	e.mu.Unlock()
	if !ok {
		return nil, errinfo.SessionNotFound(req.SessionID)
	}
	s.Close()
	e.logger.Info("session.close", "session_id", s.ID)
	return map[string]any{}, nil
}

// sessionError maps workflow, registry and engine failures to error data.
func sessionError(s *workflow.Session, phase string, err error) *errinfo.ErrorInfo {
	var info *errinfo.ErrorInfo
	var remote *backend.RemoteError
	switch {
	case errors.Is(err, workflow.ErrSessionClosed):
		info = errinfo.SessionNotFound(s.ID)
	case errors.Is(err, workflow.ErrNothingStaged):
		info = errinfo.NothingStaged(s.ID)
	case errors.Is(err, compiler.ErrEmptySelection):
		info = errinfo.EmptySelection(s.ID)
	case errors.Is(err, workflow.ErrRunInProgress):
		info = errinfo.RunInProgress(s.ID)
	case errors.Is(err, pages.ErrInvalidReorder):
		info = errinfo.InvalidReorder(err.Error())
	case errors.Is(err, workflow.ErrSaveCanceled), errors.Is(err, context.Canceled):
		info = errinfo.UserCanceled(phase, err.Error())
	case errors.Is(err, backend.ErrUnavailable):
		info = errinfo.EngineUnavailable(phase, err.Error())
	case errors.As(err, &remote):
		info = errinfo.EngineFailure(remote.Message)
	case errors.Is(err, pages.ErrSourceNotFound),
		errors.Is(err, workflow.ErrPageNotFound),
		errors.Is(err, workflow.ErrPasswordRequired),
		errors.Is(err, workflow.ErrInvalidOptions),
		errors.Is(err, workflow.ErrUnsupportedTool):
		info = errinfo.ValidationFailed(phase, err.Error())
	case errors.Is(err, pages.ErrUnreadableSource):
		info = errinfo.UnreadableSource(phase, err.Error())
	default:
		info = errinfo.EngineFailure(err.Error())
	}
	info.SessionID = s.ID
	info.ToolID = s.Tool.ID
	return info
}
