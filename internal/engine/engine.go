package engine

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"sync"

	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"github.com/soamn/slicePDF/internal/appdirs"
	"github.com/soamn/slicePDF/internal/backend"
	"github.com/soamn/slicePDF/internal/catalog"
	"github.com/soamn/slicePDF/internal/config"
	"github.com/soamn/slicePDF/internal/errinfo"
	"github.com/soamn/slicePDF/internal/idgen"
	"github.com/soamn/slicePDF/internal/logging"
	"github.com/soamn/slicePDF/internal/settings"
	"github.com/soamn/slicePDF/internal/unlock"
	"github.com/soamn/slicePDF/internal/workflow"
)

const (
	EngineVersion = "0.1.0"
	APIVersion    = "1"
)

// Notifications sent to the UI.
const (
	NotifyPasswordRequested = "UnlockPasswordRequested"
	NotifyPasswordDismissed = "UnlockPasswordDismissed"
	NotifySessionChanged    = "SessionChanged"
	NotifyToolRunFinished   = "ToolRunFinished"
)

type Notifier func(method string, params any)

type Engine struct {
	dataDir    string
	limits     config.LimitsConfig
	catalog    *catalog.Catalog
	prefs      *settings.Store
	backend    backend.Client
	negotiator *unlock.Negotiator
	notify     Notifier
	logger     *slog.Logger

	sessionIDs idgen.Generator
	sourceIDs  idgen.Generator
	pageIDs    idgen.Generator

	mu       sync.Mutex
	sessions map[string]*workflow.Session
}

type Option func(*Engine)

func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

func WithBackend(client backend.Client) Option {
	return func(e *Engine) {
		if client != nil {
			e.backend = client
		}
	}
}

func WithCatalog(c *catalog.Catalog) Option {
	return func(e *Engine) {
		if c != nil {
			e.catalog = c
		}
	}
}

func WithDataDir(dir string) Option {
	return func(e *Engine) { e.dataDir = dir }
}

func WithLimits(limits config.LimitsConfig) Option {
	return func(e *Engine) { e.limits = limits }
}

// WithIDGenerators replaces the session, source and page id generators. Nil
// entries keep the default.
func WithIDGenerators(sessions, sources, pages idgen.Generator) Option {
	return func(e *Engine) {
		if sessions != nil {
			e.sessionIDs = sessions
		}
		e.sourceIDs = sources
		e.pageIDs = pages
	}
}

func New(opts ...Option) (*Engine, error) {
	engine := &Engine{
		logger:     logging.Nop(),
		catalog:    catalog.Default(),
		sessionIDs: idgen.Prefixed("ses_", idgen.UUIDv7()),
		sessions:   make(map[string]*workflow.Session),
		notify:     func(string, any) {},
	}
	for _, opt := range opts {
		opt(engine)
	}
	if engine.dataDir == "" {
		dataDir, err := appdirs.DataDir()
		if err != nil {
			return nil, err
		}
		engine.dataDir = dataDir
	}
	if err := os.MkdirAll(engine.dataDir, 0o755); err != nil {
		return nil, err
	}
	engine.prefs = settings.NewStore(appdirs.PreferencesPath(engine.dataDir))
	engine.negotiator = unlock.New(
		unlock.WithPresenter(presenter{engine}),
		unlock.WithLogger(engine.logger.With("component", "unlock")),
	)
	for _, warning := range engine.catalog.Warnings {
		engine.logger.Warn("catalog.warning", "detail", warning)
	}
	return engine, nil
}

func (e *Engine) SetNotifier(notify Notifier) {
	if notify == nil {
		notify = func(string, any) {}
	}
	e.notify = notify
}

// Close cancels every session, which also resolves a pending password prompt,
// and stops the backend.
func (e *Engine) Close() error {
	e.mu.Lock()
	sessions := make([]*workflow.Session, 0, len(e.sessions))
	for id, s := range e.sessions {
		sessions = append(sessions, s)
		delete(e.sessions, id)
	}
	e.mu.Unlock()
	for _, s := range sessions {
		s.Close()
	}
	if e.backend != nil {
		return e.backend.Close()
	}
	return nil
}

// presenter turns negotiator prompts into UI notifications.
type presenter struct{ e *Engine }

func (p presenter) Present(prompt unlock.Prompt) {
	p.e.logger.Info("unlock.password_requested", "request_id", prompt.RequestID, "session_id", prompt.SessionID)
	p.e.notify(NotifyPasswordRequested, prompt)
}

func (p presenter) Dismiss(prompt unlock.Prompt, canceled bool) {
	p.e.notify(NotifyPasswordDismissed, map[string]any{
		"request_id": prompt.RequestID,
		"session_id": prompt.SessionID,
		"canceled":   canceled,
	})
}

func (e *Engine) EngineGetInfo(ctx context.Context, _ json.RawMessage) (any, *errinfo.ErrorInfo) {
	return map[string]any{
		"engine_version": EngineVersion,
		"api_version":    APIVersion,
		"pdfcpu_version": model.VersionStr,
	}, nil
}

type statusReporter interface {
	Status() map[string]any
}

func (e *Engine) BackendGetStatus(ctx context.Context, _ json.RawMessage) (any, *errinfo.ErrorInfo) {
	if e.backend == nil {
		return map[string]any{
			"available": false,
			"error":     "processing engine not initialized",
		}, nil
	}
	result := map[string]any{"available": true}
	if reporter, ok := e.backend.(statusReporter); ok {
		result["process"] = reporter.Status()
	}
	if err := e.backend.HealthCheck(ctx); err != nil {
		e.logger.Warn("backend.health_check_failed", "error", err.Error())
		result["available"] = false
		result["error"] = err.Error()
	}
	return result, nil
}

func (e *Engine) BackendPickOutputFolder(ctx context.Context, params json.RawMessage) (any, *errinfo.ErrorInfo) {
	var req struct {
		FileName string `json:"file_name"`
	}
	if len(params) > 0 {
		if err := json.Unmarshal(params, &req); err != nil {
			return nil, errinfo.ValidationFailed(errinfo.PhaseRun, "invalid params")
		}
	}
	if e.backend == nil {
		return nil, errinfo.EngineUnavailable(errinfo.PhaseRun, "processing engine not initialized")
	}
	var folder *string
	if err := e.backend.Call(ctx, backend.CmdPickOutputFolder, backend.PickOutputFolderPayload{FileName: req.FileName}, &folder); err != nil {
		return nil, engineError(err)
	}
	if folder == nil || *folder == "" {
		return map[string]any{"folder": nil}, nil
	}
	if _, err := e.prefs.Update(func(s *settings.Settings) { s.LastOutputFolder = *folder }); err != nil {
		e.logger.Warn("preferences.save_failed", "error", err.Error())
	}
	return map[string]any{"folder": *folder}, nil
}

func engineError(err error) *errinfo.ErrorInfo {
	var remote *backend.RemoteError
	switch {
	case errors.Is(err, backend.ErrUnavailable):
		return errinfo.EngineUnavailable(errinfo.PhaseRun, err.Error())
	case errors.As(err, &remote):
		return errinfo.EngineFailure(remote.Message)
	case errors.Is(err, context.Canceled):
		return errinfo.UserCanceled(errinfo.PhaseRun, err.Error())
	}
	return errinfo.EngineFailure(err.Error())
}

func (e *Engine) ToolsList(ctx context.Context, _ json.RawMessage) (any, *errinfo.ErrorInfo) {
	prefs, err := e.prefs.Load()
	if err != nil {
		return nil, errinfo.FileReadFailed(errinfo.PhasePreferences, err.Error())
	}
	return map[string]any{
		"tools":        e.catalog.List(),
		"recent_tools": prefs.RecentTools,
	}, nil
}

func (e *Engine) PreferencesGet(ctx context.Context, _ json.RawMessage) (any, *errinfo.ErrorInfo) {
	prefs, err := e.prefs.Load()
	if err != nil {
		return nil, errinfo.FileReadFailed(errinfo.PhasePreferences, err.Error())
	}
	return prefs, nil
}

func (e *Engine) PreferencesSet(ctx context.Context, params json.RawMessage) (any, *errinfo.ErrorInfo) {
	var req struct {
		PDFToImageFormat     *string `json:"pdf_to_image_format"`
		ImageCompressionMode *string `json:"image_compression_mode"`
		ResizeMode           *string `json:"resize_mode"`
		LastOutputFolder     *string `json:"last_output_folder"`
	}
	if err := json.Unmarshal(params, &req); err != nil {
		return nil, errinfo.ValidationFailed(errinfo.PhasePreferences, "invalid params")
	}
	prefs, err := e.prefs.Update(func(s *settings.Settings) {
		if req.PDFToImageFormat != nil {
			s.PDFToImageFormat = *req.PDFToImageFormat
		}
		if req.ImageCompressionMode != nil {
			s.ImageCompressionMode = *req.ImageCompressionMode
		}
		if req.ResizeMode != nil {
			s.ResizeMode = *req.ResizeMode
		}
		if req.LastOutputFolder != nil {
			s.LastOutputFolder = *req.LastOutputFolder
		}
	})
	if err != nil {
		return nil, errinfo.FileWriteFailed(errinfo.PhasePreferences, err.Error())
	}
	e.logger.Info("preferences.updated")
	return prefs, nil
}
