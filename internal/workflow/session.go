// Package workflow drives one tool session: staging files into the source
// registry, unlocking encrypted documents through the password negotiator,
// curating the page sequence and handing the compiled plan to the engine.
package workflow

import (
	"context"
	"log/slog"
	"sync"

	"github.com/soamn/slicePDF/internal/backend"
	"github.com/soamn/slicePDF/internal/catalog"
	"github.com/soamn/slicePDF/internal/diff"
	"github.com/soamn/slicePDF/internal/idgen"
	"github.com/soamn/slicePDF/internal/logging"
	"github.com/soamn/slicePDF/internal/pages"
	"github.com/soamn/slicePDF/internal/unlock"
)

// PasswordRequester suspends until the user answers a password prompt.
// unlock.Negotiator satisfies it.
type PasswordRequester interface {
	RequestPassword(ctx context.Context, prompt unlock.Prompt) (string, error)
}

type Config struct {
	Backend   backend.Client
	Passwords PasswordRequester
	Logger    *slog.Logger
	// Inspector overrides the file inspector; MaxFileBytes is ignored when set.
	Inspector        pages.Inspector
	MaxSources       int
	MaxFileBytes     int64
	PreviewBytes     int64
	ProbeConcurrency int
	SourceIDs        idgen.Generator
	PageIDs          idgen.Generator
}

// Session owns one tool's registry and page sequence. Neither is safe for
// concurrent use, so every mutation happens under mu. Slow work (probing,
// waiting for a password, engine calls) runs with mu released.
type Session struct {
	ID   string
	Tool catalog.Tool

	backend          backend.Client
	passwords        PasswordRequester
	logger           *slog.Logger
	maxFileBytes     int64
	probeConcurrency int

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	reg     *pages.Registry
	seq     *pages.Sequence
	running bool
	closed  bool
}

// State is a snapshot of what the session has staged.
type State struct {
	SessionID string         `json:"session_id"`
	ToolID    string         `json:"tool_id"`
	Sources   []pages.Source `json:"sources"`
	Pages     []pages.Page   `json:"pages"`
	Running   bool           `json:"running"`
}

func New(id string, tool catalog.Tool, cfg Config) *Session {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Nop()
	}
	logger = logger.With("session_id", id, "tool_id", tool.ID)
	concurrency := cfg.ProbeConcurrency
	if concurrency <= 0 {
		concurrency = 4
	}

	seqOpts := []pages.SequenceOption{pages.WithSequenceLogger(logger)}
	if cfg.PageIDs != nil {
		seqOpts = append(seqOpts, pages.WithPageIDs(cfg.PageIDs))
	}
	seq := pages.NewSequence(seqOpts...)

	inspector := cfg.Inspector
	if inspector == nil {
		inspector = pages.FileInspector{MaxBytes: cfg.MaxFileBytes}
	}
	regOpts := []pages.RegistryOption{
		pages.WithInspector(inspector),
		pages.WithRegistryLogger(logger),
		pages.WithMaxSources(cfg.MaxSources),
		pages.WithPreviewBytes(cfg.PreviewBytes),
	}
	if cfg.SourceIDs != nil {
		regOpts = append(regOpts, pages.WithSourceIDs(cfg.SourceIDs))
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		ID:               id,
		Tool:             tool,
		backend:          cfg.Backend,
		passwords:        cfg.Passwords,
		logger:           logger,
		maxFileBytes:     cfg.MaxFileBytes,
		probeConcurrency: concurrency,
		ctx:              ctx,
		cancel:           cancel,
		reg:              pages.NewRegistry(seq, regOpts...),
		seq:              seq,
	}
}

// bind ties a request context to the session lifetime, so closing the session
// cancels whatever is still waiting on its behalf.
func (s *Session) bind(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(s.ctx, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stateLocked()
}

func (s *Session) stateLocked() State {
	return State{
		SessionID: s.ID,
		ToolID:    s.Tool.ID,
		Sources:   s.reg.Sources(),
		Pages:     s.seq.Pages(),
		Running:   s.running,
	}
}

// Remove drops a source and every page that came from it.
func (s *Session) Remove(sourceID string) (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return State{}, ErrSessionClosed
	}
	if s.running {
		return State{}, ErrRunInProgress
	}
	if !s.reg.Remove(sourceID) {
		return State{}, pages.ErrSourceNotFound
	}
	return s.stateLocked(), nil
}

// Reorder applies a new page order and reports the entries that changed
// position. Very long sequences are reordered without a report.
func (s *Session) Reorder(ids []string) ([]diff.Line, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrSessionClosed
	}
	if s.running {
		return nil, ErrRunInProgress
	}
	before := s.entriesLocked()
	if err := s.seq.Reorder(ids); err != nil {
		return nil, err
	}
	lines, skipped := diff.SequenceDiffWithLimit(before, s.entriesLocked(), diff.MaxDiffEntries)
	if skipped {
		s.logger.Debug("workflow.reorder_diff_skipped", "pages", len(before))
		return nil, nil
	}
	return diff.Changed(lines), nil
}

func (s *Session) entriesLocked() []diff.Entry {
	labels := s.seq.Labels(func(sourceID string) string {
		if src, ok := s.reg.Get(sourceID); ok {
			return src.DisplayName
		}
		return sourceID
	})
	ids := s.seq.IDs()
	out := make([]diff.Entry, len(ids))
	for i, id := range ids {
		out[i] = diff.Entry{ID: id, Label: labels[i]}
	}
	return out
}

func (s *Session) ToggleActive(pageID string) (pages.Page, error) {
	return s.mutatePage(pageID, s.seq.ToggleActive)
}

func (s *Session) ToggleRotation(pageID string) (pages.Page, error) {
	return s.mutatePage(pageID, s.seq.ToggleRotation)
}

func (s *Session) SetActive(pageID string, active bool) (pages.Page, error) {
	return s.mutatePage(pageID, func(id string) bool { return s.seq.SetActive(id, active) })
}

func (s *Session) mutatePage(pageID string, apply func(string) bool) (pages.Page, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return pages.Page{}, ErrSessionClosed
	}
	if s.running {
		return pages.Page{}, ErrRunInProgress
	}
	if !apply(pageID) {
		return pages.Page{}, ErrPageNotFound
	}
	page, _ := s.seq.Get(pageID)
	return page, nil
}

func (s *Session) Preview(sourceID string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrSessionClosed
	}
	return s.reg.Preview(sourceID)
}

// Clear discards everything staged. Temporary copies are released.
func (s *Session) Clear() (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return State{}, ErrRunInProgress
	}
	s.reg.Clear()
	return s.stateLocked(), nil
}

// Close cancels outstanding waits and releases every source. It is safe to call
// more than once.
func (s *Session) Close() {
	s.cancel()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.reg.Clear()
	s.logger.Debug("workflow.session_closed")
}
