// Package unlock implements the password negotiation channel shared by every tool.
//
// A Negotiator is Idle or AwaitingInput. RequestPassword takes the single slot,
// presents the input surface and blocks until the UI answers through Submit or
// Cancel. Callers that arrive while a request is live wait for the slot; they are
// never dropped and never replace the pending request.
package unlock

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"

	"github.com/soamn/slicePDF/internal/idgen"
	"github.com/soamn/slicePDF/internal/logging"
)

var (
	ErrCanceled         = errors.New("password request canceled")
	ErrNoPendingRequest = errors.New("no pending password request")
	ErrStaleRequest     = errors.New("password request is no longer pending")
	ErrEmptyPassword    = errors.New("password must not be empty")
)

type State string

const (
	StateIdle          State = "idle"
	StateAwaitingInput State = "awaiting_input"
)

// Prompt describes the document the password is for.
type Prompt struct {
	RequestID string `json:"request_id"`
	SessionID string `json:"session_id,omitempty"`
	ToolID    string `json:"tool_id,omitempty"`
	FileName  string `json:"file_name,omitempty"`
}

type answer struct {
	password string
	canceled bool
}

type pending struct {
	prompt Prompt
	reply  chan answer
}

// Presenter shows and hides the input surface.
type Presenter interface {
	Present(prompt Prompt)
	Dismiss(prompt Prompt, canceled bool)
}

type Negotiator struct {
	slot      chan struct{}
	mu        sync.Mutex
	current   *pending
	presenter Presenter
	newID     idgen.Generator
	logger    *slog.Logger
}

type Option func(*Negotiator)

func WithPresenter(p Presenter) Option {
	return func(n *Negotiator) {
		n.presenter = p
	}
}

func WithIDGenerator(gen idgen.Generator) Option {
	return func(n *Negotiator) {
		if gen != nil {
			n.newID = gen
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(n *Negotiator) {
		if logger != nil {
			n.logger = logger
		}
	}
}

func New(opts ...Option) *Negotiator {
	n := &Negotiator{
		slot:   make(chan struct{}, 1),
		newID:  idgen.Prefixed("pwr_", idgen.UUIDv7()),
		logger: logging.Nop(),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// SetPresenter replaces the presenter. The engine installs its notifier after
// construction, the same way it wires the RPC notifier.
func (n *Negotiator) SetPresenter(p Presenter) {
	n.mu.Lock()
	n.presenter = p
	n.mu.Unlock()
}

// RequestPassword blocks until the user confirms or cancels. There is no timeout;
// ctx is canceled only on workflow teardown, which resolves the request as canceled.
func (n *Negotiator) RequestPassword(ctx context.Context, prompt Prompt) (string, error) {
	select {
	case n.slot <- struct{}{}:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	defer func() { <-n.slot }()

	prompt.RequestID = n.newID()
	p := &pending{prompt: prompt, reply: make(chan answer, 1)}
	n.mu.Lock()
	n.current = p
	presenter := n.presenter
	n.mu.Unlock()

	n.logger.Info("unlock.requested", "request_id", prompt.RequestID, "session_id", prompt.SessionID, "file_name", prompt.FileName)
	if presenter != nil {
		presenter.Present(prompt)
	}

	var ans answer
	select {
	case ans = <-p.reply:
	case <-ctx.Done():
		// If the UI answered at the same instant, that answer stands.
		n.resolve(prompt.RequestID, answer{canceled: true})
		ans = <-p.reply
	}

	if presenter != nil {
		presenter.Dismiss(prompt, ans.canceled)
	}
	if ans.canceled {
		n.logger.Info("unlock.canceled", "request_id", prompt.RequestID)
		return "", ErrCanceled
	}
	n.logger.Info("unlock.answered", "request_id", prompt.RequestID)
	return ans.password, nil
}

// Submit resolves the pending request with a password.
func (n *Negotiator) Submit(requestID, password string) error {
	if password == "" {
		return ErrEmptyPassword
	}
	return n.answer(requestID, answer{password: password})
}

// Cancel resolves the pending request with the cancellation value.
func (n *Negotiator) Cancel(requestID string) error {
	return n.answer(requestID, answer{canceled: true})
}

func (n *Negotiator) answer(requestID string, ans answer) error {
	n.mu.Lock()
	current := n.current
	n.mu.Unlock()
	if current == nil {
		return ErrNoPendingRequest
	}
	requestID = strings.TrimSpace(requestID)
	if requestID != "" && requestID != current.prompt.RequestID {
		return ErrStaleRequest
	}
	if !n.resolve(current.prompt.RequestID, ans) {
		return ErrStaleRequest
	}
	return nil
}

// resolve delivers ans to the pending request with the given id exactly once.
func (n *Negotiator) resolve(requestID string, ans answer) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.current == nil || n.current.prompt.RequestID != requestID {
		return false
	}
	n.current.reply <- ans
	n.current = nil
	return true
}

func (n *Negotiator) State() State {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.current != nil {
		return StateAwaitingInput
	}
	return StateIdle
}

// Pending returns the prompt of the live request, if any.
func (n *Negotiator) Pending() (Prompt, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.current == nil {
		return Prompt{}, false
	}
	return n.current.prompt, true
}
