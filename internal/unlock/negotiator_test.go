package unlock

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/soamn/slicePDF/internal/idgen"
)

type recordingPresenter struct {
	mu        sync.Mutex
	presented []Prompt
	dismissed []Prompt
	canceled  []bool
	shown     chan Prompt
}

func newRecordingPresenter() *recordingPresenter {
	return &recordingPresenter{shown: make(chan Prompt, 8)}
}

func (p *recordingPresenter) Present(prompt Prompt) {
	p.mu.Lock()
	p.presented = append(p.presented, prompt)
	p.mu.Unlock()
	p.shown <- prompt
}

func (p *recordingPresenter) Dismiss(prompt Prompt, canceled bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.dismissed = append(p.dismissed, prompt)
	p.canceled = append(p.canceled, canceled)
}

func (p *recordingPresenter) waitShown(t *testing.T) Prompt {
	t.Helper()
	select {
	case prompt := <-p.shown:
		return prompt
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for prompt")
	}
	return Prompt{}
}

type result struct {
	password string
	err      error
}

func request(n *Negotiator, ctx context.Context, prompt Prompt) <-chan result {
	out := make(chan result, 1)
	go func() {
		pw, err := n.RequestPassword(ctx, prompt)
		out <- result{password: pw, err: err}
	}()
	return out
}

func waitResult(t *testing.T, ch <-chan result) result {
	t.Helper()
	select {
	case res := <-ch:
		return res
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for result")
	}
	return result{}
}

func TestRequestPasswordSubmit(t *testing.T) {
	presenter := newRecordingPresenter()
	n := New(WithPresenter(presenter), WithIDGenerator(idgen.Sequential("pwr")))

	if n.State() != StateIdle {
		t.Fatalf("expected idle, got %s", n.State())
	}
	out := request(n, context.Background(), Prompt{FileName: "locked.pdf"})
	prompt := presenter.waitShown(t)
	if prompt.RequestID != "pwr-1" || prompt.FileName != "locked.pdf" {
		t.Fatalf("unexpected prompt: %+v", prompt)
	}
	if n.State() != StateAwaitingInput {
		t.Fatalf("expected awaiting input, got %s", n.State())
	}
	if pending, ok := n.Pending(); !ok || pending.RequestID != "pwr-1" {
		t.Fatalf("expected pending request, got %+v %v", pending, ok)
	}
	if err := n.Submit("pwr-1", "secret"); err != nil {
		t.Fatalf("submit: %v", err)
	}
	res := waitResult(t, out)
	if res.err != nil || res.password != "secret" {
		t.Fatalf("unexpected result: %+v", res)
	}
	if n.State() != StateIdle {
		t.Fatalf("expected idle after answer, got %s", n.State())
	}
	presenter.mu.Lock()
	defer presenter.mu.Unlock()
	if len(presenter.dismissed) != 1 || presenter.canceled[0] {
		t.Fatalf("expected one non-canceled dismissal, got %v", presenter.canceled)
	}
}

func TestRequestPasswordCancel(t *testing.T) {
	presenter := newRecordingPresenter()
	n := New(WithPresenter(presenter))

	out := request(n, context.Background(), Prompt{FileName: "a.pdf"})
	prompt := presenter.waitShown(t)
	if err := n.Cancel(prompt.RequestID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	res := waitResult(t, out)
	if !errors.Is(res.err, ErrCanceled) {
		t.Fatalf("expected ErrCanceled, got %v", res.err)
	}
	if res.password != "" {
		t.Fatalf("expected no password, got %q", res.password)
	}
	presenter.mu.Lock()
	defer presenter.mu.Unlock()
	if len(presenter.canceled) != 1 || !presenter.canceled[0] {
		t.Fatalf("expected canceled dismissal, got %v", presenter.canceled)
	}
}

func TestSubmitRejectsEmptyPassword(t *testing.T) {
	presenter := newRecordingPresenter()
	n := New(WithPresenter(presenter))

	out := request(n, context.Background(), Prompt{})
	prompt := presenter.waitShown(t)
	if err := n.Submit(prompt.RequestID, ""); !errors.Is(err, ErrEmptyPassword) {
		t.Fatalf("expected ErrEmptyPassword, got %v", err)
	}
	if n.State() != StateAwaitingInput {
		t.Fatalf("empty submit must leave the request pending")
	}
	if err := n.Submit(prompt.RequestID, "pw"); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if res := waitResult(t, out); res.password != "pw" {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestAnswerWithoutPendingRequest(t *testing.T) {
	n := New()
	if err := n.Submit("", "pw"); !errors.Is(err, ErrNoPendingRequest) {
		t.Fatalf("expected ErrNoPendingRequest, got %v", err)
	}
	if err := n.Cancel(""); !errors.Is(err, ErrNoPendingRequest) {
		t.Fatalf("expected ErrNoPendingRequest, got %v", err)
	}
}

func TestAnswerWithStaleRequestID(t *testing.T) {
	presenter := newRecordingPresenter()
	n := New(WithPresenter(presenter), WithIDGenerator(idgen.Sequential("pwr")))

	out := request(n, context.Background(), Prompt{})
	presenter.waitShown(t)
	if err := n.Submit("pwr-99", "pw"); !errors.Is(err, ErrStaleRequest) {
		t.Fatalf("expected ErrStaleRequest, got %v", err)
	}
	// An empty id targets whatever request is live.
	if err := n.Submit("", "pw"); err != nil {
		t.Fatalf("submit: %v", err)
	}
	waitResult(t, out)
}

func TestRequestPasswordContextCanceled(t *testing.T) {
	presenter := newRecordingPresenter()
	n := New(WithPresenter(presenter))

	ctx, cancel := context.WithCancel(context.Background())
	out := request(n, ctx, Prompt{})
	presenter.waitShown(t)
	cancel()
	res := waitResult(t, out)
	if !errors.Is(res.err, ErrCanceled) {
		t.Fatalf("expected ErrCanceled, got %v", res.err)
	}
	if n.State() != StateIdle {
		t.Fatalf("expected idle, got %s", n.State())
	}
}

func TestConcurrentRequestsAreSerialized(t *testing.T) {
	presenter := newRecordingPresenter()
	n := New(WithPresenter(presenter), WithIDGenerator(idgen.Sequential("pwr")))

	first := request(n, context.Background(), Prompt{FileName: "one.pdf"})
	firstPrompt := presenter.waitShown(t)
	second := request(n, context.Background(), Prompt{FileName: "two.pdf"})

	select {
	case prompt := <-presenter.shown:
		t.Fatalf("second request presented while first pending: %+v", prompt)
	case <-time.After(50 * time.Millisecond):
	}
	if pending, _ := n.Pending(); pending.RequestID != firstPrompt.RequestID {
		t.Fatalf("first request was replaced: %+v", pending)
	}

	if err := n.Submit(firstPrompt.RequestID, "one"); err != nil {
		t.Fatalf("submit first: %v", err)
	}
	if res := waitResult(t, first); res.password != "one" {
		t.Fatalf("first got %+v", res)
	}

	secondPrompt := presenter.waitShown(t)
	if secondPrompt.FileName != "two.pdf" {
		t.Fatalf("unexpected second prompt: %+v", secondPrompt)
	}
	if err := n.Submit(secondPrompt.RequestID, "two"); err != nil {
		t.Fatalf("submit second: %v", err)
	}
	if res := waitResult(t, second); res.password != "two" {
		t.Fatalf("second got %+v", res)
	}
}

func TestQueuedRequestGivesUpOnContext(t *testing.T) {
	presenter := newRecordingPresenter()
	n := New(WithPresenter(presenter))

	first := request(n, context.Background(), Prompt{})
	prompt := presenter.waitShown(t)

	ctx, cancel := context.WithCancel(context.Background())
	queued := request(n, ctx, Prompt{})
	cancel()
	if res := waitResult(t, queued); !errors.Is(res.err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", res.err)
	}
	if err := n.Cancel(prompt.RequestID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	waitResult(t, first)
}
