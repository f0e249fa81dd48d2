package workflow

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/soamn/slicePDF/internal/backend"
	"github.com/soamn/slicePDF/internal/catalog"
	"github.com/soamn/slicePDF/internal/diff"
	"github.com/soamn/slicePDF/internal/idgen"
	"github.com/soamn/slicePDF/internal/pages"
	"github.com/soamn/slicePDF/internal/testpdf"
	"github.com/soamn/slicePDF/internal/unlock"
)

// scriptedPasswords answers prompts from a fixed list. An empty entry cancels.
type scriptedPasswords struct {
	mu      sync.Mutex
	answers []string
	prompts []unlock.Prompt
}

func (p *scriptedPasswords) RequestPassword(ctx context.Context, prompt unlock.Prompt) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.prompts = append(p.prompts, prompt)
	if len(p.answers) == 0 {
		return "", unlock.ErrCanceled
	}
	answer := p.answers[0]
	p.answers = p.answers[1:]
	if answer == "" {
		return "", unlock.ErrCanceled
	}
	return answer, nil
}

func (p *scriptedPasswords) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.prompts)
}

func mustTool(t *testing.T, id string) catalog.Tool {
	t.Helper()
	tool, ok := catalog.Default().Get(id)
	if !ok {
		t.Fatalf("tool %s missing from catalog", id)
	}
	return tool
}

func newTestSession(t *testing.T, toolID string, passwords PasswordRequester) (*Session, *backend.Fake, string) {
	t.Helper()
	root := t.TempDir()
	out := filepath.Join(root, "out")
	fake := backend.NewFake(out, filepath.Join(root, "tmp"), nil)
	t.Cleanup(func() { _ = fake.Close() })
	s := New("ses-1", mustTool(t, toolID), Config{
		Backend:      fake,
		Passwords:    passwords,
		MaxFileBytes: 1 << 20,
		SourceIDs:    idgen.Sequential("src"),
		PageIDs:      idgen.Sequential("pg"),
	})
	t.Cleanup(s.Close)
	return s, fake, out
}

func addAll(t *testing.T, s *Session, paths ...string) []AddResult {
	t.Helper()
	results, err := s.AddSources(context.Background(), paths, "")
	if err != nil {
		t.Fatalf("add sources: %v", err)
	}
	if len(results) != len(paths) && s.Tool.Multiple {
		t.Fatalf("expected %d results, got %d", len(paths), len(results))
	}
	return results
}

func TestAddSourcesKeepsSelectionOrder(t *testing.T) {
	dir := t.TempDir()
	a := testpdf.WritePDF(t, dir, "a.pdf", 2)
	b := testpdf.WritePDF(t, dir, "b.pdf", 3)
	s, _, _ := newTestSession(t, "merge-pdf", nil)

	results := addAll(t, s, a, b)
	for _, res := range results {
		if res.Status != StatusAdded {
			t.Fatalf("expected added, got %+v", res)
		}
	}
	state := s.State()
	if len(state.Sources) != 2 || state.Sources[0].DisplayName != "a.pdf" || state.Sources[1].DisplayName != "b.pdf" {
		t.Fatalf("unexpected sources: %+v", state.Sources)
	}
	if len(state.Pages) != 5 {
		t.Fatalf("expected 5 pages, got %d", len(state.Pages))
	}
	if state.Pages[0].SourceID != results[0].SourceID || state.Pages[4].SourceID != results[1].SourceID || state.Pages[4].PageNumber != 3 {
		t.Fatalf("unexpected page order: %+v", state.Pages)
	}
}

func TestAddSourcesEmptySelectionIsNoop(t *testing.T) {
	s, _, _ := newTestSession(t, "merge-pdf", nil)
	results, err := s.AddSources(context.Background(), nil, "")
	if err != nil || results != nil {
		t.Fatalf("expected no-op, got %v %v", results, err)
	}
}

func TestWrongPasswordLeavesStateUnchanged(t *testing.T) {
	dir := t.TempDir()
	plain := testpdf.WritePDF(t, dir, "plain.pdf", 2)
	locked := testpdf.WriteEncryptedPDF(t, dir, "locked.pdf", 3, "secret")
	passwords := &scriptedPasswords{answers: []string{"wrong"}}
	s, _, _ := newTestSession(t, "merge-pdf", passwords)

	addAll(t, s, plain)
	before := s.State()

	results := addAll(t, s, locked)
	if results[0].Status != StatusSkipped || results[0].Reason != ReasonInvalidPassword {
		t.Fatalf("expected invalid password skip, got %+v", results[0])
	}
	if !errors.Is(results[0].Err, ErrInvalidPassword) {
		t.Fatalf("expected ErrInvalidPassword, got %v", results[0].Err)
	}
	after := s.State()
	if len(after.Sources) != len(before.Sources) || len(after.Pages) != len(before.Pages) {
		t.Fatalf("state changed: before %+v after %+v", before, after)
	}
	for i := range before.Pages {
		if before.Pages[i] != after.Pages[i] {
			t.Fatalf("page %d changed: %+v vs %+v", i, before.Pages[i], after.Pages[i])
		}
	}
	if passwords.count() != 1 {
		t.Fatalf("expected one prompt, got %d", passwords.count())
	}
}

func TestUnlockedSourceOwnsTemporaryCopy(t *testing.T) {
	dir := t.TempDir()
	locked := testpdf.WriteEncryptedPDF(t, dir, "locked.pdf", 2, "secret")
	s, _, _ := newTestSession(t, "merge-pdf", &scriptedPasswords{answers: []string{"secret"}})

	results := addAll(t, s, locked)
	if results[0].Status != StatusAdded || !results[0].Unlocked || results[0].PageCount != 2 {
		t.Fatalf("unexpected result: %+v", results[0])
	}
	src := s.State().Sources[0]
	if src.OriginPath != locked || src.DisplayName != "locked.pdf" {
		t.Fatalf("unexpected source: %+v", src)
	}
	if src.Path == locked {
		t.Fatalf("expected engine input to be the decrypted copy")
	}
	if _, err := os.Stat(src.Path); err != nil {
		t.Fatalf("stat temp copy: %v", err)
	}

	if _, err := s.Remove(src.ID); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, err := os.Stat(src.Path); !os.IsNotExist(err) {
		t.Fatalf("expected temp copy released, got %v", err)
	}
}

func TestCanceledPromptSkipsOnlyThatFile(t *testing.T) {
	dir := t.TempDir()
	first := testpdf.WritePDF(t, dir, "first.pdf", 1)
	locked := testpdf.WriteEncryptedPDF(t, dir, "locked.pdf", 1, "secret")
	last := testpdf.WritePDF(t, dir, "last.pdf", 2)
	s, _, _ := newTestSession(t, "merge-pdf", &scriptedPasswords{answers: []string{""}})

	results := addAll(t, s, first, locked, last)
	if results[0].Status != StatusAdded || results[2].Status != StatusAdded {
		t.Fatalf("expected neighbours added: %+v", results)
	}
	if results[1].Status != StatusSkipped || results[1].Reason != ReasonCanceled {
		t.Fatalf("expected canceled skip, got %+v", results[1])
	}
	if got := len(s.State().Pages); got != 3 {
		t.Fatalf("expected 3 pages, got %d", got)
	}
}

func TestUnacceptedAndMissingFilesAreSkipped(t *testing.T) {
	dir := t.TempDir()
	img := testpdf.WritePNG(t, dir, "photo.png")
	missing := filepath.Join(dir, "missing.pdf")
	notes := filepath.Join(dir, "notes.txt")
	if err := os.WriteFile(notes, []byte("hi"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	s, _, _ := newTestSession(t, "merge-pdf", nil)

	results := addAll(t, s, img, missing, notes)
	want := []string{ReasonNotAccepted, "unreadable", "unsupported"}
	for i, res := range results {
		if res.Status != StatusSkipped || res.Reason != want[i] {
			t.Fatalf("result %d: expected %s, got %+v", i, want[i], res)
		}
	}
	if len(s.State().Sources) != 0 {
		t.Fatalf("expected nothing staged")
	}
}

func TestSingleSourceToolReplacesStagedFile(t *testing.T) {
	dir := t.TempDir()
	first := testpdf.WritePDF(t, dir, "first.pdf", 2)
	second := testpdf.WritePDF(t, dir, "second.pdf", 4)
	s, _, _ := newTestSession(t, "rotate-pdf", nil)

	addAll(t, s, first)
	results := addAll(t, s, second, first)
	if len(results) != 1 || results[0].Status != StatusAdded {
		t.Fatalf("expected only the first path staged, got %+v", results)
	}
	state := s.State()
	if len(state.Sources) != 1 || state.Sources[0].DisplayName != "second.pdf" || len(state.Pages) != 4 {
		t.Fatalf("expected replacement, got %+v", state)
	}
}

func TestNegotiatedUnlockThroughNegotiator(t *testing.T) {
	dir := t.TempDir()
	locked := testpdf.WriteEncryptedPDF(t, dir, "locked.pdf", 2, "secret")
	prompts := make(chan unlock.Prompt, 1)
	negotiator := unlock.New(unlock.WithPresenter(presenterFunc(func(p unlock.Prompt) { prompts <- p })))
	s, _, _ := newTestSession(t, "merge-pdf", negotiator)

	go func() {
		p := <-prompts
		_ = negotiator.Submit(p.RequestID, "secret")
	}()
	results := addAll(t, s, locked)
	if results[0].Status != StatusAdded || !results[0].Unlocked {
		t.Fatalf("unexpected result: %+v", results[0])
	}
	if negotiator.State() != unlock.StateIdle {
		t.Fatalf("expected idle negotiator")
	}
}

func TestCloseCancelsPendingPrompt(t *testing.T) {
	dir := t.TempDir()
	locked := testpdf.WriteEncryptedPDF(t, dir, "locked.pdf", 1, "secret")
	prompts := make(chan unlock.Prompt, 1)
	negotiator := unlock.New(unlock.WithPresenter(presenterFunc(func(p unlock.Prompt) { prompts <- p })))
	s, _, _ := newTestSession(t, "merge-pdf", negotiator)

	type outcome struct {
		results []AddResult
		err     error
	}
	done := make(chan outcome, 1)
	go func() {
		results, err := s.AddSources(context.Background(), []string{locked}, "")
		done <- outcome{results, err}
	}()
	select {
	case <-prompts:
	case <-time.After(5 * time.Second):
		t.Fatalf("prompt never presented")
	}
	s.Close()

	select {
	case got := <-done:
		if got.err == nil && (len(got.results) != 1 || got.results[0].Reason != ReasonCanceled) {
			t.Fatalf("expected canceled, got %+v", got.results)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("add did not return after close")
	}
	if negotiator.State() != unlock.StateIdle {
		t.Fatalf("expected idle negotiator after close")
	}
}

func TestReorderReportsMoves(t *testing.T) {
	dir := t.TempDir()
	a := testpdf.WritePDF(t, dir, "a.pdf", 3)
	s, _, _ := newTestSession(t, "merge-pdf", nil)
	addAll(t, s, a)

	ids := []string{"pg-3", "pg-1", "pg-2"}
	lines, err := s.Reorder(ids)
	if err != nil {
		t.Fatalf("reorder: %v", err)
	}
	moved := 0
	for _, line := range lines {
		switch line.Type {
		case diff.LineMoved:
			moved++
		case diff.LineContext:
			t.Fatalf("expected only changed entries, got %+v", lines)
		}
	}
	if moved == 0 {
		t.Fatalf("expected a moved line, got %+v", lines)
	}
	state := s.State()
	for i, id := range ids {
		if state.Pages[i].ID != id {
			t.Fatalf("position %d: expected %s, got %s", i, id, state.Pages[i].ID)
		}
	}

	if _, err := s.Reorder([]string{"pg-1", "pg-2"}); !errors.Is(err, pages.ErrInvalidReorder) {
		t.Fatalf("expected ErrInvalidReorder, got %v", err)
	}
}

func TestPageTogglesAndUnknownPages(t *testing.T) {
	dir := t.TempDir()
	a := testpdf.WritePDF(t, dir, "a.pdf", 1)
	s, _, _ := newTestSession(t, "rotate-pdf", nil)
	addAll(t, s, a)

	page, err := s.ToggleRotation("pg-1")
	if err != nil || page.Rotation != 90 {
		t.Fatalf("rotate: %+v %v", page, err)
	}
	page, err = s.ToggleActive("pg-1")
	if err != nil || page.Active {
		t.Fatalf("toggle: %+v %v", page, err)
	}
	if _, err := s.ToggleActive("pg-404"); !errors.Is(err, ErrPageNotFound) {
		t.Fatalf("expected ErrPageNotFound, got %v", err)
	}
}

type presenterFunc func(unlock.Prompt)

func (f presenterFunc) Present(p unlock.Prompt)     { f(p) }
func (f presenterFunc) Dismiss(unlock.Prompt, bool) {}
