package workflow

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/soamn/slicePDF/internal/backend"
	"github.com/soamn/slicePDF/internal/catalog"
	"github.com/soamn/slicePDF/internal/pages"
	"github.com/soamn/slicePDF/internal/probe"
	"github.com/soamn/slicePDF/internal/unlock"
)

const (
	StatusAdded     = "added"
	StatusSkipped   = "skipped"
	StatusDecrypted = "decrypted"
)

// AddResult reports what happened to one selected file. A skipped file never
// stops the rest of the batch.
type AddResult struct {
	SourcePath string `json:"source_path"`
	FileName   string `json:"file_name"`
	Status     string `json:"status"`
	Reason     string `json:"reason,omitempty"`
	Message    string `json:"message,omitempty"`
	SourceID   string `json:"source_id,omitempty"`
	PageCount  int    `json:"page_count,omitempty"`
	Unlocked   bool   `json:"unlocked,omitempty"`
	Err        error  `json:"-"`
}

type candidate struct {
	path      string
	kind      pages.Kind
	encrypted bool
	meta      pages.Metadata
	err       error
}

// AddSources stages the selected files. An empty selection is a no-op. Files
// are checked and probed concurrently; encrypted documents are then unlocked one
// at a time, in selection order, so the user sees one prompt at a time.
// Single-file tools take the first path and replace whatever was staged.
func (s *Session) AddSources(ctx context.Context, paths []string, kind pages.Kind) ([]AddResult, error) {
	if len(paths) == 0 {
		return nil, nil
	}
	if !s.Tool.Multiple && len(paths) > 1 {
		paths = paths[:1]
	}
	ctx, done := s.bind(ctx)
	defer done()

	s.mu.Lock()
	closed, running := s.closed, s.running
	var replaced []string
	if !s.Tool.Multiple {
		for _, src := range s.reg.Sources() {
			replaced = append(replaced, src.ID)
		}
	}
	s.mu.Unlock()
	if closed {
		return nil, ErrSessionClosed
	}
	if running {
		return nil, ErrRunInProgress
	}

	cands := make([]candidate, len(paths))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.probeConcurrency)
	for i, path := range paths {
		g.Go(func() error {
			cands[i] = s.prepare(gctx, path, kind)
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	results := make([]AddResult, 0, len(cands))
	for _, c := range cands {
		res := s.stage(ctx, c)
		if res.Status == StatusAdded && len(replaced) > 0 {
			s.mu.Lock()
			for _, id := range replaced {
				s.reg.Remove(id)
			}
			s.mu.Unlock()
			replaced = nil
		}
		s.logger.Debug("workflow.source_staged", "file_name", res.FileName, "status", res.Status, "reason", res.Reason)
		results = append(results, res)
	}
	return results, nil
}

// prepare runs the checks that touch nothing but the file.
func (s *Session) prepare(ctx context.Context, path string, kind pages.Kind) candidate {
	c := candidate{path: path, kind: kind}
	if c.kind == "" {
		k, ok := pages.KindForPath(path)
		if !ok {
			c.err = fmt.Errorf("%s: %w", filepath.Base(path), pages.ErrUnsupportedKind)
			return c
		}
		c.kind = k
	}
	if !s.accepts(c.kind) {
		c.err = errNotAccepted
		return c
	}
	if _, err := pages.CheckFile(path, s.maxFileBytes); err != nil {
		c.err = err
		return c
	}
	if c.kind == pages.KindPagedDocument {
		result, err := probe.ProbeFile(ctx, path)
		if err != nil {
			c.err = fmt.Errorf("%w: %v", pages.ErrUnreadableSource, err)
			return c
		}
		if result == probe.Encrypted {
			c.encrypted = true
			return c
		}
	}
	if s.Tool.Workflow == catalog.WorkflowDecryptPDF {
		return c
	}
	// Inspect reads no registry state, so it runs without the lock.
	c.meta, c.err = s.reg.Inspect(ctx, path, c.kind)
	return c
}

var errNotAccepted = errors.New("file type not accepted by this tool")

func (s *Session) accepts(kind pages.Kind) bool {
	switch kind {
	case pages.KindPagedDocument:
		return s.Tool.AcceptsPDF()
	case pages.KindSingleImage:
		return s.Tool.AcceptsImages()
	}
	return false
}

func (s *Session) stage(ctx context.Context, c candidate) AddResult {
	res := AddResult{SourcePath: c.path, FileName: filepath.Base(c.path)}
	if c.err != nil {
		return skipped(res, c.err)
	}
	if s.Tool.Workflow == catalog.WorkflowDecryptPDF {
		return s.decryptToOutput(ctx, res, c)
	}
	if !c.encrypted {
		return s.add(res, c.path, c.meta, nil)
	}

	temp, err := s.unlock(ctx, c.path, false)
	if err != nil {
		return skipped(res, err)
	}
	handle := pages.TempFileHandle(temp)
	meta, err := s.reg.Inspect(ctx, temp, c.kind)
	if err != nil {
		_ = handle.Release()
		return skipped(res, err)
	}
	return s.add(res, temp, meta, handle, pages.WithOriginPath(c.path))
}

// add registers path. A non-nil unlocked handle marks path as a decrypted copy
// owned by the new source.
func (s *Session) add(res AddResult, path string, meta pages.Metadata, unlocked pages.Handle, opts ...pages.AddOption) AddResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	var blocked error
	switch {
	case s.closed:
		blocked = ErrSessionClosed
	case s.running:
		// A run started while this batch was being probed or unlocked.
		blocked = ErrRunInProgress
	}
	if blocked != nil {
		if unlocked != nil {
			_ = unlocked.Release()
		}
		return skipped(res, blocked)
	}
	if unlocked != nil {
		opts = append(opts, pages.WithUnlockedCopy(unlocked))
	}
	src, err := s.reg.Add(path, meta, opts...)
	if err != nil {
		return skipped(res, err)
	}
	s.seq.Expand(src)
	res.Status = StatusAdded
	res.SourceID = src.ID
	res.PageCount = src.PageCount
	res.Unlocked = src.Unlocked
	return res
}

// unlock asks for a password and has the engine decrypt path. With keep false
// the result is a temporary copy whose path is returned; with keep true the
// engine saves a decrypted copy and its message is returned. A wrong password
// is terminal for this file: nothing is registered and the user re-selects it
// to try again.
func (s *Session) unlock(ctx context.Context, path string, keep bool) (string, error) {
	if s.passwords == nil {
		return "", fmt.Errorf("%w: no password prompt available", ErrPasswordRequired)
	}
	password, err := s.passwords.RequestPassword(ctx, unlock.Prompt{
		SessionID: s.ID,
		ToolID:    s.Tool.ID,
		FileName:  filepath.Base(path),
	})
	if err != nil {
		return "", err
	}
	if s.backend == nil {
		return "", backend.ErrUnavailable
	}

	var out backend.DecryptResult
	err = s.backend.Call(ctx, backend.CmdDecryptPDF, backend.DecryptPayload{
		InputPath: path,
		Password:  password,
		Temp:      !keep,
	}, &out)
	if err != nil {
		var remote *backend.RemoteError
		if errors.As(err, &remote) {
			s.logger.Warn("workflow.decrypt_failed", "file_name", filepath.Base(path), "error", remote.Message)
			return "", fmt.Errorf("%w: %s", ErrInvalidPassword, remote.Message)
		}
		return "", err
	}
	if keep {
		return out.Message, nil
	}
	if out.TempPath == "" {
		return "", fmt.Errorf("%w: engine returned no temporary copy", ErrInvalidPassword)
	}
	return out.TempPath, nil
}

// decryptToOutput is the decrypt tool's whole job: unlock and save a decrypted
// copy. Nothing is staged.
func (s *Session) decryptToOutput(ctx context.Context, res AddResult, c candidate) AddResult {
	if c.kind != pages.KindPagedDocument {
		return skipped(res, errNotAccepted)
	}
	if !c.encrypted {
		res.Status = StatusSkipped
		res.Reason = ReasonAlreadyUnlocked
		res.Message = "PDF is already unlocked"
		return res
	}
	msg, err := s.unlock(ctx, c.path, true)
	if err != nil {
		return skipped(res, err)
	}
	res.Status = StatusDecrypted
	res.Message = strings.TrimSpace(msg)
	return res
}

func skipped(res AddResult, err error) AddResult {
	res.Status = StatusSkipped
	res.Err = err
	res.Reason = reasonFor(err)
	if res.Reason != ReasonCanceled {
		res.Message = err.Error()
	}
	return res
}

func reasonFor(err error) string {
	switch {
	case errors.Is(err, unlock.ErrCanceled), errors.Is(err, context.Canceled):
		return ReasonCanceled
	case errors.Is(err, ErrInvalidPassword):
		return ReasonInvalidPassword
	case errors.Is(err, errNotAccepted):
		return ReasonNotAccepted
	case errors.Is(err, backend.ErrUnavailable):
		return ReasonEngineUnavailable
	case errors.Is(err, ErrRunInProgress):
		return ReasonRunInProgress
	case errors.Is(err, ErrPasswordRequired), errors.Is(err, ErrSessionClosed):
		return ReasonDecryptFailed
	}
	return pages.SkipReason(err)
}
