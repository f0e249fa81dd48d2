package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/soamn/slicePDF/internal/backend"
	"github.com/soamn/slicePDF/internal/catalog"
	"github.com/soamn/slicePDF/internal/compiler"
)

// ErrSaveCanceled means the user dismissed the engine's save dialog.
var ErrSaveCanceled = errors.New("save cancelled")

// saveCanceledMessage is what the engine reports when the user dismisses its
// save dialog.
const saveCanceledMessage = "Save cancelled"

const defaultMergedImagesName = "merged_images.pdf"

// RunOptions carries the per-tool settings the UI collects before a run.
// Pointer fields are sent as null when unset.
type RunOptions struct {
	Password      string `json:"password,omitempty"`
	OwnerPassword string `json:"owner_password,omitempty"`
	Format        string `json:"format,omitempty"`
	Width         *int   `json:"width,omitempty"`
	Height        *int   `json:"height,omitempty"`
	Percentage    *int   `json:"percentage,omitempty"`
	TargetSize    *int   `json:"target_size,omitempty"`
	Mode          string `json:"mode,omitempty"`
	FileName      string `json:"file_name,omitempty"`
}

type RunResult struct {
	SessionID    string `json:"session_id"`
	ToolID       string `json:"tool_id"`
	Command      string `json:"command"`
	Message      string `json:"message"`
	Instructions int    `json:"instructions"`
}

func kindFor(w catalog.Workflow) compiler.WorkflowKind {
	switch w {
	case catalog.WorkflowMerge:
		return compiler.KindMerge
	case catalog.WorkflowMergeAll:
		return compiler.KindMergeAll
	case catalog.WorkflowRotate:
		return compiler.KindRotate
	}
	return compiler.KindDocument
}

// Run compiles the current sequence and hands it to the engine. On success the
// session is cleared, releasing temporary copies. On failure everything stays
// staged so the user can retry.
func (s *Session) Run(ctx context.Context, opts RunOptions) (RunResult, error) {
	ctx, done := s.bind(ctx)
	defer done()

	s.mu.Lock()
	switch {
	case s.closed:
		s.mu.Unlock()
		return RunResult{}, ErrSessionClosed
	case s.running:
		s.mu.Unlock()
		return RunResult{}, ErrRunInProgress
	case s.Tool.Workflow == catalog.WorkflowDecryptPDF:
		s.mu.Unlock()
		return RunResult{}, fmt.Errorf("%w: decrypt runs when a file is added", ErrUnsupportedTool)
	case s.reg.Len() == 0:
		s.mu.Unlock()
		return RunResult{}, ErrNothingStaged
	}
	plan, err := compiler.Compile(s.seq.Pages(), s.reg.Sources(), kindFor(s.Tool.Workflow))
	if err != nil {
		s.mu.Unlock()
		return RunResult{}, err
	}
	s.running = true
	s.mu.Unlock()

	result := RunResult{SessionID: s.ID, ToolID: s.Tool.ID, Instructions: len(plan.Instructions)}
	result.Command, result.Message, err = s.dispatch(ctx, plan, opts)

	s.mu.Lock()
	s.running = false
	if err == nil {
		s.reg.Clear()
	}
	s.mu.Unlock()

	if err != nil {
		if isSaveCanceled(err) {
			err = fmt.Errorf("%w: %v", ErrSaveCanceled, err)
		}
		s.logger.Warn("workflow.run_failed", "command", result.Command, "error", err)
		return result, err
	}
	s.logger.Info("workflow.run_finished", "command", result.Command, "instructions", result.Instructions)
	return result, nil
}

func isSaveCanceled(err error) bool {
	return strings.TrimSpace(remoteMessage(err)) == saveCanceledMessage
}

func (s *Session) dispatch(ctx context.Context, plan compiler.Plan, opts RunOptions) (string, string, error) {
	if s.backend == nil {
		return "", "", backend.ErrUnavailable
	}
	inputs := plan.Inputs()

	switch s.Tool.Workflow {
	case catalog.WorkflowMerge:
		msg, err := s.call(ctx, backend.CmdMergePDF, plan.MergePayload())
		return backend.CmdMergePDF, msg, err
	case catalog.WorkflowMergeAll:
		msg, err := s.call(ctx, backend.CmdMergeAll, plan.MergeAllPayload())
		return backend.CmdMergeAll, msg, err
	case catalog.WorkflowRotate:
		msg, err := s.call(ctx, backend.CmdRotatePDFPages, plan.RotatePayload())
		return backend.CmdRotatePDFPages, msg, err
	case catalog.WorkflowCompressPDF:
		msg, err := s.each(inputs, func(path string) (string, error) {
			return s.call(ctx, backend.CmdCompressPDF, backend.InputPayload{InputPath: path})
		})
		return backend.CmdCompressPDF, msg, err
	case catalog.WorkflowProtectPDF:
		if opts.Password == "" {
			return backend.CmdProtectPDF, "", ErrPasswordRequired
		}
		msg, err := s.each(inputs, func(path string) (string, error) {
			return s.call(ctx, backend.CmdProtectPDF, backend.ProtectPayload{
				InputPath:     path,
				Password:      opts.Password,
				UserPassword:  opts.Password,
				OwnerPassword: opts.OwnerPassword,
			})
		})
		return backend.CmdProtectPDF, msg, err
	case catalog.WorkflowPDFToImage:
		format, err := imageFormat(opts.Format)
		if err != nil {
			return backend.CmdPDFToImage, "", err
		}
		msg, err := s.each(inputs, func(path string) (string, error) {
			return s.callAndWait(ctx, backend.CmdPDFToImage,
				backend.PDFToImagePayload{InputPath: path, Format: format},
				backend.EventPDFToImage, backend.EventPDFToImageError)
		})
		return backend.CmdPDFToImage, msg, err
	case catalog.WorkflowImageToPDF:
		if len(inputs) == 1 {
			name := opts.FileName
			if name == "" {
				name = s.displayName(plan.Instructions[0].SourceID)
			}
			msg, err := s.callAndWait(ctx, backend.CmdImageToPDF,
				backend.ImageToPDFPayload{InputPath: inputs[0], FileName: name},
				backend.EventImageToPDFDone, backend.EventImageToPDFError)
			return backend.CmdImageToPDF, msg, err
		}
		name := opts.FileName
		if name == "" {
			name = defaultMergedImagesName
		}
		msg, err := s.call(ctx, backend.CmdConvertImagesToPDF, backend.ImagesToPDFPayload{InputPaths: inputs, FileName: name})
		return backend.CmdConvertImagesToPDF, msg, err
	case catalog.WorkflowResizeImage:
		if err := validateResize(opts); err != nil {
			return backend.CmdResizeImage, "", err
		}
		msg, err := s.each(inputs, func(path string) (string, error) {
			return s.call(ctx, backend.CmdResizeImage, backend.ResizeImagePayload{
				InputPath:  path,
				Width:      opts.Width,
				Height:     opts.Height,
				Percentage: opts.Percentage,
			})
		})
		return backend.CmdResizeImage, msg, err
	case catalog.WorkflowCompressImage:
		mode, err := compressionMode(opts)
		if err != nil {
			return backend.CmdCompressImage, "", err
		}
		msg, err := s.each(inputs, func(path string) (string, error) {
			return s.call(ctx, backend.CmdCompressImage, backend.CompressImagePayload{
				InputPath:  path,
				TargetSize: opts.TargetSize,
				Mode:       mode,
			})
		})
		return backend.CmdCompressImage, msg, err
	}
	return "", "", fmt.Errorf("%w: %s", ErrUnsupportedTool, s.Tool.Workflow)
}

func (s *Session) displayName(sourceID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if src, ok := s.reg.Get(sourceID); ok {
		return src.DisplayName
	}
	return sourceID
}

// each runs fn per input and joins the engine messages. It stops at the first
// failure.
func (s *Session) each(inputs []string, fn func(string) (string, error)) (string, error) {
	msgs := make([]string, 0, len(inputs))
	for _, path := range inputs {
		msg, err := fn(path)
		if err != nil {
			return strings.Join(msgs, "\n"), err
		}
		if msg != "" {
			msgs = append(msgs, msg)
		}
	}
	return strings.Join(msgs, "\n"), nil
}

func (s *Session) call(ctx context.Context, method string, params any) (string, error) {
	var raw json.RawMessage
	if err := s.backend.Call(ctx, method, params, &raw); err != nil {
		return "", err
	}
	return backend.Status(raw)
}

// signalSlots holds one slot per completion signal. The engine's signals carry
// no invocation id, so at most one invocation per signal may be waiting, across
// every session in the process.
var signalSlots sync.Map

func signalSlot(name string) chan struct{} {
	slot, _ := signalSlots.LoadOrStore(name, make(chan struct{}, 1))
	return slot.(chan struct{})
}

// callAndWait is for commands that finish with a completion signal instead of a
// result. The subscription is taken before the call so a fast signal is not
// missed, and dropped on return so signals never pile up across runs.
func (s *Session) callAndWait(ctx context.Context, method string, params any, done, failed string) (string, error) {
	slot := signalSlot(done)
	select {
	case slot <- struct{}{}:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	defer func() { <-slot }()

	events, unsubscribe := s.backend.Subscribe(done, failed)
	defer unsubscribe()

	if _, err := s.call(ctx, method, params); err != nil {
		return "", err
	}
	select {
	case ev, ok := <-events:
		if !ok {
			return "", backend.ErrUnavailable
		}
		if ev.Name == failed {
			return "", &backend.RemoteError{Message: ev.Payload}
		}
		return ev.Payload, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func imageFormat(format string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "png":
		return "png", nil
	case "jpg", "jpeg":
		return "jpg", nil
	}
	return "", fmt.Errorf("%w: unknown image format %q", ErrInvalidOptions, format)
}

func validateResize(opts RunOptions) error {
	if opts.Percentage != nil {
		if *opts.Percentage <= 0 {
			return fmt.Errorf("%w: percentage must be positive", ErrInvalidOptions)
		}
		return nil
	}
	if opts.Width == nil && opts.Height == nil {
		return fmt.Errorf("%w: width, height or percentage is required", ErrInvalidOptions)
	}
	if (opts.Width != nil && *opts.Width <= 0) || (opts.Height != nil && *opts.Height <= 0) {
		return fmt.Errorf("%w: dimensions must be positive", ErrInvalidOptions)
	}
	return nil
}

func compressionMode(opts RunOptions) (string, error) {
	mode := strings.ToLower(strings.TrimSpace(opts.Mode))
	switch mode {
	case "":
		mode = "lossy"
	case "lossy", "lossless":
	default:
		return "", fmt.Errorf("%w: unknown compression mode %q", ErrInvalidOptions, opts.Mode)
	}
	if opts.TargetSize != nil && *opts.TargetSize <= 0 {
		return "", fmt.Errorf("%w: target size must be positive", ErrInvalidOptions)
	}
	return mode, nil
}
