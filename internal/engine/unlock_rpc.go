package engine

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/soamn/slicePDF/internal/errinfo"
	"github.com/soamn/slicePDF/internal/unlock"
)

func (e *Engine) UnlockGetState(ctx context.Context, _ json.RawMessage) (any, *errinfo.ErrorInfo) {
	result := map[string]any{"state": e.negotiator.State()}
	if prompt, ok := e.negotiator.Pending(); ok {
		result["prompt"] = prompt
	}
	return result, nil
}

func (e *Engine) UnlockSubmit(ctx context.Context, params json.RawMessage) (any, *errinfo.ErrorInfo) {
	var req struct {
		RequestID string `json:"request_id"`
		Password  string `json:"password"`
	}
	if err := json.Unmarshal(params, &req); err != nil {
		return nil, errinfo.ValidationFailed(errinfo.PhaseUnlock, "invalid params")
	}
	if err := e.negotiator.Submit(req.RequestID, req.Password); err != nil {
		return nil, unlockError(err)
	}
	return map[string]any{}, nil
}

func (e *Engine) UnlockCancel(ctx context.Context, params json.RawMessage) (any, *errinfo.ErrorInfo) {
	var req struct {
		RequestID string `json:"request_id"`
	}
	if len(params) > 0 {
		if err := json.Unmarshal(params, &req); err != nil {
			return nil, errinfo.ValidationFailed(errinfo.PhaseUnlock, "invalid params")
		}
	}
	if err := e.negotiator.Cancel(req.RequestID); err != nil {
		return nil, unlockError(err)
	}
	return map[string]any{}, nil
}

func unlockError(err error) *errinfo.ErrorInfo {
	if errors.Is(err, unlock.ErrEmptyPassword) {
		return errinfo.ValidationFailed(errinfo.PhaseUnlock, err.Error())
	}
	return errinfo.NoPendingRequest(err.Error())
}
