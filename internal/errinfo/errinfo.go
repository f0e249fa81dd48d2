package errinfo

// ErrorInfo is the structured error data attached to every failed RPC response.
type ErrorInfo struct {
	ErrorCode string   `json:"error_code"`
	Phase     string   `json:"phase,omitempty"`
	Subphase  string   `json:"subphase,omitempty"`
	Retryable bool     `json:"retryable"`
	Actions   []string `json:"actions,omitempty"`
	SessionID string   `json:"session_id,omitempty"`
	ToolID    string   `json:"tool_id,omitempty"`
	SourceID  string   `json:"source_id,omitempty"`
	Detail    string   `json:"detail,omitempty"`
}

const (
	CodeValidationFailed   = "VALIDATION_FAILED"
	CodeSessionNotFound    = "SESSION_NOT_FOUND"
	CodeToolNotFound       = "TOOL_NOT_FOUND"
	CodeUnreadableSource   = "UNREADABLE_SOURCE"
	CodePasswordRequired   = "PASSWORD_REQUIRED"
	CodeInvalidPassword    = "INVALID_PASSWORD"
	CodeInvalidReorder     = "INVALID_REORDER"
	CodeEmptySelection     = "EMPTY_SELECTION"
	CodeNothingStaged      = "NOTHING_STAGED"
	CodeNoPendingRequest   = "NO_PENDING_REQUEST"
	CodeEngineFailure      = "ENGINE_FAILURE"
	CodeEngineUnavailable  = "ENGINE_UNAVAILABLE"
	CodeFileReadFailed     = "FILE_READ_FAILED"
	CodeFileWriteFailed    = "FILE_WRITE_FAILED"
	CodeUserCanceled       = "USER_CANCELED"
	CodeRunInProgress      = "RUN_IN_PROGRESS"
	CodePreviewUnavailable = "PREVIEW_UNAVAILABLE"
)

const (
	ActionRetry       = "retry"
	ActionAddFiles    = "add_files"
	ActionSelectPages = "select_pages"
	ActionClear       = "clear"
)

const (
	PhaseSession     = "session"
	PhaseUnlock      = "unlock"
	PhaseRun         = "run"
	PhaseCatalog     = "catalog"
	PhasePreferences = "preferences"
)

const (
	SubphaseAddSources = "add_sources"
	SubphaseReorder    = "reorder"
	SubphaseCompile    = "compile"
	SubphaseEngine     = "engine"
	SubphaseDecrypt    = "decrypt"
	SubphasePreview    = "preview"
)

func ValidationFailed(phase, detail string) *ErrorInfo {
	return &ErrorInfo{
		ErrorCode: CodeValidationFailed,
		Phase:     phase,
		Retryable: false,
		Detail:    detail,
	}
}

func SessionNotFound(sessionID string) *ErrorInfo {
	return &ErrorInfo{
		ErrorCode: CodeSessionNotFound,
		Phase:     PhaseSession,
		Retryable: false,
		SessionID: sessionID,
	}
}

func ToolNotFound(toolID string) *ErrorInfo {
	return &ErrorInfo{
		ErrorCode: CodeToolNotFound,
		Phase:     PhaseCatalog,
		Retryable: false,
		ToolID:    toolID,
	}
}

func UnreadableSource(phase, detail string) *ErrorInfo {
	return &ErrorInfo{
		ErrorCode: CodeUnreadableSource,
		Phase:     phase,
		Subphase:  SubphaseAddSources,
		Retryable: false,
		Detail:    detail,
	}
}

func InvalidPassword(detail string) *ErrorInfo {
	return &ErrorInfo{
		ErrorCode: CodeInvalidPassword,
		Phase:     PhaseSession,
		Subphase:  SubphaseDecrypt,
		Retryable: false,
		Actions:   []string{ActionAddFiles},
		Detail:    detail,
	}
}

func InvalidReorder(detail string) *ErrorInfo {
	return &ErrorInfo{
		ErrorCode: CodeInvalidReorder,
		Phase:     PhaseSession,
		Subphase:  SubphaseReorder,
		Retryable: false,
		Detail:    detail,
	}
}

// EmptySelection is a user-correctable state rather than a processing error.
func EmptySelection(sessionID string) *ErrorInfo {
	return &ErrorInfo{
		ErrorCode: CodeEmptySelection,
		Phase:     PhaseRun,
		Subphase:  SubphaseCompile,
		Retryable: false,
		Actions:   []string{ActionSelectPages},
		SessionID: sessionID,
	}
}

func NothingStaged(sessionID string) *ErrorInfo {
	return &ErrorInfo{
		ErrorCode: CodeNothingStaged,
		Phase:     PhaseRun,
		Retryable: false,
		Actions:   []string{ActionAddFiles},
		SessionID: sessionID,
	}
}

func NoPendingRequest(detail string) *ErrorInfo {
	return &ErrorInfo{
		ErrorCode: CodeNoPendingRequest,
		Phase:     PhaseUnlock,
		Retryable: false,
		Detail:    detail,
	}
}

// EngineFailure carries the backend message verbatim. Local state is left as is so
// the user decides when to clear.
func EngineFailure(detail string) *ErrorInfo {
	return &ErrorInfo{
		ErrorCode: CodeEngineFailure,
		Phase:     PhaseRun,
		Subphase:  SubphaseEngine,
		Retryable: false,
		Actions:   []string{ActionClear},
		Detail:    detail,
	}
}

func EngineUnavailable(phase, detail string) *ErrorInfo {
	return &ErrorInfo{
		ErrorCode: CodeEngineUnavailable,
		Phase:     phase,
		Retryable: true,
		Actions:   []string{ActionRetry},
		Detail:    detail,
	}
}

func UserCanceled(phase, detail string) *ErrorInfo {
	return &ErrorInfo{
		ErrorCode: CodeUserCanceled,
		Phase:     phase,
		Retryable: false,
		Detail:    detail,
	}
}

func RunInProgress(sessionID string) *ErrorInfo {
	return &ErrorInfo{
		ErrorCode: CodeRunInProgress,
		Phase:     PhaseRun,
		Retryable: true,
		Actions:   []string{ActionRetry},
		SessionID: sessionID,
	}
}

func FileReadFailed(phase, detail string) *ErrorInfo {
	return &ErrorInfo{
		ErrorCode: CodeFileReadFailed,
		Phase:     phase,
		Retryable: false,
		Detail:    detail,
	}
}

func FileWriteFailed(phase, detail string) *ErrorInfo {
	return &ErrorInfo{
		ErrorCode: CodeFileWriteFailed,
		Phase:     phase,
		Retryable: false,
		Detail:    detail,
	}
}

func PreviewUnavailable(sourceID string) *ErrorInfo {
	return &ErrorInfo{
		ErrorCode: CodePreviewUnavailable,
		Phase:     PhaseSession,
		Subphase:  SubphasePreview,
		Retryable: false,
		SourceID:  sourceID,
	}
}
