package errinfo

import "testing"

func TestEmptySelectionIsUserCorrectable(t *testing.T) {
	err := EmptySelection("s1")
	if err.ErrorCode != CodeEmptySelection {
		t.Fatalf("expected empty selection code")
	}
	if err.Retryable {
		t.Fatalf("expected empty selection to be non-retryable")
	}
	if len(err.Actions) == 0 || err.Actions[0] != ActionSelectPages {
		t.Fatalf("expected select_pages action")
	}
	if err.SessionID != "s1" {
		t.Fatalf("expected session id to be set")
	}
}

func TestEngineHelpers(t *testing.T) {
	failure := EngineFailure("qpdf exited")
	if failure.ErrorCode != CodeEngineFailure || failure.Detail != "qpdf exited" {
		t.Fatalf("expected engine failure with verbatim detail")
	}
	if failure.Retryable {
		t.Fatalf("engine failures are not retried automatically")
	}
	unavailable := EngineUnavailable(PhaseRun, "down")
	if !unavailable.Retryable || unavailable.Actions[0] != ActionRetry {
		t.Fatalf("expected unavailable to be retryable")
	}
}

func TestValidationHelpers(t *testing.T) {
	if got := InvalidPassword("bad").ErrorCode; got != CodeInvalidPassword {
		t.Fatalf("expected invalid password, got %s", got)
	}
	if got := InvalidReorder("dup").Subphase; got != SubphaseReorder {
		t.Fatalf("expected reorder subphase, got %s", got)
	}
	if got := UnreadableSource(PhaseSession, "x").ErrorCode; got != CodeUnreadableSource {
		t.Fatalf("expected unreadable source, got %s", got)
	}
	if got := SessionNotFound("s9").SessionID; got != "s9" {
		t.Fatalf("expected session id, got %s", got)
	}
}
