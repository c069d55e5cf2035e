package domain

import (
	"testing"
)

func TestSessionStatusForwardTransitions(t *testing.T) {
	path := []SessionStatus{
		SessionStatusPending,
		SessionStatusAnalyzing,
		SessionStatusMapping,
		SessionStatusPreviewing,
		SessionStatusPreviewing,
		SessionStatusExecuting,
		SessionStatusCompleted,
	}
	for i := 0; i < len(path)-1; i++ {
		if !path[i].CanTransition(path[i+1]) {
			t.Fatalf("expected %s -> %s to be allowed", path[i], path[i+1])
		}
	}
}

func TestSessionStatusBackwardToMappingOnlyFromPreviewing(t *testing.T) {
	if !SessionStatusPreviewing.CanTransition(SessionStatusMapping) {
		t.Fatalf("expected previewing -> mapping to be allowed")
	}
	if SessionStatusExecuting.CanTransition(SessionStatusMapping) {
		t.Fatalf("did not expect executing -> mapping")
	}
	if SessionStatusMapping.CanTransition(SessionStatusExecuting) {
		t.Fatalf("did not expect mapping -> executing")
	}
}

func TestSessionStatusFailureAndTerminalStates(t *testing.T) {
	for _, status := range []SessionStatus{
		SessionStatusPending, SessionStatusAnalyzing, SessionStatusMapping,
		SessionStatusPreviewing, SessionStatusExecuting,
	} {
		if !status.CanTransition(SessionStatusFailed) {
			t.Fatalf("expected %s -> failed to be allowed", status)
		}
	}
	for _, terminal := range []SessionStatus{SessionStatusCompleted, SessionStatusFailed} {
		if !terminal.IsTerminal() {
			t.Fatalf("expected %s to be terminal", terminal)
		}
		if terminal.CanTransition(SessionStatusFailed) || terminal.CanTransition(SessionStatusMapping) {
			t.Fatalf("terminal status %s must not transition", terminal)
		}
	}
}

func TestTransitionSources(t *testing.T) {
	sources := TransitionSources(SessionStatusExecuting)
	if len(sources) != 1 || sources[0] != SessionStatusPreviewing {
		t.Fatalf("unexpected sources for executing: %v", sources)
	}
	if got := len(TransitionSources(SessionStatusFailed)); got != 5 {
		t.Fatalf("expected 5 sources for failed, got %d", got)
	}
}

func TestParseMatchKey(t *testing.T) {
	kind, row, err := ParseMatchKey(MatchKey(MatchKindSmart, 12))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if kind != MatchKindSmart || row != 12 {
		t.Fatalf("unexpected parse result %s %d", kind, row)
	}

	for _, bad := range []string{"12", "other:1", "existing:x", "in_file:0"} {
		if _, _, err := ParseMatchKey(bad); err == nil {
			t.Fatalf("expected %q to be rejected", bad)
		}
	}
}

func TestNormalizedLeadPatchOnlyOverwritesPresentFields(t *testing.T) {
	phone := "555-0100"
	existingSource := "webinar"
	existing := Lead{ID: 7, FullName: "Ada L", Email: "ada@x.com", Source: &existingSource, Status: LeadStatusQualified}

	updated := NormalizedLead{FullName: "Ada Lovelace", Email: "ada@x.com", Phone: &phone}.Patch().Apply(existing)

	if updated.FullName != "Ada Lovelace" {
		t.Fatalf("expected name to be overwritten, got %q", updated.FullName)
	}
	if updated.Phone == nil || *updated.Phone != phone {
		t.Fatalf("expected phone to be set")
	}
	if updated.Source == nil || *updated.Source != "webinar" {
		t.Fatalf("expected source to be preserved")
	}
	if updated.Status != LeadStatusQualified {
		t.Fatalf("expected status to be preserved, got %s", updated.Status)
	}
}
