package domain

import "testing"

func TestTokenUsageMerge(t *testing.T) {
	var u TokenUsage

	u.Merge(TokenUsage{InputTokens: 10, OutputTokens: 20, TotalTokens: 30})
	if u.TotalTokens != 30 {
		t.Fatalf("after first merge: %+v", u)
	}

	// A stale snapshot must not roll any counter back.
	u.Merge(TokenUsage{InputTokens: 5, OutputTokens: 15, TotalTokens: 20})
	if u.InputTokens != 10 || u.OutputTokens != 20 || u.TotalTokens != 30 {
		t.Errorf("stale merge decremented counters: %+v", u)
	}

	u.Merge(TokenUsage{InputTokens: 10, OutputTokens: 50})
	if u.OutputTokens != 50 {
		t.Errorf("OutputTokens = %d, want 50", u.OutputTokens)
	}
	// Total is reconciled so it never undercounts the parts.
	if u.TotalTokens != 60 {
		t.Errorf("TotalTokens = %d, want 60", u.TotalTokens)
	}
}

func TestStatusTerminal(t *testing.T) {
	terminal := map[Status]bool{
		StatusPending:      false,
		StatusStreaming:    false,
		StatusReconnecting: false,
		StatusCompleted:    true,
		StatusFailed:       true,
		StatusCancelled:    true,
	}
	for status, want := range terminal {
		if got := status.Terminal(); got != want {
			t.Errorf("%s.Terminal() = %v, want %v", status, got, want)
		}
	}
}
