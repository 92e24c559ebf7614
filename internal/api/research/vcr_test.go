package research

import (
	"context"
	"testing"

	"github.com/tjfontaine/deep-probe/internal/testutil"
)

func TestGetInteractionVCR(t *testing.T) {
	r, cleanup := testutil.NewVCRRecorder(t, "get_interaction")
	defer cleanup()

	client := NewClient("test-key", WithHTTPClient(testutil.VCRHTTPClient(r)))

	got, err := client.GetInteraction(context.Background(), "int_vcr")
	if err != nil {
		t.Fatalf("GetInteraction() error = %v", err)
	}
	if got.ID != "int_vcr" || got.Status != InteractionStatusCompleted {
		t.Errorf("interaction = %+v", got)
	}
	if len(got.Outputs) != 1 || got.Outputs[0].Text != "Recorded research report." {
		t.Errorf("outputs = %+v", got.Outputs)
	}
	if got.Usage == nil || got.Usage.TotalTokens != 60 {
		t.Errorf("usage = %+v", got.Usage)
	}
}
