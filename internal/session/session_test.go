package session

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/tjfontaine/deep-probe/internal/domain"
)

// scriptedStream describes one Open call: an error to fail the dial, or a
// sequence of events followed by a channel close. A stream whose events do
// not end in a terminal event looks like a dropped connection. hang keeps
// the channel open after the events until the context is done.
type scriptedStream struct {
	dialErr error
	events  []domain.Event
	hang    bool
}

type openCall struct {
	topic         string
	interactionID string
	lastEventID   string
}

type fakeTransport struct {
	streams []scriptedStream
	opens   []openCall

	// ctxs holds the context of each dial; priorStreamDone records, per
	// dial after the first, whether the previous dial's context was already
	// cancelled when the new one arrived.
	ctxs            []context.Context
	priorStreamDone []bool

	snapshot      *domain.Result
	snapshotErr   error
	snapshotCalls int
}

func (f *fakeTransport) Open(ctx context.Context, topic, interactionID, lastEventID string) (<-chan domain.Event, error) {
	f.opens = append(f.opens, openCall{topic, interactionID, lastEventID})
	if n := len(f.ctxs); n > 0 {
		f.priorStreamDone = append(f.priorStreamDone, f.ctxs[n-1].Err() != nil)
	}
	f.ctxs = append(f.ctxs, ctx)
	if len(f.streams) == 0 {
		return nil, domain.ErrNetwork("no more scripted streams")
	}
	stream := f.streams[0]
	f.streams = f.streams[1:]

	if stream.dialErr != nil {
		return nil, stream.dialErr
	}

	ch := make(chan domain.Event)
	go func() {
		defer close(ch)
		for _, ev := range stream.events {
			select {
			case ch <- ev:
			case <-ctx.Done():
				return
			}
		}
		if stream.hang {
			<-ctx.Done()
		}
	}()
	return ch, nil
}

func (f *fakeTransport) Snapshot(ctx context.Context, interactionID string) (*domain.Result, error) {
	f.snapshotCalls++
	if f.snapshotErr != nil {
		return nil, f.snapshotErr
	}
	if f.snapshot != nil {
		return f.snapshot, nil
	}
	return &domain.Result{InteractionID: interactionID, Status: domain.StatusStreaming}, nil
}

// newTestSession builds a session with an instant, recording sleep so the
// backoff schedule can be asserted without waiting it out.
func newTestSession(transport Transport, cfg Config, delays *[]time.Duration, opts ...Option) *Session {
	s := New(transport, cfg, opts...)
	s.sleep = func(ctx context.Context, d time.Duration) error {
		*delays = append(*delays, d)
		return ctx.Err()
	}
	return s
}

func assigned(id string) domain.Event {
	return domain.Event{Type: domain.EventInteractionAssigned, InteractionID: id}
}

func text(id, s string) domain.Event {
	return domain.Event{Type: domain.EventTextDelta, ID: id, Text: s}
}

func completed() domain.Event {
	return domain.Event{Type: domain.EventCompleted}
}

func TestRunCleanCompletion(t *testing.T) {
	transport := &fakeTransport{streams: []scriptedStream{{
		events: []domain.Event{
			assigned("int_123"),
			text("ev-1", "Report "),
			{Type: domain.EventThoughtDelta, Thought: "searching the literature"},
			{Type: domain.EventCitation, Citation: &domain.Citation{URL: "https://example.com/a", Title: "A"}},
			text("ev-2", "body..."),
			{Type: domain.EventUsageUpdate, Usage: &domain.TokenUsage{InputTokens: 10, OutputTokens: 50, TotalTokens: 60}},
			completed(),
		},
	}}}

	var delays []time.Duration
	sess := newTestSession(transport, DefaultConfig(), &delays)

	result, err := sess.Run(context.Background(), "quantum computing", "")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.Report != "Report body..." {
		t.Errorf("Report = %q, want %q", result.Report, "Report body...")
	}
	if result.InteractionID != "int_123" {
		t.Errorf("InteractionID = %q, want int_123", result.InteractionID)
	}
	if result.Status != domain.StatusCompleted {
		t.Errorf("Status = %s, want %s", result.Status, domain.StatusCompleted)
	}
	if len(result.Sources) != 1 || result.Sources[0].URL != "https://example.com/a" {
		t.Errorf("Sources = %+v, want one citation", result.Sources)
	}
	if len(result.Thoughts) != 1 {
		t.Errorf("Thoughts = %d entries, want 1", len(result.Thoughts))
	}
	if result.Usage.TotalTokens != 60 || result.Usage.Estimated {
		t.Errorf("Usage = %+v, want reported total 60", result.Usage)
	}
	if len(delays) != 0 {
		t.Errorf("recorded delays %v, want none", delays)
	}
	if sess.Status() != domain.StatusCompleted {
		t.Errorf("session status = %s, want completed", sess.Status())
	}
}

func TestRunReconnectsAcrossNetworkDrops(t *testing.T) {
	transport := &fakeTransport{streams: []scriptedStream{
		{events: []domain.Event{assigned("int_123"), text("ev-1", "Report ")}},
		{events: nil}, // drops before delivering anything
		{events: []domain.Event{
			text("ev-2", "body..."),
			{Type: domain.EventCitation, Citation: &domain.Citation{URL: "https://example.com/a"}},
			completed(),
		}},
	}}

	var delays []time.Duration
	sess := newTestSession(transport, DefaultConfig(), &delays)

	result, err := sess.Run(context.Background(), "quantum computing", "")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.Report != "Report body..." {
		t.Errorf("Report = %q, want text aggregated across reconnects", result.Report)
	}
	if len(result.Sources) != 1 {
		t.Errorf("Sources = %d, want 1", len(result.Sources))
	}

	want := []time.Duration{2 * time.Second, 4 * time.Second}
	if len(delays) != len(want) || delays[0] != want[0] || delays[1] != want[1] {
		t.Errorf("backoff delays = %v, want %v", delays, want)
	}

	// The second and third dials must resume the assigned interaction from
	// the last delivered event.
	if len(transport.opens) != 3 {
		t.Fatalf("opens = %d, want 3", len(transport.opens))
	}
	if transport.opens[0].interactionID != "" {
		t.Errorf("first open should be fresh, got interaction %q", transport.opens[0].interactionID)
	}
	if transport.opens[1].interactionID != "int_123" || transport.opens[1].lastEventID != "ev-1" {
		t.Errorf("second open = %+v, want resume of int_123 from ev-1", transport.opens[1])
	}
	if transport.opens[2].lastEventID != "ev-1" {
		t.Errorf("third open lastEventID = %q, want ev-1", transport.opens[2].lastEventID)
	}
}

func TestRunResetsAttemptsAfterProgress(t *testing.T) {
	// Two drops, then a stream that delivers an event before dropping, then
	// two more drops. Without the reset the fifth drop would exhaust the
	// three-retry budget.
	transport := &fakeTransport{streams: []scriptedStream{
		{events: []domain.Event{assigned("int_123")}},
		{},
		{events: []domain.Event{text("ev-1", "part ")}},
		{},
		{},
		{events: []domain.Event{text("ev-2", "two"), completed()}},
	}}

	var delays []time.Duration
	sess := newTestSession(transport, DefaultConfig(), &delays)

	result, err := sess.Run(context.Background(), "topic", "")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.Report != "part two" {
		t.Errorf("Report = %q, want %q", result.Report, "part two")
	}

	want := []time.Duration{2 * time.Second, 4 * time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second}
	if len(delays) != len(want) {
		t.Fatalf("delays = %v, want %v", delays, want)
	}
	for i := range want {
		if delays[i] != want[i] {
			t.Errorf("delay[%d] = %s, want %s", i, delays[i], want[i])
		}
	}
}

func TestRunExhaustionCarriesPartialState(t *testing.T) {
	transport := &fakeTransport{streams: []scriptedStream{
		{events: []domain.Event{assigned("int_123"), text("ev-1", "partial text")}},
		{},
		{},
		{},
	}}

	var delays []time.Duration
	sess := newTestSession(transport, DefaultConfig(), &delays)

	result, err := sess.Run(context.Background(), "topic", "")
	if result != nil {
		t.Fatalf("Run() result = %+v, want nil on failure", result)
	}

	var perr *domain.ProbeError
	if !errors.As(err, &perr) {
		t.Fatalf("Run() error = %T, want *domain.ProbeError", err)
	}
	if perr.Kind != domain.ErrorKindNetwork {
		t.Errorf("Kind = %s, want network", perr.Kind)
	}
	if perr.InteractionID != "int_123" {
		t.Errorf("InteractionID = %q, want int_123", perr.InteractionID)
	}
	if perr.Partial == nil || perr.Partial.Report != "partial text" {
		t.Errorf("Partial = %+v, want partial report preserved", perr.Partial)
	}
	if perr.Partial.Status != domain.StatusFailed {
		t.Errorf("Partial.Status = %s, want failed", perr.Partial.Status)
	}
	if len(delays) != 3 {
		t.Errorf("delays = %v, want the full 3-retry schedule", delays)
	}
}

func TestRunRateLimitHonorsHint(t *testing.T) {
	transport := &fakeTransport{streams: []scriptedStream{
		{dialErr: domain.ErrRateLimit("throttled").WithRetryAfter(90 * time.Second)},
		{events: []domain.Event{assigned("int_1"), text("e1", "ok"), completed()}},
	}}

	var delays []time.Duration
	sess := newTestSession(transport, DefaultConfig(), &delays)

	if _, err := sess.Run(context.Background(), "topic", ""); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(delays) != 1 || delays[0] != 90*time.Second {
		t.Errorf("delays = %v, want [90s]", delays)
	}
}

func TestRunAuthErrorIsTerminal(t *testing.T) {
	transport := &fakeTransport{streams: []scriptedStream{
		{dialErr: domain.ErrAuth("invalid api key")},
	}}

	var delays []time.Duration
	sess := newTestSession(transport, DefaultConfig(), &delays)

	_, err := sess.Run(context.Background(), "topic", "")
	var perr *domain.ProbeError
	if !errors.As(err, &perr) || perr.Kind != domain.ErrorKindAuth {
		t.Fatalf("Run() error = %v, want auth failure", err)
	}
	if len(delays) != 0 {
		t.Errorf("delays = %v, auth failures must not be retried", delays)
	}
	if len(transport.opens) != 1 {
		t.Errorf("opens = %d, want 1", len(transport.opens))
	}
}

func TestRunStreamErrorEventIsClassified(t *testing.T) {
	transport := &fakeTransport{streams: []scriptedStream{
		{events: []domain.Event{
			assigned("int_1"),
			{Type: domain.EventError, Err: domain.ErrServer("overloaded")},
		}},
		{events: []domain.Event{text("e1", "recovered"), completed()}},
	}}

	var delays []time.Duration
	sess := newTestSession(transport, DefaultConfig(), &delays)

	result, err := sess.Run(context.Background(), "topic", "")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.Report != "recovered" {
		t.Errorf("Report = %q", result.Report)
	}
	if len(delays) != 1 || delays[0] != 2*time.Second {
		t.Errorf("delays = %v, want [2s] for a retriable in-band error", delays)
	}
}

func TestRunInBandErrorsExhaustRetryBudget(t *testing.T) {
	// A connection that dials fine but fails mid-read surfaces as an
	// in-band error event. That event must not reset the attempt counters,
	// or the retry budget could never be exhausted.
	errStream := scriptedStream{events: []domain.Event{
		{Type: domain.EventError, Err: domain.ErrNetwork("connection reset mid-read")},
	}}
	transport := &fakeTransport{streams: []scriptedStream{
		errStream, errStream, errStream, errStream, errStream, errStream,
	}}

	var delays []time.Duration
	sess := newTestSession(transport, DefaultConfig(), &delays)

	_, err := sess.Run(context.Background(), "topic", "")
	var perr *domain.ProbeError
	if !errors.As(err, &perr) || perr.Kind != domain.ErrorKindNetwork {
		t.Fatalf("Run() error = %v, want network failure after exhaustion", err)
	}

	want := []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second}
	if len(delays) != len(want) {
		t.Fatalf("delays = %v, want %v", delays, want)
	}
	for i := range want {
		if delays[i] != want[i] {
			t.Errorf("delay[%d] = %s, want %s", i, delays[i], want[i])
		}
	}
	if len(transport.opens) != 4 {
		t.Errorf("opens = %d, want 4 (initial dial plus 3 retries)", len(transport.opens))
	}
	if sess.Status() != domain.StatusFailed {
		t.Errorf("session status = %s, want failed", sess.Status())
	}
}

func TestRunStallForcesReconnect(t *testing.T) {
	transport := &fakeTransport{streams: []scriptedStream{
		{events: []domain.Event{assigned("int_1"), text("e1", "before stall ")}, hang: true},
		{events: []domain.Event{text("e2", "after"), completed()}},
	}}

	cfg := DefaultConfig()
	cfg.LivenessWindow = 30 * time.Millisecond

	var delays []time.Duration
	sess := newTestSession(transport, cfg, &delays)

	result, err := sess.Run(context.Background(), "topic", "")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.Report != "before stall after" {
		t.Errorf("Report = %q", result.Report)
	}
	if len(transport.opens) != 2 {
		t.Errorf("opens = %d, want reconnect after the stall", len(transport.opens))
	}
	if len(delays) != 1 {
		t.Errorf("delays = %v, want one backoff before the reconnect", delays)
	}
}

func TestRunReconnectTearsDownPreviousStream(t *testing.T) {
	// A stalled connection is still alive; the reconnect must cancel its
	// context rather than leave the old reader draining for the rest of
	// the session.
	transport := &fakeTransport{streams: []scriptedStream{
		{events: []domain.Event{assigned("int_1"), text("e1", "stuck ")}, hang: true},
		{events: []domain.Event{text("e2", "done"), completed()}},
	}}

	cfg := DefaultConfig()
	cfg.LivenessWindow = 30 * time.Millisecond

	var delays []time.Duration
	sess := newTestSession(transport, cfg, &delays)

	if _, err := sess.Run(context.Background(), "topic", ""); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(transport.priorStreamDone) != 1 {
		t.Fatalf("dials = %d, want 2", len(transport.opens))
	}
	if !transport.priorStreamDone[0] {
		t.Error("second dial happened while the stalled stream's context was still live")
	}
}

func TestRunPingKeepsStreamAlive(t *testing.T) {
	// Pings arrive inside the liveness window; the session must not force a
	// reconnect while they do.
	pings := make([]domain.Event, 6)
	for i := range pings {
		pings[i] = domain.Event{Type: domain.EventPing}
	}
	events := append([]domain.Event{assigned("int_1"), text("e1", "slow report")}, pings...)
	events = append(events, completed())

	transport := &fakeTransport{streams: []scriptedStream{{events: events}}}

	cfg := DefaultConfig()
	cfg.LivenessWindow = time.Second

	var delays []time.Duration
	sess := newTestSession(transport, cfg, &delays)

	result, err := sess.Run(context.Background(), "topic", "")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.Report != "slow report" {
		t.Errorf("Report = %q", result.Report)
	}
	if len(transport.opens) != 1 {
		t.Errorf("opens = %d, want 1", len(transport.opens))
	}
}

func TestRunCancellation(t *testing.T) {
	transport := &fakeTransport{streams: []scriptedStream{
		{events: []domain.Event{assigned("int_1"), text("e1", "partial")}, hang: true},
	}}

	ctx, cancel := context.WithCancel(context.Background())
	var delays []time.Duration
	sess := newTestSession(transport, DefaultConfig(), &delays)

	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := sess.Run(ctx, "topic", "")
	var perr *domain.ProbeError
	if !errors.As(err, &perr) {
		t.Fatalf("Run() error = %T, want *domain.ProbeError", err)
	}
	if perr.Kind != domain.ErrorKindCancelled {
		t.Errorf("Kind = %s, want cancelled", perr.Kind)
	}
	if perr.InteractionID != "int_1" {
		t.Errorf("InteractionID = %q, want int_1", perr.InteractionID)
	}
	if perr.Partial == nil || perr.Partial.Report != "partial" {
		t.Errorf("Partial = %+v, want partial text preserved", perr.Partial)
	}
	if sess.Status() != domain.StatusCancelled {
		t.Errorf("session status = %s, want cancelled", sess.Status())
	}
}

func TestRunTotalTimeout(t *testing.T) {
	transport := &fakeTransport{streams: []scriptedStream{
		{events: []domain.Event{assigned("int_1")}, hang: true},
	}}

	cfg := DefaultConfig()
	cfg.TotalTimeout = 30 * time.Millisecond

	var delays []time.Duration
	sess := newTestSession(transport, cfg, &delays)

	_, err := sess.Run(context.Background(), "topic", "")
	var perr *domain.ProbeError
	if !errors.As(err, &perr) || perr.Kind != domain.ErrorKindTimeout {
		t.Fatalf("Run() error = %v, want timeout failure", err)
	}
	if !strings.Contains(perr.Message, "30ms") {
		t.Errorf("Message = %q, want the ceiling named", perr.Message)
	}
}

func TestRunResumeCompletedInteraction(t *testing.T) {
	transport := &fakeTransport{
		snapshot: &domain.Result{
			Report:        "finished earlier",
			InteractionID: "int_done",
			Status:        domain.StatusCompleted,
		},
	}

	var delays []time.Duration
	sess := newTestSession(transport, DefaultConfig(), &delays)

	result, err := sess.Run(context.Background(), "", "int_done")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.Report != "finished earlier" {
		t.Errorf("Report = %q", result.Report)
	}
	if len(transport.opens) != 0 {
		t.Errorf("opens = %d, completed interactions must not be re-streamed", len(transport.opens))
	}
	if transport.snapshotCalls != 1 {
		t.Errorf("snapshotCalls = %d, want 1", transport.snapshotCalls)
	}
}

func TestRunResumeFailedInteraction(t *testing.T) {
	transport := &fakeTransport{
		snapshot: &domain.Result{InteractionID: "int_bad", Status: domain.StatusFailed},
	}

	var delays []time.Duration
	sess := newTestSession(transport, DefaultConfig(), &delays)

	_, err := sess.Run(context.Background(), "", "int_bad")
	var perr *domain.ProbeError
	if !errors.As(err, &perr) || perr.Kind != domain.ErrorKindAPI {
		t.Fatalf("Run() error = %v, want api failure", err)
	}
	if perr.InteractionID != "int_bad" {
		t.Errorf("InteractionID = %q, want int_bad", perr.InteractionID)
	}
}

func TestRunResumeInProgressStreams(t *testing.T) {
	transport := &fakeTransport{
		snapshot: &domain.Result{InteractionID: "int_live", Status: domain.StatusStreaming},
		streams: []scriptedStream{
			{events: []domain.Event{text("e9", "rest of report"), completed()}},
		},
	}

	var delays []time.Duration
	sess := newTestSession(transport, DefaultConfig(), &delays)

	result, err := sess.Run(context.Background(), "", "int_live")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.Report != "rest of report" {
		t.Errorf("Report = %q", result.Report)
	}
	if len(transport.opens) != 1 || transport.opens[0].interactionID != "int_live" {
		t.Errorf("opens = %+v, want one resume of int_live", transport.opens)
	}
}

func TestRunResumeSnapshotErrorFallsBackToStream(t *testing.T) {
	transport := &fakeTransport{
		snapshotErr: domain.ErrServer("snapshot unavailable"),
		streams: []scriptedStream{
			{events: []domain.Event{text("e1", "streamed anyway"), completed()}},
		},
	}

	var delays []time.Duration
	sess := newTestSession(transport, DefaultConfig(), &delays)

	result, err := sess.Run(context.Background(), "", "int_live")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.Report != "streamed anyway" {
		t.Errorf("Report = %q", result.Report)
	}
}

func TestRunCitationDedupe(t *testing.T) {
	cite := func(url string) domain.Event {
		return domain.Event{Type: domain.EventCitation, Citation: &domain.Citation{URL: url}}
	}
	transport := &fakeTransport{streams: []scriptedStream{
		{events: []domain.Event{
			assigned("int_1"),
			cite("https://example.com/a"),
			cite("https://example.com/b"),
			cite("https://example.com/a"),
			completed(),
		}},
	}}

	var delays []time.Duration
	var seen []domain.Citation
	sess := newTestSession(transport, DefaultConfig(), &delays,
		WithHandlers(Handlers{OnCitation: func(c domain.Citation) { seen = append(seen, c) }}))

	result, err := sess.Run(context.Background(), "topic", "")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(result.Sources) != 2 {
		t.Errorf("Sources = %d, want duplicates collapsed to 2", len(result.Sources))
	}
	if len(seen) != 2 {
		t.Errorf("OnCitation fired %d times, want 2", len(seen))
	}
}

func TestRunHandlersReceiveProgress(t *testing.T) {
	transport := &fakeTransport{streams: []scriptedStream{
		{events: []domain.Event{
			assigned("int_1"),
			text("e1", "hello "),
			{Type: domain.EventThoughtDelta, Thought: "considering sources"},
			text("e2", "world"),
			completed(),
		}},
	}}

	var gotText strings.Builder
	var thoughts []string

	var delays []time.Duration
	sess := newTestSession(transport, DefaultConfig(), &delays,
		WithHandlers(Handlers{
			OnText:    func(s string) { gotText.WriteString(s) },
			OnThought: func(s string) { thoughts = append(thoughts, s) },
		}))

	result, err := sess.Run(context.Background(), "topic", "")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if gotText.String() != result.Report {
		t.Errorf("OnText saw %q, result has %q", gotText.String(), result.Report)
	}
	if len(thoughts) != 1 || thoughts[0] != "considering sources" {
		t.Errorf("thoughts = %v", thoughts)
	}
}

func TestRunUsageMergeNeverDecrements(t *testing.T) {
	usage := func(in, out, total int) domain.Event {
		return domain.Event{Type: domain.EventUsageUpdate, Usage: &domain.TokenUsage{
			InputTokens: in, OutputTokens: out, TotalTokens: total,
		}}
	}
	transport := &fakeTransport{streams: []scriptedStream{
		{events: []domain.Event{
			assigned("int_1"),
			usage(10, 100, 110),
			usage(10, 40, 50), // stale update after a reconnect replay
			completed(),
		}},
	}}

	var delays []time.Duration
	sess := newTestSession(transport, DefaultConfig(), &delays)

	result, err := sess.Run(context.Background(), "topic", "")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.Usage.OutputTokens != 100 || result.Usage.TotalTokens != 110 {
		t.Errorf("Usage = %+v, counters must never decrement", result.Usage)
	}
}

type fixedEstimator struct{ n int }

func (f fixedEstimator) EstimateTokens(string) (int, error) { return f.n, nil }

func TestRunEstimatesTokensWhenServerReportsNone(t *testing.T) {
	transport := &fakeTransport{streams: []scriptedStream{
		{events: []domain.Event{assigned("int_1"), text("e1", "a report"), completed()}},
	}}

	var delays []time.Duration
	sess := newTestSession(transport, DefaultConfig(), &delays,
		WithEstimator(fixedEstimator{n: 42}))

	result, err := sess.Run(context.Background(), "topic", "")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !result.Usage.Estimated || result.Usage.TotalTokens != 42 {
		t.Errorf("Usage = %+v, want estimated total 42", result.Usage)
	}
}
