package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tjfontaine/deep-probe/internal/domain"
)

// Transport is the session's view of the remote research service: an
// opaque, one-shot, forward-only event stream keyed by interaction ID.
type Transport interface {
	// Open starts a fresh stream for topic, or resumes interactionID when
	// it is non-empty. The channel closes when the stream ends; a close
	// without a terminal event means the connection dropped.
	Open(ctx context.Context, topic, interactionID, lastEventID string) (<-chan domain.Event, error)

	// Snapshot retrieves the current non-streaming state of an interaction.
	Snapshot(ctx context.Context, interactionID string) (*domain.Result, error)
}

// TokenEstimator approximates token counts for report text when the stream
// ended without a usage event.
type TokenEstimator interface {
	EstimateTokens(text string) (int, error)
}

// Handlers are optional caller-supplied callbacks invoked as events are
// aggregated. They are called from the session's own goroutine, in receipt
// order, and must not block.
type Handlers struct {
	OnText     func(text string)
	OnThought  func(thought string)
	OnCitation func(citation domain.Citation)
}

// Config controls the session's resilience behavior.
type Config struct {
	// Backoff is the per-kind retry policy.
	Backoff BackoffPolicy

	// LivenessWindow is how long the stream may go silent before the
	// session forces a reconnect.
	LivenessWindow time.Duration

	// TotalTimeout is the overall ceiling for one session, reconnects
	// included. Exceeding it is fatal, not retried.
	TotalTimeout time.Duration
}

// DefaultConfig returns the documented default session configuration.
func DefaultConfig() Config {
	return Config{
		Backoff:        DefaultBackoffPolicy(),
		LivenessWindow: 120 * time.Second,
		TotalTimeout:   60 * time.Minute,
	}
}

// Option configures a Session.
type Option func(*Session)

// WithLogger sets the session logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Session) {
		s.log = logger
	}
}

// WithHandlers sets progress callbacks.
func WithHandlers(h Handlers) Option {
	return func(s *Session) {
		s.handlers = h
	}
}

// WithEstimator sets the fallback token estimator.
func WithEstimator(e TokenEstimator) Option {
	return func(s *Session) {
		s.estimator = e
	}
}

// Session owns the state of one research call for its whole lifetime,
// including every internal reconnect. It is not safe for concurrent use;
// run independent sessions for concurrent research.
type Session struct {
	transport Transport
	cfg       Config
	log       *slog.Logger
	handlers  Handlers
	estimator TokenEstimator
	tracer    trace.Tracer

	// sleep is the backoff delay primitive, injectable for tests.
	sleep func(ctx context.Context, d time.Duration) error

	status        domain.Status
	interactionID string
	lastEventID   string
	textParts     []string
	thoughts      []domain.Thought
	citations     []domain.Citation
	citeSeen      map[string]struct{}
	usage         domain.TokenUsage
	attempts      map[domain.ErrorKind]int
	createdAt     time.Time
}

// New creates a session over the given transport.
func New(transport Transport, cfg Config, opts ...Option) *Session {
	s := &Session{
		transport: transport,
		cfg:       cfg,
		log:       slog.Default(),
		tracer:    otel.Tracer("deep-probe/session"),
		sleep:     sleepCtx,
		status:    domain.StatusPending,
		citeSeen:  make(map[string]struct{}),
		attempts:  make(map[domain.ErrorKind]int),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	return s
}

// Status returns the session's current lifecycle state.
func (s *Session) Status() domain.Status {
	return s.status
}

// InteractionID returns the server-assigned identifier, if one was assigned.
func (s *Session) InteractionID() string {
	return s.interactionID
}

// Run drives the session to a terminal state. topic starts fresh research;
// a non-empty resumeID resumes an existing interaction instead. Exactly one
// of the return values is non-nil: a complete Result, or a *domain.ProbeError
// carrying the interaction ID and partial state.
func (s *Session) Run(ctx context.Context, topic, resumeID string) (*domain.Result, error) {
	s.createdAt = time.Now()
	s.interactionID = resumeID

	ctx, span := s.tracer.Start(ctx, "research.session",
		trace.WithAttributes(attribute.Bool("resume", resumeID != "")))
	defer span.End()

	runCtx, cancel := context.WithTimeout(ctx, s.cfg.TotalTimeout)
	defer cancel()

	// Resuming an interaction the server already finished needs no stream:
	// the snapshot is the result, and re-running it would duplicate content.
	if resumeID != "" {
		res, err := s.resumeFromSnapshot(runCtx, resumeID)
		if res != nil || err != nil {
			return res, err
		}
	}

	for attempt := 1; ; attempt++ {
		// Each attempt gets its own child context so a reconnect tears the
		// old connection down instead of leaving a stalled-but-alive stream
		// draining for the rest of the session.
		streamCtx, cancelStream := context.WithCancel(runCtx)

		events, err := s.openStream(streamCtx, topic, attempt)
		if err != nil {
			cancelStream()
			if terminal := s.handleFailure(runCtx, err); terminal != nil {
				return nil, terminal
			}
			continue
		}

		s.status = domain.StatusStreaming
		failure, completed := s.consume(streamCtx, events)
		cancelStream()
		if completed {
			return s.finalize(), nil
		}
		if terminal := s.handleFailure(runCtx, failure); terminal != nil {
			return nil, terminal
		}
	}
}

func (s *Session) openStream(ctx context.Context, topic string, attempt int) (<-chan domain.Event, error) {
	_, span := s.tracer.Start(ctx, "research.open_stream",
		trace.WithAttributes(
			attribute.Int("attempt", attempt),
			attribute.Bool("resume", s.interactionID != ""),
		))
	defer span.End()

	if err := ctx.Err(); err != nil {
		return nil, s.ctxError(ctx)
	}
	return s.transport.Open(ctx, topic, s.interactionID, s.lastEventID)
}

// resumeFromSnapshot checks whether the interaction already reached a
// terminal state server-side. Both return values nil means the snapshot
// did not settle the call and the session should stream.
func (s *Session) resumeFromSnapshot(ctx context.Context, resumeID string) (*domain.Result, error) {
	snap, err := s.transport.Snapshot(ctx, resumeID)
	if err != nil {
		var perr *domain.ProbeError
		if errors.As(err, &perr) && !perr.Retriable() {
			return nil, s.fail(perr)
		}
		// Transient snapshot failures are not worth a retry cycle of their
		// own; the streaming path below has the full reconnect machinery.
		s.log.Warn("resume snapshot failed, falling back to stream",
			slog.String("interaction_id", resumeID),
			slog.String("error", err.Error()))
		return nil, nil
	}

	switch snap.Status {
	case domain.StatusCompleted:
		s.status = domain.StatusCompleted
		return snap, nil
	case domain.StatusFailed:
		return nil, s.fail(domain.ErrAPI("research failed server-side"))
	case domain.StatusCancelled:
		return nil, s.fail(domain.ErrCancelled("research was cancelled server-side"))
	default:
		return nil, nil
	}
}

// consume reads the stream until completion, a failure, a stall, or
// cancellation. It returns either a failure to classify or completed=true.
func (s *Session) consume(ctx context.Context, events <-chan domain.Event) (failure error, completed bool) {
	stall := newStallTimer(s.cfg.LivenessWindow)
	defer stall.Stop()
	defer drain(events)

	for {
		select {
		case <-ctx.Done():
			return s.ctxError(ctx), false

		case ev, ok := <-events:
			if !ok {
				// Unexpected termination is indistinguishable from a
				// dropped connection.
				return domain.ErrNetwork("stream terminated without a completion event"), false
			}
			stall.Touch()
			done, err := s.apply(ev)
			if err != nil {
				return err, false
			}
			if done {
				return nil, true
			}

		case <-stall.C():
			return domain.ErrNetwork(fmt.Sprintf("no events received for %s, forcing reconnect", s.cfg.LivenessWindow)), false
		}
	}
}

// apply folds one event into session state. Receiving a real event forgives
// prior failures: a brief resumption proves the connection works, so
// unrelated later failures start from attempt one again. An in-band error
// event is a failure report, not progress, and leaves the counters alone.
func (s *Session) apply(ev domain.Event) (completed bool, failure error) {
	if ev.Type != domain.EventError {
		clear(s.attempts)
	}
	if ev.ID != "" {
		s.lastEventID = ev.ID
	}

	switch ev.Type {
	case domain.EventInteractionAssigned:
		if s.interactionID == "" {
			s.interactionID = ev.InteractionID
			s.log.Info("interaction assigned", slog.String("interaction_id", ev.InteractionID))
		}

	case domain.EventTextDelta:
		s.textParts = append(s.textParts, ev.Text)
		if s.handlers.OnText != nil {
			s.handlers.OnText(ev.Text)
		}

	case domain.EventThoughtDelta:
		thought := domain.Thought{Timestamp: time.Now(), Content: ev.Thought, Phase: "thinking"}
		s.thoughts = append(s.thoughts, thought)
		if s.handlers.OnThought != nil {
			s.handlers.OnThought(ev.Thought)
		}

	case domain.EventCitation:
		if ev.Citation == nil {
			break
		}
		if _, seen := s.citeSeen[ev.Citation.URL]; seen {
			break
		}
		s.citeSeen[ev.Citation.URL] = struct{}{}
		s.citations = append(s.citations, *ev.Citation)
		if s.handlers.OnCitation != nil {
			s.handlers.OnCitation(*ev.Citation)
		}

	case domain.EventUsageUpdate:
		if ev.Usage != nil {
			s.usage.Merge(*ev.Usage)
		}

	case domain.EventCompleted:
		return true, nil

	case domain.EventError:
		if ev.Err != nil {
			return false, ev.Err
		}
		return false, domain.ErrNetwork("stream reported an error with no detail")

	case domain.EventPing, domain.EventUnknown:
		// Liveness only.
	}

	return false, nil
}

// handleFailure classifies a failure and either absorbs it (sleeps the
// backoff delay and returns nil so the caller reconnects) or returns the
// terminal error.
func (s *Session) handleFailure(ctx context.Context, err error) error {
	var perr *domain.ProbeError
	if !errors.As(err, &perr) {
		perr = domain.ErrNetwork(err.Error()).WithCause(err)
	}

	if !perr.Retriable() {
		return s.fail(perr)
	}

	s.status = domain.StatusReconnecting
	s.attempts[perr.Kind]++
	attempt := s.attempts[perr.Kind]

	decision := s.cfg.Backoff.Next(perr.Kind, attempt, perr.RetryAfter)
	if !decision.Retry {
		s.log.Error("giving up",
			slog.String("kind", string(perr.Kind)),
			slog.Int("attempts", attempt),
			slog.String("reason", decision.Reason))
		return s.fail(perr)
	}

	s.log.Warn("reconnecting after failure",
		slog.String("kind", string(perr.Kind)),
		slog.Int("attempt", attempt),
		slog.Duration("delay", decision.Delay),
		slog.String("interaction_id", s.interactionID))

	if err := s.sleep(ctx, decision.Delay); err != nil {
		return s.fail(s.ctxError(ctx))
	}
	return nil
}

// fail transitions to the terminal failure state and decorates the error
// with everything the caller needs to resume: the interaction ID and the
// partial accumulated state.
func (s *Session) fail(perr *domain.ProbeError) error {
	if perr.Kind == domain.ErrorKindCancelled {
		s.status = domain.StatusCancelled
	} else {
		s.status = domain.StatusFailed
	}
	if perr.InteractionID == "" {
		perr.InteractionID = s.interactionID
	}
	return perr.WithPartial(s.snapshotResult(s.status))
}

// finalize constructs the immutable Result. Called exactly once, on clean
// completion.
func (s *Session) finalize() *domain.Result {
	s.status = domain.StatusCompleted
	result := s.snapshotResult(domain.StatusCompleted)

	if result.Usage.TotalTokens == 0 && s.estimator != nil && result.Report != "" {
		if n, err := s.estimator.EstimateTokens(result.Report); err == nil {
			result.Usage.OutputTokens = n
			result.Usage.TotalTokens = n
			result.Usage.Estimated = true
		}
	}
	return result
}

func (s *Session) snapshotResult(status domain.Status) *domain.Result {
	return &domain.Result{
		Report:        strings.Join(s.textParts, ""),
		Sources:       append([]domain.Citation(nil), s.citations...),
		Thoughts:      append([]domain.Thought(nil), s.thoughts...),
		Usage:         s.usage,
		InteractionID: s.interactionID,
		Status:        status,
		CreatedAt:     s.createdAt,
		CompletedAt:   time.Now(),
	}
}

// ctxError classifies context termination: caller cancellation versus the
// overall session ceiling.
func (s *Session) ctxError(ctx context.Context) *domain.ProbeError {
	if errors.Is(context.Cause(ctx), context.Canceled) {
		return domain.ErrCancelled("research cancelled by caller")
	}
	return domain.ErrTimeout(fmt.Sprintf("research exceeded the %s ceiling", s.cfg.TotalTimeout))
}

// sleepCtx waits for d or until ctx is done, whichever comes first.
func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// drain discards buffered events so the transport's reader goroutine can
// finish after the session stops listening.
func drain(events <-chan domain.Event) {
	go func() {
		for range events {
		}
	}()
}
