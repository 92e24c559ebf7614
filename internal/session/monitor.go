package session

import "time"

// stallTimer tracks inter-event gaps while a stream is active. When no
// event of any kind arrives within the window, its channel fires and the
// orchestrator treats the silence as a network failure. The window is a
// liveness heuristic, not a task deadline: keep-alive pings reset it, so
// legitimate long thinking phases do not trip it as long as the server
// keeps the connection alive.
type stallTimer struct {
	window time.Duration
	timer  *time.Timer
}

func newStallTimer(window time.Duration) *stallTimer {
	return &stallTimer{window: window, timer: time.NewTimer(window)}
}

// C fires when the liveness window elapses with no Touch.
func (s *stallTimer) C() <-chan time.Time {
	return s.timer.C
}

// Touch resets the window. Call on every received event.
func (s *stallTimer) Touch() {
	if !s.timer.Stop() {
		select {
		case <-s.timer.C:
		default:
		}
	}
	s.timer.Reset(s.window)
}

// Stop releases the timer.
func (s *stallTimer) Stop() {
	s.timer.Stop()
}
