package target

import (
	"time"

	"github.com/termdeck/termdeck/internal/model"
)

// HealthThresholds tunes the server health state machine.
type HealthThresholds struct {
	// DownFailures is the consecutive-failure count that moves a
	// degraded server to down, counted inside DownWindow.
	DownFailures int
	DownWindow   time.Duration
	// RecoverSuccesses is the consecutive-success count that moves a
	// degraded or down server back to ok.
	RecoverSuccesses int
}

func DefaultHealthThresholds() HealthThresholds {
	return HealthThresholds{
		DownFailures:     3,
		DownWindow:       30 * time.Second,
		RecoverSuccesses: 2,
	}
}

type HealthState struct {
	Current              model.ServerHealth
	ConsecutiveFailures  int
	ConsecutiveSuccesses int
	LastTransitionAt     time.Time
}

// NextHealth folds one probe result into the health state machine.
func NextHealth(th HealthThresholds, state HealthState, success bool, now time.Time) HealthState {
	if state.Current == "" {
		state.Current = model.HealthOK
	}
	if state.LastTransitionAt.IsZero() {
		state.LastTransitionAt = now
	}

	if success {
		state.ConsecutiveSuccesses++
		state.ConsecutiveFailures = 0
		if (state.Current == model.HealthDegraded || state.Current == model.HealthDown) && state.ConsecutiveSuccesses >= th.RecoverSuccesses {
			state.Current = model.HealthOK
			state.LastTransitionAt = now
		}
		return state
	}

	state.ConsecutiveFailures++
	state.ConsecutiveSuccesses = 0
	switch state.Current {
	case model.HealthOK:
		state.Current = model.HealthDegraded
		state.LastTransitionAt = now
	case model.HealthDegraded:
		if now.Sub(state.LastTransitionAt) > th.DownWindow {
			// Failure window expired; start a new degraded window from this failure.
			state.ConsecutiveFailures = 1
			state.LastTransitionAt = now
			return state
		}
		if state.ConsecutiveFailures >= th.DownFailures {
			state.Current = model.HealthDown
			state.LastTransitionAt = now
		}
	case model.HealthDown:
		// keep down until enough successful probes arrive
	}
	return state
}
