package runtime

import (
	"time"

	"github.com/marimo-team/kernelclient/internal/config"
)

// Health is the trend classification of backend probes.
type Health string

const (
	HealthOK       Health = "ok"
	HealthDegraded Health = "degraded"
	HealthDown     Health = "down"
)

// HealthState carries the probe trend between evaluations.
type HealthState struct {
	Current              Health
	ConsecutiveFailures  int
	ConsecutiveSuccesses int
	LastTransitionAt     time.Time
}

// NextHealth folds one probe result into the trend. A single failure only
// degrades; down requires repeated failures inside the configured window, and
// recovery requires repeated successes.
func NextHealth(cfg config.Config, state HealthState, success bool, now time.Time) HealthState {
	if state.Current == "" {
		state.Current = HealthOK
	}
	if state.LastTransitionAt.IsZero() {
		state.LastTransitionAt = now
	}

	if success {
		state.ConsecutiveSuccesses++
		state.ConsecutiveFailures = 0
		if (state.Current == HealthDegraded || state.Current == HealthDown) && state.ConsecutiveSuccesses >= cfg.HealthRecoverSuccesses {
			state.Current = HealthOK
			state.LastTransitionAt = now
		}
		return state
	}

	state.ConsecutiveFailures++
	state.ConsecutiveSuccesses = 0
	switch state.Current {
	case HealthOK:
		state.Current = HealthDegraded
		state.LastTransitionAt = now
	case HealthDegraded:
		if now.Sub(state.LastTransitionAt) > cfg.HealthDownWindow {
			// Failure window expired; start a new degraded window from this failure.
			state.ConsecutiveFailures = 1
			state.LastTransitionAt = now
			return state
		}
		if state.ConsecutiveFailures >= cfg.HealthDownFailures {
			state.Current = HealthDown
			state.LastTransitionAt = now
		}
	case HealthDown:
		// keep down until enough successful probes arrive
	}
	return state
}
