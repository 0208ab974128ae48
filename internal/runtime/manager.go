package runtime

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/marimo-team/kernelclient/internal/config"
)

// Manager resolves session endpoints against one backend base URL.
type Manager struct {
	base   *url.URL
	client *Client
	cfg    config.Config
	logger *zap.Logger
}

func NewManager(cfg config.Config, logger *zap.Logger) (*Manager, error) {
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url %q: %w", cfg.BaseURL, err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("base url %q: scheme must be http or https", cfg.BaseURL)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		base:   base,
		client: NewClient(base.String(), http.DefaultClient),
		cfg:    cfg,
		logger: logger,
	}, nil
}

// SessionURL builds the WebSocket endpoint for one session. Takeover asks the
// backend to evict the currently attached client.
func (m *Manager) SessionURL(sessionID string, takeover bool) string {
	u := *m.base
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = "/ws"
	q := url.Values{}
	q.Set("session_id", sessionID)
	if takeover {
		q.Set("takeover", "true")
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// IsRemote reports whether the backend lives on another host. Remote
// backends get a health probe before the first WebSocket dial; a local one
// is assumed reachable.
func (m *Manager) IsRemote() bool {
	switch m.base.Hostname() {
	case "localhost", "127.0.0.1", "::1":
		return false
	default:
		return true
	}
}

// WaitForHealthy polls the backend until it answers, the trend goes down, or
// the configured timeout elapses. The probe interval doubles on consecutive
// failures up to one second.
func (m *Manager) WaitForHealthy(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, m.cfg.HealthTimeout)
	defer cancel()

	state := HealthState{}
	interval := m.cfg.HealthInterval
	var lastErr error
	for {
		hr, err := m.client.Health(ctx)
		now := time.Now()
		if err == nil {
			state = NextHealth(m.cfg, state, true, now)
			m.logger.Debug("backend healthy", zap.String("status", hr.Status))
			return nil
		}
		lastErr = err
		state = NextHealth(m.cfg, state, false, now)
		if state.Current == HealthDown {
			return fmt.Errorf("backend down after %d failed probes: %w",
				state.ConsecutiveFailures, err)
		}
		m.logger.Debug("backend probe failed",
			zap.Duration("retry_in", interval),
			zap.Error(err))
		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			if lastErr != nil {
				return fmt.Errorf("backend not healthy: %w", lastErr)
			}
			return ctx.Err()
		case <-timer.C:
		}
		interval *= 2
		if interval > time.Second {
			interval = time.Second
		}
	}
}

// Base returns the configured backend base URL.
func (m *Manager) Base() *url.URL {
	u := *m.base
	return &u
}
