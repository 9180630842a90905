// Package connectivity tracks network reachability for the sync engine. A
// Monitor probes the remote endpoint in the background and pushes
// edge-triggered online/offline notifications to registered callbacks; the
// orchestrator reads IsOnline before every upload decision.
package connectivity

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ProbeFunc reports whether the remote endpoint is currently reachable.
type ProbeFunc func(ctx context.Context) bool

// HTTPProbe returns a ProbeFunc that issues a HEAD request against url and
// treats any response, regardless of status, as reachability. Auth failures
// are still "online" — authentication is the token source's concern.
func HTTPProbe(url string, timeout time.Duration) ProbeFunc {
	client := &http.Client{Timeout: timeout}
	return func(ctx context.Context) bool {
		req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
		if err != nil {
			return false
		}
		resp, err := client.Do(req)
		if err != nil {
			return false
		}
		resp.Body.Close()
		return true
	}
}

// Monitor owns the process-wide online flag. Callbacks fire only on state
// transitions, never on steady state.
type Monitor struct {
	probe    ProbeFunc
	interval time.Duration
	logger   zerolog.Logger

	mu        sync.Mutex
	online    bool
	onOnline  []func()
	onOffline []func()

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewMonitor creates a Monitor that runs probe every interval once started.
// The monitor starts out offline; the first successful probe flips it.
func NewMonitor(probe ProbeFunc, interval time.Duration, logger zerolog.Logger) *Monitor {
	return &Monitor{
		probe:    probe,
		interval: interval,
		logger:   logger.With().Str("component", "connectivity").Logger(),
	}
}

// IsOnline reports the last observed reachability state.
func (m *Monitor) IsOnline() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// OnOnline registers a callback fired on each offline→online transition.
func (m *Monitor) OnOnline(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onOnline = append(m.onOnline, fn)
}

// OnOffline registers a callback fired on each online→offline transition.
func (m *Monitor) OnOffline(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onOffline = append(m.onOffline, fn)
}

// SetOnline records a reachability observation and fires callbacks when the
// state changed. The probe loop funnels through here; tests and manual
// overrides may call it directly.
func (m *Monitor) SetOnline(online bool) {
	m.mu.Lock()
	if m.online == online {
		m.mu.Unlock()
		return
	}
	m.online = online
	var callbacks []func()
	if online {
		callbacks = append(callbacks, m.onOnline...)
	} else {
		callbacks = append(callbacks, m.onOffline...)
	}
	m.mu.Unlock()

	m.logger.Info().Bool("online", online).Msg("connectivity changed")
	for _, fn := range callbacks {
		fn()
	}
}

// Start launches the background probe loop. Stop (or cancelling ctx) ends it.
func (m *Monitor) Start(ctx context.Context) {
	ctx, m.cancel = context.WithCancel(ctx)
	m.wg.Add(1)
	go m.run(ctx)
}

// Stop terminates the probe loop and waits for it to exit.
func (m *Monitor) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
}

func (m *Monitor) run(ctx context.Context) {
	defer m.wg.Done()

	// Probe immediately so the engine does not sit offline for a full
	// interval after startup.
	m.SetOnline(m.probe(ctx))

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.SetOnline(m.probe(ctx))
		}
	}
}
