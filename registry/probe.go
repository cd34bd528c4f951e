package registry

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/commercekit/eventrelay/health"
)

/* Liveness probing. Each instance exposes GET /health; a fast 2xx is
 * healthy, a slow 2xx is degraded, anything else is unhealthy.
 */

// Start runs the periodic probe loop until the context is cancelled.
// Intended to be launched as a goroutine by the process bootstrap.
func (r *Registry) Start(ctx context.Context) {
	ticker := time.NewTicker(r.probeInterval)
	defer ticker.Stop()

	slog.Info("registry probe loop started",
		slog.String("code", "SYS_STARTUP"),
		slog.Duration("interval", r.probeInterval),
	)

	for {
		select {
		case <-ctx.Done():
			slog.Info("registry probe loop shutting down", slog.String("code", "SYS_SHUTDOWN"))
			return
		case <-ticker.C:
			r.ProbeHealth(ctx)
		}
	}
}

// ProbeHealth probes every registered instance once and updates its
// health state and probe timestamp.
func (r *Registry) ProbeHealth(ctx context.Context) {
	r.mu.RLock()
	var entries []*entry
	for _, svc := range r.services {
		entries = append(entries, svc...)
	}
	r.mu.RUnlock()

	for _, e := range entries {
		e.mu.Lock()
		inst := e.instance
		e.mu.Unlock()

		state := r.probe(ctx, inst)

		e.mu.Lock()
		previous := e.instance.HealthState
		e.instance.HealthState = state
		e.instance.LastProbeAt = time.Now()
		e.mu.Unlock()

		if previous != state {
			slog.Info("instance health changed",
				slog.String("code", "PROBE_TRANSITION"),
				slog.String("instance", inst.ID()),
				slog.String("from", previous.String()),
				slog.String("to", state.String()),
			)
		}
	}
}

func (r *Registry) probe(ctx context.Context, inst Instance) health.State {
	probeCtx, cancel := context.WithTimeout(ctx, r.probeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, inst.BaseURL()+"/health", nil)
	if err != nil {
		return health.Unhealthy
	}

	started := time.Now()
	resp, err := r.client.Do(req)
	if err != nil {
		return health.Unhealthy
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return health.Unhealthy
	}
	if time.Since(started) >= degradedProbeLatency {
		return health.Degraded
	}
	return health.Healthy
}
