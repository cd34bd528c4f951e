package registry

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/commercekit/eventrelay/breaker"
	"github.com/commercekit/eventrelay/health"
	"github.com/commercekit/eventrelay/retry"
)

/* Registry routes logical service calls to healthy instances.
 * Calls are balanced by least in-flight load, protected by a circuit
 * breaker per service name, and retried with exponential backoff.
 * The probe loop lifecycle (Start/Stop) is owned by the process
 * bootstrap, not by the registry itself.
 */

// ErrNoInstance is returned by Discover when no routable instance
// exists for a service name. This is a normal outcome, not a defect.
var ErrNoInstance = errors.New("no routable instance")

const (
	DefaultProbeInterval = 30 * time.Second
	DefaultProbeTimeout  = 5 * time.Second
	DefaultCallTimeout   = 10 * time.Second

	// Probes slower than this are classified degraded even on success.
	degradedProbeLatency = 1 * time.Second
)

// Request is an outbound call to a logical service.
type Request struct {
	Method  string
	Path    string
	Body    []byte
	Headers map[string]string
}

// Response is the outcome of a successful call.
type Response struct {
	StatusCode int
	Body       []byte
	Instance   string // ID of the instance that served the call
}

type entry struct {
	mu       sync.Mutex
	instance Instance
	inFlight atomic.Int64
}

// Option is a functional option for configuring the registry.
type Option func(*Registry)

// WithBreaker sets the circuit breaker guarding outbound calls.
func WithBreaker(b *breaker.Breaker) Option {
	return func(r *Registry) {
		r.breaker = b
	}
}

// WithProbeInterval sets how often the liveness probe loop runs.
func WithProbeInterval(d time.Duration) Option {
	return func(r *Registry) {
		r.probeInterval = d
	}
}

// WithProbeTimeout bounds each individual liveness probe.
func WithProbeTimeout(d time.Duration) Option {
	return func(r *Registry) {
		r.probeTimeout = d
	}
}

// WithCallTimeout bounds each outbound call attempt.
func WithCallTimeout(d time.Duration) Option {
	return func(r *Registry) {
		r.callTimeout = d
	}
}

// WithBackoff sets the retry backoff policy for CallWithRetry.
func WithBackoff(p retry.Policy) Option {
	return func(r *Registry) {
		r.backoff = p
	}
}

// WithHTTPClient overrides the HTTP client, used by tests.
func WithHTTPClient(c *http.Client) Option {
	return func(r *Registry) {
		r.client = c
	}
}

type Registry struct {
	mu       sync.RWMutex
	services map[string][]*entry

	breaker       *breaker.Breaker
	tracker       *health.Tracker
	client        *http.Client
	backoff       retry.Policy
	probeInterval time.Duration
	probeTimeout  time.Duration
	callTimeout   time.Duration
}

// New creates a registry with the given options.
func New(options ...Option) *Registry {
	r := &Registry{
		services:      make(map[string][]*entry),
		breaker:       breaker.New(),
		tracker:       health.NewTracker(5 * time.Minute),
		client:        &http.Client{},
		backoff:       retry.DefaultPolicy(),
		probeInterval: DefaultProbeInterval,
		probeTimeout:  DefaultProbeTimeout,
		callTimeout:   DefaultCallTimeout,
	}
	for _, option := range options {
		option(r)
	}
	return r
}

// Register adds an instance under its service name. Multiple instances
// per name are expected and load-balanced across.
func (r *Registry) Register(inst Instance) error {
	if err := inst.Validate(); err != nil {
		return fmt.Errorf("validating instance: %w", err)
	}
	if inst.HealthState == 0 {
		inst.HealthState = health.Healthy
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.services[inst.ServiceName] = append(r.services[inst.ServiceName], &entry{instance: inst})
	return nil
}

// Discover selects the routable instance with the lowest in-flight load.
func (r *Registry) Discover(serviceName string) (Instance, error) {
	e, err := r.acquireable(serviceName)
	if err != nil {
		return Instance{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.instance, nil
}

// Instances returns a snapshot of every registered instance for a name.
func (r *Registry) Instances(serviceName string) []Instance {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entries := r.services[serviceName]
	out := make([]Instance, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		out = append(out, e.instance)
		e.mu.Unlock()
	}
	return out
}

// ServiceNames returns every registered logical service name.
func (r *Registry) ServiceNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.services))
	for name := range r.services {
		names = append(names, name)
	}
	return names
}

func (r *Registry) acquireable(serviceName string) (*entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var best *entry
	var bestLoad int64
	for _, e := range r.services[serviceName] {
		e.mu.Lock()
		routable := e.instance.HealthState.Routable()
		e.mu.Unlock()
		if !routable {
			continue
		}

		load := e.inFlight.Load()
		if best == nil || load < bestLoad {
			best = e
			bestLoad = load
		}
	}
	if best == nil {
		return nil, fmt.Errorf("%w for service %s", ErrNoInstance, serviceName)
	}
	return best, nil
}

// Call issues one breaker-guarded call to the named service. An open
// circuit fails immediately with *breaker.OpenError before any instance
// is selected or network I/O happens. Errors, timeouts and non-2xx
// responses count as failures toward the circuit.
func (r *Registry) Call(ctx context.Context, serviceName string, req Request) (Response, error) {
	if err := r.breaker.Allow(ctx, serviceName); err != nil {
		return Response{}, err
	}

	e, err := r.acquireable(serviceName)
	if err != nil {
		return Response{}, err
	}

	e.inFlight.Add(1)
	defer e.inFlight.Add(-1)

	e.mu.Lock()
	inst := e.instance
	e.mu.Unlock()

	resp, err := r.issue(ctx, inst, req)
	if err != nil || resp.StatusCode < 200 || resp.StatusCode >= 300 {
		r.tracker.RecordFailure(serviceName)
		if berr := r.breaker.RecordFailure(ctx, serviceName); berr != nil {
			slog.Warn("recording circuit failure",
				slog.String("code", "CB_STORE_ERROR"),
				slog.String("service", serviceName),
				slog.Any("error", berr),
			)
		}
		if err != nil {
			return Response{}, fmt.Errorf("calling %s: %w", serviceName, err)
		}
		return resp, fmt.Errorf("calling %s: unexpected status %d", serviceName, resp.StatusCode)
	}

	r.tracker.RecordSuccess(serviceName)
	if berr := r.breaker.RecordSuccess(ctx, serviceName); berr != nil {
		slog.Warn("recording circuit success",
			slog.String("code", "CB_STORE_ERROR"),
			slog.String("service", serviceName),
			slog.Any("error", berr),
		)
	}
	return resp, nil
}

// CallWithRetry wraps Call with exponential backoff. Each attempt
// independently respects the circuit breaker: an open circuit
// short-circuits the remaining attempts instead of sleeping through them.
func (r *Registry) CallWithRetry(ctx context.Context, serviceName string, req Request, maxAttempts int) (Response, error) {
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return Response{}, ctx.Err()
			case <-time.After(r.backoff.Delay(attempt - 1)):
			}
		}

		resp, err := r.Call(ctx, serviceName, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		if breaker.IsOpen(err) {
			return Response{}, err
		}
	}
	return Response{}, fmt.Errorf("after %d attempts: %w", maxAttempts, lastErr)
}

func (r *Registry) issue(ctx context.Context, inst Instance, req Request) (Response, error) {
	callCtx, cancel := context.WithTimeout(ctx, r.callTimeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(callCtx, req.Method, inst.BaseURL()+req.Path, bytes.NewReader(req.Body))
	if err != nil {
		return Response{}, fmt.Errorf("building request: %w", err)
	}
	for key, value := range req.Headers {
		httpReq.Header.Set(key, value)
	}

	httpResp, err := r.client.Do(httpReq)
	if err != nil {
		return Response{}, err
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return Response{}, fmt.Errorf("reading response: %w", err)
	}

	return Response{
		StatusCode: httpResp.StatusCode,
		Body:       body,
		Instance:   inst.ID(),
	}, nil
}

// Health returns the rolling call-outcome snapshot for a service name.
func (r *Registry) Health(serviceName string) health.Snapshot {
	return r.tracker.Snapshot(serviceName)
}

// CircuitState returns the current circuit state for a service name.
func (r *Registry) CircuitState(ctx context.Context, serviceName string) (breaker.State, error) {
	return r.breaker.State(ctx, serviceName)
}
