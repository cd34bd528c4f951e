package registry_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/commercekit/eventrelay/breaker"
	"github.com/commercekit/eventrelay/health"
	"github.com/commercekit/eventrelay/registry"
	"github.com/commercekit/eventrelay/retry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func instanceFor(t *testing.T, serviceName string, srv *httptest.Server) registry.Instance {
	t.Helper()
	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)
	return registry.Instance{
		ServiceName: serviceName,
		Version:     "1.0.0",
		Host:        u.Hostname(),
		Port:        port,
		Transport:   "http",
	}
}

func TestRegister(t *testing.T) {
	t.Run("rejects malformed instances", func(t *testing.T) {
		r := registry.New()
		assert.Error(t, r.Register(registry.Instance{Host: "localhost", Port: 80}))
		assert.Error(t, r.Register(registry.Instance{ServiceName: "orders", Port: 80}))
		assert.Error(t, r.Register(registry.Instance{ServiceName: "orders", Host: "localhost", Port: -1}))
		assert.Error(t, r.Register(registry.Instance{ServiceName: "orders", Host: "localhost", Port: 80, Transport: "ftp"}))
	})

	t.Run("allows many instances per name", func(t *testing.T) {
		r := registry.New()
		require.NoError(t, r.Register(registry.Instance{ServiceName: "orders", Host: "a", Port: 80}))
		require.NoError(t, r.Register(registry.Instance{ServiceName: "orders", Host: "b", Port: 80}))
		assert.Len(t, r.Instances("orders"), 2)
	})
}

func TestDiscover(t *testing.T) {
	t.Run("not found for unknown service", func(t *testing.T) {
		r := registry.New()
		_, err := r.Discover("nope")
		require.ErrorIs(t, err, registry.ErrNoInstance)
	})

	t.Run("skips unhealthy instances", func(t *testing.T) {
		r := registry.New()
		require.NoError(t, r.Register(registry.Instance{
			ServiceName: "orders", Host: "a", Port: 80, HealthState: health.Unhealthy,
		}))
		require.NoError(t, r.Register(registry.Instance{
			ServiceName: "orders", Host: "b", Port: 80, HealthState: health.Degraded,
		}))

		inst, err := r.Discover("orders")
		require.NoError(t, err)
		assert.Equal(t, "b", inst.Host)
	})

	t.Run("all unhealthy is not found", func(t *testing.T) {
		r := registry.New()
		require.NoError(t, r.Register(registry.Instance{
			ServiceName: "orders", Host: "a", Port: 80, HealthState: health.Unhealthy,
		}))
		_, err := r.Discover("orders")
		require.ErrorIs(t, err, registry.ErrNoInstance)
	})
}

func TestCall(t *testing.T) {
	t.Run("routes to instance and returns body", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(`{"ok":true}`))
		}))
		defer srv.Close()

		r := registry.New()
		require.NoError(t, r.Register(instanceFor(t, "orders", srv)))

		resp, err := r.Call(context.Background(), "orders", registry.Request{Method: http.MethodGet, Path: "/v1/orders"})
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, `{"ok":true}`, string(resp.Body))
	})

	t.Run("non-2xx counts as failure", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer srv.Close()

		r := registry.New()
		require.NoError(t, r.Register(instanceFor(t, "orders", srv)))

		_, err := r.Call(context.Background(), "orders", registry.Request{Method: http.MethodGet, Path: "/"})
		require.Error(t, err)
		assert.Equal(t, 1, r.Health("orders").Failures)
	})

	t.Run("open circuit fails without network IO", func(t *testing.T) {
		var hits atomic.Int64
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			hits.Add(1)
			w.WriteHeader(http.StatusBadGateway)
		}))
		defer srv.Close()

		b := breaker.New(
			breaker.WithFailureThreshold(5),
			breaker.WithCooldown(time.Minute),
		)
		r := registry.New(registry.WithBreaker(b))
		require.NoError(t, r.Register(instanceFor(t, "X", srv)))

		ctx := context.Background()
		for i := 0; i < 6; i++ {
			_, err := r.Call(ctx, "X", registry.Request{Method: http.MethodGet, Path: "/"})
			require.Error(t, err)
		}

		// Circuit tripped at the threshold; later failures hit an open circuit
		hitsBefore := hits.Load()
		_, err := r.Call(ctx, "X", registry.Request{Method: http.MethodGet, Path: "/"})
		require.Error(t, err)
		assert.True(t, breaker.IsOpen(err))
		assert.Equal(t, hitsBefore, hits.Load())

		state, err := r.CircuitState(ctx, "X")
		require.NoError(t, err)
		assert.Equal(t, breaker.Open, state)
	})

	t.Run("recovers through half open after cooldown", func(t *testing.T) {
		var failing atomic.Bool
		failing.Store(true)
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if failing.Load() {
				w.WriteHeader(http.StatusBadGateway)
				return
			}
			w.WriteHeader(http.StatusOK)
		}))
		defer srv.Close()

		b := breaker.New(
			breaker.WithFailureThreshold(3),
			breaker.WithCooldown(50*time.Millisecond),
		)
		r := registry.New(registry.WithBreaker(b))
		require.NoError(t, r.Register(instanceFor(t, "X", srv)))

		ctx := context.Background()
		for i := 0; i < 3; i++ {
			_, err := r.Call(ctx, "X", registry.Request{Method: http.MethodGet, Path: "/"})
			require.Error(t, err)
		}
		_, err := r.Call(ctx, "X", registry.Request{Method: http.MethodGet, Path: "/"})
		assert.True(t, breaker.IsOpen(err))

		failing.Store(false)
		time.Sleep(60 * time.Millisecond)

		_, err = r.Call(ctx, "X", registry.Request{Method: http.MethodGet, Path: "/"})
		require.NoError(t, err)

		state, err := r.CircuitState(ctx, "X")
		require.NoError(t, err)
		assert.Equal(t, breaker.Closed, state)
	})
}

func TestCallWithRetry(t *testing.T) {
	t.Run("retries transient failures", func(t *testing.T) {
		var hits atomic.Int64
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if hits.Add(1) < 3 {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			w.WriteHeader(http.StatusOK)
		}))
		defer srv.Close()

		r := registry.New(registry.WithBackoff(retry.Policy{
			BaseDelay: time.Millisecond,
			MaxDelay:  10 * time.Millisecond,
			Factor:    2.0,
		}))
		require.NoError(t, r.Register(instanceFor(t, "orders", srv)))

		resp, err := r.CallWithRetry(context.Background(), "orders", registry.Request{Method: http.MethodGet, Path: "/"}, 5)
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, int64(3), hits.Load())
	})

	t.Run("open circuit short-circuits remaining attempts", func(t *testing.T) {
		var hits atomic.Int64
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			hits.Add(1)
			w.WriteHeader(http.StatusBadGateway)
		}))
		defer srv.Close()

		b := breaker.New(
			breaker.WithFailureThreshold(2),
			breaker.WithCooldown(time.Minute),
		)
		r := registry.New(
			registry.WithBreaker(b),
			registry.WithBackoff(retry.Policy{BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Factor: 2.0}),
		)
		require.NoError(t, r.Register(instanceFor(t, "X", srv)))

		_, err := r.CallWithRetry(context.Background(), "X", registry.Request{Method: http.MethodGet, Path: "/"}, 10)
		require.Error(t, err)
		assert.True(t, breaker.IsOpen(err))
		assert.Equal(t, int64(2), hits.Load())
	})
}

func TestProbeHealth(t *testing.T) {
	t.Run("classifies error responses unhealthy", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer srv.Close()

		r := registry.New()
		require.NoError(t, r.Register(instanceFor(t, "orders", srv)))

		r.ProbeHealth(context.Background())

		insts := r.Instances("orders")
		require.Len(t, insts, 1)
		assert.Equal(t, health.Unhealthy, insts[0].HealthState)
		assert.False(t, insts[0].LastProbeAt.IsZero())
	})

	t.Run("classifies fast success healthy", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))
		defer srv.Close()

		r := registry.New()
		require.NoError(t, r.Register(instanceFor(t, "orders", srv)))

		r.ProbeHealth(context.Background())

		insts := r.Instances("orders")
		require.Len(t, insts, 1)
		assert.Equal(t, health.Healthy, insts[0].HealthState)
	})

	t.Run("unreachable instance goes unhealthy and is skipped by discover", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {}))
		srv.Close() // connection refused from now on

		r := registry.New()
		require.NoError(t, r.Register(instanceFor(t, "orders", srv)))

		r.ProbeHealth(context.Background())

		_, err := r.Discover("orders")
		require.ErrorIs(t, err, registry.ErrNoInstance)
	})
}
