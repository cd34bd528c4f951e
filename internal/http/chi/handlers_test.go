package chi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/commercekit/eventrelay/registry"
	"github.com/commercekit/eventrelay/webhook"
	"github.com/commercekit/eventrelay/webhook/inmem"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

/*
* Os handlers são exercitados contra o serviço real sobre o repositório
* em memória, em vez de mocks. Para testes com o repositório Redis real,
* uma ferramenta bem útil é o TestContainers: https://mfbmina.dev/posts/testcontainers/
 */

func newTestHandlers(t *testing.T, reg *registry.Registry) (*inmem.Repository, *webhook.Service, http.Handler) {
	t.Helper()
	repo := inmem.NewRepository()
	deliverer := webhook.NewDeliverer(repo)
	s := webhook.NewService(repo, deliverer)
	return repo, s, Handlers(context.Background(), s, reg, nil)
}

func TestHealthEndpoint(t *testing.T) {
	_, _, h := newTestHandlers(t, nil)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"healthy"}`, w.Body.String())
}

func TestPostSubscription(t *testing.T) {
	_, _, h := newTestHandlers(t, nil)

	body := `{
		"tenant_id": "acme",
		"url": "https://hooks.acme.test/orders",
		"event_types": ["order.created", "order.*"]
	}`
	req := httptest.NewRequest(http.MethodPost, "/v1/subscriptions", strings.NewReader(body))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	require.Equal(t, http.StatusCreated, w.Code)

	var created subscriptionResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	assert.NotEmpty(t, created.ID)
	assert.True(t, strings.HasPrefix(created.Secret, "whsec_"))
	assert.True(t, created.IsActive)
	assert.True(t, created.IsHealthy)

	t.Run("secret is not returned on reads", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/v1/subscriptions/"+created.ID, nil)
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		require.Equal(t, http.StatusOK, w.Code)

		var fetched subscriptionResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &fetched))
		assert.Equal(t, created.ID, fetched.ID)
		assert.Empty(t, fetched.Secret)
	})

	t.Run("invalid body is rejected", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/v1/subscriptions", strings.NewReader(`{"tenant_id": "acme"}`))
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestGetSubscriptionsRequiresTenant(t *testing.T) {
	_, _, h := newTestHandlers(t, nil)
	req := httptest.NewRequest(http.MethodGet, "/v1/subscriptions", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPostEvent(t *testing.T) {
	_, s, h := newTestHandlers(t, nil)
	_, err := s.RegisterSubscription(context.Background(), webhook.RegisterSubscriptionInput{
		TenantID:   "acme",
		URL:        "https://hooks.acme.test/orders",
		EventTypes: []string{"order.created"},
	})
	require.NoError(t, err)

	body := `{
		"tenant_id": "acme",
		"event_type": "order.created",
		"data": {"order_id": "ord_123"}
	}`
	req := httptest.NewRequest(http.MethodPost, "/v1/events", strings.NewReader(body))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	require.Equal(t, http.StatusAccepted, w.Code)

	var accepted eventResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &accepted))
	assert.NotEmpty(t, accepted.ID)
	assert.Equal(t, "pending", accepted.Status)

	t.Run("event can be fetched", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/v1/events/"+accepted.ID, nil)
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		require.Equal(t, http.StatusOK, w.Code)

		var fetched eventResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &fetched))
		assert.Equal(t, accepted.ID, fetched.ID)
	})

	t.Run("wildcard event type is rejected", func(t *testing.T) {
		body := `{"tenant_id": "acme", "event_type": "order.*", "data": {}}`
		req := httptest.NewRequest(http.MethodPost, "/v1/events", strings.NewReader(body))
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestGetDeliveryNotFound(t *testing.T) {
	_, _, h := newTestHandlers(t, nil)
	req := httptest.NewRequest(http.MethodGet, "/v1/deliveries/missing", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCancelDeliveryConflict(t *testing.T) {
	repo, _, h := newTestHandlers(t, nil)

	delivered := webhook.Delivery{
		ID:             "del-1",
		SubscriptionID: "sub-1",
		TenantID:       "acme",
		EventID:        "evt-1",
		EventType:      "order.created",
		Status:         webhook.DeliveryDelivered,
	}
	require.NoError(t, repo.CreateDelivery(context.Background(), delivered))

	req := httptest.NewRequest(http.MethodPost, "/v1/deliveries/del-1/cancel", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestServicesEndpoints(t *testing.T) {
	reg := registry.New()
	require.NoError(t, reg.Register(registry.Instance{
		ServiceName: "orders",
		Version:     "1.2.0",
		Host:        "orders.internal",
		Port:        8080,
	}))
	_, _, h := newTestHandlers(t, reg)

	req := httptest.NewRequest(http.MethodGet, "/v1/services", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var services []serviceResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &services))
	require.Len(t, services, 1)
	assert.Equal(t, "orders", services[0].Name)
	assert.Equal(t, "closed", services[0].CircuitState)
	require.Len(t, services[0].Instances, 1)
	assert.Equal(t, "orders@orders.internal:8080", services[0].Instances[0].ID)

	t.Run("single service", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/v1/services/orders", nil)
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		require.Equal(t, http.StatusOK, w.Code)

		var service serviceResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &service))
		assert.Equal(t, "orders", service.Name)
	})

	t.Run("unknown service", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/v1/services/billing", nil)
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}
