package chi

import (
	"context"
	"net/http"
	"time"

	"github.com/commercekit/eventrelay/registry"
	"github.com/commercekit/eventrelay/webhook"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httplog"
)

// Handlers sets up the engine's API routes
func Handlers(ctx context.Context, webhookService webhook.UseCase, reg *registry.Registry, metricsHandler http.Handler) *chi.Mux {
	logger := httplog.NewLogger("eventrelay-api", httplog.Options{
		JSON: true,
	})

	r := chi.NewRouter()
	r.Use(httplog.RequestLogger(logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	})

	if metricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", metricsHandler)
	}

	r.Route("/v1", func(r chi.Router) {
		r.Post("/subscriptions", postSubscription(webhookService).ServeHTTP)
		r.Get("/subscriptions", getSubscriptions(webhookService).ServeHTTP)
		r.Get("/subscriptions/{id}", getSubscription(webhookService).ServeHTTP)
		r.Get("/subscriptions/{id}/health", getSubscriptionHealth(webhookService).ServeHTTP)
		r.Post("/subscriptions/{id}/test", postSubscriptionTest(webhookService).ServeHTTP)
		r.Get("/subscriptions/{id}/deliveries", getSubscriptionDeliveries(webhookService).ServeHTTP)

		r.Post("/events", postEvent(webhookService).ServeHTTP)
		r.Get("/events/{id}", getEvent(webhookService).ServeHTTP)
		r.Get("/events/{id}/deliveries", getEventDeliveries(webhookService).ServeHTTP)

		r.Get("/deliveries/{id}", getDelivery(webhookService).ServeHTTP)
		r.Post("/deliveries/{id}/redeliver", postRedeliver(webhookService).ServeHTTP)
		r.Post("/deliveries/{id}/cancel", postCancelDelivery(webhookService).ServeHTTP)

		if reg != nil {
			r.Get("/services", getServices(reg).ServeHTTP)
			r.Get("/services/{name}", getServiceInstances(reg).ServeHTTP)
		}
	})

	return r
}
