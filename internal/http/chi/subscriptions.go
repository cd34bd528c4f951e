package chi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/commercekit/eventrelay/webhook"
	"github.com/go-chi/chi/v5"
)

/* HTTP layer DTOs for the subscription API
 * Separate from domain entities to avoid leaking internal structure
 */

// subscriptionRequest represents the incoming subscription configuration
type subscriptionRequest struct {
	TenantID           string   `json:"tenant_id"`
	URL                string   `json:"url"`
	Secret             string   `json:"secret,omitempty"`
	EventTypes         []string `json:"event_types"`
	MaxRetries         *int     `json:"max_retries,omitempty"`
	RetryDelayMillis   int      `json:"retry_delay_ms,omitempty"`
	RetryBackoffFactor float64  `json:"retry_backoff_factor,omitempty"`
	TimeoutSeconds     int      `json:"timeout_seconds,omitempty"`
}

// subscriptionResponse represents a subscription in the API.
// The secret is only returned on creation.
type subscriptionResponse struct {
	ID                   string    `json:"id"`
	TenantID             string    `json:"tenant_id"`
	URL                  string    `json:"url"`
	Secret               string    `json:"secret,omitempty"`
	EventTypes           []string  `json:"event_types"`
	IsActive             bool      `json:"is_active"`
	IsHealthy            bool      `json:"is_healthy"`
	MaxRetries           int       `json:"max_retries"`
	RetryDelayMillis     int64     `json:"retry_delay_ms"`
	RetryBackoffFactor   float64   `json:"retry_backoff_factor"`
	TimeoutSeconds       int64     `json:"timeout_seconds"`
	ConsecutiveFailures  int       `json:"consecutive_failures"`
	TotalDeliveries      int64     `json:"total_deliveries"`
	SuccessfulDeliveries int64     `json:"successful_deliveries"`
	FailedDeliveries     int64     `json:"failed_deliveries"`
	CreatedAt            time.Time `json:"created_at"`
}

// healthReportResponse represents the derived health view
type healthReportResponse struct {
	SubscriptionID       string  `json:"subscription_id"`
	Healthy              bool    `json:"healthy"`
	ConsecutiveFailures  int     `json:"consecutive_failures"`
	SuccessRate          float64 `json:"success_rate"`
	TotalDeliveries      int64   `json:"total_deliveries"`
	SuccessfulDeliveries int64   `json:"successful_deliveries"`
	FailedDeliveries     int64   `json:"failed_deliveries"`
}

func toSubscriptionResponse(sub webhook.Subscription, includeSecret bool) subscriptionResponse {
	resp := subscriptionResponse{
		ID:                   sub.ID,
		TenantID:             sub.TenantID,
		URL:                  sub.URL,
		EventTypes:           sub.EventTypes,
		IsActive:             sub.IsActive,
		IsHealthy:            sub.IsHealthy,
		MaxRetries:           sub.MaxRetries,
		RetryDelayMillis:     sub.RetryDelay.Milliseconds(),
		RetryBackoffFactor:   sub.RetryBackoffFactor,
		TimeoutSeconds:       int64(sub.Timeout.Seconds()),
		ConsecutiveFailures:  sub.ConsecutiveFailures,
		TotalDeliveries:      sub.TotalDeliveries,
		SuccessfulDeliveries: sub.SuccessfulDeliveries,
		FailedDeliveries:     sub.FailedDeliveries,
		CreatedAt:            sub.CreatedAt,
	}
	if includeSecret {
		resp.Secret = sub.Secret
	}
	return resp
}

// postSubscription handles POST /v1/subscriptions
func postSubscription(webhookService webhook.UseCase) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req subscriptionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid JSON body", http.StatusBadRequest)
			return
		}

		sub, err := webhookService.RegisterSubscription(r.Context(), webhook.RegisterSubscriptionInput{
			TenantID:           req.TenantID,
			URL:                req.URL,
			Secret:             req.Secret,
			EventTypes:         req.EventTypes,
			MaxRetries:         req.MaxRetries,
			RetryDelay:         time.Duration(req.RetryDelayMillis) * time.Millisecond,
			RetryBackoffFactor: req.RetryBackoffFactor,
			Timeout:            time.Duration(req.TimeoutSeconds) * time.Second,
		})
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		writeJSON(w, http.StatusCreated, toSubscriptionResponse(sub, true))
	})
}

// getSubscriptions handles GET /v1/subscriptions?tenant_id=...
func getSubscriptions(webhookService webhook.UseCase) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tenantID := r.URL.Query().Get("tenant_id")
		if tenantID == "" {
			http.Error(w, "tenant_id is required", http.StatusBadRequest)
			return
		}

		subs, err := webhookService.ListSubscriptions(r.Context(), tenantID)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		responses := make([]subscriptionResponse, 0, len(subs))
		for _, sub := range subs {
			responses = append(responses, toSubscriptionResponse(sub, false))
		}
		writeJSON(w, http.StatusOK, responses)
	})
}

// getSubscription handles GET /v1/subscriptions/{id}
func getSubscription(webhookService webhook.UseCase) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sub, err := webhookService.GetSubscription(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toSubscriptionResponse(sub, false))
	})
}

// getSubscriptionHealth handles GET /v1/subscriptions/{id}/health
func getSubscriptionHealth(webhookService webhook.UseCase) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		report, err := webhookService.SubscriptionHealth(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, healthReportResponse{
			SubscriptionID:       report.SubscriptionID,
			Healthy:              report.Healthy,
			ConsecutiveFailures:  report.ConsecutiveFailures,
			SuccessRate:          report.SuccessRate,
			TotalDeliveries:      report.TotalDeliveries,
			SuccessfulDeliveries: report.SuccessfulDeliveries,
			FailedDeliveries:     report.FailedDeliveries,
		})
	})
}

// postSubscriptionTest handles POST /v1/subscriptions/{id}/test
func postSubscriptionTest(webhookService webhook.UseCase) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		delivery, err := webhookService.TestSubscription(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toDeliveryResponse(delivery))
	})
}

// getSubscriptionDeliveries handles GET /v1/subscriptions/{id}/deliveries?limit=...
func getSubscriptionDeliveries(webhookService webhook.UseCase) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		limit := 50
		if raw := r.URL.Query().Get("limit"); raw != "" {
			parsed, err := strconv.Atoi(raw)
			if err != nil || parsed < 1 {
				http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
				return
			}
			limit = parsed
		}

		deliveries, err := webhookService.ListDeliveriesBySubscription(r.Context(), chi.URLParam(r, "id"), limit)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toDeliveryResponses(deliveries))
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func isNotFound(err error) bool {
	return errors.Is(err, webhook.ErrNotFound)
}

func writeError(w http.ResponseWriter, err error) {
	if isNotFound(err) {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	http.Error(w, err.Error(), http.StatusInternalServerError)
}
