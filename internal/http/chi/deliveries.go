package chi

import (
	"net/http"
	"time"

	"github.com/commercekit/eventrelay/webhook"
	"github.com/go-chi/chi/v5"
)

// deliveryResponse represents a delivery record in the API
type deliveryResponse struct {
	ID             string     `json:"id"`
	SubscriptionID string     `json:"subscription_id"`
	TenantID       string     `json:"tenant_id"`
	EventID        string     `json:"event_id"`
	EventType      string     `json:"event_type"`
	Status         string     `json:"status"`
	HTTPStatus     int        `json:"http_status,omitempty"`
	AttemptCount   int        `json:"attempt_count"`
	MaxRetries     int        `json:"max_retries"`
	NextRetryAt    *time.Time `json:"next_retry_at,omitempty"`
	ErrorCode      string     `json:"error_code,omitempty"`
	ErrorMessage   string     `json:"error_message,omitempty"`
	DurationMillis int64      `json:"duration_ms,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
}

func toDeliveryResponse(d webhook.Delivery) deliveryResponse {
	resp := deliveryResponse{
		ID:             d.ID,
		SubscriptionID: d.SubscriptionID,
		TenantID:       d.TenantID,
		EventID:        d.EventID,
		EventType:      d.EventType,
		Status:         d.Status.String(),
		HTTPStatus:     d.HTTPStatus,
		AttemptCount:   d.AttemptCount,
		MaxRetries:     d.MaxRetries,
		ErrorCode:      d.ErrorCode,
		ErrorMessage:   d.ErrorMessage,
		DurationMillis: d.Duration.Milliseconds(),
		CreatedAt:      d.CreatedAt,
	}
	if !d.NextRetryAt.IsZero() {
		nextRetryAt := d.NextRetryAt
		resp.NextRetryAt = &nextRetryAt
	}
	if !d.CompletedAt.IsZero() {
		completedAt := d.CompletedAt
		resp.CompletedAt = &completedAt
	}
	return resp
}

func toDeliveryResponses(deliveries []webhook.Delivery) []deliveryResponse {
	responses := make([]deliveryResponse, 0, len(deliveries))
	for _, d := range deliveries {
		responses = append(responses, toDeliveryResponse(d))
	}
	return responses
}

// getDelivery handles GET /v1/deliveries/{id}
func getDelivery(webhookService webhook.UseCase) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		delivery, err := webhookService.GetDelivery(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toDeliveryResponse(delivery))
	})
}

// postRedeliver handles POST /v1/deliveries/{id}/redeliver
func postRedeliver(webhookService webhook.UseCase) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		replay, err := webhookService.Redeliver(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeConflictableError(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, toDeliveryResponse(replay))
	})
}

// postCancelDelivery handles POST /v1/deliveries/{id}/cancel
func postCancelDelivery(webhookService webhook.UseCase) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := webhookService.CancelDelivery(r.Context(), chi.URLParam(r, "id")); err != nil {
			writeConflictableError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
}

// writeConflictableError maps state-machine violations (cancelling a
// delivered record, redelivering a pending one) to 409.
func writeConflictableError(w http.ResponseWriter, err error) {
	if isNotFound(err) {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	http.Error(w, err.Error(), http.StatusConflict)
}
