package chi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/commercekit/eventrelay/webhook"
	"github.com/go-chi/chi/v5"
)

// eventRequest represents an incoming domain event
type eventRequest struct {
	TenantID  string          `json:"tenant_id"`
	EventType string          `json:"event_type"`
	Version   string          `json:"version,omitempty"`
	Source    string          `json:"source,omitempty"`
	Data      json.RawMessage `json:"data"`
}

// eventResponse represents an event in the API
type eventResponse struct {
	ID          string          `json:"id"`
	TenantID    string          `json:"tenant_id"`
	EventType   string          `json:"event_type"`
	Version     string          `json:"version"`
	Source      string          `json:"source,omitempty"`
	Data        json.RawMessage `json:"data"`
	Status      string          `json:"status"`
	LastError   string          `json:"last_error,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	ProcessedAt *time.Time      `json:"processed_at,omitempty"`
}

func toEventResponse(event webhook.Event) eventResponse {
	resp := eventResponse{
		ID:        event.ID,
		TenantID:  event.TenantID,
		EventType: event.EventType,
		Version:   event.Version,
		Source:    event.Source,
		Data:      event.Data,
		Status:    event.Status.String(),
		LastError: event.LastError,
		CreatedAt: event.CreatedAt,
	}
	if !event.ProcessedAt.IsZero() {
		processedAt := event.ProcessedAt
		resp.ProcessedAt = &processedAt
	}
	return resp
}

// postEvent handles POST /v1/events
func postEvent(webhookService webhook.UseCase) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req eventRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid JSON body", http.StatusBadRequest)
			return
		}

		event, err := webhookService.CreateEvent(r.Context(), webhook.CreateEventInput{
			TenantID:  req.TenantID,
			EventType: req.EventType,
			Version:   req.Version,
			Source:    req.Source,
			Data:      req.Data,
		})
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		// Accepted: fan-out and delivery happen asynchronously
		writeJSON(w, http.StatusAccepted, toEventResponse(event))
	})
}

// getEvent handles GET /v1/events/{id}
func getEvent(webhookService webhook.UseCase) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		event, err := webhookService.GetEvent(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toEventResponse(event))
	})
}

// getEventDeliveries handles GET /v1/events/{id}/deliveries
func getEventDeliveries(webhookService webhook.UseCase) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		deliveries, err := webhookService.ListDeliveriesByEvent(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toDeliveryResponses(deliveries))
	})
}
