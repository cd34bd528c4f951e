package chi

import (
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/commercekit/eventrelay/registry"
	"github.com/go-chi/chi/v5"
)

// instanceResponse represents one registered service instance
type instanceResponse struct {
	ID          string     `json:"id"`
	Version     string     `json:"version,omitempty"`
	BaseURL     string     `json:"base_url"`
	HealthState string     `json:"health_state"`
	LastProbeAt *time.Time `json:"last_probe_at,omitempty"`
}

// serviceResponse represents one logical service with its call health,
// circuit state and registered instances
type serviceResponse struct {
	Name                string             `json:"name"`
	CircuitState        string             `json:"circuit_state"`
	SuccessRate         float64            `json:"success_rate"`
	ConsecutiveFailures int                `json:"consecutive_failures"`
	Instances           []instanceResponse `json:"instances"`
}

func toInstanceResponse(inst registry.Instance) instanceResponse {
	resp := instanceResponse{
		ID:          inst.ID(),
		Version:     inst.Version,
		BaseURL:     inst.BaseURL(),
		HealthState: inst.HealthState.String(),
	}
	if !inst.LastProbeAt.IsZero() {
		lastProbeAt := inst.LastProbeAt
		resp.LastProbeAt = &lastProbeAt
	}
	return resp
}

func toServiceResponse(r *http.Request, reg *registry.Registry, name string) (serviceResponse, error) {
	circuit, err := reg.CircuitState(r.Context(), name)
	if err != nil {
		return serviceResponse{}, fmt.Errorf("reading circuit state for %s: %w", name, err)
	}

	instances := reg.Instances(name)
	responses := make([]instanceResponse, 0, len(instances))
	for _, inst := range instances {
		responses = append(responses, toInstanceResponse(inst))
	}

	snap := reg.Health(name)
	return serviceResponse{
		Name:                name,
		CircuitState:        circuit.String(),
		SuccessRate:         snap.SuccessRate(),
		ConsecutiveFailures: snap.ConsecutiveFailures,
		Instances:           responses,
	}, nil
}

// getServices handles GET /v1/services
func getServices(reg *registry.Registry) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		names := reg.ServiceNames()
		sort.Strings(names)
		services := make([]serviceResponse, 0, len(names))
		for _, name := range names {
			service, err := toServiceResponse(r, reg, name)
			if err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
			services = append(services, service)
		}
		writeJSON(w, http.StatusOK, services)
	})
}

// getServiceInstances handles GET /v1/services/{name}
func getServiceInstances(reg *registry.Registry) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		name := chi.URLParam(r, "name")
		if len(reg.Instances(name)) == 0 {
			http.Error(w, fmt.Sprintf("service not found: %s", name), http.StatusNotFound)
			return
		}

		service, err := toServiceResponse(r, reg, name)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, service)
	})
}
