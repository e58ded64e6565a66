// Package api exposes the management HTTP API consumed by operators and
// tooling. Every mutation response carries the named-checkzone verdict of the
// change so callers see validation output immediately.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dnsmgr/dnsmgr/internal/core/domain"
	"github.com/dnsmgr/dnsmgr/internal/core/ports"
	"github.com/dnsmgr/dnsmgr/internal/core/services"
)

// Publisher triggers publish runs; satisfied by services.Publisher.
type Publisher interface {
	PublishAll(ctx context.Context) (*domain.PublishReport, error)
}

// APIHandler handles HTTP requests for zone, record and server management.
type APIHandler struct {
	svc       ports.ZoneService
	repo      ports.ZoneRepository
	publisher Publisher
	logger    *slog.Logger
}

// NewAPIHandler creates and returns a new APIHandler instance.
func NewAPIHandler(svc ports.ZoneService, repo ports.ZoneRepository, publisher Publisher, logger *slog.Logger) *APIHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &APIHandler{svc: svc, repo: repo, publisher: publisher, logger: logger}
}

// RegisterRoutes registers the API routes with the provided ServeMux.
func (h *APIHandler) RegisterRoutes(mux *http.ServeMux) {
	// Public Routes
	mux.HandleFunc("GET /health", h.HealthCheck)
	mux.HandleFunc("GET /metrics", h.Metrics)

	// Middleware
	auth := AuthMiddleware(h.repo)
	admin := RequireRole(domain.RoleAdmin)

	// Protected Routes
	mux.Handle("POST /zones", auth(admin(http.HandlerFunc(h.CreateZone))))
	mux.Handle("GET /zones", auth(http.HandlerFunc(h.ListZones)))
	mux.Handle("GET /zones/{id}", auth(http.HandlerFunc(h.GetZone)))
	mux.Handle("PUT /zones/{id}", auth(admin(http.HandlerFunc(h.UpdateZone))))
	mux.Handle("DELETE /zones/{id}", auth(admin(http.HandlerFunc(h.DeleteZone))))
	mux.Handle("PUT /zones/{id}/servers", auth(admin(http.HandlerFunc(h.AssignServers))))
	mux.Handle("POST /zones/{id}/rebuild", auth(admin(http.HandlerFunc(h.RebuildZone))))
	mux.Handle("POST /zones/{id}/import", auth(admin(http.HandlerFunc(h.ImportZone))))

	mux.Handle("GET /zones/{id}/records", auth(http.HandlerFunc(h.ListRecordsForZone)))
	mux.Handle("POST /zones/{id}/records", auth(admin(http.HandlerFunc(h.CreateRecord))))
	mux.Handle("PUT /zones/{zone_id}/records/{id}", auth(admin(http.HandlerFunc(h.UpdateRecord))))
	mux.Handle("DELETE /zones/{zone_id}/records/{id}", auth(admin(http.HandlerFunc(h.DeleteRecord))))

	mux.Handle("POST /servers", auth(admin(http.HandlerFunc(h.CreateServer))))
	mux.Handle("GET /servers", auth(http.HandlerFunc(h.ListServers)))
	mux.Handle("PUT /servers/{id}", auth(admin(http.HandlerFunc(h.UpdateServer))))
	mux.Handle("DELETE /servers/{id}", auth(admin(http.HandlerFunc(h.DeleteServer))))

	mux.Handle("POST /publish", auth(admin(http.HandlerFunc(h.Publish))))
	mux.Handle("GET /dyndns/update", auth(admin(http.HandlerFunc(h.DynDNSUpdate))))
}

// Metrics handles Prometheus metrics scraping requests.
func (h *APIHandler) Metrics(w http.ResponseWriter, r *http.Request) {
	promhttp.Handler().ServeHTTP(w, r)
}

// HealthCheck handles health check requests.
func (h *APIHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	status := "UP"
	details := make(map[string]string)
	checks := h.svc.HealthCheck(r.Context())

	for name, checkErr := range checks {
		if checkErr != nil {
			status = "DEGRADED"
			details[name] = checkErr.Error()
		} else {
			details[name] = "OK"
		}
	}

	resp := map[string]any{
		"status":  status,
		"details": details,
	}

	w.Header().Set("Content-Type", "application/json")
	if status == "DEGRADED" {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}
	h.encode(w, resp)
}

type mutationResponse struct {
	Check *domain.CheckResult `json:"check,omitempty"`
	Data  any                 `json:"data,omitempty"`
}

// respondMutation writes the outcome of a gated mutation. A check that
// classified as error means the write was rolled back; the caller gets 422
// plus the full tool output.
func (h *APIHandler) respondMutation(w http.ResponseWriter, check *domain.CheckResult, data any, createdCode int) {
	w.Header().Set("Content-Type", "application/json")
	if check != nil && check.Status == domain.StatusError {
		w.WriteHeader(http.StatusUnprocessableEntity)
	} else {
		w.WriteHeader(createdCode)
	}
	h.encode(w, mutationResponse{Check: check, Data: data})
}

func (h *APIHandler) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidIPv4),
		errors.Is(err, domain.ErrInvalidIPv6),
		errors.Is(err, domain.ErrInvalidHostname),
		errors.Is(err, domain.ErrInvalidContent),
		errors.Is(err, domain.ErrInvalidTTL):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, domain.ErrProtectedRecord),
		errors.Is(err, domain.ErrServerInUse),
		errors.Is(err, services.ErrPublishLocked):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func (h *APIHandler) encode(w http.ResponseWriter, payload any) {
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

type createZoneRequest struct {
	domain.Zone
	Servers []domain.ZoneServer `json:"servers"`
}

func (h *APIHandler) CreateZone(w http.ResponseWriter, r *http.Request) {
	var req createZoneRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	check, err := h.svc.CreateZone(r.Context(), &req.Zone, req.Servers)
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.respondMutation(w, check, req.Zone, http.StatusCreated)
}

func (h *APIHandler) ListZones(w http.ResponseWriter, r *http.Request) {
	zones, err := h.svc.ListZones(r.Context())
	if err != nil {
		h.respondError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	h.encode(w, zones)
}

func (h *APIHandler) GetZone(w http.ResponseWriter, r *http.Request) {
	zone, err := h.svc.GetZone(r.Context(), r.PathValue("id"))
	if err != nil {
		h.respondError(w, err)
		return
	}
	if zone == nil {
		http.Error(w, "zone not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	h.encode(w, zone)
}

func (h *APIHandler) UpdateZone(w http.ResponseWriter, r *http.Request) {
	var zone domain.Zone
	if err := json.NewDecoder(r.Body).Decode(&zone); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	zone.ID = r.PathValue("id")

	check, err := h.svc.UpdateZone(r.Context(), &zone)
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.respondMutation(w, check, zone, http.StatusOK)
}

func (h *APIHandler) DeleteZone(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.DeleteZone(r.Context(), r.PathValue("id")); err != nil {
		h.respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *APIHandler) AssignServers(w http.ResponseWriter, r *http.Request) {
	var assignments []domain.ZoneServer
	if err := json.NewDecoder(r.Body).Decode(&assignments); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	check, err := h.svc.AssignServers(r.Context(), r.PathValue("id"), assignments)
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.respondMutation(w, check, nil, http.StatusOK)
}

func (h *APIHandler) RebuildZone(w http.ResponseWriter, r *http.Request) {
	check, err := h.svc.RebuildNSAndGlue(r.Context(), r.PathValue("id"))
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.respondMutation(w, check, nil, http.StatusOK)
}

type importRequest struct {
	ZoneFile string `json:"zone_file"`
}

func (h *APIHandler) ImportZone(w http.ResponseWriter, r *http.Request) {
	var req importRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	check, err := h.svc.ImportZoneFile(r.Context(), r.PathValue("id"), []byte(req.ZoneFile))
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.respondMutation(w, check, nil, http.StatusOK)
}

func (h *APIHandler) ListRecordsForZone(w http.ResponseWriter, r *http.Request) {
	records, err := h.svc.ListRecordsForZone(r.Context(), r.PathValue("id"))
	if err != nil {
		h.respondError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	h.encode(w, records)
}

func (h *APIHandler) CreateRecord(w http.ResponseWriter, r *http.Request) {
	var record domain.Record
	if err := json.NewDecoder(r.Body).Decode(&record); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	record.ZoneID = r.PathValue("id")

	check, err := h.svc.CreateRecord(r.Context(), &record)
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.respondMutation(w, check, record, http.StatusCreated)
}

func (h *APIHandler) UpdateRecord(w http.ResponseWriter, r *http.Request) {
	var record domain.Record
	if err := json.NewDecoder(r.Body).Decode(&record); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	record.ID = r.PathValue("id")
	record.ZoneID = r.PathValue("zone_id")

	check, err := h.svc.UpdateRecord(r.Context(), &record)
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.respondMutation(w, check, record, http.StatusOK)
}

func (h *APIHandler) DeleteRecord(w http.ResponseWriter, r *http.Request) {
	check, err := h.svc.DeleteRecord(r.Context(), r.PathValue("id"), r.PathValue("zone_id"))
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.respondMutation(w, check, nil, http.StatusOK)
}

func (h *APIHandler) CreateServer(w http.ResponseWriter, r *http.Request) {
	var server domain.Server
	if err := json.NewDecoder(r.Body).Decode(&server); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := h.svc.CreateServer(r.Context(), &server); err != nil {
		h.respondError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	h.encode(w, server)
}

func (h *APIHandler) ListServers(w http.ResponseWriter, r *http.Request) {
	servers, err := h.svc.ListServers(r.Context())
	if err != nil {
		h.respondError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	h.encode(w, servers)
}

func (h *APIHandler) UpdateServer(w http.ResponseWriter, r *http.Request) {
	var server domain.Server
	if err := json.NewDecoder(r.Body).Decode(&server); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	server.ID = r.PathValue("id")

	check, err := h.svc.UpdateServer(r.Context(), &server)
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.respondMutation(w, check, server, http.StatusOK)
}

func (h *APIHandler) DeleteServer(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.DeleteServer(r.Context(), r.PathValue("id")); err != nil {
		h.respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Publish triggers a full publish cycle and returns its report. A run already
// in progress answers 409.
func (h *APIHandler) Publish(w http.ResponseWriter, r *http.Request) {
	report, err := h.publisher.PublishAll(r.Context())
	if err != nil {
		h.respondError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if !report.OK() {
		w.WriteHeader(http.StatusUnprocessableEntity)
	}
	h.encode(w, report)
}

// DynDNSUpdate upserts the address record of a dynamic host. Routers call
// this with GET and query parameters, hence the unusual shape.
func (h *APIHandler) DynDNSUpdate(w http.ResponseWriter, r *http.Request) {
	zone := r.URL.Query().Get("zone")
	host := r.URL.Query().Get("host")
	ip := r.URL.Query().Get("ip")
	if zone == "" || host == "" || ip == "" {
		http.Error(w, "zone, host and ip are required", http.StatusBadRequest)
		return
	}

	check, err := h.svc.UpdateDynDNS(r.Context(), zone, host, ip)
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.respondMutation(w, check, nil, http.StatusOK)
}
