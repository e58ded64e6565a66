// Package agentd implements the HTTP service that runs on each managed name
// server. It receives zone files and config fragments from the manager,
// validates them before installation and exposes health and control endpoints.
package agentd

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/dnsmgr/dnsmgr/internal/bindfs"
	"github.com/dnsmgr/dnsmgr/internal/core/domain"
	"github.com/dnsmgr/dnsmgr/internal/core/ports"
)

// Version is reported in the status endpoint so the manager can spot
// out-of-date agents.
const Version = "1.2.0"

// Server handles the agent's HTTP API.
type Server struct {
	store   *bindfs.Store
	checker ports.BindChecker
	logger  *slog.Logger
	procDir string // overridable for tests
}

// NewServer creates an agent Server over the given BIND file layout.
func NewServer(store *bindfs.Store, checker ports.BindChecker, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{store: store, checker: checker, logger: logger, procDir: "/proc"}
}

// Routes returns the agent's handler without authentication; callers wrap it
// with Auth.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /system/control.php", s.handleControl)
	mux.HandleFunc("GET /system/status.php", s.handleStatus)
	mux.HandleFunc("POST /zones/zone_sync.php", s.handleZoneSync)
	mux.HandleFunc("POST /zones/conf_sync.php", s.handleConfSync)
	mux.HandleFunc("POST /zones/zone_check.php", s.handleZoneCheck)
	mux.HandleFunc("GET /zones/conf_check.php", s.handleConfCheck)
	return mux
}

type zoneSyncRequest struct {
	ZoneID     string   `json:"zone_id"`
	ZoneName   string   `json:"zone_name"`
	ZoneData   string   `json:"zone_data"`
	ValidZones []string `json:"valid_zones"`
}

// handleZoneSync validates the pushed zone file against named-checkzone before
// it replaces the live file. A file that does not load is rejected with 422
// and never installed.
func (s *Server) handleZoneSync(w http.ResponseWriter, r *http.Request) {
	var req zoneSyncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ZoneName == "" || req.ZoneData == "" {
		s.respondError(w, http.StatusBadRequest, "zone_name and zone_data are required")
		return
	}
	data, err := base64.StdEncoding.DecodeString(req.ZoneData)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "zone_data is not valid base64")
		return
	}

	tmp, err := s.store.WriteTemp(req.ZoneName, data)
	if err != nil {
		s.logger.Error("failed to stage zone file", "zone", req.ZoneName, "error", err)
		s.respondError(w, http.StatusInternalServerError, "failed to stage zone file")
		return
	}
	out, err := s.checker.CheckZone(r.Context(), req.ZoneName, tmp)
	if err != nil {
		s.logger.Warn("named-checkzone did not run cleanly", "zone", req.ZoneName, "error", err)
	}
	if domain.ClassifyCheckOutput(out, true) == domain.StatusError {
		s.store.Discard(tmp)
		s.logger.Warn("rejected zone file", "zone", req.ZoneName)
		s.respondJSON(w, http.StatusUnprocessableEntity, map[string]string{
			"status":       "error",
			"message":      "zone file failed validation",
			"check_output": out,
		})
		return
	}
	if err := s.store.Install(tmp, req.ZoneName); err != nil {
		s.store.Discard(tmp)
		s.logger.Error("failed to install zone file", "zone", req.ZoneName, "error", err)
		s.respondError(w, http.StatusInternalServerError, "failed to install zone file")
		return
	}
	if removed, err := s.store.PruneOrphans(req.ValidZones); err != nil {
		s.logger.Error("failed to prune orphaned files", "error", err)
	} else if len(removed) > 0 {
		s.logger.Info("pruned orphaned files", "count", len(removed))
	}

	rndcOut, err := s.checker.Reload(r.Context())
	if err != nil {
		s.logger.Warn("rndc reload failed after zone install", "zone", req.ZoneName, "error", err)
	}
	s.logger.Info("zone file installed", "zone", req.ZoneName, "bytes", len(data))
	s.respondJSON(w, http.StatusOK, map[string]string{
		"status":       "success",
		"check_output": out,
		"rndc":         rndcOut,
	})
}

type confSyncRequest struct {
	ZoneName   string   `json:"zone_name"`
	ConfData   string   `json:"conf_data"`
	ValidZones []string `json:"valid_zones"`
}

// handleConfSync installs a per-zone config fragment and regenerates the
// aggregate zones.conf include list.
func (s *Server) handleConfSync(w http.ResponseWriter, r *http.Request) {
	var req confSyncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ZoneName == "" || req.ConfData == "" {
		s.respondError(w, http.StatusBadRequest, "zone_name and conf_data are required")
		return
	}
	data, err := base64.StdEncoding.DecodeString(req.ConfData)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "conf_data is not valid base64")
		return
	}

	if err := s.store.WriteConfFragment(req.ZoneName, data); err != nil {
		s.logger.Error("failed to write conf fragment", "zone", req.ZoneName, "error", err)
		s.respondError(w, http.StatusInternalServerError, "failed to write conf fragment")
		return
	}
	if err := s.store.RegenerateZonesConf(); err != nil {
		s.logger.Error("failed to regenerate zones.conf", "error", err)
		s.respondError(w, http.StatusInternalServerError, "failed to regenerate zones.conf")
		return
	}
	if _, err := s.store.PruneOrphans(req.ValidZones); err != nil {
		s.logger.Error("failed to prune orphaned files", "error", err)
	}
	s.logger.Info("conf fragment installed", "zone", req.ZoneName)
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "success"})
}

type zoneCheckRequest struct {
	ZoneName string `json:"zone_name"`
}

func (s *Server) handleZoneCheck(w http.ResponseWriter, r *http.Request) {
	var req zoneCheckRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ZoneName == "" {
		s.respondError(w, http.StatusBadRequest, "zone_name is required")
		return
	}
	path := s.store.ZoneFilePath(req.ZoneName)
	if _, err := os.Stat(path); err != nil {
		s.respondError(w, http.StatusNotFound, "zone file not found")
		return
	}
	out, err := s.checker.CheckZone(r.Context(), req.ZoneName, path)
	if err != nil {
		s.logger.Warn("named-checkzone did not run cleanly", "zone", req.ZoneName, "error", err)
	}
	s.respondJSON(w, http.StatusOK, map[string]string{
		"status":       string(domain.ClassifyCheckOutput(out, true)),
		"check_output": out,
	})
}

func (s *Server) handleConfCheck(w http.ResponseWriter, r *http.Request) {
	out, err := s.checker.CheckConf(r.Context())
	if err != nil {
		s.logger.Warn("named-checkconf did not run cleanly", "error", err)
	}
	s.respondJSON(w, http.StatusOK, map[string]string{
		"status":       string(domain.ClassifyCheckOutput(out, false)),
		"check_output": out,
	})
}

type controlRequest struct {
	Action string `json:"action"`
}

func (s *Server) handleControl(w http.ResponseWriter, r *http.Request) {
	var req controlRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	switch req.Action {
	case "reload-bind":
		out, err := s.checker.Reload(r.Context())
		// rndc can exit 0 without having reloaded; only the marker counts.
		if err != nil || !strings.Contains(out, "reload successful") {
			s.logger.Error("rndc reload failed", "error", err, "output", out)
			s.respondJSON(w, http.StatusInternalServerError, map[string]string{
				"status":  "error",
				"message": fmt.Sprintf("reload failed: %s", out),
			})
			return
		}
		s.logger.Info("bind reloaded on request")
		s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok", "message": out})
	default:
		s.respondError(w, http.StatusBadRequest, "unknown action")
	}
}

// handleStatus reports host and BIND health. A degraded BIND answers 503 so
// plain HTTP monitoring picks it up without parsing the body.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	hostname, _ := os.Hostname()
	status := domain.AgentStatus{
		Status:        "ok",
		Hostname:      hostname,
		UptimeSeconds: s.readUptime(),
		LoadAverage:   s.readLoadAverage(),
		AgentVersion:  Version,
		Bind: domain.AgentBindStatus{
			NamedRunning:        s.checker.NamedRunning(r.Context()),
			DNSQueryLocalhostOK: s.checker.ResolveLocalhost(r.Context(), hostname),
		},
	}
	if out, err := s.checker.RndcStatus(r.Context()); err == nil {
		status.Bind.RndcStatus = out
	} else {
		status.Bind.RndcStatus = fmt.Sprintf("rndc status failed: %v", err)
	}

	code := http.StatusOK
	if !status.Bind.NamedRunning || !status.Bind.DNSQueryLocalhostOK {
		status.Status = "degraded"
		code = http.StatusServiceUnavailable
	}
	s.respondJSON(w, code, status)
}

func (s *Server) readUptime() float64 {
	raw, err := os.ReadFile(filepath.Join(s.procDir, "uptime"))
	if err != nil {
		return 0
	}
	fields := strings.Fields(string(raw))
	if len(fields) == 0 {
		return 0
	}
	uptime, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return 0
	}
	return uptime
}

func (s *Server) readLoadAverage() domain.AgentLoadAverage {
	var load domain.AgentLoadAverage
	raw, err := os.ReadFile(filepath.Join(s.procDir, "loadavg"))
	if err != nil {
		return load
	}
	fields := strings.Fields(string(raw))
	if len(fields) < 3 {
		return load
	}
	load.Load1, _ = strconv.ParseFloat(fields[0], 64)
	load.Load5, _ = strconv.ParseFloat(fields[1], 64)
	load.Load15, _ = strconv.ParseFloat(fields[2], 64)
	return load
}

func (s *Server) respondJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("failed to encode response", "error", err)
	}
}

func (s *Server) respondError(w http.ResponseWriter, code int, message string) {
	s.respondJSON(w, code, map[string]string{"status": "error", "message": message})
}

// Run serves the agent API until ctx is cancelled.
func (s *Server) Run(ctx context.Context, addr, token string, allowedNets []string, certFile, keyFile string) error {
	handler, err := Auth(token, allowedNets, s.logger)(s.Routes())
	if err != nil {
		return err
	}
	srv := &http.Server{Addr: addr, Handler: handler}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("agent listening", "addr", addr, "tls", certFile != "")
		if certFile != "" {
			errCh <- srv.ListenAndServeTLS(certFile, keyFile)
		} else {
			errCh <- srv.ListenAndServe()
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
