package agentd

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/mock"

	"github.com/dnsmgr/dnsmgr/internal/bindfs"
	"github.com/dnsmgr/dnsmgr/internal/testutil"
)

func newAgentFixture(t *testing.T) (*Server, *bindfs.Store, *testutil.MockChecker) {
	t.Helper()
	root := t.TempDir()
	dataDir := filepath.Join(root, "data")
	confDir := filepath.Join(root, "conf")
	for _, dir := range []string{dataDir, confDir} {
		if err := os.Mkdir(dir, 0o755); err != nil {
			t.Fatal(err)
		}
	}
	store := &bindfs.Store{
		DataDir:   dataDir,
		ConfDir:   confDir,
		ZonesConf: filepath.Join(confDir, "zones.conf"),
	}
	checker := &testutil.MockChecker{}
	srv := NewServer(store, checker, slog.New(slog.NewTextHandler(io.Discard, nil)))
	srv.procDir = root
	return srv, store, checker
}

func postJSON(t *testing.T, handler http.Handler, path string, payload any) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatal(err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]string {
	t.Helper()
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body %q: %v", rec.Body.String(), err)
	}
	return body
}

func TestZoneSyncInstallsValidZone(t *testing.T) {
	srv, store, checker := newAgentFixture(t)
	checker.On("CheckZone", "example.com", mock.Anything).Return("zone example.com/IN: loaded serial 1\nOK", nil)
	checker.On("Reload").Return("server reload successful", nil)

	rec := postJSON(t, srv.Routes(), "/zones/zone_sync.php", map[string]any{
		"zone_id":   "z1",
		"zone_name": "example.com",
		"zone_data": base64.StdEncoding.EncodeToString([]byte("zone data\n")),
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d, body = %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	if body["status"] != "success" || body["rndc"] != "server reload successful" {
		t.Errorf("body = %v", body)
	}
	data, err := os.ReadFile(store.ZoneFilePath("example.com"))
	if err != nil {
		t.Fatalf("zone file not installed: %v", err)
	}
	if string(data) != "zone data\n" {
		t.Errorf("content = %q", data)
	}
}

func TestZoneSyncRejectsInvalidZone(t *testing.T) {
	srv, store, checker := newAgentFixture(t)
	checker.On("CheckZone", "example.com", mock.Anything).Return("db.example.com:3: syntax error", nil)

	rec := postJSON(t, srv.Routes(), "/zones/zone_sync.php", map[string]any{
		"zone_name": "example.com",
		"zone_data": base64.StdEncoding.EncodeToString([]byte("broken\n")),
	})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("code = %d", rec.Code)
	}
	body := decodeBody(t, rec)
	if !strings.Contains(body["check_output"], "syntax error") {
		t.Errorf("check_output = %q", body["check_output"])
	}
	if _, err := os.Stat(store.ZoneFilePath("example.com")); !os.IsNotExist(err) {
		t.Error("rejected zone file was installed")
	}
	leftovers, _ := filepath.Glob(filepath.Join(store.DataDir, "*.tmp.*"))
	if len(leftovers) != 0 {
		t.Errorf("temp files left behind: %v", leftovers)
	}
}

func TestZoneSyncBadBase64(t *testing.T) {
	srv, _, _ := newAgentFixture(t)
	rec := postJSON(t, srv.Routes(), "/zones/zone_sync.php", map[string]any{
		"zone_name": "example.com",
		"zone_data": "not base64!",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("code = %d", rec.Code)
	}
}

func TestConfSyncRegeneratesInclude(t *testing.T) {
	srv, store, _ := newAgentFixture(t)
	rec := postJSON(t, srv.Routes(), "/zones/conf_sync.php", map[string]any{
		"zone_name": "example.com",
		"conf_data": base64.StdEncoding.EncodeToString([]byte("zone \"example.com\" {};\n")),
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d, body = %s", rec.Code, rec.Body.String())
	}
	include, err := os.ReadFile(store.ZonesConf)
	if err != nil {
		t.Fatalf("zones.conf missing: %v", err)
	}
	if !strings.Contains(string(include), "example.com.conf") {
		t.Errorf("zones.conf = %q", include)
	}
}

func TestZoneCheckMissingFile(t *testing.T) {
	srv, _, _ := newAgentFixture(t)
	rec := postJSON(t, srv.Routes(), "/zones/zone_check.php", map[string]any{"zone_name": "missing.example"})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("code = %d", rec.Code)
	}
}

func TestControlUnknownAction(t *testing.T) {
	srv, _, _ := newAgentFixture(t)
	rec := postJSON(t, srv.Routes(), "/system/control.php", map[string]any{"action": "reboot"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("code = %d", rec.Code)
	}
}

func TestControlReloadRequiresMarker(t *testing.T) {
	srv, _, checker := newAgentFixture(t)
	// rndc exits 0 here, but without the marker the reload did not happen.
	checker.On("Reload").Return("rndc: 'reload' failed: dynamic zone", nil)

	rec := postJSON(t, srv.Routes(), "/system/control.php", map[string]any{"action": "reload-bind"})
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("code = %d, body = %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	if body["status"] != "error" || !strings.Contains(body["message"], "dynamic zone") {
		t.Errorf("body = %v", body)
	}
}

func TestControlReloadSuccess(t *testing.T) {
	srv, _, checker := newAgentFixture(t)
	checker.On("Reload").Return("server reload successful", nil)

	rec := postJSON(t, srv.Routes(), "/system/control.php", map[string]any{"action": "reload-bind"})
	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d, body = %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	if body["status"] != "ok" || body["message"] != "server reload successful" {
		t.Errorf("body = %v", body)
	}
}

func TestStatusDegradedAnswers503(t *testing.T) {
	srv, _, checker := newAgentFixture(t)
	if err := os.WriteFile(filepath.Join(srv.procDir, "uptime"), []byte("12345.67 5000.00\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(srv.procDir, "loadavg"), []byte("0.15 0.10 0.05 1/234 5678\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	checker.On("NamedRunning").Return(false)
	checker.On("ResolveLocalhost", mock.Anything).Return(true)
	checker.On("RndcStatus").Return("rndc: connect failed", nil)

	req := httptest.NewRequest(http.MethodGet, "/system/status.php", nil)
	rec := httptest.NewRecorder()
	srv.Routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("code = %d", rec.Code)
	}
	var status struct {
		Status        string  `json:"status"`
		UptimeSeconds float64 `json:"uptime_seconds"`
		AgentVersion  string  `json:"agent_version"`
		LoadAverage   struct {
			Load1 float64 `json:"1min"`
		} `json:"load_average"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &status); err != nil {
		t.Fatal(err)
	}
	if status.Status != "degraded" {
		t.Errorf("status = %q", status.Status)
	}
	if status.UptimeSeconds != 12345.67 || status.LoadAverage.Load1 != 0.15 {
		t.Errorf("host stats = %+v", status)
	}
	if status.AgentVersion != Version {
		t.Errorf("agent_version = %q", status.AgentVersion)
	}
}

func TestAuthMiddleware(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	handler, err := Auth("secret", []string{"192.0.2.0/24", "2001:db8::1"}, logger)(next)
	if err != nil {
		t.Fatalf("Auth() error: %v", err)
	}

	tests := []struct {
		name   string
		remote string
		header string
		want   int
	}{
		{"valid", "192.0.2.10:4711", "Bearer secret", http.StatusOK},
		{"bare address allowlisted", "[2001:db8::1]:4711", "Bearer secret", http.StatusOK},
		{"missing token", "192.0.2.10:4711", "", http.StatusUnauthorized},
		{"wrong token", "192.0.2.10:4711", "Bearer nope", http.StatusUnauthorized},
		{"wrong scheme", "192.0.2.10:4711", "Basic secret", http.StatusUnauthorized},
		{"disallowed address", "198.51.100.1:4711", "Bearer secret", http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/zones/conf_check.php", nil)
			req.RemoteAddr = tt.remote
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Errorf("code = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestAuthRequiresToken(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	if _, err := Auth("", nil, logger)(http.NotFoundHandler()); err == nil {
		t.Fatal("expected error for empty token")
	}
}

func TestAuthRejectsInvalidNetwork(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	if _, err := Auth("secret", []string{"not-a-network"}, logger)(http.NotFoundHandler()); err == nil {
		t.Fatal("expected error for malformed allowlist entry")
	}
}
