// Package agent contains the distribution transport: an HTTP client for the
// per-server agent plus the Target implementations used by the publisher.
package agent

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/dnsmgr/dnsmgr/internal/core/domain"
)

// DefaultTimeout bounds every agent call so one unreachable server cannot
// stall a publish run.
const DefaultTimeout = 5 * time.Second

// Client talks to one remote server's agent over authenticated HTTPS.
type Client struct {
	baseURL string
	token   string
	httpc   *http.Client
}

// NewClient creates a Client for the agent at apiIP. Agents commonly run with
// self-signed certificates; insecureSkipVerify opts out of verification.
func NewClient(apiIP, token string, timeout time.Duration, insecureSkipVerify bool) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	transport := http.DefaultTransport
	if insecureSkipVerify {
		transport = &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true}, // #nosec G402 -- operator opt-in for self-signed agents
		}
	}
	return &Client{
		baseURL: "https://" + apiIP,
		token:   token,
		httpc:   &http.Client{Timeout: timeout, Transport: transport},
	}
}

type syncZoneRequest struct {
	ZoneID     string   `json:"zone_id"`
	ZoneName   string   `json:"zone_name"`
	ZoneData   string   `json:"zone_data"`
	ValidZones []string `json:"valid_zones,omitempty"`
}

type syncZoneResponse struct {
	Status      string `json:"status"`
	Rndc        string `json:"rndc"`
	CheckOutput string `json:"check_output"`
	Message     string `json:"message"`
}

type syncConfRequest struct {
	ZoneName   string   `json:"zone_name"`
	ConfData   string   `json:"conf_data"`
	ValidZones []string `json:"valid_zones,omitempty"`
}

type checkResponse struct {
	Status      string `json:"status"`
	CheckOutput string `json:"check_output"`
	Message     string `json:"message"`
}

type controlRequest struct {
	Action string `json:"action"`
}

type controlResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// SyncZone pushes a validated zone file. The agent re-validates and installs
// it; its rndc reload output is returned.
func (c *Client) SyncZone(ctx context.Context, zoneID, zoneName string, data []byte, validZones []string) (string, error) {
	req := syncZoneRequest{
		ZoneID:     zoneID,
		ZoneName:   zoneName,
		ZoneData:   base64.StdEncoding.EncodeToString(data),
		ValidZones: validZones,
	}
	var resp syncZoneResponse
	code, err := c.postJSON(ctx, "/zones/zone_sync.php", req, &resp)
	if err != nil {
		return "", err
	}
	if code != http.StatusOK {
		if resp.CheckOutput != "" {
			return "", fmt.Errorf("zone %s rejected by agent: %s", zoneName, resp.CheckOutput)
		}
		return "", fmt.Errorf("zone %s rejected by agent (HTTP %d): %s", zoneName, code, resp.Message)
	}
	return resp.Rndc, nil
}

// SyncConf pushes a zone's config fragment; the agent regenerates its
// zones.conf include list.
func (c *Client) SyncConf(ctx context.Context, zoneName string, data []byte, validZones []string) error {
	req := syncConfRequest{
		ZoneName:   zoneName,
		ConfData:   base64.StdEncoding.EncodeToString(data),
		ValidZones: validZones,
	}
	var resp checkResponse
	code, err := c.postJSON(ctx, "/zones/conf_sync.php", req, &resp)
	if err != nil {
		return err
	}
	if code != http.StatusOK {
		return fmt.Errorf("conf for %s rejected by agent (HTTP %d): %s", zoneName, code, resp.Message)
	}
	return nil
}

// CheckZone runs named-checkzone remotely against the installed zone file.
func (c *Client) CheckZone(ctx context.Context, zoneName string) (string, error) {
	var resp checkResponse
	code, err := c.postJSON(ctx, "/zones/zone_check.php", map[string]string{"zone_name": zoneName}, &resp)
	if err != nil {
		return "", err
	}
	if code == http.StatusNotFound {
		return "", fmt.Errorf("zone file for %s not present on agent", zoneName)
	}
	if code != http.StatusOK {
		return "", fmt.Errorf("zone check for %s failed (HTTP %d): %s", zoneName, code, resp.Message)
	}
	return resp.CheckOutput, nil
}

// CheckConf runs named-checkconf remotely.
func (c *Client) CheckConf(ctx context.Context) (string, error) {
	var resp checkResponse
	code, err := c.getJSON(ctx, "/zones/conf_check.php", &resp)
	if err != nil {
		return "", err
	}
	if code != http.StatusOK {
		return "", fmt.Errorf("conf check failed (HTTP %d): %s", code, resp.Message)
	}
	return resp.CheckOutput, nil
}

// Reload triggers rndc reload on the agent's server.
func (c *Client) Reload(ctx context.Context) (string, error) {
	var resp controlResponse
	code, err := c.postJSON(ctx, "/system/control.php", controlRequest{Action: "reload-bind"}, &resp)
	if err != nil {
		return "", err
	}
	if code != http.StatusOK {
		return resp.Message, fmt.Errorf("reload failed (HTTP %d): %s", code, resp.Message)
	}
	return resp.Message, nil
}

// Status fetches the agent's health report. A degraded report (HTTP 503) is
// returned to the caller, not treated as a transport error.
func (c *Client) Status(ctx context.Context) (*domain.AgentStatus, error) {
	var status domain.AgentStatus
	code, err := c.getJSON(ctx, "/system/status.php", &status)
	if err != nil {
		return nil, err
	}
	if code != http.StatusOK && code != http.StatusServiceUnavailable {
		return nil, fmt.Errorf("status request failed (HTTP %d)", code)
	}
	return &status, nil
}

func (c *Client) postJSON(ctx context.Context, path string, body, out any) (int, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return 0, fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) getJSON(ctx context.Context, path string, out any) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return 0, err
	}
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) (int, error) {
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpc.Do(req)
	if err != nil {
		// Surfaced verbatim in publish reports; kept in the wording operators
		// of the predecessor system know.
		return 0, fmt.Errorf("Verbindungsfehler: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return resp.StatusCode, fmt.Errorf("read agent response: %w", err)
	}
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return resp.StatusCode, fmt.Errorf("agent rejected credentials (HTTP %d)", resp.StatusCode)
	}
	if out != nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			return resp.StatusCode, fmt.Errorf("decode agent response (HTTP %d): %w", resp.StatusCode, err)
		}
	}
	return resp.StatusCode, nil
}
