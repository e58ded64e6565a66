package agent

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/dnsmgr/dnsmgr/internal/bindfs"
	"github.com/dnsmgr/dnsmgr/internal/core/domain"
	"github.com/dnsmgr/dnsmgr/internal/core/ports"
)

// NewTargetFactory returns the factory wiring every server row to its Target:
// the server marked local writes straight to disk, everything else goes
// through the agent HTTP API.
func NewTargetFactory(store *bindfs.Store, checker ports.BindChecker, timeout time.Duration, insecureSkipVerify bool) ports.TargetFactory {
	return func(srv domain.Server) ports.Target {
		if srv.IsLocal {
			return &LocalTarget{server: srv, store: store, checker: checker}
		}
		return &RemoteTarget{
			server: srv,
			client: NewClient(srv.APIIP, srv.APIToken, timeout, insecureSkipVerify),
		}
	}
}

// LocalTarget distributes to the manager's own BIND instance via the
// filesystem, mirroring what the remote agent does on its host.
type LocalTarget struct {
	server  domain.Server
	store   *bindfs.Store
	checker ports.BindChecker
}

func (t *LocalTarget) Server() domain.Server { return t.server }

// WriteZoneFile installs the zone file under a temporary name first, validates
// it in place and only then renames it over the live file.
func (t *LocalTarget) WriteZoneFile(ctx context.Context, zoneName string, data []byte, validZones []string) (string, error) {
	tmp, err := t.store.WriteTemp(zoneName, data)
	if err != nil {
		return "", err
	}
	out, err := t.checker.CheckZone(ctx, zoneName, tmp)
	if err != nil {
		t.store.Discard(tmp)
		return out, fmt.Errorf("check zone %s: %w", zoneName, err)
	}
	if domain.ClassifyCheckOutput(out, true) == domain.StatusError {
		t.store.Discard(tmp)
		return out, fmt.Errorf("zone %s failed validation on %s", zoneName, t.server.Name)
	}
	if err := t.store.Install(tmp, zoneName); err != nil {
		t.store.Discard(tmp)
		return out, err
	}
	if _, err := t.store.PruneOrphans(validZones); err != nil {
		return out, err
	}
	return out, nil
}

// WriteConfFile stores the zone's config fragment and regenerates zones.conf.
func (t *LocalTarget) WriteConfFile(ctx context.Context, zoneName string, data []byte, validZones []string) (string, error) {
	if err := t.store.WriteConfFragment(zoneName, data); err != nil {
		return "", err
	}
	if err := t.store.RegenerateZonesConf(); err != nil {
		return "", err
	}
	if _, err := t.store.PruneOrphans(validZones); err != nil {
		return "", err
	}
	out, err := t.checker.CheckConf(ctx)
	if err != nil {
		return out, fmt.Errorf("check conf on %s: %w", t.server.Name, err)
	}
	if domain.ClassifyCheckOutput(out, false) == domain.StatusError {
		return out, fmt.Errorf("configuration failed validation on %s", t.server.Name)
	}
	return out, nil
}

func (t *LocalTarget) CheckZone(ctx context.Context, zoneName string) (string, error) {
	path := t.store.ZoneFilePath(zoneName)
	if _, err := os.Stat(path); err != nil {
		return "", fmt.Errorf("zone file for %s not present on %s: %w", zoneName, t.server.Name, err)
	}
	return t.checker.CheckZone(ctx, zoneName, path)
}

func (t *LocalTarget) CheckConf(ctx context.Context) (string, error) {
	return t.checker.CheckConf(ctx)
}

func (t *LocalTarget) Reload(ctx context.Context) (string, error) {
	return t.checker.Reload(ctx)
}

// Status assembles the same health report the remote agent would serve.
func (t *LocalTarget) Status(ctx context.Context) (*domain.AgentStatus, error) {
	hostname, _ := os.Hostname()
	rndcOut, _ := t.checker.RndcStatus(ctx)
	status := &domain.AgentStatus{
		Status:   "ok",
		Hostname: hostname,
		Bind: domain.AgentBindStatus{
			NamedRunning:        t.checker.NamedRunning(ctx),
			RndcStatus:          rndcOut,
			DNSQueryLocalhostOK: t.checker.ResolveLocalhost(ctx, t.server.Name),
		},
	}
	if !status.Bind.NamedRunning || !status.Bind.DNSQueryLocalhostOK {
		status.Status = "degraded"
	}
	return status, nil
}

// RemoteTarget distributes to a remote server through its agent.
type RemoteTarget struct {
	server domain.Server
	client *Client
}

func (t *RemoteTarget) Server() domain.Server { return t.server }

func (t *RemoteTarget) WriteZoneFile(ctx context.Context, zoneName string, data []byte, validZones []string) (string, error) {
	return t.client.SyncZone(ctx, t.server.ID, zoneName, data, validZones)
}

func (t *RemoteTarget) WriteConfFile(ctx context.Context, zoneName string, data []byte, validZones []string) (string, error) {
	if err := t.client.SyncConf(ctx, zoneName, data, validZones); err != nil {
		return "", err
	}
	return "", nil
}

func (t *RemoteTarget) CheckZone(ctx context.Context, zoneName string) (string, error) {
	return t.client.CheckZone(ctx, zoneName)
}

func (t *RemoteTarget) CheckConf(ctx context.Context) (string, error) {
	return t.client.CheckConf(ctx)
}

func (t *RemoteTarget) Reload(ctx context.Context) (string, error) {
	return t.client.Reload(ctx)
}

func (t *RemoteTarget) Status(ctx context.Context) (*domain.AgentStatus, error) {
	return t.client.Status(ctx)
}
