package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/dnsmgr/dnsmgr/internal/core/domain"
	"github.com/dnsmgr/dnsmgr/internal/core/ports"
	"github.com/dnsmgr/dnsmgr/internal/infrastructure/metrics"
	"github.com/dnsmgr/dnsmgr/internal/testutil"
)

// checkerByZone answers named-checkzone per zone name, falling back to a
// passing default.
type checkerByZone struct {
	outs map[string]string
}

func (c *checkerByZone) CheckZone(ctx context.Context, zoneName, path string) (string, error) {
	if out, ok := c.outs[zoneName]; ok {
		return out, nil
	}
	return fmt.Sprintf("zone %s/IN: loaded serial 1\nOK", zoneName), nil
}

func (c *checkerByZone) CheckConf(ctx context.Context) (string, error) { return "", nil }

func (c *checkerByZone) Reload(ctx context.Context) (string, error) { return "", nil }

func (c *checkerByZone) NamedRunning(ctx context.Context) bool { return true }

func (c *checkerByZone) RndcStatus(ctx context.Context) (string, error) { return "", nil }

func (c *checkerByZone) ResolveLocalhost(ctx context.Context, name string) bool { return true }

// fakeTarget records what the publisher delivers to one server.
type fakeTarget struct {
	srv        domain.Server
	zoneWrites map[string][]byte
	confWrites map[string][]byte
	validZones []string
	reloads    int
	failZones  map[string]error

	statusResp *domain.AgentStatus
	statusErr  error
	confOut    string
	zoneOut    string
}

func newFakeTarget(srv domain.Server) *fakeTarget {
	return &fakeTarget{
		srv:        srv,
		zoneWrites: make(map[string][]byte),
		confWrites: make(map[string][]byte),
		failZones:  make(map[string]error),
		statusResp: &domain.AgentStatus{Status: "ok"},
		confOut:    "configuration check passed",
		zoneOut:    "zone x/IN: loaded serial 1\nOK",
	}
}

func (f *fakeTarget) Server() domain.Server { return f.srv }

func (f *fakeTarget) WriteZoneFile(ctx context.Context, zoneName string, data []byte, validZones []string) (string, error) {
	if err := f.failZones[zoneName]; err != nil {
		return "", err
	}
	f.zoneWrites[zoneName] = data
	f.validZones = validZones
	return "", nil
}

func (f *fakeTarget) WriteConfFile(ctx context.Context, zoneName string, data []byte, validZones []string) (string, error) {
	f.confWrites[zoneName] = data
	return "", nil
}

func (f *fakeTarget) CheckZone(ctx context.Context, zoneName string) (string, error) {
	return f.zoneOut, nil
}

func (f *fakeTarget) CheckConf(ctx context.Context) (string, error) { return f.confOut, nil }

func (f *fakeTarget) Reload(ctx context.Context) (string, error) {
	f.reloads++
	return "server reload successful", nil
}

func (f *fakeTarget) Status(ctx context.Context) (*domain.AgentStatus, error) {
	return f.statusResp, f.statusErr
}

type fakeLock struct {
	busy     bool
	acquires int
	releases int
	ttl      time.Duration
}

func (f *fakeLock) Acquire(ctx context.Context, ttl time.Duration) (bool, error) {
	f.ttl = ttl
	if f.busy {
		return false, nil
	}
	f.acquires++
	return true, nil
}

func (f *fakeLock) Release(ctx context.Context) error {
	f.releases++
	return nil
}

type publishFixture struct {
	repo    *testutil.FakeRepo
	lock    *fakeLock
	targets map[string]*fakeTarget
	pub     *Publisher
}

func newPublishFixture(t *testing.T, checker ports.BindChecker) *publishFixture {
	t.Helper()
	fx := &publishFixture{
		repo:    testutil.NewFakeRepo(),
		lock:    &fakeLock{},
		targets: make(map[string]*fakeTarget),
	}
	factory := func(srv domain.Server) ports.Target {
		if target, ok := fx.targets[srv.ID]; ok {
			return target
		}
		target := newFakeTarget(srv)
		fx.targets[srv.ID] = target
		return target
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	fx.pub = NewPublisher(fx.repo, NewSynthesizer(), checker, factory, fx.lock, t.TempDir(), "/var/named/data", logger)
	return fx
}

func (fx *publishFixture) seed() {
	fx.repo.Servers["s1"] = &domain.Server{ID: "s1", Name: "ns1.example.com", DNSIP4: "192.0.2.53", IsLocal: true, Active: true}
	fx.repo.Servers["s2"] = &domain.Server{ID: "s2", Name: "ns2.example.net", DNSIP4: "198.51.100.53", APIIP: "198.51.100.53", Active: true}

	for i, zs := range []struct {
		id      string
		name    string
		changed bool
	}{
		{"z1", "example.com", true},
		{"z2", "example.org", true},
		{"z3", "example.net", false},
	} {
		fx.repo.Zones[zs.id] = &domain.Zone{
			ID: zs.id, Name: zs.name, Type: domain.ZoneForward, TTL: 3600,
			SOANS: "ns1.example.com", SOAMail: "hostmaster." + zs.name,
			SOARefresh: 3600, SOARetry: 900, SOAExpire: 1209600, SOAMinimum: 3600,
			SOASerial: uint32(2025010100 + i), Changed: zs.changed,
		}
		fx.repo.Assignments = append(fx.repo.Assignments,
			domain.ZoneServer{ZoneID: zs.id, ServerID: "s1", IsMaster: true},
			domain.ZoneServer{ZoneID: zs.id, ServerID: "s2"},
		)
	}
}

func TestPublishAllCommitsOnSuccess(t *testing.T) {
	fx := newPublishFixture(t, &checkerByZone{})
	fx.seed()

	report, err := fx.pub.PublishAll(context.Background())
	if err != nil {
		t.Fatalf("PublishAll() error: %v", err)
	}
	if !report.OK() {
		t.Fatalf("report not ok: %+v", report)
	}
	if report.Zones != 2 {
		t.Errorf("zones = %d, only the changed zones are candidates", report.Zones)
	}

	for _, id := range []string{"z1", "z2"} {
		zone := fx.repo.Zones[id]
		if zone.Changed {
			t.Errorf("zone %s still pending after commit", id)
		}
		if zone.SOASerial <= 2025010102 {
			t.Errorf("zone %s serial not advanced: %d", id, zone.SOASerial)
		}
	}
	// z3 was never pending; its serial must be untouched.
	if fx.repo.Zones["z3"].SOASerial != 2025010102 {
		t.Errorf("unchanged zone serial = %d", fx.repo.Zones["z3"].SOASerial)
	}

	for id, target := range fx.targets {
		if len(target.zoneWrites) != 2 {
			t.Errorf("target %s received %d zone files", id, len(target.zoneWrites))
		}
		if len(target.confWrites) != 2 {
			t.Errorf("target %s received %d conf fragments", id, len(target.confWrites))
		}
		if target.reloads != 1 {
			t.Errorf("target %s reloaded %d times, want exactly one", id, target.reloads)
		}
		// Both servers host every zone, so each prune set covers all three.
		if len(target.validZones) != 3 {
			t.Errorf("target %s valid zones = %v", id, target.validZones)
		}
	}

	if conf := string(fx.targets["s1"].confWrites["example.com"]); !strings.Contains(conf, `file "/var/named/data/db.example.com"`) {
		t.Errorf("conf fragment = %q", conf)
	}
	if fx.lock.releases != 1 {
		t.Errorf("lock released %d times", fx.lock.releases)
	}
}

func TestPublishAllIsolatesFailingZone(t *testing.T) {
	checker := &checkerByZone{outs: map[string]string{
		"example.com": "db.example.com:4: CNAME and other data",
	}}
	fx := newPublishFixture(t, checker)
	fx.seed()

	report, err := fx.pub.PublishAll(context.Background())
	if err != nil {
		t.Fatalf("PublishAll() error: %v", err)
	}
	if report.OK() {
		t.Fatal("report must carry the validation error")
	}
	if len(report.Errors) != 1 || !strings.Contains(report.Errors[0], "zone example.com") {
		t.Errorf("errors = %v", report.Errors)
	}

	// The failing zone is skipped, the healthy one still reaches every server.
	for id, target := range fx.targets {
		if _, ok := target.zoneWrites["example.com"]; ok {
			t.Errorf("target %s received the rejected zone", id)
		}
		if _, ok := target.zoneWrites["example.org"]; !ok {
			t.Errorf("target %s missing the healthy zone", id)
		}
	}

	// Nothing commits while any zone failed, so both stay pending.
	if !fx.repo.Zones["z1"].Changed || !fx.repo.Zones["z2"].Changed {
		t.Error("pending flags cleared despite a failed run")
	}
	if fx.lock.releases != 1 {
		t.Errorf("lock released %d times", fx.lock.releases)
	}
}

func TestPublishAllDistributionFailureSkipsCommit(t *testing.T) {
	fx := newPublishFixture(t, &checkerByZone{})
	fx.seed()
	broken := newFakeTarget(domain.Server{ID: "s2", Name: "ns2.example.net"})
	broken.failZones["example.org"] = errors.New("Verbindungsfehler: connection refused")
	fx.targets["s2"] = broken

	report, err := fx.pub.PublishAll(context.Background())
	if err != nil {
		t.Fatalf("PublishAll() error: %v", err)
	}
	if report.OK() {
		t.Fatal("report must carry the distribution error")
	}
	if len(report.Errors) != 1 || !strings.Contains(report.Errors[0], "ns2.example.net: zone example.org") {
		t.Errorf("errors = %v", report.Errors)
	}
	if !fx.repo.Zones["z2"].Changed {
		t.Error("pending flag cleared despite a failed distribution")
	}
}

func TestPublishAllLocked(t *testing.T) {
	fx := newPublishFixture(t, &checkerByZone{})
	fx.seed()
	fx.lock.busy = true

	if _, err := fx.pub.PublishAll(context.Background()); !errors.Is(err, ErrPublishLocked) {
		t.Fatalf("err = %v, want ErrPublishLocked", err)
	}
	if fx.lock.releases != 0 {
		t.Error("a lock that was never held must not be released")
	}
}

func TestPublishAllFullRebuild(t *testing.T) {
	fx := newPublishFixture(t, &checkerByZone{})
	fx.seed()
	fx.repo.FullRebuild = true

	report, err := fx.pub.PublishAll(context.Background())
	if err != nil {
		t.Fatalf("PublishAll() error: %v", err)
	}
	if report.Zones != 3 {
		t.Errorf("zones = %d, a full rebuild covers every zone", report.Zones)
	}
	if !report.OK() {
		t.Fatalf("report not ok: %+v", report)
	}
	if fx.repo.FullRebuild {
		t.Error("full-rebuild marker not reset after commit")
	}
}

func TestPublishAllScopesPruneSetPerServer(t *testing.T) {
	fx := newPublishFixture(t, &checkerByZone{})
	fx.seed()
	// example.net stays hosted on s1 only.
	kept := fx.repo.Assignments[:0]
	for _, a := range fx.repo.Assignments {
		if a.ZoneID == "z3" && a.ServerID == "s2" {
			continue
		}
		kept = append(kept, a)
	}
	fx.repo.Assignments = kept

	if _, err := fx.pub.PublishAll(context.Background()); err != nil {
		t.Fatalf("PublishAll() error: %v", err)
	}

	if s1 := fx.targets["s1"].validZones; len(s1) != 3 {
		t.Errorf("s1 prune set = %v", s1)
	}
	s2 := fx.targets["s2"].validZones
	if len(s2) != 2 {
		t.Errorf("s2 prune set = %v", s2)
	}
	for _, name := range s2 {
		if name == "example.net" {
			t.Errorf("zone no longer assigned to s2 still protected from pruning: %v", s2)
		}
	}
}

func TestPendingZonesGauge(t *testing.T) {
	t.Run("failed run keeps the backlog", func(t *testing.T) {
		fx := newPublishFixture(t, &checkerByZone{outs: map[string]string{
			"example.com": "db.example.com:4: CNAME and other data",
			"example.org": "db.example.org:2: syntax error",
		}})
		fx.seed()
		if _, err := fx.pub.PublishAll(context.Background()); err != nil {
			t.Fatalf("PublishAll() error: %v", err)
		}
		if got := promtestutil.ToFloat64(metrics.ZonesPending); got != 2 {
			t.Errorf("pending gauge = %v, want 2", got)
		}
	})

	t.Run("clean run drains it", func(t *testing.T) {
		fx := newPublishFixture(t, &checkerByZone{})
		fx.seed()
		if _, err := fx.pub.PublishAll(context.Background()); err != nil {
			t.Fatalf("PublishAll() error: %v", err)
		}
		if got := promtestutil.ToFloat64(metrics.ZonesPending); got != 0 {
			t.Errorf("pending gauge = %v, want 0", got)
		}
	})
}

func TestSweepDiagnosticsRecordsTransitionsOnly(t *testing.T) {
	fx := newPublishFixture(t, &checkerByZone{})
	fx.repo.Servers["s1"] = &domain.Server{ID: "s1", Name: "ns1.example.com", IsLocal: true, Active: true}
	fx.repo.Zones["z1"] = &domain.Zone{ID: "z1", Name: "example.com", Type: domain.ZoneForward}
	fx.repo.Assignments = []domain.ZoneServer{{ZoneID: "z1", ServerID: "s1", IsMaster: true}}

	if err := fx.pub.SweepDiagnostics(context.Background()); err != nil {
		t.Fatalf("SweepDiagnostics() error: %v", err)
	}
	// status + conf + one zone file on the first pass.
	if len(fx.repo.Diagnostics) != 3 {
		t.Fatalf("got %d diagnostics, want 3", len(fx.repo.Diagnostics))
	}

	if err := fx.pub.SweepDiagnostics(context.Background()); err != nil {
		t.Fatalf("SweepDiagnostics() error: %v", err)
	}
	if len(fx.repo.Diagnostics) != 3 {
		t.Errorf("unchanged statuses appended %d rows", len(fx.repo.Diagnostics)-3)
	}

	fx.targets["s1"].statusResp = &domain.AgentStatus{Status: "degraded"}
	if err := fx.pub.SweepDiagnostics(context.Background()); err != nil {
		t.Fatalf("SweepDiagnostics() error: %v", err)
	}
	if len(fx.repo.Diagnostics) != 4 {
		t.Fatalf("got %d diagnostics after transition, want 4", len(fx.repo.Diagnostics))
	}
	last := fx.repo.Diagnostics[len(fx.repo.Diagnostics)-1]
	if last.CheckType != "status" || last.Status != domain.StatusError {
		t.Errorf("transition row = %+v", last)
	}
}
