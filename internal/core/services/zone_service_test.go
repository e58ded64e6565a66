package services

import (
	"context"
	"errors"
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

const checkPassed = "zone example.com/IN: loaded serial 2025082901\nOK"

// fakeChecker returns canned output for every BIND tool invocation.
type fakeChecker struct {
	out       string
	err       error
	zoneCalls int
}

func (f *fakeChecker) CheckZone(ctx context.Context, zoneName, path string) (string, error) {
	f.zoneCalls++
	return f.out, f.err
}
func (f *fakeChecker) CheckConf(ctx context.Context) (string, error) { return f.out, f.err }

func (f *fakeChecker) Reload(ctx context.Context) (string, error) { return "", nil }

func (f *fakeChecker) NamedRunning(ctx context.Context) bool { return true }

func (f *fakeChecker) RndcStatus(ctx context.Context) (string, error) { return "", nil }

func (f *fakeChecker) ResolveLocalhost(ctx context.Context, name string) bool { return true }

func newTestService(t *testing.T, repo *testutil.FakeRepo, checker *fakeChecker) ports.ZoneService {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	synth := NewSynthesizer()
	return NewZoneService(repo, checker, synth, t.TempDir(), logger)
}

func seedZone(repo *testutil.FakeRepo, id, name string) *domain.Zone {
	zone := &domain.Zone{
		ID: id, Name: name, Type: domain.ZoneForward, TTL: 3600,
		SOANS: "ns1." + name, SOAMail: "hostmaster." + name,
		SOARefresh: 3600, SOARetry: 900, SOAExpire: 1209600, SOAMinimum: 3600,
		SOASerial: 2025082901,
	}
	repo.Zones[id] = zone
	return zone
}

func TestCreateRecordFlagsZone(t *testing.T) {
	repo := testutil.NewFakeRepo()
	seedZone(repo, "z1", "example.com")
	checker := &fakeChecker{out: checkPassed}
	svc := newTestService(t, repo, checker)

	rec := &domain.Record{ZoneID: "z1", Name: "www", Type: domain.TypeA, Content: "192.0.2.80", TTL: 300}
	res, err := svc.CreateRecord(context.Background(), rec)
	if err != nil {
		t.Fatalf("CreateRecord() error: %v", err)
	}
	if res.Status != domain.StatusOK {
		t.Errorf("status = %v, output:\n%s", res.Status, res.Output)
	}
	if checker.zoneCalls != 1 {
		t.Errorf("checker invoked %d times", checker.zoneCalls)
	}
	stored, _ := repo.GetRecord(context.Background(), rec.ID, "z1")
	if stored == nil {
		t.Fatal("record not persisted")
	}
	if stored.ServerID != nil {
		t.Error("user record must not carry a server owner")
	}
	if !repo.Zones["z1"].Changed {
		t.Error("zone not flagged as changed")
	}
	if got := promtestutil.ToFloat64(metrics.ZonesPending); got != 1 {
		t.Errorf("pending gauge = %v, want 1", got)
	}
}

func TestCreateRecordRollsBackOnFailedCheck(t *testing.T) {
	repo := testutil.NewFakeRepo()
	seedZone(repo, "z1", "example.com")
	checker := &fakeChecker{out: "db.example.com:3: syntax error near 'www'"}
	svc := newTestService(t, repo, checker)

	rec := &domain.Record{ZoneID: "z1", Name: "www", Type: domain.TypeA, Content: "192.0.2.80"}
	res, err := svc.CreateRecord(context.Background(), rec)
	if err != nil {
		t.Fatalf("a rejected check is a result, not an error: %v", err)
	}
	if res.Status != domain.StatusError {
		t.Fatalf("status = %v", res.Status)
	}
	if !strings.Contains(res.Output, "syntax error") {
		t.Errorf("checker output not surfaced: %q", res.Output)
	}
	if stored, _ := repo.GetRecord(context.Background(), rec.ID, "z1"); stored != nil {
		t.Error("record survived a failed validation")
	}
	if repo.Zones["z1"].Changed {
		t.Error("zone flagged despite failed validation")
	}
}

func TestCreateRecordRejectsInvalidContent(t *testing.T) {
	repo := testutil.NewFakeRepo()
	seedZone(repo, "z1", "example.com")
	checker := &fakeChecker{out: checkPassed}
	svc := newTestService(t, repo, checker)

	rec := &domain.Record{ZoneID: "z1", Name: "www", Type: domain.TypeA, Content: "999.1.1.1"}
	if _, err := svc.CreateRecord(context.Background(), rec); !errors.Is(err, domain.ErrInvalidIPv4) {
		t.Fatalf("err = %v, want ErrInvalidIPv4", err)
	}
	if checker.zoneCalls != 0 {
		t.Error("checker must not run for content the validator rejects")
	}
	if len(repo.Records) != 0 {
		t.Error("invalid record persisted")
	}
}

func TestUpdateRecordRejectsOwnedRows(t *testing.T) {
	repo := testutil.NewFakeRepo()
	seedZone(repo, "z1", "example.com")
	srvID := "s1"
	repo.Records["r1"] = &domain.Record{
		ID: "r1", ZoneID: "z1", Name: "@", Type: domain.TypeNS,
		Content: "ns1.example.com.", TTL: 3600, ServerID: &srvID,
	}
	svc := newTestService(t, repo, &fakeChecker{out: checkPassed})

	upd := &domain.Record{ID: "r1", ZoneID: "z1", Name: "@", Type: domain.TypeNS, Content: "ns9.example.com.", TTL: 3600}
	if _, err := svc.UpdateRecord(context.Background(), upd); !errors.Is(err, domain.ErrProtectedRecord) {
		t.Fatalf("err = %v, want ErrProtectedRecord", err)
	}
	if _, err := svc.DeleteRecord(context.Background(), "r1", "z1"); !errors.Is(err, domain.ErrProtectedRecord) {
		t.Fatalf("delete err = %v, want ErrProtectedRecord", err)
	}
}

func TestUpdateGlueRecordTTLOnly(t *testing.T) {
	repo := testutil.NewFakeRepo()
	seedZone(repo, "z1", "example.com")
	repo.Records["ns"] = &domain.Record{ID: "ns", ZoneID: "z1", Name: "@", Type: domain.TypeNS, Content: "ns1.example.com.", TTL: 3600}
	repo.Records["glue"] = &domain.Record{ID: "glue", ZoneID: "z1", Name: "ns1", Type: domain.TypeA, Content: "192.0.2.53", TTL: 300}
	svc := newTestService(t, repo, &fakeChecker{out: checkPassed})

	ttlOnly := &domain.Record{ID: "glue", ZoneID: "z1", Name: "ns1", Type: domain.TypeA, Content: "192.0.2.53", TTL: 7200}
	res, err := svc.UpdateRecord(context.Background(), ttlOnly)
	if err != nil {
		t.Fatalf("TTL-only glue edit must be allowed: %v", err)
	}
	if res.Status != domain.StatusOK {
		t.Errorf("status = %v", res.Status)
	}
	if repo.Records["glue"].TTL != 7200 {
		t.Errorf("TTL = %d", repo.Records["glue"].TTL)
	}

	rewrite := &domain.Record{ID: "glue", ZoneID: "z1", Name: "ns1", Type: domain.TypeA, Content: "192.0.2.99", TTL: 300}
	if _, err := svc.UpdateRecord(context.Background(), rewrite); !errors.Is(err, domain.ErrProtectedRecord) {
		t.Fatalf("glue content edit err = %v, want ErrProtectedRecord", err)
	}
}

func TestUpdateOwnedRecordTTLOnly(t *testing.T) {
	repo := testutil.NewFakeRepo()
	seedZone(repo, "z1", "example.com")
	owner := "s1"
	repo.Records["glue"] = &domain.Record{
		ID: "glue", ZoneID: "z1", Name: "ns1", Type: domain.TypeA,
		Content: "192.0.2.53", TTL: 300, ServerID: &owner,
	}
	svc := newTestService(t, repo, &fakeChecker{out: checkPassed})

	ttlOnly := &domain.Record{ID: "glue", ZoneID: "z1", Name: "ns1", Type: domain.TypeA, Content: "192.0.2.53", TTL: 7200}
	res, err := svc.UpdateRecord(context.Background(), ttlOnly)
	if err != nil {
		t.Fatalf("TTL-only edit of an owned record must be allowed: %v", err)
	}
	if res.Status != domain.StatusOK {
		t.Fatalf("status = %v, output:\n%s", res.Status, res.Output)
	}
	stored := repo.Records["glue"]
	if stored.TTL != 7200 {
		t.Errorf("TTL = %d", stored.TTL)
	}
	if stored.ServerID == nil || *stored.ServerID != "s1" {
		t.Errorf("record lost its owner: %v", stored.ServerID)
	}
}

func TestRebuildNSAndGlue(t *testing.T) {
	repo := testutil.NewFakeRepo()
	seedZone(repo, "z1", "example.com")
	repo.Servers["s1"] = &domain.Server{ID: "s1", Name: "ns1.example.com", DNSIP4: "192.0.2.53", DNSIP6: "2001:db8::53", Active: true}
	repo.Servers["s2"] = &domain.Server{ID: "s2", Name: "ns.other.net", DNSIP4: "198.51.100.1", Active: true}
	repo.Assignments = []domain.ZoneServer{
		{ZoneID: "z1", ServerID: "s1", IsMaster: true},
		{ZoneID: "z1", ServerID: "s2"},
	}
	// A previously tuned TTL on the generated NS set must survive.
	owner := "s1"
	repo.Records["old-ns"] = &domain.Record{ID: "old-ns", ZoneID: "z1", Name: "@", Type: domain.TypeNS, Content: "ns1.example.com.", TTL: 7200, ServerID: &owner}
	svc := newTestService(t, repo, &fakeChecker{out: checkPassed})

	res, err := svc.RebuildNSAndGlue(context.Background(), "z1")
	if err != nil {
		t.Fatalf("RebuildNSAndGlue() error: %v", err)
	}
	if res.Status != domain.StatusOK {
		t.Fatalf("status = %v, output:\n%s", res.Status, res.Output)
	}

	var ns, glueA, glueAAAA int
	for _, rec := range repo.Records {
		if rec.ServerID == nil {
			t.Errorf("unexpected user record %s %s", rec.Name, rec.Type)
			continue
		}
		switch rec.Type {
		case domain.TypeNS:
			ns++
			if rec.TTL != 7200 {
				t.Errorf("NS TTL = %d, captured TTL lost", rec.TTL)
			}
		case domain.TypeA:
			glueA++
			if rec.Name != "ns1" || rec.Content != "192.0.2.53" {
				t.Errorf("glue A = %+v", rec)
			}
		case domain.TypeAAAA:
			glueAAAA++
		}
	}
	if ns != 2 {
		t.Errorf("got %d NS records, want one per assigned server", ns)
	}
	// ns.other.net sits outside the zone, so only ns1 gets glue.
	if glueA != 1 || glueAAAA != 1 {
		t.Errorf("glue count A=%d AAAA=%d", glueA, glueAAAA)
	}
}

func TestCreateZoneAppliesDefaults(t *testing.T) {
	repo := testutil.NewFakeRepo()
	repo.Servers["s1"] = &domain.Server{ID: "s1", Name: "ns1.example.com", DNSIP4: "192.0.2.53", Active: true}
	svc := newTestService(t, repo, &fakeChecker{out: checkPassed})

	zone := &domain.Zone{Name: "Example.COM."}
	res, err := svc.CreateZone(context.Background(), zone, []domain.ZoneServer{{ServerID: "s1", IsMaster: true}})
	if err != nil {
		t.Fatalf("CreateZone() error: %v", err)
	}
	if res.Status != domain.StatusOK {
		t.Fatalf("status = %v, output:\n%s", res.Status, res.Output)
	}

	stored := repo.Zones[zone.ID]
	if stored == nil {
		t.Fatal("zone not persisted")
	}
	if stored.Name != "example.com" {
		t.Errorf("name = %q", stored.Name)
	}
	if stored.Type != domain.ZoneForward || stored.TTL != 3600 {
		t.Errorf("defaults not applied: %+v", stored)
	}
	if stored.SOANS != "ns1.example.com" {
		t.Errorf("SOA NS = %q, want master name", stored.SOANS)
	}
	if stored.SOAMail != "hostmaster.example.com" {
		t.Errorf("SOA mail = %q", stored.SOAMail)
	}
	assignments, _ := repo.ListZoneServers(context.Background(), zone.ID)
	if len(assignments) != 1 || !assignments[0].IsMaster {
		t.Errorf("assignments = %+v", assignments)
	}
}

func TestCreateZoneRollsBackOnFailedCheck(t *testing.T) {
	repo := testutil.NewFakeRepo()
	repo.Servers["s1"] = &domain.Server{ID: "s1", Name: "ns1.example.com", DNSIP4: "192.0.2.53", Active: true}
	svc := newTestService(t, repo, &fakeChecker{out: "db.example.com:1: unknown RR type"})

	zone := &domain.Zone{Name: "example.com"}
	res, err := svc.CreateZone(context.Background(), zone, []domain.ZoneServer{{ServerID: "s1", IsMaster: true}})
	if err != nil {
		t.Fatalf("CreateZone() error: %v", err)
	}
	if res.Status != domain.StatusError {
		t.Fatalf("status = %v, output:\n%s", res.Status, res.Output)
	}
	if len(repo.Zones) != 0 {
		t.Errorf("zone kept after failed validation: %+v", repo.Zones)
	}
	if len(repo.Assignments) != 0 {
		t.Errorf("assignments kept after failed validation: %+v", repo.Assignments)
	}
	for _, rec := range repo.Records {
		t.Errorf("record kept after failed validation: %+v", rec)
	}
}

func TestCreateZoneRequiresExactlyOneMaster(t *testing.T) {
	repo := testutil.NewFakeRepo()
	repo.Servers["s1"] = &domain.Server{ID: "s1", Name: "ns1.example.com", Active: true}
	repo.Servers["s2"] = &domain.Server{ID: "s2", Name: "ns2.example.com", Active: true}
	svc := newTestService(t, repo, &fakeChecker{out: checkPassed})

	zone := &domain.Zone{Name: "example.com"}
	if _, err := svc.CreateZone(context.Background(), zone, []domain.ZoneServer{{ServerID: "s1"}}); err == nil {
		t.Error("expected error without a master")
	}
	both := []domain.ZoneServer{{ServerID: "s1", IsMaster: true}, {ServerID: "s2", IsMaster: true}}
	if _, err := svc.CreateZone(context.Background(), zone, both); err == nil {
		t.Error("expected error with two masters")
	}
}

func TestDeleteZoneRequestsFullRebuild(t *testing.T) {
	repo := testutil.NewFakeRepo()
	seedZone(repo, "z1", "example.com")
	svc := newTestService(t, repo, &fakeChecker{out: checkPassed})

	if err := svc.DeleteZone(context.Background(), "z1"); err != nil {
		t.Fatalf("DeleteZone() error: %v", err)
	}
	if _, ok := repo.Zones["z1"]; ok {
		t.Error("zone still present")
	}
	if !repo.FullRebuild {
		t.Error("full rebuild not requested")
	}
}

func TestDeleteServerInUse(t *testing.T) {
	repo := testutil.NewFakeRepo()
	repo.Servers["s1"] = &domain.Server{ID: "s1", Name: "ns1.example.com", Active: true}
	repo.Assignments = []domain.ZoneServer{{ZoneID: "z1", ServerID: "s1", IsMaster: true}}
	svc := newTestService(t, repo, &fakeChecker{out: checkPassed})

	if err := svc.DeleteServer(context.Background(), "s1"); !errors.Is(err, domain.ErrServerInUse) {
		t.Fatalf("err = %v, want ErrServerInUse", err)
	}

	repo.Assignments = nil
	if err := svc.DeleteServer(context.Background(), "s1"); err != nil {
		t.Fatalf("DeleteServer() error: %v", err)
	}
	if _, ok := repo.Servers["s1"]; ok {
		t.Error("server still present")
	}
}

const importData = `$TTL 3600
@	IN	SOA	ns1.example.com. hostmaster.example.com. (
		2020010101	; serial
		7200	; refresh
		1800	; retry
		604800	; expire
		300 )	; minimum
www	300	IN	A	192.0.2.80
mail	IN	MX	10 mail.example.com.
`

func TestImportZoneFileAdoptsSOATimers(t *testing.T) {
	repo := testutil.NewFakeRepo()
	seedZone(repo, "z1", "example.com")
	svc := newTestService(t, repo, &fakeChecker{out: checkPassed})

	res, err := svc.ImportZoneFile(context.Background(), "z1", []byte(importData))
	if err != nil {
		t.Fatalf("ImportZoneFile() error: %v", err)
	}
	if res.Status != domain.StatusOK {
		t.Fatalf("status = %v, output:\n%s", res.Status, res.Output)
	}

	zone := repo.Zones["z1"]
	if zone.SOARefresh != 7200 || zone.SOARetry != 1800 || zone.SOAExpire != 604800 || zone.SOAMinimum != 300 {
		t.Errorf("SOA timers not adopted: %+v", zone)
	}
	records, _ := repo.ListRecordsForZone(context.Background(), "z1")
	if len(records) != 2 {
		t.Fatalf("got %d records, want 2", len(records))
	}
}

func TestImportZoneFileRollsBackOnFailedCheck(t *testing.T) {
	repo := testutil.NewFakeRepo()
	seedZone(repo, "z1", "example.com")
	svc := newTestService(t, repo, &fakeChecker{out: "db.example.com:5: unknown RR type"})

	res, err := svc.ImportZoneFile(context.Background(), "z1", []byte(importData))
	if err != nil {
		t.Fatalf("ImportZoneFile() error: %v", err)
	}
	if res.Status != domain.StatusError {
		t.Fatalf("status = %v", res.Status)
	}
	records, _ := repo.ListRecordsForZone(context.Background(), "z1")
	if len(records) != 0 {
		t.Errorf("imported records survived a failed validation: %d left", len(records))
	}
}

func TestUpdateDynDNS(t *testing.T) {
	repo := testutil.NewFakeRepo()
	zone := seedZone(repo, "z1", "example.com")
	zone.AllowDynDNS = true
	svc := newTestService(t, repo, &fakeChecker{out: checkPassed})

	// First update creates the record.
	res, err := svc.UpdateDynDNS(context.Background(), "example.com", "Home", "192.0.2.10")
	if err != nil {
		t.Fatalf("UpdateDynDNS() error: %v", err)
	}
	if res.Status != domain.StatusOK {
		t.Fatalf("status = %v", res.Status)
	}
	records, _ := repo.ListRecordsForZone(context.Background(), "z1")
	if len(records) != 1 {
		t.Fatalf("got %d records", len(records))
	}
	created := records[0]
	if created.Name != "home" || created.Type != domain.TypeA || created.TTL != 300 {
		t.Errorf("created record = %+v", created)
	}

	// Second update with a v6 address creates a separate AAAA record.
	if _, err := svc.UpdateDynDNS(context.Background(), "example.com", "home", "2001:db8::10"); err != nil {
		t.Fatalf("UpdateDynDNS(v6) error: %v", err)
	}
	records, _ = repo.ListRecordsForZone(context.Background(), "z1")
	if len(records) != 2 {
		t.Fatalf("got %d records after v6 update", len(records))
	}

	// Third update of the same host rewrites the existing A record in place.
	if _, err := svc.UpdateDynDNS(context.Background(), "example.com", "home", "192.0.2.20"); err != nil {
		t.Fatalf("UpdateDynDNS(rewrite) error: %v", err)
	}
	if repo.Records[created.ID].Content != "192.0.2.20" {
		t.Errorf("content = %q", repo.Records[created.ID].Content)
	}
}

func TestUpdateDynDNSDisabledZone(t *testing.T) {
	repo := testutil.NewFakeRepo()
	seedZone(repo, "z1", "example.com")
	svc := newTestService(t, repo, &fakeChecker{out: checkPassed})

	if _, err := svc.UpdateDynDNS(context.Background(), "example.com", "home", "192.0.2.10"); err == nil {
		t.Fatal("expected rejection for zone without dynamic updates")
	}
}

func TestUpdateServerCascadesIntoZones(t *testing.T) {
	repo := testutil.NewFakeRepo()
	seedZone(repo, "z1", "example.com")
	repo.Servers["s1"] = &domain.Server{ID: "s1", Name: "ns1.example.com", DNSIP4: "192.0.2.53", APIToken: "tok", Active: true, CreatedAt: time.Now()}
	repo.Assignments = []domain.ZoneServer{{ZoneID: "z1", ServerID: "s1", IsMaster: true}}
	svc := newTestService(t, repo, &fakeChecker{out: checkPassed})

	upd := &domain.Server{ID: "s1", Name: "ns1.example.com", DNSIP4: "192.0.2.99", Active: true}
	res, err := svc.UpdateServer(context.Background(), upd)
	if err != nil {
		t.Fatalf("UpdateServer() error: %v", err)
	}
	if res.Status != domain.StatusOK {
		t.Fatalf("status = %v, output:\n%s", res.Status, res.Output)
	}
	if repo.Servers["s1"].APIToken != "tok" {
		t.Error("empty token must keep the existing credential")
	}

	var glue *domain.Record
	for _, rec := range repo.Records {
		if rec.Type == domain.TypeA && rec.ServerID != nil {
			glue = rec
		}
	}
	if glue == nil || glue.Content != "192.0.2.99" {
		t.Errorf("glue after address change = %+v", glue)
	}
	if !repo.Zones["z1"].Changed {
		t.Error("zone not flagged after cascading rebuild")
	}
}
