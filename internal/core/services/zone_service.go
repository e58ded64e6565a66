package services

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dnsmgr/dnsmgr/internal/core/domain"
	"github.com/dnsmgr/dnsmgr/internal/core/ports"
	"github.com/dnsmgr/dnsmgr/internal/dns/zonefile"
	"github.com/dnsmgr/dnsmgr/internal/infrastructure/metrics"
)

const (
	defaultZoneTTL = 3600
	defaultNSTTL   = 3600
	defaultGlueTTL = 300
	defaultDynTTL  = 300
	defaultRefresh = 3600
	defaultRetry   = 900
	defaultExpire  = 1209600
	defaultMinimum = 3600
)

type zoneService struct {
	repo       ports.ZoneRepository
	checker    ports.BindChecker
	synth      *Synthesizer
	scratchDir string
	logger     *slog.Logger
}

// NewZoneService wires the mutation surface: every record/zone/topology write
// passes the synthesize-then-validate gate before its pending state persists.
func NewZoneService(repo ports.ZoneRepository, checker ports.BindChecker, synth *Synthesizer, scratchDir string, logger *slog.Logger) ports.ZoneService {
	if logger == nil {
		logger = slog.Default()
	}
	return &zoneService{repo: repo, checker: checker, synth: synth, scratchDir: scratchDir, logger: logger}
}

// validateAndFlag synthesizes the zone against a scratch file, runs
// named-checkzone and, unless the result is an error, marks the zone changed.
// The raw checker output is always returned for display.
func (s *zoneService) validateAndFlag(ctx context.Context, zone *domain.Zone) (*domain.CheckResult, error) {
	records, err := s.repo.ListRecordsForZone(ctx, zone.ID)
	if err != nil {
		return nil, fmt.Errorf("load records for zone %s: %w", zone.Name, err)
	}

	text, _, err := s.synth.Synthesize(zone, records, PurposeValidate)
	if err != nil {
		// A render failure is a validation failure, not an internal error:
		// the caller must roll back its write.
		return &domain.CheckResult{Status: domain.StatusError, Output: err.Error()}, nil
	}

	scratch, err := os.CreateTemp(s.scratchDir, "db."+domain.SafeZoneName(zone.Name)+".*")
	if err != nil {
		return nil, fmt.Errorf("create scratch file: %w", err)
	}
	defer func() {
		if errRemove := os.Remove(scratch.Name()); errRemove != nil {
			s.logger.Warn("failed to remove scratch file", "path", scratch.Name(), "error", errRemove)
		}
	}()
	if _, err := scratch.WriteString(text); err != nil {
		scratch.Close()
		return nil, fmt.Errorf("write scratch file: %w", err)
	}
	if err := scratch.Close(); err != nil {
		return nil, fmt.Errorf("close scratch file: %w", err)
	}

	out, errCheck := s.checker.CheckZone(ctx, zone.Name, scratch.Name())
	if errCheck != nil {
		s.logger.Warn("named-checkzone did not run cleanly", "zone", zone.Name, "error", errCheck)
	}
	status := domain.ClassifyCheckOutput(out, true)
	metrics.ZoneValidationsTotal.WithLabelValues(string(status)).Inc()

	if status == domain.StatusError {
		return &domain.CheckResult{Status: status, Output: out}, nil
	}

	if err := s.repo.SetZoneChanged(ctx, zone.ID, true); err != nil {
		return nil, fmt.Errorf("flag zone %s as changed: %w", zone.Name, err)
	}
	if pending, err := s.repo.ListChangedZones(ctx); err == nil {
		metrics.ZonesPending.Set(float64(len(pending)))
	}
	return &domain.CheckResult{Status: status, Output: out}, nil
}

func (s *zoneService) RebuildZone(ctx context.Context, zoneID string) (*domain.CheckResult, error) {
	zone, err := s.mustGetZone(ctx, zoneID)
	if err != nil {
		return nil, err
	}
	return s.validateAndFlag(ctx, zone)
}

func (s *zoneService) CreateZone(ctx context.Context, zone *domain.Zone, assignments []domain.ZoneServer) (*domain.CheckResult, error) {
	if err := domain.ValidateZoneName(zone.Name); err != nil {
		return nil, err
	}
	if len(assignments) == 0 {
		return nil, fmt.Errorf("zone %s: at least one server must be assigned", zone.Name)
	}
	master, err := s.resolveMaster(ctx, assignments)
	if err != nil {
		return nil, err
	}

	zone.ID = uuid.New().String()
	zone.Name = strings.ToLower(strings.TrimSuffix(zone.Name, "."))
	zone.CreatedAt = time.Now()
	zone.UpdatedAt = zone.CreatedAt
	if zone.Type == "" {
		zone.Type = domain.ZoneForward
	}
	if zone.TTL <= 0 {
		zone.TTL = defaultZoneTTL
	}
	if zone.SOANS == "" {
		zone.SOANS = master.Name
	}
	if zone.SOAMail == "" {
		zone.SOAMail = "hostmaster." + zone.Name
	}
	if zone.SOARefresh <= 0 {
		zone.SOARefresh = defaultRefresh
	}
	if zone.SOARetry <= 0 {
		zone.SOARetry = defaultRetry
	}
	if zone.SOAExpire <= 0 {
		zone.SOAExpire = defaultExpire
	}
	if zone.SOAMinimum <= 0 {
		zone.SOAMinimum = defaultMinimum
	}
	zone.SOASerial = 0 // first synthesis assigns <today>01

	if err := s.repo.CreateZone(ctx, zone); err != nil {
		return nil, fmt.Errorf("create zone %s: %w", zone.Name, err)
	}
	for i := range assignments {
		assignments[i].ZoneID = zone.ID
	}
	if err := s.repo.AssignServers(ctx, zone.ID, assignments); err != nil {
		return nil, fmt.Errorf("assign servers to zone %s: %w", zone.Name, err)
	}

	res, err := s.RebuildNSAndGlue(ctx, zone.ID)
	if err != nil {
		return nil, err
	}
	if res.Status == domain.StatusError {
		// Deleting the zone cascades into the generated records and the
		// server assignments.
		if errRollback := s.repo.DeleteZone(ctx, zone.ID); errRollback != nil {
			return res, fmt.Errorf("roll back zone %s after failed validation: %w", zone.Name, errRollback)
		}
	}
	return res, nil
}

func (s *zoneService) UpdateZone(ctx context.Context, zone *domain.Zone) (*domain.CheckResult, error) {
	existing, err := s.mustGetZone(ctx, zone.ID)
	if err != nil {
		return nil, err
	}
	if err := domain.ValidateZoneName(zone.Name); err != nil {
		return nil, err
	}

	zone.Name = strings.ToLower(strings.TrimSuffix(zone.Name, "."))
	zone.SOASerial = existing.SOASerial
	zone.CreatedAt = existing.CreatedAt
	zone.UpdatedAt = time.Now()
	if err := s.repo.UpdateZone(ctx, zone); err != nil {
		return nil, fmt.Errorf("update zone %s: %w", zone.Name, err)
	}

	res, err := s.validateAndFlag(ctx, zone)
	if err != nil {
		return nil, err
	}
	if res.Status == domain.StatusError {
		if errRestore := s.repo.UpdateZone(ctx, existing); errRestore != nil {
			return res, fmt.Errorf("restore zone %s after failed validation: %w", zone.Name, errRestore)
		}
	}
	return res, nil
}

func (s *zoneService) DeleteZone(ctx context.Context, zoneID string) error {
	zone, err := s.mustGetZone(ctx, zoneID)
	if err != nil {
		return err
	}
	if err := s.repo.DeleteZone(ctx, zoneID); err != nil {
		return fmt.Errorf("delete zone %s: %w", zone.Name, err)
	}
	// The zone file and conf include on the servers are only removed by the
	// next publish run, which prunes everything outside the surviving set.
	if err := s.repo.RequestFullRebuild(ctx); err != nil {
		return fmt.Errorf("request full rebuild after deleting %s: %w", zone.Name, err)
	}
	return nil
}

func (s *zoneService) ListZones(ctx context.Context) ([]domain.Zone, error) {
	return s.repo.ListZones(ctx)
}

func (s *zoneService) GetZone(ctx context.Context, zoneID string) (*domain.Zone, error) {
	return s.repo.GetZone(ctx, zoneID)
}

func (s *zoneService) ListRecordsForZone(ctx context.Context, zoneID string) ([]domain.Record, error) {
	return s.repo.ListRecordsForZone(ctx, zoneID)
}

func (s *zoneService) CreateRecord(ctx context.Context, record *domain.Record) (*domain.CheckResult, error) {
	zone, err := s.mustGetZone(ctx, record.ZoneID)
	if err != nil {
		return nil, err
	}
	if err := domain.ValidateRecord(record); err != nil {
		return nil, err
	}

	record.ID = uuid.New().String()
	record.ServerID = nil // only the reconciler creates owned records
	record.CreatedAt = time.Now()
	record.UpdatedAt = record.CreatedAt
	if err := s.repo.CreateRecord(ctx, record); err != nil {
		return nil, fmt.Errorf("create record %s %s: %w", record.Name, record.Type, err)
	}

	res, err := s.validateAndFlag(ctx, zone)
	if err != nil {
		return nil, err
	}
	if res.Status == domain.StatusError {
		if errRollback := s.repo.DeleteRecord(ctx, record.ID, zone.ID); errRollback != nil {
			return res, fmt.Errorf("roll back record %s after failed validation: %w", record.Name, errRollback)
		}
	}
	return res, nil
}

func (s *zoneService) UpdateRecord(ctx context.Context, record *domain.Record) (*domain.CheckResult, error) {
	zone, err := s.mustGetZone(ctx, record.ZoneID)
	if err != nil {
		return nil, err
	}
	existing, err := s.repo.GetRecord(ctx, record.ID, record.ZoneID)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, fmt.Errorf("record %s not found in zone %s", record.ID, zone.Name)
	}
	if err := s.checkProtection(ctx, zone, existing, record); err != nil {
		return nil, err
	}
	if err := domain.ValidateRecord(record); err != nil {
		return nil, err
	}

	record.ServerID = existing.ServerID
	record.CreatedAt = existing.CreatedAt
	record.UpdatedAt = time.Now()
	if err := s.repo.UpdateRecord(ctx, record); err != nil {
		return nil, fmt.Errorf("update record %s: %w", record.Name, err)
	}

	res, err := s.validateAndFlag(ctx, zone)
	if err != nil {
		return nil, err
	}
	if res.Status == domain.StatusError {
		if errRestore := s.repo.UpdateRecord(ctx, existing); errRestore != nil {
			return res, fmt.Errorf("restore record %s after failed validation: %w", record.Name, errRestore)
		}
	}
	return res, nil
}

func (s *zoneService) DeleteRecord(ctx context.Context, recordID, zoneID string) (*domain.CheckResult, error) {
	zone, err := s.mustGetZone(ctx, zoneID)
	if err != nil {
		return nil, err
	}
	existing, err := s.repo.GetRecord(ctx, recordID, zoneID)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, fmt.Errorf("record %s not found in zone %s", recordID, zone.Name)
	}
	if err := s.checkProtection(ctx, zone, existing, nil); err != nil {
		return nil, err
	}

	if err := s.repo.DeleteRecord(ctx, recordID, zoneID); err != nil {
		return nil, fmt.Errorf("delete record %s: %w", existing.Name, err)
	}

	res, err := s.validateAndFlag(ctx, zone)
	if err != nil {
		return nil, err
	}
	if res.Status == domain.StatusError {
		if errRestore := s.repo.CreateRecord(ctx, existing); errRestore != nil {
			return res, fmt.Errorf("restore record %s after failed validation: %w", existing.Name, errRestore)
		}
	}
	return res, nil
}

// checkProtection rejects user mutations of reconciler-owned rows, glue
// records and protected NS records. updated is nil for deletions; a TTL-only
// change of any protected row is allowed so tuned TTLs survive regeneration.
func (s *zoneService) checkProtection(ctx context.Context, zone *domain.Zone, existing, updated *domain.Record) error {
	ttlOnly := updated != nil && updated.Name == existing.Name && updated.Type == existing.Type && updated.Content == existing.Content
	if existing.ServerID != nil {
		if ttlOnly {
			return nil
		}
		return fmt.Errorf("%w: record %s %s is managed from the zone's server assignment", domain.ErrProtectedRecord, existing.Name, existing.Type)
	}
	all, err := s.repo.ListRecordsForZone(ctx, zone.ID)
	if err != nil {
		return err
	}
	servers, err := s.repo.ListServersForZone(ctx, zone.ID)
	if err != nil {
		return err
	}

	glue := domain.IsGlueRecord(existing, zone, all)
	protectedNS := domain.IsProtectedNS(existing, zone, all, servers)
	if !glue && !protectedNS {
		return nil
	}
	if ttlOnly {
		return nil
	}
	kind := "glue record"
	if protectedNS {
		kind = "protected NS record"
	}
	return fmt.Errorf("%w: %s %s %s can only be changed via the zone's server assignment", domain.ErrProtectedRecord, kind, existing.Name, existing.Type)
}

func (s *zoneService) AssignServers(ctx context.Context, zoneID string, assignments []domain.ZoneServer) (*domain.CheckResult, error) {
	zone, err := s.mustGetZone(ctx, zoneID)
	if err != nil {
		return nil, err
	}
	if len(assignments) == 0 {
		return nil, fmt.Errorf("zone %s: at least one server must be assigned", zone.Name)
	}
	master, err := s.resolveMaster(ctx, assignments)
	if err != nil {
		return nil, err
	}
	for i := range assignments {
		assignments[i].ZoneID = zoneID
	}
	if err := s.repo.AssignServers(ctx, zoneID, assignments); err != nil {
		return nil, fmt.Errorf("assign servers to zone %s: %w", zone.Name, err)
	}

	if zone.Type == domain.ZoneForward && !strings.EqualFold(zone.SOANS, master.Name) {
		zone.SOANS = master.Name
		zone.UpdatedAt = time.Now()
		if err := s.repo.UpdateZone(ctx, zone); err != nil {
			return nil, fmt.Errorf("update SOA NS of zone %s: %w", zone.Name, err)
		}
	}
	return s.RebuildNSAndGlue(ctx, zoneID)
}

func (s *zoneService) RebuildNSAndGlue(ctx context.Context, zoneID string) (*domain.CheckResult, error) {
	zone, err := s.mustGetZone(ctx, zoneID)
	if err != nil {
		return nil, err
	}
	servers, err := s.repo.ListServersForZone(ctx, zoneID)
	if err != nil {
		return nil, err
	}
	if len(servers) == 0 {
		return &domain.CheckResult{Status: domain.StatusError, Output: fmt.Sprintf("zone %s has no assigned servers", zone.Name)}, nil
	}

	records, err := s.repo.ListRecordsForZone(ctx, zoneID)
	if err != nil {
		return nil, err
	}
	// Manually tuned TTLs on generated records survive regeneration.
	capturedTTL := make(map[string]int)
	for _, rec := range records {
		if rec.ServerID == nil {
			continue
		}
		switch rec.Type {
		case domain.TypeNS, domain.TypeA, domain.TypeAAAA:
			capturedTTL[string(rec.Type)+"/"+strings.ToLower(rec.Name)] = rec.TTL
		}
	}
	ttlFor := func(rType domain.RecordType, name string, fallback int) int {
		if ttl, ok := capturedTTL[string(rType)+"/"+strings.ToLower(name)]; ok && ttl > 0 {
			return ttl
		}
		return fallback
	}

	sort.Slice(servers, func(i, j int) bool { return servers[i].Name < servers[j].Name })
	zoneSuffix := "." + strings.ToLower(strings.TrimSuffix(zone.Name, "."))

	now := time.Now()
	var owned []domain.Record
	for _, srv := range servers {
		srvID := srv.ID
		srvName := strings.ToLower(strings.TrimSuffix(srv.Name, "."))
		owned = append(owned, domain.Record{
			ID:        uuid.New().String(),
			ZoneID:    zoneID,
			Name:      "@",
			Type:      domain.TypeNS,
			Content:   srvName + ".",
			TTL:       ttlFor(domain.TypeNS, "@", defaultNSTTL),
			ServerID:  &srvID,
			CreatedAt: now,
			UpdatedAt: now,
		})

		// Reverse zones never carry glue for the server's forward name.
		if zone.Type != domain.ZoneForward || !strings.HasSuffix(srvName, zoneSuffix) {
			continue
		}
		relName := srvName[:len(srvName)-len(zoneSuffix)]
		if srv.DNSIP4 != "" {
			owned = append(owned, domain.Record{
				ID:        uuid.New().String(),
				ZoneID:    zoneID,
				Name:      relName,
				Type:      domain.TypeA,
				Content:   srv.DNSIP4,
				TTL:       ttlFor(domain.TypeA, relName, defaultGlueTTL),
				ServerID:  &srvID,
				CreatedAt: now,
				UpdatedAt: now,
			})
		}
		if srv.DNSIP6 != "" {
			owned = append(owned, domain.Record{
				ID:        uuid.New().String(),
				ZoneID:    zoneID,
				Name:      relName,
				Type:      domain.TypeAAAA,
				Content:   srv.DNSIP6,
				TTL:       ttlFor(domain.TypeAAAA, relName, defaultGlueTTL),
				ServerID:  &srvID,
				CreatedAt: now,
				UpdatedAt: now,
			})
		}
	}

	if err := s.repo.ReplaceOwnedRecords(ctx, zoneID, owned); err != nil {
		return nil, fmt.Errorf("replace NS/glue records of zone %s: %w", zone.Name, err)
	}
	return s.validateAndFlag(ctx, zone)
}

func (s *zoneService) CreateServer(ctx context.Context, server *domain.Server) error {
	if err := domain.ValidateHostname(server.Name); err != nil {
		return err
	}
	if err := s.checkLocalUnique(ctx, server); err != nil {
		return err
	}
	server.ID = uuid.New().String()
	server.Name = strings.ToLower(strings.TrimSuffix(server.Name, "."))
	if server.IsLocal && server.APIIP == "" {
		server.APIIP = "127.0.0.1"
	}
	if server.APIToken == "" {
		token, err := newAgentToken()
		if err != nil {
			return err
		}
		server.APIToken = token
	}
	server.CreatedAt = time.Now()
	server.UpdatedAt = server.CreatedAt
	return s.repo.CreateServer(ctx, server)
}

func (s *zoneService) UpdateServer(ctx context.Context, server *domain.Server) (*domain.CheckResult, error) {
	existing, err := s.repo.GetServer(ctx, server.ID)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, fmt.Errorf("server %s not found", server.ID)
	}
	if err := domain.ValidateHostname(server.Name); err != nil {
		return nil, err
	}
	if err := s.checkLocalUnique(ctx, server); err != nil {
		return nil, err
	}
	server.Name = strings.ToLower(strings.TrimSuffix(server.Name, "."))
	server.CreatedAt = existing.CreatedAt
	server.UpdatedAt = time.Now()
	if server.APIToken == "" {
		server.APIToken = existing.APIToken
	}
	if err := s.repo.UpdateServer(ctx, server); err != nil {
		return nil, fmt.Errorf("update server %s: %w", server.Name, err)
	}

	// A rename or address change cascades into every zone using this server.
	agg := &domain.CheckResult{Status: domain.StatusOK}
	if existing.Name != server.Name || existing.DNSIP4 != server.DNSIP4 || existing.DNSIP6 != server.DNSIP6 {
		zoneIDs, err := s.repo.ListZoneIDsForServer(ctx, server.ID)
		if err != nil {
			return nil, err
		}
		for _, zoneID := range zoneIDs {
			res, err := s.RebuildNSAndGlue(ctx, zoneID)
			if err != nil {
				return nil, err
			}
			agg.Status = domain.Worst(agg.Status, res.Status)
			if res.Output != "" {
				if agg.Output != "" {
					agg.Output += "\n"
				}
				agg.Output += res.Output
			}
		}
	}
	return agg, nil
}

func (s *zoneService) DeleteServer(ctx context.Context, serverID string) error {
	zoneIDs, err := s.repo.ListZoneIDsForServer(ctx, serverID)
	if err != nil {
		return err
	}
	if len(zoneIDs) > 0 {
		return fmt.Errorf("%w: server is assigned to %d zone(s)", domain.ErrServerInUse, len(zoneIDs))
	}
	return s.repo.DeleteServer(ctx, serverID)
}

func (s *zoneService) ListServers(ctx context.Context) ([]domain.Server, error) {
	return s.repo.ListServers(ctx)
}

func (s *zoneService) ImportZoneFile(ctx context.Context, zoneID string, data []byte) (*domain.CheckResult, error) {
	zone, err := s.mustGetZone(ctx, zoneID)
	if err != nil {
		return nil, err
	}

	parsed, err := zonefile.NewParser(zone.Name).Parse(bytes.NewReader(data))
	if err != nil {
		return &domain.CheckResult{Status: domain.StatusError, Output: err.Error()}, nil
	}

	if parsed.SOA != nil {
		zone.SOARefresh = parsed.SOA.Refresh
		zone.SOARetry = parsed.SOA.Retry
		zone.SOAExpire = parsed.SOA.Expire
		zone.SOAMinimum = parsed.SOA.Minimum
		zone.UpdatedAt = time.Now()
		if err := s.repo.UpdateZone(ctx, zone); err != nil {
			return nil, fmt.Errorf("adopt SOA timers for zone %s: %w", zone.Name, err)
		}
	}

	var inserted []string
	now := time.Now()
	for _, rec := range parsed.Records {
		rec := rec
		rec.ID = uuid.New().String()
		rec.ZoneID = zoneID
		rec.CreatedAt = now
		rec.UpdatedAt = now
		if err := domain.ValidateRecord(&rec); err != nil {
			s.rollbackImport(ctx, zoneID, inserted)
			return nil, fmt.Errorf("imported record %s %s: %w", rec.Name, rec.Type, err)
		}
		if err := s.repo.CreateRecord(ctx, &rec); err != nil {
			s.rollbackImport(ctx, zoneID, inserted)
			return nil, fmt.Errorf("import record %s %s: %w", rec.Name, rec.Type, err)
		}
		inserted = append(inserted, rec.ID)
	}

	res, err := s.validateAndFlag(ctx, zone)
	if err != nil {
		return nil, err
	}
	if res.Status == domain.StatusError {
		s.rollbackImport(ctx, zoneID, inserted)
	}
	return res, nil
}

func (s *zoneService) rollbackImport(ctx context.Context, zoneID string, recordIDs []string) {
	for _, id := range recordIDs {
		if err := s.repo.DeleteRecord(ctx, id, zoneID); err != nil {
			s.logger.Error("failed to roll back imported record", "record_id", id, "error", err)
		}
	}
}

func (s *zoneService) UpdateDynDNS(ctx context.Context, zoneName, host, ip string) (*domain.CheckResult, error) {
	zone, err := s.repo.GetZoneByName(ctx, zoneName)
	if err != nil {
		return nil, err
	}
	if zone == nil {
		return nil, fmt.Errorf("zone %s not found", zoneName)
	}
	if !zone.AllowDynDNS {
		return nil, fmt.Errorf("zone %s does not allow dynamic updates", zone.Name)
	}

	parsed := net.ParseIP(ip)
	if parsed == nil {
		return nil, fmt.Errorf("%w: %q", domain.ErrInvalidIPv4, ip)
	}
	rType := domain.TypeA
	if parsed.To4() == nil {
		rType = domain.TypeAAAA
	}

	records, err := s.repo.ListRecordsForZone(ctx, zone.ID)
	if err != nil {
		return nil, err
	}
	for _, rec := range records {
		if rec.Type != rType || !strings.EqualFold(rec.Name, host) {
			continue
		}
		if rec.ServerID != nil {
			return nil, fmt.Errorf("%w: %s %s is managed from the zone's server assignment", domain.ErrProtectedRecord, rec.Name, rec.Type)
		}
		updated := rec
		updated.Content = parsed.String()
		return s.UpdateRecord(ctx, &updated)
	}

	return s.CreateRecord(ctx, &domain.Record{
		ZoneID:  zone.ID,
		Name:    strings.ToLower(host),
		Type:    rType,
		Content: parsed.String(),
		TTL:     defaultDynTTL,
	})
}

func (s *zoneService) HealthCheck(ctx context.Context) map[string]error {
	return map[string]error{
		"database": s.repo.Ping(ctx),
	}
}

func (s *zoneService) mustGetZone(ctx context.Context, zoneID string) (*domain.Zone, error) {
	zone, err := s.repo.GetZone(ctx, zoneID)
	if err != nil {
		return nil, err
	}
	if zone == nil {
		return nil, fmt.Errorf("zone %s not found", zoneID)
	}
	return zone, nil
}

func (s *zoneService) resolveMaster(ctx context.Context, assignments []domain.ZoneServer) (*domain.Server, error) {
	var masterID string
	masters := 0
	for _, a := range assignments {
		if a.IsMaster {
			masters++
			masterID = a.ServerID
		}
	}
	if masters != 1 {
		return nil, fmt.Errorf("exactly one master server required, got %d", masters)
	}
	master, err := s.repo.GetServer(ctx, masterID)
	if err != nil {
		return nil, err
	}
	if master == nil {
		return nil, fmt.Errorf("master server %s not found", masterID)
	}
	if !master.Active {
		return nil, fmt.Errorf("master server %s is inactive", master.Name)
	}
	return master, nil
}

func (s *zoneService) checkLocalUnique(ctx context.Context, server *domain.Server) error {
	if !server.IsLocal {
		return nil
	}
	servers, err := s.repo.ListServers(ctx)
	if err != nil {
		return err
	}
	for _, other := range servers {
		if other.IsLocal && other.ID != server.ID {
			return fmt.Errorf("server %s is already marked local", other.Name)
		}
	}
	return nil
}

func newAgentToken() (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("generate agent token: %w", err)
	}
	return hex.EncodeToString(raw), nil
}
