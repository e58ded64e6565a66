package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"time"

	"github.com/google/uuid"

	"github.com/dnsmgr/dnsmgr/internal/core/domain"
	"github.com/dnsmgr/dnsmgr/internal/core/ports"
	"github.com/dnsmgr/dnsmgr/internal/infrastructure/metrics"
)

// ErrPublishLocked is returned when another publish run holds the lock.
var ErrPublishLocked = errors.New("publish already in progress")

const publishLockTTL = 10 * time.Minute

// Publisher is the top-level workflow: it finds all zones pending
// publication, synthesizes and validates each one, distributes the artifacts
// to every assigned server and commits the published state only when the
// whole run succeeded.
type Publisher struct {
	repo        ports.ZoneRepository
	synth       *Synthesizer
	checker     ports.BindChecker
	newTarget   ports.TargetFactory
	lock        ports.PublishLock
	scratchDir  string
	zoneDataDir string // zone file directory on the target servers
	logger      *slog.Logger
}

// NewPublisher creates a Publisher.
func NewPublisher(repo ports.ZoneRepository, synth *Synthesizer, checker ports.BindChecker, newTarget ports.TargetFactory, lock ports.PublishLock, scratchDir, zoneDataDir string, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		repo:        repo,
		synth:       synth,
		checker:     checker,
		newTarget:   newTarget,
		lock:        lock,
		scratchDir:  scratchDir,
		zoneDataDir: zoneDataDir,
		logger:      logger,
	}
}

// PublishAll runs one publish cycle. A failing zone is reported and skipped;
// the remaining zones are still attempted. The pending flags are cleared only
// when the entire run produced zero errors.
func (p *Publisher) PublishAll(ctx context.Context) (*domain.PublishReport, error) {
	acquired, err := p.lock.Acquire(ctx, publishLockTTL)
	if err != nil {
		return nil, fmt.Errorf("acquire publish lock: %w", err)
	}
	if !acquired {
		return nil, ErrPublishLocked
	}
	defer func() {
		if errRelease := p.lock.Release(ctx); errRelease != nil {
			p.logger.Warn("failed to release publish lock", "error", errRelease)
		}
	}()

	started := time.Now()
	full, err := p.repo.FullRebuildRequested(ctx)
	if err != nil {
		return nil, fmt.Errorf("read rebuild state: %w", err)
	}

	allZones, err := p.repo.ListZones(ctx)
	if err != nil {
		return nil, fmt.Errorf("list zones: %w", err)
	}
	candidates := allZones
	if !full {
		candidates, err = p.repo.ListChangedZones(ctx)
		if err != nil {
			return nil, fmt.Errorf("list changed zones: %w", err)
		}
	}

	// The prune set is computed per server: a zone unassigned from a server
	// must disappear there even while it lives on elsewhere.
	validByServer := make(map[string][]string)
	for _, z := range allZones {
		assigned, err := p.repo.ListServersForZone(ctx, z.ID)
		if err != nil {
			return nil, fmt.Errorf("list servers for zone %s: %w", z.Name, err)
		}
		for _, srv := range assigned {
			validByServer[srv.ID] = append(validByServer[srv.ID], z.Name)
		}
	}

	report := &domain.PublishReport{Zones: len(candidates)}
	serials := make(map[string]uint32, len(candidates))
	candidateIDs := make([]string, 0, len(candidates))
	touched := make(map[string]ports.Target)

	for i := range candidates {
		zone := candidates[i]
		candidateIDs = append(candidateIDs, zone.ID)
		p.publishZone(ctx, &zone, validByServer, report, serials, touched)
	}

	for _, target := range touched {
		if out, err := target.Reload(ctx); err != nil {
			report.Errors = append(report.Errors, fmt.Sprintf("%s: reload: %v", target.Server().Name, err))
		} else if domain.ClassifyCheckOutput(out, false) == domain.StatusWarning {
			report.Warnings = append(report.Warnings, fmt.Sprintf("%s: reload: %s", target.Server().Name, out))
		}
	}

	result := "ok"
	if report.OK() {
		if err := p.repo.CommitPublish(ctx, candidateIDs, serials); err != nil {
			return nil, fmt.Errorf("commit publish state: %w", err)
		}
	} else {
		result = "error"
	}
	metrics.PublishRunsTotal.WithLabelValues(result).Inc()
	metrics.PublishDuration.Observe(time.Since(started).Seconds())
	if pending, err := p.repo.ListChangedZones(ctx); err == nil {
		metrics.ZonesPending.Set(float64(len(pending)))
	}
	p.logger.Info("publish run finished", "zones", report.Zones, "errors", len(report.Errors), "warnings", len(report.Warnings), "duration", time.Since(started))
	return report, nil
}

// publishZone synthesizes, validates and distributes one zone. Failures are
// collected into report; a validation error skips distribution entirely.
func (p *Publisher) publishZone(ctx context.Context, zone *domain.Zone, validByServer map[string][]string, report *domain.PublishReport, serials map[string]uint32, touched map[string]ports.Target) {
	records, err := p.repo.ListRecordsForZone(ctx, zone.ID)
	if err != nil {
		report.Errors = append(report.Errors, fmt.Sprintf("zone %s: %v", zone.Name, err))
		return
	}
	servers, err := p.repo.ListServersForZone(ctx, zone.ID)
	if err != nil {
		report.Errors = append(report.Errors, fmt.Sprintf("zone %s: %v", zone.Name, err))
		return
	}
	active := servers[:0]
	for _, srv := range servers {
		if srv.Active {
			active = append(active, srv)
		}
	}
	if len(active) == 0 {
		report.Errors = append(report.Errors, fmt.Sprintf("zone %s: no active servers assigned", zone.Name))
		return
	}

	text, serial, err := p.synth.Synthesize(zone, records, PurposePublish)
	if err != nil {
		report.Errors = append(report.Errors, fmt.Sprintf("zone %s: %v", zone.Name, err))
		return
	}
	out, status := p.checkScratch(ctx, zone.Name, text)
	metrics.ZoneValidationsTotal.WithLabelValues(string(status)).Inc()
	if status == domain.StatusError {
		report.Errors = append(report.Errors, fmt.Sprintf("zone %s: %s", zone.Name, out))
		return
	}
	if status == domain.StatusWarning {
		report.Warnings = append(report.Warnings, fmt.Sprintf("zone %s: %s", zone.Name, out))
	}

	conf := p.confFragment(zone)
	for _, srv := range active {
		target, ok := touched[srv.ID]
		if !ok {
			target = p.newTarget(srv)
		}

		if out, err := target.WriteZoneFile(ctx, zone.Name, []byte(text), validByServer[srv.ID]); err != nil {
			report.Errors = append(report.Errors, fmt.Sprintf("%s: zone %s: %v", srv.Name, zone.Name, err))
			metrics.DistributionFailuresTotal.WithLabelValues(srv.Name).Inc()
			continue
		} else if domain.ClassifyCheckOutput(out, false) == domain.StatusWarning {
			report.Warnings = append(report.Warnings, fmt.Sprintf("%s: zone %s: %s", srv.Name, zone.Name, out))
		}

		if _, err := target.WriteConfFile(ctx, zone.Name, []byte(conf), validByServer[srv.ID]); err != nil {
			report.Errors = append(report.Errors, fmt.Sprintf("%s: conf %s: %v", srv.Name, zone.Name, err))
			metrics.DistributionFailuresTotal.WithLabelValues(srv.Name).Inc()
			continue
		}
		touched[srv.ID] = target
	}

	serials[zone.ID] = serial
}

// checkScratch writes the synthesized text to a scratch file and runs
// named-checkzone against it.
func (p *Publisher) checkScratch(ctx context.Context, zoneName, text string) (string, domain.Status) {
	scratch, err := os.CreateTemp(p.scratchDir, "db."+domain.SafeZoneName(zoneName)+".*")
	if err != nil {
		return err.Error(), domain.StatusError
	}
	defer func() {
		if errRemove := os.Remove(scratch.Name()); errRemove != nil {
			p.logger.Warn("failed to remove scratch file", "path", scratch.Name(), "error", errRemove)
		}
	}()
	if _, err := scratch.WriteString(text); err != nil {
		scratch.Close()
		return err.Error(), domain.StatusError
	}
	if err := scratch.Close(); err != nil {
		return err.Error(), domain.StatusError
	}

	out, err := p.checker.CheckZone(ctx, zoneName, scratch.Name())
	if err != nil {
		p.logger.Warn("named-checkzone did not run cleanly", "zone", zoneName, "error", err)
	}
	return out, domain.ClassifyCheckOutput(out, true)
}

// confFragment renders the per-zone config include distributed next to the
// zone file.
func (p *Publisher) confFragment(zone *domain.Zone) string {
	file := path.Join(p.zoneDataDir, "db."+domain.SafeZoneName(zone.Name))
	return fmt.Sprintf("zone \"%s\" {\n\ttype master;\n\tfile \"%s\";\n};\n", zone.Name, file)
}

// SweepDiagnostics re-validates configuration and zone files on every active
// server and appends a diagnostic row for each status transition. It never
// gates publication.
func (p *Publisher) SweepDiagnostics(ctx context.Context) error {
	servers, err := p.repo.ListServers(ctx)
	if err != nil {
		return fmt.Errorf("list servers: %w", err)
	}

	for _, srv := range servers {
		if !srv.Active {
			continue
		}
		target := p.newTarget(srv)

		status, err := target.Status(ctx)
		if err != nil {
			p.recordDiagnostic(ctx, "server", srv.ID, "status", srv.ID, domain.StatusError, err.Error())
		} else {
			st := domain.StatusOK
			if status.Status != "ok" {
				st = domain.StatusError
			}
			detail, _ := json.Marshal(status)
			p.recordDiagnostic(ctx, "server", srv.ID, "status", srv.ID, st, string(detail))
		}

		if out, err := target.CheckConf(ctx); err != nil {
			p.recordDiagnostic(ctx, "server", srv.ID, "conf", srv.ID, domain.StatusError, err.Error())
		} else {
			p.recordDiagnostic(ctx, "server", srv.ID, "conf", srv.ID, domain.ClassifyCheckOutput(out, false), out)
		}

		zoneIDs, err := p.repo.ListZoneIDsForServer(ctx, srv.ID)
		if err != nil {
			return fmt.Errorf("list zones for server %s: %w", srv.Name, err)
		}
		for _, zoneID := range zoneIDs {
			zone, err := p.repo.GetZone(ctx, zoneID)
			if err != nil || zone == nil {
				continue
			}
			if out, err := target.CheckZone(ctx, zone.Name); err != nil {
				p.recordDiagnostic(ctx, "zone", zoneID, "zone_file", srv.ID, domain.StatusError, err.Error())
			} else {
				p.recordDiagnostic(ctx, "zone", zoneID, "zone_file", srv.ID, domain.ClassifyCheckOutput(out, true), out)
			}
		}
	}
	return nil
}

// recordDiagnostic appends a row only when the status differs from the last
// recorded one, keeping the history a list of transitions.
func (p *Publisher) recordDiagnostic(ctx context.Context, targetType, targetID, checkType, serverID string, status domain.Status, output string) {
	last, err := p.repo.LatestDiagnostic(ctx, targetType, targetID, checkType, serverID)
	if err != nil {
		p.logger.Error("failed to load last diagnostic", "target", targetID, "check", checkType, "error", err)
		return
	}
	if last != nil && last.Status == status {
		return
	}
	diag := &domain.Diagnostic{
		ID:         uuid.New().String(),
		TargetType: targetType,
		TargetID:   targetID,
		CheckType:  checkType,
		ServerID:   serverID,
		Status:     status,
		Output:     output,
		CreatedAt:  time.Now(),
	}
	if err := p.repo.SaveDiagnostic(ctx, diag); err != nil {
		p.logger.Error("failed to save diagnostic", "target", targetID, "check", checkType, "error", err)
	}
}
