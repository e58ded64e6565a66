package ports

import (
	"context"
	"time"

	"github.com/dnsmgr/dnsmgr/internal/core/domain"
)

// ZoneRepository is the persistence port for zones, records, servers and the
// pending-publication state.
type ZoneRepository interface {
	GetZone(ctx context.Context, id string) (*domain.Zone, error)
	GetZoneByName(ctx context.Context, name string) (*domain.Zone, error)
	ListZones(ctx context.Context) ([]domain.Zone, error)
	ListChangedZones(ctx context.Context) ([]domain.Zone, error)
	CreateZone(ctx context.Context, zone *domain.Zone) error
	UpdateZone(ctx context.Context, zone *domain.Zone) error
	DeleteZone(ctx context.Context, zoneID string) error
	SetZoneChanged(ctx context.Context, zoneID string, changed bool) error

	// FullRebuildRequested reads the persisted "rebuild everything" marker.
	FullRebuildRequested(ctx context.Context) (bool, error)
	RequestFullRebuild(ctx context.Context) error
	// CommitPublish persists new SOA serials, clears the changed flag on the
	// published zones and resets the full-rebuild marker, all in one
	// transaction.
	CommitPublish(ctx context.Context, zoneIDs []string, serials map[string]uint32) error

	GetRecord(ctx context.Context, recordID string, zoneID string) (*domain.Record, error)
	ListRecordsForZone(ctx context.Context, zoneID string) ([]domain.Record, error)
	CreateRecord(ctx context.Context, record *domain.Record) error
	UpdateRecord(ctx context.Context, record *domain.Record) error
	DeleteRecord(ctx context.Context, recordID string, zoneID string) error
	// ReplaceOwnedRecords transactionally deletes all reconciler-owned records
	// of the zone and inserts the given replacement set.
	ReplaceOwnedRecords(ctx context.Context, zoneID string, records []domain.Record) error

	GetServer(ctx context.Context, id string) (*domain.Server, error)
	ListServers(ctx context.Context) ([]domain.Server, error)
	CreateServer(ctx context.Context, server *domain.Server) error
	UpdateServer(ctx context.Context, server *domain.Server) error
	DeleteServer(ctx context.Context, serverID string) error

	ListServersForZone(ctx context.Context, zoneID string) ([]domain.Server, error)
	ListZoneServers(ctx context.Context, zoneID string) ([]domain.ZoneServer, error)
	ListZoneIDsForServer(ctx context.Context, serverID string) ([]string, error)
	AssignServers(ctx context.Context, zoneID string, assignments []domain.ZoneServer) error

	SaveDiagnostic(ctx context.Context, diag *domain.Diagnostic) error
	LatestDiagnostic(ctx context.Context, targetType, targetID, checkType, serverID string) (*domain.Diagnostic, error)

	GetAPIKeyByHash(ctx context.Context, keyHash string) (*domain.APIKey, error)
	CreateAPIKey(ctx context.Context, key *domain.APIKey) error
	ListAPIKeys(ctx context.Context) ([]domain.APIKey, error)
	RevokeAPIKey(ctx context.Context, id string) error

	Ping(ctx context.Context) error
}

// BindChecker wraps the external BIND tooling (named-checkzone,
// named-checkconf, rndc) so the core can be tested against fakes. All methods
// return combined stdout+stderr verbatim; classification is the caller's job.
type BindChecker interface {
	CheckZone(ctx context.Context, zoneName, path string) (string, error)
	CheckConf(ctx context.Context) (string, error)
	Reload(ctx context.Context) (string, error)
	NamedRunning(ctx context.Context) bool
	RndcStatus(ctx context.Context) (string, error)
	ResolveLocalhost(ctx context.Context, name string) bool
}

// Target is one name server as seen by the distribution pipeline. The local
// server is backed by direct filesystem writes, remote servers by the
// authenticated agent API; callers never branch on locality.
type Target interface {
	Server() domain.Server
	// WriteZoneFile delivers a validated zone file and returns the target's
	// check/reload output.
	WriteZoneFile(ctx context.Context, zoneName string, data []byte, validZones []string) (string, error)
	WriteConfFile(ctx context.Context, zoneName string, data []byte, validZones []string) (string, error)
	CheckZone(ctx context.Context, zoneName string) (string, error)
	CheckConf(ctx context.Context) (string, error)
	Reload(ctx context.Context) (string, error)
	Status(ctx context.Context) (*domain.AgentStatus, error)
}

// TargetFactory builds the Target for a given server row.
type TargetFactory func(server domain.Server) Target

// PublishLock serializes publish runs. Acquire returns false without error
// when another run holds the lock.
type PublishLock interface {
	Acquire(ctx context.Context, ttl time.Duration) (bool, error)
	Release(ctx context.Context) error
}

// ZoneService is the mutation surface consumed by the management API. Every
// mutating operation runs the synthesize-validate gate before the pending
// state is persisted.
type ZoneService interface {
	CreateZone(ctx context.Context, zone *domain.Zone, assignments []domain.ZoneServer) (*domain.CheckResult, error)
	UpdateZone(ctx context.Context, zone *domain.Zone) (*domain.CheckResult, error)
	DeleteZone(ctx context.Context, zoneID string) error
	ListZones(ctx context.Context) ([]domain.Zone, error)
	GetZone(ctx context.Context, zoneID string) (*domain.Zone, error)

	CreateRecord(ctx context.Context, record *domain.Record) (*domain.CheckResult, error)
	UpdateRecord(ctx context.Context, record *domain.Record) (*domain.CheckResult, error)
	DeleteRecord(ctx context.Context, recordID, zoneID string) (*domain.CheckResult, error)
	ListRecordsForZone(ctx context.Context, zoneID string) ([]domain.Record, error)

	AssignServers(ctx context.Context, zoneID string, assignments []domain.ZoneServer) (*domain.CheckResult, error)
	RebuildZone(ctx context.Context, zoneID string) (*domain.CheckResult, error)
	RebuildNSAndGlue(ctx context.Context, zoneID string) (*domain.CheckResult, error)

	CreateServer(ctx context.Context, server *domain.Server) error
	UpdateServer(ctx context.Context, server *domain.Server) (*domain.CheckResult, error)
	DeleteServer(ctx context.Context, serverID string) error
	ListServers(ctx context.Context) ([]domain.Server, error)

	ImportZoneFile(ctx context.Context, zoneID string, data []byte) (*domain.CheckResult, error)
	UpdateDynDNS(ctx context.Context, zoneName, host, ip string) (*domain.CheckResult, error)

	HealthCheck(ctx context.Context) map[string]error
}
