package testutil

import (
	"context"
	"sync"

	"github.com/dnsmgr/dnsmgr/internal/core/domain"
)

// FakeRepo is an in-memory ZoneRepository for service tests. FailOn lets a
// test force an error from a single method by name.
type FakeRepo struct {
	mu sync.Mutex

	Zones       map[string]*domain.Zone
	Records     map[string]*domain.Record
	Servers     map[string]*domain.Server
	Assignments []domain.ZoneServer
	Diagnostics []domain.Diagnostic
	APIKeys     map[string]*domain.APIKey
	FullRebuild bool

	FailOn map[string]error
}

// NewFakeRepo returns an empty FakeRepo.
func NewFakeRepo() *FakeRepo {
	return &FakeRepo{
		Zones:   make(map[string]*domain.Zone),
		Records: make(map[string]*domain.Record),
		Servers: make(map[string]*domain.Server),
		APIKeys: make(map[string]*domain.APIKey),
		FailOn:  make(map[string]error),
	}
}

func (f *FakeRepo) fail(method string) error {
	return f.FailOn[method]
}

func (f *FakeRepo) GetZone(ctx context.Context, id string) (*domain.Zone, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("GetZone"); err != nil {
		return nil, err
	}
	z, ok := f.Zones[id]
	if !ok {
		return nil, nil
	}
	copied := *z
	return &copied, nil
}

func (f *FakeRepo) GetZoneByName(ctx context.Context, name string) (*domain.Zone, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("GetZoneByName"); err != nil {
		return nil, err
	}
	for _, z := range f.Zones {
		if z.Name == name {
			copied := *z
			return &copied, nil
		}
	}
	return nil, nil
}

func (f *FakeRepo) ListZones(ctx context.Context) ([]domain.Zone, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("ListZones"); err != nil {
		return nil, err
	}
	var zones []domain.Zone
	for _, z := range f.Zones {
		zones = append(zones, *z)
	}
	return zones, nil
}

func (f *FakeRepo) ListChangedZones(ctx context.Context) ([]domain.Zone, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("ListChangedZones"); err != nil {
		return nil, err
	}
	var zones []domain.Zone
	for _, z := range f.Zones {
		if z.Changed {
			zones = append(zones, *z)
		}
	}
	return zones, nil
}

func (f *FakeRepo) CreateZone(ctx context.Context, zone *domain.Zone) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("CreateZone"); err != nil {
		return err
	}
	copied := *zone
	f.Zones[zone.ID] = &copied
	return nil
}

func (f *FakeRepo) UpdateZone(ctx context.Context, zone *domain.Zone) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("UpdateZone"); err != nil {
		return err
	}
	copied := *zone
	f.Zones[zone.ID] = &copied
	return nil
}

func (f *FakeRepo) DeleteZone(ctx context.Context, zoneID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("DeleteZone"); err != nil {
		return err
	}
	delete(f.Zones, zoneID)
	for id, rec := range f.Records {
		if rec.ZoneID == zoneID {
			delete(f.Records, id)
		}
	}
	kept := f.Assignments[:0]
	for _, zs := range f.Assignments {
		if zs.ZoneID != zoneID {
			kept = append(kept, zs)
		}
	}
	f.Assignments = kept
	return nil
}

func (f *FakeRepo) SetZoneChanged(ctx context.Context, zoneID string, changed bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("SetZoneChanged"); err != nil {
		return err
	}
	if z, ok := f.Zones[zoneID]; ok {
		z.Changed = changed
	}
	return nil
}

func (f *FakeRepo) FullRebuildRequested(ctx context.Context) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("FullRebuildRequested"); err != nil {
		return false, err
	}
	return f.FullRebuild, nil
}

func (f *FakeRepo) RequestFullRebuild(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("RequestFullRebuild"); err != nil {
		return err
	}
	f.FullRebuild = true
	return nil
}

func (f *FakeRepo) CommitPublish(ctx context.Context, zoneIDs []string, serials map[string]uint32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("CommitPublish"); err != nil {
		return err
	}
	for _, id := range zoneIDs {
		if z, ok := f.Zones[id]; ok {
			z.SOASerial = serials[id]
			z.Changed = false
		}
	}
	f.FullRebuild = false
	return nil
}

func (f *FakeRepo) GetRecord(ctx context.Context, recordID string, zoneID string) (*domain.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("GetRecord"); err != nil {
		return nil, err
	}
	rec, ok := f.Records[recordID]
	if !ok || rec.ZoneID != zoneID {
		return nil, nil
	}
	copied := *rec
	return &copied, nil
}

func (f *FakeRepo) ListRecordsForZone(ctx context.Context, zoneID string) ([]domain.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("ListRecordsForZone"); err != nil {
		return nil, err
	}
	var records []domain.Record
	for _, rec := range f.Records {
		if rec.ZoneID == zoneID {
			records = append(records, *rec)
		}
	}
	return records, nil
}

func (f *FakeRepo) CreateRecord(ctx context.Context, record *domain.Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("CreateRecord"); err != nil {
		return err
	}
	copied := *record
	f.Records[record.ID] = &copied
	return nil
}

func (f *FakeRepo) UpdateRecord(ctx context.Context, record *domain.Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("UpdateRecord"); err != nil {
		return err
	}
	copied := *record
	f.Records[record.ID] = &copied
	return nil
}

func (f *FakeRepo) DeleteRecord(ctx context.Context, recordID string, zoneID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("DeleteRecord"); err != nil {
		return err
	}
	delete(f.Records, recordID)
	return nil
}

func (f *FakeRepo) ReplaceOwnedRecords(ctx context.Context, zoneID string, records []domain.Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("ReplaceOwnedRecords"); err != nil {
		return err
	}
	for id, rec := range f.Records {
		if rec.ZoneID == zoneID && rec.ServerID != nil {
			delete(f.Records, id)
		}
	}
	for i := range records {
		copied := records[i]
		f.Records[copied.ID] = &copied
	}
	return nil
}

func (f *FakeRepo) GetServer(ctx context.Context, id string) (*domain.Server, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("GetServer"); err != nil {
		return nil, err
	}
	srv, ok := f.Servers[id]
	if !ok {
		return nil, nil
	}
	copied := *srv
	return &copied, nil
}

func (f *FakeRepo) ListServers(ctx context.Context) ([]domain.Server, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("ListServers"); err != nil {
		return nil, err
	}
	var servers []domain.Server
	for _, srv := range f.Servers {
		servers = append(servers, *srv)
	}
	return servers, nil
}

func (f *FakeRepo) CreateServer(ctx context.Context, server *domain.Server) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("CreateServer"); err != nil {
		return err
	}
	copied := *server
	f.Servers[server.ID] = &copied
	return nil
}

func (f *FakeRepo) UpdateServer(ctx context.Context, server *domain.Server) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("UpdateServer"); err != nil {
		return err
	}
	copied := *server
	f.Servers[server.ID] = &copied
	return nil
}

func (f *FakeRepo) DeleteServer(ctx context.Context, serverID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("DeleteServer"); err != nil {
		return err
	}
	delete(f.Servers, serverID)
	return nil
}

func (f *FakeRepo) ListServersForZone(ctx context.Context, zoneID string) ([]domain.Server, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("ListServersForZone"); err != nil {
		return nil, err
	}
	var servers []domain.Server
	for _, zs := range f.Assignments {
		if zs.ZoneID != zoneID {
			continue
		}
		if srv, ok := f.Servers[zs.ServerID]; ok {
			servers = append(servers, *srv)
		}
	}
	return servers, nil
}

func (f *FakeRepo) ListZoneServers(ctx context.Context, zoneID string) ([]domain.ZoneServer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("ListZoneServers"); err != nil {
		return nil, err
	}
	var assignments []domain.ZoneServer
	for _, zs := range f.Assignments {
		if zs.ZoneID == zoneID {
			assignments = append(assignments, zs)
		}
	}
	return assignments, nil
}

func (f *FakeRepo) ListZoneIDsForServer(ctx context.Context, serverID string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("ListZoneIDsForServer"); err != nil {
		return nil, err
	}
	var zoneIDs []string
	for _, zs := range f.Assignments {
		if zs.ServerID == serverID {
			zoneIDs = append(zoneIDs, zs.ZoneID)
		}
	}
	return zoneIDs, nil
}

func (f *FakeRepo) AssignServers(ctx context.Context, zoneID string, assignments []domain.ZoneServer) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("AssignServers"); err != nil {
		return err
	}
	kept := f.Assignments[:0]
	for _, zs := range f.Assignments {
		if zs.ZoneID != zoneID {
			kept = append(kept, zs)
		}
	}
	f.Assignments = append(kept, assignments...)
	return nil
}

func (f *FakeRepo) SaveDiagnostic(ctx context.Context, diag *domain.Diagnostic) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("SaveDiagnostic"); err != nil {
		return err
	}
	f.Diagnostics = append(f.Diagnostics, *diag)
	return nil
}

func (f *FakeRepo) LatestDiagnostic(ctx context.Context, targetType, targetID, checkType, serverID string) (*domain.Diagnostic, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("LatestDiagnostic"); err != nil {
		return nil, err
	}
	for i := len(f.Diagnostics) - 1; i >= 0; i-- {
		d := f.Diagnostics[i]
		if d.TargetType == targetType && d.TargetID == targetID && d.CheckType == checkType && d.ServerID == serverID {
			return &d, nil
		}
	}
	return nil, nil
}

func (f *FakeRepo) GetAPIKeyByHash(ctx context.Context, keyHash string) (*domain.APIKey, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("GetAPIKeyByHash"); err != nil {
		return nil, err
	}
	for _, k := range f.APIKeys {
		if k.KeyHash == keyHash && k.Active {
			copied := *k
			return &copied, nil
		}
	}
	return nil, nil
}

func (f *FakeRepo) CreateAPIKey(ctx context.Context, key *domain.APIKey) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("CreateAPIKey"); err != nil {
		return err
	}
	copied := *key
	f.APIKeys[key.ID] = &copied
	return nil
}

func (f *FakeRepo) ListAPIKeys(ctx context.Context) ([]domain.APIKey, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("ListAPIKeys"); err != nil {
		return nil, err
	}
	var keys []domain.APIKey
	for _, k := range f.APIKeys {
		keys = append(keys, *k)
	}
	return keys, nil
}

func (f *FakeRepo) RevokeAPIKey(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail("RevokeAPIKey"); err != nil {
		return err
	}
	if k, ok := f.APIKeys[id]; ok {
		k.Active = false
	}
	return nil
}

func (f *FakeRepo) Ping(ctx context.Context) error {
	return f.fail("Ping")
}
