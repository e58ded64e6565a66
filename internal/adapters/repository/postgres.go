package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dnsmgr/dnsmgr/internal/core/domain"
)

// PostgresRepository implements ports.ZoneRepository using PostgreSQL.
type PostgresRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewPostgresRepository creates and returns a new PostgresRepository instance.
func NewPostgresRepository(db *sql.DB, logger *slog.Logger) *PostgresRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresRepository{db: db, logger: logger}
}

const zoneColumns = `id, name, type, ttl, prefix_length, description, soa_ns, soa_mail, soa_serial,
	soa_refresh, soa_retry, soa_expire, soa_minimum, allow_dyndns, changed, created_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanZone(s scanner) (*domain.Zone, error) {
	var z domain.Zone
	var prefix sql.NullInt32
	err := s.Scan(&z.ID, &z.Name, &z.Type, &z.TTL, &prefix, &z.Description, &z.SOANS, &z.SOAMail,
		&z.SOASerial, &z.SOARefresh, &z.SOARetry, &z.SOAExpire, &z.SOAMinimum, &z.AllowDynDNS,
		&z.Changed, &z.CreatedAt, &z.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if prefix.Valid {
		p := int(prefix.Int32)
		z.PrefixLength = &p
	}
	return &z, nil
}

func (r *PostgresRepository) closeRows(rows *sql.Rows) {
	if errClose := rows.Close(); errClose != nil {
		r.logger.Warn("failed to close rows", "error", errClose)
	}
}

func (r *PostgresRepository) GetZone(ctx context.Context, id string) (*domain.Zone, error) {
	query := `SELECT ` + zoneColumns + ` FROM zones WHERE id = $1`
	zone, err := scanZone(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return zone, err
}

func (r *PostgresRepository) GetZoneByName(ctx context.Context, name string) (*domain.Zone, error) {
	query := `SELECT ` + zoneColumns + ` FROM zones WHERE LOWER(name) = LOWER($1)`
	zone, err := scanZone(r.db.QueryRowContext(ctx, query, name))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return zone, err
}

func (r *PostgresRepository) listZones(ctx context.Context, query string, args ...any) ([]domain.Zone, error) {
	rows, errQuery := r.db.QueryContext(ctx, query, args...)
	if errQuery != nil {
		return nil, errQuery
	}
	defer r.closeRows(rows)

	var zones []domain.Zone
	for rows.Next() {
		z, errScan := scanZone(rows)
		if errScan != nil {
			return nil, errScan
		}
		zones = append(zones, *z)
	}
	return zones, rows.Err()
}

func (r *PostgresRepository) ListZones(ctx context.Context) ([]domain.Zone, error) {
	return r.listZones(ctx, `SELECT `+zoneColumns+` FROM zones ORDER BY name`)
}

func (r *PostgresRepository) ListChangedZones(ctx context.Context) ([]domain.Zone, error) {
	return r.listZones(ctx, `SELECT `+zoneColumns+` FROM zones WHERE changed ORDER BY name`)
}

func (r *PostgresRepository) CreateZone(ctx context.Context, zone *domain.Zone) error {
	query := `INSERT INTO zones (` + zoneColumns + `)
			  VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`
	_, err := r.db.ExecContext(ctx, query, zone.ID, zone.Name, zone.Type, zone.TTL, zone.PrefixLength,
		zone.Description, zone.SOANS, zone.SOAMail, zone.SOASerial, zone.SOARefresh, zone.SOARetry,
		zone.SOAExpire, zone.SOAMinimum, zone.AllowDynDNS, zone.Changed, zone.CreatedAt, zone.UpdatedAt)
	return err
}

func (r *PostgresRepository) UpdateZone(ctx context.Context, zone *domain.Zone) error {
	query := `UPDATE zones SET name = $1, type = $2, ttl = $3, prefix_length = $4, description = $5,
			  soa_ns = $6, soa_mail = $7, soa_serial = $8, soa_refresh = $9, soa_retry = $10,
			  soa_expire = $11, soa_minimum = $12, allow_dyndns = $13, changed = $14, updated_at = $15
			  WHERE id = $16`
	_, err := r.db.ExecContext(ctx, query, zone.Name, zone.Type, zone.TTL, zone.PrefixLength,
		zone.Description, zone.SOANS, zone.SOAMail, zone.SOASerial, zone.SOARefresh, zone.SOARetry,
		zone.SOAExpire, zone.SOAMinimum, zone.AllowDynDNS, zone.Changed, zone.UpdatedAt, zone.ID)
	return err
}

func (r *PostgresRepository) DeleteZone(ctx context.Context, zoneID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM zones WHERE id = $1`, zoneID)
	return err
}

func (r *PostgresRepository) SetZoneChanged(ctx context.Context, zoneID string, changed bool) error {
	_, err := r.db.ExecContext(ctx, `UPDATE zones SET changed = $1, updated_at = NOW() WHERE id = $2`, changed, zoneID)
	return err
}

func (r *PostgresRepository) FullRebuildRequested(ctx context.Context) (bool, error) {
	var full bool
	err := r.db.QueryRowContext(ctx, `SELECT full_rebuild FROM publish_state WHERE id = 1`).Scan(&full)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return full, err
}

func (r *PostgresRepository) RequestFullRebuild(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `UPDATE publish_state SET full_rebuild = TRUE, updated_at = NOW() WHERE id = 1`)
	return err
}

// CommitPublish persists the serials of a clean run, clears the pending flags
// and resets the full-rebuild marker in one transaction.
func (r *PostgresRepository) CommitPublish(ctx context.Context, zoneIDs []string, serials map[string]uint32) error {
	tx, errTx := r.db.BeginTx(ctx, nil)
	if errTx != nil {
		return errTx
	}
	defer func() {
		if errRollback := tx.Rollback(); errRollback != nil && !errors.Is(errRollback, sql.ErrTxDone) {
			r.logger.Warn("failed to rollback transaction", "error", errRollback)
		}
	}()

	for _, zoneID := range zoneIDs {
		serial, ok := serials[zoneID]
		if !ok {
			return fmt.Errorf("no serial recorded for zone %s", zoneID)
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE zones SET soa_serial = $1, changed = FALSE, updated_at = NOW() WHERE id = $2`,
			serial, zoneID); err != nil {
			return err
		}
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE publish_state SET full_rebuild = FALSE, updated_at = NOW() WHERE id = 1`); err != nil {
		return err
	}
	return tx.Commit()
}

const recordColumns = `id, zone_id, name, type, content, ttl, server_id, created_at, updated_at`

func scanRecord(s scanner) (*domain.Record, error) {
	var rec domain.Record
	var serverID sql.NullString
	err := s.Scan(&rec.ID, &rec.ZoneID, &rec.Name, &rec.Type, &rec.Content, &rec.TTL, &serverID,
		&rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if serverID.Valid {
		rec.ServerID = &serverID.String
	}
	return &rec, nil
}

func (r *PostgresRepository) GetRecord(ctx context.Context, recordID string, zoneID string) (*domain.Record, error) {
	query := `SELECT ` + recordColumns + ` FROM records WHERE id = $1 AND zone_id = $2`
	rec, err := scanRecord(r.db.QueryRowContext(ctx, query, recordID, zoneID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return rec, err
}

func (r *PostgresRepository) ListRecordsForZone(ctx context.Context, zoneID string) ([]domain.Record, error) {
	query := `SELECT ` + recordColumns + ` FROM records WHERE zone_id = $1 ORDER BY name, type, content`
	rows, errQuery := r.db.QueryContext(ctx, query, zoneID)
	if errQuery != nil {
		return nil, errQuery
	}
	defer r.closeRows(rows)

	var records []domain.Record
	for rows.Next() {
		rec, errScan := scanRecord(rows)
		if errScan != nil {
			return nil, errScan
		}
		records = append(records, *rec)
	}
	return records, rows.Err()
}

func (r *PostgresRepository) CreateRecord(ctx context.Context, record *domain.Record) error {
	query := `INSERT INTO records (` + recordColumns + `)
			  VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	_, err := r.db.ExecContext(ctx, query, record.ID, record.ZoneID, record.Name, record.Type,
		record.Content, record.TTL, record.ServerID, record.CreatedAt, record.UpdatedAt)
	return err
}

func (r *PostgresRepository) UpdateRecord(ctx context.Context, record *domain.Record) error {
	query := `UPDATE records SET name = $1, type = $2, content = $3, ttl = $4, server_id = $5, updated_at = $6
			  WHERE id = $7 AND zone_id = $8`
	_, err := r.db.ExecContext(ctx, query, record.Name, record.Type, record.Content, record.TTL,
		record.ServerID, record.UpdatedAt, record.ID, record.ZoneID)
	return err
}

func (r *PostgresRepository) DeleteRecord(ctx context.Context, recordID string, zoneID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM records WHERE id = $1 AND zone_id = $2`, recordID, zoneID)
	return err
}

// ReplaceOwnedRecords swaps the reconciler-owned record set of a zone in one
// transaction so a failed rebuild never leaves the zone half rewritten.
func (r *PostgresRepository) ReplaceOwnedRecords(ctx context.Context, zoneID string, records []domain.Record) error {
	tx, errTx := r.db.BeginTx(ctx, nil)
	if errTx != nil {
		return errTx
	}
	defer func() {
		if errRollback := tx.Rollback(); errRollback != nil && !errors.Is(errRollback, sql.ErrTxDone) {
			r.logger.Warn("failed to rollback transaction", "error", errRollback)
		}
	}()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM records WHERE zone_id = $1 AND server_id IS NOT NULL`, zoneID); err != nil {
		return err
	}
	query := `INSERT INTO records (` + recordColumns + `)
			  VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	for _, rec := range records {
		if _, err := tx.ExecContext(ctx, query, rec.ID, rec.ZoneID, rec.Name, rec.Type,
			rec.Content, rec.TTL, rec.ServerID, rec.CreatedAt, rec.UpdatedAt); err != nil {
			return err
		}
	}
	return tx.Commit()
}

const serverColumns = `id, name, dns_ip4, dns_ip6, api_ip, api_token, is_local, active, created_at, updated_at`

func scanServer(s scanner) (*domain.Server, error) {
	var srv domain.Server
	err := s.Scan(&srv.ID, &srv.Name, &srv.DNSIP4, &srv.DNSIP6, &srv.APIIP, &srv.APIToken,
		&srv.IsLocal, &srv.Active, &srv.CreatedAt, &srv.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &srv, nil
}

func (r *PostgresRepository) GetServer(ctx context.Context, id string) (*domain.Server, error) {
	query := `SELECT ` + serverColumns + ` FROM servers WHERE id = $1`
	srv, err := scanServer(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return srv, err
}

func (r *PostgresRepository) listServers(ctx context.Context, query string, args ...any) ([]domain.Server, error) {
	rows, errQuery := r.db.QueryContext(ctx, query, args...)
	if errQuery != nil {
		return nil, errQuery
	}
	defer r.closeRows(rows)

	var servers []domain.Server
	for rows.Next() {
		srv, errScan := scanServer(rows)
		if errScan != nil {
			return nil, errScan
		}
		servers = append(servers, *srv)
	}
	return servers, rows.Err()
}

func (r *PostgresRepository) ListServers(ctx context.Context) ([]domain.Server, error) {
	return r.listServers(ctx, `SELECT `+serverColumns+` FROM servers ORDER BY name`)
}

func (r *PostgresRepository) CreateServer(ctx context.Context, server *domain.Server) error {
	query := `INSERT INTO servers (` + serverColumns + `)
			  VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`
	_, err := r.db.ExecContext(ctx, query, server.ID, server.Name, server.DNSIP4, server.DNSIP6,
		server.APIIP, server.APIToken, server.IsLocal, server.Active, server.CreatedAt, server.UpdatedAt)
	return err
}

func (r *PostgresRepository) UpdateServer(ctx context.Context, server *domain.Server) error {
	query := `UPDATE servers SET name = $1, dns_ip4 = $2, dns_ip6 = $3, api_ip = $4, api_token = $5,
			  is_local = $6, active = $7, updated_at = $8 WHERE id = $9`
	_, err := r.db.ExecContext(ctx, query, server.Name, server.DNSIP4, server.DNSIP6, server.APIIP,
		server.APIToken, server.IsLocal, server.Active, server.UpdatedAt, server.ID)
	return err
}

func (r *PostgresRepository) DeleteServer(ctx context.Context, serverID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM servers WHERE id = $1`, serverID)
	return err
}

func (r *PostgresRepository) ListServersForZone(ctx context.Context, zoneID string) ([]domain.Server, error) {
	query := `SELECT s.id, s.name, s.dns_ip4, s.dns_ip6, s.api_ip, s.api_token, s.is_local, s.active,
			  s.created_at, s.updated_at
			  FROM servers s JOIN zone_servers zs ON zs.server_id = s.id
			  WHERE zs.zone_id = $1 ORDER BY s.name`
	return r.listServers(ctx, query, zoneID)
}

func (r *PostgresRepository) ListZoneServers(ctx context.Context, zoneID string) ([]domain.ZoneServer, error) {
	query := `SELECT zone_id, server_id, is_master FROM zone_servers WHERE zone_id = $1`
	rows, errQuery := r.db.QueryContext(ctx, query, zoneID)
	if errQuery != nil {
		return nil, errQuery
	}
	defer r.closeRows(rows)

	var assignments []domain.ZoneServer
	for rows.Next() {
		var zs domain.ZoneServer
		if errScan := rows.Scan(&zs.ZoneID, &zs.ServerID, &zs.IsMaster); errScan != nil {
			return nil, errScan
		}
		assignments = append(assignments, zs)
	}
	return assignments, rows.Err()
}

func (r *PostgresRepository) ListZoneIDsForServer(ctx context.Context, serverID string) ([]string, error) {
	rows, errQuery := r.db.QueryContext(ctx, `SELECT zone_id FROM zone_servers WHERE server_id = $1`, serverID)
	if errQuery != nil {
		return nil, errQuery
	}
	defer r.closeRows(rows)

	var zoneIDs []string
	for rows.Next() {
		var id string
		if errScan := rows.Scan(&id); errScan != nil {
			return nil, errScan
		}
		zoneIDs = append(zoneIDs, id)
	}
	return zoneIDs, rows.Err()
}

// AssignServers replaces the zone's assignment set transactionally.
func (r *PostgresRepository) AssignServers(ctx context.Context, zoneID string, assignments []domain.ZoneServer) error {
	tx, errTx := r.db.BeginTx(ctx, nil)
	if errTx != nil {
		return errTx
	}
	defer func() {
		if errRollback := tx.Rollback(); errRollback != nil && !errors.Is(errRollback, sql.ErrTxDone) {
			r.logger.Warn("failed to rollback transaction", "error", errRollback)
		}
	}()

	if _, err := tx.ExecContext(ctx, `DELETE FROM zone_servers WHERE zone_id = $1`, zoneID); err != nil {
		return err
	}
	for _, zs := range assignments {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO zone_servers (zone_id, server_id, is_master) VALUES ($1, $2, $3)`,
			zoneID, zs.ServerID, zs.IsMaster); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (r *PostgresRepository) SaveDiagnostic(ctx context.Context, diag *domain.Diagnostic) error {
	query := `INSERT INTO diagnostics (id, target_type, target_id, check_type, server_id, status, output, created_at)
			  VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	_, err := r.db.ExecContext(ctx, query, diag.ID, diag.TargetType, diag.TargetID, diag.CheckType,
		diag.ServerID, diag.Status, diag.Output, diag.CreatedAt)
	return err
}

func (r *PostgresRepository) LatestDiagnostic(ctx context.Context, targetType, targetID, checkType, serverID string) (*domain.Diagnostic, error) {
	query := `SELECT id, target_type, target_id, check_type, server_id, status, output, created_at
			  FROM diagnostics
			  WHERE target_type = $1 AND target_id = $2 AND check_type = $3 AND server_id = $4
			  ORDER BY created_at DESC LIMIT 1`
	var d domain.Diagnostic
	errRow := r.db.QueryRowContext(ctx, query, targetType, targetID, checkType, serverID).Scan(
		&d.ID, &d.TargetType, &d.TargetID, &d.CheckType, &d.ServerID, &d.Status, &d.Output, &d.CreatedAt)
	if errors.Is(errRow, sql.ErrNoRows) {
		return nil, nil
	}
	if errRow != nil {
		return nil, errRow
	}
	return &d, nil
}

func (r *PostgresRepository) GetAPIKeyByHash(ctx context.Context, keyHash string) (*domain.APIKey, error) {
	query := `SELECT id, name, key_hash, key_prefix, role, active, created_at, expires_at FROM api_keys
			  WHERE key_hash = $1 AND active`
	var k domain.APIKey
	errRow := r.db.QueryRowContext(ctx, query, keyHash).Scan(&k.ID, &k.Name, &k.KeyHash, &k.KeyPrefix,
		&k.Role, &k.Active, &k.CreatedAt, &k.ExpiresAt)
	if errors.Is(errRow, sql.ErrNoRows) {
		return nil, nil
	}
	if errRow != nil {
		return nil, errRow
	}
	return &k, nil
}

func (r *PostgresRepository) CreateAPIKey(ctx context.Context, key *domain.APIKey) error {
	query := `INSERT INTO api_keys (id, name, key_hash, key_prefix, role, active, created_at, expires_at)
			  VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	_, err := r.db.ExecContext(ctx, query, key.ID, key.Name, key.KeyHash, key.KeyPrefix, key.Role,
		key.Active, key.CreatedAt, key.ExpiresAt)
	return err
}

func (r *PostgresRepository) ListAPIKeys(ctx context.Context) ([]domain.APIKey, error) {
	query := `SELECT id, name, key_hash, key_prefix, role, active, created_at, expires_at FROM api_keys ORDER BY created_at`
	rows, errQuery := r.db.QueryContext(ctx, query)
	if errQuery != nil {
		return nil, errQuery
	}
	defer r.closeRows(rows)

	var keys []domain.APIKey
	for rows.Next() {
		var k domain.APIKey
		if errScan := rows.Scan(&k.ID, &k.Name, &k.KeyHash, &k.KeyPrefix, &k.Role, &k.Active, &k.CreatedAt, &k.ExpiresAt); errScan != nil {
			return nil, errScan
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

func (r *PostgresRepository) RevokeAPIKey(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE api_keys SET active = FALSE WHERE id = $1`, id)
	return err
}

func (r *PostgresRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}
