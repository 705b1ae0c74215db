// Package dss implements the Device/Data State Service client (spec.md
// §6.B): a Postgres-backed metadata store for devices, media, objects,
// layouts and an append-only log table, plus a Redis-backed
// distributed lock with an in-process fallback.
//
// Grounded on the teacher's two-tier store design: internal/store's
// PostgresStore (durable rows, schema-ensured on connect) for the
// relational half, and internal/ratelimit's RedisBackend/FallbackBackend
// pair for the lock half.
package dss

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/phobos-lrs/lrs/internal/resource"
	"github.com/phobos-lrs/lrs/internal/worker"
)

// Store is the Postgres-backed half of the DSS: devices, media,
// objects, layouts, and an append-only log.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore connects to dsn and ensures the schema exists.
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("dss: postgres DSN is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("dss: create postgres pool: %w", err)
	}
	s := &Store{pool: pool}
	if err := s.pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("dss: ping postgres: %w", err)
	}
	if err := s.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the connection pool.
func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

func (s *Store) ensureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS devices (
			family TEXT NOT NULL,
			name TEXT NOT NULL,
			model TEXT,
			adm_status TEXT NOT NULL DEFAULT 'unlocked',
			host TEXT NOT NULL,
			dev_path TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (family, name)
		)`,
		`CREATE TABLE IF NOT EXISTS media (
			family TEXT NOT NULL,
			name TEXT NOT NULL,
			fs_type TEXT,
			fs_status TEXT NOT NULL DEFAULT 'empty',
			label TEXT,
			address_type TEXT,
			tags JSONB NOT NULL DEFAULT '[]',
			phys_used_bytes BIGINT NOT NULL DEFAULT 0,
			phys_free_bytes BIGINT NOT NULL DEFAULT 0,
			logical_used BIGINT NOT NULL DEFAULT 0,
			object_count BIGINT NOT NULL DEFAULT 0,
			adm_status TEXT NOT NULL DEFAULT 'unlocked',
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (family, name)
		)`,
		`CREATE TABLE IF NOT EXISTS objects (
			id TEXT PRIMARY KEY,
			medium_family TEXT NOT NULL,
			medium_name TEXT NOT NULL,
			size_bytes BIGINT NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS layouts (
			object_id TEXT NOT NULL REFERENCES objects(id) ON DELETE CASCADE,
			medium_family TEXT NOT NULL,
			medium_name TEXT NOT NULL,
			extent_index INTEGER NOT NULL,
			offset_bytes BIGINT NOT NULL,
			size_bytes BIGINT NOT NULL,
			PRIMARY KEY (object_id, extent_index)
		)`,
		`CREATE TABLE IF NOT EXISTS dss_log (
			id BIGSERIAL PRIMARY KEY,
			device_family TEXT,
			device_name TEXT,
			medium_family TEXT,
			medium_name TEXT,
			op TEXT NOT NULL,
			rc INTEGER NOT NULL,
			message TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_dss_log_created_at ON dss_log(created_at DESC)`,
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("dss: ensure schema: %w", err)
		}
	}
	return nil
}

// GetUsableDevices returns every device of family on host that is not
// admin-locked or failed.
func (s *Store) GetUsableDevices(ctx context.Context, family resource.Family, host string) ([]*resource.Device, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT family, name, model, adm_status, host, dev_path
		FROM devices
		WHERE family = $1 AND host = $2 AND adm_status = 'unlocked'
		ORDER BY name
	`, string(family), host)
	if err != nil {
		return nil, fmt.Errorf("dss: get usable devices: %w", err)
	}
	defer rows.Close()

	var devices []*resource.Device
	for rows.Next() {
		d := &resource.Device{OpStatus: resource.OpEmpty}
		var fam, model, adm string
		if err := rows.Scan(&fam, &d.ID.Name, &model, &adm, &d.Host, &d.DevPath); err != nil {
			return nil, fmt.Errorf("dss: scan device: %w", err)
		}
		d.ID.Family = resource.Family(fam)
		d.Model = model
		d.AdmStatus = resource.AdmStatus(adm)
		devices = append(devices, d)
	}
	return devices, rows.Err()
}

// CandidatesForWrite returns every unlocked, unfailed medium of family
// with at least minFree bytes free, ordered by free space descending so
// callers naturally prefer the roomiest medium first. Satisfies
// internal/dispatch.MediaCatalog.
func (s *Store) CandidatesForWrite(ctx context.Context, family resource.Family, minFree int64) ([]resource.Medium, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT family, name, fs_type, fs_status, label, address_type, tags,
			phys_used_bytes, phys_free_bytes, logical_used, object_count, adm_status
		FROM media
		WHERE family = $1 AND adm_status = 'unlocked' AND phys_free_bytes >= $2
		ORDER BY phys_free_bytes DESC
	`, string(family), minFree)
	if err != nil {
		return nil, fmt.Errorf("dss: candidates_for_write: %w", err)
	}
	defer rows.Close()

	var media []resource.Medium
	for rows.Next() {
		var m resource.Medium
		var fam, fsStatus, adm string
		var tags []string
		if err := rows.Scan(&fam, &m.ID.Name, &m.FSType, &fsStatus, &m.Label, &m.AddressType, &tags,
			&m.PhysUsedBytes, &m.PhysFreeBytes, &m.LogicalUsed, &m.ObjectCount, &adm); err != nil {
			return nil, fmt.Errorf("dss: scan medium: %w", err)
		}
		m.ID.Family = resource.Family(fam)
		m.FSStatus = resource.FSStatus(fsStatus)
		m.AdmStatus = resource.AdmStatus(adm)
		m.Tags = resource.Tags(tags)
		media = append(media, m)
	}
	return media, rows.Err()
}

// DeviceFilter selects devices for DeviceGet.
type DeviceFilter struct {
	Family resource.Family
	Host   string
}

// DeviceGet returns every device matching filter.
func (s *Store) DeviceGet(ctx context.Context, filter DeviceFilter) ([]*resource.Device, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT family, name, model, adm_status, host, dev_path
		FROM devices
		WHERE ($1 = '' OR family = $1) AND ($2 = '' OR host = $2)
		ORDER BY family, name
	`, string(filter.Family), filter.Host)
	if err != nil {
		return nil, fmt.Errorf("dss: device_get: %w", err)
	}
	defer rows.Close()

	var devices []*resource.Device
	for rows.Next() {
		d := &resource.Device{OpStatus: resource.OpEmpty}
		var fam, model, adm string
		if err := rows.Scan(&fam, &d.ID.Name, &model, &adm, &d.Host, &d.DevPath); err != nil {
			return nil, fmt.Errorf("dss: scan device: %w", err)
		}
		d.ID.Family = resource.Family(fam)
		d.Model = model
		d.AdmStatus = resource.AdmStatus(adm)
		devices = append(devices, d)
	}
	return devices, rows.Err()
}

// DeviceUpdateAdmStatus persists a device's admin status.
func (s *Store) DeviceUpdateAdmStatus(ctx context.Context, id resource.ID, status resource.AdmStatus) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE devices SET adm_status = $1, updated_at = NOW()
		WHERE family = $2 AND name = $3
	`, string(status), string(id.Family), id.Name)
	if err != nil {
		return fmt.Errorf("dss: device_update_adm_status: %w", err)
	}
	return nil
}

// DeviceRelease is a no-op on the Postgres side (the lock itself lives
// in Redis); kept as a Store method so Store alone satisfies callers
// that only need device bookkeeping in tests.
func (s *Store) DeviceRelease(ctx context.Context, id resource.ID, owner string) error {
	return nil
}

// Field bitmask constants selecting which of medium's fields MediaSet
// persists. Values and ordering mirror syncbatch.FieldXxx, which
// describes the same bits from the epoch protocol's point of view (the
// worker passes those constants).
const (
	FieldFSStatus uint64 = 1 << iota
	FieldPhysUsedBytes
	FieldPhysFreeBytes
	FieldLogicalUsed
	FieldObjectCount
	FieldAdmStatus
)

// MediaSet applies a partial update of medium's row, gated by fields,
// mirroring the teacher's FunctionUpdate optional-pointer-fields
// pattern generalized to a bitmask since every field here is already a
// concrete (non-pointer) value on resource.Medium.
func (s *Store) MediaSet(ctx context.Context, medium resource.Medium, fields uint64) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("dss: media_set begin: %w", err)
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx, `
		SELECT fs_status, phys_used_bytes, phys_free_bytes, logical_used, object_count, adm_status
		FROM media WHERE family = $1 AND name = $2 FOR UPDATE
	`, string(medium.ID.Family), medium.ID.Name)

	var fsStatus, admStatus string
	var usedBytes, freeBytes, logicalUsed, objectCount int64
	if err := row.Scan(&fsStatus, &usedBytes, &freeBytes, &logicalUsed, &objectCount, &admStatus); err != nil {
		return fmt.Errorf("dss: media_set select: %w", err)
	}

	if fields&FieldFSStatus != 0 {
		fsStatus = string(medium.FSStatus)
	}
	if fields&FieldPhysUsedBytes != 0 {
		usedBytes = medium.PhysUsedBytes
	}
	if fields&FieldPhysFreeBytes != 0 {
		freeBytes = medium.PhysFreeBytes
	}
	if fields&FieldLogicalUsed != 0 {
		logicalUsed = medium.LogicalUsed
	}
	if fields&FieldObjectCount != 0 {
		objectCount = medium.ObjectCount
	}
	if fields&FieldAdmStatus != 0 {
		admStatus = string(medium.AdmStatus)
	}

	if _, err := tx.Exec(ctx, `
		UPDATE media SET fs_status = $1, phys_used_bytes = $2, phys_free_bytes = $3,
			logical_used = $4, object_count = $5, adm_status = $6, updated_at = NOW()
		WHERE family = $7 AND name = $8
	`, fsStatus, usedBytes, freeBytes, logicalUsed, objectCount, admStatus,
		string(medium.ID.Family), medium.ID.Name); err != nil {
		return fmt.Errorf("dss: media_set update: %w", err)
	}

	return tx.Commit(ctx)
}

// MediaRelease is a no-op on the Postgres side; see DeviceRelease.
func (s *Store) MediaRelease(ctx context.Context, id resource.ID, owner string) error {
	return nil
}

// EmitLog appends one record to the append-only log table.
func (s *Store) EmitLog(ctx context.Context, record worker.LogRecord) error {
	var devFamily, devName *string
	if record.DeviceID != (resource.ID{}) {
		f, n := string(record.DeviceID.Family), record.DeviceID.Name
		devFamily, devName = &f, &n
	}
	var medFamily, medName *string
	if record.MediumID != nil {
		f, n := string(record.MediumID.Family), record.MediumID.Name
		medFamily, medName = &f, &n
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO dss_log (device_family, device_name, medium_family, medium_name, op, rc, message)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, devFamily, devName, medFamily, medName, record.Op, record.RC, record.Message)
	if err != nil {
		return fmt.Errorf("dss: emit_log: %w", err)
	}
	return nil
}
