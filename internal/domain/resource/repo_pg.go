package resource

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type repoPG struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

const resourceCols = `id, organization_id, connection_id, fhir_id, resource_type,
	resource_version, data, extracted, local_entity_id, local_entity_type,
	sync_status, last_sync_at, created_at, updated_at`

func (r *repoPG) Create(ctx context.Context, res *CanonicalResource) error {
	if res.ID == uuid.Nil {
		res.ID = uuid.New()
	}
	if res.SyncStatus == "" {
		res.SyncStatus = StatusSynced
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO fhir_resources (
			id, organization_id, connection_id, fhir_id, resource_type,
			resource_version, data, extracted, local_entity_id, local_entity_type,
			sync_status, last_sync_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		res.ID, res.OrganizationID, res.ConnectionID, res.FHIRID, res.ResourceType,
		res.ResourceVersion, res.Data, res.Extracted, res.LocalEntityID, res.LocalEntityType,
		res.SyncStatus, res.LastSyncAt,
	)
	return err
}

func (r *repoPG) Update(ctx context.Context, res *CanonicalResource) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE fhir_resources SET
			resource_version=$2, data=$3, extracted=$4, local_entity_id=$5,
			local_entity_type=$6, sync_status=$7, last_sync_at=$8, updated_at=NOW()
		WHERE id = $1`,
		res.ID, res.ResourceVersion, res.Data, res.Extracted, res.LocalEntityID,
		res.LocalEntityType, res.SyncStatus, res.LastSyncAt,
	)
	return err
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*CanonicalResource, error) {
	return scanResource(r.pool.QueryRow(ctx,
		`SELECT `+resourceCols+` FROM fhir_resources WHERE id = $1`, id))
}

func (r *repoPG) FindByExternalID(ctx context.Context, connectionID uuid.UUID, fhirID, resourceType string) (*CanonicalResource, error) {
	return scanResource(r.pool.QueryRow(ctx,
		`SELECT `+resourceCols+` FROM fhir_resources
		 WHERE connection_id = $1 AND fhir_id = $2 AND resource_type = $3`,
		connectionID, fhirID, resourceType))
}

func (r *repoPG) ListExternalIDs(ctx context.Context, orgID uuid.UUID, resourceType string) ([]string, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT fhir_id FROM fhir_resources
		 WHERE organization_id = $1 AND resource_type = $2
		 ORDER BY fhir_id`,
		orgID, resourceType)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectIDs(rows)
}

func (r *repoPG) ListModifiedSince(ctx context.Context, orgID uuid.UUID, resourceType string, since time.Time) ([]string, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT fhir_id FROM fhir_resources
		 WHERE organization_id = $1 AND resource_type = $2 AND updated_at >= $3
		 ORDER BY fhir_id`,
		orgID, resourceType, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectIDs(rows)
}

func (r *repoPG) ListByOrganization(ctx context.Context, orgID uuid.UUID, resourceType string, limit int) ([]*CanonicalResource, error) {
	query := `SELECT ` + resourceCols + ` FROM fhir_resources WHERE organization_id = $1`
	args := []interface{}{orgID}
	if resourceType != "" {
		query += ` AND resource_type = $2`
		args = append(args, resourceType)
	}
	query += ` ORDER BY last_sync_at DESC`
	if limit > 0 {
		args = append(args, limit)
		query += ` LIMIT $` + strconv.Itoa(len(args))
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*CanonicalResource
	for rows.Next() {
		res, err := scanResource(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, res)
	}
	return result, rows.Err()
}

func (r *repoPG) SetSyncStatus(ctx context.Context, id uuid.UUID, status string) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE fhir_resources SET sync_status = $2, updated_at = NOW() WHERE id = $1`,
		id, status)
	return err
}

func (r *repoPG) LastSuccessfulSync(ctx context.Context, orgID uuid.UUID, resourceType string) (time.Time, error) {
	var last *time.Time
	err := r.pool.QueryRow(ctx,
		`SELECT MAX(last_sync_at) FROM fhir_resources
		 WHERE organization_id = $1 AND resource_type = $2 AND sync_status = $3`,
		orgID, resourceType, StatusSynced).Scan(&last)
	if err != nil {
		return time.Time{}, err
	}
	if last == nil {
		return time.Time{}, nil
	}
	return *last, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanResource(row rowScanner) (*CanonicalResource, error) {
	res := &CanonicalResource{}
	err := row.Scan(
		&res.ID, &res.OrganizationID, &res.ConnectionID, &res.FHIRID, &res.ResourceType,
		&res.ResourceVersion, &res.Data, &res.Extracted, &res.LocalEntityID, &res.LocalEntityType,
		&res.SyncStatus, &res.LastSyncAt, &res.CreatedAt, &res.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return res, nil
}

func collectIDs(rows pgx.Rows) ([]string, error) {
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
