package connection

import (
	"context"
	"errors"

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

const connCols = `id, organization_id, name, vendor, base_url, active, created_at, updated_at`

func (r *repoPG) Create(ctx context.Context, c *Connection) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO ehr_connections (id, organization_id, name, vendor, base_url, active)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		c.ID, c.OrganizationID, c.Name, c.Vendor, c.BaseURL, c.Active,
	)
	return err
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Connection, error) {
	c := &Connection{}
	err := r.pool.QueryRow(ctx,
		`SELECT `+connCols+` FROM ehr_connections WHERE id = $1`, id).Scan(
		&c.ID, &c.OrganizationID, &c.Name, &c.Vendor, &c.BaseURL, &c.Active,
		&c.CreatedAt, &c.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (r *repoPG) ListByOrganization(ctx context.Context, orgID uuid.UUID) ([]*Connection, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+connCols+` FROM ehr_connections WHERE organization_id = $1 ORDER BY created_at`, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*Connection
	for rows.Next() {
		c := &Connection{}
		if err := rows.Scan(
			&c.ID, &c.OrganizationID, &c.Name, &c.Vendor, &c.BaseURL, &c.Active,
			&c.CreatedAt, &c.UpdatedAt,
		); err != nil {
			return nil, err
		}
		result = append(result, c)
	}
	return result, rows.Err()
}

func (r *repoPG) SetActive(ctx context.Context, id uuid.UUID, active bool) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE ehr_connections SET active = $2, updated_at = NOW() WHERE id = $1`,
		id, active)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
