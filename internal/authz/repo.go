package authz

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGRepository implements Repository using PostgreSQL. Restrictions are
// stored as JSONB so every field of the closed variant round-trips
// losslessly.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewPGRepository constructs a PostgreSQL repository.
func NewPGRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

var _ Repository = (*PGRepository)(nil)

// LoadState reads the full catalog and all non-retired roles.
func (r *PGRepository) LoadState(ctx context.Context) ([]Permission, []Role, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, name, description, category, resource, actions, scope, priority, dependencies
		FROM authz_permissions ORDER BY id`)
	if err != nil {
		return nil, nil, fmt.Errorf("authz: load permissions: %w", err)
	}
	defer rows.Close()

	var perms []Permission
	for rows.Next() {
		var p Permission
		if err := rows.Scan(&p.ID, &p.Name, &p.Description, &p.Category, &p.Resource,
			&p.Actions, &p.Scope, &p.Priority, &p.Dependencies); err != nil {
			return nil, nil, fmt.Errorf("authz: scan permission: %w", err)
		}
		perms = append(perms, p)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}

	roleRows, err := r.pool.Query(ctx, `
		SELECT id, name, description, level, is_system, protected, state,
		       permissions, restrictions, COALESCE(inherits_from, ''), created_at, updated_at
		FROM authz_roles WHERE state <> 'RETIRED' ORDER BY id`)
	if err != nil {
		return nil, nil, fmt.Errorf("authz: load roles: %w", err)
	}
	defer roleRows.Close()

	var roles []Role
	for roleRows.Next() {
		var role Role
		var restrictions []byte
		if err := roleRows.Scan(&role.ID, &role.Name, &role.Description, &role.Level,
			&role.IsSystemRole, &role.Protected, &role.State, &role.Permissions,
			&restrictions, &role.InheritsFrom, &role.CreatedAt, &role.UpdatedAt); err != nil {
			return nil, nil, fmt.Errorf("authz: scan role: %w", err)
		}
		if len(restrictions) > 0 {
			if err := json.Unmarshal(restrictions, &role.Restrictions); err != nil {
				return nil, nil, fmt.Errorf("authz: decode restrictions for %s: %w", role.ID, err)
			}
		}
		roles = append(roles, role)
	}
	if err := roleRows.Err(); err != nil {
		return nil, nil, err
	}
	return perms, roles, nil
}

// SavePermission upserts a permission definition.
func (r *PGRepository) SavePermission(ctx context.Context, p Permission) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO authz_permissions (id, name, description, category, resource, actions, scope, priority, dependencies)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name, description = EXCLUDED.description,
			category = EXCLUDED.category, resource = EXCLUDED.resource,
			actions = EXCLUDED.actions, scope = EXCLUDED.scope,
			priority = EXCLUDED.priority, dependencies = EXCLUDED.dependencies`,
		p.ID, p.Name, p.Description, p.Category, p.Resource, p.Actions, p.Scope, p.Priority, p.Dependencies)
	return mapPGError(p.ID, err)
}

// SaveRole upserts a role definition.
func (r *PGRepository) SaveRole(ctx context.Context, role Role) error {
	restrictions, err := json.Marshal(role.Restrictions)
	if err != nil {
		return err
	}
	var inherits any
	if role.InheritsFrom != "" {
		inherits = role.InheritsFrom
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO authz_roles (id, name, description, level, is_system, protected, state,
			permissions, restrictions, inherits_from, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name, description = EXCLUDED.description,
			level = EXCLUDED.level, is_system = EXCLUDED.is_system,
			protected = EXCLUDED.protected, state = EXCLUDED.state,
			permissions = EXCLUDED.permissions, restrictions = EXCLUDED.restrictions,
			inherits_from = EXCLUDED.inherits_from, updated_at = EXCLUDED.updated_at`,
		role.ID, role.Name, role.Description, role.Level, role.IsSystemRole, role.Protected,
		role.State, role.Permissions, restrictions, inherits, role.CreatedAt, role.UpdatedAt)
	return mapPGError(role.ID, err)
}

// DeleteRole retires a role; the row is kept for audit joins.
func (r *PGRepository) DeleteRole(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE authz_roles SET state = 'RETIRED', updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// mapPGError translates unique violations into the domain error.
func mapPGError(id string, err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return &DuplicateIDError{ID: id}
	}
	return err
}
