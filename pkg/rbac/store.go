package rbac

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// ErrTeamPermissionActive is returned when restoring a grant that already
// has an active duplicate
var ErrTeamPermissionActive = errors.New("an active team permission already exists")

const (
	pqUniqueViolation     = "23505"
	pqForeignKeyViolation = "23503"
)

func pqCode(err error) string {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code)
	}
	return ""
}

const (
	roleColumns           = `id, slug, name, description, level, is_system, created_at, updated_at`
	permissionColumns     = `id, slug, name, group_name, description`
	teamPermissionColumns = `tp.id, tp.team_id, tp.organization_id, tp.permission_id, p.slug, tp.created_at, tp.deleted_at`
)

// Store handles role and permission persistence
type Store struct {
	db *sql.DB
}

// NewStore creates a new RBAC store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRole(row rowScanner) (*Role, error) {
	var role Role
	err := row.Scan(&role.ID, &role.Slug, &role.Name, &role.Description,
		&role.Level, &role.IsSystem, &role.CreatedAt, &role.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &role, nil
}

func scanTeamPermission(row rowScanner) (*TeamPermission, error) {
	var (
		tp        TeamPermission
		deletedAt sql.NullTime
	)
	err := row.Scan(&tp.ID, &tp.TeamID, &tp.OrganizationID, &tp.PermissionID,
		&tp.PermissionSlug, &tp.CreatedAt, &deletedAt)
	if err != nil {
		return nil, err
	}
	if deletedAt.Valid {
		t := deletedAt.Time
		tp.DeletedAt = &t
	}
	return &tp, nil
}

// ListRoles returns every role ordered by level, highest first
func (s *Store) ListRoles(ctx context.Context) ([]Role, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+roleColumns+` FROM roles ORDER BY level DESC, slug`)
	if err != nil {
		return nil, fmt.Errorf("failed to list roles: %w", err)
	}
	defer rows.Close()

	roles := []Role{}
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan role: %w", err)
		}
		roles = append(roles, *role)
	}
	return roles, rows.Err()
}

// GetRole retrieves a role by ID
func (s *Store) GetRole(ctx context.Context, roleID int64) (*Role, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+roleColumns+` FROM roles WHERE id = $1`, roleID)
	role, err := scanRole(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRoleNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get role: %w", err)
	}
	return role, nil
}

// CreateRole creates a custom role
func (s *Store) CreateRole(ctx context.Context, role *Role) error {
	query := `
		INSERT INTO roles (slug, name, description, level, is_system)
		VALUES ($1, $2, $3, $4, FALSE)
		RETURNING id, created_at, updated_at
	`
	err := s.db.QueryRowContext(ctx, query, role.Slug, role.Name, role.Description, role.Level).
		Scan(&role.ID, &role.CreatedAt, &role.UpdatedAt)
	if pqCode(err) == pqUniqueViolation {
		return ErrRoleExists
	}
	if err != nil {
		return fmt.Errorf("failed to create role: %w", err)
	}
	role.IsSystem = false
	return nil
}

// UpdateRole updates a role's name, description and level. The slug is
// immutable.
func (s *Store) UpdateRole(ctx context.Context, role *Role) error {
	query := `
		UPDATE roles
		SET name = $2, description = $3, level = $4, updated_at = NOW()
		WHERE id = $1
		RETURNING ` + roleColumns
	updated, err := scanRole(s.db.QueryRowContext(ctx, query, role.ID, role.Name, role.Description, role.Level))
	if errors.Is(err, sql.ErrNoRows) {
		return ErrRoleNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to update role: %w", err)
	}
	*role = *updated
	return nil
}

// DeleteRole deletes a custom role and returns it. Roles flagged as system
// roles and the built-in slugs are refused with ErrSystemRole.
func (s *Store) DeleteRole(ctx context.Context, roleID int64) (*Role, error) {
	role, err := s.GetRole(ctx, roleID)
	if err != nil {
		return nil, err
	}
	if role.IsSystem || IsSystemRole(role.Slug) {
		return nil, ErrSystemRole
	}

	result, err := s.db.ExecContext(ctx,
		`DELETE FROM roles WHERE id = $1 AND is_system = FALSE AND slug <> ALL($2)`,
		roleID, pq.Array(SystemRoleSlugs))
	if err != nil {
		return nil, fmt.Errorf("failed to delete role: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return nil, ErrRoleNotFound
	}
	return role, nil
}

// RolePermissions returns the permissions attached to a role
func (s *Store) RolePermissions(ctx context.Context, roleID int64) ([]Permission, error) {
	query := `
		SELECT p.id, p.slug, p.name, p.group_name, p.description
		FROM permissions p
		JOIN role_permissions rp ON rp.permission_id = p.id
		WHERE rp.role_id = $1
		ORDER BY p.slug
	`
	return s.queryPermissions(ctx, query, roleID)
}

// SyncRolePermissions replaces a role's permissions with permissionIDs
func (s *Store) SyncRolePermissions(ctx context.Context, roleID int64, permissionIDs []int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM role_permissions WHERE role_id = $1`, roleID); err != nil {
		return fmt.Errorf("failed to clear role permissions: %w", err)
	}

	if len(permissionIDs) > 0 {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO role_permissions (role_id, permission_id)
			SELECT $1::bigint, UNNEST($2::bigint[])
			ON CONFLICT DO NOTHING
		`, roleID, pq.Array(permissionIDs))
		if pqCode(err) == pqForeignKeyViolation {
			return ErrPermissionNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to insert role permissions: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit role permissions: %w", err)
	}
	return nil
}

// RolePermissionSlugs returns the permission slugs of the role named slug
func (s *Store) RolePermissionSlugs(ctx context.Context, roleSlug string) ([]string, error) {
	query := `
		SELECT p.slug
		FROM permissions p
		JOIN role_permissions rp ON rp.permission_id = p.id
		JOIN roles r ON r.id = rp.role_id
		WHERE r.slug = $1
		ORDER BY p.slug
	`
	return s.querySlugs(ctx, query, roleSlug)
}

// AllRolePermissionSlugs returns every role's permission slugs keyed by
// role slug. Roles without permissions map to an empty slice.
func (s *Store) AllRolePermissionSlugs(ctx context.Context) (map[string][]string, error) {
	query := `
		SELECT r.slug, p.slug
		FROM roles r
		LEFT JOIN role_permissions rp ON rp.role_id = r.id
		LEFT JOIN permissions p ON p.id = rp.permission_id
		ORDER BY r.slug, p.slug
	`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to load role permissions: %w", err)
	}
	defer rows.Close()

	result := make(map[string][]string)
	for rows.Next() {
		var role string
		var permission sql.NullString
		if err := rows.Scan(&role, &permission); err != nil {
			return nil, fmt.Errorf("failed to scan role permission: %w", err)
		}
		if _, ok := result[role]; !ok {
			result[role] = []string{}
		}
		if permission.Valid {
			result[role] = append(result[role], permission.String)
		}
	}
	return result, rows.Err()
}

// ListPermissions returns every permission ordered by group and slug
func (s *Store) ListPermissions(ctx context.Context) ([]Permission, error) {
	return s.queryPermissions(ctx, `SELECT `+permissionColumns+` FROM permissions ORDER BY group_name, slug`)
}

func (s *Store) queryPermissions(ctx context.Context, query string, args ...interface{}) ([]Permission, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list permissions: %w", err)
	}
	defer rows.Close()

	permissions := []Permission{}
	for rows.Next() {
		var p Permission
		if err := rows.Scan(&p.ID, &p.Slug, &p.Name, &p.Group, &p.Description); err != nil {
			return nil, fmt.Errorf("failed to scan permission: %w", err)
		}
		permissions = append(permissions, p)
	}
	return permissions, rows.Err()
}

func (s *Store) querySlugs(ctx context.Context, query string, args ...interface{}) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to load permission slugs: %w", err)
	}
	defer rows.Close()

	slugs := []string{}
	for rows.Next() {
		var slug string
		if err := rows.Scan(&slug); err != nil {
			return nil, fmt.Errorf("failed to scan permission slug: %w", err)
		}
		slugs = append(slugs, slug)
	}
	return slugs, rows.Err()
}

// GrantTeamPermission grants a permission to a team. Granting an already
// active permission returns the existing grant.
func (s *Store) GrantTeamPermission(ctx context.Context, orgID, teamID, permissionID int64) (*TeamPermission, error) {
	query := `
		WITH tp AS (
			INSERT INTO team_permissions (team_id, organization_id, permission_id)
			VALUES ($1, $2, $3)
			ON CONFLICT (team_id, organization_id, permission_id) WHERE deleted_at IS NULL
			DO UPDATE SET team_id = EXCLUDED.team_id
			RETURNING *
		)
		SELECT ` + teamPermissionColumns + `
		FROM tp JOIN permissions p ON p.id = tp.permission_id
	`
	tp, err := scanTeamPermission(s.db.QueryRowContext(ctx, query, teamID, orgID, permissionID))
	if pqCode(err) == pqForeignKeyViolation {
		return nil, ErrPermissionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to grant team permission: %w", err)
	}
	return tp, nil
}

// RevokeTeamPermission soft-deletes an active grant
func (s *Store) RevokeTeamPermission(ctx context.Context, orgID, id int64) (*TeamPermission, error) {
	query := `
		WITH tp AS (
			UPDATE team_permissions SET deleted_at = NOW()
			WHERE id = $1 AND organization_id = $2 AND deleted_at IS NULL
			RETURNING *
		)
		SELECT ` + teamPermissionColumns + `
		FROM tp JOIN permissions p ON p.id = tp.permission_id
	`
	tp, err := scanTeamPermission(s.db.QueryRowContext(ctx, query, id, orgID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTeamPermissionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to revoke team permission: %w", err)
	}
	return tp, nil
}

// RestoreTeamPermission reactivates a revoked grant
func (s *Store) RestoreTeamPermission(ctx context.Context, orgID, id int64) (*TeamPermission, error) {
	query := `
		WITH tp AS (
			UPDATE team_permissions SET deleted_at = NULL
			WHERE id = $1 AND organization_id = $2 AND deleted_at IS NOT NULL
			RETURNING *
		)
		SELECT ` + teamPermissionColumns + `
		FROM tp JOIN permissions p ON p.id = tp.permission_id
	`
	tp, err := scanTeamPermission(s.db.QueryRowContext(ctx, query, id, orgID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTeamPermissionNotFound
	}
	if pqCode(err) == pqUniqueViolation {
		return nil, ErrTeamPermissionActive
	}
	if err != nil {
		return nil, fmt.Errorf("failed to restore team permission: %w", err)
	}
	return tp, nil
}

// ListTeamPermissions returns an organization's team grants
func (s *Store) ListTeamPermissions(ctx context.Context, orgID int64, includeDeleted bool) ([]TeamPermission, error) {
	query := `
		SELECT ` + teamPermissionColumns + `
		FROM team_permissions tp
		JOIN permissions p ON p.id = tp.permission_id
		WHERE tp.organization_id = $1 AND ($2::boolean OR tp.deleted_at IS NULL)
		ORDER BY tp.team_id, p.slug, tp.id
	`
	rows, err := s.db.QueryContext(ctx, query, orgID, includeDeleted)
	if err != nil {
		return nil, fmt.Errorf("failed to list team permissions: %w", err)
	}
	defer rows.Close()

	grants := []TeamPermission{}
	for rows.Next() {
		tp, err := scanTeamPermission(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan team permission: %w", err)
		}
		grants = append(grants, *tp)
	}
	return grants, rows.Err()
}

// TeamPermissionSlugs returns the distinct active permission slugs granted
// to any of teamIDs in the organization
func (s *Store) TeamPermissionSlugs(ctx context.Context, orgID int64, teamIDs []int64) ([]string, error) {
	if len(teamIDs) == 0 {
		return []string{}, nil
	}
	query := `
		SELECT DISTINCT p.slug
		FROM team_permissions tp
		JOIN permissions p ON p.id = tp.permission_id
		WHERE tp.organization_id = $1
		  AND tp.team_id = ANY($2)
		  AND tp.deleted_at IS NULL
		ORDER BY p.slug
	`
	return s.querySlugs(ctx, query, orgID, pq.Array(teamIDs))
}

// PurgeTeamPermissions hard-deletes grants revoked before cutoff. An orgID
// of zero purges every organization.
func (s *Store) PurgeTeamPermissions(ctx context.Context, orgID int64, cutoff time.Time) (int64, error) {
	query := `
		DELETE FROM team_permissions
		WHERE deleted_at IS NOT NULL
		  AND deleted_at < $1
		  AND ($2::bigint = 0 OR organization_id = $2::bigint)
	`
	result, err := s.db.ExecContext(ctx, query, cutoff, orgID)
	if err != nil {
		return 0, fmt.Errorf("failed to purge team permissions: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count purged team permissions: %w", err)
	}
	return n, nil
}
