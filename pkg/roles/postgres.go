package roles

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
)

// PostgresStore is a durable role Store backed by Postgres, for deployments
// that keep commitments in a shared database. Schema and semantics match the
// SQLite store.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore wraps the given database handle and applies the schema
// migration.
func NewPostgresStore(db *sql.DB) (*PostgresStore, error) {
	s := &PostgresStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) migrate() error {
	query := `
	CREATE TABLE IF NOT EXISTS role_members (
		role TEXT NOT NULL,
		principal TEXT NOT NULL,
		PRIMARY KEY (role, principal)
	);
	CREATE TABLE IF NOT EXISTS role_admins (
		role TEXT PRIMARY KEY,
		admin_role TEXT NOT NULL
	);
	CREATE TABLE IF NOT EXISTS registry_meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);`
	_, err := s.db.ExecContext(context.Background(), query)
	return err
}

func (s *PostgresStore) Has(ctx context.Context, role Role, principal string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM role_members WHERE role = $1 AND principal = $2`,
		role.String(), principal).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("query membership: %w", err)
	}
	return count > 0, nil
}

func (s *PostgresStore) Add(ctx context.Context, role Role, principal string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO role_members (role, principal) VALUES ($1, $2)
		 ON CONFLICT (role, principal) DO NOTHING`,
		role.String(), principal)
	if err != nil {
		return fmt.Errorf("add member: %w", err)
	}
	return nil
}

func (s *PostgresStore) Remove(ctx context.Context, role Role, principal string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM role_members WHERE role = $1 AND principal = $2`,
		role.String(), principal)
	if err != nil {
		return fmt.Errorf("remove member: %w", err)
	}
	return nil
}

func (s *PostgresStore) AdminOf(ctx context.Context, role Role) (Role, bool, error) {
	var adminHex string
	err := s.db.QueryRowContext(ctx,
		`SELECT admin_role FROM role_admins WHERE role = $1`, role.String()).Scan(&adminHex)
	if err == sql.ErrNoRows {
		return Role{}, false, nil
	}
	if err != nil {
		return Role{}, false, fmt.Errorf("query admin role: %w", err)
	}
	admin, err := ParseRole(adminHex)
	if err != nil {
		return Role{}, false, fmt.Errorf("corrupt admin role %q: %w", adminHex, err)
	}
	return admin, true, nil
}

func (s *PostgresStore) DeclareRole(ctx context.Context, role, admin Role) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO role_admins (role, admin_role) VALUES ($1, $2)
		 ON CONFLICT (role) DO UPDATE SET admin_role = excluded.admin_role`,
		role.String(), admin.String())
	if err != nil {
		return fmt.Errorf("declare role: %w", err)
	}
	return nil
}

func (s *PostgresStore) Initialized(ctx context.Context) (bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM registry_meta WHERE key = 'initialized'`).Scan(&value)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("query init flag: %w", err)
	}
	return value == "true", nil
}

func (s *PostgresStore) MarkInitialized(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO registry_meta (key, value) VALUES ('initialized', 'true')
		 ON CONFLICT (key) DO UPDATE SET value = 'true'`)
	if err != nil {
		return fmt.Errorf("mark initialized: %w", err)
	}
	return nil
}
