package roles

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// SQLiteStore is a durable role Store backed by SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore wraps the given database handle and applies the schema
// migration.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
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

func (s *SQLiteStore) Has(ctx context.Context, role Role, principal string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM role_members WHERE role = ? AND principal = ?`,
		role.String(), principal).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("query membership: %w", err)
	}
	return count > 0, nil
}

func (s *SQLiteStore) Add(ctx context.Context, role Role, principal string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO role_members (role, principal) VALUES (?, ?)
		 ON CONFLICT (role, principal) DO NOTHING`,
		role.String(), principal)
	if err != nil {
		return fmt.Errorf("add member: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Remove(ctx context.Context, role Role, principal string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM role_members WHERE role = ? AND principal = ?`,
		role.String(), principal)
	if err != nil {
		return fmt.Errorf("remove member: %w", err)
	}
	return nil
}

func (s *SQLiteStore) AdminOf(ctx context.Context, role Role) (Role, bool, error) {
	var adminHex string
	err := s.db.QueryRowContext(ctx,
		`SELECT admin_role FROM role_admins WHERE role = ?`, role.String()).Scan(&adminHex)
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

func (s *SQLiteStore) DeclareRole(ctx context.Context, role, admin Role) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO role_admins (role, admin_role) VALUES (?, ?)
		 ON CONFLICT (role) DO UPDATE SET admin_role = excluded.admin_role`,
		role.String(), admin.String())
	if err != nil {
		return fmt.Errorf("declare role: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Initialized(ctx context.Context) (bool, error) {
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

func (s *SQLiteStore) MarkInitialized(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO registry_meta (key, value) VALUES ('initialized', 'true')
		 ON CONFLICT (key) DO UPDATE SET value = 'true'`)
	if err != nil {
		return fmt.Errorf("mark initialized: %w", err)
	}
	return nil
}
