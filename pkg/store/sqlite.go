package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/bridgelock/escrow/pkg/contracts"

	_ "modernc.org/sqlite"
)

// SQLiteCommitmentStore is a CommitmentStore backed by SQLite. Besides the
// materialized commitments table it keeps an append-only transitions log, so
// the full history of every record survives restarts.
type SQLiteCommitmentStore struct {
	db *sql.DB
}

// NewSQLiteCommitmentStore wraps the given database handle and applies the
// schema migration.
func NewSQLiteCommitmentStore(db *sql.DB) (*SQLiteCommitmentStore, error) {
	s := &SQLiteCommitmentStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteCommitmentStore) migrate() error {
	query := `
	CREATE TABLE IF NOT EXISTS commitments (
		id TEXT PRIMARY KEY,
		hash_lock TEXT NOT NULL,
		locker TEXT NOT NULL,
		counterparty TEXT NOT NULL,
		amount INTEGER NOT NULL,
		created_at TEXT NOT NULL,
		expiry TEXT NOT NULL,
		state TEXT NOT NULL
	);
	CREATE TABLE IF NOT EXISTS commitment_transitions (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		commitment_id TEXT NOT NULL,
		from_state TEXT NOT NULL,
		to_state TEXT NOT NULL,
		occurred_at TEXT NOT NULL
	);`
	_, err := s.db.ExecContext(context.Background(), query)
	return err
}

func (s *SQLiteCommitmentStore) Insert(ctx context.Context, rec *contracts.EscrowRecord) error {
	query := `INSERT INTO commitments (id, hash_lock, locker, counterparty, amount, created_at, expiry, state)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin insert: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var exists int
	err = tx.QueryRowContext(ctx, `SELECT COUNT(1) FROM commitments WHERE id = ?`, rec.ID.String()).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check duplicate: %w", err)
	}
	if exists > 0 {
		return fmt.Errorf("%w: %s", contracts.ErrDuplicateCommitment, rec.ID)
	}

	_, err = tx.ExecContext(ctx, query,
		rec.ID.String(), rec.HashLock.String(), string(rec.Locker), string(rec.Counterparty),
		int64(rec.Amount), formatTime(rec.CreatedAt), formatTime(rec.Expiry), string(rec.State),
	)
	if err != nil {
		return fmt.Errorf("insert commitment: %w", err)
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO commitment_transitions (commitment_id, from_state, to_state, occurred_at) VALUES (?, ?, ?, ?)`,
		rec.ID.String(), "", string(contracts.StateLocked), formatTime(rec.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("log creation: %w", err)
	}
	return tx.Commit()
}

func (s *SQLiteCommitmentStore) Get(ctx context.Context, id contracts.CommitmentID) (*contracts.EscrowRecord, error) {
	query := `SELECT id, hash_lock, locker, counterparty, amount, created_at, expiry, state
		FROM commitments WHERE id = ?`
	return scanRecord(s.db.QueryRowContext(ctx, query, id.String()))
}

func (s *SQLiteCommitmentStore) Transition(ctx context.Context, id contracts.CommitmentID, newState contracts.State, now time.Time, validate TransitionValidator) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transition: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	rec, err := scanRecord(tx.QueryRowContext(ctx,
		`SELECT id, hash_lock, locker, counterparty, amount, created_at, expiry, state FROM commitments WHERE id = ?`,
		id.String()))
	if err != nil {
		return err
	}
	if rec.State != contracts.StateLocked {
		return fmt.Errorf("%w: commitment %s is %s", contracts.ErrInvalidTransition, id, rec.State)
	}
	if validate != nil {
		if err := validate(rec, now); err != nil {
			return err
		}
	}

	// State-guarded update is the check-and-set: a racing transition that
	// committed first leaves zero rows to update here.
	res, err := tx.ExecContext(ctx,
		`UPDATE commitments SET state = ? WHERE id = ? AND state = ?`,
		string(newState), id.String(), string(contracts.StateLocked))
	if err != nil {
		return fmt.Errorf("update state: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: commitment %s already resolved", contracts.ErrInvalidTransition, id)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO commitment_transitions (commitment_id, from_state, to_state, occurred_at) VALUES (?, ?, ?, ?)`,
		id.String(), string(contracts.StateLocked), string(newState), formatTime(now))
	if err != nil {
		return fmt.Errorf("log transition: %w", err)
	}
	return tx.Commit()
}

func (s *SQLiteCommitmentStore) LockedTotal(ctx context.Context) (uint64, error) {
	var total sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT SUM(amount) FROM commitments WHERE state = ?`, string(contracts.StateLocked)).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("sum locked: %w", err)
	}
	if !total.Valid {
		return 0, nil
	}
	return uint64(total.Int64), nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*contracts.EscrowRecord, error) {
	var (
		idHex, lockHex, locker, counterparty string
		amount                               int64
		createdAt, expiry, state             string
	)
	err := row.Scan(&idHex, &lockHex, &locker, &counterparty, &amount, &createdAt, &expiry, &state)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("%w: commitment", contracts.ErrNotFound)
		}
		return nil, err
	}

	id, err := contracts.ParseCommitmentID(idHex)
	if err != nil {
		return nil, fmt.Errorf("corrupt commitment id %q: %w", idHex, err)
	}
	lock, err := contracts.ParseHashLock(lockHex)
	if err != nil {
		return nil, fmt.Errorf("corrupt hash lock for %s: %w", idHex, err)
	}
	createdAtT, err := parseTime(createdAt)
	if err != nil {
		return nil, fmt.Errorf("corrupt created_at for %s: %w", idHex, err)
	}
	expiryT, err := parseTime(expiry)
	if err != nil {
		return nil, fmt.Errorf("corrupt expiry for %s: %w", idHex, err)
	}

	return &contracts.EscrowRecord{
		ID:           id,
		HashLock:     lock,
		Locker:       contracts.Principal(locker),
		Counterparty: contracts.Principal(counterparty),
		Amount:       uint64(amount),
		CreatedAt:    createdAtT,
		Expiry:       expiryT,
		State:        contracts.State(state),
	}, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(value string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t, nil
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("invalid timestamp %q", value)
}
