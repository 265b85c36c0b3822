package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/bridgelock/escrow/pkg/contracts"

	_ "github.com/lib/pq"
)

// PostgresCommitmentStore is a CommitmentStore backed by Postgres, for
// deployments where several services share one database. Schema and
// semantics match the SQLite store; the row lock taken by FOR UPDATE plus
// the state-guarded UPDATE make Transition atomic under concurrent writers.
type PostgresCommitmentStore struct {
	db *sql.DB
}

// NewPostgresCommitmentStore wraps the given database handle and applies the
// schema migration.
func NewPostgresCommitmentStore(db *sql.DB) (*PostgresCommitmentStore, error) {
	s := &PostgresCommitmentStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *PostgresCommitmentStore) migrate() error {
	query := `
	CREATE TABLE IF NOT EXISTS commitments (
		id TEXT PRIMARY KEY,
		hash_lock TEXT NOT NULL,
		locker TEXT NOT NULL,
		counterparty TEXT NOT NULL,
		amount BIGINT NOT NULL,
		created_at TEXT NOT NULL,
		expiry TEXT NOT NULL,
		state TEXT NOT NULL
	);
	CREATE TABLE IF NOT EXISTS commitment_transitions (
		seq BIGSERIAL PRIMARY KEY,
		commitment_id TEXT NOT NULL,
		from_state TEXT NOT NULL,
		to_state TEXT NOT NULL,
		occurred_at TEXT NOT NULL
	);`
	_, err := s.db.ExecContext(context.Background(), query)
	return err
}

func (s *PostgresCommitmentStore) Insert(ctx context.Context, rec *contracts.EscrowRecord) error {
	query := `INSERT INTO commitments (id, hash_lock, locker, counterparty, amount, created_at, expiry, state)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO NOTHING`

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin insert: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, query,
		rec.ID.String(), rec.HashLock.String(), string(rec.Locker), string(rec.Counterparty),
		int64(rec.Amount), formatTime(rec.CreatedAt), formatTime(rec.Expiry), string(rec.State),
	)
	if err != nil {
		return fmt.Errorf("insert commitment: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s", contracts.ErrDuplicateCommitment, rec.ID)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO commitment_transitions (commitment_id, from_state, to_state, occurred_at) VALUES ($1, $2, $3, $4)`,
		rec.ID.String(), "", string(contracts.StateLocked), formatTime(rec.CreatedAt))
	if err != nil {
		return fmt.Errorf("log creation: %w", err)
	}
	return tx.Commit()
}

func (s *PostgresCommitmentStore) Get(ctx context.Context, id contracts.CommitmentID) (*contracts.EscrowRecord, error) {
	query := `SELECT id, hash_lock, locker, counterparty, amount, created_at, expiry, state
		FROM commitments WHERE id = $1`
	return scanRecord(s.db.QueryRowContext(ctx, query, id.String()))
}

func (s *PostgresCommitmentStore) Transition(ctx context.Context, id contracts.CommitmentID, newState contracts.State, now time.Time, validate TransitionValidator) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transition: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	rec, err := scanRecord(tx.QueryRowContext(ctx,
		`SELECT id, hash_lock, locker, counterparty, amount, created_at, expiry, state
		 FROM commitments WHERE id = $1 FOR UPDATE`, id.String()))
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

	res, err := tx.ExecContext(ctx,
		`UPDATE commitments SET state = $1 WHERE id = $2 AND state = $3`,
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
		`INSERT INTO commitment_transitions (commitment_id, from_state, to_state, occurred_at) VALUES ($1, $2, $3, $4)`,
		id.String(), string(contracts.StateLocked), string(newState), formatTime(now))
	if err != nil {
		return fmt.Errorf("log transition: %w", err)
	}
	return tx.Commit()
}

func (s *PostgresCommitmentStore) LockedTotal(ctx context.Context) (uint64, error) {
	var total sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT SUM(amount) FROM commitments WHERE state = $1`, string(contracts.StateLocked)).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("sum locked: %w", err)
	}
	if !total.Valid {
		return 0, nil
	}
	return uint64(total.Int64), nil
}
