package store

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/bridgelock/escrow/pkg/contracts"
)

func newPostgresMock(t *testing.T) (*PostgresCommitmentStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS commitments").
		WillReturnResult(sqlmock.NewResult(0, 0))
	s, err := NewPostgresCommitmentStore(db)
	if err != nil {
		t.Fatal(err)
	}
	return s, mock
}

func TestPostgresInsert(t *testing.T) {
	s, mock := newPostgresMock(t)
	rec := testRecord("n1", 100)

	// The commitment row and its creation log row commit together or not
	// at all.
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO commitments")).
		WithArgs(rec.ID.String(), rec.HashLock.String(), "alice", "bob",
			int64(100), formatTime(rec.CreatedAt), formatTime(rec.Expiry), "LOCKED").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO commitment_transitions")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	if err := s.Insert(context.Background(), rec); err != nil {
		t.Fatal(err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestPostgresInsertDuplicate(t *testing.T) {
	s, mock := newPostgresMock(t)
	rec := testRecord("n1", 100)

	// ON CONFLICT DO NOTHING: zero rows affected signals a duplicate and the
	// tx rolls back without logging a creation row.
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO commitments")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := s.Insert(context.Background(), rec)
	if !errors.Is(err, contracts.ErrDuplicateCommitment) {
		t.Fatalf("expected ErrDuplicateCommitment, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestPostgresInsertLogFailureRollsBack(t *testing.T) {
	s, mock := newPostgresMock(t)
	rec := testRecord("n1", 100)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO commitments")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO commitment_transitions")).
		WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	err := s.Insert(context.Background(), rec)
	if err == nil {
		t.Fatal("expected the insert to fail")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func commitmentRows(rec *contracts.EscrowRecord) *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "hash_lock", "locker", "counterparty", "amount", "created_at", "expiry", "state",
	}).AddRow(
		rec.ID.String(), rec.HashLock.String(), string(rec.Locker), string(rec.Counterparty),
		int64(rec.Amount), formatTime(rec.CreatedAt), formatTime(rec.Expiry), string(rec.State),
	)
}

func TestPostgresGet(t *testing.T) {
	s, mock := newPostgresMock(t)
	rec := testRecord("n1", 100)

	mock.ExpectQuery("SELECT (.+) FROM commitments WHERE id").
		WithArgs(rec.ID.String()).
		WillReturnRows(commitmentRows(rec))

	got, err := s.Get(context.Background(), rec.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.ID != rec.ID || got.Amount != 100 || got.State != contracts.StateLocked {
		t.Fatalf("unexpected record: %+v", got)
	}
}

func TestPostgresTransition(t *testing.T) {
	s, mock := newPostgresMock(t)
	rec := testRecord("n1", 100)
	now := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT (.+) FOR UPDATE").
		WithArgs(rec.ID.String()).
		WillReturnRows(commitmentRows(rec))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE commitments SET state")).
		WithArgs("COMPLETED", rec.ID.String(), "LOCKED").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO commitment_transitions")).
		WillReturnResult(sqlmock.NewResult(2, 1))
	mock.ExpectCommit()

	err := s.Transition(context.Background(), rec.ID, contracts.StateCompleted, now, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestPostgresTransitionLostRace(t *testing.T) {
	s, mock := newPostgresMock(t)
	rec := testRecord("n1", 100)

	// The row read as LOCKED but another transition committed first: the
	// state-guarded UPDATE touches zero rows and the tx rolls back.
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT (.+) FOR UPDATE").
		WithArgs(rec.ID.String()).
		WillReturnRows(commitmentRows(rec))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE commitments SET state")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := s.Transition(context.Background(), rec.ID, contracts.StateRefunded, time.Now(), nil)
	if !errors.Is(err, contracts.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestPostgresTransitionTerminalRecord(t *testing.T) {
	s, mock := newPostgresMock(t)
	rec := testRecord("n1", 100)
	rec.State = contracts.StateCompleted

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT (.+) FOR UPDATE").
		WithArgs(rec.ID.String()).
		WillReturnRows(commitmentRows(rec))
	mock.ExpectRollback()

	err := s.Transition(context.Background(), rec.ID, contracts.StateRefunded, time.Now(), nil)
	if !errors.Is(err, contracts.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestPostgresLockedTotal(t *testing.T) {
	s, mock := newPostgresMock(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT SUM(amount) FROM commitments")).
		WithArgs("LOCKED").
		WillReturnRows(sqlmock.NewRows([]string{"sum"}).AddRow(int64(350)))

	total, err := s.LockedTotal(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if total != 350 {
		t.Fatalf("expected 350, got %d", total)
	}
}
