package directory

import (
	"context"
	"database/sql"
	"os"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/savings_layer/internal/database/migrations"
	svcerrors "github.com/R3E-Network/savings_layer/internal/errors"
)

var roomRowColumns = []string{
	"room_id", "vault_id", "creator", "name", "total_periods", "deposit_amount", "strategy_id",
	"start_time_ms", "period_length_ms", "is_private", "password_hash", "creation_digest",
	"accumulated_yield", "last_yield_update_ms", "created_at_ms",
}

func newMockStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewPostgresStore(sqlx.NewDb(db, "sqlmock")), mock
}

func TestPostgresStore_Upsert(t *testing.T) {
	store, mock := newMockStore(t)
	room := sampleRoom("0xroom1")

	mock.ExpectExec(`INSERT INTO rooms .* ON CONFLICT \(room_id\) DO UPDATE`).
		WithArgs("0xroom1", "0xvault-0xroom1", "0xcreator", "Holiday fund", sqlmock.AnyArg(), sqlmock.AnyArg(),
			sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), false, "", "Dg-0xroom1",
			sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, store.Upsert(context.Background(), room))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpsertValidatesFirst(t *testing.T) {
	store, mock := newMockStore(t)
	room := sampleRoom("0xroom1")
	room.TotalPeriods = 0

	err := store.Upsert(context.Background(), room)
	require.Error(t, err)
	assert.True(t, svcerrors.HasCode(err, svcerrors.CodeValidation))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Get(t *testing.T) {
	store, mock := newMockStore(t)

	rows := sqlmock.NewRows(roomRowColumns).AddRow(
		"0xroom1", "0xvault1", "0xcreator", "Holiday fund", 4, "1000000", 1,
		int64(1_700_000_060_000), int64(604_800_000), false, "", "Dg1",
		0.25, int64(1_700_000_100_000), int64(1_700_000_000_000),
	)
	mock.ExpectQuery(`SELECT .* FROM rooms WHERE room_id = \$1`).WithArgs("0xroom1").WillReturnRows(rows)

	room, err := store.Get(context.Background(), "0xroom1")
	require.NoError(t, err)
	assert.Equal(t, "0xvault1", room.VaultID)
	assert.Equal(t, "1000000", room.DepositAmount.String())
	assert.Equal(t, uint8(1), room.StrategyID)
	assert.Equal(t, 0.25, room.AccumulatedYield)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetNotFound(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery(`SELECT .* FROM rooms WHERE room_id = \$1`).WithArgs("0xnone").WillReturnError(sql.ErrNoRows)

	_, err := store.Get(context.Background(), "0xnone")
	assert.True(t, svcerrors.IsNotFound(err))
}

func TestPostgresStore_UpdateYieldCheckpoint(t *testing.T) {
	t.Run("advanced", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectExec(`UPDATE rooms`).WithArgs("0xroom1", 1.5, int64(2000)).WillReturnResult(sqlmock.NewResult(0, 1))

		ok, err := store.UpdateYieldCheckpoint(context.Background(), "0xroom1", 1.5, 2000)
		require.NoError(t, err)
		assert.True(t, ok)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("stale", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectExec(`UPDATE rooms`).WithArgs("0xroom1", 1.0, int64(1000)).WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery(`SELECT EXISTS`).WithArgs("0xroom1").
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

		ok, err := store.UpdateYieldCheckpoint(context.Background(), "0xroom1", 1.0, 1000)
		require.NoError(t, err)
		assert.False(t, ok)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("missing", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectExec(`UPDATE rooms`).WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery(`SELECT EXISTS`).WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

		_, err := store.UpdateYieldCheckpoint(context.Background(), "0xnone", 1.0, 1000)
		assert.True(t, svcerrors.IsNotFound(err))
	})
}

func TestPostgresStore_CountAndWipe(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM rooms`).WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))
	mock.ExpectExec(`DELETE FROM rooms`).WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := store.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	wiped, err := store.Wipe(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, wiped)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStoreIntegration(t *testing.T) {
	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TEST_POSTGRES_DSN not set; skipping postgres integration test")
	}

	ctx := context.Background()
	db, err := OpenPostgres(ctx, dsn)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer db.Close()

	if err := migrations.Apply(ctx, db); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}

	store := NewPostgresStore(db)
	if _, err := store.Wipe(ctx); err != nil {
		t.Fatalf("wipe: %v", err)
	}

	room := sampleRoom("0xintegration")
	room.IsPrivate = true
	room.PasswordHash = HashPassword("secret")
	if err := store.Upsert(ctx, room); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := store.Upsert(ctx, room); err != nil {
		t.Fatalf("second upsert: %v", err)
	}

	got, err := store.FindByPasswordHash(ctx, HashPassword("secret"))
	if err != nil {
		t.Fatalf("find by password: %v", err)
	}
	if got.VaultID != room.VaultID {
		t.Fatalf("vault = %s, want %s", got.VaultID, room.VaultID)
	}

	if ok, err := store.UpdateYieldCheckpoint(ctx, room.RoomID, 0.5, 10); err != nil || !ok {
		t.Fatalf("advance checkpoint: ok=%v err=%v", ok, err)
	}
	if ok, err := store.UpdateYieldCheckpoint(ctx, room.RoomID, 0.1, 5); err != nil || ok {
		t.Fatalf("stale checkpoint accepted: ok=%v err=%v", ok, err)
	}
}
