package directory

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

const roomColumns = `room_id, vault_id, creator, name, total_periods, deposit_amount, strategy_id,
	start_time_ms, period_length_ms, is_private, COALESCE(password_hash, '') AS password_hash,
	creation_digest, accumulated_yield, last_yield_update_ms, created_at_ms`

// PostgresStore implements Store backed by PostgreSQL.
type PostgresStore struct {
	db *sqlx.DB
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore wraps an open database handle.
func NewPostgresStore(db *sqlx.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// OpenPostgres opens and pings a PostgreSQL database.
func OpenPostgres(ctx context.Context, dsn string) (*sqlx.DB, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return db, nil
}

// DB returns the underlying handle.
func (s *PostgresStore) DB() *sqlx.DB {
	return s.db
}

func (s *PostgresStore) Upsert(ctx context.Context, room *Room) error {
	if err := room.Validate(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO rooms (room_id, vault_id, creator, name, total_periods, deposit_amount, strategy_id,
			start_time_ms, period_length_ms, is_private, password_hash, creation_digest,
			accumulated_yield, last_yield_update_ms, created_at_ms)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NULLIF($11, ''), $12, $13, $14, $15)
		ON CONFLICT (room_id) DO UPDATE SET
			vault_id = EXCLUDED.vault_id,
			creator = EXCLUDED.creator,
			name = EXCLUDED.name,
			total_periods = EXCLUDED.total_periods,
			deposit_amount = EXCLUDED.deposit_amount,
			strategy_id = EXCLUDED.strategy_id,
			start_time_ms = EXCLUDED.start_time_ms,
			period_length_ms = EXCLUDED.period_length_ms,
			is_private = EXCLUDED.is_private,
			password_hash = EXCLUDED.password_hash,
			creation_digest = EXCLUDED.creation_digest
	`, room.RoomID, room.VaultID, room.Creator, room.Name, room.TotalPeriods, room.DepositAmount,
		room.StrategyID, room.StartTimeMs, room.PeriodLengthMs, room.IsPrivate, room.PasswordHash,
		room.CreationDigest, room.AccumulatedYield, room.LastYieldUpdateMs, room.CreatedAtMs)
	if err != nil {
		return fmt.Errorf("upsert room %s: %w", room.RoomID, err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, roomID string) (*Room, error) {
	var room Room
	err := s.db.GetContext(ctx, &room, `SELECT `+roomColumns+` FROM rooms WHERE room_id = $1`, roomID)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, roomNotFound(roomID)
	}
	if err != nil {
		return nil, fmt.Errorf("get room %s: %w", roomID, err)
	}
	return &room, nil
}

func (s *PostgresStore) ListAll(ctx context.Context, newestFirst bool) ([]*Room, error) {
	order := "ASC"
	if newestFirst {
		order = "DESC"
	}
	var rooms []*Room
	if err := s.db.SelectContext(ctx, &rooms,
		`SELECT `+roomColumns+` FROM rooms ORDER BY created_at_ms `+order+`, room_id`); err != nil {
		return nil, fmt.Errorf("list rooms: %w", err)
	}
	return rooms, nil
}

func (s *PostgresStore) ListByCreator(ctx context.Context, creator string) ([]*Room, error) {
	var rooms []*Room
	if err := s.db.SelectContext(ctx, &rooms,
		`SELECT `+roomColumns+` FROM rooms WHERE LOWER(creator) = $1 ORDER BY created_at_ms DESC, room_id`,
		strings.ToLower(creator)); err != nil {
		return nil, fmt.Errorf("list rooms by creator: %w", err)
	}
	return rooms, nil
}

func (s *PostgresStore) FindByPasswordHash(ctx context.Context, hash string) (*Room, error) {
	if hash == "" {
		return nil, roomNotFound("")
	}
	var room Room
	err := s.db.GetContext(ctx, &room,
		`SELECT `+roomColumns+` FROM rooms WHERE password_hash = $1 AND is_private LIMIT 1`, hash)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, roomNotFound("")
	}
	if err != nil {
		return nil, fmt.Errorf("find room by password: %w", err)
	}
	return &room, nil
}

func (s *PostgresStore) UpdateYieldCheckpoint(ctx context.Context, roomID string, accumulated float64, lastUpdateMs int64) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE rooms
		SET accumulated_yield = $2, last_yield_update_ms = $3
		WHERE room_id = $1 AND last_yield_update_ms <= $3 AND accumulated_yield <= $2
	`, roomID, accumulated, lastUpdateMs)
	if err != nil {
		return false, fmt.Errorf("update yield checkpoint %s: %w", roomID, err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("update yield checkpoint %s: %w", roomID, err)
	}
	if rows > 0 {
		return true, nil
	}

	exists, err := s.Exists(ctx, roomID)
	if err != nil {
		return false, err
	}
	if !exists {
		return false, roomNotFound(roomID)
	}
	return false, nil
}

func (s *PostgresStore) Exists(ctx context.Context, roomID string) (bool, error) {
	var exists bool
	if err := s.db.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM rooms WHERE room_id = $1)`, roomID); err != nil {
		return false, fmt.Errorf("room exists %s: %w", roomID, err)
	}
	return exists, nil
}

func (s *PostgresStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM rooms`); err != nil {
		return 0, fmt.Errorf("count rooms: %w", err)
	}
	return n, nil
}

func (s *PostgresStore) Wipe(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM rooms`)
	if err != nil {
		return 0, fmt.Errorf("wipe rooms: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("wipe rooms: %w", err)
	}
	return int(n), nil
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}
