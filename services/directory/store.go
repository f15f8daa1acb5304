package directory

import "context"

// Store persists room records. Implementations handle their own concurrency;
// every call is its own unit of work.
type Store interface {
	// Upsert inserts or replaces the record keyed by RoomID. The yield
	// checkpoint and creation time of an existing record are preserved.
	Upsert(ctx context.Context, room *Room) error
	Get(ctx context.Context, roomID string) (*Room, error)
	ListAll(ctx context.Context, newestFirst bool) ([]*Room, error)
	ListByCreator(ctx context.Context, creator string) ([]*Room, error)
	FindByPasswordHash(ctx context.Context, hash string) (*Room, error)
	// UpdateYieldCheckpoint advances the checkpoint. It reports false, without
	// error, when the stored checkpoint is already ahead.
	UpdateYieldCheckpoint(ctx context.Context, roomID string, accumulated float64, lastUpdateMs int64) (bool, error)
	Exists(ctx context.Context, roomID string) (bool, error)
	Count(ctx context.Context) (int, error)
	// Wipe deletes every record and returns how many were removed.
	Wipe(ctx context.Context) (int, error)
	Close() error
}
