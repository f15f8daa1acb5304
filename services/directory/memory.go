package directory

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// MemoryStore is an in-memory Store. It is safe for concurrent use and is
// intended for tests and local development.
type MemoryStore struct {
	mu    sync.RWMutex
	rooms map[string]*Room
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rooms: make(map[string]*Room)}
}

func (s *MemoryStore) Upsert(_ context.Context, room *Room) error {
	if err := room.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	next := room.Clone()
	if existing, ok := s.rooms[room.RoomID]; ok {
		next.AccumulatedYield = existing.AccumulatedYield
		next.LastYieldUpdateMs = existing.LastYieldUpdateMs
		next.CreatedAtMs = existing.CreatedAtMs
	}
	s.rooms[room.RoomID] = next
	return nil
}

func (s *MemoryStore) Get(_ context.Context, roomID string) (*Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	room, ok := s.rooms[roomID]
	if !ok {
		return nil, roomNotFound(roomID)
	}
	return room.Clone(), nil
}

func (s *MemoryStore) ListAll(_ context.Context, newestFirst bool) ([]*Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Room, 0, len(s.rooms))
	for _, room := range s.rooms {
		out = append(out, room.Clone())
	}
	sortRooms(out, newestFirst)
	return out, nil
}

func (s *MemoryStore) ListByCreator(_ context.Context, creator string) ([]*Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Room
	for _, room := range s.rooms {
		if strings.EqualFold(room.Creator, creator) {
			out = append(out, room.Clone())
		}
	}
	sortRooms(out, true)
	return out, nil
}

func (s *MemoryStore) FindByPasswordHash(_ context.Context, hash string) (*Room, error) {
	if hash == "" {
		return nil, roomNotFound("")
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, room := range s.rooms {
		if room.IsPrivate && room.PasswordHash == hash {
			return room.Clone(), nil
		}
	}
	return nil, roomNotFound("")
}

func (s *MemoryStore) UpdateYieldCheckpoint(_ context.Context, roomID string, accumulated float64, lastUpdateMs int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	room, ok := s.rooms[roomID]
	if !ok {
		return false, roomNotFound(roomID)
	}
	if lastUpdateMs < room.LastYieldUpdateMs || accumulated < room.AccumulatedYield {
		return false, nil
	}
	room.AccumulatedYield = accumulated
	room.LastYieldUpdateMs = lastUpdateMs
	return true, nil
}

func (s *MemoryStore) Exists(_ context.Context, roomID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.rooms[roomID]
	return ok, nil
}

func (s *MemoryStore) Count(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rooms), nil
}

func (s *MemoryStore) Wipe(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.rooms)
	s.rooms = make(map[string]*Room)
	return n, nil
}

func (s *MemoryStore) Close() error { return nil }

func sortRooms(rooms []*Room, newestFirst bool) {
	sort.Slice(rooms, func(i, j int) bool {
		if rooms[i].CreatedAtMs != rooms[j].CreatedAtMs {
			if newestFirst {
				return rooms[i].CreatedAtMs > rooms[j].CreatedAtMs
			}
			return rooms[i].CreatedAtMs < rooms[j].CreatedAtMs
		}
		return rooms[i].RoomID < rooms[j].RoomID
	})
}
