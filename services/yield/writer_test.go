package yield

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingStore struct {
	mu     sync.Mutex
	writes []CheckpointWrite
	err    error
	block  chan struct{}
}

func (s *recordingStore) UpdateYieldCheckpoint(_ context.Context, roomID string, accumulated float64, lastUpdateMs int64) (bool, error) {
	if s.block != nil {
		<-s.block
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return false, s.err
	}
	s.writes = append(s.writes, CheckpointWrite{RoomID: roomID, Accumulated: accumulated, LastUpdateMs: lastUpdateMs})
	return true, nil
}

func (s *recordingStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.writes)
}

func TestWriter_PersistsQueuedWrites(t *testing.T) {
	store := &recordingStore{}
	w := NewWriter(WriterConfig{Store: store, QueueSize: 4})
	w.Start()

	assert.True(t, w.Enqueue(context.Background(), CheckpointWrite{RoomID: "0x1", Accumulated: 1, LastUpdateMs: 10}))
	assert.True(t, w.Enqueue(context.Background(), CheckpointWrite{RoomID: "0x2", Accumulated: 2, LastUpdateMs: 20}))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, w.Stop(ctx))

	assert.Equal(t, 2, store.count())
	assert.False(t, w.Enqueue(context.Background(), CheckpointWrite{RoomID: "0x3"}))
}

func TestWriter_DropsWhenFull(t *testing.T) {
	store := &recordingStore{block: make(chan struct{})}
	w := NewWriter(WriterConfig{Store: store, QueueSize: 1})

	// Not started: the single slot fills and the next write is dropped.
	assert.True(t, w.Enqueue(context.Background(), CheckpointWrite{RoomID: "0x1"}))
	assert.False(t, w.Enqueue(context.Background(), CheckpointWrite{RoomID: "0x2"}))
	assert.Equal(t, uint64(1), w.Dropped())

	close(store.block)
	w.Start()
	require.NoError(t, w.Stop(context.Background()))
	assert.Equal(t, 1, store.count())
}

func TestWriter_FailureIsAbsorbed(t *testing.T) {
	store := &recordingStore{err: errors.New("db down")}
	w := NewWriter(WriterConfig{Store: store})
	w.Start()

	assert.True(t, w.Enqueue(context.Background(), CheckpointWrite{RoomID: "0x1"}))
	require.NoError(t, w.Stop(context.Background()))
	assert.Zero(t, store.count())
}

func TestWriter_NilIsSafe(t *testing.T) {
	var w *Writer
	w.Start()
	assert.False(t, w.Enqueue(context.Background(), CheckpointWrite{}))
	assert.NoError(t, w.Stop(context.Background()))
}
