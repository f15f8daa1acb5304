package directory

import (
	"context"
	"fmt"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	svcerrors "github.com/R3E-Network/savings_layer/internal/errors"
)

func TestMemoryStore_UpsertAndGet(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	room := sampleRoom("0xroom1")
	require.NoError(t, store.Upsert(ctx, room))

	got, err := store.Get(ctx, "0xroom1")
	require.NoError(t, err)
	assert.Equal(t, room.VaultID, got.VaultID)
	assert.True(t, room.DepositAmount.Equal(got.DepositAmount))

	got.Name = "mutated"
	again, err := store.Get(ctx, "0xroom1")
	require.NoError(t, err)
	assert.Equal(t, "Holiday fund", again.Name)
}

func TestMemoryStore_GetMissing(t *testing.T) {
	_, err := NewMemoryStore().Get(context.Background(), "0xnone")
	require.Error(t, err)
	assert.True(t, svcerrors.IsNotFound(err))
}

func TestMemoryStore_UpsertRejectsInvalid(t *testing.T) {
	room := sampleRoom("0xroom1")
	room.VaultID = ""
	err := NewMemoryStore().Upsert(context.Background(), room)
	require.Error(t, err)
	assert.True(t, svcerrors.HasCode(err, svcerrors.CodeValidation))
}

func TestMemoryStore_UpsertKeepsCheckpoint(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.Upsert(ctx, sampleRoom("0xroom1")))

	ok, err := store.UpdateYieldCheckpoint(ctx, "0xroom1", 1.5, 2000)
	require.NoError(t, err)
	require.True(t, ok)

	replay := sampleRoom("0xroom1")
	replay.Name = "renamed"
	require.NoError(t, store.Upsert(ctx, replay))

	got, err := store.Get(ctx, "0xroom1")
	require.NoError(t, err)
	assert.Equal(t, "renamed", got.Name)
	assert.Equal(t, 1.5, got.AccumulatedYield)
	assert.Equal(t, int64(2000), got.LastYieldUpdateMs)
}

func TestMemoryStore_CheckpointIsMonotonic(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.Upsert(ctx, sampleRoom("0xroom1")))

	ok, err := store.UpdateYieldCheckpoint(ctx, "0xroom1", 2, 5000)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.UpdateYieldCheckpoint(ctx, "0xroom1", 1, 4000)
	require.NoError(t, err)
	assert.False(t, ok)

	got, _ := store.Get(ctx, "0xroom1")
	assert.Equal(t, 2.0, got.AccumulatedYield)
	assert.Equal(t, int64(5000), got.LastYieldUpdateMs)

	_, err = store.UpdateYieldCheckpoint(ctx, "0xmissing", 1, 1)
	assert.True(t, svcerrors.IsNotFound(err))
}

func TestMemoryStore_Listing(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	for i := 0; i < 3; i++ {
		room := sampleRoom(fmt.Sprintf("0xroom%d", i))
		room.CreatedAtMs = int64(1000 + i)
		if i == 2 {
			room.Creator = "0xOTHER"
		}
		require.NoError(t, store.Upsert(ctx, room))
	}

	newest, err := store.ListAll(ctx, true)
	require.NoError(t, err)
	require.Len(t, newest, 3)
	assert.Equal(t, "0xroom2", newest[0].RoomID)

	oldest, err := store.ListAll(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, "0xroom0", oldest[0].RoomID)

	mine, err := store.ListByCreator(ctx, "0xother")
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, "0xroom2", mine[0].RoomID)

	n, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	exists, err := store.Exists(ctx, "0xroom1")
	require.NoError(t, err)
	assert.True(t, exists)

	wiped, err := store.Wipe(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, wiped)
	n, _ = store.Count(ctx)
	assert.Zero(t, n)
}

func TestMemoryStore_FindByPasswordHash(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	password, err := GeneratePassword()
	require.NoError(t, err)

	room := sampleRoom("0xprivate")
	room.IsPrivate = true
	room.PasswordHash = HashPassword(password)
	require.NoError(t, store.Upsert(ctx, room))
	require.NoError(t, store.Upsert(ctx, sampleRoom("0xpublic")))

	got, err := store.FindByPasswordHash(ctx, HashPassword(password))
	require.NoError(t, err)
	assert.Equal(t, "0xprivate", got.RoomID)

	_, err = store.FindByPasswordHash(ctx, HashPassword(password+"x"))
	assert.True(t, svcerrors.IsNotFound(err))

	_, err = store.FindByPasswordHash(ctx, "")
	assert.True(t, svcerrors.IsNotFound(err))
}

func TestMemoryStore_UpsertIdempotentProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		ctx := context.Background()
		room := sampleRoom(rapid.StringMatching(`0x[0-9a-f]{1,16}`).Draw(t, "id"))
		room.Name = rapid.String().Draw(t, "name")
		room.TotalPeriods = rapid.IntRange(1, 52).Draw(t, "periods")

		once := NewMemoryStore()
		twice := NewMemoryStore()
		if err := once.Upsert(ctx, room); err != nil {
			t.Fatalf("upsert: %v", err)
		}
		for i := 0; i < 2; i++ {
			if err := twice.Upsert(ctx, room); err != nil {
				t.Fatalf("upsert: %v", err)
			}
		}

		a, _ := once.ListAll(ctx, true)
		b, _ := twice.ListAll(ctx, true)
		if len(a) != len(b) || len(a) != 1 {
			t.Fatalf("record count differs: %d vs %d", len(a), len(b))
		}
		ra, rb := *a[0], *b[0]
		if !ra.DepositAmount.Equal(rb.DepositAmount) {
			t.Fatalf("deposit differs: %s vs %s", ra.DepositAmount, rb.DepositAmount)
		}
		ra.DepositAmount, rb.DepositAmount = decimal.Zero, decimal.Zero
		if ra != rb {
			t.Fatalf("records differ: %+v vs %+v", ra, rb)
		}
	})
}

func TestMemoryStore_PasswordRoundTripProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		ctx := context.Background()
		password := rapid.String().Draw(t, "password")
		other := rapid.String().Draw(t, "other")

		store := NewMemoryStore()
		room := sampleRoom("0xprivate")
		room.IsPrivate = true
		room.PasswordHash = HashPassword(password)
		if err := store.Upsert(ctx, room); err != nil {
			t.Fatalf("upsert: %v", err)
		}

		got, err := store.FindByPasswordHash(ctx, HashPassword(password))
		if err != nil || got.RoomID != "0xprivate" {
			t.Fatalf("lookup by correct password failed: %v", err)
		}
		if other != password {
			if _, err := store.FindByPasswordHash(ctx, HashPassword(other)); !svcerrors.IsNotFound(err) {
				t.Fatalf("wrong password matched: %v", err)
			}
		}
	})
}
