package gateway

import (
	"context"
	"testing"
	"time"

	"github.com/mbd888/safepay/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostgresStore_RecordAndList(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	ctx := context.Background()
	store := NewPostgresStore(db)
	now := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

	for i, id := range []string{"pay_1", "pay_2", "pay_3"} {
		require.NoError(t, store.Record(ctx, &Payment{
			ID: id, From: "mid1from", To: "mid1to", Amount: int64(i + 1),
			TxHash: "transfer_" + id, Bypassed: i == 2, CreatedAt: now,
		}))
	}
	require.NoError(t, store.Record(ctx, &Payment{
		ID: "pay_other", From: "mid1else", To: "mid1to", Amount: 9, TxHash: "t", CreatedAt: now,
	}))

	got, err := store.ListBySender(ctx, "mid1from", 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "pay_3", got[0].ID)
	assert.True(t, got[0].Bypassed)
	assert.Equal(t, "pay_2", got[1].ID)
	assert.True(t, got[1].CreatedAt.Equal(now))

	none, err := store.ListBySender(ctx, "mid1nobody", 10)
	require.NoError(t, err)
	assert.Empty(t, none)
}
