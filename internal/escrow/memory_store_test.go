package escrow

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_DuplicateID(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.Create(ctx, &Escrow{ID: "esc_1", Buyer: "mid1a"}))
	assert.ErrorIs(t, s.Create(ctx, &Escrow{ID: "esc_1", Buyer: "mid1b"}), ErrEscrowExists)

	got, err := s.Get(ctx, "esc_1")
	require.NoError(t, err)
	assert.Equal(t, "mid1a", got.Buyer)
}

func TestMemoryStore_MutateWaitsForHolder(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, &Escrow{ID: "esc_1"}))

	entered := make(chan struct{})
	release := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = s.Mutate(ctx, "esc_1", func(e *Escrow) error {
			close(entered)
			<-release
			e.BuyerApproved = true
			return nil
		})
	}()
	<-entered

	// Another escrow id does not contend.
	require.NoError(t, s.Create(ctx, &Escrow{ID: "esc_2"}))
	_, err := s.Mutate(ctx, "esc_2", func(e *Escrow) error { return nil })
	require.NoError(t, err)

	// Listing is not blocked by the in-flight mutation.
	list, err := s.ListPending(ctx, "")
	require.NoError(t, err)
	assert.Len(t, list, 2)

	waitCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	_, err = s.Mutate(waitCtx, "esc_1", func(e *Escrow) error { return nil })
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(release)
	<-done
	got, _ := s.Get(ctx, "esc_1")
	assert.True(t, got.BuyerApproved)
}

func TestMemoryStore_GetReturnsCopy(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	now := time.Now()
	require.NoError(t, s.Create(ctx, &Escrow{ID: "esc_1", ReleasedAt: &now}))

	got, _ := s.Get(ctx, "esc_1")
	*got.ReleasedAt = now.Add(time.Hour)
	got.Memo = "changed"

	again, _ := s.Get(ctx, "esc_1")
	assert.Empty(t, again.Memo)
	assert.True(t, again.ReleasedAt.Equal(now))
}
