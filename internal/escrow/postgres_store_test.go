package escrow

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/mbd888/safepay/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostgresStore_CreateGetMutate(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	ctx := context.Background()
	store := NewPostgresStore(db)
	require.NoError(t, store.Ping(ctx))

	created := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	e := &Escrow{
		ID: "esc_pg_1", Buyer: "mid1buyer", Seller: "mid1seller", Arbiter: "mid1arb",
		Amount: 500, Memo: "pg", Status: StatusActive,
		ContractAddress: "mid1contract", TransactionHash: "create_escrow_abc", CreatedAt: created,
	}
	require.NoError(t, store.Create(ctx, e))
	assert.ErrorIs(t, store.Create(ctx, e), ErrEscrowExists)

	got, err := store.Get(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, "mid1arb", got.Arbiter)
	assert.Equal(t, int64(500), got.Amount)
	assert.True(t, got.CreatedAt.Equal(created))
	assert.Nil(t, got.ReleasedAt)

	_, err = store.Get(ctx, "esc_missing")
	assert.ErrorIs(t, err, ErrEscrowNotFound)

	boom := errors.New("precondition failed")
	_, err = store.Mutate(ctx, e.ID, func(e *Escrow) error {
		e.BuyerApproved = true
		return boom
	})
	assert.ErrorIs(t, err, boom)
	got, _ = store.Get(ctx, e.ID)
	assert.False(t, got.BuyerApproved)

	now := created.Add(time.Hour)
	updated, err := store.Mutate(ctx, e.ID, func(e *Escrow) error {
		e.DisputeRaised = true
		e.DisputeRaisedAt = &now
		e.DisputeRaisedBy = "mid1buyer"
		return nil
	})
	require.NoError(t, err)
	assert.True(t, updated.DisputeRaised)

	updated, err = store.Mutate(ctx, e.ID, func(e *Escrow) error {
		e.FundsReleased = true
		e.ReleasedAt = &now
		e.ResolvedBy = "mid1arb"
		e.ResolvedInFavorOf = RoleSeller
		return nil
	})
	require.NoError(t, err)

	got, err = store.Get(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, StateReleased, got.State())
	assert.Equal(t, RoleSeller, got.ResolvedInFavorOf)
	require.NotNil(t, got.ReleasedAt)
	assert.True(t, got.ReleasedAt.Equal(now))
	assert.Equal(t, updated.ResolvedBy, got.ResolvedBy)
}

func TestPostgresStore_Listing(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	ctx := context.Background()
	store := NewPostgresStore(db)
	for i, id := range []string{"esc_a", "esc_b", "esc_c"} {
		e := &Escrow{
			ID: id, Buyer: "mid1buyer", Seller: "mid1seller", Amount: int64(10 * (i + 1)),
			Status: StatusActive, ContractAddress: "mid1c" + id, TransactionHash: "tx" + id,
			CreatedAt: time.Now().UTC(),
		}
		if id == "esc_b" {
			e.Arbiter = "mid1arb"
			e.BuyerApproved = true
		}
		require.NoError(t, store.Create(ctx, e))
	}

	byBuyer, err := store.ListByParty(ctx, RoleBuyer, "mid1buyer")
	require.NoError(t, err)
	require.Len(t, byBuyer, 3)
	assert.Equal(t, "esc_a", byBuyer[0].ID)
	assert.Equal(t, "esc_c", byBuyer[2].ID)

	byArbiter, err := store.ListByParty(ctx, RoleArbiter, "mid1arb")
	require.NoError(t, err)
	require.Len(t, byArbiter, 1)
	assert.Equal(t, "esc_b", byArbiter[0].ID)

	none, err := store.ListByParty(ctx, RoleSeller, "mid1nobody")
	require.NoError(t, err)
	assert.Empty(t, none)

	pending, err := store.ListPending(ctx, "mid1buyer")
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, "esc_a", pending[0].ID)
	assert.Equal(t, "esc_c", pending[1].ID)
}

func TestPostgresStore_MutateSerializes(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	ctx := context.Background()
	store := NewPostgresStore(db)
	require.NoError(t, store.Create(ctx, &Escrow{
		ID: "esc_race", Buyer: "mid1b", Seller: "mid1s", Amount: 1,
		Status: StatusActive, ContractAddress: "mid1c", TransactionHash: "tx", CreatedAt: time.Now().UTC(),
	}))

	var (
		wg sync.WaitGroup
		mu sync.Mutex
		ok int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.Mutate(ctx, "esc_race", func(e *Escrow) error {
				if e.BuyerApproved {
					return ErrAlreadyApproved
				}
				e.BuyerApproved = true
				return nil
			})
			if err == nil {
				mu.Lock()
				ok++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, ok)
}
