package risk

import (
	"context"
	"testing"

	"github.com/mbd888/safepay/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostgresRegistry(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	ctx := context.Background()
	reg := NewPostgresRegistry(db)

	ok, err := reg.IsReported(ctx, "mid1pg")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = reg.Report(ctx, "mid1pg", "first")
	require.NoError(t, err)
	_, err = reg.Report(ctx, "mid1pg", "second")
	require.NoError(t, err)

	ok, err = reg.IsReported(ctx, "mid1pg")
	require.NoError(t, err)
	assert.True(t, ok)

	reports, err := reg.ListReports(ctx, "mid1pg")
	require.NoError(t, err)
	require.Len(t, reports, 2)
	assert.Equal(t, "first", reports[0].Reason)
	assert.Equal(t, "second", reports[1].Reason)

	_, err = reg.Report(ctx, "", "x")
	assert.ErrorIs(t, err, ErrInvalidAddress)

	a, err := NewPolicy(reg, 0).Screen(ctx, "mid1pg", 1)
	require.NoError(t, err)
	assert.True(t, a.RequiresConfirmation)
}
