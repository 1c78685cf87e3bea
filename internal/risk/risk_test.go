package risk

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingRegistry struct{ *MemoryRegistry }

func newFailingRegistry() failingRegistry { return failingRegistry{NewMemoryRegistry()} }

func (failingRegistry) IsReported(context.Context, string) (bool, error) {
	return false, errors.New("connection refused")
}

func TestPolicy_Screen(t *testing.T) {
	ctx := context.Background()
	reg := NewMemoryRegistry()
	_, err := reg.Report(ctx, "mid1bad", "phishing")
	require.NoError(t, err)

	p := NewPolicy(reg, 1000)

	tests := []struct {
		name        string
		dest        string
		amount      int64
		reported    bool
		above       bool
		msgContains []string
	}{
		{"clean", "mid1good", 10, false, false, nil},
		{"at threshold", "mid1good", 1000, false, false, nil},
		{"reported only", "mid1bad", 10, true, false, []string{"mid1bad", "reported"}},
		{"above only", "mid1good", 1001, false, true, []string{"1001", "1000"}},
		{"both gates", "mid1bad", 5000, true, true, []string{"reported", "exceeds"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, err := p.Screen(ctx, tt.dest, tt.amount)
			require.NoError(t, err)
			assert.Equal(t, tt.reported, a.Reported)
			assert.Equal(t, tt.above, a.AboveThreshold)
			assert.Equal(t, tt.reported || tt.above, a.RequiresConfirmation)
			if len(tt.msgContains) == 0 {
				assert.Empty(t, a.Message)
			}
			for _, s := range tt.msgContains {
				assert.Contains(t, a.Message, s)
			}
		})
	}
}

func TestPolicy_BothClausesConcatenatedInOrder(t *testing.T) {
	ctx := context.Background()
	reg := NewMemoryRegistry()
	_, _ = reg.Report(ctx, "mid1bad", "")

	a, err := NewPolicy(reg, 100).Screen(ctx, "mid1bad", 101)
	require.NoError(t, err)
	reportedAt := strings.Index(a.Message, "reported")
	thresholdAt := strings.Index(a.Message, "exceeds")
	assert.True(t, reportedAt >= 0 && thresholdAt > reportedAt, "message %q", a.Message)
}

func TestPolicy_DefaultCeiling(t *testing.T) {
	p := NewPolicy(NewMemoryRegistry(), 0)
	assert.Equal(t, DefaultMaxSafeTransaction, p.MaxSafeTransaction())

	a, err := p.Screen(context.Background(), "mid1x", DefaultMaxSafeTransaction+1)
	require.NoError(t, err)
	assert.True(t, a.AboveThreshold)
}

func TestPolicy_RegistryFailureIsAnError(t *testing.T) {
	p := NewPolicy(newFailingRegistry(), 1000)
	a, err := p.Screen(context.Background(), "mid1x", 1)
	assert.Error(t, err)
	assert.Nil(t, a)
}

func TestMemoryRegistry_AppendOnlyLog(t *testing.T) {
	ctx := context.Background()
	reg := NewMemoryRegistry()

	ok, err := reg.IsReported(ctx, "mid1scam")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = reg.Report(ctx, "mid1scam", "fake shop")
	require.NoError(t, err)
	_, err = reg.Report(ctx, " mid1scam ", "never delivered")
	require.NoError(t, err)

	ok, err = reg.IsReported(ctx, "mid1scam")
	require.NoError(t, err)
	assert.True(t, ok)

	reports, err := reg.ListReports(ctx, "mid1scam")
	require.NoError(t, err)
	require.Len(t, reports, 2)
	assert.Equal(t, "fake shop", reports[0].Reason)
	assert.Equal(t, "never delivered", reports[1].Reason)

	// Returned reports are copies.
	reports[0].Reason = "tampered"
	again, _ := reg.ListReports(ctx, "mid1scam")
	assert.Equal(t, "fake shop", again[0].Reason)
}

func TestMemoryRegistry_Validation(t *testing.T) {
	reg := NewMemoryRegistry()
	_, err := reg.Report(context.Background(), "  ", "x")
	assert.ErrorIs(t, err, ErrInvalidAddress)

	_, err = reg.Report(context.Background(), "mid1a", strings.Repeat("x", MaxReasonLength+1))
	assert.ErrorIs(t, err, ErrInvalidReason)
}
