package escrow

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestService_SpansCarryRole(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec)))
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	f := newFixture(t)
	ctx := context.Background()
	e := f.create(t, 100, true)

	_, err := f.svc.Approve(ctx, e.ID, RoleSeller, f.seller.session)
	require.NoError(t, err)
	_, err = f.svc.RaiseDispute(ctx, e.ID, f.buyer.session)
	require.NoError(t, err)
	_, err = f.svc.ResolveDispute(ctx, e.ID, f.arbiter.session, RoleBuyer)
	require.NoError(t, err)

	roles := map[string]string{}
	for _, s := range rec.Ended() {
		for _, kv := range s.Attributes() {
			if kv.Key == attribute.Key("escrow.role") {
				roles[s.Name()] = kv.Value.AsString()
			}
		}
	}
	assert.Equal(t, map[string]string{
		"escrow.approve": "seller",
		"escrow.resolve": "buyer",
	}, roles)
}
