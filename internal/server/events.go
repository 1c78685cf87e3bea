package server

import (
	"github.com/mbd888/safepay/internal/escrow"
	"github.com/mbd888/safepay/internal/gateway"
	"github.com/mbd888/safepay/internal/payment"
	"github.com/mbd888/safepay/internal/realtime"
)

// escrowEventEmitter adapts realtime.Hub to escrow.EventEmitter
type escrowEventEmitter struct {
	hub *realtime.Hub
}

func (e *escrowEventEmitter) EmitEscrowEvent(eventType string, esc *escrow.Escrow, receipt *payment.Receipt) {
	if e.hub == nil || esc == nil {
		return
	}
	data := map[string]any{
		"escrow": esc,
		"state":  esc.State(),
	}
	if receipt != nil {
		data["receipt"] = receipt
	}
	addrs := []string{esc.Buyer, esc.Seller}
	if esc.HasArbiter() {
		addrs = append(addrs, esc.Arbiter)
	}
	e.hub.Publish(eventType, data, esc.Amount, addrs...)
}

// paymentEventEmitter adapts realtime.Hub to gateway.EventEmitter
type paymentEventEmitter struct {
	hub *realtime.Hub
}

func (e *paymentEventEmitter) EmitPaymentEvent(eventType, from string, r *gateway.SubmitResult) {
	if e.hub == nil || r == nil {
		return
	}
	if r.Payment != nil {
		e.hub.Publish(eventType, r.Payment, r.Payment.Amount, r.Payment.From, r.Payment.To)
		return
	}
	// Warnings carry no payment; the assessment names the destination.
	if a := r.Assessment; a != nil {
		e.hub.Publish(eventType, map[string]any{
			"from":       from,
			"assessment": a,
		}, a.Amount, from, a.Destination)
	}
}
