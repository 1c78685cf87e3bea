package gateway

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/mbd888/safepay/internal/logging"
	"github.com/mbd888/safepay/internal/payment"
	"github.com/mbd888/safepay/internal/validation"
)

// Handler provides HTTP endpoints for direct payments.
type Handler struct {
	service *Service
}

// NewHandler creates a new gateway handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up payment routes.
func (h *Handler) RegisterRoutes(r gin.IRoutes) {
	r.POST("/send-transaction", h.SendTransaction)
	r.GET("/payments", h.ListPayments)
}

// SendTransactionRequest is the body of POST /send-transaction.
type SendTransactionRequest struct {
	WalletID        string      `json:"walletId"`
	ReceiverAddress string      `json:"receiverAddress"`
	Amount          json.Number `json:"amount"`
	BypassWarning   bool        `json:"bypassWarning"`
}

// SendTransaction handles POST /send-transaction
func (h *Handler) SendTransaction(c *gin.Context) {
	var req SendTransactionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "error": "invalid_request", "message": "Invalid request body"})
		return
	}
	if errs := validation.Validate(
		validation.Required("receiverAddress", req.ReceiverAddress),
		validation.ValidAddress("receiverAddress", req.ReceiverAddress),
		validation.ValidAmount("amount", req.Amount.String()),
	); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "error": "validation_error", "message": errs.Error(), "details": errs})
		return
	}
	amount, _ := validation.ParseAmount(req.Amount.String())

	res, err := h.service.Submit(c.Request.Context(), SubmitRequest{
		Session:     payment.SessionFromRequest(c, req.WalletID),
		Destination: req.ReceiverAddress,
		Amount:      amount,
		Bypass:      req.BypassWarning,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}

	if res.Warned() {
		c.JSON(http.StatusConflict, gin.H{
			"status":               "warning",
			"message":              res.Assessment.Message,
			"requiresConfirmation": true,
			"assessment":           res.Assessment,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":          "success",
		"transactionHash": res.Receipt.TxHash,
		"outcome":         res.Outcome,
		"payment":         res.Payment,
		"message":         "Transaction submitted successfully",
	})
}

// ListPayments handles GET /payments?walletId=&limit=
func (h *Handler) ListPayments(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))

	payments, err := h.service.ListSent(c.Request.Context(), payment.SessionFromRequest(c, ""), limit)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "payments": payments, "count": len(payments)})
}

func (h *Handler) writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	code := "internal_error"
	message := err.Error()
	switch {
	case errors.Is(err, ErrInvalidAmount), errors.Is(err, ErrInvalidDestination):
		status, code = http.StatusBadRequest, "validation_error"
	case errors.Is(err, payment.ErrSessionInvalid):
		status, code = http.StatusUnauthorized, "invalid_session"
		message = "Invalid wallet ID"
	case errors.Is(err, ErrScreening):
		status, code = http.StatusServiceUnavailable, "screening_unavailable"
		message = "Risk screening is temporarily unavailable"
		logging.L(c.Request.Context()).Error("payment screening failed", "error", err)
	case errors.Is(err, ErrProvider):
		status, code = http.StatusBadGateway, "provider_error"
		if payment.IsClientError(err) {
			status = http.StatusBadRequest
		} else {
			logging.L(c.Request.Context()).Warn("payment provider failure", "error", err)
		}
	default:
		logging.L(c.Request.Context()).Error("payment operation failed", "error", err)
		message = "Payment failed"
	}
	c.JSON(status, gin.H{"status": "error", "error": code, "message": message})
}
