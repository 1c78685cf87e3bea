package escrow

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mbd888/safepay/internal/logging"
	"github.com/mbd888/safepay/internal/payment"
	"github.com/mbd888/safepay/internal/validation"
)

// Handler provides HTTP endpoints for escrow operations.
type Handler struct {
	service *Service
}

// NewHandler creates a new escrow handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up escrow routes.
func (h *Handler) RegisterRoutes(r gin.IRoutes) {
	r.POST("/create-escrow", h.CreateEscrow)
	r.GET("/get-escrows", h.ListEscrows)
	r.GET("/get-pending-escrows", h.ListPendingEscrows)
	r.GET("/escrow/:id", h.GetEscrow)
	r.POST("/approve-escrow", h.ApproveEscrow)
	r.POST("/release-escrow", h.ReleaseEscrow)
	r.POST("/raise-dispute", h.RaiseDispute)
	r.POST("/resolve-dispute", h.ResolveDispute)
	r.POST("/cancel-escrow", h.CancelEscrow)
}

// CreateEscrowRequest is the body of POST /create-escrow. Amount accepts a
// JSON number or a decimal string of base units.
type CreateEscrowRequest struct {
	WalletID        string      `json:"walletId"`
	ReceiverAddress string      `json:"receiverAddress"`
	Amount          json.Number `json:"amount"`
	Memo            string      `json:"memo"`
	ArbiterAddress  string      `json:"arbiterAddress"`
}

// EscrowActionRequest is the body shared by the single-escrow transitions.
type EscrowActionRequest struct {
	WalletID       string `json:"walletId"`
	EscrowID       string `json:"escrowId"`
	Role           string `json:"role,omitempty"`
	DeservingParty string `json:"deservingParty,omitempty"`
}

// CreateEscrow handles POST /create-escrow
func (h *Handler) CreateEscrow(c *gin.Context) {
	var req CreateEscrowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid_request", "Invalid request body")
		return
	}

	if errs := validation.Validate(
		validation.Required("receiverAddress", req.ReceiverAddress),
		validation.ValidAddress("receiverAddress", req.ReceiverAddress),
		validation.ValidAddress("arbiterAddress", req.ArbiterAddress),
		validation.ValidAmount("amount", req.Amount.String()),
		validation.MaxLength("memo", req.Memo, validation.MaxMemoLength),
	); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "error": "validation_error", "message": errs.Error(), "details": errs})
		return
	}
	amount, _ := validation.ParseAmount(req.Amount.String())

	res, err := h.service.Create(c.Request.Context(), payment.SessionFromRequest(c, req.WalletID), CreateRequest{
		Seller:  req.ReceiverAddress,
		Arbiter: req.ArbiterAddress,
		Amount:  amount,
		Memo:    validation.SanitizeString(req.Memo, validation.MaxMemoLength),
	})
	if err != nil {
		h.writeError(c, "create", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":          "success",
		"escrowId":        res.Escrow.ID,
		"contractAddress": res.Escrow.ContractAddress,
		"transactionHash": res.Receipt.TxHash,
		"escrow":          res.Escrow,
		"message":         "Escrow created successfully",
	})
}

// ListEscrows handles GET /get-escrows?walletId=&role=
func (h *Handler) ListEscrows(c *gin.Context) {
	role, err := ParseRole(c.Query("role"))
	if err != nil {
		badRequest(c, "validation_error", "Valid role is required (buyer, seller, or arbiter)")
		return
	}

	escrows, err := h.service.ListByRole(c.Request.Context(), payment.SessionFromRequest(c, ""), role)
	if err != nil {
		h.writeError(c, "list", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "escrows": escrows, "count": len(escrows)})
}

// ListPendingEscrows handles GET /get-pending-escrows?walletId=
func (h *Handler) ListPendingEscrows(c *gin.Context) {
	escrows, err := h.service.ListPending(c.Request.Context(), payment.SessionFromRequest(c, ""))
	if err != nil {
		h.writeError(c, "list_pending", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "escrows": escrows, "count": len(escrows)})
}

// GetEscrow handles GET /escrow/:id
func (h *Handler) GetEscrow(c *gin.Context) {
	escrow, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, "get", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "escrow": escrow, "state": escrow.State()})
}

// ApproveEscrow handles POST /approve-escrow
func (h *Handler) ApproveEscrow(c *gin.Context) {
	req, ok := bindAction(c)
	if !ok {
		return
	}
	role, err := ParseRole(req.Role)
	if err != nil || role == RoleArbiter {
		badRequest(c, "validation_error", "Valid role is required (buyer or seller)")
		return
	}

	res, err := h.service.Approve(c.Request.Context(), req.EscrowID, role, payment.SessionFromRequest(c, req.WalletID))
	if err != nil {
		h.writeError(c, "approve", err)
		return
	}
	writeResult(c, res, "Escrow approved by "+string(role))
}

// ReleaseEscrow handles POST /release-escrow
func (h *Handler) ReleaseEscrow(c *gin.Context) {
	req, ok := bindAction(c)
	if !ok {
		return
	}
	res, err := h.service.Release(c.Request.Context(), req.EscrowID, payment.SessionFromRequest(c, req.WalletID))
	if err != nil {
		h.writeError(c, "release", err)
		return
	}
	writeResult(c, res, "Funds released to seller")
}

// RaiseDispute handles POST /raise-dispute
func (h *Handler) RaiseDispute(c *gin.Context) {
	req, ok := bindAction(c)
	if !ok {
		return
	}
	res, err := h.service.RaiseDispute(c.Request.Context(), req.EscrowID, payment.SessionFromRequest(c, req.WalletID))
	if err != nil {
		h.writeError(c, "dispute", err)
		return
	}
	writeResult(c, res, "Dispute raised. The arbiter will review the escrow")
}

// ResolveDispute handles POST /resolve-dispute
func (h *Handler) ResolveDispute(c *gin.Context) {
	req, ok := bindAction(c)
	if !ok {
		return
	}
	winner, err := ParseRole(req.DeservingParty)
	if err != nil || winner == RoleArbiter {
		badRequest(c, "validation_error", "deservingParty must be buyer or seller")
		return
	}

	res, err := h.service.ResolveDispute(c.Request.Context(), req.EscrowID, payment.SessionFromRequest(c, req.WalletID), winner)
	if err != nil {
		h.writeError(c, "resolve", err)
		return
	}
	writeResult(c, res, "Dispute resolved in favor of "+string(winner))
}

// CancelEscrow handles POST /cancel-escrow
func (h *Handler) CancelEscrow(c *gin.Context) {
	req, ok := bindAction(c)
	if !ok {
		return
	}
	res, err := h.service.Cancel(c.Request.Context(), req.EscrowID, payment.SessionFromRequest(c, req.WalletID))
	if err != nil {
		h.writeError(c, "cancel", err)
		return
	}
	writeResult(c, res, "Escrow cancelled and funds returned to buyer")
}

func bindAction(c *gin.Context) (*EscrowActionRequest, bool) {
	var req EscrowActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid_request", "Invalid request body")
		return nil, false
	}
	if req.EscrowID == "" {
		badRequest(c, "validation_error", "Escrow ID is required")
		return nil, false
	}
	return &req, true
}

func writeResult(c *gin.Context, res *Result, message string) {
	c.JSON(http.StatusOK, gin.H{
		"status":          "success",
		"escrowId":        res.Escrow.ID,
		"transactionHash": res.Receipt.TxHash,
		"escrow":          res.Escrow,
		"message":         message,
	})
}

func badRequest(c *gin.Context, code, message string) {
	c.JSON(http.StatusBadRequest, gin.H{"status": "error", "error": code, "message": message})
}

// writeError maps service errors onto HTTP statuses.
func (h *Handler) writeError(c *gin.Context, op string, err error) {
	status := http.StatusInternalServerError
	code := "internal_error"
	message := err.Error()
	switch {
	case IsValidation(err):
		status, code = http.StatusBadRequest, "validation_error"
	case errors.Is(err, payment.ErrSessionInvalid):
		status, code = http.StatusUnauthorized, "invalid_session"
		message = "Invalid wallet ID"
	case errors.Is(err, ErrEscrowNotFound):
		status, code = http.StatusNotFound, "not_found"
		message = "Escrow not found"
	case errors.Is(err, ErrForbidden):
		status, code = http.StatusForbidden, "forbidden"
	case IsStateConflict(err):
		status, code = http.StatusBadRequest, "invalid_state"
	case errors.Is(err, ErrProvider):
		status, code = http.StatusBadGateway, "provider_error"
		if payment.IsClientError(err) {
			status = http.StatusBadRequest
		}
	default:
		logging.L(c.Request.Context()).Error("escrow operation failed", "operation", op, "error", err)
		message = "Escrow operation failed"
	}
	c.JSON(status, gin.H{"status": "error", "error": code, "message": message})
}
