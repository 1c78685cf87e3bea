package risk

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mbd888/safepay/internal/logging"
	"github.com/mbd888/safepay/internal/validation"
)

// Handler provides HTTP endpoints for address reporting and payment screening.
type Handler struct {
	registry Registry
	policy   *Policy
}

// NewHandler creates a new risk handler.
func NewHandler(registry Registry, policy *Policy) *Handler {
	return &Handler{registry: registry, policy: policy}
}

// RegisterRoutes sets up reporting and screening routes.
func (h *Handler) RegisterRoutes(r gin.IRoutes) {
	r.POST("/report-address", h.ReportAddress)
	r.GET("/reported-addresses/:address", h.GetReports)
	r.GET("/screen-payment", h.ScreenPayment)
}

// ReportAddressRequest is the body of POST /report-address.
type ReportAddressRequest struct {
	Address string `json:"address"`
	Reason  string `json:"reason"`
}

// ReportAddress handles POST /report-address
func (h *Handler) ReportAddress(c *gin.Context) {
	var req ReportAddressRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "error": "invalid_request", "message": "Invalid request body"})
		return
	}
	if errs := validation.Validate(
		validation.Required("address", req.Address),
		validation.ValidAddress("address", req.Address),
		validation.MaxLength("reason", req.Reason, MaxReasonLength),
	); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "error": "validation_error", "message": errs.Error(), "details": errs})
		return
	}

	rep, err := h.registry.Report(c.Request.Context(), req.Address, validation.SanitizeString(req.Reason, MaxReasonLength))
	if err != nil {
		if errors.Is(err, ErrInvalidAddress) || errors.Is(err, ErrInvalidReason) {
			c.JSON(http.StatusBadRequest, gin.H{"status": "error", "error": "validation_error", "message": err.Error()})
			return
		}
		logging.L(c.Request.Context()).Error("failed to record address report", "address", req.Address, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "error": "internal_error", "message": "Failed to record report"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"status":  "success",
		"message": "Address reported successfully",
		"report":  rep,
	})
}

// GetReports handles GET /reported-addresses/:address
func (h *Handler) GetReports(c *gin.Context) {
	address := c.Param("address")
	reports, err := h.registry.ListReports(c.Request.Context(), address)
	if err != nil {
		logging.L(c.Request.Context()).Error("failed to list address reports", "address", address, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "error": "internal_error", "message": "Failed to list reports"})
		return
	}
	if reports == nil {
		reports = []*Report{}
	}
	c.JSON(http.StatusOK, gin.H{
		"status":   "success",
		"address":  address,
		"reported": len(reports) > 0,
		"reports":  reports,
		"count":    len(reports),
	})
}

// ScreenPayment handles GET /screen-payment?destination=&amount=
func (h *Handler) ScreenPayment(c *gin.Context) {
	destination := c.Query("destination")
	if errs := validation.Validate(
		validation.Required("destination", destination),
		validation.ValidAddress("destination", destination),
		validation.ValidAmount("amount", c.Query("amount")),
	); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "error": "validation_error", "message": errs.Error(), "details": errs})
		return
	}
	amount, _ := validation.ParseAmount(c.Query("amount"))

	a, err := h.policy.Screen(c.Request.Context(), destination, amount)
	if err != nil {
		logging.L(c.Request.Context()).Error("risk screening failed", "destination", destination, "error", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "error", "error": "screening_unavailable", "message": "Risk screening is temporarily unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "assessment": a})
}
