package payment

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/mbd888/safepay/internal/logging"
)

// SessionHeader carries the wallet session for clients that prefer not to
// put it in the body or query string.
const SessionHeader = "X-Wallet-ID"

// SessionFromRequest returns the wallet session for a request: fromBody when
// set, otherwise the walletId query parameter, otherwise SessionHeader.
func SessionFromRequest(c *gin.Context, fromBody string) string {
	if s := strings.TrimSpace(fromBody); s != "" {
		return s
	}
	if s := strings.TrimSpace(c.Query("walletId")); s != "" {
		return s
	}
	return strings.TrimSpace(c.GetHeader(SessionHeader))
}

// Wallets manages provider-side wallet sessions.
type Wallets interface {
	CreateWallet(ctx context.Context) (session, address string, err error)
	ConnectSeed(ctx context.Context, seed string) (session, address string, err error)
	Balance(ctx context.Context, session string) (int64, error)
	CloseWallet(ctx context.Context, session string) error
}

// WalletHandler provides HTTP endpoints for wallet sessions.
type WalletHandler struct {
	wallets Wallets
}

// NewWalletHandler creates a new wallet handler.
func NewWalletHandler(wallets Wallets) *WalletHandler {
	return &WalletHandler{wallets: wallets}
}

// RegisterRoutes sets up wallet session routes.
func (h *WalletHandler) RegisterRoutes(r gin.IRoutes) {
	r.POST("/create-wallet", h.CreateWallet)
	r.POST("/connect-wallet-seed", h.ConnectSeed)
	r.GET("/get-balance", h.GetBalance)
	r.POST("/close-wallet", h.CloseWallet)
}

// CreateWallet handles POST /create-wallet
func (h *WalletHandler) CreateWallet(c *gin.Context) {
	session, addr, err := h.wallets.CreateWallet(c.Request.Context())
	if err != nil {
		h.writeError(c, "create wallet", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":   "success",
		"walletId": session,
		"address":  addr,
		"message":  "Wallet created successfully",
	})
}

// ConnectSeed handles POST /connect-wallet-seed
func (h *WalletHandler) ConnectSeed(c *gin.Context) {
	var req struct {
		Seed string `json:"seed"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Seed) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "error": "validation_error", "message": "Seed is required"})
		return
	}

	session, addr, err := h.wallets.ConnectSeed(c.Request.Context(), req.Seed)
	if err != nil {
		h.writeError(c, "connect wallet", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":   "success",
		"walletId": session,
		"address":  addr,
		"message":  "Wallet connected successfully",
	})
}

// GetBalance handles GET /get-balance?walletId=
func (h *WalletHandler) GetBalance(c *gin.Context) {
	balance, err := h.wallets.Balance(c.Request.Context(), SessionFromRequest(c, ""))
	if err != nil {
		h.writeError(c, "get balance", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "balance": balance})
}

// CloseWallet handles POST /close-wallet
func (h *WalletHandler) CloseWallet(c *gin.Context) {
	var req struct {
		WalletID string `json:"walletId"`
	}
	_ = c.ShouldBindJSON(&req)

	if err := h.wallets.CloseWallet(c.Request.Context(), SessionFromRequest(c, req.WalletID)); err != nil {
		h.writeError(c, "close wallet", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "message": "Wallet closed successfully"})
}

func (h *WalletHandler) writeError(c *gin.Context, op string, err error) {
	switch {
	case errors.Is(err, ErrSessionInvalid):
		c.JSON(http.StatusUnauthorized, gin.H{"status": "error", "error": "invalid_session", "message": "Invalid wallet ID"})
	case IsClientError(err):
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "error": "validation_error", "message": err.Error()})
	default:
		logging.L(c.Request.Context()).Error("wallet operation failed", "operation", op, "error", err)
		c.JSON(http.StatusBadGateway, gin.H{"status": "error", "error": "provider_error", "message": "Wallet provider unavailable"})
	}
}

var _ Wallets = (*Simulator)(nil)
