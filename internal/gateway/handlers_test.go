package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRouter(t *testing.T) (*gin.Engine, *gatewayFixture) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	f := newGatewayFixture(t)
	r := gin.New()
	NewHandler(f.svc).RegisterRoutes(r)
	return r, f
}

func doJSON(r http.Handler, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)
	var resp map[string]any
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	return w, resp
}

func sendBody(wallet, to, amount string, bypass bool) string {
	b, _ := json.Marshal(map[string]any{
		"walletId": wallet, "receiverAddress": to, "amount": amount, "bypassWarning": bypass,
	})
	return string(b)
}

func TestHandler_SendTransaction(t *testing.T) {
	r, f := setupTestRouter(t)

	w, resp := doJSON(r, "POST", "/send-transaction", sendBody(f.sender, f.to, "25", false))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "success", resp["status"])
	assert.NotEmpty(t, resp["transactionHash"])
	assert.Equal(t, "Transaction submitted successfully", resp["message"])
}

func TestHandler_SendTransactionWarning(t *testing.T) {
	r, f := setupTestRouter(t)
	_, err := f.registry.Report(context.Background(), f.to, "phishing")
	require.NoError(t, err)

	w, resp := doJSON(r, "POST", "/send-transaction", sendBody(f.sender, f.to, "25", false))
	require.Equal(t, http.StatusConflict, w.Code, w.Body.String())
	assert.Equal(t, "warning", resp["status"])
	assert.Equal(t, true, resp["requiresConfirmation"])
	assert.Contains(t, resp["message"], "reported for suspicious activity")
	assert.Equal(t, int32(0), f.provider.transfers.Load())

	w, resp = doJSON(r, "POST", "/send-transaction", sendBody(f.sender, f.to, "25", true))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, string(OutcomeBypassed), resp["outcome"])
	assert.Equal(t, int32(1), f.provider.transfers.Load())
}

func TestHandler_SendTransactionErrors(t *testing.T) {
	r, f := setupTestRouter(t)

	tests := []struct {
		name   string
		body   string
		status int
	}{
		{"missing receiver", sendBody(f.sender, "", "5", false), http.StatusBadRequest},
		{"negative amount", sendBody(f.sender, f.to, "-5", false), http.StatusBadRequest},
		{"non numeric amount", sendBody(f.sender, f.to, "ten", false), http.StatusBadRequest},
		{"unknown wallet", sendBody("wal_gone", f.to, "5", false), http.StatusUnauthorized},
		{"at ceiling", sendBody(f.sender, f.to, "100", false), http.StatusOK},
		{"overdrawn", sendBody(f.sender, f.to, "99999", true), http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, _ := doJSON(r, "POST", "/send-transaction", tt.body)
			assert.Equal(t, tt.status, w.Code, w.Body.String())
		})
	}
}

func TestHandler_ListPayments(t *testing.T) {
	r, f := setupTestRouter(t)
	doJSON(r, "POST", "/send-transaction", sendBody(f.sender, f.to, "5", false))
	doJSON(r, "POST", "/send-transaction", sendBody(f.sender, f.to, "6", false))

	w, resp := doJSON(r, "GET", "/payments?walletId="+f.sender, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(2), resp["count"])

	w, _ = doJSON(r, "GET", "/payments", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
