package payment

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupWalletRouter(t *testing.T) (*gin.Engine, *Simulator) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	sim := newTestSimulator(t)
	r := gin.New()
	NewWalletHandler(sim).RegisterRoutes(r)
	return r, sim
}

func doRequest(r http.Handler, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)
	var resp map[string]any
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	return w, resp
}

func TestWalletHandler_Lifecycle(t *testing.T) {
	r, _ := setupWalletRouter(t)

	w, resp := doRequest(r, "POST", "/create-wallet", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "success", resp["status"])
	session := resp["walletId"].(string)
	assert.True(t, strings.HasPrefix(resp["address"].(string), AddressPrefix))

	w, resp = doRequest(r, "GET", "/get-balance?walletId="+session, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1000), resp["balance"])

	w, _ = doRequest(r, "POST", "/close-wallet", `{"walletId":"`+session+`"}`)
	require.Equal(t, http.StatusOK, w.Code)

	w, resp = doRequest(r, "GET", "/get-balance?walletId="+session, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "invalid_session", resp["error"])
}

func TestWalletHandler_ConnectSeed(t *testing.T) {
	r, _ := setupWalletRouter(t)

	_, first := doRequest(r, "POST", "/connect-wallet-seed", `{"seed":"alpha beta"}`)
	_, second := doRequest(r, "POST", "/connect-wallet-seed", `{"seed":"alpha beta"}`)
	assert.Equal(t, first["address"], second["address"])
	assert.NotEqual(t, first["walletId"], second["walletId"])

	w, resp := doRequest(r, "POST", "/connect-wallet-seed", `{"seed":"  "}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "error", resp["status"])
}

func TestWalletHandler_SessionHeader(t *testing.T) {
	r, _ := setupWalletRouter(t)
	_, resp := doRequest(r, "POST", "/create-wallet", "")

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/get-balance", nil)
	req.Header.Set(SessionHeader, resp["walletId"].(string))
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}
