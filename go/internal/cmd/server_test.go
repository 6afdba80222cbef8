package main

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcdev12/auctionhouse/go/internal/auction"
	"github.com/mcdev12/auctionhouse/go/internal/config"
	"github.com/mcdev12/auctionhouse/go/internal/models"
	"github.com/mcdev12/auctionhouse/go/internal/settlement"
)

func newTestServer(t *testing.T, secret string) *httptest.Server {
	t.Helper()
	cfg := config.Server{
		TokenSecret:      secret,
		TokenTTL:         time.Hour,
		MessagingBackend: config.BackendMemory,
		CatalogSource:    config.CatalogFile,
	}
	services, err := setupServices(context.Background(), cfg, clockwork.NewRealClock())
	require.NoError(t, err)

	server := httptest.NewServer(setupServer("0", services).Handler)
	t.Cleanup(func() {
		server.Close()
		services.Gateway.Stop()
		services.Close()
	})
	return server
}

func TestHealth(t *testing.T) {
	server := newTestServer(t, "secret")

	resp, err := http.Get(server.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "OK", string(body))
}

func TestRoutesAreWired(t *testing.T) {
	server := newTestServer(t, "secret")

	resp, err := http.Get(server.URL + "/api/products")
	require.NoError(t, err)
	defer resp.Body.Close()
	var products []models.Product
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&products))
	assert.Len(t, products, 3)

	resp, err = http.Post(server.URL+"/api/get-stream-token", "application/json",
		strings.NewReader(`{"userId":"user-42","userName":"Jane Smith"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	client := settlement.NewClient(server.Client(), server.URL)
	result, err := client.FinalizeAuction(context.Background(), auction.FinalizeRequest{ProductID: "2", Winner: "user-42", Amount: 26000})
	require.NoError(t, err)
	assert.Equal(t, "user-42", result.Winner)

	resp, err = http.Get(server.URL + "/ws/stats")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestMissingSecretFailsTokenRequests(t *testing.T) {
	server := newTestServer(t, "")

	resp, err := http.Post(server.URL+"/api/get-stream-token", "application/json",
		strings.NewReader(`{"userId":"user-42","userName":"Jane Smith"}`))
	require.NoError(t, err)
	defer resp.Body.Close()

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, "Server configuration error", body["error"])
}

func TestCORSPreflight(t *testing.T) {
	server := newTestServer(t, "secret")

	req, err := http.NewRequest(http.MethodOptions, server.URL+"/api/finalize-auction", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}
