package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientSendsTokenAndDecodes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer s3cret" {
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "Unauthorized"})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "stopped"})
	}))
	defer srv.Close()

	c := &apiClient{base: srv.URL, token: "s3cret", http: srv.Client()}
	var out struct {
		Status string `json:"status"`
	}
	require.NoError(t, c.do(context.Background(), http.MethodGet, "/api/bot/status", nil, &out))
	assert.Equal(t, "stopped", out.Status)

	c.token = "wrong"
	err := c.do(context.Background(), http.MethodGet, "/api/bot/status", nil, &out)
	var ae *apiError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, http.StatusUnauthorized, ae.Status)
	assert.Equal(t, "Unauthorized", ae.Message)
}

func TestNewClientAddsScheme(t *testing.T) {
	apiAddr, apiToken = "127.0.0.1:8787/", ""
	assert.Equal(t, "http://127.0.0.1:8787", newClient().base)
	apiAddr = "https://agent.example"
	assert.Equal(t, "https://agent.example", newClient().base)
}
