package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestHTTPClient_Call(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("failed to decode body: %v", err)
			return
		}
		if req["jsonrpc"] != "2.0" {
			t.Errorf("expected jsonrpc 2.0, got %v", req["jsonrpc"])
		}
		if req["method"] != "sui_getCheckpoint" {
			t.Errorf("unexpected method %v", req["method"])
		}
		params, _ := req["params"].([]any)
		if len(params) != 1 || params[0] != "12" {
			t.Errorf("unexpected params %v", req["params"])
		}
		json.NewEncoder(w).Encode(map[string]any{
			"jsonrpc": "2.0",
			"id":      req["id"],
			"result":  map[string]any{"sequenceNumber": "12"},
		})
	}))
	defer server.Close()

	c := NewHTTPClient(server.URL, 5*time.Second)
	var out struct {
		SequenceNumber string `json:"sequenceNumber"`
	}
	if err := c.Call(context.Background(), "sui_getCheckpoint", &out, "12"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.SequenceNumber != "12" {
		t.Errorf("got %q", out.SequenceNumber)
	}
	if h := c.Health(); h.SuccessCount != 1 || !h.Available {
		t.Errorf("unexpected health %+v", h)
	}
}

func TestHTTPClient_RPCError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"jsonrpc":"2.0","id":1,"error":{"code":-32602,"message":"invalid params"}}`))
	}))
	defer server.Close()

	err := NewHTTPClient(server.URL, time.Second).Call(context.Background(), "sui_getCheckpoint", nil)
	var rpcErr *Error
	if !errors.As(err, &rpcErr) {
		t.Fatalf("expected *Error, got %v", err)
	}
	if rpcErr.Code != -32602 {
		t.Errorf("unexpected code %d", rpcErr.Code)
	}
}

func TestHTTPClient_RateLimited(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"status 429", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
		}},
		{"throttle message", func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"jsonrpc":"2.0","id":1,"error":{"code":-32000,"message":"Rate limit exceeded"}}`))
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(tt.handler)
			defer server.Close()

			err := NewHTTPClient(server.URL, time.Second).Call(context.Background(), "sui_getLatestCheckpointSequenceNumber", nil)
			if !errors.Is(err, ErrRateLimited) {
				t.Fatalf("expected ErrRateLimited, got %v", err)
			}
		})
	}
}
