package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"mt5-trading-bot/internal/events"
	"mt5-trading-bot/internal/mt5"
	"mt5-trading-bot/internal/state"
	"mt5-trading-bot/internal/stats"
)

func newTestServer(t *testing.T) (*Server, *mt5.MockClient, *state.Store, *state.GlobalState) {
	t.Helper()
	client := mt5.NewMockClient()
	store := state.NewStore()
	store.Register("EURUSD", 0.10, 10.0, 5.0)
	global := state.NewGlobalState(false)
	bus := events.NewEventBus()

	srv := NewServer(ServerConfig{Host: "127.0.0.1", Port: 0, ProductionMode: true}, Deps{
		Client:  client,
		Store:   store,
		Global:  global,
		Tracker: stats.NewTracker(bus, zerolog.Nop()),
		Bus:     bus,
	}, zerolog.Nop())
	return srv, client, store, global
}

func doRequest(srv *Server, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	srv.router.ServeHTTP(w, req)
	return w
}

func TestStatusEndpoint(t *testing.T) {
	srv, _, _, _ := newTestServer(t)

	w := doRequest(srv, http.MethodGet, "/api/v1/status", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status code = %d, want 200", w.Code)
	}

	var resp struct {
		Success bool `json:"success"`
		Data    struct {
			Running      bool     `json:"running"`
			Conservative bool     `json:"conservative"`
			Symbols      []string `json:"symbols"`
		} `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if !resp.Success || !resp.Data.Running || resp.Data.Conservative {
		t.Fatalf("unexpected status payload: %+v", resp.Data)
	}
	if len(resp.Data.Symbols) != 1 || resp.Data.Symbols[0] != "EURUSD" {
		t.Fatalf("symbols = %v, want [EURUSD]", resp.Data.Symbols)
	}
}

func TestConservativeToggle(t *testing.T) {
	srv, _, _, global := newTestServer(t)

	w := doRequest(srv, http.MethodPost, "/api/v1/conservative", `{"enabled":true}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status code = %d, want 200", w.Code)
	}
	if !global.Conservative() {
		t.Fatal("conservative mode not enabled")
	}

	w = doRequest(srv, http.MethodPost, "/api/v1/conservative", `not json`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status code = %d, want 400 for bad body", w.Code)
	}
}

func TestRestrictUnrestrict(t *testing.T) {
	srv, _, store, _ := newTestServer(t)

	w := doRequest(srv, http.MethodPost, "/api/v1/restrict/EURUSD", "")
	if w.Code != http.StatusOK {
		t.Fatalf("restrict status = %d, want 200", w.Code)
	}
	if restricted, _ := store.Restriction("EURUSD"); !restricted {
		t.Fatal("symbol not restricted")
	}

	w = doRequest(srv, http.MethodPost, "/api/v1/unrestrict/EURUSD", "")
	if w.Code != http.StatusOK {
		t.Fatalf("unrestrict status = %d, want 200", w.Code)
	}
	if restricted, _ := store.Restriction("EURUSD"); restricted {
		t.Fatal("symbol still restricted")
	}

	w = doRequest(srv, http.MethodPost, "/api/v1/restrict/UNKNOWN", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("unknown symbol status = %d, want 404", w.Code)
	}
}

func TestPositionsEndpoint(t *testing.T) {
	srv, client, _, _ := newTestServer(t)
	client.AddPosition(mt5.Position{Symbol: "EURUSD", Side: mt5.Buy, Volume: 0.10, OpenTime: time.Now()})

	w := doRequest(srv, http.MethodGet, "/api/v1/positions", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status code = %d, want 200", w.Code)
	}

	var resp struct {
		Data []mt5.Position `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if len(resp.Data) != 1 || resp.Data[0].Symbol != "EURUSD" {
		t.Fatalf("positions = %+v, want one EURUSD position", resp.Data)
	}
}

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter(3, time.Minute)
	for i := 0; i < 3; i++ {
		if !rl.Allow("/x") {
			t.Fatalf("request %d unexpectedly limited", i)
		}
	}
	if rl.Allow("/x") {
		t.Fatal("request over the limit was allowed")
	}
	if !rl.Allow("/y") {
		t.Fatal("limit leaked across keys")
	}
}
