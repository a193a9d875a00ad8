package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"server-backend/armyengine"
	"server-backend/auth"
	"server-backend/buildingengine"
	"server-backend/eventbus"
	"server-backend/gateway"
	"server-backend/goldengine"
	"server-backend/marketengine"
	"server-backend/ratelimit"
	"server-backend/resourceengine"
	"server-backend/storetest"
	"server-backend/trainingengine"
)

func newTestServer(t *testing.T) (*httptest.Server, *storetest.Memory, *auth.JWTManager) {
	t.Helper()
	s := storetest.New()
	bus := eventbus.New()
	logger := zap.NewNop()

	resources := resourceengine.New(s, nil, logger)
	buildings := buildingengine.New(s, resources, bus, logger)
	training := trainingengine.New(s, bus, logger)
	army := armyengine.New(s, bus, logger)
	market := marketengine.New(s, bus, ratelimit.New(1000, time.Minute), logger)
	gold := goldengine.New(s, buildings, training, bus, ratelimit.New(1000, time.Minute), "whsec_test", logger)
	jwtManager := auth.NewJWTManager("test-secret", time.Hour, "test-issuer")
	gw := gateway.New(bus, jwtManager, nil, logger)

	srv := New(s, resources, buildings, training, army, market, gold, gw, jwtManager, logger)
	return httptest.NewServer(srv.Router()), s, jwtManager
}

func postJSON(t *testing.T, srv *httptest.Server, path, token string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	req, err := http.NewRequest(http.MethodPost, srv.URL+path, bytes.NewReader(data))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	return resp
}

func TestRegisterThenLoginRoundTrip(t *testing.T) {
	srv, _, _ := newTestServer(t)
	defer srv.Close()

	resp := postJSON(t, srv, "/api/auth/register", "", registerRequest{Username: "alice", Password: "hunter22", Email: "alice@example.com"})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("register status = %d, want 201", resp.StatusCode)
	}
	var registered authResponse
	if err := json.NewDecoder(resp.Body).Decode(&registered); err != nil {
		t.Fatalf("decode register response: %v", err)
	}
	if registered.Token == "" || registered.User.Username != "alice" {
		t.Fatalf("unexpected register response: %+v", registered)
	}

	loginResp := postJSON(t, srv, "/api/auth/login", "", loginRequest{Username: "alice", Password: "hunter22"})
	defer loginResp.Body.Close()
	if loginResp.StatusCode != http.StatusOK {
		t.Fatalf("login status = %d, want 200", loginResp.StatusCode)
	}
}

func TestLoginRejectsWrongPassword(t *testing.T) {
	srv, _, _ := newTestServer(t)
	defer srv.Close()

	resp := postJSON(t, srv, "/api/auth/register", "", registerRequest{Username: "bob", Password: "correct-password", Email: "bob@example.com"})
	resp.Body.Close()

	loginResp := postJSON(t, srv, "/api/auth/login", "", loginRequest{Username: "bob", Password: "wrong-password"})
	defer loginResp.Body.Close()
	if loginResp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", loginResp.StatusCode)
	}
}

func TestAuthenticatedRouteRejectsMissingToken(t *testing.T) {
	srv, _, _ := newTestServer(t)
	defer srv.Close()

	resp := postJSON(t, srv, "/api/villages", "", createVillageRequest{Name: "capital", X: 1, Y: 1})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
}

func TestAuthenticatedRouteAcceptsValidTokenAndCreatesVillage(t *testing.T) {
	srv, _, jwtManager := newTestServer(t)
	defer srv.Close()

	token, err := jwtManager.GenerateToken("11111111-1111-1111-1111-111111111111", "carol")
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}

	resp := postJSON(t, srv, "/api/villages", token, createVillageRequest{Name: "capital", X: 5, Y: -5})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want 201", resp.StatusCode)
	}
	var v map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode village response: %v", err)
	}
	if v["name"] != "capital" {
		t.Fatalf("unexpected village response: %+v", v)
	}
}

func TestCreateVillageRejectsOccupiedCoordinates(t *testing.T) {
	srv, _, jwtManager := newTestServer(t)
	defer srv.Close()

	tokenA, _ := jwtManager.GenerateToken("11111111-1111-1111-1111-111111111111", "carol")
	tokenB, _ := jwtManager.GenerateToken("22222222-2222-2222-2222-222222222222", "dave")

	first := postJSON(t, srv, "/api/villages", tokenA, createVillageRequest{Name: "capital", X: 10, Y: 10})
	first.Body.Close()
	if first.StatusCode != http.StatusCreated {
		t.Fatalf("first village status = %d, want 201", first.StatusCode)
	}

	second := postJSON(t, srv, "/api/villages", tokenB, createVillageRequest{Name: "other", X: 10, Y: 10})
	defer second.Body.Close()
	if second.StatusCode != http.StatusConflict {
		t.Fatalf("second village status = %d, want 409", second.StatusCode)
	}
}
