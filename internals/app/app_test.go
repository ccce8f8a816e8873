package app_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"vigil/config"
	"vigil/internals/app"

	"github.com/rs/zerolog"
)

func newTestServer(t *testing.T) (*httptest.Server, *app.Container) {
	t.Helper()

	cfg := &config.Config{
		Env:         "test",
		ServiceName: "vigil",
		Port:        0,
		BaseURL:     "http://vigil.test",
		AdminKey:    "test-admin-key",
		DB: &config.DBConfig{
			Driver: "sqlite",
			URL:    filepath.Join(t.TempDir(), "test.db"),
		},
		Auth: &config.AuthConfig{
			Secret:    "test-secret",
			ExpiryMin: 15,
		},
		Sweeper: &config.SweeperConfig{
			Interval:        time.Minute,
			DispatchTimeout: 5 * time.Second,
			MaxConcurrent:   4,
		},
	}

	logger := zerolog.Nop()
	container, err := app.NewContainer(context.Background(), cfg, &logger)
	if err != nil {
		t.Fatalf("building container: %v", err)
	}
	t.Cleanup(func() { container.Shutdown() })

	srv := httptest.NewServer(app.RegisterRoutes(container))
	t.Cleanup(srv.Close)
	return srv, container
}

func doJSON(t *testing.T, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()

	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("encoding request body: %v", err)
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, url, rd)
	if err != nil {
		t.Fatalf("building request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("reading response body: %v", err)
	}
	return resp, data
}

func registerUser(t *testing.T, baseURL, email string) string {
	t.Helper()
	resp, body := doJSON(t, http.MethodPost, baseURL+"/users", map[string]string{
		"email":    email,
		"password": "hunter2hunter2",
	}, nil)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("register returned %d: %s", resp.StatusCode, body)
	}
	var out struct {
		UserKey string `json:"user_key"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		t.Fatalf("decoding register response: %v", err)
	}
	if out.UserKey == "" {
		t.Fatal("register returned empty user_key")
	}
	return out.UserKey
}

func createMonitor(t *testing.T, baseURL, userKey, slug string, frequency int64) map[string]any {
	t.Helper()
	resp, body := doJSON(t, http.MethodPost, baseURL+"/monitors", map[string]any{
		"name":      "backup job " + slug,
		"slug":      slug,
		"frequency": frequency,
		"webhook": map[string]any{
			"url":    "https://hooks.example/notify",
			"method": "POST",
		},
	}, map[string]string{"x-user-key": userKey})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create monitor returned %d: %s", resp.StatusCode, body)
	}
	var out map[string]any
	if err := json.Unmarshal(body, &out); err != nil {
		t.Fatalf("decoding create response: %v", err)
	}
	return out
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, body := doJSON(t, http.MethodGet, srv.URL+"/health", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("health returned %d", resp.StatusCode)
	}
	var out map[string]string
	if err := json.Unmarshal(body, &out); err != nil {
		t.Fatalf("decoding health body: %v", err)
	}
	if out["health"] != "good!" {
		t.Fatalf("health body = %q", out["health"])
	}
}

func TestCreateMonitorAndCheckIn(t *testing.T) {
	srv, _ := newTestServer(t)
	userKey := registerUser(t, srv.URL, "alice@example.com")

	created := createMonitor(t, srv.URL, userKey, "nightly-backup", 60)

	if got := created["monitor_url"]; got != "http://vigil.test/monitor/nightly-backup" {
		t.Fatalf("monitor_url = %v", got)
	}
	if got := created["report_if_not_called_in"]; got != float64(60) {
		t.Fatalf("report_if_not_called_in = %v", got)
	}
	apiKey, _ := created["api_key"].(string)
	if len(apiKey) != 16 {
		t.Fatalf("api_key = %q, want 16 hex chars", apiKey)
	}

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/monitor/nightly-backup", nil,
		map[string]string{"x-api-key": apiKey})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("check-in returned %d: %s", resp.StatusCode, body)
	}
	var msg string
	if err := json.Unmarshal(body, &msg); err != nil {
		t.Fatalf("decoding check-in body %q: %v", body, err)
	}
	if msg != "Update successful" {
		t.Fatalf("check-in body = %q", msg)
	}
}

func TestCheckInRejectsBadCredentials(t *testing.T) {
	srv, _ := newTestServer(t)
	userKey := registerUser(t, srv.URL, "alice@example.com")
	createMonitor(t, srv.URL, userKey, "nightly-backup", 60)

	resp, _ := doJSON(t, http.MethodPost, srv.URL+"/monitor/nightly-backup", nil, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("check-in without x-api-key returned %d, want 400", resp.StatusCode)
	}

	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/monitor/nightly-backup", nil,
		map[string]string{"x-api-key": "ffffffffffffffff"})
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("check-in with wrong key returned %d, want 404", resp.StatusCode)
	}

	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/monitor/no-such-slug", nil,
		map[string]string{"x-api-key": "ffffffffffffffff"})
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("check-in on unknown slug returned %d, want 404", resp.StatusCode)
	}
}

func TestCreateMonitorRequiresAuth(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, _ := doJSON(t, http.MethodPost, srv.URL+"/monitors", map[string]any{
		"name": "x", "slug": "x", "frequency": 60,
		"webhook": map[string]any{"url": "https://a.example", "method": "POST"},
	}, nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("unauthenticated create returned %d, want 401", resp.StatusCode)
	}
}

func TestCreateMonitorDuplicateSlug(t *testing.T) {
	srv, _ := newTestServer(t)
	alice := registerUser(t, srv.URL, "alice@example.com")
	bob := registerUser(t, srv.URL, "bob@example.com")

	createMonitor(t, srv.URL, alice, "shared-slug", 60)

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/monitors", map[string]any{
		"name": "bob's job", "slug": "shared-slug", "frequency": 60,
		"webhook": map[string]any{"url": "https://a.example", "method": "POST"},
	}, map[string]string{"x-user-key": bob})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("duplicate slug returned %d: %s", resp.StatusCode, body)
	}
	var out map[string]string
	if err := json.Unmarshal(body, &out); err != nil {
		t.Fatalf("decoding error body: %v", err)
	}
	if out["error"] == "" {
		t.Fatalf("error body = %s", body)
	}
}

func TestCreateMonitorValidation(t *testing.T) {
	srv, _ := newTestServer(t)
	userKey := registerUser(t, srv.URL, "alice@example.com")

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/monitors", map[string]any{
		"name": "too fast", "slug": "Bad_Slug!", "frequency": 30,
		"webhook": map[string]any{"url": "https://a.example", "method": "POST"},
	}, map[string]string{"x-user-key": userKey})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("invalid monitor returned %d: %s", resp.StatusCode, body)
	}
	var out struct {
		Errors []string `json:"errors"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		t.Fatalf("decoding validation body %s: %v", body, err)
	}
	if len(out.Errors) < 2 {
		t.Fatalf("errors = %v, want both slug and frequency problems", out.Errors)
	}
}

func TestDeleteMonitorOwnership(t *testing.T) {
	srv, _ := newTestServer(t)
	alice := registerUser(t, srv.URL, "alice@example.com")
	mallory := registerUser(t, srv.URL, "mallory@example.com")
	createMonitor(t, srv.URL, alice, "nightly-backup", 60)

	url := srv.URL + "/monitor/nightly-backup"

	resp, _ := doJSON(t, http.MethodDelete, url, nil, map[string]string{"x-user-key": mallory})
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("stranger delete returned %d, want 403", resp.StatusCode)
	}

	resp, _ = doJSON(t, http.MethodDelete, url, nil, map[string]string{"x-user-key": alice})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("owner delete returned %d", resp.StatusCode)
	}

	resp, _ = doJSON(t, http.MethodDelete, url, nil, map[string]string{"x-user-key": alice})
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("repeat delete returned %d, want 404", resp.StatusCode)
	}
}

func TestAdminKeyAndGetMonitor(t *testing.T) {
	srv, _ := newTestServer(t)
	alice := registerUser(t, srv.URL, "alice@example.com")
	createMonitor(t, srv.URL, alice, "nightly-backup", 60)

	resp, body := doJSON(t, http.MethodGet, srv.URL+"/monitor/nightly-backup", nil,
		map[string]string{"x-admin-key": "test-admin-key"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("admin get returned %d: %s", resp.StatusCode, body)
	}
	var out map[string]any
	if err := json.Unmarshal(body, &out); err != nil {
		t.Fatalf("decoding monitor body: %v", err)
	}
	if out["slug"] != "nightly-backup" || out["frequency"] != float64(60) {
		t.Fatalf("monitor body = %s", body)
	}
	if out["last_check"] != nil {
		t.Fatalf("last_check = %v before any check-in", out["last_check"])
	}
}

func TestLoginAndBearerAuth(t *testing.T) {
	srv, _ := newTestServer(t)
	registerUser(t, srv.URL, "alice@example.com")

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/login", map[string]string{
		"email":    "alice@example.com",
		"password": "hunter2hunter2",
	}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login returned %d: %s", resp.StatusCode, body)
	}
	var out struct {
		UserKey     string `json:"user_key"`
		AccessToken string `json:"access_token"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		t.Fatalf("decoding login response: %v", err)
	}
	if out.AccessToken == "" {
		t.Fatal("login returned empty access_token")
	}

	resp, body = doJSON(t, http.MethodPost, srv.URL+"/monitors", map[string]any{
		"name": "token job", "slug": "token-job", "frequency": 60,
		"webhook": map[string]any{"url": "https://a.example", "method": "POST"},
	}, map[string]string{"Authorization": "Bearer " + out.AccessToken})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create with bearer token returned %d: %s", resp.StatusCode, body)
	}

	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/login", map[string]string{
		"email":    "alice@example.com",
		"password": "wrong-password",
	}, nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("bad login returned %d, want 401", resp.StatusCode)
	}
}

func TestCheckInAdvancesDeadline(t *testing.T) {
	srv, container := newTestServer(t)
	userKey := registerUser(t, srv.URL, "alice@example.com")
	created := createMonitor(t, srv.URL, userKey, "nightly-backup", 600)
	apiKey := created["api_key"].(string)

	before := time.Now().Unix()
	resp, _ := doJSON(t, http.MethodPost, srv.URL+"/monitor/nightly-backup", nil,
		map[string]string{"x-api-key": apiKey})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("check-in returned %d", resp.StatusCode)
	}

	mon, err := container.Store.GetMonitorBySlug(context.Background(), "nightly-backup")
	if err != nil {
		t.Fatalf("reading monitor back: %v", err)
	}
	if mon.ExpiresAt < before+600 {
		t.Fatalf("expires_at = %d, want at least %d", mon.ExpiresAt, before+600)
	}
	if mon.LastCheck == nil {
		t.Fatal("last_check still nil after check-in")
	}
}

func TestDeleteAccountRevokesUserKey(t *testing.T) {
	srv, _ := newTestServer(t)
	userKey := registerUser(t, srv.URL, "alice@example.com")

	resp, _ := doJSON(t, http.MethodDelete, srv.URL+"/users", nil,
		map[string]string{"x-user-key": userKey})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("account delete returned %d", resp.StatusCode)
	}

	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/monitors", map[string]any{
		"name": "x", "slug": "x-job", "frequency": 60,
		"webhook": map[string]any{"url": "https://a.example", "method": "POST"},
	}, map[string]string{"x-user-key": userKey})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("deleted account's key still accepted, got %d", resp.StatusCode)
	}
}
