package main

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/LeventeLantos/flight-sms/internal/config"
)

const testKey = "ops-key"

type fakeProvider struct {
	delay time.Duration

	mu     sync.Mutex
	bodies []map[string]any
	auth   []string
}

func (p *fakeProvider) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	b, _ := io.ReadAll(r.Body)
	var body map[string]any
	_ = json.Unmarshal(b, &body)

	p.mu.Lock()
	p.bodies = append(p.bodies, body)
	p.auth = append(p.auth, r.Header.Get("Authorization"))
	p.mu.Unlock()

	time.Sleep(p.delay)

	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"StatusId":1,"Data":{"MessageID":"m-1"}}`))
}

func (p *fakeProvider) calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.bodies)
}

func testConfig(t *testing.T, providerURL, redisAddr string) *config.Config {
	t.Helper()

	return &config.Config{
		Server:   config.ServerConfig{Address: "127.0.0.1:0"},
		Database: config.DatabaseConfig{Driver: config.DriverSQLite, URL: "file:" + filepath.Join(t.TempDir(), "app.db")},
		Redis: config.RedisConfig{
			Enabled: redisAddr != "",
			Address: redisAddr,
			TTL:     time.Hour,
		},
		Scheduler: config.SchedulerConfig{Interval: time.Hour},
		Provider: config.ProviderConfig{
			URL:           providerURL,
			Authorization: "Basic dGVzdA==",
			Sender:        "FlightInfo",
			Campaign:      "Flight Update",
			Timeout:       2 * time.Second,
		},
		Recovery: config.RecoveryConfig{Concurrency: 1},
		Trigger:  config.TriggerConfig{Source: config.TriggerLocal, Workers: 2, QueueSize: 8},
		Auth:     config.AuthConfig{APIKey: testKey},
		Log:      config.LogConfig{Level: "ERROR", Format: "text"},
	}
}

func request(t *testing.T, h http.Handler, method, target, body string, authed bool) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if authed {
		req.Header.Set("X-API-Key", testKey)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decode(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()

	var m map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &m); err != nil {
		t.Fatalf("failed to decode json: %v body=%q", err, rr.Body.String())
	}
	return m
}

func TestApp_CreatedDeliveryIsSentByTrigger(t *testing.T) {
	fp := &fakeProvider{}
	provider := httptest.NewServer(fp)
	defer provider.Close()

	mr := miniredis.RunT(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := newApp(ctx, testConfig(t, provider.URL, mr.Addr()))
	if err != nil {
		t.Fatalf("newApp: %v", err)
	}
	defer a.close()

	done := make(chan error, 1)
	go func() { done <- a.dispatcher.Run(ctx) }()

	rr := request(t, a.handler, http.MethodPost, "/v1/deliveries",
		`{"phone":"+972501234567","message":"Flight LY001 delayed"}`, true)
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d body=%q", rr.Code, rr.Body.String())
	}
	id, _ := decode(t, rr)["id"].(string)
	if id == "" {
		t.Fatalf("expected a delivery id")
	}

	deadline := time.Now().Add(3 * time.Second)
	var got map[string]any
	for {
		rr = request(t, a.handler, http.MethodGet, "/v1/deliveries/"+id, "", true)
		got = decode(t, rr)
		if got["status"] != "pending" {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("delivery still pending after trigger")
		}
		time.Sleep(10 * time.Millisecond)
	}

	if got["status"] != "sent" || got["messageId"] != "m-1" {
		t.Fatalf("expected sent with m-1, got %v", got)
	}
	if got["processedAt"] == nil {
		t.Fatalf("expected processedAt, got %v", got)
	}

	if fp.calls() != 1 {
		t.Fatalf("expected one provider call, got %d", fp.calls())
	}
	if fp.auth[0] != "Basic dGVzdA==" {
		t.Fatalf("unexpected provider Authorization %q", fp.auth[0])
	}
	settings := fp.bodies[0]["Data"].(map[string]any)["Settings"].(map[string]any)
	if settings["Sender"] != "FlightInfo" || settings["CampaignName"] != "Flight Update" {
		t.Fatalf("unexpected provider settings %v", settings)
	}

	// The cache is written right after the status.
	for deadline := time.Now().Add(time.Second); !mr.Exists("msg:" + id); {
		if time.Now().After(deadline) {
			t.Fatalf("expected sent cache entry for %s", id)
		}
		time.Sleep(5 * time.Millisecond)
	}
	rr = request(t, a.handler, http.MethodGet, "/v1/deliveries/"+id+"/receipt", "", true)
	if body := decode(t, rr); body["source"] != "cache" || body["messageId"] != "m-1" {
		t.Fatalf("unexpected receipt %v", body)
	}

	// Nothing is left for recovery.
	rr = request(t, a.handler, http.MethodPost, "/v1/recovery/run", "", true)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%q", rr.Code, rr.Body.String())
	}
	if body := decode(t, rr); body["processed"] != float64(0) || body["success"] != true {
		t.Fatalf("unexpected recovery result %v", body)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("dispatcher did not stop")
	}
}

func TestApp_RecoveryPicksUpUntriggeredDeliveries(t *testing.T) {
	fp := &fakeProvider{}
	provider := httptest.NewServer(fp)
	defer provider.Close()

	ctx := context.Background()
	a, err := newApp(ctx, testConfig(t, provider.URL, ""))
	if err != nil {
		t.Fatalf("newApp: %v", err)
	}
	defer a.close()

	// The dispatcher is not running, so created deliveries stay queued and pending.
	for i := 0; i < 3; i++ {
		rr := request(t, a.handler, http.MethodPost, "/v1/deliveries", `{"phone":"+1","message":"m"}`, true)
		if rr.Code != http.StatusCreated {
			t.Fatalf("expected 201, got %d", rr.Code)
		}
	}

	rr := request(t, a.handler, http.MethodPost, "/v1/recovery/run", "", false)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without key, got %d", rr.Code)
	}
	if fp.calls() != 0 {
		t.Fatalf("expected no provider calls, got %d", fp.calls())
	}

	rr = request(t, a.handler, http.MethodPost, "/v1/recovery/run", "", true)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%q", rr.Code, rr.Body.String())
	}
	body := decode(t, rr)
	if body["processed"] != float64(3) {
		t.Fatalf("expected 3 processed, got %v", body)
	}
	for _, r := range body["results"].([]any) {
		if r.(map[string]any)["status"] != "sent" {
			t.Fatalf("expected all sent, got %v", body["results"])
		}
	}

	rr = request(t, a.handler, http.MethodGet, "/v1/deliveries?status=sent", "", true)
	if items := decode(t, rr)["items"].([]any); len(items) != 3 {
		t.Fatalf("expected 3 sent deliveries, got %d", len(items))
	}

	rr = request(t, a.handler, http.MethodGet, "/metrics", "", false)
	if !strings.Contains(rr.Body.String(), `flight_sms_deliveries_total{source="recovery",status="sent"} 3`) {
		t.Fatalf("expected recovery metrics, got %q", rr.Body.String())
	}
}

func TestApp_ShutdownLetsInFlightSendFinish(t *testing.T) {
	fp := &fakeProvider{delay: 300 * time.Millisecond}
	provider := httptest.NewServer(fp)
	defer provider.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := newApp(ctx, testConfig(t, provider.URL, ""))
	if err != nil {
		t.Fatalf("newApp: %v", err)
	}
	defer a.close()

	done := make(chan error, 1)
	go func() { done <- a.dispatcher.Run(ctx) }()

	rr := request(t, a.handler, http.MethodPost, "/v1/deliveries", `{"phone":"+1","message":"m"}`, true)
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rr.Code)
	}
	id, _ := decode(t, rr)["id"].(string)

	for deadline := time.Now().Add(2 * time.Second); fp.calls() == 0; {
		if time.Now().After(deadline) {
			t.Fatalf("provider was never called")
		}
		time.Sleep(5 * time.Millisecond)
	}

	// Shut down while the provider call is in flight.
	cancel()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatalf("dispatcher did not stop")
	}

	rr = request(t, a.handler, http.MethodGet, "/v1/deliveries/"+id, "", true)
	if got := decode(t, rr); got["status"] != "sent" || got["messageId"] != "m-1" {
		t.Fatalf("expected in-flight send to complete as sent, got %v", got)
	}
}

func TestApp_StartupFailsOnBadStore(t *testing.T) {
	cfg := testConfig(t, "http://127.0.0.1:1", "")
	cfg.Database.URL = "file:" + filepath.Join(t.TempDir(), "missing", "dir", "app.db")

	if _, err := newApp(context.Background(), cfg); err == nil {
		t.Fatalf("expected startup error for unreachable store")
	}
}

func TestServe_ClosesClientsWhenServerFails(t *testing.T) {
	mr := miniredis.RunT(t)

	cfg := testConfig(t, "http://127.0.0.1:1", mr.Addr())
	cfg.Server.Address = "127.0.0.1:-1"

	if err := serve(context.Background(), cfg); err == nil {
		t.Fatalf("expected serve to fail on a bad listen address")
	}

	for deadline := time.Now().Add(2 * time.Second); mr.CurrentConnectionCount() != 0; {
		if time.Now().After(deadline) {
			t.Fatalf("expected redis connections to be closed, %d still open", mr.CurrentConnectionCount())
		}
		time.Sleep(5 * time.Millisecond)
	}
}
