package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/i474232898/weather-etl/internal/scheduler"
	"github.com/i474232898/weather-etl/internal/store"
	"github.com/i474232898/weather-etl/internal/weather"
)

type stubFetcher struct {
	reading weather.Reading
	err     error
}

func (f stubFetcher) FetchCurrent(ctx context.Context, loc weather.Coordinates) (weather.Reading, error) {
	return f.reading, f.err
}

type stubRuns struct {
	id  string
	err error
}

func (r stubRuns) Trigger() (string, error) {
	return r.id, r.err
}

type firingDetector struct{}

func (firingDetector) Check(ctx context.Context) (weather.Decision, error) {
	return weather.Decision{Changed: true}, nil
}

type failingPipeline struct{}

func (failingPipeline) Run(ctx context.Context) (weather.Record, error) {
	return weather.Record{}, &weather.LoadError{Op: "insert", Err: errors.New("disk full")}
}

func newTestApp(t *testing.T, deps Deps) *fiber.App {
	t.Helper()
	if deps.Store == nil {
		deps.Store = store.NewMemoryStore(100)
	}
	if deps.Detector == nil {
		deps.Detector = weather.NewChangeDetector(stubFetcher{reading: weather.Reading{Temperature: 10}}, deps.Store, weather.DetectorConfig{})
	}
	if deps.Runs == nil {
		deps.Runs = stubRuns{id: "run-1"}
	}
	app := fiber.New(fiber.Config{ErrorHandler: ErrorHandler})
	RegisterRoutes(app, deps)
	return app
}

func doRequest(t *testing.T, app *fiber.App, method, target string) (int, map[string]any) {
	t.Helper()
	resp, err := app.Test(httptest.NewRequest(method, target, nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	body := map[string]any{}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &body); err != nil {
			t.Fatalf("decode body %q: %v", data, err)
		}
	}
	return resp.StatusCode, body
}

func seed(t *testing.T, s weather.Store, temps ...float64) {
	t.Helper()
	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	for i, temp := range temps {
		rec := weather.Record{Timestamp: base.Add(time.Duration(i) * time.Hour), Temperature: temp}
		if _, err := s.Load(context.Background(), rec); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
}

func TestHealth(t *testing.T) {
	mon := scheduler.NewMonitor()
	app := newTestApp(t, Deps{Monitor: mon})

	code, body := doRequest(t, app, http.MethodGet, "/health")
	if code != http.StatusOK || body["status"] != "ok" || body["service"] != "weather-etl" {
		t.Fatalf("unexpected health response %d %v", code, body)
	}
}

func TestHealth_UnhealthyAfterFailedRun(t *testing.T) {
	sched := scheduler.New(scheduler.Options{
		Schedule:      "@hourly",
		PokeInterval:  time.Millisecond,
		SensorTimeout: time.Second,
	}, firingDetector{}, failingPipeline{}, nil)
	defer sched.Stop()

	if _, err := sched.RunOnce(context.Background()); err == nil {
		t.Fatal("expected failed run")
	}

	app := newTestApp(t, Deps{Monitor: sched.Monitor(), Runs: sched})
	code, body := doRequest(t, app, http.MethodGet, "/health")
	if code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", code)
	}
	last, ok := body["lastRun"].(map[string]any)
	if !ok || last["status"] != "failed" {
		t.Errorf("expected failed lastRun, got %v", body["lastRun"])
	}
}

func TestLatest(t *testing.T) {
	mem := store.NewMemoryStore(100)
	app := newTestApp(t, Deps{Store: mem})

	if code, _ := doRequest(t, app, http.MethodGet, "/api/v1/weather/latest"); code != http.StatusNotFound {
		t.Fatalf("expected 404 on empty store, got %d", code)
	}

	seed(t, mem, 9.5, 11.25)
	code, body := doRequest(t, app, http.MethodGet, "/api/v1/weather/latest")
	if code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if body["temperature"] != 11.25 {
		t.Errorf("expected latest temperature 11.25, got %v", body["temperature"])
	}
}

func TestHistory(t *testing.T) {
	mem := store.NewMemoryStore(100)
	seed(t, mem, 1, 2, 3, 4)
	app := newTestApp(t, Deps{Store: mem})

	code, body := doRequest(t, app, http.MethodGet,
		"/api/v1/weather/history?from=2024-05-01T01:00:00Z&to=2024-05-01T03:00:00Z&limit=2")
	if code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%v)", code, body)
	}
	records, _ := body["records"].([]any)
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	first := records[0].(map[string]any)
	if first["temperature"] != 2.0 {
		t.Errorf("expected oldest-first ordering, got %v", first)
	}

	// unix seconds are accepted too
	code, body = doRequest(t, app, http.MethodGet, "/api/v1/weather/history?from=1714521600&to=1714536000")
	if code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if records, _ := body["records"].([]any); len(records) != 4 {
		t.Errorf("expected 4 records, got %d", len(records))
	}
}

func TestHistoryValidation(t *testing.T) {
	app := newTestApp(t, Deps{})

	tests := []struct {
		name  string
		query string
	}{
		{"missing range", ""},
		{"bad time", "?from=yesterday&to=today"},
		{"to before from", "?from=2024-05-02T00:00:00Z&to=2024-05-01T00:00:00Z"},
		{"limit too large", "?from=2024-05-01T00:00:00Z&to=2024-05-02T00:00:00Z&limit=1001"},
		{"limit zero", "?from=2024-05-01T00:00:00Z&to=2024-05-02T00:00:00Z&limit=0"},
		{"limit not a number", "?from=2024-05-01T00:00:00Z&to=2024-05-02T00:00:00Z&limit=ten"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, body := doRequest(t, app, http.MethodGet, "/api/v1/weather/history"+tt.query)
			if code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d", code)
			}
			if body["error"] != true {
				t.Errorf("expected error envelope, got %v", body)
			}
		})
	}
}

func TestChange(t *testing.T) {
	mem := store.NewMemoryStore(100)
	seed(t, mem, 10)
	detector := weather.NewChangeDetector(stubFetcher{reading: weather.Reading{Temperature: 11.5}}, mem, weather.DetectorConfig{Threshold: 1})
	app := newTestApp(t, Deps{Store: mem, Detector: detector})

	code, body := doRequest(t, app, http.MethodGet, "/api/v1/weather/change")
	if code != http.StatusOK || body["changed"] != true || body["delta"] != 1.5 {
		t.Fatalf("unexpected response %d %v", code, body)
	}

	code, body = doRequest(t, app, http.MethodGet, "/api/v1/weather/change?threshold=2")
	if code != http.StatusOK || body["changed"] != false || body["threshold"] != 2.0 {
		t.Fatalf("unexpected response with override %d %v", code, body)
	}

	if code, _ := doRequest(t, app, http.MethodGet, "/api/v1/weather/change?threshold=-1"); code != http.StatusBadRequest {
		t.Errorf("expected 400 for negative threshold, got %d", code)
	}
}

func TestChange_UpstreamFailure(t *testing.T) {
	mem := store.NewMemoryStore(100)
	fetcher := stubFetcher{err: &weather.FetchError{StatusCode: http.StatusServiceUnavailable, Err: errors.New("unavailable")}}
	detector := weather.NewChangeDetector(fetcher, mem, weather.DetectorConfig{})
	app := newTestApp(t, Deps{Store: mem, Detector: detector})

	if code, _ := doRequest(t, app, http.MethodGet, "/api/v1/weather/change"); code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", code)
	}
}

func TestTriggerRun(t *testing.T) {
	app := newTestApp(t, Deps{Runs: stubRuns{id: "abc"}})
	code, body := doRequest(t, app, http.MethodPost, "/api/v1/pipeline/runs")
	if code != http.StatusAccepted || body["runId"] != "abc" {
		t.Fatalf("unexpected response %d %v", code, body)
	}

	app = newTestApp(t, Deps{Runs: stubRuns{err: scheduler.ErrRunInProgress}})
	if code, _ := doRequest(t, app, http.MethodPost, "/api/v1/pipeline/runs"); code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", code)
	}
}

func TestParseTime(t *testing.T) {
	ts, err := parseTime("2024-05-01T03:00:00+03:00")
	if err != nil || !ts.Equal(time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)) || ts.Location() != time.UTC {
		t.Errorf("parseTime RFC3339 = %v, %v", ts, err)
	}
	ts, err = parseTime("1714521600")
	if err != nil || !ts.Equal(time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("parseTime unix = %v, %v", ts, err)
	}
	if _, err := parseTime("nope"); err == nil {
		t.Error("expected error")
	}
}

type downStore struct {
	*store.MemoryStore
}

func (downStore) Ping(ctx context.Context) error {
	return errors.New("connection refused")
}

func TestHealth_RecordsAndStorePing(t *testing.T) {
	mem := store.NewMemoryStore(100)
	seed(t, mem, 1, 2)

	code, body := doRequest(t, newTestApp(t, Deps{Store: mem}), http.MethodGet, "/health")
	if code != http.StatusOK || body["records"] != 2.0 {
		t.Fatalf("unexpected health response %d %v", code, body)
	}

	code, body = doRequest(t, newTestApp(t, Deps{Store: downStore{mem}}), http.MethodGet, "/health")
	if code != http.StatusServiceUnavailable || body["status"] != "degraded" {
		t.Fatalf("expected degraded health, got %d %v", code, body)
	}
}
