package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/hollowpine/tidewatch/internal/config"
	"github.com/hollowpine/tidewatch/internal/events"
	"github.com/hollowpine/tidewatch/internal/vision"
	"github.com/hollowpine/tidewatch/internal/zone"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type stubCamera struct {
	err error
}

func (c *stubCamera) CameraSnapshot(ctx context.Context, entityID string) ([]byte, error) {
	if c.err != nil {
		return nil, c.err
	}
	return []byte("jpeg"), nil
}

type stubAnalyzer struct {
	result *vision.Result
}

func (a *stubAnalyzer) Analyze(ctx context.Context, req vision.Request) (*vision.Result, error) {
	return a.result, nil
}

// newTestServer builds a server over one messy-by-default zone.
func newTestServer(t *testing.T) (*Server, *zone.Registry) {
	t.Helper()

	registry := zone.NewRegistry()
	registry.Add(zone.New(
		config.ZoneConfig{
			Name:       "Living Room",
			Camera:     "camera.living_room",
			Mode:       config.ModeManual,
			RunsPerDay: 2,
			Provider:   vision.ProviderOpenAI,
		},
		&stubCamera{},
		&stubAnalyzer{result: &vision.Result{
			Status:  vision.StatusMessy,
			Tasks:   []vision.Task{{Title: "Fold blankets", Priority: vision.PriorityNormal}},
			Comment: "Blankets on the floor.",
		}},
		nil,
		testLogger(),
	))

	return NewServer("", 0, registry, events.New(), testLogger()), registry
}

func doRequest(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	s, _ := newTestServer(t)
	rec := doRequest(t, s, "GET", "/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "healthy") {
		t.Errorf("body = %q", rec.Body.String())
	}
}

func TestHealth_IncludesConnStatus(t *testing.T) {
	s, _ := newTestServer(t)
	s.SetConnStatus(func() any {
		return map[string]any{"ready": true}
	})

	rec := doRequest(t, s, "GET", "/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	ha, ok := body["homeassistant"].(map[string]any)
	if !ok {
		t.Fatalf("missing homeassistant block: %v", body)
	}
	if ha["ready"] != true {
		t.Errorf("ready = %v", ha["ready"])
	}
}

func TestVersion(t *testing.T) {
	s, _ := newTestServer(t)
	rec := doRequest(t, s, "GET", "/v1/version", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var info map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &info); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if info["version"] == "" {
		t.Error("missing version field")
	}
}

func TestZoneList(t *testing.T) {
	s, _ := newTestServer(t)
	rec := doRequest(t, s, "GET", "/v1/zones", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var body struct {
		Zones []zoneSummary `json:"zones"`
		Count int           `json:"count"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Count != 1 || len(body.Zones) != 1 {
		t.Fatalf("count = %d, zones = %d", body.Count, len(body.Zones))
	}
	z := body.Zones[0]
	if z.Name != "Living Room" || z.Camera != "camera.living_room" {
		t.Errorf("zone = %+v", z)
	}
	if z.State.Status != zone.StatusUnknown {
		t.Errorf("initial status = %q, want unknown", z.State.Status)
	}
}

func TestZoneGet_NotFound(t *testing.T) {
	s, _ := newTestServer(t)
	rec := doRequest(t, s, "GET", "/v1/zones/Garage", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestZoneCheck(t *testing.T) {
	s, _ := newTestServer(t)
	rec := doRequest(t, s, "POST", "/v1/zones/Living%20Room/check", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var z zoneSummary
	if err := json.Unmarshal(rec.Body.Bytes(), &z); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if z.State.Status != zone.StatusMessy {
		t.Errorf("status = %q, want messy", z.State.Status)
	}
	if !z.NeedsTidy {
		t.Error("needs_tidy should be true")
	}
}

func TestZoneCheck_FailureIsStateNotHTTPError(t *testing.T) {
	registry := zone.NewRegistry()
	registry.Add(zone.New(
		config.ZoneConfig{Name: "Office", Camera: "camera.office", Mode: config.ModeManual, Provider: vision.ProviderOpenAI},
		&stubCamera{err: errors.New("camera offline")},
		&stubAnalyzer{},
		nil,
		testLogger(),
	))
	s := NewServer("", 0, registry, events.New(), testLogger())

	rec := doRequest(t, s, "POST", "/v1/zones/Office/check", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, failed checks are absorbed into zone state", rec.Code)
	}

	var z zoneSummary
	if err := json.Unmarshal(rec.Body.Bytes(), &z); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if z.State.Status != zone.StatusError {
		t.Errorf("status = %q, want error", z.State.Status)
	}
	if z.State.LastError == "" {
		t.Error("last_error not populated")
	}
}

func TestZoneSnooze(t *testing.T) {
	s, _ := newTestServer(t)
	rec := doRequest(t, s, "POST", "/v1/zones/Living%20Room/snooze", `{"minutes": 60}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
}

func TestZoneSnooze_ValidatesMinutes(t *testing.T) {
	s, _ := newTestServer(t)
	for _, body := range []string{`{"minutes": 0}`, `{"minutes": -5}`, `{"minutes": 2000}`, `{}`} {
		rec := doRequest(t, s, "POST", "/v1/zones/Living%20Room/snooze", body)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("body %s: status = %d, want 400", body, rec.Code)
		}
	}
}

func TestZoneSnooze_BadJSON(t *testing.T) {
	s, _ := newTestServer(t)
	rec := doRequest(t, s, "POST", "/v1/zones/Living%20Room/snooze", "not json")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestZoneClear(t *testing.T) {
	s, _ := newTestServer(t)

	// Run a check first so there is something to clear.
	doRequest(t, s, "POST", "/v1/zones/Living%20Room/check", "")

	rec := doRequest(t, s, "POST", "/v1/zones/Living%20Room/clear", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var z zoneSummary
	if err := json.Unmarshal(rec.Body.Bytes(), &z); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if z.State.Status != zone.StatusClean || len(z.State.Tasks) != 0 {
		t.Errorf("state after clear = %+v", z.State)
	}
	if z.State.Comment != "Tasks cleared manually." {
		t.Errorf("comment = %q", z.State.Comment)
	}
}

func TestCommandsToUnknownZoneAre404(t *testing.T) {
	s, _ := newTestServer(t)
	for _, path := range []string{
		"/v1/zones/Garage/check",
		"/v1/zones/Garage/snooze",
		"/v1/zones/Garage/clear",
	} {
		rec := doRequest(t, s, "POST", path, `{"minutes": 10}`)
		if rec.Code != http.StatusNotFound {
			t.Errorf("%s: status = %d, want 404", path, rec.Code)
		}
	}
}
