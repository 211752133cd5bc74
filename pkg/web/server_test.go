package web

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stbridge/stbridge-go/pkg/auth"
	"github.com/stbridge/stbridge-go/pkg/automode"
	"github.com/stbridge/stbridge-go/pkg/plugin"
	"github.com/stbridge/stbridge-go/pkg/smartthings"
)

type fakeDevices struct {
	snaps []plugin.DeviceSnapshot
}

func (f *fakeDevices) Snapshots() []plugin.DeviceSnapshot { return f.snaps }

func (f *fakeDevices) PairedIDs() []string {
	ids := make([]string, 0, len(f.snaps))
	for _, s := range f.snaps {
		ids = append(ids, s.Device.ID)
	}
	return ids
}

type fakeAuth struct {
	token *auth.Token
}

func (f *fakeAuth) HasAuth() bool      { return f.token != nil }
func (f *fakeAuth) Token() *auth.Token { return f.token }

type fakeModes struct {
	mode     automode.Mode
	enrolled []string
}

func (f *fakeModes) CurrentMode() automode.Mode { return f.mode }
func (f *fakeModes) EnrolledIDs() []string      { return f.enrolled }

func newTestServer(restart func()) *Server {
	sp := 72.0
	return NewServer(ServerConfig{
		Version: "1.2.3",
		Devices: &fakeDevices{snaps: []plugin.DeviceSnapshot{{
			Device: smartthings.Device{ID: "ac1", Name: "Living Room",
				Capabilities: smartthings.NewCapabilitySet(
					smartthings.CapTemperatureMeasurement,
					smartthings.CapAirConditionerMode,
					smartthings.CapThermostatCoolingSetpoint,
				)},
			State: smartthings.DeviceState{
				Temperature:     71,
				CoolingSetpoint: &sp,
				Mode:            smartthings.ModeCool,
				UpdatedAt:       time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC),
			},
		}}},
		Auth:     &fakeAuth{token: &auth.Token{AccessToken: "tok", ExpiresAt: time.Date(2026, 8, 2, 0, 0, 0, 0, time.UTC)}},
		AutoMode: &fakeModes{mode: automode.ModeCool, enrolled: []string{"ac1"}},
		Restart:  restart,
	})
}

func get(t *testing.T, s *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestHealth(t *testing.T) {
	rec := get(t, newTestServer(nil), "/api/health")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "1.2.3", body["version"])
}

func TestAuthStatus(t *testing.T) {
	rec := get(t, newTestServer(nil), "/api/auth/status")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, true, body["authenticated"])
	assert.Equal(t, "2026-08-02T00:00:00Z", body["expiresAt"])
}

func TestDevices(t *testing.T) {
	rec := get(t, newTestServer(nil), "/api/devices")
	require.Equal(t, http.StatusOK, rec.Code)

	var docs []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &docs))
	require.Len(t, docs, 1)
	assert.Equal(t, "ac1", docs[0]["id"])
	assert.Equal(t, true, docs[0]["thermostat"])

	state, ok := docs[0]["state"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, 71.0, state["temperature"])
	assert.Equal(t, "cool", state["mode"])
}

func TestDeviceByID(t *testing.T) {
	s := newTestServer(nil)

	rec := get(t, s, "/api/devices/ac1")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = get(t, s, "/api/devices/ghost")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAutoModeStatus(t *testing.T) {
	rec := get(t, newTestServer(nil), "/api/automode/status")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "cool", body["mode"])
	assert.Equal(t, []any{"ac1"}, body["enrolledDeviceIds"])
}

func TestRestart(t *testing.T) {
	var called atomic.Bool
	done := make(chan struct{})
	s := newTestServer(func() {
		called.Store(true)
		close(done)
	})

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/system/restart", nil))
	require.Equal(t, http.StatusAccepted, rec.Code)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("restart callback not invoked")
	}
	assert.True(t, called.Load())

	rec = get(t, s, "/api/system/restart")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestMethodGuards(t *testing.T) {
	s := newTestServer(nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/devices", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
