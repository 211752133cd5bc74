package smartthings

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stbridge/stbridge-go/pkg/auth"
	"github.com/stbridge/stbridge-go/pkg/persistence"
	"github.com/stbridge/stbridge-go/pkg/retry"
)

func authedManager(t *testing.T) *auth.Manager {
	t.Helper()
	store := persistence.NewTokenStore(filepath.Join(t.TempDir(), "token.json"))
	m := auth.NewManager(auth.Config{ClientID: "id", ClientSecret: "secret"}, store, nil, nil)
	require.NoError(t, m.SetToken(&auth.Token{
		AccessToken: "test-access",
		ExpiresAt:   time.Now().Add(time.Hour),
	}))
	return m
}

func unauthedManager(t *testing.T) *auth.Manager {
	t.Helper()
	store := persistence.NewTokenStore(filepath.Join(t.TempDir(), "token.json"))
	return auth.NewManager(auth.Config{ClientID: "id", ClientSecret: "secret"}, store, nil, nil)
}

func newTestClient(t *testing.T, mgr *auth.Manager, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c := NewClient(mgr, srv.URL, nil, nil)
	c.SetRetryConfig(retry.Config{MaxRetries: 2, InitialDelay: time.Microsecond, MaxDelay: time.Millisecond, Multiplier: 2})
	return c, srv
}

func TestListDevices_UnionsComponentCapabilities(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/devices", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-access", r.Header.Get("Authorization"))
		json.NewEncoder(w).Encode(map[string]any{"items": []map[string]any{
			{"deviceId": "d1", "label": "Living Room AC"},
		}})
	})
	mux.HandleFunc("/devices/d1", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"deviceId":         "d1",
			"label":            "Living Room AC",
			"manufacturerName": "Samsung Electronics",
			"components": []map[string]any{
				{"id": "main", "capabilities": []map[string]any{
					{"id": "switch"}, {"id": "airConditionerMode"},
				}},
				{"id": "1", "capabilities": []map[string]any{
					{"id": "temperatureMeasurement"},
				}},
			},
		})
	})

	c, _ := newTestClient(t, authedManager(t), mux)
	devices, err := c.ListDevices(context.Background())
	require.NoError(t, err)
	require.Len(t, devices, 1)

	dev := devices[0]
	assert.Equal(t, "Living Room AC", dev.Name)
	assert.Equal(t, "Samsung Electronics", dev.Manufacturer)
	assert.True(t, dev.Has(CapSwitch))
	assert.True(t, dev.Has(CapAirConditionerMode))
	assert.True(t, dev.Has(CapTemperatureMeasurement))
	assert.True(t, dev.IsThermostatLike())
}

func TestListDevices_TopLevelCapabilitiesWin(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/devices", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"items": []map[string]any{{"deviceId": "d1"}}})
	})
	mux.HandleFunc("/devices/d1", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"deviceId":     "d1",
			"capabilities": []map[string]any{{"id": "thermostatMode"}},
			"components": []map[string]any{
				{"id": "main", "capabilities": []map[string]any{{"id": "switch"}}},
			},
		})
	})

	c, _ := newTestClient(t, authedManager(t), mux)
	devices, err := c.ListDevices(context.Background())
	require.NoError(t, err)
	require.Len(t, devices, 1)
	assert.True(t, devices[0].Has(CapThermostatMode))
	assert.False(t, devices[0].Has(CapSwitch), "component capabilities ignored when top-level present")
}

func TestListDevices_DetailFailureFallsBackToSummary(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/devices", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"items": []map[string]any{
			{"deviceId": "broken", "label": "Broken", "components": []map[string]any{
				{"id": "main", "capabilities": []map[string]any{{"id": "thermostatMode"}}},
			}},
		}})
	})
	mux.HandleFunc("/devices/broken", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})

	c, _ := newTestClient(t, authedManager(t), mux)
	devices, err := c.ListDevices(context.Background())
	require.NoError(t, err)
	require.Len(t, devices, 1)
	assert.Equal(t, "Broken", devices[0].Name)
	assert.True(t, devices[0].Has(CapThermostatMode), "summary capabilities retained")
}

func TestGetStatus_RetriesTransientFailures(t *testing.T) {
	var calls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/devices/thermostat/status", func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "rate limited", http.StatusTooManyRequests)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"components": map[string]any{
			"main": map[string]any{
				"temperatureMeasurement": map[string]any{"temperature": map[string]any{"value": 69.0}},
				"thermostatMode":         map[string]any{"thermostatMode": map[string]any{"value": "heat"}},
			},
		}})
	})

	c, _ := newTestClient(t, authedManager(t), mux)
	state, err := c.GetStatus(context.Background(), thermostatDevice())
	require.NoError(t, err)
	assert.Equal(t, 69.0, state.Temperature)
	assert.Equal(t, ModeHeat, state.Mode)
	assert.Equal(t, int32(3), calls.Load())
}

func TestReadPaths_Unauthenticated(t *testing.T) {
	c, _ := newTestClient(t, unauthedManager(t), http.NewServeMux())

	_, err := c.ListDevices(context.Background())
	assert.ErrorIs(t, err, ErrNoClient)

	_, err = c.GetStatus(context.Background(), thermostatDevice())
	assert.ErrorIs(t, err, ErrNoClient)
}

func TestExecuteCommands_Unauthenticated(t *testing.T) {
	c, _ := newTestClient(t, unauthedManager(t), http.NewServeMux())
	err := c.ExecuteCommands(context.Background(), "d1", newCommand(CapSwitch, "off"))
	assert.ErrorIs(t, err, ErrUnauthenticated)
}

func TestExecuteCommands_PostsCommandBody(t *testing.T) {
	var got map[string][]Command
	mux := http.NewServeMux()
	mux.HandleFunc("/devices/ac/commands", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	})

	c, _ := newTestClient(t, authedManager(t), mux)
	err := c.ExecuteCommands(context.Background(), "ac",
		newCommand(CapSwitch, "on"),
		newCommand(CapAirConditionerMode, "setAirConditionerMode", "heat"),
	)
	require.NoError(t, err)

	cmds := got["commands"]
	require.Len(t, cmds, 2)
	assert.Equal(t, "on", cmds[0].Command)
	assert.Equal(t, "setAirConditionerMode", cmds[1].Command)
}

func TestExecuteCommands_PermanentFailureNotRetried(t *testing.T) {
	var calls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/devices/d1/commands", func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "unprocessable", http.StatusUnprocessableEntity)
	})

	c, _ := newTestClient(t, authedManager(t), mux)
	err := c.ExecuteCommands(context.Background(), "d1", newCommand(CapSwitch, "off"))
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestExecuteThermostatCommands_ChasesWithLightOff(t *testing.T) {
	var bodies []map[string][]Command
	mux := http.NewServeMux()
	mux.HandleFunc("/devices/ac/commands", func(w http.ResponseWriter, r *http.Request) {
		var body map[string][]Command
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		bodies = append(bodies, body)
		w.WriteHeader(http.StatusOK)
	})

	c, _ := newTestClient(t, authedManager(t), mux)
	dev := samsungAC()
	cmds := TranslateThermostatCommands(dev, modePtr(ModeCool), nil, nil)
	require.NoError(t, c.ExecuteThermostatCommands(context.Background(), dev, cmds))

	require.Len(t, bodies, 2, "thermostat batch then display-light chaser")
	chaser := bodies[1]["commands"]
	require.Len(t, chaser, 1)
	assert.Equal(t, CapExecute, chaser[0].Capability)
}

func TestExecuteThermostatCommands_ChaserFailureSwallowed(t *testing.T) {
	var calls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/devices/ac/commands", func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusOK)
			return
		}
		http.Error(w, "nope", http.StatusBadRequest)
	})

	c, _ := newTestClient(t, authedManager(t), mux)
	dev := samsungAC()
	cmds := TranslateThermostatCommands(dev, modePtr(ModeHeat), nil, nil)
	assert.NoError(t, c.ExecuteThermostatCommands(context.Background(), dev, cmds))
}

func TestGetDevice_NotFound(t *testing.T) {
	mux := http.NewServeMux()
	// No route for the device: httptest returns 404.
	c, _ := newTestClient(t, authedManager(t), mux)
	_, err := c.GetDevice(context.Background(), "ghost")
	assert.True(t, errors.Is(err, ErrDeviceNotFound))
}

func TestInvalidate_PicksUpNewToken(t *testing.T) {
	var lastAuth string
	mux := http.NewServeMux()
	mux.HandleFunc("/devices/d1", func(w http.ResponseWriter, r *http.Request) {
		lastAuth = r.Header.Get("Authorization")
		json.NewEncoder(w).Encode(map[string]any{"deviceId": "d1"})
	})

	mgr := authedManager(t)
	c, _ := newTestClient(t, mgr, mux)
	mgr.OnChange(c.Invalidate)

	_, err := c.GetDevice(context.Background(), "d1")
	require.NoError(t, err)
	assert.Equal(t, "Bearer test-access", lastAuth)

	require.NoError(t, mgr.SetToken(&auth.Token{AccessToken: "rotated", ExpiresAt: time.Now().Add(time.Hour)}))

	_, err = c.GetDevice(context.Background(), "d1")
	require.NoError(t, err)
	assert.Equal(t, "Bearer rotated", lastAuth)
}
