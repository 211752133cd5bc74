package smartthings

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/stbridge/stbridge-go/pkg/auth"
	"github.com/stbridge/stbridge-go/pkg/log"
	"github.com/stbridge/stbridge-go/pkg/retry"
)

// DefaultBaseURL is the SmartThings device API root.
const DefaultBaseURL = "https://api.smartthings.com/v1"

// Client errors.
var (
	// ErrNoClient is returned by read paths when no auth is available.
	ErrNoClient = errors.New("no client available (unauthenticated)")

	// ErrUnauthenticated is returned by write paths when no auth is
	// available.
	ErrUnauthenticated = errors.New("unauthenticated")

	// ErrDeviceNotFound is returned when the cloud does not know the
	// device ID.
	ErrDeviceNotFound = errors.New("device not found")
)

// apiError is a non-2xx API response.
type apiError struct {
	status int
	body   string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("smartthings api returned %d: %s", e.status, e.body)
}

func (e *apiError) StatusCode() int { return e.status }

// capabilityRef is a capability reference in a device document.
type capabilityRef struct {
	ID string `json:"id"`
}

// componentJSON is one component of a device document.
type componentJSON struct {
	ID           string          `json:"id"`
	Capabilities []capabilityRef `json:"capabilities"`
}

// deviceJSON is the wire shape of a device document.
type deviceJSON struct {
	DeviceID         string          `json:"deviceId"`
	Label            string          `json:"label"`
	Name             string          `json:"name"`
	ManufacturerName string          `json:"manufacturerName"`
	Capabilities     []capabilityRef `json:"capabilities"`
	Components       []componentJSON `json:"components"`
}

// toDevice extracts the normalized Device. If the top-level capability
// array is non-empty it wins; otherwise the per-component arrays are
// unioned.
func (d *deviceJSON) toDevice() Device {
	caps := make(CapabilitySet)
	if len(d.Capabilities) > 0 {
		for _, c := range d.Capabilities {
			caps.Add(c.ID)
		}
	} else {
		for _, comp := range d.Components {
			for _, c := range comp.Capabilities {
				caps.Add(c.ID)
			}
		}
	}

	name := d.Label
	if name == "" {
		name = d.Name
	}
	return Device{
		ID:           d.DeviceID,
		Name:         name,
		Manufacturer: d.ManufacturerName,
		Capabilities: caps,
	}
}

// deviceListJSON is the wire shape of GET /devices.
type deviceListJSON struct {
	Items []deviceJSON `json:"items"`
}

// Client is a typed wrapper over the SmartThings REST API. Every call
// obtains a valid token from the auth manager and is wrapped in the
// retry primitive.
type Client struct {
	mu sync.Mutex

	auth    *auth.Manager
	baseURL string
	http    *http.Client

	// bearer caches the Authorization header value; Invalidate clears
	// it when the token changes.
	bearer string

	retryCfg retry.Config
	logger   *slog.Logger
	eventLog log.Logger
	now      func() time.Time
}

// NewClient creates a cloud client. baseURL empty uses DefaultBaseURL.
func NewClient(authMgr *auth.Manager, baseURL string, logger *slog.Logger, eventLog log.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		auth:     authMgr,
		baseURL:  strings.TrimRight(baseURL, "/"),
		http:     &http.Client{Timeout: 30 * time.Second},
		retryCfg: retry.DefaultConfig(),
		logger:   logger,
		eventLog: log.OrNoop(eventLog),
		now:      time.Now,
	}
}

// SetRetryConfig overrides the retry policy (used by the display-light
// monitor's lighter sweeps and by tests).
func (c *Client) SetRetryConfig(cfg retry.Config) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.retryCfg = cfg
}

// Invalidate drops the cached authorization so the next call picks up
// the replaced token. Wire this to auth.Manager.OnChange.
func (c *Client) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bearer = ""
}

// authorization returns the cached bearer header, lazily rebuilding it
// from the auth manager. Returns "" when unauthenticated.
func (c *Client) authorization(ctx context.Context) string {
	c.mu.Lock()
	bearer := c.bearer
	c.mu.Unlock()
	if bearer != "" {
		return bearer
	}

	if !c.auth.EnsureValidToken(ctx) {
		return ""
	}
	tok := c.auth.Token()
	if tok == nil || tok.AccessToken == "" {
		return ""
	}

	bearer = "Bearer " + tok.AccessToken
	c.mu.Lock()
	c.bearer = bearer
	c.mu.Unlock()
	return bearer
}

func (c *Client) retryConfig() retry.Config {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.retryCfg
}

// doJSON performs one authorized request and decodes the response into
// out (skipped when out is nil).
func (c *Client) doJSON(ctx context.Context, bearer, method, path string, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", bearer)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return err
	}

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: %s %s", ErrDeviceNotFound, method, path)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &apiError{status: resp.StatusCode, body: strings.TrimSpace(string(data))}
	}

	if out == nil {
		return nil
	}
	return json.Unmarshal(data, out)
}

// get performs an authorized GET wrapped in the retry primitive.
func get[T any](ctx context.Context, c *Client, name, path string) (T, error) {
	var zero T
	bearer := c.authorization(ctx)
	if bearer == "" {
		return zero, ErrNoClient
	}
	return retry.Do(ctx, c.logger, name, c.retryConfig(), func(ctx context.Context) (T, error) {
		var out T
		if err := c.doJSON(ctx, bearer, http.MethodGet, path, nil, &out); err != nil {
			return zero, err
		}
		return out, nil
	})
}

// ListDevices enumerates devices. Summaries are fetched first; per
// device details are fetched concurrently, each wrapped in the retry
// primitive, and a failed detail fetch falls back to the summary.
func (c *Client) ListDevices(ctx context.Context) ([]Device, error) {
	list, err := get[deviceListJSON](ctx, c, "list-devices", "/devices")
	if err != nil {
		return nil, err
	}

	devices := make([]Device, len(list.Items))
	var wg sync.WaitGroup
	for i := range list.Items {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			summary := list.Items[i].toDevice()
			detail, err := c.GetDevice(ctx, summary.ID)
			if err != nil {
				c.logger.Warn("device detail fetch failed, using summary",
					"device_id", summary.ID, "error", err)
				devices[i] = summary
				return
			}
			devices[i] = detail
		}(i)
	}
	wg.Wait()

	return devices, nil
}

// GetDevice fetches one device's full document.
func (c *Client) GetDevice(ctx context.Context, deviceID string) (Device, error) {
	doc, err := get[deviceJSON](ctx, c, "get-device", "/devices/"+deviceID)
	if err != nil {
		return Device{}, err
	}
	return doc.toDevice(), nil
}

// GetStatus fetches and normalizes a device's current state.
func (c *Client) GetStatus(ctx context.Context, dev Device) (DeviceState, error) {
	raw, err := get[json.RawMessage](ctx, c, "get-status", "/devices/"+dev.ID+"/status")
	if err != nil {
		return DeviceState{}, err
	}
	return ParseStatus(dev, raw, c.now())
}

// ExecuteCommands sends a command batch to a device. Write paths fail
// with ErrUnauthenticated when no token is available.
func (c *Client) ExecuteCommands(ctx context.Context, deviceID string, cmds ...Command) error {
	if len(cmds) == 0 {
		return nil
	}
	bearer := c.authorization(ctx)
	if bearer == "" {
		return ErrUnauthenticated
	}

	body, err := json.Marshal(map[string]any{"commands": cmds})
	if err != nil {
		return err
	}

	_, err = retry.Do(ctx, c.logger, "execute-commands", c.retryConfig(),
		func(ctx context.Context) (struct{}, error) {
			return struct{}{}, c.doJSON(ctx, bearer, http.MethodPost, "/devices/"+deviceID+"/commands", body, nil)
		})

	for _, cmd := range cmds {
		c.eventLog.Log(log.NewCommandEvent(deviceID, cmd.Capability, cmd.Command,
			renderArguments(cmd.Arguments), err == nil))
	}
	return err
}

// ExecuteThermostatCommands sends a translated thermostat batch and, if
// the batch changed temperature or mode on a device with the execute
// capability, chases it with a best-effort silent display-light off.
// The chaser's failure is logged and swallowed.
func (c *Client) ExecuteThermostatCommands(ctx context.Context, dev Device, cmds []Command) error {
	if err := c.ExecuteCommands(ctx, dev.ID, cmds...); err != nil {
		return err
	}

	if dev.Has(CapExecute) && changesTemperatureOrMode(cmds) {
		if err := c.SetDisplayLight(ctx, dev.ID, false); err != nil {
			c.logger.Debug("silent display-light off failed", "device_id", dev.ID, "error", err)
		}
	}
	return nil
}

// SetDisplayLight sets the display light. on refers to the observable
// effect; the inverted vendor tokens are handled in DisplayLightCommand.
func (c *Client) SetDisplayLight(ctx context.Context, deviceID string, on bool) error {
	return c.ExecuteCommands(ctx, deviceID, DisplayLightCommand(on))
}

// renderArguments flattens command arguments for the event log.
func renderArguments(args []any) string {
	if len(args) == 0 {
		return ""
	}
	data, err := json.Marshal(args)
	if err != nil {
		return fmt.Sprintf("%v", args)
	}
	return string(data)
}
