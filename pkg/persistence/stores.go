package persistence

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"
)

// Token is the serialized form of the OAuth token file.
// ExpiresAt is an absolute instant in epoch milliseconds.
type Token struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	ExpiresAt    int64  `json:"expires_at"`
	TokenType    string `json:"token_type,omitempty"`
	Scope        string `json:"scope,omitempty"`
}

// DeviceStateDoc is the serialized form of a single device's state.
type DeviceStateDoc struct {
	CurrentTemperature float64   `json:"currentTemperature"`
	HeatingSetpoint    *float64  `json:"heatingSetpoint,omitempty"`
	CoolingSetpoint    *float64  `json:"coolingSetpoint,omitempty"`
	TargetSetpoint     *float64  `json:"targetSetpoint,omitempty"`
	Mode               string    `json:"mode"`
	Switch             string    `json:"switch,omitempty"`
	DisplayLight       string    `json:"displayLight,omitempty"`
	LastUpdated        time.Time `json:"lastUpdated"`
}

// DeviceStatePair is a [deviceID, state] pair. The coordinator state
// file stores device states as a list of such pairs; ordering is not
// significant.
type DeviceStatePair struct {
	ID    string
	State DeviceStateDoc
}

// MarshalJSON encodes the pair as a two-element array.
func (p DeviceStatePair) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{p.ID, p.State})
}

// UnmarshalJSON decodes a two-element [id, state] array.
func (p *DeviceStatePair) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if len(raw) != 2 {
		return fmt.Errorf("device state pair: expected 2 elements, got %d", len(raw))
	}
	if err := json.Unmarshal(raw[0], &p.ID); err != nil {
		return err
	}
	return json.Unmarshal(raw[1], &p.State)
}

// CoordinatorState is the serialized form of the coordinator state file.
type CoordinatorState struct {
	PairedDevices      []string          `json:"pairedDevices"`
	AverageTemperature float64           `json:"averageTemperature"`
	CurrentMode        string            `json:"currentMode"`
	DeviceStates       []DeviceStatePair `json:"deviceStates"`
}

// AutoModeState is the serialized form of the auto-mode controller
// state. Instants are epoch milliseconds.
type AutoModeState struct {
	CurrentMode       string   `json:"currentMode"`
	LastSwitchTime    int64    `json:"lastSwitchTime"`
	LastOnTime        int64    `json:"lastOnTime"`
	LastOffTime       int64    `json:"lastOffTime"`
	EnrolledDeviceIDs []string `json:"enrolledDeviceIds"`
}

// AccessoryIdentity maps a cloud device ID to the stable identifiers the
// local controller sees, so a device stays the same accessory across
// restarts.
type AccessoryIdentity struct {
	DeviceID         string `json:"deviceId"`
	Name             string `json:"name"`
	UUID             string `json:"uuid"`
	Manufacturer     string `json:"manufacturer,omitempty"`
	Model            string `json:"model,omitempty"`
	SerialNumber     string `json:"serialNumber,omitempty"`
	FirmwareRevision string `json:"firmwareRevision,omitempty"`
}

// jsonStore is the common core of the typed stores: a mutex-guarded
// path with atomic saves and missing-file-tolerant loads.
type jsonStore struct {
	mu   sync.Mutex
	path string
}

func (s *jsonStore) save(v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return writeFileAtomic(s.path, data)
}

// load reads the file into v. Returns (false, nil) if the file does not
// exist.
func (s *jsonStore) load(v any) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, err
	}
	return true, nil
}

func (s *jsonStore) clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := os.Remove(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// TokenStore persists the OAuth token.
type TokenStore struct {
	jsonStore
}

// NewTokenStore creates a token store at path.
func NewTokenStore(path string) *TokenStore {
	return &TokenStore{jsonStore{path: path}}
}

// Save persists the token atomically.
func (s *TokenStore) Save(tok *Token) error { return s.save(tok) }

// Load reads the token. Returns nil, nil if no token file exists.
func (s *TokenStore) Load() (*Token, error) {
	tok := &Token{}
	ok, err := s.load(tok)
	if err != nil || !ok {
		return nil, err
	}
	return tok, nil
}

// Clear removes the token file. Used on logout.
func (s *TokenStore) Clear() error { return s.clear() }

// CoordinatorStore persists the coordinator's device state map.
type CoordinatorStore struct {
	jsonStore
}

// NewCoordinatorStore creates a coordinator state store at path.
func NewCoordinatorStore(path string) *CoordinatorStore {
	return &CoordinatorStore{jsonStore{path: path}}
}

// Save persists the coordinator state atomically.
func (s *CoordinatorStore) Save(state *CoordinatorState) error { return s.save(state) }

// Load reads the coordinator state. Returns nil, nil if absent.
func (s *CoordinatorStore) Load() (*CoordinatorState, error) {
	state := &CoordinatorState{}
	ok, err := s.load(state)
	if err != nil || !ok {
		return nil, err
	}
	return state, nil
}

// AutoModeStore persists the auto-mode controller state.
type AutoModeStore struct {
	jsonStore
}

// NewAutoModeStore creates an auto-mode state store at path.
func NewAutoModeStore(path string) *AutoModeStore {
	return &AutoModeStore{jsonStore{path: path}}
}

// Save persists the controller state atomically.
func (s *AutoModeStore) Save(state *AutoModeState) error { return s.save(state) }

// Load reads the controller state. Returns nil, nil if absent.
func (s *AutoModeStore) Load() (*AutoModeState, error) {
	state := &AutoModeState{}
	ok, err := s.load(state)
	if err != nil || !ok {
		return nil, err
	}
	return state, nil
}

// CacheStore persists the accessory identity cache as a JSON array.
type CacheStore struct {
	jsonStore
}

// NewCacheStore creates an accessory cache store at path.
func NewCacheStore(path string) *CacheStore {
	return &CacheStore{jsonStore{path: path}}
}

// Save persists the identities atomically.
func (s *CacheStore) Save(identities []AccessoryIdentity) error { return s.save(identities) }

// Load reads the identities. Returns nil, nil if absent.
func (s *CacheStore) Load() ([]AccessoryIdentity, error) {
	var identities []AccessoryIdentity
	ok, err := s.load(&identities)
	if err != nil || !ok {
		return nil, err
	}
	return identities, nil
}

// PluginStateStore persists per-plugin state in a single file, keyed by
// plugin name. Each plugin sees only its own namespace.
type PluginStateStore struct {
	mu    sync.Mutex
	path  string
	cache map[string]json.RawMessage
}

// NewPluginStateStore creates a plugin state store at path.
func NewPluginStateStore(path string) *PluginStateStore {
	return &PluginStateStore{path: path}
}

func (s *PluginStateStore) ensureLoaded() error {
	if s.cache != nil {
		return nil
	}
	s.cache = make(map[string]json.RawMessage)

	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	return json.Unmarshal(data, &s.cache)
}

// Get unmarshals the named plugin's state into v. Returns false if the
// plugin has no stored state.
func (s *PluginStateStore) Get(name string, v any) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureLoaded(); err != nil {
		return false, err
	}
	raw, ok := s.cache[name]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(raw, v)
}

// Set stores the named plugin's state and persists the file atomically.
func (s *PluginStateStore) Set(name string, v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureLoaded(); err != nil {
		return err
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	s.cache[name] = raw

	data, err := json.MarshalIndent(s.cache, "", "  ")
	if err != nil {
		return err
	}
	return writeFileAtomic(s.path, data)
}
