// Package health tracks the health of the font cache disk tiers
package health

import (
	"fmt"
	"sync"
	"time"

	"github.com/wowfontmanager/fontcache/pkg/errors"
	"github.com/wowfontmanager/fontcache/pkg/types"
)

// HealthState represents the overall health state of a component
type HealthState int

const (
	// StateHealthy indicates the component is fully operational
	StateHealthy HealthState = iota

	// StateDegraded indicates repeated failures; artifacts may be recomputed
	StateDegraded

	// StateReadOnly indicates cached files can be read but not replaced
	StateReadOnly

	// StateUnavailable indicates the component fails every operation
	StateUnavailable
)

// String returns the string representation of a health state
func (s HealthState) String() string {
	switch s {
	case StateHealthy:
		return "healthy"
	case StateDegraded:
		return "degraded"
	case StateReadOnly:
		return "read-only"
	case StateUnavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

// MarshalText encodes the state by name
func (s HealthState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// ComponentHealth tracks the health of a specific component
type ComponentHealth struct {
	Name              string      `json:"name"`
	State             HealthState `json:"state"`
	LastStateChange   time.Time   `json:"last_state_change"`
	LastHealthCheck   time.Time   `json:"last_health_check"`
	ConsecutiveErrors int         `json:"consecutive_errors"`
	LastErrorMessage  string      `json:"last_error_message,omitempty"`
}

// StateChangeCallback is called when a component's health state changes
type StateChangeCallback func(component string, oldState, newState HealthState, err error)

// TrackerConfig configures health tracking behavior
type TrackerConfig struct {
	// ErrorThreshold is the number of consecutive errors before marking a component degraded
	ErrorThreshold int `yaml:"error_threshold" json:"error_threshold"`

	// UnavailableThreshold is the number of consecutive errors before marking unavailable
	UnavailableThreshold int `yaml:"unavailable_threshold" json:"unavailable_threshold"`
}

// DefaultConfig returns a default tracker configuration
func DefaultConfig() TrackerConfig {
	return TrackerConfig{
		ErrorThreshold:       3,
		UnavailableThreshold: 10,
	}
}

// Tracker tracks the health of multiple components and determines overall health
type Tracker struct {
	mu             sync.RWMutex
	components     map[string]*ComponentHealth
	config         TrackerConfig
	stateCallbacks map[HealthState][]StateChangeCallback
}

// NewTracker creates a new health tracker
func NewTracker(config TrackerConfig) *Tracker {
	if config.ErrorThreshold <= 0 {
		config.ErrorThreshold = DefaultConfig().ErrorThreshold
	}
	if config.UnavailableThreshold < config.ErrorThreshold {
		config.UnavailableThreshold = config.ErrorThreshold
	}

	return &Tracker{
		components:     make(map[string]*ComponentHealth),
		config:         config,
		stateCallbacks: make(map[HealthState][]StateChangeCallback),
	}
}

// RegisterComponent registers a new component for health tracking
func (t *Tracker) RegisterComponent(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.components[name]; !exists {
		now := time.Now()
		t.components[name] = &ComponentHealth{
			Name:            name,
			State:           StateHealthy,
			LastStateChange: now,
			LastHealthCheck: now,
		}
	}
}

// RecordSuccess records a successful operation for a component. Each
// success cancels one earlier error; the component recovers at zero.
func (t *Tracker) RecordSuccess(component string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	health, exists := t.components[component]
	if !exists {
		return
	}

	oldState := health.State
	health.LastHealthCheck = time.Now()

	if health.ConsecutiveErrors > 0 {
		health.ConsecutiveErrors--
		if health.ConsecutiveErrors == 0 && health.State != StateHealthy {
			t.transitionState(health, StateHealthy)
		}
	}

	if oldState != health.State {
		t.notifyStateChange(component, oldState, health.State, nil)
	}
}

// RecordError records an error for a component. Unregistered components are ignored.
func (t *Tracker) RecordError(component string, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	health, exists := t.components[component]
	if !exists {
		return
	}

	oldState := health.State
	health.LastHealthCheck = time.Now()
	health.ConsecutiveErrors++
	if err != nil {
		health.LastErrorMessage = err.Error()
	}

	newState := health.State
	switch {
	case health.ConsecutiveErrors >= t.config.UnavailableThreshold:
		newState = StateUnavailable
	case health.ConsecutiveErrors >= t.config.ErrorThreshold:
		if isWriteError(err) {
			newState = StateReadOnly
		} else {
			newState = StateDegraded
		}
	}

	if newState != oldState {
		t.transitionState(health, newState)
		t.notifyStateChange(component, oldState, newState, err)
	}
}

// GetState returns the current health state of a component
func (t *Tracker) GetState(component string) HealthState {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if health, exists := t.components[component]; exists {
		return health.State
	}
	return StateUnavailable
}

// GetComponentHealth returns a copy of the health information for a component
func (t *Tracker) GetComponentHealth(component string) (ComponentHealth, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	health, exists := t.components[component]
	if !exists {
		return ComponentHealth{}, fmt.Errorf("component %s not registered", component)
	}
	return *health, nil
}

// GetAllComponents returns health information for all registered components
func (t *Tracker) GetAllComponents() map[string]ComponentHealth {
	t.mu.RLock()
	defer t.mu.RUnlock()

	result := make(map[string]ComponentHealth, len(t.components))
	for name, health := range t.components {
		result[name] = *health
	}
	return result
}

// GetOverallHealth returns the worst state of any component
func (t *Tracker) GetOverallHealth() HealthState {
	t.mu.RLock()
	defer t.mu.RUnlock()

	overallState := StateHealthy
	for _, health := range t.components {
		if health.State > overallState {
			overallState = health.State
		}
	}
	return overallState
}

// AddStateChangeCallback registers a callback for transitions into state.
// Callbacks run on their own goroutine.
func (t *Tracker) AddStateChangeCallback(state HealthState, callback StateChangeCallback) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.stateCallbacks[state] = append(t.stateCallbacks[state], callback)
}

// transitionState must be called with the lock held
func (t *Tracker) transitionState(health *ComponentHealth, newState HealthState) {
	health.State = newState
	health.LastStateChange = time.Now()

	if newState == StateHealthy {
		health.ConsecutiveErrors = 0
		health.LastErrorMessage = ""
	}
}

func (t *Tracker) notifyStateChange(component string, oldState, newState HealthState, err error) {
	for _, callback := range t.stateCallbacks[newState] {
		go callback(component, oldState, newState, err)
	}
}

// isWriteError reports failures that leave existing files readable
func isWriteError(err error) bool {
	return errors.HasCode(err, errors.ErrCodeStorageWrite)
}

// DiskRecorder feeds disk tier outcomes of an artifact cache into a
// Tracker. Each disk-backed kind is tracked as its own component; a disk
// hit counts as a success and a disk error as a failure.
type DiskRecorder struct {
	types.NopRecorder
	tracker *Tracker
}

var _ types.CacheRecorder = (*DiskRecorder)(nil)

// NewDiskRecorder registers kinds with tracker and returns a recorder for them
func NewDiskRecorder(tracker *Tracker, kinds ...string) *DiskRecorder {
	for _, kind := range kinds {
		tracker.RegisterComponent(kind)
	}
	return &DiskRecorder{tracker: tracker}
}

// RecordCacheHit records a successful disk read
func (r *DiskRecorder) RecordCacheHit(kind, tier string) {
	if tier == "disk" {
		r.tracker.RecordSuccess(kind)
	}
}

// RecordDiskError records a failed disk operation
func (r *DiskRecorder) RecordDiskError(kind, op string, err error) {
	r.tracker.RecordError(kind, err)
}
