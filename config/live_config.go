package config

import (
	"sync"
	"time"
)

// ConfigObserver is notified after every accepted config change.
type ConfigObserver interface {
	OnConfigUpdate(cfg *Config)
}

// ObserverFunc adapts a plain function to ConfigObserver.
type ObserverFunc func(cfg *Config)

func (f ObserverFunc) OnConfigUpdate(cfg *Config) { f(cfg) }

// LiveConfig holds the current config behind a lock and fans changes out to
// observers. The refresh loop, the assistants and the HTTP settings endpoint
// all read through it.
type LiveConfig struct {
	mu          sync.RWMutex
	config      *Config
	lastUpdated time.Time

	obsMu     sync.RWMutex
	observers []ConfigObserver
}

// NewLiveConfig creates a new LiveConfig with the given initial config.
func NewLiveConfig(initial *Config) *LiveConfig {
	if initial == nil {
		initial = Defaults()
	}
	return &LiveConfig{
		config:      initial.Clone(),
		lastUpdated: time.Now(),
	}
}

// Get returns a copy of the current config.
func (lc *LiveConfig) Get() *Config {
	lc.mu.RLock()
	defer lc.mu.RUnlock()
	return lc.config.Clone()
}

// GetDirect returns the current config without cloning. Callers must not
// modify it.
func (lc *LiveConfig) GetDirect() *Config {
	lc.mu.RLock()
	defer lc.mu.RUnlock()
	return lc.config
}

// Update validates and swaps in newConfig, then notifies observers.
func (lc *LiveConfig) Update(newConfig *Config) error {
	if newConfig == nil {
		return nil
	}

	result := newConfig.Validate()
	if !result.Valid {
		return &ConfigValidationError{Errors: result.Errors}
	}

	cloned := newConfig.Clone()

	lc.mu.Lock()
	lc.config = cloned
	lc.lastUpdated = time.Now()
	lc.mu.Unlock()

	// Outside the lock so observers may call Get.
	lc.notifyObservers(cloned)
	return nil
}

// UpdatePartial applies updateFn to a copy of the current config and
// commits it through Update.
func (lc *LiveConfig) UpdatePartial(updateFn func(*Config)) error {
	newConfig := lc.Get()
	updateFn(newConfig)
	return lc.Update(newConfig)
}

func (lc *LiveConfig) AddObserver(obs ConfigObserver) {
	if obs == nil {
		return
	}
	lc.obsMu.Lock()
	defer lc.obsMu.Unlock()
	lc.observers = append(lc.observers, obs)
}

// RemoveObserver drops obs. Only comparable observers can be removed, so an
// ObserverFunc stays registered for the lifetime of the LiveConfig.
func (lc *LiveConfig) RemoveObserver(obs ConfigObserver) {
	if obs == nil {
		return
	}
	if _, isFunc := obs.(ObserverFunc); isFunc {
		return
	}
	lc.obsMu.Lock()
	defer lc.obsMu.Unlock()
	for i, o := range lc.observers {
		if _, isFunc := o.(ObserverFunc); isFunc {
			continue
		}
		if o == obs {
			lc.observers = append(lc.observers[:i], lc.observers[i+1:]...)
			return
		}
	}
}

func (lc *LiveConfig) notifyObservers(cfg *Config) {
	lc.obsMu.RLock()
	observers := make([]ConfigObserver, len(lc.observers))
	copy(observers, lc.observers)
	lc.obsMu.RUnlock()

	for _, obs := range observers {
		obs.OnConfigUpdate(cfg.Clone())
	}
}

// LastUpdated returns when the config was last updated.
func (lc *LiveConfig) LastUpdated() time.Time {
	lc.mu.RLock()
	defer lc.mu.RUnlock()
	return lc.lastUpdated
}

// ConfigValidationError is returned when config validation fails.
type ConfigValidationError struct {
	Errors []ValidationError
}

func (e *ConfigValidationError) Error() string {
	if len(e.Errors) == 0 {
		return "config validation failed"
	}
	return "config validation failed: " + e.Errors[0].Field + ": " + e.Errors[0].Message
}
