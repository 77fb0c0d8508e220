// Package health tracks provider availability per generation capability so
// the engine and hosts can route around failing backends.
package health

import (
	"fmt"
	"log"
	"sort"
	"sync"
	"time"
)

// Capability identifies what kind of generation a health entry covers.
type Capability string

const (
	CapabilityTextToImage  Capability = "text-to-image"
	CapabilityImageToImage Capability = "image-to-image"
	CapabilityTextToVideo  Capability = "text-to-video"
	CapabilityImageToVideo Capability = "image-to-video"
)

// AllCapabilities lists every tracked capability.
var AllCapabilities = []Capability{
	CapabilityTextToImage,
	CapabilityImageToImage,
	CapabilityTextToVideo,
	CapabilityImageToVideo,
}

// Status is a provider's health for one capability.
type Status string

const (
	StatusUnknown   Status = "unknown"
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
	StatusCooldown  Status = "cooldown" // quota or rate-limit backoff window
)

// ProviderHealth is the tracked health record for one (provider, capability)
// pair.
type ProviderHealth struct {
	ProviderID    string     `json:"provider_id"`
	ProviderName  string     `json:"provider_name"`
	Capability    Capability `json:"capability"`
	Status        Status     `json:"status"`
	LastChecked   time.Time  `json:"last_checked"`
	LastSuccessAt time.Time  `json:"last_success_at,omitempty"`
	FailureCount  int        `json:"failure_count"`
	LastError     string     `json:"last_error,omitempty"`
	CooldownUntil time.Time  `json:"cooldown_until,omitempty"`
}

// Tracker holds health records keyed by provider and capability. Consecutive
// failures past the threshold flip a record to unhealthy; any success flips
// it back.
type Tracker struct {
	mu               sync.RWMutex
	entries          map[string]*ProviderHealth
	failureThreshold int
	cooldown         time.Duration
}

// NewTracker creates a tracker. Non-positive arguments fall back to 3
// failures and a 1 hour cooldown.
func NewTracker(failureThreshold int, cooldown time.Duration) *Tracker {
	if failureThreshold <= 0 {
		failureThreshold = 3
	}
	if cooldown <= 0 {
		cooldown = time.Hour
	}
	return &Tracker{
		entries:          make(map[string]*ProviderHealth),
		failureThreshold: failureThreshold,
		cooldown:         cooldown,
	}
}

func key(providerID string, c Capability) string {
	return fmt.Sprintf("%s:%s", providerID, c)
}

// Register ensures a record exists for the pair without changing its status.
func (t *Tracker) Register(providerID, providerName string, c Capability) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ensureLocked(providerID, providerName, c)
}

func (t *Tracker) ensureLocked(providerID, providerName string, c Capability) *ProviderHealth {
	k := key(providerID, c)
	if e, ok := t.entries[k]; ok {
		if providerName != "" {
			e.ProviderName = providerName
		}
		return e
	}
	e := &ProviderHealth{
		ProviderID:   providerID,
		ProviderName: providerName,
		Capability:   c,
		Status:       StatusUnknown,
	}
	t.entries[k] = e
	return e
}

// MarkHealthy records a successful check or generation.
func (t *Tracker) MarkHealthy(providerID string, c Capability) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e := t.ensureLocked(providerID, "", c)
	now := time.Now()
	if e.Status != StatusHealthy {
		log.Printf("💚 [HEALTH] Provider '%s' healthy for %s", providerID, c)
	}
	e.Status = StatusHealthy
	e.LastChecked = now
	e.LastSuccessAt = now
	e.FailureCount = 0
	e.LastError = ""
	e.CooldownUntil = time.Time{}
}

// MarkUnhealthy records a failed check or generation. The record flips to
// unhealthy once consecutive failures reach the threshold.
func (t *Tracker) MarkUnhealthy(providerID string, c Capability, errMsg string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e := t.ensureLocked(providerID, "", c)
	e.LastChecked = time.Now()
	e.FailureCount++
	e.LastError = truncateStr(errMsg, 200)
	if e.FailureCount >= t.failureThreshold && e.Status != StatusUnhealthy {
		e.Status = StatusUnhealthy
		log.Printf("❤️‍🩹 [HEALTH] Provider '%s' unhealthy for %s after %d failures: %s",
			providerID, c, e.FailureCount, e.LastError)
	}
}

// SetCooldown puts the pair into a backoff window, typically after a quota
// or rate-limit response. A zero duration uses the tracker default.
func (t *Tracker) SetCooldown(providerID string, c Capability, d time.Duration) {
	if d <= 0 {
		d = t.cooldown
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	e := t.ensureLocked(providerID, "", c)
	e.Status = StatusCooldown
	e.LastChecked = time.Now()
	e.CooldownUntil = time.Now().Add(d)
	log.Printf("⏸️ [HEALTH] Provider '%s' in cooldown for %s until %s",
		providerID, c, e.CooldownUntil.Format(time.RFC3339))
}

// IsHealthy reports whether the pair is usable: healthy, never checked, or
// out of its cooldown window. Unknown pairs are optimistically usable.
func (t *Tracker) IsHealthy(providerID string, c Capability) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.entries[key(providerID, c)]
	if !ok {
		return true
	}
	switch e.Status {
	case StatusUnhealthy:
		return false
	case StatusCooldown:
		return time.Now().After(e.CooldownUntil)
	default:
		return true
	}
}

// Get returns a copy of the record for the pair.
func (t *Tracker) Get(providerID string, c Capability) (ProviderHealth, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.entries[key(providerID, c)]
	if !ok {
		return ProviderHealth{}, false
	}
	return *e, true
}

// Healthy returns the usable records for a capability, most recently
// successful first.
func (t *Tracker) Healthy(c Capability) []ProviderHealth {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []ProviderHealth
	now := time.Now()
	for _, e := range t.entries {
		if e.Capability != c {
			continue
		}
		if e.Status == StatusUnhealthy {
			continue
		}
		if e.Status == StatusCooldown && now.Before(e.CooldownUntil) {
			continue
		}
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].LastSuccessAt.Equal(out[j].LastSuccessAt) {
			return out[i].LastSuccessAt.After(out[j].LastSuccessAt)
		}
		return out[i].ProviderID < out[j].ProviderID
	})
	return out
}

// All returns a copy of every record, sorted by provider then capability.
func (t *Tracker) All() []ProviderHealth {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]ProviderHealth, 0, len(t.entries))
	for _, e := range t.entries {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ProviderID != out[j].ProviderID {
			return out[i].ProviderID < out[j].ProviderID
		}
		return out[i].Capability < out[j].Capability
	})
	return out
}

// Remove drops every record for a provider, used when it is unregistered.
func (t *Tracker) Remove(providerID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, c := range AllCapabilities {
		delete(t.entries, key(providerID, c))
	}
}

func truncateStr(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
