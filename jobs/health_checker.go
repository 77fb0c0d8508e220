// Package jobs runs the background maintenance work: scheduled provider
// health probes feeding the health tracker.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/go-co-op/gocron/v2"

	"canvasflow/health"
	"canvasflow/metrics"
	"canvasflow/models"
	"canvasflow/providers"
)

const (
	defaultProbeTimeout = 15 * time.Second
	// pause between providers so a fleet of probes does not burst out at once
	probeStagger = 2 * time.Second
)

// HealthChecker probes every registered provider on an interval and records
// the results in the health tracker. A probe is a model listing: cheap, and
// it tells us which capabilities the provider currently serves.
type HealthChecker struct {
	scheduler    gocron.Scheduler
	adapters     *providers.Registry
	tracker      *health.Tracker
	interval     time.Duration
	probeTimeout time.Duration
}

// NewHealthChecker creates a checker. It does not probe until Start is
// called.
func NewHealthChecker(adapters *providers.Registry, tracker *health.Tracker, interval time.Duration) (*HealthChecker, error) {
	scheduler, err := gocron.NewScheduler(
		gocron.WithLocation(time.UTC),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}

	return &HealthChecker{
		scheduler:    scheduler,
		adapters:     adapters,
		tracker:      tracker,
		interval:     interval,
		probeTimeout: defaultProbeTimeout,
	}, nil
}

// Start schedules the periodic probe and kicks off an immediate first pass.
func (hc *HealthChecker) Start() error {
	_, err := hc.scheduler.NewJob(
		gocron.DurationJob(hc.interval),
		gocron.NewTask(hc.CheckAll),
		gocron.WithName("provider-health-check"),
	)
	if err != nil {
		return fmt.Errorf("failed to schedule health check: %w", err)
	}

	hc.scheduler.Start()
	go hc.CheckAll()
	log.Printf("⏰ [HEALTH] Provider health checks running every %v", hc.interval)
	return nil
}

// Stop shuts the scheduler down.
func (hc *HealthChecker) Stop() error {
	log.Println("⏹️ [HEALTH] Stopping provider health checks...")
	return hc.scheduler.Shutdown()
}

// CheckAll probes every registered provider, staggered so probes do not
// burst out together.
func (hc *HealthChecker) CheckAll() {
	ids := hc.adapters.IDs()
	if len(ids) == 0 {
		return
	}
	log.Printf("🩺 [HEALTH] Probing %d provider(s)", len(ids))
	for i, id := range ids {
		if i > 0 {
			time.Sleep(probeStagger)
		}
		hc.CheckProvider(id)
	}
}

// CheckProvider probes a single provider by listing its models.
func (hc *HealthChecker) CheckProvider(id string) {
	adapter, err := hc.adapters.Get(id)
	if err != nil {
		return // unregistered between listing and probing
	}

	ctx, cancel := context.WithTimeout(context.Background(), hc.probeTimeout)
	defer cancel()
	listed, err := adapter.ListModels(ctx, models.ListFilter{})
	if err != nil {
		hc.recordFailure(id, err)
		return
	}

	served := capabilitiesOf(listed)
	for _, c := range health.AllCapabilities {
		if !served[c] {
			continue
		}
		hc.tracker.MarkHealthy(id, c)
		metrics.SetProviderHealth(id, string(c), true)
	}
}

// recordFailure marks the provider down. Rate-limit responses go into a
// cooldown window instead of counting toward the unhealthy threshold: the
// provider works, we just hit its quota.
func (hc *HealthChecker) recordFailure(id string, err error) {
	var statusErr *providers.StatusError
	if errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusTooManyRequests {
		for _, c := range health.AllCapabilities {
			hc.tracker.SetCooldown(id, c, 0)
		}
		return
	}
	for _, c := range health.AllCapabilities {
		hc.tracker.MarkUnhealthy(id, c, err.Error())
		metrics.SetProviderHealth(id, string(c), false)
	}
}

// capabilitiesOf collects the capability tags across a model listing. A
// listing with no tags at all counts as serving everything: the provider is
// reachable and old backends do not tag their models.
func capabilitiesOf(listed []models.Model) map[health.Capability]bool {
	served := make(map[health.Capability]bool)
	tagged := false
	for _, m := range listed {
		for _, c := range m.Capabilities {
			served[health.Capability(c)] = true
			tagged = true
		}
	}
	if !tagged {
		for _, c := range health.AllCapabilities {
			served[c] = true
		}
	}
	return served
}
