package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"ENVIRONMENT", "PROVIDERS_PATH", "PRICING_PATH", "COST_DB_PATH",
		"HEALTH_CHECK_INTERVAL", "HEALTH_FAILURE_THRESHOLD", "HEALTH_COOLDOWN",
		"UPDATE_BUFFER_SIZE", "WATCH_DEBOUNCE", "METRICS_ENABLED",
	} {
		t.Setenv(key, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg := Load()

	if cfg.Environment != "development" {
		t.Errorf("Environment = %q, want development", cfg.Environment)
	}
	if cfg.ProvidersPath != "providers.json" || cfg.PricingPath != "pricing.json" {
		t.Errorf("paths = %q / %q", cfg.ProvidersPath, cfg.PricingPath)
	}
	if cfg.HealthCheckInterval != 5*time.Minute {
		t.Errorf("HealthCheckInterval = %v", cfg.HealthCheckInterval)
	}
	if cfg.HealthFailureThreshold != 3 {
		t.Errorf("HealthFailureThreshold = %d", cfg.HealthFailureThreshold)
	}
	if cfg.UpdateBufferSize != 256 {
		t.Errorf("UpdateBufferSize = %d", cfg.UpdateBufferSize)
	}
	if cfg.MetricsEnabled {
		t.Error("MetricsEnabled defaults on, want off")
	}
}

func TestLoadFromEnvironment(t *testing.T) {
	clearEnv(t)
	t.Setenv("ENVIRONMENT", "production")
	t.Setenv("HEALTH_CHECK_INTERVAL", "30s")
	t.Setenv("HEALTH_FAILURE_THRESHOLD", "5")
	t.Setenv("WATCH_DEBOUNCE", "50ms")
	t.Setenv("METRICS_ENABLED", "true")

	cfg := Load()

	if cfg.Environment != "production" {
		t.Errorf("Environment = %q", cfg.Environment)
	}
	if cfg.HealthCheckInterval != 30*time.Second {
		t.Errorf("HealthCheckInterval = %v, want 30s", cfg.HealthCheckInterval)
	}
	if cfg.HealthFailureThreshold != 5 {
		t.Errorf("HealthFailureThreshold = %d, want 5", cfg.HealthFailureThreshold)
	}
	if cfg.WatchDebounce != 50*time.Millisecond {
		t.Errorf("WatchDebounce = %v, want 50ms", cfg.WatchDebounce)
	}
	if !cfg.MetricsEnabled {
		t.Error("METRICS_ENABLED=true not picked up")
	}
}

func TestLoadMalformedEnvFallsBack(t *testing.T) {
	clearEnv(t)
	t.Setenv("HEALTH_CHECK_INTERVAL", "not-a-duration")
	t.Setenv("HEALTH_FAILURE_THRESHOLD", "many")

	cfg := Load()

	if cfg.HealthCheckInterval != 5*time.Minute {
		t.Errorf("bad duration did not fall back: %v", cfg.HealthCheckInterval)
	}
	if cfg.HealthFailureThreshold != 3 {
		t.Errorf("bad int did not fall back: %d", cfg.HealthFailureThreshold)
	}
}

func TestLoadProvidersFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "providers.json")
	payload := `{
		"providers": [
			{"id": "fal", "name": "Fal", "base_url": "https://api.fal.test", "api_key": "sk-1", "enabled": true, "rps": 2},
			{"id": "local", "name": "Local SD", "base_url": "http://localhost:7860", "enabled": false}
		]
	}`
	if err := os.WriteFile(path, []byte(payload), 0o644); err != nil {
		t.Fatal(err)
	}

	file, err := LoadProviders(path)
	if err != nil {
		t.Fatalf("LoadProviders failed: %v", err)
	}
	if len(file.Providers) != 2 {
		t.Fatalf("got %d providers, want 2", len(file.Providers))
	}
	first := file.Providers[0]
	if first.ID != "fal" || first.BaseURL != "https://api.fal.test" || !first.Enabled || first.RPS != 2 {
		t.Errorf("first provider = %+v", first)
	}
	if file.Providers[1].Enabled {
		t.Error("disabled provider parsed as enabled")
	}
}

func TestLoadProvidersErrors(t *testing.T) {
	if _, err := LoadProviders(filepath.Join(t.TempDir(), "nope.json")); err == nil {
		t.Error("missing file did not error")
	}

	path := filepath.Join(t.TempDir(), "broken.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadProviders(path); err == nil {
		t.Error("malformed JSON did not error")
	}
}

func TestLoadPricingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pricing.json")
	payload := `{
		"prices": [
			{"provider": "fal", "model": "flux/dev", "tier": "1024", "usd": 0.025},
			{"provider": "fal", "model": "flux/dev", "usd": 0.03}
		]
	}`
	if err := os.WriteFile(path, []byte(payload), 0o644); err != nil {
		t.Fatal(err)
	}

	file, err := LoadPricing(path)
	if err != nil {
		t.Fatalf("LoadPricing failed: %v", err)
	}
	if len(file.Prices) != 2 {
		t.Fatalf("got %d prices, want 2", len(file.Prices))
	}
	if file.Prices[0].Tier != "1024" || file.Prices[0].USD != 0.025 {
		t.Errorf("first price = %+v", file.Prices[0])
	}
	if file.Prices[1].Tier != "" {
		t.Errorf("fallback price has tier %q, want empty", file.Prices[1].Tier)
	}
}

func TestWatchFileFiresOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "providers.json")
	if err := os.WriteFile(path, []byte(`{"providers":[]}`), 0o644); err != nil {
		t.Fatal(err)
	}

	fired := make(chan struct{}, 4)
	stop, err := WatchFile(path, 20*time.Millisecond, func() {
		fired <- struct{}{}
	})
	if err != nil {
		t.Fatalf("WatchFile failed: %v", err)
	}
	defer stop()

	if err := os.WriteFile(path, []byte(`{"providers":[{"id":"x"}]}`), 0o644); err != nil {
		t.Fatal(err)
	}

	select {
	case <-fired:
	case <-time.After(3 * time.Second):
		t.Fatal("onChange never fired after a write")
	}

	// stopping twice is safe
	stop()
	stop()
}

func TestWatchFileIgnoresSiblings(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "providers.json")
	if err := os.WriteFile(path, []byte(`{}`), 0o644); err != nil {
		t.Fatal(err)
	}

	fired := make(chan struct{}, 4)
	stop, err := WatchFile(path, 10*time.Millisecond, func() {
		fired <- struct{}{}
	})
	if err != nil {
		t.Fatal(err)
	}
	defer stop()

	if err := os.WriteFile(filepath.Join(dir, "other.json"), []byte(`{}`), 0o644); err != nil {
		t.Fatal(err)
	}

	select {
	case <-fired:
		t.Error("watcher fired for a sibling file")
	case <-time.After(200 * time.Millisecond):
	}
}
