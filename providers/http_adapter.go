package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"

	"canvasflow/models"
)

const (
	// generation calls routinely run for minutes
	requestTimeout = 180 * time.Second

	modelCacheTTL     = 5 * time.Minute
	modelCacheCleanup = 10 * time.Minute
)

// HTTPAdapter implements Adapter against the provider HTTP wire contract:
// GET /models for discovery, POST /generate for generation. Model listings
// are cached per filter; an optional client-side rate limit smooths bursts.
type HTTPAdapter struct {
	id      string
	name    string
	baseURL string
	apiKey  string
	client  *http.Client
	limiter *rate.Limiter
	cache   *cache.Cache
}

// NewHTTPAdapter builds an adapter from a provider config entry.
func NewHTTPAdapter(cfg models.ProviderConfig) *HTTPAdapter {
	var limiter *rate.Limiter
	if cfg.RPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RPS), 1)
	}
	return &HTTPAdapter{
		id:      cfg.ID,
		name:    cfg.Name,
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		client:  &http.Client{Timeout: requestTimeout},
		limiter: limiter,
		cache:   cache.New(modelCacheTTL, modelCacheCleanup),
	}
}

// ID returns the provider id this adapter serves.
func (a *HTTPAdapter) ID() string { return a.id }

// ListModels fetches the provider's model catalog, narrowed by the filter.
// Results are cached for a few minutes per filter.
func (a *HTTPAdapter) ListModels(ctx context.Context, filter models.ListFilter) ([]models.Model, error) {
	cacheKey := listCacheKey(filter)
	if cached, found := a.cache.Get(cacheKey); found {
		return cached.([]models.Model), nil
	}

	if err := a.wait(ctx); err != nil {
		return nil, err
	}

	u, err := url.Parse(a.baseURL + "/models")
	if err != nil {
		return nil, fmt.Errorf("invalid provider base URL: %w", err)
	}
	q := u.Query()
	if filter.Search != "" {
		q.Set("search", filter.Search)
	}
	if filter.Provider != "" {
		q.Set("provider", filter.Provider)
	}
	if len(filter.Capabilities) > 0 {
		caps := make([]string, len(filter.Capabilities))
		for i, c := range filter.Capabilities {
			caps[i] = string(c)
		}
		q.Set("capabilities", strings.Join(caps, ","))
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create models request: %w", err)
	}
	a.setAuth(req)

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read models response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	var parsed models.ModelsResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("failed to decode models response: %w", err)
	}
	if !parsed.Success {
		return nil, fmt.Errorf("provider error: %s", parsed.Error)
	}
	for i := range parsed.Models {
		if parsed.Models[i].Provider == "" {
			parsed.Models[i].Provider = a.id
		}
	}

	a.cache.Set(cacheKey, parsed.Models, cache.DefaultExpiration)
	log.Printf("📋 [PROVIDER] %s: fetched %d models", a.name, len(parsed.Models))
	return parsed.Models, nil
}

// Generate performs one generation call and normalizes the response.
func (a *HTTPAdapter) Generate(ctx context.Context, input models.GenerationInput) (*models.GenerationOutput, error) {
	if err := a.wait(ctx); err != nil {
		return nil, err
	}

	payload, err := json.Marshal(input)
	if err != nil {
		return nil, fmt.Errorf("failed to encode generation request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/generate", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create generation request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	a.setAuth(req)

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read generation response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	var parsed models.GenerateResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("failed to decode generation response: %w", err)
	}
	if !parsed.Success {
		return nil, fmt.Errorf("generation failed: %s", parsed.Error)
	}
	if parsed.URL == "" && parsed.Data == "" && parsed.Text == "" {
		return nil, fmt.Errorf("provider returned an empty result")
	}
	return &models.GenerationOutput{URL: parsed.URL, Data: parsed.Data, Text: parsed.Text}, nil
}

func (a *HTTPAdapter) wait(ctx context.Context) error {
	if a.limiter == nil {
		return nil
	}
	return a.limiter.Wait(ctx)
}

func (a *HTTPAdapter) setAuth(req *http.Request) {
	if a.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+a.apiKey)
	}
}

func listCacheKey(filter models.ListFilter) string {
	caps := make([]string, len(filter.Capabilities))
	for i, c := range filter.Capabilities {
		caps[i] = string(c)
	}
	return fmt.Sprintf("%s|%s|%s", filter.Search, filter.Provider, strings.Join(caps, ","))
}
