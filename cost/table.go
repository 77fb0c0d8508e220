package cost

import (
	"sync"

	"canvasflow/models"
)

// Config is the cost-relevant slice of a node's configuration.
type Config struct {
	Type        models.NodeType
	Provider    string
	Model       string
	Resolution  string
	DurationSec int
}

// ConfigFor extracts the pricing configuration from a node. Non-generation
// nodes return a zero Config that always predicts zero.
func ConfigFor(n *models.Node) Config {
	switch data := n.Data.(type) {
	case *models.GenerateImageData:
		return Config{Type: n.Type, Provider: data.Provider, Model: data.Model, Resolution: data.Resolution}
	case *models.GenerateVideoData:
		return Config{Type: n.Type, Provider: data.Provider, Model: data.Model, Resolution: data.Resolution, DurationSec: data.DurationSec}
	case *models.LLMGenerateData:
		return Config{Type: n.Type, Provider: data.Provider, Model: data.Model}
	}
	return Config{Type: n.Type}
}

// Tier buckets the configuration into a price tier: resolution size for
// images, duration for video, a single flat tier for text.
func (c Config) Tier() string {
	switch c.Type {
	case models.TypeGenerateVideo:
		d := c.DurationSec
		if d <= 0 {
			d = 5
		}
		switch {
		case d <= 5:
			return "5s"
		case d <= 10:
			return "10s"
		default:
			return "30s"
		}
	case models.TypeLLMGenerate:
		return "call"
	}
	preset, ok := models.ResolutionPresets[c.Resolution]
	if !ok {
		return "1024"
	}
	side := preset.Width
	if preset.Height > side {
		side = preset.Height
	}
	switch {
	case side <= 512:
		return "512"
	case side <= 1024:
		return "1024"
	default:
		return "2048"
	}
}

// Table is the static price table keyed by (provider, model, tier). An entry
// with an empty tier acts as the model's fallback price.
type Table struct {
	mu     sync.RWMutex
	prices map[string]float64
}

// NewTable builds a table from price rows. Later rows win on duplicate keys.
func NewTable(prices []models.Price) *Table {
	t := &Table{prices: make(map[string]float64, len(prices))}
	for _, p := range prices {
		t.prices[priceKey(p.Provider, p.Model, p.Tier)] = p.USD
	}
	return t
}

// DefaultTable returns a table with rough catalog prices for the common
// hosted models, used when no pricing file is configured.
func DefaultTable() *Table {
	return NewTable([]models.Price{
		{Provider: "fal", Model: "flux/schnell", Tier: "512", USD: 0.002},
		{Provider: "fal", Model: "flux/schnell", Tier: "1024", USD: 0.003},
		{Provider: "fal", Model: "flux/dev", Tier: "1024", USD: 0.025},
		{Provider: "fal", Model: "flux/dev", Tier: "2048", USD: 0.05},
		{Provider: "fal", Model: "flux-pro/v1.1", USD: 0.04},
		{Provider: "fal", Model: "recraft-v3", USD: 0.04},
		{Provider: "fal", Model: "kling-video/v1.6/standard", Tier: "5s", USD: 0.28},
		{Provider: "fal", Model: "kling-video/v1.6/standard", Tier: "10s", USD: 0.56},
		{Provider: "replicate", Model: "black-forest-labs/flux-schnell", USD: 0.003},
		{Provider: "replicate", Model: "black-forest-labs/flux-1.1-pro", USD: 0.04},
		{Provider: "openai", Model: "gpt-4o-mini", Tier: "call", USD: 0.002},
		{Provider: "openai", Model: "gpt-4o", Tier: "call", USD: 0.02},
	})
}

// Lookup resolves a unit price; exact tier first, then the model's fallback.
func (t *Table) Lookup(provider, model, tier string) (float64, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if usd, ok := t.prices[priceKey(provider, model, tier)]; ok {
		return usd, true
	}
	usd, ok := t.prices[priceKey(provider, model, "")]
	return usd, ok
}

// Len returns the number of price rows.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.prices)
}

func priceKey(provider, model, tier string) string {
	return provider + "|" + model + "|" + tier
}
