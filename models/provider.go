package models

// Capability tags what kind of generation a model supports.
type Capability string

const (
	CapTextToImage  Capability = "text-to-image"
	CapImageToImage Capability = "image-to-image"
	CapTextToVideo  Capability = "text-to-video"
	CapImageToVideo Capability = "image-to-video"
)

// Model is one generation model offered by a provider.
type Model struct {
	ID           string       `json:"id"`
	Name         string       `json:"name"`
	Provider     string       `json:"provider,omitempty"`
	Capabilities []Capability `json:"capabilities,omitempty"`
	CoverImage   string       `json:"coverImage,omitempty"`
}

// HasCapability reports whether the model carries the given capability tag.
func (m Model) HasCapability(c Capability) bool {
	for _, have := range m.Capabilities {
		if have == c {
			return true
		}
	}
	return false
}

// ListFilter narrows a model listing request.
type ListFilter struct {
	Search       string
	Provider     string
	Capabilities []Capability
}

// GenerationInput is the normalized request passed to a provider adapter.
type GenerationInput struct {
	Prompt     string         `json:"prompt,omitempty"`
	Images     []string       `json:"images,omitempty"` // URLs or base64 payloads
	Parameters map[string]any `json:"parameters,omitempty"`
}

// GenerationOutput is the normalized result of a generate call.
type GenerationOutput struct {
	URL  string         `json:"url,omitempty"`
	Data string         `json:"data,omitempty"` // base64
	Text string         `json:"text,omitempty"`
	Meta map[string]any `json:"meta,omitempty"`
}

// ProviderConfig is one entry of providers.json.
type ProviderConfig struct {
	ID      string  `json:"id"`
	Name    string  `json:"name"`
	BaseURL string  `json:"base_url"`
	APIKey  string  `json:"api_key,omitempty"`
	Enabled bool    `json:"enabled"`
	RPS     float64 `json:"rps,omitempty"` // client-side request rate cap, 0 = uncapped
}

// ProvidersFile is the root of providers.json.
type ProvidersFile struct {
	Providers []ProviderConfig `json:"providers"`
}

// ModelsResponse is the wire response of GET /models.
type ModelsResponse struct {
	Success bool    `json:"success"`
	Models  []Model `json:"models"`
	Error   string  `json:"error,omitempty"`
}

// GenerateResponse is the wire response of POST /generate.
type GenerateResponse struct {
	Success bool   `json:"success"`
	URL     string `json:"url,omitempty"`
	Data    string `json:"data,omitempty"`
	Text    string `json:"text,omitempty"`
	Error   string `json:"error,omitempty"`
}
