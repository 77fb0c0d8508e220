package canvasflow

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"canvasflow/config"
	"canvasflow/models"
)

type stubAdapter struct {
	calls atomic.Int32

	mu      sync.Mutex
	prompts []string
}

func (a *stubAdapter) ListModels(_ context.Context, _ models.ListFilter) ([]models.Model, error) {
	return []models.Model{{ID: "mock-model", Provider: "mock"}}, nil
}

func (a *stubAdapter) Generate(_ context.Context, input models.GenerationInput) (*models.GenerationOutput, error) {
	a.calls.Add(1)
	a.mu.Lock()
	a.prompts = append(a.prompts, input.Prompt)
	a.mu.Unlock()
	return &models.GenerationOutput{URL: "https://cdn.test/studio.png"}, nil
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	return &config.Config{
		Environment:            "development",
		ProvidersPath:          filepath.Join(dir, "providers.json"),
		PricingPath:            filepath.Join(dir, "pricing.json"),
		HealthFailureThreshold: 3,
		HealthCooldown:         time.Hour,
		UpdateBufferSize:       64,
		WatchDebounce:          20 * time.Millisecond,
	}
}

func writeFile(t *testing.T, path, payload string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(payload), 0o644); err != nil {
		t.Fatal(err)
	}
}

func buildPromptToImage(t *testing.T, s *Studio) {
	t.Helper()
	g := s.Graph()
	err := g.AddNode(&models.Node{
		ID: "p", Type: models.TypePrompt,
		Data: &models.PromptData{Text: "a lighthouse at dusk"},
	})
	if err != nil {
		t.Fatal(err)
	}
	err = g.AddNode(&models.Node{
		ID: "g", Type: models.TypeGenerateImage,
		Data: &models.GenerateImageData{Provider: "mock", Model: "mock-model"},
	})
	if err != nil {
		t.Fatal(err)
	}
	err = g.AddEdge(&models.Edge{
		ID: "e1", Source: "p", SourceHandle: models.HandleText,
		Target: "g", TargetHandle: models.HandlePrompt,
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestStudioRunsPromptToImage(t *testing.T) {
	cfg := testConfig(t)
	writeFile(t, cfg.PricingPath, `{"prices":[{"provider":"mock","model":"mock-model","usd":0.02}]}`)

	s, err := New(cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer s.Close()

	fa := &stubAdapter{}
	s.Providers().Register("mock", fa)
	buildPromptToImage(t, s)

	if got := s.TotalPredicted(); got != 0.02 {
		t.Errorf("TotalPredicted = %f, want 0.02", got)
	}

	res, err := s.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if res.Status != "completed" {
		t.Fatalf("run status = %q (errors: %v)", res.Status, res.Errors)
	}
	if fa.calls.Load() != 1 {
		t.Errorf("provider called %d times, want 1", fa.calls.Load())
	}
	if got := s.History().Len("g"); got != 1 {
		t.Errorf("history length = %d, want 1", got)
	}
	if got := s.Incurred(); got != 0.02 {
		t.Errorf("Incurred = %f, want 0.02", got)
	}
}

func TestStudioExportAndReload(t *testing.T) {
	cfg := testConfig(t)
	s, err := New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	s.Providers().Register("mock", &stubAdapter{})
	buildPromptToImage(t, s)
	if _, err := s.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	doc := s.ExportWorkflow()
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	s2, err := New(testConfig(t))
	if err != nil {
		t.Fatal(err)
	}
	defer s2.Close()
	fa := &stubAdapter{}
	s2.Providers().Register("mock", fa)

	if err := s2.LoadWorkflow(doc); err != nil {
		t.Fatalf("LoadWorkflow failed: %v", err)
	}
	node, ok := s2.Graph().Node("g")
	if !ok || node.Status != models.StatusSuccess {
		t.Fatalf("reloaded g = %+v, want persisted success", node)
	}
	if got := s2.History().Len("g"); got != 1 {
		t.Errorf("reloaded history length = %d, want 1", got)
	}

	// re-running just the generation reuses the stored upstream prompt
	res, err := s2.RunNode(context.Background(), "g")
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != "completed" {
		t.Fatalf("rerun status = %q (errors: %v)", res.Status, res.Errors)
	}
	fa.mu.Lock()
	prompt := fa.prompts[len(fa.prompts)-1]
	fa.mu.Unlock()
	if prompt != "a lighthouse at dusk" {
		t.Errorf("rerun used prompt %q, want the stored upstream text", prompt)
	}
	if got := s2.History().Len("g"); got != 2 {
		t.Errorf("history length after rerun = %d, want 2", got)
	}
}

func TestStudioSyncsProvidersFromFile(t *testing.T) {
	cfg := testConfig(t)
	writeFile(t, cfg.ProvidersPath, `{
		"providers": [
			{"id": "fal", "name": "Fal", "base_url": "http://localhost:9", "enabled": true},
			{"id": "off", "name": "Disabled", "base_url": "http://localhost:9", "enabled": false}
		]
	}`)

	s, err := New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	ids := s.Providers().IDs()
	if len(ids) != 1 || ids[0] != "fal" {
		t.Errorf("registered providers = %v, want [fal]", ids)
	}
}

func TestStudioCloseIsIdempotent(t *testing.T) {
	s, err := New(testConfig(t))
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("first Close: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}
