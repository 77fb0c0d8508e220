// Package canvasflow is a node-canvas workflow engine for AI content
// generation. A workflow is a graph of nodes (inputs, prompts, image/video/
// text generation, grid splitting) joined by typed edges; the engine runs the
// graph concurrently, streams node state changes, keeps per-node output
// history, and tracks generation cost.
//
// Studio is the front door: it wires the graph model, the execution engine,
// the provider registry, health tracking, cost accounting and the hot-reload
// watchers from one Config.
package canvasflow

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"

	"github.com/google/uuid"

	"canvasflow/config"
	"canvasflow/cost"
	"canvasflow/execution"
	"canvasflow/graph"
	"canvasflow/health"
	"canvasflow/history"
	"canvasflow/jobs"
	"canvasflow/logging"
	"canvasflow/metrics"
	"canvasflow/models"
	"canvasflow/providers"
	"canvasflow/sqlite"
)

// Studio owns one workflow and everything needed to run it.
type Studio struct {
	cfg *config.Config

	mu      sync.Mutex
	graph   *graph.Model
	history *history.Manager
	costs   *cost.Estimator
	engine  *execution.Engine

	adapters *providers.Registry
	execs    *execution.Registry
	tracker  *health.Tracker
	checker  *jobs.HealthChecker

	costStore    cost.Store
	closeStore   func() error
	stopWatchers []func()
}

// New builds a Studio from the given configuration. A nil config loads from
// the environment. The studio starts with an empty workflow; use LoadWorkflow
// to restore a saved one.
func New(cfg *config.Config) (*Studio, error) {
	if cfg == nil {
		cfg = config.Load()
	}
	logging.Init()
	if cfg.MetricsEnabled {
		metrics.Init()
	}

	s := &Studio{
		cfg:      cfg,
		adapters: providers.NewRegistry(),
		tracker:  health.NewTracker(cfg.HealthFailureThreshold, cfg.HealthCooldown),
	}
	s.execs = execution.NewRegistry(s.adapters)

	if err := s.openCostStore(); err != nil {
		return nil, err
	}
	table, err := s.loadPricingTable()
	if err != nil {
		s.Close()
		return nil, err
	}
	if err := s.syncProviders(); err != nil {
		s.Close()
		return nil, err
	}

	g := graph.New(uuid.NewString())
	s.graph = g
	s.history = history.NewManager(g)
	s.costs = cost.NewEstimator(g.WorkflowID(), table, s.costStore)
	s.engine = execution.NewEngine(g, s.execs, s.history, s.costs, cfg.UpdateBufferSize)

	s.startWatchers()
	if cfg.HealthCheckInterval > 0 {
		checker, err := jobs.NewHealthChecker(s.adapters, s.tracker, cfg.HealthCheckInterval)
		if err != nil {
			s.Close()
			return nil, err
		}
		if err := checker.Start(); err != nil {
			s.Close()
			return nil, err
		}
		s.checker = checker
	}

	log.Printf("🚀 [STUDIO] canvasflow ready (%d provider(s), workflow %s)",
		s.adapters.Len(), g.WorkflowID())
	return s, nil
}

func (s *Studio) openCostStore() error {
	if s.cfg.CostDBPath == "" {
		s.costStore = cost.NewMemoryStore()
		return nil
	}
	store, err := sqlite.Open(s.cfg.CostDBPath)
	if err != nil {
		return fmt.Errorf("failed to open cost store: %w", err)
	}
	s.costStore = store
	s.closeStore = store.Close
	return nil
}

// loadPricingTable reads pricing.json. A missing file is fine: the built-in
// table covers the common providers.
func (s *Studio) loadPricingTable() (*cost.Table, error) {
	file, err := config.LoadPricing(s.cfg.PricingPath)
	if err != nil {
		if isNotExist(err) {
			log.Printf("⚠️ [STUDIO] No pricing file at %s, using built-in prices", s.cfg.PricingPath)
			return cost.DefaultTable(), nil
		}
		return nil, err
	}
	return cost.NewTable(file.Prices), nil
}

// syncProviders reads providers.json into the registry. A missing file just
// means no providers yet, adapters can still be registered directly.
func (s *Studio) syncProviders() error {
	file, err := config.LoadProviders(s.cfg.ProvidersPath)
	if err != nil {
		if isNotExist(err) {
			log.Printf("⚠️ [STUDIO] No providers file at %s, starting with none", s.cfg.ProvidersPath)
			return nil
		}
		return err
	}
	s.adapters.SyncFromConfig(file)
	return nil
}

// startWatchers hot-reloads providers.json and pricing.json on change. Watch
// failures (a missing directory, inotify limits) degrade to no hot reload.
func (s *Studio) startWatchers() {
	stopProviders, err := config.WatchFile(s.cfg.ProvidersPath, s.cfg.WatchDebounce, func() {
		log.Printf("🔄 [STUDIO] Providers file changed, re-syncing...")
		if err := s.syncProviders(); err != nil {
			log.Printf("❌ [STUDIO] Failed to re-sync providers: %v", err)
		}
	})
	if err != nil {
		log.Printf("⚠️ [STUDIO] Not watching providers file: %v", err)
	} else {
		s.stopWatchers = append(s.stopWatchers, stopProviders)
	}

	stopPricing, err := config.WatchFile(s.cfg.PricingPath, s.cfg.WatchDebounce, func() {
		log.Printf("🔄 [STUDIO] Pricing file changed, re-loading...")
		table, err := s.loadPricingTable()
		if err != nil {
			log.Printf("❌ [STUDIO] Failed to re-load pricing: %v", err)
			return
		}
		s.Costs().SetTable(table)
	})
	if err != nil {
		log.Printf("⚠️ [STUDIO] Not watching pricing file: %v", err)
	} else {
		s.stopWatchers = append(s.stopWatchers, stopPricing)
	}
}

// Graph returns the live workflow graph.
func (s *Studio) Graph() *graph.Model {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.graph
}

// History returns the per-node output history manager.
func (s *Studio) History() *history.Manager {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.history
}

// Costs returns the cost estimator.
func (s *Studio) Costs() *cost.Estimator {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.costs
}

// Engine returns the execution engine.
func (s *Studio) Engine() *execution.Engine {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.engine
}

// Providers returns the provider adapter registry.
func (s *Studio) Providers() *providers.Registry { return s.adapters }

// Health returns the provider health tracker.
func (s *Studio) Health() *health.Tracker { return s.tracker }

// Executors returns the node executor registry, letting hosts install custom
// node types.
func (s *Studio) Executors() *execution.Registry { return s.execs }

// Run executes the whole graph and blocks until it settles.
func (s *Studio) Run(ctx context.Context) (*execution.RunResult, error) {
	return s.Engine().RunGraph(ctx)
}

// RunNode executes one node and everything downstream of it.
func (s *Studio) RunNode(ctx context.Context, nodeID string) (*execution.RunResult, error) {
	return s.Engine().RunFrom(ctx, nodeID)
}

// Stop cancels all active runs.
func (s *Studio) Stop() {
	s.Engine().Stop()
}

// Updates streams node state changes and run completions. LoadWorkflow swaps
// the engine, so re-acquire the channel after loading.
func (s *Studio) Updates() <-chan models.RunUpdate {
	return s.Engine().Updates()
}

// TotalPredicted estimates the cost of running every generation node on the
// canvas once.
func (s *Studio) TotalPredicted() float64 {
	s.mu.Lock()
	g, costs := s.graph, s.costs
	s.mu.Unlock()
	return costs.TotalPredicted(g.Nodes())
}

// Incurred returns the cost actually spent on this workflow so far.
func (s *Studio) Incurred() float64 {
	return s.Costs().Incurred()
}

// LoadWorkflow replaces the current workflow with a saved document. Active
// runs are stopped first. The provider registry, health tracker and pricing
// survive the swap.
func (s *Studio) LoadWorkflow(doc *models.Workflow) error {
	g, err := graph.Load(doc)
	if err != nil {
		return fmt.Errorf("failed to load workflow: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.engine.Stop()

	s.graph = g
	s.history = history.NewManager(g)
	s.costs = cost.NewEstimator(g.WorkflowID(), s.costs.Table(), s.costStore)
	if err := s.costs.Restore(context.Background()); err != nil {
		log.Printf("⚠️ [STUDIO] Could not restore incurred cost for %s: %v", g.WorkflowID(), err)
	}
	s.engine = execution.NewEngine(g, s.execs, s.history, s.costs, s.cfg.UpdateBufferSize)

	log.Printf("📂 [STUDIO] Loaded workflow %s (%d nodes)", g.WorkflowID(), len(doc.Nodes))
	return nil
}

// ExportWorkflow snapshots the current workflow for persistence.
func (s *Studio) ExportWorkflow() *models.Workflow {
	return s.Graph().Snapshot()
}

func isNotExist(err error) bool {
	return errors.Is(err, os.ErrNotExist)
}

// Close stops runs, watchers, health checks and the cost store. The studio
// is unusable afterwards.
func (s *Studio) Close() error {
	if s.engine != nil {
		s.engine.Stop()
	}
	for _, stop := range s.stopWatchers {
		stop()
	}
	s.stopWatchers = nil
	if s.checker != nil {
		if err := s.checker.Stop(); err != nil {
			log.Printf("⚠️ [STUDIO] Health checker shutdown: %v", err)
		}
		s.checker = nil
	}
	if s.closeStore != nil {
		err := s.closeStore()
		s.closeStore = nil
		return err
	}
	return nil
}
