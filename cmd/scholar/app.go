package main

import (
	"fmt"
	"log/slog"

	"github.com/nugget/scholar/internal/agent"
	"github.com/nugget/scholar/internal/arxiv"
	"github.com/nugget/scholar/internal/calculator"
	"github.com/nugget/scholar/internal/checkpoint"
	"github.com/nugget/scholar/internal/config"
	"github.com/nugget/scholar/internal/events"
	"github.com/nugget/scholar/internal/fetch"
	"github.com/nugget/scholar/internal/httpkit"
	"github.com/nugget/scholar/internal/search"
	"github.com/nugget/scholar/internal/threads"
	"github.com/nugget/scholar/internal/tools"
	"github.com/nugget/scholar/internal/wikipedia"
)

// app is the assembled runtime shared by every command.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    checkpoint.Store
	registry *tools.Registry
	machine  *agent.Machine
	threads  *threads.Manager
	bus      *events.Bus
}

// open assembles the store, tools, state machine and thread manager.
// The caller must Close the app.
func (c *cli) open(cfg *config.Config, logger *slog.Logger) (*app, error) {
	store, err := checkpoint.New(checkpoint.Options{
		Driver:      cfg.Checkpoint.Driver,
		Path:        cfg.Checkpoint.Path,
		Compression: cfg.Checkpoint.Compression,
	})
	if err != nil {
		return nil, fmt.Errorf("open checkpoint store: %w", err)
	}

	registry, err := buildRegistry(cfg, logger)
	if err != nil {
		store.Close()
		return nil, err
	}

	factory := c.newReasoner
	if factory == nil {
		factory = defaultReasoner
	}
	reasoner, err := factory(cfg, logger)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("create reasoner: %w", err)
	}

	bus := events.New()
	machine := agent.New(reasoner, registry, store, agent.ConfigFrom(cfg.Agent), logger)
	machine.OnCommit(bus.CommitObserver())
	mgr := threads.New(store, machine, cfg.Agent.ConflictRetries, logger)
	mgr.OnComplete(bus.RunObserver())

	logger.Debug("runtime assembled",
		"checkpoint_driver", cfg.Checkpoint.Driver,
		"model_provider", cfg.Model.Provider,
		"model", cfg.Model.Name,
		"tools", registry.Names(),
	)

	return &app{
		cfg:      cfg,
		logger:   logger,
		store:    store,
		registry: registry,
		machine:  machine,
		threads:  mgr,
		bus:      bus,
	}, nil
}

// Close releases the checkpoint store.
func (a *app) Close() error {
	return a.store.Close()
}

// buildRegistry registers every tool the configuration enables. The
// calculator, Wikipedia, arXiv and page fetch tools need no
// credentials; web_search is registered only when a provider is
// configured.
func buildRegistry(cfg *config.Config, logger *slog.Logger) (*tools.Registry, error) {
	httpLog := httpkit.WithLogger(logger.With("component", "http"))
	list := []*tools.Tool{
		calculator.NewTool(),
		wikipedia.NewTool(wikipedia.New(cfg.Wikipedia.BaseURL, cfg.Wikipedia.TopK, cfg.Wikipedia.MaxChars, httpLog)),
		arxiv.NewTool(arxiv.New(cfg.Arxiv.BaseURL, cfg.Arxiv.MaxResults, cfg.Arxiv.SummaryChars, httpLog)),
		fetch.NewTool(fetch.New(httpLog)),
	}

	if mgr := buildSearch(cfg.Search, httpLog); mgr.Configured() {
		list = append(list, search.NewTool(mgr))
		logger.Info("web search enabled", "primary", mgr.Primary(), "providers", mgr.Providers())
	} else {
		logger.Info("web search disabled, no provider configured")
	}

	registry, err := tools.NewRegistry(list...)
	if err != nil {
		return nil, fmt.Errorf("register tools: %w", err)
	}
	return registry, nil
}

// buildSearch registers every search backend with credentials. The
// primary is the configured provider when it is available, otherwise
// the first available of tavily, brave, searxng. opts go to every
// provider's HTTP client.
func buildSearch(cfg config.SearchConfig, opts ...httpkit.ClientOption) *search.Manager {
	var available []search.Provider
	if cfg.Tavily.APIKey != "" {
		available = append(available, search.NewTavily(cfg.Tavily.APIKey, "", cfg.Tavily.MaxResults, cfg.Tavily.SearchDepth, opts...))
	}
	if cfg.Brave.APIKey != "" {
		available = append(available, search.NewBrave(cfg.Brave.APIKey, "", opts...))
	}
	if cfg.SearXNG.URL != "" {
		available = append(available, search.NewSearXNG(cfg.SearXNG.URL, opts...))
	}

	primary := ""
	for _, p := range available {
		if p.Name() == cfg.Provider {
			primary = p.Name()
		}
	}
	if primary == "" && len(available) > 0 {
		primary = available[0].Name()
	}
	mgr := search.NewManager(primary)
	for _, p := range available {
		mgr.Register(p)
	}
	return mgr
}
