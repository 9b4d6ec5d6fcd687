package cmd

import (
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/openecm/ragsearch/internal/acl"
	"github.com/openecm/ragsearch/internal/config"
	"github.com/openecm/ragsearch/internal/embed"
	"github.com/openecm/ragsearch/internal/history"
	"github.com/openecm/ragsearch/internal/indexer"
	"github.com/openecm/ragsearch/internal/logging"
	"github.com/openecm/ragsearch/internal/reindex"
	"github.com/openecm/ragsearch/internal/repo"
	"github.com/openecm/ragsearch/internal/search"
	"github.com/openecm/ragsearch/internal/telemetry"
	"github.com/openecm/ragsearch/internal/vectorstore"
)

// app wires the subsystems for one CLI invocation.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	walker   repo.TreeWalker
	embedder embed.Embedder
	store    vectorstore.Store
	engine   *search.Engine
	orch     *reindex.Orchestrator
	history  *history.Store
	metrics  *telemetry.Metrics

	cleanups []func()
}

func (a *app) Close() {
	if a.orch != nil {
		a.orch.Close()
	}
	for i := len(a.cleanups) - 1; i >= 0; i-- {
		a.cleanups[i]()
	}
}

// buildApp loads configuration and constructs the full stack. The
// returned app must be closed.
func buildApp(g *globalOptions) (*app, error) {
	cfg, err := config.Load(g.configPath)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg}

	// Re-apply logging with the loaded config; --debug wins over the file.
	logCfg := logging.DefaultConfig()
	logCfg.WriteToStderr = g.debug
	if cfg.Logging.Level != "" {
		logCfg.Level = cfg.Logging.Level
	}
	if cfg.Logging.FilePath != "" {
		logCfg.FilePath = cfg.Logging.FilePath
	}
	if g.debug {
		logCfg.Level = "debug"
	}
	cleanup, err := logging.SetupDefault(logCfg)
	if err != nil {
		return nil, err
	}
	a.cleanups = append(a.cleanups, cleanup)
	a.logger = slog.Default()

	walker, err := repo.NewFSRepository(g.repository, g.source, nil)
	if err != nil {
		return nil, err
	}
	a.walker = walker

	a.metrics = telemetry.NewMetrics(prometheus.NewRegistry())

	a.embedder = telemetry.InstrumentEmbedder(buildEmbedder(cfg), a.metrics)
	a.cleanups = append(a.cleanups, func() { _ = a.embedder.Close() })

	store, err := buildStore(cfg, a.embedder)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.store = store
	a.cleanups = append(a.cleanups, func() { _ = store.Close() })

	aclb := acl.NewPredicateBuilder(acl.NewStaticResolver(map[string][]string{
		g.user: g.groups,
	}))

	engine, err := search.NewEngine(a.embedder, store, aclb, repo.PathResolver{Walker: walker}, cfg, a.logger)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.engine = engine

	opts := []reindex.Option{reindex.WithMetrics(a.metrics)}
	if cfg.History.Path != "" {
		hist, err := history.Open(cfg.History.Path)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.history = hist
		a.cleanups = append(a.cleanups, func() { _ = hist.Close() })
		opts = append(opts, reindex.WithRunRecorder(hist))
	}

	idx := indexer.New(walker, a.embedder, store, cfg, a.logger)
	a.orch = reindex.NewOrchestrator(walker, idx, store, cfg, a.logger, opts...)

	return a, nil
}

func buildEmbedder(cfg *config.Config) embed.Embedder {
	var inner embed.Embedder
	if cfg.Embedder.Endpoint == "" {
		inner = embed.NewStaticEmbedder()
	} else {
		inner = embed.NewHTTPEmbedder(embed.HTTPConfig{
			Endpoint:   cfg.Embedder.Endpoint,
			Model:      cfg.Embedder.Model,
			Dimensions: cfg.Embedder.Dimensions,
			Timeout:    cfg.Embedder.Timeout,
			RateLimit:  cfg.Embedder.RateLimit,
		})
	}
	if cfg.Embedder.CacheSize > 0 {
		return embed.NewCachedEmbedder(inner, cfg.Embedder.CacheSize)
	}
	return inner
}

func buildStore(cfg *config.Config, embedder embed.Embedder) (vectorstore.Store, error) {
	switch cfg.Store.Backend {
	case "solr":
		return vectorstore.NewSolrStore(vectorstore.SolrConfig{
			URL:     cfg.Solr.URL,
			Core:    cfg.Solr.Core,
			Timeout: cfg.Solr.Timeout,
		}), nil
	case "embedded":
		return vectorstore.NewEmbeddedStore(vectorstore.EmbeddedConfig{
			DataDir:    cfg.Store.DataDir,
			Dimensions: embedder.Dimensions(),
		})
	default:
		return nil, fmt.Errorf("unknown store backend %q (want solr or embedded)", cfg.Store.Backend)
	}
}
