package commands

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/nodesync/nodesync/pkg/config"
	"github.com/nodesync/nodesync/pkg/facts"
	"github.com/nodesync/nodesync/pkg/history"
	"github.com/nodesync/nodesync/pkg/provision"
	"github.com/nodesync/nodesync/pkg/queue"
	"github.com/nodesync/nodesync/pkg/registry"
	"github.com/nodesync/nodesync/pkg/telemetry"
)

// app wires the configured collaborators together for one command
// invocation.
type app struct {
	cfg     *config.Config
	logger  zerolog.Logger
	metrics *telemetry.Metrics
	tracer  *telemetry.Tracer

	registry     *registry.Client
	queue        *queue.Queue
	facts        *facts.Client
	history      *history.Store
	orchestrator *provision.Orchestrator
}

// newApp loads configuration and constructs the full provisioning
// stack.
func newApp(ctx context.Context, version string) (*app, error) {
	path := configPath
	if path == "" {
		path = config.DefaultPath
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	logCfg := cfg.Telemetry.Logging
	if verbose {
		logCfg.Level = "debug"
	}
	if jsonOutput {
		logCfg.Format = "json"
	}
	logger, err := telemetry.NewLogger(logCfg)
	if err != nil {
		return nil, fmt.Errorf("configure logging: %w", err)
	}

	metrics, err := telemetry.NewMetrics(cfg.Telemetry.Metrics)
	if err != nil {
		return nil, fmt.Errorf("configure metrics: %w", err)
	}

	tracer, err := telemetry.NewTracer(cfg.Telemetry.Tracing,
		cfg.Telemetry.ServiceName, version, cfg.Telemetry.Environment)
	if err != nil {
		return nil, fmt.Errorf("configure tracing: %w", err)
	}

	client := registry.New(registry.Config{
		BaseURL:          cfg.Registry.URL,
		ServiceKey:       cfg.Registry.ServiceKey,
		SecretKey:        cfg.Registry.SecretKey,
		UnknownOSGroupID: cfg.Registry.UnknownOSGroupID,
		VersionTag:       fmt.Sprintf("Added by nodesync %s", version),
		ProbeTimeout:     cfg.Registry.ProbeTimeout,
		Fixtures: registry.Fixtures{
			Enabled:         cfg.Provision.TestMode,
			OS:              cfg.Fixtures.OS,
			WindowsHostname: cfg.Fixtures.WindowsHostname,
			LinuxHostname:   cfg.Fixtures.LinuxHostname,
		},
	}, metrics, logger)

	resolver := provision.NewResolver(cfg.Sites, client, logger)
	client.SetProfileResolver(resolver)

	q := queue.New(cfg.Queue.Path, metrics, logger)

	a := &app{
		cfg:      cfg,
		logger:   logger,
		metrics:  metrics,
		tracer:   tracer,
		registry: client,
		queue:    q,
	}

	if cfg.FactDB.URL != "" || cfg.Provision.TestMode {
		factsClient, err := facts.New(facts.Config{
			URL:      cfg.FactDB.URL,
			CertFile: cfg.FactDB.CertFile,
			KeyFile:  cfg.FactDB.KeyFile,
			CAFile:   cfg.FactDB.CAFile,
			Timeout:  cfg.FactDB.Timeout,
			Fixtures: facts.Fixtures{
				Enabled:     cfg.Provision.TestMode,
				OS:          cfg.Fixtures.OS,
				Role:        cfg.Fixtures.Role,
				Environment: cfg.Fixtures.Environment,
				Datacenter:  cfg.Fixtures.Datacenter,
			},
		}, logger)
		if err != nil {
			return nil, err
		}
		a.facts = factsClient
	}

	var recorder provision.Recorder
	if cfg.History.Path != "" {
		store, err := history.Open(ctx, cfg.History.Path)
		if err != nil {
			return nil, err
		}
		a.history = store
		recorder = store
	}

	a.orchestrator = provision.New(provision.Options{
		Registry:         client,
		Queue:            q,
		History:          recorder,
		Metrics:          metrics,
		Tracer:           tracer,
		Logger:           logger,
		SleepAfterCreate: cfg.Provision.SleepAfterCreate,
	})

	return a, nil
}

// Close releases the app's resources.
func (a *app) Close(ctx context.Context) {
	if a.history != nil {
		if err := a.history.Close(); err != nil {
			a.logger.Warn().Err(err).Msg("history database not closed cleanly")
		}
	}
	if err := a.tracer.Shutdown(ctx); err != nil {
		a.logger.Warn().Err(err).Msg("tracer not shut down cleanly")
	}
}
