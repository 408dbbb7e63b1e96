package server

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/GriffinCanCode/ParserSandbox/backend/internal/domain/plugin"
	"github.com/GriffinCanCode/ParserSandbox/backend/internal/domain/registry"
	"github.com/GriffinCanCode/ParserSandbox/backend/internal/infrastructure/config"
	"github.com/GriffinCanCode/ParserSandbox/backend/internal/infrastructure/monitoring"
	cryptomod "github.com/GriffinCanCode/ParserSandbox/backend/internal/providers/crypto"
	"github.com/GriffinCanCode/ParserSandbox/backend/internal/providers/http/client"
	"github.com/GriffinCanCode/ParserSandbox/backend/internal/providers/http/guard"
	urlmod "github.com/GriffinCanCode/ParserSandbox/backend/internal/providers/http/utils"
	"github.com/GriffinCanCode/ParserSandbox/backend/internal/providers/scraper"
	"github.com/GriffinCanCode/ParserSandbox/backend/internal/sandbox"
	"github.com/GriffinCanCode/ParserSandbox/backend/internal/sandbox/host"
	"github.com/GriffinCanCode/ParserSandbox/backend/internal/sandbox/jsengine"
	"github.com/GriffinCanCode/ParserSandbox/backend/internal/sandbox/pyengine"
	"github.com/GriffinCanCode/ParserSandbox/backend/internal/security"
)

// Runtime is the assembled sandbox: policies, registry, bridge, pools
// and the coordinator that ties them together
type Runtime struct {
	Registry    *registry.Registry
	Coordinator *sandbox.Coordinator
	Bridge      *client.Bridge
	Security    *security.Engine
	Pools       map[plugin.Language]*sandbox.Pool
}

// HostModules returns the modules plugins may load
func HostModules() []host.Module {
	return []host.Module{
		cryptomod.Module(),
		scraper.New().Module(),
		urlmod.Module(),
	}
}

// NewRuntime wires every sandbox component from cfg
func NewRuntime(cfg *config.Config, logger *zap.Logger, metrics *monitoring.Metrics) *Runtime {
	if logger == nil {
		logger = zap.NewNop()
	}

	policies := security.NewEngine(map[plugin.Language]security.Policy{
		plugin.LanguageJavaScript: security.NewChokePointPolicy(cfg.Sandbox.Allowlist, logger).WithMetrics(metrics),
		plugin.LanguagePython:     security.NewStaticScanPolicy(logger).WithMetrics(metrics),
	})

	g := guard.New(
		guard.WithLogger(logger.Named("guard")),
		guard.WithMetrics(metrics),
		guard.WithAllowedHosts(cfg.Bridge.AllowedHosts...),
	)
	bridge := client.New(client.Options{
		Timeout:      cfg.Bridge.Timeout.Std(),
		MaxBodyBytes: cfg.Bridge.MaxBodyBytes,
		RetryCount:   cfg.Bridge.RetryCount,
		RateLimit:    cfg.Bridge.RateLimit,
		UserAgent:    cfg.Bridge.UserAgent,
		Proxy:        cfg.Bridge.Proxy,
	}, g, logger.Named("bridge"), metrics)

	poolConfig := sandbox.PoolConfig{
		Warm:            cfg.Pool.Warm,
		MaxSize:         cfg.Pool.MaxSize,
		AcquireTimeout:  cfg.Pool.AcquireTimeout.Std(),
		MaxAge:          cfg.Pool.MaxAge.Std(),
		CleanupInterval: cfg.Pool.CleanupInterval.Std(),
	}
	pools := map[plugin.Language]*sandbox.Pool{
		plugin.LanguageJavaScript: sandbox.NewPool(jsengine.New(logger), poolConfig, logger, metrics),
		plugin.LanguagePython:     sandbox.NewPool(pyengine.New(logger), poolConfig, logger, metrics),
	}

	coordinator := sandbox.NewCoordinator(sandbox.Config{
		Timeout:        cfg.Sandbox.Timeout.Std(),
		Grace:          cfg.Sandbox.Grace.Std(),
		Workers:        cfg.Sandbox.Workers,
		QueueSize:      cfg.Sandbox.QueueSize,
		MaxLogEntries:  cfg.Sandbox.MaxLogEntries,
		MaxSourceBytes: cfg.Sandbox.MaxSourceBytes,
	}, sandbox.Deps{
		Pools:    pools,
		Bridge:   bridge,
		Security: policies,
		Modules:  HostModules(),
		Logger:   logger,
		Metrics:  metrics,
	})

	reg := registry.NewRegistry(policies, registry.Options{
		MaxSourceBytes: cfg.Sandbox.MaxSourceBytes,
	}, logger, metrics)

	return &Runtime{
		Registry:    reg,
		Coordinator: coordinator,
		Bridge:      bridge,
		Security:    policies,
		Pools:       pools,
	}
}

// Warmup fills every pool with its warm contexts
func (r *Runtime) Warmup(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for lang, pool := range r.Pools {
		g.Go(func() error {
			if err := pool.Warmup(ctx); err != nil {
				return fmt.Errorf("warm %s pool: %w", lang, err)
			}
			return nil
		})
	}
	return g.Wait()
}

// Close stops the coordinator, which drains the pools
func (r *Runtime) Close() error {
	return r.Coordinator.Close()
}
