// Command morgana runs the conversation-orchestration core as a
// standalone HTTP process.
//
// Usage:
//
//	morgana serve --config config.yaml
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"

	"github.com/mdesalvo/Morgana-sub001/pkg/config"
	"github.com/mdesalvo/Morgana-sub001/pkg/httpapi"
	"github.com/mdesalvo/Morgana-sub001/pkg/logger"
	"github.com/mdesalvo/Morgana-sub001/pkg/manager"
	"github.com/mdesalvo/Morgana-sub001/pkg/mcpingest"
	"github.com/mdesalvo/Morgana-sub001/pkg/model"
	"github.com/mdesalvo/Morgana-sub001/pkg/persistence"
	"github.com/mdesalvo/Morgana-sub001/pkg/ratelimiter"
	"github.com/mdesalvo/Morgana-sub001/pkg/registry"
)

// CLI defines the command-line interface.
type CLI struct {
	Serve ServeCmd `cmd:"" help:"Start the conversation HTTP server." default:"1"`

	LogLevel  string `help:"Log level (debug, info, warn, error)." default:"info"`
	LogFile   string `help:"Log file path (empty = stderr)."`
	LogFormat string `help:"Log format (simple or verbose)." default:"simple"`
}

// ServeCmd starts the HTTP server.
type ServeCmd struct {
	Config string `short:"c" help:"Path to config file." type:"path" default:"morgana.yaml"`
}

func (c *ServeCmd) Run(cli *CLI) error {
	level, err := logger.ParseLevel(cli.LogLevel)
	if err != nil {
		return fmt.Errorf("parsing log level: %w", err)
	}

	out := os.Stderr
	if cli.LogFile != "" {
		f, cleanup, err := logger.OpenLogFile(cli.LogFile)
		if err != nil {
			return fmt.Errorf("opening log file: %w", err)
		}
		defer cleanup()
		out = f
	}
	logger.Init(level, out, cli.LogFormat)
	log := logger.Get()

	cfg, err := config.Load(c.Config)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info("shutting down")
		cancel()
	}()

	store, err := newStore(cfg.Persistence)
	if err != nil {
		return fmt.Errorf("opening persistence store: %w", err)
	}
	if closer, ok := store.(interface{ Close() error }); ok {
		defer closer.Close()
	}

	agents := registry.NewAgentRegistry()

	configuredIntents := make([]model.IntentDefinition, 0, len(cfg.Intents))
	for _, ic := range cfg.Intents {
		configuredIntents = append(configuredIntents, ic.ToIntentDefinition())
	}
	if err := agents.ValidateAgainst(configuredIntents); err != nil {
		// §4.6 "the registry validates both directions at startup and
		// refuses to run on mismatch" / §7 "fatal; the process refuses
		// to start" — no carve-out for a registry still empty of agents.
		return fmt.Errorf("agent registry validation: %w", err)
	}

	tools := registry.NewToolRegistry()
	for _, mc := range cfg.MCPServers {
		if !mc.Enabled {
			continue
		}
		delegate, err := mcpingest.New(mc.ToIngestConfig())
		if err != nil {
			return fmt.Errorf("mcp server %q: %w", mc.Name, err)
		}
		if err := tools.Register(delegate); err != nil {
			return fmt.Errorf("mcp server %q: %w", mc.Name, err)
		}
	}
	tools.WarnSurplus(agents)

	// LLMForGuard, LLMForClassifier, PromptStore, and Push are external
	// collaborators (§6) this bare binary has no concrete provider for;
	// an embedding application wires those in by constructing its own
	// manager.Deps and calling manager.New directly instead of running
	// this command.
	mgr := manager.New(manager.Deps{
		Agents:             agents,
		Store:              store,
		Limiter:            ratelimiter.New(cfg.RateLimiting.ToLimiterConfig()),
		GuardPromptID:      cfg.Prompts.GuardPromptID,
		ClassifierPromptID: cfg.Prompts.ClassifierPromptID,
		SupervisorPromptID: cfg.Prompts.SupervisorPromptID,
		Logger:             log,
	})

	// Re-validate the registry whenever the config file changes on disk,
	// refusing the reload (and keeping the process running on its last
	// good registry) rather than letting it drift out of sync (§4.6).
	watcher, err := config.Watch(c.Config, func(reloaded config.Config, err error) {
		if err != nil {
			log.Warn("config reload", "error", err)
			return
		}
		reloadedIntents := make([]model.IntentDefinition, 0, len(reloaded.Intents))
		for _, ic := range reloaded.Intents {
			reloadedIntents = append(reloadedIntents, ic.ToIntentDefinition())
		}
		if err := agents.ValidateAgainst(reloadedIntents); err != nil {
			log.Warn("config reload refused: agent registry validation", "error", err)
			return
		}
		log.Info("config reloaded")
	})
	if err != nil {
		return fmt.Errorf("watching config: %w", err)
	}
	defer watcher.Close()

	srv := httpapi.New(mgr)

	if cfg.HTTP.ListenAddress == "" {
		cfg.HTTP.ListenAddress = ":8080"
	}

	httpSrv := &http.Server{Addr: cfg.HTTP.ListenAddress, Handler: srv}
	go func() {
		<-ctx.Done()
		_ = httpSrv.Close()
	}()

	log.Info("morgana server ready", "address", cfg.HTTP.ListenAddress)
	if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

func newStore(pc config.PersistenceConfig) (persistence.Store, error) {
	switch pc.Driver {
	case "", "memory":
		return persistence.NewInMemory(), nil
	case "sqlite":
		return persistence.OpenSQLiteStore(pc.DSN)
	default:
		return nil, fmt.Errorf("unknown persistence driver %q", pc.Driver)
	}
}

func main() {
	cli := CLI{}
	ctx := kong.Parse(&cli,
		kong.Name("morgana"),
		kong.Description("Morgana conversation-orchestration core"),
		kong.UsageOnError(),
	)
	err := ctx.Run(&cli)
	ctx.FatalIfErrorf(err)
}
