// Command bookmarkd runs the bookmark pipeline: the agent runtime, the
// task manager, and the HTTP surface.
//
// Usage:
//
//	bookmarkd serve --config config.yaml
//	bookmarkd validate --config config.yaml
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/alecthomas/kong"

	"github.com/halcasteel/bookmark-pipeline/pkg/agent"
	"github.com/halcasteel/bookmark-pipeline/pkg/agents"
	"github.com/halcasteel/bookmark-pipeline/pkg/ai"
	"github.com/halcasteel/bookmark-pipeline/pkg/config"
	"github.com/halcasteel/bookmark-pipeline/pkg/embedder"
	"github.com/halcasteel/bookmark-pipeline/pkg/fetcher"
	"github.com/halcasteel/bookmark-pipeline/pkg/logger"
	"github.com/halcasteel/bookmark-pipeline/pkg/manager"
	"github.com/halcasteel/bookmark-pipeline/pkg/observability"
	"github.com/halcasteel/bookmark-pipeline/pkg/server"
	"github.com/halcasteel/bookmark-pipeline/pkg/store"
	"github.com/halcasteel/bookmark-pipeline/pkg/stream"
	"github.com/halcasteel/bookmark-pipeline/pkg/vector"
)

// CLI defines the command-line interface.
type CLI struct {
	Version  VersionCmd  `cmd:"" help:"Show version information."`
	Serve    ServeCmd    `cmd:"" help:"Start the pipeline server."`
	Validate ValidateCmd `cmd:"" help:"Validate the configuration file."`

	Config string `short:"c" help:"Path to config file." type:"path"`
}

// VersionCmd shows version information.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	version := "dev"
	if info, ok := debug.ReadBuildInfo(); ok {
		if info.Main.Version != "(devel)" && info.Main.Version != "" {
			version = info.Main.Version
		}
	}
	fmt.Printf("bookmarkd version %s\n", version)
	return nil
}

// ValidateCmd loads the configuration and reports the outcome.
type ValidateCmd struct{}

func (c *ValidateCmd) Run(cli *CLI) error {
	cfg, err := config.Load(cli.Config)
	if err != nil {
		return err
	}
	fmt.Printf("configuration is valid (%s on %s:%d)\n",
		cfg.Database.Driver, cfg.Server.Host, cfg.Server.Port)
	return nil
}

// ServeCmd starts the pipeline server.
type ServeCmd struct{}

func (c *ServeCmd) Run(cli *CLI) error {
	cfg, err := config.Load(cli.Config)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger.Init(logger.ParseLevel(cfg.Logging.Level), os.Stderr, cfg.Logging.Format)
	log := logger.GetLogger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	s, err := store.Open(&cfg.Database)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer s.Close()

	index, err := vector.NewIndex(&cfg.Vector)
	if err != nil {
		return fmt.Errorf("open vector index: %w", err)
	}

	provider, err := ai.NewProvider(&cfg.AI)
	if err != nil {
		return fmt.Errorf("ai provider: %w", err)
	}
	embed, err := embedder.New(&cfg.Embedder)
	if err != nil {
		return fmt.Errorf("embedder: %w", err)
	}
	pool := fetcher.NewPool(cfg.Pipeline.ValidationConcurrency, cfg.Pipeline.NavigationTimeout())

	// All agents register before the server accepts work; a workflow
	// naming an unregistered agent is rejected at submit time.
	agentReg := agent.NewRegistry()
	agentReg.Register(agents.NewImportAgent(s, &cfg.Pipeline))
	agentReg.Register(agents.NewValidationAgent(s, pool, &cfg.Pipeline))
	agentReg.Register(agents.NewEnrichmentAgent(s, provider, &cfg.Pipeline))
	agentReg.Register(agents.NewCategorizationAgent(s))
	agentReg.Register(agents.NewEmbeddingAgent(s, embed, index, &cfg.Pipeline))
	for _, card := range agentReg.Cards() {
		if err := s.SaveAgentCard(ctx, card); err != nil {
			return fmt.Errorf("save agent card: %w", err)
		}
	}
	log.Info("agents registered",
		"count", len(agentReg.Cards()),
		"ai", provider.Name(),
		"embedder", embed.Name())

	metrics := observability.New(nil)
	hub := stream.NewHub()
	mgr := manager.New(s, agentReg, manager.NewWorkflowRegistry(), hub, metrics)

	srv := server.New(server.Deps{
		Config:  &cfg.Server,
		Store:   s,
		Manager: mgr,
		Agents:  agentReg,
		Hub:     hub,
		Embed:   embed,
		Index:   index,
	})

	err = srv.ListenAndServe(ctx)
	log.Info("shutting down")
	mgr.Shutdown()
	return err
}

func main() {
	cli := &CLI{}
	kctx := kong.Parse(cli,
		kong.Name("bookmarkd"),
		kong.Description("Agent-based bookmark import and enrichment pipeline."),
		kong.UsageOnError(),
	)
	if err := kctx.Run(cli); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
