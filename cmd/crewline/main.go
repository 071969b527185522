package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mohammad-safakhou/crewline/config"
	"github.com/mohammad-safakhou/crewline/internal/cards"
	"github.com/mohammad-safakhou/crewline/internal/oracle"
	srv "github.com/mohammad-safakhou/crewline/internal/server"
	"github.com/mohammad-safakhou/crewline/internal/store"
	"github.com/mohammad-safakhou/crewline/internal/worker"
	"github.com/mohammad-safakhou/crewline/internal/workflow"
)

func main() {
	var root = &cobra.Command{Use: "crewline"}

	var cfgPath string
	root.PersistentFlags().StringVar(&cfgPath, "config", "", "config file path")

	var serveAddr string
	var serve = &cobra.Command{
		Use:   "serve",
		Short: "Run HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadConfig(cfgPath)
			if err := redirectLogs(cfg); err != nil {
				return err
			}
			if serveAddr == "" {
				serveAddr = os.Getenv("CREWLINE_HTTP_ADDR")
			}
			return srv.Run(cfg, serveAddr)
		},
	}
	serve.Flags().StringVar(&serveAddr, "addr", "", "listen address")

	var sessionID string
	var run = &cobra.Command{
		Use:   "run [input]",
		Short: "Execute one collaboration workflow and print the answer",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadConfig(cfgPath)
			input := strings.Join(args, " ")
			return runOnce(cmd.Context(), cfg, sessionID, input)
		},
	}
	run.Flags().StringVar(&sessionID, "session", "cli", "session id")

	var migDir string
	var direction string
	var steps int
	var migrate = &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			var dsn string
			if cfgPath != "" {
				cfg := config.LoadConfig(cfgPath)
				if cfg.Storage.Postgres.Validate() == nil {
					dsn = cfg.Storage.Postgres.DSN()
				}
			}
			return store.Migrate(migDir, dsn, direction, steps)
		},
	}
	migrate.Flags().StringVar(&migDir, "dir", "file://migrations", "migrations source (file://migrations)")
	migrate.Flags().StringVar(&direction, "direction", "up", "up or down")
	migrate.Flags().IntVar(&steps, "steps", 0, "number of steps (0 = all)")

	root.AddCommand(serve, run, migrate)
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func redirectLogs(cfg *config.Config) error {
	if cfg.General.LogFile == "" {
		return nil
	}
	f, err := os.OpenFile(cfg.General.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	log.SetOutput(f)
	return nil
}

func runOnce(ctx context.Context, cfg *config.Config, sessionID, input string) error {
	registry, err := cards.LoadDir(cfg.Workers.CardsDir)
	if err != nil {
		return fmt.Errorf("load worker cards: %w", err)
	}

	provider, err := oracle.NewLLMProvider(cfg.LLM)
	if err != nil {
		return err
	}
	orc := oracle.New(provider, cfg.LLM.Routing, log.New(os.Stderr, "[oracle] ", log.LstdFlags))

	transport := cfg.Transport.Normalize()
	remote := worker.NewRemoteInvoker(transport, log.New(os.Stderr, "[worker] ", log.LstdFlags))
	dispatcher := worker.NewDispatcher(worker.NewLocalInvoker(), remote)

	engine := workflow.NewEngine(registry, orc, dispatcher, workflow.EngineConfig{
		Coordinator: cfg.Workflow.Coordinator,
		Domains:     cfg.Workflow.Domains,
		Logger:      log.New(os.Stderr, "[workflow] ", log.LstdFlags),
	})

	plan, err := orc.Plan(ctx, input, "", registry.Workers())
	if err != nil {
		return fmt.Errorf("planning failed: %w", err)
	}

	result := engine.Execute(ctx, workflow.Request{
		SessionID: sessionID,
		UserInput: input,
		RawPlan:   plan.RawText,
		Steps:     plan.Steps,
	})

	fmt.Println(result.Answer)
	if result.Termination != workflow.TerminationDrained {
		fmt.Fprintf(os.Stderr, "run terminated early: %s\n", result.Termination)
	}
	return nil
}
