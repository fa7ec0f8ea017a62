package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/voxflow-ai/voxflow/pkg/callctx"
	"github.com/voxflow-ai/voxflow/pkg/catalog"
	"github.com/voxflow-ai/voxflow/pkg/directory"
	"github.com/voxflow-ai/voxflow/pkg/extract"
	"github.com/voxflow-ai/voxflow/pkg/flow"
	"github.com/voxflow-ai/voxflow/pkg/gateway/config"
	"github.com/voxflow-ai/voxflow/pkg/gateway/server"
	"github.com/voxflow-ai/voxflow/pkg/memo"
	"github.com/voxflow-ai/voxflow/pkg/orchestrator"
	"github.com/voxflow-ai/voxflow/pkg/telephony"
	"github.com/voxflow-ai/voxflow/pkg/template"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the call gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx)
		},
	}
}

func newLogger() *slog.Logger {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
}

func runServe(ctx context.Context) error {
	log := newLogger()

	cfg, err := config.LoadFromEnv()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	cat, err := catalog.Load(cfg.CatalogPath)
	if err != nil {
		return fmt.Errorf("load catalog %s: %w", cfg.CatalogPath, err)
	}
	if err := cat.Validate(); err != nil {
		return fmt.Errorf("validate catalog: %w", err)
	}

	renderer := template.NewRenderer(template.DefaultPredicates(), log)
	orch := orchestrator.New(
		callctx.NewStore(log),
		cat,
		renderer,
		flow.NewEngine(flow.GlobalRules(), flow.NodeRules(), log),
		extract.New(extract.Config{
			APIKey:  cfg.OpenAIAPIKey,
			BaseURL: cfg.OpenAIBaseURL,
			Model:   cfg.OpenAIModel,
		}, log),
		orchestrator.NewAPIRunner(nil, renderer, log),
		log,
	)

	dir, teams, closeDir, err := buildDirectory(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeDir()

	finisher, err := buildFinisher(ctx, cfg, log)
	if err != nil {
		return err
	}

	srv := server.New(cfg, server.Deps{
		Orchestrator: orch,
		Directory:    dir,
		Teams:        teams,
		Telephony: telephony.NewClient(telephony.ClientConfig{
			AccountSID: cfg.TwilioAccountSID,
			AuthToken:  cfg.TwilioAuthToken,
			FromNumber: cfg.TwilioFromNumber,
			APIBase:    cfg.TwilioAPIBase,
		}, log),
		FinishCall: finisher.Finish,
	}, log)

	return srv.Run(ctx)
}

// buildDirectory picks the customer/team sources: static records for
// development, or the servicing API plus Postgres in production.
func buildDirectory(ctx context.Context, cfg config.Config, log *slog.Logger) (directory.Provider, directory.TeamProvider, func(), error) {
	if cfg.StaticDirectory {
		log.Info("using static directory data")
		static := directory.NewStaticProvider()
		return static, static, func() {}, nil
	}

	provider := directory.NewHTTPProvider(directory.HTTPConfig{
		BaseURL: cfg.ServicingBaseURL,
		UserID:  cfg.ServicingUserID,
		APIKey:  cfg.ServicingAPIKey,
	}, nil, log)

	if cfg.DatabaseURL == "" {
		return nil, nil, nil, fmt.Errorf("DATABASE_URL must be set when the static directory is disabled")
	}
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := directory.Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, nil, nil, fmt.Errorf("run migrations: %w", err)
	}

	return provider, directory.NewPGTeams(pool, log), pool.Close, nil
}

func buildFinisher(ctx context.Context, cfg config.Config, log *slog.Logger) (*memo.Finisher, error) {
	var summarizer memo.Summarizer
	if cfg.GeminiAPIKey != "" {
		gs, err := memo.NewGeminiSummarizer(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
		if err != nil {
			return nil, fmt.Errorf("summary client: %w", err)
		}
		summarizer = gs
	} else {
		log.Info("no summary model configured, using template summaries")
	}

	sink := memo.NewSink(
		memo.SinkConfig{BaseURL: cfg.MemoBaseURL, UserID: cfg.MemoUserID, APIKey: cfg.MemoAPIKey},
		memo.SinkConfig{BaseURL: cfg.ActivityBaseURL, UserID: cfg.ActivityUserID, APIKey: cfg.ActivityAPIKey},
		nil,
		log,
	)
	return memo.NewFinisher(memo.NewBuilder(summarizer, log), sink, log), nil
}
