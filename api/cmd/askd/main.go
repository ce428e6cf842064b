package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"mari-ask/api/internal/analyze"
	"mari-ask/api/internal/config"
	"mari-ask/api/internal/httpserver"
	"mari-ask/api/internal/jobs"
	"mari-ask/api/internal/llm"
	"mari-ask/api/internal/llm/gemini"
	"mari-ask/api/internal/llm/openai"
	"mari-ask/api/internal/notify"
	"mari-ask/api/internal/store"
	"mari-ask/api/internal/survey"
)

func main() {
	root := &cobra.Command{
		Use:   "askd",
		Short: "Dog behavior survey and analysis server",
	}
	root.AddCommand(serveCmd())
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the survey wizard and analysis API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context())
		},
	}
}

func newLogger(appEnv string) (*zap.Logger, error) {
	if appEnv == "production" {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}

func serve(ctx context.Context) error {
	cfg := config.Load()

	log, err := newLogger(cfg.AppEnv)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer log.Sync() //nolint:errcheck

	catalog, err := survey.LoadCatalog(cfg.QuestionsPath)
	if err != nil {
		return fmt.Errorf("load question catalog: %w", err)
	}

	provider, err := llm.ParseProvider(cfg.Provider)
	if err != nil {
		return err
	}
	engines := &llm.Engines{
		OpenAI: openai.New(cfg.OpenAIAPIKey, cfg.OpenAIModel, cfg.OpenAIVisionModel, log),
		Gemini: gemini.New(cfg.GeminiAPIKey, cfg.GeminiModel, cfg.GeminiVisionModel, log),
	}
	engine, err := engines.Get(provider)
	if err != nil {
		return err
	}

	analyzer := analyze.New(engine, analyze.Options{
		VisionTimeout:     cfg.VisionTimeout,
		ExpertTimeout:     cfg.ExpertTimeout,
		ExpertTemperature: cfg.ExpertTemperature,
		MariTemperature:   cfg.MariTemperature,
		PerfLogPath:       cfg.PerfLogPath(),
		AppEnv:            cfg.AppEnv,
	}, log)

	srv := httpserver.New(cfg, log, catalog, analyzer, jobs.Default()).
		WithEngineInfo(engine.Name(), engine.GetModel())

	if cfg.DatabaseURL != "" {
		db, err := sql.Open("pgx", cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		defer db.Close()
		repo := store.NewResultsRepo(db)
		if err := repo.EnsureSchema(ctx); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
		srv.WithResults(repo)
		log.Info("postgres audit sink enabled")
	}

	if cfg.TelegramToken != "" && cfg.TelegramChatID != 0 {
		tg, err := notify.NewTelegram(cfg.TelegramToken, cfg.TelegramChatID, log)
		if err != nil {
			log.Warn("telegram notifier disabled", zap.Error(err))
		} else {
			srv.WithNotifier(tg)
			log.Info("telegram notifier enabled")
		}
	}

	httpSrv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("listening",
			zap.String("addr", httpSrv.Addr),
			zap.String("provider", engine.Name()),
			zap.String("model", engine.GetModel()),
			zap.String("app_env", cfg.AppEnv),
		)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		log.Info("shutting down")
		return httpSrv.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		// Abandoned wizard sessions are shed periodically; running jobs
		// are never evicted.
		return sweepSessions(ctx, srv, log)
	})
	return g.Wait()
}

func sweepSessions(ctx context.Context, srv *httpserver.Server, log *zap.Logger) error {
	t := time.NewTicker(10 * time.Minute)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			if n := srv.Sessions().ExpireOlderThan(2 * time.Hour); n > 0 {
				log.Info("expired sessions", zap.Int("count", n))
			}
		}
	}
}
