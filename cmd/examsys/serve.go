package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/pop8234333/exam-system/internal/cache"
	"github.com/pop8234333/exam-system/internal/events"
	"github.com/pop8234333/exam-system/internal/exam"
	"github.com/pop8234333/exam-system/internal/grading"
	"github.com/pop8234333/exam-system/internal/handler"
	appI18n "github.com/pop8234333/exam-system/internal/i18n"
	"github.com/pop8234333/exam-system/internal/llm"
	"github.com/pop8234333/exam-system/internal/llm/prompts"
	"github.com/pop8234333/exam-system/internal/metrics"
	"github.com/pop8234333/exam-system/internal/store"
)

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP exam API",
		RunE:  runServe,
	}
	addCommonFlags(cmd)
	f := cmd.Flags()
	f.StringP("addr", "a", ":8080", "HTTP listen address")
	f.StringSliceP("catalog", "c", nil, "Catalog JSON files to import on startup (repeatable)")
	f.String("llm-url", "http://localhost:11434/v1", "OpenAI-compatible API base URL")
	f.String("llm-key", "ollama", "API key for LLM")
	f.String("llm-model", "llama3.2", "LLM model name")
	f.String("prompt-variant", string(prompts.PromptStandard), "Grading prompt variant (strict, standard, lenient)")
	f.Duration("ai-timeout", 120*time.Second, "Timeout of a single AI grading or summary call")
	f.Int("ai-concurrency", 4, "Maximum parallel AI grading calls per submission")
	f.StringP("lang", "l", "en", "Language of fixed messages and AI feedback (en, zh)")
	f.String("redis-url", "", "Redis URL for ranking cache and popularity counter (empty disables)")
	f.Duration("ranking-ttl", cache.DefaultRankingTTL, "How long cached leaderboards are served")
	f.Int("rate-limit", 60, "Requests per minute and client on the exam endpoints (0 disables)")
	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	v := viperForCmd(cmd)
	setupLogging(v)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	if err := importCatalogs(ctx, db, v.GetStringSlice("catalog")); err != nil {
		return fmt.Errorf("import catalogs: %w", err)
	}

	lang := v.GetString("lang")
	if err := appI18n.Init(lang); err != nil {
		return fmt.Errorf("init i18n: %w", err)
	}

	promptVariant := strings.ToLower(strings.TrimSpace(v.GetString("prompt-variant")))
	if !prompts.IsValidVariant(promptVariant) {
		slog.Warn("invalid prompt-variant, using standard", "variant", promptVariant)
		promptVariant = string(prompts.PromptStandard)
	}
	llmClient, err := llm.New(
		v.GetString("llm-url"),
		v.GetString("llm-key"),
		v.GetString("llm-model"),
		promptVariant,
		lang,
	)
	if err != nil {
		return fmt.Errorf("create LLM client: %w", err)
	}
	// Text answers fall back to the failure outcome while the endpoint is
	// down, so an unreachable LLM does not stop the server.
	if err := llmClient.Ping(ctx); err != nil {
		slog.Warn("LLM health check failed", "url", v.GetString("llm-url"), "error", err)
	} else {
		slog.Info("LLM endpoint OK", "url", v.GetString("llm-url"), "model", v.GetString("llm-model"))
	}

	engine := grading.NewEngine(llmClient, grading.Config{
		Concurrency: v.GetInt("ai-concurrency"),
		Timeout:     v.GetDuration("ai-timeout"),
		Messages:    appI18n.GradingMessages(lang),
	})

	redisClient := connectRedis(ctx, v.GetString("redis-url"))
	if redisClient != nil {
		defer redisClient.Close()
	}

	bus := events.NewBus(slog.Default())
	defer bus.Close()

	svc := exam.NewService(db, engine,
		exam.WithRankingCache(cache.NewRankings(redisClient, v.GetDuration("ranking-ttl"))),
		exam.WithPopularity(cache.NewPopularity(redisClient)),
		exam.WithPublisher(bus),
	)
	if err := svc.Subscribe(ctx, bus); err != nil {
		return fmt.Errorf("subscribe event handlers: %w", err)
	}

	metrics.Init()

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware)
	r.Use(appI18n.Middleware(lang))
	r.Handle("/metrics", metrics.Handler())
	handler.New(svc, handler.WithRateLimit(v.GetInt("rate-limit"), time.Minute)).Routes(r)

	addr := v.GetString("addr")
	srv := &http.Server{Addr: addr, Handler: r}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("starting server",
			"addr", addr,
			"model", v.GetString("llm-model"),
			"llm_url", v.GetString("llm-url"),
			"lang", lang,
			"prompt_variant", promptVariant,
			"redis", redisClient != nil,
		)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), v.GetDuration("ai-timeout")+5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// connectRedis returns nil when url is empty or the server is unreachable;
// the service then runs without cache and popularity counter.
func connectRedis(ctx context.Context, url string) *redis.Client {
	if url == "" {
		return nil
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		slog.Warn("invalid redis-url, running without cache", "error", err)
		return nil
	}
	client := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		slog.Warn("redis unreachable, running without cache", "addr", opts.Addr, "error", err)
		_ = client.Close()
		return nil
	}
	slog.Info("redis connected", "addr", opts.Addr)
	return client
}
