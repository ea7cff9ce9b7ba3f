package cli

import (
	"context"
	"errors"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"battle-service/internal/app"
	"battle-service/internal/config"
	"battle-service/internal/domain"
	"battle-service/internal/infra/kafka"
	"battle-service/internal/infra/memory"
	"battle-service/internal/infra/postgres"
	infraredis "battle-service/internal/infra/redis"
	"battle-service/internal/logging"
	transport "battle-service/internal/transport/http"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the battle server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

// loadConfig reads the config file and installs the logger. A missing file falls
// back to defaults: in-memory stores and sample content.
func loadConfig(path string) (config.Config, error) {
	cfg, err := config.Load(path)
	missing := errors.Is(err, fs.ErrNotExist)
	if missing {
		cfg, err = config.Default(), nil
	}
	if err != nil {
		return cfg, err
	}
	if err := logging.Init(cfg.Log.Level, cfg.Log.Development); err != nil {
		return cfg, err
	}
	if missing {
		logging.Warn("config file not found, using defaults", zap.String("path", path))
	}
	return cfg, nil
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	defer logging.Sync()

	if cfg.Postgres.URL != "" {
		if err := runMigrationsWithConfig(ctx, cfg); err != nil {
			return err
		}
	}

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()
	}

	var pool *pgxpool.Pool
	var sessions app.SessionRepository = memory.NewSessionStore()
	var ratings app.RatingRepository = memory.NewRatingStore(ratingConfig(cfg))
	if cfg.Postgres.URL != "" {
		pool, err = pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return err
		}
		defer pool.Close()

		db := openDB(cfg.Postgres.URL)
		defer db.Close()
		sessions = postgres.NewSessionStore(db)
		ratings = postgres.NewRatingStore(db, ratingConfig(cfg))
	}

	var loader memory.ContentLoader = memory.NewStaticContentLoader(sampleQuestions(), sampleProblems())
	if pool != nil {
		loader = postgres.NewContentLoader(pool)
	}

	contentTTL := config.TTLDuration(cfg.Content.TTL, 10*time.Minute)
	var content app.ContentRepository
	if redisClient != nil {
		content = infraredis.NewContentRepository(redisClient, loader, contentTTL)
	} else {
		content = memory.NewContentRepository(loader, contentTTL)
	}

	var opts []app.Option
	if redisClient != nil {
		host, _ := os.Hostname()
		opts = append(opts, app.WithTracker(infraredis.NewActivityTracker(redisClient, host)))
	}
	if cfg.Kafka.Enabled {
		publisher, err := kafka.Dial(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		if err != nil {
			return err
		}
		defer publisher.Close()
		opts = append(opts, app.WithPublisher(publisher))
	}

	hub := transport.NewHub()
	engine := app.NewEngine(sessions, ratings, content, hub, engineConfig(cfg), opts...)

	auth := transport.NewAuthenticator(cfg.Auth.JWTSecret, cfg.Auth.Issuer)
	if !auth.Enabled() {
		logging.Warn("auth.jwt_secret is empty, trusting userId query parameter")
	}
	router := transport.NewRouter(engine, hub, transport.NewWSHandler(engine, hub, auth))

	server := &http.Server{
		Addr:         ":" + finalPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		logging.Info("starting battle service", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Error("failed to start server", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		logging.Info("shutting down server")
	case <-ctx.Done():
		logging.Info("context canceled, shutting down server")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func ratingConfig(cfg config.Config) domain.RatingConfig {
	return domain.RatingConfig{
		KFactor:    cfg.Rating.KFactor,
		Initial:    cfg.Rating.Initial,
		Floor:      cfg.Rating.Floor,
		FormLength: cfg.Rating.FormLength,
	}
}

func engineConfig(cfg config.Config) app.Config {
	def := app.DefaultConfig()
	s := cfg.Session
	return app.Config{
		TimeLimits: map[domain.Mode]time.Duration{
			domain.ModeRapidFire:  config.TTLDuration(s.RapidFireTimeLimit, def.TimeLimits[domain.ModeRapidFire]),
			domain.ModeCodeBattle: config.TTLDuration(s.CodeBattleTimeLimit, def.TimeLimits[domain.ModeCodeBattle]),
		},
		TickInterval:     config.TTLDuration(s.TickInterval, def.TickInterval),
		SnapshotInterval: config.TTLDuration(s.SnapshotInterval, def.SnapshotInterval),
		TimeoutGrace:     config.TTLDuration(s.TimeoutGrace, def.TimeoutGrace),
		IOTimeout:        config.TTLDuration(s.IOTimeout, def.IOTimeout),
		DeckSize:         cfg.Content.DeckSize,
		CodeScoring:      domain.CodeScoring(s.CodeScoring),
		Rating:           ratingConfig(cfg),
	}
}

// sampleQuestions provides a minimal deck; the Postgres loader replaces it in production.
func sampleQuestions() []domain.Question {
	mk := func(id, prompt, correct string, options ...string) domain.Question {
		q := domain.Question{ID: id, Prompt: prompt, CorrectOption: correct}
		for i, text := range options {
			q.Options = append(q.Options, domain.Option{ID: string(rune('a' + i)), Text: text})
		}
		return q
	}
	return []domain.Question{
		mk("rf-1", "What is 2 + 2?", "b", "3", "4", "5"),
		mk("rf-2", "Which keyword starts a goroutine?", "a", "go", "async", "spawn"),
		mk("rf-3", "What does len(\"héllo\") return in Go?", "c", "5", "4", "6"),
		mk("rf-4", "Which HTTP status means Not Found?", "a", "404", "403", "500"),
		mk("rf-5", "What is the zero value of a Go map?", "b", "empty map", "nil", "panic"),
		mk("rf-6", "Binary 1010 in decimal?", "c", "8", "12", "10"),
		mk("rf-7", "Which sort is stable?", "a", "merge sort", "heap sort", "quick sort"),
		mk("rf-8", "Big-O of binary search?", "b", "O(n)", "O(log n)", "O(1)"),
		mk("rf-9", "Which port does HTTPS use by default?", "c", "80", "8080", "443"),
		mk("rf-10", "What does SQL stand for?", "a", "Structured Query Language", "Simple Query Language", "Sequential Query Logic"),
	}
}

func sampleProblems() []domain.Problem {
	return []domain.Problem{
		{
			ID:        "cb-sum",
			Title:     "Sum of two numbers",
			Statement: "Read two integers a and b and print a+b.",
			TestCases: []domain.TestCase{
				{Input: "1 2", Expected: "3"},
				{Input: "-5 5", Expected: "0"},
				{Input: "1000000 2000000", Expected: "3000000", Hidden: true},
			},
		},
		{
			ID:        "cb-reverse",
			Title:     "Reverse a string",
			Statement: "Read one line and print it reversed.",
			TestCases: []domain.TestCase{
				{Input: "abc", Expected: "cba"},
				{Input: "racecar", Expected: "racecar"},
				{Input: "go", Expected: "og", Hidden: true},
			},
		},
	}
}
