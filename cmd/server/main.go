package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/mailgun/mailgun-go/v3"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"Mailroom/internal/api"
	"Mailroom/internal/config"
	"Mailroom/internal/db"
	"Mailroom/internal/db/memstore"
	"Mailroom/internal/delivery"
	"Mailroom/internal/email"
	"Mailroom/internal/metrics"
	"Mailroom/internal/queue"
	"Mailroom/internal/storage"
	"Mailroom/internal/subscriber"
	"Mailroom/internal/tracking"
	"Mailroom/internal/views"
	"Mailroom/internal/worker"
)

// jobLockTTL bounds how long a crashed worker keeps a job locked.
const jobLockTTL = 6 * time.Hour

type store interface {
	delivery.Store
	subscriber.Store
	Migrate(ctx context.Context) error
	Close()
}

func main() {

	// ------------------------------------------------
	// Logger
	// ------------------------------------------------
	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	// ------------------------------------------------
	// Config
	// ------------------------------------------------
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("failed to load config", zap.Error(err))
	}

	// ------------------------------------------------
	// Root Context + Shutdown
	// ------------------------------------------------
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		logger.Info("shutdown signal received", zap.String("signal", sig.String()))
		cancel()
	}()

	// ------------------------------------------------
	// Database
	// ------------------------------------------------
	var st store
	if cfg.DatabaseURL == "memory" {
		logger.Warn("using in-memory store, data is lost on shutdown")
		st = memstore.New()
	} else {
		pg, err := db.New(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal("database connection failed", zap.Error(err))
		}
		st = pg
	}
	defer st.Close()

	if cfg.AutoMigrate {
		if err := st.Migrate(ctx); err != nil {
			logger.Fatal("database migration failed", zap.Error(err))
		}
	}

	// ------------------------------------------------
	// Metrics
	// ------------------------------------------------
	metrics.Init()

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())

	metricsServer := &http.Server{
		Addr:    ":" + cfg.MetricsPort,
		Handler: metricsMux,
	}

	go func() {
		logger.Info("metrics server started", zap.String("port", cfg.MetricsPort))
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("metrics server error", zap.Error(err))
		}
	}()

	// ------------------------------------------------
	// Mail Backend
	// ------------------------------------------------
	backend, err := mailBackend(ctx, cfg)
	if err != nil {
		logger.Fatal("failed to set up mail backend", zap.Error(err))
	}
	logger.Info("mail backend ready", zap.String("backend", cfg.MailBackend))

	// ------------------------------------------------
	// Rate Limiter
	// ------------------------------------------------
	var limiter *rate.Limiter
	if cfg.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateLimit)
	}

	// ------------------------------------------------
	// View Links
	// ------------------------------------------------
	registry := views.Default()
	if cfg.ViewLinksFile != "" {
		if registry, err = views.Load(cfg.ViewLinksFile); err != nil {
			logger.Fatal("failed to load view links", zap.Error(err))
		}
	}

	// ------------------------------------------------
	// Job Queue (shared by API + workers)
	// ------------------------------------------------
	var (
		jobs   queue.Queue
		locker queue.Locker = queue.NopLocker{}
	)
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			logger.Fatal("invalid redis url", zap.Error(err))
		}
		rdb := redis.NewClient(opts)
		defer rdb.Close()

		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Fatal("redis connection failed", zap.Error(err))
		}
		jobs = queue.NewRedisQueue(rdb, queue.DefaultKey)
		locker = queue.NewRedisLocker(rdb, jobLockTTL)
	} else {
		ch := queue.NewChanQueue(100)
		defer ch.Close()
		jobs = ch
	}

	// ------------------------------------------------
	// Services
	// ------------------------------------------------
	subscribers := subscriber.New(st, cfg.BaseURL, logger)

	deliveries := delivery.New(st, backend,
		delivery.WithLogger(logger),
		delivery.WithBaseURL(cfg.BaseURL),
		delivery.WithLimiter(limiter),
		delivery.WithQueue(jobs),
		delivery.WithViews(registry),
		delivery.WithMailInlineCount(cfg.MailInlineCount),
		delivery.WithRecipientSource(subscriber.PersonType, subscribers),
		delivery.WithGroupSource(subscriber.GroupType, subscribers),
	)

	// ------------------------------------------------
	// Worker Pool
	// ------------------------------------------------
	var wg sync.WaitGroup

	worker.StartPool(
		ctx,
		&wg,
		cfg.WorkerCount,
		jobs,
		locker,
		deliveries,
		logger,
	)

	// Jobs left in the sending state by a previous run.
	if _, err := deliveries.Requeue(ctx); err != nil {
		logger.Error("failed to requeue sending jobs", zap.Error(err))
	}

	// ------------------------------------------------
	// HTTP Server
	// ------------------------------------------------
	var images storage.Images
	if cfg.ImageBucket != "" {
		client, err := storage.NewS3Client(ctx, cfg.AWSRegion)
		if err != nil {
			logger.Fatal("failed to set up image storage", zap.Error(err))
		}
		images = storage.NewS3Images(client, cfg.ImageBucket, cfg.ImagePrefix)
	}

	trackingHandler := &tracking.Handler{
		Tracker: deliveries,
		Images:  images,
		Log:     logger,
	}

	if cfg.AdminToken == "" {
		logger.Warn("ADMIN_TOKEN is empty, the admin API is not authenticated")
	}
	apiHandler := &api.Handler{
		Deliveries:  deliveries,
		Subscribers: subscribers,
		Token:       cfg.AdminToken,
		Log:         logger,
	}

	router := chi.NewRouter()
	router.Mount("/admin/api", apiHandler.Routes(cfg.CORSOrigins))
	router.Mount("/", trackingHandler.Routes())

	apiServer := &http.Server{
		Addr:              ":" + cfg.APIPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("api server started", zap.String("port", cfg.APIPort))
		if err := apiServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("api server error", zap.Error(err))
		}
	}()

	// ------------------------------------------------
	// Wait for shutdown
	// ------------------------------------------------
	<-ctx.Done()

	logger.Info("shutting down services...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	// Stop accepting new jobs
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("api shutdown failed", zap.Error(err))
	}

	// Wait for workers to finish the job they are sending
	wg.Wait()

	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("metrics shutdown failed", zap.Error(err))
	}

	logger.Info("application shutdown complete")
}

func mailBackend(ctx context.Context, cfg *config.Config) (email.Backend, error) {
	switch cfg.MailBackend {
	case "ses":
		client, err := email.NewSESClient(ctx, cfg.AWSRegion, cfg.AWSAccessKeyID, cfg.AWSSecretAccessKey)
		if err != nil {
			return nil, err
		}
		return email.NewSESBackend(client, cfg.SESConfigurationSet), nil
	case "mailgun":
		return email.NewMailgunBackend(mailgun.NewMailgun(cfg.MailgunDomain, cfg.MailgunAPIKey)), nil
	case "memory":
		return &email.MemoryBackend{}, nil
	default:
		return &email.SMTPBackend{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUser,
			Password: cfg.SMTPPassword,
			Retries:  cfg.RetryAttempts,
		}, nil
	}
}
