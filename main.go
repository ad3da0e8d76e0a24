package main

import (
	"context"
	stderrors "errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"sjsage522/immoworker/config"
	"sjsage522/immoworker/internal/api"
	"sjsage522/immoworker/internal/crawler"
	"sjsage522/immoworker/logger"
	"sjsage522/immoworker/services/cache"
	"sjsage522/immoworker/services/publisher"
	"sjsage522/immoworker/services/sink"
	"sjsage522/immoworker/services/worker"

	"github.com/joho/godotenv"
)

func main() {
	// Load environment variables
	godotenv.Load()

	// Initialize logger first
	logger.Init()
	log := logger.Default

	// Load and validate configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	log.Info().
		Str("environment", cfg.Environment).
		Str("discovery", cfg.DiscoveryMode).
		Int("sessions", len(cfg.Sessions)).
		Dur("crawl_interval", cfg.CrawlInterval).
		Msg("Starting application")

	// Set up context with cancellation on shutdown signals
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Initialize services
	services, err := initializeServices(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize services")
	}
	defer services.Cleanup()

	runners, err := buildRunners(cfg, services.Cache)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create sessions")
	}

	w := worker.NewWorker(runners, services.Sinks, services.Publisher, logger.ForComponent("worker"), cfg.CrawlInterval)

	var server *http.Server
	if cfg.APIAddr != "" {
		server = &http.Server{
			Addr:              cfg.APIAddr,
			Handler:           api.NewHandler(w, logger.ForComponent("api")).Router(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			log.Info().Str("addr", cfg.APIAddr).Msg("API listening")
			if err := server.ListenAndServe(); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
				log.Error().Err(err).Msg("API server failed")
				cancel()
			}
		}()
	}

	log.Info().Msg("Starting listing worker")
	err = w.Start(ctx)
	switch {
	case err != nil && ctx.Err() != nil:
		log.Info().Msg("Received shutdown signal")
	case err != nil:
		log.Error().Err(err).Msg("Worker exited with error")
	default:
		log.Info().Msg("Worker exited normally")
		// Keep serving the last table until a signal arrives
		if server != nil {
			<-ctx.Done()
		}
	}

	// Graceful shutdown
	log.Info().Msg("Shutting down gracefully...")
	if server != nil {
		shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
		defer stop()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("API shutdown")
		}
	}
}

// Services holds all the initialized services
type Services struct {
	Cache     cache.CacheService
	Publisher publisher.Publisher
	Sinks     []sink.Sink
}

// Cleanup cleans up all services
func (s *Services) Cleanup() {
	if s.Publisher != nil {
		s.Publisher.Close()
	}
	for _, sk := range s.Sinks {
		sk.Close()
	}
}

// initializeServices initializes the configured services. Cache, Redis and
// Postgres are optional and stay off when their address is empty.
func initializeServices(ctx context.Context, cfg *config.Config) (*Services, error) {
	services := &Services{}

	if cfg.MemcacheAddr != "" {
		mc := cache.NewMemcacheService(cfg.MemcacheAddr)
		if err := mc.Ping(); err != nil {
			logger.Warn("Memcache at %s unreachable, rate-limit blocks stay local: %v", cfg.MemcacheAddr, err)
		} else {
			services.Cache = mc
			logger.Info("Connected to Memcache at %s", cfg.MemcacheAddr)
		}
	}

	if cfg.RedisAddr != "" {
		redisPublisher := publisher.NewRedisPublisher(publisher.RedisConfig{
			Addr:            cfg.RedisAddr,
			DB:              cfg.RedisDB,
			StreamPrefix:    cfg.RedisStream,
			StreamCount:     cfg.RedisStreamCount,
			StreamMaxLength: cfg.RedisStreamMaxLength,
		})
		if err := redisPublisher.Ping(ctx); err != nil {
			redisPublisher.Close()
			services.Cleanup()
			return nil, err
		}
		services.Publisher = redisPublisher
		logger.Info("Connected to Redis at %s (DB: %d, Stream: %s)",
			cfg.RedisAddr, cfg.RedisDB, cfg.RedisStream)
	}

	if cfg.CSVOutputPath != "" {
		csvWriter, err := sink.NewCSVWriter(cfg.CSVOutputPath)
		if err != nil {
			services.Cleanup()
			return nil, err
		}
		services.Sinks = append(services.Sinks, csvWriter)
	}

	if cfg.PostgresDSN != "" {
		pgWriter, err := sink.NewPostgresWriter(ctx, cfg.PostgresDSN, crawler.Columns())
		if err != nil {
			services.Cleanup()
			return nil, err
		}
		services.Sinks = append(services.Sinks, pgWriter)
		logger.Info("Connected to PostgreSQL")
	}

	return services, nil
}

// buildRunners creates one session per configured search
func buildRunners(cfg *config.Config, cacheSvc cache.CacheService) ([]worker.Runner, error) {
	var source crawler.SourceFactory = crawler.HTTPSource
	if cfg.DiscoveryMode == config.DiscoveryChrome {
		source = crawler.ChromeSource(crawler.ChromeConfig{
			ExecPath: cfg.ChromeBin,
			PageWait: cfg.PageWait,
		})
	}

	log := logger.ForComponent("crawler").WithFields(logger.Fields{
		"discovery": cfg.DiscoveryMode,
		"env":       cfg.Environment,
	})

	runners := make([]worker.Runner, 0, len(cfg.Sessions))
	for _, spec := range cfg.Sessions {
		s, err := crawler.NewSession(crawler.SessionConfig{
			Name:     spec.Name,
			Template: cfg.Template(spec),
			Pages:    spec.Pages,
			Fetch: crawler.FetcherConfig{
				Timeout:           cfg.FetchTimeout,
				RequestsPerSecond: cfg.RequestsPerSecond,
				BlockTime:         cfg.RateLimitBlock,
			},
			Retry: crawler.RetryPolicy{
				MaxAttempts: cfg.MaxRetries + 1,
				BaseDelay:   cfg.RetryBaseDelay,
				MaxDelay:    cfg.RetryMaxDelay,
			},
			Source:   source,
			CacheSvc: cacheSvc,
			Logger:   log,
		})
		if err != nil {
			return nil, err
		}
		runners = append(runners, s)
	}
	return runners, nil
}
