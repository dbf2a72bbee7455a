package main

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron"
	config "github.com/videoblade/videoblade-api/configs"
	"github.com/videoblade/videoblade-api/internal/api/handlers"
	"github.com/videoblade/videoblade-api/internal/api/middleware"
	"github.com/videoblade/videoblade-api/internal/credentials"
	job "github.com/videoblade/videoblade-api/internal/jobs"
	"github.com/videoblade/videoblade-api/internal/logger"
	"github.com/videoblade/videoblade-api/internal/metrics"
	"github.com/videoblade/videoblade-api/internal/oauthstate"
	"github.com/videoblade/videoblade-api/internal/platform"
	"github.com/videoblade/videoblade-api/internal/queue"
	"github.com/videoblade/videoblade-api/internal/repository"
	"github.com/videoblade/videoblade-api/internal/service"
	"github.com/videoblade/videoblade-api/internal/storage"
	"github.com/videoblade/videoblade-api/migrations"
	"github.com/videoblade/videoblade-api/pkg/utils"
	"go.uber.org/zap"
)

const (
	sweepBatchSize = 50
	jobTimeout     = 5 * time.Minute
	staleMargin    = 10 * time.Minute
)

func main() {
	envErr := godotenv.Load()

	cfg := config.LoadConfig()
	log := logger.New(cfg.LogLevel, cfg.Env)
	defer log.Sync()

	if envErr != nil {
		log.Warn("No .env file loaded", zap.Error(envErr))
	}

	db, err := sql.Open("postgres", cfg.PostgresURI)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}

	if err := db.Ping(); err != nil {
		log.Fatal("Database is unreachable", zap.Error(err))
	}

	if cfg.RunMigrations {
		if err := migrations.Up(db, log.Named("migrations")); err != nil {
			log.Fatal("Failed to migrate database", zap.Error(err))
		}
	}

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisURI})
	redisConn := asynq.RedisClientOpt{Addr: cfg.RedisURI}
	client := asynq.NewClient(redisConn)

	objects, err := storage.NewR2Storage(context.Background(), cfg.R2)
	if err != nil {
		log.Fatal("Failed to configure object storage", zap.Error(err))
	}

	cipher, err := utils.NewTokenCipher([]byte(cfg.SecretKey))
	if err != nil {
		log.Fatal("Invalid SECRET_KEY", zap.Error(err))
	}

	adapterOpts := platform.Options{
		HTTPClient:   &http.Client{Timeout: cfg.HTTPTimeout},
		UploadClient: &http.Client{Timeout: cfg.UploadTimeout},
	}
	adapters := platform.NewRegistry(
		platform.NewYouTube(platform.YouTubeConfig{
			ClientID:     cfg.Google.ClientID,
			ClientSecret: cfg.Google.ClientSecret,
			RedirectURI:  cfg.Google.RedirectURI,
		}, adapterOpts),
		platform.NewFacebook(platform.FacebookConfig{
			AppID:       cfg.Facebook.ClientID,
			AppSecret:   cfg.Facebook.ClientSecret,
			RedirectURI: cfg.Facebook.RedirectURI,
		}, adapterOpts),
		platform.NewTikTok(platform.TikTokConfig{
			ClientKey:    cfg.Tiktok.ClientID,
			ClientSecret: cfg.Tiktok.ClientSecret,
			RedirectURI:  cfg.Tiktok.RedirectURI,
		}, adapterOpts),
	)

	socialAccountRepo := repository.NewSocialAccountRepository(db)
	scheduleRepo := repository.NewScheduleRepository(db)
	postRepo := repository.NewPostRepository(db)
	historyRepo := repository.NewPostingHistoryRepository(db)

	store := credentials.NewStore(socialAccountRepo, adapters, cipher, credentials.Options{
		RefreshWindow:  cfg.RefreshWindow,
		UploadWindow:   cfg.UploadTokenWindow,
		RefreshTimeout: cfg.HTTPTimeout,
	}, log)
	states := oauthstate.NewManager(rdb, cfg.StateSecret, cfg.StateTTL, log)

	dispatcher := queue.NewDispatcher(client, cfg.UploadTimeout, log)
	accountService := service.NewAccountService(store, adapters, states, log)
	schedulerService := service.NewSchedulerService(db, scheduleRepo, postRepo, historyRepo,
		store, adapters, objects, dispatcher, service.SchedulerOptions{
			Retry: service.RetryPolicy{
				MaxAttempts: cfg.Retry.MaxAttempts,
				BaseDelay:   cfg.Retry.BaseDelay,
				MaxDelay:    cfg.Retry.MaxDelay,
				QuotaDelay:  cfg.Retry.QuotaDelay,
			},
			UploadTimeout: cfg.UploadTimeout,
		}, log)

	app := fiber.New(appConfig(cfg, log))

	app.Use(recover.New())
	app.Use(requestid.New(requestid.Config{
		Generator: func() string {
			id, err := utils.GenerateRandomKey(12)
			if err != nil {
				return ""
			}
			return id
		},
	}))
	app.Use(fiberlogger.New())
	app.Use(metrics.Middleware())
	app.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.FrontendURL,
		AllowMethods:     "GET,POST,PUT,DELETE,OPTIONS",
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization",
		AllowCredentials: true,
		MaxAge:           3600,
	}))

	health := handlers.NewHealthHandler(map[string]handlers.Pinger{
		"postgres": db,
		"redis": handlers.PingerFunc(func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		}),
	}, log)
	app.Get("/healthz", health.Health)
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	authMiddleware := middleware.NewAuthMiddleware(*cfg, log)
	api := app.Group("/", authMiddleware.AuthMiddleware())

	platforms := handlers.NewPlatformHandler(accountService, log)
	api.Get("/platforms", platforms.ListAccounts)
	api.Get("/platforms/:platform/auth-url", platforms.AuthURL)
	api.Get("/platforms/:platform/callback", platforms.Callback)
	api.Get("/platforms/:platform/account", platforms.Account)
	api.Get("/platforms/:platform/videos", platforms.ListVideos)
	api.Post("/platforms/:platform/upload", platforms.Upload)
	api.Post("/platforms/:platform/disconnect", platforms.Disconnect)
	api.Post("/platforms/:platform/refresh-token", platforms.RefreshToken)

	scheduler := handlers.NewSchedulerHandler(schedulerService)
	api.Post("/scheduler", scheduler.Create)
	api.Get("/scheduler", scheduler.List)
	api.Get("/scheduler/:scheduleId", scheduler.Get)
	api.Put("/scheduler/:scheduleId", scheduler.Update)
	api.Delete("/scheduler/:scheduleId", scheduler.Cancel)
	api.Get("/scheduler/:scheduleId/attempts", scheduler.Attempts)

	posts := handlers.NewPostHandler(schedulerService)
	api.Post("/posts", posts.CreatePost)
	api.Get("/posts/:postId", posts.GetPost)

	// cron jobs
	refreshTokenJob := job.NewTokenRefreshJob(store, jobTimeout, logger.WithComponent(log, "token_refresh"))
	sweepJob := job.NewPublishSweepJob(schedulerService, sweepBatchSize, cfg.UploadTimeout+staleMargin,
		jobTimeout, logger.WithComponent(log, "publish_sweep"))

	c := cron.New()
	if err := c.AddFunc(cfg.RefreshInterval, refreshTokenJob.RefreshTokens); err != nil {
		log.Fatal("Invalid token refresh interval", zap.String("schedule", cfg.RefreshInterval), zap.Error(err))
	}
	if err := c.AddFunc(cfg.SweepInterval, sweepJob.Sweep); err != nil {
		log.Fatal("Invalid sweep interval", zap.String("schedule", cfg.SweepInterval), zap.Error(err))
	}
	c.Start()

	// queue
	server := queue.NewServer(redisConn, cfg.WorkerConcurrency, logger.WithComponent(log, "worker"))
	mux := asynq.NewServeMux()
	queue.NewWorker(schedulerService, log).Register(mux)

	go func() {
		log.Info("Starting the Asynq server")
		if err := server.Run(mux); err != nil {
			log.Fatal("Could not start Asynq server", zap.Error(err))
		}
	}()

	go func() {
		if err := app.Listen(":" + cfg.Port); err != nil {
			log.Fatal("Failed to start server", zap.Error(err))
		}
	}()
	log.Info("Server is running", zap.String("port", cfg.Port))

	gracefulShutdown(log, app, c, server, func() {
		if err := client.Close(); err != nil {
			log.Error("Failed to close asynq client", zap.Error(err))
		}
		if err := rdb.Close(); err != nil {
			log.Error("Failed to close redis client", zap.Error(err))
		}
		closeDB(log, db)
	})
}

// appConfig streams request bodies so multipart uploads spill to temp files
// instead of being buffered whole.
func appConfig(cfg *config.Config, log *zap.Logger) fiber.Config {
	return fiber.Config{
		ReadTimeout:       10 * time.Minute,
		WriteTimeout:      10 * time.Minute,
		BodyLimit:         cfg.MaxUploadBytes,
		StreamRequestBody: true,
		ErrorHandler:      handlers.ErrorHandler(log.Named("http"), cfg.IsProduction()),
	}
}

func closeDB(log *zap.Logger, db *sql.DB) {
	if err := db.Close(); err != nil {
		log.Error("Failed to close database", zap.Error(err))
		return
	}
	log.Info("Database connection closed")
}

func gracefulShutdown(log *zap.Logger, app *fiber.App, c *cron.Cron, server *asynq.Server, cleanup func()) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	<-quit
	log.Info("Shutting down server")

	if err := app.Shutdown(); err != nil {
		log.Error("Failed to shut down server", zap.Error(err))
	}
	c.Stop()
	server.Shutdown()

	cleanup()
	log.Info("Server shutdown complete")
}
