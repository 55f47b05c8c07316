package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"desperado-club/config"
	"desperado-club/handlers"
	"desperado-club/logger"
	"desperado-club/middleware"
	"desperado-club/models"
	"desperado-club/services"
	"desperado-club/utils"
	"desperado-club/workers"

	"github.com/bytedance/sonic"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	zl, err := logger.New(cfg.Log)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer func() { _ = zl.Sync() }()

	if err := run(cfg, zl); err != nil {
		zl.Fatal("server exited", zap.Error(err))
	}
}

func run(cfg *config.Config, zl *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := gorm.Open(postgres.Open(cfg.Database.URL), &gorm.Config{TranslateError: true})
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	sqlDB.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)
	defer sqlDB.Close()

	if err := models.AutoMigrate(db); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}
	if err := models.SeedFloors(db); err != nil {
		return fmt.Errorf("seed floors: %w", err)
	}

	deps := services.Deps{
		DB:    db,
		Log:   zl,
		Clock: clockwork.NewRealClock(),
	}

	detached := workers.NewDetached(zl.Named("detached"), cfg.Workers.Detached, cfg.Workers.QueueSize, cfg.Workers.TaskTimeout)
	deps.Detached = detached

	deps.Channels = []services.DeliveryChannel{
		services.NewDiscordChannel(utils.NewHTTPClient(cfg.Notifications.WebhookTimeout), zl.Named("discord")),
	}

	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := rdb.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		defer rdb.Close()
		deps.Publisher = services.NewRedisRealtime(rdb, zl.Named("realtime"))
		zl.Info("realtime fan-out enabled", zap.String("addr", cfg.Redis.Addr))
	} else {
		zl.Warn("redis.addr not set, notification stream falls back to polling")
	}

	if cfg.R2Enabled() {
		uploader, err := utils.NewR2Uploader(ctx, cfg.R2)
		if err != nil {
			return fmt.Errorf("init R2: %w", err)
		}
		deps.Icons = uploader
	} else {
		zl.Warn("R2 not configured, reward icon uploads disabled")
	}

	svc := services.New(deps)

	scheduler, err := services.StartScheduler(svc, zl.Named("scheduler"), deps.Clock)
	if err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}

	app := fiber.New(fiber.Config{
		AppName:               "desperado-club",
		BodyLimit:             cfg.Server.BodyLimitMB * 1024 * 1024,
		JSONEncoder:           sonic.Marshal,
		JSONDecoder:           sonic.Unmarshal,
		DisableStartupMessage: true,
	})

	app.Use(cors.New(cors.Config{
		AllowOrigins:     strings.Join(cfg.Server.AllowedOrigins, ","),
		AllowMethods:     "GET,POST,PUT,DELETE,OPTIONS,PATCH,HEAD",
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, X-Requested-With, X-Request-ID, Cache-Control, X-User-ID, X-User-Roles, X-Household-ID, X-Device-ID",
		ExposeHeaders:    "Content-Length, Content-Type, X-Request-ID",
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	opts := handlers.Options{StreamInterval: cfg.Notifications.StreamInterval}
	skip := []string{"/healthz"}
	if cfg.Auth.ServiceURL != "" {
		opts.StreamAuth = services.NewAuthServiceClient(cfg.Auth.ServiceURL, cfg.Auth.ServiceToken, cfg.Auth.Timeout, zl.Named("auth"))
		skip = append(skip, handlers.StreamPath)
	}

	// only the gateway may call us, except the paths in skip
	app.Use(middleware.GatewayAuthMiddleware(cfg.Server.GatewayToken, zl, skip...))

	handlers.Setup(app, svc, zl, opts)

	errCh := make(chan error, 1)
	go func() {
		addr := fmt.Sprintf(":%d", cfg.Server.Port)
		zl.Info("server listening", zap.String("addr", addr), zap.Strings("origins", cfg.Server.AllowedOrigins))
		errCh <- app.Listen(addr)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
	}

	zl.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		zl.Error("fiber shutdown", zap.Error(err))
	}
	scheduler.Shutdown()
	detached.Close()
	return nil
}
