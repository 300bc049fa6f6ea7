package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/SAP-F-2025/exam-service/internal/cache"
	"github.com/SAP-F-2025/exam-service/internal/config"
	"github.com/SAP-F-2025/exam-service/internal/events"
	"github.com/SAP-F-2025/exam-service/internal/repositories"
	"github.com/SAP-F-2025/exam-service/internal/repositories/postgres"
	"github.com/SAP-F-2025/exam-service/internal/services"
	"github.com/SAP-F-2025/exam-service/internal/storage"
	"github.com/SAP-F-2025/exam-service/internal/utils"
	"github.com/SAP-F-2025/exam-service/internal/validator"
	"github.com/SAP-F-2025/exam-service/pkg"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gorm.io/gorm"
)

// app holds the infrastructure shared by every subcommand.
type app struct {
	cfg       *config.Config
	logger    utils.Logger
	db        *gorm.DB
	repo      repositories.Repository
	redis     *redis.Client
	publisher events.EventPublisher
	services  *services.ServiceManager
}

// viperForCmd binds the command's flags and the process environment.
// A flag named database-url is also read from DATABASE_URL.
func viperForCmd(cmd *cobra.Command) *viper.Viper {
	v := viper.New()
	_ = v.BindPFlags(cmd.Flags())
	_ = v.BindPFlags(cmd.InheritedFlags())
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	v.SetDefault("migrate", true)
	return v
}

// loadConfig starts from the environment and applies any flag overrides.
func loadConfig(cmd *cobra.Command) (*config.Config, *viper.Viper, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}

	v := viperForCmd(cmd)
	if v.IsSet("port") && v.GetString("port") != "" {
		cfg.Port = v.GetString("port")
	}
	if v.IsSet("database-url") && v.GetString("database-url") != "" {
		cfg.DatabaseURL = v.GetString("database-url")
	}
	if v.IsSet("log-level") && v.GetString("log-level") != "" {
		cfg.LogLevel = v.GetString("log-level")
	}
	if v.IsSet("log-format") && v.GetString("log-format") != "" {
		cfg.LogFormat = v.GetString("log-format")
	}
	if cmd.Flags().Changed("sweep-interval") {
		cfg.SweepInterval = v.GetDuration("sweep-interval")
	}

	return cfg, v, nil
}

func newApp(cmd *cobra.Command) (*app, error) {
	cfg, v, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}

	log := utils.NewLogger(cfg.LogLevel, cfg.LogFormat)
	a := &app{cfg: cfg, logger: log}

	db, err := pkg.InitDatabase(cfg)
	if err != nil {
		return nil, err
	}
	a.db = db

	if v.GetBool("migrate") {
		if err := pkg.AutoMigrate(db); err != nil {
			a.Close()
			return nil, err
		}
	}
	a.repo = postgres.NewRepository(db)

	cacheService := cache.NewNoopCache()
	if cfg.RedisURL != "" {
		ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
		client, err := pkg.NewRedisClient(ctx, cfg)
		cancel()
		if err != nil {
			log.Warn("Redis unavailable, caching disabled", "error", err)
		} else {
			a.redis = client
			cacheService = cache.NewRedisCache(client, "exam-service", utils.ToSlogLogger(log))
		}
	}

	publisher, err := cfg.Events.CreateEventPublisher(utils.ToSlogLogger(log))
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("create event publisher: %w", err)
	}
	a.publisher = publisher

	store, err := storage.NewLocalStore(cfg.UploadDir, cfg.MaxUploadSize)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("open upload store: %w", err)
	}

	a.services = services.NewServiceManager(services.Dependencies{
		Repo:      a.repo,
		Cache:     cacheService,
		Publisher: publisher,
		Storage:   store,
		Validator: validator.New(),
		Logger:    log,
	}, services.WithCacheTTL(cfg.CacheTTL))

	return a, nil
}

func (a *app) Close() {
	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			a.logger.Warn("Failed to close event publisher", "error", err)
		}
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.db != nil {
		if sqlDB, err := a.db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
}
