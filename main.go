package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"

	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"

	"github.com/ekaya-inc/nlu-engine/pkg/config"
	"github.com/ekaya-inc/nlu-engine/pkg/database"
	"github.com/ekaya-inc/nlu-engine/pkg/engine"
	"github.com/ekaya-inc/nlu-engine/pkg/handlers"
	"github.com/ekaya-inc/nlu-engine/pkg/kvs"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	// Load configuration
	cfg, err := config.Load(Version)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Log startup configuration
	log.Printf("Configuration loaded:")
	log.Printf("  Environment: %s", cfg.Env)
	log.Printf("  NLU provider: %s", cfg.NLU.Provider)
	log.Printf("  Languages: %v (default: %s)", cfg.NLU.Languages, cfg.NLU.DefaultLanguage)
	log.Printf("  Database: %s@%s:%d/%s", cfg.Database.User, cfg.Database.Host, cfg.Database.Port, cfg.Database.Database)
	log.Printf("  Redis: %s:%d", cfg.Redis.Host, cfg.Redis.Port)

	logger, err := newLogger(cfg.Env)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx := context.Background()

	// Migrations run over a database/sql handle; the engine itself uses the
	// pgx pool.
	migrationDB, err := sql.Open("pgx", cfg.Database.ConnectionString())
	if err != nil {
		log.Fatalf("Failed to open migration connection: %v", err)
	}
	if err := database.RunMigrations(migrationDB, logger); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}
	if err := migrationDB.Close(); err != nil {
		logger.Warn("Failed to close migration connection", zap.Error(err))
	}

	db, err := database.NewConnection(ctx, &cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	redisClient, err := database.NewRedisClient(&cfg.Redis)
	if err != nil {
		log.Fatalf("Failed to connect to redis: %v", err)
	}
	store := kvs.NewRedisStore(redisClient)

	eng := engine.New(cfg, db, store, logger)

	mux := http.NewServeMux()

	// Register handlers
	healthHandler := handlers.NewHealthHandler(cfg, logger)
	healthHandler.RegisterRoutes(mux)

	nluHandler := handlers.NewNLUHandler(eng, logger)
	nluHandler.RegisterRoutes(mux)

	log.Printf("Starting nlu-engine on port %s (version: %s)", cfg.Port, cfg.Version)
	if err := http.ListenAndServe(":"+cfg.Port, mux); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}

func newLogger(env string) (*zap.Logger, error) {
	if env == "local" {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
