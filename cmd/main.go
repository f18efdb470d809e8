package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"unideploy/internal/analyzer"
	"unideploy/internal/autofix"
	"unideploy/internal/builder"
	"unideploy/internal/cache"
	"unideploy/internal/clients"
	"unideploy/internal/config"
	"unideploy/internal/cost"
	"unideploy/internal/db"
	"unideploy/internal/guard"
	"unideploy/internal/handlers"
	"unideploy/internal/intent"
	"unideploy/internal/lifecycle"
	"unideploy/internal/logbroker"
	"unideploy/internal/logging"
	"unideploy/internal/pipeline"
	"unideploy/internal/reconciler"
	"unideploy/internal/sandbox"
	"unideploy/internal/ws"

	"github.com/joho/godotenv"
)

func main() {
	// No .env file is normal in production.
	_ = godotenv.Load()

	logging.Init()
	defer logging.Sync()

	cfg := config.Load()
	if err := config.ValidateSecrets(cfg); err != nil {
		logging.S().Fatalw("refusing to start", "error", err)
	}

	dbCfg := db.ParseDatabaseURL(os.Getenv("DATABASE_URL"))
	if dbCfg == nil {
		if path := os.Getenv("SQLITE_PATH"); path != "" {
			dbCfg = &db.Config{SQLitePath: path}
		} else {
			dbCfg = db.DefaultConfig()
		}
	}
	database, err := db.New(dbCfg)
	if err != nil {
		logging.S().Fatalw("database init failed", "error", err)
	}

	// Collaborators. The core only sees interfaces; the HTTP-backed
	// implementations are the production defaults.
	var verifier clients.TokenVerifier
	if cfg.AuthJWTSecret != "" {
		verifier = clients.NewJWTVerifier(cfg.AuthJWTSecret)
	} else {
		verifier = clients.NewRemoteVerifier(cfg)
	}
	aiClient := clients.NewHTTPAIClient(cfg)
	vector := clients.NewHTTPVectorIndex(cfg)
	wisdom := clients.NewHTTPWisdomStore(cfg)
	gateway := clients.NewHTTPLogGateway(cfg)
	provider := sandbox.NewRemoteProvider(cfg)

	var images builder.ImageBuilder = builder.NoopBuilder{}
	if cfg.LocalImageBuild {
		docker, derr := builder.NewDockerBuilder("unideploy")
		if derr != nil {
			logging.S().Warnw("docker unavailable, delegating image builds", "error", derr)
		} else {
			images = docker
		}
	}

	costs, err := cost.NewLedger(cfg.StorageDir)
	if err != nil {
		logging.S().Fatalw("cost ledger init failed", "error", err)
	}

	broker := logbroker.New()
	readCache := cache.New(cfg.RedisURL)
	intents := intent.NewLogger(database.DB)
	sysGuard := guard.NewSystemGuard(cfg)
	builds := builder.NewOrchestrator(images)

	runner := pipeline.NewRunner(cfg, database, broker, provider, builds, vector, gateway, costs)
	fixEngine := autofix.New(cfg, database, provider, vector, wisdom, aiClient, runner)
	runner.AttachFixer(fixEngine)

	lc := lifecycle.NewService(cfg, database, sysGuard, provider, runner, intents)
	an := analyzer.New(cfg, aiClient, wisdom)

	recon, err := reconciler.New(cfg, database, provider, runner, sysGuard, intents)
	if err != nil {
		logging.S().Fatalw("reconciler init failed", "error", err)
	}
	// One synchronous pass before serving so recorded state matches the
	// fleet after a restart.
	recon.Tick(context.Background())
	if err := recon.Start(); err != nil {
		logging.S().Fatalw("reconciler start failed", "error", err)
	}

	h := handlers.New(cfg, database, sysGuard, lc, an, fixEngine, runner, costs, readCache, intents)
	wsHandler := ws.NewHandler(broker, cfg.AllowedOrigins)
	router := handlers.NewRouter(cfg, database, h, wsHandler, verifier)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logging.S().Infow("control plane listening", "port", cfg.Port, "environment", cfg.Environment)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.S().Fatalw("server failed", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logging.S().Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logging.S().Errorw("http drain failed", "error", err)
	}
	if err := recon.Stop(); err != nil {
		logging.S().Errorw("reconciler stop failed", "error", err)
	}
	readCache.Close()
	database.Close()
	logging.S().Info("shutdown complete")
}
