package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rongwang/bytebank/internal/api"
	"github.com/rongwang/bytebank/internal/config"
	"github.com/rongwang/bytebank/internal/ledger"
	"github.com/rongwang/bytebank/internal/repository"
	"github.com/rongwang/bytebank/internal/seed"
	"github.com/rongwang/bytebank/internal/service"
	"github.com/rongwang/bytebank/internal/session"
	"github.com/rongwang/bytebank/internal/utils"
)

func main() {
	// Load configuration
	cfg := config.LoadConfig()
	logger := utils.NewLogger(cfg.Log.Level, cfg.Log.Format)
	if err := cfg.Validate(); err != nil {
		logger.Fatal("Invalid configuration: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Set up the record store
	db, err := config.SetupStore(ctx, cfg)
	if err != nil {
		logger.Fatal("Failed to set up store: %v", err)
	}
	defer db.Close()
	logger.WithField("driver", cfg.Store.Driver).Info("store ready at schema version %d", db.Version())

	local, err := config.SetupLocalStorage(cfg)
	if err != nil {
		logger.Fatal("Failed to set up local storage: %v", err)
	}
	defer local.Close()

	// Create repository and ledger
	repo := repository.NewStoreRepository(db)
	engine := ledger.NewEngine(db, logger)

	if n, err := engine.RecomputeAll(ctx); err != nil {
		logger.Fatal("Failed to recompute balances: %v", err)
	} else {
		logger.Info("recomputed %d account balances", n)
	}

	var generator *seed.Generator
	if cfg.Seed.OnSignUp {
		generator = seed.NewGenerator(db, engine, cfg.Seed.Value, logger)
	}

	// Create service
	svc := service.NewDefaultService(repo, engine, generator, cfg.Auth.SessionDuration, logger)

	policy := session.CookiePolicy{Environment: session.Development, Domain: cfg.Auth.CookieDomain}
	if cfg.Auth.IsProduction() {
		policy.Environment = session.Production
		gin.SetMode(gin.ReleaseMode)
	}

	home := session.NewOrigin("home", local, repo, policy, cfg.Auth.JWTSecret, logger)
	dashboard := session.NewOrigin("dashboard", local, repo, policy, cfg.Auth.JWTSecret, logger)

	// Set up Gin routers, one per application
	homeRouter := gin.New()
	homeRouter.Use(gin.Recovery(), api.RequestLogger(logger.WithField("app", "home")))
	api.NewHandler(svc, home, cfg.Server.HomeURL, logger).SetupHomeRoutes(homeRouter)

	dashboardRouter := gin.New()
	dashboardRouter.Use(gin.Recovery(), api.RequestLogger(logger.WithField("app", "dashboard")))
	api.NewHandler(svc, dashboard, cfg.Server.HomeURL, logger).SetupDashboardRoutes(dashboardRouter)

	servers := []*http.Server{
		{Addr: fmt.Sprintf(":%d", cfg.Server.HomePort), Handler: homeRouter},
		{Addr: fmt.Sprintf(":%d", cfg.Server.DashboardPort), Handler: dashboardRouter},
	}

	// Start servers
	errs := make(chan error, len(servers))
	for _, srv := range servers {
		go func(srv *http.Server) {
			logger.Info("Starting server on %s", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errs <- fmt.Errorf("server %s: %w", srv.Addr, err)
			}
		}(srv)
	}

	select {
	case err := <-errs:
		logger.Error("%v", err)
	case <-ctx.Done():
		logger.Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for _, srv := range servers {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("shutdown %s: %v", srv.Addr, err)
		}
	}
}
