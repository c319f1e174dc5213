package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/listrelay/listrelay/internal/api"
	"github.com/listrelay/listrelay/internal/api/handler"
	"github.com/listrelay/listrelay/internal/api/middleware"
	"github.com/listrelay/listrelay/internal/config"
	"github.com/listrelay/listrelay/internal/logger"
	"github.com/listrelay/listrelay/internal/repository"
	"github.com/listrelay/listrelay/internal/service"
)

func main() {
	// Load configuration
	// Support CONFIG_PATH environment variable for production deployments
	configPath := os.Getenv("CONFIG_PATH")
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Initialize logger
	appLog := logger.NewDefault()
	logger.SetDefaultLogger(appLog)
	defer logger.Sync()

	// Initialize run-history database
	db, err := repository.InitDB(&cfg.Database)
	if err != nil {
		appLog.WithError(err).Fatal("Failed to initialize database")
	}
	runRepo := repository.NewRunRepository(db)

	// Initialize API clients
	githubService := service.NewGitHubService(&service.GitHubClientConfig{
		BaseURL:     cfg.GitHub.BaseURL,
		Token:       cfg.GitHub.Token,
		CallTimeout: cfg.Pipeline.CallTimeout,
	}, appLog)

	tokenService := service.NewTokenService(&service.TokenConfig{
		TokenURL:     cfg.Lists.TokenURL,
		ClientID:     cfg.Lists.ClientID,
		ClientSecret: cfg.Lists.ClientSecret,
		Scope:        cfg.Lists.Scope,
		CallTimeout:  cfg.Pipeline.CallTimeout,
	})

	listsService := service.NewListsService(&service.ListsClientConfig{
		BaseURL:     cfg.Lists.BaseURL,
		CallTimeout: cfg.Pipeline.CallTimeout,
	}, tokenService)

	slackService := service.NewSlackService(&service.SlackClientConfig{
		BaseURL:     cfg.Slack.BaseURL,
		BotToken:    cfg.Slack.BotToken,
		Channel:     cfg.Slack.Channel,
		CallTimeout: cfg.Pipeline.CallTimeout,
	}, appLog)

	drmapService := service.NewDrMapService(githubService, &service.DrMapConfig{
		Owner:      cfg.GitHub.Owner,
		Repo:       cfg.GitHub.Repo,
		ConfigPath: cfg.GitHub.ConfigPath,
	}, appLog)

	// The process must not serve without an established configuration.
	bootstrapCtx, cancelBootstrap := context.WithTimeout(context.Background(), time.Minute)
	if err := drmapService.Bootstrap(bootstrapCtx); err != nil {
		cancelBootstrap()
		appLog.WithError(err).Fatal("Failed to load initial configuration mapping")
	}
	cancelBootstrap()

	reloadService := service.NewReloadService(listsService, cfg.Lists.Env(), service.ReloadConfig{
		PollInterval:    cfg.Pipeline.PollInterval,
		MaxPollAttempts: cfg.Pipeline.MaxPollAttempts,
	}, appLog)

	// Trigger adapters
	webhookHandler := handler.NewWebhookHandler(handler.WebhookConfig{
		Owner:      cfg.GitHub.Owner,
		Repo:       cfg.GitHub.Repo,
		Branch:     cfg.GitHub.Branch,
		ImportRoot: cfg.GitHub.ImportRoot,
		ConfigPath: cfg.GitHub.ConfigPath,
		Secret:     cfg.GitHub.WebhookSecret,
	}, githubService, drmapService, reloadService, slackService, runRepo, appLog)

	commandHandler := handler.NewCommandHandler(handler.CommandConfig{
		Owner:         cfg.GitHub.Owner,
		Repo:          cfg.GitHub.Repo,
		Branch:        cfg.GitHub.Branch,
		ImportRoot:    cfg.GitHub.ImportRoot,
		SigningSecret: cfg.Slack.SigningSecret,
	}, githubService, drmapService, reloadService, slackService, runRepo, appLog)

	adminHandler := handler.NewAdminHandler(runRepo, drmapService, cfg.Lists.Env())

	// Setup router
	router := api.SetupRouter(cfg.Server.Mode, middleware.CORSConfig{
		AllowedOrigins:  cfg.Server.CORS.AllowedOrigins,
		AllowAllOrigins: cfg.Server.CORS.AllowAllOrigins,
	}, webhookHandler, commandHandler, adminHandler, appLog)

	// Create HTTP server
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	// Start server in goroutine
	go func() {
		appLog.Infof("Starting server: port=%d, mode=%s, env=%s", cfg.Server.Port, cfg.Server.Mode, cfg.Lists.Env())
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLog.WithError(err).Fatal("Failed to start server")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLog.Info("Shutting down server...")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLog.WithError(err).Fatal("Server forced to shutdown")
	}

	appLog.Info("Server exited")
}
