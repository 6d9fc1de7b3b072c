package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"companionai/internal/usertoken"
	"companionai/internal/util"
	"companionai/pkg/ai"
	"companionai/pkg/memory"
	"companionai/pkg/storage"
	"companionai/pkg/store"
	"companionai/services/companion/internal/app"
	"companionai/services/companion/internal/config"
	"companionai/services/companion/internal/identity"
	"companionai/services/companion/internal/server"
)

const defaultShutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load(config.Path())
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logger := util.InitLogger(cfg.LogLevel, cfg.LogFormat)

	jwtLeeway, err := config.ParseDuration("jwtLeeway", cfg.JWTLeeway)
	if err != nil {
		log.Fatalf("failed to parse jwt leeway: %v", err)
	}
	historyTTL, err := config.ParseDuration("historyTTL", cfg.HistoryTTL)
	if err != nil {
		log.Fatalf("failed to parse history ttl: %v", err)
	}
	shutdownTimeout, err := config.ParseDuration("shutdownTimeout", cfg.ShutdownTimeout)
	if err != nil {
		log.Fatalf("failed to parse shutdown timeout: %v", err)
	}
	if shutdownTimeout <= 0 {
		shutdownTimeout = defaultShutdownTimeout
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tokenVerifier, err := usertoken.NewVerifier(usertoken.Config{
		JWKSURL:    cfg.AuthJWKSURL,
		Issuer:     cfg.JWTIssuer,
		Audience:   cfg.JWTAudience,
		Leeway:     jwtLeeway,
		HTTPClient: &http.Client{Timeout: 5 * time.Second},
	})
	if err != nil {
		log.Fatalf("failed to init jwks verifier: %v", err)
	}
	trusted, err := util.NewTrustedProxies(cfg.TrustedProxyCIDRs)
	if err != nil {
		log.Fatalf("failed to parse trusted proxies: %v", err)
	}

	db, err := store.NewGormStore(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	history, err := memory.New(memory.Config{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		TTL:      historyTTL,
	})
	if err != nil {
		log.Fatalf("failed to init chat history: %v", err)
	}
	if err := history.Ping(ctx); err != nil {
		log.Fatalf("failed to reach redis: %v", err)
	}
	objects, err := storage.NewMinioStore(ctx, storage.MinioConfig{
		Endpoint:  cfg.MinioEndpoint,
		AccessKey: cfg.MinioAccessKey,
		SecretKey: cfg.MinioSecretKey,
		Bucket:    cfg.MinioBucket,
		UseSSL:    cfg.MinioUseSSL,
	})
	if err != nil {
		log.Fatalf("failed to init object storage: %v", err)
	}
	streamer, err := ai.NewStreamer(ai.Config{
		Provider: cfg.LLMProvider,
		BaseURL:  cfg.LLMBaseURL,
		APIKey:   cfg.LLMAPIKey,
		Model:    cfg.LLMModel,
	})
	if err != nil {
		log.Fatalf("failed to init llm: %v", err)
	}

	appCore, err := app.New(app.Config{
		Store:          db,
		Objects:        objects,
		History:        history,
		Streamer:       streamer,
		Rules:          cfg.Rules(),
		PublicBaseURL:  cfg.PublicBaseURL,
		MaxUploadBytes: cfg.MaxUploadBytes,
		HistoryWindow:  cfg.HistoryWindow,
	})
	if err != nil {
		log.Fatalf("failed to init app: %v", err)
	}
	defer func() {
		_ = history.Close()
		_ = appCore.Close()
	}()

	srvCfg := server.Config{
		App:            appCore,
		TokenVerifier:  tokenVerifier,
		TrustedProxies: trusted,
		AllowedOrigins: cfg.AllowedOrigins,
	}
	if cfg.IdentityServiceURL != "" {
		srvCfg.Identity = identity.NewClient(cfg.IdentityServiceURL)
	}

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:              addr,
		Handler:           server.New(srvCfg).Router(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		// chat replies stream for as long as the model keeps generating
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("companion server listening", "addr", addr, "llm_provider", cfg.LLMProvider, "llm_model", streamer.Model())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		logger.Info("companion server shutting down")
		return srv.Shutdown(shutdownCtx)
	})
	if err := g.Wait(); err != nil {
		logger.Error("server error", "err", err)
		os.Exit(1)
	}
}
