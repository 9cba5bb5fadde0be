// Command issuer runs the OAuth2/OIDC identity provider: it wires
// configuration, storage, the key manager, every domain store, and the
// HTTP server together, then serves until an interrupt or terminate
// signal arrives.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/lumenid/issuer/account"
	"github.com/lumenid/issuer/authcode"
	"github.com/lumenid/issuer/clientregistry"
	"github.com/lumenid/issuer/config"
	"github.com/lumenid/issuer/federation"
	"github.com/lumenid/issuer/idpstate"
	"github.com/lumenid/issuer/keys"
	"github.com/lumenid/issuer/ratelimit"
	"github.com/lumenid/issuer/refreshtoken"
	"github.com/lumenid/issuer/server"
	"github.com/lumenid/issuer/session"
	"github.com/lumenid/issuer/storage"
	"github.com/lumenid/issuer/storage/dynamogw"
	"github.com/lumenid/issuer/storage/memgw"
)

func main() {
	cfg := config.MustLoad()

	logger := newLogger(cfg)
	slog.SetDefault(logger)

	gw, sweeper, err := buildStorage(cfg)
	if err != nil {
		logger.Error("failed to initialize storage", "err", err)
		os.Exit(1)
	}

	km := keys.New(time.Now)
	if _, err := km.Initialize(); err != nil {
		logger.Error("failed to initialize signing keys", "err", err)
		os.Exit(1)
	}

	limiter, err := buildRateLimiter(cfg, gw)
	if err != nil {
		logger.Error("failed to initialize rate limiter", "err", err)
		os.Exit(1)
	}

	registry := prometheus.NewRegistry()

	srv, err := server.New(server.Config{
		Issuer:         cfg.Issuer,
		Storage:        gw,
		Sweeper:        sweeper,
		Keys:           km,
		Clients:        clientregistry.New(gw, time.Now),
		Accounts:       account.New(gw, time.Now),
		AuthCodes:      authcode.New(gw, cfg.AuthCodeTTL, time.Now),
		RefreshTokens:  refreshtoken.New(gw, cfg.RefreshTokenTTL, time.Now, logger),
		Sessions:       session.New(km, cfg.SessionTTL, time.Now),
		IdPState:       idpstate.New(gw, 10*time.Minute, time.Now),
		Federation:     federation.NewRegistry(http.DefaultClient, federationConfigs(cfg)),
		RateLimit:      limiter,
		AccessTokenTTL: cfg.AccessTokenTTL,
		GCInterval:     5 * time.Minute,
		AllowedOrigins: cfg.AllowedOrigins,
		AdminToken:     cfg.AdminToken,
		Now:            time.Now,
		Logger:         logger,
		PrometheusRegistry: registry,
	})
	if err != nil {
		logger.Error("failed to construct server", "err", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv.Run(ctx)

	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           srv,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		srv.Shutdown()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	logger.Info("listening", "addr", cfg.ListenAddr, "issuer", cfg.Issuer)
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server exited with error", "err", err)
		os.Exit(1)
	}
}

func newLogger(cfg config.Config) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.LogJSON {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

func buildStorage(cfg config.Config) (storage.Gateway, server.Sweeper, error) {
	switch cfg.StorageBackend {
	case "dynamodb":
		awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), awsconfig.WithRegion(cfg.DynamoDBRegion))
		if err != nil {
			return nil, nil, err
		}
		client := dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
			if cfg.DynamoDBEndpoint != "" {
				o.BaseEndpoint = &cfg.DynamoDBEndpoint
			}
		})
		gw := dynamogw.New(client, cfg.DynamoDBTablePrefix)
		return gw, gw, nil
	default:
		gw := memgw.New(time.Now)
		return gw, gw, nil
	}
}

func buildRateLimiter(cfg config.Config, gw storage.Gateway) (ratelimit.Limiter, error) {
	window := ratelimit.Window{Size: cfg.RateLimitWindow, Limit: cfg.RateLimitMax}
	switch cfg.RateLimitBackend {
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		return ratelimit.NewRedis(client, window, time.Now), nil
	default:
		return ratelimit.NewGateway(gw, window, time.Now), nil
	}
}

func federationConfigs(cfg config.Config) map[string]federation.ProviderConfig {
	configs := make(map[string]federation.ProviderConfig)
	add := func(provider, clientID, clientSecret string) {
		if clientID == "" {
			return
		}
		configs[provider] = federation.ProviderConfig{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  cfg.Issuer + "/auth/" + provider + "/callback",
		}
	}
	add(federation.Google, cfg.GoogleClientID, cfg.GoogleClientSecret)
	add(federation.Microsoft, cfg.MicrosoftClientID, cfg.MicrosoftClientSecret)
	add(federation.Facebook, cfg.FacebookClientID, cfg.FacebookClientSecret)
	add(federation.X, cfg.XClientID, cfg.XClientSecret)
	return configs
}
