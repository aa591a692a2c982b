// Command server runs the token-gated chat API.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/tokenrooms/backend/internal/chain"
	"github.com/tokenrooms/backend/internal/config"
	"github.com/tokenrooms/backend/internal/database"
	"github.com/tokenrooms/backend/internal/explorer"
	"github.com/tokenrooms/backend/internal/logging"
	"github.com/tokenrooms/backend/internal/metrics"
	"github.com/tokenrooms/backend/internal/wallet"
	"github.com/tokenrooms/backend/services/gate"
	"github.com/tokenrooms/backend/services/gifs"
	"github.com/tokenrooms/backend/services/identity"
	"github.com/tokenrooms/backend/services/messages"
	"github.com/tokenrooms/backend/services/rooms"
	"github.com/tokenrooms/backend/supabase/client"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	// Local development keeps secrets in a .env file.
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New("server", cfg.LogLevel)
	m := metrics.New("tokenrooms")

	app, err := buildApp(cfg, logger, m)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := app.realtime.Connect(ctx); err != nil {
		logger.WithError(err).Fatal("Failed to connect to realtime")
	}
	defer app.realtime.Disconnect()

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      app.router(cfg, logger, m),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.WithFields(map[string]interface{}{
			"port":        cfg.Port,
			"environment": cfg.Environment,
		}).Info("Server starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Fatal("Server failed")
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Shutdown failed")
	}
}

// app wires together every service behind the HTTP handlers.
type app struct {
	repo     *database.Repository
	realtime *client.RealtimeClient
	issuer   *wallet.TokenIssuer
	rooms    *rooms.Service
	gate     *gate.Checker
	messages *messages.Service
	broker   *messages.Broker
	gifs     *gifs.Client
	identity *identity.Resolver
}

func buildApp(cfg *config.Config, logger *logging.Logger, m *metrics.Metrics) (*app, error) {
	supa, err := client.NewResilient(client.Config{
		URL:    cfg.SupabaseURL,
		APIKey: cfg.SupabaseServiceKey,
	}, client.DefaultRetryConfig(), client.DefaultCircuitBreakerConfig())
	if err != nil {
		return nil, fmt.Errorf("supabase client: %w", err)
	}
	repo := database.NewRepository(supa)
	realtime := client.NewRealtimeClient(cfg.SupabaseURL, cfg.SupabaseServiceKey)

	issuer, err := wallet.NewTokenIssuer(cfg.JWTSecret, cfg.SessionTTL)
	if err != nil {
		return nil, fmt.Errorf("token issuer: %w", err)
	}

	resolvers := make(map[chain.Network]*chain.OwnerResolver)
	clients := make(map[chain.Network]*chain.Client)
	networkConfigs := map[chain.Network]config.NetworkConfig{
		chain.NetworkBase:    cfg.Networks.Base,
		chain.NetworkPolygon: cfg.Networks.Polygon,
	}
	for network, nc := range networkConfigs {
		chainClient, cerr := chain.NewClient(chain.Config{
			Network: network,
			RPCURL:  nc.RPCURL,
		})
		if cerr != nil {
			return nil, fmt.Errorf("chain client for %s: %w", network, cerr)
		}
		clients[network] = chainClient

		var creation chain.CreationSource
		if nc.ExplorerAPIURL != "" {
			expl, eerr := explorer.NewClient(explorer.Config{
				APIURL: nc.ExplorerAPIURL,
				APIKey: nc.ExplorerAPIKey,
			})
			if eerr != nil {
				return nil, fmt.Errorf("explorer client for %s: %w", network, eerr)
			}
			creation = expl
		}
		resolvers[network] = chain.NewOwnerResolver(chainClient, creation, logger)
	}
	registry := chain.NewRegistry(clients[chain.NetworkBase], clients[chain.NetworkPolygon])

	identityResolver := identity.NewResolver(identity.Config{APIKey: cfg.NeynarAPIKey}, logger)

	var gifClient *gifs.Client
	if cfg.GiphyAPIKey != "" {
		gifClient, err = gifs.NewClient(gifs.Config{APIKey: cfg.GiphyAPIKey}, logger)
		if err != nil {
			return nil, fmt.Errorf("giphy client: %w", err)
		}
	}

	return &app{
		repo:     repo,
		realtime: realtime,
		issuer:   issuer,
		rooms:    rooms.NewService(repo, supa.Storage(), resolvers, logger, m),
		gate:     gate.NewChecker(registry, logger, m),
		messages: messages.NewService(repo, identityResolver, logger, m),
		broker:   messages.NewBroker(realtime, logger),
		gifs:     gifClient,
		identity: identityResolver,
	}, nil
}

