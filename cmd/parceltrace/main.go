// parceltrace gateway — terminates client HTTPS, authenticates end
// users, routes requests to the delivery chaincode under each user's
// own ledger identity and fans chaincode events out to WebSocket
// subscribers.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/parceltrace/parceltrace/pkg/api"
	"github.com/parceltrace/parceltrace/pkg/ca"
	"github.com/parceltrace/parceltrace/pkg/config"
	"github.com/parceltrace/parceltrace/pkg/database"
	"github.com/parceltrace/parceltrace/pkg/events"
	"github.com/parceltrace/parceltrace/pkg/ledger"
	"github.com/parceltrace/parceltrace/pkg/services"
	"github.com/parceltrace/parceltrace/pkg/version"
	"github.com/parceltrace/parceltrace/pkg/wallet"
)

func main() {
	configPath := flag.String("config", getEnv("CONFIG_FILE", "./config/parceltrace.yaml"),
		"Path to the configuration file")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		log.Printf("No .env file loaded: %v", err)
	}

	if err := run(*configPath); err != nil {
		log.Fatalf("parceltrace: %v", err)
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func run(configPath string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	slog.Info("Starting parceltrace", "version", version.Full())

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// Entity store.
	dbCfg, err := database.LoadConfigFromEnv()
	if err != nil {
		return fmt.Errorf("failed to load database config: %w", err)
	}
	dbClient, err := database.NewClient(ctx, dbCfg)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			slog.Warn("Error closing database client", "error", err)
		}
	}()
	slog.Info("Connected to PostgreSQL, schema up to date")

	// Wallet: sealed identities in the database, decrypted cache in
	// memory, key material zeroed on shutdown.
	w, err := wallet.New(wallet.NewPGStore(dbClient.Pool()), cfg.Wallet.EncryptionKey)
	if err != nil {
		return err
	}
	defer w.Close()

	// One CA client per organization.
	registrars := make(map[string]services.CARegistrar, len(cfg.Orgs))
	for name, org := range cfg.Orgs {
		var opts []ca.Option
		if org.CATLSCert != "" {
			opts = append(opts, ca.WithTLSCert(org.CATLSCert))
		}
		registrars[name] = ca.NewClient(org.CAURL, org.CAName, opts...)
	}

	// The gateway's own ledger identity, enrolled on first start.
	if err := services.EnsureServiceIdentity(ctx, cfg, w, registrars); err != nil {
		return fmt.Errorf("failed to ensure service identity: %w", err)
	}

	// Per-user ledger handles.
	connector := ledger.NewFabricConnector(cfg, w, services.ServiceUserID)
	defer connector.Close()

	// Services.
	userService := services.NewUserService(dbClient.Pool(), cfg, w, registrars)
	shopItemService := services.NewShopItemService(dbClient.Pool())
	orderService := services.NewOrderService(dbClient.Pool(), shopItemService)
	deliveryService := services.NewDeliveryService(connector, services.ServiceUserID)
	slog.Info("Services initialized")

	// Event fan-out: one consumer under the service identity, filtered
	// per-subscriber by the connection manager.
	connManager := events.NewConnectionManager(deliveryService, cfg.Events.MaxSubscriptionsPerUser, 10*time.Second)
	consumer := events.NewConsumer(connector, connManager, deliveryService, cfg.Events.ConsumerMaxRetries)
	consumer.Start(ctx)
	defer consumer.Stop()

	// Authentication strategy.
	var auth api.Authenticator
	var jwtAuth *api.JWTAuthenticator
	switch cfg.Auth.Mode {
	case config.AuthModeBasic:
		auth = api.NewBasicAuthenticator(userService)
	default:
		jwtAuth = api.NewJWTAuthenticator(cfg.Auth.JWTSecret, cfg.Auth.JWTExpiresIn.Std())
		auth = jwtAuth
	}

	server := api.NewServer(cfg, api.Deps{
		Users:       userService,
		ShopItems:   shopItemService,
		Orders:      orderService,
		Deliveries:  deliveryService,
		Auth:        auth,
		JWT:         jwtAuth,
		ConnManager: connManager,
		Consumer:    consumer,
		DBClient:    dbClient,
	})

	addr := fmt.Sprintf(":%d", cfg.HTTP.Port)
	errCh := make(chan error, 1)
	go func() {
		slog.Info("Gateway listening", "addr", addr, "tls", cfg.HTTP.TLSCert != "")
		errCh <- server.Start(addr)
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
	case <-ctx.Done():
		slog.Info("Shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Warn("HTTP shutdown incomplete", "error", err)
	}
	return nil
}
