package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/jackc/pgx/v5"
	"github.com/rs/cors"

	cfg "github.com/sand/paymesh/backend/config"
	"github.com/sand/paymesh/backend/internal/clients"
	"github.com/sand/paymesh/backend/internal/core/ports"
	"github.com/sand/paymesh/backend/internal/entities"
	"github.com/sand/paymesh/backend/internal/gate"
	gateclients "github.com/sand/paymesh/backend/internal/gate/clients"
	"github.com/sand/paymesh/backend/internal/gate/services"
	"github.com/sand/paymesh/backend/internal/handlers"
	"github.com/sand/paymesh/backend/internal/probe"
	"github.com/sand/paymesh/backend/internal/router"
	"github.com/sand/paymesh/backend/internal/shared"
	"github.com/sand/paymesh/backend/internal/usecases"
	"github.com/sand/paymesh/backend/internal/usecases/repository"
	"github.com/sand/paymesh/backend/internal/voucher"
	"github.com/sand/paymesh/backend/internal/workers"
	"github.com/sand/paymesh/backend/migrations"
	"github.com/sand/paymesh/backend/pkg/database"
	"github.com/sand/paymesh/backend/pkg/tracing"
)

// Server timeout constants.
const (
	readTimeoutSeconds     = 15
	writeTimeoutSeconds    = 30
	idleTimeoutSeconds     = 60
	shutdownTimeoutSeconds = 5

	tokenTTL         = 5 * time.Minute
	simulatorOutbox  = 64
	driverPostgres   = "postgres"
	migrationsSQLite = "sqlite"
)

func main() {
	// Parse configuration
	config, err := cfg.LoadConfig()
	if err != nil {
		log.Fatal(err)
	}

	// Setup logging
	opts := &slog.HandlerOptions{
		Level: config.Log.Level,
	}

	if config.App.Debug {
		opts.Level = slog.LevelDebug
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, opts))
	logger.Warn("Starting application with configuration",
		"debug", config.App.Debug,
		"environment", config.App.Environment,
		"server_port", config.HTTP.Port,
		"db_driver", config.DB.Driver,
		"fail_open", config.Gate.FailOpen,
		"simulation", shared.IsSimulationMode())

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	shutdownTracing, err := tracing.Setup(ctx, config.Tracing.URL, config.App.Name, config.App.Environment)
	if err != nil {
		logger.Error("Failed to set up tracing", "error", err)
		log.Fatal(err)
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.Error("Failed to flush traces", "error", err)
		}
	}()

	// Open the ledger
	ledger, closeLedger, err := openLedger(logger, config)
	if err != nil {
		logger.Error("Failed to open ledger", "error", err)
		log.Fatal(err)
	}
	defer closeLedger()

	// Event stream
	websocketManager := handlers.NewWebSocketManager(logger)

	// Security gate
	securityGate, classifier, keywords, err := initSecurityGate(logger, config, ledger)
	if err != nil {
		logger.Error("Failed to create security gate", "error", err)
		log.Fatal(err)
	}

	// Transports
	var tokens probe.TokenSource
	if config.Sync.JWTSecret != "" {
		tokens = clients.NewTokenSigner(config.Sync.JWTSecret, config.Sync.JWTIssuer, config.App.Name, tokenTTL)
	} else {
		logger.Warn("Sync secret not configured, sync and health requests are unauthenticated")
	}
	scanner := clients.NewSimulatedScanner(logger)
	deviceClassifier := probe.NewDeviceClassifier(config.Probe.PaymentServiceUUIDs, config.Probe.MinDeviceConfidence)
	gateway := initGateway(logger, config)

	capabilityProbe := initProbe(logger, config, tokens, scanner, deviceClassifier, gateway)

	signer, err := voucher.NewSigner(logger, config.Wallet.Mnemonic, config.Wallet.Index)
	if err != nil {
		logger.Error("Failed to create voucher signer", "error", err)
		log.Fatal(err)
	}

	channelRouter := router.NewMultiChannelRouter(logger, cfg.Seconds(config.Channels.AttemptTimeout),
		router.NewNetworkSender(initPayments(logger, config)),
		router.NewProximitySender(scanner, deviceClassifier, cfg.Seconds(config.Probe.ScanTimeout), signer, clients.NewLoopbackExchanger(logger)),
		router.NewGatewaySender(logger, gateway, classifier, keywords, router.DefaultGuardThresholds),
		router.NewLocalSender(ledger),
	)

	paymentService := usecases.NewPaymentService(logger, securityGate, capabilityProbe, channelRouter, ledger, websocketManager)

	reconciler := usecases.NewReconciler(logger, ledger,
		clients.NewReconcileClient(logger, config.Sync.EndpointURL, tokens, cfg.Seconds(config.Sync.RequestTimeout)),
		websocketManager,
		cfg.Seconds(config.Sync.RequestTimeout),
		config.Sync.BatchSize,
		ports.MaxConcurrentSyncs,
	)

	// Initialize and run workers
	initAndRunWorkers(ctx, logger, config, capabilityProbe, reconciler)

	// Create handlers
	httpHandler := handlers.NewHTTPHandler(logger, paymentService, capabilityProbe, reconciler)
	wsHandler := handlers.NewWebSocketHandler(logger, websocketManager)

	// Create router
	mr := mux.NewRouter()

	// Register WebSocket routes before HTTP routes
	wsHandler.RegisterRoutes(mr)
	httpHandler.RegisterRoutes(mr)

	// Configure CORS
	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization", "X-User-ID", "X-Username", "X-User-Phone"},
		AllowCredentials: true,
	})

	server := &http.Server{
		Addr:         ":" + config.HTTP.Port,
		Handler:      c.Handler(mr),
		ReadTimeout:  readTimeoutSeconds * time.Second,
		WriteTimeout: writeTimeoutSeconds * time.Second,
		IdleTimeout:  idleTimeoutSeconds * time.Second,
	}

	go func() {
		logger.Info("Starting server", "address", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Server error", "error", err)
			log.Fatal(err)
		}
	}()

	// Set up graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down server...")

	// Workers stop first; queued records stay on disk for the next run
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeoutSeconds*time.Second)
	defer cancel()

	if err = server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", "error", err)
		return
	}

	logger.Info("Server exited properly")
}

func openLedger(logger *slog.Logger, config *cfg.Config) (ports.Ledger, func(), error) {
	if config.DB.Driver == driverPostgres {
		pg, err := database.New(config,
			database.MaxPoolSize(config.DB.PoolMax),
			database.ConnTimeout(config.DB.ConnectTimeout),
			database.HealthCheckPeriod(config.DB.HealthCheckPeriod),
			database.Isolation(pgx.ReadCommitted),
		)
		if err != nil {
			return nil, nil, err
		}

		logger.Info("Running database migrations", "driver", driverPostgres)
		if err = database.RunMigrations(logger, config.DB.DatabaseURL, migrations.FS, driverPostgres); err != nil {
			pg.Close()
			return nil, nil, err
		}

		return repository.NewPostgresLedger(logger, pg), pg.Close, nil
	}

	db, err := database.OpenSQLite(config.DB.SQLitePath)
	if err != nil {
		return nil, nil, err
	}

	logger.Info("Running database migrations", "driver", migrationsSQLite, "path", config.DB.SQLitePath)
	if err = database.RunSQLiteMigrations(logger, db, migrations.FS, migrationsSQLite); err != nil {
		_ = db.Close()
		return nil, nil, err
	}

	return repository.NewSQLiteLedger(logger, db), func() { _ = db.Close() }, nil
}

func initSecurityGate(logger *slog.Logger, config *cfg.Config, ledger ports.Ledger) (*gate.SecurityGate, ports.Classifier, ports.Classifier, error) {
	modelTimeout := cfg.Seconds(config.Gate.ModelTimeout)

	classifier := gateclients.NewModelClassifier(logger, config.Gate.ClassifierURL, modelTimeout)
	scorer := gateclients.NewAnomalyScorer(logger, config.Gate.ScorerURL, modelTimeout)
	keywords := gateclients.NewKeywordClassifier()

	trust, err := services.NewHistoryTrustProvider(logger, ledger, services.TrustConfig{
		Window:      config.Gate.TrustWindow,
		MinHistory:  config.Gate.TrustMinHistory,
		Sigma:       config.Gate.TrustSigma,
		Penalty:     config.Gate.TrustPenalty,
		Neutral:     config.Gate.TrustNeutral,
		ActiveFrom:  config.Gate.ActiveFrom,
		ActiveUntil: config.Gate.ActiveUntil,
	})
	if err != nil {
		return nil, nil, nil, err
	}

	securityGate := gate.NewSecurityGate(logger, config.Gate.FailOpen,
		services.NewContentPhishingLayer(classifier, config.Gate.ContentThreshold),
		services.NewBehavioralFraudLayer(scorer, config.Gate.AnomalyThreshold),
		services.NewTrustLayer(trust, config.Gate.TrustFloor),
		services.NewNotificationPhishingLayer(classifier, config.Gate.NotificationThreshold),
	)

	logger.Info("Security gate initialized",
		"classifier_enabled", classifier.Available(),
		"scorer_enabled", scorer.Available(),
	)

	return securityGate, classifier, keywords, nil
}

func initGateway(logger *slog.Logger, config *cfg.Config) ports.MessageGateway {
	if shared.IsSimulationMode() {
		logger.Info("Messaging gateway running in simulation mode")
		return clients.NewSimulatedGateway(logger, simulatorOutbox)
	}

	return clients.NewSMSGateway(logger,
		config.Channels.GatewayURL,
		config.Channels.GatewayAccountSID,
		config.Channels.GatewayAuthToken,
		config.Channels.GatewayFrom,
		cfg.Seconds(config.Channels.AttemptTimeout),
	)
}

func initPayments(logger *slog.Logger, config *cfg.Config) ports.PaymentProcessor {
	payments := clients.NewPaymentsClient(logger, config.Channels.PaymentsURL, config.Channels.PaymentsAPIKey, cfg.Seconds(config.Channels.AttemptTimeout))
	if payments.IsEnabled() && !shared.IsSimulationMode() {
		return payments
	}

	logger.Info("Payment processor running in simulation mode")
	return clients.NewSimulatedPayments(logger)
}

func initProbe(
	logger *slog.Logger,
	config *cfg.Config,
	tokens probe.TokenSource,
	scanner ports.DeviceScanner,
	deviceClassifier *probe.DeviceClassifier,
	gateway ports.MessageGateway,
) *probe.CapabilityProbe {
	signalTimeout := cfg.Seconds(config.Probe.SignalTimeout)

	network := probe.NewNetworkChecker(logger, signalTimeout,
		probe.DNSSignal{Host: config.Probe.DNSHost},
		probe.TCPSignal{Address: config.Probe.TCPAddress},
		probe.AuthSignal{
			Client: &http.Client{Timeout: signalTimeout},
			URL:    config.Probe.HealthURL,
			Tokens: tokens,
		},
	)

	proximity := probe.NewProximityChecker(logger, scanner, deviceClassifier, cfg.Seconds(config.Probe.ScanTimeout))

	return probe.NewCapabilityProbe(logger, cfg.Seconds(config.Probe.CacheTTL), map[entities.Channel]probe.Checker{
		entities.ChannelNetwork:   network,
		entities.ChannelProximity: proximity,
		entities.ChannelGateway:   probe.GatewayChecker(gateway, shared.IsSimulationMode()),
		entities.ChannelLocal:     probe.LocalStoreChecker(config.Channels.LocalStoreEnabled),
	})
}

func initAndRunWorkers(
	ctx context.Context,
	logger *slog.Logger,
	config *cfg.Config,
	capabilityProbe *probe.CapabilityProbe,
	reconciler *usecases.Reconciler,
) {
	syncWorker := workers.NewSyncWorker(logger, reconciler, cfg.Seconds(config.Sync.Interval))
	probeWatcher := workers.NewProbeWatcher(logger, capabilityProbe, cfg.Seconds(config.Probe.WatchInterval))

	// Network coming back drains the offline queue right away
	capabilityProbe.OnNetworkAvailable(syncWorker.Trigger)

	go func() {
		logger.Info("Starting reconciliation worker")
		syncWorker.Start(ctx)
	}()

	go func() {
		logger.Info("Starting capability watcher")
		probeWatcher.Start(ctx)
	}()

	logger.Info("All workers initialized and started")
}
