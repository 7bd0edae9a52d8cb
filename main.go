package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"certproof/config"
	authController "certproof/controllers/auth"
	"certproof/database"
	"certproof/fingerprint"
	"certproof/ledger"
	"certproof/logger"
	"certproof/middleware"
	"certproof/notify"
	"certproof/routers"
	"certproof/services/certificate"
	"certproof/services/reconcile"
	"certproof/services/verification"
	"certproof/workers"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/rs/zerolog/log"
)

func main() {
	config.LoadConfig()
	cfg := config.AppConfig
	logger.Init(cfg.LogLevel, cfg.LogPretty)

	database.ConnectDb(cfg)
	db := database.Database.Db
	if err := authController.SeedAdmin(db, cfg); err != nil {
		log.Fatal().Err(err).Msg("Failed to seed admin account")
	}

	store := certificate.NewStore(db, fingerprint.NewSigner(cfg.CertificateSecret))

	backend, err := ledgerBackend(cfg)
	if err != nil {
		log.Fatal().Err(err).Str("driver", cfg.LedgerDriver).Msg("Failed to configure ledger")
	}
	ledgerClient := ledger.NewClient(backend, store, ledger.Options{
		WriteTimeout: cfg.LedgerWriteTimeout,
		ReadTimeout:  cfg.LedgerReadTimeout,
	})
	reconciler := reconcile.New(ledgerClient, store)

	notifier, err := notify.New(cfg)
	if err != nil {
		log.Fatal().Err(err).Str("driver", cfg.NotifyDriver).Msg("Failed to configure notifier")
	}
	dispatcher := notify.NewDispatcher(notifier, cfg.NotifyTimeout)

	templates := notify.Templates{AppName: cfg.AppName, BaseURL: cfg.AppURL}

	manager := verification.NewManager(db, store, dispatcher,
		verification.NewActionTokens(cfg.JWTKey, 24*time.Hour),
		verification.Options{
			CacheSize: cfg.StatusCacheSize,
			CacheTTL:  cfg.StatusCacheTTL,
			Templates: templates,
		})

	worker := workers.NewAnchorWorker(db, ledgerClient, store, cfg.AnchorMaxAttempts)
	worker.SetConfirmTimeout(cfg.AnchorConfirmTimeout)
	scheduler, err := worker.Start(cfg.AnchorWorkerSchedule)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to start anchor worker")
	}

	app := fiber.New(fiber.Config{AppName: cfg.AppName})

	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,PUT,PATCH,DELETE",  // Allowed HTTP methods
		AllowHeaders: "Content-Type,Authorization", // Allowed headers
	}))

	// Enable the built-in logger middleware to log all requests
	app.Use(fiberlogger.New(fiberlogger.Config{
		Format: "[${time}] ${ip} ${method} ${path} ${status} ${latency}\n",
	}))
	app.Use(middleware.Metrics)
	app.Use(middleware.RequestTimeout(30 * time.Second))

	routers.SetupRoutes(app, routers.Services{
		Store:        store,
		Reconciler:   reconciler,
		Verification: manager,
		Notifier:     dispatcher,
		Templates:    templates,
		LedgerName:   ledgerClient.Backend(),
	})

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
		<-quit

		log.Info().Msg("Shutting down...")
		<-scheduler.Stop().Done()
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			log.Error().Err(err).Msg("Server shutdown failed")
		}
	}()

	log.Info().Str("port", cfg.Port).Str("ledger", ledgerClient.Backend()).Str("notify", notifier.Name()).Msg("Server is running")
	if err := app.Listen(":" + cfg.Port); err != nil {
		log.Fatal().Err(err).Msg("Server stopped")
	}

	dispatcher.Wait()
	if closer, ok := notifier.(*notify.AMQPNotifier); ok {
		closer.Close()
	}
}

func ledgerBackend(cfg *config.Config) (ledger.Backend, error) {
	switch cfg.LedgerDriver {
	case "memory", "":
		return ledger.NewMemoryBackend(), nil
	case "solana":
		payer, err := ledger.LoadSolanaPayer(cfg.SolanaPayerKeypair)
		if err != nil {
			return nil, err
		}
		return ledger.NewSolanaBackend(cfg.SolanaRPCURL, payer), nil
	case "gateway":
		if cfg.LedgerGatewayURL == "" {
			return nil, fmt.Errorf("LEDGER_GATEWAY_URL is required for the gateway driver")
		}
		return ledger.NewGatewayBackend(cfg.LedgerGatewayURL, cfg.LedgerGatewayToken), nil
	default:
		return nil, fmt.Errorf("unknown LEDGER_DRIVER %q", cfg.LedgerDriver)
	}
}
