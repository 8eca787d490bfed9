package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	"github.com/tcdynamics/billsync/api"
	"github.com/tcdynamics/billsync/cache"
	"github.com/tcdynamics/billsync/config"
	"github.com/tcdynamics/billsync/db"
	"github.com/tcdynamics/billsync/middleware"
	"github.com/tcdynamics/billsync/providers"
	"github.com/tcdynamics/billsync/services"
	"github.com/tcdynamics/billsync/stores"
)

const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorBlue   = "\033[34m"
	colorCyan   = "\033[36m"
	colorBold   = "\033[1m"
)

func printBanner() {
	fmt.Printf("%s%sbillsync — billing webhook ingestion & subscription sync%s\n", colorCyan, colorBold, colorReset)
}

func printStep(step, message string) {
	fmt.Printf("%s[%s]%s %s%s%s\n", colorBlue, step, colorReset, colorBold, message, colorReset)
}

func printSuccess(message string) {
	fmt.Printf("%s✓%s %s\n", colorGreen, colorReset, message)
}

func printWarning(message string) {
	fmt.Printf("%s⚠%s %s\n", colorYellow, colorReset, message)
}

func printError(message string) {
	fmt.Printf("%s✗%s %s\n", colorRed, colorReset, message)
}

func main() {
	printBanner()
	fmt.Println()

	if err := godotenv.Load(); err == nil {
		printSuccess("Loaded .env")
	}

	printStep("1/6", "Loading configuration...")
	cfg, err := config.LoadConfig()
	if err != nil {
		printError(fmt.Sprintf("Failed to load configuration: %v", err))
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		printError(fmt.Sprintf("Configuration validation failed: %v", err))
		os.Exit(1)
	}
	printSuccess("Configuration loaded")

	printStep("2/6", "Connecting to database...")
	database, err := db.Connect(cfg)
	if err != nil {
		printError(fmt.Sprintf("Failed to connect to database: %v", err))
		os.Exit(1)
	}

	sqlDB, err := database.DB()
	if err != nil {
		printError(fmt.Sprintf("Failed to get database instance: %v", err))
		os.Exit(1)
	}
	defer sqlDB.Close()

	if err := db.Migrate(database); err != nil {
		printError(fmt.Sprintf("Migration failed: %v", err))
		os.Exit(1)
	}
	printSuccess(fmt.Sprintf("Connected to PostgreSQL at %s:%d", cfg.Database.Host, cfg.Database.Port))

	printStep("3/6", "Setting up idempotency guard...")
	replayCache := cache.NewReplayCache(cfg.Idempotency.CacheCapacity, cfg.Idempotency.CacheTTL)

	var distCache services.DistributedReplayCache
	if cfg.Redis.Enabled {
		redisCache, err := cache.NewRedisCache(cache.RedisConfig{
			Host:     cfg.Redis.Host,
			Port:     cfg.Redis.Port,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			printWarning(fmt.Sprintf("Failed to connect to Redis: %v (continuing without distributed replay tier)", err))
		} else {
			defer redisCache.Close()
			distCache = redisCache
			printSuccess(fmt.Sprintf("Connected to Redis at %s:%d", cfg.Redis.Host, cfg.Redis.Port))
		}
	}

	ledgerStore := stores.NewProcessedEventStore(database)
	guard := services.NewIdempotencyGuard(ledgerStore, replayCache, distCache, cfg.Idempotency.CacheTTL)
	printSuccess("Idempotency guard ready")

	printStep("4/6", "Initializing providers...")
	stripeProvider := providers.NewStripeProvider(cfg.Stripe.WebhookSecret)
	polarProvider := providers.NewPolarProvider(cfg.Polar.WebhookSecret)
	printSuccess("Providers initialized (stripe, polar)")

	printStep("5/6", "Initializing services...")
	orgStore := stores.NewOrganizationStore(database)
	resolver := services.NewResolver(cfg.Plans)
	notifier := services.NewWebhookNotifier(cfg.Notifier.URL, cfg.Notifier.Secret)
	webhookService := services.NewWebhookService(guard, resolver, orgStore, notifier)
	printSuccess("Services initialized")

	printStep("6/6", "Setting up HTTP server...")
	webhookHandler := api.NewWebhookHandler(stripeProvider, polarProvider, webhookService)
	healthHandler := api.NewHealthHandler(database, replayCache)

	router := mux.NewRouter()
	router.Use(middleware.LoggingMiddleware)
	router.Use(middleware.RecoveryMiddleware)
	router.Use(middleware.RateLimit(100, 200))

	webhookHandler.RegisterRoutes(router)
	healthHandler.RegisterRoutes(router)

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
	printSuccess("HTTP server configured")

	fmt.Println()
	fmt.Printf("%s%sEndpoints:%s\n", colorCyan, colorBold, colorReset)
	fmt.Printf("  • POST /webhooks/stripe\n")
	fmt.Printf("  • POST /webhooks/polar\n")
	fmt.Printf("  • GET  /healthz\n")
	fmt.Printf("  • GET  /metrics\n")
	fmt.Println()

	go func() {
		fmt.Printf("Starting HTTP server on port %s...\n", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			printError(fmt.Sprintf("Server failed to start: %v", err))
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	fmt.Println()
	printWarning("Shutting down billsync...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		printError(fmt.Sprintf("Server forced to shutdown: %v", err))
		os.Exit(1)
	}
	notifier.Wait()

	printSuccess("billsync stopped gracefully")
}
