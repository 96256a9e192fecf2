package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	cloudstorage "cloud.google.com/go/storage"
	"go.uber.org/zap"
	"google.golang.org/api/iterator"

	"github.com/craftkart/api/internal/handlers"
	"github.com/craftkart/api/internal/payments"
	"github.com/craftkart/api/internal/platform/auth"
	"github.com/craftkart/api/internal/platform/config"
	pfirestore "github.com/craftkart/api/internal/platform/firestore"
	"github.com/craftkart/api/internal/platform/jobs"
	"github.com/craftkart/api/internal/platform/observability"
	"github.com/craftkart/api/internal/platform/secrets"
	platformstorage "github.com/craftkart/api/internal/platform/storage"
	firestoreRepo "github.com/craftkart/api/internal/repositories/firestore"
	"github.com/craftkart/api/internal/services"
	"github.com/craftkart/api/internal/shipping"
)

func main() {
	ctx := context.Background()

	baseLogger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()

	logger := baseLogger.Named("api")
	ctx = observability.WithLogger(ctx, logger)

	fetcher, err := secrets.NewFetcher(ctx,
		secrets.WithLogger(logger.Named("secrets")),
		secrets.WithProject(strings.TrimSpace(os.Getenv("FIREBASE_PROJECT_ID"))),
	)
	if err != nil {
		logger.Fatal("failed to initialise secret fetcher", zap.Error(err))
	}
	defer func() {
		if err := fetcher.Close(); err != nil {
			logger.Warn("secret fetcher close error", zap.Error(err))
		}
	}()

	cfg, err := config.Load(ctx, config.WithSecretResolver(config.SecretResolverFunc(fetcher.Resolve)))
	if err != nil {
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	firestoreProvider := pfirestore.NewProvider(cfg.Firestore)
	firestoreClient, err := firestoreProvider.Client(ctx)
	if err != nil {
		logger.Fatal("failed to initialise firestore client", zap.Error(err))
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := firestoreProvider.Close(closeCtx); err != nil {
			logger.Warn("firestore close error", zap.Error(err))
		}
	}()

	registry, err := firestoreRepo.NewRegistry(firestoreProvider)
	if err != nil {
		logger.Fatal("failed to initialise repositories", zap.Error(err))
	}

	firebaseVerifier, err := auth.NewFirebaseVerifier(ctx, cfg.Firebase)
	if err != nil {
		logger.Fatal("failed to initialise firebase verifier", zap.Error(err))
	}
	authenticator := auth.NewAuthenticator(firebaseVerifier)

	events, closeEvents, err := buildEventPublisher(ctx, logger, cfg.Events)
	if err != nil {
		logger.Fatal("failed to initialise event publisher", zap.Error(err))
	}
	if closeEvents != nil {
		defer closeEvents()
	}

	uploader, closeStorage, err := buildExportUploader(ctx, logger, cfg.Storage)
	if err != nil {
		logger.Fatal("failed to initialise export uploader", zap.Error(err))
	}
	if closeStorage != nil {
		defer closeStorage()
	}

	gateway, err := payments.NewRazorpayProvider(payments.RazorpayProviderConfig{
		KeyID:     cfg.Gateway.KeyID,
		KeySecret: cfg.Gateway.Secret,
		Logger:    observability.EventLogger(logger.Named("payments")),
		Clock:     time.Now,
	})
	if err != nil {
		logger.Fatal("failed to initialise payment gateway", zap.Error(err))
	}
	signatureVerifier, err := payments.NewSignatureVerifier(cfg.Gateway.Secret)
	if err != nil {
		logger.Fatal("failed to initialise signature verifier", zap.Error(err))
	}

	var bots services.BotVerifier
	if strings.TrimSpace(cfg.Recaptcha.Secret) != "" {
		verifier, err := services.NewRecaptchaVerifier(cfg.Recaptcha, nil)
		if err != nil {
			logger.Fatal("failed to initialise recaptcha verifier", zap.Error(err))
		}
		bots = verifier
	} else {
		logger.Warn("recaptcha secret not configured; bot verification disabled")
	}

	scheduler := buildPickupScheduler(logger, cfg.Carrier)

	inventoryService, err := services.NewInventoryService(services.InventoryServiceDeps{
		Products: registry.Products(),
		Clock:    time.Now,
		Logger:   observability.EventLogger(logger.Named("inventory")),
	})
	if err != nil {
		logger.Fatal("failed to initialise inventory service", zap.Error(err))
	}

	// The coupon endpoint is optional; without a configured code the handler
	// answers 503 and order creation simply applies no discount.
	var couponService services.CouponService
	if strings.TrimSpace(cfg.Coupon.Code) != "" {
		couponService, err = services.NewCouponService(services.CouponServiceDeps{
			Config: cfg.Coupon,
			Logger: observability.EventLogger(logger.Named("coupons")),
		})
		if err != nil {
			logger.Fatal("failed to initialise coupon service", zap.Error(err))
		}
	} else {
		logger.Warn("coupon code not configured; coupon validation disabled")
	}

	orderService, err := services.NewOrderService(services.OrderServiceDeps{
		Orders:    registry.Orders(),
		Products:  registry.Products(),
		Inventory: inventoryService,
		Scheduler: scheduler,
		CouponCfg: cfg.Coupon,
		OrderCfg:  cfg.Orders,
		Clock:     time.Now,
		Events:    events,
		Logger:    observability.EventLogger(logger.Named("orders")),
	})
	if err != nil {
		logger.Fatal("failed to initialise order service", zap.Error(err))
	}

	paymentService, err := services.NewPaymentService(services.PaymentServiceDeps{
		Orders:         registry.Orders(),
		PaymentRecords: registry.PaymentRecords(),
		Gateway:        gateway,
		Verifier:       signatureVerifier,
		Bots:           bots,
		GatewayCfg:     cfg.Gateway,
		Events:         events,
		Clock:          time.Now,
		Logger:         observability.EventLogger(logger.Named("payments")),
	})
	if err != nil {
		logger.Fatal("failed to initialise payment service", zap.Error(err))
	}

	exportService, err := services.NewExportService(services.ExportServiceDeps{
		Orders:   registry.Orders(),
		Uploader: uploader,
		Clock:    time.Now,
		Logger:   observability.EventLogger(logger.Named("exports")),
	})
	if err != nil {
		logger.Fatal("failed to initialise export service", zap.Error(err))
	}

	healthHandlers := handlers.NewHealthHandlers(func() error {
		checkCtx, cancel := context.WithTimeout(context.Background(), 1500*time.Millisecond)
		defer cancel()
		iter := firestoreClient.Collections(checkCtx)
		if _, err := iter.Next(); err != nil && !errors.Is(err, iterator.Done) {
			return err
		}
		return nil
	})

	middlewares := []func(http.Handler) http.Handler{
		observability.InjectLoggerMiddleware(logger.Named("http")),
		observability.TraceMiddleware(),
		observability.RequestLoggerMiddleware(),
	}

	couponHandlers := handlers.NewCouponHandlers(couponService)
	checkoutHandlers := handlers.NewCheckoutHandlers(authenticator, paymentService)
	orderHandlers := handlers.NewOrderHandlers(authenticator, orderService)
	adminHandlers := handlers.NewAdminOrderHandlers(authenticator, orderService, exportService)

	router := handlers.NewRouter(
		handlers.WithMiddlewares(middlewares...),
		handlers.WithHealthHandlers(healthHandlers),
		handlers.WithCouponRoutes(couponHandlers.Routes),
		handlers.WithCheckoutRoutes(checkoutHandlers.Routes),
		handlers.WithOrderRoutes(orderHandlers.Routes),
		handlers.WithAdminRoutes(adminHandlers.Routes),
	)

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	serverLogger := logger.Named("http").With(zap.String("addr", server.Addr))
	go func() {
		serverLogger.Info("craftkart api listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}

// buildEventPublisher wires the Pub/Sub publisher when topics are configured.
// Without topics the services run with events disabled.
func buildEventPublisher(ctx context.Context, logger *zap.Logger, cfg config.EventsConfig) (services.EventPublisher, func(), error) {
	orderTopic := strings.TrimSpace(cfg.OrderTopic)
	if orderTopic == "" {
		logger.Warn("order event topic not configured; event publishing disabled")
		return nil, nil, nil
	}
	if strings.TrimSpace(cfg.ProjectID) == "" {
		return nil, nil, errors.New("events project id is required when topics are configured")
	}

	client, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, nil, fmt.Errorf("pubsub client: %w", err)
	}

	var reconciliation *pubsub.Topic
	if name := strings.TrimSpace(cfg.ReconciliationTopic); name != "" {
		reconciliation = client.Topic(name)
	}

	publisher, err := jobs.NewPubSubEventPublisher(client.Topic(orderTopic), reconciliation)
	if err != nil {
		_ = client.Close()
		return nil, nil, err
	}

	closeFn := func() {
		if err := client.Close(); err != nil {
			logger.Warn("pubsub close error", zap.Error(err))
		}
	}
	return publisher, closeFn, nil
}

// buildExportUploader wires the GCS export uploader when a bucket is
// configured. The signed URL key is optional; without it exports still work
// but download links cannot be generated.
func buildExportUploader(ctx context.Context, logger *zap.Logger, cfg config.StorageConfig) (*platformstorage.ExportUploader, func(), error) {
	bucket := strings.TrimSpace(cfg.ExportsBucket)
	if bucket == "" {
		logger.Warn("exports bucket not configured; export upload disabled")
		return nil, nil, nil
	}

	client, err := cloudstorage.NewClient(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("storage client: %w", err)
	}

	var signer platformstorage.Signer
	if key := strings.TrimSpace(cfg.SignedURLKey); key != "" {
		accountSigner, err := platformstorage.NewServiceAccountSignerFromJSON([]byte(key))
		if err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("storage signer: %w", err)
		}
		signer = accountSigner
	} else {
		logger.Warn("signed url key not configured; export download links disabled")
	}

	uploader, err := platformstorage.NewExportUploader(client, bucket, signer)
	if err != nil {
		_ = client.Close()
		return nil, nil, err
	}

	closeFn := func() {
		if err := client.Close(); err != nil {
			logger.Warn("storage close error", zap.Error(err))
		}
	}
	return uploader, closeFn, nil
}

// buildPickupScheduler wires the carrier pickup client when credentials are
// present. A nil scheduler keeps the rest of fulfillment working; pickup
// requests then report a not-configured result.
func buildPickupScheduler(logger *zap.Logger, cfg config.CarrierConfig) *shipping.Scheduler {
	if strings.TrimSpace(cfg.BaseURL) == "" || strings.TrimSpace(cfg.Email) == "" || strings.TrimSpace(cfg.Password) == "" {
		logger.Warn("carrier credentials not configured; pickup scheduling disabled")
		return nil
	}

	httpClient := &http.Client{Timeout: cfg.Timeout}
	tokens, err := shipping.NewTokenSource(cfg.BaseURL, cfg.Email, cfg.Password, shipping.WithTokenHTTPClient(httpClient))
	if err != nil {
		logger.Warn("carrier token source init failed; pickup scheduling disabled", zap.Error(err))
		return nil
	}

	scheduler, err := shipping.NewScheduler(shipping.SchedulerDeps{
		BaseURL:    cfg.BaseURL,
		Tokens:     tokens,
		HTTPClient: httpClient,
		Clock:      time.Now,
		Logger:     observability.EventLogger(logger.Named("shipping")),
	})
	if err != nil {
		logger.Warn("carrier scheduler init failed; pickup scheduling disabled", zap.Error(err))
		return nil
	}
	return scheduler
}
