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

	"producer-dashboard/config"
	"producer-dashboard/internal/api"
	"producer-dashboard/internal/broker"
	"producer-dashboard/internal/chain"
	"producer-dashboard/internal/metadata"
	"producer-dashboard/internal/redisclient"
	"producer-dashboard/internal/service"
	"producer-dashboard/internal/store"
	"producer-dashboard/internal/util"
	"producer-dashboard/internal/worker"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// rpcCheck reports whether the node answers
type rpcCheck struct {
	client *ethclient.Client
}

func (r rpcCheck) Ping(ctx context.Context) error {
	_, err := r.client.BlockNumber(ctx)
	return err
}

func main() {

	cfg := config.Load()

	if err := util.InitLogger(cfg.Server.Env); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting producer dashboard")

	tp, err := util.InitTracer(util.ServiceName, cfg.Observ.JaegerEndpoint)
	if err != nil {
		logger.Fatal("Failed to initialize tracer", zap.Error(err))
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			logger.Warn("Error shutting down tracer", zap.Error(err))
		}
	}()

	ctx := context.Background()

	db, err := store.NewStore(cfg.Database.URL)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()
	if err := db.Migrate(ctx); err != nil {
		logger.Fatal("Failed to migrate database", zap.Error(err))
	}
	logger.Info("Database connected")

	redisClient, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		logger.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	defer redisClient.Close()
	logger.Info("Redis connected")

	rpc, err := chain.Dial(ctx, cfg.Chain.RPCURL, cfg.Chain.ChainID)
	if err != nil {
		logger.Fatal("Failed to connect to chain", zap.Error(err))
	}
	defer rpc.Close()
	logger.Info("Chain connected", zap.String("rpc", cfg.Chain.RPCURL), zap.Int64("chain_id", cfg.Chain.ChainID))

	registryAddr, err := chain.ParseAddress(cfg.Chain.ProducerRegistryAddress)
	if err != nil {
		logger.Fatal("Invalid producer registry address", zap.Error(err))
	}
	productAddr, err := chain.ParseAddress(cfg.Chain.ProductNFTAddress)
	if err != nil {
		logger.Fatal("Invalid product NFT address", zap.Error(err))
	}

	registry := chain.NewRegistry(registryAddr, rpc)
	products := chain.NewProducts(productAddr, rpc)
	submitter := chain.NewSubmitter(rpc, cfg.Chain.ChainID, cfg.Chain.ReceiptPollInterval, cfg.Chain.ReceiptTimeout)

	var signer service.TxSigner
	localSigner, err := chain.NewLocalSigner(cfg.Chain.SignerPrivateKey, cfg.Chain.ChainID)
	if err != nil {
		logger.Fatal("Invalid signer key", zap.Error(err))
	}
	if localSigner != nil {
		if cfg.Server.Env == "production" {
			logger.Warn("Server-side signer enabled in production", zap.String("address", localSigner.Address().Hex()))
		}
		signer = localSigner
	}

	gateway := metadata.NewGateway(cfg.Metadata.GatewayURL, cfg.Metadata.Timeout)

	producer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicDashboard)
	defer producer.Close()
	logger.Info("Kafka producer initialized")

	eventPublisher := broker.NewEventPublisher(producer)

	profileService := service.NewProfileService(registry, redisClient, cfg.Cache.ProfileTTL)
	productService := service.NewProductService(products, gateway, redisClient, eventPublisher, service.ProductServiceConfig{
		FromBlock:   cfg.Chain.FromBlock,
		TTL:         cfg.Cache.ProductsTTL,
		Concurrency: cfg.Metadata.Concurrency,
	})
	sessionService := service.NewSessionService(redisClient, cfg.Cache.SessionTTL)
	registrationService := service.NewRegistrationService(service.RegistrationDeps{
		Registry:       registry,
		Submitter:      submitter,
		Signer:         signer,
		Profiles:       profileService,
		Products:       productService,
		Feedback:       redisClient,
		Locks:          redisClient,
		Journal:        db,
		Events:         eventPublisher,
		ReceiptTimeout: cfg.Chain.ReceiptTimeout,
	})
	dashboardService := service.NewDashboardService(profileService, productService, redisClient,
		cfg.Dashboard.PageSize, cfg.Dashboard.MaxPageSize)

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	consumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicDashboard, cfg.Kafka.ConsumerGroup)
	refreshWorker := worker.NewRefreshWorker(consumer, registrationService, db)
	go func() {
		if err := refreshWorker.Start(workerCtx); err != nil && err != context.Canceled {
			logger.Error("Refresh worker error", zap.Error(err))
		}
	}()

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	handler := api.NewHandler(api.Options{
		Sessions:      sessionService,
		Dashboard:     dashboardService,
		Profiles:      profileService,
		Products:      productService,
		Registrations: registrationService,
		Checks: map[string]api.Pinger{
			"postgres": db,
			"redis":    redisClient,
			"rpc":      rpcCheck{client: rpc},
		},
		SessionTTL:   cfg.Cache.SessionTTL,
		SecureCookie: cfg.Server.Env == "production",
	})
	handler.SetupRoutes(router)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		logger.Info("Starting HTTP server", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Server forced to shutdown", zap.Error(err))
	}

	workerCancel()
	if err := refreshWorker.Stop(); err != nil {
		logger.Warn("Error stopping refresh worker", zap.Error(err))
	}
	registrationService.Close()

	logger.Info("Server exited")
}
