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

	"lumina-order-service/config"
	"lumina-order-service/internal/ai"
	"lumina-order-service/internal/api"
	"lumina-order-service/internal/broker"
	"lumina-order-service/internal/notify"
	"lumina-order-service/internal/redisclient"
	"lumina-order-service/internal/render"
	"lumina-order-service/internal/service"
	"lumina-order-service/internal/signature"
	"lumina-order-service/internal/storage"
	"lumina-order-service/internal/store"
	"lumina-order-service/internal/util"
	"lumina-order-service/internal/worker"

	"github.com/gin-gonic/gin"
)

func main() {

	cfg := config.Load()

	if err := util.InitLogger(cfg.Server.Env); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting lumina order service")

	tp, err := util.InitTracer("lumina-order-service", cfg.Observ.JaegerEndpoint)
	if err != nil {
		log.Fatalf("Failed to initialize tracer: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			log.Printf("Error shutting down tracer: %v", err)
		}
	}()

	db, err := store.NewStore(cfg.Database.URL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	log.Println("Database connected")

	// Redis is an optimization layer (nonce cache, event fast path,
	// generation leases). The service runs without it.
	var locker service.Locker
	var nonces signature.NonceCache

	redisClient, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		log.Printf("Redis unavailable, using in-process nonce cache: %v", err)
		memCache := signature.NewMemoryNonceCache(cfg.Webhook.NonceSweepEvery)
		defer memCache.Stop()
		nonces = memCache
	} else {
		defer redisClient.Close()
		log.Println("Redis connected")
		nonces = redisClient.NewNonceCache()
		locker = redisClient
	}

	lifecycleProducer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicLifecycle)
	defer lifecycleProducer.Close()
	notificationProducer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicNotifications)
	defer notificationProducer.Close()
	log.Println("Kafka producers initialized")

	eventPublisher := broker.NewEventPublisher(lifecycleProducer, notificationProducer)
	notifier := notify.NewKafkaNotifier(eventPublisher)

	renderer, err := render.NewTemplateRenderer()
	if err != nil {
		log.Fatalf("Failed to initialize renderer: %v", err)
	}

	modelClient := ai.NewClient(cfg.AI.BaseURL, cfg.AI.APIKey, cfg.AI.Model, cfg.AI.Timeout)
	artifactStore := storage.NewDBArtifactStore(db, cfg.Server.PublicBaseURL)

	generator := service.NewGenerationOrchestrator(
		db, modelClient, renderer, artifactStore,
		notifier, eventPublisher, locker, cfg.Dispatch.AutoApprove)

	dispatcher := service.NewDispatchClient(
		cfg.Dispatch.URL, cfg.Dispatch.Secret, cfg.Dispatch.Instructions,
		cfg.Dispatch.Timeout, cfg.Dispatch.MaxAttempts)

	verifier := signature.NewVerifier(
		cfg.Webhook.CallbackSecret, cfg.Webhook.SignatureWindow, cfg.Webhook.NonceTTL, nonces)

	paymentService := service.NewPaymentService(
		db, cfg.Webhook.PaymentSecret, dispatcher, generator, notifier, eventPublisher)
	if redisClient != nil {
		paymentService.WithEventCache(redisClient)
	}
	callbackService := service.NewCallbackService(db, verifier, eventPublisher, notifier)
	orderService := service.NewOrderService(db, dispatcher, generator, notifier, eventPublisher)

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	notificationConsumer := broker.NewConsumer(
		cfg.Kafka.Brokers, cfg.Kafka.TopicNotifications, cfg.Kafka.ConsumerGroup)
	notificationWorker := worker.NewNotificationWorker(notificationConsumer, notify.NewLogSender())
	go func() {
		if err := notificationWorker.Start(workerCtx); err != nil {
			log.Printf("Notification worker error: %v", err)
		}
	}()

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	handler := api.NewHandler(orderService, paymentService, callbackService, db)
	handler.SetupRoutes(router)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		log.Printf("Starting HTTP server on port %s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	workerCancel()
	notificationWorker.Stop()

	log.Println("Server exited")
}
