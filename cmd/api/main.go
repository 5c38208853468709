package main

import (
	"context"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"example.com/repcount/internal/api"
	"example.com/repcount/internal/auth"
	"example.com/repcount/internal/config"
	"example.com/repcount/internal/domain"
	"example.com/repcount/internal/emitter"
	"example.com/repcount/internal/insights"
	"example.com/repcount/internal/outbox"
	"example.com/repcount/internal/persistence/memory"
	"example.com/repcount/internal/persistence/postgres"
	"example.com/repcount/internal/pose"
	httptransport "example.com/repcount/internal/transport/http"
	"example.com/repcount/internal/video/opencv"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	poseCfg := pose.Config{
		Command:                cfg.PoseWorkerCommand,
		Args:                   cfg.PoseWorkerArgs,
		MinDetectionConfidence: cfg.PoseDetectionConfidence,
		MinTrackingConfidence:  cfg.PoseTrackingConfidence,
		FrameTimeout:           cfg.PoseFrameTimeout,
	}
	detectors := func(ctx context.Context) (pose.Detector, error) {
		return pose.Open(ctx, poseCfg)
	}

	var opts []domain.Option
	if cfg.GeminiAPIKey != "" {
		opts = append(opts, domain.WithInsights(insights.NewGeminiClient(insights.Config{
			APIKey:  cfg.GeminiAPIKey,
			Model:   cfg.GeminiModel,
			BaseURL: cfg.GeminiURL,
			Timeout: cfg.InsightsTimeout,
		})))
	}

	if cfg.MQTTBroker != "" {
		mqttEmitter, err := emitter.Connect(emitter.Config{
			Broker:      cfg.MQTTBroker,
			ClientID:    "repcount-" + uuid.NewString()[:8],
			TopicPrefix: cfg.MQTTTopicPrefix,
		})
		if err != nil {
			log.Fatalf("failed to connect to mqtt: %v", err)
		}
		defer mqttEmitter.Close()
		opts = append(opts, domain.WithMetricsSink(mqttEmitter))
	}

	var dispatcher *outbox.Dispatcher
	if cfg.PostgresURL != "" {
		if err := postgres.Migrate(cfg.PostgresURL); err != nil {
			log.Fatalf("failed to migrate postgres: %v", err)
		}
		pool, err := pgxpool.New(ctx, cfg.PostgresURL)
		if err != nil {
			log.Fatalf("failed to connect to postgres: %v", err)
		}
		defer pool.Close()
		opts = append(opts, domain.WithArchiver(postgres.NewArchive(pool)))

		if len(cfg.KafkaBrokers) > 0 {
			producer := outbox.NewKafkaProducer(cfg.KafkaBrokers)
			defer producer.Close()

			registry := outbox.NewSchemaRegistryClient(cfg.SchemaRegistryURL)
			dispatcher = outbox.NewDispatcher(pool, producer, registry, cfg.OutboxPollInterval, cfg.OutboxBatchSize)
			go dispatcher.Start(ctx)
		}
	}

	store := memory.NewStore(cfg.SessionCapacity, cfg.SessionTTL)
	service := domain.NewService(store, opencv.Opener(), detectors, domain.Config{
		UploadDir:    cfg.UploadDir,
		DatasetDir:   cfg.DatasetDir,
		StreamBuffer: cfg.StreamBuffer,
		JPEGQuality:  cfg.JPEGQuality,
	}, opts...)

	handler := api.NewHandler(service)
	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)

	authMiddleware := auth.NewMiddleware(auth.Config{
		Secret:   cfg.JWTSecret,
		Issuer:   cfg.JWTIssuer,
		Disabled: cfg.AuthDisabled,
	}, auth.PublicPaths)
	if cfg.AuthDisabled {
		log.Printf("authentication disabled; all requests use the local tenant")
	}

	requestLog := log.New(log.Writer(), "[http] ", log.LstdFlags)
	server := httptransport.NewServer(httptransport.ServerConfig{
		Address:     cfg.HTTPAddress,
		ReadTimeout: 5 * time.Minute,
		IdleTimeout: 60 * time.Second,
	}, httptransport.CORS("http://localhost:5173", httptransport.RequestLogger(requestLog, authMiddleware.Wrap(mux))))
	// Streams end with the process context so their sessions complete before exit.
	server.BaseContext = func(net.Listener) context.Context { return ctx }

	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Printf("repcount listening on %s", cfg.HTTPAddress)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	<-shutdownCh
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}

	service.Wait()
	if dispatcher != nil {
		dispatcher.Wait()
	}
}
