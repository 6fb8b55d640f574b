package main

import (
	"context"
	"log"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/prashantneosoft/ecommerce-microservices/internal/cache"
	"github.com/prashantneosoft/ecommerce-microservices/internal/catalog"
	"github.com/prashantneosoft/ecommerce-microservices/internal/events"
	"github.com/prashantneosoft/ecommerce-microservices/internal/order"
	"github.com/prashantneosoft/ecommerce-microservices/internal/payment"
	"github.com/prashantneosoft/ecommerce-microservices/internal/relay"
	"github.com/prashantneosoft/ecommerce-microservices/internal/retry"
	"github.com/prashantneosoft/ecommerce-microservices/pkg/config"
	"github.com/prashantneosoft/ecommerce-microservices/pkg/middleware"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "ecommerce",
		Short: "e-commerce saga services",
	}
	rootCmd.AddCommand(
		relayCommand(),
		orderCommand(),
		paymentCommand(),
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setup() (*config.Config, *zap.Logger) {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatal("Failed to create logger:", err)
	}

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}
	return cfg, logger
}

func relayCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "relay",
		Short: "run the event relay",
		Run: func(cmd *cobra.Command, args []string) {
			cfg, logger := setup()
			defer logger.Sync()

			subs := parseSubscribers(cfg.Subscribers)
			deliverer := relay.NewDeliverer(
				time.Duration(cfg.DeliverTimeout)*time.Second,
				retry.DefaultConfig(),
				logger,
			)

			var eventLog relay.Log
			directFan := true
			if cfg.RelayLog == "kafka" {
				kafkaLog := relay.NewKafkaLog(cfg.KafkaBrokers, cfg.KafkaTopic, logger)
				defer kafkaLog.Close()
				eventLog = kafkaLog
				directFan = false
				relay.RunSubscribers(cmd.Context(), cfg.KafkaBrokers, cfg.KafkaTopic, subs, deliverer, logger)
			} else {
				eventLog = relay.NewMemoryLog()
			}

			r := relay.New(eventLog, deliverer, subs, directFan, logger)
			router := r.Router(logger, middleware.RequestID(), middleware.Logger(logger))
			runServer(logger, cfg.Port, "event-relay", router, r.Shutdown)
		},
	}
}

func orderCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "order",
		Short: "run the order service",
		Run: func(cmd *cobra.Command, args []string) {
			cfg, logger := setup()
			defer logger.Sync()

			repo := newOrderRepository(cfg, logger)
			c := cache.New(cmd.Context(), cfg.RedisAddr, logger)
			cat := catalog.NewHTTPClient(cfg.ProductServiceURL, logger)
			publisher := events.NewHTTPPublisher(cfg.EventBusURL, logger)

			svc := order.NewService(repo, cat, publisher, c,
				time.Duration(cfg.CacheTTLSecs)*time.Second,
				time.Duration(cfg.SagaTimeoutSecs)*time.Second,
				logger)

			lookup := order.NewHTTPPaymentLookup(cfg.PaymentServiceURL, logger)
			sweeper := order.NewSweeper(repo, svc, lookup, publisher,
				time.Duration(cfg.SweepIntervalSecs)*time.Second, logger)
			go sweeper.Run(cmd.Context())

			router := newRouter(logger)
			order.NewHandler(svc, logger).Register(router)
			runServer(logger, cfg.Port, "order-service", router)
		},
	}
}

func paymentCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "payment",
		Short: "run the payment service",
		Run: func(cmd *cobra.Command, args []string) {
			cfg, logger := setup()
			defer logger.Sync()

			repo := newPaymentRepository(cfg, logger)
			gateway := payment.NewSimulatedGateway(cfg.GatewayFailureRate, nil, 500*time.Millisecond, logger)
			publisher := events.NewHTTPPublisher(cfg.EventBusURL, logger)

			svc := payment.NewService(repo, gateway, publisher, retry.DefaultConfig(), logger)

			router := newRouter(logger)
			payment.NewHandler(svc, logger).Register(router)
			runServer(logger, cfg.Port, "payment-service", router)
		},
	}
}

func newRouter(logger *zap.Logger) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(middleware.Logger(logger))
	return router
}

func newOrderRepository(cfg *config.Config, logger *zap.Logger) order.Repository {
	if cfg.UseMemoryStore {
		logger.Info("using in-memory order store")
		return order.NewMemoryRepository()
	}
	return order.NewDynamoRepository(newDynamoClient(cfg, logger), cfg.OrderTableName)
}

func newPaymentRepository(cfg *config.Config, logger *zap.Logger) payment.Repository {
	if cfg.UseMemoryStore {
		logger.Info("using in-memory payment store")
		return payment.NewMemoryRepository()
	}
	return payment.NewDynamoRepository(newDynamoClient(cfg, logger), cfg.PaymentTableName)
}

func newDynamoClient(cfg *config.Config, logger *zap.Logger) *dynamodb.Client {
	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(),
		awsconfig.WithRegion(cfg.AWSRegion),
	)
	if err != nil {
		logger.Fatal("Failed to load AWS config", zap.Error(err))
	}

	return dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
		if cfg.DynamoDBEndpoint != "" {
			o.BaseEndpoint = aws.String(cfg.DynamoDBEndpoint)
		}
	})
}

func parseSubscribers(urls []string) []relay.Subscriber {
	subs := make([]relay.Subscriber, 0, len(urls))
	for _, raw := range urls {
		// host:port, not bare hostname: subscribers on the same machine
		// must keep distinct names (and distinct Kafka consumer groups).
		name := raw
		if u, err := url.Parse(raw); err == nil && u.Host != "" {
			name = u.Host
		}
		subs = append(subs, relay.Subscriber{Name: name, URL: raw})
	}
	return subs
}

func runServer(logger *zap.Logger, port, service string, handler http.Handler, cleanup ...func()) {
	srv := &http.Server{
		Addr:    ":" + port,
		Handler: handler,
	}

	go func() {
		logger.Info("starting HTTP server",
			zap.String("service", service),
			zap.String("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("server shutdown failed", zap.Error(err))
	}
	for _, fn := range cleanup {
		fn()
	}
	logger.Info("server stopped")
}
