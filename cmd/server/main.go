package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/attendly/phoneauth/internal/config"
	"github.com/attendly/phoneauth/internal/gateway"
	"github.com/attendly/phoneauth/internal/handlers"
	"github.com/attendly/phoneauth/internal/middleware"
	"github.com/attendly/phoneauth/internal/phone"
	"github.com/attendly/phoneauth/internal/ratelimit"
	"github.com/attendly/phoneauth/internal/repository"
	"github.com/attendly/phoneauth/internal/service"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/gorilla/mux"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const visitorIdleTimeout = 10 * time.Minute

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetLevel(logrus.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		logger.WithError(err).Fatal("Failed to load configuration")
	}

	if level, err := logrus.ParseLevel(cfg.Server.LogLevel); err == nil {
		logger.SetLevel(level)
	} else {
		logger.WithField("log_level", cfg.Server.LogLevel).Warn("Unknown log level, using info")
	}

	dynamoClient, err := initDynamoDB(cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize DynamoDB")
	}

	var redisClient *redis.Client
	if cfg.UsesRedis() {
		redisClient, err = initRedis(cfg, logger)
		if err != nil {
			logger.WithError(err).Fatal("Failed to initialize Redis")
		}
		defer redisClient.Close()
	}

	// Initialize repositories
	userRepo := repository.NewUserRepository(dynamoClient, cfg.DynamoDB.TableName, logger)

	var codeStore gateway.CodeStore
	if cfg.OTP.CodeStore == config.StoreDynamoDB {
		codeStore = repository.NewOTPRepository(dynamoClient, cfg.DynamoDB.TableName, logger)
	} else {
		codeStore = gateway.NewRedisCodeStore(redisClient, logger)
	}

	var limiterStore ratelimit.Store
	if cfg.OTP.Store == config.StoreRedis {
		limiterStore = ratelimit.NewRedisStore(redisClient, cfg.OTP.AttemptWindow, 2*cfg.OTP.ResendCooldown)
	} else {
		limiterStore = ratelimit.NewMemoryStore()
	}

	var sender gateway.Sender
	if cfg.SMS.WebhookURL != "" {
		sender = gateway.NewWebhookSender(cfg.SMS.WebhookURL, cfg.SMS.WebhookToken, cfg.SMS.Timeout, logger)
	} else {
		logger.Warn("SMS_WEBHOOK_URL not set, codes will only be logged")
		sender = gateway.NewLogSender(logger)
	}

	// Initialize services
	codeGateway := gateway.NewCodeGateway(codeStore, sender, gateway.Config{
		CodeLength: cfg.OTP.Length,
		Expiry:     cfg.OTP.Expiry,
	}, logger)

	limiter := ratelimit.New(limiterStore, ratelimit.Config{
		MaxAttempts:    cfg.OTP.MaxAttempts,
		ResendCooldown: cfg.OTP.ResendCooldown,
		AttemptWindow:  cfg.OTP.AttemptWindow,
	})

	otpService := service.NewOTPService(limiter, codeGateway, phone.NewNormalizer(cfg.OTP.CountryCode), &cfg.OTP, logger)

	tokenService, err := service.NewTokenService(&cfg.JWT, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize token service")
	}

	otpHandlers := handlers.NewOTPHandlers(otpService, userRepo, tokenService, logger)
	userHandlers := handlers.NewUserHandlers(userRepo, logger)

	authMiddleware := middleware.NewAuthMiddleware(tokenService, logger)
	ipLimiter := middleware.NewIPRateLimiter(cfg.Server.RateLimitRPS, cfg.Server.RateLimitBurst, cfg.Server.TrustProxyHeaders)
	router := setupRouter(otpHandlers, userHandlers, authMiddleware, ipLimiter, logger)

	bgCtx, stopBackground := context.WithCancel(context.Background())
	defer stopBackground()

	go ratelimit.NewSweeper(limiter, cfg.OTP.SweepInterval, logger).Run(bgCtx)
	go cleanupVisitors(bgCtx, ipLimiter, logger)

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		logger.WithFields(logrus.Fields{
			"port":       cfg.Server.Port,
			"otp_store":  cfg.OTP.Store,
			"code_store": cfg.OTP.CodeStore,
		}).Info("Starting server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Fatal("Server failed to start")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")
	stopBackground()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.WithError(err).Fatal("Server forced to shutdown")
	}

	logger.Info("Server exited")
}

func initDynamoDB(cfg *config.Config, logger *logrus.Logger) (*dynamodb.Client, error) {
	var awsCfg aws.Config
	var err error

	if cfg.DynamoDB.Endpoint != "" {
		awsCfg, err = awsconfig.LoadDefaultConfig(context.TODO(),
			awsconfig.WithRegion(cfg.DynamoDB.Region),
			awsconfig.WithEndpointResolverWithOptions(aws.EndpointResolverWithOptionsFunc(
				func(service, region string, options ...interface{}) (aws.Endpoint, error) {
					return aws.Endpoint{
						URL:           cfg.DynamoDB.Endpoint,
						SigningRegion: cfg.DynamoDB.Region,
					}, nil
				})),
		)
	} else {
		awsCfg, err = awsconfig.LoadDefaultConfig(context.TODO(), awsconfig.WithRegion(cfg.DynamoDB.Region))
	}

	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := dynamodb.NewFromConfig(awsCfg)
	logger.Info("DynamoDB client initialized")
	return client, nil
}

func initRedis(cfg *config.Config, logger *logrus.Logger) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Endpoint,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Redis.Endpoint, err)
	}

	logger.WithField("endpoint", cfg.Redis.Endpoint).Info("Redis client initialized")
	return client, nil
}

func cleanupVisitors(ctx context.Context, limiter *middleware.IPRateLimiter, logger *logrus.Logger) {
	ticker := time.NewTicker(visitorIdleTimeout)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := limiter.Cleanup(visitorIdleTimeout); n > 0 {
				logger.WithField("evicted", n).Debug("Evicted idle rate limit visitors")
			}
		}
	}
}

func setupRouter(
	otpHandlers *handlers.OTPHandlers,
	userHandlers *handlers.UserHandlers,
	authMiddleware *middleware.AuthMiddleware,
	ipLimiter *middleware.IPRateLimiter,
	logger *logrus.Logger,
) *mux.Router {
	router := mux.NewRouter()

	router.Use(middleware.CORSMiddleware)
	router.Use(middleware.LoggingMiddleware(logger))

	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}).Methods("GET", "OPTIONS")

	api := router.PathPrefix("/api/v1").Subrouter()

	otp := api.PathPrefix("/otp").Subrouter()
	otp.Use(ipLimiter.Middleware)
	otp.HandleFunc("/send", otpHandlers.SendOTP).Methods("POST", "OPTIONS")
	otp.HandleFunc("/verify", otpHandlers.VerifyOTP).Methods("POST", "OPTIONS")
	otp.HandleFunc("/cooldown", otpHandlers.Cooldown).Methods("GET", "OPTIONS")

	protected := api.PathPrefix("/").Subrouter()
	protected.Use(authMiddleware.RequireAuth)
	protected.HandleFunc("/me", userHandlers.Me).Methods("GET", "OPTIONS")
	protected.HandleFunc("/me", userHandlers.UpdateMe).Methods("PATCH")

	return router
}
