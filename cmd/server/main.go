package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"event-ticketing-checkout/internal/config"
	"event-ticketing-checkout/internal/events"
	"event-ticketing-checkout/internal/handlers"
	"event-ticketing-checkout/internal/metrics"
	"event-ticketing-checkout/internal/middleware"
	"event-ticketing-checkout/internal/pricing"
	"event-ticketing-checkout/internal/services"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/sessions"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	log "github.com/sirupsen/logrus"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("Failed to load configuration")
	}

	logger := cfg.Log.NewLogger()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	// Create session store
	sessionStore := sessions.NewCookieStore([]byte(cfg.Session.Secret))
	sessionStore.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   int(cfg.Session.TTL / time.Second),
		HttpOnly: true,
		Secure:   cfg.IsProduction(),
		SameSite: http.SameSiteLaxMode,
	}

	backend := services.NewBackendClient(services.BackendConfig{
		BaseURL: cfg.Backend.URL,
		Timeout: cfg.Backend.Timeout,
	}, logger)

	confirmations := services.NewConfirmationBook(logger)
	navigator := services.Navigators{confirmations}
	if cfg.Events.Enabled() {
		publisher := events.NewConfirmationPublisher(cfg.Events.KafkaBrokers, cfg.Events.ConfirmationTopic, logger)
		defer publisher.Close()
		navigator = append(navigator, publisher)
		logger.WithField("brokers", cfg.Events.KafkaBrokers).Info("Publishing confirmations to Kafka")
	}

	// Initialize payment providers with Paystack, or the mock without credentials
	var (
		cards       services.CardGateway
		callbacks   services.CardCallbacks
		mobileMoney services.MobileMoneyProvider
	)
	if cfg.Paystack.Enabled() {
		paystack := services.NewPaystackService(services.PaystackConfig{
			SecretKey:   cfg.Paystack.SecretKey,
			PublicKey:   cfg.Paystack.PublicKey,
			Environment: cfg.Paystack.Environment,
			BaseURL:     cfg.Paystack.BaseURL,
			CallbackURL: cfg.Paystack.CallbackURL,
		}, logger)
		if err := paystack.TestConnection(ctx); err != nil {
			logger.WithError(err).Warn("Paystack connection test failed")
		}

		gateway := services.NewPaystackCardGateway(paystack, logger)
		cards, callbacks, mobileMoney = gateway, gateway, paystack
		logger.WithField("environment", cfg.Paystack.Environment).Info("Payment service: Using Paystack API")
	} else {
		mock := services.NewMockPaymentProvider(cfg.Paystack.CallbackURL, logger)
		cards, callbacks, mobileMoney = mock, mock, mock
	}

	registry := services.NewSessionRegistry(services.SessionDeps{
		Backend:     backend,
		Promotions:  services.NewPromotionResolver(backend, logger),
		Calculator:  pricing.NewCalculator(cfg.Checkout.ServiceFeeRate),
		PerOrderCap: cfg.Checkout.PerOrderCap,
		Metrics:     m,
		Logger:      logger,
		Payments: services.PaymentDeps{
			Card:        cards,
			MobileMoney: mobileMoney,
			Navigator:   navigator,
			Metrics:     m,
			Logger:      logger,
		},
	}, cfg.Session.TTL)
	go registry.Run(ctx, time.Minute)

	limiter := middleware.NewRateLimiter(cfg.RateLimit.PerMinute)
	go limiter.RunCleanup(ctx.Done())

	checkoutHandler := handlers.NewCheckoutHandler(handlers.CheckoutHandlerConfig{
		Registry:      registry,
		Cards:         callbacks,
		Confirmations: confirmations,
		Store:         sessionStore,
		Logger:        logger,
		BaseContext:   ctx,
		CardTimeout:   cfg.Session.TTL,
	})

	// Initialize router
	r := chi.NewRouter()

	corsConfig := middleware.DefaultCORSConfig()
	corsConfig.AllowedOrigins = cfg.CORS.AllowedOrigins

	r.Use(middleware.RequestIDMiddleware)
	r.Use(middleware.LoggingMiddleware(logger, m))
	r.Use(middleware.ErrorHandlingMiddleware(logger))
	r.Use(middleware.CORSMiddleware(corsConfig))
	r.Use(middleware.SecurityHeadersMiddleware)
	r.Use(middleware.CredentialMiddleware)

	r.NotFound(middleware.NotFoundHandler().ServeHTTP)
	r.MethodNotAllowed(middleware.MethodNotAllowedHandler().ServeHTTP)

	checkoutHandler.Routes(r, limiter)
	r.Handle("/metrics", m.Handler())

	addr := cfg.Server.Host + ":" + cfg.Server.Port
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.WithFields(log.Fields{"addr": addr, "env": cfg.Server.Env}).Info("Starting server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Fatal("Failed to start server")
		}
	}()

	waitForKillSignal(logger)
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Server shutdown failed")
	}
}

func waitForKillSignal(logger log.FieldLogger) {
	killSignalChan := make(chan os.Signal, 1)
	signal.Notify(killSignalChan, os.Interrupt, syscall.SIGTERM)

	switch <-killSignalChan {
	case os.Interrupt:
		logger.Info("Got SIGINT...")
	case syscall.SIGTERM:
		logger.Info("Got SIGTERM...")
	}
}
