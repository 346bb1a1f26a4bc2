package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"fatura/internal/backend"
	"fatura/internal/cli"
	apphttp "fatura/internal/http"
	"fatura/internal/ledger"
	"fatura/internal/log"
	"fatura/internal/services"
)

func main() {
	cli.LoadEnvFile()
	cfg := cli.LoadAndValidateConfig()
	logger := cli.SetupLogger(cfg.LogLevel, log.ComponentApp)

	backendCfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		logger.Error("Invalid backend configuration", log.FieldError, err)
		os.Exit(1)
	}
	res, err := backend.NewFactory(logger.With(log.FieldComponent, log.ComponentBackend).Logger).CreateBackend(context.Background(), backendCfg)
	if err != nil {
		logger.Error("Failed to initialize backend", log.FieldError, err, log.FieldBackend, cfg.DataBackend)
		os.Exit(1)
	}

	// Only a live client becomes a publisher; a nil *amqp.Client inside the
	// interface would not compare equal to nil.
	var pub services.Publisher
	if res.AMQP != nil {
		pub = res.AMQP
	}

	l := ledger.New(res.Store)
	svc := apphttp.Services{
		Charges:   services.NewChargeService(l, pub, cfg.MaxInstallments),
		Invoices:  services.NewInvoiceService(res.Store, l, pub),
		Reversals: services.NewReversalService(res.Store, l, pub),
		Cards:     services.NewCardService(res.Store, l, pub),
	}

	srv := apphttp.NewServer(apphttp.Config{
		Addr:               ":" + cfg.Port,
		RateLimitPerMinute: cfg.RateLimitPerMinute,
		CacheTTL:           cfg.CacheTTL,
	}, svc, res.Store, logger)

	_, done := cli.GracefulShutdown(logger, 30*time.Second, func(ctx context.Context) {
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("Server shutdown error", log.FieldError, err)
		}
		if err := res.Cleanup(); err != nil {
			logger.Error("Backend cleanup error", log.FieldError, err)
		}
	})

	logger.Info("Starting fatura server",
		"port", cfg.Port,
		log.FieldBackend, cfg.DataBackend,
		"amqp_enabled", pub != nil)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Server error", log.FieldError, err, "port", cfg.Port)
		if err := res.Cleanup(); err != nil {
			logger.Error("Backend cleanup error", log.FieldError, err)
		}
		os.Exit(1)
	}

	<-done
	logger.Info("Server stopped gracefully")
}
