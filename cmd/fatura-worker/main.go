package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"fatura/internal/backend"
	"fatura/internal/cli"
	"fatura/internal/config"
	"fatura/internal/ledger"
	"fatura/internal/log"
	"fatura/internal/sheets"
	gsheet "fatura/internal/sheets/google"
	"fatura/internal/worker"
)

func main() {
	cli.LoadEnvFile()
	cfg := cli.LoadAndValidateConfig()
	logger := cli.SetupLogger(cfg.LogLevel, log.ComponentWorker)

	if err := run(cfg, logger); err != nil {
		logger.Error("Worker stopped with error", log.FieldError, err)
		os.Exit(1)
	}
	logger.Info("Worker shutdown complete")
}

// run owns the backend for the life of the worker, so its cleanup runs on
// every return path before main decides the exit code.
func run(cfg *config.Config, logger *log.Logger) error {
	logger.Info("Starting fatura-worker")

	backendCfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		return fmt.Errorf("invalid backend configuration: %w", err)
	}
	res, err := backend.NewFactory(logger.With(log.FieldComponent, log.ComponentBackend).Logger).CreateBackend(context.Background(), backendCfg)
	if err != nil {
		return fmt.Errorf("initialize backend: %w", err)
	}
	defer func() {
		if err := res.Cleanup(); err != nil {
			logger.Error("Backend cleanup error", log.FieldError, err)
		}
	}()

	var exporter sheets.InvoiceExporter
	if cfg.SheetsEnabled() {
		client, err := gsheet.New(context.Background(), gsheet.Options{
			SpreadsheetID:      cfg.GoogleSpreadsheetID,
			SheetName:          cfg.GoogleSheetName,
			ServiceAccountJSON: cfg.GoogleServiceAccountJSON,
			ServiceAccountFile: cfg.GoogleServiceAccountFile,
		})
		if err != nil {
			return fmt.Errorf("initialize Google Sheets client: %w", err)
		}
		exporter = client
		logger.Info("Google Sheets export enabled", "spreadsheet_id", cfg.GoogleSpreadsheetID)
	} else {
		logger.Info("Google Sheets export disabled - no GOOGLE_SPREADSHEET_ID provided")
	}

	var consumer worker.Consumer
	if res.AMQP != nil {
		consumer = res.AMQP
	} else {
		logger.Warn("No AMQP client, running the closing scan only")
	}

	w := worker.New(res.Store, ledger.New(res.Store), exporter)
	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, nil)
	ctx = log.NewContext(ctx, logger)

	if err := w.Run(ctx, consumer, cfg.ClosingScanInterval); err != nil {
		return err
	}
	<-done
	return nil
}
