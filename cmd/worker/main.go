package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/meridian-shop/meridian-shop/internal/app"
	"github.com/meridian-shop/meridian-shop/internal/catalog"
	"github.com/meridian-shop/meridian-shop/internal/importer"
	jobmetrics "github.com/meridian-shop/meridian-shop/internal/jobs"
	"github.com/meridian-shop/meridian-shop/internal/moysklad"
	"github.com/meridian-shop/meridian-shop/internal/notify"
	"github.com/meridian-shop/meridian-shop/internal/platform/db"
	"github.com/meridian-shop/meridian-shop/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	client := moysklad.NewClient(cfg.MoyskladConfig(), logger, nil)
	fetcher := moysklad.NewFetcher(client)

	imageStore, err := catalog.NewFileImageStore(cfg.ImageDir)
	if err != nil {
		logger.Error("init image store", slog.Any("error", err))
		os.Exit(1)
	}
	catalogStore := catalog.NewPGStore(pool)
	reconciler := catalog.NewReconciler(catalogStore, imageStore, fetcher, logger)

	metrics := jobmetrics.NewMetrics(nil)
	runner := jobs.NewRunnerForSync(fetcher, fetcher, reconciler, logger)
	syncJob := jobs.NewCatalogSyncJob(runner, logger, metrics)

	mailer := notify.NewMailer(notify.SMTPConfig{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUser,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
	})
	reportJob := jobs.NewInvalidReportJob(importer.NewReporter(fetcher, logger), mailer, logger, metrics)

	telegram := notify.NewTelegram(cfg.TelegramToken, cfg.TelegramChatID, nil)
	notifyJob := jobs.NewOrderNotifyJob(telegram, logger, metrics)

	productsTask, err := jobs.NewCatalogSyncProductsTask(jobs.SyncPayload{})
	if err != nil {
		logger.Error("build product sync task", slog.Any("error", err))
		os.Exit(1)
	}
	stocksTask, err := jobs.NewCatalogSyncStocksTask(jobs.SyncPayload{})
	if err != nil {
		logger.Error("build stock sync task", slog.Any("error", err))
		os.Exit(1)
	}

	cron := []jobs.CronRegistration{
		{Spec: cfg.SyncProductsCron, Task: productsTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
		{Spec: cfg.SyncStocksCron, Task: stocksTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
	}
	if len(cfg.ReportRecipients) > 0 {
		reportTask, err := jobs.NewInvalidReportTask(jobs.InvalidReportPayload{Recipients: cfg.ReportRecipients})
		if err != nil {
			logger.Error("build report task", slog.Any("error", err))
			os.Exit(1)
		}
		cron = append(cron, jobs.CronRegistration{
			Spec: cfg.ReportCron, Task: reportTask, Options: []asynq.Option{asynq.MaxRetry(2)},
		})
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskCatalogSyncProducts, Handler: syncJob.HandleProducts},
			{Type: jobs.TaskCatalogSyncStocks, Handler: syncJob.HandleStocks},
			{Type: jobs.TaskInvalidReport, Handler: reportJob.Handle},
			{Type: jobs.TaskOrderNotify, Handler: notifyJob.Handle},
		},
		Cron: cron,
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("starting worker")
	if err := worker.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("worker stopped", slog.Any("error", err))
		os.Exit(1)
	}
}
