package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/meridian-shop/meridian-shop/internal/app"
	"github.com/meridian-shop/meridian-shop/internal/importer"
	"github.com/meridian-shop/meridian-shop/internal/moysklad"
	"github.com/meridian-shop/meridian-shop/internal/notify"
)

func main() {
	var (
		limit     = flag.Int("limit", moysklad.MaxPageLimit, "page size (capped at 1000)")
		startPage = flag.Int("start-page", 0, "page to start scanning from")
		maxPages  = flag.Int("max-pages", 0, "cap on pages scanned, 0 scans all")
		outfile   = flag.String("outfile", "", "write the CSV here instead of stdout")
		emailTo   = flag.String("email-to", "", "comma-separated recipients, sends the CSV by mail")
	)
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	client := moysklad.NewClient(cfg.MoyskladConfig(), logger, nil)
	reporter := importer.NewReporter(moysklad.NewFetcher(client), logger)

	records, seen, err := reporter.Collect(ctx, importer.ReportOptions{
		StartPage: *startPage,
		MaxPages:  *maxPages,
		Limit:     *limit,
	})
	if err != nil {
		logger.Error("collect invalid records", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("scan finished", slog.Int("seen", seen), slog.Int("invalid", len(records)))

	var buf bytes.Buffer
	if err := importer.WriteCSV(&buf, records); err != nil {
		logger.Error("render csv", slog.Any("error", err))
		os.Exit(1)
	}

	if *outfile != "" {
		if err := os.WriteFile(*outfile, buf.Bytes(), 0o644); err != nil {
			logger.Error("write csv", slog.String("path", *outfile), slog.Any("error", err))
			os.Exit(1)
		}
	} else if *emailTo == "" {
		_, _ = os.Stdout.Write(buf.Bytes())
	}

	if *emailTo != "" {
		mailer := notify.NewMailer(notify.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUser,
			Password: cfg.SMTPPassword,
			From:     cfg.SMTPFrom,
		})
		recipients := strings.Split(*emailTo, ",")
		for i := range recipients {
			recipients[i] = strings.TrimSpace(recipients[i])
		}
		date := time.Now().Format("2006-01-02")
		subject := fmt.Sprintf("Invalid catalog records %s", date)
		body := fmt.Sprintf("Scanned %d records, %d invalid. Details attached.", seen, len(records))
		filename := fmt.Sprintf("invalid-records-%s.csv", date)
		if err := mailer.SendCSV(recipients, subject, body, filename, buf.Bytes()); err != nil {
			logger.Error("send report mail", slog.Any("error", err))
			os.Exit(1)
		}
		logger.Info("report mailed", slog.Int("recipients", len(recipients)))
	}
}
