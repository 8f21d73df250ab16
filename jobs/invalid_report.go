package jobs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/meridian-shop/meridian-shop/internal/importer"
	jobmetrics "github.com/meridian-shop/meridian-shop/internal/jobs"
)

// ReportMailer delivers the generated report. Implemented by notify.Mailer.
type ReportMailer interface {
	SendCSV(to []string, subject, body, filename string, csvData []byte) error
}

// InvalidReportJob builds the invalid record report and mails it to the data
// owners.
type InvalidReportJob struct {
	reporter *importer.Reporter
	mailer   ReportMailer
	logger   *slog.Logger
	metrics  *jobmetrics.Metrics
}

// NewInvalidReportJob builds InvalidReportJob instance. metrics may be nil.
func NewInvalidReportJob(reporter *importer.Reporter, mailer ReportMailer, logger *slog.Logger, metrics *jobmetrics.Metrics) *InvalidReportJob {
	return &InvalidReportJob{reporter: reporter, mailer: mailer, logger: logger, metrics: metrics}
}

// Handle processes TaskInvalidReport tasks.
func (j *InvalidReportJob) Handle(ctx context.Context, t *asynq.Task) error {
	var payload InvalidReportPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	if len(payload.Recipients) == 0 {
		j.logger.Warn("invalid report task without recipients")
		return asynq.SkipRetry
	}
	tracker := j.metrics.Track("invalid_report")

	records, seen, err := j.reporter.Collect(ctx, importer.ReportOptions{
		Limit:    payload.Limit,
		MaxPages: payload.MaxPages,
	})
	if err != nil {
		return tracker.End(err)
	}

	var buf bytes.Buffer
	if err := importer.WriteCSV(&buf, records); err != nil {
		return tracker.End(err)
	}

	date := time.Now().Format("2006-01-02")
	subject := fmt.Sprintf("Invalid catalog records %s", date)
	body := fmt.Sprintf("Scanned %d records, %d invalid. Details attached.", seen, len(records))
	filename := fmt.Sprintf("invalid-records-%s.csv", date)
	if err := j.mailer.SendCSV(payload.Recipients, subject, body, filename, buf.Bytes()); err != nil {
		return tracker.End(err)
	}

	j.logger.Info("invalid record report sent",
		slog.Int("seen", seen),
		slog.Int("invalid", len(records)),
		slog.Int("recipients", len(payload.Recipients)))
	return tracker.End(nil)
}
