package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/meridian-shop/meridian-shop/internal/jobs"
)

// Messenger posts a chat message. Implemented by notify.Telegram.
type Messenger interface {
	SendMessage(ctx context.Context, text string) error
}

// OrderNotifyJob announces placed orders in the sales chat.
type OrderNotifyJob struct {
	messenger Messenger
	logger    *slog.Logger
	metrics   *jobmetrics.Metrics
}

// NewOrderNotifyJob builds OrderNotifyJob instance. metrics may be nil.
func NewOrderNotifyJob(messenger Messenger, logger *slog.Logger, metrics *jobmetrics.Metrics) *OrderNotifyJob {
	return &OrderNotifyJob{messenger: messenger, logger: logger, metrics: metrics}
}

// Handle processes TaskOrderNotify tasks.
func (j *OrderNotifyJob) Handle(ctx context.Context, t *asynq.Task) error {
	var payload OrderNotifyPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}

	tracker := j.metrics.Track("order_notify")
	if err := j.messenger.SendMessage(ctx, FormatOrderMessage(payload)); err != nil {
		j.logger.Error("order notification failed",
			slog.Int64("order", payload.OrderID),
			slog.Any("error", err))
		return tracker.End(err)
	}
	return tracker.End(nil)
}

// FormatOrderMessage renders the sales chat message for one order.
func FormatOrderMessage(p OrderNotifyPayload) string {
	var b strings.Builder
	fmt.Fprintf(&b, "<b>New order #%d</b>\n", p.OrderID)
	fmt.Fprintf(&b, "Customer: %s\n", p.Customer)
	fmt.Fprintf(&b, "Phone: %s\n", p.Phone)
	if p.Address != "" {
		fmt.Fprintf(&b, "Address: %s\n", p.Address)
	}
	for _, line := range p.Lines {
		fmt.Fprintf(&b, "- %s\n", line)
	}
	fmt.Fprintf(&b, "Total: %.2f", p.Total)
	return b.String()
}
