// Package jobs wires background work onto the Asynq queue: scheduled catalog
// synchronisation, the invalid record report and sale notifications.
package jobs

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"

	// TaskCatalogSyncProducts runs a full product import.
	TaskCatalogSyncProducts = "catalog:sync_products"
	// TaskCatalogSyncStocks refreshes stock counters from the full report.
	TaskCatalogSyncStocks = "catalog:sync_stocks"
	// TaskInvalidReport builds the invalid record report and mails it.
	TaskInvalidReport = "report:invalid_records"
	// TaskOrderNotify announces a placed order in the sales chat.
	TaskOrderNotify = "order:notify"
)

// SyncPayload parameterises a catalog sync run.
type SyncPayload struct {
	Limit int `json:"limit,omitempty"`
}

// NewCatalogSyncProductsTask constructs the product sync task.
func NewCatalogSyncProductsTask(payload SyncPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskCatalogSyncProducts, data), nil
}

// NewCatalogSyncStocksTask constructs the stock sync task.
func NewCatalogSyncStocksTask(payload SyncPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskCatalogSyncStocks, data), nil
}

// InvalidReportPayload describes one report run.
type InvalidReportPayload struct {
	Recipients []string `json:"recipients"`
	Limit      int      `json:"limit,omitempty"`
	MaxPages   int      `json:"max_pages,omitempty"`
}

// NewInvalidReportTask constructs the report task.
func NewInvalidReportTask(payload InvalidReportPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskInvalidReport, data), nil
}

// OrderNotifyPayload carries the order summary for the sales chat message.
type OrderNotifyPayload struct {
	OrderID  int64    `json:"order_id"`
	Customer string   `json:"customer"`
	Phone    string   `json:"phone"`
	Address  string   `json:"address"`
	Total    float64  `json:"total"`
	Lines    []string `json:"lines"`
}

// NewOrderNotifyTask constructs the order notification task.
func NewOrderNotifyTask(payload OrderNotifyPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskOrderNotify, data), nil
}
