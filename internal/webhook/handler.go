// Package webhook ingests push notifications from the upstream ERP and
// applies them to the local catalog.
package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"

	"github.com/meridian-shop/meridian-shop/internal/catalog"
	"github.com/meridian-shop/meridian-shop/internal/moysklad"
	"github.com/meridian-shop/meridian-shop/internal/platform/httpx"
)

// ProductFetcher retrieves full product records referenced by event hrefs.
// Implemented by moysklad.Fetcher.
type ProductFetcher interface {
	ProductByHref(ctx context.Context, href string) (moysklad.ProductRecord, error)
}

// Applier applies catalog mutations derived from events. Implemented by
// catalog.Reconciler.
type Applier interface {
	Reconcile(ctx context.Context, rec catalog.ParsedProduct) (catalog.Outcome, error)
	DeleteVariant(ctx context.Context, guid string) error
	UpdateStock(ctx context.Context, guid string, stock int) (bool, error)
}

// Handler serves the webhook endpoints.
type Handler struct {
	logger *slog.Logger
	fetch  ProductFetcher
	apply  Applier
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, fetch ProductFetcher, apply Applier) *Handler {
	return &Handler{logger: logger, fetch: fetch, apply: apply}
}

// MountRoutes registers webhook routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Use(httprate.LimitByIP(60, time.Minute))
	r.Post("/products", h.handleProducts)
	r.Post("/stock", h.handleStock)
}

type productEvent struct {
	Meta struct {
		Type string `json:"type"`
		Href string `json:"href"`
	} `json:"meta"`
	Action string `json:"action"`
}

type productPayload struct {
	Events []productEvent `json:"events"`
}

type productsResponse struct {
	Success         bool     `json:"success"`
	ProcessedEvents int      `json:"processed_events"`
	Errors          []string `json:"errors,omitempty"`
}

// handleProducts processes a batch of product change events. Events are
// isolated from each other: one bad event never blocks the rest of the batch.
func (h *Handler) handleProducts(w http.ResponseWriter, r *http.Request) {
	var payload productPayload
	if err := httpx.DecodeJSON(r, &payload); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Malformed Payload", err.Error())
		return
	}

	resp := productsResponse{}
	for i, ev := range payload.Events {
		if ev.Meta.Type != "" && ev.Meta.Type != "product" {
			continue
		}
		if err := h.applyProductEvent(r.Context(), ev); err != nil {
			h.logger.Warn("webhook event failed",
				slog.Int("index", i),
				slog.String("action", ev.Action),
				slog.Any("error", err))
			resp.Errors = append(resp.Errors, fmt.Sprintf("event %d: %v", i, err))
			continue
		}
		resp.ProcessedEvents++
	}

	resp.Success = len(resp.Errors) == 0
	status := http.StatusOK
	if !resp.Success {
		status = http.StatusMultiStatus
	}
	httpx.JSON(w, status, resp)
}

func (h *Handler) applyProductEvent(ctx context.Context, ev productEvent) error {
	switch strings.ToUpper(ev.Action) {
	case "DELETE":
		guid := moysklad.GUIDFromHref(ev.Meta.Href)
		if guid == "" {
			return fmt.Errorf("no variant guid in href %q", ev.Meta.Href)
		}
		return h.apply.DeleteVariant(ctx, guid)
	case "CREATE", "UPDATE":
		rec, err := h.fetch.ProductByHref(ctx, ev.Meta.Href)
		if err != nil {
			return err
		}
		parsed, err := catalog.ParseProduct(rec)
		if err != nil {
			return err
		}
		_, err = h.apply.Reconcile(ctx, parsed)
		return err
	default:
		return fmt.Errorf("unsupported action %q", ev.Action)
	}
}

type stockResponse struct {
	Success bool     `json:"success"`
	Updated int      `json:"updated"`
	Missing int      `json:"missing"`
	Errors  []string `json:"errors,omitempty"`
}

// handleStock accepts stock rows either as a bare JSON array or wrapped in a
// rows envelope. Rows referencing unknown variants are counted, not failed.
func (h *Handler) handleStock(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Malformed Payload", err.Error())
		return
	}

	rows, err := decodeStockRows(body)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Malformed Payload", err.Error())
		return
	}

	resp := stockResponse{}
	for i, row := range rows {
		guid := row.GUID()
		if guid == "" {
			resp.Errors = append(resp.Errors, fmt.Sprintf("row %d: no variant guid", i))
			continue
		}
		found, err := h.apply.UpdateStock(r.Context(), guid, int(row.Stock))
		if err != nil {
			resp.Errors = append(resp.Errors, fmt.Sprintf("row %d: %v", i, err))
			continue
		}
		if !found {
			resp.Missing++
			continue
		}
		resp.Updated++
	}

	resp.Success = len(resp.Errors) == 0
	status := http.StatusOK
	if !resp.Success {
		status = http.StatusMultiStatus
	}
	httpx.JSON(w, status, resp)
}

func decodeStockRows(body []byte) ([]moysklad.StockRow, error) {
	var rows []moysklad.StockRow
	if err := json.Unmarshal(body, &rows); err == nil {
		return rows, nil
	}
	var envelope struct {
		Rows []moysklad.StockRow `json:"rows"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, err
	}
	return envelope.Rows, nil
}
