package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/meridian-shop/meridian-shop/internal/catalog"
	"github.com/meridian-shop/meridian-shop/internal/moysklad"
)

type fakeFetcher struct {
	records map[string]moysklad.ProductRecord
}

func (f *fakeFetcher) ProductByHref(_ context.Context, href string) (moysklad.ProductRecord, error) {
	rec, ok := f.records[href]
	if !ok {
		return moysklad.ProductRecord{}, fmt.Errorf("no record for %s", href)
	}
	return rec, nil
}

type fakeApplier struct {
	reconciled []catalog.ParsedProduct
	deleted    []string
	stock      map[string]int
	known      map[string]bool
}

func (a *fakeApplier) Reconcile(_ context.Context, rec catalog.ParsedProduct) (catalog.Outcome, error) {
	a.reconciled = append(a.reconciled, rec)
	return catalog.Outcome{Applied: true}, nil
}

func (a *fakeApplier) DeleteVariant(_ context.Context, guid string) error {
	a.deleted = append(a.deleted, guid)
	return nil
}

func (a *fakeApplier) UpdateStock(_ context.Context, guid string, stock int) (bool, error) {
	if !a.known[guid] {
		return false, nil
	}
	if a.stock == nil {
		a.stock = map[string]int{}
	}
	a.stock[guid] = stock
	return true, nil
}

func newTestServer(t *testing.T, fetch ProductFetcher, apply Applier) *httptest.Server {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := NewHandler(logger, fetch, apply)
	r := chi.NewRouter()
	r.Route("/webhooks", h.MountRoutes)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func postJSON(t *testing.T, url, body string) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	var decoded map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	return resp, decoded
}

const (
	guidA = "11111111-2222-3333-4444-555555555555"
	guidB = "66666666-7777-8888-9999-aaaaaaaaaaaa"
)

func validRecord(guid, name string) moysklad.ProductRecord {
	return moysklad.ProductRecord{
		ID:         guid,
		Name:       name,
		PathName:   "Furniture/Chairs",
		SalePrices: []moysklad.SalePrice{{Value: 150000}},
	}
}

func TestProductBatchAllValid(t *testing.T) {
	fetch := &fakeFetcher{records: map[string]moysklad.ProductRecord{
		"https://ms.test/entity/product/" + guidA: validRecord(guidA, "Chair, Red, 5kg"),
	}}
	apply := &fakeApplier{}
	srv := newTestServer(t, fetch, apply)

	resp, body := postJSON(t, srv.URL+"/webhooks/products", fmt.Sprintf(`{
		"events": [
			{"meta": {"type": "product", "href": "https://ms.test/entity/product/%s"}, "action": "UPDATE"}
		]
	}`, guidA))

	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, true, body["success"])
	require.EqualValues(t, 1, body["processed_events"])
	require.Len(t, apply.reconciled, 1)
	require.Equal(t, "Chair", apply.reconciled[0].Name)
}

func TestProductBatchPartialFailure(t *testing.T) {
	fetch := &fakeFetcher{records: map[string]moysklad.ProductRecord{
		"https://ms.test/entity/product/" + guidA: validRecord(guidA, "Chair, Red, 5kg"),
		"https://ms.test/entity/product/" + guidB: validRecord(guidB, "Table, Oak, 20kg"),
		// Malformed display name, rejected by the parser.
		"https://ms.test/entity/product/bad": {ID: "bad-guid", Name: "Chair", SalePrices: []moysklad.SalePrice{{Value: 100}}},
	}}
	apply := &fakeApplier{}
	srv := newTestServer(t, fetch, apply)

	resp, body := postJSON(t, srv.URL+"/webhooks/products", fmt.Sprintf(`{
		"events": [
			{"meta": {"type": "product", "href": "https://ms.test/entity/product/%s"}, "action": "CREATE"},
			{"meta": {"type": "product", "href": "https://ms.test/entity/product/bad"}, "action": "UPDATE"},
			{"meta": {"type": "product", "href": "https://ms.test/entity/product/%s"}, "action": "UPDATE"}
		]
	}`, guidA, guidB))

	require.Equal(t, http.StatusMultiStatus, resp.StatusCode)
	require.Equal(t, false, body["success"])
	require.EqualValues(t, 2, body["processed_events"])
	require.Len(t, body["errors"], 1)
	require.Len(t, apply.reconciled, 2)
}

func TestProductDeleteResolvesGUIDFromHref(t *testing.T) {
	apply := &fakeApplier{}
	srv := newTestServer(t, &fakeFetcher{}, apply)

	resp, body := postJSON(t, srv.URL+"/webhooks/products", fmt.Sprintf(`{
		"events": [
			{"meta": {"type": "product", "href": "https://ms.test/entity/product/%s"}, "action": "DELETE"}
		]
	}`, guidA))

	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, true, body["success"])
	require.Equal(t, []string{guidA}, apply.deleted)
}

func TestProductBatchIgnoresUnknownEntityTypes(t *testing.T) {
	apply := &fakeApplier{}
	srv := newTestServer(t, &fakeFetcher{}, apply)

	resp, body := postJSON(t, srv.URL+"/webhooks/products", `{
		"events": [
			{"meta": {"type": "customerorder", "href": "https://ms.test/entity/customerorder/x"}, "action": "CREATE"}
		]
	}`)

	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, true, body["success"])
	require.EqualValues(t, 0, body["processed_events"])
	require.Empty(t, apply.reconciled)
}

func TestProductBatchRejectsMalformedBody(t *testing.T) {
	srv := newTestServer(t, &fakeFetcher{}, &fakeApplier{})
	resp, _ := postJSON(t, srv.URL+"/webhooks/products", `{"events": "nope"}`)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestStockAcceptsBareArrayAndEnvelope(t *testing.T) {
	apply := &fakeApplier{known: map[string]bool{guidA: true}}
	srv := newTestServer(t, &fakeFetcher{}, apply)

	resp, body := postJSON(t, srv.URL+"/webhooks/stock",
		fmt.Sprintf(`[{"assortmentId": %q, "stock": 4}]`, guidA))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.EqualValues(t, 1, body["updated"])
	require.Equal(t, 4, apply.stock[guidA])

	resp, body = postJSON(t, srv.URL+"/webhooks/stock",
		fmt.Sprintf(`{"rows": [{"assortment": {"meta": {"href": "https://ms.test/entity/assortment/%s"}}, "stock": 9}]}`, guidA))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.EqualValues(t, 1, body["updated"])
	require.Equal(t, 9, apply.stock[guidA])
}

func TestStockCountsUnknownVariantsAsMissing(t *testing.T) {
	apply := &fakeApplier{known: map[string]bool{}}
	srv := newTestServer(t, &fakeFetcher{}, apply)

	resp, body := postJSON(t, srv.URL+"/webhooks/stock",
		fmt.Sprintf(`[{"assortmentId": %q, "stock": 4}]`, guidA))

	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, true, body["success"])
	require.EqualValues(t, 0, body["updated"])
	require.EqualValues(t, 1, body["missing"])
}

func TestBasicAuthGuardsEndpoints(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("hunter2"), bcrypt.MinCost)
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := NewHandler(logger, &fakeFetcher{}, &fakeApplier{})
	r := chi.NewRouter()
	r.Group(func(r chi.Router) {
		r.Use(BasicAuth("hooks", hash))
		r.Route("/webhooks", h.MountRoutes)
	})
	srv := httptest.NewServer(r)
	defer srv.Close()

	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/webhooks/products", strings.NewReader(`{"events":[]}`))
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req, _ = http.NewRequest(http.MethodPost, srv.URL+"/webhooks/products", strings.NewReader(`{"events":[]}`))
	req.SetBasicAuth("hooks", "hunter2")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}
