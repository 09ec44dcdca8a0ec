package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"agrisense/chain"
	"agrisense/db"
	"agrisense/handlers"
	"agrisense/logger"
	"agrisense/models"
	"agrisense/modelsync"
	"agrisense/repository"
	"agrisense/routers"
)

const (
	gateway   = "https://gw.test/ipfs/"
	sampleCID = "bafkreigh2akiscaildcqabsyg3dfr6chu3fgpregiymsck7e7aqa4s52zy"
)

type mockChain struct {
	mu      sync.Mutex
	head    uint64
	events  []chain.ModelEvent
	records map[models.ModelID]models.ModelRecord
}

func newMockChain() *mockChain {
	return &mockChain{head: 100, records: make(map[models.ModelID]models.ModelRecord)}
}

func (m *mockChain) register(t *testing.T, name string, block uint64, category string) models.ModelID {
	t.Helper()
	id, err := models.EncodeModelName(name)
	if err != nil {
		t.Fatalf("encode %q: %v", name, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, chain.ModelEvent{ID: id, Block: block})
	m.records[id] = models.ModelRecord{
		ID:       id,
		Provider: "0x00000000000000000000000000000000000000aa",
		CID:      sampleCID,
		Price:    "1000",
		Active:   true,
		Category: models.Category(category),
	}
	return id
}

func (m *mockChain) BlockNumber(ctx context.Context) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.head, nil
}

func (m *mockChain) FilterModelRegistered(ctx context.Context, from, to uint64) ([]chain.ModelEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []chain.ModelEvent
	for _, ev := range m.events {
		if ev.Block >= from && ev.Block <= to {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (m *mockChain) GetModel(ctx context.Context, id models.ModelID) (*models.ModelRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return nil, chain.ErrModelNotFound
	}
	rec.Normalize()
	return &rec, nil
}

type mockPredictions struct {
	byModel map[models.ModelID][]models.Prediction
}

func (m *mockPredictions) PredictionsForModel(ctx context.Context, id models.ModelID) ([]models.Prediction, error) {
	return m.byModel[id], nil
}

type panicEngine struct{}

func (panicEngine) FetchModels(ctx context.Context, force bool) []models.ModelRecord {
	panic("boom")
}

func (panicEngine) AddLocalModel(rec models.ModelRecord) error { return nil }
func (panicEngine) Models() []models.ModelRecord              { return nil }
func (panicEngine) Status() models.SyncStatus                 { return models.SyncStatus{} }

func testServer(t *testing.T) (*mux.Router, *handlers.Handler, *mockChain) {
	t.Helper()
	logger.Logger = zap.NewNop()

	ldb, err := db.NewMemLevelDB()
	if err != nil {
		t.Fatalf("open leveldb: %v", err)
	}
	t.Cleanup(func() { ldb.Close() })

	fake := newMockChain()
	cfg := modelsync.DefaultConfig()
	cfg.BatchDelay = 0
	engine := modelsync.NewEngine(fake, "mock://chain", repository.NewModelRepository(ldb), cfg)

	handler := handlers.NewHandler(engine, gateway)
	router := mux.NewRouter()
	routers.RegisterRoutes(router, handler)
	return router, handler, fake
}

func serve(router *mux.Router, method, path string, body []byte) *httptest.ResponseRecorder {
	var req *http.Request
	if body != nil {
		req = httptest.NewRequest(method, path, bytes.NewReader(body))
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	res := httptest.NewRecorder()
	router.ServeHTTP(res, req)
	return res
}

func decodeViews(t *testing.T, res *httptest.ResponseRecorder) []handlers.ModelView {
	t.Helper()
	var views []handlers.ModelView
	if err := json.Unmarshal(res.Body.Bytes(), &views); err != nil {
		t.Fatalf("Invalid JSON response: %v, body: %s", err, res.Body.String())
	}
	return views
}

func TestListModels_Empty(t *testing.T) {
	router, _, _ := testServer(t)

	res := serve(router, http.MethodGet, "/models", nil)
	if res.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", res.Code)
	}
	if strings.TrimSpace(res.Body.String()) != "[]" {
		t.Fatalf("expected empty list, got %s", res.Body.String())
	}
}

func TestSyncModels_MergesIntoCollection(t *testing.T) {
	router, _, fake := testServer(t)
	soil := fake.register(t, "Soil Scan", 10, "soil")
	yield := fake.register(t, "Maize Yield", 20, "yield")

	res := serve(router, http.MethodPost, "/models/sync", nil)
	if res.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d, body: %s", res.Code, res.Body.String())
	}
	if got := decodeViews(t, res); len(got) != 2 {
		t.Fatalf("expected 2 synced models, got %d", len(got))
	}

	list := decodeViews(t, serve(router, http.MethodGet, "/models", nil))
	if len(list) != 2 || list[0].ID != soil || list[1].ID != yield {
		t.Fatalf("unexpected collection: %+v", list)
	}
	if list[0].Name != "Soil Scan" {
		t.Fatalf("expected decoded name, got %q", list[0].Name)
	}
	if list[0].CategoryLabel != "Soil Health" {
		t.Fatalf("expected category label, got %q", list[0].CategoryLabel)
	}
	if list[0].ImageURL != gateway+sampleCID {
		t.Fatalf("expected gateway url, got %q", list[0].ImageURL)
	}

	// Nothing new on chain: a second scan returns an empty list, not null.
	res = serve(router, http.MethodPost, "/models/sync", nil)
	if strings.TrimSpace(res.Body.String()) != "[]" {
		t.Fatalf("expected empty second scan, got %s", res.Body.String())
	}
}

func TestSyncModels_Forced(t *testing.T) {
	router, _, fake := testServer(t)
	fake.register(t, "Pest Watch", 90, "pest")

	res := serve(router, http.MethodPost, "/models/sync?force=true", nil)
	if res.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", res.Code)
	}
	if got := decodeViews(t, res); len(got) != 1 || got[0].Name != "Pest Watch" {
		t.Fatalf("unexpected forced scan result: %+v", got)
	}
}

func TestSyncModels_RecoversPanic(t *testing.T) {
	logger.Logger = zap.NewNop()
	handler := handlers.NewHandler(panicEngine{}, gateway)
	router := mux.NewRouter()
	routers.RegisterRoutes(router, handler)

	res := serve(router, http.MethodPost, "/models/sync", nil)
	if res.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", res.Code)
	}
	if strings.TrimSpace(res.Body.String()) != "[]" {
		t.Fatalf("expected empty list, got %s", res.Body.String())
	}
}

func TestAddLocalModel_Success(t *testing.T) {
	router, _, fake := testServer(t)
	fake.register(t, "Soil Scan", 10, "soil")
	serve(router, http.MethodPost, "/models/sync", nil)

	body, _ := json.Marshal(map[string]interface{}{
		"name":     "Maize Yield",
		"cid":      "ipfs://" + sampleCID,
		"price":    "0.5",
		"category": "Yield",
		"active":   true,
		"tx_hash":  "0xabc",
	})
	res := serve(router, http.MethodPost, "/models/local", body)
	if res.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d, body: %s", res.Code, res.Body.String())
	}

	list := decodeViews(t, serve(router, http.MethodGet, "/models", nil))
	if len(list) != 2 {
		t.Fatalf("expected 2 models, got %d", len(list))
	}
	front := list[0]
	if front.Name != "Maize Yield" {
		t.Fatalf("expected local model first, got %q", front.Name)
	}
	if front.Price != "500000000000000000" {
		t.Fatalf("expected price in wei, got %q", front.Price)
	}
	if front.Category != models.CategoryYield || front.CID != sampleCID || front.TxHash != "0xabc" {
		t.Fatalf("unexpected record: %+v", front.ModelRecord)
	}
}

func TestAddLocalModel_BadPayload(t *testing.T) {
	router, _, _ := testServer(t)

	res := serve(router, http.MethodPost, "/models/local", []byte("{not json"))
	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", res.Code)
	}

	res = serve(router, http.MethodPost, "/models/local", []byte(`{"price":"1"}`))
	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing id, got %d, body: %s", res.Code, res.Body.String())
	}

	res = serve(router, http.MethodPost, "/models/local", []byte(`{"name":"Rain","price":"-3"}`))
	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad price, got %d, body: %s", res.Code, res.Body.String())
	}
}

func TestGetModel_ByIDAndName(t *testing.T) {
	router, _, fake := testServer(t)
	id := fake.register(t, "Soil Scan", 10, "soil")
	serve(router, http.MethodPost, "/models/sync", nil)

	for _, path := range []string{"/models/" + string(id), "/models/Soil%20Scan"} {
		res := serve(router, http.MethodGet, path, nil)
		if res.Code != http.StatusOK {
			t.Fatalf("%s: expected status 200, got %d, body: %s", path, res.Code, res.Body.String())
		}
		var view handlers.ModelView
		if err := json.Unmarshal(res.Body.Bytes(), &view); err != nil {
			t.Fatalf("Invalid JSON response: %v", err)
		}
		if view.ID != id {
			t.Fatalf("%s: expected %s, got %s", path, id, view.ID)
		}
	}

	res := serve(router, http.MethodGet, "/models/Unknown", nil)
	if res.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", res.Code)
	}
}

func TestNameAvailable(t *testing.T) {
	router, handler, fake := testServer(t)
	fake.register(t, "Soil Scan", 10, "soil")

	res := serve(router, http.MethodGet, "/models/name/Soil%20Scan/available", nil)
	if res.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 before chain is set, got %d", res.Code)
	}

	handler.SetChain(fake, &mockPredictions{})

	cases := map[string]bool{"Soil%20Scan": false, "Rain%20Gauge": true}
	for name, want := range cases {
		res := serve(router, http.MethodGet, "/models/name/"+name+"/available", nil)
		if res.Code != http.StatusOK {
			t.Fatalf("%s: expected status 200, got %d, body: %s", name, res.Code, res.Body.String())
		}
		var out map[string]interface{}
		if err := json.Unmarshal(res.Body.Bytes(), &out); err != nil {
			t.Fatalf("Invalid JSON response: %v", err)
		}
		if out["available"] != want {
			t.Fatalf("%s: expected available=%v, got %v", name, want, out["available"])
		}
	}

	long := strings.Repeat("x", 32)
	res = serve(router, http.MethodGet, "/models/name/"+long+"/available", nil)
	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for long name, got %d", res.Code)
	}
}

func TestGetPredictions(t *testing.T) {
	router, handler, fake := testServer(t)
	id := fake.register(t, "Soil Scan", 10, "soil")

	handler.SetChain(fake, &mockPredictions{byModel: map[models.ModelID][]models.Prediction{
		id: {{ID: "1", ModelID: id, CID: sampleCID, Block: 42, TokenID: "7"}},
	}})

	res := serve(router, http.MethodGet, "/models/"+string(id)+"/predictions", nil)
	if res.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d, body: %s", res.Code, res.Body.String())
	}
	var list []models.Prediction
	if err := json.Unmarshal(res.Body.Bytes(), &list); err != nil {
		t.Fatalf("Invalid JSON response: %v", err)
	}
	if len(list) != 1 || list[0].TokenID != "7" {
		t.Fatalf("unexpected predictions: %+v", list)
	}

	res = serve(router, http.MethodGet, "/models/Rain/predictions", nil)
	if strings.TrimSpace(res.Body.String()) != "[]" {
		t.Fatalf("expected empty list, got %s", res.Body.String())
	}
}

func TestGetStatus(t *testing.T) {
	router, _, fake := testServer(t)
	fake.register(t, "Soil Scan", 10, "soil")
	serve(router, http.MethodPost, "/models/sync", nil)

	res := serve(router, http.MethodGet, "/status", nil)
	if res.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", res.Code)
	}
	var status models.SyncStatus
	if err := json.Unmarshal(res.Body.Bytes(), &status); err != nil {
		t.Fatalf("Invalid JSON response: %v", err)
	}
	if status.Models != 1 || status.Cursor != 101 || status.LatestBlock != 100 || !status.Online {
		t.Fatalf("unexpected status: %+v", status)
	}
	if status.LastScan == nil || status.LastScan.ScanID == "" {
		t.Fatalf("expected last scan checkpoint, got %+v", status.LastScan)
	}
	if status.RPCURL != "mock://chain" {
		t.Fatalf("unexpected rpc url %q", status.RPCURL)
	}
}
