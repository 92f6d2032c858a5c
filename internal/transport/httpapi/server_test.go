package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"dcaengine/internal/backtest"
	"dcaengine/internal/decision"
	"dcaengine/internal/ledger"
	"dcaengine/internal/metrics"

	"github.com/gorilla/websocket"
)

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

type fakeStatus struct {
	st *backtest.SimulationState
	p  backtest.Progress
}

func (f *fakeStatus) LastProgress() (backtest.Progress, bool) { return f.p, f.st != nil }
func (f *fakeStatus) Snapshot() *backtest.SimulationState     { return f.st.Clone() }

type fakeDecisions struct{ d *decision.TradeDecision }

func (f fakeDecisions) Last() (decision.TradeDecision, bool) {
	if f.d == nil {
		return decision.TradeDecision{}, false
	}
	return *f.d, true
}

type failingLister struct{}

func (failingLister) ListTransactions(ctx context.Context, runID string, limit int) ([]ledger.Transaction, error) {
	return nil, errors.New("boom")
}

func running(t *testing.T) *fakeStatus {
	t.Helper()
	st := backtest.NewState("BTCUSDT", ledger.DefaultParams(), t0, t0.Add(time.Hour), time.Minute)
	for i, price := range []float64{100, 97, 94} {
		if _, err := st.Ledger.Buy(price, t0.Add(time.Duration(i)*time.Minute), "dip"); err != nil {
			t.Fatal(err)
		}
	}
	st.LastPrice = 94
	return &fakeStatus{st: st, p: backtest.Progress{RunID: st.RunID, Symbol: "BTCUSDT", Index: 2, Price: 94}}
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestStatusBeforeStart(t *testing.T) {
	h := NewServer(":0", &fakeStatus{}).Handler()
	if rec := get(t, h, "/healthz"); rec.Code != http.StatusOK {
		t.Fatalf("healthz = %d", rec.Code)
	}
	for _, path := range []string{"/api/status", "/api/report", "/api/transactions"} {
		if rec := get(t, h, path); rec.Code != http.StatusServiceUnavailable {
			t.Errorf("%s = %d, want 503", path, rec.Code)
		}
	}
	if rec := get(t, h, "/api/decision"); rec.Code != http.StatusNotFound {
		t.Errorf("decision without engine = %d", rec.Code)
	}
}

func TestStatusAndReport(t *testing.T) {
	src := running(t)
	h := NewServer(":0", src).Handler()

	rec := get(t, h, "/api/status")
	var p backtest.Progress
	if err := json.Unmarshal(rec.Body.Bytes(), &p); err != nil || p.Index != 2 || p.RunID != src.st.RunID {
		t.Fatalf("status = %s (%v)", rec.Body.String(), err)
	}

	rec = get(t, h, "/api/report")
	var summary map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &summary); err != nil {
		t.Fatal(err)
	}
	if summary["buys"].(float64) != 3 || summary["mark_price"].(float64) != 94 {
		t.Fatalf("report = %v", summary)
	}
}

func TestTransactionsFallbackAndLimit(t *testing.T) {
	h := NewServer(":0", running(t), WithTransactions(failingLister{})).Handler()
	rec := get(t, h, "/api/transactions?limit=2")
	var body struct {
		Transactions []ledger.Transaction `json:"transactions"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if len(body.Transactions) != 2 || body.Transactions[0].ID != 3 {
		t.Fatalf("transactions = %+v", body.Transactions)
	}
	if rec := get(t, h, "/api/transactions?limit=abc"); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad limit = %d", rec.Code)
	}
}

func TestDecisionEndpoint(t *testing.T) {
	d := decision.TradeDecision{Action: decision.ActionBuy, Confidence: 0.8, Time: t0}
	h := NewServer(":0", running(t), WithDecisions(fakeDecisions{d: &d})).Handler()
	rec := get(t, h, "/api/decision")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), string(decision.ActionBuy)) {
		t.Fatalf("decision = %d %s", rec.Code, rec.Body.String())
	}
	h = NewServer(":0", running(t), WithDecisions(fakeDecisions{})).Handler()
	if rec := get(t, h, "/api/decision"); rec.Code != http.StatusNotFound {
		t.Fatalf("empty decision = %d", rec.Code)
	}
}

func TestMetricsAndUI(t *testing.T) {
	m := metrics.New()
	m.OnProgress(backtest.Progress{RunID: "r", Index: 11})
	h := NewServer(":0", running(t), WithMetrics(m.Handler())).Handler()
	if rec := get(t, h, "/metrics"); !strings.Contains(rec.Body.String(), "dca_bar_index 11") {
		t.Fatalf("metrics body = %s", rec.Body.String())
	}
	if rec := get(t, h, "/ui/"); rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "app.js") {
		t.Fatalf("ui = %d", rec.Code)
	}
}

func TestWebsocketStream(t *testing.T) {
	hub := NewHub()
	go hub.Run()
	defer hub.Close()
	srv := httptest.NewServer(NewServer(":0", running(t), WithHub(hub)).Handler())
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	deadline := time.Now().Add(2 * time.Second)
	for hub.Clients() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if hub.Clients() != 1 {
		t.Fatalf("clients = %d", hub.Clients())
	}

	hub.OnProgress(backtest.Progress{RunID: "r", Index: 9, Done: true})
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var p backtest.Progress
	if err := conn.ReadJSON(&p); err != nil {
		t.Fatal(err)
	}
	if p.Index != 9 || !p.Done {
		t.Fatalf("progress = %+v", p)
	}
}
