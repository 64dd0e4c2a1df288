package google

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"

	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"

	"fleetledger/internal/core"
	"fleetledger/internal/export"
)

// fakeSheet serves the two Values endpoints the exporter uses.
type fakeSheet struct {
	mu      sync.Mutex
	rows    [][]any
	gets    int
	updates int
}

func (f *fakeSheet) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	i := strings.Index(r.URL.Path, "/values/")
	if i < 0 {
		http.NotFound(w, r)
		return
	}
	rng := r.URL.Path[i+len("/values/"):]

	switch r.Method {
	case http.MethodGet:
		f.gets++
		col := make([][]any, 0, len(f.rows))
		for _, row := range f.rows {
			col = append(col, row[:1])
		}
		json.NewEncoder(w).Encode(map[string]any{"range": rng, "values": col})
	case http.MethodPut:
		f.updates++
		var body struct {
			Values [][]any `json:"values"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		start, err := strconv.Atoi(rng[strings.LastIndex(rng, "A")+1:])
		if err != nil {
			http.Error(w, "bad range "+rng, http.StatusBadRequest)
			return
		}
		for len(f.rows) < start-1+len(body.Values) {
			f.rows = append(f.rows, nil)
		}
		for j, v := range body.Values {
			f.rows[start-1+j] = v
		}
		json.NewEncoder(w).Encode(map[string]any{"updatedRange": rng, "updatedRows": len(body.Values)})
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func newTestClient(t *testing.T, f *fakeSheet) *Client {
	t.Helper()
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)
	svc, err := gsheet.NewService(context.Background(),
		goption.WithEndpoint(srv.URL+"/"),
		goption.WithHTTPClient(srv.Client()),
		goption.WithoutAuthentication())
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return NewWithService(svc, "sheet-1", "")
}

func row(id string) export.SettlementRow {
	uzs := core.NewMoney(800_000, core.UZS)
	return export.SettlementRow{
		TripID: id, DriverID: "d1", FlightType: core.Domestic, Currency: core.UZS,
		TotalIncome: uzs, LightExpenses: uzs, HeavyExpenses: uzs, NetProfit: uzs,
		DriverProfit: uzs, DriverOwes: uzs, BusinessNet: uzs,
	}
}

func TestNew_MissingSpreadsheetID(t *testing.T) {
	_, err := New(context.Background(), Config{})
	if err == nil || err.Error() != "missing GOOGLE_SPREADSHEET_ID" {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestNew_MissingCredentials(t *testing.T) {
	t.Setenv("GOOGLE_APPLICATION_CREDENTIALS", "")
	_, err := New(context.Background(), Config{SpreadsheetID: "id"})
	if err == nil || !strings.Contains(err.Error(), "missing service account credentials") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestClient_AppendSettlement(t *testing.T) {
	f := &fakeSheet{}
	c := newTestClient(t, f)
	ctx := context.Background()

	ref, err := c.AppendSettlement(ctx, row("t1"))
	if err != nil {
		t.Fatalf("AppendSettlement: %v", err)
	}
	if ref != "Settlements!A2:P2" {
		t.Errorf("ref = %s", ref)
	}
	if len(f.rows) != 2 || f.rows[0][0] != "Trip ID" || f.rows[1][0] != "t1" {
		t.Fatalf("sheet = %v", f.rows)
	}

	ref, err = c.AppendSettlement(ctx, row("t2"))
	if err != nil {
		t.Fatal(err)
	}
	if ref != "Settlements!A3:P3" {
		t.Errorf("ref = %s", ref)
	}

	// A redelivered completion is not written twice.
	ref, err = c.AppendSettlement(ctx, row("t1"))
	if err != nil {
		t.Fatal(err)
	}
	if ref != "Settlements!A2:P2" || len(f.rows) != 3 || f.updates != 2 {
		t.Errorf("duplicate export: ref %s rows %d updates %d", ref, len(f.rows), f.updates)
	}
	if f.gets != 1 {
		t.Errorf("expected the trip index to be cached, got %d reads", f.gets)
	}
}

func TestClient_AppendSettlement_ReadsExistingSheet(t *testing.T) {
	f := &fakeSheet{rows: [][]any{{"Trip ID"}, {"old"}}}
	c := newTestClient(t, f)

	ref, err := c.AppendSettlement(context.Background(), row("old"))
	if err != nil {
		t.Fatal(err)
	}
	if ref != "Settlements!A2:P2" || f.updates != 0 {
		t.Errorf("ref %s updates %d", ref, f.updates)
	}
}

func TestClient_NilService(t *testing.T) {
	c := &Client{sheetName: "Settlements"}
	if _, err := c.AppendSettlement(context.Background(), row("t1")); err == nil {
		t.Error("expected error with nil service")
	}
}
