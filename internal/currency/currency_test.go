package currency

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"fleetledger/internal/core"
)

func usdUzs(t *testing.T, v string) core.Rate {
	t.Helper()
	r, err := core.ParseRate(core.USD, core.UZS, v)
	if err != nil {
		t.Fatalf("ParseRate: %v", err)
	}
	return r
}

func TestConvert(t *testing.T) {
	rate := usdUzs(t, "12800")

	cases := []struct {
		name string
		in   core.Money
		to   core.Currency
		want core.Money
	}{
		{"quote to base", core.NewMoney(10_000_000, core.UZS), core.USD, core.NewMoney(781, core.USD)},
		{"base to quote", core.NewMoney(100, core.USD), core.UZS, core.NewMoney(1_280_000, core.UZS)},
		{"same currency", core.NewMoney(42, core.UZS), core.UZS, core.NewMoney(42, core.UZS)},
		{"rounds half away from zero", core.NewMoney(6400, core.UZS), core.USD, core.NewMoney(1, core.USD)},
		{"negative rounds away from zero", core.NewMoney(-6400, core.UZS), core.USD, core.NewMoney(-1, core.USD)},
		{"below half rounds to zero", core.NewMoney(6399, core.UZS), core.USD, core.NewMoney(0, core.USD)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Convert(tc.in, tc.to, rate)
			if err != nil {
				t.Fatalf("Convert: %v", err)
			}
			if got != tc.want {
				t.Fatalf("Convert(%v) = %v, want %v", tc.in, got, tc.want)
			}
		})
	}
}

func TestConvertRejectsUncoveredPair(t *testing.T) {
	_, err := Convert(core.NewMoney(100, core.EUR), core.USD, usdUzs(t, "12800"))
	if !core.IsConversion(err) {
		t.Fatalf("expected conversion error, got %v", err)
	}
	_, err = Convert(core.NewMoney(100, core.UZS), core.USD, core.Rate{})
	if !core.IsConversion(err) {
		t.Fatalf("expected conversion error for zero rate, got %v", err)
	}
}

func TestConvertRejectsAmountAboveMaximum(t *testing.T) {
	// 10^11 USD at 12,800 is far past the per-amount ceiling in UZS.
	_, err := Convert(core.NewMoney(10_000_000_000_000, core.USD), core.UZS, usdUzs(t, "12800"))
	if !core.IsConversion(err) {
		t.Fatalf("expected conversion error, got %v", err)
	}
}

func TestConvertAggregatesFrozenRate(t *testing.T) {
	a := core.Aggregates{
		TotalPayment:        core.NewMoney(12_800_000, core.UZS),
		TotalGivenBudget:    core.Zero(core.UZS),
		TotalIncome:         core.NewMoney(12_800_000, core.UZS),
		TotalExpenses:       core.Zero(core.UZS),
		LightExpenses:       core.Zero(core.UZS),
		HeavyExpenses:       core.Zero(core.UZS),
		NetProfit:           core.NewMoney(12_800_000, core.UZS),
		DriverProfitAmount:  core.NewMoney(2_560_000, core.UZS),
		DriverOwes:          core.NewMoney(10_240_000, core.UZS),
		BusinessNet:         core.NewMoney(10_240_000, core.UZS),
		DriverPaidAmount:    core.Zero(core.UZS),
		DriverRemainingDebt: core.NewMoney(10_240_000, core.UZS),
		DriverPaymentStatus: core.PaymentPending,
	}
	got, err := ConvertAggregates(a, core.USD, usdUzs(t, "12800"))
	if err != nil {
		t.Fatalf("ConvertAggregates: %v", err)
	}
	if got.NetProfit != core.NewMoney(1000, core.USD) {
		t.Errorf("netProfit USD = %v, want 10.00 USD", got.NetProfit)
	}
	if got.DriverOwes != core.NewMoney(800, core.USD) {
		t.Errorf("driverOwes USD = %v, want 8.00 USD", got.DriverOwes)
	}
	if got.DriverPaymentStatus != core.PaymentPending {
		t.Errorf("status = %s", got.DriverPaymentStatus)
	}
}

func TestParseStaticTable(t *testing.T) {
	table, err := ParseStaticTable([]string{"USD:UZS=12800", " EUR:UZS=13900.5 ", ""})
	if err != nil {
		t.Fatalf("ParseStaticTable: %v", err)
	}
	if table.Len() != 2 {
		t.Fatalf("Len = %d", table.Len())
	}

	r, err := table.Rate(context.Background(), core.UZS, core.USD)
	if err != nil {
		t.Fatalf("inverse lookup: %v", err)
	}
	if r.Base != core.USD || r.Source != "fallback" {
		t.Fatalf("rate = %+v", r)
	}
	if _, err := table.Rate(context.Background(), core.RUB, core.KZT); !errors.Is(err, core.ErrRateUnavailable) {
		t.Fatalf("expected ErrRateUnavailable, got %v", err)
	}

	for _, bad := range []string{"USDUZS=1", "USD:UZS", "XXX:UZS=1", "USD:UZS=abc"} {
		if _, err := ParseStaticTable([]string{bad}); err == nil {
			t.Errorf("ParseStaticTable(%q) expected error", bad)
		}
	}
}

type fakeSource struct {
	mu    sync.Mutex
	rate  core.Rate
	err   error
	calls int
}

func (f *fakeSource) Rate(_ context.Context, base, quote core.Currency) (core.Rate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return core.Rate{}, f.err
	}
	return f.rate, nil
}

type countingObserver struct {
	mu     sync.Mutex
	counts map[string]int
}

func (o *countingObserver) RateLookup(source string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.counts == nil {
		o.counts = map[string]int{}
	}
	o.counts[source]++
}

func TestResolverPreviewChain(t *testing.T) {
	ctx := context.Background()
	src := &fakeSource{rate: usdUzs(t, "12800")}
	obs := &countingObserver{}
	fallback := NewStaticTable(usdUzs(t, "12000"))
	r := NewResolver(src, fallback, ResolverConfig{}, obs)

	got, err := r.Preview(ctx, core.USD, core.UZS)
	if err != nil || got.Micros != 12_800_000_000 {
		t.Fatalf("first preview = %v, %v", got, err)
	}
	if _, err := r.Preview(ctx, core.USD, core.UZS); err != nil {
		t.Fatalf("cached preview: %v", err)
	}
	if src.calls != 1 {
		t.Fatalf("source calls = %d, want 1 (second lookup cached)", src.calls)
	}

	// Stale cache beats fallback when the source goes down.
	r.Cache().Delete(core.PairKey(core.USD, core.UZS))
	src.err = errors.New("upstream down")
	if _, err := r.Preview(ctx, core.USD, core.UZS); err != nil {
		t.Fatalf("fallback preview: %v", err)
	}
	got, _ = r.Preview(ctx, core.USD, core.UZS)
	if got.Micros != 12_000_000_000 || got.Source != SourceFallback {
		t.Fatalf("expected fallback rate, got %+v", got)
	}

	if _, err := r.Preview(ctx, core.EUR, core.RUB); !core.IsConversion(err) {
		t.Fatalf("expected conversion error, got %v", err)
	}
	if obs.counts[SourceCache] != 1 || obs.counts[SourceLive] != 1 || obs.counts[SourceFallback] != 2 || obs.counts[SourceMissing] != 1 {
		t.Fatalf("observer counts = %v", obs.counts)
	}
}

func TestResolverPreviewUsesStaleCache(t *testing.T) {
	ctx := context.Background()
	src := &fakeSource{rate: usdUzs(t, "12800")}
	r := NewResolver(src, nil, ResolverConfig{TTL: time.Minute}, nil)
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	r.Cache().WithClock(func() time.Time { return now })

	if _, err := r.Live(ctx, core.USD, core.UZS); err != nil {
		t.Fatalf("Live: %v", err)
	}
	now = now.Add(2 * time.Minute)
	src.err = errors.New("upstream down")

	got, err := r.Preview(ctx, core.USD, core.UZS)
	if err != nil {
		t.Fatalf("Preview: %v", err)
	}
	if got.Source != SourceStale || got.Micros != 12_800_000_000 {
		t.Fatalf("expected stale rate, got %+v", got)
	}
}

func TestResolverLiveNeverFallsBack(t *testing.T) {
	ctx := context.Background()
	fallback := NewStaticTable(usdUzs(t, "12000"))
	r := NewResolver(&fakeSource{err: errors.New("down")}, fallback, ResolverConfig{}, nil)

	_, err := r.Live(ctx, core.USD, core.UZS)
	if !core.IsConversion(err) {
		t.Fatalf("expected conversion error, got %v", err)
	}

	noSource := NewResolver(nil, fallback, ResolverConfig{}, nil)
	if _, err := noSource.Live(ctx, core.USD, core.UZS); !errors.Is(err, core.ErrRateUnavailable) {
		t.Fatalf("expected ErrRateUnavailable, got %v", err)
	}
}

func TestResolverRefresh(t *testing.T) {
	src := &fakeSource{rate: usdUzs(t, "12800")}
	r := NewResolver(src, nil, ResolverConfig{}, nil)
	n := r.Refresh(context.Background(), [][2]core.Currency{{core.USD, core.UZS}, {core.EUR, core.UZS}})
	if n != 2 {
		t.Fatalf("Refresh = %d, want 2", n)
	}
	if r.Cache().Size() != 2 {
		t.Fatalf("cache size = %d", r.Cache().Size())
	}
}

func TestHTTPSource(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("base") + "/" + r.URL.Query().Get("quote") {
		case "USD/UZS":
			_, _ = w.Write([]byte(`{"rate":"12800.50"}`))
		case "EUR/UZS":
			_, _ = w.Write([]byte(`{"rate":13900}`))
		default:
			http.Error(w, "unknown pair", http.StatusNotFound)
		}
	}))
	defer srv.Close()

	src := NewHTTPSource(srv.URL, srv.Client())
	ctx := context.Background()

	r, err := src.Rate(ctx, core.USD, core.UZS)
	if err != nil {
		t.Fatalf("USD/UZS: %v", err)
	}
	if r.Micros != 12_800_500_000 || r.Source != "live" || r.AsOf.IsZero() {
		t.Fatalf("rate = %+v", r)
	}

	r, err = src.Rate(ctx, core.EUR, core.UZS)
	if err != nil || r.Micros != 13_900_000_000 {
		t.Fatalf("EUR/UZS = %+v, %v", r, err)
	}

	if _, err := src.Rate(ctx, core.RUB, core.UZS); err == nil {
		t.Fatal("expected error for 404")
	}
}
