package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type pinger struct{ err error }

func (p pinger) Ping(context.Context) error { return p.err }

var testNow = time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)

// scrape renders reg in the text exposition format.
func scrape(t *testing.T, reg *prometheus.Registry) string {
	t.Helper()
	rec := httptest.NewRecorder()
	promhttp.HandlerFor(reg, promhttp.HandlerOpts{}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	return rec.Body.String()
}

func TestNewMetrics_RegistersOnFreshRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.ObserveFill("BUY", 0.08, 1.5)
	m.ObserveFill("BUY", 0.02, 1.0)
	m.CacheLookup(true)
	m.CacheLookup(false)
	m.CacheLookup(false)
	m.SetBreakerState(1)
	m.SetBreakerState(0)

	out := scrape(t, reg)
	for _, want := range []string{
		`engine_fills_total{side="BUY"} 2`,
		`engine_commission_dollars_total 2.5`,
		`engine_price_cache_lookups_total{result="miss"} 2`,
		`engine_price_cache_lookups_total{result="hit"} 1`,
		`engine_redis_circuit_breaker_trips_total 1`,
		`engine_redis_circuit_breaker_state 0`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q", want)
		}
	}

	// a second engine in the same process gets its own registry
	NewMetrics(prometheus.NewRegistry())
}

func TestHealth_Statuses(t *testing.T) {
	tests := []struct {
		name     string
		redis    Pinger
		sqlite   error
		want     string
		wantCode int
	}{
		{"healthy without redis", nil, nil, "healthy", http.StatusOK},
		{"healthy with redis", pinger{}, nil, "healthy", http.StatusOK},
		{"redis down degrades", pinger{errors.New("down")}, nil, "degraded", http.StatusOK},
		{"sqlite down", nil, errors.New("locked"), "unhealthy", http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHealthStatus(func() time.Time { return testNow })
			ctx := context.Background()
			if tt.redis != nil {
				h.CheckRedis(ctx, tt.redis)
			}
			h.CheckSQLite(ctx, pinger{tt.sqlite})

			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
			if rec.Code != tt.wantCode {
				t.Errorf("code = %d, want %d", rec.Code, tt.wantCode)
			}
			var resp healthResponse
			if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
				t.Fatal(err)
			}
			if resp.Status != tt.want {
				t.Errorf("status = %q, want %q", resp.Status, tt.want)
			}
		})
	}
}

func TestServer_Routes(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	m.HarvestsTotal.Inc()
	h := NewHealthStatus(nil)
	h.CheckSQLite(context.Background(), pinger{})

	srv := httptest.NewServer(NewServer(":0", reg, h, nil).Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(body), "engine_harvests_total 1") {
		t.Errorf("metrics output missing harvest counter")
	}

	hr, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	hr.Body.Close()
	if hr.StatusCode != http.StatusOK {
		t.Errorf("healthz = %d", hr.StatusCode)
	}
}
