package ws

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"trading-engine/internal/model"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
)

var testNow = time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)

func clock() time.Time { return testNow }

func TestNew_RejectsBadScheme(t *testing.T) {
	if _, err := New(Config{URL: "http://example.com"}, nil, nil); err == nil {
		t.Error("http URL accepted")
	}
}

func TestParseQuote(t *testing.T) {
	tests := []struct {
		name    string
		msg     string
		want    string
		wantErr bool
	}{
		{"string price", `{"symbol":"aapl","price":"150.25"}`, "150.25", false},
		{"number price", `{"symbol":"MSFT","price":300.5,"ts":"2026-03-02T15:00:00Z"}`, "300.5", false},
		{"missing symbol", `{"price":"1"}`, "", true},
		{"zero price", `{"symbol":"X","price":"0"}`, "", true},
		{"garbage", `not json`, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, err := parseQuote([]byte(tt.msg))
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && !q.Price.Equal(decimal.RequireFromString(tt.want)) {
				t.Errorf("price = %s, want %s", q.Price, tt.want)
			}
		})
	}
}

func TestGetMarketPrice_Staleness(t *testing.T) {
	f, err := New(Config{URL: "ws://localhost/q", MaxAge: time.Minute}, clock, nil)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	if _, err := f.GetMarketPrice(ctx, "AAPL"); !errors.Is(err, model.ErrPriceUnavailable) {
		t.Errorf("unknown symbol err = %v", err)
	}

	f.Update(Quote{Symbol: "AAPL", Price: decimal.NewFromInt(150), TS: testNow.Add(-30 * time.Second)})
	p, err := f.GetMarketPrice(ctx, "aapl")
	if err != nil || !p.Equal(decimal.NewFromInt(150)) {
		t.Errorf("fresh quote = %s, %v", p, err)
	}

	f.Update(Quote{Symbol: "MSFT", Price: decimal.NewFromInt(300), TS: testNow.Add(-2 * time.Minute)})
	if _, err := f.GetMarketPrice(ctx, "MSFT"); !errors.Is(err, model.ErrPriceUnavailable) {
		t.Errorf("stale quote err = %v", err)
	}
}

func TestUpdate_IgnoresOlderQuote(t *testing.T) {
	f, _ := New(Config{URL: "ws://localhost/q"}, clock, nil)
	f.Update(Quote{Symbol: "AAPL", Price: decimal.NewFromInt(151), TS: testNow})
	f.Update(Quote{Symbol: "AAPL", Price: decimal.NewFromInt(140), TS: testNow.Add(-time.Second)})
	if q, _ := f.Latest("AAPL"); !q.Price.Equal(decimal.NewFromInt(151)) {
		t.Errorf("price = %s, want 151", q.Price)
	}
}

func TestRun_StreamsQuotes(t *testing.T) {
	upgrader := websocket.Upgrader{}
	subscribed := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		var sub subscribeMsg
		if err := conn.ReadJSON(&sub); err == nil {
			subscribed <- strings.Join(sub.Symbols, ",")
		}
		conn.WriteMessage(websocket.TextMessage, []byte(`{"symbol":"AAPL","price":"150.5"}`))
		conn.WriteMessage(websocket.TextMessage, []byte(`bogus`))
		conn.WriteMessage(websocket.TextMessage, []byte(`{"symbol":"MSFT","price":"301"}`))
		// hold the connection until the client goes away
		conn.ReadMessage()
	}))
	defer srv.Close()

	f, err := New(Config{URL: "ws" + strings.TrimPrefix(srv.URL, "http"), Symbols: []string{"AAPL", "MSFT"}}, clock, nil)
	if err != nil {
		t.Fatal(err)
	}
	got := make(chan Quote, 4)
	f.OnQuote = func(q Quote) { got <- q }

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.Run(ctx) }()

	select {
	case s := <-subscribed:
		if s != "AAPL,MSFT" {
			t.Errorf("subscribed %q", s)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no subscribe message")
	}
	for i := 0; i < 2; i++ {
		select {
		case <-got:
		case <-time.After(5 * time.Second):
			t.Fatalf("received %d quotes, want 2", i)
		}
	}

	p, err := f.GetMarketPrice(context.Background(), "MSFT")
	if err != nil || !p.Equal(decimal.NewFromInt(301)) {
		t.Errorf("MSFT = %s, %v", p, err)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop")
	}
}
