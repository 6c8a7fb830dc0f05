package api

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/thecyberginehost/moonforge/internal/achievement"
	"github.com/thecyberginehost/moonforge/internal/curve"
	"github.com/thecyberginehost/moonforge/internal/events"
	"github.com/thecyberginehost/moonforge/internal/fee"
	"github.com/thecyberginehost/moonforge/internal/graduation"
	"github.com/thecyberginehost/moonforge/internal/settlement"
	"github.com/thecyberginehost/moonforge/internal/storage"
	"github.com/thecyberginehost/moonforge/internal/storage/memory"
	"github.com/thecyberginehost/moonforge/internal/types"
	"github.com/thecyberginehost/moonforge/internal/utils/logger"
	"github.com/thecyberginehost/moonforge/internal/utils/metrics"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fixture struct {
	engine  *settlement.Engine
	bus     *events.Bus
	server  *Server
	router  *gin.Engine
	metrics *metrics.Collector
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	log := zaptest.NewLogger(t)
	store := memory.New()
	bus := events.NewBus(log, 64)
	collector := metrics.NewCollector()
	cache := achievement.NewCache(store, time.Minute, types.BpsDenominator, log)

	engine, err := settlement.New(store, fee.DefaultSchedule(), graduation.DefaultPolicy(), settlement.DefaultConfig(), log,
		settlement.WithEvents(bus),
		settlement.WithMetrics(collector),
		settlement.WithDiscounts(cache))
	require.NoError(t, err)

	srv := NewServer(engine, logger.Wrap(log), WithEvents(bus), WithMetrics(collector))
	t.Cleanup(func() {
		srv.CloseStreams()
		require.NoError(t, engine.Close(context.Background()))
		require.NoError(t, bus.Shutdown(context.Background()))
	})
	return &fixture{engine: engine, bus: bus, server: srv, router: srv.Router(), metrics: collector}
}

func (f *fixture) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func (f *fixture) createToken(t *testing.T, body map[string]interface{}) *curve.ReserveState {
	t.Helper()
	w := f.do(t, http.MethodPost, "/api/tokens", body)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	return decode[*curve.ReserveState](t, w)
}

func TestHealthz(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestTokenLifecycle(t *testing.T) {
	f := newFixture(t)
	state := f.createToken(t, map[string]interface{}{"tokenId": "moon"})
	assert.Equal(t, "moon", state.TokenID)
	assert.True(t, state.IsActive)

	w := f.do(t, http.MethodPost, "/api/tokens", map[string]interface{}{"tokenId": "moon"})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = f.do(t, http.MethodPost, "/api/tokens/moon/quote", map[string]interface{}{"tradeType": "buy", "amount": 1_000_000_000})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	q := decode[settlement.TradeResult](t, w)
	assert.Equal(t, uint64(34_009_618_488_154), q.TokenAmount)
	assert.False(t, q.Success)

	w = f.do(t, http.MethodPost, "/api/tokens/moon/trades", map[string]interface{}{
		"tradeType": "buy",
		"amount":    1_000_000_000,
		"minOutput": q.TokenAmount,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	res := decode[settlement.TradeResult](t, w)
	assert.True(t, res.Success)
	assert.Equal(t, uint64(18_000_000), res.TotalFee)
	assert.Equal(t, uint64(1), res.Version)

	w = f.do(t, http.MethodPost, "/api/tokens/moon/trades", map[string]interface{}{
		"tradeType":            "sell",
		"amount":               res.TokenAmount / 2,
		"slippageToleranceBps": 500,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = f.do(t, http.MethodGet, "/api/tokens/moon", nil)
	require.Equal(t, http.StatusOK, w.Code)
	snap := decode[curve.ReserveState](t, w)
	assert.Equal(t, uint64(2), snap.Version)
	assert.Equal(t, uint64(2), snap.TradeCount)

	w = f.do(t, http.MethodGet, "/api/tokens/moon/ledger?limit=1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	page := decode[struct {
		Entries []struct {
			Version uint64 `json:"version"`
		} `json:"entries"`
	}](t, w)
	require.Len(t, page.Entries, 1)
	assert.Equal(t, uint64(1), page.Entries[0].Version)

	w = f.do(t, http.MethodGet, "/api/tokens/moon/reconcile", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, decode[struct {
		Consistent bool `json:"consistent"`
	}](t, w).Consistent, w.Body.String())

	w = f.do(t, http.MethodGet, "/api/tokens", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"tokenId":"moon"`)
}

func TestTrade_Errors(t *testing.T) {
	f := newFixture(t)
	f.createToken(t, map[string]interface{}{"tokenId": "moon"})

	tests := []struct {
		name   string
		path   string
		body   interface{}
		status int
		kind   string
	}{
		{"unknown token", "/api/tokens/nope/trades",
			map[string]interface{}{"tradeType": "buy", "amount": 1000, "minOutput": 0}, http.StatusNotFound, "token_not_found"},
		{"missing slippage", "/api/tokens/moon/trades",
			map[string]interface{}{"tradeType": "buy", "amount": 1000}, http.StatusBadRequest, "invalid_amount"},
		{"both slippage forms", "/api/tokens/moon/trades",
			map[string]interface{}{"tradeType": "buy", "amount": 1000, "minOutput": 1, "slippageToleranceBps": 1},
			http.StatusBadRequest, "invalid_amount"},
		{"bad trade type", "/api/tokens/moon/trades",
			map[string]interface{}{"tradeType": "swap", "amount": 1000, "minOutput": 0}, http.StatusBadRequest, "invalid_amount"},
		{"zero amount", "/api/tokens/moon/trades",
			map[string]interface{}{"tradeType": "buy", "amount": 0, "minOutput": 0}, http.StatusBadRequest, "invalid_amount"},
		{"sell without inventory", "/api/tokens/moon/trades",
			map[string]interface{}{"tradeType": "sell", "amount": 1000, "minOutput": 0}, http.StatusUnprocessableEntity, "insufficient_liquidity"},
		{"slippage", "/api/tokens/moon/trades",
			map[string]interface{}{"tradeType": "buy", "amount": 1_000_000_000, "minOutput": 40_000_000_000_000},
			http.StatusUnprocessableEntity, "slippage_exceeded"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := f.do(t, http.MethodPost, tt.path, tt.body)
			require.Equal(t, tt.status, w.Code, w.Body.String())
			resp := decode[errorResponse](t, w)
			assert.Equal(t, tt.kind, resp.Error)
			assert.NotEmpty(t, resp.Message)
		})
	}

	w := f.do(t, http.MethodPost, "/api/tokens/moon/trades",
		map[string]interface{}{"tradeType": "buy", "amount": 1_000_000_000, "minOutput": 40_000_000_000_000})
	resp := decode[errorResponse](t, w)
	assert.Equal(t, "price impact too high, increase slippage tolerance or reduce size", resp.Message)
	assert.Equal(t, uint64(40_000_000_000_000), resp.Expected)
	assert.Equal(t, uint64(34_009_618_488_154), resp.Actual)
	require.NotNil(t, resp.Reserves)
	assert.Equal(t, uint64(30_000_000_000), resp.Reserves.VirtualSolReserves)

	w = f.do(t, http.MethodGet, "/api/tokens/moon", nil)
	assert.Equal(t, uint64(0), decode[curve.ReserveState](t, w).Version)
}

func TestTrade_AfterGraduation(t *testing.T) {
	f := newFixture(t)
	f.createToken(t, map[string]interface{}{
		"tokenId": "moon",
		"params":  map[string]interface{}{"curveTokenReserves": 1_000_000_000_000_000},
	})

	for _, amount := range []uint64{86_547_861_507, 519_348_268} {
		w := f.do(t, http.MethodPost, "/api/tokens/moon/trades",
			map[string]interface{}{"tradeType": "buy", "amount": amount, "minOutput": 0})
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	}

	w := f.do(t, http.MethodPost, "/api/tokens/moon/trades",
		map[string]interface{}{"tradeType": "buy", "amount": 1_000_000, "minOutput": 0})
	require.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "token_not_tradable", decode[errorResponse](t, w).Error)
}

func TestUpdateDiscount(t *testing.T) {
	f := newFixture(t)
	f.createToken(t, map[string]interface{}{"tokenId": "moon"})

	w := f.do(t, http.MethodPut, "/api/tokens/moon/discount", map[string]interface{}{"discountBps": 80})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.JSONEq(t, `{"tokenId":"moon","discountBps":80,"appliedDiscountBps":50}`, w.Body.String())

	w = f.do(t, http.MethodPost, "/api/tokens/moon/quote", map[string]interface{}{"tradeType": "buy", "amount": 1_000_000_000})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, uint32(130), decode[settlement.TradeResult](t, w).EffectiveFeeBps)

	w = f.do(t, http.MethodPut, "/api/tokens/moon/discount", map[string]interface{}{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPagination(t *testing.T) {
	f := newFixture(t)
	f.createToken(t, map[string]interface{}{"tokenId": "moon"})

	for _, q := range []string{"limit=0", "limit=abc", "offset=-1"} {
		w := f.do(t, http.MethodGet, "/api/tokens/moon/ledger?"+q, nil)
		assert.Equal(t, http.StatusBadRequest, w.Code, q)
	}
}

func TestExportLedger(t *testing.T) {
	f := newFixture(t)
	f.createToken(t, map[string]interface{}{"tokenId": "moon"})

	for i := 0; i < 2; i++ {
		w := f.do(t, http.MethodPost, "/api/tokens/moon/trades", map[string]interface{}{
			"tradeType": "buy",
			"amount":    1_000_000_000,
			"minOutput": 1,
		})
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	}

	w := f.do(t, http.MethodGet, "/api/tokens/moon/export", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "text/csv", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), "ledger_all_moon_")
	records, err := csv.NewReader(strings.NewReader(w.Body.String())).ReadAll()
	require.NoError(t, err)
	assert.Len(t, records, 3)

	w = f.do(t, http.MethodGet, "/api/tokens/moon/export?format=json&type=sell", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 0, decode[struct {
		EntryCount int `json:"entry_count"`
	}](t, w).EntryCount)

	for _, q := range []string{"format=xml", "type=swap", "from=yesterday"} {
		w := f.do(t, http.MethodGet, "/api/tokens/moon/export?"+q, nil)
		assert.Equal(t, http.StatusBadRequest, w.Code, q)
	}

	w = f.do(t, http.MethodGet, "/api/tokens/nope/export", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t)
	f.createToken(t, map[string]interface{}{"tokenId": "moon"})
	f.do(t, http.MethodPost, "/api/tokens/moon/trades",
		map[string]interface{}{"tradeType": "buy", "amount": 1_000_000, "minOutput": 0})

	w := f.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `moonforge_trades_total{outcome="success",type="buy"} 1`)
}

func TestWriteError_Mapping(t *testing.T) {
	srv := NewServer(nil, logger.Wrap(zaptest.NewLogger(t)))

	tests := []struct {
		err    error
		status int
	}{
		{types.NewTradeError(types.KindContention, "busy"), http.StatusConflict},
		{types.NewTradeError(types.KindPersistenceFailure, "down"), http.StatusServiceUnavailable},
		{types.NewTradeError(types.KindTokenNotTradable, "graduated"), http.StatusConflict},
		{settlement.ErrEngineClosed, http.StatusServiceUnavailable},
		{storage.ErrDuplicateKey, http.StatusConflict},
		{context.Canceled, http.StatusRequestTimeout},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		w := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(w)
		srv.writeError(c, tt.err)
		assert.Equal(t, tt.status, w.Code, tt.err.Error())
	}
}

func TestStream_PushesSettledTrades(t *testing.T) {
	f := newFixture(t)
	f.createToken(t, map[string]interface{}{"tokenId": "moon"})
	f.createToken(t, map[string]interface{}{"tokenId": "other"})

	ts := httptest.NewServer(f.router)
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/tokens/moon/stream"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	// The subscription is registered before the handler starts writing.
	require.Eventually(t, func() bool {
		f.server.streams.mu.Lock()
		defer f.server.streams.mu.Unlock()
		return len(f.server.streams.clients) == 1
	}, 5*time.Second, 5*time.Millisecond)

	ctx := context.Background()
	buy := settlement.TradeRequest{TradeType: types.TradeBuy, Amount: 1_000_000_000, Slippage: types.MinOutputSlippage(0)}

	buy.TokenID = "other"
	_, err = f.engine.Settle(ctx, buy)
	require.NoError(t, err)
	buy.TokenID = "moon"
	res, err := f.engine.Settle(ctx, buy)
	require.NoError(t, err)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var msg struct {
		Type string `json:"type"`
		Data struct {
			Entry struct {
				ID      string `json:"id"`
				TokenID string `json:"tokenId"`
			} `json:"entry"`
		} `json:"data"`
	}
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, string(events.TradeSettled), msg.Type)
	assert.Equal(t, "moon", msg.Data.Entry.TokenID)
	assert.Equal(t, res.LedgerEntryID, msg.Data.Entry.ID)
}

func TestStream_UnknownToken(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, http.MethodGet, "/api/tokens/nope/stream", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
