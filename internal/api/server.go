// internal/api/server.go
package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/thecyberginehost/moonforge/internal/curve"
	"github.com/thecyberginehost/moonforge/internal/events"
	"github.com/thecyberginehost/moonforge/internal/export"
	"github.com/thecyberginehost/moonforge/internal/ledger"
	"github.com/thecyberginehost/moonforge/internal/settlement"
	"github.com/thecyberginehost/moonforge/internal/utils/logger"
	"github.com/thecyberginehost/moonforge/internal/utils/metrics"
)

// Engine is the settlement surface the HTTP layer needs.
type Engine interface {
	CreateToken(ctx context.Context, req settlement.CreateTokenRequest) (*curve.ReserveState, error)
	Snapshot(ctx context.Context, tokenID string) (*curve.ReserveState, error)
	ListTokens(ctx context.Context, limit, offset int) ([]*curve.ReserveState, error)
	Quote(ctx context.Context, req settlement.QuoteRequest) (*settlement.TradeResult, error)
	Settle(ctx context.Context, req settlement.TradeRequest) (*settlement.TradeResult, error)
	Ledger(ctx context.Context, tokenID string, limit, offset int) ([]ledger.Entry, error)
	Reconcile(ctx context.Context, tokenID string) (*ledger.Report, error)
	UpdateDiscount(ctx context.Context, tokenID string, discountBps uint32) (uint32, error)
}

// Subscriber delivers engine events to stream clients.
type Subscriber interface {
	SubscribeFunc(eventType events.EventType, fn func(context.Context, events.Event) error) events.Subscription
}

const (
	defaultPageSize = 100
	maxPageSize     = 1000
)

// Server exposes the engine over HTTP.
type Server struct {
	engine   Engine
	events   Subscriber
	metrics  metrics.Recorder
	handler  http.Handler
	log      *logger.Logger
	logger   *zap.Logger
	streams  *streamHub
	exporter *export.Exporter
}

// Option configures optional collaborators.
type Option func(*Server)

// WithEvents enables the websocket stream.
func WithEvents(s Subscriber) Option {
	return func(srv *Server) { srv.events = s }
}

// WithMetrics mounts the Prometheus handler on /metrics.
func WithMetrics(c *metrics.Collector) Option {
	return func(srv *Server) {
		srv.metrics = c
		srv.handler = c.Handler()
	}
}

// NewServer creates the HTTP API.
func NewServer(engine Engine, log *logger.Logger, opts ...Option) *Server {
	s := &Server{
		engine:  engine,
		metrics: metrics.Nop{},
		log:     log,
		logger:  log.WithComponent("api"),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.streams = newStreamHub(s.events, s.metrics, s.logger)
	s.exporter = export.NewExporter(s.logger)
	return s
}

// Router builds the gin engine with all routes.
func (s *Server) Router() *gin.Engine {
	router := gin.New()
	router.Use(s.accessLog(), s.recovery())

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if s.handler != nil {
		router.GET("/metrics", gin.WrapH(s.handler))
	}

	g := router.Group("/api/tokens")
	g.POST("", s.createToken)
	g.GET("", s.listTokens)
	g.GET("/:id", s.getToken)
	g.POST("/:id/quote", s.quote)
	g.POST("/:id/trades", s.trade)
	g.GET("/:id/ledger", s.ledger)
	g.GET("/:id/export", s.exportLedger)
	g.GET("/:id/reconcile", s.reconcile)
	g.PUT("/:id/discount", s.updateDiscount)
	g.GET("/:id/stream", s.stream)

	return router
}

// CloseStreams disconnects every websocket client.
func (s *Server) CloseStreams() {
	s.streams.closeAll()
}

func (s *Server) createToken(c *gin.Context) {
	var req settlement.CreateTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	state, err := s.engine.CreateToken(c.Request.Context(), req)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, state)
}

func (s *Server) listTokens(c *gin.Context) {
	limit, offset, ok := pagination(c)
	if !ok {
		return
	}
	tokens, err := s.engine.ListTokens(c.Request.Context(), limit, offset)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tokens": tokens, "limit": limit, "offset": offset})
}

func (s *Server) getToken(c *gin.Context) {
	state, err := s.engine.Snapshot(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, state)
}

func (s *Server) quote(c *gin.Context) {
	var body quoteBody
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, err)
		return
	}
	req, err := body.toRequest(c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	res, err := s.engine.Quote(c.Request.Context(), req)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) trade(c *gin.Context) {
	var body tradeBody
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, err)
		return
	}
	req, err := body.toRequest(c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	log := s.log.WithTrade(req.TokenID, req.TradeType, req.Amount, req.WalletAddress)
	log.Debug("Trade request", zap.String("slippage", string(req.Slippage.Type)))

	res, err := s.engine.Settle(c.Request.Context(), req)
	if err != nil {
		log.Debug("Trade request failed", zap.Error(err))
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) ledger(c *gin.Context) {
	limit, offset, ok := pagination(c)
	if !ok {
		return
	}
	entries, err := s.engine.Ledger(c.Request.Context(), c.Param("id"), limit, offset)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries, "limit": limit, "offset": offset})
}

func (s *Server) exportLedger(c *gin.Context) {
	opts, ok := exportOptions(c)
	if !ok {
		return
	}
	tokenID := c.Param("id")
	entries, err := s.engine.Ledger(c.Request.Context(), tokenID, 0, 0)
	if err != nil {
		s.writeError(c, err)
		return
	}

	contentType := "text/csv"
	if opts.Format == export.FormatJSON {
		contentType = "application/json"
	}
	c.Header("Content-Type", contentType)
	c.Header("Content-Disposition", "attachment; filename="+export.Filename(tokenID, opts, time.Now()))
	c.Status(http.StatusOK)
	if _, err := s.exporter.Write(c.Writer, tokenID, entries, opts); err != nil {
		s.logger.Warn("Ledger export failed", zap.String("token_id", tokenID), zap.Error(err))
	}
}

func (s *Server) reconcile(c *gin.Context) {
	report, err := s.engine.Reconcile(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func (s *Server) updateDiscount(c *gin.Context) {
	var body discountBody
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, err)
		return
	}
	applied, err := s.engine.UpdateDiscount(c.Request.Context(), c.Param("id"), *body.DiscountBps)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"tokenId":            c.Param("id"),
		"discountBps":        *body.DiscountBps,
		"appliedDiscountBps": applied,
	})
}

func pagination(c *gin.Context) (limit, offset int, ok bool) {
	limit, offset = defaultPageSize, 0
	var err error
	if v := c.Query("limit"); v != "" {
		if limit, err = strconv.Atoi(v); err != nil || limit <= 0 {
			badRequestMsg(c, "limit must be a positive integer")
			return 0, 0, false
		}
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	if v := c.Query("offset"); v != "" {
		if offset, err = strconv.Atoi(v); err != nil || offset < 0 {
			badRequestMsg(c, "offset must be a non-negative integer")
			return 0, 0, false
		}
	}
	return limit, offset, true
}

func (s *Server) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("HTTP request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", time.Since(start)))
	}
}

func (s *Server) recovery() gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered any) {
		s.logger.Error("Panic in HTTP handler",
			zap.String("path", c.FullPath()),
			zap.Any("panic", recovered),
			zap.Stack("stack"))
		c.AbortWithStatusJSON(http.StatusInternalServerError, errorResponse{
			Error:   "internal",
			Message: "internal error",
		})
	})
}
