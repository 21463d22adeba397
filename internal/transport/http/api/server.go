package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"platmarket/internal/analysis"
	"platmarket/internal/app"
	"platmarket/internal/logger"
	"platmarket/internal/store"
	"platmarket/internal/store/rollup"

	"github.com/gin-gonic/gin"
)

// Pipeline is the subset of the orchestrator the HTTP surface needs.
type Pipeline interface {
	Items(ctx context.Context) ([]store.Item, error)
	Analyze(ctx context.Context, itemName, rangeStr string) (analysis.MarketAnalysis, bool, error)
	LatestSummary(ctx context.Context, itemName string) (rollup.StatRow, bool, error)
	OrderBook(ctx context.Context, itemName string) (app.OrderBookView, error)
	ActiveOrders(ctx context.Context) (int64, error)
	RunFullCycle(ctx context.Context) (app.CycleReport, error)
}

// Server exposes the tracker over a small JSON API.
type Server struct {
	addr   string
	router *gin.Engine
}

// ServerConfig describes the HTTP server dependencies.
type ServerConfig struct {
	Addr     string
	Pipeline Pipeline
}

// NewServer builds the API server around the given pipeline.
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Pipeline == nil {
		return nil, errors.New("api server requires a pipeline")
	}
	if cfg.Addr == "" {
		cfg.Addr = ":8780"
	}
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger())

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	g := router.Group("/api")
	h := &handlers{pipeline: cfg.Pipeline}
	g.GET("/items", h.listItems)
	g.GET("/items/:name/analysis", h.itemAnalysis)
	g.GET("/items/:name/summary", h.itemSummary)
	g.GET("/items/:name/orderbook", h.itemOrderBook)
	g.GET("/orders/active", h.activeOrders)
	g.POST("/cycle", h.runCycle)

	return &Server{addr: cfg.Addr, router: router}, nil
}

// Start runs the HTTP server until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{Addr: s.addr, Handler: s.router}
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	logger.Infof("api server listening on %s", s.addr)
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}

// Handler returns the underlying HTTP handler, mainly for tests.
func (s *Server) Handler() http.Handler { return s.router }

type handlers struct {
	pipeline Pipeline
}

func (h *handlers) listItems(c *gin.Context) {
	items, err := h.pipeline.Items(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items, "count": len(items)})
}

func (h *handlers) itemAnalysis(c *gin.Context) {
	name := c.Param("name")
	rangeStr := c.Query("range")
	if _, err := analysis.ParseTimeRange(rangeStr); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	result, ok, err := h.pipeline.Analyze(c.Request.Context(), name, rangeStr)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no price data for item: " + name})
		return
	}
	c.JSON(http.StatusOK, gin.H{"item": name, "analysis": result})
}

func (h *handlers) itemSummary(c *gin.Context) {
	name := c.Param("name")
	row, ok, err := h.pipeline.LatestSummary(c.Request.Context(), name)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no statistics for item: " + name})
		return
	}
	c.JSON(http.StatusOK, gin.H{"item": name, "summary": row})
}

func (h *handlers) itemOrderBook(c *gin.Context) {
	name := c.Param("name")
	view, err := h.pipeline.OrderBook(c.Request.Context(), name)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown item: " + name})
			return
		}
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *handlers) activeOrders(c *gin.Context) {
	count, err := h.pipeline.ActiveOrders(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"active_orders": count})
}

func (h *handlers) runCycle(c *gin.Context) {
	report, err := h.pipeline.RunFullCycle(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error(), "report": report})
		return
	}
	c.JSON(http.StatusOK, report)
}

// requestLogger records API calls so manual refreshes remain traceable.
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		method := c.Request.Method
		path := c.Request.URL.Path
		c.Next()
		logger.Infof("http %s %s status=%d elapsed=%s", method, path, c.Writer.Status(), time.Since(start).Round(time.Millisecond))
	}
}
