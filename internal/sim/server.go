// Package sim is a local stand-in for the merchant, runner and data
// delegates. It speaks their wire contracts against an in-memory ledger so
// the agent can run end to end without external services.
package sim

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"sip-agent/internal/paywall"
)

// Config configures the simulator.
type Config struct {
	PayTo string          // merchant wallet invoices pay to
	Mint  string          // accepted settlement mint; empty accepts any
	Price decimal.Decimal // price of one data response
	Seed  uint64          // random walk seed
	Now   func() time.Time
}

// DefaultConfig returns a simulator charging 0.01 USDC per data response.
func DefaultConfig() Config {
	return Config{
		PayTo: "SimMerchant1111111111111111111111111111111",
		Price: decimal.RequireFromString("0.01"),
		Seed:  42,
		Now:   time.Now,
	}
}

// Server is the simulator.
type Server struct {
	cfg    Config
	ledger *Ledger
	engine *gin.Engine
}

// New builds the simulator and its routes.
func New(cfg Config) *Server {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if !cfg.Price.IsPositive() {
		cfg.Price = DefaultConfig().Price
	}
	if cfg.PayTo == "" {
		cfg.PayTo = DefaultConfig().PayTo
	}

	s := &Server{cfg: cfg, ledger: newLedger()}

	r := gin.New()
	r.Use(gin.Recovery(), requestLogger())

	r.GET("/health", s.health)

	// merchant
	r.POST("/invoice", s.createInvoice)
	r.POST("/verify", s.verify)

	// runner
	r.POST("/pay/usdc", s.pay)
	r.POST("/swap", s.swap)

	// data
	r.GET("/token-data", s.tokenData)

	s.engine = r
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler { return s.engine }

// Ledger exposes the simulator state.
func (s *Server) Ledger() *Ledger { return s.ledger }

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		slog.Debug("sim request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"latency", time.Since(start).String(),
		)
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy", "ledger": s.ledger.stats()})
}

func (s *Server) challenge(c *gin.Context, price decimal.Decimal) {
	ch := s.ledger.issue(price, s.cfg.PayTo)
	ch.WriteHeaders(c.Writer.Header())
	c.JSON(http.StatusPaymentRequired, gin.H{"error": "payment required", "invoice": ch.InvoiceID})
}

func (s *Server) createInvoice(c *gin.Context) {
	var req struct {
		Price string `json:"price"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	price, err := decimal.NewFromString(req.Price)
	if err != nil || !price.IsPositive() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "price must be a positive decimal"})
		return
	}
	s.challenge(c, price)
}

func (s *Server) verify(c *gin.Context) {
	var req struct {
		Invoice string        `json:"invoice"`
		Proof   paywall.Proof `json:"proof"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": err.Error()})
		return
	}
	if err := s.ledger.verify(req.Invoice, req.Proof, s.cfg.Mint); err != nil {
		c.JSON(http.StatusOK, gin.H{"ok": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (s *Server) pay(c *gin.Context) {
	var req struct {
		ToOwner   string `json:"to_owner"`
		Mint      string `json:"mint"`
		AmountRaw int64  `json:"amount_raw"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.ToOwner == "" || req.AmountRaw <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "to_owner and positive amount_raw required"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"txid": s.ledger.pay(req.ToOwner, req.Mint, req.AmountRaw)})
}

func (s *Server) swap(c *gin.Context) {
	var req struct {
		Asset          string  `json:"asset"`
		AmountUSDC     float64 `json:"amount_usdc"`
		MaxSlippageBps int     `json:"max_slippage_bps"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Asset == "" || req.AmountUSDC <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "asset and positive amount_usdc required"})
		return
	}

	// Fill at the last close of the default data window.
	bars := randomWalk(strings.ToUpper(req.Asset), s.cfg.Seed, 5*time.Minute, 500, s.cfg.Now())
	f := Fill{TxSig: uuid.NewString(), Asset: req.Asset, AmountUSDC: req.AmountUSDC, Price: bars[len(bars)-1].C}
	s.ledger.recordFill(f)
	c.JSON(http.StatusOK, gin.H{"txSig": f.TxSig, "price": f.Price})
}

func (s *Server) tokenData(c *gin.Context) {
	symbol := strings.ToUpper(strings.TrimSpace(c.Query("symbol")))
	if symbol == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "symbol required"})
		return
	}

	inv := c.GetHeader(paywall.HeaderInvoice)
	tx := c.GetHeader(paywall.HeaderVerifiedTx)
	if inv == "" || tx == "" || !s.ledger.redeem(inv, tx) {
		s.challenge(c, s.cfg.Price)
		return
	}

	limit, err := strconv.Atoi(c.DefaultQuery("limit", "500"))
	if err != nil || limit <= 0 {
		limit = 500
	}
	if limit > 5000 {
		limit = 5000
	}
	tf := parseTimeframe(c.DefaultQuery("tf", "5m"))
	c.JSON(http.StatusOK, gin.H{"candles": randomWalk(symbol, s.cfg.Seed, tf, limit, s.cfg.Now())})
}
