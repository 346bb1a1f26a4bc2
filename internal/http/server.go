package http

import (
	"context"
	"net/http"
	"sync"
	"time"

	"fatura/internal/cache"
	"fatura/internal/core"
	"fatura/internal/log"
	"fatura/internal/middleware/ratelimit"
	"fatura/internal/middleware/security"
	"fatura/internal/middleware/trace"
	"fatura/internal/services"
)

// Store is the slice of the storage layer the API reads directly.
type Store interface {
	Ping(ctx context.Context) error
	GetCharge(ctx context.Context, id int64) (core.Charge, error)
	ListEvents(ctx context.Context, cardID int64, limit int) ([]core.LedgerEvent, error)
}

type Services struct {
	Charges   *services.ChargeService
	Invoices  *services.InvoiceService
	Reversals *services.ReversalService
	Cards     *services.CardService
}

type Config struct {
	Addr               string
	RateLimitPerMinute int
	CacheTTL           time.Duration
}

type Server struct {
	http.Server

	svc    Services
	store  Store
	logger *log.Logger

	limiter      *ratelimit.Limiter
	cardCache    *cache.LRUCache[core.Card]
	invoiceCache *cache.LRUCache[[]core.Invoice]
	caches       *cache.Manager
	shutdownOnce sync.Once

	// generations counts invalidations per card. A read only fills the cache
	// if no mutation of the card committed since the read started.
	genMu       sync.Mutex
	generations map[int64]uint64

	// now is the clock for "today" in cycle decisions.
	now func() time.Time
}

// NewServer wires routes and middleware, returning a ready-to-run server.
func NewServer(cfg Config, svc Services, store Store, logger *log.Logger) *Server {
	mux := http.NewServeMux()
	clientIP := security.NewClientIP()

	s := &Server{
		svc:          svc,
		store:        store,
		logger:       logger.WithComponent(log.ComponentHTTP),
		limiter:      ratelimit.NewLimiter(ratelimit.Config{RequestsPerMinute: cfg.RateLimitPerMinute}),
		cardCache:    cache.NewLRUCache[core.Card](500, cfg.CacheTTL),
		invoiceCache: cache.NewLRUCache[[]core.Invoice](500, cfg.CacheTTL),
		caches:       cache.NewManager(),
		generations:  make(map[int64]uint64),
		now:          time.Now,
	}
	s.caches.Register(s.cardCache)
	s.caches.Register(s.invoiceCache)
	s.caches.StartCleanup(5 * time.Minute)

	mux.HandleFunc("GET /healthz", handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)

	mux.HandleFunc("POST /charges", s.handleCreateCharge)
	mux.HandleFunc("DELETE /charges/{id}", s.handleDeleteCharge)

	mux.HandleFunc("POST /cards", s.handleCreateCard)
	mux.HandleFunc("GET /cards", s.handleListCards)
	mux.HandleFunc("GET /cards/{id}", s.handleGetCard)
	mux.HandleFunc("PUT /cards/{id}", s.handleUpdateCard)
	mux.HandleFunc("DELETE /cards/{id}", s.handleDeleteCard)

	mux.HandleFunc("POST /cards/{id}/pay-invoice", s.handlePayInvoice)
	mux.HandleFunc("GET /cards/{id}/invoices", s.handleListInvoices)
	mux.HandleFunc("GET /cards/{id}/invoices/{year}/{month}", s.handleGetInvoice)
	mux.HandleFunc("GET /cards/{id}/events", s.handleListEvents)

	var handler http.Handler = mux
	handler = security.NewHeadersMiddleware(security.DefaultHeadersConfig()).Middleware(handler)
	handler = s.limiter.Middleware(clientIP.Extract, s.onRateLimited)(handler)
	handler = trace.NewMiddleware(logger, clientIP.Extract).Middleware(handler)

	s.Server = http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return s
}

// Shutdown stops background routines and drains the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		s.caches.Stop()
		s.limiter.Stop()
		shutdownErr = s.Server.Shutdown(ctx)
	})
	return shutdownErr
}

func (s *Server) onRateLimited(w http.ResponseWriter, r *http.Request) {
	log.FromContext(r.Context()).WarnContext(r.Context(), "Rate limit exceeded",
		log.FieldMethod, r.Method,
		log.FieldPath, r.URL.Path)
	ErrorResponse(http.StatusTooManyRequests, "RateLimited", "rate limit exceeded, retry later").Write(w)
}

// invalidateCard drops every cached view derived from the card.
func (s *Server) invalidateCard(cardID int64) {
	s.genMu.Lock()
	defer s.genMu.Unlock()
	s.generations[cardID]++
	s.cardCache.Delete(cardCacheKey(cardID))
	s.invoiceCache.DeletePrefix(invoicePrefix(cardID))
}

// cardGeneration is taken before a read-through lookup and handed back to
// cacheIfCurrent with the result.
func (s *Server) cardGeneration(cardID int64) uint64 {
	s.genMu.Lock()
	defer s.genMu.Unlock()
	return s.generations[cardID]
}

// cacheIfCurrent runs fill unless the card was invalidated after gen was
// taken, so a read that raced a mutation never caches the old state.
func (s *Server) cacheIfCurrent(cardID int64, gen uint64, fill func()) {
	s.genMu.Lock()
	defer s.genMu.Unlock()
	if s.generations[cardID] == gen {
		fill()
	}
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.store.Ping(ctx); err != nil {
		s.logger.WarnContext(ctx, "Readiness check failed", log.FieldError, err)
		ErrorResponse(http.StatusServiceUnavailable, "NotReady", "storage unavailable").Write(w)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}
