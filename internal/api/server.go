// Package api exposes the synchronous operations as a JSON HTTP surface.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"matrix-comp/internal/observability"
	"matrix-comp/internal/orchestrator"
)

// Clock supplies the current time. Engines never read the wall clock
// themselves; the HTTP edge stamps every operation.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock in UTC.
type SystemClock struct{}

// Now implements Clock.
func (SystemClock) Now() time.Time { return time.Now().UTC() }

// Options configures a Server.
type Options struct {
	Orchestrator *orchestrator.Orchestrator
	Feed         http.Handler // optional WebSocket feed mounted at /ws
	Clock        Clock        // defaults to SystemClock
	Logger       *zerolog.Logger
}

// Server routes HTTP requests to the orchestrator.
type Server struct {
	orch     *orchestrator.Orchestrator
	feed     http.Handler
	clock    Clock
	validate *validator.Validate
	logger   zerolog.Logger
	router   http.Handler
}

// New constructs a Server with its router.
func New(opts Options) *Server {
	logger := zerolog.Nop()
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	clock := opts.Clock
	if clock == nil {
		clock = SystemClock{}
	}

	s := &Server{
		orch:     opts.Orchestrator,
		feed:     opts.Feed,
		clock:    clock,
		validate: validator.New(),
		logger:   logger.With().Str("component", "api").Logger(),
	}
	s.router = s.buildRouter()
	return s
}

// Handler exposes the configured router.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(s.requestLogger)
	r.Use(chimw.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", observability.Handler())
	if s.feed != nil {
		r.Handle("/ws", s.feed)
	}

	r.Route("/api/v1", func(api chi.Router) {
		api.Get("/tiers", s.ListTiers)

		api.Post("/participants", s.Enroll)
		api.Route("/participants/{id}", func(p chi.Router) {
			p.Get("/", s.GetParticipant)
			p.Get("/downline", s.GetDownline)
			p.Get("/matrix", s.GetMatrix)
			p.Get("/path", s.GetPath)
			p.Get("/investments", s.ListInvestments)
			p.Get("/commissions", s.ListCommissions)
			p.Get("/headroom", s.GetHeadroom)
			p.Get("/tier/history", s.GetTierHistory)
			p.Post("/tier/evaluate", s.EvaluateTier)
			p.Get("/tier/gap/{tierID}", s.GetUpgradeGap)
		})

		api.Post("/investments", s.RegisterInvestment)
		api.Route("/investments/{id}", func(inv chi.Router) {
			inv.Get("/", s.GetInvestment)
			inv.Post("/activate", s.ActivateInvestment)
			inv.Post("/reject", s.RejectInvestment)
			inv.Get("/commissions", s.GetInvestmentCommissions)
			inv.Get("/withdrawals", s.ListWithdrawals)
			inv.Post("/withdrawals/preview", s.PreviewWithdrawal)
			inv.Post("/withdrawals", s.SubmitWithdrawal)
		})

		api.Route("/withdrawals/{id}", func(wr chi.Router) {
			wr.Get("/", s.GetWithdrawal)
			wr.Post("/approve", s.ApproveWithdrawal)
			wr.Post("/reject", s.RejectWithdrawal)
			wr.Post("/paid", s.PayWithdrawal)
		})

		api.Post("/payouts/runs", s.RunPayouts)
	})

	return r
}

// requestLogger logs one line per request and records its latency.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		elapsed := time.Since(start)
		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		observability.RecordLatency("http "+r.Method+" "+route, elapsed.Seconds())

		s.logger.Debug().
			Str("method", r.Method).
			Str("route", route).
			Int("status", ww.Status()).
			Dur("elapsed", elapsed).
			Str("request_id", chimw.GetReqID(r.Context())).
			Msg("request")
	})
}
