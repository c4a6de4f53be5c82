// Package httpapi serves the read-only operator endpoint: raffle status,
// entrants, archived rounds, recent notifications, health and metrics.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/R3E-Network/raffle_layer/internal/engine/events"
	"github.com/R3E-Network/raffle_layer/internal/httputil"
	"github.com/R3E-Network/raffle_layer/internal/metrics"
	"github.com/R3E-Network/raffle_layer/internal/middleware"
	"github.com/R3E-Network/raffle_layer/internal/storage"
	"github.com/R3E-Network/raffle_layer/pkg/logger"
	"github.com/R3E-Network/raffle_layer/services/raffle"
)

const (
	defaultRoundLimit = 20
	maxRoundLimit     = 100
	defaultEventLimit = 50
	maxEventLimit     = 1000
)

// Raffle is the read side of the raffle service.
type Raffle interface {
	Status() raffle.Status
	EntrantAt(i int) (raffle.Participant, error)
}

// EventSource lists notifications from the journal.
type EventSource interface {
	Recent(n int) []events.Event
	Since(after uint64, limit int) []events.Event
}

// Config configures the server.
type Config struct {
	RateLimit      float64
	RateBurst      int
	AllowedOrigins []string
}

// Server is the operator endpoint.
type Server struct {
	raffle  Raffle
	archive storage.Archive
	events  EventSource
	log     *logger.Logger

	router  *mux.Router
	limiter *middleware.RateLimiter
	handler http.Handler
}

// New builds the router and middleware chain. archive and events may be nil.
func New(cfg Config, r Raffle, archive storage.Archive, ev EventSource, log *logger.Logger) *Server {
	if log == nil {
		log = logger.NewDefault("http")
	}
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{"*"}
	}

	s := &Server{
		raffle:  r,
		archive: archive,
		events:  ev,
		log:     log,
		router:  mux.NewRouter(),
		limiter: middleware.NewRateLimiter(cfg.RateLimit, cfg.RateBurst, log),
	}
	s.registerRoutes()

	s.handler = metrics.InstrumentHandler(
		middleware.Logging(log)(
			middleware.CORS(cfg.AllowedOrigins)(
				s.limiter.Handler(s.router))))
	return s
}

func (s *Server) registerRoutes() {
	s.router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	s.router.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	api := s.router.PathPrefix("/v1/raffle").Subrouter()
	api.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	api.HandleFunc("/entrants/{index}", s.handleEntrant).Methods(http.MethodGet)
	api.HandleFunc("/rounds", s.handleRounds).Methods(http.MethodGet)
	api.HandleFunc("/rounds/{id}", s.handleRound).Methods(http.MethodGet)
	api.HandleFunc("/events", s.handleEvents).Methods(http.MethodGet)

	s.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httputil.NotFound(w, "no route for "+r.URL.Path)
	})
}

// Handler returns the wrapped router.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// ListenAndServe serves on addr until ctx ends, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	stop := make(chan struct{})
	defer close(stop)
	s.limiter.StartCleanup(time.Minute, stop)

	errCh := make(chan error, 1)
	go func() {
		s.log.WithField("addr", addr).Info("operator endpoint listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return nil
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, s.raffle.Status())
}

// EntrantResponse is one entry of the current round.
type EntrantResponse struct {
	Index       int    `json:"index"`
	Participant string `json:"participant"`
}

func (s *Server) handleEntrant(w http.ResponseWriter, r *http.Request) {
	raw := mux.Vars(r)["index"]
	index, err := strconv.Atoi(raw)
	if err != nil {
		httputil.BadRequest(w, "index must be an integer")
		return
	}
	p, err := s.raffle.EntrantAt(index)
	if err != nil {
		if errors.Is(err, raffle.ErrIndexOutOfRange) {
			httputil.NotFound(w, err.Error())
			return
		}
		httputil.InternalError(w, err.Error())
		return
	}
	httputil.WriteJSON(w, http.StatusOK, EntrantResponse{Index: index, Participant: p.Hex()})
}

// RoundResponse is an archived round.
type RoundResponse struct {
	RoundID     string    `json:"round_id"`
	Number      int64     `json:"number"`
	Winner      string    `json:"winner"`
	WinnerIndex int       `json:"winner_index"`
	Pot         string    `json:"pot"`
	Entrants    int       `json:"entrants"`
	RequestID   uint64    `json:"request_id"`
	RandomValue string    `json:"random_value"`
	StartedAt   time.Time `json:"started_at"`
	DrawnAt     time.Time `json:"drawn_at"`
}

func roundResponse(rec storage.RoundRecord) RoundResponse {
	out := RoundResponse{
		RoundID:     rec.RoundID,
		Number:      rec.Number,
		Winner:      rec.Winner.Hex(),
		WinnerIndex: rec.WinnerIndex,
		Entrants:    rec.Entrants,
		RequestID:   rec.RequestID,
		StartedAt:   rec.StartedAt,
		DrawnAt:     rec.DrawnAt,
	}
	if rec.Pot != nil {
		out.Pot = rec.Pot.Dec()
	}
	if rec.RandomValue != nil {
		out.RandomValue = rec.RandomValue.Dec()
	}
	return out
}

func (s *Server) handleRounds(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(w, r, defaultRoundLimit, maxRoundLimit)
	if !ok {
		return
	}
	out := []RoundResponse{}
	if s.archive != nil {
		recs, err := s.archive.ListRounds(r.Context(), limit)
		if err != nil {
			s.log.WithError(err).Warn("list rounds failed")
			httputil.InternalError(w, "list rounds failed")
			return
		}
		for _, rec := range recs {
			out = append(out, roundResponse(rec))
		}
	}
	httputil.WriteJSON(w, http.StatusOK, out)
}

func (s *Server) handleRound(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if s.archive == nil {
		httputil.NotFound(w, storage.ErrNotFound.Error())
		return
	}
	rec, err := s.archive.GetRound(r.Context(), id)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		httputil.NotFound(w, err.Error())
	case err != nil:
		s.log.WithError(err).WithField("round_id", id).Warn("get round failed")
		httputil.InternalError(w, "get round failed")
	default:
		httputil.WriteJSON(w, http.StatusOK, roundResponse(rec))
	}
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(w, r, defaultEventLimit, maxEventLimit)
	if !ok {
		return
	}
	out := []events.Event{}
	if s.events == nil {
		httputil.WriteJSON(w, http.StatusOK, out)
		return
	}
	if raw := r.URL.Query().Get("since"); raw != "" {
		after, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			httputil.BadRequest(w, "since must be a sequence number")
			return
		}
		out = append(out, s.events.Since(after, limit)...)
	} else {
		out = append(out, s.events.Recent(limit)...)
	}
	httputil.WriteJSON(w, http.StatusOK, out)
}

// parseLimit reads ?limit=, writing a 400 on bad input.
func parseLimit(w http.ResponseWriter, r *http.Request, def, ceiling int) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		httputil.BadRequest(w, "limit must be a positive integer")
		return 0, false
	}
	if n > ceiling {
		n = ceiling
	}
	return n, true
}
