// Package api serves the economy over HTTP.
// GET endpoints are public (read-only observation).
// Action endpoints are rate limited per IP; /save requires a bearer token.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"github.com/lucylow/quaternion/internal/blackmarket"
	"github.com/lucylow/quaternion/internal/conversion"
	"github.com/lucylow/quaternion/internal/economy"
	"github.com/lucylow/quaternion/internal/engine"
	"github.com/lucylow/quaternion/internal/metrics"
	"github.com/lucylow/quaternion/internal/puzzle"
	"github.com/lucylow/quaternion/internal/world"
)

// maxBody caps action request bodies.
const maxBody = 64 << 10

// Server serves one economy session.
type Server struct {
	Econ     *engine.Economy
	Eng      *engine.Engine
	Terr     *world.Territory // optional
	Metrics  *metrics.Metrics // optional
	Limiter  *RateLimiter     // optional; nil disables rate limiting
	AdminKey string           // Bearer token for /save. Empty = disabled.

	// Save persists the session. Nil disables /save.
	Save func(ctx context.Context) error

	// CORSOrigins are allowed in addition to the local dev servers.
	CORSOrigins []string
	// AccessLog receives one line per request. Defaults to os.Stdout.
	AccessLog io.Writer

	hub *Hub
}

// Hub returns the stream hub, creating it on first use. Publish each
// TickOutput to it from the tick loop.
func (s *Server) Hub() *Hub {
	if s.hub == nil {
		s.hub = NewHub()
	}
	return s.hub
}

// Handler builds the full middleware chain around the router.
func (s *Server) Handler() http.Handler {
	s.Hub()

	r := mux.NewRouter()
	v1 := r.PathPrefix("/api/v1").Subrouter()

	// Public endpoints (GET, read-only).
	v1.Handle("/status", s.observe("status", s.handleStatus)).Methods(http.MethodGet)
	v1.Handle("/snapshot", s.observe("snapshot", s.handleSnapshot)).Methods(http.MethodGet)
	v1.Handle("/routes", s.observe("routes", s.handleRoutes)).Methods(http.MethodGet)
	v1.Handle("/territory", s.observe("territory", s.handleTerritory)).Methods(http.MethodGet)
	v1.Handle("/history", s.observe("history", s.handleHistory)).Methods(http.MethodGet)

	// Player actions (POST, rate limited).
	v1.Handle("/spend", s.action("spend", s.handleSpend)).Methods(http.MethodPost)
	v1.Handle("/convert", s.action("convert", s.handleConvert)).Methods(http.MethodPost)
	v1.Handle("/routes/{id}/convert", s.action("route_convert", s.handleRouteConvert)).Methods(http.MethodPost)
	v1.Handle("/puzzles/{id}/resolve", s.action("puzzle_resolve", s.handleResolve)).Methods(http.MethodPost)
	v1.Handle("/offers/{id}/accept", s.action("offer_accept", s.handleAccept)).Methods(http.MethodPost)

	// Admin.
	v1.Handle("/save", s.observe("save", s.adminOnly(s.handleSave))).Methods(http.MethodPost)

	// The stream hijacks the connection, so it skips the metrics wrapper.
	v1.HandleFunc("/stream", s.handleStream).Methods(http.MethodGet)

	r.Handle("/metrics", s.Metrics.Handler()).Methods(http.MethodGet)

	origins := []string{"http://localhost:5173", "http://localhost:4173", "http://localhost:3000"}
	for _, o := range s.CORSOrigins {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	cors := handlers.CORS(
		handlers.AllowedOrigins(origins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Content-Type", "Authorization"}),
	)

	logOut := s.AccessLog
	if logOut == nil {
		logOut = os.Stdout
	}
	return handlers.LoggingHandler(logOut, handlers.RecoveryHandler(handlers.PrintRecoveryStack(true))(cors(r)))
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	slog.Info("HTTP API starting", "addr", addr, "admin_auth", s.AdminKey != "", "rate_limited", s.Limiter != nil)

	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	s.Hub().Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) observe(route string, h http.HandlerFunc) http.Handler {
	return s.Metrics.WrapHandler(route, h)
}

func (s *Server) action(route string, h http.HandlerFunc) http.Handler {
	return s.Metrics.WrapHandler(route, RateLimitMiddleware(s.Limiter, h))
}

// checkBearerToken returns true if the request has a valid admin bearer token.
func (s *Server) checkBearerToken(r *http.Request) bool {
	auth := r.Header.Get("Authorization")
	return strings.HasPrefix(auth, "Bearer ") && strings.TrimPrefix(auth, "Bearer ") == s.AdminKey
}

// adminOnly wraps a handler to require bearer token auth.
func (s *Server) adminOnly(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.AdminKey == "" {
			http.Error(w, "admin endpoints disabled (no QUATERNION_ADMIN_KEY set)", http.StatusForbidden)
			return
		}
		if !s.checkBearerToken(r) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	out := s.Econ.Latest()
	status := map[string]any{
		"name":           "Quaternion",
		"tick":           out.Tick,
		"now":            out.Now,
		"running":        s.Eng != nil && s.Eng.Running(),
		"instability":    out.Instability,
		"research_level": out.ResearchLevel,
		"total":          out.Resources.Total(),
		"active_events":  len(out.ActiveEvents),
		"active_puzzles": len(out.ActivePuzzles),
		"market_offers":  len(out.MarketOffers),
		"stream_clients": s.Hub().Subscribers(),
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Econ.Latest())
}

func (s *Server) handleRoutes(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Econ.Latest().Routes)
}

func (s *Server) handleTerritory(w http.ResponseWriter, r *http.Request) {
	if s.Terr == nil {
		http.Error(w, "no territory attached", http.StatusNotFound)
		return
	}
	var sum world.Summary
	if !s.do(w, r, func() { sum = s.Terr.Summary() }) {
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

// handleHistory returns the newest resolved puzzles and market deals,
// oldest first. ?limit=N caps each list (default 20).
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = n
	}

	var (
		puzzles []puzzle.Resolution
		deals   []blackmarket.Deal
	)
	if !s.do(w, r, func() {
		puzzles = tail(s.Econ.PuzzleHistory(), limit)
		deals = tail(s.Econ.MarketHistory(), limit)
	}) {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"puzzles": puzzles,
		"deals":   deals,
	})
}

func tail[T any](xs []T, n int) []T {
	if len(xs) > n {
		xs = xs[len(xs)-n:]
	}
	return append([]T(nil), xs...)
}

type spendRequest struct {
	Cost economy.Amounts `json:"cost"`
}

func (s *Server) handleSpend(w http.ResponseWriter, r *http.Request) {
	var req spendRequest
	if !decodeBody(w, r, &req) {
		return
	}
	s.act(w, r, func() engine.ActionResult { return s.Econ.Spend(req.Cost) })
}

type convertRequest struct {
	From   economy.Commodity `json:"from"`
	To     economy.Commodity `json:"to"`
	Amount float64           `json:"amount"`
}

func (s *Server) handleConvert(w http.ResponseWriter, r *http.Request) {
	var req convertRequest
	if !decodeBody(w, r, &req) {
		return
	}
	s.act(w, r, func() engine.ActionResult { return s.Econ.ConvertSimple(req.From, req.To, req.Amount) })
}

type routeConvertRequest struct {
	Amount float64 `json:"amount"`
}

func (s *Server) handleRouteConvert(w http.ResponseWriter, r *http.Request) {
	var req routeConvertRequest
	if !decodeBody(w, r, &req) {
		return
	}
	id := conversion.RouteID(mux.Vars(r)["id"])
	s.act(w, r, func() engine.ActionResult { return s.Econ.ConvertRoute(id, req.Amount) })
}

type resolveRequest struct {
	Option string `json:"option"`
}

func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	var req resolveRequest
	if !decodeBody(w, r, &req) {
		return
	}
	id := mux.Vars(r)["id"]
	s.act(w, r, func() engine.ActionResult { return s.Econ.ResolvePuzzle(id, req.Option) })
}

func (s *Server) handleAccept(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	s.act(w, r, func() engine.ActionResult { return s.Econ.AcceptOffer(id) })
}

func (s *Server) handleSave(w http.ResponseWriter, r *http.Request) {
	if s.Save == nil {
		http.Error(w, "persistence disabled", http.StatusServiceUnavailable)
		return
	}
	if err := s.Save(r.Context()); err != nil {
		slog.Error("manual save failed", "error", err)
		http.Error(w, "save failed: "+err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"saved": true,
		"tick":  s.Econ.Latest().Tick,
	})
}

// act runs fn on the tick goroutine and writes its result.
func (s *Server) act(w http.ResponseWriter, r *http.Request, fn func() engine.ActionResult) {
	var res engine.ActionResult
	if !s.do(w, r, func() { res = fn() }) {
		return
	}
	writeJSON(w, statusFor(res), res)
}

// do serializes fn with the tick loop. On failure it has already
// written the error response.
func (s *Server) do(w http.ResponseWriter, r *http.Request, fn func()) bool {
	if s.Eng == nil {
		fn()
		return true
	}
	if err := s.Eng.Do(r.Context(), fn); err != nil {
		http.Error(w, "economy unavailable: "+err.Error(), http.StatusServiceUnavailable)
		return false
	}
	return true
}

// statusFor maps an action outcome to an HTTP status.
func statusFor(res engine.ActionResult) int {
	if res.OK {
		return http.StatusOK
	}
	switch res.Code {
	case economy.CodeInsufficientResources:
		return http.StatusConflict
	case economy.CodeInvalidPuzzle, economy.CodeInvalidOffer, economy.CodeInvalidRoute:
		return http.StatusNotFound
	case economy.CodeNarratorUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadRequest
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		http.Error(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(data); err != nil {
		slog.Debug("response encode failed", "error", err)
	}
}
