package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/kalambet/intake/internal/apperr"
	"github.com/kalambet/intake/internal/memory"
	"github.com/kalambet/intake/internal/metrics"
	"github.com/kalambet/intake/internal/reasoning"
	"github.com/kalambet/intake/internal/storage"
)

// Recaller searches a user's assessment memories.
type Recaller interface {
	Recall(ctx context.Context, userID, query string, limit int) ([]storage.ScoredMemory, error)
}

// Prober checks every configured reasoning backend.
type Prober interface {
	Probe(ctx context.Context) []reasoning.ProbeResult
}

// Deps holds the HTTP server dependencies. Limiter may be nil.
type Deps struct {
	Service   *Service
	Recaller  Recaller
	Prober    Prober
	JWTSecret string
	Limiter   *IPRateLimiter
}

// NewRouter returns the HTTP API.
func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware)

	r.Get("/health", handleHealth)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		if d.Limiter != nil {
			r.Use(d.Limiter.Middleware)
		}
		r.Use(JWTAuth(d.JWTSecret))

		r.Post("/assessment/start", handleStart(d.Service))
		r.Post("/assessment/next", handleNext(d.Service))
		r.Get("/assessment/{id}", handleGetSession(d.Service))
		r.Get("/assessment/{id}/report", handleGetReport(d.Service))
		r.Get("/memories", handleMemories(d.Recaller))
		r.Get("/backends", handleBackends(d.Prober))
	})
	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

// ownedHandler is a handler that runs on behalf of the authenticated owner.
type ownedHandler func(w http.ResponseWriter, r *http.Request, owner string)

func owned(h ownedHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		owner, ok := OwnerFrom(r.Context())
		if !ok {
			writeError(w, apperr.Unauthorized("authentication required"))
			return
		}
		h(w, r, owner)
	}
}

func handleStart(svc *Service) http.HandlerFunc {
	return owned(func(w http.ResponseWriter, r *http.Request, owner string) {
		var req StartRequest
		if r.ContentLength != 0 {
			if err := decodeBody(w, r, &req); err != nil {
				writeError(w, err)
				return
			}
		}
		step, err := svc.Start(r.Context(), owner, req)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, step)
	})
}

func handleNext(svc *Service) http.HandlerFunc {
	return owned(func(w http.ResponseWriter, r *http.Request, owner string) {
		var req NextRequest
		if err := decodeBody(w, r, &req); err != nil {
			writeError(w, err)
			return
		}
		step, err := svc.Next(r.Context(), owner, req)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, step)
	})
}

func handleGetSession(svc *Service) http.HandlerFunc {
	return owned(func(w http.ResponseWriter, r *http.Request, owner string) {
		sess, err := svc.Session(r.Context(), owner, chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, sess)
	})
}

func handleGetReport(svc *Service) http.HandlerFunc {
	return owned(func(w http.ResponseWriter, r *http.Request, owner string) {
		sr, err := svc.Report(r.Context(), owner, chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, sr)
	})
}

func handleMemories(rc Recaller) http.HandlerFunc {
	return owned(func(w http.ResponseWriter, r *http.Request, owner string) {
		q := r.URL.Query()
		limit := 0
		if raw := q.Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil {
				writeError(w, apperr.InvalidRequest("limit must be an integer"))
				return
			}
			limit = n
		}
		res, err := rc.Recall(r.Context(), owner, q.Get("q"), limit)
		if errors.Is(err, memory.ErrEmptyQuery) {
			writeError(w, apperr.InvalidRequest("q is required"))
			return
		}
		if err != nil {
			writeError(w, err)
			return
		}
		if res == nil {
			res = []storage.ScoredMemory{}
		}
		writeJSON(w, http.StatusOK, res)
	})
}

// handleBackends probes every candidate. The first upstream 401 or 403 is
// returned as AI_UNAUTHORIZED or AI_FORBIDDEN.
func handleBackends(p Prober) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		results := p.Probe(r.Context())
		for _, res := range results {
			switch reasoning.UpstreamStatus(res.Err) {
			case http.StatusUnauthorized:
				writeError(w, apperr.AIUnauthorized(res.Err).WithDetail("backend", res.Backend))
				return
			case http.StatusForbidden:
				writeError(w, apperr.AIForbidden(res.Err).WithDetail("backend", res.Backend))
				return
			}
		}
		writeJSON(w, http.StatusOK, results)
	}
}
