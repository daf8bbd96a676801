// Package httpapi exposes stars and jobs over HTTP. Creating a star is
// asynchronous: POST /star answers 202 with the job that will create it.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/SirClappington/starjobs/internal/domain"
	"github.com/SirClappington/starjobs/internal/jobs"
	"github.com/SirClappington/starjobs/internal/storage"
)

type JobService interface {
	SubmitStar(ctx context.Context, star domain.Star) (*domain.Job, error)
	Get(ctx context.Context, id int64) (*domain.Job, error)
	List(ctx context.Context) ([]*domain.Job, error)
}

type StarService interface {
	Get(ctx context.Context, id int64) (*domain.Star, error)
	List(ctx context.Context) ([]*domain.Star, error)
	Delete(ctx context.Context, id int64) error
}

type Pinger interface {
	Ping(ctx context.Context) error
}

type Deps struct {
	Jobs     JobService
	Stars    StarService
	Health   Pinger
	Gatherer prometheus.Gatherer
	// SubmitRateLimit caps POST /star per client IP per minute. Zero
	// disables the limit.
	SubmitRateLimit int
	Logger          *zap.Logger
}

// MaxSubmitBody caps the request body accepted by POST /star.
const MaxSubmitBody = 4 << 10

type api struct {
	jobs   JobService
	stars  StarService
	logger *zap.Logger
}

func NewRouter(d Deps) http.Handler {
	a := &api{jobs: d.Jobs, stars: d.Stars, logger: d.Logger}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(d.Logger))
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := d.Health.Ping(r.Context()); err != nil {
			d.Logger.Error("health check failed", zap.Error(err))
			http.Error(w, "store unhealthy", http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("OK"))
	})
	if d.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/star", func(r chi.Router) {
		r.Get("/", a.listStars)
		r.Get("/{id}", a.getStar)
		r.Delete("/{id}", a.deleteStar)
		r.Group(func(r chi.Router) {
			r.Use(middleware.RequestSize(MaxSubmitBody))
			if d.SubmitRateLimit > 0 {
				r.Use(httprate.LimitByIP(d.SubmitRateLimit, time.Minute))
			}
			r.Post("/", a.createStar)
		})
	})
	r.Route("/job", func(r chi.Router) {
		r.Get("/", a.listJobs)
		r.Get("/{id}", a.getJob)
	})
	return r
}

type starDTO struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

type jobDTO struct {
	ID         int64         `json:"id"`
	Status     domain.Status `json:"status"`
	CreateStar *starDTO      `json:"createStar,omitempty"`
}

func toStarDTO(s *domain.Star) starDTO { return starDTO{ID: s.ID, Name: s.Name} }

func toJobDTO(j *domain.Job) jobDTO {
	dto := jobDTO{ID: j.ID, Status: j.Status}
	if j.CreateStar != nil {
		s := toStarDTO(j.CreateStar)
		dto.CreateStar = &s
	}
	return dto
}

func (a *api) createStar(w http.ResponseWriter, r *http.Request) {
	var in starDTO
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	job, err := a.jobs.SubmitStar(r.Context(), domain.Star{Name: in.Name})
	if err != nil {
		a.fail(w, r, err)
		return
	}
	w.Header().Set("Location", "/job/"+strconv.FormatInt(job.ID, 10))
	a.writeJSON(w, http.StatusAccepted, toJobDTO(job))
}

func (a *api) listStars(w http.ResponseWriter, r *http.Request) {
	stars, err := a.stars.List(r.Context())
	if err != nil {
		a.fail(w, r, err)
		return
	}
	out := make([]starDTO, 0, len(stars))
	for _, s := range stars {
		out = append(out, toStarDTO(s))
	}
	a.writeJSON(w, http.StatusOK, out)
}

func (a *api) getStar(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	s, err := a.stars.Get(r.Context(), id)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.writeJSON(w, http.StatusOK, toStarDTO(s))
}

func (a *api) deleteStar(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := a.stars.Delete(r.Context(), id); err != nil {
		a.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) listJobs(w http.ResponseWriter, r *http.Request) {
	list, err := a.jobs.List(r.Context())
	if err != nil {
		a.fail(w, r, err)
		return
	}
	out := make([]jobDTO, 0, len(list))
	for _, j := range list {
		out = append(out, toJobDTO(j))
	}
	a.writeJSON(w, http.StatusOK, out)
}

func (a *api) getJob(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	j, err := a.jobs.Get(r.Context(), id)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.writeJSON(w, http.StatusOK, toJobDTO(j))
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

func (a *api) fail(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		http.Error(w, "not found", http.StatusNotFound)
	case errors.Is(err, jobs.ErrInvalidPayload):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		a.logger.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func (a *api) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		a.logger.Error("failed to encode response", zap.Error(err))
	}
}

func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Debug("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())))
		})
	}
}
