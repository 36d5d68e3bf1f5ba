package remote

import (
	"encoding/json"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/roach88/edgesync/internal/record"
)

// Server exposes a Remote over HTTP:
//
//	POST /v1/push                      push one record
//	GET  /v1/entities/{type}/{id}      fetch the server value
//	GET  /healthz, HEAD /healthz       reachability check target
type Server struct {
	remote Remote
	logger *zap.Logger
}

// NewServer returns a server for r.
func NewServer(r Remote, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{remote: r, logger: logger}
}

// Routes returns the router.
func (s *Server) Routes() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)

	r.Get("/healthz", s.health)
	r.Head("/healthz", s.health)

	r.Route("/v1", func(r chi.Router) {
		r.Post("/push", s.push)
		r.Get("/entities/{type}/{id}", s.fetch)
	})
	return r
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	if r.Method != http.MethodHead {
		w.Write([]byte("OK"))
	}
}

func (s *Server) push(w http.ResponseWriter, r *http.Request) {
	var req wireRecord
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, wireError{Code: string(record.CodeValidation), Message: err.Error()})
		return
	}

	res, err := s.remote.Push(r.Context(), req.record())
	if err != nil {
		s.writeError(w, err)
		return
	}
	status := http.StatusOK
	if res.Outcome == OutcomeConflict {
		status = http.StatusConflict
	}
	writeJSON(w, status, toWirePushResult(res))
}

func (s *Server) fetch(w http.ResponseWriter, r *http.Request) {
	ent, err := s.remote.Fetch(r.Context(), pathParam(r, "type"), pathParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toWireEntity(ent))
}

// pathParam returns the unescaped route parameter. chi matches on the
// raw path when one is present.
func pathParam(r *http.Request, name string) string {
	raw := chi.URLParam(r, name)
	if v, err := url.PathUnescape(raw); err == nil {
		return v
	}
	return raw
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	code := record.CodeOf(err)
	status := http.StatusInternalServerError
	switch code {
	case record.CodeValidation:
		status = http.StatusUnprocessableEntity
	case record.CodeNotFound:
		status = http.StatusNotFound
	case record.CodeNetwork:
		status = http.StatusServiceUnavailable
	default:
		s.logger.Error("remote operation failed", zap.Error(err))
	}
	writeJSON(w, status, wireError{Code: string(code), Message: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
