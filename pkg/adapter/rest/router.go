package rest

import (
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/marmos91/dittodrive/internal/logger"
	"github.com/marmos91/dittodrive/pkg/fileerr"
)

func (a *RESTAdapter) newRouter() *mux.Router {
	router := mux.NewRouter()
	router.Use(a.instrument)

	router.HandleFunc("/healthz", a.handleHealth).Methods(http.MethodGet)

	files := router.PathPrefix("/file").Subrouter()
	files.Use(a.authenticate)

	files.Handle("/upload/{folderKey}", a.rateLimited(http.HandlerFunc(a.handleUpload))).Methods(http.MethodPost)
	files.HandleFunc("/download/{folderKey}/{fileKey}", a.handleDownload).Methods(http.MethodGet)
	files.HandleFunc("/stream/{folderKey}/{fileKey}", a.handleStream).Methods(http.MethodGet)
	files.HandleFunc("/rename/{folderKey}/{fileKey}", a.handleRename).Methods(http.MethodPatch)
	files.HandleFunc("/move/{folderKey}/{fileKey}", a.handleMove).Methods(http.MethodPatch)
	files.HandleFunc("/name/{fileKey}", a.handleUpdateName).Methods(http.MethodPatch)
	files.HandleFunc("/parent/{fileKey}", a.handleUpdateParent).Methods(http.MethodPatch)
	files.HandleFunc("/{folderKey}/{fileKey}", a.handleDelete).Methods(http.MethodDelete)

	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, fileerr.New(fileerr.NotFound, "route", "no route for %s %s", r.Method, r.URL.Path))
	})
	router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeStatus(w, r, http.StatusMethodNotAllowed, "MethodNotAllowed", "method not allowed")
	})

	return router
}

// statusRecorder captures the status code for metrics and logs.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	if s.status == 0 {
		s.status = code
	}
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Write(p []byte) (int, error) {
	if s.status == 0 {
		s.status = http.StatusOK
	}
	return s.ResponseWriter.Write(p)
}

func (s *statusRecorder) Unwrap() http.ResponseWriter {
	return s.ResponseWriter
}

// instrument records request metrics keyed by route template.
func (a *RESTAdapter) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		route := routeTemplate(r)
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w}

		a.metrics.RecordRequestStart(route)
		defer a.metrics.RecordRequestEnd(route)

		next.ServeHTTP(rec, r)

		if rec.status == 0 {
			rec.status = http.StatusOK
		}
		duration := time.Since(start)
		a.metrics.RecordRequest(route, r.Method, rec.status, duration)
		logger.Debug("%s %s -> %d (%s)", r.Method, r.URL.Path, rec.status, duration)
	})
}

func routeTemplate(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tmpl, err := route.GetPathTemplate(); err == nil {
			return tmpl
		}
	}
	return "unmatched"
}

// authenticate resolves the member and stores it in the request context.
func (a *RESTAdapter) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := a.identify(r)
		if err != nil {
			writeError(w, r, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(withMember(r.Context(), id)))
	})
}

// rateLimited rejects with 429 once the member's bucket is empty.
func (a *RESTAdapter) rateLimited(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := strconv.FormatInt(memberFrom(r.Context()), 10)
		if !a.limiter.Allow(key) {
			a.metrics.RecordRateLimited(routeTemplate(r))
			w.Header().Set("Retry-After", "1")
			writeStatus(w, r, http.StatusTooManyRequests, "TooManyRequests", "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// keyVar returns a route variable that must be a UUID.
func keyVar(r *http.Request, name string) (string, error) {
	return parseKey(name, mux.Vars(r)[name])
}

// parseKey accepts any form uuid.Parse does and returns the canonical
// lowercase form keys are stored in.
func parseKey(name, value string) (string, error) {
	u, err := uuid.Parse(value)
	if err != nil {
		return "", fileerr.New(fileerr.InvalidArgument, "parse "+name, "%s must be a UUID", name)
	}
	return u.String(), nil
}
