package middleware

import (
	"net/http"
	"time"
)

// HTTPObserver records served requests. *metrics.Metrics implements it.
type HTTPObserver interface {
	ObserveHTTP(method, route string, status int, d time.Duration)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (s *statusRecorder) WriteHeader(code int) {
	if s.status == 0 {
		s.status = code
	}
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Write(b []byte) (int, error) {
	if s.status == 0 {
		s.status = http.StatusOK
	}
	n, err := s.ResponseWriter.Write(b)
	s.bytes += n
	return n, err
}

func (s *statusRecorder) Unwrap() http.ResponseWriter {
	return s.ResponseWriter
}

// AccessLog logs every request once it completes and reports it to obs,
// which may be nil. It must sit outside the ServeMux so the matched pattern
// is known afterwards.
func AccessLog(obs HTTPObserver) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w}
			next.ServeHTTP(rec, r)

			if rec.status == 0 {
				rec.status = http.StatusOK
			}
			elapsed := time.Since(start)
			route := r.Pattern
			if route == "" {
				route = "unmatched"
			}

			LoggerFrom(r.Context()).Info("HTTP request",
				"method", r.Method,
				"path", r.URL.Path,
				"route", route,
				"status", rec.status,
				"bytes", rec.bytes,
				"duration", elapsed)

			if obs != nil {
				obs.ObserveHTTP(r.Method, route, rec.status, elapsed)
			}
		})
	}
}
