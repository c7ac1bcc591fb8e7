package proxy

import (
	"compress/gzip"
	"context"
	"io"
	"net/http"
)

// Options configures the Middleware.
type Options struct {
	// Backend spawns the service processes. Required.
	Backend BackendFunc

	// AutoDeploy accepts any session the inner handler left Pending,
	// rejecting unknown requests with 403. Without it, untouched
	// sessions are rejected.
	AutoDeploy bool
}

type serviceKey struct{}

// FromContext returns the Service the middleware attached to a
// request, or nil when there is none.
func FromContext(ctx context.Context) *Service {
	s, _ := ctx.Value(serviceKey{}).(*Service)
	return s
}

// Middleware wraps a handler with the smart protocol boundary: it
// classifies each request, attaches a Service to the request context
// for the inner handler to accept or reject, and writes the resulting
// response once the handler returns. Request bodies sent with
// Content-Encoding gzip are decompressed before the engine sees them.
//
// The inner handler may also ignore the request entirely; what happens
// then is governed by Options.AutoDeploy.
func Middleware(opts Options) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			body, err := requestBody(r)
			if err != nil {
				http.Error(w, "malformed request body", http.StatusBadRequest)
				return
			}

			s := NewService(opts.Backend, r.Method, r.URL.Path,
				r.URL.Query(), r.Header.Get("Content-Type"), body)

			ctx := context.WithValue(r.Context(), serviceKey{}, s)
			next.ServeHTTP(w, r.WithContext(ctx))

			if s.Status() == Pending {
				if opts.AutoDeploy && s.Type() != Unknown {
					// a failed Accept installs its own 500 response
					_ = s.Accept(r.Context())
				} else {
					s.Reject(0, "")
				}
			}

			respond(w, s)
		})
	}
}

func requestBody(r *http.Request) (io.Reader, error) {
	if r.Body == nil || r.Method != http.MethodPost {
		return nil, nil
	}

	if r.Header.Get("Content-Encoding") != "gzip" {
		return r.Body, nil
	}

	return gzip.NewReader(r.Body)
}

func respond(w http.ResponseWriter, s *Service) {
	defer s.Close()

	w.Header().Set("Content-Type", s.ResponseType())
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(s.StatusCode())

	body := s.Body()
	if body == nil {
		return
	}

	_, _ = io.Copy(flushWriter{w}, body)
}

// flushWriter flushes after every chunk so progress reaches the client
// while the backend is still streaming.
type flushWriter struct {
	w http.ResponseWriter
}

func (f flushWriter) Write(p []byte) (int, error) {
	n, err := f.w.Write(p)
	if fl, ok := f.w.(http.Flusher); ok {
		fl.Flush()
	}

	return n, err
}
