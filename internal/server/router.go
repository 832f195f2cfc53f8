package server

import (
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/nowplaying/internal/shared"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// DefaultCallbackPath is used when the redirect URI has no path.
const DefaultCallbackPath = "/callback"

// NewRouter creates a chi router with request ids, real client addresses, panic recovery and request logging.
//
// Extra middleware runs after the built-in stack.
func NewRouter(logger *log.Logger, extra ...Middleware) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(RequestLogger(logger))
	r.Use(middleware.Recoverer)
	for _, m := range extra {
		r.Use(m)
	}
	return r
}

// Register mounts h on every path returned by [Handler.Routes].
func Register(r chi.Router, h Handler) {
	for _, route := range h.Routes() {
		r.Handle(route, h)
	}
}

// RequestLogger logs one line per request with the status, size and duration.
func RequestLogger(logger *log.Logger) Middleware {
	logger = shared.WithLogger(logger, "component", "http")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()

			next.ServeHTTP(ww, r)

			logger.Debug("request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"elapsed", time.Since(start),
				"request_id", middleware.GetReqID(r.Context()),
			)
		})
	}
}

// CORS lets the browser widget served from frontendURL call the API. An empty frontendURL disables it.
func CORS(frontendURL string) Middleware {
	origin := originOf(frontendURL)
	return func(next http.Handler) http.Handler {
		if origin == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Origin") == origin {
				h := w.Header()
				h.Set("Access-Control-Allow-Origin", origin)
				h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
				h.Set("Access-Control-Allow-Headers", "Content-Type")
				h.Add("Vary", "Origin")
			}
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func originOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ""
	}
	return u.Scheme + "://" + u.Host
}

// CallbackPath extracts the path component of an OAuth redirect URI.
func CallbackPath(redirectURI string) string {
	u, err := url.Parse(redirectURI)
	if err != nil || strings.Trim(u.Path, "/") == "" {
		return DefaultCallbackPath
	}
	return u.Path
}
