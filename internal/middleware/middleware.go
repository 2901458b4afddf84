// Package middleware provides HTTP middleware for the triage console.
package middleware

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// StructuredLogger returns a middleware that logs HTTP requests with zap
func StructuredLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			// Wrap response writer to capture status code
			ww := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			info := &requestInfo{}
			next.ServeHTTP(ww, r.WithContext(context.WithValue(r.Context(), requestInfoContextKey, info)))

			fields := []zap.Field{
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.statusCode),
				zap.Duration("latency", time.Since(start)),
				zap.String("request_id", chimw.GetReqID(r.Context())),
			}
			if user := info.get(); user != "" {
				fields = append(fields, zap.String("user", user))
			}
			logger.Info("HTTP Request", fields...)
		})
	}
}

// requestInfo is filled in by handlers further down the chain and read back
// by StructuredLogger once the request is done
type requestInfo struct {
	mu   sync.Mutex
	user string
}

func (i *requestInfo) setUser(id string) {
	i.mu.Lock()
	i.user = id
	i.mu.Unlock()
}

func (i *requestInfo) get() string {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.user
}

// noteUser records the authenticated principal for the request log line
func noteUser(ctx context.Context, id string) {
	if info, ok := ctx.Value(requestInfoContextKey).(*requestInfo); ok {
		info.setUser(id)
	}
}

// SecureHeaders sets the response headers every console response carries
func SecureHeaders() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			w.Header().Set("X-Frame-Options", "DENY")
			w.Header().Set("Referrer-Policy", "no-referrer")
			w.Header().Set("Cache-Control", "no-store")
			next.ServeHTTP(w, r)
		})
	}
}

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimit enforces a per-client token bucket of requestsPerMinute, with a
// burst of the same size. Clients are keyed by remote IP; stale entries are
// cleaned every 5 minutes.
func RateLimit(requestsPerMinute int) func(http.Handler) http.Handler {
	if requestsPerMinute < 1 {
		requestsPerMinute = 1
	}
	every := rate.Limit(float64(requestsPerMinute) / 60)

	var (
		mu      sync.Mutex
		clients = make(map[string]*clientLimiter)
	)

	go func() {
		for {
			time.Sleep(5 * time.Minute)
			mu.Lock()
			for key, c := range clients {
				if time.Since(c.lastSeen) > 10*time.Minute {
					delete(clients, key)
				}
			}
			mu.Unlock()
		}
	}()

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := clientKey(r)

			mu.Lock()
			c, ok := clients[key]
			if !ok {
				c = &clientLimiter{limiter: rate.NewLimiter(every, requestsPerMinute)}
				clients[key] = c
			}
			c.lastSeen = time.Now()
			mu.Unlock()

			if !c.limiter.Allow() {
				w.Header().Set("Retry-After", "1")
				writeError(w, http.StatusTooManyRequests, "Rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write([]byte(`{"error": "` + message + `"}`))
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (w *responseWriter) WriteHeader(code int) {
	w.statusCode = code
	w.ResponseWriter.WriteHeader(code)
}
