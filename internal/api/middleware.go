package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	log "github.com/sirupsen/logrus"

	"github.com/commentwatch/moderator/internal/ratelimit"
)

type ctxKeyRequestID struct{}

var RequestIDKey = ctxKeyRequestID{}

// GetRequestID returns the request ID stored by requestIDMiddleware.
func GetRequestID(ctx context.Context) string {
	id, _ := ctx.Value(RequestIDKey).(string)
	return id
}

// LogEntry is one request log shipped to Kafka.
type LogEntry struct {
	Timestamp  time.Time `json:"timestamp"`
	IP         string    `json:"ip"`
	StatusCode int       `json:"status_code"`
	RequestID  string    `json:"request_id"`
	Method     string    `json:"method"`
	Path       string    `json:"path"`
	Duration   float64   `json:"duration_sec"`
	Service    string    `json:"service"`
}

func (api *API) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-Id")
		if reqID == "" {
			reqID = uuid.New().String()
			log.Debugf("[requestIDMiddleware] generated request ID:%s for %v", reqID, r.RemoteAddr)
		}

		w.Header().Set("X-Request-Id", reqID)
		ctx := context.WithValue(r.Context(), RequestIDKey, reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (api *API) headerMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

func (api *API) rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if api.limiter == nil {
			next.ServeHTTP(w, r)
			return
		}
		ip := api.clientIP(r)
		if ok, _ := api.limiter.Allow(r.Context(), ip, ratelimit.RuleCheck); !ok {
			w.Header().Set("Retry-After", strconv.Itoa(int(ratelimit.RuleCheck.Window.Seconds())))
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			log.Debugf("[rateLimitMiddleware][%s] throttled %s", shorten(GetRequestID(r.Context())), ip)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// adminMiddleware guards maintenance endpoints with the admin token.
func (api *API) adminMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if api.adminToken == "" {
			writeError(w, http.StatusForbidden, "admin endpoints are disabled")
			return
		}
		if !tokenMatches(r.Header.Get("X-Admin-Token"), api.adminToken) {
			writeError(w, http.StatusUnauthorized, "invalid admin token")
			log.Warnf("[adminMiddleware][%s] rejected %s %s from %s",
				shorten(GetRequestID(r.Context())), r.Method, r.URL.Path, api.clientIP(r))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (api *API) loggingMiddleware(kWriter MessageWriter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			lw := newResponseLogger(w)
			defer func() {
				entry := LogEntry{
					Timestamp:  time.Now(),
					IP:         api.clientIP(r),
					StatusCode: lw.Status(),
					RequestID:  GetRequestID(r.Context()),
					Method:     r.Method,
					Path:       r.URL.Path,
					Duration:   time.Since(start).Seconds(),
					Service:    api.ServiceName,
				}

				jsonEntry, err := json.Marshal(entry)
				if err != nil {
					log.Errorf("[loggingMiddleware] failed to marshal log entry for request %s", entry.RequestID)
					return
				}
				err = kWriter.WriteMessages(r.Context(), kafka.Message{Key: []byte(entry.RequestID), Value: jsonEntry})
				if err != nil {
					log.Errorf("[loggingMiddleware] failed to write log to Kafka: %v", err)
					return
				}
				log.Debugf("[loggingMiddleware] log entry sent to Kafka request_id:%s", entry.RequestID)
			}()

			next.ServeHTTP(lw, r)
		})
	}
}

// responseLogger records the status code written by a handler.
type responseLogger struct {
	w      http.ResponseWriter
	status int
}

func newResponseLogger(w http.ResponseWriter) *responseLogger {
	return &responseLogger{w, http.StatusOK}
}

func (l *responseLogger) WriteHeader(code int) {
	l.status = code
	l.w.WriteHeader(code)
}

func (l *responseLogger) Write(b []byte) (int, error) {
	return l.w.Write(b)
}

func (l *responseLogger) Header() http.Header {
	return l.w.Header()
}

func (l *responseLogger) Status() int {
	return l.status
}
