// Package api exposes the screening pipeline over HTTP.
package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/segmentio/kafka-go"
	log "github.com/sirupsen/logrus"

	"github.com/commentwatch/moderator/internal/metrics"
	"github.com/commentwatch/moderator/internal/moderation"
	"github.com/commentwatch/moderator/internal/ratelimit"
)

// maxTextBytes caps the body of /check.
const maxTextBytes = 64 << 10

// Screener is the filter holder. *moderation.Screener implements it.
type Screener interface {
	Screen(ctx context.Context, text string) moderation.Verdict
	Reload() *moderation.Filter
}

// MessageWriter ships request logs. *kafka.Writer implements it.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// Limiter throttles callers. *ratelimit.Limiter implements it.
type Limiter interface {
	Allow(ctx context.Context, identifier string, rule ratelimit.Rule) (bool, error)
}

// HealthCheck reports whether a dependency is usable.
type HealthCheck func(ctx context.Context) error

type API struct {
	ServiceName string

	r        *mux.Router
	screener Screener
	kw       MessageWriter
	checks   map[string]HealthCheck
	limiter  Limiter

	proxies    []*net.IPNet
	adminToken string
}

// New creates the API. kw may be nil to disable request-log shipping.
func New(name string, screener Screener, kw MessageWriter, checks map[string]HealthCheck) *API {
	api := API{
		ServiceName: name,
		r:           mux.NewRouter(),
		screener:    screener,
		kw:          kw,
		checks:      checks,
	}
	api.endpoints()

	return &api
}

// SetLimiter throttles POST /check per client IP. A nil limiter disables it.
func (api *API) SetLimiter(l Limiter) {
	api.limiter = l
}

// SetTrustedProxies lists the reverse proxies, as addresses or CIDR ranges,
// whose X-Forwarded-For header is believed. With none, the header is ignored.
func (api *API) SetTrustedProxies(proxies []string) error {
	nets := make([]*net.IPNet, 0, len(proxies))
	for _, p := range proxies {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if !strings.Contains(p, "/") {
			ip := net.ParseIP(p)
			if ip == nil {
				return fmt.Errorf("api: trusted proxy %q is not an IP address", p)
			}
			bits := 8 * net.IPv6len
			if ip4 := ip.To4(); ip4 != nil {
				ip, bits = ip4, 8*net.IPv4len
			}
			nets = append(nets, &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)})
			continue
		}
		_, cidr, err := net.ParseCIDR(p)
		if err != nil {
			return fmt.Errorf("api: trusted proxy %q: %w", p, err)
		}
		nets = append(nets, cidr)
	}
	api.proxies = nets
	return nil
}

// SetAdminToken opens POST /reload to callers sending token in the
// X-Admin-Token header. With an empty token the endpoint stays closed.
func (api *API) SetAdminToken(token string) {
	api.adminToken = token
}

func (api *API) Router() *mux.Router {
	return api.r
}

func (api *API) endpoints() {
	api.r.Use(api.requestIDMiddleware)
	if api.kw != nil {
		api.r.Use(api.loggingMiddleware(api.kw))
	}

	api.r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	j := api.r.NewRoute().Subrouter()
	j.Use(api.headerMiddleware)
	j.Handle("/check", api.rateLimitMiddleware(http.HandlerFunc(api.checkText))).Methods(http.MethodPost)
	j.Handle("/reload", api.adminMiddleware(http.HandlerFunc(api.reload))).Methods(http.MethodPost)
	j.HandleFunc("/healthz", api.health).Methods(http.MethodGet)
}

type checkRequest struct {
	Text string `json:"text"`
}

func (api *API) checkText(w http.ResponseWriter, r *http.Request) {
	reqID := GetRequestID(r.Context())
	sID := shorten(reqID)

	var req checkRequest
	err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxTextBytes)).Decode(&req)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		log.Debugf("[checkText][%s] failed to decode request body: %v", sID, err)
		return
	}
	defer r.Body.Close()

	res := moderation.ModerationResult{
		RequestID: reqID,
		Source:    "http",
		Verdict:   api.screener.Screen(r.Context(), req.Text),
		LowEffort: moderation.IsLowEffort(req.Text),
	}
	if res.Flagged() {
		log.Infof("[checkText][%s] flagged reason=%s rule=%s", sID, res.Reason, res.Rule)
	}

	writeJSON(w, http.StatusOK, res)
}

func (api *API) reload(w http.ResponseWriter, r *http.Request) {
	f := api.screener.Reload()
	vocab := f.Vocabulary()

	log.Infof("[reload][%s] vocabulary reloaded", shorten(GetRequestID(r.Context())))
	writeJSON(w, http.StatusOK, map[string]int{
		"bad_words":       len(vocab.BadWords()),
		"technical_terms": len(vocab.TechnicalTerms()),
	})
}

func (api *API) health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	deps := make(map[string]string, len(api.checks))
	for name, check := range api.checks {
		if err := check(ctx); err != nil {
			deps[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		deps[name] = "ok"
	}

	body := map[string]any{"status": "ok", "deps": deps}
	if status != http.StatusOK {
		body["status"] = "degraded"
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Errorf("[writeJSON] failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// shorten truncates a request ID for log lines.
func shorten(s string) string {
	if len(s) > 6 {
		return s[:6] + "..."
	}
	return s
}

// clientIP returns the peer address. Behind a trusted proxy the
// X-Forwarded-For chain is read right to left and the first hop that is not
// itself a trusted proxy wins; hops further left are client-supplied.
func (api *API) clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	if !api.isTrustedProxy(host) {
		return host
	}

	hops := strings.Split(r.Header.Get("X-Forwarded-For"), ",")
	for i := len(hops) - 1; i >= 0; i-- {
		hop := strings.TrimSpace(hops[i])
		if hop == "" {
			continue
		}
		if !api.isTrustedProxy(hop) {
			return hop
		}
		host = hop
	}
	return host
}

func (api *API) isTrustedProxy(host string) bool {
	ip := net.ParseIP(host)
	if ip == nil {
		return false
	}
	for _, n := range api.proxies {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

// tokenMatches compares in constant time.
func tokenMatches(got, want string) bool {
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}
