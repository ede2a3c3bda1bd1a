// Package ingress is the HTTP edge of the sync engine: a Host-routed
// multi-tenant webhook receiver plus a health endpoint. Everything
// behind it (signature verification, decoding, dispatch) belongs to the
// Event Processor; this package only resolves the tenant, reads the raw
// body, and maps typed error categories onto HTTP status codes.
package ingress

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"github.com/dbashand/stripe-sync-engine/internal/ekind"
	"github.com/dbashand/stripe-sync-engine/internal/ep"
	"github.com/dbashand/stripe-sync-engine/internal/util/diag"
)

// SignatureHeader is the provider's signature header name.
const SignatureHeader = "Stripe-Signature"

// maxBodyBytes bounds how much of a request body the receiver will
// read. Provider event envelopes are well under this.
const maxBodyBytes = 1 << 20

// EventProcessor is the slice of the Event Processor the receiver
// needs. *ep.Processor satisfies it.
type EventProcessor interface {
	Process(ctx context.Context, accountID string, raw []byte, signatureHeader string) (ep.Result, error)
}

// Config controls the receiver's routes.
type Config struct {
	// WebhookPath is the path events arrive on, "/webhooks" by default.
	WebhookPath string
}

// Server routes webhook traffic by Host header to the owning tenant.
type Server struct {
	cfg        Config
	tenants    Tenants
	processor  EventProcessor
	diags      *diag.Diagnostics
	containers ContainerManager
}

// New constructs a Server over tenants and processor. diags may be nil,
// in which case /health always reports ok.
func New(cfg Config, tenants Tenants, processor EventProcessor, diags *diag.Diagnostics) *Server {
	if cfg.WebhookPath == "" {
		cfg.WebhookPath = "/webhooks"
	}
	return &Server{cfg: cfg, tenants: tenants, processor: processor, diags: diags}
}

// Router builds the http.Handler serving the webhook and health routes.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Post(s.cfg.WebhookPath, s.handleWebhook)
	r.Get("/health", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	if s.containers != nil {
		s.mountContainerRoutes(r)
	}
	return r
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	host := normalizeHost(r.Host)
	merchant, err := s.tenants.ByHost(r.Context(), host)
	if err != nil {
		writeError(w, err)
		return
	}
	if merchant == nil {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "unknown host"})
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "unreadable body"})
		return
	}

	result, err := s.processor.Process(r.Context(), merchant.AccountID, body, r.Header.Get(SignatureHeader))
	if err != nil {
		log.WithError(err).WithFields(log.Fields{
			"host":    host,
			"account": merchant.AccountID,
		}).Info("webhook rejected")
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"received": result.Received})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.diags != nil {
		if name, err := s.diags.RunAll(r.Context()); err != nil {
			log.WithError(err).WithField("check", name).Warn("health check failed")
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "unhealthy", "check": name})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

// writeError maps a typed error category onto the HTTP surface:
// signature and decode failures are the caller's fault, missing tenants
// are 404, everything downstream is a 5xx.
func writeError(w http.ResponseWriter, err error) {
	switch ekind.Of(err) {
	case ekind.Signature:
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid signature"})
	case ekind.NotFound:
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "not found"})
	case ekind.Transient:
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"error": "temporarily unavailable"})
	default:
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "internal error"})
	}
}

func decodeJSONBody(r *http.Request, into any) error {
	defer func() { _ = r.Body.Close() }()
	return json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(into)
}

func writeJSON(w http.ResponseWriter, status int, body map[string]any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// normalizeHost strips any port and lowercases, so "A.Example:8443"
// routes the same as "a.example".
func normalizeHost(host string) string {
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	return strings.ToLower(host)
}
