package billing

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/billsync/pkg/httputil"
	"github.com/platinummonkey/billsync/pkg/observability"
)

const (
	// DefaultSignatureHeader carries the provider signature
	DefaultSignatureHeader = "Stripe-Signature"

	// DefaultMaxBodyBytes bounds the webhook body
	DefaultMaxBodyBytes int64 = 1 << 20
)

// WebhookConfig configures the webhook endpoint
type WebhookConfig struct {
	SignatureHeader string
	MaxBodyBytes    int64
}

// WebhookHandler is the inbound billing event endpoint
type WebhookHandler struct {
	verifier  *Verifier
	processor *Processor
	logger    logrus.FieldLogger
	header    string
	maxBody   int64
}

// NewWebhookHandler creates the endpoint
func NewWebhookHandler(verifier *Verifier, processor *Processor, logger logrus.FieldLogger, config WebhookConfig) *WebhookHandler {
	if config.SignatureHeader == "" {
		config.SignatureHeader = DefaultSignatureHeader
	}
	if config.MaxBodyBytes <= 0 {
		config.MaxBodyBytes = DefaultMaxBodyBytes
	}
	return &WebhookHandler{
		verifier:  verifier,
		processor: processor,
		logger:    logger.WithField("component", "billing_webhook"),
		header:    config.SignatureHeader,
		maxBody:   config.MaxBodyBytes,
	}
}

// RegisterRoutes registers the webhook routes
func (h *WebhookHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/webhooks/billing", h.ServeHTTP).Methods(http.MethodPost)
	router.HandleFunc("/webhooks/stripe", h.ServeHTTP).Methods(http.MethodPost)
}

// ServeHTTP handles POST /webhooks/billing.
// 200 accepted (including duplicates and ignored types), 400 invalid
// signature or body, 500 redeliver.
func (h *WebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	logger := observability.FromContext(r.Context(), h.logger)

	payload, err := httputil.ReadBody(r, h.maxBody)
	if err != nil {
		if errors.Is(err, httputil.ErrBodyTooLarge) {
			httputil.WriteBadRequest(w, "request body too large")
			return
		}
		httputil.WriteBadRequest(w, "failed to read request body")
		return
	}

	ev, err := h.verifier.Verify(payload, r.Header.Get(h.header))
	if err != nil {
		switch {
		case errors.Is(err, ErrConfig):
			logger.WithError(err).Error("Webhook verifier is not configured")
			httputil.WriteInternalError(w)
		case errors.Is(err, ErrSignatureInvalid):
			logger.WithError(err).Warn("Rejected billing event with invalid signature")
			httputil.WriteBadRequest(w, "invalid signature")
		default:
			logger.WithError(err).Warn("Rejected malformed billing event")
			httputil.WriteBadRequest(w, "malformed event")
		}
		return
	}

	ctx := observability.WithLogger(r.Context(), h.logger.WithFields(logrus.Fields{
		"livemode":  ev.Livemode,
		"component": "billing",
	}))
	result, err := h.processor.Process(ctx, ev)
	if err != nil {
		if errors.Is(err, ErrMalformedEvent) {
			httputil.WriteBadRequest(w, "malformed event")
			return
		}
		httputil.WriteErrorMessage(w, http.StatusInternalServerError, "event processing failed, retry later")
		return
	}

	_ = httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"received": true,
		"event_id": result.EventID,
		"status":   result.Disposition,
	})
}
