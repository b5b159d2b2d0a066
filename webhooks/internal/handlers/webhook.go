package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/synergy-rentals/srg-stack/common/httputil"
	"github.com/synergy-rentals/srg-stack/common/logging"
	"github.com/synergy-rentals/srg-stack/webhooks/internal/coordinator"
	"github.com/synergy-rentals/srg-stack/webhooks/internal/gatekeeper"
	"github.com/synergy-rentals/srg-stack/webhooks/internal/models"
	"github.com/synergy-rentals/srg-stack/webhooks/internal/ratelimit"
)

// Receiver is the pipeline entry point the webhook handler feeds.
type Receiver interface {
	Receive(ctx context.Context, d coordinator.Delivery) (*coordinator.Receipt, error)
}

type WebhookConfig struct {
	SignatureHeader  string
	EventIDHeader    string
	MaxBodyBytes     int64
	DefaultAccountID string
}

type WebhookHandler struct {
	receiver Receiver
	limiter  ratelimit.RateLimiter
	cfg      WebhookConfig
	logger   *slog.Logger
}

func NewWebhookHandler(receiver Receiver, limiter ratelimit.RateLimiter, cfg WebhookConfig, logger *slog.Logger) *WebhookHandler {
	if limiter == nil {
		limiter = &ratelimit.NoOpRateLimiter{}
	}
	if cfg.SignatureHeader == "" {
		cfg.SignatureHeader = "X-Guesty-Signature"
	}
	if cfg.EventIDHeader == "" {
		cfg.EventIDHeader = "X-Guesty-Event-Id"
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 20
	}
	return &WebhookHandler{receiver: receiver, limiter: limiter, cfg: cfg, logger: logging.OrDiscard(logger)}
}

type acceptedResponse struct {
	Accepted bool   `json:"accepted"`
	EventID  string `json:"eventId"`
	RecordID string `json:"recordId,omitempty"`
}

type rejectedResponse struct {
	Error    string `json:"error"`
	Accepted bool   `json:"accepted"`
	EventID  string `json:"eventId,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

// HandleGuesty receives POST /webhooks/guesty[/{accountID}]. The response
// reflects admission only; processing happens asynchronously.
func (h *WebhookHandler) HandleGuesty(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	accountID := r.PathValue("accountID")
	if accountID == "" {
		accountID = h.cfg.DefaultAccountID
	}
	if accountID == "" {
		httputil.WriteError(w, http.StatusUnauthorized, "unknown account")
		return
	}

	allowed, err := h.limiter.Allow(ctx, accountID)
	if err != nil {
		h.logger.WarnContext(ctx, "rate limiter unavailable, allowing delivery", logging.AccountID(accountID), logging.Error(err))
	} else if !allowed {
		httputil.WriteError(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	body, err := httputil.ReadBody(w, r, h.cfg.MaxBodyBytes)
	if err != nil {
		if errors.Is(err, httputil.ErrBodyTooLarge) {
			httputil.WriteError(w, http.StatusRequestEntityTooLarge, "payload too large")
			return
		}
		httputil.WriteError(w, http.StatusBadRequest, "failed to read body")
		return
	}

	receipt, err := h.receiver.Receive(ctx, coordinator.Delivery{
		AccountID:     accountID,
		Body:          body,
		Signature:     r.Header.Get(h.cfg.SignatureHeader),
		EventIDHeader: r.Header.Get(h.cfg.EventIDHeader),
	})
	if err == nil {
		httputil.WriteJSON(w, http.StatusOK, acceptedResponse{
			Accepted: true,
			EventID:  receipt.EventID,
			RecordID: receipt.RecordID,
		})
		return
	}

	status, msg := admissionStatus(receipt, err)
	if status >= http.StatusInternalServerError {
		h.logger.ErrorContext(ctx, "webhook admission failed", logging.AccountID(accountID), logging.Error(err))
	}
	resp := rejectedResponse{Error: msg}
	if receipt != nil {
		resp.EventID = receipt.EventID
		resp.Reason = receipt.Reason
	}
	httputil.WriteJSON(w, status, resp)
}

// admissionStatus maps an admission error to its HTTP status. Rejections
// caused by our own lookups failing are 500 so Guesty retries them.
func admissionStatus(receipt *coordinator.Receipt, err error) (int, string) {
	switch {
	case errors.Is(err, models.ErrMalformedPayload):
		return http.StatusBadRequest, "invalid JSON payload"
	case errors.Is(err, models.ErrUnknownAccount):
		return http.StatusUnauthorized, "unknown account"
	case errors.Is(err, models.ErrAuthentication):
		return http.StatusBadRequest, "invalid signature"
	case errors.Is(err, models.ErrConfiguration):
		return http.StatusBadRequest, "webhook verification not configured"
	case errors.Is(err, models.ErrDuplicate):
		return http.StatusBadRequest, "duplicate event"
	case errors.Is(err, coordinator.ErrShuttingDown):
		return http.StatusServiceUnavailable, "service shutting down"
	}
	if receipt != nil {
		switch receipt.Reason {
		case gatekeeper.ReasonAccountLookupFailed, gatekeeper.ReasonReplayLookupFailed:
			return http.StatusInternalServerError, "internal error"
		}
		return http.StatusBadRequest, "webhook rejected"
	}
	return http.StatusInternalServerError, "internal error"
}
