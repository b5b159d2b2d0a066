package handlers

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/synergy-rentals/srg-stack/common/httputil"
	"github.com/synergy-rentals/srg-stack/common/logging"
	"github.com/synergy-rentals/srg-stack/webhooks/internal/coordinator"
	"github.com/synergy-rentals/srg-stack/webhooks/internal/models"
	"github.com/synergy-rentals/srg-stack/webhooks/internal/repository"
	"github.com/synergy-rentals/srg-stack/webhooks/internal/signature"
)

const maxAdminBody = 64 << 10

// ConnectionTester checks an account's Guesty credentials end to end.
type ConnectionTester interface {
	TestConnection(ctx context.Context, accountID string) error
}

// StatsSource serves the dashboard's read surface.
type StatsSource interface {
	Stats(ctx context.Context) (*coordinator.Stats, error)
	Events(ctx context.Context, status models.EventStatus, limit int) ([]*models.EventRecord, error)
}

type AdminHandler struct {
	accounts repository.AccountRepository
	tester   ConnectionTester
	stats    StatsSource
	now      func() time.Time
	logger   *slog.Logger
}

func NewAdminHandler(accounts repository.AccountRepository, tester ConnectionTester, stats StatsSource, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{
		accounts: accounts,
		tester:   tester,
		stats:    stats,
		now:      time.Now,
		logger:   logging.OrDiscard(logger),
	}
}

type accountRequest struct {
	AccountID string `json:"accountId"`
}

type adminResponse struct {
	Success   bool   `json:"success"`
	Secret    string `json:"secret,omitempty"`
	Message   string `json:"message,omitempty"`
	Error     string `json:"error,omitempty"`
	Timestamp string `json:"timestamp"`
}

func (h *AdminHandler) timestamp() string {
	return h.now().UTC().Format(time.RFC3339)
}

func (h *AdminHandler) fail(w http.ResponseWriter, status int, msg string) {
	httputil.WriteJSON(w, status, adminResponse{Error: msg, Timestamp: h.timestamp()})
}

func (h *AdminHandler) decodeAccount(w http.ResponseWriter, r *http.Request) (string, bool) {
	var req accountRequest
	if err := httputil.DecodeJSON(w, r, maxAdminBody, &req); err != nil {
		h.fail(w, http.StatusBadRequest, "invalid request body")
		return "", false
	}
	if req.AccountID == "" {
		h.fail(w, http.StatusBadRequest, "accountId is required")
		return "", false
	}
	return req.AccountID, true
}

// GenerateSecret rotates an account's webhook secret and returns it once.
func (h *AdminHandler) GenerateSecret(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	accountID, ok := h.decodeAccount(w, r)
	if !ok {
		return
	}

	secret, err := signature.GenerateSecret()
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to generate webhook secret", logging.Error(err))
		h.fail(w, http.StatusInternalServerError, "failed to generate webhook secret")
		return
	}
	if err := h.accounts.SetWebhookSecret(ctx, accountID, secret); err != nil {
		if errors.Is(err, repository.ErrAccountNotFound) {
			h.fail(w, http.StatusNotFound, "account not found")
			return
		}
		h.logger.ErrorContext(ctx, "failed to store webhook secret", logging.AccountID(accountID), logging.Error(err))
		h.fail(w, http.StatusInternalServerError, "failed to store webhook secret")
		return
	}

	h.logger.InfoContext(ctx, "webhook secret rotated", logging.AccountID(accountID))
	httputil.WriteJSON(w, http.StatusOK, adminResponse{
		Success:   true,
		Secret:    secret,
		Message:   "Webhook secret generated. Store it in Guesty now; it will not be shown again.",
		Timestamp: h.timestamp(),
	})
}

// TestConnection exchanges a token and issues one Guesty API call.
func (h *AdminHandler) TestConnection(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	accountID, ok := h.decodeAccount(w, r)
	if !ok {
		return
	}

	if err := h.tester.TestConnection(ctx, accountID); err != nil {
		status := http.StatusBadGateway
		switch {
		case errors.Is(err, models.ErrUnknownAccount):
			status = http.StatusNotFound
		case errors.Is(err, models.ErrConfiguration):
			status = http.StatusBadRequest
		}
		h.logger.WarnContext(ctx, "guesty connection test failed", logging.AccountID(accountID), logging.Error(err))
		h.fail(w, status, "Connection test failed: "+err.Error())
		return
	}

	httputil.WriteJSON(w, http.StatusOK, adminResponse{
		Success:   true,
		Message:   "Connection test successful",
		Timestamp: h.timestamp(),
	})
}

func (h *AdminHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.stats.Stats(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "failed to load webhook stats", logging.Error(err))
		httputil.WriteError(w, http.StatusInternalServerError, "failed to load stats")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, stats)
}

type eventView struct {
	*models.EventSummary
	AccountID    string     `json:"accountId,omitempty"`
	VerifyError  string     `json:"verifyError,omitempty"`
	RejectReason string     `json:"rejectReason,omitempty"`
	ProcessedAt  *time.Time `json:"processedAt,omitempty"`
	ErrorMessage string     `json:"errorMessage,omitempty"`
}

// Events lists event records by status, newest first. Defaults to failed.
func (h *AdminHandler) Events(w http.ResponseWriter, r *http.Request) {
	status := models.EventStatus(r.URL.Query().Get("status"))
	if status == "" {
		status = models.StatusFailed
	}
	if !status.Valid() {
		httputil.WriteError(w, http.StatusBadRequest, "invalid status")
		return
	}
	limit := httputil.ParseLimit(r.URL.Query().Get("limit"), 50, 500)

	records, err := h.stats.Events(r.Context(), status, limit)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "failed to list events", logging.Error(err))
		httputil.WriteError(w, http.StatusInternalServerError, "failed to list events")
		return
	}

	views := make([]eventView, 0, len(records))
	for _, rec := range records {
		views = append(views, eventView{
			EventSummary: rec.Summary(),
			AccountID:    rec.AccountID,
			VerifyError:  rec.VerifyError,
			RejectReason: rec.RejectReason,
			ProcessedAt:  rec.ProcessedAt,
			ErrorMessage: rec.ErrorMessage,
		})
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"events": views, "count": len(views)})
}

// RequireAPIKey guards admin routes with a bearer key. An empty key leaves
// them open.
func RequireAPIKey(key string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if key == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := httputil.BearerToken(r)
			if subtle.ConstantTimeCompare([]byte(token), []byte(key)) != 1 {
				httputil.WriteError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
