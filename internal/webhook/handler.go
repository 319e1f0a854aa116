package webhook

import (
	"io"
	"log/slog"
	"net/http"

	"github.com/mirkogalizia/checkout-obliqpay-sub000/internal/common/api"
	"github.com/mirkogalizia/checkout-obliqpay-sub000/internal/common/errs"
)

// maxPayloadBytes bounds webhook bodies; provider events are small.
const maxPayloadBytes = int64(65536)

// SignatureHeader is the header carrying the provider signature.
const SignatureHeader = "Stripe-Signature"

// Handler receives provider webhook deliveries.
//
// Response policy per failure class: a signature failure is a client error
// (400, no mutation happened); a transient store or registry failure is a
// server error (502) so the provider retries; an authenticated event that
// failed only at order creation is acknowledged (200) with a pending status,
// because the provider cannot fix it by retrying and the session stays
// unprocessed for the out-of-band reconciliation pass.
type Handler struct {
	reconciler *Reconciler
	logger     *slog.Logger
}

// NewHandler creates a webhook handler.
func NewHandler(reconciler *Reconciler, logger *slog.Logger) *Handler {
	return &Handler{reconciler: reconciler, logger: logger}
}

// ServeHTTP handles incoming provider webhook requests.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxPayloadBytes)
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		h.logger.Error("failed to read webhook body", "error", err)
		api.BadRequest(w, "failed to read body")
		return
	}
	defer r.Body.Close()

	outcome, err := h.reconciler.Reconcile(r.Context(), payload, r.Header.Get(SignatureHeader))
	if err != nil {
		h.writeError(w, err)
		return
	}

	api.WriteData(w, http.StatusOK, outcome)
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errs.IsSignature(err):
		api.WriteError(w, http.StatusBadRequest, api.ErrCodeSignature, "signature verification failed")
	case errs.IsOrderCreation(err):
		h.logger.Error("order creation failed after confirmed payment", "error", err)
		api.WriteData(w, http.StatusOK, Outcome{Status: StatusAcceptedPendingOrder})
	default:
		h.logger.Error("webhook reconciliation failed", "error", err)
		api.WriteError(w, http.StatusBadGateway, api.ErrCodeUpstream, "temporary failure, retry later")
	}
}
