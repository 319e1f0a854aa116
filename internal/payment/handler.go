package payment

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mirkogalizia/checkout-obliqpay-sub000/internal/checkout"
	"github.com/mirkogalizia/checkout-obliqpay-sub000/internal/common/api"
	"github.com/mirkogalizia/checkout-obliqpay-sub000/internal/common/errs"
	"github.com/mirkogalizia/checkout-obliqpay-sub000/internal/common/money"
)

// Handler handles checkout payment HTTP requests.
type Handler struct {
	manager *Manager
	logger  *slog.Logger
}

// NewHandler creates a new payment handler.
func NewHandler(manager *Manager, logger *slog.Logger) *Handler {
	return &Handler{manager: manager, logger: logger}
}

// Routes returns the payment routes.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/{sessionID}/payment", h.CreatePayment)
	return r
}

// CreatePaymentRequest is the API request for creating or refreshing a
// payment request.
type CreatePaymentRequest struct {
	SubtotalMinor int64           `json:"subtotal_minor" validate:"gte=0"`
	ShippingMinor int64           `json:"shipping_minor" validate:"gte=0"`
	DiscountMinor int64           `json:"discount_minor" validate:"gte=0"`
	Currency      string          `json:"currency" validate:"required,len=3"`
	Customer      CustomerPayload `json:"customer" validate:"required"`
}

// CustomerPayload is the customer section of a payment request.
type CustomerPayload struct {
	Email     string `json:"email" validate:"required,email"`
	FirstName string `json:"first_name" validate:"required"`
	LastName  string `json:"last_name" validate:"required"`
	Phone     string `json:"phone"`
	Address1  string `json:"address1" validate:"required"`
	Address2  string `json:"address2"`
	City      string `json:"city" validate:"required"`
	Zip       string `json:"zip" validate:"required"`
	Province  string `json:"province"`
	Country   string `json:"country" validate:"required,len=2"`
}

// CreatePayment handles POST /{sessionID}/payment
func (h *Handler) CreatePayment(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	var req CreatePaymentRequest
	if err := api.DecodeAndValidate(r, &req); err != nil {
		api.ValidationError(w, err)
		return
	}

	currency := money.Currency(req.Currency)
	totals := checkout.Totals{
		Subtotal: money.New(req.SubtotalMinor, currency),
		Shipping: money.New(req.ShippingMinor, currency),
		Discount: money.New(req.DiscountMinor, currency),
	}
	customer := checkout.CustomerInfo{
		Email:     req.Customer.Email,
		FirstName: req.Customer.FirstName,
		LastName:  req.Customer.LastName,
		Phone:     req.Customer.Phone,
		Address1:  req.Customer.Address1,
		Address2:  req.Customer.Address2,
		City:      req.Customer.City,
		Zip:       req.Customer.Zip,
		Province:  req.Customer.Province,
		Country:   req.Customer.Country,
	}

	result, err := h.manager.EnsurePaymentRequest(r.Context(), sessionID, totals, customer)
	if err != nil {
		h.writeError(w, sessionID, err)
		return
	}

	api.WriteData(w, http.StatusOK, result)
}

func (h *Handler) writeError(w http.ResponseWriter, sessionID string, err error) {
	switch {
	case errs.IsNotFound(err):
		api.NotFound(w, err.Error())
	case errs.IsValidation(err):
		api.WriteError(w, http.StatusUnprocessableEntity, api.ErrCodeValidation, err.Error())
	case errs.IsConfiguration(err):
		h.logger.Error("payment configuration error", "session_id", sessionID, "error", err)
		api.WriteError(w, http.StatusInternalServerError, api.ErrCodeConfiguration, "payment accounts are misconfigured")
	case errs.IsPaymentProvider(err):
		h.logger.Error("payment provider error", "session_id", sessionID, "error", err)
		api.WriteError(w, http.StatusBadGateway, api.ErrCodeUpstream, err.Error())
	default:
		h.logger.Error("payment request failed", "session_id", sessionID, "error", err)
		api.InternalError(w, "could not create payment request")
	}
}
