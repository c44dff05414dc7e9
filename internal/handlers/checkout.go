package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/storefrontapp/storefront/internal/gateway"
	"github.com/storefrontapp/storefront/internal/models"
	"github.com/storefrontapp/storefront/internal/services"
)

type checkoutRequest struct {
	CartItems       []cartItem           `json:"cartItems"`
	CustomerInfo    customerInfo         `json:"customerInfo"`
	TotalAmount     decimal.Decimal      `json:"totalAmount"`
	ShippingAddress shippingAddress      `json:"shippingAddress"`
	PaymentMethod   models.PaymentMethod `json:"paymentMethod"`
}

type cartItem struct {
	ProductID string          `json:"productId"`
	Name      string          `json:"name"`
	Quantity  int             `json:"quantity"`
	Price     decimal.Decimal `json:"price"`
}

type customerInfo struct {
	UserID string `json:"userId"`
	Name   string `json:"name"`
	Email  string `json:"email"`
	Phone  string `json:"phone"`
}

type shippingAddress struct {
	Line1      string `json:"line1"`
	Line2      string `json:"line2"`
	City       string `json:"city"`
	State      string `json:"state"`
	PostalCode string `json:"postalCode"`
	Country    string `json:"country"`
}

// String flattens the address into the single line stored on the order.
func (a shippingAddress) String() string {
	region := strings.TrimSpace(strings.TrimSpace(a.State) + " " + strings.TrimSpace(a.PostalCode))
	parts := make([]string, 0, 5)
	for _, part := range []string{a.Line1, a.Line2, a.City, region, a.Country} {
		if part = strings.TrimSpace(part); part != "" {
			parts = append(parts, part)
		}
	}
	return strings.Join(parts, ", ")
}

type checkoutResponse struct {
	Success           bool          `json:"success"`
	PaymentSessionRef string        `json:"paymentSessionRef,omitempty"`
	RedirectURL       string        `json:"redirectURL,omitempty"`
	OrderRef          string        `json:"orderRef,omitempty"`
	Order             *models.Order `json:"order,omitempty"`
}

func (h *Handlers) Checkout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := h.loggerFromContext(ctx)

	var body checkoutRequest
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(ctx, w, http.StatusBadRequest, codeInvalidJSON, err.Error())
		return
	}

	items := make([]models.LineItem, 0, len(body.CartItems))
	for _, item := range body.CartItems {
		items = append(items, models.LineItem{
			ProductID: strings.TrimSpace(item.ProductID),
			Name:      strings.TrimSpace(item.Name),
			Quantity:  item.Quantity,
			UnitPrice: item.Price,
		})
	}

	result, err := h.reconciler.InitiateCheckout(ctx, services.CheckoutRequest{
		Items: items,
		Customer: gateway.Customer{
			UserID: strings.TrimSpace(body.CustomerInfo.UserID),
			Name:   body.CustomerInfo.Name,
			Email:  body.CustomerInfo.Email,
			Phone:  body.CustomerInfo.Phone,
		},
		ShippingAddress: body.ShippingAddress.String(),
		TotalAmount:     body.TotalAmount,
		PaymentMethod:   body.PaymentMethod,
	})
	if err != nil {
		var gatewayErr *gateway.Error
		switch {
		case errors.Is(err, services.ErrInvalidCheckout):
			writeError(ctx, w, http.StatusBadRequest, codeValidationFailed, err.Error())
		case errors.As(err, &gatewayErr):
			writeError(ctx, w, http.StatusBadGateway, codeGatewayError, "Payment provider rejected the request, please try again")
		default:
			logger.Error("checkout failed", "error", err)
			writeError(ctx, w, http.StatusInternalServerError, codeInternalError, "Checkout failed, please try again")
		}
		return
	}

	if result.Order != nil {
		writeJSON(ctx, w, http.StatusCreated, checkoutResponse{Success: true, Order: result.Order})
		return
	}
	writeJSON(ctx, w, http.StatusOK, checkoutResponse{
		Success:           true,
		PaymentSessionRef: result.SessionRef,
		RedirectURL:       result.RedirectURL,
		OrderRef:          result.OrderRef,
	})
}
