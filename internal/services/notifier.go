package services

import (
	"context"
	"fmt"
	"time"

	"github.com/storefrontapp/storefront/internal/catalog"
	"github.com/storefrontapp/storefront/internal/email"
	"github.com/storefrontapp/storefront/internal/models"
)

// OrderNotifier tells customers about order lifecycle events. Callers treat
// every method as best-effort.
type OrderNotifier interface {
	OrderConfirmed(ctx context.Context, order *models.Order) error
	OrderShipped(ctx context.Context, order *models.Order) error
	OrderDelivered(ctx context.Context, order *models.Order) error
	OrderCancelled(ctx context.Context, order *models.Order) error
}

type EmailNotifier struct {
	provider email.Provider
	renderer *email.Renderer
	shop     ShopInfo
	methods  *catalog.Methods
	now      func() time.Time
}

func NewEmailNotifier(provider email.Provider, shop ShopInfo, methods *catalog.Methods) (*EmailNotifier, error) {
	if provider == nil {
		return nil, fmt.Errorf("email provider is required")
	}
	renderer, err := email.NewRenderer()
	if err != nil {
		return nil, fmt.Errorf("failed to create renderer: %w", err)
	}
	return &EmailNotifier{
		provider: provider,
		renderer: renderer,
		shop:     shop,
		methods:  methods,
		now:      time.Now,
	}, nil
}

func (n *EmailNotifier) OrderConfirmed(ctx context.Context, order *models.Order) error {
	return n.send(ctx, email.TemplateOrderConfirmation, order, order.CreatedAt)
}

func (n *EmailNotifier) OrderShipped(ctx context.Context, order *models.Order) error {
	return n.send(ctx, email.TemplateOrderShipped, order, order.ShippedAt)
}

func (n *EmailNotifier) OrderDelivered(ctx context.Context, order *models.Order) error {
	return n.send(ctx, email.TemplateOrderDelivered, order, order.DeliveredAt)
}

func (n *EmailNotifier) OrderCancelled(ctx context.Context, order *models.Order) error {
	return n.send(ctx, email.TemplateOrderCancelled, order, order.CancelledAt)
}

func (n *EmailNotifier) send(ctx context.Context, templateName string, order *models.Order, eventDate time.Time) error {
	if order == nil {
		return fmt.Errorf("order is required")
	}
	if order.CustomerEmail == "" {
		return nil
	}
	if eventDate.IsZero() {
		eventDate = n.now()
	}

	message, err := n.renderer.Render(templateName, BuildOrderInfo(n.shop, order, n.methods, eventDate))
	if err != nil {
		return fmt.Errorf("failed to render %s: %w", templateName, err)
	}
	if err := n.provider.SendEmail(ctx, message); err != nil {
		return fmt.Errorf("failed to send %s: %w", templateName, err)
	}
	return nil
}

type noopOrderNotifier struct{}

func (noopOrderNotifier) OrderConfirmed(context.Context, *models.Order) error { return nil }

func (noopOrderNotifier) OrderShipped(context.Context, *models.Order) error { return nil }

func (noopOrderNotifier) OrderDelivered(context.Context, *models.Order) error { return nil }

func (noopOrderNotifier) OrderCancelled(context.Context, *models.Order) error { return nil }
