package services

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/storefrontapp/storefront/internal/catalog"
	"github.com/storefrontapp/storefront/internal/email"
	"github.com/storefrontapp/storefront/internal/models"
)

// ShopInfo is the storefront identity printed in customer emails.
type ShopInfo struct {
	Name string
	URL  string
}

// BuildOrderInfo builds a consistent OrderInfo payload for email templates.
// eventDate is the moment of the transition being announced; zero means now.
func BuildOrderInfo(shop ShopInfo, order *models.Order, methods *catalog.Methods, eventDate time.Time) *email.OrderInfo {
	if eventDate.IsZero() {
		eventDate = time.Now()
	}
	info := &email.OrderInfo{
		ShopName:  shop.Name,
		ShopURL:   shop.URL,
		EventDate: eventDate.Format("January 2, 2006"),
	}
	if order == nil {
		return info
	}

	customerName := strings.TrimSpace(order.CustomerName)
	if customerName == "" {
		customerName = "there"
	}

	orderDate := order.CreatedAt
	if orderDate.IsZero() {
		orderDate = eventDate
	}

	items := make([]email.OrderItem, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, email.OrderItem{
			Name:       itemName(item),
			Quantity:   item.Quantity,
			UnitPrice:  formatPrice(item.UnitPrice),
			TotalPrice: formatPrice(item.UnitPrice.Mul(decimal.NewFromInt(int64(item.Quantity)))),
		})
	}

	info.OrderNumber = OrderNumber(order)
	info.CustomerName = customerName
	info.CustomerEmail = strings.TrimSpace(order.CustomerEmail)
	info.PaymentMethod = methods.Label(order.Payment.Method)
	info.PaymentStatus = string(order.Payment.Status)
	info.ShippingAddress = strings.TrimSpace(order.ShippingAddress)
	info.Phone = order.Phone
	info.TrackingNumber = order.TrackingNumber
	info.TrackingURL = order.TrackingURL
	info.TrackingCarrier = order.Carrier
	info.OrderDate = orderDate.Format("January 2, 2006")
	info.Items = items
	info.Total = formatPrice(order.TotalPrice)
	info.Refunded = order.Payment.Status == models.PaymentRefunded
	return info
}

// OrderNumber is the short customer-facing form of an order id.
func OrderNumber(order *models.Order) string {
	id := strings.ReplaceAll(order.ID.String(), "-", "")
	return "#" + strings.ToUpper(id[:8])
}

func formatPrice(amount decimal.Decimal) string {
	return amount.StringFixed(2)
}

func itemName(item models.LineItem) string {
	if name := strings.TrimSpace(item.Name); name != "" {
		return name
	}
	return item.ProductID
}
