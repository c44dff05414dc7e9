package email

import (
	"bytes"
	"fmt"
	htmltemplate "html/template"
	texttemplate "text/template"
)

// OrderInfo is the data every order template renders from.
type OrderInfo struct {
	OrderNumber     string
	CustomerName    string
	CustomerEmail   string
	ShopName        string
	ShopURL         string
	PaymentMethod   string
	PaymentStatus   string
	ShippingAddress string
	Phone           string
	TrackingNumber  string
	TrackingURL     string
	TrackingCarrier string
	OrderDate       string
	EventDate       string
	Items           []OrderItem
	Total           string
	Refunded        bool
}

type OrderItem struct {
	Name       string
	Quantity   int
	UnitPrice  string
	TotalPrice string
}

const (
	TemplateOrderConfirmation = "order_confirmation"
	TemplateOrderShipped      = "order_shipped"
	TemplateOrderDelivered    = "order_delivered"
	TemplateOrderCancelled    = "order_cancelled"
)

type emailTemplate struct {
	Subject string
	HTML    string
	Text    string
}

var templates = map[string]emailTemplate{
	TemplateOrderConfirmation: {
		Subject: "Order Confirmed - {{.OrderNumber}} - {{.ShopName}}",
		HTML:    orderConfirmationHTML,
		Text:    orderConfirmationText,
	},
	TemplateOrderShipped: {
		Subject: "Your Order Has Shipped - {{.OrderNumber}} - {{.ShopName}}",
		HTML:    orderShippedHTML,
		Text:    orderShippedText,
	},
	TemplateOrderDelivered: {
		Subject: "Your Order Has Been Delivered - {{.OrderNumber}}",
		HTML:    orderDeliveredHTML,
		Text:    orderDeliveredText,
	},
	TemplateOrderCancelled: {
		Subject: "Your Order Was Cancelled - {{.OrderNumber}}",
		HTML:    orderCancelledHTML,
		Text:    orderCancelledText,
	},
}

// Renderer renders the built-in order templates. HTML bodies are escaped
// with html/template; subjects and text bodies use text/template.
type Renderer struct {
	html *htmltemplate.Template
	text *texttemplate.Template
}

func NewRenderer() (*Renderer, error) {
	html := htmltemplate.New("email")
	text := texttemplate.New("email")

	for key, t := range templates {
		if _, err := html.New(key).Parse(t.HTML); err != nil {
			return nil, fmt.Errorf("failed to parse HTML template %s: %w", key, err)
		}
		if _, err := text.New(key).Parse(t.Text); err != nil {
			return nil, fmt.Errorf("failed to parse text template %s: %w", key, err)
		}
		if _, err := text.New(key + "_subject").Parse(t.Subject); err != nil {
			return nil, fmt.Errorf("failed to parse subject template %s: %w", key, err)
		}
	}

	return &Renderer{html: html, text: text}, nil
}

func (r *Renderer) Render(templateName string, data *OrderInfo) (*Email, error) {
	if data == nil {
		return nil, fmt.Errorf("order info is required")
	}
	if _, ok := templates[templateName]; !ok {
		return nil, fmt.Errorf("unknown email template %q", templateName)
	}

	var htmlBuf, textBuf, subjectBuf bytes.Buffer
	if err := r.html.ExecuteTemplate(&htmlBuf, templateName, data); err != nil {
		return nil, fmt.Errorf("failed to render HTML template: %w", err)
	}
	if err := r.text.ExecuteTemplate(&textBuf, templateName, data); err != nil {
		return nil, fmt.Errorf("failed to render text template: %w", err)
	}
	if err := r.text.ExecuteTemplate(&subjectBuf, templateName+"_subject", data); err != nil {
		return nil, fmt.Errorf("failed to render subject: %w", err)
	}

	return &Email{
		To:      data.CustomerEmail,
		Subject: subjectBuf.String(),
		Text:    textBuf.String(),
		HTML:    htmlBuf.String(),
	}, nil
}

const orderConfirmationText = `Thank you for your order!

Order Number: {{.OrderNumber}}
Order Date: {{.OrderDate}}
Payment: {{.PaymentMethod}} ({{.PaymentStatus}})

Items:
{{range .Items}}- {{.Name}} x{{.Quantity}} - {{.TotalPrice}}
{{end}}
Total: {{.Total}}

Shipping to:
{{.ShippingAddress}}

We'll send you another email when your order ships.

Thank you for shopping with {{.ShopName}}!
{{.ShopURL}}
`

const orderConfirmationHTML = `<!DOCTYPE html>
<html>
<head>
  <meta charset="utf-8">
  <meta name="viewport" content="width=device-width, initial-scale=1.0">
  <title>Order Confirmation</title>
  <style>
    body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 20px; }
    .header { background: #2563eb; color: white; padding: 20px; text-align: center; border-radius: 8px 8px 0 0; }
    .content { background: #f9fafb; padding: 20px; border: 1px solid #e5e7eb; }
    .order-info { background: white; padding: 15px; border-radius: 6px; margin: 15px 0; }
    .items-table { width: 100%; border-collapse: collapse; margin: 15px 0; }
    .items-table th { text-align: left; padding: 10px; background: #f3f4f6; border-bottom: 2px solid #e5e7eb; }
    .items-table td { padding: 10px; border-bottom: 1px solid #e5e7eb; }
    .total { font-size: 18px; font-weight: bold; text-align: right; padding: 15px 0; }
    .footer { text-align: center; padding: 20px; color: #6b7280; font-size: 14px; }
  </style>
</head>
<body>
  <div class="header">
    <h1>Order Confirmed!</h1>
    <p>Thank you for your order, {{.CustomerName}}</p>
  </div>
  <div class="content">
    <div class="order-info">
      <strong>Order Number:</strong> {{.OrderNumber}}<br>
      <strong>Order Date:</strong> {{.OrderDate}}<br>
      <strong>Payment:</strong> {{.PaymentMethod}} ({{.PaymentStatus}})
    </div>

    <h3>Order Summary</h3>
    <table class="items-table">
      <thead>
        <tr><th>Item</th><th>Qty</th><th>Price</th></tr>
      </thead>
      <tbody>
        {{range .Items}}
        <tr><td>{{.Name}}</td><td>{{.Quantity}}</td><td>{{.TotalPrice}}</td></tr>
        {{end}}
      </tbody>
    </table>

    <div class="total"><p>Total: {{.Total}}</p></div>

    <h3>Shipping Address</h3>
    <p>{{.ShippingAddress}}</p>
    <p>We'll send you another email when your order ships.</p>
  </div>
  <div class="footer">
    <p>Thank you for shopping with <a href="{{.ShopURL}}">{{.ShopName}}</a></p>
  </div>
</body>
</html>
`

const orderShippedText = `Great news! Your order has shipped!

Order Number: {{.OrderNumber}}
Shipped Date: {{.EventDate}}
{{if .TrackingNumber}}
Tracking Number: {{.TrackingNumber}}
Carrier: {{.TrackingCarrier}}
{{if .TrackingURL}}Track your package: {{.TrackingURL}}{{end}}
{{end}}
Shipping Address:
{{.ShippingAddress}}

We'll let you know when your package is delivered!

Thank you for shopping with {{.ShopName}}!
{{.ShopURL}}
`

const orderShippedHTML = `<!DOCTYPE html>
<html>
<head>
  <meta charset="utf-8">
  <meta name="viewport" content="width=device-width, initial-scale=1.0">
  <title>Order Shipped</title>
  <style>
    body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 20px; }
    .header { background: #059669; color: white; padding: 20px; text-align: center; border-radius: 8px 8px 0 0; }
    .content { background: #f9fafb; padding: 20px; border: 1px solid #e5e7eb; }
    .tracking { background: white; padding: 20px; border-radius: 6px; margin: 15px 0; border-left: 4px solid #059669; }
    .tracking-number { font-size: 24px; font-weight: bold; color: #059669; }
    .button { display: inline-block; background: #059669; color: white; padding: 12px 24px; text-decoration: none; border-radius: 6px; margin-top: 15px; }
    .footer { text-align: center; padding: 20px; color: #6b7280; font-size: 14px; }
  </style>
</head>
<body>
  <div class="header">
    <h1>Your Order Has Shipped!</h1>
    <p>Great news, {{.CustomerName}}! Your order is on its way.</p>
  </div>
  <div class="content">
    <p><strong>Order Number:</strong> {{.OrderNumber}}</p>
    <p><strong>Shipped Date:</strong> {{.EventDate}}</p>
    {{if .TrackingNumber}}
    <div class="tracking">
      <p><strong>Carrier:</strong> {{.TrackingCarrier}}</p>
      <p class="tracking-number">{{.TrackingNumber}}</p>
      {{if .TrackingURL}}<a href="{{.TrackingURL}}" class="button">Track Your Package</a>{{end}}
    </div>
    {{end}}
    <h3>Shipping Address</h3>
    <p>{{.ShippingAddress}}</p>
    <p>We'll let you know when your package is delivered!</p>
  </div>
  <div class="footer">
    <p>Thank you for shopping with <a href="{{.ShopURL}}">{{.ShopName}}</a></p>
  </div>
</body>
</html>
`

const orderDeliveredText = `Your order has been delivered!

Order Number: {{.OrderNumber}}
Delivered Date: {{.EventDate}}

Your package should have arrived at:
{{.ShippingAddress}}

We hope you enjoy your purchase!

Thank you for shopping with {{.ShopName}}!
{{.ShopURL}}
`

const orderDeliveredHTML = `<!DOCTYPE html>
<html>
<head>
  <meta charset="utf-8">
  <meta name="viewport" content="width=device-width, initial-scale=1.0">
  <title>Order Delivered</title>
  <style>
    body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 20px; }
    .header { background: #7c3aed; color: white; padding: 20px; text-align: center; border-radius: 8px 8px 0 0; }
    .content { background: #f9fafb; padding: 20px; border: 1px solid #e5e7eb; }
    .footer { text-align: center; padding: 20px; color: #6b7280; font-size: 14px; }
  </style>
</head>
<body>
  <div class="header">
    <h1>Your Order Has Been Delivered!</h1>
    <p>Your package has arrived, {{.CustomerName}}!</p>
  </div>
  <div class="content">
    <p><strong>Order Number:</strong> {{.OrderNumber}}</p>
    <p><strong>Delivered Date:</strong> {{.EventDate}}</p>
    <h3>Delivered To</h3>
    <p>{{.ShippingAddress}}</p>
    <p>We hope you enjoy your purchase!</p>
  </div>
  <div class="footer">
    <p>Thank you for shopping with <a href="{{.ShopURL}}">{{.ShopName}}</a></p>
  </div>
</body>
</html>
`

const orderCancelledText = `Your order has been cancelled.

Order Number: {{.OrderNumber}}
Cancelled Date: {{.EventDate}}
{{if .Refunded}}
Your payment of {{.Total}} has been marked for refund.
{{end}}
If you did not request this cancellation, please reply to this email.

{{.ShopName}}
{{.ShopURL}}
`

const orderCancelledHTML = `<!DOCTYPE html>
<html>
<head>
  <meta charset="utf-8">
  <meta name="viewport" content="width=device-width, initial-scale=1.0">
  <title>Order Cancelled</title>
  <style>
    body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 20px; }
    .header { background: #dc2626; color: white; padding: 20px; text-align: center; border-radius: 8px 8px 0 0; }
    .content { background: #f9fafb; padding: 20px; border: 1px solid #e5e7eb; }
    .refund { background: white; padding: 15px; border-radius: 6px; margin: 15px 0; border-left: 4px solid #dc2626; }
    .footer { text-align: center; padding: 20px; color: #6b7280; font-size: 14px; }
  </style>
</head>
<body>
  <div class="header">
    <h1>Order Cancelled</h1>
    <p>Hi {{.CustomerName}}, your order has been cancelled.</p>
  </div>
  <div class="content">
    <p><strong>Order Number:</strong> {{.OrderNumber}}</p>
    <p><strong>Cancelled Date:</strong> {{.EventDate}}</p>
    {{if .Refunded}}<div class="refund">Your payment of <strong>{{.Total}}</strong> has been marked for refund.</div>{{end}}
    <p>If you did not request this cancellation, please reply to this email.</p>
  </div>
  <div class="footer">
    <p><a href="{{.ShopURL}}">{{.ShopName}}</a></p>
  </div>
</body>
</html>
`
