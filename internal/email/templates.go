package email

import (
	"fmt"
	"html"
	"strings"

	"github.com/example/ec-fulfillment/internal/notification"
	"github.com/shopspring/decimal"
)

// BuildOrderConfirmationBody builds the HTML body for order confirmation email
func BuildOrderConfirmationBody(msg notification.OrderConfirmation) string {
	var itemsHTML strings.Builder
	for _, item := range msg.Items {
		itemsHTML.WriteString(fmt.Sprintf(
			`<tr>
				<td style="padding: 12px; border-bottom: 1px solid #eee;">%s</td>
				<td style="padding: 12px; border-bottom: 1px solid #eee; text-align: center;">%d</td>
				<td style="padding: 12px; border-bottom: 1px solid #eee; text-align: right;">%s</td>
			</tr>`,
			html.EscapeString(item.Name),
			item.Quantity,
			rupees(item.Total),
		))
	}

	address := strings.ReplaceAll(html.EscapeString(msg.ShippingAddress.String()), "\n", "<br>")

	return fmt.Sprintf(`<!DOCTYPE html>
<html>
<head>
	<meta charset="UTF-8">
</head>
<body style="font-family: Arial, sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 20px;">
	<div style="background: #2e7d32; color: white; padding: 24px; border-radius: 8px 8px 0 0; text-align: center;">
		<h1 style="margin: 0;">Order Confirmed!</h1>
	</div>
	<div style="background: #fafafa; padding: 24px; border: 1px solid #eee;">
		<p>Hi %s,</p>
		<p>Thank you for your order. We're getting it ready.</p>
		<p><strong>Order Number:</strong> %s</p>
		<table style="width: 100%%; border-collapse: collapse;">
			<thead>
				<tr style="background: #eee;">
					<th style="padding: 12px; text-align: left;">Item</th>
					<th style="padding: 12px; text-align: center;">Qty</th>
					<th style="padding: 12px; text-align: right;">Total</th>
				</tr>
			</thead>
			<tbody>
				%s
			</tbody>
		</table>
		<p style="text-align: right; font-size: 18px;"><strong>Total: %s</strong></p>
		<h3>Shipping Address</h3>
		<p>%s</p>
	</div>
</body>
</html>`,
		html.EscapeString(greetingName(msg.CustomerName)),
		html.EscapeString(msg.OrderNumber),
		itemsHTML.String(),
		rupees(msg.Total),
		address,
	)
}

// BuildOrderShippedBody builds the HTML body for a shipment notice
func BuildOrderShippedBody(msg notification.OrderShipped) string {
	tracking := ""
	if msg.TrackingNumber != "" {
		tracking = fmt.Sprintf(`<p><strong>Tracking Number:</strong> %s</p>`, html.EscapeString(msg.TrackingNumber))
	}
	return fmt.Sprintf(`<!DOCTYPE html>
<html>
<head>
	<meta charset="UTF-8">
</head>
<body style="font-family: Arial, sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 20px;">
	<div style="background: #1565c0; color: white; padding: 24px; border-radius: 8px 8px 0 0; text-align: center;">
		<h1 style="margin: 0;">Your Order Is On Its Way</h1>
	</div>
	<div style="background: #fafafa; padding: 24px; border: 1px solid #eee;">
		<p>Hi %s,</p>
		<p>Order <strong>%s</strong> has shipped.</p>
		%s
	</div>
</body>
</html>`,
		html.EscapeString(greetingName(msg.CustomerName)),
		html.EscapeString(msg.OrderNumber),
		tracking,
	)
}

func greetingName(name string) string {
	if name == "" {
		return "there"
	}
	return name
}

// rupees formats an amount as ₹1,234.50
func rupees(d decimal.Decimal) string {
	s := d.StringFixed(2)
	neg := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")
	whole, frac, _ := strings.Cut(s, ".")

	var b strings.Builder
	for i, c := range whole {
		if i > 0 && (len(whole)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(c)
	}
	out := "₹" + b.String() + "." + frac
	if neg {
		out = "-" + out
	}
	return out
}
