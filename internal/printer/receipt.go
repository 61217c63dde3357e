package printer

import (
	"fmt"
	"strings"
	"time"

	"github.com/kiosklab/posbox/internal/models"
)

// receiptWidth is the character width of the thermal printer line.
const receiptWidth = 32

// ReceiptPayload is the payload of receipt, kitchen and bar jobs.
type ReceiptPayload struct {
	Order models.Order       `json:"order"`
	Items []models.OrderItem `json:"items"`
}

// RenderReceipt formats a customer receipt for a 32-column thermal printer.
func RenderReceipt(p ReceiptPayload) string {
	var b strings.Builder

	b.WriteString("*** FOOD TRUCK ***\n")
	fmt.Fprintf(&b, "Order %s\n", p.Order.ID)
	fmt.Fprintf(&b, "%s\n", time.UnixMilli(p.Order.CreatedAt).UTC().Format("2006-01-02 15:04:05"))
	b.WriteString(strings.Repeat("-", receiptWidth) + "\n")

	for _, it := range p.Items {
		fmt.Fprintf(&b, "%2d x %-17s %9s\n", it.Qty, it.Name, formatCents(it.Price*int64(it.Qty)))
	}

	b.WriteString(strings.Repeat("-", receiptWidth) + "\n")
	fmt.Fprintf(&b, "%-22s %9s\n", "Subtotal", formatCents(p.Order.Subtotal))
	b.WriteString("\nThank you!\n")

	return b.String()
}

// RenderTicket formats a kitchen or bar ticket: no prices, just the line items.
func RenderTicket(station string, p ReceiptPayload) string {
	var b strings.Builder

	fmt.Fprintf(&b, "== %s ==\n", strings.ToUpper(station))
	fmt.Fprintf(&b, "Order %s\n", p.Order.ID)
	for _, it := range p.Items {
		fmt.Fprintf(&b, "%2d x %s\n", it.Qty, it.Name)
	}
	if p.Order.Note != "" {
		fmt.Fprintf(&b, "Note: %s\n", p.Order.Note)
	}

	return b.String()
}

// formatCents renders an amount of cents as dollars.
func formatCents(cents int64) string {
	return fmt.Sprintf("$%.2f", float64(cents)/100)
}
