package workflow

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

// The point-of-sale producer sends order_id as a JSON number; the payload
// must decode as-is.
func TestOrderPaidMessageDecodesProducerPayload(t *testing.T) {
	payload := []byte(`{
		"order_id": 1042,
		"paid_at": "2026-08-01T12:30:00Z",
		"items_sold": [
			{"product_id": 7, "quantity": 2},
			{"product_id": 9, "quantity": 0.5}
		]
	}`)

	var m OrderPaidMessage
	if err := json.Unmarshal(payload, &m); err != nil {
		t.Fatalf("unmarshal order.paid payload: %v", err)
	}
	if m.OrderId != 1042 {
		t.Fatalf("OrderId = %d, want 1042", m.OrderId)
	}
	if m.PaidAt.IsZero() {
		t.Fatal("PaidAt should be parsed")
	}
	if len(m.ItemsSold) != 2 {
		t.Fatalf("ItemsSold = %d lines, want 2", len(m.ItemsSold))
	}
	if m.ItemsSold[0].ProductId != 7 {
		t.Fatalf("ProductId = %d, want 7", m.ItemsSold[0].ProductId)
	}
	if !m.ItemsSold[1].Quantity.Equal(decimal.RequireFromString("0.5")) {
		t.Fatalf("Quantity = %s, want 0.5", m.ItemsSold[1].Quantity)
	}
}

func TestOrderLedgerKey(t *testing.T) {
	if got := orderLedgerKey(1042); got != "1042" {
		t.Fatalf("orderLedgerKey = %q, want \"1042\"", got)
	}
}

// Every processing attempt must run under a deadline so a hung database call
// cannot hold product row locks indefinitely.
func TestBoundedProcessingContextCarriesDeadline(t *testing.T) {
	ctx, cancel := boundedProcessingContext(context.Background())
	defer cancel()

	deadline, ok := ctx.Deadline()
	if !ok {
		t.Fatal("processing context should carry a deadline")
	}
	if remaining := time.Until(deadline); remaining > orderProcessingTimeout {
		t.Fatalf("deadline %s away, want at most %s", remaining, orderProcessingTimeout)
	}
}
