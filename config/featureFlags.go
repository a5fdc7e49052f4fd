package config

import (
	"os"
	"strings"
)

// StrictStockDeduction turns the silent clamp-to-zero on over-deduction into an
// explicit insufficient-stock error. Default off: deducting more than the recorded
// stock clamps to zero, which matches the POS parity behavior.
//
// Set via env:
// - STRICT_STOCK_DEDUCTION=true
func StrictStockDeduction() bool {
	return envBool("STRICT_STOCK_DEDUCTION")
}

// OrderDedupEnabled enables the durable processed-order ledger for the order.paid
// consumer. Default off: at-least-once delivery may deduct stock twice for a
// redelivered order, which matches the POS parity behavior.
//
// Set via env:
// - ORDER_DEDUP=true
func OrderDedupEnabled() bool {
	return envBool("ORDER_DEDUP")
}

func envBool(key string) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	return v == "1" || v == "true" || v == "yes" || v == "y"
}
