package models

// DocumentType classifies a supplier purchase document. INVOICE totals are
// tax-inclusive; RECEIPT and DISPATCH_NOTE totals are already net.
type DocumentType string

const (
	DocumentTypeInvoice      DocumentType = "INVOICE"
	DocumentTypeReceipt      DocumentType = "RECEIPT"
	DocumentTypeDispatchNote DocumentType = "DISPATCH_NOTE"
)

func (d DocumentType) IsValid() bool {
	switch d {
	case DocumentTypeInvoice, DocumentTypeReceipt, DocumentTypeDispatchNote:
		return true
	}
	return false
}

// Outbound event types, mirrored on the bus payloads.
type EventType string

const (
	EventTypeStockUpdated  EventType = "PRODUCT_STOCK_UPDATED"
	EventTypeRecipeUpdated EventType = "RECIPE_UPDATED"
)

// Outbox publish lifecycle.
const (
	OutboxPublishStatusPending    = "PENDING"
	OutboxPublishStatusProcessing = "PROCESSING"
	OutboxPublishStatusSent       = "SENT"
	OutboxPublishStatusFailed     = "FAILED"
	OutboxPublishStatusDead       = "DEAD"
)

type IdempotencyStatus string

const (
	IdempotencyStatusStarted   IdempotencyStatus = "STARTED"
	IdempotencyStatusSucceeded IdempotencyStatus = "SUCCEEDED"
	IdempotencyStatusFailed    IdempotencyStatus = "FAILED"
)
