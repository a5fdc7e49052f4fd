package models

import "time"

// IdempotencyKey records which bus messages a handler has already processed.
// The unique (handler_name, message_id) pair turns a replayed delivery into a
// duplicate-key error the workflow layer can detect.
type IdempotencyKey struct {
	ID          int               `gorm:"primary_key" json:"id"`
	HandlerName string            `gorm:"size:100;not null;uniqueIndex:idx_idem_handler_message,priority:1" json:"handler_name"`
	MessageId   string            `gorm:"size:200;not null;uniqueIndex:idx_idem_handler_message,priority:2" json:"message_id"`
	Status      IdempotencyStatus `gorm:"size:20;not null;default:STARTED" json:"status"`
	LastError   string            `gorm:"type:text" json:"last_error"`
	CompletedAt *time.Time        `json:"completed_at"`
	CreatedAt   time.Time         `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time         `gorm:"autoUpdateTime" json:"updated_at"`
}
