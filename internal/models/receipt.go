package models

import "time"

// RecipientReceipt is one (group message, recipient) pair's acknowledgment
// state. The recipient set is snapshotted from group membership at send time
// and never grows afterwards.
type RecipientReceipt struct {
	MessageID   string        `db:"message_id"`
	RecipientID string        `db:"recipient_id"`
	Status      ReceiptStatus `db:"status"`
	UpdatedAt   time.Time     `db:"updated_at"`
}

// AggregateMark records the highest aggregate level already announced for a
// group message, so a replayed receipt after restart cannot re-fire the
// fully-delivered or fully-seen notification.
type AggregateMark struct {
	MessageID      string               `db:"message_id"`
	EmittedLevel   GroupAggregateStatus `db:"emitted_level"`
	RecipientCount int                  `db:"recipient_count"`
}
