package models

import (
	"time"
)

type Direction string

const (
	DirectionOutgoing Direction = "outgoing"
	DirectionIncoming Direction = "incoming"
)

type ContentKind string

const (
	ContentText      ContentKind = "text"
	ContentMedia     ContentKind = "media"
	ContentAudio     ContentKind = "audio"
	ContentReply     ContentKind = "reply"
	ContentSignaling ContentKind = "signaling"
)

// MessageRecord is one message in a 1:1 or group thread. Exactly one of
// OutgoingStatus/IncomingStatus is meaningful, selected by Direction.
type MessageRecord struct {
	ID         string      `db:"id"`
	ThreadKey  string      `db:"thread_key"`
	IsGroup    bool        `db:"is_group"`
	Direction  Direction   `db:"direction"`
	Kind       ContentKind `db:"content_kind"`
	ContentRef string      `db:"content_ref"`
	SenderID   string      `db:"sender_id"`

	// FromOwnDevice marks an echo of our own message synced from another
	// device. Such records never reach the unread counter.
	FromOwnDevice bool `db:"from_own_device"`

	OutgoingStatus OutgoingStatus `db:"outgoing_status"`
	// Progress tracks how far delivery acknowledgments got while a
	// retraction is in flight. Residual acks still apply during
	// retracting; progress remembers them without disturbing the status.
	Progress int  `db:"progress"`
	Played   bool `db:"played"`

	IncomingStatus IncomingStatus `db:"incoming_status"`
	Decrypted      bool           `db:"decrypted"`
	// RetractedFrom is a tombstone of the incoming status at the moment a
	// retraction was accepted, kept so unread accounting never reruns.
	RetractedFrom IncomingStatus `db:"retracted_from"`

	// ServerTimestamp is assigned by the server on first ack; nil before.
	ServerTimestamp *time.Time `db:"server_timestamp"`
	CreatedAt       time.Time  `db:"created_at"`
	UpdatedAt       time.Time  `db:"updated_at"`
}

// Clone returns a deep copy; the engine mutates copies so a failed
// persistence attempt leaves the loaded record untouched.
func (m *MessageRecord) Clone() *MessageRecord {
	c := *m
	if m.ServerTimestamp != nil {
		ts := *m.ServerTimestamp
		c.ServerTimestamp = &ts
	}
	return &c
}

// Countable reports whether this message participates in unread counts:
// an incoming, substantive message that is not an own-device echo.
func (m *MessageRecord) Countable() bool {
	return m.Direction == DirectionIncoming && !m.FromOwnDevice && m.Kind != ContentSignaling
}

// PendingSeenReceipt reports whether the outbound seen receipt for this
// message has not been confirmed sent yet. Marking seen locally never
// blocks on this; a retry component drives the send.
func (m *MessageRecord) PendingSeenReceipt() bool {
	return m.Direction == DirectionIncoming && m.IncomingStatus == IncomingHaveSeen
}

// PendingRerequest reports whether a content rerequest is still unresolved.
func (m *MessageRecord) PendingRerequest() bool {
	return m.Direction == DirectionIncoming && m.IncomingStatus == IncomingRerequesting
}

// PendingRetractConfirm reports whether a requested retraction has not
// been confirmed. There is no timeout; the retry component may resend.
func (m *MessageRecord) PendingRetractConfirm() bool {
	return m.Direction == DirectionOutgoing && m.OutgoingStatus == OutgoingRetracting
}
