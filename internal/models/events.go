package models

import "time"

// OutgoingEventKind identifies an event applied to an outgoing message.
type OutgoingEventKind string

const (
	EventAck                OutgoingEventKind = "ack"
	EventRecipientDelivered OutgoingEventKind = "recipient_delivered"
	EventRecipientSeen      OutgoingEventKind = "recipient_seen"
	EventRecipientPlayed    OutgoingEventKind = "recipient_played"
	EventRetractRequested   OutgoingEventKind = "retract_requested"
	EventRetractConfirmed   OutgoingEventKind = "retract_confirmed"
	EventSendFailed         OutgoingEventKind = "send_failed"
)

// OutgoingEvent is a decoded network event for an outgoing message. The
// transport layer validates and decodes; this package never sees wire bytes.
type OutgoingEvent struct {
	Kind OutgoingEventKind
	// ServerTimestamp accompanies ack events only.
	ServerTimestamp time.Time
}

// IncomingEventKind identifies an event applied to an incoming message.
type IncomingEventKind string

const (
	EventDecrypted          IncomingEventKind = "decrypted"
	EventDecryptFailed      IncomingEventKind = "decrypt_failed"
	EventRerequestResolved  IncomingEventKind = "rerequest_resolved"
	EventMarkSeenLocally    IncomingEventKind = "mark_seen_locally"
	EventSeenReceiptSent    IncomingEventKind = "seen_receipt_sent"
	EventRetractReceived    IncomingEventKind = "retract_received"
	EventUnsupportedVersion IncomingEventKind = "unsupported_version"
)

// IncomingEvent is a decoded event for an incoming message. MarkSeenLocally
// originates from the presentation layer; the rest from the transport.
type IncomingEvent struct {
	Kind IncomingEventKind
	// Rerequestable accompanies decrypt_failed events only.
	Rerequestable bool
}

// ReceiptEvent is a per-recipient acknowledgment for a group message.
// Only recipient_delivered, recipient_seen and recipient_played are legal.
type ReceiptEvent struct {
	RecipientID string
	Kind        OutgoingEventKind
}

// PendingSendKind names an outbound send the engine reports as still pending.
type PendingSendKind string

const (
	PendingSeenReceipt    PendingSendKind = "seen_receipt"
	PendingRerequest      PendingSendKind = "rerequest"
	PendingRetractConfirm PendingSendKind = "retract"
)

// PendingSend is one outbound send awaiting confirmation, surfaced to the
// retry driver.
type PendingSend struct {
	MessageID string
	ThreadKey string
	Kind      PendingSendKind
}
