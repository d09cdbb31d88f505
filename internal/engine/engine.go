// Package engine implements the status transition tables for message
// records and recipient receipts. The engine is pure: it mutates the record
// it is handed (callers pass a copy) and reports what happened through a
// Result. It never returns an error and never panics on adversarial event
// ordering; duplicates and reordering are NoOps, contradictions are
// Rejections the caller surfaces to observability.
package engine

import (
	"github.com/sirupsen/logrus"

	"chatledger/internal/models"
)

// Result classifies the outcome of applying one event.
type Result int

const (
	// Changed means the record advanced and must be persisted.
	Changed Result = iota
	// NoOp means the event was valid but redundant: a duplicate or an
	// out-of-order arrival naming a state at or behind the current one.
	NoOp
	// Rejected means no legal transition exists from the current state.
	// The record is left unchanged; the caller logs and escalates.
	Rejected
)

func (r Result) String() string {
	switch r {
	case Changed:
		return "changed"
	case NoOp:
		return "noop"
	case Rejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// Engine applies events against the legality tables. It holds no per-message
// state; serialization per message ID is the caller's responsibility.
type Engine struct {
	logger *logrus.Logger
}

func New(logger *logrus.Logger) *Engine {
	return &Engine{logger: logger}
}

// impliedRank maps delivery acknowledgments to the success-path rank they
// imply. A later ack implies every earlier state, which is what makes
// out-of-order delivery safe.
func impliedRank(kind models.OutgoingEventKind) (int, bool) {
	switch kind {
	case models.EventAck:
		return 1, true
	case models.EventRecipientDelivered:
		return 2, true
	case models.EventRecipientSeen, models.EventRecipientPlayed:
		return 3, true
	}
	return 0, false
}

// ApplyOutgoing applies one event to an outgoing message record.
func (e *Engine) ApplyOutgoing(rec *models.MessageRecord, ev models.OutgoingEvent) Result {
	if rec.Direction != models.DirectionOutgoing {
		return e.reject(rec.ID, string(ev.Kind), "event for outgoing message applied to incoming record")
	}

	switch ev.Kind {
	case models.EventAck, models.EventRecipientDelivered,
		models.EventRecipientSeen, models.EventRecipientPlayed:
		return e.applyOutgoingProgress(rec, ev)

	case models.EventRetractRequested:
		switch rec.OutgoingStatus {
		case models.OutgoingRetracted, models.OutgoingRetracting:
			return NoOp
		case models.OutgoingError:
			return e.reject(rec.ID, string(ev.Kind), "retract requested for failed message")
		}
		rank, _ := rec.OutgoingStatus.Rank()
		if rank > rec.Progress {
			rec.Progress = rank
		}
		rec.OutgoingStatus = models.OutgoingRetracting
		return Changed

	case models.EventRetractConfirmed:
		switch rec.OutgoingStatus {
		case models.OutgoingRetracted:
			return NoOp
		case models.OutgoingRetracting:
			rec.OutgoingStatus = models.OutgoingRetracted
			return Changed
		}
		return e.reject(rec.ID, string(ev.Kind), "retract confirmed without a pending retraction")

	case models.EventSendFailed:
		switch rec.OutgoingStatus {
		case models.OutgoingPending:
			rec.OutgoingStatus = models.OutgoingError
			return Changed
		}
		// error is unreachable once sent_out is reached; a late failure
		// report for a send that ultimately went through is stale.
		return NoOp
	}

	return e.reject(rec.ID, string(ev.Kind), "unknown outgoing event")
}

func (e *Engine) applyOutgoingProgress(rec *models.MessageRecord, ev models.OutgoingEvent) Result {
	target, _ := impliedRank(ev.Kind)

	if ev.Kind == models.EventRecipientPlayed && rec.Kind != models.ContentAudio {
		return e.reject(rec.ID, string(ev.Kind), "played receipt for non-audio content")
	}

	switch rec.OutgoingStatus {
	case models.OutgoingRetracted:
		// Residual acks after a confirmed retraction are expected noise.
		return NoOp

	case models.OutgoingRetracting:
		// Delivery can still land while a retraction is in flight; the
		// network will not drop residual acks. Progress remembers them,
		// the status stays retracting until confirmation.
		changed := false
		if target > rec.Progress {
			rec.Progress = target
			changed = true
		}
		if ev.Kind == models.EventRecipientPlayed && !rec.Played {
			rec.Played = true
			changed = true
		}
		if !changed {
			return NoOp
		}
		return Changed

	case models.OutgoingError:
		// An event implying a later state after a send failure means the
		// send actually went through: recover onto the success path at
		// the state the event implies.
		status, err := models.OutgoingStatusForRank(target)
		if err != nil {
			return e.reject(rec.ID, string(ev.Kind), "no recovery state for event")
		}
		rec.OutgoingStatus = status
		rec.Progress = target
		if ev.Kind == models.EventAck {
			e.stampAck(rec, ev)
		}
		if ev.Kind == models.EventRecipientPlayed {
			rec.Played = true
		}
		return Changed
	}

	current, _ := rec.OutgoingStatus.Rank()

	if ev.Kind == models.EventRecipientPlayed {
		// Played is a sub-flag on top of seen, never a regression of it.
		changed := false
		if !rec.Played {
			rec.Played = true
			changed = true
		}
		if target > current {
			rec.OutgoingStatus = models.OutgoingSeen
			rec.Progress = target
			changed = true
		}
		if !changed {
			return NoOp
		}
		return Changed
	}

	if target <= current {
		return NoOp
	}
	status, err := models.OutgoingStatusForRank(target)
	if err != nil {
		return e.reject(rec.ID, string(ev.Kind), "no status for event rank")
	}
	rec.OutgoingStatus = status
	rec.Progress = target
	if ev.Kind == models.EventAck {
		e.stampAck(rec, ev)
	}
	return Changed
}

func (e *Engine) stampAck(rec *models.MessageRecord, ev models.OutgoingEvent) {
	if rec.ServerTimestamp == nil && !ev.ServerTimestamp.IsZero() {
		ts := ev.ServerTimestamp
		rec.ServerTimestamp = &ts
	}
}

// ApplyIncoming applies one event to an incoming message record.
func (e *Engine) ApplyIncoming(rec *models.MessageRecord, ev models.IncomingEvent) Result {
	if rec.Direction != models.DirectionIncoming {
		return e.reject(rec.ID, string(ev.Kind), "event for incoming message applied to outgoing record")
	}

	// Retraction is terminal. Anything racing it, including a duplicate
	// retraction, is normal network noise.
	if rec.IncomingStatus == models.IncomingRetracted {
		return NoOp
	}

	switch ev.Kind {
	case models.EventDecrypted:
		switch rec.IncomingStatus {
		case models.IncomingNone:
			if rec.Decrypted {
				return NoOp
			}
			rec.Decrypted = true
			return Changed
		case models.IncomingRerequesting:
			// The rerequested copy can decrypt before the bookkeeping
			// event lands; accept it and rejoin the normal path.
			rec.IncomingStatus = models.IncomingNone
			rec.Decrypted = true
			return Changed
		case models.IncomingHaveSeen, models.IncomingSentSeenReceipt:
			return NoOp
		case models.IncomingUnsupported:
			return e.reject(rec.ID, string(ev.Kind), "decrypted event for unsupported message")
		}

	case models.EventDecryptFailed:
		switch rec.IncomingStatus {
		case models.IncomingNone:
			if rec.Decrypted {
				return e.reject(rec.ID, string(ev.Kind), "decrypt failure after successful decryption")
			}
			if ev.Rerequestable {
				rec.IncomingStatus = models.IncomingRerequesting
			} else {
				rec.IncomingStatus = models.IncomingUnsupported
			}
			return Changed
		case models.IncomingRerequesting:
			if ev.Rerequestable {
				return NoOp
			}
			rec.IncomingStatus = models.IncomingUnsupported
			return Changed
		case models.IncomingUnsupported:
			return NoOp
		case models.IncomingHaveSeen, models.IncomingSentSeenReceipt:
			return e.reject(rec.ID, string(ev.Kind), "decrypt failure after message was seen")
		}

	case models.EventUnsupportedVersion:
		switch rec.IncomingStatus {
		case models.IncomingNone:
			if rec.Decrypted {
				return e.reject(rec.ID, string(ev.Kind), "unsupported version after successful decryption")
			}
			rec.IncomingStatus = models.IncomingUnsupported
			return Changed
		case models.IncomingRerequesting:
			rec.IncomingStatus = models.IncomingUnsupported
			return Changed
		case models.IncomingUnsupported:
			return NoOp
		case models.IncomingHaveSeen, models.IncomingSentSeenReceipt:
			return e.reject(rec.ID, string(ev.Kind), "unsupported version after message was seen")
		}

	case models.EventRerequestResolved:
		switch rec.IncomingStatus {
		case models.IncomingRerequesting:
			// Replay from scratch: the resent content must decrypt again.
			rec.IncomingStatus = models.IncomingNone
			rec.Decrypted = false
			return Changed
		case models.IncomingNone, models.IncomingHaveSeen, models.IncomingSentSeenReceipt:
			return NoOp
		case models.IncomingUnsupported:
			return e.reject(rec.ID, string(ev.Kind), "rerequest resolved for unsupported message")
		}

	case models.EventMarkSeenLocally:
		switch rec.IncomingStatus {
		case models.IncomingNone:
			if !rec.Decrypted {
				return e.reject(rec.ID, string(ev.Kind), "marked seen before decryption")
			}
			rec.IncomingStatus = models.IncomingHaveSeen
			return Changed
		case models.IncomingHaveSeen, models.IncomingSentSeenReceipt:
			return NoOp
		case models.IncomingRerequesting, models.IncomingUnsupported:
			return e.reject(rec.ID, string(ev.Kind), "marked seen with no displayable content")
		}

	case models.EventSeenReceiptSent:
		switch rec.IncomingStatus {
		case models.IncomingHaveSeen:
			rec.IncomingStatus = models.IncomingSentSeenReceipt
			return Changed
		case models.IncomingSentSeenReceipt:
			return NoOp
		}
		return e.reject(rec.ID, string(ev.Kind), "seen receipt sent for unseen message")

	case models.EventRetractReceived:
		rec.RetractedFrom = rec.IncomingStatus
		rec.IncomingStatus = models.IncomingRetracted
		return Changed
	}

	return e.reject(rec.ID, string(ev.Kind), "unknown incoming event")
}

// ApplyReceipt applies one per-recipient acknowledgment to a group receipt.
// The same monotonic discipline as the 1:1 table, scoped to one recipient.
func (e *Engine) ApplyReceipt(rcpt *models.RecipientReceipt, ev models.ReceiptEvent, audio bool) Result {
	var target models.ReceiptStatus
	switch ev.Kind {
	case models.EventRecipientDelivered:
		target = models.ReceiptDelivered
	case models.EventRecipientSeen:
		target = models.ReceiptSeen
	case models.EventRecipientPlayed:
		if !audio {
			return e.reject(rcpt.MessageID, string(ev.Kind), "played receipt for non-audio content")
		}
		target = models.ReceiptPlayed
	default:
		return e.reject(rcpt.MessageID, string(ev.Kind), "event is not a per-recipient receipt")
	}

	if target.Rank() <= rcpt.Status.Rank() {
		return NoOp
	}
	rcpt.Status = target
	return Changed
}

func (e *Engine) reject(messageID, event, reason string) Result {
	e.logger.WithFields(logrus.Fields{
		"message_id": messageID,
		"event":      event,
		"reason":     reason,
	}).Warn("Rejected illegal status transition")
	return Rejected
}
