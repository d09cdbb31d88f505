package models

import "fmt"

// OutgoingStatus is the lifecycle of a message we sent. The success path
// (pending, sent_out, delivered, seen) is ranked and only moves forward;
// retracting, retracted and error sit outside the ranking.
type OutgoingStatus string

const (
	OutgoingPending    OutgoingStatus = "pending"
	OutgoingSentOut    OutgoingStatus = "sent_out"
	OutgoingDelivered  OutgoingStatus = "delivered"
	OutgoingSeen       OutgoingStatus = "seen"
	OutgoingRetracting OutgoingStatus = "retracting"
	OutgoingRetracted  OutgoingStatus = "retracted"
	OutgoingError      OutgoingStatus = "error"
)

var outgoingRanks = map[OutgoingStatus]int{
	OutgoingPending:   0,
	OutgoingSentOut:   1,
	OutgoingDelivered: 2,
	OutgoingSeen:      3,
}

// Rank returns the position of this status on the success path, with
// ok=false for statuses outside it.
func (s OutgoingStatus) Rank() (int, bool) {
	rank, ok := outgoingRanks[s]
	return rank, ok
}

// OutgoingStatusForRank is the inverse of Rank for the success path.
func OutgoingStatusForRank(rank int) (OutgoingStatus, error) {
	for status, r := range outgoingRanks {
		if r == rank {
			return status, nil
		}
	}
	return "", fmt.Errorf("no outgoing status for rank %d", rank)
}

func ParseOutgoingStatus(raw string) (OutgoingStatus, error) {
	switch s := OutgoingStatus(raw); s {
	case OutgoingPending, OutgoingSentOut, OutgoingDelivered, OutgoingSeen,
		OutgoingRetracting, OutgoingRetracted, OutgoingError:
		return s, nil
	}
	return "", fmt.Errorf("invalid outgoing status %q", raw)
}

// IncomingStatus is the lifecycle of a message we received, from undecrypted
// through seen-receipt-sent, with rerequesting, unsupported and retracted as
// side exits.
type IncomingStatus string

const (
	IncomingNone            IncomingStatus = "none"
	IncomingHaveSeen        IncomingStatus = "have_seen"
	IncomingSentSeenReceipt IncomingStatus = "sent_seen_receipt"
	IncomingRerequesting    IncomingStatus = "rerequesting"
	IncomingUnsupported     IncomingStatus = "unsupported"
	IncomingRetracted       IncomingStatus = "retracted"
)

func ParseIncomingStatus(raw string) (IncomingStatus, error) {
	switch s := IncomingStatus(raw); s {
	case IncomingNone, IncomingHaveSeen, IncomingSentSeenReceipt,
		IncomingRerequesting, IncomingUnsupported, IncomingRetracted:
		return s, nil
	}
	return "", fmt.Errorf("invalid incoming status %q", raw)
}

// ReceiptStatus is one group recipient's acknowledgment level. Strictly
// monotonic per recipient; played applies to audio only.
type ReceiptStatus string

const (
	ReceiptNone      ReceiptStatus = "none"
	ReceiptDelivered ReceiptStatus = "delivered"
	ReceiptSeen      ReceiptStatus = "seen"
	ReceiptPlayed    ReceiptStatus = "played"
)

var receiptRanks = map[ReceiptStatus]int{
	ReceiptNone:      0,
	ReceiptDelivered: 1,
	ReceiptSeen:      2,
	ReceiptPlayed:    3,
}

func (s ReceiptStatus) Rank() int {
	return receiptRanks[s]
}

func ParseReceiptStatus(raw string) (ReceiptStatus, error) {
	switch s := ReceiptStatus(raw); s {
	case ReceiptNone, ReceiptDelivered, ReceiptSeen, ReceiptPlayed:
		return s, nil
	}
	return "", fmt.Errorf("invalid receipt status %q", raw)
}

// GroupAggregateStatus summarizes a group message across its whole recipient
// set: delivered once every recipient has it, seen once every recipient saw
// it.
type GroupAggregateStatus string

const (
	AggregatePending   GroupAggregateStatus = "pending"
	AggregateDelivered GroupAggregateStatus = "delivered"
	AggregateSeen      GroupAggregateStatus = "seen"
)

var aggregateRanks = map[GroupAggregateStatus]int{
	AggregatePending:   0,
	AggregateDelivered: 1,
	AggregateSeen:      2,
}

func (s GroupAggregateStatus) Rank() int {
	return aggregateRanks[s]
}

func ParseAggregateStatus(raw string) (GroupAggregateStatus, error) {
	switch s := GroupAggregateStatus(raw); s {
	case AggregatePending, AggregateDelivered, AggregateSeen:
		return s, nil
	}
	return "", fmt.Errorf("invalid aggregate status %q", raw)
}
