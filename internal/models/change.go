package models

// StateChange is the unit of durable mutation: a status write together with
// its unread-count delta and aggregate bookkeeping. The store commits every
// populated field in ONE transaction, or none of them.
type StateChange struct {
	Message       *MessageRecord
	Receipt       *RecipientReceipt
	CountedAdd    *CountedRef
	CountedRemove *CountedRef
	AggregateMark *AggregateMark
}

// Empty reports whether the change carries nothing to persist.
func (c *StateChange) Empty() bool {
	return c.Message == nil && c.Receipt == nil &&
		c.CountedAdd == nil && c.CountedRemove == nil && c.AggregateMark == nil
}
