// Package validation checks identifier shapes at the service boundary.
// Malformed input becomes an INVALID_INPUT error, never a crash deeper in.
package validation

import (
	"fmt"

	"chatledger/internal/constants"
	"chatledger/internal/errors"
)

// ValidateMessageID validates message ID shape and length.
func ValidateMessageID(messageID string) error {
	return validateID("message ID", messageID, constants.MaxMessageIDLength)
}

// ValidateThreadKey validates thread key shape and length.
func ValidateThreadKey(threadKey string) error {
	return validateID("thread key", threadKey, constants.MaxThreadKeyLength)
}

// ValidateRecipientID validates a group recipient ID.
func ValidateRecipientID(recipientID string) error {
	return validateID("recipient ID", recipientID, constants.MaxRecipientLength)
}

func validateID(name, value string, maxLen int) error {
	if value == "" {
		return errors.New(errors.ErrCodeInvalidInput, name+" cannot be empty")
	}
	if len(value) > maxLen {
		return errors.New(errors.ErrCodeInvalidInput,
			fmt.Sprintf("%s too long (max %d characters)", name, maxLen))
	}
	for _, char := range value {
		if char == '\x00' || char == '\n' || char == '\r' || char == '\t' {
			return errors.New(errors.ErrCodeInvalidInput, name+" contains invalid characters")
		}
	}
	return nil
}
