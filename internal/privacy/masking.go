// Package privacy masks user-identifying values before they reach logs.
package privacy

import (
	"strings"

	"chatledger/internal/constants"
)

// MaskUserID masks a user or recipient ID, keeping the last few characters
// for correlation. Example: "u-1234567890" -> "********7890".
func MaskUserID(userID string) string {
	return maskTail(userID, constants.DefaultIDMaskVisible)
}

// MaskThreadKey masks a thread key. Group keys keep their "g:" prefix so a
// log line still tells a group thread from a 1:1 one.
func MaskThreadKey(threadKey string) string {
	if threadKey == "" {
		return ""
	}
	if rest, ok := strings.CutPrefix(threadKey, "g:"); ok {
		return "g:" + maskTail(rest, constants.DefaultIDMaskVisible)
	}
	return maskTail(threadKey, constants.DefaultIDMaskVisible)
}

func maskTail(s string, visible int) string {
	if s == "" {
		return ""
	}
	if len(s) <= visible {
		return strings.Repeat("*", len(s))
	}
	return strings.Repeat("*", len(s)-visible) + s[len(s)-visible:]
}
