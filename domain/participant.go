// Package domain contains core concepts of the chat system.
// This file defines how a pair of participants is keyed.
package domain

import (
	"encoding/base64"
	"strings"
)

// ConversationKey returns the same key for (a, b) and (b, a).
// Each ID is base64url encoded so separators can never appear inside it.
func ConversationKey(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return strings.Join([]string{
		base64.RawURLEncoding.EncodeToString([]byte(a)),
		base64.RawURLEncoding.EncodeToString([]byte(b)),
	}, ".")
}
