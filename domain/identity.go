// Package domain contains core concepts of the chat system.
// This file defines the Identity bound to a connection after handshake.
// No runtime, network, or UI logic should be added here.
package domain

// Identity is the resolved user behind a connection.
// It never changes for the lifetime of the connection.
type Identity struct {
	UserID   string
	Username string
}

func (i Identity) IsZero() bool {
	return i.UserID == ""
}
