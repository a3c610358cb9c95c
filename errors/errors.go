package errors

import "fmt"

var (
	ErrWorkerPanic = fmt.Errorf("worker panic")

	// Identity
	ErrInvalidCredential = fmt.Errorf("invalid or missing credential")

	// Relay
	ErrValidation  = fmt.Errorf("malformed inbound event")
	ErrAttachment  = fmt.Errorf("attachment could not be stored")
	ErrPersistence = fmt.Errorf("message could not be persisted")

	// Connection lifecycle
	ErrLivenessTimeout  = fmt.Errorf("no pong received before timeout")
	ErrConnectionClosed = fmt.Errorf("connection closed")
	ErrDeliveryTimeout  = fmt.Errorf("outbound buffer full")
	ErrQueueFull        = fmt.Errorf("outbound queue full, not waiting")

	ErrInvalidConfig = fmt.Errorf("invalid configuration")
)
