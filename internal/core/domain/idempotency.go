package domain

import "time"

type OperationState string

const (
	OperationPending   OperationState = "pending"
	OperationCompleted OperationState = "completed"
)

const (
	OperationCheckout = "checkout"
	OperationAdjust   = "adjust"
)

type IdempotentOperation struct {
	Key         string
	Operation   string
	Fingerprint string
	State       OperationState
	Result      []byte
	CreatedAt   time.Time
	CompletedAt time.Time
}
