package relmq

import "time"

// InboxStatus is the lifecycle state of an inbox barrier row. Transitions are
// monotonic: a row never returns to Entered.
type InboxStatus int16

const (
	// InboxEntered indicates the barrier is claimed and business logic may
	// run.
	InboxEntered InboxStatus = 0
	// InboxSucceeded indicates business logic completed.
	InboxSucceeded InboxStatus = 1
	// InboxFailed indicates business logic failed terminally.
	InboxFailed InboxStatus = 2
)

// EnterResult is the outcome of claiming an inbox barrier.
type EnterResult int

const (
	// Entered means the claim is new: the caller proceeds with business
	// logic and must mark the barrier before committing.
	Entered EnterResult = iota
	// AlreadyProcessed means another delivery of the same message already
	// claimed the barrier: the caller skips business logic and commits.
	AlreadyProcessed
)

// String returns the result name.
func (r EnterResult) String() string {
	if r == AlreadyProcessed {
		return "already-processed"
	}

	return "entered"
}

// InboxRecord is a durable idempotency claim keyed by consumer name and
// message id. It converts at-least-once broker delivery into effectively-once
// business effect.
type InboxRecord struct {
	ConsumerName string
	MessageID    string
	Exchange     string
	RoutingKey   string
	Status       InboxStatus
	LastError    string
	CreateTime   time.Time
	UpdateTime   time.Time
}
