package account

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// EventKind classifies a security event.
type EventKind string

const (
	EventInvalidSignature  EventKind = "INVALID_SIGNATURE"
	EventReplayDetected    EventKind = "REPLAY_DETECTED"
	EventRateLimited       EventKind = "RATE_LIMITED"
	EventKeyRotated        EventKind = "KEY_ROTATED"
	EventKeyRevoked        EventKind = "KEY_REVOKED"
	EventSessionAdded      EventKind = "SESSION_KEY_ADDED"
	EventSessionRevoked    EventKind = "SESSION_KEY_REVOKED"
	EventAppAuthorized     EventKind = "APP_AUTHORIZED"
	EventAppRevoked        EventKind = "APP_REVOKED"
	EventAccountLocked     EventKind = "ACCOUNT_LOCKED"
	EventAccountUnlocked   EventKind = "ACCOUNT_UNLOCKED"
	EventRecoveryInitiated EventKind = "RECOVERY_INITIATED"
	EventRecoveryCompleted EventKind = "RECOVERY_COMPLETED"
	EventNonceCleanup      EventKind = "NONCE_CLEANUP"
)

// SecurityEvent is one entry in the account's security event log.
type SecurityEvent struct {
	ID        string         `json:"id"`
	Kind      EventKind      `json:"kind"`
	Signer    common.Address `json:"signer"`
	Details   string         `json:"details"`
	Timestamp uint64         `json:"timestamp"`
}

// EventLog is an append-only in-memory log of security events. Rejections
// that must be externally distinguishable (replay, rate limit, invalid
// signature) are recorded here even though they mutate no account state.
type EventLog struct {
	events []SecurityEvent
}

// NewEventLog creates an empty event log.
func NewEventLog() *EventLog {
	return &EventLog{events: make([]SecurityEvent, 0)}
}

// Append records an event and returns its generated ID.
func (l *EventLog) Append(kind EventKind, signer common.Address, details string, now uint64) string {
	ev := SecurityEvent{
		ID:        uuid.NewString(),
		Kind:      kind,
		Signer:    signer,
		Details:   details,
		Timestamp: now,
	}
	l.events = append(l.events, ev)
	return ev.ID
}

// Events returns a copy of all recorded events.
func (l *EventLog) Events() []SecurityEvent {
	out := make([]SecurityEvent, len(l.events))
	copy(out, l.events)
	return out
}

// ByKind returns all events of the given kind.
func (l *EventLog) ByKind(kind EventKind) []SecurityEvent {
	out := make([]SecurityEvent, 0)
	for _, ev := range l.events {
		if ev.Kind == kind {
			out = append(out, ev)
		}
	}
	return out
}

// Len returns the number of recorded events.
func (l *EventLog) Len() int { return len(l.events) }
