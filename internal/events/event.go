// Package events announces domain changes (imports, vault movements,
// lockouts) to other processes.
package events

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Event types.
const (
	TypeBackupImported = "backup.imported"
	TypeBackupExported = "backup.exported"
	TypeVaultDeposit   = "vault.deposit"
	TypeVaultWithdraw  = "vault.withdraw"
	TypeVaultLocked    = "vault.locked"
)

// Event is a small JSON message. Payload carries ids and counts, never
// secrets or record contents.
type Event struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Payload   map[string]any `json:"payload,omitempty"`
}

// New creates an event with a fresh id.
func New(eventType string, payload map[string]any) Event {
	return Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}
}

// ToJSON converts the event to JSON bytes
func (e Event) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// FromJSON creates an event from JSON bytes
func FromJSON(data []byte) (Event, error) {
	var e Event
	if err := json.Unmarshal(data, &e); err != nil {
		return Event{}, err
	}
	return e, nil
}
