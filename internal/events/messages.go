package events

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Kind labels what changed in the ledger.
type Kind string

const (
	TransactionCreated   Kind = "transaction.created"
	TransactionUpdated   Kind = "transaction.updated"
	TransactionDeleted   Kind = "transaction.deleted"
	RateUpserted         Kind = "rate.upserted"
	AccountRedenominated Kind = "account.redenominated"
)

// Event is the lightweight message published after a committed ledger
// mutation. Consumers fetch current state from the store by ID; the event
// itself carries no amounts.
type Event struct {
	EventID       string    `json:"event_id"`
	Kind          Kind      `json:"kind"`
	AccountID     int64     `json:"account_id,omitempty"`
	TransactionID int64     `json:"transaction_id,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

// NewEvent stamps a fresh event with a unique ID.
func NewEvent(kind Kind, accountID, transactionID int64) Event {
	return Event{
		EventID:       uuid.NewString(),
		Kind:          kind,
		AccountID:     accountID,
		TransactionID: transactionID,
		Timestamp:     time.Now().UTC(),
	}
}

func (e Event) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

func EventFromJSON(data []byte) (Event, error) {
	var e Event
	if err := json.Unmarshal(data, &e); err != nil {
		return Event{}, err
	}
	return e, nil
}
