package amqp

import (
	"encoding/json"
	"errors"
	"time"
)

// Ledger event kinds.
const (
	KindTransactionsCreated  = "transactions.created"
	KindTransactionsDeleted  = "transactions.deleted"
	KindCategoriesChanged    = "categories.changed"
	KindCategoriesMigrated   = "categories.migrated"
	KindRecurringMaterialize = "recurring.materialized"
	KindReportExport         = "report.export"
)

// LedgerEvent announces a committed change to one user's ledger. It carries no
// records: consumers reload what they need from storage.
type LedgerEvent struct {
	UserID    string    `json:"user_id"`
	Kind      string    `json:"kind"`
	Count     int       `json:"count,omitempty"`
	Year      int       `json:"year,omitempty"` // report.export only
	Timestamp time.Time `json:"timestamp"`
}

func NewLedgerEvent(userID, kind string, count int) *LedgerEvent {
	return &LedgerEvent{
		UserID:    userID,
		Kind:      kind,
		Count:     count,
		Timestamp: time.Now(),
	}
}

func (m *LedgerEvent) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

var errMissingField = errors.New("ledger event requires user_id and kind")

func LedgerEventFromJSON(data []byte) (*LedgerEvent, error) {
	var msg LedgerEvent
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	if msg.UserID == "" || msg.Kind == "" {
		return nil, errMissingField
	}
	return &msg, nil
}
