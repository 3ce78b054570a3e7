// Package event holds the wire format of trade change events.
package event

import (
	"encoding/json"
	"fmt"

	"github.com/efreitasn/tradeledger/internal/domain"
	"github.com/google/uuid"
)

// TradeEvent is the JSON payload carried on the event channel.
type TradeEvent struct {
	TradeID        *uuid.UUID  `json:"tradeId,omitempty"`
	Version        int64       `json:"version"`
	CounterPartyID string      `json:"counterPartyId"`
	BookID         string      `json:"bookId"`
	MaturityDate   domain.Date `json:"maturityDate"`
}

// FromChange converts a domain change to its wire form.
func FromChange(c domain.TradeChange) TradeEvent {
	ev := TradeEvent{
		Version:        c.Version,
		CounterPartyID: c.CounterPartyID,
		BookID:         c.BookID,
		MaturityDate:   c.MaturityDate,
	}
	if c.HasID() {
		id := c.TradeID
		ev.TradeID = &id
	}
	return ev
}

// Change converts the wire form back to a domain change.
func (e TradeEvent) Change() domain.TradeChange {
	c := domain.TradeChange{
		Version:        e.Version,
		CounterPartyID: e.CounterPartyID,
		BookID:         e.BookID,
		MaturityDate:   e.MaturityDate,
	}
	if e.TradeID != nil {
		c.TradeID = *e.TradeID
	}
	return c
}

// Encode serializes a change to the wire format.
func Encode(c domain.TradeChange) ([]byte, error) {
	return json.Marshal(FromChange(c))
}

// Decode parses a wire payload into a change.
func Decode(b []byte) (domain.TradeChange, error) {
	var ev TradeEvent
	if err := json.Unmarshal(b, &ev); err != nil {
		return domain.TradeChange{}, fmt.Errorf("decode trade event: %w", err)
	}
	return ev.Change(), nil
}

// Key returns the partition key for a change. Changes without an id share
// the empty key.
func Key(c domain.TradeChange) []byte {
	if !c.HasID() {
		return nil
	}
	return []byte(c.TradeID.String())
}
