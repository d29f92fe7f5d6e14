package stream

import (
	"bytes"
	"encoding/json"
	"time"

	"polyetl/pkg/contracts/domain"
)

// Event types sent by the feed
const (
	eventStatus = "status"
	eventTrade  = "T"
)

// Status values carried by status events
const (
	statusAuthSuccess = "auth_success"
	statusAuthFailed  = "auth_failed"
)

// action is a client request
type action struct {
	Action string `json:"action"`
	Params string `json:"params"`
}

// event is one element of a feed message. Only the fields of status and
// trade events are decoded.
type event struct {
	Ev      string `json:"ev"`
	Status  string `json:"status,omitempty"`
	Message string `json:"message,omitempty"`

	Symbol     string  `json:"sym,omitempty"`
	Exchange   int     `json:"x,omitempty"`
	Price      float64 `json:"p,omitempty"`
	Size       int64   `json:"s,omitempty"`
	Conditions []int   `json:"c,omitempty"`
	Timestamp  int64   `json:"t,omitempty"`
}

// decodeEvents accepts both the usual array of events and a bare object
func decodeEvents(data []byte) ([]event, error) {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '{' {
		var ev event
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, err
		}
		return []event{ev}, nil
	}
	var events []event
	if err := json.Unmarshal(data, &events); err != nil {
		return nil, err
	}
	return events, nil
}

func (e event) toTrade() domain.Trade {
	return domain.Trade{
		Ticker:     e.Symbol,
		Timestamp:  time.UnixMilli(e.Timestamp).UTC(),
		Price:      e.Price,
		Size:       e.Size,
		Exchange:   e.Exchange,
		Conditions: e.Conditions,
	}
}
