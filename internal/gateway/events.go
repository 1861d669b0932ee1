package gateway

import (
	"encoding/json"
	"time"

	"github.com/pietro1412/fantacontratti/internal/events"
)

// MarketEvent is the envelope pushed to WebSocket clients.
type MarketEvent struct {
	ID        string          `json:"id"`
	SessionID string          `json:"session_id"`
	Type      string          `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// knownEventTypes lists the outbox event types the gateway forwards.
// Anything else coming off the stream is dropped with a warning.
var knownEventTypes = map[string]bool{
	events.TypeSessionCreated:   true,
	events.TypeSessionCompleted: true,
	events.TypePhaseAdvanced:    true,
	events.TypeAuctionOpened:    true,
	events.TypeBidPlaced:        true,
	events.TypeAuctionClosed:    true,
	events.TypeAuctionCompleted: true,
	events.TypeTurnStarted:      true,
	events.TypeTurnSkipped:      true,
	events.TypeMemberReady:      true,
}

// ParseEventPayload decodes the event data into its typed payload.
func ParseEventPayload(event *MarketEvent) (interface{}, error) {
	switch event.Type {
	case events.TypeSessionCreated:
		var payload events.SessionCreatedPayload
		if err := json.Unmarshal(event.Data, &payload); err != nil {
			return nil, err
		}
		return payload, nil

	case events.TypeSessionCompleted:
		var payload events.SessionCompletedPayload
		if err := json.Unmarshal(event.Data, &payload); err != nil {
			return nil, err
		}
		return payload, nil

	case events.TypePhaseAdvanced:
		var payload events.PhaseAdvancedPayload
		if err := json.Unmarshal(event.Data, &payload); err != nil {
			return nil, err
		}
		return payload, nil

	case events.TypeAuctionOpened:
		var payload events.AuctionOpenedPayload
		if err := json.Unmarshal(event.Data, &payload); err != nil {
			return nil, err
		}
		return payload, nil

	case events.TypeBidPlaced:
		var payload events.BidPlacedPayload
		if err := json.Unmarshal(event.Data, &payload); err != nil {
			return nil, err
		}
		return payload, nil

	case events.TypeAuctionClosed:
		var payload events.AuctionClosedPayload
		if err := json.Unmarshal(event.Data, &payload); err != nil {
			return nil, err
		}
		return payload, nil

	case events.TypeAuctionCompleted:
		var payload events.AuctionCompletedPayload
		if err := json.Unmarshal(event.Data, &payload); err != nil {
			return nil, err
		}
		return payload, nil

	case events.TypeTurnStarted:
		var payload events.TurnStartedPayload
		if err := json.Unmarshal(event.Data, &payload); err != nil {
			return nil, err
		}
		return payload, nil

	case events.TypeTurnSkipped:
		var payload events.TurnSkippedPayload
		if err := json.Unmarshal(event.Data, &payload); err != nil {
			return nil, err
		}
		return payload, nil

	case events.TypeMemberReady:
		var payload events.MemberReadyPayload
		if err := json.Unmarshal(event.Data, &payload); err != nil {
			return nil, err
		}
		return payload, nil

	default:
		return nil, nil
	}
}
