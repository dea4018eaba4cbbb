package queue

import (
	"encoding/json"
	"fmt"

	"github.com/samknelson/sirius-dispatch/internal/domain"
)

// messageVersion is bumped when the envelope changes incompatibly.
const messageVersion = 1

// statusChangedMessage is the broker payload for a dispatch status change.
type statusChangedMessage struct {
	Version int                          `json:"version"`
	Name    string                       `json:"name"`
	Event   domain.DispatchStatusChanged `json:"event"`
}

func encodeStatusChanged(evt domain.DispatchStatusChanged) ([]byte, error) {
	if err := evt.Validate(); err != nil {
		return nil, fmt.Errorf("invalid status changed event: %w", err)
	}
	return json.Marshal(statusChangedMessage{
		Version: messageVersion,
		Name:    domain.EventDispatchStatusChanged,
		Event:   evt,
	})
}

func decodeStatusChanged(body []byte) (domain.DispatchStatusChanged, error) {
	var msg statusChangedMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return domain.DispatchStatusChanged{}, fmt.Errorf("invalid JSON: %w", err)
	}
	if msg.Version != messageVersion {
		return domain.DispatchStatusChanged{}, fmt.Errorf("unsupported message version %d", msg.Version)
	}
	if msg.Name != domain.EventDispatchStatusChanged {
		return domain.DispatchStatusChanged{}, fmt.Errorf("unexpected event name %q", msg.Name)
	}
	if err := msg.Event.Validate(); err != nil {
		return domain.DispatchStatusChanged{}, err
	}
	return msg.Event, nil
}
