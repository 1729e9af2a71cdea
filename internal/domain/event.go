package domain

import (
	"time"

	"github.com/google/uuid"
)

// Mode selects how the weather is fetched and rendered.
type Mode string

const (
	// ModeText sends the weather service's one-line text unchanged.
	ModeText Mode = "text"
	// ModeReport sends the structured report as one or two messages.
	ModeReport Mode = "report"
	// ModeConcise sends the structured report as one sentence.
	ModeConcise Mode = "concise"
)

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool {
	switch m {
	case ModeText, ModeReport, ModeConcise:
		return true
	}
	return false
}

// RelayEvent records one completed broadcast.
type RelayEvent struct {
	ID       string    `json:"id"`
	Location string    `json:"location"`
	Mode     Mode      `json:"mode"`
	Channel  uint32    `json:"channel"`
	NodeNum  uint32    `json:"node_num,omitempty"`
	Messages []string  `json:"messages"`
	SentAt   time.Time `json:"sent_at"`
}

// NewRelayEvent stamps a relay with a fresh ID and the current time.
func NewRelayEvent(location string, mode Mode, channel, nodeNum uint32, messages []string) RelayEvent {
	return RelayEvent{
		ID:       uuid.NewString(),
		Location: location,
		Mode:     mode,
		Channel:  channel,
		NodeNum:  nodeNum,
		Messages: messages,
		SentAt:   now(),
	}
}
