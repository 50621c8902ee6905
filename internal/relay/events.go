package relay

import "time"

// EventType names a game lifecycle transition.
type EventType string

const (
	EventGameOpened        EventType = "game_opened"
	EventGameClosed        EventType = "game_closed"
	EventParticipantJoined EventType = "participant_joined"
	EventParticipantLeft   EventType = "participant_left"
)

// Event is published to observers whenever game membership changes.
type Event struct {
	Type          EventType `json:"type"`
	GameID        string    `json:"gameID"`
	ParticipantID string    `json:"participantID,omitempty"`
	Participants  int       `json:"participants"` // Group size after the change.
	OccurredAt    time.Time `json:"occurredAt"`
}
