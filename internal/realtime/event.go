package realtime

import "encoding/json"

// Event names pushed to clients over a live connection.
const (
	EventChatHistory   = "chat.history"
	EventChatMessage   = "chat.message"
	EventChatActivity  = "chat.activity"
	EventTicketUpdated = "ticket.updated"
	EventError         = "error"
)

// Event is the wire envelope for everything pushed over a connection.
type Event struct {
	Event   string `json:"event"`
	Payload any    `json:"payload,omitempty"`
}

// ErrorPayload reports a failed request back over the same connection.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e Event) encode() ([]byte, error) {
	return json.Marshal(e)
}
