package bus

import "time"

// Event represents a domain event published on the bus. Kind is dotted,
// namespace first: "wa.message", "message.ingested", "chatlist.updated",
// "thread.appended", "link.status_changed".
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}
