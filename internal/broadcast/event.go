package broadcast

import "encoding/json"

// Event names emitted by the feed API.
const (
	EventFeedUpdate    = "feed_update"
	EventLikeUpdate    = "like_update"
	EventCommentUpdate = "comment_update"
)

// Event is one queued broadcast message. Events are ephemeral: created by
// a state change in the API process, drained once by the flush tick, never
// persisted.
type Event struct {
	Name string          `json:"event_name"`
	Data json.RawMessage `json:"event_data,omitempty"`
}
