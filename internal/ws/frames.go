package ws

import "pairchat/internal/domain"

// Frame types.
const (
	// FrameMessage flows both ways: outbound it carries a stored message from
	// the conversation feed, inbound it asks the server to store a message.
	FrameMessage = "message"
	// FrameAck confirms an inbound message with its stored record.
	FrameAck = "ack"
	// FrameError rejects an inbound message.
	FrameError = "error"
)

// CloseFeedReset is the close code sent when the server-side feed dropped
// the subscription; clients resubscribe and refetch.
const CloseFeedReset = 4000

// Frame is the JSON envelope exchanged over /ws.
type Frame struct {
	Type    string          `json:"type"`
	LocalID string          `json:"local_id,omitempty"`
	Message *domain.Message `json:"message,omitempty"`

	Body     string             `json:"body,omitempty"`
	MediaURL string             `json:"media_url,omitempty"`
	Kind     domain.MessageKind `json:"kind,omitempty"`

	Code  string `json:"code,omitempty"`
	Error string `json:"error,omitempty"`
}

// Draft returns the message an inbound frame asks to store.
func (f Frame) Draft() domain.Draft {
	return domain.Draft{Body: f.Body, MediaURL: f.MediaURL, Kind: f.Kind}
}

// ErrorFrame describes err with its wire code.
func ErrorFrame(localID string, err error) Frame {
	return Frame{Type: FrameError, LocalID: localID, Code: domain.Code(err), Error: err.Error()}
}
