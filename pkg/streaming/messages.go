package streaming

import (
	"encoding/json"
	"time"

	"github.com/campustrack/tracker/pkg/core"
)

// Message type constants for the realtime protocol.
const (
	TypeSubscribe   = "subscribe"
	TypeUnsubscribe = "unsubscribe"
	TypeBroadcast   = "broadcast"
	TypeRowChange   = "row_change"
	TypeStopped     = "stopped"
	TypeAck         = "ack"
)

// Row change kinds carried by RowChangePayload.
const (
	RowInsert = "insert"
	RowUpdate = "update"
	RowDelete = "delete"
)

// Envelope wraps all messages sent over the WebSocket.
type Envelope struct {
	Type    string          `json:"type"`
	Channel string          `json:"channel,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// AckMessage is the server's acknowledgement response.
type AckMessage struct {
	Type string `json:"type"` // always "ack"
	For  string `json:"for"`  // the message type being acknowledged
}

// SubscribePayload joins a per-publisher channel.
type SubscribePayload struct {
	Channel string `json:"channel"`
}

// RowChangePayload notifies subscribers that the location row for a
// publisher was inserted, updated or deleted. Record is nil for deletes.
type RowChangePayload struct {
	Kind        string               `json:"kind"`
	PublisherID string               `json:"publisher_id"`
	Record      *core.LocationRecord `json:"record,omitempty"`
}

// StoppedPayload is the explicit best-effort stop broadcast a publisher
// emits when it finishes sharing.
type StoppedPayload struct {
	At time.Time `json:"at"`
}

// ChannelForPublisher names the per-publisher broadcast channel.
func ChannelForPublisher(publisherID string) string {
	return "drivers_latest_" + publisherID
}
