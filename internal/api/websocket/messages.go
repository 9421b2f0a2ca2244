package websocket

import "time"

// MessageType defines the type of WebSocket message
type MessageType string

const (
	// Bulk-write session messages
	MessageTypeBulkStarted MessageType = "bulk_started"
	MessageTypeBulkStopped MessageType = "bulk_stopped"
	MessageTypeTagWritten  MessageType = "tag_written"
	MessageTypeTagFailed   MessageType = "tag_failed"

	// Scan session messages
	MessageTypeScanSighting MessageType = "scan_sighting"
	MessageTypeScanStopped  MessageType = "scan_stopped"

	// System messages
	MessageTypeSystemStatus MessageType = "system_status"
)

// Message represents a WebSocket message
type Message struct {
	Type      MessageType `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// NewMessage creates a new message with current timestamp
func NewMessage(msgType MessageType, data interface{}) Message {
	return Message{
		Type:      msgType,
		Timestamp: time.Now(),
		Data:      data,
	}
}

// NewSystemStatusMessage wraps a system status snapshot for broadcast.
func NewSystemStatusMessage(status any) Message {
	return NewMessage(MessageTypeSystemStatus, status)
}
