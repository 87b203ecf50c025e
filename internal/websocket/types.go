package websocket

import (
	"time"

	"github.com/gorilla/websocket"
)

// EventType represents the type of WebSocket event
type EventType string

const (
	// EventTypeProgress represents batch processing progress
	EventTypeProgress EventType = "progress"
	// EventTypeDetection represents a rule match being redacted
	EventTypeDetection EventType = "detection"
	// EventTypeSystemStatus represents a system status event
	EventTypeSystemStatus EventType = "system_status"
	// EventTypeConnection represents connection events
	EventTypeConnection EventType = "connection"
)

// Event represents a WebSocket event sent to clients
type Event struct {
	Type      EventType   `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// ProgressEvent reports batch progress after each file.
type ProgressEvent struct {
	File      string `json:"file"`
	Index     int    `json:"index"`
	Total     int    `json:"total"`
	Succeeded bool   `json:"succeeded"`
	Error     string `json:"error,omitempty"`
}

// DetectionEvent reports one applied redaction operation. Only masked
// output leaves the process; original text stays local.
type DetectionEvent struct {
	File        string `json:"file,omitempty"`
	RuleID      string `json:"rule_id,omitempty"`
	Occurrences int    `json:"occurrences"`
	Segments    int    `json:"segments"`
	Redacted    string `json:"redacted"`
}

// SystemStatusEvent represents system status information
type SystemStatusEvent struct {
	Status           string `json:"status"`
	Uptime           string `json:"uptime"`
	ActiveRules      int    `json:"active_rules"`
	ConnectedClients int    `json:"connected_clients"`
}

// ConnectionEvent represents WebSocket connection events
type ConnectionEvent struct {
	Action   string `json:"action"` // "connected", "disconnected"
	ClientID string `json:"client_id"`
	ClientIP string `json:"client_ip"`
}

// ClientMessage represents messages sent from clients to server
type ClientMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// SubscriptionRequest represents a client subscription request
type SubscriptionRequest struct {
	Events []EventType `json:"events"`
}

// Client represents a WebSocket client connection
type Client struct {
	ID           string
	Conn         *websocket.Conn
	Send         chan Event
	Subscription *SubscriptionRequest
	ConnectedAt  time.Time
	LastPing     time.Time
	IP           string
}
