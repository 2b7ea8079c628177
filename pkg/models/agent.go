package models

import "time"

// AgentRef identifies a worker agent able to serve a capability.
type AgentRef struct {
	// ID is the unique identifier for this agent.
	ID string `json:"id" mapstructure:"id"`
	// Capability is the capability class the agent serves (e.g. "weather").
	Capability string `json:"capability" mapstructure:"capability"`
	// Topic is the broker topic the agent consumes task requests from.
	Topic string `json:"topic" mapstructure:"topic"`
}

// TaskRequest is the payload published to a worker agent.
type TaskRequest struct {
	TaskID     string            `json:"task_id"`
	SessionID  string            `json:"session_id"`
	Capability string            `json:"capability"`
	Parameters map[string]string `json:"parameters,omitempty"`
	// ReplyTo is the topic the agent must publish its TaskResponse to,
	// carrying the same correlation id.
	ReplyTo  string    `json:"reply_to"`
	Deadline time.Time `json:"deadline"`
}

// Response statuses reported by agents.
const (
	ResponseOK    = "ok"
	ResponseError = "error"
)

// TaskResponse is the payload a worker agent replies with.
type TaskResponse struct {
	Status string            `json:"status"`
	Text   string            `json:"text,omitempty"`
	Data   map[string]string `json:"data,omitempty"`
	Error  string            `json:"error,omitempty"`
}
