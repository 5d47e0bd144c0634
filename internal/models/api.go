package models

import "time"

type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Kind    ErrorKind   `json:"kind,omitempty"`
}

type HealthCheck struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Services  map[string]string `json:"services"`
}

type StartSessionRequest struct {
	Instruction *string `json:"instruction"`
}

type MessageRequest struct {
	Text string `json:"text" binding:"required"`
}

// ReplyResponse carries text for the transport already split into segments.
type ReplyResponse struct {
	Action   string            `json:"action"`
	Session  *SessionSnapshot  `json:"session,omitempty"`
	Result   *InvocationResult `json:"result,omitempty"`
	Segments []string          `json:"segments,omitempty"`
}
