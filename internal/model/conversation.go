package model

import (
	"time"
)

// SyncState is the lifecycle state of a conversation sync loop.
type SyncState string

const (
	StateStopped SyncState = "stopped"
	StatePolling SyncState = "polling"
	StateIdle    SyncState = "idle"
)

// Handle identifies one open conversation view.
type Handle struct {
	ID         string    `json:"id"`
	LocalUser  string    `json:"local_user"`
	RemoteUser string    `json:"remote_user"`
	OpenedAt   time.Time `json:"opened_at"`
}

// Snapshot is the renderable state of a conversation view.
type Snapshot struct {
	ConversationID string    `json:"conversation_id,omitempty"`
	LocalUser      string    `json:"local_user"`
	RemoteUser     string    `json:"remote_user"`
	Messages       []Message `json:"messages"`
	Notice         string    `json:"notice,omitempty"`
	State          SyncState `json:"state"`
}

// OpenConversationRequest is the request to open a conversation view.
type OpenConversationRequest struct {
	RemoteUser string `json:"remote_user"`
}

// RetargetConversationRequest switches an open view to another participant.
type RetargetConversationRequest struct {
	RemoteUser string `json:"remote_user"`
}

// ListConversationsResponse lists the caller's open views.
type ListConversationsResponse struct {
	Conversations []Handle `json:"conversations"`
}
