package model

import (
	"time"
)

// User-visible notices attached to a snapshot.
const (
	NoticeNoMessages    = "No messages received from the queue."
	NoticeReceiveFailed = "An error occurred while fetching messages."
	NoticeSendFailed    = "An error occurred while sending the message."
	NoticeSendRejected  = "Failed to send the message to the queue."
	NoticeUploadFailed  = "Failed to upload the image."
	NoticeNoImage       = "Please select an image to send."
)

// ErrorEvent represents an error event.
type ErrorEvent struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// HeartbeatEvent represents a heartbeat event.
type HeartbeatEvent struct {
	Timestamp time.Time `json:"timestamp"`
}
