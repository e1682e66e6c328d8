// Package model defines data structures for the conversation sync service.
package model

import (
	"time"
)

// Origin records how a message entered the local conversation log.
type Origin string

const (
	// OriginLocal marks a message authored by this client in the current session.
	OriginLocal Origin = "local"
	// OriginRemote marks a message observed by polling the queue.
	OriginRemote Origin = "remote"
)

// Message is one structured conversation message.
type Message struct {
	// Identity, as assigned by the transport
	ID string `json:"id"`

	// Envelope fields
	Sender    string `json:"sender"`
	Recipient string `json:"recipient"`

	// Content; exactly one of Text and ImageURL is set for a well-formed message
	Text     string `json:"text,omitempty"`
	ImageURL string `json:"image_url,omitempty"`

	Origin     Origin    `json:"origin"`
	ReceivedAt time.Time `json:"received_at"`
}

// IsImage reports whether the message carries an image reference.
func (m Message) IsImage() bool {
	return m.ImageURL != ""
}

// Content returns whichever of text or image URL the message carries.
func (m Message) Content() string {
	if m.ImageURL != "" {
		return m.ImageURL
	}
	return m.Text
}

// Delivery is one raw item returned by the queue.
type Delivery struct {
	ID       string `json:"id"`
	Envelope string `json:"envelope"`
}

// SendTextRequest is the request to send a text message.
type SendTextRequest struct {
	Text string `json:"text"`
}

// SendMessageResponse is the response after sending a message.
type SendMessageResponse struct {
	Message *Message `json:"message"`
}
