// Package codec converts between structured messages and the flat queue envelope
// "<sender>: <content> | to: <recipient>".
package codec

import (
	"errors"
	"fmt"
	"strings"

	"github.com/capitalize-ai/queuechat/internal/model"
)

const (
	// RecipientSeparator marks the start of the recipient in an envelope.
	RecipientSeparator = " | to: "

	// ImagePrefix classifies content as an image reference.
	ImagePrefix = "https://"

	senderSeparator = ":"
)

// ErrMalformedEnvelope is matched by every DecodeError.
var ErrMalformedEnvelope = errors.New("malformed envelope")

// DecodeError describes why an envelope could not be decoded.
type DecodeError struct {
	Envelope string
	Reason   string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("malformed envelope %q: %s", e.Envelope, e.Reason)
}

// Unwrap lets errors.Is match ErrMalformedEnvelope.
func (e *DecodeError) Unwrap() error {
	return ErrMalformedEnvelope
}

// Encode builds an envelope. Content is used verbatim; whether it is text or an
// image URL is the caller's choice.
func Encode(sender, recipient, content string) string {
	return sender + senderSeparator + " " + content + RecipientSeparator + recipient
}

// Decode parses an envelope into a message with Origin and ID left unset.
//
// The last recipient separator wins so text may contain it; identities may not.
// Older clients split on the first separator instead, so they read a different
// recipient for text that contains it.
// Content starting with ImagePrefix is always treated as an image, including
// text that merely looks like a URL.
func Decode(envelope string) (model.Message, error) {
	i := strings.LastIndex(envelope, RecipientSeparator)
	if i < 0 {
		return model.Message{}, &DecodeError{Envelope: envelope, Reason: "missing recipient separator"}
	}
	head, recipient := envelope[:i], envelope[i+len(RecipientSeparator):]

	sender, content, ok := strings.Cut(head, senderSeparator)
	if !ok {
		return model.Message{}, &DecodeError{Envelope: envelope, Reason: "missing sender separator"}
	}

	sender = strings.TrimSpace(sender)
	recipient = strings.TrimSpace(recipient)
	content = strings.TrimSpace(content)

	if sender == "" {
		return model.Message{}, &DecodeError{Envelope: envelope, Reason: "empty sender"}
	}
	if recipient == "" {
		return model.Message{}, &DecodeError{Envelope: envelope, Reason: "empty recipient"}
	}

	msg := model.Message{
		Sender:    sender,
		Recipient: recipient,
	}
	if IsImageURL(content) {
		msg.ImageURL = content
	} else {
		msg.Text = content
	}
	return msg, nil
}

// IsImageURL reports whether content would be decoded as an image reference.
func IsImageURL(content string) bool {
	return strings.HasPrefix(content, ImagePrefix)
}

// ValidIdentity reports whether id can appear as a sender or recipient without
// making envelopes ambiguous.
func ValidIdentity(id string) bool {
	if id == "" || strings.TrimSpace(id) != id {
		return false
	}
	// A colon would move the sender boundary; the recipient separator contains one too.
	return !strings.Contains(id, senderSeparator)
}
