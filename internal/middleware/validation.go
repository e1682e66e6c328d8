package middleware

import (
	"errors"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/capitalize-ai/queuechat/internal/codec"
)

// MaxTextLength bounds a text message in bytes.
const MaxTextLength = 100000

// ValidateMessageContent validates message text.
func ValidateMessageContent(content string) error {
	if strings.TrimSpace(content) == "" {
		return errors.New("content cannot be empty")
	}
	if len(content) > MaxTextLength {
		return errors.New("content exceeds maximum length")
	}
	if !utf8.ValidString(content) {
		return errors.New("content must be valid UTF-8")
	}
	return nil
}

// ValidateIdentity validates a participant identity.
func ValidateIdentity(id string) error {
	if len(id) > 128 {
		return errors.New("identity exceeds maximum length")
	}
	if !codec.ValidIdentity(id) {
		return errors.New("identity must be non-empty, without surrounding spaces or ':'")
	}
	return nil
}

// ValidateConversationID validates a conversation ID.
func ValidateConversationID(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return errors.New("invalid conversation ID format")
	}
	return nil
}

// ValidateImageName validates an object name from an image link.
func ValidateImageName(name string) error {
	if name == "" || len(name) > 256 {
		return errors.New("invalid image name")
	}
	if strings.ContainsAny(name, "/\\") || strings.Contains(name, "..") {
		return errors.New("invalid image name")
	}
	return nil
}
