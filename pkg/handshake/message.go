// Package handshake renders the popup page that hands an OAuth result to
// the window that opened it.
//
// The opener and the popup talk over window.postMessage:
//
//	popup  -> opener: "authorizing:<provider>"
//	opener -> popup:  "authorizing:<provider>"   (ack, optional)
//	popup  -> opener: "authorization:<provider>:<status>:<json>"
//
// If no ack arrives within the fallback delay the popup sends the result
// anyway, addressed to any origin.
package handshake

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-training/cms-oauth/pkg/core"
)

const (
	announcePrefix = "authorizing:"
	messagePrefix  = "authorization"
)

// ErrMalformedMessage is returned by ParseMessage for strings that are not
// handshake messages.
var ErrMalformedMessage = errors.New("malformed handshake message")

// Announcement returns the readiness string exchanged before delivery.
func Announcement(provider string) string {
	return announcePrefix + provider
}

// Message is a decoded handshake message.
type Message struct {
	Provider string
	Status   core.Status
	Payload  string
}

// String renders "authorization:<provider>:<status>:<payload>".
func (m Message) String() string {
	return fmt.Sprintf("%s:%s:%s:%s", messagePrefix, m.Provider, m.Status, m.Payload)
}

// Encode builds the handshake message for result.
func Encode(provider string, result core.CallbackResult) (Message, error) {
	if provider == "" || strings.Contains(provider, ":") {
		return Message{}, fmt.Errorf("invalid provider name %q", provider)
	}
	payload, err := result.Payload()
	if err != nil {
		return Message{}, err
	}
	return Message{
		Provider: provider,
		Status:   result.Status,
		Payload:  string(payload),
	}, nil
}

// ParseMessage splits s on its first three colons only; the JSON payload
// may itself contain colons.
func ParseMessage(s string) (Message, error) {
	parts := strings.SplitN(s, ":", 4)
	if len(parts) != 4 || parts[0] != messagePrefix || parts[1] == "" {
		return Message{}, ErrMalformedMessage
	}

	status := core.Status(parts[2])
	if status != core.StatusSuccess && status != core.StatusError {
		return Message{}, fmt.Errorf("%w: unknown status %q", ErrMalformedMessage, parts[2])
	}

	return Message{
		Provider: parts[1],
		Status:   status,
		Payload:  parts[3],
	}, nil
}
