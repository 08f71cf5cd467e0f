// Package mail renders and delivers outbound e-mail. Delivery is either
// direct (SMTP) or queued on the message broker for the mailer worker.
package mail

import (
	"context"
	"errors"
)

// ErrNotConfigured is returned by a Mailer that lacks credentials.
var ErrNotConfigured = errors.New("mail: delivery not configured")

// Message is a plaintext + HTML e-mail to a single recipient. Link is the
// message's call-to-action URL, logged when the message cannot be delivered
// outside production.
type Message struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Text    string `json:"text"`
	HTML    string `json:"html"`
	Link    string `json:"link,omitempty"`
}

// Mailer delivers a message. Implementations make a single attempt.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}
