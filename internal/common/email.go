package common

import "github.com/rs/zerolog"

// EmailSender defines the contract for sending emails.
type EmailSender interface {
	Send(to, subject, html string) error
}

// Email represents a single email message captured by InMemoryEmail.
type Email struct {
	To      string
	Subject string
	HTML    string
}

// InMemoryEmail provides a test-friendly email sender that records messages.
type InMemoryEmail struct {
	Outbox []Email
}

// Send records the email in memory.
func (m *InMemoryEmail) Send(to, subject, html string) error {
	if m == nil {
		return nil
	}
	m.Outbox = append(m.Outbox, Email{To: to, Subject: subject, HTML: html})
	return nil
}

// LogEmailSender writes outgoing mail to the log instead of delivering it.
// It is the default sender until a real provider is configured.
type LogEmailSender struct {
	Log zerolog.Logger
}

// Send logs the message metadata.
func (s LogEmailSender) Send(to, subject, _ string) error {
	s.Log.Info().Str("to", to).Str("subject", subject).Msg("email send skipped (log sender)")
	return nil
}

// NopEmailSender implements EmailSender without performing any action.
type NopEmailSender struct{}

// Send implements EmailSender.
func (NopEmailSender) Send(string, string, string) error { return nil }
