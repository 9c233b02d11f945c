package common

// EmailSender is the outbound email contract. Actual SMTP delivery lives
// outside this service.
type EmailSender interface {
	Send(to, subject, body string) error
}

// InMemoryEmail records messages for tests.
type InMemoryEmail struct {
	Outbox []Email
}

// Email is a single captured message.
type Email struct {
	To      string
	Subject string
	Body    string
}

// Send records the email in memory.
func (m *InMemoryEmail) Send(to, subject, body string) error {
	if m == nil {
		return nil
	}
	m.Outbox = append(m.Outbox, Email{To: to, Subject: subject, Body: body})
	return nil
}

// NopEmailSender drops every message.
type NopEmailSender struct{}

// Send implements EmailSender.
func (NopEmailSender) Send(string, string, string) error { return nil }
