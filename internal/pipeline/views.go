package pipeline

import (
	"time"

	"github.com/telmind/didgate/internal/store"
)

// messageView is the outward-facing shape of a stored message. Raw PDU
// bytes and internal bookkeeping stay out of events and webhooks.
type messageView struct {
	ID        string  `json:"id"`
	Did       string  `json:"did"`
	Sender    string  `json:"sender"`
	Receiver  string  `json:"receiver"`
	Text      string  `json:"message"`
	Platform  string  `json:"platform"`
	Status    string  `json:"status"`
	UserID    *int64  `json:"user_id,omitempty"`
	CarrierID *string `json:"smpp_id,omitempty"`
	CreatedAt string  `json:"created_at"`
}

type platformView struct {
	Code        string `json:"code"`
	Name        string `json:"name"`
	AutoForward bool   `json:"auto_forward"`
}

type didView struct {
	Number string `json:"number"`
	UserID *int64 `json:"user_id,omitempty"`
}

// receivedEvent is the payload published on TopicMessageReceived.
type receivedEvent struct {
	Message  messageView  `json:"message"`
	Platform platformView `json:"platform"`
	Did      didView      `json:"did"`
}

// webhookPayload is what platform endpoints receive.
type webhookPayload struct {
	Message   messageView  `json:"message"`
	Platform  platformView `json:"platform"`
	Timestamp string       `json:"timestamp"`
}

func newMessageView(m *store.Message) messageView {
	return messageView{
		ID:        m.ID,
		Did:       m.Did,
		Sender:    m.Sender,
		Receiver:  m.Receiver,
		Text:      m.Text,
		Platform:  m.Platform,
		Status:    m.Status,
		UserID:    m.UserID,
		CarrierID: m.CarrierID,
		CreatedAt: m.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func newPlatformView(p *store.Platform) platformView {
	return platformView{Code: p.Code, Name: p.Name, AutoForward: p.AutoForward}
}

func newReceivedEvent(m *store.Message, p *store.Platform, d *store.Did) receivedEvent {
	return receivedEvent{
		Message:  newMessageView(m),
		Platform: newPlatformView(p),
		Did:      didView{Number: d.Number, UserID: d.UserID},
	}
}
