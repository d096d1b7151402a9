package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by lookups when no row matches.
var ErrNotFound = errors.New("store: not found")

// Did statuses as stored on dids.status.
const (
	DidStatusAvailable = "available"
	DidStatusAssigned  = "assigned"
	DidStatusInactive  = "inactive"
)

// Did is the read-only view of a provisioned number. The gateway never
// creates or deletes DIDs; it only reads them to authorize inbound traffic.
type Did struct {
	Number    string
	UserID    *int64
	Status    string
	Platforms []string
	ExpiresAt *time.Time
}

// Expired reports whether the DID's assignment has lapsed.
func (d *Did) Expired(now time.Time) bool {
	return d.ExpiresAt != nil && now.After(*d.ExpiresAt)
}

// Entitled reports whether the DID may receive traffic for the platform.
// A DID with no owning user carries no entitlement restriction.
func (d *Did) Entitled(code string) bool {
	if d.UserID == nil {
		return true
	}
	for _, p := range d.Platforms {
		if p == code {
			return true
		}
	}
	return false
}

// Platform is the read-only view of a logical destination platform.
type Platform struct {
	Code        string
	Name        string
	Status      string
	WebhookURL  *string
	AutoForward bool
}

// Active reports whether the platform accepts traffic.
func (p *Platform) Active() bool {
	return p.Status == "active"
}

// Message is a durably persisted inbound message. Did, Sender, Receiver,
// Text and Platform are immutable once created; only Status, WebhookSent
// and ProcessedAt mutate afterwards.
type Message struct {
	ID          string
	Did         string
	Sender      string
	Receiver    string
	Text        string
	Platform    string
	Status      string
	UserID      *int64
	CarrierID   *string
	WebhookURL  *string
	WebhookSent bool
	RawPDU      []byte
	CreatedAt   time.Time
	UpdatedAt   time.Time
	ProcessedAt *time.Time
}

// CreateMessageParams carries the immutable fields of a new message.
// UserID is copied from the DID at creation time and never reconciled,
// even if the DID is reassigned before downstream delivery completes.
type CreateMessageParams struct {
	Did        string
	Sender     string
	Receiver   string
	Text       string
	Platform   string
	UserID     *int64
	CarrierID  *string
	WebhookURL *string
	RawPDU     []byte
}

// Store is the persistence contract the pipeline depends on.
type Store interface {
	FindDidByNumber(ctx context.Context, number string) (*Did, error)
	FindActivePlatforms(ctx context.Context) ([]Platform, error)
	FindPlatformByCode(ctx context.Context, code string) (*Platform, error)

	CreateMessage(ctx context.Context, params CreateMessageParams) (*Message, error)
	MarkMessageProcessed(ctx context.Context, id string) (*Message, error)
	MarkWebhookSent(ctx context.Context, id string) error
	UpdateMessageStatus(ctx context.Context, id, status string) error
}
