package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/telmind/didgate/internal/classify"
	"github.com/telmind/didgate/internal/events"
	"github.com/telmind/didgate/internal/logging"
	"github.com/telmind/didgate/internal/smpp"
	"github.com/telmind/didgate/internal/store"
	"github.com/telmind/didgate/internal/webhook"
	"github.com/telmind/didgate/pkg/codes"
)

// Config holds inbound-processing knobs.
type Config struct {
	PersistMaxRetries int
	PersistRetryDelay time.Duration
	// MessageTimeout bounds one message's trip through the pipeline. It is
	// deliberately detached from session lifetime: a closing session lets
	// already-received messages drain rather than aborting them.
	MessageTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.PersistMaxRetries <= 0 {
		c.PersistMaxRetries = 3
	}
	if c.PersistRetryDelay <= 0 {
		c.PersistRetryDelay = 200 * time.Millisecond
	}
	if c.MessageTimeout <= 0 {
		c.MessageTimeout = 30 * time.Second
	}
	return c
}

// Pipeline turns raw deliveries into durable, authorized, forwarded
// messages: decode -> DID lookup -> classify -> entitlement -> persist ->
// event -> webhook -> auto-forward. Distinct messages are processed
// concurrently; each message's own steps always run in that order.
type Pipeline struct {
	store      store.Store
	classifier *classify.Classifier
	events     events.Publisher
	webhooks   *webhook.Dispatcher
	cfg        Config
	counters   Counters
	wg         sync.WaitGroup
}

func New(st store.Store, cl *classify.Classifier, pub events.Publisher, wh *webhook.Dispatcher, cfg Config) *Pipeline {
	return &Pipeline{
		store:      st,
		classifier: cl,
		events:     pub,
		webhooks:   wh,
		cfg:        cfg.withDefaults(),
	}
}

// Counters surfaces pipeline outcomes on the ops endpoint.
type Counters struct {
	Accepted     atomic.Int64
	Malformed    atomic.Int64
	UnknownDid   atomic.Int64
	Unclassified atomic.Int64
	NotEntitled  atomic.Int64
	PersistFail  atomic.Int64
	WebhookOk    atomic.Int64
	WebhookFail  atomic.Int64
}

// Snapshot returns the counters keyed by their reason codes.
func (c *Counters) Snapshot() map[string]int64 {
	return map[string]int64{
		"accepted":                       c.Accepted.Load(),
		codes.DropMalformedPdu:           c.Malformed.Load(),
		codes.DropUnknownDid:             c.UnknownDid.Load(),
		codes.DropUnclassifiedPlatform:   c.Unclassified.Load(),
		codes.DropNotEntitled:            c.NotEntitled.Load(),
		codes.DropPersistFailed:          c.PersistFail.Load(),
		"webhook_sent":                   c.WebhookOk.Load(),
		"webhook_failed":                 c.WebhookFail.Load(),
	}
}

// Counters gives the ops layer read access.
func (p *Pipeline) Counters() *Counters {
	return &p.counters
}

// Run consumes the session's inbound queue in arrival order until ctx is
// cancelled, then waits for in-flight messages to drain.
func (p *Pipeline) Run(ctx context.Context, in <-chan smpp.InboundMessage) {
	slog.Info("inbound pipeline started")
	for {
		select {
		case <-ctx.Done():
			slog.Info("inbound pipeline stopping, draining queued and in-flight messages")
			p.drainQueued(in)
			p.wg.Wait()
			return
		case msg, ok := <-in:
			if !ok {
				p.wg.Wait()
				return
			}
			p.dispatch(msg)
		}
	}
}

func (p *Pipeline) dispatch(msg smpp.InboundMessage) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		// Detached from the run context so a shutdown drains instead of
		// aborting.
		msgCtx, cancel := context.WithTimeout(context.Background(), p.cfg.MessageTimeout)
		defer cancel()
		p.Handle(msgCtx, msg)
	}()
}

// drainQueued empties what is already buffered in the inbound queue at
// shutdown. Those messages were acked to the carrier when they were
// enqueued, so abandoning them here would lose them silently.
func (p *Pipeline) drainQueued(in <-chan smpp.InboundMessage) {
	for {
		select {
		case msg, ok := <-in:
			if !ok {
				return
			}
			p.dispatch(msg)
		default:
			return
		}
	}
}

// Handle processes one inbound message to completion. It returns the
// persisted message, or the drop reason when the message was discarded.
// Drops are never errors: the carrier will not resend, so they are logged
// with a reason code and counted.
func (p *Pipeline) Handle(ctx context.Context, msg smpp.InboundMessage) (*store.Message, string) {
	logCtx := logging.ContextWithSender(ctx, msg.Sender)
	logCtx = logging.ContextWithDid(logCtx, msg.Receiver)

	// 1. Addressing and text must have decoded.
	if msg.Malformed || msg.Receiver == "" {
		p.counters.Malformed.Add(1)
		slog.WarnContext(logCtx, "inbound message dropped",
			slog.String("reason", codes.DropMalformedPdu))
		return nil, codes.DropMalformedPdu
	}

	// 2. The destination must be a DID we know.
	did, err := p.store.FindDidByNumber(logCtx, msg.Receiver)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			p.counters.UnknownDid.Add(1)
			slog.WarnContext(logCtx, "inbound message dropped",
				slog.String("reason", codes.DropUnknownDid))
			return nil, codes.DropUnknownDid
		}
		p.counters.PersistFail.Add(1)
		slog.ErrorContext(logCtx, "DID lookup failed, message dropped",
			slog.String("reason", codes.DropPersistFailed), slog.Any("error", err))
		return nil, codes.DropPersistFailed
	}
	if did.Status == store.DidStatusInactive {
		p.counters.NotEntitled.Add(1)
		slog.WarnContext(logCtx, "inbound message dropped, DID inactive",
			slog.String("reason", codes.DropNotEntitled))
		return nil, codes.DropNotEntitled
	}

	// 3. Classify to a platform; the platform must exist and be active.
	code, ok := p.classifier.Classify(msg.Text)
	if !ok {
		p.counters.Unclassified.Add(1)
		slog.InfoContext(logCtx, "inbound message dropped",
			slog.String("reason", codes.DropUnclassifiedPlatform))
		return nil, codes.DropUnclassifiedPlatform
	}
	logCtx = logging.ContextWithPlatform(logCtx, code)

	platform, err := p.store.FindPlatformByCode(logCtx, code)
	if err != nil || !platform.Active() {
		p.counters.Unclassified.Add(1)
		slog.InfoContext(logCtx, "inbound message dropped, platform missing or inactive",
			slog.String("reason", codes.DropUnclassifiedPlatform))
		return nil, codes.DropUnclassifiedPlatform
	}

	// 4. An assigned DID must be entitled to the platform and unexpired.
	if did.UserID != nil && (!did.Entitled(code) || did.Expired(time.Now())) {
		p.counters.NotEntitled.Add(1)
		slog.WarnContext(logCtx, "inbound message dropped",
			slog.String("reason", codes.DropNotEntitled))
		return nil, codes.DropNotEntitled
	}

	// 5. Persist with status "received". The owning user is captured from
	// the DID now and never reconciled, even if the DID is reassigned
	// before the webhook goes out.
	params := store.CreateMessageParams{
		Did:        did.Number,
		Sender:     msg.Sender,
		Receiver:   msg.Receiver,
		Text:       msg.Text,
		Platform:   platform.Code,
		UserID:     did.UserID,
		WebhookURL: platform.WebhookURL,
		RawPDU:     msg.Raw,
	}
	if msg.CarrierID != "" {
		carrierID := msg.CarrierID
		params.CarrierID = &carrierID
	}

	persisted, err := p.persistWithRetry(logCtx, params)
	if err != nil {
		p.counters.PersistFail.Add(1)
		slog.ErrorContext(logCtx, "message lost: persistence failed after retries",
			slog.String("reason", codes.DropPersistFailed), slog.Any("error", err))
		return nil, codes.DropPersistFailed
	}
	p.counters.Accepted.Add(1)
	logCtx = logging.ContextWithMessageID(logCtx, persisted.ID)
	slog.InfoContext(logCtx, "inbound message stored")

	// 6. Notify the real-time layer; failures are logged, never propagated.
	if err := p.events.Publish(logCtx, events.TopicMessageReceived, newReceivedEvent(persisted, platform, did)); err != nil {
		slog.WarnContext(logCtx, "event publish failed", slog.Any("error", err))
	}

	// 7. Fan out to the platform's webhook, if it has one.
	if platform.WebhookURL != nil && *platform.WebhookURL != "" {
		p.dispatchWebhook(logCtx, persisted, platform)
	}

	// 8. Auto-forward marks the message processed for assigned DIDs.
	if platform.AutoForward && did.UserID != nil {
		if _, err := p.store.MarkMessageProcessed(logCtx, persisted.ID); err != nil {
			slog.WarnContext(logCtx, "failed to mark message processed", slog.Any("error", err))
		}
	}

	return persisted, ""
}

func (p *Pipeline) persistWithRetry(ctx context.Context, params store.CreateMessageParams) (*store.Message, error) {
	var lastErr error
	for attempt := 1; attempt <= p.cfg.PersistMaxRetries; attempt++ {
		msg, err := p.store.CreateMessage(ctx, params)
		if err == nil {
			return msg, nil
		}
		lastErr = err
		slog.WarnContext(ctx, "persistence attempt failed",
			slog.Int("attempt", attempt),
			slog.Int("max_retries", p.cfg.PersistMaxRetries),
			slog.Any("error", err),
		)
		if attempt == p.cfg.PersistMaxRetries {
			break
		}
		select {
		case <-time.After(p.cfg.PersistRetryDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return nil, lastErr
}

func (p *Pipeline) dispatchWebhook(ctx context.Context, msg *store.Message, platform *store.Platform) {
	payload := webhookPayload{
		Message:   newMessageView(msg),
		Platform:  newPlatformView(platform),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}

	result, err := p.webhooks.Send(ctx, *platform.WebhookURL, payload, nil)
	if err != nil {
		p.counters.WebhookFail.Add(1)
		slog.ErrorContext(ctx, "webhook delivery failed",
			slog.Int("attempts", result.Attempts), slog.Any("error", err))
		if err := p.store.UpdateMessageStatus(ctx, msg.ID, codes.MsgStatusFailed); err != nil {
			slog.WarnContext(ctx, "failed to mark message failed", slog.Any("error", err))
		}
		return
	}
	p.counters.WebhookOk.Add(1)

	if err := p.store.MarkWebhookSent(ctx, msg.ID); err != nil {
		slog.WarnContext(ctx, "failed to mark webhook sent", slog.Any("error", err))
	}
}
