package logging

import (
	"context"
	"log/slog"
)

type contextKey string

const (
	DidKey        contextKey = "did"
	PlatformKey   contextKey = "platform"
	MessageIDKey  contextKey = "msg_id"
	CarrierIDKey  contextKey = "carrier_msg_id"
	CommandIDKey  contextKey = "cmd_id"
	SeqNumberKey  contextKey = "seq_num"
	WebhookURLKey contextKey = "webhook_url"
	SenderKey     contextKey = "sender"
)

// ContextHandler wraps another slog.Handler and adds attributes from context.
type ContextHandler struct {
	slog.Handler
}

// NewContextHandler creates a handler that extracts values from context.
func NewContextHandler(h slog.Handler) *ContextHandler {
	return &ContextHandler{Handler: h}
}

// Handle adds context attributes before calling the wrapped handler.
func (h *ContextHandler) Handle(ctx context.Context, r slog.Record) error {
	if did, ok := ctx.Value(DidKey).(string); ok {
		r.AddAttrs(slog.String("did", did))
	}
	if platform, ok := ctx.Value(PlatformKey).(string); ok {
		r.AddAttrs(slog.String("platform", platform))
	}
	if msgID, ok := ctx.Value(MessageIDKey).(string); ok {
		r.AddAttrs(slog.String("msg_id", msgID))
	}
	if carrierID, ok := ctx.Value(CarrierIDKey).(string); ok {
		r.AddAttrs(slog.String("carrier_msg_id", carrierID))
	}
	if cmdID, ok := ctx.Value(CommandIDKey).(string); ok {
		r.AddAttrs(slog.String("cmd_id", cmdID))
	}
	if seq, ok := ctx.Value(SeqNumberKey).(int32); ok {
		r.AddAttrs(slog.Int("seq_num", int(seq)))
	}
	if url, ok := ctx.Value(WebhookURLKey).(string); ok {
		r.AddAttrs(slog.String("webhook_url", url))
	}
	if sender, ok := ctx.Value(SenderKey).(string); ok {
		r.AddAttrs(slog.String("sender", sender))
	}

	return h.Handler.Handle(ctx, r)
}

// Helper functions to add values to context

func ContextWithDid(ctx context.Context, did string) context.Context {
	return context.WithValue(ctx, DidKey, did)
}

func ContextWithPlatform(ctx context.Context, code string) context.Context {
	return context.WithValue(ctx, PlatformKey, code)
}

func ContextWithMessageID(ctx context.Context, msgID string) context.Context {
	return context.WithValue(ctx, MessageIDKey, msgID)
}

func ContextWithCarrierMsgID(ctx context.Context, carrierID string) context.Context {
	return context.WithValue(ctx, CarrierIDKey, carrierID)
}

func ContextWithSender(ctx context.Context, sender string) context.Context {
	return context.WithValue(ctx, SenderKey, sender)
}

func ContextWithWebhookURL(ctx context.Context, url string) context.Context {
	return context.WithValue(ctx, WebhookURLKey, url)
}

func ContextWithPDUInfo(ctx context.Context, commandID string, seqNumber int32) context.Context {
	ctx = context.WithValue(ctx, CommandIDKey, commandID)
	return context.WithValue(ctx, SeqNumberKey, seqNumber)
}
