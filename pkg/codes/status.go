package codes

// Connection Status Codes
const (
	StatusDisconnected  = "disconnected"
	StatusConnecting    = "connecting"
	StatusBindPending   = "bind_pending"
	StatusBound         = "bound"
	StatusUnbinding     = "unbinding"
	StatusBindingFailed = "binding_failed"
	StatusExhausted     = "reconnect_exhausted" // Terminal, requires operator restart
)

// Message Status Codes (persisted on messages.status)
const (
	MsgStatusReceived  = "received"
	MsgStatusProcessed = "processed"
	MsgStatusFailed    = "failed"
)

// Drop Reason Codes for inbound messages that never reach persistence.
// Dropped messages are logged and counted, never retried (the SMSC does not
// resend a deliver_sm we already acknowledged).
const (
	DropMalformedPdu         = "MALFORMED_PDU"
	DropUnknownDid           = "UNKNOWN_DID"
	DropUnclassifiedPlatform = "UNCLASSIFIED_PLATFORM"
	DropNotEntitled          = "NOT_ENTITLED"
	DropPersistFailed        = "PERSIST_FAILED"
	DropQueueFull            = "QUEUE_FULL"
)

// Submission Error Codes surfaced to collaborators of the outbound path.
const (
	ErrorCodeNotConnected  = "NOT_CONNECTED"
	ErrorCodeSubmitTimeout = "SUBMIT_TIMEOUT"
	ErrorCodeSessionClosed = "SESSION_CLOSED"
	ErrorCodeBindRejected  = "BIND_REJECTED"
	ErrorCodeRateLimited   = "RATE_LIMITED"
	ErrorCodeSubmitFailed  = "SUBMIT_FAILED"
)
