package smpp

import (
	"errors"
	"fmt"
)

var (
	// ErrNotConnected is returned when an operation requires a bound session.
	ErrNotConnected = errors.New("smpp: session not bound")
	// ErrConnectTimeout is returned when connect+bind exceeds the configured
	// connect timeout, independent of any transport-level timeout.
	ErrConnectTimeout = errors.New("smpp: connect timeout")
	// ErrSubmitTimeout is returned when a submit response does not arrive
	// within the request timeout. Whether the carrier processed the message
	// is unknown; the caller owns the retry decision.
	ErrSubmitTimeout = errors.New("smpp: submit response timeout")
	// ErrSessionClosed fails in-flight waits when the session goes away.
	ErrSessionClosed = errors.New("smpp: session closed")
	// ErrRateLimited is returned when the outbound token bucket is empty.
	ErrRateLimited = errors.New("smpp: outbound rate limit exceeded")
	// ErrReconnectExhausted is the supervisor's terminal state.
	ErrReconnectExhausted = errors.New("smpp: reconnect attempts exhausted")
)

// BindRejectedError reports a bind response with a non-zero command_status.
type BindRejectedError struct {
	Status uint32
}

func (e *BindRejectedError) Error() string {
	return fmt.Sprintf("smpp: bind rejected by SMSC (command_status 0x%08X)", e.Status)
}

// SubmitRejectedError reports a submit_sm_resp with a non-zero command_status.
type SubmitRejectedError struct {
	Status uint32
}

func (e *SubmitRejectedError) Error() string {
	return fmt.Sprintf("smpp: submit rejected by SMSC (command_status 0x%08X)", e.Status)
}
