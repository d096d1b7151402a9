package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/telmind/didgate/internal/logging"
)

// MaxSignatureAge bounds replay exposure for received webhooks.
const MaxSignatureAge = 5 * time.Minute

// Signature headers on every outgoing request.
const (
	HeaderSignature = "X-Signature"
	HeaderTimestamp = "X-Timestamp"
)

var (
	ErrSignatureMismatch = errors.New("webhook: signature mismatch")
	ErrSignatureExpired  = errors.New("webhook: signature timestamp too old")
	ErrBadTimestamp      = errors.New("webhook: malformed signature timestamp")
)

// DeliveryError reports a webhook that exhausted its retries.
type DeliveryError struct {
	URL      string
	Attempts int
	Last     error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("webhook delivery to %s failed after %d attempts: %v", e.URL, e.Attempts, e.Last)
}

func (e *DeliveryError) Unwrap() error { return e.Last }

// Options controls a single delivery. Zero fields fall back to the
// dispatcher defaults.
type Options struct {
	Timeout    time.Duration
	MaxRetries int
	RetryDelay time.Duration
}

// Result is the outcome of delivery to one URL.
type Result struct {
	URL        string `json:"url"`
	Success    bool   `json:"success"`
	StatusCode int    `json:"status_code,omitempty"`
	Attempts   int    `json:"attempts"`
	Error      string `json:"error,omitempty"`
}

// Dispatcher delivers signed JSON payloads to subscriber endpoints with
// bounded, fixed-delay retries. A response below 500 is terminal: 2xx is
// success, anything else below 500 is a business-level rejection that is
// not retried. 5xx and transport errors retry up to MaxRetries attempts.
type Dispatcher struct {
	secret   []byte
	client   *http.Client
	defaults Options
	now      func() time.Time
}

func NewDispatcher(secret string, defaults Options) *Dispatcher {
	if defaults.Timeout <= 0 {
		defaults.Timeout = 10 * time.Second
	}
	if defaults.MaxRetries <= 0 {
		defaults.MaxRetries = 3
	}
	if defaults.RetryDelay <= 0 {
		defaults.RetryDelay = time.Second
	}
	// Per-attempt deadlines come from the request context, so the client
	// itself carries no timeout.
	return &Dispatcher{
		secret:   []byte(secret),
		client:   &http.Client{},
		defaults: defaults,
		now:      time.Now,
	}
}

// Sign computes the hex HMAC-SHA256 of payload + "." + timestamp.
func (d *Dispatcher) Sign(payload []byte, timestamp string) string {
	mac := hmac.New(sha256.New, d.secret)
	mac.Write(payload)
	mac.Write([]byte("."))
	mac.Write([]byte(timestamp))
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature recomputes the signature and compares in constant time,
// rejecting timestamps older than MaxSignatureAge.
func (d *Dispatcher) VerifySignature(payload []byte, signature, timestamp string) error {
	ms, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return ErrBadTimestamp
	}
	if d.now().Sub(time.UnixMilli(ms)) > MaxSignatureAge {
		return ErrSignatureExpired
	}
	expected := d.Sign(payload, timestamp)
	if !hmac.Equal([]byte(signature), []byte(expected)) {
		return ErrSignatureMismatch
	}
	return nil
}

// Send delivers payload to url. The returned Result is always populated;
// the error is non-nil only when delivery ultimately failed.
func (d *Dispatcher) Send(ctx context.Context, url string, payload any, opts *Options) (Result, error) {
	o := d.resolve(opts)
	result := Result{URL: url}

	body, err := json.Marshal(payload)
	if err != nil {
		result.Error = err.Error()
		return result, fmt.Errorf("marshal webhook payload: %w", err)
	}

	timestamp := strconv.FormatInt(d.now().UnixMilli(), 10)
	signature := d.Sign(body, timestamp)

	logCtx := logging.ContextWithWebhookURL(ctx, url)

	var lastErr error
	for attempt := 1; attempt <= o.MaxRetries; attempt++ {
		result.Attempts = attempt

		status, err := d.post(logCtx, url, body, signature, timestamp, o.Timeout)
		if err == nil && status < http.StatusInternalServerError {
			result.StatusCode = status
			if status >= 200 && status < 300 {
				slog.InfoContext(logCtx, "webhook delivered",
					slog.Int("http_status", status),
					slog.Int("attempt", attempt),
				)
				result.Success = true
				return result, nil
			}
			// Receiver rejected the payload; its decision is final.
			lastErr = fmt.Errorf("endpoint returned status %d", status)
			slog.WarnContext(logCtx, "webhook rejected by endpoint",
				slog.Int("http_status", status),
				slog.Int("attempt", attempt),
			)
			break
		}

		if err != nil {
			lastErr = err
		} else {
			result.StatusCode = status
			lastErr = fmt.Errorf("endpoint returned status %d", status)
		}
		slog.WarnContext(logCtx, "webhook attempt failed",
			slog.Int("attempt", attempt),
			slog.Int("max_retries", o.MaxRetries),
			slog.Any("error", lastErr),
		)

		if attempt == o.MaxRetries {
			break
		}
		select {
		case <-time.After(o.RetryDelay):
		case <-ctx.Done():
			lastErr = ctx.Err()
			result.Error = lastErr.Error()
			return result, &DeliveryError{URL: url, Attempts: attempt, Last: lastErr}
		}
	}

	result.Error = lastErr.Error()
	return result, &DeliveryError{URL: url, Attempts: result.Attempts, Last: lastErr}
}

// SendMany fans out Send to all URLs concurrently. It never fails as a
// whole: each URL's outcome is reported independently, in input order.
func (d *Dispatcher) SendMany(ctx context.Context, urls []string, payload any, opts *Options) []Result {
	results := make([]Result, len(urls))
	var wg sync.WaitGroup
	for i, url := range urls {
		wg.Add(1)
		go func(i int, url string) {
			defer wg.Done()
			results[i], _ = d.Send(ctx, url, payload, opts)
		}(i, url)
	}
	wg.Wait()
	return results
}

func (d *Dispatcher) post(ctx context.Context, url string, body []byte, signature, timestamp string, timeout time.Duration) (int, error) {
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderSignature, signature)
	req.Header.Set(HeaderTimestamp, timestamp)
	req.Header.Set("User-Agent", "didgate-webhook/1.0")

	resp, err := d.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode, nil
}

func (d *Dispatcher) resolve(opts *Options) Options {
	o := d.defaults
	if opts == nil {
		return o
	}
	if opts.Timeout > 0 {
		o.Timeout = opts.Timeout
	}
	if opts.MaxRetries > 0 {
		o.MaxRetries = opts.MaxRetries
	}
	if opts.RetryDelay > 0 {
		o.RetryDelay = opts.RetryDelay
	}
	return o
}
