package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"
)

func testOptions() Options {
	return Options{
		Timeout:    2 * time.Second,
		MaxRetries: 3,
		RetryDelay: 5 * time.Millisecond,
	}
}

func TestSend_Success(t *testing.T) {
	t.Parallel()

	type captured struct {
		signature string
		timestamp string
		body      []byte
	}
	var got captured

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got.signature = r.Header.Get(HeaderSignature)
		got.timestamp = r.Header.Get(HeaderTimestamp)
		got.body, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d := NewDispatcher("test-secret", testOptions())
	payload := map[string]string{"message": "hello"}

	result, err := d.Send(context.Background(), srv.URL, payload, nil)
	if err != nil {
		t.Fatalf("Send() error: %v", err)
	}
	if !result.Success || result.StatusCode != http.StatusOK || result.Attempts != 1 {
		t.Fatalf("Send() result = %+v, want success on first attempt", result)
	}

	if got.signature == "" || got.timestamp == "" {
		t.Fatalf("missing signature headers: sig=%q ts=%q", got.signature, got.timestamp)
	}
	if want := d.Sign(got.body, got.timestamp); got.signature != want {
		t.Fatalf("signature = %q, want %q", got.signature, want)
	}

	var decoded map[string]string
	if err := json.Unmarshal(got.body, &decoded); err != nil {
		t.Fatalf("request body not JSON: %v", err)
	}
	if decoded["message"] != "hello" {
		t.Fatalf("payload = %+v, want message=hello", decoded)
	}
}

func TestSend_RetriesOn5xxThenFails(t *testing.T) {
	t.Parallel()

	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	d := NewDispatcher("test-secret", testOptions())

	result, err := d.Send(context.Background(), srv.URL, map[string]string{}, nil)
	if err == nil {
		t.Fatal("Send() to failing endpoint: expected error, got nil")
	}
	var de *DeliveryError
	if !errors.As(err, &de) {
		t.Fatalf("Send() error = %T, want *DeliveryError", err)
	}
	if de.Attempts != 3 {
		t.Fatalf("DeliveryError.Attempts = %d, want 3", de.Attempts)
	}
	if n := hits.Load(); n != 3 {
		t.Fatalf("endpoint hit %d times, want 3", n)
	}
	if result.Success {
		t.Fatal("result.Success = true for failed delivery")
	}
}

func TestSend_4xxIsTerminal(t *testing.T) {
	t.Parallel()

	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	d := NewDispatcher("test-secret", testOptions())

	result, err := d.Send(context.Background(), srv.URL, map[string]string{}, nil)
	if err == nil {
		t.Fatal("Send() to rejecting endpoint: expected error, got nil")
	}
	if n := hits.Load(); n != 1 {
		t.Fatalf("endpoint hit %d times, want 1 (4xx must not retry)", n)
	}
	if result.StatusCode != http.StatusNotFound || result.Success {
		t.Fatalf("result = %+v, want terminal 404", result)
	}
}

func TestSend_RecoversOnRetry(t *testing.T) {
	t.Parallel()

	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d := NewDispatcher("test-secret", testOptions())

	result, err := d.Send(context.Background(), srv.URL, map[string]string{}, nil)
	if err != nil {
		t.Fatalf("Send() error: %v", err)
	}
	if !result.Success || result.Attempts != 3 {
		t.Fatalf("result = %+v, want success on attempt 3", result)
	}
}

func TestSendMany_IndependentOutcomes(t *testing.T) {
	t.Parallel()

	okSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer okSrv.Close()

	downSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer downSrv.Close()

	d := NewDispatcher("test-secret", testOptions())

	results := d.SendMany(context.Background(), []string{okSrv.URL, downSrv.URL}, map[string]string{}, nil)
	if len(results) != 2 {
		t.Fatalf("SendMany() returned %d results, want 2", len(results))
	}
	if !results[0].Success {
		t.Fatalf("results[0] = %+v, want success", results[0])
	}
	if results[1].Success {
		t.Fatalf("results[1] = %+v, want failure", results[1])
	}
	if results[0].URL != okSrv.URL || results[1].URL != downSrv.URL {
		t.Fatal("SendMany() results out of input order")
	}
}

func TestVerifySignature(t *testing.T) {
	t.Parallel()

	d := NewDispatcher("test-secret", testOptions())
	payload := []byte(`{"message":"hi"}`)
	ts := strconv.FormatInt(time.Now().UnixMilli(), 10)
	sig := d.Sign(payload, ts)

	if err := d.VerifySignature(payload, sig, ts); err != nil {
		t.Fatalf("VerifySignature() on valid input: %v", err)
	}
	if err := d.VerifySignature([]byte(`{"message":"tampered"}`), sig, ts); !errors.Is(err, ErrSignatureMismatch) {
		t.Fatalf("tampered payload: got %v, want ErrSignatureMismatch", err)
	}
	if err := d.VerifySignature(payload, sig+"00", ts); !errors.Is(err, ErrSignatureMismatch) {
		t.Fatalf("tampered signature: got %v, want ErrSignatureMismatch", err)
	}
	if err := d.VerifySignature(payload, sig, "not-a-number"); !errors.Is(err, ErrBadTimestamp) {
		t.Fatalf("bad timestamp: got %v, want ErrBadTimestamp", err)
	}

	other := NewDispatcher("other-secret", testOptions())
	if err := other.VerifySignature(payload, sig, ts); !errors.Is(err, ErrSignatureMismatch) {
		t.Fatalf("wrong secret: got %v, want ErrSignatureMismatch", err)
	}
}

func TestVerifySignature_ExpiredTimestamp(t *testing.T) {
	t.Parallel()

	d := NewDispatcher("test-secret", testOptions())
	payload := []byte(`{}`)

	old := time.Now().Add(-MaxSignatureAge - time.Minute)
	ts := strconv.FormatInt(old.UnixMilli(), 10)
	sig := d.Sign(payload, ts)

	if err := d.VerifySignature(payload, sig, ts); !errors.Is(err, ErrSignatureExpired) {
		t.Fatalf("expired timestamp: got %v, want ErrSignatureExpired", err)
	}
}
