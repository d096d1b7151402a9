package smpp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/linxGnu/gosmpp"
	"github.com/linxGnu/gosmpp/data"
	"github.com/linxGnu/gosmpp/pdu"

	"github.com/telmind/didgate/internal/logging"
	"github.com/telmind/didgate/pkg/codes"
)

// Config holds everything one carrier session needs.
type Config struct {
	Host         string
	Port         int
	SystemID     string
	Password     string
	SystemType   string
	AddrTON      byte
	AddrNPI      byte
	AddressRange string
	BindMode     string // "transceiver", "transmitter" or "receiver" (or trx/tx/rx)

	ConnectTimeout time.Duration
	RequestTimeout time.Duration
	EnquireLink    time.Duration

	DeliverQueueSize    int
	DeliverQueueTimeout time.Duration
}

func (c *Config) withDefaults() Config {
	cfg := *c
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	if cfg.EnquireLink <= 0 {
		cfg.EnquireLink = 10 * time.Second
	}
	if cfg.DeliverQueueSize <= 0 {
		cfg.DeliverQueueSize = 1024
	}
	if cfg.DeliverQueueTimeout <= 0 {
		cfg.DeliverQueueTimeout = 5 * time.Second
	}
	if cfg.BindMode == "" {
		cfg.BindMode = "transceiver"
	}
	return cfg
}

// InboundMessage is one decoded deliver_sm, handed to the pipeline.
type InboundMessage struct {
	Sender     string
	Receiver   string
	Text       string
	CarrierID  string // usually empty for mobile-originated traffic
	Malformed  bool   // text or addressing could not be decoded
	ReceivedAt time.Time
	Raw        []byte // JSON snapshot of the decoded PDU fields
}

type rawSnapshot struct {
	SourceAddr string `json:"source_addr"`
	DestAddr   string `json:"dest_addr"`
	Text       string `json:"short_message"`
	EsmClass   byte   `json:"esm_class"`
	Sequence   int32  `json:"sequence_number"`
}

// Stats aggregates session counters across reconnects.
type Stats struct {
	Delivered atomic.Int64 // deliver_sm handed to the pipeline
	Dropped   atomic.Int64 // deliver_sm dropped because the queue was full
	Submitted atomic.Int64 // submit_sm accepted by the SMSC
}

// Session owns exactly one bind lifecycle on the wire. It performs no
// business logic: inbound deliveries are decoded and queued for the
// pipeline without ever blocking the network read loop.
type Session struct {
	cfg      Config
	sess     *gosmpp.Session
	inbound  chan<- InboundMessage
	stats    *Stats
	window   *submitWindow
	status   atomic.Value // string, pkg/codes connection status
	done     chan struct{}
	doneOnce sync.Once
	connMu   sync.Mutex
}

// dial opens the transport, binds and starts the gosmpp read loop. It
// enforces cfg.ConnectTimeout on the whole connect+bind exchange,
// independent of transport timeouts.
func dial(ctx context.Context, cfg Config, inbound chan<- InboundMessage, stats *Stats) (*Session, error) {
	cfg = cfg.withDefaults()
	s := &Session{
		cfg:     cfg,
		inbound: inbound,
		stats:   stats,
		window:  newSubmitWindow(),
		done:    make(chan struct{}),
	}
	s.status.Store(codes.StatusConnecting)

	auth := gosmpp.Auth{
		SMSC:       fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		SystemID:   cfg.SystemID,
		Password:   cfg.Password,
		SystemType: cfg.SystemType,
	}

	var connector gosmpp.Connector
	switch strings.ToLower(cfg.BindMode) {
	case "trx", "transceiver":
		connector = gosmpp.TRXConnector(gosmpp.NonTLSDialer, auth)
	case "tx", "transmitter":
		connector = gosmpp.TXConnector(gosmpp.NonTLSDialer, auth)
	case "rx", "receiver":
		connector = gosmpp.RXConnector(gosmpp.NonTLSDialer, auth)
	default:
		return nil, fmt.Errorf("unsupported bind mode: %s", cfg.BindMode)
	}

	settings := s.sessionSettings()

	s.status.Store(codes.StatusBindPending)

	// Rebind interval 0: reconnection policy belongs to the supervisor,
	// never to the library.
	resCh := make(chan dialResult, 1)
	go func() {
		sess, err := gosmpp.NewSession(connector, settings, 0)
		resCh <- dialResult{sess: sess, err: err}
	}()

	select {
	case res := <-resCh:
		if res.err != nil {
			mapped := connectError(res.err)
			var rejected *BindRejectedError
			if errors.As(mapped, &rejected) {
				s.status.Store(codes.StatusBindingFailed)
				slog.Error("SMPP bind rejected",
					slog.String("smsc", auth.SMSC),
					slog.Uint64("command_status", uint64(rejected.Status)),
				)
			} else {
				s.status.Store(codes.StatusDisconnected)
			}
			return nil, mapped
		}
		s.sess = res.sess
	case <-time.After(cfg.ConnectTimeout):
		s.status.Store(codes.StatusDisconnected)
		go discardLateSession(resCh)
		return nil, ErrConnectTimeout
	case <-ctx.Done():
		s.status.Store(codes.StatusDisconnected)
		go discardLateSession(resCh)
		return nil, ctx.Err()
	}

	s.status.Store(codes.StatusBound)
	slog.Info("SMPP session bound",
		slog.String("smsc", auth.SMSC),
		slog.String("system_id", cfg.SystemID),
		slog.String("bind_mode", cfg.BindMode),
	)
	return s, nil
}

type dialResult struct {
	sess *gosmpp.Session
	err  error
}

// sessionSettings builds the gosmpp settings for this session. The library
// rejects a zero StoreAccessTimeOut before dialing; the field is a bare
// millisecond count, unlike the surrounding durations.
func (s *Session) sessionSettings() gosmpp.Settings {
	cfg := s.cfg
	return gosmpp.Settings{
		EnquireLink:  cfg.EnquireLink,
		ReadTimeout:  cfg.RequestTimeout + 5*time.Second,
		WriteTimeout: cfg.RequestTimeout,

		WindowedRequestTracking: &gosmpp.WindowedRequestTracking{
			MaxWindowSize:         255,
			StoreAccessTimeOut:    100,
			PduExpireTimeOut:      cfg.RequestTimeout,
			ExpireCheckTimer:      time.Second,
			EnableAutoRespond:     false,
			OnReceivedPduRequest:  s.handleReceivedPduRequest,
			OnExpectedPduResponse: s.handleExpectedPduResponse,
			OnExpiredPduRequest:   s.handleExpiredPduRequest,
			OnClosePduRequest:     s.handleClosePduRequest,
		},

		OnSubmitError:    s.onSubmitError,
		OnReceivingError: s.onReceivingError,
		OnClosed:         s.onClosed,
	}
}

// connectError translates library dial failures into the session error
// set. The bind response is consumed inside the connector, so a rejected
// bind only ever surfaces here, as a BindError from NewSession.
func connectError(err error) error {
	var be gosmpp.BindError
	if errors.As(err, &be) {
		return &BindRejectedError{Status: uint32(be.CommandStatus)}
	}
	return fmt.Errorf("smpp connect: %w", err)
}

// discardLateSession closes a session that completed after the caller
// stopped waiting for it.
func discardLateSession(resCh <-chan dialResult) {
	res := <-resCh
	if res.sess != nil {
		_ = res.sess.Close()
	}
}

// Status returns the current connection status string.
func (s *Session) Status() string {
	return s.status.Load().(string)
}

// Done is closed when the session is gone, whatever the cause.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Close unbinds and closes the transport. Safe to call more than once and
// on every exit path; in-flight submit waits fail with ErrSessionClosed.
func (s *Session) Close() error {
	s.connMu.Lock()
	defer s.connMu.Unlock()

	current := s.Status()
	if current == codes.StatusUnbinding || current == codes.StatusDisconnected {
		return nil
	}
	s.status.Store(codes.StatusUnbinding)

	var err error
	if s.sess != nil {
		err = s.sess.Close()
	}
	s.markClosed()
	return err
}

func (s *Session) markClosed() {
	s.status.Store(codes.StatusDisconnected)
	s.doneOnce.Do(func() {
		close(s.done)
		s.window.failAll(ErrSessionClosed)
	})
}

// =============================================================================
// Outbound submission
// =============================================================================

// Submit sends one short message and blocks until the carrier responds,
// the request times out or the session closes. Correlation is by PDU
// sequence number; any number of submissions may be in flight.
func (s *Session) Submit(ctx context.Context, from, to, text string) (string, error) {
	if s.Status() != codes.StatusBound {
		return "", ErrNotConnected
	}

	p, err := s.buildSubmitSM(from, to, text)
	if err != nil {
		return "", err
	}

	seq := p.GetSequenceNumber()
	logCtx := logging.ContextWithPDUInfo(ctx, p.GetHeader().CommandID.String(), seq)
	wait := s.window.add(seq)

	if err := s.submitPDU(p); err != nil {
		s.window.drop(seq)
		if errors.Is(err, gosmpp.ErrWindowsFull) {
			return "", fmt.Errorf("%w: %v", ErrRateLimited, err)
		}
		return "", fmt.Errorf("submit_sm send: %w", err)
	}
	slog.DebugContext(logCtx, "submit_sm sent, awaiting response")

	select {
	case out := <-wait:
		if out.err != nil {
			return "", out.err
		}
		s.stats.Submitted.Add(1)
		return out.messageID, nil
	case <-time.After(s.cfg.RequestTimeout):
		s.window.drop(seq)
		return "", ErrSubmitTimeout
	case <-ctx.Done():
		s.window.drop(seq)
		return "", ctx.Err()
	}
}

func (s *Session) submitPDU(p pdu.PDU) error {
	switch strings.ToLower(s.cfg.BindMode) {
	case "tx", "transmitter":
		return s.sess.Transmitter().Submit(p)
	case "rx", "receiver":
		return errors.New("smpp: receiver bind cannot submit")
	default:
		return s.sess.Transceiver().Submit(p)
	}
}

func (s *Session) buildSubmitSM(from, to, text string) (*pdu.SubmitSM, error) {
	p := pdu.NewSubmitSM().(*pdu.SubmitSM)

	srcAddr := pdu.NewAddress()
	srcAddr.SetTon(s.cfg.AddrTON)
	srcAddr.SetNpi(s.cfg.AddrNPI)
	if err := srcAddr.SetAddress(from); err != nil {
		return nil, fmt.Errorf("invalid source address %q: %w", from, err)
	}
	p.SourceAddr = srcAddr

	destAddr := pdu.NewAddress()
	destAddr.SetTon(s.cfg.AddrTON)
	destAddr.SetNpi(s.cfg.AddrNPI)
	if err := destAddr.SetAddress(to); err != nil {
		return nil, fmt.Errorf("invalid destination address %q: %w", to, err)
	}
	p.DestAddr = destAddr

	if err := p.Message.SetMessageWithEncoding(text, data.GSM7BIT); err != nil {
		// Fall back to UCS2 for content outside the GSM alphabet.
		if err := p.Message.SetMessageWithEncoding(text, data.UCS2); err != nil {
			return nil, fmt.Errorf("encode message: %w", err)
		}
	}

	p.ProtocolID = 0
	p.RegisteredDelivery = 1
	p.ReplaceIfPresentFlag = 0
	p.EsmClass = 0

	return p, nil
}

// =============================================================================
// Asynchronous callback handlers (passed to gosmpp.Settings)
// =============================================================================

func (s *Session) handleReceivedPduRequest(p pdu.PDU) (pdu.PDU, bool) {
	logCtx := logging.ContextWithPDUInfo(context.Background(),
		p.GetHeader().CommandID.String(), p.GetSequenceNumber())

	switch pd := p.(type) {
	case *pdu.DeliverSM:
		s.enqueueDeliverSM(logCtx, pd)
		return pd.GetResponse(), false

	case *pdu.EnquireLink:
		slog.DebugContext(logCtx, "enquire_link from SMSC")
		return pd.GetResponse(), false

	case *pdu.Unbind:
		slog.InfoContext(logCtx, "unbind requested by SMSC")
		s.status.Store(codes.StatusUnbinding)
		// Acknowledge first; the library writes the response before we
		// tear the transport down.
		go func() { _ = s.Close() }()
		return pd.GetResponse(), false

	default:
		slog.WarnContext(logCtx, "unexpected PDU from SMSC")
	}
	return nil, false
}

// enqueueDeliverSM hands a decoded delivery to the pipeline without ever
// blocking the read loop for longer than DeliverQueueTimeout. If the
// pipeline cannot accept it in time the message is dropped and counted;
// the carrier will not resend, so the drop is logged at error severity.
func (s *Session) enqueueDeliverSM(ctx context.Context, p *pdu.DeliverSM) {
	msg := decodeDeliverSM(p)

	select {
	case s.inbound <- msg:
		s.stats.Delivered.Add(1)
		return
	default:
	}

	timer := time.NewTimer(s.cfg.DeliverQueueTimeout)
	defer timer.Stop()
	select {
	case s.inbound <- msg:
		s.stats.Delivered.Add(1)
	case <-timer.C:
		s.stats.Dropped.Add(1)
		slog.ErrorContext(ctx, "inbound message dropped, pipeline queue full",
			slog.String("reason", codes.DropQueueFull),
			slog.String("receiver", msg.Receiver),
		)
	case <-s.done:
	}
}

func decodeDeliverSM(p *pdu.DeliverSM) InboundMessage {
	msg := InboundMessage{ReceivedAt: time.Now().UTC()}

	msg.Sender = p.SourceAddr.Address()
	msg.Receiver = p.DestAddr.Address()

	text, err := p.Message.GetMessage()
	if err != nil {
		msg.Malformed = true
	} else {
		msg.Text = text
	}
	if msg.Receiver == "" {
		msg.Malformed = true
	}

	snapshot := rawSnapshot{
		SourceAddr: msg.Sender,
		DestAddr:   msg.Receiver,
		Text:       msg.Text,
		EsmClass:   p.EsmClass,
		Sequence:   p.GetSequenceNumber(),
	}
	msg.Raw, _ = json.Marshal(snapshot)
	return msg
}

func (s *Session) handleExpectedPduResponse(response gosmpp.Response) {
	reqPDU := response.OriginalRequest.PDU
	respPDU := response.PDU

	logCtx := logging.ContextWithPDUInfo(context.Background(),
		reqPDU.GetHeader().CommandID.String(), reqPDU.GetSequenceNumber())

	switch resp := respPDU.(type) {
	case *pdu.SubmitSMResp:
		s.processSubmitSMResp(logCtx, reqPDU.GetSequenceNumber(), resp)

	case *pdu.EnquireLinkResp:
		slog.DebugContext(logCtx, "enquire_link_resp received")

	case *pdu.UnbindResp:
		slog.InfoContext(logCtx, "unbind_resp received")

	default:
		slog.WarnContext(logCtx, "unexpected response PDU",
			slog.String("resp_type", respPDU.GetHeader().CommandID.String()))
	}
}

func (s *Session) handleExpiredPduRequest(p pdu.PDU) bool {
	logCtx := logging.ContextWithPDUInfo(context.Background(),
		p.GetHeader().CommandID.String(), p.GetSequenceNumber())

	switch p.(type) {
	case *pdu.SubmitSM:
		slog.WarnContext(logCtx, "submit_sm expired without response")
		s.window.resolve(p.GetSequenceNumber(), "", ErrSubmitTimeout)
		return false

	case *pdu.EnquireLink:
		// No keepalive reply inside the request window: the connection is
		// dead even if the TCP socket still looks open.
		slog.ErrorContext(logCtx, "enquire_link expired, connection stale")
		go func() { _ = s.Close() }()
		return true

	default:
		slog.WarnContext(logCtx, "unhandled expired PDU")
	}
	return false
}

func (s *Session) handleClosePduRequest(p pdu.PDU) {
	if _, ok := p.(*pdu.SubmitSM); ok {
		s.window.resolve(p.GetSequenceNumber(), "", ErrSessionClosed)
	}
}

func (s *Session) processSubmitSMResp(ctx context.Context, seq int32, resp *pdu.SubmitSMResp) {
	status := resp.GetHeader().CommandStatus
	if status == data.ESME_ROK {
		logCtx := logging.ContextWithCarrierMsgID(ctx, resp.MessageID)
		slog.InfoContext(logCtx, "submit_sm accepted by SMSC")
		if !s.window.resolve(seq, resp.MessageID, nil) {
			slog.WarnContext(logCtx, "submit_sm_resp for unknown sequence")
		}
		return
	}
	slog.WarnContext(ctx, "submit_sm rejected by SMSC",
		slog.Uint64("command_status", uint64(status)))
	s.window.resolve(seq, "", &SubmitRejectedError{Status: uint32(status)})
}

func (s *Session) onSubmitError(p pdu.PDU, err error) {
	logCtx := logging.ContextWithPDUInfo(context.Background(),
		p.GetHeader().CommandID.String(), p.GetSequenceNumber())
	slog.WarnContext(logCtx, "submit write error", slog.Any("error", err))
}

func (s *Session) onReceivingError(err error) {
	// Transport or framing error on the read side; gosmpp follows up with
	// OnClosed, which is where the state transition happens.
	slog.ErrorContext(context.Background(), "SMPP receive error", slog.Any("error", err))
}

func (s *Session) onClosed(state gosmpp.State) {
	slog.WarnContext(context.Background(), "SMPP session closed",
		slog.String("final_state", state.String()))
	s.markClosed()
}
