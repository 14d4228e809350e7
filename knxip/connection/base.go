package connection

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/rs/xid"

	"github.com/knxtun/knxip/cemi"
	"github.com/knxtun/knxip/knxnet"
	"github.com/knxtun/knxip/metrics"
)

const confirmationTimeout = 3 * time.Second

const (
	heartbeatInterval = 60 * time.Second
	heartbeatTimeout  = 10 * time.Second
	heartbeatRetries  = 4
	heartbeatRetryGap = 1 * time.Second
)

// profile holds the ack-timeout/attempt counts that differ between
// tunnelling and device-management channels.
type profile struct {
	ackTimeout  time.Duration
	ackAttempts int
}

var profiles = map[Kind]profile{
	KindTunnel:           {ackTimeout: 1 * time.Second, ackAttempts: 2},
	KindDeviceManagement: {ackTimeout: 10 * time.Second, ackAttempts: 4},
}

// Base implements the connection state machine, retransmission, heartbeat,
// and close handshake shared by tunnelling and device-management channels.
// Tunnel and DevMgmt compose it with their service-type-specific send
// validation and request/ack encoding.
type Base struct {
	id        string // correlation id for log lines across this connection's receiver/heartbeat tasks
	kind      Kind
	sender    FrameSender // targets the data endpoint: tunnelling/devmgmt requests and acks
	ctrlSender FrameSender // targets the control endpoint: ConnectionState/Disconnect requests
	channelID byte
	control   knxnet.HPAI

	encodeRequest func(channelID, seq byte, cemiFrame []byte) []byte
	matchAck      func(h knxnet.Header, body []byte) (ackSeq byte, status knxnet.Status, ok bool)
	matchIncoming func(h knxnet.Header, body []byte) (seq byte, cemiFrame []byte, ok bool)
	encodeAck     func(channelID, seq byte, status knxnet.Status) []byte

	sendMu sync.Mutex // serialises blocking sends into FIFO arrival order

	mu       sync.Mutex
	state    State
	sendSeq  byte
	recvSeq  byte
	lastSent []byte
	listeners []Listener

	ackCh        chan ackResult
	confirmCh    chan []byte
	heartbeatCh  chan knxnet.Status
	disconnectCh chan knxnet.Status

	heartbeatStop chan struct{}
	closeOnce     sync.Once
}

type ackResult struct {
	status knxnet.Status
}

// newBase constructs a Base already in StateOk for an established channel;
// Tunnel/DevMgmt perform the Connect.req/.res exchange themselves and call
// this once it succeeds, supplying the service-type-specific request/ack
// codecs.
func newBase(
	kind Kind, sender, ctrlSender FrameSender, channelID byte, control knxnet.HPAI,
	encodeRequest func(channelID, seq byte, cemiFrame []byte) []byte,
	matchAck func(h knxnet.Header, body []byte) (ackSeq byte, status knxnet.Status, ok bool),
	matchIncoming func(h knxnet.Header, body []byte) (seq byte, cemiFrame []byte, ok bool),
	encodeAck func(channelID, seq byte, status knxnet.Status) []byte,
) *Base {
	b := &Base{
		id:            xid.New().String(),
		kind:          kind,
		sender:        sender,
		ctrlSender:    ctrlSender,
		channelID:     channelID,
		control:       control,
		encodeRequest: encodeRequest,
		matchAck:      matchAck,
		matchIncoming: matchIncoming,
		encodeAck:     encodeAck,
		state:         StateOk,
		ackCh:         make(chan ackResult, 1),
		confirmCh:     make(chan []byte, 1),
		heartbeatCh:   make(chan knxnet.Status, 1),
		disconnectCh:  make(chan knxnet.Status, 1),
		heartbeatStop: make(chan struct{}),
	}
	metrics.Default.ConnectionsOpened.Inc()
	metrics.Default.ActiveConnections.Inc()
	go b.heartbeatLoop()
	return b
}

// ChannelID returns the server-assigned channel identifier.
func (b *Base) ChannelID() byte { return b.channelID }

// ID returns the correlation id logged by this connection's receiver,
// heartbeat, and send-retry code paths.
func (b *Base) ID() string { return b.id }

// State reports the current visible state.
func (b *Base) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// AddListener registers a frame/close listener.
func (b *Base) AddListener(l Listener) {
	b.mu.Lock()
	b.listeners = append(b.listeners, l)
	b.mu.Unlock()
}

// Send transmits cemiFrame with the requested ack/confirmation contract.
// It never returns ErrCancelled; use SendCtx for a caller-supplied deadline.
func (b *Base) Send(cemiFrame []byte, mode SendMode) error {
	return b.SendCtx(context.Background(), cemiFrame, mode)
}

// SendCtx is Send with an externally supplied deadline/cancellation signal.
// If ctx is done before an ack or confirmation arrives, Send fails with
// ErrCancelled and rolls back to StateOk: the send-seq is not advanced, so
// a subsequent Send reuses the same sequence number, per spec.md §5's
// cancellation contract ("any in-flight state is rolled back so the
// connection remains usable").
func (b *Base) SendCtx(ctx context.Context, cemiFrame []byte, mode SendMode) error {
	if mode != NonBlocking {
		b.sendMu.Lock()
		defer b.sendMu.Unlock()
	}

	b.mu.Lock()
	if b.state == StateClosed {
		b.mu.Unlock()
		return newErr(ErrClosed, "")
	}
	if mode == NonBlocking && (b.state == StateAckPending || b.state == StateCemiConPending) {
		b.mu.Unlock()
		return newErr(ErrIllegalState, "non-blocking send while a reply is already pending")
	}
	seq := b.sendSeq
	b.lastSent = cemiFrame
	b.state = StateAckPending
	b.mu.Unlock()

	p := profiles[b.kind]
	status, acked, cancelled := b.transmitWithRetry(ctx, seq, cemiFrame, p)
	if cancelled {
		b.mu.Lock()
		b.state = StateOk
		b.mu.Unlock()
		return newErr(ErrCancelled, "send cancelled while waiting for ack")
	}
	if !acked {
		b.closeInternal(CloseByInternal, "ack timeout exhausted")
		return newErr(ErrAckTimeout, "no ack after maximum attempts")
	}

	b.mu.Lock()
	b.sendSeq++
	if status != knxnet.StatusNoError {
		b.state = StateAckError
		b.mu.Unlock()
		return newErr(ErrRemote, status.String())
	}
	if mode != WaitForConfirmation {
		b.state = StateOk
		b.mu.Unlock()
		return nil
	}
	b.state = StateCemiConPending
	b.mu.Unlock()

	select {
	case <-b.confirmCh:
		b.mu.Lock()
		b.state = StateOk
		b.mu.Unlock()
		return nil
	case <-ctx.Done():
		b.mu.Lock()
		b.state = StateOk
		b.mu.Unlock()
		return newErr(ErrCancelled, "send cancelled while waiting for confirmation")
	case <-time.After(confirmationTimeout):
		b.mu.Lock()
		b.state = StateOk
		b.mu.Unlock()
		return newErr(ErrConfirmationTimeout, "no matching confirmation")
	}
}

// drainAck discards a stale ack left over from a cancelled prior attempt,
// so it cannot be mistaken for the ack of the retry about to be sent.
func (b *Base) drainAck() {
	select {
	case <-b.ackCh:
	default:
	}
}

func (b *Base) transmitWithRetry(ctx context.Context, seq byte, cemiFrame []byte, p profile) (status knxnet.Status, acked, cancelled bool) {
	b.drainAck()
	frame := b.encodeRequest(b.channelID, seq, cemiFrame)
	for attempt := 0; attempt < p.ackAttempts; attempt++ {
		if err := b.sender.SendFrame(frame); err != nil {
			log.Printf("connection[%s]: send failed on channel %d: %v", b.id, b.channelID, err)
			return 0, false, false
		}
		select {
		case res := <-b.ackCh:
			return res.status, true, false
		case <-ctx.Done():
			return 0, false, true
		case <-time.After(p.ackTimeout):
			metrics.Default.AckTimeouts.Inc()
			if attempt+1 < p.ackAttempts {
				metrics.Default.Retransmits.Inc()
			}
			log.Printf("connection[%s]: ack timeout on channel %d, attempt %d/%d", b.id, b.channelID, attempt+1, p.ackAttempts)
		}
	}
	return 0, false, false
}

// HandleFrame dispatches one decoded KNXnet/IP frame addressed to this
// connection's channel.
func (b *Base) HandleFrame(h knxnet.Header, body []byte) {
	if ackSeq, status, ok := b.matchAck(h, body); ok {
		_ = ackSeq
		select {
		case b.ackCh <- ackResult{status: status}:
		default:
		}
		return
	}
	if seq, cemiFrame, ok := b.matchIncoming(h, body); ok {
		b.handleIncoming(seq, cemiFrame)
		return
	}
	switch h.Service {
	case knxnet.ConnectionStateRes:
		res, err := knxnet.DecodeConnectionStateResponse(body)
		if err != nil || res.ChannelID != b.channelID {
			return
		}
		select {
		case b.heartbeatCh <- res.Status:
		default:
		}
	case knxnet.DisconnectRes:
		res, err := knxnet.DecodeDisconnectResponse(body)
		if err != nil || res.ChannelID != b.channelID {
			return
		}
		select {
		case b.disconnectCh <- res.Status:
		default:
		}
	case knxnet.DisconnectReq:
		req, err := knxnet.DecodeDisconnectRequest(body)
		if err != nil || req.ChannelID != b.channelID {
			return
		}
		_ = b.sender.SendFrame(knxnet.DisconnectResponse{ChannelID: b.channelID, Status: knxnet.StatusNoError}.Encode())
		b.closeInternal(CloseByServer, "disconnect requested by server")
	default:
		log.Printf("connection[%s]: unknown service 0x%04x on channel %d", b.id, h.Service, b.channelID)
	}
}

func (b *Base) handleIncoming(seq byte, cemiFrame []byte) {
	b.mu.Lock()
	expected := b.recvSeq
	switch {
	case seq == expected:
		b.recvSeq++
		b.mu.Unlock()
		_ = b.sender.SendFrame(b.encodeAck(b.channelID, seq, knxnet.StatusNoError))
	case seq == expected-1:
		b.mu.Unlock()
		_ = b.sender.SendFrame(b.encodeAck(b.channelID, seq, knxnet.StatusNoError))
		return // duplicate: re-acked, dropped silently
	default:
		b.mu.Unlock()
		log.Printf("connection[%s]: out-of-sequence request on channel %d: got %d, expected %d", b.id, b.channelID, seq, expected)
		return
	}

	b.mu.Lock()
	waitingConfirm := b.state == StateCemiConPending
	sent := b.lastSent
	b.mu.Unlock()

	f := cemi.Frame(cemiFrame)
	if waitingConfirm && f.MessageCode() == cemi.LDataCon {
		if matched, deviated := cemi.ConfirmationMatches(cemi.Frame(sent), f); matched {
			if deviated {
				log.Printf("connection[%s]: confirmation hop count deviated by one on channel %d", b.id, b.channelID)
			}
			select {
			case b.confirmCh <- cemiFrame:
			default:
			}
			return
		}
	}
	b.notifyListeners(cemiFrame)
}

func (b *Base) notifyListeners(cemiFrame []byte) {
	b.mu.Lock()
	listeners := append([]Listener{}, b.listeners...)
	b.mu.Unlock()
	for _, l := range listeners {
		l.OnFrame(cemiFrame)
	}
}

func (b *Base) heartbeatLoop() {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if !b.heartbeatOnce() {
				metrics.Default.HeartbeatFailures.Inc()
				b.closeInternal(CloseByInternal, "heartbeat")
				return
			}
		case <-b.heartbeatStop:
			return
		}
	}
}

func (b *Base) heartbeatOnce() bool {
	req := knxnet.ConnectionStateRequest{ChannelID: b.channelID, Control: b.control}.Encode()
	for attempt := 0; attempt < heartbeatRetries; attempt++ {
		if err := b.ctrlSender.SendFrame(req); err != nil {
			return false
		}
		select {
		case status := <-b.heartbeatCh:
			return status == knxnet.StatusNoError
		case <-time.After(heartbeatTimeout):
		}
		time.Sleep(heartbeatRetryGap)
	}
	return false
}

// Close performs the disconnect handshake and tears down the connection.
func (b *Base) Close() error {
	b.mu.Lock()
	if b.state == StateClosed {
		b.mu.Unlock()
		return nil
	}
	b.mu.Unlock()

	_ = b.ctrlSender.SendFrame(knxnet.DisconnectRequest{ChannelID: b.channelID, Control: b.control}.Encode())
	select {
	case <-b.disconnectCh:
	case <-time.After(10 * time.Second):
		log.Printf("connection[%s]: disconnect response timeout on channel %d", b.id, b.channelID)
	}
	b.closeInternal(CloseByUser, "closed by application")
	return nil
}

func (b *Base) closeInternal(initiator CloseInitiator, reason string) {
	b.closeOnce.Do(func() {
		b.mu.Lock()
		b.state = StateClosed
		listeners := append([]Listener{}, b.listeners...)
		b.mu.Unlock()
		metrics.Default.ConnectionsClosed.Inc()
		metrics.Default.ActiveConnections.Dec()
		close(b.heartbeatStop)
		for _, l := range listeners {
			l.OnClose(CloseEvent{Initiator: initiator, Reason: reason})
		}
	})
}
