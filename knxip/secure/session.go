package secure

import (
	"bufio"
	"log"
	"math/rand"
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/xid"

	"github.com/knxtun/knxip/knxnet"
	"github.com/knxtun/knxip/metrics"
	"github.com/knxtun/knxip/transport"
)

// State is the lifecycle of a unicast secure session.
type State int

const (
	StateIdle State = iota
	StateUnauthenticated
	StateAuthenticated
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateUnauthenticated:
		return "unauthenticated"
	case StateAuthenticated:
		return "authenticated"
	default:
		return "unknown"
	}
}

const (
	handshakeLegTimeout = 10 * time.Second
	keepAliveInterval   = 30 * time.Second
)

// Session is a unicast KNX IP Secure session over a TCP connection: it owns
// the connection, the negotiated AES key, and the monotonic sequence
// counters, and serialises every frame sent through Send behind a SecureWrapper.
type Session struct {
	id     string // correlation id for log lines across the handshake and keep-alive task
	conn   net.Conn
	reader *bufio.Reader

	mu        sync.Mutex
	state     State
	sessionID uint16
	key       [16]byte
	sendSeq   uint64
	recvSeq   uint64
	serial    [6]byte
	userID    uint16

	closeOnce sync.Once
	stopKeep  chan struct{}
}

// Handshake drives the four-step client handshake over an already-dialled
// TCP connection and returns an authenticated Session.
func Handshake(conn net.Conn, control knxnet.HPAI, userID uint16, userPassword, deviceAuthPassword string, serial [6]byte) (*Session, error) {
	priv, pub, err := X25519KeyPair()
	if err != nil {
		return nil, err
	}

	conn.SetDeadline(time.Now().Add(handshakeLegTimeout))
	if _, err := conn.Write((knxnet.SessionRequest{Control: control, PublicKey: pub}).Encode()); err != nil {
		return nil, errors.Wrap(err, "secure: sending session request")
	}

	reader := bufio.NewReader(conn)
	resFrame, err := transport.ReadFrame(reader)
	if err != nil {
		return nil, errors.Wrap(err, "secure: reading session response")
	}
	h, err := knxnet.DecodeHeader(resFrame)
	if err != nil {
		return nil, err
	}
	res, err := knxnet.DecodeSessionResponse(h.Body(resFrame), h.TotalLength)
	if err != nil {
		return nil, err
	}
	if res.Rejected || res.SessionID == 0 {
		return nil, errors.WithStack(&Error{Reason: "session request rejected"})
	}

	shared, err := X25519Shared(priv, res.PublicKey)
	if err != nil {
		return nil, err
	}
	sessionKey := deriveSessionKey(shared)

	deviceKey := HashDeviceAuthenticationPassword(deviceAuthPassword)
	if deviceKey != ([16]byte{}) {
		if err := verifyHandshakeMAC(deviceKey, h, res.SessionID, xorBytes32(res.PublicKey, pub), res.MAC); err != nil {
			return nil, err
		}
	} else {
		log.Println("secure: device authentication key is all-zero, skipping SessionResponse MAC verification")
	}

	s := &Session{
		id:        xid.New().String(),
		conn:      conn,
		reader:    reader,
		state:     StateUnauthenticated,
		sessionID: res.SessionID,
		key:       sessionKey,
		serial:    serial,
		userID:    userID,
		stopKeep:  make(chan struct{}),
	}

	userKey := HashUserPassword(userPassword)
	authHeader := knxnet.EncodeHeader(nil, knxnet.SecureSessionAuth, 2+16)
	authInput := append(append([]byte{}, authHeader...), byte(res.SessionID>>8), byte(res.SessionID))
	authInput = append(authInput, byte(userID>>8), byte(userID))
	authMAC, err := cbcMAC(userKey, authInput)
	if err != nil {
		return nil, err
	}
	if err := s.sendWrapped((knxnet.SessionAuthenticate{UserID: userID, MAC: authMAC}).Encode()); err != nil {
		return nil, err
	}

	statusFrame, err := s.recvWrapped()
	if err != nil {
		return nil, err
	}
	statusH, err := knxnet.DecodeHeader(statusFrame)
	if err != nil {
		return nil, err
	}
	status, err := knxnet.DecodeSessionStatus(statusH.Body(statusFrame))
	if err != nil {
		return nil, err
	}
	if status.Code != knxnet.SessionStatusSuccess {
		return nil, errors.WithStack(&Error{Reason: "authentication failed: " + status.Code.String()})
	}

	s.state = StateAuthenticated
	conn.SetDeadline(time.Time{})
	metrics.Default.SecureSessionsOpened.Inc()
	go s.keepAlive()
	return s, nil
}

// verifyHandshakeMAC checks the SessionResponse MAC over
// header||session_id||xor(server_pub, client_pub) under the device
// authentication key.
func verifyHandshakeMAC(deviceKey [16]byte, h knxnet.Header, sessionID uint16, xored [32]byte, mac [16]byte) error {
	headerBytes := knxnet.EncodeHeader(nil, knxnet.SecureSessionResponse, int(h.TotalLength)-6)
	input := make([]byte, 0, 6+2+32)
	input = append(input, headerBytes...)
	input = append(input, byte(sessionID>>8), byte(sessionID))
	input = append(input, xored[:]...)
	computed, err := cbcMAC(deviceKey, input)
	if err != nil {
		return err
	}
	if computed != mac {
		return errors.WithStack(&Error{Reason: "session response MAC mismatch"})
	}
	return nil
}

func deriveSessionKey(shared [32]byte) [16]byte {
	sum := sha256Sum(shared[:])
	var key [16]byte
	copy(key[:], sum[:16])
	return key
}

// SessionID returns the negotiated channel identifier.
func (s *Session) SessionID() uint16 {
	return s.sessionID
}

// ID returns the correlation id logged by this session's handshake and
// keep-alive task.
func (s *Session) ID() string { return s.id }

// State reports the current handshake/authentication state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Send wraps plaintext (an already-encoded KNXnet/IP frame) in a
// SecureWrapper and writes it to the connection, advancing send-seq.
func (s *Session) Send(plaintext []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sendWrappedLocked(plaintext)
}

func (s *Session) sendWrapped(plaintext []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sendWrappedLocked(plaintext)
}

func (s *Session) sendWrappedLocked(plaintext []byte) error {
	header := knxnet.EncodeHeader(nil, knxnet.SecureWrapperService, 0)
	ciphertext, mac, err := Wrap(s.key, s.sendSeq, s.serial, 0, header, s.sessionID, plaintext)
	if err != nil {
		return err
	}
	w := knxnet.SecureWrapper{
		SessionID: s.sessionID,
		Sequence:  s.sendSeq,
		Serial:    s.serial,
		Tag:       0,
		Payload:   ciphertext,
		MAC:       mac,
	}
	if _, err := s.conn.Write(w.Encode()); err != nil {
		return errors.Wrap(err, "secure: writing wrapped frame")
	}
	s.sendSeq++
	return nil
}

// Recv reads one SecureWrapper frame from the connection, verifies and
// decrypts it, and returns the plaintext KNXnet/IP frame inside.
func (s *Session) Recv() ([]byte, error) {
	return s.recvWrapped()
}

func (s *Session) recvWrapped() ([]byte, error) {
	frame, err := transport.ReadFrame(s.reader)
	if err != nil {
		return nil, err
	}
	h, err := knxnet.DecodeHeader(frame)
	if err != nil {
		return nil, err
	}
	w, err := knxnet.DecodeSecureWrapper(h.Body(frame))
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if w.SessionID == 0 {
		metrics.Default.SecureRejections.WithLabelValues("session_id_zero").Inc()
		return nil, errors.WithStack(&Error{Reason: "received session_id 0"})
	}
	if w.Sequence < s.recvSeq {
		metrics.Default.SecureRejections.WithLabelValues("stale_sequence").Inc()
		return nil, errors.WithStack(&Error{Reason: "stale sequence counter"})
	}
	if w.Tag != 0 {
		metrics.Default.SecureRejections.WithLabelValues("unexpected_tag").Inc()
		return nil, errors.WithStack(&Error{Reason: "unexpected tag on unicast frame"})
	}
	header := knxnet.EncodeHeader(nil, knxnet.SecureWrapperService, 0)
	plaintext, err := Unwrap(s.key, w.Sequence, w.Serial, w.Tag, header, w.SessionID, w.Payload, w.MAC)
	if err != nil {
		metrics.Default.SecureRejections.WithLabelValues("mac_mismatch").Inc()
		return nil, err
	}
	s.recvSeq = w.Sequence + 1
	return plaintext, nil
}

// keepAlive sends an encrypted SessionStatus(keep-alive) every 30s until the
// session is closed; a missing response is not fatal, matching the
// fire-and-forget keep-alive described for unicast sessions.
func (s *Session) keepAlive() {
	ticker := time.NewTicker(keepAliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := s.sendWrapped((knxnet.SessionStatus{Code: knxnet.SessionStatusKeepAlive}).Encode()); err != nil {
				log.Printf("secure[%s]: keep-alive send failed, session %d: %v", s.id, s.sessionID, err)
			}
		case <-s.stopKeep:
			return
		}
	}
}

// Close sends a close status and tears down the connection. Idempotent.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.stopKeep)
		_ = s.sendWrapped((knxnet.SessionStatus{Code: knxnet.SessionStatusClose}).Encode())
		s.mu.Lock()
		s.state = StateIdle
		s.mu.Unlock()
		err = s.conn.Close()
	})
	return err
}


// jitter returns a random duration in [lo, hi), used by the group-timer
// synchronisation scheduler.
func jitter(lo, hi time.Duration) time.Duration {
	if hi <= lo {
		return lo
	}
	return lo + time.Duration(rand.Int63n(int64(hi-lo)))
}
