// Package routing implements multicast KNXnet/IP routing (C6): joining the
// default group, loopback suppression, system-broadcast routing, and
// delivery of RoutingLostMessage/RoutingBusy to listeners. Secure routing's
// group-timer gating is layered on top via EnableSecure.
package routing

import (
	"bytes"
	"log"
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/knxtun/knxip/address"
	"github.com/knxtun/knxip/cemi"
	"github.com/knxtun/knxip/knxnet"
	"github.com/knxtun/knxip/metrics"
	"github.com/knxtun/knxip/secure"
)

// DefaultGroup is the standard KNXnet/IP routing multicast group and port.
var DefaultGroup = &net.UDPAddr{IP: net.ParseIP("224.0.23.12"), Port: 3671}

const loopbackCapacity = 20

// Listener receives routed cEMI frames and routing failure signals.
type Listener interface {
	OnIndication(cemiFrame []byte)
	OnLost(msg knxnet.RoutingLostMessage, from *net.UDPAddr)
	OnBusy(msg knxnet.RoutingBusy, from *net.UDPAddr)
}

// Instance is one routing channel bound to a multicast group on one NIC.
type Instance struct {
	conn          *net.UDPConn
	group         *net.UDPAddr
	systemGroup   *net.UDPAddr
	listeners     []Listener
	listenersMu   sync.Mutex

	loopbackMu  sync.Mutex
	loopback    [][]byte // FIFO of recently-sent cEMI frames, for echo suppression

	secureKey  *[16]byte // backbone key, nil for an unencrypted instance
	serial     [6]byte
	groupTimer *secure.GroupTimer
}

// Join binds a multicast UDP socket on nif for group (DefaultGroup if nil),
// sets IP_MULTICAST_TTL=64, and returns a routing Instance ready to Send
// and to be fed datagrams via Run.
func Join(nif *net.Interface, group *net.UDPAddr) (*Instance, error) {
	if group == nil {
		group = DefaultGroup
	}
	if !group.IP.IsMulticast() {
		return nil, errors.Errorf("routing: %s is not a multicast address", group.IP)
	}
	if bytes.Compare(group.IP.To4(), DefaultGroup.IP.To4()) < 0 {
		return nil, errors.Errorf("routing: %s is below the default routing group %s", group.IP, DefaultGroup.IP)
	}

	conn, err := net.ListenMulticastUDP("udp4", nif, group)
	if err != nil {
		return nil, errors.Wrap(err, "routing: joining multicast group")
	}
	if err := setMulticastTTL(conn, 64); err != nil {
		log.Printf("routing: could not set multicast TTL: %v", err)
	}

	return &Instance{
		conn:        conn,
		group:       group,
		systemGroup: DefaultGroup,
	}, nil
}

// EnableSecure turns this instance into a secure-routing channel: every
// send/receive is wrapped/unwrapped under the backbone key, gated by a
// group timer with the given latency tolerance.
func (r *Instance) EnableSecure(backboneKey [16]byte, serial [6]byte, latencyTolerance time.Duration) {
	r.secureKey = &backboneKey
	r.serial = serial
	r.groupTimer = secure.NewGroupTimer(backboneKey, serial, latencyTolerance, func(frame []byte) error {
		_, err := r.conn.WriteToUDP(frame, r.group)
		return err
	})
	r.groupTimer.Join()
}

// AddListener registers a routing listener.
func (r *Instance) AddListener(l Listener) {
	r.listenersMu.Lock()
	r.listeners = append(r.listeners, l)
	r.listenersMu.Unlock()
}

// Send wraps an L_Data.ind cEMI frame as Routing.ind (or, for frames in the
// system-broadcast set, as Routing.sysbroadcast on the default group,
// always unencrypted) and multicasts it, recording it in the loopback FIFO.
func (r *Instance) Send(cemiFrame []byte) error {
	f := cemi.Frame(cemiFrame)
	if f.MessageCode() != cemi.LDataInd {
		return errors.New("routing: only L_Data.ind may be routed")
	}

	if isSystemBroadcast(f) {
		frame := knxnet.RoutingIndication{CEMI: cemiFrame}.EncodeSystemBroadcast()
		r.remember(cemiFrame)
		_, err := r.conn.WriteToUDP(frame, r.systemGroup)
		metrics.Default.RoutingIndicationsSent.Inc()
		return errors.Wrap(err, "routing: system broadcast send")
	}

	r.remember(cemiFrame)
	if r.secureKey != nil {
		err := r.sendSecure(cemiFrame)
		if err == nil {
			metrics.Default.RoutingIndicationsSent.Inc()
		}
		return err
	}
	frame := knxnet.RoutingIndication{CEMI: cemiFrame}.Encode()
	_, err := r.conn.WriteToUDP(frame, r.group)
	if err == nil {
		metrics.Default.RoutingIndicationsSent.Inc()
	}
	return errors.Wrap(err, "routing: send")
}

func (r *Instance) sendSecure(cemiFrame []byte) error {
	plain := knxnet.RoutingIndication{CEMI: cemiFrame}.Encode()
	timer := r.groupTimer.Local()
	tag := r.groupTimer.NextRoutingCount()
	header := knxnet.EncodeHeader(nil, knxnet.SecureWrapperService, 0)
	ciphertext, mac, err := secure.Wrap(*r.secureKey, timer, r.serial, tag, header, 0, plain)
	if err != nil {
		return err
	}
	wrapper := knxnet.SecureWrapper{Sequence: timer, Serial: r.serial, Tag: tag, Payload: ciphertext, MAC: mac}.Encode()
	_, err = r.conn.WriteToUDP(wrapper, r.group)
	return errors.Wrap(err, "routing: secure send")
}

func (r *Instance) remember(cemiFrame []byte) {
	r.loopbackMu.Lock()
	defer r.loopbackMu.Unlock()
	r.loopback = append(r.loopback, append([]byte{}, cemiFrame...))
	if len(r.loopback) > loopbackCapacity {
		r.loopback = r.loopback[1:]
	}
}

// suppress reports whether cemiFrame matches (and removes) the oldest
// matching entry in the loopback FIFO.
func (r *Instance) suppress(cemiFrame []byte) bool {
	r.loopbackMu.Lock()
	defer r.loopbackMu.Unlock()
	for i, sent := range r.loopback {
		if bytes.Equal(sent, cemiFrame) {
			r.loopback = append(r.loopback[:i], r.loopback[i+1:]...)
			return true
		}
	}
	return false
}

// Run reads datagrams from the joined multicast socket until Close is
// called, dispatching indications, lost-message, and busy frames to
// listeners. For a secure instance, only frames whose group timer passes
// the freshness check are delivered.
func (r *Instance) Run() {
	buf := make([]byte, 512)
	for {
		n, addr, err := r.conn.ReadFromUDP(buf)
		if err != nil {
			return
		}
		r.handleDatagram(buf[:n], addr)
	}
}

func (r *Instance) handleDatagram(frame []byte, from *net.UDPAddr) {
	h, err := knxnet.DecodeHeader(frame)
	if err != nil {
		log.Printf("routing: dropping malformed datagram from %s: %v", from, err)
		return
	}
	body := h.Body(frame)

	switch h.Service {
	case knxnet.RoutingInd, knxnet.RoutingSystemBroadcast:
		ind := knxnet.DecodeRoutingIndication(body)
		r.deliverIndication(ind.CEMI, h.Service == knxnet.RoutingSystemBroadcast)
	case knxnet.SecureWrapperService:
		r.handleSecureWrapper(body)
	case knxnet.RoutingLostMessage:
		msg, err := knxnet.DecodeRoutingLostMessage(body)
		if err != nil {
			return
		}
		metrics.Default.RoutingLost.Inc()
		r.forEachListener(func(l Listener) { l.OnLost(msg, from) })
	case knxnet.RoutingBusy:
		msg, err := knxnet.DecodeRoutingBusy(body)
		if err != nil {
			return
		}
		metrics.Default.RoutingBusy.Inc()
		r.forEachListener(func(l Listener) { l.OnBusy(msg, from) })
	default:
		log.Printf("routing: unknown service 0x%04x from %s", h.Service, from)
	}
}

func (r *Instance) handleSecureWrapper(body []byte) {
	w, err := knxnet.DecodeSecureWrapper(body)
	if err != nil || r.secureKey == nil {
		return
	}
	header := knxnet.EncodeHeader(nil, knxnet.SecureWrapperService, 0)
	plain, err := secure.Unwrap(*r.secureKey, w.Sequence, w.Serial, w.Tag, header, w.SessionID, w.Payload, w.MAC)
	if err != nil {
		log.Printf("routing: secure wrapper rejected: %v", err)
		return
	}
	innerH, err := knxnet.DecodeHeader(plain)
	if err != nil {
		return
	}
	switch innerH.Service {
	case knxnet.SecureGroupSync:
		g, err := knxnet.DecodeGroupSync(innerH.Body(plain))
		if err == nil && r.groupTimer != nil {
			r.groupTimer.OnGroupSync(g.Timer)
		}
	case knxnet.RoutingInd, knxnet.RoutingSystemBroadcast:
		if r.groupTimer == nil || r.groupTimer.OnDataFrame(w.Sequence) {
			ind := knxnet.DecodeRoutingIndication(innerH.Body(plain))
			r.deliverIndication(ind.CEMI, innerH.Service == knxnet.RoutingSystemBroadcast)
		}
	}
}

func (r *Instance) deliverIndication(cemiFrame []byte, _ bool) {
	if r.suppress(cemiFrame) {
		metrics.Default.RoutingLoopbackSuppressed.Inc()
		return
	}
	metrics.Default.RoutingIndicationsReceived.Inc()
	r.forEachListener(func(l Listener) { l.OnIndication(cemiFrame) })
}

func (r *Instance) forEachListener(fn func(Listener)) {
	r.listenersMu.Lock()
	listeners := append([]Listener{}, r.listeners...)
	r.listenersMu.Unlock()
	for _, l := range listeners {
		fn(l)
	}
}

// Close leaves the multicast group, cancels any group-timer task, and
// closes the socket.
func (r *Instance) Close() error {
	if r.groupTimer != nil {
		r.groupTimer.Close()
	}
	return r.conn.Close()
}

func isSystemBroadcast(f cemi.Frame) bool {
	dst, ok := f.Destination()
	if !ok || dst != 0 {
		return false
	}
	grp, ok := f.GroupDestination()
	if !ok || !grp {
		return false
	}
	tpdu, ok := f.TPDU()
	if !ok {
		return false
	}
	apci, _, ok := address.ExtractAPCI(tpdu)
	return ok && address.IsSystemBroadcast(apci)
}

func setMulticastTTL(conn *net.UDPConn, ttl int) error {
	raw, err := conn.SyscallConn()
	if err != nil {
		return err
	}
	var sockErr error
	err = raw.Control(func(fd uintptr) {
		sockErr = unix.SetsockoptInt(int(fd), unix.IPPROTO_IP, unix.IP_MULTICAST_TTL, ttl)
	})
	if err != nil {
		return err
	}
	return sockErr
}


