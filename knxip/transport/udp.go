// Package transport implements the two receiver loops the connection core
// is built on: one UDP datagram loop per bound socket, and one length-framed
// TCP reader per unicast secure connection. Both parse just the fixed
// KNXnet/IP header and hand the rest to a Dispatcher.
package transport

import (
	"log"
	"net"
	"sync"

	"github.com/pkg/errors"

	"github.com/knxtun/knxip/knxnet"
)

// maxDatagram is the largest UDP datagram the receiver loop will read; a
// larger incoming packet is truncated by the kernel before it reaches us.
const maxDatagram = 512

// Dispatcher handles one parsed KNXnet/IP frame. HandleService should
// return quickly: the receiver loop does not process the next datagram
// until this call returns.
type Dispatcher interface {
	HandleService(h knxnet.Header, body []byte, fromIP net.IP, fromPort int)
}

// UDPReceiver owns one bound *net.UDPConn and feeds parsed frames to a
// Dispatcher until Close is called.
type UDPReceiver struct {
	conn       *net.UDPConn
	dispatcher Dispatcher

	closeOnce sync.Once
	done      chan struct{}
}

// NewUDPReceiver wraps an already-bound UDP socket.
func NewUDPReceiver(conn *net.UDPConn, dispatcher Dispatcher) *UDPReceiver {
	return &UDPReceiver{conn: conn, dispatcher: dispatcher, done: make(chan struct{})}
}

// Run blocks, reading datagrams until the socket is closed. It should be
// run in its own goroutine; it is the connection's one receiver task.
func (r *UDPReceiver) Run() {
	defer close(r.done)
	buf := make([]byte, maxDatagram)
	for {
		n, addr, err := r.conn.ReadFromUDP(buf)
		if err != nil {
			if isClosedErr(err) {
				return
			}
			log.Printf("transport: udp read error: %v", err)
			return
		}
		frame := buf[:n]
		h, err := knxnet.DecodeHeader(frame)
		if err != nil {
			log.Printf("transport: dropping malformed datagram from %s: %v", addr, err)
			continue
		}
		if int(h.TotalLength) > n {
			log.Printf("transport: dropping datagram from %s: declared length %d exceeds received %d", addr, h.TotalLength, n)
			continue
		}
		r.dispatcher.HandleService(h, h.Body(frame), addr.IP, addr.Port)
	}
}

// Close closes the underlying socket and waits for Run to return.
func (r *UDPReceiver) Close() error {
	var err error
	r.closeOnce.Do(func() {
		err = r.conn.Close()
		<-r.done
	})
	return err
}

// Send writes a pre-encoded frame to addr.
func (r *UDPReceiver) Send(frame []byte, addr *net.UDPAddr) error {
	_, err := r.conn.WriteToUDP(frame, addr)
	if err != nil {
		return errors.Wrap(err, "transport: udp write")
	}
	return nil
}

func isClosedErr(err error) bool {
	return errors.Is(err, net.ErrClosed)
}
