package connection

import (
	"net"

	"github.com/pkg/errors"

	"github.com/knxtun/knxip/knxnet"
)

// resolveDataEndpoint picks the peer address subsequent data frames on a
// newly-established channel should target, per spec.md §4.3's connect
// sequence note: the response's Data HPAI, except when that HPAI is zeroed
// (NAT mode) — in which case the UDP source address the Connect.res itself
// arrived from is used instead. A non-zero Data HPAI whose host protocol
// does not match ours (UDP here, since every dial in this package is UDP)
// is surfaced as ErrRemote rather than guessed at (spec.md §9, "Connect.res
// whose data HPAI has host protocol not matching the request's").
func resolveDataEndpoint(responseSource *net.UDPAddr, data knxnet.HPAI) (*net.UDPAddr, error) {
	if data.IsZero() {
		return responseSource, nil
	}
	if data.Protocol != knxnet.HostProtocolUDP {
		return nil, newErr(ErrRemote, "mismatched host protocol in connect response")
	}
	return data.UDPAddr(), nil
}

// udpSender sends frames to a fixed peer address over a shared UDP socket.
type udpSender struct {
	conn *net.UDPConn
	peer *net.UDPAddr
}

// NewUDPSender adapts a bound UDP socket and a fixed peer address into a
// FrameSender, for plain (non-secure) tunnelling, device-management, and
// routing connections.
func NewUDPSender(conn *net.UDPConn, peer *net.UDPAddr) FrameSender {
	return &udpSender{conn: conn, peer: peer}
}

func (s *udpSender) SendFrame(frame []byte) error {
	if _, err := s.conn.WriteToUDP(frame, s.peer); err != nil {
		return errors.Wrap(err, "connection: udp send")
	}
	return nil
}
