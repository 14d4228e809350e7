package connection

import (
	"context"
	"net"
	"time"

	"github.com/pkg/errors"

	"github.com/knxtun/knxip/cemi"
	"github.com/knxtun/knxip/knxnet"
)

const connectTimeout = 10 * time.Second

// Tunnel is a tunnelling channel: cEMI L_Data frames to/from a single bus
// access point, optionally restricted to bus-monitor mode.
type Tunnel struct {
	*Base
	layer knxnet.TunnelLayer
}

// DialTunnel performs the Connect.req/.res handshake over conn (already
// bound to a local address) against server, and returns an established
// Tunnel. conn is used both for the handshake and, afterwards, as the
// channel's outgoing socket; the caller is responsible for feeding
// subsequent datagrams on conn to the returned Tunnel's HandleFrame via a
// transport.UDPReceiver.
func DialTunnel(conn *net.UDPConn, server *net.UDPAddr, layer knxnet.TunnelLayer) (*Tunnel, error) {
	local := knxnet.HPAIFromUDPAddr(conn.LocalAddr().(*net.UDPAddr))
	req := knxnet.ConnectRequest{
		Control: local,
		Data:    local,
		CRI:     knxnet.CRI{Type: knxnet.ConnectionTypeTunnel, Layer: layer},
	}

	conn.SetDeadline(time.Now().Add(connectTimeout))
	defer conn.SetDeadline(time.Time{})

	if _, err := conn.WriteToUDP(req.Encode(), server); err != nil {
		return nil, errors.Wrap(err, "tunnel: sending connect request")
	}

	buf := make([]byte, 512)
	n, from, err := conn.ReadFromUDP(buf)
	if err != nil {
		return nil, errors.Wrap(err, "tunnel: reading connect response")
	}
	h, err := knxnet.DecodeHeader(buf[:n])
	if err != nil {
		return nil, err
	}
	if h.Service != knxnet.ConnectRes {
		return nil, errors.Errorf("tunnel: unexpected service 0x%04x in connect response", h.Service)
	}
	res, err := knxnet.DecodeConnectResponse(h.Body(buf[:n]))
	if err != nil {
		return nil, err
	}
	if res.Status != knxnet.StatusNoError {
		return nil, newErr(ErrRemote, res.Status.String())
	}

	dataEndpoint, err := resolveDataEndpoint(from, res.Data)
	if err != nil {
		return nil, err
	}
	sender := NewUDPSender(conn, dataEndpoint)
	ctrlSender := NewUDPSender(conn, from)
	base := newBase(KindTunnel, sender, ctrlSender, res.ChannelID, local,
		tunnelEncodeRequest, tunnelMatchAck, tunnelMatchIncoming, tunnelEncodeAck)
	return &Tunnel{Base: base, layer: layer}, nil
}

// Send validates the cEMI message code against the tunnelling layer before
// delegating to the base connection: only L_Data.req is accepted, and only
// outside bus-monitor mode.
func (t *Tunnel) Send(cemiFrame []byte, mode SendMode) error {
	return t.SendCtx(context.Background(), cemiFrame, mode)
}

// SendCtx is Send with an externally supplied deadline/cancellation signal.
func (t *Tunnel) SendCtx(ctx context.Context, cemiFrame []byte, mode SendMode) error {
	f := cemi.Frame(cemiFrame)
	if t.layer == knxnet.TunnelLayerBusMonitor {
		return newErr(ErrIllegalState, "sending is not permitted on a bus-monitor tunnel")
	}
	if f.MessageCode() != cemi.LDataReq {
		return newErr(ErrIllegalState, "only L_Data.req may be sent on a tunnelling connection")
	}
	return t.Base.SendCtx(ctx, cemiFrame, mode)
}

func tunnelEncodeRequest(channelID, seq byte, cemiFrame []byte) []byte {
	return knxnet.TunnelingRequest{ChannelID: channelID, Sequence: seq, CEMI: cemiFrame}.Encode()
}

func tunnelEncodeAck(channelID, seq byte, status knxnet.Status) []byte {
	return knxnet.TunnelingAck{ChannelID: channelID, Sequence: seq, Status: status}.Encode()
}

func tunnelMatchAck(h knxnet.Header, body []byte) (seq byte, status knxnet.Status, ok bool) {
	if h.Service != knxnet.TunnelingAck {
		return 0, 0, false
	}
	ack, err := knxnet.DecodeTunnelingAck(body)
	if err != nil {
		return 0, 0, false
	}
	return ack.Sequence, ack.Status, true
}

func tunnelMatchIncoming(h knxnet.Header, body []byte) (seq byte, cemiFrame []byte, ok bool) {
	if h.Service != knxnet.TunnelingReq {
		return 0, nil, false
	}
	req, err := knxnet.DecodeTunnelingRequest(body)
	if err != nil {
		return 0, nil, false
	}
	return req.Sequence, req.CEMI, true
}
