package connection

import (
	"context"
	"net"
	"time"

	"github.com/pkg/errors"

	"github.com/knxtun/knxip/cemi"
	"github.com/knxtun/knxip/knxnet"
)

// DevMgmt is a device-management channel: local-device property read/write
// cEMI frames, with a longer per-request timeout than tunnelling.
type DevMgmt struct {
	*Base
}

// DialDevMgmt performs the Connect.req/.res handshake for a device
// management connection type.
func DialDevMgmt(conn *net.UDPConn, server *net.UDPAddr) (*DevMgmt, error) {
	local := knxnet.HPAIFromUDPAddr(conn.LocalAddr().(*net.UDPAddr))
	req := knxnet.ConnectRequest{
		Control: local,
		Data:    local,
		CRI:     knxnet.CRI{Type: knxnet.ConnectionTypeDeviceManagement},
	}

	conn.SetDeadline(time.Now().Add(connectTimeout))
	defer conn.SetDeadline(time.Time{})

	if _, err := conn.WriteToUDP(req.Encode(), server); err != nil {
		return nil, errors.Wrap(err, "devmgmt: sending connect request")
	}
	buf := make([]byte, 512)
	n, from, err := conn.ReadFromUDP(buf)
	if err != nil {
		return nil, errors.Wrap(err, "devmgmt: reading connect response")
	}
	h, err := knxnet.DecodeHeader(buf[:n])
	if err != nil {
		return nil, err
	}
	if h.Service != knxnet.ConnectRes {
		return nil, errors.Errorf("devmgmt: unexpected service 0x%04x in connect response", h.Service)
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
	base := newBase(KindDeviceManagement, sender, ctrlSender, res.ChannelID, local,
		devMgmtEncodeRequest, devMgmtMatchAck, devMgmtMatchIncoming, devMgmtEncodeAck)
	return &DevMgmt{Base: base}, nil
}

// Send validates the cEMI message code is one of the device-management
// variants before delegating to the base connection.
func (d *DevMgmt) Send(cemiFrame []byte, mode SendMode) error {
	return d.SendCtx(context.Background(), cemiFrame, mode)
}

// SendCtx is Send with an externally supplied deadline/cancellation signal.
func (d *DevMgmt) SendCtx(ctx context.Context, cemiFrame []byte, mode SendMode) error {
	switch cemi.Frame(cemiFrame).MessageCode() {
	case cemi.MPropReadReq, cemi.MPropWriteReq, cemi.MResetReq:
	default:
		return newErr(ErrIllegalState, "only device-management cEMI variants may be sent on this connection")
	}
	return d.Base.SendCtx(ctx, cemiFrame, mode)
}

func devMgmtEncodeRequest(channelID, seq byte, cemiFrame []byte) []byte {
	return knxnet.DeviceConfigurationRequest{ChannelID: channelID, Sequence: seq, CEMI: cemiFrame}.Encode()
}

func devMgmtEncodeAck(channelID, seq byte, status knxnet.Status) []byte {
	return knxnet.DeviceConfigurationAck{ChannelID: channelID, Sequence: seq, Status: status}.Encode()
}

func devMgmtMatchAck(h knxnet.Header, body []byte) (seq byte, status knxnet.Status, ok bool) {
	if h.Service != knxnet.DeviceConfigurationAck {
		return 0, 0, false
	}
	ack, err := knxnet.DecodeDeviceConfigurationAck(body)
	if err != nil {
		return 0, 0, false
	}
	return ack.Sequence, ack.Status, true
}

func devMgmtMatchIncoming(h knxnet.Header, body []byte) (seq byte, cemiFrame []byte, ok bool) {
	if h.Service != knxnet.DeviceConfigurationReq {
		return 0, nil, false
	}
	req, err := knxnet.DecodeDeviceConfigurationRequest(body)
	if err != nil {
		return 0, nil, false
	}
	return req.Sequence, req.CEMI, true
}
