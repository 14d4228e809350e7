package knxnet

import (
	"bytes"
	"testing"
)

func mustHeaderBody(t *testing.T, frame []byte) (Header, []byte) {
	t.Helper()
	h, err := DecodeHeader(frame)
	if err != nil {
		t.Fatalf("DecodeHeader: %v", err)
	}
	return h, h.Body(frame)
}

func TestHeaderRoundTrip(t *testing.T) {
	frame := encodeFrame(ConnectReq, []byte{1, 2, 3})
	h, body := mustHeaderBody(t, frame)
	if h.Service != ConnectReq {
		t.Fatalf("service = %v", h.Service)
	}
	if !bytes.Equal(body, []byte{1, 2, 3}) {
		t.Fatalf("body = %v", body)
	}
}

func TestHeaderRejectsBadVersion(t *testing.T) {
	frame := encodeFrame(ConnectReq, nil)
	frame[1] = 0x11
	if _, err := DecodeHeader(frame); err == nil {
		t.Fatal("expected malformed frame error")
	}
}

func TestHeaderRejectsTruncatedBuffer(t *testing.T) {
	frame := encodeFrame(ConnectReq, []byte{1, 2, 3})
	if _, err := DecodeHeader(frame[:len(frame)-1]); err == nil {
		t.Fatal("expected malformed frame error for truncated total length")
	}
}

func TestConnectRequestRoundTrip(t *testing.T) {
	req := ConnectRequest{
		Control: HPAI{Protocol: HostProtocolUDP, Addr: [4]byte{192, 168, 1, 10}, Port: 3671},
		Data:    HPAI{Protocol: HostProtocolUDP, Addr: [4]byte{192, 168, 1, 10}, Port: 3672},
		CRI:     CRI{Type: ConnectionTypeTunnel, Layer: TunnelLayerLinkLayer},
	}
	frame := req.Encode()
	_, body := mustHeaderBody(t, frame)
	got, err := DecodeConnectRequest(body)
	if err != nil {
		t.Fatal(err)
	}
	if got != req {
		t.Fatalf("round trip mismatch: %+v != %+v", got, req)
	}
}

func TestConnectResponseRoundTrip(t *testing.T) {
	res := ConnectResponse{
		ChannelID: 0x07,
		Status:    StatusNoError,
		Data:      HPAI{Protocol: HostProtocolUDP, Addr: [4]byte{10, 0, 0, 1}, Port: 3671},
		CRD:       CRD{Type: ConnectionTypeTunnel, Address: 0x1105},
	}
	frame := res.Encode()
	_, body := mustHeaderBody(t, frame)
	got, err := DecodeConnectResponse(body)
	if err != nil {
		t.Fatal(err)
	}
	if got != res {
		t.Fatalf("round trip mismatch: %+v != %+v", got, res)
	}
}

func TestTunnelingRequestRoundTrip(t *testing.T) {
	req := TunnelingRequest{ChannelID: 7, Sequence: 255, CEMI: []byte{0x29, 0x00, 0xbc, 0xe0}}
	frame := req.Encode()
	_, body := mustHeaderBody(t, frame)
	got, err := DecodeTunnelingRequest(body)
	if err != nil {
		t.Fatal(err)
	}
	if got.ChannelID != req.ChannelID || got.Sequence != req.Sequence || !bytes.Equal(got.CEMI, req.CEMI) {
		t.Fatalf("round trip mismatch: %+v != %+v", got, req)
	}
}

func TestSecureWrapperRoundTrip(t *testing.T) {
	w := SecureWrapper{
		SessionID: 1,
		Sequence:  0x0000FFFFFFFF,
		Serial:    [6]byte{1, 2, 3, 4, 5, 6},
		Tag:       0,
		Payload:   []byte("hello, knx secure"),
		MAC:       [16]byte{0xaa, 0xbb},
	}
	frame := w.Encode()
	_, body := mustHeaderBody(t, frame)
	got, err := DecodeSecureWrapper(body)
	if err != nil {
		t.Fatal(err)
	}
	if got.SessionID != w.SessionID || got.Sequence != w.Sequence || got.Serial != w.Serial ||
		got.Tag != w.Tag || !bytes.Equal(got.Payload, w.Payload) || got.MAC != w.MAC {
		t.Fatalf("round trip mismatch: %+v != %+v", got, w)
	}
}

func TestSessionResponseLengthValidation(t *testing.T) {
	res := SessionResponse{SessionID: 7, PublicKey: [32]byte{1}, MAC: [16]byte{2}}
	frame := res.Encode()
	h, body := mustHeaderBody(t, frame)
	if h.TotalLength != headerSize+SessionResponseFullLen {
		t.Fatalf("total length = %d", h.TotalLength)
	}
	got, err := DecodeSessionResponse(body, h.TotalLength-headerSize)
	if err != nil {
		t.Fatal(err)
	}
	if got.SessionID != res.SessionID || got.PublicKey != res.PublicKey || got.MAC != res.MAC {
		t.Fatalf("round trip mismatch: %+v != %+v", got, res)
	}

	rejected := SessionResponse{SessionID: 0, Rejected: true}
	frame = rejected.Encode()
	h, body = mustHeaderBody(t, frame)
	got, err = DecodeSessionResponse(body, h.TotalLength-headerSize)
	if err != nil {
		t.Fatal(err)
	}
	if !got.Rejected || got.SessionID != 0 {
		t.Fatalf("expected rejected response, got %+v", got)
	}
}

func TestRoutingLostAndBusyRoundTrip(t *testing.T) {
	lost := RoutingLostMessage{DeviceState: 1, LostCount: 42}
	_, body := mustHeaderBody(t, lost.Encode())
	gotLost, err := DecodeRoutingLostMessage(body)
	if err != nil || gotLost != lost {
		t.Fatalf("lost round trip: %+v, %v", gotLost, err)
	}

	busy := RoutingBusy{DeviceState: 1, WaitTime: 100, ControlField: 3}
	_, body = mustHeaderBody(t, busy.Encode())
	gotBusy, err := DecodeRoutingBusy(body)
	if err != nil || gotBusy != busy {
		t.Fatalf("busy round trip: %+v, %v", gotBusy, err)
	}
}

func TestSearchRequestWithSRPsRoundTrip(t *testing.T) {
	req := SearchRequest{
		Discovery: HPAI{Protocol: HostProtocolUDP, Addr: [4]byte{1, 1, 1, 1}, Port: 4000},
		SRPs: []SRP{
			{Mandatory: true, Type: SRPSelectByProgrammingMode},
			{Mandatory: false, Type: SRPSelectByMACAddress, Data: []byte{1, 2, 3, 4, 5, 6}},
		},
	}
	_, body := mustHeaderBody(t, req.Encode())
	got, err := DecodeSearchRequest(body)
	if err != nil {
		t.Fatal(err)
	}
	if len(got.SRPs) != 2 || got.SRPs[0].Type != SRPSelectByProgrammingMode || !got.SRPs[0].Mandatory {
		t.Fatalf("got %+v", got)
	}
	if !bytes.Equal(got.SRPs[1].Data, []byte{1, 2, 3, 4, 5, 6}) {
		t.Fatalf("got %+v", got.SRPs[1])
	}
}

func TestGroupSyncRoundTrip(t *testing.T) {
	g := GroupSync{Timer: 0x112233445566 & 0xFFFFFFFFFFFF, Serial: [6]byte{9, 8, 7, 6, 5, 4}, Tag: 7}
	_, body := mustHeaderBody(t, g.Encode())
	got, err := DecodeGroupSync(body)
	if err != nil || got != g {
		t.Fatalf("round trip: %+v, %v", got, err)
	}
}
