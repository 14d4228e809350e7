package knxnet

// DisconnectRequest asks the peer to tear down a channel.
type DisconnectRequest struct {
	ChannelID byte
	Control   HPAI
}

func (req DisconnectRequest) Encode() []byte {
	body := []byte{req.ChannelID, 0x00}
	body = encodeHPAI(body, req.Control)
	return encodeFrame(DisconnectReq, body)
}

func DecodeDisconnectRequest(buf []byte) (DisconnectRequest, error) {
	var req DisconnectRequest
	if len(buf) < 2 {
		return req, malformed("disconnect request shorter than 2 bytes")
	}
	req.ChannelID = buf[0]
	control, _, err := decodeHPAI(buf[2:])
	if err != nil {
		return req, err
	}
	req.Control = control
	return req, nil
}

// DisconnectResponse confirms the teardown.
type DisconnectResponse struct {
	ChannelID byte
	Status    Status
}

func (res DisconnectResponse) Encode() []byte {
	return encodeFrame(DisconnectRes, []byte{res.ChannelID, byte(res.Status)})
}

func DecodeDisconnectResponse(buf []byte) (DisconnectResponse, error) {
	if len(buf) < 2 {
		return DisconnectResponse{}, malformed("disconnect response shorter than 2 bytes")
	}
	return DisconnectResponse{ChannelID: buf[0], Status: Status(buf[1])}, nil
}
