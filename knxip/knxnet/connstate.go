package knxnet

// ConnectionStateRequest is the heartbeat request: "is channel id still
// alive, reply to this control endpoint".
type ConnectionStateRequest struct {
	ChannelID byte
	Control   HPAI
}

func (req ConnectionStateRequest) Encode() []byte {
	body := []byte{req.ChannelID, 0x00}
	body = encodeHPAI(body, req.Control)
	return encodeFrame(ConnectionStateReq, body)
}

func DecodeConnectionStateRequest(buf []byte) (ConnectionStateRequest, error) {
	var req ConnectionStateRequest
	if len(buf) < 2 {
		return req, malformed("connection state request shorter than 2 bytes")
	}
	req.ChannelID = buf[0]
	control, _, err := decodeHPAI(buf[2:])
	if err != nil {
		return req, err
	}
	req.Control = control
	return req, nil
}

// ConnectionStateResponse answers a heartbeat.
type ConnectionStateResponse struct {
	ChannelID byte
	Status    Status
}

func (res ConnectionStateResponse) Encode() []byte {
	return encodeFrame(ConnectionStateRes, []byte{res.ChannelID, byte(res.Status)})
}

func DecodeConnectionStateResponse(buf []byte) (ConnectionStateResponse, error) {
	if len(buf) < 2 {
		return ConnectionStateResponse{}, malformed("connection state response shorter than 2 bytes")
	}
	return ConnectionStateResponse{ChannelID: buf[0], Status: Status(buf[1])}, nil
}
