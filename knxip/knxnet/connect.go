package knxnet

// ConnectRequest is the Connect.req body: the endpoints the client wants the
// server to talk control/data traffic to, plus the connection-type-specific
// CRI.
type ConnectRequest struct {
	Control HPAI
	Data    HPAI
	CRI     CRI
}

// Encode renders the frame (header + body) for req.
func (req ConnectRequest) Encode() []byte {
	var body []byte
	body = encodeHPAI(body, req.Control)
	body = encodeHPAI(body, req.Data)
	body = encodeCRI(body, req.CRI)
	return encodeFrame(ConnectReq, body)
}

// encodeFrame is the shared helper every *Request/*Response/*Ack type uses:
// header followed by the already-encoded body.
func encodeFrame(service ServiceType, body []byte) []byte {
	dst := make([]byte, 0, headerSize+len(body))
	dst = EncodeHeader(dst, service, len(body))
	dst = append(dst, body...)
	return dst
}

// DecodeConnectRequest parses a Connect.req body (buf must already exclude
// the header).
func DecodeConnectRequest(buf []byte) (ConnectRequest, error) {
	var req ConnectRequest
	control, n, err := decodeHPAI(buf)
	if err != nil {
		return req, err
	}
	buf = buf[n:]
	data, n, err := decodeHPAI(buf)
	if err != nil {
		return req, err
	}
	buf = buf[n:]
	cri, _, err := decodeCRI(buf)
	if err != nil {
		return req, err
	}
	req.Control, req.Data, req.CRI = control, data, cri
	return req, nil
}

// ConnectResponse is the Connect.res body. Data/CRD are only populated when
// Status == StatusNoError.
type ConnectResponse struct {
	ChannelID byte
	Status    Status
	Data      HPAI
	CRD       CRD
}

// Encode renders the frame for res.
func (res ConnectResponse) Encode() []byte {
	body := []byte{res.ChannelID, byte(res.Status)}
	if res.Status == StatusNoError {
		body = encodeHPAI(body, res.Data)
		body = encodeCRD(body, res.CRD)
	}
	return encodeFrame(ConnectRes, body)
}

// DecodeConnectResponse parses a Connect.res body.
func DecodeConnectResponse(buf []byte) (ConnectResponse, error) {
	var res ConnectResponse
	if len(buf) < 2 {
		return res, malformed("connect response shorter than 2 bytes")
	}
	res.ChannelID = buf[0]
	res.Status = Status(buf[1])
	buf = buf[2:]
	if res.Status != StatusNoError {
		return res, nil
	}
	data, n, err := decodeHPAI(buf)
	if err != nil {
		return res, err
	}
	buf = buf[n:]
	crd, _, err := decodeCRD(buf)
	if err != nil {
		return res, err
	}
	res.Data, res.CRD = data, crd
	return res, nil
}
