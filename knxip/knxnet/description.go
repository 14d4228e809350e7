package knxnet

// DescriptionRequest is a one-shot unicast request for a server's DIBs,
// sent to a named control endpoint (spec.md §4.6).
type DescriptionRequest struct {
	Control HPAI
}

func (req DescriptionRequest) Encode() []byte {
	return encodeFrame(DescriptionReq, encodeHPAI(nil, req.Control))
}

func DecodeDescriptionRequest(buf []byte) (DescriptionRequest, error) {
	control, _, err := decodeHPAI(buf)
	if err != nil {
		return DescriptionRequest{}, err
	}
	return DescriptionRequest{Control: control}, nil
}

// DescriptionResponse answers a DescriptionRequest with the server's DIBs.
type DescriptionResponse struct {
	DIBs []DIB
}

func (res DescriptionResponse) Encode() []byte {
	var body []byte
	for _, d := range res.DIBs {
		body = encodeDIB(body, d)
	}
	return encodeFrame(DescriptionRes, body)
}

func DecodeDescriptionResponse(buf []byte) (DescriptionResponse, error) {
	dibs, err := decodeDIBs(buf)
	if err != nil {
		return DescriptionResponse{}, err
	}
	return DescriptionResponse{DIBs: dibs}, nil
}
