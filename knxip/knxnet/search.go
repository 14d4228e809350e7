package knxnet

// DIB is a generic description information block: a typed, length-prefixed
// chunk of server description data (device info, supported service
// families, ...). Contents beyond the type code are opaque to the core.
type DIB struct {
	Type byte
	Data []byte
}

// DIB type codes (KNXnet/IP discovery/description extension).
const (
	DIBDeviceInfo              byte = 0x01
	DIBSupportedServiceFamilies byte = 0x02
	DIBIPConfig                byte = 0x03
	DIBIPCurrentConfig         byte = 0x04
	DIBKNXAddresses            byte = 0x05
	DIBSecuredServiceFamilies  byte = 0x06
	DIBTunnelingInfo           byte = 0x07
)

func encodeDIB(dst []byte, d DIB) []byte {
	length := 2 + len(d.Data)
	dst = append(dst, byte(length), d.Type)
	dst = append(dst, d.Data...)
	return dst
}

func decodeDIBs(buf []byte) ([]DIB, error) {
	var dibs []DIB
	for len(buf) > 0 {
		if len(buf) < 2 {
			return nil, malformed("DIB shorter than 2 bytes")
		}
		length := int(buf[0])
		if length < 2 || length > len(buf) {
			return nil, malformed("DIB length %d invalid for remaining %d bytes", length, len(buf))
		}
		dibs = append(dibs, DIB{Type: buf[1], Data: append([]byte{}, buf[2:length]...)})
		buf = buf[length:]
	}
	return dibs, nil
}

// SRP is a Search Request Parameter block used by the extended discovery
// service to narrow down which servers should respond (spec.md §4.6 /
// SPEC_FULL.md §13).
type SRP struct {
	Mandatory bool
	Type      SRPType
	Data      []byte
}

// SRPType selects the search-request-parameter semantics.
type SRPType byte

const (
	// SRPSelectByProgrammingMode restricts responses to devices currently in
	// programming mode.
	SRPSelectByProgrammingMode SRPType = 0x01
	// SRPSelectByMACAddress restricts responses to the device with the given
	// 6-byte MAC address (Data).
	SRPSelectByMACAddress SRPType = 0x02
	// SRPRequestDIBs asks the server to include the DIB types listed in Data
	// in its Search.res, beyond the mandatory ones.
	SRPRequestDIBs SRPType = 0x03
)

func encodeSRP(dst []byte, s SRP) []byte {
	length := 2 + len(s.Data)
	typeByte := byte(s.Type) & 0x7F
	if s.Mandatory {
		typeByte |= 0x80
	}
	dst = append(dst, byte(length), typeByte)
	dst = append(dst, s.Data...)
	return dst
}

func decodeSRPs(buf []byte) ([]SRP, error) {
	var srps []SRP
	for len(buf) > 0 {
		if len(buf) < 2 {
			return nil, malformed("SRP shorter than 2 bytes")
		}
		length := int(buf[0])
		if length < 2 || length > len(buf) {
			return nil, malformed("SRP length %d invalid for remaining %d bytes", length, len(buf))
		}
		srps = append(srps, SRP{
			Mandatory: buf[1]&0x80 != 0,
			Type:      SRPType(buf[1] &^ 0x80),
			Data:      append([]byte{}, buf[2:length]...),
		})
		buf = buf[length:]
	}
	return srps, nil
}

// SearchRequest asks every reachable KNXnet/IP server to identify itself.
// SRPs, when present, narrow down which servers should answer.
type SearchRequest struct {
	Discovery HPAI
	SRPs      []SRP
}

func (req SearchRequest) Encode() []byte {
	body := encodeHPAI(nil, req.Discovery)
	for _, s := range req.SRPs {
		body = encodeSRP(body, s)
	}
	return encodeFrame(SearchReq, body)
}

func DecodeSearchRequest(buf []byte) (SearchRequest, error) {
	var req SearchRequest
	discovery, n, err := decodeHPAI(buf)
	if err != nil {
		return req, err
	}
	req.Discovery = discovery
	srps, err := decodeSRPs(buf[n:])
	if err != nil {
		return req, err
	}
	req.SRPs = srps
	return req, nil
}

// SearchResponse is a server's answer to a SearchRequest: its control
// endpoint plus a set of description blocks.
type SearchResponse struct {
	Control HPAI
	DIBs    []DIB
}

func (res SearchResponse) Encode() []byte {
	body := encodeHPAI(nil, res.Control)
	for _, d := range res.DIBs {
		body = encodeDIB(body, d)
	}
	return encodeFrame(SearchRes, body)
}

func DecodeSearchResponse(buf []byte) (SearchResponse, error) {
	var res SearchResponse
	control, n, err := decodeHPAI(buf)
	if err != nil {
		return res, err
	}
	res.Control = control
	dibs, err := decodeDIBs(buf[n:])
	if err != nil {
		return res, err
	}
	res.DIBs = dibs
	return res, nil
}
