package knxnet

// connHeaderSize is the 4-byte per-frame structure carried by tunnelling and
// device-management requests: structure length, channel id, sequence
// counter, status/reserved.
const connHeaderSize = 4

// TunnelingRequest carries one cEMI frame over an established tunnelling
// channel.
type TunnelingRequest struct {
	ChannelID byte
	Sequence  byte
	CEMI      []byte
}

func (req TunnelingRequest) Encode() []byte {
	body := []byte{connHeaderSize, req.ChannelID, req.Sequence, 0x00}
	body = append(body, req.CEMI...)
	return encodeFrame(TunnelingReq, body)
}

// DecodeTunnelingRequest parses a Tunneling.req body.
func DecodeTunnelingRequest(buf []byte) (TunnelingRequest, error) {
	var req TunnelingRequest
	if len(buf) < connHeaderSize {
		return req, malformed("tunneling request shorter than %d bytes", connHeaderSize)
	}
	if buf[0] != connHeaderSize {
		return req, malformed("tunneling request structure length %d != %d", buf[0], connHeaderSize)
	}
	req.ChannelID = buf[1]
	req.Sequence = buf[2]
	req.CEMI = buf[connHeaderSize:]
	return req, nil
}

// TunnelingAck acknowledges a TunnelingRequest.
type TunnelingAck struct {
	ChannelID byte
	Sequence  byte
	Status    Status
}

func (ack TunnelingAck) Encode() []byte {
	body := []byte{connHeaderSize, ack.ChannelID, ack.Sequence, byte(ack.Status)}
	return encodeFrame(TunnelingAck, body)
}

func DecodeTunnelingAck(buf []byte) (TunnelingAck, error) {
	var ack TunnelingAck
	if len(buf) < connHeaderSize {
		return ack, malformed("tunneling ack shorter than %d bytes", connHeaderSize)
	}
	if buf[0] != connHeaderSize {
		return ack, malformed("tunneling ack structure length %d != %d", buf[0], connHeaderSize)
	}
	ack.ChannelID = buf[1]
	ack.Sequence = buf[2]
	ack.Status = Status(buf[3])
	return ack, nil
}
