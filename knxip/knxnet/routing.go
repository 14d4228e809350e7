package knxnet

// RoutingIndication carries one cEMI frame over multicast routing. The body
// is the raw cEMI bytes; no additional framing.
type RoutingIndication struct {
	CEMI []byte
}

func (ind RoutingIndication) Encode() []byte {
	return encodeFrame(RoutingInd, ind.CEMI)
}

// EncodeSystemBroadcast is identical to Encode but tagged with the
// system-broadcast service type: sent on the secondary multicast group,
// always unencrypted.
func (ind RoutingIndication) EncodeSystemBroadcast() []byte {
	return encodeFrame(RoutingSystemBroadcast, ind.CEMI)
}

func DecodeRoutingIndication(buf []byte) RoutingIndication {
	return RoutingIndication{CEMI: buf}
}

// RoutingLostMessage reports cEMI frames a router had to discard because its
// outgoing queue was full.
type RoutingLostMessage struct {
	DeviceState byte
	LostCount   uint16
}

func (m RoutingLostMessage) Encode() []byte {
	body := []byte{4, m.DeviceState, byte(m.LostCount >> 8), byte(m.LostCount)}
	return encodeFrame(RoutingLostMessage, body)
}

func DecodeRoutingLostMessage(buf []byte) (RoutingLostMessage, error) {
	if len(buf) < 4 {
		return RoutingLostMessage{}, malformed("routing lost message shorter than 4 bytes")
	}
	if buf[0] != 4 {
		return RoutingLostMessage{}, malformed("routing lost message structure length %d != 4", buf[0])
	}
	return RoutingLostMessage{
		DeviceState: buf[1],
		LostCount:   uint16(buf[2])<<8 | uint16(buf[3]),
	}, nil
}

// RoutingBusy asks senders to slow down for WaitTime milliseconds.
type RoutingBusy struct {
	DeviceState   byte
	WaitTime      uint16 // milliseconds
	ControlField  uint16
}

func (m RoutingBusy) Encode() []byte {
	body := []byte{6, m.DeviceState, byte(m.WaitTime >> 8), byte(m.WaitTime), byte(m.ControlField >> 8), byte(m.ControlField)}
	return encodeFrame(RoutingBusy, body)
}

func DecodeRoutingBusy(buf []byte) (RoutingBusy, error) {
	if len(buf) < 6 {
		return RoutingBusy{}, malformed("routing busy shorter than 6 bytes")
	}
	if buf[0] != 6 {
		return RoutingBusy{}, malformed("routing busy structure length %d != 6", buf[0])
	}
	return RoutingBusy{
		DeviceState:  buf[1],
		WaitTime:     uint16(buf[2])<<8 | uint16(buf[3]),
		ControlField: uint16(buf[4])<<8 | uint16(buf[5]),
	}, nil
}
