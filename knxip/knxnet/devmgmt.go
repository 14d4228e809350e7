package knxnet

// DeviceConfigurationRequest carries one DevMgmt cEMI frame. Identical shape
// to TunnelingRequest but a distinct service type (spec.md §4.4).
type DeviceConfigurationRequest struct {
	ChannelID byte
	Sequence  byte
	CEMI      []byte
}

func (req DeviceConfigurationRequest) Encode() []byte {
	body := []byte{connHeaderSize, req.ChannelID, req.Sequence, 0x00}
	body = append(body, req.CEMI...)
	return encodeFrame(DeviceConfigurationReq, body)
}

func DecodeDeviceConfigurationRequest(buf []byte) (DeviceConfigurationRequest, error) {
	var req DeviceConfigurationRequest
	if len(buf) < connHeaderSize {
		return req, malformed("device configuration request shorter than %d bytes", connHeaderSize)
	}
	if buf[0] != connHeaderSize {
		return req, malformed("device configuration request structure length %d != %d", buf[0], connHeaderSize)
	}
	req.ChannelID = buf[1]
	req.Sequence = buf[2]
	req.CEMI = buf[connHeaderSize:]
	return req, nil
}

// DeviceConfigurationAck acknowledges a DeviceConfigurationRequest.
type DeviceConfigurationAck struct {
	ChannelID byte
	Sequence  byte
	Status    Status
}

func (ack DeviceConfigurationAck) Encode() []byte {
	body := []byte{connHeaderSize, ack.ChannelID, ack.Sequence, byte(ack.Status)}
	return encodeFrame(DeviceConfigurationAck, body)
}

func DecodeDeviceConfigurationAck(buf []byte) (DeviceConfigurationAck, error) {
	var ack DeviceConfigurationAck
	if len(buf) < connHeaderSize {
		return ack, malformed("device configuration ack shorter than %d bytes", connHeaderSize)
	}
	if buf[0] != connHeaderSize {
		return ack, malformed("device configuration ack structure length %d != %d", buf[0], connHeaderSize)
	}
	ack.ChannelID = buf[1]
	ack.Sequence = buf[2]
	ack.Status = Status(buf[3])
	return ack, nil
}
