// Package knxnet implements the KNXnet/IP wire codec: the fixed header,
// HPAI, CRI/CRD, and every service body named in spec.md §4.1. All integers
// are big-endian. Parsing failures are reported as *MalformedFrameError.
package knxnet

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// ServiceType is the 16-bit KNXnet/IP service identifier. The values below
// are a compatibility surface and must match the wire exactly.
type ServiceType uint16

const (
	SearchReq             ServiceType = 0x0201
	SearchRes             ServiceType = 0x0202
	DescriptionReq        ServiceType = 0x0203
	DescriptionRes        ServiceType = 0x0204
	ConnectReq            ServiceType = 0x0205
	ConnectRes            ServiceType = 0x0206
	ConnectionStateReq    ServiceType = 0x0207
	ConnectionStateRes    ServiceType = 0x0208
	DisconnectReq         ServiceType = 0x0209
	DisconnectRes         ServiceType = 0x020A
	DeviceConfigurationReq ServiceType = 0x0310
	DeviceConfigurationAck ServiceType = 0x0311
	TunnelingReq          ServiceType = 0x0420
	TunnelingAck          ServiceType = 0x0421
	RoutingInd            ServiceType = 0x0530
	RoutingLostMessage    ServiceType = 0x0531
	RoutingBusy           ServiceType = 0x0532
	RoutingSystemBroadcast ServiceType = 0x0536
	SecureWrapperService  ServiceType = 0x0950
	SecureSessionRequest  ServiceType = 0x0951
	SecureSessionResponse ServiceType = 0x0952
	SecureSessionAuth     ServiceType = 0x0953
	SecureSessionStatus   ServiceType = 0x0954
	SecureGroupSync       ServiceType = 0x0955
)

// protocolVersion is the only KNXnet/IP protocol version this codec accepts.
const protocolVersion = 0x10

// headerSize is the fixed size of the KNXnet/IP header in bytes.
const headerSize = 6

// Header is the fixed 6-byte KNXnet/IP frame header.
type Header struct {
	Service     ServiceType
	TotalLength uint16 // header + body
}

// MalformedFrameError reports a wire-parse failure (spec.md §4.1).
type MalformedFrameError struct {
	Reason string
}

func (e *MalformedFrameError) Error() string { return "knxnet: malformed frame: " + e.Reason }

func malformed(format string, args ...interface{}) error {
	return &MalformedFrameError{Reason: errors.Errorf(format, args...).Error()}
}

// EncodeHeader appends the 6-byte header for a body of length bodyLen to
// dst and returns the extended slice.
func EncodeHeader(dst []byte, service ServiceType, bodyLen int) []byte {
	total := headerSize + bodyLen
	dst = append(dst, headerSize, protocolVersion)
	dst = binary.BigEndian.AppendUint16(dst, uint16(service))
	dst = binary.BigEndian.AppendUint16(dst, uint16(total))
	return dst
}

// DecodeHeader parses the 6-byte header at the start of buf. It fails with
// MalformedFrameError when struct-length != 6, protocol version != 0x10, or
// the declared total length exceeds the buffer actually received.
func DecodeHeader(buf []byte) (Header, error) {
	if len(buf) < headerSize {
		return Header{}, malformed("buffer shorter than header: %d bytes", len(buf))
	}
	if buf[0] != headerSize {
		return Header{}, malformed("struct length %d != 6", buf[0])
	}
	if buf[1] != protocolVersion {
		return Header{}, malformed("protocol version 0x%02x != 0x10", buf[1])
	}
	h := Header{
		Service:     ServiceType(binary.BigEndian.Uint16(buf[2:4])),
		TotalLength: binary.BigEndian.Uint16(buf[4:6]),
	}
	if int(h.TotalLength) > len(buf) {
		return Header{}, malformed("total length %d exceeds received %d", h.TotalLength, len(buf))
	}
	return h, nil
}

// Body returns the body bytes of buf (everything after the 6-byte header),
// truncated to Header.TotalLength.
func (h Header) Body(buf []byte) []byte {
	return buf[headerSize:h.TotalLength]
}
