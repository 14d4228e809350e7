package knxnet

// Status is the 1-byte error/status code carried in *.res frames. Zero means
// success; any other value maps to a human-readable reason and, at the
// connection layer, to ErrRemote.
type Status byte

const (
	StatusNoError             Status = 0x00
	StatusHostProtocolType    Status = 0x01
	StatusVersionNotSupported Status = 0x02
	StatusSequenceNumber      Status = 0x04

	StatusConnectionID         Status = 0x21
	StatusConnectionType       Status = 0x22
	StatusConnectionOption     Status = 0x23
	StatusNoMoreConnections    Status = 0x24
	StatusDataConnection       Status = 0x26
	StatusKNXConnection        Status = 0x27
	StatusTunnelingLayer       Status = 0x29
)

// String renders a human-readable reason, used for ErrRemote and for the
// close-event reason text.
func (s Status) String() string {
	switch s {
	case StatusNoError:
		return "no error"
	case StatusHostProtocolType:
		return "unsupported host protocol type"
	case StatusVersionNotSupported:
		return "unsupported protocol version"
	case StatusSequenceNumber:
		return "out of sequence"
	case StatusConnectionID:
		return "no active connection with that channel id"
	case StatusConnectionType:
		return "unsupported connection type"
	case StatusConnectionOption:
		return "unsupported connection option"
	case StatusNoMoreConnections:
		return "server cannot accept more connections"
	case StatusDataConnection:
		return "data connection error"
	case StatusKNXConnection:
		return "KNX subnetwork connection error"
	case StatusTunnelingLayer:
		return "unsupported tunnelling layer"
	default:
		return "unknown status"
	}
}
