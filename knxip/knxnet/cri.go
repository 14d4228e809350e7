package knxnet

// ConnectionType identifies the kind of logical channel a Connect.req asks
// for.
type ConnectionType byte

const (
	ConnectionTypeDeviceManagement ConnectionType = 0x03
	ConnectionTypeTunnel           ConnectionType = 0x04
)

// TunnelLayer selects the cEMI layer a tunnelling connection operates at.
type TunnelLayer byte

const (
	TunnelLayerLinkLayer  TunnelLayer = 0x02
	TunnelLayerBusMonitor TunnelLayer = 0x80
	TunnelLayerRaw        TunnelLayer = 0x04 // not accepted by clients (spec.md §4.1)
)

// CRI is the connection-type-specific Connect.req payload. Layer is only
// meaningful when Type == ConnectionTypeTunnel.
type CRI struct {
	Type  ConnectionType
	Layer TunnelLayer
}

func encodeCRI(dst []byte, cri CRI) []byte {
	switch cri.Type {
	case ConnectionTypeTunnel:
		return append(dst, 4, byte(cri.Type), byte(cri.Layer), 0x00)
	default:
		return append(dst, 2, byte(cri.Type))
	}
}

func decodeCRI(buf []byte) (CRI, int, error) {
	if len(buf) < 2 {
		return CRI{}, 0, malformed("CRI shorter than 2 bytes")
	}
	length := int(buf[0])
	if length > len(buf) {
		return CRI{}, 0, malformed("CRI length %d exceeds buffer", length)
	}
	cri := CRI{Type: ConnectionType(buf[1])}
	switch cri.Type {
	case ConnectionTypeTunnel:
		if length != 4 {
			return CRI{}, 0, malformed("tunnel CRI length %d != 4", length)
		}
		cri.Layer = TunnelLayer(buf[2])
	case ConnectionTypeDeviceManagement:
		if length != 2 {
			return CRI{}, 0, malformed("device management CRI length %d != 2", length)
		}
	default:
		// Unknown connection type: accept opaque length, layer unset.
	}
	return cri, length, nil
}

// CRD is the connection-type-specific Connect.res payload. Address is only
// meaningful when Type == ConnectionTypeTunnel, and carries the assigned
// tunnelling individual address.
type CRD struct {
	Type    ConnectionType
	Address uint16
}

func encodeCRD(dst []byte, crd CRD) []byte {
	switch crd.Type {
	case ConnectionTypeTunnel:
		return append(dst, 4, byte(crd.Type), byte(crd.Address>>8), byte(crd.Address))
	default:
		return append(dst, 2, byte(crd.Type))
	}
}

func decodeCRD(buf []byte) (CRD, int, error) {
	if len(buf) < 2 {
		return CRD{}, 0, malformed("CRD shorter than 2 bytes")
	}
	length := int(buf[0])
	if length > len(buf) {
		return CRD{}, 0, malformed("CRD length %d exceeds buffer", length)
	}
	crd := CRD{Type: ConnectionType(buf[1])}
	switch crd.Type {
	case ConnectionTypeTunnel:
		if length != 4 {
			return CRD{}, 0, malformed("tunnel CRD length %d != 4", length)
		}
		crd.Address = uint16(buf[2])<<8 | uint16(buf[3])
	case ConnectionTypeDeviceManagement:
		if length != 2 {
			return CRD{}, 0, malformed("device management CRD length %d != 2", length)
		}
	}
	return crd, length, nil
}
