package address

// APCI is the 10-bit application-layer service selector carried in the
// first two bytes of a TPDU (see GLOSSARY: APCI).
type APCI uint16

// Application-layer service codes recognised by ExtractAPCI. Group-value
// services are "short form": the lower 6 bits of the second TPDU byte carry
// inline data instead of a separate ASDU, so their APCI constants only use
// the top 4 bits of that byte.
const (
	GroupValueRead     APCI = 0x000
	GroupValueResponse APCI = 0x040
	GroupValueWrite    APCI = 0x080

	IndividualAddressWrite    APCI = 0x0C0
	IndividualAddressRead     APCI = 0x100
	IndividualAddressResponse APCI = 0x140

	MemoryRead     APCI = 0x200
	MemoryResponse APCI = 0x240
	MemoryWrite    APCI = 0x280

	PropertyValueRead  APCI = 0x3D5
	PropertyValueWrite APCI = 0x3D7

	DomainAddressWrite       APCI = 0x3E0
	NetworkParameterRead     APCI = 0x1F8
	NetworkParameterWrite    APCI = 0x1F9
	NetworkParameterResponse APCI = 0x1FA
	PropertyExtDescResponse  APCI = 0x3F8
)

// shortForm lists the services whose ASDU is folded into the low 6 bits of
// the second TPDU byte, per spec.md §4.1.
var shortForm = map[APCI]bool{
	GroupValueRead:     true,
	GroupValueResponse: true,
	GroupValueWrite:    true,
}

// systemBroadcast is the set of APCI services that, when their destination
// address is 0, are routed as a KNXnet/IP system broadcast (spec.md §4.5)
// rather than ordinary routing, and are never encrypted even on a secure
// routing channel.
var systemBroadcast = map[APCI]bool{
	DomainAddressWrite:       true,
	NetworkParameterRead:     true,
	NetworkParameterWrite:    true,
	NetworkParameterResponse: true,
	PropertyExtDescResponse:  true,
}

// IsSystemBroadcast reports whether apci belongs to the system-broadcast
// service set.
func IsSystemBroadcast(apci APCI) bool { return systemBroadcast[apci] }

// ExtractAPCI decodes the APCI service code (and, for short-form services,
// the inline 6-bit data) from the first two bytes of a TPDU. It returns
// ok=false if tpdu is shorter than 2 bytes.
func ExtractAPCI(tpdu []byte) (apci APCI, data byte, ok bool) {
	if len(tpdu) < 2 {
		return 0, 0, false
	}
	full := APCI(uint16(tpdu[0]&0x03)<<8 | uint16(tpdu[1]))
	short := full &^ 0x3F
	if shortForm[short] {
		return short, tpdu[1] & 0x3F, true
	}
	return full, 0, true
}

// TPCI is the first-byte transport-layer control field of a TPDU: whether
// the transport is connection-oriented, numbered, and the sequence/ack/nak
// bits (GLOSSARY: TPCI).
type TPCI byte

// TPCI classification bits.
const (
	tpciSequenced = 0x04 // numbered (connection-oriented) packet
	tpciControl   = 0x03 // control packet, not data
)

// Sequenced reports whether the TPDU is a numbered (connection-oriented)
// packet carrying a 4-bit sequence number.
func (t TPCI) Sequenced() bool { return byte(t)&tpciSequenced != 0 }

// Control reports whether the TPDU is a control packet (connect, disconnect,
// ack, nak) rather than a data packet.
func (t TPCI) Control() bool { return byte(t)&0x80 != 0 }

// SequenceNumber returns the 4-bit send-sequence field, valid only when
// Sequenced() is true.
func (t TPCI) SequenceNumber() byte { return byte(t) >> 2 & 0x0F }

// ExtractTPCI decodes the transport-layer control byte, the first byte of a
// TPDU.
func ExtractTPCI(tpdu []byte) (t TPCI, ok bool) {
	if len(tpdu) < 1 {
		return 0, false
	}
	return TPCI(tpdu[0]), true
}
