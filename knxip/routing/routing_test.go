package routing

import (
	"net"
	"testing"

	"github.com/knxtun/knxip/address"
	"github.com/knxtun/knxip/cemi"
)

func TestJoinRejectsGroupBelowDefault(t *testing.T) {
	_, err := Join(nil, &net.UDPAddr{IP: net.ParseIP("224.0.23.11"), Port: 3671})
	if err == nil {
		t.Fatal("expected a group below 224.0.23.12 to be rejected")
	}
}

func buildWriteFrame(dst address.Group, apci address.APCI) []byte {
	f := []byte{0x29, 0x00, 0xBC, 0xE0, 0x11, 0x05, byte(dst.Raw() >> 8), byte(dst.Raw()), 0x01}
	hi := byte(apci >> 8)
	lo := byte(apci)
	f = append(f, hi, lo)
	return f
}

func TestIsSystemBroadcastDetectsDomainWrite(t *testing.T) {
	frame := []byte{0x29, 0x00, 0xBC, 0xE0, 0x11, 0x05, 0x00, 0x00, 0x02, byte(address.DomainAddressWrite >> 8), byte(address.DomainAddressWrite), 0xAA}
	if !isSystemBroadcast(cemi.Frame(frame)) {
		t.Fatal("expected domain address write to be classified as system broadcast")
	}
}

func TestIsSystemBroadcastRejectsOrdinaryGroupWrite(t *testing.T) {
	frame := buildWriteFrame(address.NewGroup3(1, 2, 3), address.GroupValueWrite)
	if isSystemBroadcast(cemi.Frame(frame)) {
		t.Fatal("ordinary group-value write must not be classified as system broadcast")
	}
}
