package cemi

import "testing"

func buildLData(code MessageCode, control1, control2 byte, src, dst uint16, tpdu []byte) Frame {
	f := []byte{byte(code), 0x00, control1, control2, byte(src >> 8), byte(src), byte(dst >> 8), byte(dst), byte(len(tpdu) - 1)}
	f = append(f, tpdu...)
	return Frame(f)
}

func TestAccessors(t *testing.T) {
	f := buildLData(LDataReq, 0xBC, 0xE0, 0x1105, 0x0203, []byte{0x00, 0x80, 0x01})
	if f.MessageCode() != LDataReq {
		t.Fatal("message code")
	}
	if src, ok := f.Source(); !ok || src != 0x1105 {
		t.Fatalf("source = %x, %v", src, ok)
	}
	if dst, ok := f.Destination(); !ok || dst != 0x0203 {
		t.Fatalf("dest = %x, %v", dst, ok)
	}
	if hop, ok := f.HopCount(); !ok || hop != 6 {
		t.Fatalf("hop = %d, %v", hop, ok)
	}
	if grp, ok := f.GroupDestination(); !ok || !grp {
		t.Fatalf("group = %v, %v", grp, ok)
	}
}

func TestConfirmationMatchesExact(t *testing.T) {
	req := buildLData(LDataReq, 0xBC, 0xE0, 0x1105, 0x0203, []byte{0x00, 0x80, 0x01})
	con := buildLData(LDataCon, 0xBC, 0xE0, 0x1105, 0x0203, []byte{0x00, 0x80, 0x01})
	matched, dev := ConfirmationMatches(req, con)
	if !matched || dev {
		t.Fatalf("matched=%v dev=%v", matched, dev)
	}
}

func TestConfirmationMatchesHopDeviation(t *testing.T) {
	req := buildLData(LDataReq, 0xBC, 0xE0, 0x1105, 0x0203, []byte{0x00, 0x80, 0x01}) // hop=6
	con := buildLData(LDataCon, 0xBC, 0xD0, 0x1105, 0x0203, []byte{0x00, 0x80, 0x01}) // hop=5
	matched, dev := ConfirmationMatches(req, con)
	if !matched || !dev {
		t.Fatalf("matched=%v dev=%v", matched, dev)
	}
}

func TestConfirmationMatchesZeroSource(t *testing.T) {
	req := buildLData(LDataReq, 0xBC, 0xE0, 0x0000, 0x0203, []byte{0x00, 0x80, 0x01})
	con := buildLData(LDataCon, 0xBC, 0xE0, 0x1105, 0x0203, []byte{0x00, 0x80, 0x01})
	matched, _ := ConfirmationMatches(req, con)
	if !matched {
		t.Fatal("expected match when sent source is 0")
	}
}

func TestConfirmationMismatch(t *testing.T) {
	req := buildLData(LDataReq, 0xBC, 0xE0, 0x1105, 0x0203, []byte{0x00, 0x80, 0x01})
	con := buildLData(LDataCon, 0xBC, 0xE0, 0x1105, 0x0203, []byte{0x00, 0x80, 0x02})
	matched, _ := ConfirmationMatches(req, con)
	if matched {
		t.Fatal("expected mismatch on differing TPDU")
	}
}
