package cemi

import "bytes"

// ConfirmationMatches implements the L_Data.con matching rule: the message
// code is normalised away (a .con confirms a .req), the
// control-byte-1 must match exactly, the source is zeroed on both sides if
// the sent frame used source 0 (meaning "let the interface fill it in"),
// and the hop count may be exactly one less than sent — that case is
// reported via hopDeviation so the caller can log it.
//
// matched is false if any other field differs, in which case the caller
// should keep waiting for a better match until its timeout elapses.
func ConfirmationMatches(sent, received Frame) (matched bool, hopDeviation bool) {
	sentC1, ok1 := sent.Control1()
	recvC1, ok2 := received.Control1()
	if !ok1 || !ok2 || sentC1 != recvC1 {
		return false, false
	}

	sentC2, ok1 := sent.Control2()
	recvC2, ok2 := received.Control2()
	if !ok1 || !ok2 {
		return false, false
	}
	// Compare everything but the 3-bit hop count field (bits 4-6).
	const hopMask = 0x07 << 4
	if sentC2&^hopMask != recvC2&^hopMask {
		return false, false
	}
	sentHop := (sentC2 >> 4) & 0x07
	recvHop := (recvC2 >> 4) & 0x07
	switch {
	case sentHop == recvHop:
		hopDeviation = false
	case recvHop == sentHop-1:
		hopDeviation = true
	default:
		return false, false
	}

	sentSrc, _ := sent.Source()
	recvSrc, _ := received.Source()
	if sentSrc == 0 {
		recvSrc = 0
	}
	if sentSrc != recvSrc {
		return false, hopDeviation
	}

	sentDst, _ := sent.Destination()
	recvDst, _ := received.Destination()
	if sentDst != recvDst {
		return false, hopDeviation
	}

	sentTPDU, _ := sent.TPDU()
	recvTPDU, _ := received.TPDU()
	if !bytes.Equal(sentTPDU, recvTPDU) {
		return false, hopDeviation
	}

	return true, hopDeviation
}
