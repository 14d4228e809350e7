package discover

import (
	"net"
	"testing"

	"github.com/knxtun/knxip/knxnet"
)

func TestMulticastInterfacesSkipsLoopbackOnly(t *testing.T) {
	ifaces, err := multicastInterfaces()
	if err != nil {
		t.Fatalf("multicastInterfaces: %v", err)
	}
	for _, nif := range ifaces {
		if nif.Flags&net.FlagMulticast == 0 {
			t.Fatalf("interface %s lacks multicast flag", nif.Name)
		}
	}
}

func TestDescriptionRejectsWrongService(t *testing.T) {
	ln, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		buf := make([]byte, 512)
		n, addr, err := ln.ReadFromUDP(buf)
		if err != nil {
			return
		}
		h, err := knxnet.DecodeHeader(buf[:n])
		if err != nil {
			return
		}
		if h.Service != knxnet.DescriptionReq {
			return
		}
		// reply with a SearchResponse instead of a DescriptionResponse
		reply := knxnet.SearchResponse{Control: knxnet.HPAI{}}.Encode()
		ln.WriteToUDP(reply, addr)
	}()

	_, err = Description(ln.LocalAddr().(*net.UDPAddr))
	<-done
	if err == nil {
		t.Fatal("expected error for mismatched response service")
	}
}
