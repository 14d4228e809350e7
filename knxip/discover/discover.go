// Package discover implements the search/description discovery client: one
// socket per eligible network interface, a multicast Search.req/.res round
// for LAN-wide discovery, and a one-shot unicast Description.req/.res
// exchange against a named control endpoint.
package discover

import (
	"log"
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/knxtun/knxip/knxnet"
)

// DefaultGroup is the standard KNXnet/IP discovery multicast group and port.
var DefaultGroup = &net.UDPAddr{IP: net.ParseIP("224.0.23.12"), Port: 3671}

// SearchTimeout bounds how long Search collects responses after the last
// request is sent on any interface. Exported as a var so a caller (e.g. a
// CLI flag) can override the default before calling Search.
var SearchTimeout = 3 * time.Second

// DescriptionTimeout bounds the one-shot unicast description exchange.
const DescriptionTimeout = 10 * time.Second

// Result is one discovered server: its Search/Description response, the
// network interface the response arrived on, and the local address used.
type Result struct {
	Response knxnet.SearchResponse
	NIC      *net.Interface
	Local    net.IP
}

// Search sends a SearchRequest (carrying srps, if any) on every interface
// capable of multicast, and collects responses for SearchTimeout. Each
// interface gets its own socket so a server reachable on several NICs is
// reported once per NIC.
func Search(srps ...knxnet.SRP) ([]Result, error) {
	ifaces, err := multicastInterfaces()
	if err != nil {
		return nil, errors.Wrap(err, "discover: enumerating interfaces")
	}
	if len(ifaces) == 0 {
		return nil, errors.New("discover: no multicast-capable interface found")
	}

	var (
		mu      sync.Mutex
		results []Result
		wg      sync.WaitGroup
	)

	for i := range ifaces {
		nif := ifaces[i]
		wg.Add(1)
		go func() {
			defer wg.Done()
			found, err := searchOnInterface(nif, srps)
			if err != nil {
				log.Printf("discover: search on %s: %v", nif.Name, err)
				return
			}
			mu.Lock()
			results = append(results, found...)
			mu.Unlock()
		}()
	}
	wg.Wait()
	return results, nil
}

func searchOnInterface(nif *net.Interface, srps []knxnet.SRP) ([]Result, error) {
	conn, err := net.ListenMulticastUDP("udp4", nif, DefaultGroup)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	local, ok := interfaceIPv4(nif)
	if !ok {
		return nil, errors.Errorf("no IPv4 address on %s", nif.Name)
	}

	req := knxnet.SearchRequest{
		Discovery: knxnet.HPAI{Protocol: knxnet.HostProtocolUDP, Port: uint16(conn.LocalAddr().(*net.UDPAddr).Port)},
		SRPs:      srps,
	}
	copy(req.Discovery.Addr[:], local.To4())

	if _, err := conn.WriteToUDP(req.Encode(), DefaultGroup); err != nil {
		return nil, errors.Wrap(err, "sending search request")
	}

	conn.SetReadDeadline(time.Now().Add(SearchTimeout))
	var results []Result
	buf := make([]byte, 1024)
	for {
		n, _, err := conn.ReadFromUDP(buf)
		if err != nil {
			break // deadline exceeded: done collecting
		}
		h, err := knxnet.DecodeHeader(buf[:n])
		if err != nil || h.Service != knxnet.SearchRes {
			continue
		}
		res, err := knxnet.DecodeSearchResponse(h.Body(buf[:n]))
		if err != nil {
			continue
		}
		results = append(results, Result{Response: res, NIC: nif, Local: local})
	}
	return results, nil
}

// Description performs a one-shot unicast Description.req/.res exchange
// against control, the control endpoint of a server already known (e.g.
// from a prior Search).
func Description(control *net.UDPAddr) (knxnet.DescriptionResponse, error) {
	conn, err := net.DialUDP("udp4", nil, control)
	if err != nil {
		return knxnet.DescriptionResponse{}, errors.Wrap(err, "discover: dialing control endpoint")
	}
	defer conn.Close()

	local := knxnet.HPAIFromUDPAddr(conn.LocalAddr().(*net.UDPAddr))
	req := knxnet.DescriptionRequest{Control: local}
	if _, err := conn.Write(req.Encode()); err != nil {
		return knxnet.DescriptionResponse{}, errors.Wrap(err, "discover: sending description request")
	}

	conn.SetReadDeadline(time.Now().Add(DescriptionTimeout))
	buf := make([]byte, 1024)
	n, err := conn.Read(buf)
	if err != nil {
		return knxnet.DescriptionResponse{}, errors.Wrap(err, "discover: reading description response")
	}
	h, err := knxnet.DecodeHeader(buf[:n])
	if err != nil {
		return knxnet.DescriptionResponse{}, err
	}
	if h.Service != knxnet.DescriptionRes {
		return knxnet.DescriptionResponse{}, errors.Errorf("discover: unexpected service 0x%04x in description response", h.Service)
	}
	return knxnet.DecodeDescriptionResponse(h.Body(buf[:n]))
}

func multicastInterfaces() ([]*net.Interface, error) {
	all, err := net.Interfaces()
	if err != nil {
		return nil, err
	}
	var out []*net.Interface
	for i := range all {
		nif := all[i]
		if nif.Flags&net.FlagUp == 0 || nif.Flags&net.FlagMulticast == 0 {
			continue
		}
		if _, ok := interfaceIPv4(&nif); !ok {
			continue
		}
		out = append(out, &nif)
	}
	return out, nil
}

func interfaceIPv4(nif *net.Interface) (net.IP, bool) {
	addrs, err := nif.Addrs()
	if err != nil {
		return nil, false
	}
	for _, a := range addrs {
		ipNet, ok := a.(*net.IPNet)
		if !ok {
			continue
		}
		if ip4 := ipNet.IP.To4(); ip4 != nil {
			return ip4, true
		}
	}
	return nil, false
}
