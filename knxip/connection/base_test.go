package connection

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/knxtun/knxip/knxnet"
)

type fakeSender struct {
	mu    sync.Mutex
	sent  [][]byte
	reply func(frame []byte) []byte // optional synchronous auto-ack
	b     *Base
}

func (f *fakeSender) SendFrame(frame []byte) error {
	f.mu.Lock()
	f.sent = append(f.sent, frame)
	f.mu.Unlock()
	if f.reply != nil {
		if resp := f.reply(frame); resp != nil {
			h, err := knxnet.DecodeHeader(resp)
			if err != nil {
				return nil
			}
			go f.b.HandleFrame(h, h.Body(resp))
		}
	}
	return nil
}

func newTestTunnelBase(t *testing.T, reply func([]byte) []byte) (*Base, *fakeSender) {
	t.Helper()
	sender := &fakeSender{reply: reply}
	b := newBase(KindTunnel, sender, sender, 1, knxnet.HPAI{}, tunnelEncodeRequest, tunnelMatchAck, tunnelMatchIncoming, tunnelEncodeAck)
	sender.b = b
	t.Cleanup(func() { close(b.heartbeatStop) })
	return b, sender
}

func TestSendNonBlockingAcked(t *testing.T) {
	b, _ := newTestTunnelBase(t, func(frame []byte) []byte {
		return knxnet.TunnelingAck{ChannelID: 1, Sequence: 0, Status: knxnet.StatusNoError}.Encode()
	})
	if err := b.Send([]byte{0x11, 0x00, 0xbc, 0xe0, 0x11, 0x05, 0x02, 0x03, 0x00, 0x80}, NonBlocking); err != nil {
		t.Fatalf("send: %v", err)
	}
	time.Sleep(10 * time.Millisecond)
	if got := b.State(); got != StateOk {
		t.Fatalf("state = %v", got)
	}
}

func TestSendAckTimeoutClosesConnection(t *testing.T) {
	b, _ := newTestTunnelBase(t, nil) // never replies
	err := b.Send([]byte{0x11, 0x00, 0xbc, 0xe0, 0x11, 0x05, 0x02, 0x03, 0x00, 0x80}, NonBlocking)
	if err == nil {
		t.Fatal("expected ack timeout error")
	}
	ce, ok := err.(*Error)
	if !ok || ce.Kind != ErrAckTimeout {
		t.Fatalf("got %v", err)
	}
	if got := b.State(); got != StateClosed {
		t.Fatalf("state = %v, want closed", got)
	}
}

func TestSendRejectedOnClosedConnection(t *testing.T) {
	b, _ := newTestTunnelBase(t, nil)
	b.closeInternal(CloseByUser, "test")
	err := b.Send([]byte{0x11}, NonBlocking)
	ce, ok := err.(*Error)
	if !ok || ce.Kind != ErrClosed {
		t.Fatalf("got %v", err)
	}
}

func TestDuplicateIncomingRequestReAckedSilently(t *testing.T) {
	var delivered [][]byte
	b, sender := newTestTunnelBase(t, nil)
	b.AddListener(recordingListener{frames: &delivered})

	first := knxnet.TunnelingRequest{ChannelID: 1, Sequence: 0, CEMI: []byte{0x29, 0x00}}.Encode()
	h, _ := knxnet.DecodeHeader(first)
	b.HandleFrame(h, h.Body(first))
	b.HandleFrame(h, h.Body(first)) // duplicate, same sequence

	if len(delivered) != 1 {
		t.Fatalf("expected exactly one delivery, got %d", len(delivered))
	}
	sender.mu.Lock()
	acks := len(sender.sent)
	sender.mu.Unlock()
	if acks != 2 {
		t.Fatalf("expected an ack for both the original and the duplicate, got %d", acks)
	}
}

func TestSendCtxCancelledRollsBackToOk(t *testing.T) {
	b, _ := newTestTunnelBase(t, nil) // never replies, so the ack wait blocks until cancelled
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := b.SendCtx(ctx, []byte{0x11, 0x00, 0xbc, 0xe0, 0x11, 0x05, 0x02, 0x03, 0x00, 0x80}, NonBlocking)
	ce, ok := err.(*Error)
	if !ok || ce.Kind != ErrCancelled {
		t.Fatalf("got %v, want ErrCancelled", err)
	}
	if got := b.State(); got != StateOk {
		t.Fatalf("state = %v, want rolled back to ok", got)
	}
	if b.sendSeq != 0 {
		t.Fatalf("sendSeq = %d, want unchanged after cancellation", b.sendSeq)
	}
}

type recordingListener struct {
	frames *[][]byte
}

func (r recordingListener) OnFrame(frame []byte) { *r.frames = append(*r.frames, frame) }
func (r recordingListener) OnClose(CloseEvent)   {}
