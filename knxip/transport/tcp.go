package transport

import (
	"bufio"
	"encoding/binary"
	"io"
	"log"
	"net"
	"sync"

	"github.com/pkg/errors"
)

// ReadFrame reads one length-framed KNXnet/IP packet from r: it reads the
// fixed 6-byte header first, then the remaining bytes indicated by the
// total-length field at offset 4. Used for both plain and SecureWrapper
// frames over TCP, where — unlike UDP — there is no datagram boundary to
// rely on.
func ReadFrame(r io.Reader) ([]byte, error) {
	hdr := make([]byte, 6)
	if _, err := io.ReadFull(r, hdr); err != nil {
		return nil, err
	}
	total := binary.BigEndian.Uint16(hdr[4:6])
	if total < 6 {
		return nil, errors.New("transport: frame total length shorter than header")
	}
	rest := make([]byte, total-6)
	if _, err := io.ReadFull(r, rest); err != nil {
		return nil, err
	}
	return append(hdr, rest...), nil
}

// FrameDispatcher handles one raw length-framed TCP packet: a plain
// KNXnet/IP frame for a DevMgmt/Tunnel TCP connection, or a SecureWrapper
// frame to be passed to the owning secure session.
type FrameDispatcher interface {
	HandleFrame(frame []byte)
}

// TCPReceiver runs the length-framed read loop over one TCP connection.
type TCPReceiver struct {
	conn       net.Conn
	reader     *bufio.Reader
	dispatcher FrameDispatcher

	closeOnce sync.Once
	done      chan struct{}
}

// NewTCPReceiver wraps an already-dialled or accepted TCP connection.
func NewTCPReceiver(conn net.Conn, dispatcher FrameDispatcher) *TCPReceiver {
	return &TCPReceiver{conn: conn, reader: bufio.NewReader(conn), dispatcher: dispatcher, done: make(chan struct{})}
}

// Run blocks reading frames until the connection is closed or a read fails.
func (r *TCPReceiver) Run() {
	defer close(r.done)
	for {
		frame, err := ReadFrame(r.reader)
		if err != nil {
			if err != io.EOF && !errors.Is(err, net.ErrClosed) {
				log.Printf("transport: tcp read error: %v", err)
			}
			return
		}
		r.dispatcher.HandleFrame(frame)
	}
}

// Close closes the underlying connection and waits for Run to return.
func (r *TCPReceiver) Close() error {
	var err error
	r.closeOnce.Do(func() {
		err = r.conn.Close()
		<-r.done
	})
	return err
}

// Write sends a pre-encoded frame.
func (r *TCPReceiver) Write(frame []byte) error {
	_, err := r.conn.Write(frame)
	if err != nil {
		return errors.Wrap(err, "transport: tcp write")
	}
	return nil
}
