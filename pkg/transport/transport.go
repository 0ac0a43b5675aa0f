// Package transport implements the local AF_UNIX SOCK_DGRAM channel between
// the PAD encoder and the co-located audio encoder: a REQUEST/PAD_DATA
// datagram protocol bound under a path derived from a user identifier.
package transport

import (
	"errors"
	"fmt"
	"log"
	"net"
	"os"
	"time"

	"golang.org/x/sys/unix"
)

const (
	msgRequest = 0x01
	msgPADData = 0x02
)

// Endpoint is a bound PAD transport socket.
type Endpoint struct {
	ident    string
	conn     *net.UnixConn
	peerAddr *net.UnixAddr

	audioencReachable bool
	logger            *log.Logger
}

func socketPath(ident, role string) string {
	return fmt.Sprintf("/tmp/%s.%s", ident, role)
}

// Open binds the encoder's receiving socket at /tmp/<ident>.padenc and
// resolves the peer's address at /tmp/<ident>.audioenc.
func Open(ident string, logger *log.Logger) (*Endpoint, error) {
	localPath := socketPath(ident, "padenc")

	if err := unix.Unlink(localPath); err != nil && !errors.Is(err, unix.ENOENT) {
		logger.Printf("padenc: unlinking socket %s failed: %v", localPath, err)
	}

	localAddr, err := net.ResolveUnixAddr("unixgram", localPath)
	if err != nil {
		return nil, fmt.Errorf("transport: resolve local address: %w", err)
	}
	conn, err := net.ListenUnixgram("unixgram", localAddr)
	if err != nil {
		return nil, fmt.Errorf("transport: bind %s: %w", localPath, err)
	}

	peerAddr, err := net.ResolveUnixAddr("unixgram", socketPath(ident, "audioenc"))
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("transport: resolve peer address: %w", err)
	}

	return &Endpoint{
		ident:             ident,
		conn:              conn,
		peerAddr:          peerAddr,
		audioencReachable: true,
		logger:            logger,
	}, nil
}

// Close releases the bound socket.
func (e *Endpoint) Close() error {
	return e.conn.Close()
}

// ReceiveRequest polls for a REQUEST message for up to timeout. It returns
// ok=false on timeout (the caller should re-poll without emitting a frame).
func (e *Endpoint) ReceiveRequest(timeout time.Duration) (padlen int, ok bool, err error) {
	buf := make([]byte, 4)

	if err := e.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return 0, false, fmt.Errorf("transport: set read deadline: %w", err)
	}

	for {
		n, _, err := e.conn.ReadFromUnix(buf)
		if err != nil {
			if ne, isNet := err.(net.Error); isNet && ne.Timeout() {
				return 0, false, nil
			}
			return 0, false, fmt.Errorf("transport: receive: %w", err)
		}
		if n >= 2 && buf[0] == msgRequest {
			return int(buf[1]), true, nil
		}
		// Unrecognised message type; keep polling within the same deadline.
	}
}

// SendPADData transmits one PAD frame's content bytes (without the trailing
// length byte) to the audio encoder. Transport unreachability is treated as
// transient: the first failure logs, subsequent ones are silenced until
// reachability is regained.
func (e *Endpoint) SendPADData(data []byte) error {
	message := make([]byte, 1+len(data))
	message[0] = msgPADData
	copy(message[1:], data)

	n, err := e.conn.WriteToUnix(message, e.peerAddr)
	if err != nil {
		if isTransientSendError(err) {
			if e.audioencReachable {
				e.logger.Printf("padenc: audio encoder at %s not reachable", e.peerAddr.Name)
				e.audioencReachable = false
			}
			return nil
		}
		return fmt.Errorf("transport: send PAD data: %w", err)
	}
	if n != len(message) {
		e.logger.Printf("padenc: PAD incorrect length sent: %d of %d bytes", n, len(message))
	}
	if !e.audioencReachable {
		e.logger.Printf("padenc: audio encoder is now reachable at %s", e.peerAddr.Name)
		e.audioencReachable = true
	}
	return nil
}

func isTransientSendError(err error) bool {
	return errors.Is(err, unix.ECONNREFUSED) ||
		errors.Is(err, unix.ENOENT) ||
		errors.Is(err, unix.EAGAIN) ||
		errors.Is(err, os.ErrNotExist)
}
