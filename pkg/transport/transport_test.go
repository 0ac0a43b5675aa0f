package transport

import (
	"fmt"
	"log"
	"net"
	"os"
	"testing"
	"time"
)

func testLogger() *log.Logger {
	return log.New(os.Stderr, "", 0)
}

func uniqueIdent(t *testing.T) string {
	t.Helper()
	return fmt.Sprintf("padenc-transport-test-%d-%s", os.Getpid(), t.Name())
}

func TestOpenBindsAndCleansUpSockets(t *testing.T) {
	ident := uniqueIdent(t)
	// A stale file at the socket path must be unlinked before binding.
	if err := os.WriteFile(socketPath(ident, "padenc"), nil, 0o644); err != nil {
		t.Fatal(err)
	}
	e, err := Open(ident, testLogger())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer e.Close()
	defer os.Remove(socketPath(ident, "padenc"))

	if _, err := os.Stat(socketPath(ident, "padenc")); err != nil {
		t.Fatalf("expected socket file to exist: %v", err)
	}
}

func TestReceiveRequestTimesOutWithoutPeer(t *testing.T) {
	ident := uniqueIdent(t)
	e, err := Open(ident, testLogger())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer e.Close()
	defer os.Remove(socketPath(ident, "padenc"))

	_, ok, err := e.ReceiveRequest(20 * time.Millisecond)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatal("expected timeout (ok=false) with no peer sending a request")
	}
}

func TestReceiveRequestParsesPadlen(t *testing.T) {
	ident := uniqueIdent(t)
	e, err := Open(ident, testLogger())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer e.Close()
	defer os.Remove(socketPath(ident, "padenc"))

	localAddr, err := net.ResolveUnixAddr("unixgram", socketPath(ident, "padenc"))
	if err != nil {
		t.Fatal(err)
	}
	peer, err := net.DialUnix("unixgram", nil, localAddr)
	if err != nil {
		t.Fatalf("dial encoder socket: %v", err)
	}
	defer peer.Close()

	if _, err := peer.Write([]byte{msgRequest, 58}); err != nil {
		t.Fatalf("write request: %v", err)
	}

	padlen, ok, err := e.ReceiveRequest(time.Second)
	if err != nil {
		t.Fatalf("ReceiveRequest: %v", err)
	}
	if !ok {
		t.Fatal("expected a request to be received")
	}
	if padlen != 58 {
		t.Fatalf("expected padlen 58, got %d", padlen)
	}
}

func TestSendPADDataReachesPeer(t *testing.T) {
	ident := uniqueIdent(t)
	e, err := Open(ident, testLogger())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer e.Close()
	defer os.Remove(socketPath(ident, "padenc"))

	peerPath := socketPath(ident, "audioenc")
	os.Remove(peerPath)
	peerAddr, err := net.ResolveUnixAddr("unixgram", peerPath)
	if err != nil {
		t.Fatal(err)
	}
	peerConn, err := net.ListenUnixgram("unixgram", peerAddr)
	if err != nil {
		t.Fatalf("bind fake audio encoder: %v", err)
	}
	defer peerConn.Close()
	defer os.Remove(peerPath)

	payload := []byte{0xAA, 0xBB, 0xCC}
	if err := e.SendPADData(payload); err != nil {
		t.Fatalf("SendPADData: %v", err)
	}

	buf := make([]byte, 16)
	peerConn.SetReadDeadline(time.Now().Add(time.Second))
	n, err := peerConn.Read(buf)
	if err != nil {
		t.Fatalf("read from fake audio encoder: %v", err)
	}
	if n != 1+len(payload) {
		t.Fatalf("expected %d bytes, got %d", 1+len(payload), n)
	}
	if buf[0] != msgPADData {
		t.Fatalf("expected message type %#02x, got %#02x", msgPADData, buf[0])
	}
	for i, b := range payload {
		if buf[1+i] != b {
			t.Fatalf("byte %d: expected %#02x, got %#02x", i, b, buf[1+i])
		}
	}
}

func TestSendPADDataUnreachablePeerDoesNotError(t *testing.T) {
	ident := uniqueIdent(t)
	e, err := Open(ident, testLogger())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer e.Close()
	defer os.Remove(socketPath(ident, "padenc"))

	// No peer bound at /tmp/<ident>.audioenc: send should treat ENOENT/
	// ECONNREFUSED as transient and not return an error.
	if err := e.SendPADData([]byte{0x01}); err != nil {
		t.Fatalf("expected nil error for unreachable peer, got %v", err)
	}
	if e.audioencReachable {
		t.Fatal("expected audioencReachable to be false after a failed send")
	}
}
