package inject

import (
	"encoding/hex"
	"net"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/hcigo/hci/internal/packet"
)

func TestChannelDeliversInjectedPacket(t *testing.T) {
	sock := filepath.Join(t.TempDir(), "inject.sock")

	var mu sync.Mutex
	var gotType packet.Type
	var gotData []byte
	done := make(chan struct{})

	c := New(sock, nil, func(tp packet.Type, data []byte) {
		mu.Lock()
		gotType = tp
		gotData = data
		mu.Unlock()
		close(done)
	})
	if err := c.Open(); err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer c.Close()

	conn, err := net.Dial("unix", sock)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	line := hex.EncodeToString([]byte{byte(packet.Event), 0x0E, 0x04, 0x01, 0x03, 0x0C, 0x00})
	if _, err := conn.Write([]byte(line + "\n")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for injected packet")
	}

	mu.Lock()
	defer mu.Unlock()
	if gotType != packet.Event {
		t.Errorf("type = %v, want Event", gotType)
	}
	if len(gotData) != 6 {
		t.Errorf("data len = %d, want 6", len(gotData))
	}
}

func TestChannelOpenFailureIsNonFatal(t *testing.T) {
	// An empty directory component that cannot exist makes the listen fail.
	c := New("/nonexistent-dir-xyz/inject.sock", nil, nil)
	if err := c.Open(); err == nil {
		t.Fatal("expected Open to fail for an unwritable path")
	}
	// Per the debug-facility policy, callers treat this as non-fatal;
	// Close on a never-opened channel must still be safe.
	if err := c.Close(); err != nil {
		t.Errorf("Close on unopened channel: %v", err)
	}
}

func TestChannelCloseIsIdempotent(t *testing.T) {
	sock := filepath.Join(t.TempDir(), "inject2.sock")
	c := New(sock, nil, nil)
	if err := c.Open(); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}
